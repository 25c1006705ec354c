// Package cli реализует операторский инструмент командной строки quoterd.
//
// # Обзор
//
// CLI — клиентская утилита для работы с quoterd API. Работает через
// HTTP, не импортирует внутренние пакеты движка. Используется
// операторами для постановки тестовых jobs, запроса статусов и
// разбора Dead Letter Queue.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для quoterd API. Инкапсулирует все HTTP-запросы,
// bearer-авторизацию, парсинг ответов (DataResponse, ListResponse,
// ErrorResponse) и обработку ошибок.
//
//	client := cli.NewClient("http://localhost:8080", apiKey)
//	entries, err := client.ListDLQ(cli.ListDLQOpts{Target: "hdi"})
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.MarshalIndent) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: quoterd-cli dlq list --json | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - job: submit, status, list
//   - dlq: list, show, retry
//   - admission
//
// Каждая группа создаётся через фабричную функцию (NewJobCmd и т.д.),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli

// Package api содержит ops/status HTTP API.
//
// Структура:
//   - handler.go     — Handler с DI (репозитории, publisher, logger)
//   - routes.go      — регистрация маршрутов
//   - middleware.go  — middleware (logging, recovery, bearer auth)
//   - response.go    — унифицированные JSON-ответы и обработка ошибок
//   - dto.go         — Data Transfer Objects (request/response)
//   - job_handler.go — постановка jobs и статусы (/jobs, /admission)
//   - dlq_handler.go — просмотр DLQ и ручной повтор (/dlq)
//
// API предоставляет REST endpoints для постановки jobs, запроса их
// статусов и работы операторов с Dead Letter Queue.
package api

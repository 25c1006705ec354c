// Package mq предоставляет инфраструктуру для работы с брокером (RabbitMQ).
//
// Структура:
//   - connection.go — соединение с ограниченным reconnect; при исчерпании
//     попыток сообщает фатальную ошибку для рестарта процесса
//   - topology.go   — обменник quoterd.quotes и очереди на target:
//     рабочая (quotes.q.<target>) и wait-очередь на каждый ярус
//     backoff'а (quotes.wait.<target>.<tier>)
//   - publisher.go  — публикация jobs и отложенных повторов (per-message
//     TTL + dead-letter обратно в рабочую очередь)
//   - consumer.go   — потребление с ручным ack/nack и конкурентной
//     обработкой до prefetch доставок; несколько воркеров на одной
//     очереди делят доставки round-robin
//
// Гарантии: at-least-once. Неподтверждённая доставка после разрыва
// соединения приходит повторно; дедупликация повторов держится на
// attempt-счётчике внутри сообщения, а не на памяти воркера.
package mq

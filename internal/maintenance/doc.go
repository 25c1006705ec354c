// Package maintenance — фоновые housekeeping-задачи по cron-расписанию:
// обновление DLQ-гейджей из Postgres и зачистка протухших
// session-артефактов. Запускается внутри процесса воркера.
package maintenance

// Package worker — движок обработки job'ов: admission-контроль,
// dispatch к executor'ам и retry-логика.
//
// Pipeline одной доставки:
//
//	decode → upsert(QUEUED) → admission → dispatch → исход
//
// Admission-контроллер выдаёт слоты per-target (max_concurrent) и
// опционально под глобальным потолком; при отсутствии slot'а доставка
// возвращается в очередь без инкремента attempt.
//
// Dispatcher выполняет job под таймаутом target'а, гасит паники
// executor'а и делает немедленные (tier-1) повторы TRANSIENT-ошибок,
// не отпуская slot. Финальную неудачу классификатор отображает в
// TRANSIENT / RETRIABLE / PERMANENT по policy-таблице кодов, а Planner
// решает: отложенный повтор с exponential backoff (tier 2) или DLQ
// (tier 3).
//
// Счётчик попыток едет в самом сообщении, поэтому суммарное число
// повторов ограничено и при at-least-once доставке, и при рестартах
// воркеров.
package worker

package domain

// JobState — состояние job в его жизненном цикле.
//
// Жизненный цикл:
//
//	QUEUED → ADMITTED → RUNNING → SUCCEEDED
//	                            ↘ RETRY_SCHEDULED (job вернётся новой доставкой с attempt+1)
//	                            ↘ DEAD_LETTERED
//
// Переходы монотонны: job не возвращается в предыдущее состояние
// внутри одной доставки. RETRY_SCHEDULED → QUEUED происходит только
// через новую доставку из брокера.
type JobState string

const (
	// JobStateQueued — доставка получена, job ожидает admission.
	JobStateQueued JobState = "QUEUED"

	// JobStateAdmitted — slot выдан, job допущен к выполнению.
	JobStateAdmitted JobState = "ADMITTED"

	// JobStateRunning — executor выполняет job. Ровно один slot занят.
	JobStateRunning JobState = "RUNNING"

	// JobStateSucceeded — job успешно завершён, сообщение ack.
	JobStateSucceeded JobState = "SUCCEEDED"

	// JobStateRetryScheduled — job переопубликован в wait-очередь
	// с attempt+1 и задержкой.
	JobStateRetryScheduled JobState = "RETRY_SCHEDULED"

	// JobStateDeadLettered — job записан в DLQ, сообщение ack.
	JobStateDeadLettered JobState = "DEAD_LETTERED"
)

// IsTerminal возвращает true, если состояние финальное для доставки.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateSucceeded, JobStateDeadLettered:
		return true
	default:
		return false
	}
}

// Classification — классификация ошибки для retry-логики.
//
// Определяет действие Retry Planner'а:
//   - TRANSIENT  — немедленный повтор внутри занятого slot (tier 1)
//   - RETRIABLE  — отложенный повтор с exponential backoff (tier 2)
//   - PERMANENT  — сразу в DLQ, без повторов (tier 3)
type Classification string

const (
	ClassTransient Classification = "TRANSIENT"
	ClassRetriable Classification = "RETRIABLE"
	ClassPermanent Classification = "PERMANENT"
)

// TerminalReason — причина попадания job в DLQ.
type TerminalReason string

const (
	// ReasonPermanentFailure — ошибка классифицирована как PERMANENT.
	ReasonPermanentFailure TerminalReason = "permanent_failure"

	// ReasonRetriesExhausted — исчерпаны все отложенные повторы (N2).
	ReasonRetriesExhausted TerminalReason = "retries_exhausted"

	// ReasonSchedulingFailure — не удалось надёжно запланировать
	// отложенный повтор (публикация в wait-очередь провалилась).
	// Лучше DLQ, чем тихо потерянный retry.
	ReasonSchedulingFailure TerminalReason = "scheduling_persistence_failure"

	// ReasonMalformedMessage — сообщение из брокера не распарсилось.
	ReasonMalformedMessage TerminalReason = "malformed_message"
)

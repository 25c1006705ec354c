package domain

import "time"

// Outcome — результат обращения к Task Executor.
//
// Решения о retry/DLQ принимаются по этим данным, а не по panic/unwind:
// ошибка выполнения — это значение, текущее через классификатор
// и Retry Planner.
type Outcome struct {
	// Success — true, если executor завершился успешно.
	Success bool `json:"success"`

	// Code — стандартизированный код ошибки (AUTH_001, TIMEOUT, ...).
	// Пустой при успехе.
	Code string `json:"error_code,omitempty"`

	// Message — человекочитаемое описание ошибки.
	Message string `json:"error_message,omitempty"`
}

// OK возвращает успешный Outcome.
func OK() Outcome {
	return Outcome{Success: true}
}

// Fail возвращает Outcome с ошибкой.
func Fail(code, message string) Outcome {
	return Outcome{Code: code, Message: message}
}

// Коды ошибок, синтезируемые самим движком.
// Коды executor'ов приходят извне и известны только policy-таблице.
const (
	// CodeTimeout — executor превысил таймаут target'а.
	CodeTimeout = "TIMEOUT"

	// CodePanic — executor паниковал; паника погашена dispatcher'ом.
	CodePanic = "EXECUTOR_PANIC"

	// CodeCancelled — выполнение прервано остановкой воркера.
	CodeCancelled = "CANCELLED"

	// CodeUnknownTarget — для target нет зарегистрированного executor'а.
	CodeUnknownTarget = "BOT_NOT_IMPLEMENTED"
)

// ErrorRecord — зафиксированная ошибка одной попытки выполнения.
type ErrorRecord struct {
	Code             string         `json:"code"`
	Message          string         `json:"message"`
	Classification   Classification `json:"classification"`
	Timestamp        time.Time      `json:"timestamp"`
	AttemptAtFailure int            `json:"attempt_at_failure"`
}

// NewErrorRecord создаёт запись об ошибке из Outcome.
func NewErrorRecord(out Outcome, class Classification, attempt int) ErrorRecord {
	return ErrorRecord{
		Code:             out.Code,
		Message:          out.Message,
		Classification:   class,
		Timestamp:        time.Now().UTC(),
		AttemptAtFailure: attempt,
	}
}

package domain

import "time"

// DLQEntry — запись Dead Letter Queue.
//
// Неизменяемый кортеж (снимок job, последняя ошибка, причина).
// Пишется один раз, движком никогда не перезаписывается и не удаляется.
type DLQEntry struct {
	JobID          string         `json:"job_id"`
	Target         string         `json:"target"`
	Job            *JobMessage    `json:"job"`
	LastError      *ErrorRecord   `json:"last_error,omitempty"`
	TerminalReason TerminalReason `json:"terminal_reason"`
	DeadLetteredAt time.Time      `json:"dead_lettered_at"`
}

// NewDLQEntry создаёт DLQ-запись из сообщения и причины.
func NewDLQEntry(msg *JobMessage, reason TerminalReason) *DLQEntry {
	return &DLQEntry{
		JobID:          msg.JobID,
		Target:         msg.Target,
		Job:            msg,
		LastError:      msg.LastError(),
		TerminalReason: reason,
		DeadLetteredAt: time.Now().UTC(),
	}
}

package api

import (
	"time"

	"github.com/brokerwiz/quoterd/internal/domain"
)

// Job DTOs

// SubmitJobRequest — запрос на постановку job в очередь.
type SubmitJobRequest struct {
	// JobID — опциональный клиентский идентификатор (idempotency key).
	// Пустой — сгенерируется сервером.
	JobID   string         `json:"job_id,omitempty"`
	Target  string         `json:"target"`
	Payload map[string]any `json:"payload,omitempty"`
}

// JobResponse — ответ со статусом job.
type JobResponse struct {
	JobID      string              `json:"job_id"`
	Target     string              `json:"target"`
	Attempt    int                 `json:"attempt"`
	State      domain.JobState     `json:"state"`
	Payload    map[string]any      `json:"payload,omitempty"`
	EnqueuedAt time.Time           `json:"enqueued_at"`
	StartedAt  *time.Time          `json:"started_at,omitempty"`
	FinishedAt *time.Time          `json:"finished_at,omitempty"`
	LastError  *domain.ErrorRecord `json:"last_error,omitempty"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// JobFromDomain конвертирует domain.Job в JobResponse.
func JobFromDomain(j domain.Job) JobResponse {
	return JobResponse{
		JobID:      j.JobID,
		Target:     j.Target,
		Attempt:    j.Attempt,
		State:      j.State,
		Payload:    j.Payload,
		EnqueuedAt: j.EnqueuedAt,
		StartedAt:  j.StartedAt,
		FinishedAt: j.FinishedAt,
		LastError:  j.LastError,
		UpdatedAt:  j.UpdatedAt,
	}
}

// DLQ DTOs

// DLQEntryResponse — ответ с DLQ-записью.
type DLQEntryResponse struct {
	JobID          string                `json:"job_id"`
	Target         string                `json:"target"`
	TerminalReason domain.TerminalReason `json:"terminal_reason"`
	Attempt        int                   `json:"attempt"`
	LastError      *domain.ErrorRecord   `json:"last_error,omitempty"`
	ErrorHistory   []domain.ErrorRecord  `json:"error_history,omitempty"`
	Payload        map[string]any        `json:"payload,omitempty"`
	DeadLetteredAt time.Time             `json:"dead_lettered_at"`
}

// DLQEntryFromDomain конвертирует domain.DLQEntry в DLQEntryResponse.
func DLQEntryFromDomain(e domain.DLQEntry) DLQEntryResponse {
	resp := DLQEntryResponse{
		JobID:          e.JobID,
		Target:         e.Target,
		TerminalReason: e.TerminalReason,
		LastError:      e.LastError,
		DeadLetteredAt: e.DeadLetteredAt,
	}
	if e.Job != nil {
		resp.Attempt = e.Job.Attempt
		resp.ErrorHistory = e.Job.ErrorHistory
		resp.Payload = e.Job.Payload
	}
	return resp
}

// RetryResponse — ответ на ручной повтор из DLQ.
type RetryResponse struct {
	JobID   string `json:"job_id"`
	Target  string `json:"target"`
	Attempt int    `json:"attempt"`
}

// Admission DTOs

// AdmissionResponse — статистика занятых слотов.
type AdmissionResponse struct {
	// Running — число выполняемых jobs по target'ам (из status store).
	Running map[string]int `json:"running"`
	Total   int            `json:"total"`
}

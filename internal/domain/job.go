package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobMessage — сообщение о job, передаваемое через брокер.
//
// Счётчик попыток едет внутри сообщения, а не в памяти воркера:
// при повторной доставке (at-least-once) дубликат несёт тот же attempt,
// поэтому суммарное число повторов ограничено независимо от того,
// какой воркер обрабатывает сообщение.
type JobMessage struct {
	// JobID — стабильный идентификатор job. Не меняется при
	// redelivery и при отложенных повторах.
	JobID string `json:"job_id"`

	// Target — идентификатор провайдера (hdi, sura, axa, ...).
	// Определяет очередь, executor и бюджет конкурентности.
	Target string `json:"target"`

	// Attempt — номер доставки, начиная с 1.
	// Увеличивается только при отложенной переопубликации.
	Attempt int `json:"attempt"`

	// Payload — непрозрачные данные для executor'а.
	// Движок их не интерпретирует.
	Payload map[string]any `json:"payload,omitempty"`

	// EnqueuedAt — время первичной постановки в очередь.
	EnqueuedAt time.Time `json:"enqueued_at"`

	// FirstAttemptAt — время первой попытки выполнения.
	FirstAttemptAt *time.Time `json:"first_attempt_at,omitempty"`

	// ErrorHistory — накопленные ошибки всех предыдущих попыток.
	// Едет в сообщении, чтобы DLQ-запись была самодостаточной.
	ErrorHistory []ErrorRecord `json:"error_history,omitempty"`
}

// DecodeJobMessage парсит тело сообщения брокера.
//
// Совместимость: attempt=0 или отсутствующий attempt нормализуется в 1
// (сообщения от старых публикаторов без retry-метаданных).
func DecodeJobMessage(body []byte) (*JobMessage, error) {
	var msg JobMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal job message: %w", err)
	}
	if msg.JobID == "" {
		return nil, fmt.Errorf("job message without job_id")
	}
	if msg.Target == "" {
		return nil, fmt.Errorf("job message %s without target", msg.JobID)
	}
	if msg.Attempt < 1 {
		msg.Attempt = 1
	}
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now().UTC()
	}
	return &msg, nil
}

// Encode сериализует сообщение для публикации.
func (m *JobMessage) Encode() ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal job message: %w", err)
	}
	return body, nil
}

// AddError дописывает ошибку в историю.
func (m *JobMessage) AddError(rec ErrorRecord) {
	m.ErrorHistory = append(m.ErrorHistory, rec)
}

// LastError возвращает последнюю ошибку или nil.
func (m *JobMessage) LastError() *ErrorRecord {
	if len(m.ErrorHistory) == 0 {
		return nil
	}
	return &m.ErrorHistory[len(m.ErrorHistory)-1]
}

// NextAttempt возвращает копию сообщения для отложенного повтора:
// attempt+1, история ошибок сохранена.
func (m *JobMessage) NextAttempt() *JobMessage {
	next := *m
	next.Attempt = m.Attempt + 1
	next.ErrorHistory = append([]ErrorRecord(nil), m.ErrorHistory...)
	return &next
}

// ResetForManualRetry подготавливает сообщение для ручного повтора из DLQ:
// attempt сбрасывается в 1, история очищается, payload сохраняется.
func (m *JobMessage) ResetForManualRetry() {
	m.Attempt = 1
	m.ErrorHistory = nil
	m.FirstAttemptAt = nil
}

// Job — учётная запись job в хранилище статусов.
//
// Создаётся при первой доставке, мутируется по мере прохождения
// pipeline (admission → dispatch → retry planning). Внешний status API
// читает её для ответа на запросы о состоянии job.
type Job struct {
	JobID      string         `json:"job_id"`
	Target     string         `json:"target"`
	Attempt    int            `json:"attempt"`
	State      JobState       `json:"state"`
	Payload    map[string]any `json:"payload,omitempty"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	LastError  *ErrorRecord   `json:"last_error,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// JobFromMessage создаёт учётную запись из сообщения брокера.
func JobFromMessage(msg *JobMessage) *Job {
	return &Job{
		JobID:      msg.JobID,
		Target:     msg.Target,
		Attempt:    msg.Attempt,
		State:      JobStateQueued,
		Payload:    msg.Payload,
		EnqueuedAt: msg.EnqueuedAt,
		LastError:  msg.LastError(),
		UpdatedAt:  time.Now().UTC(),
	}
}

// MarkAdmitted переводит job в ADMITTED (slot выдан).
func (j *Job) MarkAdmitted() {
	j.State = JobStateAdmitted
	j.UpdatedAt = time.Now().UTC()
}

// MarkRunning переводит job в RUNNING.
func (j *Job) MarkRunning() {
	now := time.Now().UTC()
	j.State = JobStateRunning
	j.StartedAt = &now
	j.UpdatedAt = now
}

// MarkSucceeded переводит job в SUCCEEDED.
func (j *Job) MarkSucceeded() {
	now := time.Now().UTC()
	j.State = JobStateSucceeded
	j.FinishedAt = &now
	j.UpdatedAt = now
}

// MarkRetryScheduled фиксирует, что job переопубликован с задержкой.
func (j *Job) MarkRetryScheduled(rec *ErrorRecord) {
	j.State = JobStateRetryScheduled
	j.LastError = rec
	j.UpdatedAt = time.Now().UTC()
}

// MarkDeadLettered переводит job в DEAD_LETTERED.
func (j *Job) MarkDeadLettered(rec *ErrorRecord) {
	now := time.Now().UTC()
	j.State = JobStateDeadLettered
	j.LastError = rec
	j.FinishedAt = &now
	j.UpdatedAt = now
}

// Duration возвращает продолжительность выполнения (0, если не завершён).
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil || j.FinishedAt == nil {
		return 0
	}
	return j.FinishedAt.Sub(*j.StartedAt)
}

package domain

import (
	"testing"
	"time"
)

func TestDecodeJobMessage(t *testing.T) {
	body := []byte(`{"job_id":"j-1","target":"hdi","attempt":2,"payload":{"plate":"ABC123"}}`)

	msg, err := DecodeJobMessage(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.JobID != "j-1" {
		t.Errorf("job_id = %s, want j-1", msg.JobID)
	}
	if msg.Target != "hdi" {
		t.Errorf("target = %s, want hdi", msg.Target)
	}
	if msg.Attempt != 2 {
		t.Errorf("attempt = %d, want 2", msg.Attempt)
	}
	if msg.Payload["plate"] != "ABC123" {
		t.Errorf("payload = %v", msg.Payload)
	}
}

func TestDecodeJobMessage_NormalizesAttempt(t *testing.T) {
	// Сообщения от старых публикаторов без retry-метаданных
	msg, err := DecodeJobMessage([]byte(`{"job_id":"j-1","target":"hdi"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Attempt != 1 {
		t.Errorf("attempt = %d, want 1", msg.Attempt)
	}
	if msg.EnqueuedAt.IsZero() {
		t.Error("enqueued_at should be defaulted")
	}
}

func TestDecodeJobMessage_Invalid(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"not json", `{broken`},
		{"missing job_id", `{"target":"hdi"}`},
		{"missing target", `{"job_id":"j-1"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeJobMessage([]byte(tc.body)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestJobMessage_EncodeDecodeRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	msg := &JobMessage{
		JobID:      "j-1",
		Target:     "sura",
		Attempt:    3,
		EnqueuedAt: now,
		ErrorHistory: []ErrorRecord{
			{Code: "TIMEOUT", Classification: ClassRetriable, AttemptAtFailure: 1, Timestamp: now},
		},
	}

	body, err := msg.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeJobMessage(body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if decoded.Attempt != 3 || decoded.Target != "sura" {
		t.Errorf("decoded = %+v", decoded)
	}
	if len(decoded.ErrorHistory) != 1 || decoded.ErrorHistory[0].Code != "TIMEOUT" {
		t.Errorf("error history lost: %+v", decoded.ErrorHistory)
	}
}

func TestJobMessage_NextAttempt(t *testing.T) {
	msg := &JobMessage{
		JobID:   "j-1",
		Target:  "hdi",
		Attempt: 1,
		ErrorHistory: []ErrorRecord{
			{Code: "RATE_LIMIT", AttemptAtFailure: 1},
		},
	}

	next := msg.NextAttempt()

	if next.Attempt != 2 {
		t.Errorf("next attempt = %d, want 2", next.Attempt)
	}
	if next.JobID != msg.JobID {
		t.Error("job_id must be stable across retries")
	}

	// История — независимая копия: дописывание в next не трогает оригинал
	next.AddError(ErrorRecord{Code: "TIMEOUT", AttemptAtFailure: 2})
	if len(msg.ErrorHistory) != 1 {
		t.Errorf("original history mutated: %d records", len(msg.ErrorHistory))
	}
	if len(next.ErrorHistory) != 2 {
		t.Errorf("next history = %d records, want 2", len(next.ErrorHistory))
	}
}

func TestJobMessage_ResetForManualRetry(t *testing.T) {
	now := time.Now().UTC()
	msg := &JobMessage{
		JobID:          "j-1",
		Target:         "hdi",
		Attempt:        4,
		Payload:        map[string]any{"plate": "ABC123"},
		FirstAttemptAt: &now,
		ErrorHistory: []ErrorRecord{
			{Code: "TIMEOUT"}, {Code: "TIMEOUT"}, {Code: "TIMEOUT"},
		},
	}

	msg.ResetForManualRetry()

	if msg.Attempt != 1 {
		t.Errorf("attempt = %d, want 1", msg.Attempt)
	}
	if msg.ErrorHistory != nil || msg.FirstAttemptAt != nil {
		t.Error("history and first_attempt_at should be cleared")
	}
	if msg.Payload["plate"] != "ABC123" {
		t.Error("payload must survive the reset")
	}
}

func TestJob_Lifecycle(t *testing.T) {
	msg := &JobMessage{JobID: "j-1", Target: "hdi", Attempt: 1, EnqueuedAt: time.Now().UTC()}
	job := JobFromMessage(msg)

	if job.State != JobStateQueued {
		t.Fatalf("initial state = %s, want QUEUED", job.State)
	}

	job.MarkAdmitted()
	if job.State != JobStateAdmitted {
		t.Errorf("state = %s, want ADMITTED", job.State)
	}

	job.MarkRunning()
	if job.State != JobStateRunning || job.StartedAt == nil {
		t.Errorf("state = %s, started_at = %v", job.State, job.StartedAt)
	}

	job.MarkSucceeded()
	if job.State != JobStateSucceeded || job.FinishedAt == nil {
		t.Errorf("state = %s, finished_at = %v", job.State, job.FinishedAt)
	}
	if !job.State.IsTerminal() {
		t.Error("SUCCEEDED must be terminal")
	}
	if job.Duration() <= 0 {
		t.Error("duration should be positive")
	}
}

func TestJobState_IsTerminal(t *testing.T) {
	terminal := map[JobState]bool{
		JobStateQueued:         false,
		JobStateAdmitted:       false,
		JobStateRunning:        false,
		JobStateRetryScheduled: false,
		JobStateSucceeded:      true,
		JobStateDeadLettered:   true,
	}

	for state, want := range terminal {
		if got := state.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", state, got, want)
		}
	}
}

func TestNewDLQEntry(t *testing.T) {
	msg := &JobMessage{
		JobID:   "j-1",
		Target:  "hdi",
		Attempt: 4,
		ErrorHistory: []ErrorRecord{
			{Code: "TIMEOUT", AttemptAtFailure: 3},
		},
	}

	entry := NewDLQEntry(msg, ReasonRetriesExhausted)

	if entry.JobID != "j-1" || entry.Target != "hdi" {
		t.Errorf("entry = %+v", entry)
	}
	if entry.TerminalReason != ReasonRetriesExhausted {
		t.Errorf("reason = %s", entry.TerminalReason)
	}
	if entry.LastError == nil || entry.LastError.Code != "TIMEOUT" {
		t.Errorf("last error = %+v", entry.LastError)
	}
	if entry.DeadLetteredAt.IsZero() {
		t.Error("dead_lettered_at should be set")
	}
}

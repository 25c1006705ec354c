package worker

import (
	"testing"
	"time"

	"github.com/brokerwiz/quoterd/internal/domain"
)

func newTestPlanner() *Planner {
	return NewPlanner(PlannerConfig{
		DelayedRetries: 3,
		BackoffBase:    2 * time.Second,
		BackoffCap:     5 * time.Minute,
		BackoffJitter:  0, // детерминизм в тестах
	})
}

func TestPlanner_PermanentGoesStraightToDLQ(t *testing.T) {
	p := newTestPlanner()

	// PERMANENT — в DLQ независимо от номера попытки
	for _, attempt := range []int{1, 2, 10} {
		d := p.Decide(domain.ClassPermanent, attempt)
		if d.Action != ActionDeadLetter {
			t.Errorf("attempt %d: action = %v, want ActionDeadLetter", attempt, d.Action)
		}
		if d.Reason != domain.ReasonPermanentFailure {
			t.Errorf("attempt %d: reason = %s, want permanent_failure", attempt, d.Reason)
		}
	}
}

func TestPlanner_RetriableBackoffProgression(t *testing.T) {
	p := newTestPlanner()

	// Попытки 1..3 получают отложенный повтор с 2s, 4s, 8s
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	for attempt := 1; attempt <= 3; attempt++ {
		d := p.Decide(domain.ClassRetriable, attempt)
		if d.Action != ActionDelayedRetry {
			t.Fatalf("attempt %d: action = %v, want ActionDelayedRetry", attempt, d.Action)
		}
		if d.Delay != want[attempt-1] {
			t.Errorf("attempt %d: delay = %s, want %s", attempt, d.Delay, want[attempt-1])
		}
	}
}

func TestPlanner_RetriesExhausted(t *testing.T) {
	p := newTestPlanner()

	// attempt 4 > N2=3: повторы исчерпаны
	d := p.Decide(domain.ClassRetriable, 4)
	if d.Action != ActionDeadLetter {
		t.Fatalf("action = %v, want ActionDeadLetter", d.Action)
	}
	if d.Reason != domain.ReasonRetriesExhausted {
		t.Errorf("reason = %s, want retries_exhausted", d.Reason)
	}
}

func TestPlanner_TransientAtDispatchBoundaryRetriesDelayed(t *testing.T) {
	p := newTestPlanner()

	// TRANSIENT, пережившая немедленные повторы, идёт в отложенный ярус
	d := p.Decide(domain.ClassTransient, 1)
	if d.Action != ActionDelayedRetry {
		t.Errorf("action = %v, want ActionDelayedRetry", d.Action)
	}
}

func TestPlanner_BackoffCapped(t *testing.T) {
	p := NewPlanner(PlannerConfig{
		DelayedRetries: 20,
		BackoffBase:    2 * time.Second,
		BackoffCap:     time.Minute,
		BackoffJitter:  0,
	})

	if d := p.Backoff(30); d != time.Minute {
		t.Errorf("Backoff(30) = %s, want cap %s", d, time.Minute)
	}
	// Отрицательный k нормализуется
	if d := p.Backoff(-1); d != 2*time.Second {
		t.Errorf("Backoff(-1) = %s, want base %s", d, 2*time.Second)
	}
}

func TestPlanner_JitterWithinBounds(t *testing.T) {
	jitter := 500 * time.Millisecond
	p := NewPlanner(PlannerConfig{
		DelayedRetries: 3,
		BackoffBase:    2 * time.Second,
		BackoffCap:     5 * time.Minute,
		BackoffJitter:  jitter,
	})

	for i := 0; i < 100; i++ {
		d := p.Backoff(0)
		if d < 2*time.Second || d >= 2*time.Second+jitter {
			t.Fatalf("Backoff(0) = %s, want [2s, 2.5s)", d)
		}
	}
}

func TestPlanner_ZeroDelayedRetries(t *testing.T) {
	p := NewPlanner(PlannerConfig{DelayedRetries: 0, BackoffJitter: 0})

	// N2=0: первая же неуспешная доставка исчерпывает повторы
	d := p.Decide(domain.ClassRetriable, 1)
	if d.Action != ActionDeadLetter || d.Reason != domain.ReasonRetriesExhausted {
		t.Errorf("decision = %+v, want dead-letter retries_exhausted", d)
	}
}

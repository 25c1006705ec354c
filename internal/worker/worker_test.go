package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/brokerwiz/quoterd/internal/domain"
	"github.com/brokerwiz/quoterd/internal/mq"
)

// --- Фейки зависимостей pipeline ---

type fakeAcker struct {
	mu      sync.Mutex
	acked   bool
	nacked  bool
	requeue bool
}

func (a *fakeAcker) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = true
	return nil
}

func (a *fakeAcker) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacked = true
	a.requeue = requeue
	return nil
}

func (a *fakeAcker) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

type fakeJobStore struct {
	mu     sync.Mutex
	states []domain.JobState
}

func (s *fakeJobStore) Upsert(ctx context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, job.State)
	return nil
}

func (s *fakeJobStore) last() domain.JobState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.states) == 0 {
		return ""
	}
	return s.states[len(s.states)-1]
}

type fakeDLQ struct {
	mu      sync.Mutex
	entries []*domain.DLQEntry
	err     error
}

func (d *fakeDLQ) Append(ctx context.Context, entry *domain.DLQEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.entries = append(d.entries, entry)
	return nil
}

type fakeRetries struct {
	mu        sync.Mutex
	published []*domain.JobMessage
	delays    []time.Duration
	err       error
}

func (r *fakeRetries) PublishDelayedRetry(ctx context.Context, msg *domain.JobMessage, delay time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.published = append(r.published, msg)
	r.delays = append(r.delays, delay)
	return nil
}

type pipeline struct {
	worker  *Worker
	jobs    *fakeJobStore
	dlq     *fakeDLQ
	retries *fakeRetries
	acker   *fakeAcker
}

func newPipeline(t *testing.T, executor Executor, limit int) *pipeline {
	t.Helper()

	registry := NewRegistry()
	if executor != nil {
		registry.Register("hdi", executor)
	}

	logger := slog.New(slog.DiscardHandler)
	dispatch := NewDispatcher(registry, NewClassifier(nil), DispatcherConfig{
		ImmediateRetries: 1,
		TimeoutFor:       func(string) time.Duration { return time.Second },
	}, logger)
	planner := NewPlanner(PlannerConfig{
		DelayedRetries: 3,
		BackoffBase:    2 * time.Second,
		BackoffCap:     5 * time.Minute,
		BackoffJitter:  0,
	})

	p := &pipeline{
		jobs:    &fakeJobStore{},
		dlq:     &fakeDLQ{},
		retries: &fakeRetries{},
		acker:   &fakeAcker{},
	}
	p.worker = New(
		WorkerConfig{Targets: []string{"hdi"}, RequeueDelay: time.Millisecond},
		NewAdmissionController(limitAll(limit), 0),
		dispatch, planner,
		p.jobs, p.dlq, p.retries,
		logger,
	)
	return p
}

func (p *pipeline) deliver(t *testing.T, msg *domain.JobMessage) {
	t.Helper()
	body, err := msg.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	p.deliverRaw(t, body)
}

func (p *pipeline) deliverRaw(t *testing.T, body []byte) {
	t.Helper()
	p.worker.handleDelivery(context.Background(), &mq.Delivery{
		Body:  body,
		Queue: "quotes.q.hdi",
		Raw:   amqp.Delivery{Acknowledger: p.acker, DeliveryTag: 1},
	})
}

// --- Pipeline tests ---

func TestPipeline_Success(t *testing.T) {
	p := newPipeline(t, execFunc(func(ctx context.Context, msg *domain.JobMessage) domain.Outcome {
		return domain.OK()
	}), 1)

	p.deliver(t, testMessage("hdi"))

	if !p.acker.acked {
		t.Error("delivery should be acked")
	}
	if p.jobs.last() != domain.JobStateSucceeded {
		t.Errorf("final state = %s, want SUCCEEDED", p.jobs.last())
	}
	if len(p.dlq.entries) != 0 || len(p.retries.published) != 0 {
		t.Error("success should touch neither DLQ nor retries")
	}
}

func TestPipeline_NoSlotRequeuesWithoutAttemptBurn(t *testing.T) {
	var executed bool
	p := newPipeline(t, execFunc(func(ctx context.Context, msg *domain.JobMessage) domain.Outcome {
		executed = true
		return domain.OK()
	}), 0) // лимит 0: admission всегда отказывает

	p.deliver(t, testMessage("hdi"))

	if executed {
		t.Error("executor must not run without a slot")
	}
	if !p.acker.nacked || !p.acker.requeue {
		t.Error("delivery should be nacked with requeue")
	}
	if len(p.retries.published) != 0 {
		t.Error("admission rejection must not consume an attempt")
	}
}

func TestPipeline_RetriableSchedulesDelayedRetry(t *testing.T) {
	p := newPipeline(t, execFunc(func(ctx context.Context, msg *domain.JobMessage) domain.Outcome {
		return domain.Fail("RATE_LIMIT", "429")
	}), 1)

	p.deliver(t, testMessage("hdi"))

	if !p.acker.acked {
		t.Error("delivery should be acked after retry is persisted")
	}
	if len(p.retries.published) != 1 {
		t.Fatalf("published %d retries, want 1", len(p.retries.published))
	}

	next := p.retries.published[0]
	if next.Attempt != 2 {
		t.Errorf("next attempt = %d, want 2", next.Attempt)
	}
	if len(next.ErrorHistory) != 1 {
		t.Errorf("error history should travel with the message, got %d records", len(next.ErrorHistory))
	}
	if p.retries.delays[0] != 2*time.Second {
		t.Errorf("delay = %s, want 2s", p.retries.delays[0])
	}
	if p.jobs.last() != domain.JobStateRetryScheduled {
		t.Errorf("final state = %s, want RETRY_SCHEDULED", p.jobs.last())
	}
}

func TestPipeline_PermanentDeadLetters(t *testing.T) {
	p := newPipeline(t, execFunc(func(ctx context.Context, msg *domain.JobMessage) domain.Outcome {
		return domain.Fail("AUTH_001", "bad credentials")
	}), 1)

	p.deliver(t, testMessage("hdi"))

	if !p.acker.acked {
		t.Error("delivery should be acked after DLQ append")
	}
	if len(p.retries.published) != 0 {
		t.Error("permanent failure must not be retried")
	}
	if len(p.dlq.entries) != 1 {
		t.Fatalf("dlq entries = %d, want 1", len(p.dlq.entries))
	}

	entry := p.dlq.entries[0]
	if entry.TerminalReason != domain.ReasonPermanentFailure {
		t.Errorf("reason = %s, want permanent_failure", entry.TerminalReason)
	}
	if entry.LastError == nil || entry.LastError.Code != "AUTH_001" {
		t.Errorf("last error = %+v, want AUTH_001", entry.LastError)
	}
	if p.jobs.last() != domain.JobStateDeadLettered {
		t.Errorf("final state = %s, want DEAD_LETTERED", p.jobs.last())
	}
}

func TestPipeline_ExhaustedRetriesDeadLetter(t *testing.T) {
	p := newPipeline(t, execFunc(func(ctx context.Context, msg *domain.JobMessage) domain.Outcome {
		return domain.Fail("RATE_LIMIT", "429")
	}), 1)

	// attempt 4 > N2=3
	msg := testMessage("hdi")
	msg.Attempt = 4
	p.deliver(t, msg)

	if len(p.retries.published) != 0 {
		t.Error("exhausted job must not be retried again")
	}
	if len(p.dlq.entries) != 1 {
		t.Fatalf("dlq entries = %d, want 1", len(p.dlq.entries))
	}
	if p.dlq.entries[0].TerminalReason != domain.ReasonRetriesExhausted {
		t.Errorf("reason = %s, want retries_exhausted", p.dlq.entries[0].TerminalReason)
	}
}

func TestPipeline_SchedulingFailureDeadLetters(t *testing.T) {
	p := newPipeline(t, execFunc(func(ctx context.Context, msg *domain.JobMessage) domain.Outcome {
		return domain.Fail("RATE_LIMIT", "429")
	}), 1)
	p.retries.err = errors.New("broker gone")

	p.deliver(t, testMessage("hdi"))

	// Retry не зафиксирован надёжно — job не теряется молча, а уходит в DLQ
	if len(p.dlq.entries) != 1 {
		t.Fatalf("dlq entries = %d, want 1", len(p.dlq.entries))
	}
	if p.dlq.entries[0].TerminalReason != domain.ReasonSchedulingFailure {
		t.Errorf("reason = %s, want scheduling_persistence_failure", p.dlq.entries[0].TerminalReason)
	}
	if !p.acker.acked {
		t.Error("delivery should be acked after DLQ append")
	}
}

func TestPipeline_DLQFailureRequeues(t *testing.T) {
	p := newPipeline(t, execFunc(func(ctx context.Context, msg *domain.JobMessage) domain.Outcome {
		return domain.Fail("AUTH_001", "bad credentials")
	}), 1)
	p.dlq.err = errors.New("db down")

	p.deliver(t, testMessage("hdi"))

	// DLQ недоступна: ack нельзя, доставка вернётся и Append повторится
	if p.acker.acked {
		t.Error("delivery must not be acked when DLQ append fails")
	}
	if !p.acker.nacked || !p.acker.requeue {
		t.Error("delivery should be nacked with requeue")
	}
}

func TestPipeline_MalformedMessageDeadLetters(t *testing.T) {
	p := newPipeline(t, nil, 1)

	p.deliverRaw(t, []byte(`{not json`))

	if !p.acker.acked {
		t.Error("malformed delivery should be acked")
	}
	if len(p.dlq.entries) != 1 {
		t.Fatalf("dlq entries = %d, want 1", len(p.dlq.entries))
	}

	entry := p.dlq.entries[0]
	if entry.TerminalReason != domain.ReasonMalformedMessage {
		t.Errorf("reason = %s, want malformed_message", entry.TerminalReason)
	}
	if entry.Target != "hdi" {
		t.Errorf("target = %s, want hdi (from queue name)", entry.Target)
	}
}

func TestPipeline_ShutdownRequeuesWithoutAttemptBurn(t *testing.T) {
	started := make(chan struct{})
	p := newPipeline(t, execFunc(func(ctx context.Context, msg *domain.JobMessage) domain.Outcome {
		close(started)
		<-ctx.Done()
		return domain.Outcome{Success: false}
	}), 1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	msg := testMessage("hdi")
	body, _ := msg.Encode()
	p.worker.handleDelivery(ctx, &mq.Delivery{
		Body:  body,
		Queue: "quotes.q.hdi",
		Raw:   amqp.Delivery{Acknowledger: p.acker, DeliveryTag: 1},
	})

	if !p.acker.nacked || !p.acker.requeue {
		t.Error("interrupted delivery should be nacked with requeue")
	}
	if len(p.dlq.entries) != 0 || len(p.retries.published) != 0 {
		t.Error("shutdown must not consume an attempt")
	}
}

// Пять конкурентных доставок при бюджете в два slot'а: ровно две
// выполняются одновременно, остальные возвращаются в очередь без
// траты attempt. Так ведёт себя wired-путь: consumer выдаёт до
// prefetch доставок параллельно, и границу держит admission.
func TestPipeline_ConcurrentDeliveriesBoundedBySlots(t *testing.T) {
	var running, peak atomic.Int32
	release := make(chan struct{})

	exec := execFunc(func(ctx context.Context, msg *domain.JobMessage) domain.Outcome {
		n := running.Add(1)
		for {
			top := peak.Load()
			if n <= top || peak.CompareAndSwap(top, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		return domain.OK()
	})

	p := newPipeline(t, exec, 2)

	const jobs = 5
	ackers := make([]*fakeAcker, jobs)
	var wg sync.WaitGroup
	for i := range ackers {
		acker := &fakeAcker{}
		ackers[i] = acker

		msg := testMessage("hdi")
		msg.JobID = fmt.Sprintf("job-%d", i)
		body, err := msg.Encode()
		if err != nil {
			t.Fatalf("encode: %v", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker.handleDelivery(context.Background(), &mq.Delivery{
				Body:  body,
				Queue: "quotes.q.hdi",
				Raw:   amqp.Delivery{Acknowledger: acker, DeliveryTag: 1},
			})
		}()
	}

	// Ждём устойчивого состояния: два job'а в слотах, три отклонены
	deadline := time.Now().Add(2 * time.Second)
	for running.Load() != 2 || countRequeued(ackers) != 3 {
		if time.Now().After(deadline) {
			t.Fatalf("running = %d, requeued = %d; want 2 running and 3 requeued",
				running.Load(), countRequeued(ackers))
		}
		time.Sleep(5 * time.Millisecond)
	}

	close(release)
	wg.Wait()

	if got := peak.Load(); got != 2 {
		t.Errorf("peak concurrency = %d, want 2", got)
	}
	if got := countAcked(ackers); got != 2 {
		t.Errorf("acked = %d, want 2 (admitted jobs)", got)
	}
	if got := countRequeued(ackers); got != 3 {
		t.Errorf("requeued = %d, want 3 (rejected jobs)", got)
	}
	if len(p.retries.published) != 0 {
		t.Error("admission rejection must not consume an attempt")
	}
}

func countAcked(ackers []*fakeAcker) int {
	n := 0
	for _, a := range ackers {
		a.mu.Lock()
		if a.acked {
			n++
		}
		a.mu.Unlock()
	}
	return n
}

func countRequeued(ackers []*fakeAcker) int {
	n := 0
	for _, a := range ackers {
		a.mu.Lock()
		if a.nacked && a.requeue {
			n++
		}
		a.mu.Unlock()
	}
	return n
}

func TestPipeline_SlotReleasedAfterDelivery(t *testing.T) {
	p := newPipeline(t, execFunc(func(ctx context.Context, msg *domain.JobMessage) domain.Outcome {
		return domain.OK()
	}), 1)

	p.deliver(t, testMessage("hdi"))
	if n := p.worker.admission.Active("hdi"); n != 0 {
		t.Errorf("active slots after delivery = %d, want 0", n)
	}

	// Второй job проходит на освободившийся slot
	p.deliver(t, testMessage("hdi"))
	if !p.acker.acked {
		t.Error("second delivery should succeed on the freed slot")
	}
}

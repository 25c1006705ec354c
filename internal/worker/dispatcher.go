package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brokerwiz/quoterd/internal/domain"
	"github.com/brokerwiz/quoterd/internal/telemetry"
)

// Dispatcher выполняет job внутри занятого slot: находит executor,
// ограничивает его таймаутом target'а, гасит паники и выполняет
// немедленные (tier-1) повторы для TRANSIENT-ошибок.
//
// Dispatcher не принимает решений об отложенных повторах и DLQ —
// это работа Planner'а по финальному Outcome.
type Dispatcher struct {
	registry   *Registry
	classifier *Classifier
	logger     *slog.Logger

	immediateRetries int // N1
	timeoutFor       func(target string) time.Duration
}

// DispatcherConfig — параметры dispatcher'а.
type DispatcherConfig struct {
	ImmediateRetries int // N1: максимум немедленных повторов
	TimeoutFor       func(target string) time.Duration
}

// NewDispatcher создаёт dispatcher.
func NewDispatcher(registry *Registry, classifier *Classifier, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	timeoutFor := cfg.TimeoutFor
	if timeoutFor == nil {
		timeoutFor = func(string) time.Duration { return 5 * time.Minute }
	}
	return &Dispatcher{
		registry:         registry,
		classifier:       classifier,
		logger:           logger,
		immediateRetries: cfg.ImmediateRetries,
		timeoutFor:       timeoutFor,
	}
}

// Dispatch выполняет job и возвращает финальный Outcome с его
// классификацией. Для успеха классификация не имеет смысла и
// возвращается пустой.
//
// Slot удерживается на всё время dispatch, включая немедленные
// повторы: tier-1 повтор не проходит admission заново. Освобождение
// slot'а — ответственность вызывающего.
//
// Каждая неуспешная внутренняя попытка дописывается в ErrorHistory
// сообщения, чтобы DLQ-запись содержала полную хронологию.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *domain.JobMessage) (domain.Outcome, domain.Classification) {
	logger := d.logger.With(slog.String("job_id", msg.JobID), slog.String("target", msg.Target))

	executor, err := d.registry.Get(msg.Target)
	if err != nil {
		out := domain.Fail(domain.CodeUnknownTarget, err.Error())
		class := d.classifier.Classify(out)
		msg.AddError(domain.NewErrorRecord(out, class, msg.Attempt))
		return out, class
	}

	if msg.FirstAttemptAt == nil {
		now := time.Now().UTC()
		msg.FirstAttemptAt = &now
	}

	timeout := d.timeoutFor(msg.Target)

	var out domain.Outcome
	for try := 0; ; try++ {
		out = d.runOnce(ctx, executor, msg, timeout)
		if out.Success {
			return out, ""
		}

		// Остановка воркера — не ошибка job: вызывающий вернёт
		// сообщение в очередь без записи в историю.
		if out.Code == domain.CodeCancelled {
			return out, ""
		}

		class := d.classifier.Classify(out)
		msg.AddError(domain.NewErrorRecord(out, class, msg.Attempt))

		if class != domain.ClassTransient || try >= d.immediateRetries {
			return out, class
		}

		logger.Info("immediate retry",
			slog.String("code", out.Code),
			slog.Int("try", try+1),
		)
		telemetry.RetriesTotal.WithLabelValues(msg.Target, "immediate").Inc()
	}
}

// runOnce — одно обращение к executor'у под таймаутом target'а.
//
// Executor работает в отдельной горутине; паника гасится и
// превращается в EXECUTOR_PANIC. При таймауте или остановке воркера
// горутина executor'а получает отмену контекста и дорабатывает в фоне —
// её результат отбрасывается.
func (d *Dispatcher) runOnce(ctx context.Context, executor Executor, msg *domain.JobMessage, timeout time.Duration) domain.Outcome {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan domain.Outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- domain.Fail(domain.CodePanic, fmt.Sprintf("executor panic: %v", r))
			}
		}()
		done <- executor.Execute(execCtx, msg)
	}()

	select {
	case out := <-done:
		// Executor мог вернуть ошибку контекста как обычный исход;
		// нормализуем её в коды движка.
		if !out.Success && out.Code == "" {
			switch {
			case errors.Is(ctx.Err(), context.Canceled):
				return domain.Fail(domain.CodeCancelled, "worker shutting down")
			case errors.Is(execCtx.Err(), context.DeadlineExceeded):
				return domain.Fail(domain.CodeTimeout, fmt.Sprintf("execution exceeded %s", timeout))
			}
		}
		return out
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return domain.Fail(domain.CodeCancelled, "worker shutting down")
		}
		return domain.Fail(domain.CodeTimeout, fmt.Sprintf("execution exceeded %s", timeout))
	}
}

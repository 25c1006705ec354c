package worker

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/brokerwiz/quoterd/internal/domain"
	"github.com/brokerwiz/quoterd/internal/mq"
	"github.com/brokerwiz/quoterd/internal/telemetry"
)

// handleDelivery — pipeline одной доставки.
//
// Судьба сообщения решается ровно одним из исходов:
//   - ack: успех, запись в DLQ или запланированный отложенный повтор
//   - nack+requeue: нет свободного slot, остановка воркера или
//     временный отказ хранилища
//
// Сообщение никогда не теряется молча: до ack job либо завершён,
// либо его повтор надёжно опубликован, либо он записан в DLQ.
func (w *Worker) handleDelivery(ctx context.Context, d *mq.Delivery) {
	msg, err := domain.DecodeJobMessage(d.Body)
	if err != nil {
		w.handleMalformed(ctx, d, err)
		return
	}

	logger := w.logger.With(
		slog.String("job_id", msg.JobID),
		slog.String("target", msg.Target),
		slog.Int("attempt", msg.Attempt),
	)

	job := domain.JobFromMessage(msg)
	w.upsertJob(ctx, job, logger)

	slot, err := w.admission.TryAcquire(msg.Target, msg.JobID)
	if err != nil {
		if !errors.Is(err, ErrResourceUnavailable) {
			logger.Error("admission failed", "error", err)
		}
		telemetry.AdmissionRejected.WithLabelValues(msg.Target).Inc()
		logger.Debug("no slot available, requeueing")
		w.requeue(ctx, d)
		return
	}
	defer slot.Release()

	job.MarkAdmitted()
	w.upsertJob(ctx, job, logger)

	job.MarkRunning()
	w.upsertJob(ctx, job, logger)

	started := time.Now()
	out, class := w.dispatch.Dispatch(ctx, msg)
	telemetry.JobDuration.WithLabelValues(msg.Target).Observe(time.Since(started).Seconds())

	if out.Success {
		job.MarkSucceeded()
		w.upsertJob(ctx, job, logger)
		telemetry.JobsTotal.WithLabelValues(msg.Target, "succeeded").Inc()
		logger.Info("job succeeded", "duration", time.Since(started))
		w.ack(d, logger)
		return
	}

	// Остановка воркера: job не виноват, attempt не тратится.
	// Nack вернёт доставку в очередь для другого воркера.
	if out.Code == domain.CodeCancelled {
		telemetry.JobsTotal.WithLabelValues(msg.Target, "requeued").Inc()
		logger.Info("job interrupted by shutdown, requeueing")
		if err := d.Nack(true); err != nil {
			logger.Error("nack failed", "error", err)
		}
		return
	}

	decision := w.planner.Decide(class, msg.Attempt)
	switch decision.Action {
	case ActionDelayedRetry:
		w.scheduleRetry(ctx, d, msg, job, decision.Delay, logger)
	case ActionDeadLetter:
		w.deadLetter(ctx, d, msg, job, decision.Reason, logger)
	}
}

// scheduleRetry публикует отложенный повтор и подтверждает доставку.
//
// Ack строго после успешной публикации: если публикация не удалась,
// запланированный повтор нигде не зафиксирован — глотать ошибку
// нельзя, job уходит в DLQ с причиной scheduling_persistence_failure.
func (w *Worker) scheduleRetry(ctx context.Context, d *mq.Delivery, msg *domain.JobMessage, job *domain.Job, delay time.Duration, logger *slog.Logger) {
	next := msg.NextAttempt()
	if err := w.retries.PublishDelayedRetry(ctx, next, delay); err != nil {
		logger.Error("failed to persist delayed retry, dead-lettering", "error", err)
		msg.AddError(domain.ErrorRecord{
			Code:             "SCHEDULING_FAILURE",
			Message:          err.Error(),
			Classification:   domain.ClassRetriable,
			Timestamp:        time.Now().UTC(),
			AttemptAtFailure: msg.Attempt,
		})
		w.deadLetter(ctx, d, msg, job, domain.ReasonSchedulingFailure, logger)
		return
	}

	job.MarkRetryScheduled(msg.LastError())
	w.upsertJob(ctx, job, logger)

	telemetry.RetriesTotal.WithLabelValues(msg.Target, "delayed").Inc()
	telemetry.JobsTotal.WithLabelValues(msg.Target, "retry_scheduled").Inc()
	logger.Info("delayed retry scheduled",
		slog.Int("next_attempt", next.Attempt),
		slog.Duration("delay", delay),
	)
	w.ack(d, logger)
}

// deadLetter пишет job в DLQ и подтверждает доставку.
//
// Ack строго после успешной записи: при отказе хранилища доставка
// возвращается в очередь и DLQ-запись будет повторена (Append
// идемпотентен по job_id).
func (w *Worker) deadLetter(ctx context.Context, d *mq.Delivery, msg *domain.JobMessage, job *domain.Job, reason domain.TerminalReason, logger *slog.Logger) {
	entry := domain.NewDLQEntry(msg, reason)
	if err := w.dlq.Append(ctx, entry); err != nil {
		logger.Error("failed to append dlq entry, requeueing", "error", err)
		w.requeue(ctx, d)
		return
	}

	job.MarkDeadLettered(msg.LastError())
	w.upsertJob(ctx, job, logger)

	telemetry.DLQTotal.WithLabelValues(msg.Target, string(reason)).Inc()
	telemetry.JobsTotal.WithLabelValues(msg.Target, "dead_lettered").Inc()
	logger.Warn("job dead-lettered",
		slog.String("reason", string(reason)),
		slog.Int("errors", len(msg.ErrorHistory)),
	)
	w.ack(d, logger)
}

// handleMalformed — сообщение, которое невозможно распарсить.
//
// Повторять бессмысленно (тело не изменится), поэтому сырое тело
// уходит в DLQ для ручного разбора, а доставка подтверждается.
func (w *Worker) handleMalformed(ctx context.Context, d *mq.Delivery, decodeErr error) {
	target := targetFromQueue(d.Queue)
	w.logger.Error("malformed job message",
		slog.String("queue", d.Queue),
		slog.String("error", decodeErr.Error()),
	)

	entry := &domain.DLQEntry{
		JobID:  "malformed-" + uuid.New().String(),
		Target: target,
		Job: &domain.JobMessage{
			Target:  target,
			Attempt: 1,
			Payload: map[string]any{"raw_body": string(d.Body)},
		},
		LastError: &domain.ErrorRecord{
			Code:           "MALFORMED_MESSAGE",
			Message:        decodeErr.Error(),
			Classification: domain.ClassPermanent,
			Timestamp:      time.Now().UTC(),
		},
		TerminalReason: domain.ReasonMalformedMessage,
		DeadLetteredAt: time.Now().UTC(),
	}
	if err := w.dlq.Append(ctx, entry); err != nil {
		w.logger.Error("failed to append malformed dlq entry, requeueing", "error", err)
		w.requeue(ctx, d)
		return
	}

	telemetry.DLQTotal.WithLabelValues(target, string(domain.ReasonMalformedMessage)).Inc()
	if err := d.Ack(); err != nil {
		w.logger.Error("ack failed", "queue", d.Queue, "error", err)
	}
}

// requeue возвращает доставку в очередь после паузы.
// Пауза не даёт consumer'у крутиться впустую, пока слоты заняты или
// хранилище недоступно.
func (w *Worker) requeue(ctx context.Context, d *mq.Delivery) {
	select {
	case <-ctx.Done():
	case <-time.After(w.requeueDelay):
	}
	if err := d.Nack(true); err != nil {
		w.logger.Error("nack failed", "queue", d.Queue, "error", err)
	}
}

// upsertJob обновляет учётную запись job. Статусное хранилище —
// best-effort: его отказ логируется, но pipeline не останавливает.
func (w *Worker) upsertJob(ctx context.Context, job *domain.Job, logger *slog.Logger) {
	if w.jobs == nil {
		return
	}
	if err := w.jobs.Upsert(ctx, job); err != nil {
		logger.Warn("failed to upsert job record", "state", string(job.State), "error", err)
	}
}

// ack подтверждает доставку.
func (w *Worker) ack(d *mq.Delivery, logger *slog.Logger) {
	if err := d.Ack(); err != nil {
		logger.Error("ack failed", "error", err)
	}
}

// targetFromQueue извлекает target из имени рабочей очереди.
func targetFromQueue(queue string) string {
	if target, ok := strings.CutPrefix(queue, "quotes.q."); ok {
		return target
	}
	return queue
}

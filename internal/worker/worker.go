package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/brokerwiz/quoterd/internal/domain"
	"github.com/brokerwiz/quoterd/internal/mq"
)

// JobStore — хранилище учётных записей jobs (статус для ops API).
// Реализуется repo.JobRepo.
type JobStore interface {
	Upsert(ctx context.Context, job *domain.Job) error
}

// DLQSink — durable-хранилище DLQ-записей.
// Реализуется repo.DLQRepo.
type DLQSink interface {
	Append(ctx context.Context, entry *domain.DLQEntry) error
}

// RetryPublisher публикует отложенные повторы в брокер.
// Реализуется mq.Publisher.
type RetryPublisher interface {
	PublishDelayedRetry(ctx context.Context, msg *domain.JobMessage, delay time.Duration) error
}

// Worker — движок обработки: по одному consumer'у на рабочую очередь
// каждого target'а, общий admission-контроллер и pipeline
// decode → admission → dispatch → retry planning.
//
// Consumer выдаёт до prefetch доставок одновременно, поэтому границу
// конкурентности в процессе держит admission-контроллер, а не цикл
// потребления: доставка без свободного slot'а возвращается в очередь.
//
// Несколько экземпляров Worker (в разных процессах) делят очереди
// как competing consumers; admission-контроллер ограничивает
// конкурентность в пределах одного процесса.
type Worker struct {
	targets   []string
	prefetch  int
	admission *AdmissionController
	dispatch  *Dispatcher
	planner   *Planner
	jobs      JobStore
	dlq       DLQSink
	retries   RetryPublisher
	logger    *slog.Logger

	// Пауза перед nack+requeue при отказе admission: без неё брокер
	// возвращает доставку мгновенно и consumer крутится впустую.
	requeueDelay time.Duration

	consumers []*mq.Consumer
	wg        sync.WaitGroup
}

// WorkerConfig — конфигурация Worker.
type WorkerConfig struct {
	// Targets — список target'ов, очереди которых потребляет процесс.
	Targets []string

	// Prefetch — лимит неподтверждённых доставок на consumer.
	Prefetch int

	// RequeueDelay — пауза перед возвратом доставки при занятых слотах.
	RequeueDelay time.Duration
}

// New создаёт Worker.
func New(cfg WorkerConfig, admission *AdmissionController, dispatch *Dispatcher, planner *Planner,
	jobs JobStore, dlq DLQSink, retries RetryPublisher, logger *slog.Logger) *Worker {

	requeueDelay := cfg.RequeueDelay
	if requeueDelay <= 0 {
		requeueDelay = time.Second
	}

	return &Worker{
		targets:      cfg.Targets,
		prefetch:     cfg.Prefetch,
		admission:    admission,
		dispatch:     dispatch,
		planner:      planner,
		jobs:         jobs,
		dlq:          dlq,
		retries:      retries,
		logger:       logger,
		requeueDelay: requeueDelay,
	}
}

// Start запускает consumer'ы всех target'ов и блокируется до отмены ctx.
func (w *Worker) Start(ctx context.Context, conn *mq.Connection) error {
	for _, target := range w.targets {
		consumer := mq.NewConsumer(conn, w.logger, mq.ConsumerConfig{
			Queue:    string(mq.WorkQueue(target)),
			Handler:  w.handleDelivery,
			Prefetch: w.prefetch,
		})
		w.consumers = append(w.consumers, consumer)

		w.wg.Add(1)
		go func(target string, consumer *mq.Consumer) {
			defer w.wg.Done()
			if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error("consumer stopped", "target", target, "error", err)
			}
		}(target, consumer)
	}

	w.logger.Info("worker started", "targets", w.targets)
	<-ctx.Done()

	w.wg.Wait()
	w.logger.Info("worker stopped")
	return nil
}

// Stop останавливает consumer'ы. Выполняемые jobs получат отмену
// контекста и вернутся в очередь без инкремента attempt.
func (w *Worker) Stop() {
	for _, consumer := range w.consumers {
		consumer.Stop()
	}
}

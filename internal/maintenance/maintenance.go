package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/brokerwiz/quoterd/internal/repo"
	"github.com/brokerwiz/quoterd/internal/session"
	"github.com/brokerwiz/quoterd/internal/telemetry"
)

// Runner — фоновые housekeeping-задачи воркера:
//   - обновление dlq_depth-гейджей из Postgres
//   - удаление session-артефактов старше SESSION_MAX_AGE
//
// Задачи идут по cron-расписанию; падение одной итерации логируется
// и не останавливает runner.
type Runner struct {
	dlqRepo  *repo.DLQRepo
	sessions *session.Store
	targets  []string
	maxAge   time.Duration
	logger   *slog.Logger

	cron *cron.Cron
}

// Config — конфигурация Runner.
type Config struct {
	DLQRepo  *repo.DLQRepo
	Sessions *session.Store
	Targets  []string

	// SessionMaxAge — возраст, после которого session-артефакт
	// считается протухшим и удаляется. 0 отключает sweep.
	SessionMaxAge time.Duration

	Logger *slog.Logger
}

// New создаёт Runner.
func New(cfg Config) *Runner {
	return &Runner{
		dlqRepo:  cfg.DLQRepo,
		sessions: cfg.Sessions,
		targets:  cfg.Targets,
		maxAge:   cfg.SessionMaxAge,
		logger:   cfg.Logger,
		cron:     cron.New(),
	}
}

// Start регистрирует задачи и запускает cron.
func (r *Runner) Start(ctx context.Context) error {
	if r.dlqRepo != nil {
		if _, err := r.cron.AddFunc("@every 1m", func() {
			if err := r.RefreshDLQDepth(ctx); err != nil {
				r.logger.Error("dlq depth refresh failed", "error", err)
			}
		}); err != nil {
			return fmt.Errorf("register dlq depth job: %w", err)
		}
	}

	if r.sessions != nil && r.maxAge > 0 {
		if _, err := r.cron.AddFunc("@every 1h", func() {
			if err := r.SweepSessions(ctx); err != nil {
				r.logger.Error("session sweep failed", "error", err)
			}
		}); err != nil {
			return fmt.Errorf("register session sweep job: %w", err)
		}
	}

	r.cron.Start()
	r.logger.Info("maintenance runner started")
	return nil
}

// Stop останавливает cron и ждёт завершения текущих задач.
func (r *Runner) Stop() {
	<-r.cron.Stop().Done()
	r.logger.Info("maintenance runner stopped")
}

// RefreshDLQDepth обновляет dlq_depth-гейджи из Postgres.
//
// Гейдж выставляется для всех известных target'ов, включая нулевые:
// иначе target, чья DLQ опустела после ручных повторов, навсегда
// застрянет на последнем ненулевом значении.
func (r *Runner) RefreshDLQDepth(ctx context.Context) error {
	counts, err := r.dlqRepo.CountByTarget(ctx)
	if err != nil {
		return err
	}

	for _, target := range r.targets {
		telemetry.DLQDepth.WithLabelValues(target).Set(float64(counts[target]))
	}
	return nil
}

// SweepSessions удаляет session-артефакты старше maxAge.
// Протухшие cookie всё равно не примет ни один target — executor
// после удаления просто логинится заново.
func (r *Runner) SweepSessions(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-r.maxAge)

	for _, target := range r.targets {
		savedAt, ok, err := r.sessions.SavedAt(ctx, target)
		if err != nil {
			r.logger.Warn("session saved_at read failed", "target", target, "error", err)
			continue
		}
		if !ok || savedAt.After(cutoff) {
			continue
		}

		if err := r.sessions.Delete(ctx, target); err != nil {
			r.logger.Warn("stale session delete failed", "target", target, "error", err)
			continue
		}
		r.logger.Info("stale session artifact deleted",
			"target", target,
			"saved_at", savedAt,
		)
	}
	return nil
}

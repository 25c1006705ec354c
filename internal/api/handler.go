package api

import (
	"context"
	"log/slog"

	"github.com/brokerwiz/quoterd/internal/domain"
	"github.com/brokerwiz/quoterd/internal/repo"
)

// JobPublisher публикует job-сообщения в брокер.
// Реализуется mq.Publisher.
type JobPublisher interface {
	PublishJob(ctx context.Context, msg *domain.JobMessage) error
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	jobRepo   *repo.JobRepo
	dlqRepo   *repo.DLQRepo
	publisher JobPublisher
	targets   []string
	apiKey    string
	logger    *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	JobRepo   *repo.JobRepo
	DLQRepo   *repo.DLQRepo
	Publisher JobPublisher

	// Targets — известные target'ы; нужны для admission-статистики.
	Targets []string

	// APIKey — bearer-токен для /api/v1. Пустой — auth отключён.
	APIKey string

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		jobRepo:   cfg.JobRepo,
		dlqRepo:   cfg.DLQRepo,
		publisher: cfg.Publisher,
		targets:   cfg.Targets,
		apiKey:    cfg.APIKey,
		logger:    cfg.Logger,
	}
}

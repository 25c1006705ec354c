// Quoterd API — ops/status HTTP API.
//
// API:
//   - Принимает jobs и публикует их в очереди target'ов
//   - Отдаёт статусы jobs из status store (Postgres)
//   - Даёт операторам просмотр DLQ и ручной повтор
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brokerwiz/quoterd/internal/api"
	"github.com/brokerwiz/quoterd/internal/config"
	"github.com/brokerwiz/quoterd/internal/mq"
	"github.com/brokerwiz/quoterd/internal/repo"
	"github.com/brokerwiz/quoterd/internal/telemetry"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting quoterd-api")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Подключаемся к базе данных
	pool, err := repo.NewPool(ctx, cfg.DBURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	jobRepo := repo.NewJobRepo(pool)
	dlqRepo := repo.NewDLQRepo(pool)

	// RabbitMQ: нужен для постановки jobs и ручных повторов из DLQ
	conn, err := mq.Connect(cfg.AMQPURL, cfg.BrokerConnectAttempts, logger)
	if err != nil {
		logger.Error("failed to connect to broker", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	if err := mq.SetupTopology(conn, cfg.Targets, cfg.DelayedRetries); err != nil {
		logger.Error("failed to setup topology", "error", err)
		os.Exit(1)
	}

	publisher := mq.NewPublisher(conn, cfg.DelayedRetries, logger)

	// Создаём API handler
	handler := api.NewHandler(api.Config{
		JobRepo:   jobRepo,
		DLQRepo:   dlqRepo,
		Publisher: publisher,
		Targets:   cfg.Targets,
		APIKey:    cfg.APIKey,
		Logger:    logger,
	})

	mux := http.NewServeMux()

	// Health и metrics — без авторизации
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	// Регистрируем API маршруты
	handler.RegisterRoutes(mux)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.APIPort),
		Handler: mux,
	}

	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown с таймаутом 10 секунд
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("quoterd-api stopped")
}

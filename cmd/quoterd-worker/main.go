// Quoterd Worker — движок обработки quote-jobs.
//
// Worker:
//   - Потребляет jobs из рабочих очередей target'ов (RabbitMQ)
//   - Ограничивает конкурентность слотами per-target
//   - Выполняет jobs через bot-runner с таймаутом и retry-ярусами
//   - Пишет безнадёжные jobs в durable DLQ (Postgres)
//
// Workers масштабируются горизонтально: очереди делятся между
// процессами как competing consumers.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/brokerwiz/quoterd/internal/config"
	"github.com/brokerwiz/quoterd/internal/maintenance"
	"github.com/brokerwiz/quoterd/internal/mq"
	"github.com/brokerwiz/quoterd/internal/repo"
	"github.com/brokerwiz/quoterd/internal/session"
	"github.com/brokerwiz/quoterd/internal/telemetry"
	"github.com/brokerwiz/quoterd/internal/worker"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting quoterd-worker")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx, cfg.DBURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	jobRepo := repo.NewJobRepo(pool)
	dlqRepo := repo.NewDLQRepo(pool)

	// Redis: session store
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer rdb.Close()

	sessions := session.New(rdb, session.Config{
		LockTTL:  cfg.SessionLockTTL,
		LockWait: cfg.SessionLockWait,
		Logger:   logger,
	})

	// RabbitMQ: соединение обязательно, без брокера воркер бесполезен
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
	logger.Info("broker topology ready", "topology", mq.TopologyInfo(cfg.Targets, cfg.DelayedRetries))

	publisher := mq.NewPublisher(conn, cfg.DelayedRetries, logger)

	// Executor на каждый target: все идут через общий bot-runner
	registry := worker.NewRegistry()
	for _, target := range cfg.Targets {
		registry.Register(target, worker.NewBotExecutor(target, cfg.BotRunnerURL, sessions, logger))
	}

	admission := worker.NewAdmissionController(cfg.MaxConcurrentFor, cfg.MaxConcurrentGlobal)
	dispatcher := worker.NewDispatcher(registry, worker.NewClassifier(nil), worker.DispatcherConfig{
		ImmediateRetries: cfg.ImmediateRetries,
		TimeoutFor:       cfg.ExecTimeoutFor,
	}, logger)
	planner := worker.NewPlanner(worker.PlannerConfig{
		DelayedRetries: cfg.DelayedRetries,
		BackoffBase:    cfg.BackoffBase,
		BackoffCap:     cfg.BackoffCap,
		BackoffJitter:  cfg.BackoffJitter,
	})

	w := worker.New(worker.WorkerConfig{
		Targets:  cfg.Targets,
		Prefetch: cfg.Prefetch,
	}, admission, dispatcher, planner, jobRepo, dlqRepo, publisher, logger)

	// Housekeeping: DLQ-гейджи и зачистка протухших сессий
	mnt := maintenance.New(maintenance.Config{
		DLQRepo:       dlqRepo,
		Sessions:      sessions,
		Targets:       cfg.Targets,
		SessionMaxAge: cfg.SessionMaxAge,
		Logger:        logger,
	})
	if err := mnt.Start(ctx); err != nil {
		logger.Error("failed to start maintenance", "error", err)
		os.Exit(1)
	}
	defer mnt.Stop()

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		if !conn.IsConnected() {
			rw.WriteHeader(http.StatusServiceUnavailable)
			rw.Write([]byte("broker disconnected"))
			return
		}
		rw.WriteHeader(http.StatusOK)
		rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		addr := fmt.Sprintf(":%d", cfg.WorkerPort)
		logger.Info("listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Фатальная потеря брокера: reconnect исчерпан, процесс падает,
	// supervisor рестартует
	go func() {
		select {
		case <-ctx.Done():
		case err := <-conn.Fatal():
			logger.Error("broker connection lost permanently", "error", err)
			cancel()
		}
	}()

	// Блокируется до сигнала завершения
	if err := w.Start(ctx, conn); err != nil && ctx.Err() == nil {
		logger.Error("worker failed", "error", err)
		os.Exit(1)
	}

	w.Stop()
	logger.Info("quoterd-worker stopped")
}

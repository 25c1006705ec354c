package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики движка. Регистрируются в default-реестре,
// экспортируются через /metrics (promhttp).
var (
	// JobsTotal — обработанные доставки по итоговому результату:
	// succeeded | retry_scheduled | dead_lettered | requeued.
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quoterd_jobs_total",
		Help: "Job deliveries processed, by target and result",
	}, []string{"target", "result"})

	// RetriesTotal — повторы по ярусам: immediate | delayed.
	RetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quoterd_retries_total",
		Help: "Retries performed, by target and tier",
	}, []string{"target", "tier"})

	// DLQTotal — записи в DLQ по причинам.
	DLQTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quoterd_dlq_total",
		Help: "Jobs dead-lettered, by target and terminal reason",
	}, []string{"target", "reason"})

	// DLQDepth — текущая глубина DLQ по target (обновляется maintenance).
	DLQDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "quoterd_dlq_depth",
		Help: "Current DLQ depth, by target",
	}, []string{"target"})

	// ActiveSlots — занятые слоты admission-контроллера.
	ActiveSlots = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "quoterd_active_slots",
		Help: "Slots currently held, by target",
	}, []string{"target"})

	// AdmissionRejected — отказы admission (nack+requeue).
	AdmissionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quoterd_admission_rejected_total",
		Help: "Deliveries requeued because no slot was available",
	}, []string{"target"})

	// JobDuration — длительность выполнения job (от admission до исхода).
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quoterd_job_duration_seconds",
		Help:    "Job execution duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"target"})
)

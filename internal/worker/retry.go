package worker

import (
	"math/rand"
	"time"

	"github.com/brokerwiz/quoterd/internal/domain"
)

// Action — решение Retry Planner'а по финальной ошибке доставки.
type Action int

const (
	// ActionDelayedRetry — переопубликовать с attempt+1 и задержкой.
	ActionDelayedRetry Action = iota

	// ActionDeadLetter — записать в DLQ и подтвердить сообщение.
	ActionDeadLetter
)

// Decision — что делать с job после неуспешной доставки.
type Decision struct {
	Action Action
	Delay  time.Duration
	Reason domain.TerminalReason
}

// Planner решает судьбу неуспешного job: отложенный повтор или DLQ.
//
// Немедленные (tier-1) повторы сюда не попадают — они выполняются
// dispatcher'ом внутри занятого slot. Planner видит только финальный
// исход доставки.
//
// Чистая функция от (классификация, attempt): одна и та же доставка,
// пришедшая дважды (at-least-once), даёт одно и то же решение —
// суммарное число повторов ограничено attempt'ом в сообщении.
type Planner struct {
	delayedRetries int           // N2
	base           time.Duration // базовая задержка backoff
	cap            time.Duration // потолок задержки
	jitter         time.Duration // максимум случайной добавки
}

// PlannerConfig — параметры retry-ярусов.
type PlannerConfig struct {
	DelayedRetries int           // N2: максимум отложенных повторов
	BackoffBase    time.Duration // default: 2s
	BackoffCap     time.Duration // default: 5m
	BackoffJitter  time.Duration // default: 500ms
}

// NewPlanner создаёт Planner.
func NewPlanner(cfg PlannerConfig) *Planner {
	base := cfg.BackoffBase
	if base <= 0 {
		base = 2 * time.Second
	}
	capDelay := cfg.BackoffCap
	if capDelay <= 0 {
		capDelay = 5 * time.Minute
	}
	jitter := cfg.BackoffJitter
	if jitter < 0 {
		jitter = 0
	}

	return &Planner{
		delayedRetries: cfg.DelayedRetries,
		base:           base,
		cap:            capDelay,
		jitter:         jitter,
	}
}

// Decide возвращает решение по финальной классификации и номеру
// попытки из сообщения.
//
//   - PERMANENT — сразу DLQ, ни одного повтора
//   - attempt > N2 — отложенные повторы исчерпаны, DLQ
//   - иначе — отложенный повтор с backoff для k = attempt-1
func (p *Planner) Decide(class domain.Classification, attempt int) Decision {
	if class == domain.ClassPermanent {
		return Decision{Action: ActionDeadLetter, Reason: domain.ReasonPermanentFailure}
	}

	if attempt > p.delayedRetries {
		return Decision{Action: ActionDeadLetter, Reason: domain.ReasonRetriesExhausted}
	}

	return Decision{Action: ActionDelayedRetry, Delay: p.Backoff(attempt - 1)}
}

// Backoff вычисляет задержку k-го отложенного повтора:
//
//	d_k = min(base * 2^k + jitter, cap)
//
// Jitter размазывает повторы, чтобы пачка одновременно упавших jobs
// не вернулась в очередь одной волной.
func (p *Planner) Backoff(k int) time.Duration {
	if k < 0 {
		k = 0
	}

	delay := p.base
	for i := 0; i < k; i++ {
		delay *= 2
		if delay >= p.cap {
			break
		}
	}

	if p.jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(p.jitter)))
	}

	if delay > p.cap {
		delay = p.cap
	}

	return delay
}

package worker

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brokerwiz/quoterd/internal/telemetry"
)

// Slot — разрешение на конкурентное выполнение одного job.
//
// Release идемпотентен: второй вызов — no-op. Это позволяет ставить
// Release и в defer, и на явных путях выхода, не рискуя уйти в минус
// по счётчикам.
type Slot struct {
	Target     string
	JobID      string
	AcquiredAt time.Time

	released atomic.Bool
	ctrl     *AdmissionController
}

// Release возвращает slot контроллеру. Ровно один вызов уменьшает
// счётчики; остальные игнорируются.
func (s *Slot) Release() {
	if s == nil {
		return
	}
	if !s.released.CompareAndSwap(false, true) {
		return
	}
	s.ctrl.release(s.Target)
}

// Released сообщает, был ли slot уже освобождён.
func (s *Slot) Released() bool {
	return s.released.Load()
}

// AdmissionController ведёт учёт слотов per-target и глобально.
//
// Счётчики — единственное разделяемое состояние контроллера и
// мутируются только под мьютексом: acquire/release приходят
// конкурентно из всех dispatch-путей воркера.
type AdmissionController struct {
	limitFor func(target string) int
	global   int // 0 — глобальный потолок отключён

	mu     sync.Mutex
	active map[string]int
	total  int
}

// NewAdmissionController создаёт контроллер.
//
// limitFor возвращает max_concurrent для target (всегда ≥ 1);
// global — потолок суммарно занятых слотов, 0 отключает его.
func NewAdmissionController(limitFor func(target string) int, global int) *AdmissionController {
	return &AdmissionController{
		limitFor: limitFor,
		global:   global,
		active:   make(map[string]int),
	}
}

// TryAcquire выдаёт slot для target или ErrResourceUnavailable.
//
// Неблокирующий: контроллер не ждёт освобождения, вызывающий делает
// nack+requeue и брокер доставит сообщение позже.
func (c *AdmissionController) TryAcquire(target, jobID string) (*Slot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	limit := c.limitFor(target)
	if c.active[target] >= limit {
		return nil, fmt.Errorf("%w: target %s at %d/%d slots", ErrResourceUnavailable, target, c.active[target], limit)
	}
	if c.global > 0 && c.total >= c.global {
		return nil, fmt.Errorf("%w: global cap %d reached", ErrResourceUnavailable, c.global)
	}

	c.active[target]++
	c.total++
	telemetry.ActiveSlots.WithLabelValues(target).Set(float64(c.active[target]))

	return &Slot{
		Target:     target,
		JobID:      jobID,
		AcquiredAt: time.Now(),
		ctrl:       c,
	}, nil
}

// release уменьшает счётчики. Вызывается только из Slot.Release.
func (c *AdmissionController) release(target string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active[target] > 0 {
		c.active[target]--
		c.total--
	}
	telemetry.ActiveSlots.WithLabelValues(target).Set(float64(c.active[target]))
}

// Active возвращает число занятых слотов target'а.
func (c *AdmissionController) Active(target string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active[target]
}

// ActiveTotal возвращает суммарное число занятых слотов.
func (c *AdmissionController) ActiveTotal() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Stats возвращает снимок занятых слотов по target'ам.
func (c *AdmissionController) Stats() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := make(map[string]int, len(c.active))
	for target, n := range c.active {
		if n > 0 {
			stats[target] = n
		}
	}
	return stats
}

package worker

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func limitAll(n int) func(string) int {
	return func(string) int { return n }
}

func TestAdmission_PerTargetCap(t *testing.T) {
	ctrl := NewAdmissionController(limitAll(2), 0)

	s1, err := ctrl.TryAcquire("hdi", "job-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s2, err := ctrl.TryAcquire("hdi", "job-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Третий сверх лимита
	if _, err := ctrl.TryAcquire("hdi", "job-3"); !errors.Is(err, ErrResourceUnavailable) {
		t.Fatalf("expected ErrResourceUnavailable, got %v", err)
	}

	// Другой target не зависит от занятости hdi
	s3, err := ctrl.TryAcquire("sura", "job-4")
	if err != nil {
		t.Fatalf("sura should have free slots: %v", err)
	}

	s1.Release()
	if _, err := ctrl.TryAcquire("hdi", "job-5"); err != nil {
		t.Fatalf("slot released, acquire should succeed: %v", err)
	}

	s2.Release()
	s3.Release()
}

func TestAdmission_GlobalCap(t *testing.T) {
	ctrl := NewAdmissionController(limitAll(10), 2)

	if _, err := ctrl.TryAcquire("hdi", "job-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ctrl.TryAcquire("sura", "job-2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Per-target лимиты свободны, но глобальный потолок достигнут
	if _, err := ctrl.TryAcquire("axa", "job-3"); !errors.Is(err, ErrResourceUnavailable) {
		t.Fatalf("expected ErrResourceUnavailable at global cap, got %v", err)
	}
}

func TestAdmission_ReleaseIdempotent(t *testing.T) {
	ctrl := NewAdmissionController(limitAll(1), 0)

	slot, err := ctrl.TryAcquire("hdi", "job-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	slot.Release()
	slot.Release()
	slot.Release()

	if n := ctrl.Active("hdi"); n != 0 {
		t.Errorf("active = %d after releases, want 0", n)
	}
	if n := ctrl.ActiveTotal(); n != 0 {
		t.Errorf("total = %d after releases, want 0", n)
	}

	// Счётчик не ушёл в минус: следующий acquire работает ровно один раз
	if _, err := ctrl.TryAcquire("hdi", "job-2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ctrl.TryAcquire("hdi", "job-3"); !errors.Is(err, ErrResourceUnavailable) {
		t.Fatalf("double release inflated the limit: %v", err)
	}
}

// Конкурентный шторм: при любой гонке число одновременно выданных
// слотов не превышает лимит.
func TestAdmission_ConcurrentNeverExceedsLimit(t *testing.T) {
	const limit = 3
	const goroutines = 50
	const iterations = 200

	ctrl := NewAdmissionController(limitAll(limit), 0)

	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				slot, err := ctrl.TryAcquire("hdi", fmt.Sprintf("job-%d-%d", g, i))
				if err != nil {
					continue
				}

				mu.Lock()
				inFlight++
				if inFlight > maxInFlight {
					maxInFlight = inFlight
				}
				mu.Unlock()

				mu.Lock()
				inFlight--
				mu.Unlock()
				slot.Release()
			}
		}(g)
	}
	wg.Wait()

	if maxInFlight > limit {
		t.Errorf("observed %d slots in flight, limit is %d", maxInFlight, limit)
	}
	if n := ctrl.Active("hdi"); n != 0 {
		t.Errorf("active = %d after storm, want 0", n)
	}
}

func TestAdmission_Stats(t *testing.T) {
	ctrl := NewAdmissionController(limitAll(5), 0)

	s1, _ := ctrl.TryAcquire("hdi", "job-1")
	s2, _ := ctrl.TryAcquire("hdi", "job-2")
	s3, _ := ctrl.TryAcquire("sura", "job-3")

	stats := ctrl.Stats()
	if stats["hdi"] != 2 || stats["sura"] != 1 {
		t.Errorf("stats = %v, want hdi:2 sura:1", stats)
	}

	s1.Release()
	s2.Release()
	s3.Release()

	if stats := ctrl.Stats(); len(stats) != 0 {
		t.Errorf("stats after release = %v, want empty", stats)
	}
}

package mq

import "testing"

func TestWaitQueue_NamePerTier(t *testing.T) {
	if got := WaitQueue("hdi", 0); got != "quotes.wait.hdi.0" {
		t.Errorf("WaitQueue = %s, want quotes.wait.hdi.0", got)
	}
	if got := WaitQueue("sura", 2); got != "quotes.wait.sura.2" {
		t.Errorf("WaitQueue = %s, want quotes.wait.sura.2", got)
	}
}

// Повторы разных ярусов уходят в разные wait-очереди: короткая задержка
// не может застрять за длинной в голове общей очереди.
func TestWaitTierFor(t *testing.T) {
	const tiers = 3

	cases := []struct {
		name    string
		attempt int // attempt уже следующего сообщения
		want    int
	}{
		{"first delayed retry", 2, 0},
		{"second delayed retry", 3, 1},
		{"third delayed retry", 4, 2},
		{"attempt below range clamps to first tier", 1, 0},
		{"attempt above range clamps to last tier", 9, 2},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := waitTierFor(tc.attempt, tiers); got != tc.want {
				t.Errorf("waitTierFor(%d, %d) = %d, want %d", tc.attempt, tiers, got, tc.want)
			}
		})
	}

	// Разные ярусы → разные очереди
	seen := map[int]bool{}
	for attempt := 2; attempt <= tiers+1; attempt++ {
		tier := waitTierFor(attempt, tiers)
		if seen[tier] {
			t.Errorf("tier %d reused for attempt %d", tier, attempt)
		}
		seen[tier] = true
	}
}

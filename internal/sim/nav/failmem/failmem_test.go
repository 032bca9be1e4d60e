package failmem

import (
	"sync"
	"testing"
	"time"

	"voxelpath.ai/internal/sim/nav/cell"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newMemory(t *testing.T) (*Memory, *fakeClock) {
	t.Helper()
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	m := New(Settings{Window: 10 * time.Second, PenaltyBase: 2, MaxPenalty: 16, MaxAttempts: 5})
	m.SetClock(clk.Now)
	return m, clk
}

var (
	src = cell.New(0, 64, 0)
	dst = cell.New(1, 64, 0)
)

func TestPenaltyMonotoneAndCapped(t *testing.T) {
	m, clk := newMemory(t)
	if got := m.Penalty(src, dst, "walk"); got != 1 {
		t.Fatalf("initial penalty=%v", got)
	}
	prev := 1.0
	for i := 1; i <= 6; i++ {
		m.Record(src, dst, "walk", ReasonBlocked)
		clk.Advance(100 * time.Millisecond)
		p := m.Penalty(src, dst, "walk")
		if p < prev {
			t.Fatalf("penalty decreased at attempt %d: %v < %v", i, p, prev)
		}
		prev = p
	}
	if prev != 16 {
		t.Fatalf("penalty should cap at 16, got %v", prev)
	}
	if got := m.Penalty(src, dst, "jump"); got != 1 {
		t.Fatalf("other kind penalised: %v", got)
	}
}

func TestPenaltyResetsAfterWindow(t *testing.T) {
	m, clk := newMemory(t)
	m.Record(src, dst, "walk", ReasonTimeout)
	m.Record(src, dst, "walk", ReasonTimeout)
	if got := m.Penalty(src, dst, "walk"); got != 4 {
		t.Fatalf("penalty=%v want 4", got)
	}
	clk.Advance(11 * time.Second)
	if got := m.Penalty(src, dst, "walk"); got != 1 {
		t.Fatalf("penalty after expiry=%v want 1", got)
	}
	m.Cleanup()
	if m.Len() != 0 {
		t.Fatalf("Len after cleanup=%d", m.Len())
	}
}

func TestHardFilterThreshold(t *testing.T) {
	m, _ := newMemory(t)
	for i := 1; i <= 6; i++ {
		m.Record(src, dst, "walk", ReasonRejected)
		want := i >= 5
		if got := m.ShouldFilter(src, dst, "walk"); got != want {
			t.Fatalf("after %d failures ShouldFilter=%v want %v", i, got, want)
		}
	}
	if m.ShouldFilter(dst, src, "walk") {
		t.Fatalf("reverse direction should not be filtered")
	}
}

func TestCleanupKeepsFreshEvents(t *testing.T) {
	m, clk := newMemory(t)
	m.Record(src, dst, "walk", ReasonBlocked)
	clk.Advance(6 * time.Second)
	m.Record(src, dst, "ascend", ReasonBlocked)
	clk.Advance(6 * time.Second)
	m.Cleanup()
	if m.Len() != 1 {
		t.Fatalf("Len=%d want 1", m.Len())
	}
	if m.Attempts(src, dst, "ascend") != 1 {
		t.Fatalf("fresh event lost")
	}
}

func TestClear(t *testing.T) {
	m, _ := newMemory(t)
	m.Record(src, dst, "walk", ReasonBlocked)
	m.Record(dst, src, "walk", ReasonBlocked)
	m.Clear()
	if m.Len() != 0 || m.Attempts(src, dst, "walk") != 0 {
		t.Fatalf("Clear left records behind")
	}
	if got := m.Record(src, dst, "walk", ReasonBlocked); got != 1 {
		t.Fatalf("record after clear=%d", got)
	}
}

func TestConcurrentRecordAndRead(t *testing.T) {
	m, _ := newMemory(t)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				d := cell.New(w, 0, i%10)
				m.Record(src, d, "walk", ReasonBlocked)
				_ = m.Penalty(src, d, "walk")
				if i%50 == 0 {
					m.Cleanup()
				}
			}
		}(w)
	}
	wg.Wait()
	if m.Len() != 40 {
		t.Fatalf("Len=%d want 40", m.Len())
	}
}

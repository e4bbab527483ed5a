package timeutil

import (
	"sync"
	"testing"
	"time"
)

func TestRealClock(t *testing.T) {
	before := time.Now()
	now := RealClock{}.Now()
	if now.Before(before) {
		t.Errorf("Now() = %v, earlier than %v", now, before)
	}
}

func TestStepClock(t *testing.T) {
	start := time.Date(2024, 3, 9, 8, 0, 0, 0, time.UTC)
	clock := NewStepClock(start, 2*time.Second)

	if got := clock.Now(); !got.Equal(start) {
		t.Errorf("first Now() = %v, want %v", got, start)
	}
	if got := clock.Now(); got.Sub(start) != 2*time.Second {
		t.Errorf("second Now() is %v after start, want 2s", got.Sub(start))
	}

	clock.Skip(time.Minute)
	if got := clock.Now(); got.Sub(start) != time.Minute+4*time.Second {
		t.Errorf("after Skip, Now() is %v after start", got.Sub(start))
	}
}

func TestStepClock_Frozen(t *testing.T) {
	start := time.Date(2024, 3, 9, 8, 0, 0, 0, time.UTC)
	clock := NewStepClock(start, 0)
	if a, b := clock.Now(), clock.Now(); !a.Equal(b) {
		t.Errorf("zero step clock moved: %v then %v", a, b)
	}
}

func TestStepClock_ConcurrentReadsAreDistinct(t *testing.T) {
	clock := NewStepClock(time.Unix(0, 0), time.Millisecond)

	const n = 50
	seen := make(chan time.Time, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- clock.Now()
		}()
	}
	wg.Wait()
	close(seen)

	unique := map[time.Time]bool{}
	for ts := range seen {
		unique[ts] = true
	}
	if len(unique) != n {
		t.Errorf("got %d distinct instants, want %d", len(unique), n)
	}
}

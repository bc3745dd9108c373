package clock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"pkt.systems/ledgerd/internal/clock"
)

func TestRealNowUsesUTC(t *testing.T) {
	t.Parallel()

	now := clock.Real{}.Now()
	if loc := now.Location(); loc != time.UTC {
		t.Fatalf("expected UTC location, got %v", loc)
	}
}

func TestSleepHonoursContext(t *testing.T) {
	t.Parallel()

	manual := clock.NewManual(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := clock.Sleep(ctx, manual, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestManualAdvanceFiresDueTimers(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	manual := clock.NewManual(start)
	early := manual.After(time.Minute)
	late := manual.After(time.Hour)
	if manual.Pending() != 2 {
		t.Fatalf("expected 2 pending timers, got %d", manual.Pending())
	}
	manual.Advance(2 * time.Minute)
	select {
	case got := <-early:
		if !got.Equal(start.Add(2 * time.Minute)) {
			t.Fatalf("unexpected fire time %v", got)
		}
	default:
		t.Fatal("expected early timer to fire")
	}
	select {
	case <-late:
		t.Fatal("late timer fired too soon")
	default:
	}
	if manual.Pending() != 1 {
		t.Fatalf("expected 1 pending timer, got %d", manual.Pending())
	}
}

func TestManualAutoAdvanceRecordsWaits(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	manual := clock.NewManual(start).AutoAdvance(true)
	ctx := context.Background()
	for _, d := range []time.Duration{time.Second, 2 * time.Second} {
		if err := clock.Sleep(ctx, manual, d); err != nil {
			t.Fatalf("sleep: %v", err)
		}
	}
	if got := manual.Now().Sub(start); got != 3*time.Second {
		t.Fatalf("expected 3s elapsed, got %v", got)
	}
	waits := manual.Waits()
	if len(waits) != 2 || waits[0] != time.Second || waits[1] != 2*time.Second {
		t.Fatalf("unexpected waits %v", waits)
	}
}

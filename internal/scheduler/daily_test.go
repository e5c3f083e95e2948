package scheduler

import (
	"context"
	"testing"
	"time"
)

func TestNextTrigger(t *testing.T) {
	loc := time.UTC
	now := time.Date(2025, 6, 1, 10, 30, 0, 0, loc)

	// Trigger time still ahead today.
	next := nextTrigger(now, 14, 0)
	if want := time.Date(2025, 6, 1, 14, 0, 0, 0, loc); !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}

	// Trigger time already passed rolls to tomorrow.
	next = nextTrigger(now, 2, 0)
	if want := time.Date(2025, 6, 2, 2, 0, 0, 0, loc); !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}

	// Exactly at the trigger instant also rolls over: a fired trigger is
	// never re-fired the same day.
	at := time.Date(2025, 6, 1, 2, 0, 0, 0, loc)
	next = nextTrigger(at, 2, 0)
	if want := time.Date(2025, 6, 2, 2, 0, 0, 0, loc); !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestDailyStopPreventsRun(t *testing.T) {
	ran := make(chan struct{}, 1)
	d := &Daily{
		Hour:   23,
		Minute: 59,
		Run:    func(ctx context.Context) { ran <- struct{}{} },
	}
	d.Start()
	d.Stop()
	select {
	case <-ran:
		t.Fatal("run fired after stop")
	case <-time.After(50 * time.Millisecond):
	}
}

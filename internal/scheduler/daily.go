// Package scheduler triggers the full test batch once per day at a fixed
// wall-clock time. There is no run history and no catch-up: a trigger that
// fires while the process is down is simply skipped.
package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// Daily invokes Run at Hour:Minute local time every day until stopped.
type Daily struct {
	Hour   int
	Minute int
	Run    func(ctx context.Context)
	Logger *slog.Logger

	stop chan struct{}
}

// Start launches the trigger loop. Calling Start twice restarts the loop.
func (d *Daily) Start() {
	if d.stop != nil {
		close(d.stop)
	}
	d.stop = make(chan struct{})
	go d.loop(d.stop)
	d.logger().Info("daily test schedule armed",
		slog.Int("hour", d.Hour), slog.Int("minute", d.Minute))
}

// Stop cancels the trigger loop. A run already in progress completes.
func (d *Daily) Stop() {
	if d.stop != nil {
		close(d.stop)
		d.stop = nil
	}
}

func (d *Daily) loop(stop chan struct{}) {
	for {
		wait := time.Until(nextTrigger(time.Now(), d.Hour, d.Minute))
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			d.logger().Info("daily test batch triggered")
			d.Run(context.Background())
		case <-stop:
			timer.Stop()
			return
		}
	}
}

// nextTrigger returns the next occurrence of hour:minute strictly after
// now, in now's location.
func nextTrigger(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (d *Daily) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRunTicksUntilCancelled(t *testing.T) {
	var ticks atomic.Int32

	s := New(Options{
		Interval: func(time.Time) time.Duration { return time.Millisecond },
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(ctx context.Context, now time.Time) error {
			if ticks.Add(1) >= 3 {
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}

	if ticks.Load() < 3 {
		t.Fatalf("ticks = %d, want >= 3", ticks.Load())
	}
}

func TestRunUsesIntervalFunc(t *testing.T) {
	var calls atomic.Int32

	s := New(Options{
		Interval: func(time.Time) time.Duration {
			calls.Add(1)
			return time.Millisecond
		},
	}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_ = s.Run(ctx, func(ctx context.Context, now time.Time) error { return nil })

	if calls.Load() == 0 {
		t.Fatal("interval function was never consulted")
	}
}

func TestRunContinuesAfterTickError(t *testing.T) {
	var ticks atomic.Int32

	s := New(Options{
		Interval: func(time.Time) time.Duration { return time.Millisecond },
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = s.Run(ctx, func(ctx context.Context, now time.Time) error {
			if ticks.Add(1) >= 2 {
				cancel()
			}
			return errors.New("boom")
		})
	}()

	deadline := time.After(2 * time.Second)
	for ticks.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("tick errors must not stop the loop")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestStartupDelayHonoursCancellation(t *testing.T) {
	s := New(Options{
		Interval:     func(time.Time) time.Duration { return time.Millisecond },
		StartupDelay: time.Hour,
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Run(ctx, func(ctx context.Context, now time.Time) error {
		t.Fatal("tick must not fire during startup delay")
		return nil
	}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v", err)
	}
}

func TestRunDailyStopsOnCancel(t *testing.T) {
	s := New(Options{
		Interval: func(time.Time) time.Duration { return time.Second },
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.RunDaily(ctx, 3, time.UTC, func(ctx context.Context, now time.Time) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("RunDaily returned %v", err)
	}
}

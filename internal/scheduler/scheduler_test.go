package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestScheduler(t *testing.T, opts Options) *Scheduler {
	t.Helper()
	s, err := New(opts, zerolog.Nop())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return s
}

func TestNextRun(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Copenhagen")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	s := newTestScheduler(t, Options{Hour: 14, Minute: 10, Location: loc, RetryDelay: time.Minute})

	cases := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"before today", time.Date(2025, 8, 7, 9, 0, 0, 0, loc), time.Date(2025, 8, 7, 14, 10, 0, 0, loc)},
		{"exactly at", time.Date(2025, 8, 7, 14, 10, 0, 0, loc), time.Date(2025, 8, 8, 14, 10, 0, 0, loc)},
		{"after today", time.Date(2025, 8, 7, 20, 0, 0, 0, loc), time.Date(2025, 8, 8, 14, 10, 0, 0, loc)},
		{"utc input", time.Date(2025, 8, 7, 12, 5, 0, 0, time.UTC), time.Date(2025, 8, 7, 14, 10, 0, 0, loc)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := s.NextRun(tc.now)
			if !got.Equal(tc.want) {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestNewRejectsInvalidOptions(t *testing.T) {
	if _, err := New(Options{Hour: 24, RetryDelay: time.Minute}, zerolog.Nop()); err == nil {
		t.Fatal("hour 24 should be rejected")
	}
	if _, err := New(Options{Hour: 1}, zerolog.Nop()); err == nil {
		t.Fatal("zero retry delay should be rejected")
	}
}

func TestRunWithRetryStopsAfterSuccess(t *testing.T) {
	s := newTestScheduler(t, Options{RetryDelay: time.Millisecond, MaxRetries: 5})

	calls := 0
	err := s.runWithRetry(context.Background(), func(ctx context.Context, _ time.Time) error {
		calls++
		if calls < 3 {
			return errors.New("feed not published yet")
		}
		return nil
	}, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestRunWithRetryGivesUp(t *testing.T) {
	s := newTestScheduler(t, Options{RetryDelay: time.Millisecond, MaxRetries: 2})

	calls := 0
	err := s.runWithRetry(context.Background(), func(ctx context.Context, _ time.Time) error {
		calls++
		return errors.New("down")
	}, time.Now())
	if err != nil {
		t.Fatalf("exhausted retries should not stop the scheduler: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 1 attempt plus 2 retries, got %d", calls)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s := newTestScheduler(t, Options{Hour: 3, RetryDelay: time.Hour, RunOnStart: true})

	ctx, cancel := context.WithCancel(context.Background())
	ran := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(ctx context.Context, _ time.Time) error {
			ran <- struct{}{}
			return nil
		})
	}()

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("run on start did not fire")
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNewRejectsZeroInterval(t *testing.T) {
	if _, err := New(Options{}, zerolog.Nop()); !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("expected ErrInvalidInterval, got %v", err)
	}
}

func TestRunExecutesRoundsUntilCancelled(t *testing.T) {
	s, err := New(Options{Interval: 20 * time.Millisecond, Immediate: true}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	var rounds atomic.Int32
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	err = s.Run(ctx, func(context.Context, time.Time) error {
		if rounds.Add(1) == 2 {
			return errors.New("transient")
		}
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("run should end with the context error, got %v", err)
	}
	if n := rounds.Load(); n < 3 {
		t.Fatalf("一次失败不应中断调度, only %d rounds ran", n)
	}
}

func TestNextRoundAligns(t *testing.T) {
	s, _ := New(Options{Interval: 15 * time.Minute, AlignToStart: true}, zerolog.Nop())
	now := time.Date(2025, 3, 1, 10, 7, 30, 0, time.UTC)

	next := s.nextRound(now)
	if want := time.Date(2025, 3, 1, 10, 15, 0, 0, time.UTC); !next.Equal(want) {
		t.Fatalf("expected %s, got %s", want, next)
	}
	if start := s.roundStart(next.Add(time.Second)); !start.Equal(next) {
		t.Fatalf("round start should truncate, got %s", start)
	}
}

func TestStartupDelayHonoursCancel(t *testing.T) {
	s, _ := New(Options{Interval: time.Hour, StartupDelay: time.Hour}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Run(ctx, func(context.Context, time.Time) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakePurger struct {
	mu      sync.Mutex
	calls   int
	removed int64
	err     error
}

func (p *fakePurger) Purge(_ context.Context, _ time.Duration) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.removed, p.err
}

func (p *fakePurger) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		name     string
		schedule string
		wantErr  bool
	}{
		{name: "five field cron", schedule: "*/15 * * * *"},
		{name: "six field cron", schedule: "0 0 * * * *"},
		{name: "duration", schedule: "30m"},
		{name: "descriptor", schedule: "@hourly"},
		{name: "empty", schedule: "", wantErr: true},
		{name: "garbage", schedule: "whenever", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sched, err := parseSchedule(tt.schedule)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseSchedule: %v", err)
			}
			if next := sched.Next(time.Now()); next.IsZero() {
				t.Error("Next returned zero time")
			}
		})
	}
}

func TestNewJanitor_RejectsBadInputs(t *testing.T) {
	if _, err := NewJanitor(&fakePurger{}, "30m", 0, zerolog.Nop()); err == nil {
		t.Error("expected error for zero retention")
	}
	if _, err := NewJanitor(&fakePurger{}, "not a schedule", time.Hour, zerolog.Nop()); err == nil {
		t.Error("expected error for bad schedule")
	}
}

func TestJanitor_RunsInitialPurge(t *testing.T) {
	purger := &fakePurger{removed: 3}
	janitor, err := NewJanitor(purger, "1h", 24*time.Hour, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewJanitor: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		janitor.Start(ctx)
		close(done)
	}()

	deadline := time.After(time.Second)
	for purger.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("initial purge never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop on cancellation")
	}
}

func TestJanitor_PurgeErrorDoesNotStopLoop(t *testing.T) {
	purger := &fakePurger{err: errors.New("db locked")}
	janitor, err := NewJanitor(purger, "10ms", 24*time.Hour, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewJanitor: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go janitor.Start(ctx)

	deadline := time.After(time.Second)
	for purger.callCount() < 2 {
		select {
		case <-deadline:
			t.Fatal("janitor stopped after purge error")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

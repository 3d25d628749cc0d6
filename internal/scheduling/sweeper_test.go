package scheduling

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (c *countingSweeper) Sweep(context.Context, time.Duration) error {
	c.calls.Add(1)
	return c.err
}

func TestLoopSweepsImmediatelyAndOnTicks(t *testing.T) {
	s := &countingSweeper{}
	loop := NewLoop(s, 10*time.Millisecond, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for s.calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d sweeps before deadline", s.calls.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestLoopKeepsRunningAfterSweepError(t *testing.T) {
	s := &countingSweeper{err: errors.New("provider down")}
	loop := NewLoop(s, 5*time.Millisecond, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for s.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("loop stopped after an error")
		case <-time.After(2 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

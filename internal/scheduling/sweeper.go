// Package scheduling runs the inactivity reaper on its own interval,
// decoupled from request traffic.
package scheduling

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper is anything with the reaper's sweep signature.
type Sweeper interface {
	Sweep(ctx context.Context, retention time.Duration) error
}

// Loop invokes a Sweeper on a fixed interval.
type Loop struct {
	sweeper   Sweeper
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger
}

// NewLoop creates a Loop. A nil logger disables logging.
func NewLoop(sweeper Sweeper, interval, retention time.Duration, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.New(discardHandler{})
	}
	return &Loop{sweeper: sweeper, interval: interval, retention: retention, logger: logger}
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Run starts the sweep loop. One sweep runs immediately, then one per
// interval. Blocks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("reaper loop started", "interval", l.interval, "retention", l.retention)

	l.sweep(ctx)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("reaper loop stopped")
			return
		case <-ticker.C:
			l.sweep(ctx)
		}
	}
}

func (l *Loop) sweep(ctx context.Context) {
	if err := l.sweeper.Sweep(ctx, l.retention); err != nil {
		l.logger.Error("sweep failed", "error", err)
	}
}

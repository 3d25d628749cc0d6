package lagoon

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// DefaultRetention is how long a sandbox survives without user activity
// before the reaper reclaims it.
const DefaultRetention = 7 * 24 * time.Hour

// Reaper reclaims sandboxes belonging to inactive users: the remote sandbox
// is deleted first, then the directory record, so a record never outlives
// confirmation that its sandbox is gone.
type Reaper struct {
	provider Provider
	dir      Directory
	now      func() int64
	logger   *slog.Logger
}

// ReaperOption configures a Reaper.
type ReaperOption func(*Reaper)

// WithReaperLogger sets a structured logger. If not set, no logs are emitted.
func WithReaperLogger(l *slog.Logger) ReaperOption {
	return func(r *Reaper) { r.logger = l }
}

// WithReaperClock overrides the time source used for staleness checks.
func WithReaperClock(now func() int64) ReaperOption {
	return func(r *Reaper) { r.now = now }
}

// NewReaper creates a Reaper sharing the manager's provider and directory.
func NewReaper(provider Provider, dir Directory, opts ...ReaperOption) *Reaper {
	r := &Reaper{
		provider: provider,
		dir:      dir,
		now:      NowUnix,
		logger:   nopLogger,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Sweep deletes every sandbox whose record has been inactive longer than
// retention, then its record. Best-effort and advisory: it holds no locks,
// per-record failures are logged and skipped, and a concurrent Resolve for
// a user mid-sweep is an accepted race. Returns an error only when the
// directory listing itself fails.
func (r *Reaper) Sweep(ctx context.Context, retention time.Duration) error {
	cutoff := r.now() - int64(retention.Seconds())

	records, err := r.dir.List(ctx)
	if err != nil {
		return &DirectoryError{Op: "list", Err: err}
	}

	var reaped, failed int
	for _, rec := range records {
		if rec.SandboxID == "" {
			// Nothing to reclaim.
			continue
		}
		if rec.LastActiveAt >= cutoff {
			continue
		}

		// Remote first. A record pointing at a live sandbox is recoverable;
		// a deleted record with a live sandbox is a paid orphan.
		err := r.provider.Delete(ctx, rec.SandboxID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			r.logger.Error("deleting stale sandbox failed",
				"user_id", rec.UserID, "sandbox_id", rec.SandboxID, "error", err)
			failed++
			continue
		}

		if err := r.dir.Delete(ctx, rec.UserID); err != nil {
			r.logger.Error("deleting stale record failed",
				"user_id", rec.UserID, "sandbox_id", rec.SandboxID, "error", err)
			failed++
			continue
		}

		r.logger.Info("reaped inactive sandbox",
			"user_id", rec.UserID, "sandbox_id", rec.SandboxID,
			"last_active_at", rec.LastActiveAt)
		reaped++
	}

	if reaped > 0 || failed > 0 {
		r.logger.Info("sweep finished",
			"scanned", len(records), "reaped", reaped, "failed", failed)
	}
	return nil
}

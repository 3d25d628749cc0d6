// Package sqlite implements lagoon.Directory on a local SQLite file using
// the pure-Go driver. Zero CGO required. Suited to single-process
// deployments; use directory/postgres when multiple processes share the
// directory.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nevindra/lagoon"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Option configures a Directory.
type Option func(*Directory)

// WithLogger sets a structured logger. When set, the directory emits debug
// logs for every operation including timing and key parameters. If not set,
// no logs are emitted.
func WithLogger(l *slog.Logger) Option {
	return func(d *Directory) { d.logger = l }
}

// Directory implements lagoon.Directory backed by a local SQLite file.
type Directory struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ lagoon.Directory = (*Directory)(nil)

var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Directory using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...Option) *Directory {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	d := &Directory{db: db, logger: nopLogger}
	for _, o := range opts {
		o(d)
	}
	d.logger.Debug("sqlite: directory opened", "path", dbPath)
	return d
}

// Init creates the user_sandboxes table. Safe to call multiple times.
func (d *Directory) Init(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS user_sandboxes (
		user_id TEXT PRIMARY KEY,
		sandbox_id TEXT NOT NULL DEFAULT '',
		credential TEXT NOT NULL DEFAULT '',
		last_active_at INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

// Get returns the record for userID, or ok=false when none exists.
func (d *Directory) Get(ctx context.Context, userID string) (lagoon.Record, bool, error) {
	start := time.Now()
	var rec lagoon.Record
	err := d.db.QueryRowContext(ctx,
		`SELECT user_id, sandbox_id, credential, last_active_at
		 FROM user_sandboxes WHERE user_id = ?`, userID).
		Scan(&rec.UserID, &rec.SandboxID, &rec.Credential, &rec.LastActiveAt)
	if errors.Is(err, sql.ErrNoRows) {
		return lagoon.Record{}, false, nil
	}
	if err != nil {
		return lagoon.Record{}, false, fmt.Errorf("get %s: %w", userID, err)
	}
	d.logger.Debug("sqlite: get", "user_id", userID, "took", time.Since(start))
	return rec, true, nil
}

// Upsert writes rec unconditionally (last-writer-wins).
func (d *Directory) Upsert(ctx context.Context, rec lagoon.Record) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO user_sandboxes (user_id, sandbox_id, credential, last_active_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			sandbox_id = excluded.sandbox_id,
			credential = excluded.credential,
			last_active_at = excluded.last_active_at`,
		rec.UserID, rec.SandboxID, rec.Credential, rec.LastActiveAt)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", rec.UserID, err)
	}
	d.logger.Debug("sqlite: upsert", "user_id", rec.UserID, "sandbox_id", rec.SandboxID)
	return nil
}

// Touch refreshes last_active_at for userID. Touching an absent user is an
// error: the manager only touches records it just read.
func (d *Directory) Touch(ctx context.Context, userID string, now int64) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE user_sandboxes SET last_active_at = ? WHERE user_id = ?`, now, userID)
	if err != nil {
		return fmt.Errorf("touch %s: %w", userID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("touch %s: no record", userID)
	}
	return nil
}

// Delete removes the record for userID. Deleting an absent user is a no-op.
func (d *Directory) Delete(ctx context.Context, userID string) error {
	if _, err := d.db.ExecContext(ctx,
		`DELETE FROM user_sandboxes WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete %s: %w", userID, err)
	}
	d.logger.Debug("sqlite: delete", "user_id", userID)
	return nil
}

// List returns every record, oldest activity first.
func (d *Directory) List(ctx context.Context) ([]lagoon.Record, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT user_id, sandbox_id, credential, last_active_at
		 FROM user_sandboxes ORDER BY last_active_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	defer rows.Close()

	var out []lagoon.Record
	for rows.Next() {
		var rec lagoon.Record
		if err := rows.Scan(&rec.UserID, &rec.SandboxID, &rec.Credential, &rec.LastActiveAt); err != nil {
			return nil, fmt.Errorf("list scan: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (d *Directory) Close() error {
	return d.db.Close()
}

// Package postgres implements lagoon.Directory on PostgreSQL. This is the
// hosted counterpart to directory/sqlite: multiple lagoond processes can
// share one directory (the upsert stays last-writer-wins either way).
//
// The Directory accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/lagoon"
)

// Directory implements lagoon.Directory backed by PostgreSQL.
type Directory struct {
	pool *pgxpool.Pool
}

var _ lagoon.Directory = (*Directory)(nil)

// New creates a Directory using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool) *Directory {
	return &Directory{pool: pool}
}

// Init creates the user_sandboxes table. Safe to call multiple times.
func (d *Directory) Init(ctx context.Context) error {
	_, err := d.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS user_sandboxes (
		user_id TEXT PRIMARY KEY,
		sandbox_id TEXT NOT NULL DEFAULT '',
		credential TEXT NOT NULL DEFAULT '',
		last_active_at BIGINT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

func (d *Directory) Get(ctx context.Context, userID string) (lagoon.Record, bool, error) {
	var rec lagoon.Record
	err := d.pool.QueryRow(ctx,
		`SELECT user_id, sandbox_id, credential, last_active_at
		 FROM user_sandboxes WHERE user_id = $1`, userID).
		Scan(&rec.UserID, &rec.SandboxID, &rec.Credential, &rec.LastActiveAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return lagoon.Record{}, false, nil
	}
	if err != nil {
		return lagoon.Record{}, false, fmt.Errorf("get %s: %w", userID, err)
	}
	return rec, true, nil
}

func (d *Directory) Upsert(ctx context.Context, rec lagoon.Record) error {
	_, err := d.pool.Exec(ctx,
		`INSERT INTO user_sandboxes (user_id, sandbox_id, credential, last_active_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id) DO UPDATE SET
			sandbox_id = EXCLUDED.sandbox_id,
			credential = EXCLUDED.credential,
			last_active_at = EXCLUDED.last_active_at`,
		rec.UserID, rec.SandboxID, rec.Credential, rec.LastActiveAt)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", rec.UserID, err)
	}
	return nil
}

func (d *Directory) Touch(ctx context.Context, userID string, now int64) error {
	tag, err := d.pool.Exec(ctx,
		`UPDATE user_sandboxes SET last_active_at = $1 WHERE user_id = $2`, now, userID)
	if err != nil {
		return fmt.Errorf("touch %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("touch %s: no record", userID)
	}
	return nil
}

func (d *Directory) Delete(ctx context.Context, userID string) error {
	if _, err := d.pool.Exec(ctx,
		`DELETE FROM user_sandboxes WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete %s: %w", userID, err)
	}
	return nil
}

func (d *Directory) List(ctx context.Context) ([]lagoon.Record, error) {
	rows, err := d.pool.Query(ctx,
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

// Close is a no-op: the pool is externally owned.
func (d *Directory) Close() error { return nil }

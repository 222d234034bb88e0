package queue

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"devplay/internal/logging"
)

//go:embed schema.sql
var schemaSQL string

// storeVersion tags the layout of kv_snapshots. A database carrying any other
// tag is wiped and recreated on open.
const storeVersion = 1

var resetStatements = []string{
	"DROP TABLE IF EXISTS kv_snapshots",
	"DROP TABLE IF EXISTS schema_version",
}

// prepare brings the database to storeVersion. Unknown or unreadable versions
// discard the persisted queue; the owned partition is refetched remotely, so
// only unfinished pending and in-progress entries are lost.
func (p *SQLitePersister) prepare(ctx context.Context) error {
	var tables int
	if err := p.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tables); err != nil {
		return fmt.Errorf("inspect queue database: %w", err)
	}
	if tables == 0 {
		return p.install(ctx, false)
	}

	var found int
	err := p.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&found)
	switch {
	case err == nil && found == storeVersion:
		return nil
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("read queue database version: %w", err)
	}

	p.logger.Warn("queue database version unsupported; starting with an empty queue",
		logging.Int("found", found),
		logging.Int("expected", storeVersion),
		logging.String("path", p.path),
		logging.Alert("snapshot_corrupt"),
	)
	return p.install(ctx, true)
}

// install creates the tables in one transaction, dropping old ones first when
// reset is set.
func (p *SQLitePersister) install(ctx context.Context, reset bool) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if reset {
		for _, stmt := range resetStatements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("reset queue database: %w", err)
			}
		}
	}
	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", storeVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

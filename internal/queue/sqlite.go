package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"devplay/internal/logging"
)

const (
	// KeyPending holds the serialized pending partition.
	KeyPending = "install_queue.pending"
	// KeyInProgress holds the serialized in-progress partition.
	KeyInProgress = "install_queue.in_progress"
	// KeyIdentity holds the identity the persisted partitions belong to.
	KeyIdentity = "install_queue.identity"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// SQLitePersister stores the pending and in-progress partitions as two JSON
// values in a SQLite key/value table.
type SQLitePersister struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// OpenSQLite initializes or connects to the queue database at path.
func OpenSQLite(path string, logger *slog.Logger) (*SQLitePersister, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure queue directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	p := &SQLitePersister{
		db:     db,
		path:   path,
		logger: logging.NewComponentLogger(logger, "queue-persist"),
	}
	if err := p.prepare(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

// Path returns the database file location.
func (p *SQLitePersister) Path() string {
	return p.path
}

// Close closes the underlying database connection.
func (p *SQLitePersister) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

// Save writes both partitions in one transaction.
func (p *SQLitePersister) Save(ctx context.Context, pending, inProgress []Record) error {
	pendingJSON, err := encodeRecords(pending)
	if err != nil {
		return fmt.Errorf("encode pending: %w", err)
	}
	inProgressJSON, err := encodeRecords(inProgress)
	if err != nil {
		return fmt.Errorf("encode in progress: %w", err)
	}

	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		tx, err := p.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin snapshot tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		now := time.Now().UTC().Format(time.RFC3339Nano)
		for _, kv := range [][2]string{{KeyPending, pendingJSON}, {KeyInProgress, inProgressJSON}} {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO kv_snapshots (key, value, updated_at) VALUES (?, ?, ?)
                 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
				kv[0], kv[1], now,
			); err != nil {
				return fmt.Errorf("write %s: %w", kv[0], err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit snapshot: %w", err)
		}
		return nil
	})
}

// Load reads both partitions. Missing or malformed values yield empty
// partitions; problems are logged, never returned.
func (p *SQLitePersister) Load(ctx context.Context) (pending, inProgress []Record) {
	ctx = ensureContext(ctx)
	return p.loadKey(ctx, KeyPending), p.loadKey(ctx, KeyInProgress)
}

func (p *SQLitePersister) loadKey(ctx context.Context, key string) []Record {
	var raw string
	err := p.db.QueryRowContext(ctx, `SELECT value FROM kv_snapshots WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		p.logger.Warn("read queue snapshot failed", logging.String("key", key), logging.Error(err))
		return nil
	}
	records, err := DecodeRecords(raw)
	if err != nil {
		p.logger.Warn("discarding malformed queue snapshot",
			logging.String("key", key),
			logging.Error(err),
			logging.Alert("snapshot_corrupt"),
		)
		return nil
	}
	return records
}

// Clear deletes both persisted partitions.
func (p *SQLitePersister) Clear(ctx context.Context) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		if _, err := p.db.ExecContext(ctx, `DELETE FROM kv_snapshots WHERE key IN (?, ?)`, KeyPending, KeyInProgress); err != nil {
			return fmt.Errorf("clear queue snapshot: %w", err)
		}
		return nil
	})
}

// ClearKey deletes a single persisted partition.
func (p *SQLitePersister) ClearKey(ctx context.Context, key string) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		if _, err := p.db.ExecContext(ctx, `DELETE FROM kv_snapshots WHERE key = ?`, key); err != nil {
			return fmt.Errorf("clear %s: %w", key, err)
		}
		return nil
	})
}

// SaveIdentity records which identity owns the persisted partitions.
func (p *SQLitePersister) SaveIdentity(ctx context.Context, identity string) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		return p.WriteRaw(ctx, KeyIdentity, strings.TrimSpace(identity))
	})
}

// LoadIdentity returns the identity saved with the partitions, or "".
func (p *SQLitePersister) LoadIdentity(ctx context.Context) string {
	var raw string
	err := p.db.QueryRowContext(ensureContext(ctx), `SELECT value FROM kv_snapshots WHERE key = ?`, KeyIdentity).Scan(&raw)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			p.logger.Warn("read queue identity failed", logging.Error(err))
		}
		return ""
	}
	return strings.TrimSpace(raw)
}

// WriteRaw stores an arbitrary value under key. Used to seed tests and
// recovery tooling with hand-written snapshots.
func (p *SQLitePersister) WriteRaw(ctx context.Context, key, value string) error {
	ctx = ensureContext(ctx)
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO kv_snapshots (key, value, updated_at) VALUES (?, ?, ?)
         ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func encodeRecords(records []Record) (string, error) {
	if records == nil {
		records = []Record{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeRecords parses a serialized partition, dropping entries without an
// item ID and clamping progress into range.
func DecodeRecords(raw string) ([]Record, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var decoded []Record
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(decoded))
	seen := make(map[string]struct{}, len(decoded))
	for _, record := range decoded {
		record.ItemID = strings.TrimSpace(record.ItemID)
		if record.ItemID == "" {
			continue
		}
		if _, dup := seen[record.ItemID]; dup {
			continue
		}
		seen[record.ItemID] = struct{}{}
		record.Progress = ClampProgress(record.Progress)
		out = append(out, record)
	}
	return out, nil
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

package testsupport

import (
	"testing"

	"devplay/internal/config"
	"devplay/internal/logging"
	"devplay/internal/queue"
)

// MustOpenPersister opens the SQLite persister for cfg and registers cleanup.
func MustOpenPersister(t testing.TB, cfg *config.Config) *queue.SQLitePersister {
	t.Helper()

	persister, err := queue.OpenSQLite(cfg.QueueDBPath(), logging.NewNop())
	if err != nil {
		t.Fatalf("queue.OpenSQLite: %v", err)
	}
	t.Cleanup(func() {
		_ = persister.Close()
	})
	return persister
}

// Record builds a catalog-shaped record for tests.
func Record(id string) queue.Record {
	return queue.Record{
		ItemID:   id,
		Name:     "Item " + id,
		Category: "games",
		Size:     64 << 20,
		Version:  "1.0.0",
		IconRef:  "icons/" + id + ".png",
	}
}

package queue_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"devplay/internal/logging"
	"devplay/internal/queue"
)

func openPersister(t *testing.T, path string) *queue.SQLitePersister {
	t.Helper()
	p, err := queue.OpenSQLite(path, logging.NewNop())
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestSQLitePersisterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "queue.db")
	p := openPersister(t, path)
	ctx := context.Background()

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pending := []queue.Record{
		{ItemID: "app1", Name: "Alpha", Category: "tools", Size: 2048, Version: "1.2", IconRef: "icons/a.png"},
	}
	inProgress := []queue.Record{
		{ItemID: "app2", Name: "Beta", Progress: 62.5, RemoteInstallID: "r-77", StartedAt: &started},
	}
	if err := p.Save(ctx, pending, inProgress); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	_ = p.Close()

	reopened := openPersister(t, path)
	gotPending, gotInProgress := reopened.Load(ctx)
	if !reflect.DeepEqual(gotPending, pending) {
		t.Fatalf("pending mismatch:\n got %+v\nwant %+v", gotPending, pending)
	}
	if len(gotInProgress) != 1 {
		t.Fatalf("expected one in-progress record, got %+v", gotInProgress)
	}
	got := gotInProgress[0]
	if got.Progress != 62.5 || got.RemoteInstallID != "r-77" || got.StartedAt == nil || !got.StartedAt.Equal(started) {
		t.Fatalf("in-progress record not restored: %+v", got)
	}
}

func TestSQLitePersisterLoadMissingIsEmpty(t *testing.T) {
	p := openPersister(t, filepath.Join(t.TempDir(), "queue.db"))
	pending, inProgress := p.Load(context.Background())
	if len(pending) != 0 || len(inProgress) != 0 {
		t.Fatalf("expected empty partitions, got %v %v", pending, inProgress)
	}
}

func TestSQLitePersisterLoadMalformedIsEmpty(t *testing.T) {
	p := openPersister(t, filepath.Join(t.TempDir(), "queue.db"))
	ctx := context.Background()

	if err := p.WriteRaw(ctx, queue.KeyPending, `{"not":"a list"`); err != nil {
		t.Fatalf("WriteRaw failed: %v", err)
	}
	if err := p.WriteRaw(ctx, queue.KeyInProgress, `[{"itemId":"ok","progress":250},{"itemId":""},{"name":"no id"}]`); err != nil {
		t.Fatalf("WriteRaw failed: %v", err)
	}

	pending, inProgress := p.Load(ctx)
	if len(pending) != 0 {
		t.Fatalf("expected malformed pending to load empty, got %v", pending)
	}
	if len(inProgress) != 1 || inProgress[0].ItemID != "ok" || inProgress[0].Progress != 100 {
		t.Fatalf("expected sanitized in-progress record, got %+v", inProgress)
	}
}

func TestSQLitePersisterClear(t *testing.T) {
	p := openPersister(t, filepath.Join(t.TempDir(), "queue.db"))
	ctx := context.Background()
	if err := p.Save(ctx, []queue.Record{{ItemID: "a"}}, []queue.Record{{ItemID: "b", Progress: 5}}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := p.ClearKey(ctx, queue.KeyPending); err != nil {
		t.Fatalf("ClearKey failed: %v", err)
	}
	pending, inProgress := p.Load(ctx)
	if len(pending) != 0 || len(inProgress) != 1 {
		t.Fatalf("expected only pending cleared, got %v %v", pending, inProgress)
	}
	if err := p.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, inProgress := p.Load(ctx); len(inProgress) != 0 {
		t.Fatalf("expected in progress cleared, got %v", inProgress)
	}
}

func TestStoreSnapshotsThroughSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	p := openPersister(t, path)
	store := queue.NewStore(p, logging.NewNop())
	ctx := context.Background()

	if err := store.Insert(ctx, queue.PartitionPending, queue.Record{ItemID: "a", Name: "A"}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if _, err := store.MoveTo(ctx, "a", queue.PartitionPending, queue.PartitionInProgress, func(r *queue.Record) {
		r.BeginProgress(time.Now())
	}); err != nil {
		t.Fatalf("MoveTo failed: %v", err)
	}
	store.UpdateProgress(ctx, "a", 50)

	restored := queue.NewStore(nil, logging.NewNop())
	restored.Restore(p.Load(ctx))
	r, partition, ok := restored.Lookup("a")
	if !ok || partition != queue.PartitionInProgress || r.Progress != 50 {
		t.Fatalf("expected a in progress at 50 after restore, got %+v in %q", r, partition)
	}
}

func TestDecodeRecordsDropsDuplicates(t *testing.T) {
	records, err := queue.DecodeRecords(`[{"itemId":"a","progress":-4},{"itemId":"a","progress":9}]`)
	if err != nil {
		t.Fatalf("DecodeRecords failed: %v", err)
	}
	if len(records) != 1 || records[0].Progress != 0 {
		t.Fatalf("unexpected records: %+v", records)
	}
	if records, err := queue.DecodeRecords("null"); err != nil || records != nil {
		t.Fatalf("expected nil for null payload, got %v %v", records, err)
	}
}

func TestSQLitePersisterIdentitySurvivesClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	p := openPersister(t, path)
	ctx := context.Background()

	if got := p.LoadIdentity(ctx); got != "" {
		t.Fatalf("expected no identity on fresh db, got %q", got)
	}
	if err := p.SaveIdentity(ctx, " alice "); err != nil {
		t.Fatalf("SaveIdentity failed: %v", err)
	}
	if err := p.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	_ = p.Close()

	if got := openPersister(t, path).LoadIdentity(ctx); got != "alice" {
		t.Fatalf("LoadIdentity = %q, want alice", got)
	}
}

func TestSQLitePersisterResetsUnknownVersion(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name  string
		alter string
	}{
		{name: "newer version", alter: "UPDATE schema_version SET version = 2"},
		{name: "missing version row", alter: "DELETE FROM schema_version"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "queue.db")
			p := openPersister(t, path)
			if err := p.Save(ctx, []queue.Record{{ItemID: "app1"}}, nil); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			if err := p.SaveIdentity(ctx, "alice"); err != nil {
				t.Fatalf("SaveIdentity failed: %v", err)
			}
			_ = p.Close()

			db, err := sql.Open("sqlite", path)
			if err != nil {
				t.Fatalf("sql.Open failed: %v", err)
			}
			if _, err := db.ExecContext(ctx, tc.alter); err != nil {
				t.Fatalf("alter version: %v", err)
			}
			_ = db.Close()

			reopened, err := queue.OpenSQLite(path, logging.NewNop())
			if err != nil {
				t.Fatalf("OpenSQLite after version change failed: %v", err)
			}
			t.Cleanup(func() { _ = reopened.Close() })

			pending, inProgress := reopened.Load(ctx)
			if len(pending) != 0 || len(inProgress) != 0 {
				t.Fatalf("expected empty queue after reset, got %v %v", pending, inProgress)
			}
			if got := reopened.LoadIdentity(ctx); got != "" {
				t.Fatalf("LoadIdentity after reset = %q, want empty", got)
			}
			if err := reopened.Save(ctx, []queue.Record{{ItemID: "app2"}}, nil); err != nil {
				t.Fatalf("Save after reset failed: %v", err)
			}
			if pending, _ := reopened.Load(ctx); len(pending) != 1 || pending[0].ItemID != "app2" {
				t.Fatalf("pending after reset = %+v, want [app2]", pending)
			}
		})
	}
}

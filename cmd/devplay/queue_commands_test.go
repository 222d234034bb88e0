package main

import (
	"context"
	"encoding/json"
	"testing"

	"devplay/internal/queue"
	"devplay/internal/testsupport"
)

func seedQueue(t *testing.T, env *cliTestEnv) {
	t.Helper()
	persister := testsupport.MustOpenPersister(t, env.cfg)
	running := testsupport.Record("app2")
	running.Progress = 40
	ctx := context.Background()
	if err := persister.Save(ctx, []queue.Record{testsupport.Record("app1"), testsupport.Record("app3")}, []queue.Record{running}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := persister.SaveIdentity(ctx, "alice"); err != nil {
		t.Fatalf("SaveIdentity failed: %v", err)
	}
	if err := persister.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestQueueShowTable(t *testing.T) {
	env := setupCLITestEnv(t)
	seedQueue(t, env)

	out, _, err := runCLI(t, []string{"queue", "show"}, env.configPath)
	if err != nil {
		t.Fatalf("queue show failed: %v", err)
	}
	requireContains(t, out, "Identity: alice")
	requireContains(t, out, "app2")
	requireContains(t, out, "in_progress")
	requireContains(t, out, "40%")
	requireContains(t, out, "64 MiB")
	requireContains(t, out, "Games")
}

func TestQueueShowJSON(t *testing.T) {
	env := setupCLITestEnv(t)
	seedQueue(t, env)

	out, _, err := runCLI(t, []string{"queue", "show", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("queue show --json failed: %v", err)
	}
	var listing queueListing
	if err := json.Unmarshal([]byte(out), &listing); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if listing.Identity != "alice" || len(listing.Entries) != 3 {
		t.Fatalf("unexpected listing: %+v", listing)
	}
	if first := listing.Entries[0]; first.Partition != "in_progress" || first.Record.ItemID != "app2" {
		t.Fatalf("expected in-progress entries first, got %+v", first)
	}
}

func TestQueueShowEmpty(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"queue", "show"}, env.configPath)
	if err != nil {
		t.Fatalf("queue show failed: %v", err)
	}
	requireContains(t, out, "(signed out)")
	requireContains(t, out, "Queue is empty")
}

func TestQueueClearPendingKeepsInProgress(t *testing.T) {
	env := setupCLITestEnv(t)
	seedQueue(t, env)

	out, _, err := runCLI(t, []string{"queue", "clear-pending"}, env.configPath)
	if err != nil {
		t.Fatalf("queue clear-pending failed: %v", err)
	}
	requireContains(t, out, "Removed 2 pending item(s)")

	persister := testsupport.MustOpenPersister(t, env.cfg)
	pending, inProgress := persister.Load(context.Background())
	if len(pending) != 0 {
		t.Fatalf("expected pending cleared, got %v", pending)
	}
	if len(inProgress) != 1 || inProgress[0].ItemID != "app2" {
		t.Fatalf("expected in-progress kept, got %v", inProgress)
	}
}

func TestQueueClearPendingRefusesWhileLocked(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := newCommandContext(&env.configPath)
	release, err := ctx.acquireLock()
	if err != nil {
		t.Fatalf("acquireLock failed: %v", err)
	}
	defer release()

	if _, _, err := runCLI(t, []string{"queue", "clear-pending"}, env.configPath); err == nil {
		t.Fatal("expected clear-pending to refuse while another run holds the lock")
	}
}

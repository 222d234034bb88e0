package main

import (
	"context"
	"reflect"
	"testing"

	"devplay/internal/registry/registrytest"
	"devplay/internal/testsupport"
)

func setupRunEnv(t *testing.T) (*cliTestEnv, *registrytest.Server) {
	t.Helper()
	srv, url := registrytest.Start(t, registrytest.WithCatalog(
		testsupport.Record("app1"), testsupport.Record("app2"), testsupport.Record("app3"),
	))
	env := setupCLITestEnv(t, testsupport.WithRegistryURL(url), testsupport.WithTotalTicks(3))
	env.cfg.Queue.TickIntervalMillis = 2
	writeTestConfig(t, env.configPath, env.cfg)
	return env, srv
}

func TestRunDownloadAllUntilIdle(t *testing.T) {
	env, srv := setupRunEnv(t)
	srv.Own("alice", "app3")

	out, _, err := runCLI(t, []string{"run", "--identity", "alice", "--download-all", "--until-idle"}, env.configPath)
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, out)
	}
	requireContains(t, out, "identity changed")
	requireContains(t, out, "installed  app1")
	requireContains(t, out, "installed  app2")
	requireContains(t, out, "pending=0 in_progress=0 owned=3")

	if got := srv.Owned("alice"); !reflect.DeepEqual(got, []string{"app1", "app2", "app3"}) {
		t.Fatalf("registry owned = %v, want [app1 app2 app3]", got)
	}

	persister := testsupport.MustOpenPersister(t, env.cfg)
	pending, inProgress := persister.Load(context.Background())
	if len(pending) != 0 || len(inProgress) != 0 {
		t.Fatalf("expected empty persisted queue, got %v %v", pending, inProgress)
	}
	if got := persister.LoadIdentity(context.Background()); got != "alice" {
		t.Fatalf("persisted identity = %q, want alice", got)
	}
}

func TestRunWithoutDownloadLeavesPending(t *testing.T) {
	env, _ := setupRunEnv(t)

	out, _, err := runCLI(t, []string{"run", "--identity", "bob", "--until-idle"}, env.configPath)
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, out)
	}
	requireContains(t, out, "pending=3 in_progress=0 owned=0")

	show, _, err := runCLI(t, []string{"queue", "show", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("queue show failed: %v", err)
	}
	requireContains(t, show, `"identity": "bob"`)
	requireContains(t, show, `"itemId": "app1"`)
}

func TestRunRefusesSecondInstance(t *testing.T) {
	env, _ := setupRunEnv(t)
	release, err := newCommandContext(&env.configPath).acquireLock()
	if err != nil {
		t.Fatalf("acquireLock failed: %v", err)
	}
	defer release()

	if _, _, err := runCLI(t, []string{"run", "--until-idle"}, env.configPath); err == nil {
		t.Fatal("expected run to refuse while the state directory is locked")
	}
}

func TestRunEphemeralLeavesStateUntouched(t *testing.T) {
	env, _ := setupRunEnv(t)
	release, err := newCommandContext(&env.configPath).acquireLock()
	if err != nil {
		t.Fatalf("acquireLock failed: %v", err)
	}
	defer release()

	out, _, err := runCLI(t, []string{"run", "--ephemeral", "--identity", "carol", "--download-all", "--until-idle"}, env.configPath)
	if err != nil {
		t.Fatalf("ephemeral run failed: %v\n%s", err, out)
	}
	requireContains(t, out, "owned=3")

	persister := testsupport.MustOpenPersister(t, env.cfg)
	if got := persister.LoadIdentity(context.Background()); got != "" {
		t.Fatalf("ephemeral run persisted identity %q", got)
	}
}

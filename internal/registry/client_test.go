package registry_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"devplay/internal/logging"
	"devplay/internal/registry"
	"devplay/internal/registry/registrytest"
	"devplay/internal/testsupport"
)

func newClient(t *testing.T, baseURL string, opts ...registry.Option) *registry.Client {
	t.Helper()
	client, err := registry.New(baseURL, append([]registry.Option{registry.WithLogger(logging.NewNop())}, opts...)...)
	if err != nil {
		t.Fatalf("registry.New failed: %v", err)
	}
	return client
}

func TestNewRejectsEmptyBaseURL(t *testing.T) {
	if _, err := registry.New("   "); err == nil {
		t.Fatal("expected error for empty base url")
	}
}

func TestClientRoundTripAgainstFakeRegistry(t *testing.T) {
	srv, url := registrytest.Start(t, registrytest.WithCatalog(testsupport.Record("app1"), testsupport.Record("app2")))
	client := newClient(t, url+"/")
	ctx := context.Background()

	catalog, err := client.Catalog(ctx)
	if err != nil {
		t.Fatalf("Catalog failed: %v", err)
	}
	if len(catalog) != 2 || catalog[0].ItemID != "app1" || catalog[1].Name != "Item app2" {
		t.Fatalf("unexpected catalog: %+v", catalog)
	}

	remoteID, err := client.RegisterInstall(ctx, "app1", "alice")
	if err != nil {
		t.Fatalf("RegisterInstall failed: %v", err)
	}
	if _, err := uuid.Parse(remoteID); err != nil {
		t.Fatalf("expected uuid install id, got %q", remoteID)
	}

	owned, err := client.OwnedItems(ctx, "alice")
	if err != nil {
		t.Fatalf("OwnedItems failed: %v", err)
	}
	if len(owned) != 1 || owned[0].ItemID != "app1" || owned[0].RemoteInstallID != remoteID {
		t.Fatalf("unexpected owned set: %+v", owned)
	}
	if other, _ := client.OwnedItems(ctx, "bob"); len(other) != 0 {
		t.Fatalf("expected bob to own nothing, got %+v", other)
	}

	if err := client.RemoveInstall(ctx, remoteID); err != nil {
		t.Fatalf("RemoveInstall failed: %v", err)
	}
	if got := srv.Owned("alice"); len(got) != 0 {
		t.Fatalf("expected alice to own nothing after removal, got %v", got)
	}
}

func TestClientReturnsStatusError(t *testing.T) {
	srv, url := registrytest.Start(t)
	srv.Fail(registrytest.OpOwnedItems, "", http.StatusServiceUnavailable)
	client := newClient(t, url)

	_, err := client.OwnedItems(context.Background(), "alice")
	var statusErr *registry.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	if statusErr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", statusErr.Code, http.StatusServiceUnavailable)
	}
	if !registry.IsTransient(err) {
		t.Fatal("expected 503 to be transient")
	}
}

func TestRemoveInstallMissingIDAndNotFound(t *testing.T) {
	_, url := registrytest.Start(t)
	client := newClient(t, url)
	ctx := context.Background()

	if err := client.RemoveInstall(ctx, " "); !errors.Is(err, registry.ErrMissingRemoteID) {
		t.Fatalf("expected ErrMissingRemoteID, got %v", err)
	}
	err := client.RemoveInstall(ctx, "does-not-exist")
	if !registry.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if registry.IsTransient(err) {
		t.Fatal("404 must not be transient")
	}
}

func TestClientSendsTokenAndRequestID(t *testing.T) {
	var gotAuth, gotRequestID string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotRequestID = r.Header.Get("X-Request-ID")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"itemId":"a","name":"A"},{"itemId":"  "}]`))
	}))
	t.Cleanup(ts.Close)

	client := newClient(t, ts.URL, registry.WithToken("secret"))
	ctx := logging.WithRequestID(context.Background(), "req-42")
	owned, err := client.OwnedItems(ctx, "alice")
	if err != nil {
		t.Fatalf("OwnedItems failed: %v", err)
	}
	if len(owned) != 1 || owned[0].ItemID != "a" {
		t.Fatalf("expected blank ids dropped from bare array, got %+v", owned)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if gotRequestID != "req-42" {
		t.Fatalf("X-Request-ID = %q, want req-42", gotRequestID)
	}
}

func TestRegisterInstallAcceptsIDField(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"legacy-7"}`))
	}))
	t.Cleanup(ts.Close)

	id, err := newClient(t, ts.URL).RegisterInstall(context.Background(), "app1", "alice")
	if err != nil || id != "legacy-7" {
		t.Fatalf("RegisterInstall = %q, %v", id, err)
	}
}

func TestFakeRegistryRequiresToken(t *testing.T) {
	_, url := registrytest.Start(t, registrytest.WithToken("s3cret"))

	_, err := newClient(t, url).Catalog(context.Background())
	var statusErr *registry.StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %v", err)
	}
	if _, err := newClient(t, url, registry.WithToken("s3cret")).Catalog(context.Background()); err != nil {
		t.Fatalf("expected success with token, got %v", err)
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"server error", &registry.StatusError{Code: 502}, true},
		{"rate limited", &registry.StatusError{Code: 429}, true},
		{"bad request", &registry.StatusError{Code: 400}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := registry.IsTransient(tc.err); got != tc.want {
				t.Fatalf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

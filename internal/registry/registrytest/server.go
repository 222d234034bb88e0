// Package registrytest provides an in-memory registry server speaking the
// same HTTP contract as the real registry.
package registrytest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"devplay/internal/queue"
)

// Operation names used by Calls.
const (
	OpOwnedItems = "owned-items"
	OpRegister   = "register-install"
	OpRemove     = "remove-install"
	OpCatalog    = "catalog"
)

type install struct {
	identity string
	itemID   string
}

// Server is a fake registry. The zero value is not usable; call New.
type Server struct {
	mu       sync.Mutex
	token    string
	catalog  map[string]queue.Record
	owned    map[string]map[string]string // identity -> itemID -> remote install ID
	installs map[string]install
	failures map[string]int // op or op:itemID -> status code
	calls    map[string]int
	router   *mux.Router
}

// Option configures a Server.
type Option func(*Server)

// WithToken requires a bearer token on every request.
func WithToken(token string) Option {
	return func(s *Server) {
		s.token = token
	}
}

// WithCatalog seeds the catalog.
func WithCatalog(records ...queue.Record) Option {
	return func(s *Server) {
		for _, record := range records {
			s.catalog[record.ItemID] = record
		}
	}
}

// New builds a fake registry handler.
func New(opts ...Option) *Server {
	s := &Server{
		catalog:  make(map[string]queue.Record),
		owned:    make(map[string]map[string]string),
		installs: make(map[string]install),
		failures: make(map[string]int),
		calls:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := mux.NewRouter()
	r.Use(s.authorize)
	r.HandleFunc("/owned-items", s.handleOwnedItems).Methods(http.MethodGet)
	r.HandleFunc("/catalog", s.handleCatalog).Methods(http.MethodGet)
	r.HandleFunc("/install", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/install/{id}", s.handleRemove).Methods(http.MethodDelete)
	s.router = r
	return s
}

// Start runs the fake registry on an httptest server closed at test cleanup.
// It returns the server and its base URL.
func Start(t testing.TB, opts ...Option) (*Server, string) {
	t.Helper()
	s := New(opts...)
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)
	return s, ts.URL
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Own marks items as installed for identity and returns their remote IDs.
func (s *Server) Own(identity string, itemIDs ...string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(itemIDs))
	for _, itemID := range itemIDs {
		ids = append(ids, s.registerLocked(identity, itemID))
	}
	return ids
}

// Owned returns the sorted item IDs owned by identity.
func (s *Server) Owned(identity string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.owned[identity]))
	for itemID := range s.owned[identity] {
		ids = append(ids, itemID)
	}
	sort.Strings(ids)
	return ids
}

// Fail makes op answer with code. When itemID is non-empty only requests
// about that item fail. A zero code clears the failure.
func (s *Server) Fail(op, itemID string, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := failureKey(op, itemID)
	if code == 0 {
		delete(s.failures, key)
		return
	}
	s.failures[key] = code
}

// Calls returns how many requests op has received.
func (s *Server) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *Server) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleOwnedItems(w http.ResponseWriter, r *http.Request) {
	identity := strings.TrimSpace(r.URL.Query().Get("identity"))

	s.mu.Lock()
	s.calls[OpOwnedItems]++
	if code := s.failureLocked(OpOwnedItems, ""); code != 0 {
		s.mu.Unlock()
		writeError(w, code, "owned items unavailable")
		return
	}
	records := make([]queue.Record, 0, len(s.owned[identity]))
	for itemID, remoteID := range s.owned[identity] {
		record := s.describeLocked(itemID)
		record.RemoteInstallID = remoteID
		records = append(records, record)
	}
	s.mu.Unlock()

	sort.Slice(records, func(i, j int) bool { return records[i].ItemID < records[j].ItemID })
	writeJSON(w, http.StatusOK, map[string]any{"items": records})
}

func (s *Server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	s.calls[OpCatalog]++
	if code := s.failureLocked(OpCatalog, ""); code != 0 {
		s.mu.Unlock()
		writeError(w, code, "catalog unavailable")
		return
	}
	records := make([]queue.Record, 0, len(s.catalog))
	for _, record := range s.catalog {
		records = append(records, record)
	}
	s.mu.Unlock()

	sort.Slice(records, func(i, j int) bool { return records[i].ItemID < records[j].ItemID })
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ItemID   string `json:"itemId"`
		Identity string `json:"identity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	body.ItemID = strings.TrimSpace(body.ItemID)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[OpRegister]++
	if body.ItemID == "" {
		writeError(w, http.StatusBadRequest, "itemId required")
		return
	}
	if code := s.failureLocked(OpRegister, body.ItemID); code != 0 {
		writeError(w, code, "register failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"remoteInstallId": s.registerLocked(strings.TrimSpace(body.Identity), body.ItemID),
	})
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	remoteID := mux.Vars(r)["id"]

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[OpRemove]++
	inst, ok := s.installs[remoteID]
	if code := s.failureLocked(OpRemove, inst.itemID); code != 0 {
		writeError(w, code, "remove failed")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "install not found")
		return
	}
	delete(s.installs, remoteID)
	delete(s.owned[inst.identity], inst.itemID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) registerLocked(identity, itemID string) string {
	if existing, ok := s.owned[identity][itemID]; ok {
		return existing
	}
	if s.owned[identity] == nil {
		s.owned[identity] = make(map[string]string)
	}
	remoteID := uuid.NewString()
	s.owned[identity][itemID] = remoteID
	s.installs[remoteID] = install{identity: identity, itemID: itemID}
	return remoteID
}

func (s *Server) describeLocked(itemID string) queue.Record {
	if record, ok := s.catalog[itemID]; ok {
		return record
	}
	return queue.Record{ItemID: itemID, Name: itemID}
}

func (s *Server) failureLocked(op, itemID string) int {
	if itemID != "" {
		if code, ok := s.failures[failureKey(op, itemID)]; ok {
			return code
		}
	}
	return s.failures[failureKey(op, "")]
}

func failureKey(op, itemID string) string {
	if itemID == "" {
		return op
	}
	return op + ":" + itemID
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

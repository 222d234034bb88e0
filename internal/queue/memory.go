package queue

import (
	"context"
	"sync"
)

// MemoryPersister keeps snapshots in process memory. It serves ephemeral runs
// and tests.
type MemoryPersister struct {
	mu         sync.Mutex
	pending    []Record
	inProgress []Record
	identity   string
	saves      int
	err        error
}

// NewMemoryPersister returns an empty in-memory persister.
func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{}
}

// Save records copies of both partitions.
func (m *MemoryPersister) Save(_ context.Context, pending, inProgress []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.pending = copyRecords(pending)
	m.inProgress = copyRecords(inProgress)
	m.saves++
	return nil
}

// Load returns copies of the last saved partitions.
func (m *MemoryPersister) Load(context.Context) (pending, inProgress []Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyRecords(m.pending), copyRecords(m.inProgress)
}

// Clear drops both partitions.
func (m *MemoryPersister) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = nil
	m.inProgress = nil
	return nil
}

// SaveIdentity records the owning identity.
func (m *MemoryPersister) SaveIdentity(_ context.Context, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identity = identity
	return nil
}

// LoadIdentity returns the owning identity.
func (m *MemoryPersister) LoadIdentity(context.Context) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

// Saves returns how many snapshots were written.
func (m *MemoryPersister) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// FailWith makes subsequent saves return err. Pass nil to recover.
func (m *MemoryPersister) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func copyRecords(records []Record) []Record {
	if len(records) == 0 {
		return nil
	}
	out := make([]Record, len(records))
	for i, record := range records {
		out[i] = record.clone()
	}
	return out
}

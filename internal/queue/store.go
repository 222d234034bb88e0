package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"devplay/internal/logging"
)

// Snapshotter receives the persisted partitions after every mutation that
// changes them.
type Snapshotter interface {
	Save(ctx context.Context, pending, inProgress []Record) error
}

// Persister is the durable side of the store: snapshots plus restore and reset.
type Persister interface {
	Snapshotter
	Load(ctx context.Context) (pending, inProgress []Record)
	Clear(ctx context.Context) error
}

// Store is the in-memory partitioned collection of install records.
type Store struct {
	mu     sync.RWMutex
	parts  map[Partition]map[string]Record
	snap   Snapshotter
	logger *slog.Logger
}

// NewStore constructs an empty store. snap may be nil when nothing should be
// persisted.
func NewStore(snap Snapshotter, logger *slog.Logger) *Store {
	s := &Store{
		parts:  make(map[Partition]map[string]Record, len(allPartitions)),
		snap:   snap,
		logger: logging.NewComponentLogger(logger, "queue-store"),
	}
	for _, p := range allPartitions {
		s.parts[p] = make(map[string]Record)
	}
	return s
}

// MoveTo removes itemID from whichever partition holds it, applies patch to
// the record, and inserts it into to. from is a hint; PartitionAny skips the
// check. A mismatching hint is logged and the move proceeds from the actual
// partition.
func (s *Store) MoveTo(ctx context.Context, itemID string, from, to Partition, patch func(*Record)) (Record, error) {
	itemID = strings.TrimSpace(itemID)
	if !to.valid() {
		return Record{}, fmt.Errorf("move %s to %q: %w", itemID, to, ErrInvalidPartition)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, actual, ok := s.removeLocked(itemID)
	if !ok {
		return Record{}, fmt.Errorf("move %s: %w", itemID, ErrUnknownItem)
	}
	if from != PartitionAny && from != actual {
		s.logger.Debug("move source mismatch",
			logging.ItemID(itemID),
			logging.String("expected", string(from)),
			logging.String("actual", string(actual)),
		)
	}
	if patch != nil {
		patch(&current)
	}
	current.ItemID = itemID
	s.parts[to][itemID] = current

	if actual.persisted() || to.persisted() {
		s.snapshotLocked(ctx)
	}
	return current.clone(), nil
}

// Transition moves itemID from exactly the from partition to to. Unlike MoveTo
// it refuses to act when the item has already left from, so a late timer
// callback cannot resurrect a record that was paused or removed.
func (s *Store) Transition(ctx context.Context, itemID string, from, to Partition, patch func(*Record)) (Record, bool) {
	itemID = strings.TrimSpace(itemID)
	if !from.valid() || !to.valid() {
		return Record{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.parts[from][itemID]
	if !ok {
		return Record{}, false
	}
	s.removeLocked(itemID)
	if patch != nil {
		patch(&current)
	}
	current.ItemID = itemID
	s.parts[to][itemID] = current
	if from.persisted() || to.persisted() {
		s.snapshotLocked(ctx)
	}
	return current.clone(), true
}

// Insert places a record into a partition, first removing any existing copy.
func (s *Store) Insert(ctx context.Context, to Partition, record Record) error {
	record.ItemID = strings.TrimSpace(record.ItemID)
	if record.ItemID == "" {
		return fmt.Errorf("insert: %w: empty item id", ErrUnknownItem)
	}
	if !to.valid() {
		return fmt.Errorf("insert %s into %q: %w", record.ItemID, to, ErrInvalidPartition)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, previous, existed := s.removeLocked(record.ItemID)
	s.parts[to][record.ItemID] = record.clone()
	if to.persisted() || (existed && previous.persisted()) {
		s.snapshotLocked(ctx)
	}
	return nil
}

// InsertIfAbsent inserts records into a partition unless the item is already
// held by any partition. It returns the number of inserted records.
func (s *Store) InsertIfAbsent(ctx context.Context, to Partition, records []Record) (int, error) {
	if !to.valid() {
		return 0, fmt.Errorf("insert into %q: %w", to, ErrInvalidPartition)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, record := range records {
		id := strings.TrimSpace(record.ItemID)
		if id == "" {
			continue
		}
		if _, _, ok := s.lookupLocked(id); ok {
			continue
		}
		record.ItemID = id
		s.parts[to][id] = record.clone()
		inserted++
	}
	if inserted > 0 && to.persisted() {
		s.snapshotLocked(ctx)
	}
	return inserted, nil
}

// Remove deletes itemID from whichever partition holds it.
func (s *Store) Remove(ctx context.Context, itemID string) (Record, Partition, bool) {
	itemID = strings.TrimSpace(itemID)

	s.mu.Lock()
	defer s.mu.Unlock()

	record, partition, ok := s.removeLocked(itemID)
	if ok && partition.persisted() {
		s.snapshotLocked(ctx)
	}
	return record, partition, ok
}

// UpdateProgress raises the progress of an in-progress record. Progress never
// decreases. It returns false when the item is no longer in progress.
func (s *Store) UpdateProgress(ctx context.Context, itemID string, progress float64) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.parts[PartitionInProgress][itemID]
	if !ok {
		return Record{}, false
	}
	progress = ClampProgress(progress)
	if progress <= record.Progress {
		return record.clone(), true
	}
	record.Progress = progress
	s.parts[PartitionInProgress][itemID] = record
	s.snapshotLocked(ctx)
	return record.clone(), true
}

// Patch mutates a record in place without moving it. It returns false when
// the item is unknown or not in the expected partition.
func (s *Store) Patch(ctx context.Context, itemID string, in Partition, patch func(*Record)) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, actual, ok := s.lookupLocked(itemID)
	if !ok || (in != PartitionAny && in != actual) {
		return Record{}, false
	}
	patch(&record)
	record.ItemID = itemID
	s.parts[actual][itemID] = record
	if actual.persisted() {
		s.snapshotLocked(ctx)
	}
	return record.clone(), true
}

// ReplaceOwned swaps the owned partition for records wholesale. Items of the
// new owned set still waiting in pending are moved out of it; their IDs are
// returned as displaced. Items being installed stay in progress and reach
// owned through completion, so a refresh never cuts a running install short.
func (s *Store) ReplaceOwned(ctx context.Context, records []Record) (displaced []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	owned := make(map[string]Record, len(records))
	for _, record := range records {
		id := strings.TrimSpace(record.ItemID)
		if id == "" {
			continue
		}
		if _, installing := s.parts[PartitionInProgress][id]; installing {
			continue
		}
		record.ItemID = id
		record.Progress = CompleteProgress
		record.StartedAt = nil
		owned[id] = record
		if _, ok := s.parts[PartitionPending][id]; ok {
			delete(s.parts[PartitionPending], id)
			displaced = append(displaced, id)
		}
	}
	s.parts[PartitionOwned] = owned
	if len(displaced) > 0 {
		s.snapshotLocked(ctx)
	}
	return displaced
}

// ClearPartition empties a partition and returns the removed records.
func (s *Store) ClearPartition(ctx context.Context, p Partition) []Record {
	if !p.valid() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := recordsOf(s.parts[p])
	s.parts[p] = make(map[string]Record)
	if len(removed) > 0 && p.persisted() {
		s.snapshotLocked(ctx)
	}
	return removed
}

// Restore loads persisted partitions into the store, replacing pending and in
// progress. An item held by more than one partition keeps only its most
// advanced copy; the number of dropped copies is returned.
func (s *Store) Restore(pending, inProgress []Record) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.parts[PartitionPending] = make(map[string]Record, len(pending))
	s.parts[PartitionInProgress] = make(map[string]Record, len(inProgress))
	for _, record := range pending {
		s.parts[PartitionPending][record.ItemID] = record.clone()
	}
	for _, record := range inProgress {
		s.parts[PartitionInProgress][record.ItemID] = record.clone()
	}
	return s.dedupeLocked()
}

// dedupeLocked removes items held by more than one partition, keeping the
// most advanced copy. It returns the number of dropped copies.
func (s *Store) dedupeLocked() int {
	dropped := 0
	for i := len(allPartitions) - 1; i > 0; i-- {
		keep := allPartitions[i]
		for id := range s.parts[keep] {
			for _, lower := range allPartitions[:i] {
				if _, dup := s.parts[lower][id]; dup {
					delete(s.parts[lower], id)
					dropped++
					s.logger.Warn("duplicate item across partitions",
						logging.ItemID(id),
						logging.String("kept", string(keep)),
						logging.String("dropped", string(lower)),
						logging.Alert("partition_invariant"),
					)
				}
			}
		}
	}
	return dropped
}

// Get returns a copy of a partition sorted by item ID.
func (s *Store) Get(p Partition) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return recordsOf(s.parts[p])
}

// Lookup returns the record and partition holding itemID.
func (s *Store) Lookup(itemID string) (Record, Partition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, p, ok := s.lookupLocked(strings.TrimSpace(itemID))
	return record.clone(), p, ok
}

// Has reports whether any partition holds itemID.
func (s *Store) Has(itemID string) bool {
	_, _, ok := s.Lookup(itemID)
	return ok
}

// In reports whether itemID is held by partition p.
func (s *Store) In(itemID string, p Partition) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.parts[p][strings.TrimSpace(itemID)]
	return ok
}

// IDs returns the sorted item IDs of a partition.
func (s *Store) IDs(p Partition) []string {
	records := s.Get(p)
	ids := make([]string, len(records))
	for i, record := range records {
		ids[i] = record.ItemID
	}
	return ids
}

// Counts returns partition sizes.
func (s *Store) Counts() Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Counts{
		Pending:    len(s.parts[PartitionPending]),
		InProgress: len(s.parts[PartitionInProgress]),
		Owned:      len(s.parts[PartitionOwned]),
	}
}

func (s *Store) lookupLocked(itemID string) (Record, Partition, bool) {
	for _, p := range allPartitions {
		if record, ok := s.parts[p][itemID]; ok {
			return record, p, true
		}
	}
	return Record{}, PartitionAny, false
}

// removeLocked deletes every copy of itemID. By invariant there is at most one;
// if more are found the most advanced copy is returned.
func (s *Store) removeLocked(itemID string) (Record, Partition, bool) {
	var (
		found     Record
		partition Partition
		ok        bool
	)
	for _, p := range allPartitions {
		record, present := s.parts[p][itemID]
		if !present {
			continue
		}
		delete(s.parts[p], itemID)
		if ok {
			s.logger.Warn("duplicate item removed during move",
				logging.ItemID(itemID),
				logging.Partition(string(p)),
				logging.Alert("partition_invariant"),
			)
		}
		found, partition, ok = record, p, true
	}
	return found, partition, ok
}

func (s *Store) snapshotLocked(ctx context.Context) {
	if s.snap == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	pending := recordsOf(s.parts[PartitionPending])
	inProgress := recordsOf(s.parts[PartitionInProgress])
	if err := s.snap.Save(ctx, pending, inProgress); err != nil {
		s.logger.Warn("queue snapshot failed",
			logging.Error(err),
			logging.Int("pending", len(pending)),
			logging.Int("in_progress", len(inProgress)),
		)
	}
}

func recordsOf(m map[string]Record) []Record {
	out := make([]Record, 0, len(m))
	for _, record := range m {
		out = append(out, record.clone())
	}
	sortRecords(out)
	return out
}

package queue

import (
	"sort"
	"strings"
	"time"
)

// Partition names one of the three disjoint buckets a record can belong to.
type Partition string

const (
	// PartitionAny is accepted by Store.MoveTo when the caller does not know
	// which partition currently holds the item.
	PartitionAny        Partition = ""
	PartitionPending    Partition = "pending"
	PartitionInProgress Partition = "in_progress"
	PartitionOwned      Partition = "owned"
)

// CompleteProgress is the progress value of a finished install.
const CompleteProgress = 100.0

var allPartitions = []Partition{PartitionPending, PartitionInProgress, PartitionOwned}

// AllPartitions returns the partitions ordered from least to most advanced.
func AllPartitions() []Partition {
	cp := make([]Partition, len(allPartitions))
	copy(cp, allPartitions)
	return cp
}

// ParsePartition converts a string into a known Partition.
func ParsePartition(value string) (Partition, bool) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	switch Partition(normalized) {
	case PartitionPending, PartitionInProgress, PartitionOwned:
		return Partition(normalized), true
	case "inprogress":
		return PartitionInProgress, true
	default:
		return "", false
	}
}

func (p Partition) valid() bool {
	switch p {
	case PartitionPending, PartitionInProgress, PartitionOwned:
		return true
	default:
		return false
	}
}

// persisted reports whether records in this partition are written to local storage.
func (p Partition) persisted() bool {
	return p == PartitionPending || p == PartitionInProgress
}

// Record is the per-item state tracked by the install queue.
type Record struct {
	ItemID          string     `json:"itemId"`
	Name            string     `json:"name"`
	Category        string     `json:"category,omitempty"`
	Size            int64      `json:"size,omitempty"`
	Version         string     `json:"version,omitempty"`
	IconRef         string     `json:"iconRef,omitempty"`
	Progress        float64    `json:"progress,omitempty"`
	RemoteInstallID string     `json:"remoteInstallId,omitempty"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
}

// ClearProgress drops the in-flight fields carried only by in-progress records.
func (r *Record) ClearProgress() {
	r.Progress = 0
	r.StartedAt = nil
}

// BeginProgress stamps a fresh start.
func (r *Record) BeginProgress(now time.Time) {
	started := now.UTC()
	r.Progress = 0
	r.StartedAt = &started
}

// IsComplete reports whether progress has reached 100.
func (r Record) IsComplete() bool {
	return r.Progress >= CompleteProgress
}

func (r Record) clone() Record {
	if r.StartedAt != nil {
		started := *r.StartedAt
		r.StartedAt = &started
	}
	return r
}

// ClampProgress bounds a progress value to [0, 100].
func ClampProgress(value float64) float64 {
	switch {
	case value < 0:
		return 0
	case value > CompleteProgress:
		return CompleteProgress
	default:
		return value
	}
}

func sortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].ItemID < records[j].ItemID
	})
}

// Counts summarizes partition sizes.
type Counts struct {
	Pending    int
	InProgress int
	Owned      int
}

// Total returns the number of tracked records across all partitions.
func (c Counts) Total() int {
	return c.Pending + c.InProgress + c.Owned
}

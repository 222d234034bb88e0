package queue

import "errors"

var (
	// ErrUnknownItem indicates the item is not held by any partition.
	ErrUnknownItem = errors.New("unknown item")
	// ErrInvalidPartition indicates a partition name outside pending, in_progress, and owned.
	ErrInvalidPartition = errors.New("invalid partition")
)

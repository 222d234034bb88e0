// Package progress simulates install transfer progress.
//
// A Simulator owns an explicit map from item ID to a cancelable timer handle.
// All handles are advanced by one shared loop, one tick per interval, adding
// 100/TotalTicks percent per tick. A fresh install therefore takes TotalTicks
// ticks regardless of item size; an item restored at a partial progress only
// runs for its remaining ticks. Starting an item that already has a handle is
// a no-op so a reentrant start can never double the rate.
//
// Cancel before mutating queue partitions: once a handle is gone no later
// tick can touch the item.
package progress

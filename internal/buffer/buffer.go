// Package buffer holds metric snapshots awaiting delivery.
package buffer

import (
	"sync"

	"github.com/HerbHall/hostagent/pkg/models"
)

// Buffer is an ordered queue of snapshots. Insertion order is collection
// order. When max is positive and a write would exceed it, the oldest
// snapshots are dropped and counted.
//
// Safe for concurrent use.
type Buffer struct {
	mu      sync.Mutex
	items   []models.Snapshot
	max     int
	dropped uint64
}

// New creates a Buffer holding at most max snapshots. max <= 0 means
// unbounded.
func New(max int) *Buffer {
	return &Buffer{max: max}
}

// Append adds s at the back and returns how many old snapshots were
// dropped to make room.
func (b *Buffer) Append(s models.Snapshot) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, s)
	return b.trimLocked()
}

// Drain removes and returns the entire contents. The returned slice is
// owned by the caller.
func (b *Buffer) Drain() []models.Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.items
	b.items = nil
	return out
}

// Requeue puts a failed batch back at the front, ahead of anything
// appended since it was drained, and returns how many snapshots were
// dropped to stay within bounds.
func (b *Buffer) Requeue(batch []models.Snapshot) int {
	if len(batch) == 0 {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	merged := make([]models.Snapshot, 0, len(batch)+len(b.items))
	merged = append(merged, batch...)
	merged = append(merged, b.items...)
	b.items = merged
	return b.trimLocked()
}

// Len returns the number of buffered snapshots.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Dropped returns the total number of snapshots evicted since creation.
func (b *Buffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// trimLocked evicts the oldest entries beyond max. Must be called with
// b.mu held.
func (b *Buffer) trimLocked() int {
	if b.max <= 0 || len(b.items) <= b.max {
		return 0
	}
	n := len(b.items) - b.max
	for i := 0; i < n; i++ {
		b.items[i] = models.Snapshot{} // release for GC
	}
	b.items = b.items[n:]
	b.dropped += uint64(n)
	return n
}

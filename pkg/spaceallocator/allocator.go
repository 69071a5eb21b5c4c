// Package spaceallocator tracks disk-space budget for a managed directory.
//
// An Allocator hands out reservations: each reservation must end with exactly
// one Accept (commit the bytes against the budget) or one Release (return
// them). Next to the live accounting the allocator keeps a registry of
// "outdated" items: space that is still committed but whose owner declared it
// reclaimable. When a reservation does not fit, the allocator asks its item
// remover to delete outdated items, oldest first, until the reservation fits
// or no candidates remain.
package spaceallocator

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// ErrNoSpace is returned when a reservation cannot fit into the budget.
	ErrNoSpace = errors.New("not enough space")

	// ErrNotFound is returned when an outdated item id is not registered.
	ErrNotFound = errors.New("outdated item not found")

	// ErrAlreadyDone is returned when Accept or Release is called on a
	// reservation that was already accepted or released.
	ErrAlreadyDone = errors.New("space reservation already finished")
)

// Space is a single space reservation.
type Space interface {
	// Accept commits the reserved bytes against the budget.
	Accept() error
	// Release returns the reserved bytes to the budget.
	Release() error
	// Size reports the reserved byte count.
	Size() uint64
}

// Allocator is the space-budget contract.
type Allocator interface {
	AllocateSpace(size uint64) (Space, error)
	AccountSpace(size uint64)
	AddOutdatedItem(id string, size uint64, timestamp time.Time) error
	RestoreOutdatedItem(id string) error
	FreeSpace(size uint64)
	AllocatedSize() uint64
}

// ItemRemover deletes the files and records behind an outdated item. It is
// expected to call RestoreOutdatedItem and FreeSpace for the removed item as
// part of its normal removal path.
type ItemRemover func(id string) error

type outdatedItem struct {
	size      uint64
	timestamp time.Time
}

// QuotaAllocator is a fixed-budget Allocator.
//
// A zero limit disables budget enforcement but keeps the accounting and the
// outdated registry active.
type QuotaAllocator struct {
	mu         sync.Mutex
	reclaimed  *sync.Cond
	limit      uint64
	used       uint64
	outdated   map[string]outdatedItem
	reclaiming map[string]struct{}
	remover    ItemRemover
}

// New creates a QuotaAllocator with the given byte limit. The remover may be
// nil, in which case outdated items are never reclaimed automatically and
// oversized reservations fail immediately.
func New(limit uint64, remover ItemRemover) *QuotaAllocator {
	a := &QuotaAllocator{
		limit:      limit,
		outdated:   make(map[string]outdatedItem),
		reclaiming: make(map[string]struct{}),
		remover:    remover,
	}
	a.reclaimed = sync.NewCond(&a.mu)

	return a
}

// AllocateSpace reserves size bytes, reclaiming outdated items if needed.
//
// Concurrent callers never reclaim the same item twice: an id handed to the
// remover is marked in flight until the remover returns, other callers skip
// it and wait for the freed space instead.
func (a *QuotaAllocator) AllocateSpace(size uint64) (Space, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for {
		if a.limit == 0 || a.used+size <= a.limit {
			a.used += size

			return &reservation{allocator: a, size: size}, nil
		}

		id, ok := a.oldestOutdatedLocked()
		if !ok || a.remover == nil {
			if len(a.reclaiming) > 0 {
				a.reclaimed.Wait()

				continue
			}

			return nil, fmt.Errorf("can't reserve %d bytes: %w", size, ErrNoSpace)
		}

		a.reclaiming[id] = struct{}{}
		a.mu.Unlock()

		// The remover runs without the allocator lock held: its removal
		// path calls back into RestoreOutdatedItem and FreeSpace.
		err := a.remover(id)

		a.mu.Lock()
		delete(a.reclaiming, id)
		a.reclaimed.Broadcast()

		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Removed by another path while in flight. Drop the
				// stale registration and keep looking.
				delete(a.outdated, id)

				continue
			}

			return nil, fmt.Errorf("can't reclaim outdated item %q: %w", id, err)
		}
	}
}

// AddOutdatedItem registers committed space as reclaimable under id.
// Re-registering an id overwrites its size and timestamp.
func (a *QuotaAllocator) AddOutdatedItem(id string, size uint64, timestamp time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.outdated[id] = outdatedItem{size: size, timestamp: timestamp}

	return nil
}

// RestoreOutdatedItem removes id from the reclaimable registry. The space
// itself stays committed until FreeSpace is called.
func (a *QuotaAllocator) RestoreOutdatedItem(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.outdated[id]; !ok {
		return fmt.Errorf("item %q: %w", id, ErrNotFound)
	}

	delete(a.outdated, id)

	return nil
}

// AccountSpace commits size bytes against the budget without a fit check.
// It records space that already exists on disk, e.g. items discovered
// during startup recovery.
func (a *QuotaAllocator) AccountSpace(size uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.used += size
}

// FreeSpace returns size committed bytes to the budget.
func (a *QuotaAllocator) FreeSpace(size uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if size > a.used {
		size = a.used
	}
	a.used -= size
}

// AllocatedSize reports the committed plus reserved byte count.
func (a *QuotaAllocator) AllocatedSize() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.used
}

// OutdatedItemCount reports the number of registered reclaimable items.
func (a *QuotaAllocator) OutdatedItemCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.outdated)
}

func (a *QuotaAllocator) oldestOutdatedLocked() (string, bool) {
	ids := make([]string, 0, len(a.outdated))
	for id := range a.outdated {
		if _, busy := a.reclaiming[id]; busy {
			continue
		}
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool {
		ti, tj := a.outdated[ids[i]].timestamp, a.outdated[ids[j]].timestamp
		if ti.Equal(tj) {
			return ids[i] < ids[j]
		}
		return ti.Before(tj)
	})

	if len(ids) == 0 {
		return "", false
	}

	return ids[0], true
}

type reservation struct {
	allocator *QuotaAllocator
	size      uint64

	mu   sync.Mutex
	done bool
}

func (r *reservation) Accept() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done {
		return ErrAlreadyDone
	}
	r.done = true

	// Reserved bytes stay counted as used.
	return nil
}

func (r *reservation) Release() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done {
		return ErrAlreadyDone
	}
	r.done = true

	r.allocator.FreeSpace(r.size)

	return nil
}

func (r *reservation) Size() uint64 { return r.size }

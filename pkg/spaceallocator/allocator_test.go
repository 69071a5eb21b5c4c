package spaceallocator

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateAcceptRelease(t *testing.T) {
	a := New(1000, nil)

	space, err := a.AllocateSpace(600)
	require.NoError(t, err)
	assert.Equal(t, uint64(600), space.Size())
	assert.Equal(t, uint64(600), a.AllocatedSize())

	require.NoError(t, space.Accept())
	assert.Equal(t, uint64(600), a.AllocatedSize(), "accept keeps bytes committed")

	space2, err := a.AllocateSpace(300)
	require.NoError(t, err)
	require.NoError(t, space2.Release())
	assert.Equal(t, uint64(600), a.AllocatedSize(), "release returns bytes")
}

func TestAcceptReleaseExactlyOnce(t *testing.T) {
	a := New(0, nil)

	space, err := a.AllocateSpace(100)
	require.NoError(t, err)

	require.NoError(t, space.Accept())
	assert.ErrorIs(t, space.Accept(), ErrAlreadyDone)
	assert.ErrorIs(t, space.Release(), ErrAlreadyDone)
}

func TestAllocateOverBudget(t *testing.T) {
	a := New(500, nil)

	_, err := a.AllocateSpace(501)
	assert.ErrorIs(t, err, ErrNoSpace)

	space, err := a.AllocateSpace(500)
	require.NoError(t, err)
	require.NoError(t, space.Accept())

	_, err = a.AllocateSpace(1)
	assert.ErrorIs(t, err, ErrNoSpace)
}

func TestOutdatedItemRegistry(t *testing.T) {
	a := New(0, nil)

	require.NoError(t, a.AddOutdatedItem("svc1_1.0.0", 100, time.Now()))
	require.NoError(t, a.AddOutdatedItem("svc2_1.0.0", 200, time.Now()))
	assert.Equal(t, 2, a.OutdatedItemCount())

	require.NoError(t, a.RestoreOutdatedItem("svc1_1.0.0"))
	assert.Equal(t, 1, a.OutdatedItemCount())

	assert.ErrorIs(t, a.RestoreOutdatedItem("svc1_1.0.0"), ErrNotFound)
}

func TestAllocateReclaimsOldestOutdated(t *testing.T) {
	var removed []string

	a := New(1000, nil)
	a.remover = func(id string) error {
		removed = append(removed, id)
		// Mimic the manager's removal primitive.
		require.NoError(t, a.RestoreOutdatedItem(id))
		switch id {
		case "old_1.0.0":
			a.FreeSpace(400)
		case "new_1.0.0":
			a.FreeSpace(300)
		}
		return nil
	}

	// Commit the full budget, then mark 700 bytes reclaimable.
	space, err := a.AllocateSpace(1000)
	require.NoError(t, err)
	require.NoError(t, space.Accept())

	base := time.Now()
	require.NoError(t, a.AddOutdatedItem("new_1.0.0", 300, base))
	require.NoError(t, a.AddOutdatedItem("old_1.0.0", 400, base.Add(-time.Hour)))

	space, err = a.AllocateSpace(350)
	require.NoError(t, err)
	assert.Equal(t, []string{"old_1.0.0"}, removed, "oldest item reclaimed first")
	require.NoError(t, space.Release())
}

func TestConcurrentAllocationsReclaimOnce(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []string
	)

	entered := make(chan struct{})
	proceed := make(chan struct{})

	a := New(1000, nil)
	a.remover = func(id string) error {
		mu.Lock()
		calls = append(calls, id)
		mu.Unlock()

		// Hold the reclaim open so a second caller runs out of budget
		// while this one is in flight.
		close(entered)
		<-proceed

		require.NoError(t, a.RestoreOutdatedItem(id))
		a.FreeSpace(900)
		return nil
	}

	space, err := a.AllocateSpace(900)
	require.NoError(t, err)
	require.NoError(t, space.Accept())
	require.NoError(t, a.AddOutdatedItem("svc_1.0.0", 900, time.Now()))

	errCh := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			s, err := a.AllocateSpace(400)
			if err == nil {
				err = s.Accept()
			}
			errCh <- err
		}()
	}

	<-entered
	close(proceed)

	require.NoError(t, <-errCh)
	require.NoError(t, <-errCh)

	mu.Lock()
	assert.Equal(t, []string{"svc_1.0.0"}, calls, "one reclaim serves both allocations")
	mu.Unlock()
	assert.Equal(t, uint64(800), a.AllocatedSize())
}

func TestAllocateToleratesConcurrentlyRemovedItem(t *testing.T) {
	a := New(1000, nil)
	a.remover = func(id string) error {
		// The item vanished through another removal path which already
		// freed its space and cleared its registration.
		a.FreeSpace(900)
		return fmt.Errorf("item %q: %w", id, ErrNotFound)
	}

	space, err := a.AllocateSpace(900)
	require.NoError(t, err)
	require.NoError(t, space.Accept())
	require.NoError(t, a.AddOutdatedItem("svc_1.0.0", 900, time.Now()))

	space, err = a.AllocateSpace(400)
	require.NoError(t, err)
	require.NoError(t, space.Accept())

	assert.Equal(t, 0, a.OutdatedItemCount(), "stale registration dropped")
	assert.Equal(t, uint64(400), a.AllocatedSize())
}

func TestAccountSpaceBypassesBudgetCheck(t *testing.T) {
	a := New(100, nil)

	a.AccountSpace(150)
	assert.Equal(t, uint64(150), a.AllocatedSize())

	_, err := a.AllocateSpace(1)
	assert.ErrorIs(t, err, ErrNoSpace)

	a.FreeSpace(150)
	assert.Equal(t, uint64(0), a.AllocatedSize())
}

func TestFreeSpaceClampsAtZero(t *testing.T) {
	a := New(0, nil)
	a.FreeSpace(100)
	assert.Equal(t, uint64(0), a.AllocatedSize())
}

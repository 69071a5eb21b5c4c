package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/bundled/pkg/servicemanager"
	"github.com/marmos91/bundled/pkg/store/service/memory"
)

func record(serviceID, version string) servicemanager.ServiceRecord {
	return servicemanager.ServiceRecord{
		ServiceID:  serviceID,
		ProviderID: "provider1",
		Version:    version,
		ImagePath:  "/srv/" + serviceID,
		Timestamp:  time.Now(),
		State:      servicemanager.StateActive,
		Size:       512,
	}
}

func TestAddUpdateRemove(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	rec := record("service1", "1.0.0")
	require.NoError(t, store.AddService(ctx, rec))

	err := store.AddService(ctx, rec)
	assert.Equal(t, servicemanager.ErrAlreadyExist, servicemanager.CodeOf(err))

	rec.State = servicemanager.StateCached
	require.NoError(t, store.UpdateService(ctx, rec))

	records, err := store.GetServiceVersions(ctx, "service1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, servicemanager.StateCached, records[0].State)

	require.NoError(t, store.RemoveService(ctx, "service1", "1.0.0"))

	err = store.RemoveService(ctx, "service1", "1.0.0")
	assert.Equal(t, servicemanager.ErrNotFound, servicemanager.CodeOf(err))

	err = store.UpdateService(ctx, rec)
	assert.Equal(t, servicemanager.ErrNotFound, servicemanager.CodeOf(err))
}

func TestVersionsScopedAndSorted(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	require.NoError(t, store.AddService(ctx, record("service1", "2.0.0")))
	require.NoError(t, store.AddService(ctx, record("service1", "1.0.0")))
	require.NoError(t, store.AddService(ctx, record("service10", "1.0.0")))

	records, err := store.GetServiceVersions(ctx, "service1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "1.0.0", records[0].Version)
	assert.Equal(t, "2.0.0", records[1].Version)

	all, err := store.GetAllServices(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	require.NoError(t, store.AddService(ctx, record("service1", "1.0.0")))

	records, err := store.GetAllServices(ctx)
	require.NoError(t, err)
	records[0].State = servicemanager.StateCached

	again, err := store.GetAllServices(ctx)
	require.NoError(t, err)
	assert.Equal(t, servicemanager.StateActive, again[0].State)
}

package badger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/bundled/pkg/servicemanager"
	"github.com/marmos91/bundled/pkg/store/service/badger"
)

func newStore(t *testing.T) *badger.BadgerServiceStore {
	t.Helper()

	store, err := badger.New(context.Background(), t.TempDir())
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close() })

	return store
}

func record(serviceID, version string) servicemanager.ServiceRecord {
	return servicemanager.ServiceRecord{
		ServiceID:      serviceID,
		ProviderID:     "provider1",
		Version:        version,
		ImagePath:      "/var/lib/bundled/services/" + serviceID,
		ManifestDigest: "sha256:abcdef",
		Timestamp:      time.Now().UTC().Truncate(time.Second),
		State:          servicemanager.StateActive,
		Size:           1024,
		GID:            5000,
	}
}

func TestAddAndGetAllServices(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddService(ctx, record("service1", "1.0.0")))
	require.NoError(t, store.AddService(ctx, record("service1", "2.0.0")))
	require.NoError(t, store.AddService(ctx, record("service2", "1.0.0")))

	records, err := store.GetAllServices(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestAddDuplicate(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddService(ctx, record("service1", "1.0.0")))

	err := store.AddService(ctx, record("service1", "1.0.0"))
	require.Error(t, err)
	assert.Equal(t, servicemanager.ErrAlreadyExist, servicemanager.CodeOf(err))

	// Same id, different version is fine.
	require.NoError(t, store.AddService(ctx, record("service1", "1.0.1")))
}

func TestUpdateService(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	rec := record("service1", "1.0.0")
	require.NoError(t, store.AddService(ctx, rec))

	rec.State = servicemanager.StateCached
	require.NoError(t, store.UpdateService(ctx, rec))

	records, err := store.GetServiceVersions(ctx, "service1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, servicemanager.StateCached, records[0].State)
}

func TestUpdateMissingService(t *testing.T) {
	store := newStore(t)

	err := store.UpdateService(context.Background(), record("service1", "1.0.0"))
	require.Error(t, err)
	assert.Equal(t, servicemanager.ErrNotFound, servicemanager.CodeOf(err))
}

func TestRemoveService(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddService(ctx, record("service1", "1.0.0")))
	require.NoError(t, store.RemoveService(ctx, "service1", "1.0.0"))

	err := store.RemoveService(ctx, "service1", "1.0.0")
	require.Error(t, err)
	assert.Equal(t, servicemanager.ErrNotFound, servicemanager.CodeOf(err))
}

func TestGetServiceVersionsScopedToID(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddService(ctx, record("service1", "1.0.0")))
	require.NoError(t, store.AddService(ctx, record("service1", "2.0.0")))
	require.NoError(t, store.AddService(ctx, record("service10", "1.0.0")))

	records, err := store.GetServiceVersions(ctx, "service1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, r := range records {
		assert.Equal(t, "service1", r.ServiceID)
	}
}

func TestRecordsPersistAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := badger.New(ctx, dir)
	require.NoError(t, err)

	want := record("service1", "1.0.0")
	require.NoError(t, store.AddService(ctx, want))
	require.NoError(t, store.Close())

	store, err = badger.New(ctx, dir)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	records, err := store.GetAllServices(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, want.ServiceID, records[0].ServiceID)
	assert.Equal(t, want.ManifestDigest, records[0].ManifestDigest)
	assert.True(t, want.Timestamp.Equal(records[0].Timestamp))
}

package servicemanager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/marmos91/bundled/internal/logger"
	"github.com/marmos91/bundled/pkg/image"
	"github.com/marmos91/bundled/pkg/spaceallocator"
)

// Manager reconciles installed service bundles against desired sets.
//
// All mutating entry points are serialized by one coarse lock: concurrent
// top-level calls on the same Manager are not supported and block each other.
type Manager struct {
	cfg           Config
	storage       Storage
	downloader    Downloader
	imageHandler  ImageHandler
	serviceSpace  spaceallocator.Allocator
	downloadSpace spaceallocator.Allocator
	metrics       Metrics

	mu sync.Mutex

	timerMu sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a Manager and recovers local state: it ensures the services
// directory exists, clears the download staging area, charges persisted
// record sizes against the space budget, re-registers cached records as
// outdated allocator items, drops records whose image directories are
// damaged, and runs an initial TTL sweep.
func New(
	ctx context.Context,
	cfg Config,
	storage Storage,
	dl Downloader,
	imageHandler ImageHandler,
	serviceSpace spaceallocator.Allocator,
	downloadSpace spaceallocator.Allocator,
	metrics Metrics,
) (*Manager, error) {
	if cfg.MaxConcurrentInstalls <= 0 {
		cfg.MaxConcurrentInstalls = DefaultMaxConcurrentInstalls
	}

	m := &Manager{
		cfg:           cfg,
		storage:       storage,
		downloader:    dl,
		imageHandler:  imageHandler,
		serviceSpace:  serviceSpace,
		downloadSpace: downloadSpace,
		metrics:       metrics,
	}

	if err := os.MkdirAll(cfg.ServicesDir, 0o755); err != nil {
		return nil, WrapError(ErrFailed, "can't create services dir", err)
	}

	if err := os.RemoveAll(cfg.DownloadDir); err != nil {
		return nil, WrapError(ErrFailed, "can't clear download dir", err)
	}

	if err := os.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
		return nil, WrapError(ErrFailed, "can't create download dir", err)
	}

	records, err := storage.GetAllServices(ctx)
	if err != nil {
		return nil, WrapError(ErrFailed, "can't load services", err)
	}

	for _, record := range records {
		// Persisted bundles already occupy disk space: charge them
		// before any recovery removal frees their size back.
		serviceSpace.AccountSpace(record.Size)

		if record.State != StateCached {
			continue
		}

		if err := serviceSpace.AddOutdatedItem(record.AllocatorItemID(), record.Size, record.Timestamp); err != nil {
			return nil, WrapError(ErrFailed, "can't register outdated item", err)
		}
	}

	if err := m.removeDamagedServiceFolders(ctx, records); err != nil {
		logger.Error("Can't remove damaged service folders", logger.KeyError, err)
	}

	if err := m.removeOutdatedServices(ctx); err != nil {
		logger.Error("Can't remove outdated services", logger.KeyError, err)
	}

	return m, nil
}

// Start launches the background TTL sweep timer.
func (m *Manager) Start() error {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()

	if m.stopCh != nil {
		return NewError(ErrFailed, "service manager already started")
	}

	if m.cfg.RemoveOutdatedPeriod <= 0 {
		return NewError(ErrFailed, "remove outdated period not configured")
	}

	logger.Debug("Start service manager")

	m.stopCh = make(chan struct{})
	m.wg.Add(1)

	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.cfg.RemoveOutdatedPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.mu.Lock()
				if err := m.removeOutdatedServices(context.Background()); err != nil {
					logger.Error("Failed to remove outdated services", logger.KeyError, err)
				}
				m.mu.Unlock()
			}
		}
	}()

	return nil
}

// Stop halts the TTL timer and waits for it to finish. In-flight install
// workers belong to a ProcessDesiredServices call and are drained by that
// call, not here.
func (m *Manager) Stop() error {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()

	if m.stopCh == nil {
		return nil
	}

	logger.Debug("Stop service manager")

	close(m.stopCh)
	m.wg.Wait()
	m.stopCh = nil

	return nil
}

// ProcessDesiredServices reconciles storage against the desired set.
//
// It returns one ServiceStatus per desired entry, in input order, even when
// the pass itself fails with a fatal bookkeeping error. Per-service install
// and validation failures land in that service's status and do not abort
// the pass.
func (m *Manager) ProcessDesiredServices(ctx context.Context, desired []DesiredService) ([]ServiceStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	logger.Debug("Process desired services", logger.KeyCount, len(desired))

	statuses := make([]ServiceStatus, len(desired))
	for i, d := range desired {
		statuses[i] = ServiceStatus{ServiceID: d.ServiceID, Version: d.Version, Status: StatusInstalling}
	}

	records, err := m.storage.GetAllServices(ctx)
	if err != nil {
		return statuses, WrapError(ErrFailed, "can't load services", err)
	}

	// Remaining desired entries, by index into desired/statuses.
	remaining := make([]int, 0, len(desired))
	for i := range desired {
		remaining = append(remaining, i)
	}

	for ri, record := range records {
		matched := -1
		for pos, di := range remaining {
			if desired[di].ServiceID == record.ServiceID && desired[di].Version == record.Version {
				matched = pos
				break
			}
		}

		if matched < 0 {
			if record.State == StateCached {
				continue
			}

			updated, err := m.setServiceState(ctx, record, StateCached)
			if err != nil {
				return statuses, err
			}
			records[ri] = updated

			continue
		}

		di := remaining[matched]
		remaining = append(remaining[:matched], remaining[matched+1:]...)

		if record.State != StateActive {
			updated, err := m.setServiceState(ctx, record, StateActive)
			if err != nil {
				return statuses, err
			}
			records[ri] = updated
		}

		statuses[di].Status = StatusInstalled

		if err := m.ValidateService(ctx, records[ri]); err != nil {
			logger.Error("Service validation failed",
				logger.KeyServiceID, record.ServiceID,
				logger.KeyVersion, record.Version,
				logger.KeyError, err)

			statuses[di].Status = StatusError
			statuses[di].Err = err
		}
	}

	if err := m.makeRecordHeadroom(ctx, records, len(remaining)); err != nil {
		return statuses, err
	}

	m.installServices(ctx, desired, remaining, statuses)

	seen := make(map[string]bool, len(desired))
	for _, d := range desired {
		if seen[d.ServiceID] {
			continue
		}
		seen[d.ServiceID] = true

		if err := m.truncateServiceVersions(ctx, d.ServiceID); err != nil {
			return statuses, err
		}
	}

	m.reportStoredRecords(ctx)

	return statuses, nil
}

// GetService returns the non-cached record for a service id.
func (m *Manager) GetService(ctx context.Context, serviceID string) (ServiceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, err := m.storage.GetAllServices(ctx)
	if err != nil {
		return ServiceRecord{}, WrapError(ErrFailed, "can't load services", err)
	}

	sort.Slice(records, func(i, j int) bool {
		return compareVersions(records[i].Version, records[j].Version) < 0
	})

	for _, record := range records {
		if record.ServiceID == serviceID && record.State != StateCached {
			return record, nil
		}
	}

	return ServiceRecord{}, NewError(ErrNotFound, fmt.Sprintf("service %q not found", serviceID))
}

// GetAllServices returns every stored service record.
func (m *Manager) GetAllServices(ctx context.Context) ([]ServiceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, err := m.storage.GetAllServices(ctx)
	if err != nil {
		return nil, WrapError(ErrFailed, "can't load services", err)
	}

	return records, nil
}

// GetImageParts resolves the blob paths of an installed service bundle.
func (m *Manager) GetImageParts(record ServiceRecord) (*image.ImageParts, error) {
	logger.Debug("Get image parts", logger.KeyServiceID, record.ServiceID)

	manifest, err := image.LoadManifest(filepath.Join(record.ImagePath, image.ManifestFile))
	if err != nil {
		return nil, WrapError(ErrFailed, "can't load manifest", err)
	}

	parts, err := image.GetImagePartsFromManifest(manifest)
	if err != nil {
		return nil, WrapError(ErrFailed, "can't get image parts", err)
	}

	parts.ImageConfigPath = filepath.Join(record.ImagePath, image.BlobsDir, parts.ImageConfigPath)
	parts.ServiceConfigPath = filepath.Join(record.ImagePath, image.BlobsDir, parts.ServiceConfigPath)
	parts.ServiceFSPath = filepath.Join(record.ImagePath, image.BlobsDir, parts.ServiceFSPath)

	return parts, nil
}

// ValidateService recomputes the manifest digest of an installed bundle,
// compares it against the stored digest, and delegates content validation to
// the image handler.
func (m *Manager) ValidateService(ctx context.Context, record ServiceRecord) error {
	logger.Debug("Validate service",
		logger.KeyServiceID, record.ServiceID, logger.KeyVersion, record.Version)

	digest, err := m.imageHandler.CalculateDigest(ctx, filepath.Join(record.ImagePath, image.ManifestFile))
	if err != nil {
		return WrapError(ErrFailed, "can't calculate manifest digest", err)
	}

	if digest != record.ManifestDigest {
		return NewError(ErrInvalidChecksum, "manifest checksum mismatch")
	}

	if err := m.imageHandler.ValidateService(ctx, record.ImagePath); err != nil {
		return WrapError(ErrFailed, "service validation failed", err)
	}

	return nil
}

// RemoveItem removes a service version by its composite
// "<serviceID>_<version>" id.
func (m *Manager) RemoveItem(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	serviceID, version, err := splitItemID(id)
	if err != nil {
		return err
	}

	records, err := m.storage.GetServiceVersions(ctx, serviceID)
	if err != nil {
		return WrapError(ErrFailed, "can't get service versions", err)
	}

	for _, record := range records {
		if record.Version == version {
			return m.removeService(ctx, record, TriggerExplicit)
		}
	}

	return NewError(ErrNotFound, fmt.Sprintf("service %q not found", id))
}

// ReclaimOutdatedItem removes the service behind an outdated allocator item.
// It is invoked by the space allocator from inside an install task, which
// already runs under the reconciliation lock, so it must not lock itself.
func (m *Manager) ReclaimOutdatedItem(id string) error {
	ctx := context.Background()

	serviceID, version, err := splitItemID(id)
	if err != nil {
		return err
	}

	records, err := m.storage.GetServiceVersions(ctx, serviceID)
	if err != nil {
		return WrapError(ErrFailed, "can't get service versions", err)
	}

	for _, record := range records {
		if record.Version == version {
			return m.removeService(ctx, record, TriggerPressure)
		}
	}

	return NewError(ErrNotFound, fmt.Sprintf("service %q not found", id))
}

// setServiceState persists a state transition and keeps the outdated-item
// registry in sync: demotion to cached registers the record as reclaimable,
// promotion to active clears the registration.
func (m *Manager) setServiceState(ctx context.Context, record ServiceRecord, state ServiceState) (ServiceRecord, error) {
	logger.Debug("Set service state",
		logger.KeyServiceID, record.ServiceID,
		logger.KeyVersion, record.Version,
		logger.KeyState, state.String())

	updated := record
	updated.State = state
	updated.Timestamp = time.Now()

	if err := m.storage.UpdateService(ctx, updated); err != nil {
		return record, WrapError(ErrFailed, "can't update service", err)
	}

	id := record.AllocatorItemID()

	if state == StateCached {
		if err := m.serviceSpace.AddOutdatedItem(id, record.Size, record.Timestamp); err != nil {
			return record, WrapError(ErrFailed, "can't add outdated item", err)
		}

		return updated, nil
	}

	if err := m.serviceSpace.RestoreOutdatedItem(id); err != nil && !errors.Is(err, spaceallocator.ErrNotFound) {
		return record, WrapError(ErrFailed, "can't restore outdated item", err)
	}

	return updated, nil
}

// removeService is the single removal primitive shared by every eviction
// trigger: delete the image directory, clear the outdated registration of a
// cached record, return the committed space, and drop the storage row.
func (m *Manager) removeService(ctx context.Context, record ServiceRecord, trigger string) error {
	logger.Info("Remove service",
		logger.KeyServiceID, record.ServiceID,
		logger.KeyProviderID, record.ProviderID,
		logger.KeyVersion, record.Version,
		logger.KeyPath, record.ImagePath,
		"trigger", trigger)

	if err := os.RemoveAll(record.ImagePath); err != nil {
		logger.Error("Can't remove service directory",
			logger.KeyPath, record.ImagePath, logger.KeyError, err)
	}

	if record.State == StateCached {
		if err := m.serviceSpace.RestoreOutdatedItem(record.AllocatorItemID()); err != nil &&
			!errors.Is(err, spaceallocator.ErrNotFound) {
			logger.Error("Can't restore outdated item",
				logger.KeyServiceID, record.ServiceID, logger.KeyError, err)
		}
	}

	m.serviceSpace.FreeSpace(record.Size)

	if err := m.storage.RemoveService(ctx, record.ServiceID, record.Version); err != nil {
		return WrapError(ErrFailed, "can't remove service record", err)
	}

	if m.metrics != nil {
		m.metrics.ServiceRemoved(trigger)
	}

	logger.Debug("Service successfully removed",
		logger.KeyServiceID, record.ServiceID, logger.KeyVersion, record.Version)

	return nil
}

// removeDamagedServiceFolders drops records whose image directory is gone
// and directories in the services dir that no record claims.
func (m *Manager) removeDamagedServiceFolders(ctx context.Context, records []ServiceRecord) error {
	logger.Debug("Remove damaged service folders")

	claimed := make(map[string]bool, len(records))

	for _, record := range records {
		if info, err := os.Stat(record.ImagePath); err == nil && info.IsDir() {
			claimed[record.ImagePath] = true
			continue
		}

		logger.Warn("Service image missing", logger.KeyPath, record.ImagePath)

		if err := m.removeService(ctx, record, TriggerRecovery); err != nil {
			return err
		}
	}

	entries, err := os.ReadDir(m.cfg.ServicesDir)
	if err != nil {
		return WrapError(ErrFailed, "can't read services dir", err)
	}

	for _, entry := range entries {
		fullPath := filepath.Join(m.cfg.ServicesDir, entry.Name())
		if claimed[fullPath] {
			continue
		}

		logger.Warn("Service directory missing in storage", logger.KeyPath, fullPath)

		if err := os.RemoveAll(fullPath); err != nil {
			return WrapError(ErrFailed, "can't remove unclaimed directory", err)
		}
	}

	return nil
}

func (m *Manager) reportStoredRecords(ctx context.Context) {
	if m.metrics == nil {
		return
	}

	records, err := m.storage.GetAllServices(ctx)
	if err != nil {
		return
	}

	m.metrics.SetStoredRecords(len(records))
}

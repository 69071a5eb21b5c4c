package servicemanager

import (
	"context"
	"sort"
	"time"

	"github.com/marmos91/bundled/internal/logger"
)

// removeOutdatedServices drops every cached record whose TTL has expired.
// Invoked by the background timer and once during startup recovery. The
// caller holds the reconciliation lock.
func (m *Manager) removeOutdatedServices(ctx context.Context) error {
	logger.Debug("Remove outdated services")

	records, err := m.storage.GetAllServices(ctx)
	if err != nil {
		return WrapError(ErrFailed, "can't load services", err)
	}

	now := time.Now()

	for _, record := range records {
		if record.State != StateCached {
			continue
		}

		if now.Before(record.Timestamp.Add(m.cfg.TTL)) {
			continue
		}

		logger.Debug("Service outdated",
			logger.KeyServiceID, record.ServiceID, logger.KeyVersion, record.Version)

		if err := m.removeService(ctx, record, TriggerTTL); err != nil {
			return err
		}
	}

	return nil
}

// makeRecordHeadroom evicts cached records until the needed new records fit under
// the configured record cap. Eviction order is lexicographic service id,
// oldest version first. Fails when no cached record remains to evict.
func (m *Manager) makeRecordHeadroom(ctx context.Context, records []ServiceRecord, need int) error {
	if m.cfg.MaxServiceRecords <= 0 {
		return nil
	}

	stored := len(records)
	evicted := make(map[string]bool)

	for stored+need > m.cfg.MaxServiceRecords {
		candidate := -1

		for i, record := range records {
			if record.State != StateCached || evicted[record.AllocatorItemID()] {
				continue
			}

			if candidate < 0 || evictsBefore(record, records[candidate]) {
				candidate = i
			}
		}

		if candidate < 0 {
			return NewError(ErrFailed, "can't evict services: no cached records")
		}

		if err := m.removeService(ctx, records[candidate], TriggerPressure); err != nil {
			return err
		}

		evicted[records[candidate].AllocatorItemID()] = true
		stored--
	}

	return nil
}

// evictsBefore orders pressure-eviction candidates.
func evictsBefore(a, b ServiceRecord) bool {
	if a.ServiceID != b.ServiceID {
		return a.ServiceID < b.ServiceID
	}

	return compareVersions(a.Version, b.Version) < 0
}

// truncateServiceVersions removes the oldest non-active versions of a
// service until at most RetainedVersions remain. Active records are exempt.
func (m *Manager) truncateServiceVersions(ctx context.Context, serviceID string) error {
	records, err := m.storage.GetServiceVersions(ctx, serviceID)
	if err != nil {
		return WrapError(ErrFailed, "can't get service versions", err)
	}

	sort.Slice(records, func(i, j int) bool {
		return compareVersions(records[i].Version, records[j].Version) < 0
	})

	retained := 0
	for _, record := range records {
		if record.State != StateActive {
			retained++
		}
	}

	for _, record := range records {
		if retained <= m.cfg.RetainedVersions {
			break
		}

		if record.State == StateActive {
			continue
		}

		logger.Debug("Truncate service version",
			logger.KeyServiceID, record.ServiceID, logger.KeyVersion, record.Version)

		if err := m.removeService(ctx, record, TriggerTruncation); err != nil {
			return err
		}

		retained--
	}

	return nil
}

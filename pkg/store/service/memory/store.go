// Package memory provides an in-memory service record store. It implements
// the same contract as the Badger store and is used by tests and ephemeral
// nodes that do not persist state across restarts.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/marmos91/bundled/pkg/servicemanager"
)

// MemoryServiceStore keeps service records in a map keyed by
// (serviceID, version).
type MemoryServiceStore struct {
	mu      sync.RWMutex
	records map[string]servicemanager.ServiceRecord
}

// New creates an empty MemoryServiceStore.
func New() *MemoryServiceStore {
	return &MemoryServiceStore{records: make(map[string]servicemanager.ServiceRecord)}
}

func key(serviceID, version string) string {
	return serviceID + "\x00" + version
}

// AddService stores a new record. Duplicate (serviceID, version) pairs are
// rejected with an ErrAlreadyExist-coded error.
func (s *MemoryServiceStore) AddService(ctx context.Context, record servicemanager.ServiceRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(record.ServiceID, record.Version)
	if _, exists := s.records[k]; exists {
		return servicemanager.NewError(servicemanager.ErrAlreadyExist,
			fmt.Sprintf("service %s %s already exists", record.ServiceID, record.Version))
	}

	s.records[k] = record

	return nil
}

// UpdateService replaces an existing record.
func (s *MemoryServiceStore) UpdateService(ctx context.Context, record servicemanager.ServiceRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(record.ServiceID, record.Version)
	if _, exists := s.records[k]; !exists {
		return servicemanager.NewError(servicemanager.ErrNotFound,
			fmt.Sprintf("service %s %s not found", record.ServiceID, record.Version))
	}

	s.records[k] = record

	return nil
}

// RemoveService deletes a record by id and version.
func (s *MemoryServiceStore) RemoveService(ctx context.Context, serviceID, version string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(serviceID, version)
	if _, exists := s.records[k]; !exists {
		return servicemanager.NewError(servicemanager.ErrNotFound,
			fmt.Sprintf("service %s %s not found", serviceID, version))
	}

	delete(s.records, k)

	return nil
}

// GetServiceVersions returns every record for a service id.
func (s *MemoryServiceStore) GetServiceVersions(ctx context.Context, serviceID string) ([]servicemanager.ServiceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []servicemanager.ServiceRecord
	for _, record := range s.records {
		if record.ServiceID == serviceID {
			records = append(records, record)
		}
	}

	sortRecords(records)

	return records, nil
}

// GetAllServices returns every stored record.
func (s *MemoryServiceStore) GetAllServices(ctx context.Context) ([]servicemanager.ServiceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]servicemanager.ServiceRecord, 0, len(s.records))
	for _, record := range s.records {
		records = append(records, record)
	}

	sortRecords(records)

	return records, nil
}

// sortRecords gives map iteration a stable order for callers and tests.
func sortRecords(records []servicemanager.ServiceRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].ServiceID != records[j].ServiceID {
			return records[i].ServiceID < records[j].ServiceID
		}
		return records[i].Version < records[j].Version
	})
}

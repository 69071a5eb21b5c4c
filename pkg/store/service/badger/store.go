// Package badger provides a BadgerDB-backed service record store.
//
// This is the durable store for on-device deployments: records survive
// restarts and the database lives next to the managed bundle directories.
//
// Key layout: one namespace, "svc:<serviceID>:<version>", holding the
// JSON-encoded record. Service ids and versions never contain ':' in
// practice (they are DNS-style names and semantic versions), so prefix scans
// over "svc:<serviceID>:" enumerate exactly one service's versions.
package badger

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/bundled/internal/logger"
	"github.com/marmos91/bundled/pkg/servicemanager"
)

const (
	prefixService = "svc:"

	// gcDiscardRatio is the value log garbage collection threshold used
	// when the store is closed.
	gcDiscardRatio = 0.5
)

// BadgerServiceStore implements servicemanager.Storage on BadgerDB.
type BadgerServiceStore struct {
	db *badger.DB
}

// New opens (or creates) a Badger database at path.
func New(ctx context.Context, path string) (*BadgerServiceStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(path).WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %q: %w", path, err)
	}

	return &BadgerServiceStore{db: db}, nil
}

// Close runs a best-effort value log GC and closes the database.
func (s *BadgerServiceStore) Close() error {
	if err := s.db.RunValueLogGC(gcDiscardRatio); err != nil &&
		!errors.Is(err, badger.ErrNoRewrite) {
		logger.Warn("Badger value log GC failed", logger.KeyError, err)
	}

	return s.db.Close()
}

func keyService(serviceID, version string) []byte {
	return []byte(prefixService + serviceID + ":" + version)
}

func keyServicePrefix(serviceID string) []byte {
	return []byte(prefixService + serviceID + ":")
}

// AddService stores a new record, rejecting duplicates.
func (s *BadgerServiceStore) AddService(ctx context.Context, record servicemanager.ServiceRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		k := keyService(record.ServiceID, record.Version)

		_, err := txn.Get(k)
		if err == nil {
			return servicemanager.NewError(servicemanager.ErrAlreadyExist,
				fmt.Sprintf("service %s %s already exists", record.ServiceID, record.Version))
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("failed to check service existence: %w", err)
		}

		data, err := encodeRecord(record)
		if err != nil {
			return err
		}

		return txn.Set(k, data)
	})
}

// UpdateService replaces an existing record.
func (s *BadgerServiceStore) UpdateService(ctx context.Context, record servicemanager.ServiceRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		k := keyService(record.ServiceID, record.Version)

		if _, err := txn.Get(k); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return servicemanager.NewError(servicemanager.ErrNotFound,
					fmt.Sprintf("service %s %s not found", record.ServiceID, record.Version))
			}

			return fmt.Errorf("failed to get service: %w", err)
		}

		data, err := encodeRecord(record)
		if err != nil {
			return err
		}

		return txn.Set(k, data)
	})
}

// RemoveService deletes a record by id and version.
func (s *BadgerServiceStore) RemoveService(ctx context.Context, serviceID, version string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		k := keyService(serviceID, version)

		if _, err := txn.Get(k); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return servicemanager.NewError(servicemanager.ErrNotFound,
					fmt.Sprintf("service %s %s not found", serviceID, version))
			}

			return fmt.Errorf("failed to get service: %w", err)
		}

		return txn.Delete(k)
	})
}

// GetServiceVersions returns every record for a service id.
func (s *BadgerServiceStore) GetServiceVersions(ctx context.Context, serviceID string) ([]servicemanager.ServiceRecord, error) {
	return s.scan(ctx, keyServicePrefix(serviceID))
}

// GetAllServices returns every stored record.
func (s *BadgerServiceStore) GetAllServices(ctx context.Context) ([]servicemanager.ServiceRecord, error) {
	return s.scan(ctx, []byte(prefixService))
}

func (s *BadgerServiceStore) scan(ctx context.Context, prefix []byte) ([]servicemanager.ServiceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var records []servicemanager.ServiceRecord

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				record, err := decodeRecord(val)
				if err != nil {
					return err
				}

				records = append(records, record)

				return nil
			})
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan services: %w", err)
	}

	return records, nil
}

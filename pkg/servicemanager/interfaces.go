package servicemanager

import (
	"context"

	"github.com/marmos91/bundled/pkg/downloader"
	"github.com/marmos91/bundled/pkg/spaceallocator"
)

// Storage is the durable record store for service metadata.
//
// Implementations must keep (ServiceID, Version) unique: AddService returns
// an ErrAlreadyExist-coded error on duplicates, UpdateService and
// RemoveService return ErrNotFound-coded errors for missing records.
type Storage interface {
	AddService(ctx context.Context, record ServiceRecord) error
	UpdateService(ctx context.Context, record ServiceRecord) error
	RemoveService(ctx context.Context, serviceID, version string) error
	GetServiceVersions(ctx context.Context, serviceID string) ([]ServiceRecord, error)
	GetAllServices(ctx context.Context) ([]ServiceRecord, error)
}

// Downloader fetches a remote bundle to a local path.
type Downloader interface {
	Download(ctx context.Context, url, destPath string, kind downloader.ContentKind) error
}

// ImageHandler unpacks, validates, and digests service bundles.
type ImageHandler interface {
	// InstallService unpacks the archive into baseDir and returns the
	// installed path together with the space reservation covering the
	// unpacked size. The caller owns the reservation: it must Accept on
	// success or Release on failure.
	InstallService(ctx context.Context, archivePath, baseDir string, desired DesiredService) (string, spaceallocator.Space, error)

	// ValidateService checks the integrity of an installed bundle.
	ValidateService(ctx context.Context, path string) error

	// CalculateDigest computes the content digest of a file.
	CalculateDigest(ctx context.Context, path string) (string, error)
}

// Metrics receives service manager events. A nil Metrics disables reporting.
type Metrics interface {
	ServiceInstalled()
	ServiceInstallFailed()
	ServiceRemoved(trigger string)
	SetStoredRecords(count int)
}

// Eviction trigger labels reported to Metrics.ServiceRemoved.
const (
	TriggerTTL        = "ttl"
	TriggerPressure   = "pressure"
	TriggerTruncation = "truncation"
	TriggerExplicit   = "explicit"
	TriggerRecovery   = "recovery"
)

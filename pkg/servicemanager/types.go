// Package servicemanager reconciles local bundle storage against a desired
// set of versioned service bundles: it downloads, unpacks, and registers
// missing bundles, tracks their disk-space consumption, and evicts unneeded
// or expired ones without ever exceeding the configured storage budget.
package servicemanager

import (
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

// ServiceState is the lifecycle state of an installed service record.
type ServiceState int

const (
	// StateActive marks a version currently required by the desired set.
	StateActive ServiceState = iota

	// StateCached marks a previously active version kept on disk for
	// reuse; cached versions are evictable.
	StateCached

	// StatePending marks a version whose install is in flight.
	StatePending
)

func (s ServiceState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateCached:
		return "cached"
	case StatePending:
		return "pending"
	default:
		return "unknown"
	}
}

// ServiceRecord is one installed service version. (ServiceID, Version) is
// unique across storage.
type ServiceRecord struct {
	ServiceID      string       `json:"serviceId"`
	ProviderID     string       `json:"providerId"`
	Version        string       `json:"version"`
	ImagePath      string       `json:"imagePath"`
	ManifestDigest string       `json:"manifestDigest"`
	Timestamp      time.Time    `json:"timestamp"`
	State          ServiceState `json:"state"`
	Size           uint64       `json:"size"`
	GID            uint32       `json:"gid"`
}

// AllocatorItemID returns the composite id used for outdated-item
// bookkeeping and explicit removal.
func (r ServiceRecord) AllocatorItemID() string {
	return r.ServiceID + "_" + r.Version
}

// DesiredService is one entry of the orchestrator's desired set.
type DesiredService struct {
	ServiceID  string
	ProviderID string
	Version    string
	Size       uint64
	URL        string
	GID        uint32
}

// InstallStatus is the per-service outcome of a reconciliation pass.
type InstallStatus int

const (
	// StatusInstalling marks a service whose install was scheduled.
	StatusInstalling InstallStatus = iota

	// StatusInstalled marks a service active on disk.
	StatusInstalled

	// StatusError marks a failed install or validation.
	StatusError
)

func (s InstallStatus) String() string {
	switch s {
	case StatusInstalling:
		return "installing"
	case StatusInstalled:
		return "installed"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// ServiceStatus reports the outcome for one desired service.
type ServiceStatus struct {
	ServiceID string
	Version   string
	Status    InstallStatus
	Err       error
}

// Config holds service manager settings.
type Config struct {
	// ServicesDir is the root of installed bundles.
	ServicesDir string

	// DownloadDir is the download staging area; cleared on startup.
	DownloadDir string

	// TTL is how long a cached service version is kept before the
	// background sweep removes it.
	TTL time.Duration

	// RemoveOutdatedPeriod is the background sweep interval.
	RemoveOutdatedPeriod time.Duration

	// MaxConcurrentInstalls bounds the install worker pool.
	MaxConcurrentInstalls int

	// MaxServiceRecords caps the total number of stored records. Zero
	// disables the cap.
	MaxServiceRecords int

	// RetainedVersions bounds the number of non-active versions kept per
	// service id after a reconciliation pass.
	RetainedVersions int
}

// DefaultMaxConcurrentInstalls is the install pool width when unset.
const DefaultMaxConcurrentInstalls = 5

// splitItemID splits a composite "<serviceID>_<version>" id.
func splitItemID(id string) (serviceID, version string, err error) {
	serviceID, version, ok := strings.Cut(id, "_")
	if !ok || serviceID == "" || version == "" {
		return "", "", NewError(ErrFailed, fmt.Sprintf("unexpected service id format: %q", id))
	}

	return serviceID, version, nil
}

// compareVersions orders two semantic version strings. Versions that fail to
// parse sort lexicographically after valid ones, so malformed records still
// get a stable order.
func compareVersions(a, b string) int {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)

	switch {
	case errA == nil && errB == nil:
		return va.Compare(vb)
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	default:
		return strings.Compare(a, b)
	}
}

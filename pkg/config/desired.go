package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/marmos91/bundled/pkg/servicemanager"
)

// desiredFile is the on-disk desired-state document applied by the daemon.
type desiredFile struct {
	Services []desiredEntry `yaml:"services"`
}

type desiredEntry struct {
	ServiceID  string `yaml:"service_id"`
	ProviderID string `yaml:"provider_id"`
	Version    string `yaml:"version"`
	Size       uint64 `yaml:"size"`
	URL        string `yaml:"url"`
	GID        uint32 `yaml:"gid"`
}

// LoadDesiredServices reads a desired-state YAML file and converts it into
// the service manager's input set. Every entry needs a service id, a version,
// and a source URL.
func LoadDesiredServices(path string) ([]servicemanager.DesiredService, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read desired state file: %w", err)
	}

	var doc desiredFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse desired state file: %w", err)
	}

	desired := make([]servicemanager.DesiredService, 0, len(doc.Services))

	for i, entry := range doc.Services {
		if entry.ServiceID == "" || entry.Version == "" || entry.URL == "" {
			return nil, fmt.Errorf("desired service %d: service_id, version, and url are required", i)
		}

		desired = append(desired, servicemanager.DesiredService{
			ServiceID:  entry.ServiceID,
			ProviderID: entry.ProviderID,
			Version:    entry.Version,
			Size:       entry.Size,
			URL:        entry.URL,
			GID:        entry.GID,
		})
	}

	return desired, nil
}

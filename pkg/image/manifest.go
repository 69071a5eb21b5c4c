// Package image models the on-disk layout of an installed service bundle:
// an OCI-style manifest plus content-addressed blobs stored under
// blobs/<algorithm>/<hex>.
package image

import (
	"encoding/json"
	"fmt"
	"os"
)

const (
	// ManifestFile is the manifest file name inside an installed bundle.
	ManifestFile = "manifest.json"

	// BlobsDir is the blob directory name inside an installed bundle.
	BlobsDir = "blobs"
)

// Descriptor references a content-addressed blob.
type Descriptor struct {
	MediaType string `json:"mediaType,omitempty"`
	Digest    string `json:"digest"`
	Size      int64  `json:"size,omitempty"`
}

// Manifest describes the contents of a service bundle.
//
// Config is the image runtime configuration, ServiceConfig the
// service-specific configuration blob, and Layers the filesystem layers.
// The first layer is the service root filesystem.
type Manifest struct {
	SchemaVersion int          `json:"schemaVersion"`
	MediaType     string       `json:"mediaType,omitempty"`
	Config        Descriptor   `json:"config"`
	ServiceConfig *Descriptor  `json:"serviceConfig,omitempty"`
	Layers        []Descriptor `json:"layers"`
}

// LoadManifest reads and decodes a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}

	return &manifest, nil
}

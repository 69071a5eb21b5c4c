package image

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ImageParts holds blob paths derived from a bundle manifest. Paths are
// relative to the bundle's blobs directory until resolved by the caller.
type ImageParts struct {
	// ImageConfigPath is the image config blob.
	ImageConfigPath string

	// ServiceConfigPath is the service config blob.
	ServiceConfigPath string

	// ServiceFSPath is the root filesystem blob (first layer).
	ServiceFSPath string

	// LayerDigests are the digests of the remaining layers, in order.
	LayerDigests []string
}

// GetImagePartsFromManifest derives blob paths from a manifest.
// The manifest must carry a service config and at least one layer.
func GetImagePartsFromManifest(manifest *Manifest) (*ImageParts, error) {
	imageConfig, err := DigestToPath(manifest.Config.Digest)
	if err != nil {
		return nil, err
	}

	if manifest.ServiceConfig == nil {
		return nil, fmt.Errorf("manifest has no service config")
	}

	serviceConfig, err := DigestToPath(manifest.ServiceConfig.Digest)
	if err != nil {
		return nil, err
	}

	if len(manifest.Layers) == 0 {
		return nil, fmt.Errorf("manifest has no layers")
	}

	serviceFS, err := DigestToPath(manifest.Layers[0].Digest)
	if err != nil {
		return nil, err
	}

	parts := &ImageParts{
		ImageConfigPath:   imageConfig,
		ServiceConfigPath: serviceConfig,
		ServiceFSPath:     serviceFS,
	}

	for _, layer := range manifest.Layers[1:] {
		parts.LayerDigests = append(parts.LayerDigests, layer.Digest)
	}

	return parts, nil
}

// DigestToPath converts a digest of form "algorithm:hex" into the blob path
// segment "algorithm/hex".
func DigestToPath(digest string) (string, error) {
	algorithm, hex, ok := strings.Cut(digest, ":")
	if !ok || algorithm == "" || hex == "" {
		return "", fmt.Errorf("invalid digest format: %q", digest)
	}

	return filepath.Join(algorithm, hex), nil
}

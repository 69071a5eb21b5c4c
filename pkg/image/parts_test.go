package image

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetImagePartsFromManifest(t *testing.T) {
	manifest := &Manifest{
		SchemaVersion: 1,
		Config:        Descriptor{Digest: "sha256:11111111"},
		ServiceConfig: &Descriptor{Digest: "sha256:22222222"},
		Layers: []Descriptor{
			{Digest: "sha256:33333333"},
			{Digest: "sha256:44444444"},
		},
	}

	parts, err := GetImagePartsFromManifest(manifest)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("sha256", "11111111"), parts.ImageConfigPath)
	assert.Equal(t, filepath.Join("sha256", "22222222"), parts.ServiceConfigPath)
	assert.Equal(t, filepath.Join("sha256", "33333333"), parts.ServiceFSPath)
	assert.Equal(t, []string{"sha256:44444444"}, parts.LayerDigests)
}

func TestGetImagePartsNoLayers(t *testing.T) {
	manifest := &Manifest{
		Config:        Descriptor{Digest: "sha256:11111111"},
		ServiceConfig: &Descriptor{Digest: "sha256:22222222"},
	}

	_, err := GetImagePartsFromManifest(manifest)
	assert.Error(t, err)
}

func TestGetImagePartsNoServiceConfig(t *testing.T) {
	manifest := &Manifest{
		Config: Descriptor{Digest: "sha256:11111111"},
		Layers: []Descriptor{{Digest: "sha256:33333333"}},
	}

	_, err := GetImagePartsFromManifest(manifest)
	assert.Error(t, err)
}

func TestDigestToPath(t *testing.T) {
	path, err := DigestToPath("sha256:abcdef")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("sha256", "abcdef"), path)

	for _, digest := range []string{"", "sha256", "sha256:", ":abcdef"} {
		_, err := DigestToPath(digest)
		assert.Error(t, err, "digest %q", digest)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ManifestFile)

	manifest := &Manifest{
		SchemaVersion: 1,
		Config:        Descriptor{Digest: "sha256:aaaa"},
		ServiceConfig: &Descriptor{Digest: "sha256:bbbb"},
		Layers:        []Descriptor{{Digest: "sha256:cccc"}},
	}

	data, err := json.Marshal(manifest)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	loaded, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, manifest, loaded)

	_, err = LoadManifest(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestCalculateFileDigest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blob")
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o644))

	digest, err := CalculateFileDigest(path)
	require.NoError(t, err)
	assert.Equal(t, "sha256:ed7002b439e9ac845f22357d822bac1444730fbdb6016d3ec9432297b9ec9f73", digest)

	again, err := CalculateFileDigest(path)
	require.NoError(t, err)
	assert.Equal(t, digest, again)
}

// Package fshandler installs service bundles onto the local filesystem.
// Bundles are gzipped tar archives holding an image manifest plus a blobs
// tree addressed by digest.
package fshandler

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/marmos91/bundled/internal/logger"
	"github.com/marmos91/bundled/pkg/image"
	"github.com/marmos91/bundled/pkg/servicemanager"
	"github.com/marmos91/bundled/pkg/spaceallocator"
)

// Handler unpacks, validates, and digests service bundles on disk.
type Handler struct {
	alloc spaceallocator.Allocator
}

// New creates a Handler that reserves install space from alloc.
func New(alloc spaceallocator.Allocator) *Handler {
	return &Handler{alloc: alloc}
}

// InstallService unpacks archivePath into baseDir. It measures the unpacked
// size first, reserves it, then extracts. The returned reservation is owned
// by the caller; on any internal failure the reservation and the partial
// directory are cleaned up here and only the error escapes.
func (h *Handler) InstallService(
	ctx context.Context, archivePath, baseDir string, desired servicemanager.DesiredService,
) (string, spaceallocator.Space, error) {
	logger.Debug("Install service image",
		logger.KeyServiceID, desired.ServiceID,
		logger.KeyVersion, desired.Version,
		logger.KeyPath, archivePath)

	size, err := unpackedSize(archivePath)
	if err != nil {
		return "", nil, fmt.Errorf("can't measure archive: %w", err)
	}

	space, err := h.alloc.AllocateSpace(size)
	if err != nil {
		return "", nil, err
	}

	servicePath := filepath.Join(baseDir, desired.ServiceID+"_"+desired.Version)

	if err := extractArchive(ctx, archivePath, servicePath); err != nil {
		if rerr := os.RemoveAll(servicePath); rerr != nil {
			logger.Error("Can't remove partial install",
				logger.KeyPath, servicePath, logger.KeyError, rerr)
		}

		if rerr := space.Release(); rerr != nil {
			logger.Error("Can't release install space", logger.KeyError, rerr)
		}

		return "", nil, fmt.Errorf("can't extract archive: %w", err)
	}

	return servicePath, space, nil
}

// ValidateService checks every blob referenced by the bundle manifest
// against its digest.
func (h *Handler) ValidateService(ctx context.Context, path string) error {
	manifest, err := image.LoadManifest(filepath.Join(path, image.ManifestFile))
	if err != nil {
		return fmt.Errorf("can't load manifest: %w", err)
	}

	descriptors := []image.Descriptor{manifest.Config}
	if manifest.ServiceConfig != nil {
		descriptors = append(descriptors, *manifest.ServiceConfig)
	}
	descriptors = append(descriptors, manifest.Layers...)

	for _, desc := range descriptors {
		if err := ctx.Err(); err != nil {
			return err
		}

		blobRel, err := image.DigestToPath(desc.Digest)
		if err != nil {
			return err
		}

		blobPath := filepath.Join(path, image.BlobsDir, blobRel)

		digest, err := image.CalculateFileDigest(blobPath)
		if err != nil {
			return fmt.Errorf("can't digest blob %q: %w", desc.Digest, err)
		}

		if digest != desc.Digest {
			return fmt.Errorf("blob %q digest mismatch", desc.Digest)
		}
	}

	return nil
}

// CalculateDigest computes the sha256 digest of the file at path.
func (h *Handler) CalculateDigest(_ context.Context, path string) (string, error) {
	return image.CalculateFileDigest(path)
}

// unpackedSize sums regular-file sizes in the archive without extracting.
func unpackedSize(archivePath string) (uint64, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return 0, err
	}
	defer gz.Close()

	var size uint64

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return size, nil
		}
		if err != nil {
			return 0, err
		}

		if header.Typeflag == tar.TypeReg && header.Size > 0 {
			size += uint64(header.Size)
		}
	}
}

func extractArchive(ctx context.Context, archivePath, destDir string) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return err
	}
	defer gz.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}

	tr := tar.NewReader(gz)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		target, err := sanitizePath(destDir, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}

			if err := writeFile(target, tr, header.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		default:
			// Symlinks and special files have no place in a bundle.
			return fmt.Errorf("unsupported archive entry %q (type %d)", header.Name, header.Typeflag)
		}
	}
}

// sanitizePath rejects archive entries that would escape destDir.
func sanitizePath(destDir, name string) (string, error) {
	target := filepath.Join(destDir, name)

	if target != destDir && !strings.HasPrefix(target, destDir+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry %q escapes destination", name)
	}

	return target, nil
}

func writeFile(target string, r io.Reader, perm os.FileMode) error {
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return err
	}

	return out.Close()
}

package servicemanager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/marmos91/bundled/internal/logger"
	"github.com/marmos91/bundled/pkg/downloader"
	"github.com/marmos91/bundled/pkg/image"
	"github.com/marmos91/bundled/pkg/spaceallocator"
)

// installServices runs the install pipeline for the remaining desired
// entries on a bounded worker pool. The pool is created per pass and fully
// drained before returning; each worker writes only its own status slot.
func (m *Manager) installServices(ctx context.Context, desired []DesiredService, remaining []int, statuses []ServiceStatus) {
	if len(remaining) == 0 {
		return
	}

	sem := make(chan struct{}, m.cfg.MaxConcurrentInstalls)
	var wg sync.WaitGroup

	for _, di := range remaining {
		wg.Add(1)
		sem <- struct{}{}

		go func(di int) {
			defer wg.Done()
			defer func() { <-sem }()

			d := desired[di]

			if err := m.installService(ctx, d); err != nil {
				logger.Error("Can't install service",
					logger.KeyServiceID, d.ServiceID,
					logger.KeyVersion, d.Version,
					logger.KeyError, err)

				statuses[di].Status = StatusError
				statuses[di].Err = err

				if m.metrics != nil {
					m.metrics.ServiceInstallFailed()
				}

				return
			}

			statuses[di].Status = StatusInstalled

			if m.metrics != nil {
				m.metrics.ServiceInstalled()
			}
		}(di)
	}

	wg.Wait()
}

// installService downloads, unpacks, and registers one service version.
//
// Space discipline: the download reservation is always released before
// returning, since staging space is never kept. The install reservation is
// accepted exactly once on success and released, together with the partially
// installed directory, on any failure past the unpack step.
func (m *Manager) installService(ctx context.Context, desired DesiredService) (err error) {
	logger.Info("Install service",
		logger.KeyServiceID, desired.ServiceID, logger.KeyVersion, desired.Version)

	downloadSpace, err := m.downloadSpace.AllocateSpace(desired.Size)
	if err != nil {
		if errors.Is(err, spaceallocator.ErrNoSpace) {
			return WrapError(ErrNoMemory, "can't reserve download space", err)
		}

		return WrapError(ErrFailed, "can't reserve download space", err)
	}

	archivePath := filepath.Join(m.cfg.DownloadDir, desired.ServiceID)

	defer func() {
		logger.Debug("Cleanup download space", logger.KeyPath, archivePath)

		if rerr := os.RemoveAll(archivePath); rerr != nil {
			logger.Error("Can't remove download archive",
				logger.KeyPath, archivePath, logger.KeyError, rerr)
		}

		if rerr := downloadSpace.Release(); rerr != nil {
			logger.Error("Can't release download space", logger.KeyError, rerr)
		}
	}()

	if err = m.downloader.Download(ctx, desired.URL, archivePath, downloader.ContentService); err != nil {
		return WrapError(ErrFailed, "can't download service", err)
	}

	servicePath, serviceSpace, err := m.imageHandler.InstallService(ctx, archivePath, m.cfg.ServicesDir, desired)
	if err != nil {
		if errors.Is(err, spaceallocator.ErrNoSpace) {
			return WrapError(ErrNoMemory, "can't install service image", err)
		}

		return WrapError(ErrFailed, "can't install service image", err)
	}

	defer func() {
		if err == nil {
			if aerr := serviceSpace.Accept(); aerr != nil {
				logger.Error("Can't accept service space", logger.KeyError, aerr)
			}

			return
		}

		if rerr := os.RemoveAll(servicePath); rerr != nil {
			logger.Error("Can't remove service directory",
				logger.KeyPath, servicePath, logger.KeyError, rerr)
		}

		if rerr := serviceSpace.Release(); rerr != nil {
			logger.Error("Can't release service space", logger.KeyError, rerr)
		}
	}()

	digest, err := m.imageHandler.CalculateDigest(ctx, filepath.Join(servicePath, image.ManifestFile))
	if err != nil {
		return WrapError(ErrFailed, "can't calculate manifest digest", err)
	}

	record := ServiceRecord{
		ServiceID:      desired.ServiceID,
		ProviderID:     desired.ProviderID,
		Version:        desired.Version,
		ImagePath:      servicePath,
		ManifestDigest: digest,
		Timestamp:      time.Now(),
		State:          StateActive,
		Size:           serviceSpace.Size(),
		GID:            desired.GID,
	}

	if err = m.storage.AddService(ctx, record); err != nil {
		if CodeOf(err) == ErrAlreadyExist {
			return WrapError(ErrAlreadyExist, "service already installed", err)
		}

		return WrapError(ErrFailed, "can't store service record", err)
	}

	logger.Info("Service successfully installed",
		logger.KeyServiceID, record.ServiceID,
		logger.KeyVersion, record.Version,
		logger.KeyPath, record.ImagePath)

	return nil
}

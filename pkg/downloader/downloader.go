// Package downloader fetches remote service bundles to local staging paths.
package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/marmos91/bundled/internal/logger"
)

// ContentKind tags what kind of content a download carries.
type ContentKind string

const (
	ContentService   ContentKind = "service"
	ContentLayer     ContentKind = "layer"
	ContentComponent ContentKind = "component"
)

// DefaultTimeout bounds a single bundle download.
const DefaultTimeout = 10 * time.Minute

// HTTPDownloader downloads bundles over HTTP(S).
type HTTPDownloader struct {
	client *http.Client
}

// NewHTTP creates an HTTPDownloader. A zero timeout uses DefaultTimeout.
func NewHTTP(timeout time.Duration) *HTTPDownloader {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &HTTPDownloader{client: &http.Client{Timeout: timeout}}
}

// Download fetches url into destPath. On any failure the partially written
// file is removed.
func (d *HTTPDownloader) Download(ctx context.Context, url, destPath string, kind ContentKind) (err error) {
	logger.Debug("Downloading bundle",
		logger.KeyURL, url, logger.KeyPath, destPath, "kind", string(kind))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build download request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed: unexpected status %s", resp.Status)
	}

	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create %q: %w", destPath, err)
	}

	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			if rerr := os.Remove(destPath); rerr != nil {
				logger.Warn("Can't remove partial download",
					logger.KeyPath, destPath, logger.KeyError, rerr)
			}
		}
	}()

	written, err := io.Copy(f, resp.Body)
	if err != nil {
		return fmt.Errorf("failed to write %q: %w", destPath, err)
	}

	logger.Debug("Download finished", logger.KeyPath, destPath, logger.KeySize, written)

	return nil
}

package image

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// CalculateFileDigest computes the sha256 content digest of a file in
// canonical "sha256:<hex>" form.
func CalculateFileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %q: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %q: %w", path, err)
	}

	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}

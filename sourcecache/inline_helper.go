package sourcecache

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"

	"github.com/banksean/pipeforge/errorkind"
	"github.com/banksean/pipeforge/manifest"
)

// InlineHelper materializes content embedded directly in the manifest
// (base64 in the descriptor's Inline field) rather than fetched from a
// network location. Useful for small fixtures and tests.
type InlineHelper struct {
	Dir string
}

func NewInlineHelper(dir string) *InlineHelper {
	return &InlineHelper{Dir: dir}
}

func (h *InlineHelper) path(checksum string) string {
	return filepath.Join(h.Dir, checksum)
}

func (h *InlineHelper) Exists(ctx context.Context, checksum string) (bool, error) {
	_, err := os.Stat(h.path(checksum))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (h *InlineHelper) Fetch(ctx context.Context, checksum string, descriptor manifest.SourceDesc) error {
	if err := os.MkdirAll(h.Dir, 0o750); err != nil {
		return errorkind.New(errorkind.SourceFetch, checksum, "creating cache directory", err)
	}

	raw, err := base64.StdEncoding.DecodeString(descriptor.Inline)
	if err != nil {
		return errorkind.New(errorkind.SourceFetch, checksum, "decoding inline content", err)
	}

	tmpPath := h.path(checksum) + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o640); err != nil {
		return errorkind.New(errorkind.SourceFetch, checksum, "writing inline content", err)
	}
	if err := verifyChecksum(tmpPath, checksum); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, h.path(checksum))
}

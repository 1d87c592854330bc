// Package sourcecache fetches external content referenced by a manifest's
// sources section into a content-addressed cache, one subdirectory per
// source kind, with checksum verification and atomic rename-into-place.
// Concurrent fetches of the same checksum coalesce onto a single download.
package sourcecache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/banksean/pipeforge/errorkind"
	"github.com/banksean/pipeforge/manifest"
)

// Helper fetches and verifies content for one source kind.
type Helper interface {
	// Exists reports whether checksum is already present in the cache.
	Exists(ctx context.Context, checksum string) (bool, error)
	// Fetch retrieves descriptor's content, verifies it against checksum,
	// and renames it into place. Fetch must be safe to call concurrently
	// for different checksums, and idempotent if the checksum already
	// exists by the time it actually runs.
	Fetch(ctx context.Context, checksum string, descriptor manifest.SourceDesc) error
}

// Cache coordinates fetches across every registered source-kind Helper,
// rooted at a directory laid out as sources/<kind>/... .
type Cache struct {
	root    string
	helpers map[manifest.SourceKind]Helper

	mu     sync.Mutex
	inFlight map[string]*sync.WaitGroup // keyed by "<kind>/<checksum>"
}

func New(root string) *Cache {
	return &Cache{
		root:     root,
		helpers:  map[manifest.SourceKind]Helper{},
		inFlight: map[string]*sync.WaitGroup{},
	}
}

// Register wires kind to its Helper. Call during startup before any
// EnsureAll/Ensure call.
func (c *Cache) Register(kind manifest.SourceKind, h Helper) {
	c.helpers[kind] = h
}

// KindDir returns the cache directory a given source kind's helper owns.
func (c *Cache) KindDir(kind manifest.SourceKind) string {
	return filepath.Join(c.root, string(kind))
}

// Path returns the on-disk location of an already-fetched checksum under
// kind. Callers must have successfully called Ensure for (kind, checksum)
// first; Path does no existence check of its own.
func (c *Cache) Path(kind manifest.SourceKind, checksum string) string {
	return filepath.Join(c.KindDir(kind), checksum)
}

// Ensure fetches checksum under kind if it isn't already present, coalescing
// concurrent callers requesting the same (kind, checksum) pair onto one
// fetch.
func (c *Cache) Ensure(ctx context.Context, kind manifest.SourceKind, checksum string, descriptor manifest.SourceDesc) error {
	h, ok := c.helpers[kind]
	if !ok {
		return errorkind.New(errorkind.SourceUnresolved, string(kind), "no helper registered for source kind", nil)
	}

	key := string(kind) + "/" + checksum
	c.mu.Lock()
	if wg, active := c.inFlight[key]; active {
		c.mu.Unlock()
		wg.Wait()
		return c.checkExists(ctx, h, kind, checksum)
	}
	wg := &sync.WaitGroup{}
	wg.Add(1)
	c.inFlight[key] = wg
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inFlight, key)
		c.mu.Unlock()
		wg.Done()
	}()

	exists, err := h.Exists(ctx, checksum)
	if err != nil {
		return errorkind.New(errorkind.SourceFetch, string(kind), "checking existing cache entry", err)
	}
	if exists {
		return nil
	}
	if err := h.Fetch(ctx, checksum, descriptor); err != nil {
		return err // helpers are expected to return a properly kinded *errorkind.Error
	}
	return nil
}

func (c *Cache) checkExists(ctx context.Context, h Helper, kind manifest.SourceKind, checksum string) error {
	exists, err := h.Exists(ctx, checksum)
	if err != nil {
		return errorkind.New(errorkind.SourceFetch, string(kind), "verifying coalesced fetch result", err)
	}
	if !exists {
		return errorkind.New(errorkind.SourceFetch, string(kind), "coalesced fetch did not produce the expected content", nil)
	}
	return nil
}

// verifyChecksum hashes path's contents and compares against the declared
// "sha256:<hex>" checksum string.
func verifyChecksum(path, checksum string) error {
	want, err := parseSHA256Checksum(checksum)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	got := hex.EncodeToString(h.Sum(nil))
	if got != want {
		return errorkind.New(errorkind.SourceChecksum, path, "checksum mismatch: got "+got+", want "+want, nil)
	}
	return nil
}

func parseSHA256Checksum(checksum string) (string, error) {
	const prefix = "sha256:"
	if len(checksum) <= len(prefix) || checksum[:len(prefix)] != prefix {
		return "", errorkind.New(errorkind.SourceChecksum, checksum, "unsupported checksum algorithm (only sha256: is supported)", nil)
	}
	return checksum[len(prefix):], nil
}

package store

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/banksean/pipeforge/errorkind"
)

// ReclaimTmp removes scratch workspace directories under tmp/ older than
// maxAge, catching workspaces abandoned by a crashed runner that never
// reached Commit or Discard.
func (s *Store) ReclaimTmp(maxAge time.Duration) error {
	dir := filepath.Join(s.Root, tmpDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errorkind.New(errorkind.StoreIO, dir, "listing tmp directory", err)
	}
	cutoff := time.Now().Add(-maxAge)
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
				return errorkind.New(errorkind.StoreIO, e.Name(), "reclaiming abandoned workspace", err)
			}
		}
	}
	return nil
}

// ReclaimUnreferenced removes every committed object with refcount 0 that
// isn't the input of any still-live pipeline, given the set of ids still in
// use by the caller (typically every id reachable from the manifest
// currently being built).
func (s *Store) ReclaimUnreferenced(ctx context.Context, liveIDs map[string]bool) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM objects WHERE refcount = 0`)
	if err != nil {
		return errorkind.New(errorkind.StoreIO, "", "listing unreferenced objects", err)
	}
	var toRemove []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return errorkind.New(errorkind.StoreIO, "", "scanning object row", err)
		}
		if !liveIDs[id] {
			toRemove = append(toRemove, id)
		}
	}
	rows.Close()

	for _, id := range toRemove {
		if err := os.RemoveAll(s.ObjectPath(id)); err != nil {
			return errorkind.New(errorkind.StoreIO, id, "removing unreferenced object", err)
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM objects WHERE id = ?`, id); err != nil {
			return errorkind.New(errorkind.StoreIO, id, "removing object from index", err)
		}
	}
	return nil
}

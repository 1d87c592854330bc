package store

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/banksean/pipeforge/errorkind"
)

// Workspace is a mutable, uncommitted working tree a module runner seeds
// from zero or more input objects, runs a stage against, and then either
// commits into the object tree or discards.
type Workspace struct {
	store *Store
	Path  string
	id    string
}

// NewWorkspace allocates the scratch directory for id under tmp/, seeded as
// a copy-on-write clone of baseObjectID's tree when one is given. Fails
// with store-busy if a workspace for id is already in progress: the
// directory is keyed by id and created with a plain (non-recursive) Mkdir,
// which is atomic against a concurrent caller racing for the same id.
func (s *Store) NewWorkspace(ctx context.Context, id, baseObjectID string) (*Workspace, error) {
	path := filepath.Join(s.Root, tmpDir, sanitizeID(id))
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, errorkind.New(errorkind.StoreIO, id, "creating workspace parent directory", err)
	}
	if err := os.Mkdir(path, 0o750); err != nil {
		if os.IsExist(err) {
			return nil, errorkind.New(errorkind.StoreBusy, id, "a workspace for this id is already in progress", err)
		}
		return nil, errorkind.New(errorkind.StoreIO, id, "creating workspace directory", err)
	}

	if baseObjectID != "" {
		if err := cloneTree(ctx, s.ObjectPath(baseObjectID), path); err != nil {
			os.RemoveAll(path)
			return nil, errorkind.New(errorkind.StoreIO, baseObjectID, "seeding workspace from base object", err)
		}
	}

	return &Workspace{store: s, Path: path, id: id}, nil
}

// cloneTree copies src into dst, preferring a reflink (copy-on-write) clone
// so seeding a workspace from a large committed tree doesn't duplicate disk
// blocks. Falls back to a plain recursive copy on filesystems without
// reflink support, matching the fallback behavior "cp" itself uses.
func cloneTree(ctx context.Context, src, dst string) error {
	if _, err := os.Stat(src); err != nil {
		return err
	}
	// --reflink=auto: use a CoW clone (Btrfs/XFS/APFS via "cp -c" equivalents)
	// when the filesystem supports it, else fall back to a byte copy.
	cmd := exec.CommandContext(ctx, "cp", "--reflink=auto", "-a", src+"/.", dst)
	if out, err := cmd.CombinedOutput(); err != nil {
		if strings.Contains(string(out), "unknown option") || strings.Contains(string(out), "invalid option") {
			return plainCopyTree(src, dst)
		}
		return err
	}
	return nil
}

func plainCopyTree(src, dst string) error {
	cmd := exec.Command("cp", "-a", src+"/.", dst)
	if out, err := cmd.CombinedOutput(); err != nil {
		return errorkind.New(errorkind.StoreIO, src, "fallback recursive copy failed: "+string(out), err)
	}
	return nil
}

// Discard removes the workspace without committing it.
func (w *Workspace) Discard() error {
	if err := os.RemoveAll(w.Path); err != nil {
		return errorkind.New(errorkind.StoreIO, w.id, "discarding workspace", err)
	}
	return nil
}

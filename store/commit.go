package store

import (
	"context"
	"os"
	"time"

	"github.com/banksean/pipeforge/errorkind"
)

// CommitMeta carries the index metadata recorded alongside a freshly
// committed object.
type CommitMeta struct {
	StageType string
	Pipeline  string
	SizeBytes int64
}

// Commit freezes the workspace tree, moves it into the object tree under id,
// and records it in the index. Commit is a no-op that just discards w if id
// is already present (a stage rebuilt past the cache, or committed first by
// another run), matching cache-hit semantics. The runner calls Commit only
// for stages the Executor marked for commit and discards the others.
func (s *Store) Commit(ctx context.Context, w *Workspace, id string, meta CommitMeta) error {
	exists, err := s.Exists(id)
	if err != nil {
		return err
	}
	if exists {
		return w.Discard()
	}

	dst := s.ObjectPath(id)
	if err := os.MkdirAll(parentDir(dst), 0o750); err != nil {
		return errorkind.New(errorkind.StoreIO, id, "creating object parent directory", err)
	}
	if err := os.Rename(w.Path, dst); err != nil {
		return errorkind.New(errorkind.StoreIO, id, "moving workspace into object tree", err)
	}
	if err := freeze(dst); err != nil {
		return errorkind.New(errorkind.StoreIO, id, "freezing committed object", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO objects (id, created_at, refcount, stage_type, pipeline, size_bytes) VALUES (?, ?, 0, ?, ?, ?)`,
		id, time.Now().UTC(), meta.StageType, meta.Pipeline, meta.SizeBytes)
	if err != nil {
		return errorkind.New(errorkind.StoreIO, id, "recording object in index", err)
	}
	return nil
}

// freeze marks dst's tree read-only so a later workspace built on top of it
// can never be corrupted by a concurrent writer. Best-effort: a source or
// network filesystem that doesn't honor chmod still gets the attempt.
func freeze(dst string) error {
	return chmodTreeReadOnly(dst)
}

func chmodTreeReadOnly(root string) error {
	return filepathWalkReadOnly(root)
}

func parentDir(p string) string {
	i := len(p) - 1
	for i >= 0 && p[i] != '/' {
		i--
	}
	if i < 0 {
		return "."
	}
	return p[:i]
}

// Checkpoint names id so it can be retrieved later by Checkpoint name
// instead of by its content id, and bumps its refcount so reclaim never
// removes it while the checkpoint exists.
func (s *Store) Checkpoint(ctx context.Context, name, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errorkind.New(errorkind.StoreIO, name, "beginning checkpoint transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE objects SET refcount = refcount + 1 WHERE id = ?`, id); err != nil {
		return errorkind.New(errorkind.StoreIO, name, "incrementing refcount", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO checkpoints (name, object_id, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET object_id = excluded.object_id, created_at = excluded.created_at`,
		name, id, time.Now().UTC()); err != nil {
		return errorkind.New(errorkind.StoreIO, name, "recording checkpoint", err)
	}
	return tx.Commit()
}

// ResolveCheckpoint returns the object id a checkpoint name currently points
// to.
func (s *Store) ResolveCheckpoint(ctx context.Context, name string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT object_id FROM checkpoints WHERE name = ?`, name).Scan(&id)
	if err != nil {
		return "", errorkind.New(errorkind.StoreIO, name, "resolving checkpoint", err)
	}
	return id, nil
}

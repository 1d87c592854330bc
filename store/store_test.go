package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/banksean/pipeforge/errorkind"
	"gotest.tools/v3/assert"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir)
	assert.NilError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_CreatesLayoutAndIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s1, err := Open(dir)
	assert.NilError(t, err)
	s1.Close()

	s2, err := Open(dir)
	assert.NilError(t, err)
	defer s2.Close()

	for _, d := range []string{objectsDir, tmpDir, workspaceDir} {
		_, err := os.Stat(filepath.Join(dir, d))
		assert.NilError(t, err)
	}
}

func TestCommit_SeedsObjectTreeAndIndex(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id := "sha256:" + "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"
	w, err := s.NewWorkspace(ctx, id, "")
	assert.NilError(t, err)
	assert.NilError(t, os.WriteFile(filepath.Join(w.Path, "hello.txt"), []byte("hi"), 0o644))

	assert.NilError(t, s.Commit(ctx, w, id, CommitMeta{StageType: "org.stage.one", Pipeline: "p"}))

	exists, err := s.Exists(id)
	assert.NilError(t, err)
	assert.Assert(t, exists)

	content, err := os.ReadFile(filepath.Join(s.ObjectPath(id), "hello.txt"))
	assert.NilError(t, err)
	assert.Equal(t, string(content), "hi")
}

func TestCommit_SecondCommitOfSameIDDiscardsWorkspace(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	id := "sha256:" + "0000000000000000000000000000000000000000000000000000000000000000"[:64]

	w1, err := s.NewWorkspace(ctx, id, "")
	assert.NilError(t, err)
	assert.NilError(t, s.Commit(ctx, w1, id, CommitMeta{}))

	w2, err := s.NewWorkspace(ctx, id, "")
	assert.NilError(t, err)
	assert.NilError(t, s.Commit(ctx, w2, id, CommitMeta{}))

	_, err = os.Stat(w2.Path)
	assert.Assert(t, os.IsNotExist(err))
}

func TestNewWorkspace_SameIDRejectedWhileInProgress(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	id := "sha256:" + "4444444444444444444444444444444444444444444444444444444444444444"[:64]

	w1, err := s.NewWorkspace(ctx, id, "")
	assert.NilError(t, err)
	defer w1.Discard()

	_, err = s.NewWorkspace(ctx, id, "")
	assert.Equal(t, errorkind.KindOf(err), errorkind.StoreBusy)
}

func TestWorkspace_SeedsFromCommittedObject(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := "sha256:" + "1111111111111111111111111111111111111111111111111111111111111111"[:64]

	w, err := s.NewWorkspace(ctx, base, "")
	assert.NilError(t, err)
	assert.NilError(t, os.WriteFile(filepath.Join(w.Path, "seed.txt"), []byte("seed"), 0o644))
	assert.NilError(t, s.Commit(ctx, w, base, CommitMeta{}))

	w2, err := s.NewWorkspace(ctx, "sha256:"+"3333333333333333333333333333333333333333333333333333333333333333"[:64], base)
	assert.NilError(t, err)
	content, err := os.ReadFile(filepath.Join(w2.Path, "seed.txt"))
	assert.NilError(t, err)
	assert.Equal(t, string(content), "seed")
}

func TestCheckpoint_ResolvesToObjectID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	id := "sha256:" + "2222222222222222222222222222222222222222222222222222222222222222"[:64]

	w, err := s.NewWorkspace(ctx, id, "")
	assert.NilError(t, err)
	assert.NilError(t, s.Commit(ctx, w, id, CommitMeta{}))
	assert.NilError(t, s.Checkpoint(ctx, "nightly", id))

	got, err := s.ResolveCheckpoint(ctx, "nightly")
	assert.NilError(t, err)
	assert.Equal(t, got, id)
}

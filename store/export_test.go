package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/ssh"
	"gotest.tools/v3/assert"
)

func TestExportTree_WritesSignedManifestAlongsideTree(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	id := "sha256:" + "5555555555555555555555555555555555555555555555555555555555555555"[:64]

	w, err := s.NewWorkspace(ctx, id, "")
	assert.NilError(t, err)
	assert.NilError(t, os.WriteFile(filepath.Join(w.Path, "payload.txt"), []byte("payload"), 0o644))
	assert.NilError(t, s.Commit(ctx, w, id, CommitMeta{}))

	dest := filepath.Join(t.TempDir(), "out")
	assert.NilError(t, s.ExportTree(ctx, id, "mypipeline", dest))

	_, err = os.Stat(filepath.Join(dest, "payload.txt"))
	assert.NilError(t, err)

	manifestBytes, err := os.ReadFile(dest + ".manifest.json")
	assert.NilError(t, err)
	var m exportManifest
	assert.NilError(t, json.Unmarshal(manifestBytes, &m))
	assert.Equal(t, m.ID, id)
	assert.Equal(t, m.Pipeline, "mypipeline")

	sig, err := os.ReadFile(dest + ".manifest.sig")
	assert.NilError(t, err)

	signer, err := ensureIdentity(s.Root)
	assert.NilError(t, err)
	var parsed ssh.Signature
	assert.NilError(t, ssh.Unmarshal(sig, &parsed))
	assert.NilError(t, signer.PublicKey().Verify(manifestBytes, &parsed))
}

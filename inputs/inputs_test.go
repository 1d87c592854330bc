package inputs

import (
	"context"
	"encoding/base64"
	"path/filepath"
	"testing"

	"github.com/banksean/pipeforge/manifest"
	"github.com/banksean/pipeforge/sourcecache"
	"github.com/banksean/pipeforge/store"
	"gotest.tools/v3/assert"
)

func newTestResolver(t *testing.T) (*Resolver, *store.Store, *sourcecache.Cache) {
	t.Helper()
	s, err := store.Open(t.TempDir())
	assert.NilError(t, err)
	t.Cleanup(func() { s.Close() })

	cacheDir := t.TempDir()
	cache := sourcecache.New(cacheDir)
	cache.Register("inline", sourcecache.NewInlineHelper(cache.KindDir("inline")))

	return NewResolver(s, cache), s, cache
}

func TestResolveAll_SourceOriginSingleChecksumResolvesToFile(t *testing.T) {
	r, _, cache := newTestResolver(t)
	encoded := base64.StdEncoding.EncodeToString([]byte("payload"))
	checksum := "sha256:239f59ed55e737c77147cf55ad0c1b030b6d7ee748a7426952f9b852d5a935e5"

	origins := map[string]manifest.Origin{
		"src": {Source: &manifest.OriginSource{Kind: "inline", Checksums: []manifest.Checksum{manifest.Checksum(checksum)}}},
	}
	sources := map[manifest.SourceKind]map[manifest.Checksum]manifest.SourceDesc{
		"inline": {manifest.Checksum(checksum): {Inline: encoded}},
	}

	// ResolveAll doesn't fetch; it only computes the path a prior Ensure
	// call would have populated, so fetch explicitly first.
	err := cache.Ensure(context.Background(), "inline", checksum, sources["inline"][manifest.Checksum(checksum)])
	assert.NilError(t, err)

	resolved, err := r.ResolveAll([]string{"src"}, origins, nil, sources)
	assert.NilError(t, err)
	assert.Equal(t, len(resolved), 1)
	assert.Equal(t, resolved[0].Name, "src")
	assert.Equal(t, resolved[0].Path, cache.Path("inline", checksum))
}

func TestResolveAll_SourceOriginMultipleChecksumsResolvesToKindDir(t *testing.T) {
	r, _, cache := newTestResolver(t)
	origins := map[string]manifest.Origin{
		"rpms": {Source: &manifest.OriginSource{Kind: "inline", Checksums: []manifest.Checksum{"sha256:aa", "sha256:bb"}}},
	}

	resolved, err := r.ResolveAll([]string{"rpms"}, origins, nil, nil)
	assert.NilError(t, err)
	assert.Equal(t, resolved[0].Path, cache.KindDir("inline"))
}

func TestResolveAll_PipelineOriginResolvesUnderObjectPath(t *testing.T) {
	r, s, _ := newTestResolver(t)
	origins := map[string]manifest.Origin{
		"tree": {Pipeline: &manifest.OriginPipeline{Pipeline: "base", Subpath: "usr/bin"}},
	}
	pipelineIDs := map[string]manifest.ID{"base": "sha256:deadbeef"}

	resolved, err := r.ResolveAll([]string{"tree"}, origins, pipelineIDs, nil)
	assert.NilError(t, err)
	assert.Equal(t, resolved[0].Path, filepath.Join(s.ObjectPath("sha256:deadbeef"), "usr/bin"))
}

func TestResolveAll_MissingOriginIsManifestInvalid(t *testing.T) {
	r, _, _ := newTestResolver(t)
	_, err := r.ResolveAll([]string{"missing"}, map[string]manifest.Origin{}, nil, nil)
	assert.ErrorContains(t, err, "no origin declared")
}

func TestResolveAll_PipelineOriginWithoutResolvedIDIsInternalError(t *testing.T) {
	r, _, _ := newTestResolver(t)
	origins := map[string]manifest.Origin{
		"tree": {Pipeline: &manifest.OriginPipeline{Pipeline: "base"}},
	}
	_, err := r.ResolveAll([]string{"tree"}, origins, map[string]manifest.ID{}, nil)
	assert.ErrorContains(t, err, "no committed id")
}

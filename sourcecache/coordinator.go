package sourcecache

import (
	"context"
	"path/filepath"

	"github.com/banksean/pipeforge/manifest"
)

// NewDefault builds a Cache rooted at storeRoot/sources with all four
// built-in source-kind helpers registered.
func NewDefault(storeRoot string) *Cache {
	c := New(filepath.Join(storeRoot, "sources"))
	c.Register("curl", NewCurlHelper(c.KindDir("curl")))
	c.Register("container-registry", NewRegistryHelper(c.KindDir("container-registry")))
	c.Register("git", NewGitHelper(c.KindDir("git")))
	c.Register("inline", NewInlineHelper(c.KindDir("inline")))
	return c
}

// EnsureAllForOrigin ensures every checksum referenced by origin is present
// in the cache, run by the Module Runner before it opens devices or mounts
// for a stage whose inputs reference sources.
func EnsureAllForOrigin(ctx context.Context, c *Cache, o manifest.Origin, sources map[manifest.SourceKind]map[manifest.Checksum]manifest.SourceDesc) error {
	if o.Source == nil {
		return nil
	}
	kindMap := sources[o.Source.Kind]
	for _, checksum := range o.Source.Checksums {
		descriptor := kindMap[checksum]
		if err := c.Ensure(ctx, o.Source.Kind, string(checksum), descriptor); err != nil {
			return err
		}
	}
	return nil
}

// Package inputs resolves a stage's declared Origins into read-only paths
// ready to bind-mount into a module's sandbox, under /run/osbuild/inputs/<name>.
//
// An Origin is a sum type: a source Origin is backed by the content cache
// (sourcecache), a pipeline Origin is backed by a previously committed tree
// in the Object Store. Both are already-materialized by the time a Stage
// runs (the Module Runner calls sourcecache.EnsureAllForOrigin and only
// ever references pipelines it has already built), so resolving an Origin
// is pure path arithmetic — no subprocess or host-service helper is
// warranted here, unlike devices and mounts which must perform privileged
// kernel operations.
package inputs

import (
	"path/filepath"

	"github.com/banksean/pipeforge/errorkind"
	"github.com/banksean/pipeforge/manifest"
	"github.com/banksean/pipeforge/sourcecache"
	"github.com/banksean/pipeforge/store"
)

// Resolved is one input's path, ready to be bind-mounted read-only at
// /run/osbuild/inputs/<Name> inside a module's sandbox.
type Resolved struct {
	Name string
	Path string
}

// Resolver resolves Origins against a Store and a Cache.
type Resolver struct {
	Store *store.Store
	Cache *sourcecache.Cache
}

func NewResolver(s *store.Store, c *sourcecache.Cache) *Resolver {
	return &Resolver{Store: s, Cache: c}
}

// ResolveAll resolves every named input a stage declares, in the stage's own
// declaration order made deterministic by the caller. pipelineIDs maps
// pipeline name to its already-committed object id (manifest.ResolvedPipeline.ID);
// a pipeline origin's own stage-fingerprint id (manifest.ResolvedStage.InputIDs)
// is a synthetic value folding in any subpath and is not itself an object
// id, so callers must pass the real per-pipeline ids instead.
func (r *Resolver) ResolveAll(names []string, origins map[string]manifest.Origin, pipelineIDs map[string]manifest.ID, sources map[manifest.SourceKind]map[manifest.Checksum]manifest.SourceDesc) ([]Resolved, error) {
	resolved := make([]Resolved, 0, len(names))
	for _, name := range names {
		origin, ok := origins[name]
		if !ok {
			return nil, errorkind.New(errorkind.ManifestInvalid, name, "no origin declared for input", nil)
		}
		path, err := r.resolveOne(name, origin, pipelineIDs)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, Resolved{Name: name, Path: path})
	}
	return resolved, nil
}

func (r *Resolver) resolveOne(name string, origin manifest.Origin, pipelineIDs map[string]manifest.ID) (string, error) {
	switch {
	case origin.Source != nil:
		if len(origin.Source.Checksums) == 0 {
			return "", errorkind.New(errorkind.ManifestInvalid, name, "source origin has no checksums", nil)
		}
		// A multi-checksum source origin (e.g. a set of RPMs) resolves to
		// its cache kind directory; the module itself selects which
		// checksums it needs from within it. A single-checksum origin
		// resolves directly to that file.
		if len(origin.Source.Checksums) == 1 {
			return r.Cache.Path(origin.Source.Kind, string(origin.Source.Checksums[0])), nil
		}
		return r.Cache.KindDir(origin.Source.Kind), nil

	case origin.Pipeline != nil:
		id, ok := pipelineIDs[origin.Pipeline.Pipeline]
		if !ok {
			return "", errorkind.New(errorkind.Internal, name, "referenced pipeline has no committed id", nil)
		}
		base := r.Store.ObjectPath(string(id))
		if origin.Pipeline.Subpath == "" {
			return base, nil
		}
		return filepath.Join(base, origin.Pipeline.Subpath), nil

	default:
		return "", errorkind.New(errorkind.ManifestInvalid, name, "origin has neither source nor pipeline set", nil)
	}
}

package executor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/banksean/pipeforge/devices"
	"github.com/banksean/pipeforge/manifest"
	"github.com/banksean/pipeforge/monitor"
	"github.com/banksean/pipeforge/mounts"
	"github.com/banksean/pipeforge/runner"
	"github.com/banksean/pipeforge/sandbox"
	"github.com/banksean/pipeforge/sourcecache"
	"github.com/banksean/pipeforge/store"
	"gotest.tools/v3/assert"
)

func newTestExecutor(t *testing.T) (*Executor, *store.Store) {
	t.Helper()
	s, err := store.Open(t.TempDir())
	assert.NilError(t, err)
	t.Cleanup(func() { s.Close() })

	cache := sourcecache.New(t.TempDir())
	cache.Register("inline", sourcecache.NewInlineHelper(cache.KindDir("inline")))

	moduleDir := t.TempDir()
	assert.NilError(t, os.WriteFile(filepath.Join(moduleDir, "noop"), []byte("#!/bin/sh\n"), 0o755))

	r := &runner.Runner{
		Store:            s,
		Cache:            cache,
		Bus:              monitor.NewBus(),
		ScratchRoot:      t.TempDir(),
		ModuleSearchPath: []string{moduleDir},
	}

	restoreDevices := devices.SetKindFactoryForTest(func(kind string) (devices.Kind, error) {
		return nil, nil
	})
	restoreMounts := mounts.SetKindFactoryForTest(func(kind string) (mounts.Kind, error) {
		return nil, nil
	})
	restoreSandbox := runner.SetInvokeSandboxForTest(func(ctx context.Context, b *sandbox.BuildRoot, bus *monitor.Bus) (*sandbox.ModuleResult, error) {
		return &sandbox.ModuleResult{}, nil
	})
	t.Cleanup(func() {
		restoreDevices()
		restoreMounts()
		restoreSandbox()
	})

	return New(r), s
}

func load(t *testing.T, doc string) *manifest.Resolved {
	t.Helper()
	resolved, err := manifest.Load(strings.NewReader(doc))
	assert.NilError(t, err)
	return resolved
}

// TestRun_EmptyPipelineCheckpointed is spec.md §8 scenario 1: a manifest
// with one empty-stage pipeline, checkpointed, produces a single empty
// object whose id is stable across reruns and requires zero module
// invocations the second time.
func TestRun_EmptyPipelineCheckpointed(t *testing.T) {
	e, s := newTestExecutor(t)
	resolved := load(t, `{"version":"2","pipelines":[{"name":"p","stages":[]}]}`)

	res, err := e.Run(context.Background(), resolved, Options{Checkpoints: []string{"p"}})
	assert.NilError(t, err)
	assert.Assert(t, len(res.Stages) == 0)

	exists, err := s.Exists(string(resolved.Pipelines[0].ID))
	assert.NilError(t, err)
	assert.Equal(t, exists, true)

	id, err := s.ResolveCheckpoint(context.Background(), "p")
	assert.NilError(t, err)
	assert.Equal(t, id, string(resolved.Pipelines[0].ID))

	// Rerunning against the same store is idempotent.
	res2, err := e.Run(context.Background(), resolved, Options{Checkpoints: []string{"p"}})
	assert.NilError(t, err)
	assert.Assert(t, len(res2.Stages) == 0)
}

// TestRun_TwoStageDeterminism is spec.md §8 scenario 2: two stages where
// B's input is A's output; their ids differ, and B's id changes when A's
// options change.
func TestRun_TwoStageDeterminism(t *testing.T) {
	doc := func(aOpt int) string {
		return `{"version":"2","pipelines":[{"name":"p","stages":[
			{"type":"noop","options":{"x":` + itoa(aOpt) + `}},
			{"type":"noop"}
		]}]}`
	}
	resolved1 := load(t, doc(1))
	resolved2 := load(t, doc(2))

	assert.Assert(t, resolved1.Pipelines[0].Stages[0].ID != resolved1.Pipelines[0].Stages[1].ID)
	assert.Assert(t, resolved1.Pipelines[0].Stages[1].ID != resolved2.Pipelines[0].Stages[1].ID)
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

// TestRun_ExportWithoutOutputDirRejected is spec.md §8 scenario 6: an
// export with no output directory and no checkpoints is rejected before
// any stage runs.
func TestRun_ExportWithoutOutputDirRejected(t *testing.T) {
	e, _ := newTestExecutor(t)
	resolved := load(t, `{"version":"2","pipelines":[{"name":"p","stages":[{"type":"noop"}]}]}`)

	_, err := e.Run(context.Background(), resolved, Options{Exports: []string{"p"}})
	assert.ErrorContains(t, err, "manifest-invalid")
}

// TestRun_NothingRequestedRejected covers spec.md §9's "not
// auto-checkpointed" decision: a run with neither a checkpoint nor an
// export is rejected as a no-op before any stage runs.
func TestRun_NothingRequestedRejected(t *testing.T) {
	e, _ := newTestExecutor(t)
	resolved := load(t, `{"version":"2","pipelines":[{"name":"p","stages":[{"type":"noop"}]}]}`)

	_, err := e.Run(context.Background(), resolved, Options{})
	assert.ErrorContains(t, err, "manifest-invalid")
}

// TestRun_CheckpointReuseAcrossRuns is spec.md §8 scenario 5: a second run
// that only changes a downstream stage's options reuses the checkpointed
// upstream stage from the store (cache hit) while the changed stage gets a
// new id.
func TestRun_CheckpointReuseAcrossRuns(t *testing.T) {
	doc := func(bOpt int) string {
		return `{"version":"2","pipelines":[{"name":"p","stages":[
			{"type":"noop"},
			{"type":"noop","options":{"y":` + itoa(bOpt) + `}}
		]}]}`
	}
	e, _ := newTestExecutor(t)

	resolved1 := load(t, doc(1))
	aID := resolved1.Pipelines[0].Stages[0].ID
	res1, err := e.Run(context.Background(), resolved1, Options{Checkpoints: []string{string(aID)}, Exports: []string{"p"}, OutputDir: t.TempDir()})
	assert.NilError(t, err)
	assert.Equal(t, res1.Stages[0].CacheHit, false)

	resolved2 := load(t, doc(2))
	assert.Equal(t, resolved2.Pipelines[0].Stages[0].ID, aID) // unchanged stage A

	res2, err := e.Run(context.Background(), resolved2, Options{Checkpoints: []string{string(aID)}, Exports: []string{"p"}, OutputDir: t.TempDir()})
	assert.NilError(t, err)
	assert.Equal(t, res2.Stages[0].CacheHit, true)  // A reused
	assert.Equal(t, res2.Stages[1].CacheHit, false) // B is a new id, runs fresh
}

// TestRun_ExportCopiesFinalTree exercises the export path end to end: the
// final committed tree lands at OutputDir/<pipeline-name>.
func TestRun_ExportCopiesFinalTree(t *testing.T) {
	e, _ := newTestExecutor(t)
	resolved := load(t, `{"version":"2","pipelines":[{"name":"p","stages":[{"type":"noop"}]}]}`)

	outDir := t.TempDir()
	res, err := e.Run(context.Background(), resolved, Options{Exports: []string{"p"}, OutputDir: outDir})
	assert.NilError(t, err)
	assert.Equal(t, res.Exports["p"], filepath.Join(outDir, "p"))

	_, err = os.Stat(filepath.Join(outDir, "p"))
	assert.NilError(t, err)
}

// TestRun_PipelineInputImplicitlyCommitsUpstream covers spec.md §3/§4.7: a
// stage can take another pipeline's output as a plain input, independent of
// Build, and that implicitly checkpoints the referenced pipeline's final
// stage so the input actually resolves to a committed tree.
func TestRun_PipelineInputImplicitlyCommitsUpstream(t *testing.T) {
	e, s := newTestExecutor(t)
	resolved := load(t, `{"version":"2","pipelines":[
		{"name":"a","stages":[{"type":"noop"}]},
		{"name":"b","stages":[{"type":"noop","inputs":{"base":{"pipeline":{"pipeline":"a"}}}}]}
	]}`)

	_, err := e.Run(context.Background(), resolved, Options{Checkpoints: []string{"b"}})
	assert.NilError(t, err)

	aID := resolved.Pipelines[0].Stages[0].ID
	exists, err := s.Exists(string(aID))
	assert.NilError(t, err)
	assert.Equal(t, exists, true)
}

// TestRun_UnknownModuleAbortsBeforeAnyStageRuns covers spec.md §4.1/§7: a
// manifest whose second pipeline names an unregistered module fails before
// the first pipeline's stage is committed, rather than partway through.
func TestRun_UnknownModuleAbortsBeforeAnyStageRuns(t *testing.T) {
	e, s := newTestExecutor(t)
	resolved := load(t, `{"version":"2","pipelines":[
		{"name":"a","stages":[{"type":"noop"}]},
		{"name":"b","stages":[{"type":"does-not-exist"}]}
	]}`)

	_, err := e.Run(context.Background(), resolved, Options{Checkpoints: []string{"a", "b"}})
	assert.ErrorContains(t, err, "module-unknown")

	aID := resolved.Pipelines[0].Stages[0].ID
	exists, err := s.Exists(string(aID))
	assert.NilError(t, err)
	assert.Equal(t, exists, false)
}

// TestRun_BuildEnvironmentImplicitlyCommitted checks that a pipeline used
// as another pipeline's build environment gets its final stage committed
// even without an explicit checkpoint, since the downstream pipeline's
// sandbox root depends on it (spec.md §4.7).
func TestRun_BuildEnvironmentImplicitlyCommitted(t *testing.T) {
	e, s := newTestExecutor(t)
	resolved := load(t, `{"version":"2","pipelines":[
		{"name":"build","stages":[{"type":"noop"}]},
		{"name":"p","build":"build","stages":[{"type":"noop"}]}
	]}`)

	_, err := e.Run(context.Background(), resolved, Options{Checkpoints: []string{"p"}})
	assert.NilError(t, err)

	buildID := resolved.Pipelines[0].Stages[0].ID
	exists, err := s.Exists(string(buildID))
	assert.NilError(t, err)
	assert.Equal(t, exists, true)
}

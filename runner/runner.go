// Package runner implements the Module Runner: for one stage, it resolves
// sources, opens devices and mounts parent-before-child, constructs a
// sandbox build root, invokes the module, and tears everything down in
// strict reverse order regardless of outcome.
package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/banksean/pipeforge/devices"
	"github.com/banksean/pipeforge/errorkind"
	"github.com/banksean/pipeforge/inputs"
	"github.com/banksean/pipeforge/manifest"
	"github.com/banksean/pipeforge/monitor"
	"github.com/banksean/pipeforge/mounts"
	"github.com/banksean/pipeforge/sandbox"
	"github.com/banksean/pipeforge/sourcecache"
	"github.com/banksean/pipeforge/store"
	"golang.org/x/sync/errgroup"
)

// sourceFetchParallelism bounds how many of one stage's source origins are
// prefetched concurrently (spec.md §5: "source fetches run in parallel
// across a worker pool of bounded size per source kind").
const sourceFetchParallelism = 4

// Runner executes one resolved stage at a time against a shared Store and
// Cache, reporting progress on Bus.
type Runner struct {
	Store *store.Store
	Cache *sourcecache.Cache
	Bus   *monitor.Bus

	// ModuleSearchPath is scanned for a stage's Stage.Type module executable.
	ModuleSearchPath []string
	// ScratchRoot holds each stage's ephemeral BuildRoot directory.
	ScratchRoot string
	// SourceEpoch is stamped into every module's argument blob for
	// reproducible timestamps inside produced trees.
	SourceEpoch int64
	// Rebuild forces step 1's cache check to be skipped for these stage ids.
	Rebuild map[manifest.ID]bool
}

// Result is what RunStage produces: the id of the tree the stage now owns,
// whether it was already cached, and whether it was actually committed to
// the Store (a stage may run without being committed if nothing downstream
// needs it — see Commit parameter).
type Result struct {
	ID        manifest.ID
	CacheHit  bool
	Committed bool
}

// RunStage executes stage's steps 1-9. pipelineIDs maps every
// already-resolved pipeline name to its committed id, used to resolve
// pipeline-origin inputs; commit forces a commit even if nothing in this
// run session has asked for one yet (the Executor decides this per
// spec.md §4.7).
func (r *Runner) RunStage(ctx context.Context, pipelineName string, stage manifest.ResolvedStage, pipelineIDs map[string]manifest.ID, sources map[manifest.SourceKind]map[manifest.Checksum]manifest.SourceDesc, commit bool) (*Result, error) {
	// Step 1: resolve cache.
	if !r.Rebuild[stage.ID] {
		exists, err := r.Store.Exists(string(stage.ID))
		if err != nil {
			return nil, err
		}
		if exists {
			r.Bus.Emit(ctx, monitor.Event{Kind: monitor.StageCacheHit, Pipeline: pipelineName, Stage: stage.Name})
			return &Result{ID: stage.ID, CacheHit: true, Committed: true}, nil
		}
	}

	r.Bus.Emit(ctx, monitor.Event{Kind: monitor.StageStart, Pipeline: pipelineName, Stage: stage.Name})

	// Step 2: ensure sources, prefetching this stage's origins in parallel
	// up to a bounded worker pool (spec.md §5); the Runner blocks here until
	// every origin is ready before opening devices or mounts.
	inputNames := sortedInputNames(stage.Inputs)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sourceFetchParallelism)
	for _, name := range inputNames {
		origin := stage.Inputs[name]
		g.Go(func() error {
			return sourcecache.EnsureAllForOrigin(gctx, r.Cache, origin, sources)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, r.fail(ctx, pipelineName, stage.Name, err)
	}

	// Step 3: resolve inputs to ready-to-mount paths.
	resolver := inputs.NewResolver(r.Store, r.Cache)
	resolvedInputs, err := resolver.ResolveAll(inputNames, stage.Inputs, pipelineIDs, sources)
	if err != nil {
		return nil, r.fail(ctx, pipelineName, stage.Name, err)
	}
	inputPaths := make(map[string]string, len(resolvedInputs))
	for _, ri := range resolvedInputs {
		inputPaths[ri.Name] = ri.Path
	}

	// Step 4: open devices parent-before-child.
	deviceHandles, err := devices.OpenAll(ctx, stage.Devices)
	if err != nil {
		return nil, r.fail(ctx, pipelineName, stage.Name, err)
	}
	devicePaths := make(map[string]string, len(deviceHandles))
	for _, h := range deviceHandles {
		devicePaths[h.Name] = h.Opened.Path
	}

	// Step 5: mount.
	mountHandles, err := mounts.MountAll(ctx, stage.Mounts, devicePaths)
	if err != nil {
		devices.CloseAll(ctx, deviceHandles)
		return nil, r.fail(ctx, pipelineName, stage.Name, err)
	}
	mountPaths := make(map[string]string, len(mountHandles))
	for _, h := range mountHandles {
		mountPaths[h.Name] = h.Target
	}

	// Step 6: open the stage's mutable tree, seeded from the build
	// environment's previous stage in the same pipeline when one exists.
	seedFrom := ""
	if stage.BuildEnvID != "" {
		seedFrom = string(stage.BuildEnvID)
	}
	ws, err := r.Store.NewWorkspace(ctx, string(stage.ID), seedFrom)
	if err != nil {
		mounts.UnmountAll(ctx, mountHandles)
		devices.CloseAll(ctx, deviceHandles)
		return nil, r.fail(ctx, pipelineName, stage.Name, err)
	}

	// Step 7: enter the sandbox and invoke the module, collecting its metadata.
	moduleResult, runErr := r.invokeModule(ctx, stage, ws, inputPaths, devicePaths, mountPaths)

	// Step 8: teardown in strict reverse order, regardless of outcome.
	teardownErr := mounts.UnmountAll(ctx, mountHandles)
	if closeErr := devices.CloseAll(ctx, deviceHandles); closeErr != nil {
		teardownErr = combineErrors(teardownErr, closeErr)
	}

	if runErr != nil {
		ws.Discard()
		if teardownErr != nil {
			runErr = combineErrors(runErr, teardownErr)
		}
		return nil, r.fail(ctx, pipelineName, stage.Name, runErr)
	}
	if teardownErr != nil {
		ws.Discard()
		return nil, r.fail(ctx, pipelineName, stage.Name, teardownErr)
	}

	// Step 9: commit or discard.
	if !commit {
		if err := ws.Discard(); err != nil {
			return nil, r.fail(ctx, pipelineName, stage.Name, err)
		}
		r.Bus.Emit(ctx, monitor.Event{Kind: monitor.StageDone, Pipeline: pipelineName, Stage: stage.Name, Message: "discarded (not checkpointed)"})
		return &Result{ID: stage.ID, CacheHit: false, Committed: false}, nil
	}

	meta := store.CommitMeta{StageType: stage.Type, Pipeline: pipelineName, SizeBytes: treeSize(ws.Path)}
	if err := r.Store.Commit(ctx, ws, string(stage.ID), meta); err != nil {
		return nil, r.fail(ctx, pipelineName, stage.Name, err)
	}

	fields := map[string]string{}
	if moduleResult != nil && len(moduleResult.Metadata) > 0 {
		fields["metadata_bytes"] = fmt.Sprintf("%d", len(moduleResult.Metadata))
	}
	r.Bus.Emit(ctx, monitor.Event{Kind: monitor.StageDone, Pipeline: pipelineName, Stage: stage.Name, Fields: fields})
	return &Result{ID: stage.ID, CacheHit: false, Committed: true}, nil
}

func (r *Runner) invokeModule(ctx context.Context, stage manifest.ResolvedStage, ws *store.Workspace, inputPaths, devicePaths, mountPaths map[string]string) (*sandbox.ModuleResult, error) {
	modulePath, err := r.findModule(stage.Type)
	if err != nil {
		return nil, err
	}

	b := &sandbox.BuildRoot{
		StageID:     string(stage.ID),
		HostWorkDir: filepath.Join(r.ScratchRoot, string(stage.ID)),
		TreePath:    ws.Path,
		Inputs:      inputPaths,
		Devices:     devicePaths,
		Mounts:      mountPaths,
		ModulePath:  modulePath,
		Options:     stage.Options,
		SourceEpoch: r.SourceEpoch,
	}
	if stage.BuildEnvID != "" {
		// A build-environment pipeline's final committed tree is the
		// sandbox's read-only lower layer.
		b.BuildEnvPath = r.Store.ObjectPath(string(stage.BuildEnvID))
	}

	return invokeSandbox(ctx, b, r.Bus)
}

// invokeSandbox prepares, runs, and tears down a build root. It is a
// package variable so tests can substitute a fake that skips the real
// namespace/overlay machinery, the way devices.newKindFunc and
// mounts.newKindFunc are substituted.
var invokeSandbox = func(ctx context.Context, b *sandbox.BuildRoot, bus *monitor.Bus) (*sandbox.ModuleResult, error) {
	if err := b.Prepare(ctx, bus); err != nil {
		b.Teardown(ctx)
		return nil, err
	}
	defer b.Teardown(ctx)
	return b.Run(ctx)
}

// SetInvokeSandboxForTest substitutes the sandbox invocation used by
// RunStage, for callers outside this package (the executor package's own
// tests) that need to exercise full pipeline orchestration without the
// real namespace/overlay machinery sandbox.BuildRoot.Run requires root
// privilege for. Mirrors devices.SetKindFactoryForTest /
// mounts.SetKindFactoryForTest. Returns a restore func.
func SetInvokeSandboxForTest(f func(ctx context.Context, b *sandbox.BuildRoot, bus *monitor.Bus) (*sandbox.ModuleResult, error)) func() {
	orig := invokeSandbox
	invokeSandbox = f
	return func() { invokeSandbox = orig }
}

func (r *Runner) findModule(moduleType string) (string, error) {
	for _, dir := range r.ModuleSearchPath {
		candidate := filepath.Join(dir, moduleType)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", errorkind.New(errorkind.ModuleUnknown, moduleType, fmt.Sprintf("module %q not found on search path", moduleType), nil)
}

// ValidateModules checks that every stage's module type across every
// pipeline in resolved is present on ModuleSearchPath, without running
// anything. spec.md §4.1 lists an unregistered module as a Loader
// rejection and §7 requires module-unknown to be fatal and abort before
// any execution; calling this before the first RunStage means a manifest
// with a bad module in a later pipeline fails before an earlier pipeline
// has fetched sources or committed objects.
func (r *Runner) ValidateModules(resolved *manifest.Resolved) error {
	seen := map[string]bool{}
	for _, p := range resolved.Pipelines {
		for _, stage := range p.Stages {
			if seen[stage.Type] {
				continue
			}
			if _, err := r.findModule(stage.Type); err != nil {
				return err
			}
			seen[stage.Type] = true
		}
	}
	return nil
}

func (r *Runner) fail(ctx context.Context, pipelineName, stageName string, err error) error {
	r.Bus.Emit(ctx, monitor.Event{Kind: monitor.StageFailed, Pipeline: pipelineName, Stage: stageName, Err: err.Error()})
	return err
}

func sortedInputNames(inputs map[string]manifest.Origin) []string {
	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func combineErrors(a, b error) error {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return fmt.Errorf("%w; %v", a, b)
}

func treeSize(root string) int64 {
	var total int64
	filepath.Walk(root, func(_ string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total
}

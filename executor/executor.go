// Package executor implements the Pipeline Executor: it walks a resolved
// manifest's pipelines in topological order, decides which stages must be
// committed to survive the run (because a downstream pipeline depends on
// them, because the caller asked for a checkpoint, or because the caller
// asked for an export), drives the Module Runner one stage at a time, and
// copies exported trees out to the caller; checkpointed trees stay in the
// store under their checkpoint name.
package executor

import (
	"context"
	"fmt"

	"github.com/banksean/pipeforge/errorkind"
	"github.com/banksean/pipeforge/manifest"
	"github.com/banksean/pipeforge/monitor"
	"github.com/banksean/pipeforge/runner"
	"github.com/banksean/pipeforge/store"
	"github.com/hashicorp/go-multierror"
)

// Options carries one run's user-facing invocation surface (spec.md §6):
// checkpoint/export selectors and the output directory exports are copied
// into.
type Options struct {
	// Checkpoints are selectors naming what must be committed and named so
	// it survives across runs: a pipeline name (its last stage), a
	// "<pipeline>/<index>:<type>" stage name, or a raw stage id.
	Checkpoints []string
	// Exports names pipelines whose final tree should be copied to
	// OutputDir/<pipeline> after the run.
	Exports []string
	// OutputDir is required whenever Exports is non-empty, whether or not
	// checkpoints were also requested; a checkpoint-only run needs none.
	// Exports are written under OutputDir/<pipeline-name>.
	OutputDir string
}

// StageOutcome records one stage that either ran fresh or was reused from
// the cache, for the final result record (spec.md §7).
type StageOutcome struct {
	Pipeline string
	Stage    string
	ID       manifest.ID
	CacheHit bool
}

// Result is the terminal, successful-run record: every stage that ran or
// was cache-reused, and where every requested export landed.
type Result struct {
	Stages  []StageOutcome
	Exports map[string]string // pipeline name -> output path
}

// Executor drives one Runner across every pipeline in a Resolved manifest.
type Executor struct {
	Runner *runner.Runner
}

func New(r *runner.Runner) *Executor {
	return &Executor{Runner: r}
}

// Run executes every pipeline in resolved in the order the Loader already
// topologically sorted them into, committing exactly the stages that
// spec.md §4.7 requires and copying any requested exports to opts.OutputDir.
// A failed stage fails its pipeline, which fails any pipeline depending on
// it; already-committed objects from earlier pipelines are left in place.
func (e *Executor) Run(ctx context.Context, resolved *manifest.Resolved, opts Options) (*Result, error) {
	plan, err := buildPlan(resolved, opts)
	if err != nil {
		return nil, err
	}

	if err := e.Runner.ValidateModules(resolved); err != nil {
		return nil, err
	}

	pipelineIDs := make(map[string]manifest.ID, len(resolved.Pipelines))
	for _, p := range resolved.Pipelines {
		pipelineIDs[p.Name] = p.ID
	}

	res := &Result{Exports: map[string]string{}}

	for _, p := range resolved.Pipelines {
		if err := ctx.Err(); err != nil {
			return nil, errorkind.New(errorkind.Cancelled, p.Name, "run cancelled before pipeline started", err)
		}

		e.Runner.Bus.Emit(ctx, monitor.Event{Kind: monitor.PipelineStart, Pipeline: p.Name})

		var checkpointErr error
		for _, stage := range p.Stages {
			commit := plan.commitStage[stage.ID]
			result, err := e.Runner.RunStage(ctx, p.Name, stage, pipelineIDs, resolved.Sources, commit)
			if err != nil {
				e.Runner.Bus.Emit(ctx, monitor.Event{Kind: monitor.PipelineFailed, Pipeline: p.Name, Err: err.Error()})
				return nil, fmt.Errorf("pipeline %q: %w", p.Name, err)
			}
			res.Stages = append(res.Stages, StageOutcome{Pipeline: p.Name, Stage: stage.Name, ID: result.ID, CacheHit: result.CacheHit})

			if name, ok := plan.stageCheckpointName[stage.ID]; ok {
				if err := e.Runner.Store.Checkpoint(ctx, name, string(stage.ID)); err != nil {
					checkpointErr = combineResultErrors(checkpointErr, fmt.Errorf("checkpointing stage %q as %q: %w", stage.Name, name, err))
				}
			}
		}

		if len(p.Stages) == 0 && plan.commitEmptyPipeline[p.Name] {
			if err := commitEmptyPipeline(ctx, e.Runner.Store, p.Name, p.ID); err != nil {
				e.Runner.Bus.Emit(ctx, monitor.Event{Kind: monitor.PipelineFailed, Pipeline: p.Name, Err: err.Error()})
				return nil, fmt.Errorf("pipeline %q: %w", p.Name, err)
			}
			if name, ok := plan.emptyPipelineCheckpointName[p.Name]; ok {
				if err := e.Runner.Store.Checkpoint(ctx, name, string(p.ID)); err != nil {
					checkpointErr = combineResultErrors(checkpointErr, fmt.Errorf("checkpointing pipeline %q as %q: %w", p.Name, name, err))
				}
			}
		}

		var exportErr error
		if plan.export[p.Name] {
			dest := store.ExportPath(opts.OutputDir, p.Name)
			if err := e.Runner.Store.ExportTree(ctx, string(p.ID), p.Name, dest); err != nil {
				exportErr = fmt.Errorf("exporting pipeline %q: %w", p.Name, err)
			} else {
				res.Exports[p.Name] = dest
			}
		}
		if err := combineResultErrors(checkpointErr, exportErr); err != nil {
			return nil, err
		}

		e.Runner.Bus.Emit(ctx, monitor.Event{Kind: monitor.PipelineDone, Pipeline: p.Name})
	}

	return res, nil
}

// commitEmptyPipeline commits a zero-stage pipeline's synthetic id as an
// empty tree, the scenario-1 case from spec.md §8: a pipeline with no
// stages that is still checkpointed or exported produces one empty object.
func commitEmptyPipeline(ctx context.Context, s *store.Store, pipelineName string, id manifest.ID) error {
	exists, err := s.Exists(string(id))
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	ws, err := s.NewWorkspace(ctx, string(id), "")
	if err != nil {
		return err
	}
	return s.Commit(ctx, ws, string(id), store.CommitMeta{StageType: "", Pipeline: pipelineName})
}

// combineResultErrors folds teardown-adjacent failures raised after a
// stage has already succeeded (checkpoint/export bookkeeping) so a caller
// sees every failure instead of only the first, mirroring the
// accumulate-don't-stop discipline devices/mounts/runner already use for
// teardown, and accumulating with go-multierror as devices and mounts do.
func combineResultErrors(errs ...error) error {
	var merr *multierror.Error
	for _, err := range errs {
		if err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	if merr == nil {
		return nil
	}
	return merr.ErrorOrNil()
}

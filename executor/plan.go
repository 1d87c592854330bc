package executor

import (
	"github.com/banksean/pipeforge/errorkind"
	"github.com/banksean/pipeforge/manifest"
)

// plan is what buildPlan precomputes once, up front, from a Resolved
// manifest and the caller's Options: exactly which stages must be
// committed, which get named checkpoints, and which pipelines must be
// exported. Precomputing this means Run's main loop never has to ask "does
// anything downstream need me?" mid-traversal.
type plan struct {
	// commitStage is true for every stage id that must be committed: the
	// final stage of a pipeline used as another pipeline's build
	// environment, an explicitly checkpointed stage, or the final stage of
	// an exported pipeline.
	commitStage map[manifest.ID]bool
	// commitEmptyPipeline is true for zero-stage pipelines that still need
	// their synthetic id committed as an empty tree (spec.md §8 scenario 1).
	commitEmptyPipeline map[string]bool
	// stageCheckpointName records the checkpoint name a stage should be
	// recorded under once it commits, applied right after that stage's
	// RunStage call succeeds.
	stageCheckpointName map[manifest.ID]string
	// emptyPipelineCheckpointName is stageCheckpointName's equivalent for
	// zero-stage pipelines, keyed by pipeline name since there is no stage
	// id to key on.
	emptyPipelineCheckpointName map[string]string
	// export is the set of pipeline names the caller asked to export.
	export map[string]bool
}

func buildPlan(resolved *manifest.Resolved, opts Options) (*plan, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}

	idx := buildIndex(resolved)

	p := &plan{
		commitStage:                 map[manifest.ID]bool{},
		commitEmptyPipeline:         map[string]bool{},
		stageCheckpointName:         map[manifest.ID]string{},
		emptyPipelineCheckpointName: map[string]string{},
		export:                      map[string]bool{},
	}

	// A pipeline used as another's build environment is implicitly
	// checkpointed: its tree must survive to be mounted as that other
	// pipeline's sandbox root (spec.md §4.7), but it gets no name of its
	// own unless the caller also asked for one.
	for _, rp := range resolved.Pipelines {
		if rp.Build == nil {
			continue
		}
		dep, ok := idx.pipelineByName[*rp.Build]
		if !ok {
			continue // manifest.Load already rejects unresolved build refs
		}
		markPipelineCommitted(p, dep)
	}

	// A plain stage input can also reference another pipeline's output by
	// pipeline name (spec.md §3), independent of Build. Per spec.md §4.7, that also
	// implicitly checkpoints the referenced pipeline's final stage (or, for
	// a zero-stage pipeline, its synthetic empty-tree id).
	for _, rp := range resolved.Pipelines {
		for _, stage := range rp.Stages {
			for _, origin := range stage.Inputs {
				if origin.Pipeline == nil {
					continue
				}
				dep, ok := idx.pipelineByName[origin.Pipeline.Pipeline]
				if !ok {
					continue // manifest.Load already rejects unresolved pipeline refs
				}
				markPipelineCommitted(p, dep)
			}
		}
	}

	for _, selector := range opts.Checkpoints {
		pipelineName, id, err := resolveCheckpointSelector(idx, selector)
		if err != nil {
			return nil, err
		}
		rp := idx.pipelineByName[pipelineName]
		if len(rp.Stages) == 0 {
			p.commitEmptyPipeline[pipelineName] = true
			p.emptyPipelineCheckpointName[pipelineName] = selector
		} else {
			p.commitStage[id] = true
			p.stageCheckpointName[id] = selector
		}
	}

	for _, name := range opts.Exports {
		rp, ok := idx.pipelineByName[name]
		if !ok {
			return nil, errorkind.New(errorkind.ManifestInvalid, name, "export references unknown pipeline", nil)
		}
		p.export[name] = true
		markPipelineCommitted(p, rp)
	}

	return p, nil
}

func markPipelineCommitted(p *plan, rp *manifest.ResolvedPipeline) {
	if len(rp.Stages) == 0 {
		p.commitEmptyPipeline[rp.Name] = true
		return
	}
	p.commitStage[rp.Stages[len(rp.Stages)-1].ID] = true
}

// validateOptions rejects invocations that amount to a no-op build before
// any stage runs (spec.md §8 scenario 6, and §9's "not auto-checkpointed;
// the caller must request it explicitly"), and rejects any export without
// an output directory, whether or not checkpoints were also requested.
func validateOptions(opts Options) error {
	if len(opts.Checkpoints) == 0 && len(opts.Exports) == 0 {
		return errorkind.New(errorkind.ManifestInvalid, "", "nothing to do: no checkpoint or export was requested (the final pipeline is never auto-checkpointed)", nil)
	}
	if len(opts.Exports) > 0 && opts.OutputDir == "" {
		return errorkind.New(errorkind.ManifestInvalid, "", "--export requires an output directory", nil)
	}
	return nil
}

type stageRef struct {
	pipelineName string
	id           manifest.ID
}

type index struct {
	pipelineByName map[string]*manifest.ResolvedPipeline
	stageByName    map[string]stageRef
	stageByID      map[manifest.ID]stageRef
}

func buildIndex(resolved *manifest.Resolved) *index {
	idx := &index{
		pipelineByName: map[string]*manifest.ResolvedPipeline{},
		stageByName:    map[string]stageRef{},
		stageByID:      map[manifest.ID]stageRef{},
	}
	for i := range resolved.Pipelines {
		rp := &resolved.Pipelines[i]
		idx.pipelineByName[rp.Name] = rp
		for _, s := range rp.Stages {
			ref := stageRef{pipelineName: rp.Name, id: s.ID}
			idx.stageByName[s.Name] = ref
			idx.stageByID[s.ID] = ref
		}
	}
	return idx
}

// resolveCheckpointSelector resolves one checkpoint selector to the
// pipeline it belongs to and the stage id it names, per spec.md §6: "by
// pipeline name, stage name, or stage id; `build` selects the last stage of
// the pipeline named `build`" — the last clause falls directly out of the
// pipeline-name case below, since "build" is just a pipeline name like any
// other.
func resolveCheckpointSelector(idx *index, selector string) (string, manifest.ID, error) {
	if rp, ok := idx.pipelineByName[selector]; ok {
		if len(rp.Stages) == 0 {
			return rp.Name, rp.ID, nil
		}
		return rp.Name, rp.Stages[len(rp.Stages)-1].ID, nil
	}
	if ref, ok := idx.stageByName[selector]; ok {
		return ref.pipelineName, ref.id, nil
	}
	if ref, ok := idx.stageByID[manifest.ID(selector)]; ok {
		return ref.pipelineName, ref.id, nil
	}
	return "", "", errorkind.New(errorkind.ManifestInvalid, selector, "checkpoint selector does not match any pipeline, stage name, or stage id", nil)
}

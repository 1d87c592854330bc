package manifest

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/banksean/pipeforge/errorkind"
	"github.com/goombaio/namegenerator"
)

const supportedVersion = "2"

// Load parses r as a version-2 manifest, resolves every origin reference,
// rejects cycles, and returns the pipelines in topological order with every
// stage id precomputed bottom-up.
func Load(r io.Reader) (*Resolved, error) {
	var m Manifest
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return nil, errorkind.New(errorkind.ManifestInvalid, "", "invalid manifest JSON", err)
	}
	return resolve(&m)
}

func resolve(m *Manifest) (*Resolved, error) {
	if m.Version != supportedVersion {
		return nil, errorkind.New(errorkind.ManifestInvalid, "", fmt.Sprintf("unsupported manifest version %q (want %q)", m.Version, supportedVersion), nil)
	}
	if len(m.Pipelines) == 0 {
		return nil, errorkind.New(errorkind.ManifestInvalid, "", "manifest has no pipelines: a no-op build is rejected", nil)
	}

	byName := make(map[string]*Pipeline, len(m.Pipelines))
	anon := namegenerator.NewNameGenerator(1) // deterministic: same manifest -> same synthetic names
	for i := range m.Pipelines {
		p := &m.Pipelines[i]
		if p.Name == "" {
			p.Name = "anon-" + anon.Generate()
		}
		if _, dup := byName[p.Name]; dup {
			return nil, errorkind.New(errorkind.ManifestInvalid, p.Name, "duplicate pipeline name", nil)
		}
		byName[p.Name] = p
	}

	order, err := topoSortPipelines(m.Pipelines, byName)
	if err != nil {
		return nil, err
	}

	resolvedByName := make(map[string]*ResolvedPipeline, len(order))
	out := make([]ResolvedPipeline, 0, len(order))
	for _, name := range order {
		p := byName[name]
		rp, err := resolvePipeline(m, p, resolvedByName)
		if err != nil {
			return nil, err
		}
		resolvedByName[name] = rp
		out = append(out, *rp)
	}

	return &Resolved{Manifest: *m, Pipelines: out}, nil
}

func resolvePipeline(m *Manifest, p *Pipeline, resolvedByName map[string]*ResolvedPipeline) (*ResolvedPipeline, error) {
	var buildEnvID ID
	if p.Build != nil {
		dep, ok := resolvedByName[*p.Build]
		if !ok {
			return nil, errorkind.New(errorkind.SourceUnresolved, p.Name, fmt.Sprintf("build environment pipeline %q not resolved before this one", *p.Build), nil)
		}
		buildEnvID = dep.ID
	}

	stages := make([]ResolvedStage, 0, len(p.Stages))
	for i, s := range p.Stages {
		inputNames := sortedKeys(s.Inputs)
		inputIDs := make(map[string]ID, len(s.Inputs))
		for _, name := range inputNames {
			origin := s.Inputs[name]
			id, err := resolveOrigin(m, origin, resolvedByName, p.Name)
			if err != nil {
				return nil, err
			}
			inputIDs[name] = id
		}

		if err := checkDeviceParentCycles(s.Devices); err != nil {
			return nil, errorkind.New(errorkind.CycleDetected, fmt.Sprintf("%s/%d", p.Name, i), "device parent cycle", err)
		}

		id := stageFingerprint(s.Type, s.Options, inputNames, inputIDs, buildEnvID)
		// Fold the previous stage's id into this one, so a change anywhere
		// upstream in the pipeline changes every later stage's id.
		if i > 0 {
			id = fingerprintValue(map[string]any{"stage": string(id), "previous": string(stages[i-1].ID)})
		}
		stages = append(stages, ResolvedStage{
			Stage:      s,
			ID:         id,
			Name:       fmt.Sprintf("%s/%d:%s", p.Name, i, s.Type),
			InputIDs:   inputIDs,
			BuildEnvID: buildEnvID,
		})
	}

	pipelineID := emptyPipelineID(buildEnvID)
	if len(stages) > 0 {
		pipelineID = stages[len(stages)-1].ID
	}

	return &ResolvedPipeline{Pipeline: *p, ID: pipelineID, Stages: stages}, nil
}

func resolveOrigin(m *Manifest, o Origin, resolvedByName map[string]*ResolvedPipeline, where string) (ID, error) {
	switch {
	case o.Source != nil:
		kindMap, ok := m.Sources[o.Source.Kind]
		if !ok {
			return "", errorkind.New(errorkind.SourceUnresolved, where, fmt.Sprintf("unknown source kind %q", o.Source.Kind), nil)
		}
		for _, cs := range o.Source.Checksums {
			if _, ok := kindMap[cs]; !ok {
				return "", errorkind.New(errorkind.SourceUnresolved, where, fmt.Sprintf("checksum %q not declared under source kind %q", cs, o.Source.Kind), nil)
			}
		}
		// A source origin's "id" for fingerprinting purposes is the content
		// checksum set itself, not an object id: no object exists for it
		// until the source cache has fetched it.
		return fingerprintValue(map[string]any{
			"sourceKind": string(o.Source.Kind),
			"checksums":  o.Source.Checksums,
		}), nil
	case o.Pipeline != nil:
		dep, ok := resolvedByName[o.Pipeline.Pipeline]
		if !ok {
			return "", errorkind.New(errorkind.SourceUnresolved, where, fmt.Sprintf("pipeline %q not resolved before this reference", o.Pipeline.Pipeline), nil)
		}
		if o.Pipeline.Subpath == "" {
			return dep.ID, nil
		}
		return fingerprintValue(map[string]any{"pipeline": string(dep.ID), "subpath": o.Pipeline.Subpath}), nil
	default:
		return "", errorkind.New(errorkind.ManifestInvalid, where, "origin has neither source nor pipeline reference", nil)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Declared order is not preserved by Go's map, but the fingerprint only
	// needs a *stable* order, not manifest-declaration order, since the
	// input id list is keyed by name; sort lexically for determinism.
	sortStrings(keys)
	return keys
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/banksean/pipeforge/errorkind"
	"github.com/banksean/pipeforge/manifest"
)

// InspectCmd resolves a manifest and prints every pipeline and stage's
// computed id without running any module, matching spec.md §6's "inspect
// mode": a dry validation pass a caller can run before committing to a build.
type InspectCmd struct {
	Manifest string `arg:"" type:"existingfile" help:"path to the pipeline manifest JSON document"`
}

func (cmd *InspectCmd) Run(rc *RunContext) error {
	f, err := os.Open(cmd.Manifest)
	if err != nil {
		return errorkind.New(errorkind.ManifestInvalid, cmd.Manifest, "opening manifest", err)
	}
	defer f.Close()

	resolved, err := manifest.Load(f)
	if err != nil {
		return err
	}

	for _, p := range resolved.Pipelines {
		build := "<host>"
		if p.Build != nil {
			build = *p.Build
		}
		fmt.Fprintf(os.Stdout, "pipeline %s\tbuild=%s\tid=%s\n", p.Name, build, p.ID)
		for _, s := range p.Stages {
			fmt.Fprintf(os.Stdout, "  stage %s\tid=%s\n", s.Name, s.ID)
		}
	}
	return nil
}

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/banksean/pipeforge/version"
)

// VersionCmd prints the build's version information as JSON.
type VersionCmd struct{}

func (cmd *VersionCmd) Run(rc *RunContext) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(version.Get()); err != nil {
		return fmt.Errorf("encoding version info: %w", err)
	}
	return nil
}

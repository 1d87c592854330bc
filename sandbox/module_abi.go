package sandbox

import (
	"encoding/json"
	"os"

	"github.com/banksean/pipeforge/errorkind"
)

// ModuleArgs is the JSON argument blob written to the well-known arguments
// file before a module is exec'd, and read by the module from the path
// given as its single command-line argument.
type ModuleArgs struct {
	Tree    string                     `json:"tree"`
	Inputs  map[string]string          `json:"inputs"`
	Devices map[string]string          `json:"devices"`
	Mounts  map[string]string          `json:"mounts"`
	Options json.RawMessage            `json:"options,omitempty"`
	Paths   ModulePaths                `json:"paths"`
	Meta    ModuleMeta                 `json:"meta"`
}

// ModulePaths is a convenience record so a module doesn't have to
// reconstruct the canonical roots from individual entries.
type ModulePaths struct {
	MountsRoot  string `json:"mounts_root"`
	DevicesRoot string `json:"devices_root"`
	InputsRoot  string `json:"inputs_root"`
}

// ModuleMeta carries provenance a module may embed in its output metadata.
type ModuleMeta struct {
	StageID      string `json:"stage_id"`
	SourceEpoch  int64  `json:"source_epoch"`
}

// ModuleResult is the JSON object a module writes to its well-known result
// fd before exiting.
type ModuleResult struct {
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

const (
	argsFileName      = "args.json"
	resultFDPath      = "/run/osbuild/result"
	argsFilePath      = "/run/osbuild/args.json"
)

// writeArgsFile serializes args as the JSON document a module reads from
// argsFilePath inside the sandbox.
func writeArgsFile(hostPath string, args ModuleArgs) error {
	data, err := json.Marshal(args)
	if err != nil {
		return errorkind.New(errorkind.SandboxSetup, hostPath, "marshaling module argument blob", err)
	}
	if err := os.WriteFile(hostPath, data, 0o640); err != nil {
		return errorkind.New(errorkind.SandboxSetup, hostPath, "writing module argument blob", err)
	}
	return nil
}

// readResultFile parses the JSON object a module wrote to its result path
// after reading argsFilePath and exiting zero.
func readResultFile(hostPath string) (*ModuleResult, error) {
	data, err := os.ReadFile(hostPath)
	if err != nil {
		return nil, errorkind.New(errorkind.ModuleExit, hostPath, "reading module result", err)
	}
	var result ModuleResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, errorkind.New(errorkind.ModuleExit, hostPath, "parsing module result", err)
	}
	return &result, nil
}

// Package devices implements the host-service helpers that open and close
// block devices for a sandboxed stage: a loopback file-as-block-device, an
// LVM logical-volume activator, and a LUKS encrypted-volume opener. Each
// kind is a thin exec.Command/CombinedOutput wrapper around the matching
// system tool, run in-process by the Runner rather than over the
// hostservice protocol — see SPEC_FULL.md §4.4 and the Open Questions
// record in DESIGN.md for why.
package devices

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"syscall"

	"github.com/banksean/pipeforge/errorkind"
)

// Opened is what an "open" call returns: the resulting device node and any
// kind-specific metadata the mount stage or a child device might need.
type Opened struct {
	Path  string         `json:"path"`
	Major int            `json:"major"`
	Minor int            `json:"minor"`
	Meta  map[string]any `json:"meta,omitempty"`
}

// Kind is implemented by each concrete device opener (loopback, lvm, luks).
type Kind interface {
	// Open attaches the device, given the parent device's path (empty if
	// this kind has no parent) and its own options blob.
	Open(ctx context.Context, parentPath string, options json.RawMessage) (*Opened, error)
	// Close detaches the device opened by the most recent Open call.
	Close(ctx context.Context) error
}

func run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", errorkind.New(errorkind.DeviceOpen, name, fmt.Sprintf("%s %s: %s", name, strings.Join(args, " "), strings.TrimSpace(string(out))), err)
	}
	return string(out), nil
}

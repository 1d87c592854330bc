// Package mounts implements the host-service helpers that mount and unmount
// a device at a target path inside the sandbox: a bind mount and a
// filesystem mount are the two first-class kinds. The Runner stacks mount
// helpers so nested mounts (a filesystem on an encrypted volume on a
// partition on a loopback) unwind in reverse.
package mounts

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"syscall"

	"github.com/banksean/pipeforge/errorkind"
	"github.com/banksean/pipeforge/manifest"
)

// Kind is implemented by each concrete mount helper (bind, filesystem).
type Kind interface {
	Mount(ctx context.Context, devicePath, target string, options json.RawMessage) error
	Umount(ctx context.Context) error
}

func run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errorkind.New(errorkind.MountFailed, name, fmt.Sprintf("%s %s: %s", name, strings.Join(args, " "), strings.TrimSpace(string(out))), err)
	}
	return nil
}

// newKindFunc constructs the helper implementation for a declared mount
// kind. A package variable so tests can substitute a fake without invoking
// mount(8)/umount(8).
var newKindFunc = func(kind string) (Kind, error) {
	switch kind {
	case "bind":
		return &Bind{}, nil
	case "filesystem":
		return &Filesystem{}, nil
	default:
		return nil, errorkind.New(errorkind.ModuleUnknown, kind, "unknown mount kind", nil)
	}
}

// SetKindFactoryForTest substitutes the kind registry used by MountAll, for
// callers outside this package that need to exercise mount orchestration
// without real mount(8)/umount(8). Returns a restore func.
func SetKindFactoryForTest(f func(kind string) (Kind, error)) func() {
	orig := newKindFunc
	newKindFunc = f
	return func() { newKindFunc = orig }
}

// Handle pairs a mounted target with the Kind that mounted it.
type Handle struct {
	Name   string
	Target string
	Kind   Kind
}

// MountAll mounts every declared mount in manifest order against the
// already-open devices map (name -> resolved device path), and returns
// handles in the order they were mounted so the caller can unwind in
// reverse.
func MountAll(ctx context.Context, declared []manifest.Mount, devicePaths map[string]string) ([]Handle, error) {
	var handles []Handle
	for _, m := range declared {
		devPath, ok := devicePaths[m.Device]
		if !ok {
			UnmountAll(ctx, handles)
			return nil, errorkind.New(errorkind.MountFailed, m.Target, fmt.Sprintf("mount references undeclared device %q", m.Device), nil)
		}
		k, err := newKindFunc(m.Kind)
		if err != nil {
			UnmountAll(ctx, handles)
			return nil, err
		}
		if err := k.Mount(ctx, devPath, m.Target, m.Options); err != nil {
			UnmountAll(ctx, handles)
			return nil, errorkind.New(errorkind.MountFailed, m.Target, "mounting", err)
		}
		handles = append(handles, Handle{Name: m.Name, Target: m.Target, Kind: k})
	}
	return handles, nil
}

// UnmountAll unwinds handles in strict reverse order, matching the stacking
// requirement: a filesystem mounted over a device must be unmounted before
// that device is closed.
func UnmountAll(ctx context.Context, handles []Handle) error {
	var errs []error
	for i := len(handles) - 1; i >= 0; i-- {
		if err := handles[i].Kind.Umount(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return joinErrors(errs)
}

// Package sandbox constructs the ephemeral, namespace-isolated build root a
// module runs inside: an overlay rootfs over the stage's build environment,
// a restricted /dev, a fresh /proc, /sys and /run, and declared inputs,
// devices and mounts bound under canonical /run/osbuild paths.
package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"github.com/banksean/pipeforge/errorkind"
	"github.com/banksean/pipeforge/monitor"
)

// BuildRoot is the set of host-filesystem state backing one stage's module
// invocation. It owns HostWorkDir entirely; Teardown removes it.
type BuildRoot struct {
	StageID string

	// BuildEnvPath is the committed object tree used as the read-only lower
	// layer, or "" to pass a controlled view of the host through instead.
	BuildEnvPath string
	// HostWorkDir is this BuildRoot's private scratch directory on the host.
	HostWorkDir string
	// TreePath is the stage's mutable workspace, bound at /run/osbuild/tree.
	TreePath string

	Inputs  map[string]string // name -> host path, bound read-only under /run/osbuild/inputs
	Devices map[string]string // name -> host device node path, under /run/osbuild/devices
	Mounts  map[string]string // name -> host mount target, under /run/osbuild/mounts

	ModulePath  string
	Options     []byte // module-specific options, passed through verbatim
	SourceEpoch int64
	Timeout     time.Duration

	mountedPaths []string // bind/tmpfs/overlay targets, unmounted in reverse on Teardown
	api          *APIServer
}

func (b *BuildRoot) root() string { return filepath.Join(b.HostWorkDir, "root") }

// Prepare constructs the overlay rootfs, pseudo-filesystems, and every
// declared input/device/mount bind mount, and writes the module's argument
// blob. It must be called exactly once, and Teardown must be called
// afterward regardless of whether Run succeeds.
func (b *BuildRoot) Prepare(ctx context.Context, bus *monitor.Bus) error {
	for _, dir := range []string{"upper", "work", "root"} {
		if err := os.MkdirAll(filepath.Join(b.HostWorkDir, dir), 0o755); err != nil {
			return errorkind.New(errorkind.SandboxSetup, b.HostWorkDir, "creating build root layout", err)
		}
	}

	if err := b.mountRootfs(ctx); err != nil {
		return err
	}

	runRoot := filepath.Join(b.root(), "run")
	if err := os.MkdirAll(runRoot, 0o755); err != nil {
		return errorkind.New(errorkind.SandboxSetup, runRoot, "creating /run mount point", err)
	}
	if err := mountTmpfs(runRoot, ""); err != nil {
		return err
	}
	b.track(runRoot)

	runDir := filepath.Join(runRoot, "osbuild")
	for _, sub := range []string{"tree", "inputs", "devices", "mounts"} {
		if err := os.MkdirAll(filepath.Join(runDir, sub), 0o755); err != nil {
			return errorkind.New(errorkind.SandboxSetup, runDir, "creating /run/osbuild layout", err)
		}
	}

	for _, dir := range []string{"proc", "sys", "dev"} {
		if err := os.MkdirAll(filepath.Join(b.root(), dir), 0o755); err != nil {
			return errorkind.New(errorkind.SandboxSetup, dir, "creating pseudo-filesystem mount point", err)
		}
	}
	if err := mountPseudoFilesystems(b.root()); err != nil {
		return err
	}
	b.track(filepath.Join(b.root(), "proc"), filepath.Join(b.root(), "sys"), filepath.Join(b.root(), "dev"))

	if b.TreePath != "" {
		dst := filepath.Join(runDir, "tree")
		if err := bindMount(b.TreePath, dst, false); err != nil {
			return err
		}
		b.track(dst)
	}
	if err := b.bindNamed(runDir, "inputs", b.Inputs, true); err != nil {
		return err
	}
	if err := b.bindNamed(runDir, "devices", b.Devices, false); err != nil {
		return err
	}
	if err := b.bindNamed(runDir, "mounts", b.Mounts, false); err != nil {
		return err
	}

	api, err := b.bindAPISocket(bus)
	if err != nil {
		return err
	}
	b.api = api
	go func() {
		if err := api.Serve(ctx); err != nil {
			slog.ErrorContext(ctx, "sandbox api socket serve", "stage", b.StageID, "error", err)
		}
	}()

	args := ModuleArgs{
		Tree:    "/run/osbuild/tree",
		Inputs:  prefixedPaths("/run/osbuild/inputs", b.Inputs),
		Devices: prefixedPaths("/run/osbuild/devices", b.Devices),
		Mounts:  prefixedPaths("/run/osbuild/mounts", b.Mounts),
		Options: b.Options,
		Paths: ModulePaths{
			MountsRoot:  "/run/osbuild/mounts",
			DevicesRoot: "/run/osbuild/devices",
			InputsRoot:  "/run/osbuild/inputs",
		},
		Meta: ModuleMeta{StageID: b.StageID, SourceEpoch: b.SourceEpoch},
	}
	return writeArgsFile(filepath.Join(runDir, argsFileName), args)
}

func (b *BuildRoot) mountRootfs(ctx context.Context) error {
	lower := b.BuildEnvPath
	if lower == "" {
		lower = "/"
	}
	upper := filepath.Join(b.HostWorkDir, "upper")
	work := filepath.Join(b.HostWorkDir, "work")
	root := b.root()
	opts := fmt.Sprintf("lowerdir=%s,upperdir=%s,workdir=%s", lower, upper, work)
	slog.DebugContext(ctx, "sandbox: mounting overlay rootfs", "stage", b.StageID, "opts", opts)

	if err := mountOverlay(root, opts); err != nil {
		return err
	}
	b.track(root)
	return nil
}

// bindNamed binds host paths in named (sorted for determinism) under
// runDir/subdir/<name>.
func (b *BuildRoot) bindNamed(runDir, subdir string, named map[string]string, readOnly bool) error {
	names := make([]string, 0, len(named))
	for name := range named {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		src := named[name]
		dst := filepath.Join(runDir, subdir, name)
		if err := mkMountPointLike(src, dst); err != nil {
			return err
		}
		if err := bindMount(src, dst, readOnly); err != nil {
			return err
		}
		b.track(dst)
	}
	return nil
}

func (b *BuildRoot) track(paths ...string) {
	b.mountedPaths = append(b.mountedPaths, paths...)
}

// Run re-execs this binary into fresh namespaces, which pivots into the
// prepared root and execs the module (see reexec.go), then waits for it to
// exit and reads its result.
func (b *BuildRoot) Run(ctx context.Context) (*ModuleResult, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if b.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, b.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, "/proc/self/exe", reexecSentinel, b.root(), b.ModulePath)
	cmd.SysProcAttr = namespaceSysProcAttr(os.Getuid(), os.Getgid())
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		if runCtx.Err() != nil {
			return nil, errorkind.New(errorkind.ModuleTimeout, b.StageID, "module exceeded its timeout", err)
		}
		return nil, errorkind.New(errorkind.ModuleExit, b.StageID, "module exited non-zero", err)
	}

	return readResultFile(filepath.Join(b.root(), resultFDPath))
}

// Teardown unmounts everything Prepare mounted, in strict reverse order,
// then removes HostWorkDir. It accumulates rather than stops at the first
// failure, matching the devices/mounts packages' teardown behavior.
func (b *BuildRoot) Teardown(ctx context.Context) error {
	var errs []error
	if b.api != nil {
		if err := b.api.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(b.mountedPaths) - 1; i >= 0; i-- {
		if err := unmount(b.mountedPaths[i]); err != nil {
			errs = append(errs, err)
		}
	}
	b.mountedPaths = nil
	if err := os.RemoveAll(b.HostWorkDir); err != nil {
		errs = append(errs, errorkind.New(errorkind.SandboxSetup, b.HostWorkDir, "removing build root scratch directory", err))
	}
	return joinErrors(errs)
}

func prefixedPaths(prefix string, named map[string]string) map[string]string {
	out := make(map[string]string, len(named))
	for name := range named {
		out[name] = filepath.Join(prefix, name)
	}
	return out
}

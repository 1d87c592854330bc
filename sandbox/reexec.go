package sandbox

import (
	"fmt"
	"os"
	"syscall"

	"github.com/banksean/pipeforge/errorkind"
)

// reexecSentinel is argv[1] this binary recognizes as "enter the namespaces
// prepared by the parent, then exec the module" rather than running the
// normal CLI. Entering a PID namespace requires becoming its init process
// via exec, not merely unsharing in-place, so the parent re-execs this same
// binary rather than forking a plain child.
const reexecSentinel = "__pipeforge_buildroot_entrypoint__"

// MaybeRunBuildRootEntrypoint inspects os.Args and, if this process was
// re-exec'd by (*BuildRoot).Run, never returns: it pivots into the prepared
// root and execs the module, or exits non-zero on failure. cmd/pipeforge's
// main calls this before parsing any CLI flags.
func MaybeRunBuildRootEntrypoint() {
	if len(os.Args) < 4 || os.Args[1] != reexecSentinel {
		return
	}
	root, modulePath := os.Args[2], os.Args[3]
	if err := runBuildRootEntrypoint(root, modulePath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	// runBuildRootEntrypoint only returns on success by way of syscall.Exec,
	// which replaces this process image; reaching here is a bug.
	os.Exit(1)
}

func runBuildRootEntrypoint(root, modulePath string) error {
	if err := pivotRoot(root); err != nil {
		return err
	}
	argv := []string{modulePath, argsFilePath}
	env := os.Environ()
	if err := syscall.Exec(modulePath, argv, env); err != nil {
		return errorkind.New(errorkind.SandboxSetup, modulePath, "exec'ing module after pivot_root", err)
	}
	return nil
}

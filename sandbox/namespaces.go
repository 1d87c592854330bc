package sandbox

import (
	"os"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/banksean/pipeforge/errorkind"
)

// cloneFlags isolates the module from the host's mount table, UTS, IPC, PID
// and network namespaces. A user namespace is entered too so the module can
// run as root inside the sandbox without holding real root on the host.
const cloneFlags = unix.CLONE_NEWNS |
	unix.CLONE_NEWUTS |
	unix.CLONE_NEWIPC |
	unix.CLONE_NEWPID |
	unix.CLONE_NEWNET |
	unix.CLONE_NEWUSER

// namespaceSysProcAttr builds the SysProcAttr that puts the re-exec'd child
// (see reexec.go) into fresh namespaces before it runs buildRootEntrypoint.
func namespaceSysProcAttr(uid, gid int) *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Cloneflags: uintptr(cloneFlags),
		UidMappings: []syscall.SysProcIDMap{
			{ContainerID: 0, HostID: uid, Size: 1},
		},
		GidMappings: []syscall.SysProcIDMap{
			{ContainerID: 0, HostID: gid, Size: 1},
		},
	}
}

// bindMount bind-mounts src onto dst, optionally read-only. dst must already
// exist (a file or a directory matching src's type).
func bindMount(src, dst string, readOnly bool) error {
	if err := unix.Mount(src, dst, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return errorkind.New(errorkind.SandboxSetup, dst, "bind-mounting "+src, err)
	}
	if readOnly {
		if err := unix.Mount(src, dst, "", unix.MS_BIND|unix.MS_REMOUNT|unix.MS_RDONLY, ""); err != nil {
			return errorkind.New(errorkind.SandboxSetup, dst, "remounting "+dst+" read-only", err)
		}
	}
	return nil
}

// mountTmpfs mounts a fresh tmpfs at dst, used for the restricted /dev and
// for a clean /run inside the sandbox.
func mountTmpfs(dst, sizeOpt string) error {
	opts := "mode=0755"
	if sizeOpt != "" {
		opts += ",size=" + sizeOpt
	}
	if err := unix.Mount("tmpfs", dst, "tmpfs", 0, opts); err != nil {
		return errorkind.New(errorkind.SandboxSetup, dst, "mounting tmpfs", err)
	}
	return nil
}

// mountPseudoFilesystems mounts /proc, /sys (read-only) and a restricted
// /dev under root, which must already contain the corresponding empty
// directories.
func mountPseudoFilesystems(root string) error {
	proc := filepath.Join(root, "proc")
	if err := unix.Mount("proc", proc, "proc", 0, ""); err != nil {
		return errorkind.New(errorkind.SandboxSetup, proc, "mounting proc", err)
	}

	sys := filepath.Join(root, "sys")
	if err := unix.Mount("sysfs", sys, "sysfs", unix.MS_RDONLY, ""); err != nil {
		return errorkind.New(errorkind.SandboxSetup, sys, "mounting sysfs", err)
	}

	dev := filepath.Join(root, "dev")
	if err := mountTmpfs(dev, "64k"); err != nil {
		return err
	}
	for _, node := range []string{"null", "zero", "full", "random", "urandom", "tty"} {
		if err := bindDevNode(node, dev); err != nil {
			return err
		}
	}
	return nil
}

// bindDevNode bind-mounts a single restricted device node from the host's
// /dev into the sandbox's /dev, creating the mount point file first.
func bindDevNode(name, sandboxDevDir string) error {
	dst := filepath.Join(sandboxDevDir, name)
	f, err := os.OpenFile(dst, os.O_CREATE, 0o600)
	if err != nil {
		return errorkind.New(errorkind.SandboxSetup, dst, "creating device node mount point", err)
	}
	f.Close()
	return bindMount(filepath.Join("/dev", name), dst, false)
}

// pivotRoot replaces the process's root filesystem with newRoot, stashing
// the old root under newRoot/oldRootName and then unmounting it.
func pivotRoot(newRoot string) error {
	const oldRootName = ".pipeforge-oldroot"
	oldRoot := filepath.Join(newRoot, oldRootName)
	if err := os.MkdirAll(oldRoot, 0o700); err != nil {
		return errorkind.New(errorkind.SandboxSetup, oldRoot, "creating pivot_root staging directory", err)
	}
	if err := unix.PivotRoot(newRoot, oldRoot); err != nil {
		return errorkind.New(errorkind.SandboxSetup, newRoot, "pivot_root", err)
	}
	if err := unix.Chdir("/"); err != nil {
		return errorkind.New(errorkind.SandboxSetup, "/", "chdir after pivot_root", err)
	}
	oldRootAfterPivot := filepath.Join("/", oldRootName)
	if err := unix.Unmount(oldRootAfterPivot, unix.MNT_DETACH); err != nil {
		return errorkind.New(errorkind.SandboxSetup, oldRootAfterPivot, "detaching old root", err)
	}
	return os.RemoveAll(oldRootAfterPivot)
}

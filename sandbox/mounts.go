package sandbox

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/banksean/pipeforge/errorkind"
)

// mountOverlay mounts an overlayfs at dst with the given lowerdir/upperdir/
// workdir option string.
func mountOverlay(dst, opts string) error {
	if err := unix.Mount("overlay", dst, "overlay", 0, opts); err != nil {
		return errorkind.New(errorkind.SandboxSetup, dst, "mounting overlay rootfs", err)
	}
	return nil
}

// unmount lazily detaches whatever is mounted at path, tolerating "not
// mounted" so Teardown can run against a BuildRoot that failed partway
// through Prepare.
func unmount(path string) error {
	if err := unix.Unmount(path, unix.MNT_DETACH); err != nil {
		if err == unix.EINVAL {
			return nil
		}
		return errorkind.New(errorkind.SandboxSetup, path, "unmounting", err)
	}
	return nil
}

// mkMountPointLike creates dst as a file or directory matching src's type,
// so it can serve as a bind-mount target.
func mkMountPointLike(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return errorkind.New(errorkind.SandboxSetup, src, "statting bind-mount source", err)
	}
	if info.IsDir() {
		if err := os.MkdirAll(dst, 0o755); err != nil {
			return errorkind.New(errorkind.SandboxSetup, dst, "creating bind-mount target directory", err)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errorkind.New(errorkind.SandboxSetup, dst, "creating bind-mount target parent", err)
	}
	f, err := os.OpenFile(dst, os.O_CREATE, 0o644)
	if err != nil {
		return errorkind.New(errorkind.SandboxSetup, dst, "creating bind-mount target file", err)
	}
	return f.Close()
}

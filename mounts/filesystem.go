package mounts

import (
	"context"
	"encoding/json"

	"github.com/banksean/pipeforge/errorkind"
)

// FilesystemOptions names the on-disk filesystem type and any mount(8)
// option string to pass through verbatim (e.g. "noatime,discard").
type FilesystemOptions struct {
	FSType  string `json:"fsType"`
	Options string `json:"options,omitempty"`
}

// Filesystem mounts a device-backed filesystem (ext4, xfs, btrfs, ...) at
// target.
type Filesystem struct {
	target string
}

func (f *Filesystem) Mount(ctx context.Context, devicePath, target string, rawOptions json.RawMessage) error {
	var opts FilesystemOptions
	if err := json.Unmarshal(rawOptions, &opts); err != nil {
		return errorkind.New(errorkind.MountFailed, target, "decoding filesystem options", err)
	}
	if opts.FSType == "" {
		return errorkind.New(errorkind.MountFailed, target, "fsType is required", nil)
	}

	args := []string{"-t", opts.FSType}
	if opts.Options != "" {
		args = append(args, "-o", opts.Options)
	}
	args = append(args, devicePath, target)

	if err := run(ctx, "mount", args...); err != nil {
		return err
	}
	f.target = target
	return nil
}

func (f *Filesystem) Umount(ctx context.Context) error {
	if f.target == "" {
		return nil
	}
	return run(ctx, "umount", f.target)
}

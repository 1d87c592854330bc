package mounts

import (
	"context"
	"encoding/json"

	"github.com/banksean/pipeforge/errorkind"
)

// BindOptions configures a bind mount. ReadOnly is the common case: most
// bind mounts inside the sandbox (inputs, the build environment root) are
// read-only by design.
type BindOptions struct {
	ReadOnly bool `json:"readOnly,omitempty"`
}

// Bind bind-mounts a source path (devicePath, for a bind mount, is the
// source tree rather than a block device) onto target.
type Bind struct {
	target string
}

func (b *Bind) Mount(ctx context.Context, source, target string, rawOptions json.RawMessage) error {
	var opts BindOptions
	if len(rawOptions) > 0 {
		if err := json.Unmarshal(rawOptions, &opts); err != nil {
			return errorkind.New(errorkind.MountFailed, target, "decoding bind options", err)
		}
	}

	if err := run(ctx, "mount", "--bind", source, target); err != nil {
		return err
	}
	if opts.ReadOnly {
		if err := run(ctx, "mount", "-o", "remount,bind,ro", target); err != nil {
			return err
		}
	}
	b.target = target
	return nil
}

func (b *Bind) Umount(ctx context.Context) error {
	if b.target == "" {
		return nil
	}
	return run(ctx, "umount", b.target)
}

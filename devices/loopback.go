package devices

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/banksean/pipeforge/cliargs"
	"github.com/banksean/pipeforge/errorkind"
)

// LoopbackOptions configures "losetup" when attaching a file as a block
// device.
type LoopbackOptions struct {
	File     string `json:"file" flag:"--file,keepZero"`
	ReadOnly bool   `json:"readOnly,omitempty" flag:"--read-only"`
	Offset   int64  `json:"offset,omitempty" flag:"--offset,keepZero"`
	SizeLimit int64 `json:"sizeLimit,omitempty" flag:"--sizelimit,keepZero"`
}

// Loopback attaches a regular file as a block device via losetup.
type Loopback struct {
	devPath string
}

func (l *Loopback) Open(ctx context.Context, parentPath string, rawOptions json.RawMessage) (*Opened, error) {
	var opts LoopbackOptions
	if err := json.Unmarshal(rawOptions, &opts); err != nil {
		return nil, errorkind.New(errorkind.DeviceOpen, "loopback", "decoding options", err)
	}
	if opts.File == "" {
		return nil, errorkind.New(errorkind.DeviceOpen, "loopback", "file option is required", nil)
	}

	args := append([]string{"--find", "--show"}, loopbackArgs(opts)...)
	out, err := run(ctx, "losetup", args...)
	if err != nil {
		return nil, err
	}
	l.devPath = strings.TrimSpace(out)

	return &Opened{Path: l.devPath, Meta: map[string]any{"file": opts.File}}, nil
}

func (l *Loopback) Close(ctx context.Context) error {
	if l.devPath == "" {
		return nil
	}
	_, err := run(ctx, "losetup", "--detach", l.devPath)
	return err
}

// loopbackArgs renders the file and options after the --find/--show flags
// losetup needs up front (it takes the file as a trailing positional arg).
func loopbackArgs(opts LoopbackOptions) []string {
	flags := cliargs.ToArgs(&struct {
		ReadOnly  bool  `flag:"--read-only"`
		Offset    int64 `flag:"--offset,keepZero"`
		SizeLimit int64 `flag:"--sizelimit,keepZero"`
	}{ReadOnly: opts.ReadOnly, Offset: opts.Offset, SizeLimit: opts.SizeLimit})
	return append(flags, opts.File)
}

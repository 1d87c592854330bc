package devices

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/banksean/pipeforge/errorkind"
)

// LVMOptions names the logical volume to activate on top of a parent device
// (typically a loopback-attached physical volume).
type LVMOptions struct {
	VolumeGroup  string `json:"volumeGroup"`
	LogicalVolume string `json:"logicalVolume"`
}

// LVM activates a logical volume, suppressing udev auto-activation for the
// duration so the Runner (not the host's udev rules) controls when the
// volume's device node appears and disappears.
type LVM struct {
	opts   LVMOptions
	suppressedUdev bool
}

func (l *LVM) Open(ctx context.Context, parentPath string, rawOptions json.RawMessage) (*Opened, error) {
	if err := json.Unmarshal(rawOptions, &l.opts); err != nil {
		return nil, errorkind.New(errorkind.DeviceOpen, "lvm", "decoding options", err)
	}
	if l.opts.VolumeGroup == "" || l.opts.LogicalVolume == "" {
		return nil, errorkind.New(errorkind.DeviceOpen, "lvm", "volumeGroup and logicalVolume are required", nil)
	}

	if _, err := run(ctx, "dmsetup", "udevcomplete_all", "--yes"); err == nil {
		l.suppressedUdev = true
	}

	if parentPath != "" {
		if _, err := run(ctx, "pvscan", "--cache", parentPath); err != nil {
			return nil, err
		}
	}

	vgPath := fmt.Sprintf("%s/%s", l.opts.VolumeGroup, l.opts.LogicalVolume)
	if _, err := run(ctx, "lvchange", "--activate", "y", vgPath); err != nil {
		return nil, err
	}

	devPath := fmt.Sprintf("/dev/%s/%s", l.opts.VolumeGroup, l.opts.LogicalVolume)
	return &Opened{Path: devPath, Meta: map[string]any{"vgPath": vgPath}}, nil
}

func (l *LVM) Close(ctx context.Context) error {
	vgPath := fmt.Sprintf("%s/%s", l.opts.VolumeGroup, l.opts.LogicalVolume)
	_, err := run(ctx, "lvchange", "--activate", "n", vgPath)
	if err != nil {
		return err
	}
	if l.suppressedUdev {
		// Re-enable normal udev handling now that the Runner is done
		// controlling this volume's lifecycle explicitly.
		_, _ = run(ctx, "udevadm", "trigger")
	}
	return nil
}

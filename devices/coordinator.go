package devices

import (
	"context"
	"encoding/json"

	"github.com/banksean/pipeforge/errorkind"
	"github.com/banksean/pipeforge/manifest"
)

// newKindFunc constructs the opener implementation for a declared device
// kind. It is a package variable (rather than a plain function) so tests can
// substitute a fake Kind without shelling out to losetup/lvm/cryptsetup.
var newKindFunc = func(kind string) (Kind, error) {
	switch kind {
	case "loopback":
		return &Loopback{}, nil
	case "lvm":
		return &LVM{}, nil
	case "luks":
		return &LUKS{}, nil
	default:
		return nil, errorkind.New(errorkind.ModuleUnknown, kind, "unknown device kind", nil)
	}
}

// NewKind constructs the opener implementation for a declared device kind.
func NewKind(kind string) (Kind, error) { return newKindFunc(kind) }

// SetKindFactoryForTest substitutes the kind registry used by OpenAll, for
// callers outside this package that need to exercise device orchestration
// without real loopback/lvm/cryptsetup tooling. Returns a restore func.
func SetKindFactoryForTest(f func(kind string) (Kind, error)) func() {
	orig := newKindFunc
	newKindFunc = f
	return func() { newKindFunc = orig }
}

// Handle pairs an opened device with the Kind that opened it, so Stop knows
// which Close to call.
type Handle struct {
	Name   string
	Kind   Kind
	Opened *Opened
}

// OpenAll opens every device in declared topological order: a device's
// parent (if any) is opened before the device itself. The caller has
// already verified the parent graph is acyclic (manifest.Load does this);
// OpenAll assumes that invariant holds.
func OpenAll(ctx context.Context, devs map[string]manifest.Device) ([]Handle, error) {
	opened := make(map[string]Handle, len(devs))
	order := make([]string, 0, len(devs))

	var open func(name string) error
	open = func(name string) error {
		if _, done := opened[name]; done {
			return nil
		}
		d, ok := devs[name]
		if !ok {
			return errorkind.New(errorkind.DeviceOpen, name, "device not declared", nil)
		}
		parentPath := ""
		if d.Parent != "" {
			if err := open(d.Parent); err != nil {
				return err
			}
			parentPath = opened[d.Parent].Opened.Path
		}

		k, err := newKindFunc(d.Kind)
		if err != nil {
			return err
		}
		var options json.RawMessage = d.Options
		res, err := k.Open(ctx, parentPath, options)
		if err != nil {
			return errorkind.New(errorkind.DeviceOpen, name, "opening device", err)
		}
		opened[name] = Handle{Name: name, Kind: k, Opened: res}
		order = append(order, name)
		return nil
	}

	for name := range devs {
		if err := open(name); err != nil {
			CloseAll(ctx, handlesInOrder(opened, order))
			return nil, err
		}
	}
	return handlesInOrder(opened, order), nil
}

func handlesInOrder(opened map[string]Handle, order []string) []Handle {
	out := make([]Handle, 0, len(order))
	for _, name := range order {
		out = append(out, opened[name])
	}
	return out
}

// CloseAll closes handles in strict reverse order of opening, accumulating
// (not stopping on) individual close failures so every device gets a
// detach attempt regardless of earlier ones failing.
func CloseAll(ctx context.Context, handles []Handle) error {
	var errs []error
	for i := len(handles) - 1; i >= 0; i-- {
		if err := handles[i].Kind.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return joinErrors(errs)
}

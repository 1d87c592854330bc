package devices

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/banksean/pipeforge/manifest"
	"gotest.tools/v3/assert"
)

// fakeKind lets coordinator_test exercise open/close ordering without
// shelling out to losetup/cryptsetup/lvchange.
type fakeKind struct {
	name   string
	events *[]string
}

func (f *fakeKind) Open(ctx context.Context, parentPath string, options json.RawMessage) (*Opened, error) {
	*f.events = append(*f.events, "open:"+f.name)
	return &Opened{Path: "/dev/fake/" + f.name}, nil
}

func (f *fakeKind) Close(ctx context.Context) error {
	*f.events = append(*f.events, "close:"+f.name)
	return nil
}

func withFakeRegistry(t *testing.T, events *[]string) func() {
	t.Helper()
	orig := newKindFunc
	newKindFunc = func(kind string) (Kind, error) {
		return &fakeKind{name: kind, events: events}, nil
	}
	return func() { newKindFunc = orig }
}

func TestOpenAll_OpensParentBeforeChild(t *testing.T) {
	var events []string
	restore := withFakeRegistry(t, &events)
	defer restore()

	devs := map[string]manifest.Device{
		"loop": {Kind: "a"},
		"lv":   {Kind: "b", Parent: "loop"},
	}
	handles, err := OpenAll(context.Background(), devs)
	assert.NilError(t, err)
	assert.Equal(t, len(handles), 2)

	loopIdx, lvIdx := -1, -1
	for i, e := range events {
		if e == "open:a" {
			loopIdx = i
		}
		if e == "open:b" {
			lvIdx = i
		}
	}
	assert.Assert(t, loopIdx >= 0 && lvIdx >= 0 && loopIdx < lvIdx)
}

func TestCloseAll_ClosesInReverseOrder(t *testing.T) {
	var events []string
	restore := withFakeRegistry(t, &events)
	defer restore()

	devs := map[string]manifest.Device{
		"loop": {Kind: "a"},
		"lv":   {Kind: "b", Parent: "loop"},
	}
	handles, err := OpenAll(context.Background(), devs)
	assert.NilError(t, err)
	events = nil

	assert.NilError(t, CloseAll(context.Background(), handles))
	assert.DeepEqual(t, events, []string{"close:b", "close:a"})
}

func TestOpenAll_RejectsUnknownParent(t *testing.T) {
	var events []string
	restore := withFakeRegistry(t, &events)
	defer restore()

	devs := map[string]manifest.Device{
		"lv": {Kind: "b", Parent: "missing"},
	}
	_, err := OpenAll(context.Background(), devs)
	assert.ErrorContains(t, err, "not declared")
}

func TestCloseAll_AccumulatesAllFailures(t *testing.T) {
	failing := &failingKind{}
	orig := newKindFunc
	newKindFunc = func(kind string) (Kind, error) { return failing, nil }
	defer func() { newKindFunc = orig }()

	devs := map[string]manifest.Device{"x": {Kind: "any"}, "y": {Kind: "any"}}
	handles, err := OpenAll(context.Background(), devs)
	assert.NilError(t, err)

	err = CloseAll(context.Background(), handles)
	assert.ErrorContains(t, err, "close failed")
}

type failingKind struct{}

func (f *failingKind) Open(ctx context.Context, parentPath string, options json.RawMessage) (*Opened, error) {
	return &Opened{Path: "/dev/fake"}, nil
}

func (f *failingKind) Close(ctx context.Context) error {
	return fmt.Errorf("close failed")
}

package cliargs

import (
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

type loopOptions struct {
	File     string `flag:"--file"`
	ReadOnly bool   `flag:"--read-only"`
	Offset   int    `flag:"--offset,keepZero"`
}

func TestToArgs_SkipsZeroUnlessKeepZero(t *testing.T) {
	args := ToArgs(&loopOptions{File: "/tmp/x.img"})
	assert.DeepEqual(t, args, []string{"--file", "/tmp/x.img", "--offset", "0"})
}

func TestToArgs_BoolEmitsBareFlag(t *testing.T) {
	args := ToArgs(&loopOptions{File: "/tmp/x.img", ReadOnly: true})
	assert.Assert(t, is.Contains(args, "--read-only"))
}

type mapOptions struct {
	Labels map[string]string `flag:"--label"`
}

func TestToArgs_MapSortsKeys(t *testing.T) {
	args := ToArgs(&mapOptions{Labels: map[string]string{"b": "2", "a": "1"}})
	assert.DeepEqual(t, args, []string{"--label", "a=1,b=2"})
}

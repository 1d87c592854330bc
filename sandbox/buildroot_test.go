package sandbox

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/banksean/pipeforge/errorkind"
	"gotest.tools/v3/assert"
)

func TestWriteArgsFile_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "args.json")
	args := ModuleArgs{
		Tree:    "/run/osbuild/tree",
		Inputs:  map[string]string{"rootfs": "/run/osbuild/inputs/rootfs"},
		Options: json.RawMessage(`{"key":"value"}`),
		Paths: ModulePaths{
			MountsRoot:  "/run/osbuild/mounts",
			DevicesRoot: "/run/osbuild/devices",
			InputsRoot:  "/run/osbuild/inputs",
		},
		Meta: ModuleMeta{StageID: "sha256:abc", SourceEpoch: 1700000000},
	}

	assert.NilError(t, writeArgsFile(path, args))

	data, err := os.ReadFile(path)
	assert.NilError(t, err)
	var got ModuleArgs
	assert.NilError(t, json.Unmarshal(data, &got))
	assert.DeepEqual(t, got, args)
}

func TestReadResultFile_ParsesMetadata(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "result")
	assert.NilError(t, os.WriteFile(path, []byte(`{"metadata":{"size":123}}`), 0o644))

	result, err := readResultFile(path)
	assert.NilError(t, err)
	assert.Assert(t, result.Metadata != nil)
}

func TestReadResultFile_MissingFileIsModuleExit(t *testing.T) {
	_, err := readResultFile(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorContains(t, err, "reading module result")
	assert.Equal(t, errorkind.KindOf(err), errorkind.ModuleExit)
}

func TestPrefixedPaths_BuildsCanonicalPaths(t *testing.T) {
	got := prefixedPaths("/run/osbuild/inputs", map[string]string{"rootfs": "/var/cache/x", "tree": "/var/cache/y"})
	assert.Equal(t, got["rootfs"], "/run/osbuild/inputs/rootfs")
	assert.Equal(t, got["tree"], "/run/osbuild/inputs/tree")
}

func TestBuildRoot_Root_IsUnderHostWorkDir(t *testing.T) {
	b := &BuildRoot{HostWorkDir: "/tmp/pipeforge-stage-1"}
	assert.Equal(t, b.root(), "/tmp/pipeforge-stage-1/root")
}

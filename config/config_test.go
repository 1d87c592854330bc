package config

import (
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
)

func TestResolve_FillsDefaults(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", t.TempDir())

	c, err := Resolve(Config{})
	assert.NilError(t, err)
	assert.Equal(t, c.LogLevel, "info")
	assert.Assert(t, c.StoreRoot != "")
	assert.Assert(t, len(c.ModuleSearchPath) > 0)
}

func TestResolve_PreservesCallerOverrides(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", t.TempDir())

	c, err := Resolve(Config{StoreRoot: "/custom/store", LogLevel: "debug"})
	assert.NilError(t, err)
	assert.Equal(t, c.StoreRoot, "/custom/store")
	assert.Equal(t, c.LogLevel, "debug")
}

func TestDefaultAppDir_UsesXDGStateHome(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_STATE_HOME", xdg)

	dir, err := DefaultAppDir()
	assert.NilError(t, err)
	assert.Equal(t, dir, filepath.Join(xdg, "pipeforge"))
}

package hostservice

import (
	"context"
	"encoding/json"
	"log/slog"
	"os/exec"

	"github.com/banksean/pipeforge/errorkind"
)

// StartupArgs is the JSON blob a helper reads from its well-known startup fd
// before it begins servicing request/reply messages: its cache/state
// directory paths and any kind-specific startup options.
type StartupArgs struct {
	StateDir string          `json:"stateDir"`
	CacheDir string          `json:"cacheDir"`
	Options  json.RawMessage `json:"options,omitempty"`
}

// Launcher starts a helper subprocess, sends it its StartupArgs, and returns
// a connected Client once the helper is ready to take calls.
type Launcher struct {
	// Binary is the helper executable path, e.g. a "source-curl" or
	// "mount-bind" binary resolved from the engine's module search path.
	Binary string
}

// Launch starts the helper, writes startup to its stdin before any call
// frames are sent, and returns the Client that will multiplex calls onto the
// same pipe.
func (l *Launcher) Launch(ctx context.Context, startup StartupArgs, extraArgs []string) (*Client, error) {
	slog.DebugContext(ctx, "hostservice.Launch", "binary", l.Binary)

	c, err := Start(ctx, l.Binary, extraArgs)
	if err != nil {
		return nil, err
	}

	startupJSON, err := json.Marshal(startup)
	if err != nil {
		return nil, errorkind.New(errorkind.HostServiceProto, l.Binary, "encoding startup args", err)
	}
	if err := c.writer.write(&Frame{Method: "__startup", Args: startupJSON}); err != nil {
		return nil, err
	}

	return c, nil
}

// CommandExists reports whether name resolves on PATH, so a caller can fail
// fast with a clear error when an underlying system tool (losetup,
// cryptsetup, mount) isn't installed.
func CommandExists(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

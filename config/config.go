// Package config resolves the engine's invocation-wide configuration: the
// object store root, the module search path, a source-cache size setting,
// and the default application directory a store lives under when the
// caller doesn't name one. It is the one place process-global configuration
// is allowed to live (spec.md §9: "process-global state is limited to the
// store root and the monitoring sink, both passed by configuration struct
// to the Executor").
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Config is resolved once at CLI startup and threaded through explicitly
// from there; no package in this module reads it from a global.
type Config struct {
	// StoreRoot is the object store directory (spec.md §4.2). Defaults to
	// DefaultAppDir()/store.
	StoreRoot string
	// ModuleSearchPath is scanned, in order, for a stage's module
	// executable (spec.md §6's "module search path").
	ModuleSearchPath []string
	// CacheMaxBytes is carried in the configuration only: the source cache
	// does not read it, and its total size is not bounded.
	CacheMaxBytes int64
	// LogFile is where structured logs are written; empty means a fresh
	// temp file, matching the teacher's own log-file-or-random-tmp-path
	// convention.
	LogFile string
	// LogLevel is one of debug/info/warn/error.
	LogLevel string
	// OTLPEndpoint is carried in the configuration only: the tracer does
	// not read it. Span export is switched on by the
	// OTEL_EXPORTER_OTLP_ENDPOINT environment variable (see
	// monitor.NewTracerProvider); without it tracing uses a no-op provider.
	OTLPEndpoint string
}

// DefaultAppDir returns the well-known per-user location the store and log
// file live under when the caller doesn't override them, following XDG
// Base Directory conventions (the Linux-native equivalent of the teacher's
// own "~/Library/Application Support/Sand" convention, adapted since this
// engine's build roots are Linux namespaces rather than a macOS host).
func DefaultAppDir() (string, error) {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return ensureDir(filepath.Join(xdg, "pipeforge"))
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return ensureDir(filepath.Join(home, ".local", "state", "pipeforge"))
}

func ensureDir(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating application directory %q: %w", dir, err)
	}
	return dir, nil
}

// Resolve fills in any unset fields of c with their defaults, creating the
// application directory if one is needed.
func Resolve(c Config) (Config, error) {
	if c.StoreRoot == "" {
		appDir, err := DefaultAppDir()
		if err != nil {
			return Config{}, err
		}
		c.StoreRoot = filepath.Join(appDir, "store")
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if len(c.ModuleSearchPath) == 0 {
		c.ModuleSearchPath = []string{"/usr/lib/pipeforge/modules", "/usr/local/lib/pipeforge/modules"}
	}
	return c, nil
}

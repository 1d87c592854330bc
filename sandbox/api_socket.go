package sandbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/banksean/pipeforge/errorkind"
	"github.com/banksean/pipeforge/hostservice"
	"github.com/banksean/pipeforge/monitor"
)

const apiSocketRelPath = "run/osbuild/api.sock"

// APIServer is the Host-Service API a module reaches over the socket bound
// at /run/osbuild/api.sock inside its sandbox. A module runs with no
// privilege and no network namespace, so operations that need host
// privilege (setting a security label the sandbox's own kernel view can't
// apply) or that should flow into the shared progress stream (structured
// log lines) come back through here instead.
type APIServer struct {
	Bus *monitor.Bus

	stageName string
	treePath  string
	listener  net.Listener
}

// Bind listens on root's api.sock. Call before Teardown removes root.
func (b *BuildRoot) bindAPISocket(bus *monitor.Bus) (*APIServer, error) {
	path := filepath.Join(b.root(), apiSocketRelPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errorkind.New(errorkind.SandboxSetup, path, "creating api socket directory", err)
	}
	os.Remove(path)
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, errorkind.New(errorkind.SandboxSetup, path, "binding host-service api socket", err)
	}
	return &APIServer{Bus: bus, stageName: b.StageID, treePath: b.TreePath, listener: l}, nil
}

// Serve accepts connections until ctx is done or Close is called. The
// module is expected to open exactly one connection; (*BuildRoot).Prepare
// starts Serve in a goroutine before the module runs.
func (a *APIServer) Serve(ctx context.Context) error {
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return errorkind.New(errorkind.HostServiceProto, a.stageName, "accepting api socket connection", err)
			}
		}
		go a.handleConn(ctx, conn)
	}
}

func (a *APIServer) Close() error {
	if a.listener == nil {
		return nil
	}
	return a.listener.Close()
}

func (a *APIServer) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	srv := hostservice.NewServer(conn)
	srv.Handle("log", a.handleLog)
	srv.Handle("label.set", a.handleLabelSet)
	if err := srv.Serve(ctx, conn); err != nil {
		slog.ErrorContext(ctx, "sandbox api socket", "stage", a.stageName, "error", err)
	}
}

type logArgs struct {
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func (a *APIServer) handleLog(ctx context.Context, raw json.RawMessage) (any, error) {
	var args logArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, errorkind.New(errorkind.HostServiceProto, a.stageName, "decoding log call", err)
	}
	a.Bus.Emit(ctx, monitor.Event{Kind: monitor.Log, Stage: a.stageName, Message: args.Message, Fields: args.Fields})
	return map[string]bool{"ok": true}, nil
}

type labelSetArgs struct {
	Path  string `json:"path"`
	Label string `json:"label"`
}

// handleLabelSet applies a security label the module itself has no
// capability to set from inside its user namespace. path is relative to
// the module's mutable tree; it is resolved against the host-side tree path
// before the xattr is written.
func (a *APIServer) handleLabelSet(ctx context.Context, raw json.RawMessage) (any, error) {
	var args labelSetArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, errorkind.New(errorkind.HostServiceProto, a.stageName, "decoding label.set call", err)
	}
	target := filepath.Join(a.treePath, filepath.Clean("/"+args.Path))
	if err := unix.Setxattr(target, "security.selinux", []byte(args.Label), 0); err != nil {
		return nil, errorkind.New(errorkind.SandboxSetup, args.Path, "setting security label", err)
	}
	return map[string]bool{"ok": true}, nil
}

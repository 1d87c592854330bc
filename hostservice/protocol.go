// Package hostservice implements a framed message channel between the engine
// and a peer process: Client and Launcher drive a helper subprocess, and
// Server answers calls on any stream (the sandbox's host-service API socket
// runs one per module connection). Every message is a length-prefixed UTF-8
// JSON record carrying a request id and one of three payload shapes: a call
// ({method,args}), a reply ({reply,result|error}), or an out-of-band event
// ({event,payload}) used for progress and log lines.
package hostservice

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/banksean/pipeforge/errorkind"
)

// maxFrameBytes bounds a single frame so a misbehaving helper can't exhaust
// memory with a bogus length prefix.
const maxFrameBytes = 64 << 20

// Frame is one length-prefixed message on the wire: a big-endian uint32
// byte count followed by that many bytes of UTF-8 JSON.
type Frame struct {
	ID      uint64          `json:"id"`
	Method  string          `json:"method,omitempty"`
	Args    json.RawMessage `json:"args,omitempty"`
	Reply   bool            `json:"reply,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// writeFrame writes f to w as a length-prefixed JSON record.
func writeFrame(w io.Writer, f *Frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return errorkind.New(errorkind.HostServiceProto, "", "encoding frame", err)
	}
	if len(b) > maxFrameBytes {
		return errorkind.New(errorkind.HostServiceProto, "", fmt.Sprintf("frame too large: %d bytes", len(b)), nil)
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(b)))
	if _, err := w.Write(hdr[:]); err != nil {
		return errorkind.New(errorkind.HostServiceProto, "", "writing frame header", err)
	}
	if _, err := w.Write(b); err != nil {
		return errorkind.New(errorkind.HostServiceProto, "", "writing frame body", err)
	}
	return nil
}

// readFrame reads one length-prefixed JSON record from r.
func readFrame(r *bufio.Reader) (*Frame, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err // io.EOF propagates as-is so callers can detect a clean close
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrameBytes {
		return nil, errorkind.New(errorkind.HostServiceProto, "", fmt.Sprintf("announced frame size %d exceeds limit", n), nil)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errorkind.New(errorkind.HostServiceProto, "", "reading frame body", err)
	}
	var f Frame
	if err := json.Unmarshal(buf, &f); err != nil {
		return nil, errorkind.New(errorkind.HostServiceProto, "", "decoding frame JSON", err)
	}
	return &f, nil
}

// idGenerator hands out monotonically increasing request ids.
type idGenerator struct{ next atomic.Uint64 }

func (g *idGenerator) nextID() uint64 { return g.next.Add(1) }

// frameWriter serializes concurrent writers onto one underlying io.Writer,
// since the wire format has no interleaving.
type frameWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (fw *frameWriter) write(f *Frame) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return writeFrame(fw.w, f)
}

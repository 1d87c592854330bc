package hostservice

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

// pipePair wires a Client directly to a Server over in-process io.Pipe
// connections, standing in for the subprocess stdin/stdout exec.Start would
// normally give us.
func pipePair(t *testing.T) (*Client, *Server) {
	t.Helper()
	clientRead, serverWrite := io.Pipe()
	serverRead, clientWrite := io.Pipe()

	c := &Client{
		pending: make(map[uint64]chan *Frame),
		writer:  &frameWriter{w: clientWrite},
		Events:  make(chan Event, 16),
	}
	go c.readLoop(bufio.NewReader(clientRead))

	s := NewServer(serverWrite)
	go s.Serve(context.Background(), serverRead)

	return c, s
}

func TestClientServer_CallRoundTrip(t *testing.T) {
	c, s := pipePair(t)
	s.Handle("echo", func(ctx context.Context, args json.RawMessage) (any, error) {
		var v map[string]string
		if err := json.Unmarshal(args, &v); err != nil {
			return nil, err
		}
		return v, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var result map[string]string
	err := c.Call(ctx, "echo", map[string]string{"hello": "world"}, &result)
	assert.NilError(t, err)
	assert.Equal(t, result["hello"], "world")
}

func TestClientServer_UnknownMethodReturnsError(t *testing.T) {
	c, _ := pipePair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := c.Call(ctx, "nope", nil, nil)
	assert.ErrorContains(t, err, "unknown method")
}

func TestFrameRoundTrip_PreservesFields(t *testing.T) {
	var buf bytes.Buffer
	in := &Frame{ID: 7, Method: "x", Args: json.RawMessage(`{"a":1}`)}
	assert.NilError(t, writeFrame(&buf, in))

	out, err := readFrame(bufio.NewReader(&buf))
	assert.NilError(t, err)
	assert.Equal(t, out.ID, in.ID)
	assert.Equal(t, out.Method, in.Method)
	assert.Equal(t, string(out.Args), string(in.Args))
}

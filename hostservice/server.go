package hostservice

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
)

// Handler answers one method call with a result value or an error.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Server is the helper side of the protocol: it reads calls from r, routes
// them to registered handlers, and writes replies to w. The sandbox's
// host-service API socket runs one Server per module connection.
type Server struct {
	handlers map[string]Handler
	writer   *frameWriter
}

// NewServer wires up a Server reading frames from r and writing frames to w.
func NewServer(w io.Writer) *Server {
	return &Server{
		handlers: make(map[string]Handler),
		writer:   &frameWriter{w: w},
	}
}

// Handle registers method's handler. Calling Handle after Serve has started
// is not supported: all methods must be registered up front.
func (s *Server) Handle(method string, h Handler) {
	s.handlers[method] = h
}

// Emit pushes an out-of-band progress or log event to the client.
func (s *Server) Emit(ctx context.Context, name string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.writer.write(&Frame{Event: name, Payload: b})
}

// Serve reads calls from r until EOF or a "close" call is received, in
// which case it replies and returns nil. Each call is dispatched on its own
// goroutine so a slow handler (e.g. a blocking device open) doesn't stall
// replies to unrelated in-flight calls.
func (s *Server) Serve(ctx context.Context, r io.Reader) error {
	reader := bufio.NewReader(r)
	for {
		f, err := readFrame(reader)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if f.Method == "close" {
			s.writer.write(&Frame{ID: f.ID, Reply: true})
			return nil
		}
		go s.dispatch(ctx, f)
	}
}

func (s *Server) dispatch(ctx context.Context, f *Frame) {
	h, ok := s.handlers[f.Method]
	if !ok {
		s.writer.write(&Frame{ID: f.ID, Reply: true, Error: "unknown method: " + f.Method})
		return
	}
	result, err := h(ctx, f.Args)
	if err != nil {
		s.writer.write(&Frame{ID: f.ID, Reply: true, Error: err.Error()})
		return
	}
	b, err := json.Marshal(result)
	if err != nil {
		s.writer.write(&Frame{ID: f.ID, Reply: true, Error: "encoding result: " + err.Error()})
		return
	}
	s.writer.write(&Frame{ID: f.ID, Reply: true, Result: b})
}

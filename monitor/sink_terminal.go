package monitor

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// TerminalSink renders each Event as one human-readable line: kind,
// pipeline/stage location, message, and the error when there is one; Fields
// are not printed. When Writer is a TTY (detected via golang.org/x/term), a
// line without an error starts with a carriage return and clears the rest of
// the terminal line; a non-TTY writer gets the same fields as a plain line.
type TerminalSink struct {
	Writer io.Writer
	isTTY  bool
}

func NewTerminalSink(w io.Writer) *TerminalSink {
	isTTY := false
	if f, ok := w.(*os.File); ok {
		isTTY = term.IsTerminal(int(f.Fd()))
	}
	return &TerminalSink{Writer: w, isTTY: isTTY}
}

func (s *TerminalSink) Handle(e Event) {
	loc := e.Pipeline
	if e.Stage != "" {
		loc += "/" + e.Stage
	}

	switch {
	case e.Err != "":
		fmt.Fprintf(s.Writer, "%-16s %-30s %s: %s\n", e.Kind, loc, e.Message, e.Err)
	case s.isTTY:
		fmt.Fprintf(s.Writer, "\r%-16s %-30s %s\033[K\n", e.Kind, loc, e.Message)
	default:
		fmt.Fprintf(s.Writer, "%-16s %-30s %s\n", e.Kind, loc, e.Message)
	}
}

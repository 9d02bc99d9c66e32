package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Stack traces
// ---------------------------------------------------------------------------

// TraceEntry is one resolved call-stack frame.
type TraceEntry struct {
	Name string
	File string
	Line uint16
}

// Stacktrace resolves the process's call stack, innermost frame first.
func Stacktrace(p *Process) []TraceEntry {
	var entries []TraceEntry
	for frame := p.Frame(); frame != nil; frame = frame.Parent() {
		entries = append(entries, TraceEntry{
			Name: frame.Code.Name,
			File: frame.Code.File,
			// The ip already moved past the faulting instruction.
			Line: frame.Code.LineFor(frame.ip - 1),
		})
	}
	return entries
}

// FormatPanic renders an unhandled panic the way it reaches the error
// stream: the message followed by the stack, innermost frame first.
func FormatPanic(p *Process, message string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Process %d panicked: %s\n", p.ID(), message)
	b.WriteString("Stacktrace (the most recent call comes first):\n")
	for _, e := range Stacktrace(p) {
		fmt.Fprintf(&b, "  %q line %d, in %q\n", e.File, e.Line, e.Name)
	}
	return b.String()
}

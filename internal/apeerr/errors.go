// Package apeerr implements the bounded error list and human-readable
// rendering shared by the parser, compiler, and VM.
//
// Parse and compile errors accumulate into a fixed-capacity list; once it
// overflows, further errors are silently dropped rather than growing
// unbounded (spec.md §7). Runtime errors additionally carry a traceback of
// the frame chain active when they were raised.
package apeerr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/ape-lang/ape/internal/token"
)

// Kind classifies where an error originated.
type Kind int

const (
	// Parsing is a lexical/syntax error.
	Parsing Kind = iota
	// Compilation is a compile-time semantic error (undefined break, etc).
	Compilation
	// Runtime is an error raised while executing bytecode.
	Runtime
	// Timeout is raised when an execution budget is exceeded.
	Timeout
	// Allocation is raised when the GC/allocator cannot satisfy a request.
	Allocation
	// User is any error originating from a native (host) callback.
	User
)

func (k Kind) String() string {
	switch k {
	case Parsing:
		return "PARSING"
	case Compilation:
		return "COMPILATION"
	case Runtime:
		return "RUNTIME"
	case Timeout:
		return "TIMEOUT"
	case Allocation:
		return "ALLOCATION"
	case User:
		return "USER"
	default:
		return "UNKNOWN"
	}
}

// maxMessage is the fixed message capacity (spec.md §7: "≈255 bytes").
// Overflowing messages are truncated, never rejected outright.
const maxMessage = 255

// TraceFrame is one entry of a runtime traceback: the function name and the
// position active in that frame when the error was raised.
type TraceFrame struct {
	Function string
	Pos      token.Position
}

// Error is one accumulated diagnostic.
type Error struct {
	Kind      Kind
	Message   string
	Pos       token.Position
	Traceback []TraceFrame

	// cause, when set, is the USER error's underlying Go error, wrapped via
	// github.com/pkg/errors so a host-side stack trace survives crossing
	// back into the VM.
	cause error
}

func (e *Error) Error() string { return Render(e) }

// Unwrap exposes the wrapped host error, if any, to errors.Is/As.
func (e *Error) Unwrap() error { return e.cause }

func truncate(msg string) string {
	if len(msg) <= maxMessage {
		return msg
	}
	return msg[:maxMessage]
}

// New builds an Error of the given kind at pos.
func New(kind Kind, pos token.Position, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: truncate(fmt.Sprintf(format, args...)), Pos: pos}
}

// FromHost wraps a host callback's error as a USER error, preserving a
// traceback via github.com/pkg/errors.
func FromHost(pos token.Position, err error) *Error {
	wrapped := errors.Wrap(err, "host callback failed")
	return &Error{Kind: User, Message: truncate(wrapped.Error()), Pos: pos, cause: wrapped}
}

// maxErrors bounds the list; entries beyond this are silently dropped
// (spec.md §7: "≈16 entries; overflow silently dropped").
const maxErrors = 16

// List is a bounded FIFO queue of accumulated errors.
type List struct {
	items   []*Error
	dropped int
}

// Add appends err if there's room; returns false if it was dropped.
func (l *List) Add(err *Error) bool {
	if len(l.items) >= maxErrors {
		l.dropped++
		return false
	}
	l.items = append(l.items, err)
	return true
}

// Addf is a convenience wrapper around New+Add.
func (l *List) Addf(kind Kind, pos token.Position, format string, args ...any) bool {
	return l.Add(New(kind, pos, format, args...))
}

// HasErrors reports whether any error has been recorded.
func (l *List) HasErrors() bool { return len(l.items) > 0 }

// Errors returns the accumulated errors, oldest first.
func (l *List) Errors() []*Error { return l.items }

// Dropped returns the number of errors silently discarded past capacity.
func (l *List) Dropped() int { return l.dropped }

// Render formats an Error as:
//
//	<KIND> ERROR in "<file>" on <line>:<col>: <message>
//
// preceded by the offending source line with a caret under the column, and
// followed by a traceback, when available.
func Render(e *Error) string {
	var out strings.Builder

	if e.Pos.File != nil {
		if line := e.Pos.File.Line(e.Pos.Line); line != "" {
			out.WriteString(line)
			out.WriteByte('\n')
			if e.Pos.Column > 0 {
				out.WriteString(strings.Repeat(" ", e.Pos.Column-1))
			}
			out.WriteString("^\n")
		}
	}

	fmt.Fprintf(&out, "%s ERROR in %s on %s: %s",
		e.Kind.String(), strconv.Quote(fileName(e.Pos)), lineCol(e.Pos), e.Message)

	for _, f := range e.Traceback {
		fmt.Fprintf(&out, "\n  %s in %s on %s", f.Function, strconv.Quote(fileName(f.Pos)), lineCol(f.Pos))
	}

	return out.String()
}

func fileName(p token.Position) string {
	if p.File == nil || p.File.Path == "" {
		return "<input>"
	}
	return p.File.Path
}

func lineCol(p token.Position) string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

package vm

import (
	"github.com/ape-lang/ape/internal/code"
	"github.com/ape-lang/ape/internal/object"
)

// Frame is one call's execution context: the closure being run, the
// instruction pointer within it, the stack slot its locals start at, and
// the recover handler (if any) currently armed for it (spec.md §4.5.1).
type Frame struct {
	cl *object.Closure

	ip int

	// basePointer is the VM stack index where this frame's locals begin.
	basePointer int

	// recoverIP is the instruction offset a runtime error should jump
	// execution to, or -1 if no `recover` is currently armed in this frame.
	recoverIP int
}

// NewFrame creates a new execution frame for cl, with no recover armed.
func NewFrame(cl *object.Closure, basePointer int) *Frame {
	return &Frame{cl: cl, ip: -1, basePointer: basePointer, recoverIP: -1}
}

// Instructions returns the frame's closure's bytecode.
func (f *Frame) Instructions() code.Instructions {
	return f.cl.Fn.Instructions
}

// Positions returns the frame's closure's parallel source-position stream.
func (f *Frame) Positions() []object.Position {
	return f.cl.Fn.Positions
}

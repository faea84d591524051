// Package vm implements the stack-based bytecode interpreter (spec.md
// §4.5): a fetch-decode-execute loop over [code.Instructions], a value
// stack, a call-frame stack, and a tracing collector it drives between
// instructions.
package vm

import (
	"reflect"
	"strings"
	"time"

	"github.com/ape-lang/ape/internal/apeerr"
	"github.com/ape-lang/ape/internal/code"
	"github.com/ape-lang/ape/internal/gc"
	"github.com/ape-lang/ape/internal/object"
	"github.com/ape-lang/ape/internal/token"
)

const (
	defaultStackSize   = 2048
	defaultGlobalsSize = 4096
	// maxFrames bounds call depth, catching runaway recursion as a runtime
	// error instead of a Go stack overflow (spec.md §7).
	maxFrames = 1024
	// timeoutCheckEvery bounds how often Run samples the wall clock against
	// MaxExecutionTime, keeping the check cheap relative to dispatch.
	timeoutCheckEvery = 2048
)

// Options configures a VM beyond the bytecode it runs.
type Options struct {
	StackSize        int
	GlobalsSize      int
	MaxExecutionTime time.Duration
	ContextGlobals   []object.Object
	Files            map[string]*token.SourceFile
	GC               *gc.Collector
	Errs             *apeerr.List
}

// VM executes compiled bytecode.
type VM struct {
	constants []object.Object

	stack []object.Object
	sp    int

	globals        []object.Object
	contextGlobals []object.Object
	thisStack      []object.Object

	frames      []*Frame
	framesIndex int

	gc    *gc.Collector
	errs  *apeerr.List
	files map[string]*token.SourceFile

	maxExecutionTime time.Duration
	startTime        time.Time
	instrCount       int

	lastPopped object.Object
}

// New creates a VM ready to run mainFn, the program's top-level function.
func New(mainFn *object.ScriptFunction, constants []object.Object, opts Options) *VM {
	return newVM(mainFn, constants, nil, opts)
}

// NewWithGlobals creates a VM that shares globals with a previous run, the
// way a REPL threads module-global state from one compiled line into the
// next (spec.md §6's incremental-evaluation host surface).
func NewWithGlobals(mainFn *object.ScriptFunction, constants []object.Object, globals []object.Object, opts Options) *VM {
	return newVM(mainFn, constants, globals, opts)
}

func newVM(mainFn *object.ScriptFunction, constants []object.Object, globals []object.Object, opts Options) *VM {
	stackSize := opts.StackSize
	if stackSize <= 0 {
		stackSize = defaultStackSize
	}
	globalsSize := opts.GlobalsSize
	if globalsSize <= 0 {
		globalsSize = defaultGlobalsSize
	}
	if globals == nil {
		globals = make([]object.Object, globalsSize)
	}
	collector := opts.GC
	if collector == nil {
		collector = gc.New()
	}
	errs := opts.Errs
	if errs == nil {
		errs = &apeerr.List{}
	}

	mainClosure := &object.Closure{Fn: mainFn}
	frames := make([]*Frame, maxFrames)
	frames[0] = NewFrame(mainClosure, 0)

	return &VM{
		constants:        constants,
		stack:            make([]object.Object, stackSize),
		globals:          globals,
		contextGlobals:   opts.ContextGlobals,
		frames:           frames,
		framesIndex:      1,
		gc:               collector,
		errs:             errs,
		files:            opts.Files,
		maxExecutionTime: opts.MaxExecutionTime,
	}
}

// Globals exposes the module-global slots, so a host can inspect state or
// thread it into the next VM via [NewWithGlobals].
func (vm *VM) Globals() []object.Object { return vm.globals }

// LastPoppedStackElem returns the most recently popped stack value: the
// result of the last top-level expression statement, the value a REPL
// displays after each line.
func (vm *VM) LastPoppedStackElem() object.Object { return vm.lastPopped }

func (vm *VM) currentFrame() *Frame { return vm.frames[vm.framesIndex-1] }

func (vm *VM) pushFrame(f *Frame) error {
	if vm.framesIndex >= maxFrames {
		return apeerr.New(apeerr.Runtime, token.Position{}, "stack overflow: call depth exceeded %d", maxFrames)
	}
	vm.frames[vm.framesIndex] = f
	vm.framesIndex++
	return nil
}

func (vm *VM) popFrame() *Frame {
	vm.framesIndex--
	return vm.frames[vm.framesIndex]
}

func (vm *VM) push(obj object.Object) error {
	if vm.sp >= len(vm.stack) {
		return apeerr.New(apeerr.Runtime, token.Position{}, "stack overflow")
	}
	vm.stack[vm.sp] = obj
	vm.sp++
	return nil
}

func (vm *VM) pop() object.Object {
	obj := vm.stack[vm.sp-1]
	vm.sp--
	vm.lastPopped = obj
	return obj
}

// currentPos reconstructs the [token.Position] active at the current
// frame's ip, via the compiler's file registry, for error rendering.
func (vm *VM) currentPos() token.Position {
	frame := vm.currentFrame()
	positions := frame.Positions()
	if frame.ip < 0 || frame.ip >= len(positions) {
		return token.Position{}
	}
	op := positions[frame.ip]
	file := vm.files[op.File]
	return token.Position{File: file, Line: op.Line, Column: op.Column}
}

// raise records a runtime error. If a frame up the call stack has a
// recover armed, it unwinds to that frame and resumes execution there,
// returning true; otherwise it returns false and err is the error Run
// should report to the host.
func (vm *VM) raise(kind apeerr.Kind, format string, args ...any) (recovered bool, err error) {
	e := apeerr.New(kind, vm.currentPos(), format, args...)
	return vm.raiseErr(e)
}

// raiseHost wraps a Go error returned from a native callback as a USER
// error (apeerr.FromHost) before running it through the same
// recover-unwind logic as raise.
func (vm *VM) raiseHost(hostErr error) (recovered bool, err error) {
	e := apeerr.FromHost(vm.currentPos(), hostErr)
	return vm.raiseErr(e)
}

func (vm *VM) raiseErr(e *apeerr.Error) (recovered bool, err error) {
	pos := e.Pos
	for i := vm.framesIndex - 1; i >= 0; i-- {
		f := vm.frames[i]
		if f.recoverIP < 0 {
			fpos := pos
			if ps := f.Positions(); f.ip >= 0 && f.ip < len(ps) {
				fpos = token.Position{File: vm.files[ps[f.ip].File], Line: ps[f.ip].Line, Column: ps[f.ip].Column}
			}
			e.Traceback = append(e.Traceback, apeerr.TraceFrame{Function: f.cl.Fn.Name, Pos: fpos})
			continue
		}

		vm.framesIndex = i + 1
		vm.sp = f.basePointer
		errVal := vm.gc.NewError(e.Kind.String(), e.Message, toObjPos(pos), nil)
		if pushErr := vm.push(errVal); pushErr != nil {
			return false, pushErr
		}
		f.ip = f.recoverIP - 1
		f.recoverIP = -1
		return true, nil
	}

	vm.errs.Add(e)
	return false, e
}

func toObjPos(p token.Position) object.Position {
	var file string
	if p.File != nil {
		file = p.File.Path
	}
	return object.Position{File: file, Line: p.Line, Column: p.Column}
}

func isTruthy(obj object.Object) bool {
	switch o := obj.(type) {
	case *object.Boolean:
		return o.Value
	case *object.Null:
		return false
	default:
		return true
	}
}

// Run executes the VM's bytecode from its current instruction pointer
// (the entry point's start, on a fresh VM) to completion.
func (vm *VM) Run() error {
	vm.startTime = time.Now()

	for vm.currentFrame().ip < len(vm.currentFrame().Instructions())-1 {
		frame := vm.currentFrame()
		frame.ip++
		ip := frame.ip
		ins := frame.Instructions()
		op := code.Opcode(ins[ip])

		vm.instrCount++
		if vm.maxExecutionTime > 0 && vm.instrCount%timeoutCheckEvery == 0 {
			if time.Since(vm.startTime) > vm.maxExecutionTime {
				recovered, err := vm.raise(apeerr.Timeout, "execution exceeded %s", vm.maxExecutionTime)
				if recovered {
					continue
				}
				return err
			}
		}

		if vm.gc.ShouldCollect() {
			vm.collect()
		}

		if err := vm.execute(op, ins, ip); err != nil {
			return err
		}
	}

	return nil
}

// execute runs one opcode.
func (vm *VM) execute(op code.Opcode, ins code.Instructions, ip int) error {
	frame := vm.currentFrame()

	switch op {
	case code.OpConstant:
		idx := int(ins[ip+1])
		frame.ip++
		if err := vm.push(vm.constants[idx]); err != nil {
			return err
		}

	case code.OpDup:
		if err := vm.push(vm.stack[vm.sp-1]); err != nil {
			return err
		}

	case code.OpPop:
		vm.pop()

	case code.OpNull:
		if err := vm.push(object.NullVal); err != nil {
			return err
		}

	case code.OpTrue:
		if err := vm.push(object.True); err != nil {
			return err
		}

	case code.OpFalse:
		if err := vm.push(object.False); err != nil {
			return err
		}

	case code.OpMkNumber:
		var words [4]uint16
		for i := range words {
			words[i] = ins[ip+1+i]
		}
		frame.ip += 4
		if err := vm.push(&object.Number{Value: code.UnpackNumber(words)}); err != nil {
			return err
		}

	case code.OpAdd, code.OpSub, code.OpMul, code.OpDiv, code.OpMod,
		code.OpBitOr, code.OpBitXor, code.OpBitAnd, code.OpLeftShift, code.OpRightShift:
		if err := vm.executeBinary(op); err != nil {
			recovered, rerr := vm.raise(apeerr.Runtime, "%s", err)
			if recovered {
				return nil
			}
			return rerr
		}

	case code.OpMinus:
		n, ok := vm.pop().(*object.Number)
		if !ok {
			recovered, err := vm.raise(apeerr.Runtime, "unary - expects a number")
			if recovered {
				return nil
			}
			return err
		}
		if err := vm.push(&object.Number{Value: -n.Value}); err != nil {
			return err
		}

	case code.OpNot:
		v := vm.pop()
		if err := vm.push(object.NativeBool(!isTruthy(v))); err != nil {
			return err
		}

	case code.OpComparePlain:
		b := vm.pop()
		a := vm.pop()
		cmp := comparePlain(a, b)
		if err := vm.push(&object.Number{Value: cmp}); err != nil {
			return err
		}

	case code.OpCompareEqual:
		b := vm.pop()
		a := vm.pop()
		cmp := 1.0
		if deepEqual(a, b) {
			cmp = 0
		}
		if err := vm.push(&object.Number{Value: cmp}); err != nil {
			return err
		}

	case code.OpIsEqual:
		cmp := vm.pop().(*object.Number)
		if err := vm.push(object.NativeBool(cmp.Value == 0)); err != nil {
			return err
		}

	case code.OpNotEqual:
		cmp := vm.pop().(*object.Number)
		if err := vm.push(object.NativeBool(cmp.Value != 0)); err != nil {
			return err
		}

	case code.OpGreaterThan:
		cmp := vm.pop().(*object.Number)
		if err := vm.push(object.NativeBool(cmp.Value > 0)); err != nil {
			return err
		}

	case code.OpGreaterEqual:
		cmp := vm.pop().(*object.Number)
		if err := vm.push(object.NativeBool(cmp.Value >= 0)); err != nil {
			return err
		}

	case code.OpMkArray:
		n := int(ins[ip+1])
		frame.ip++
		elems := make([]object.Object, n)
		copy(elems, vm.stack[vm.sp-n:vm.sp])
		vm.sp -= n
		if err := vm.push(vm.gc.NewArray(elems)); err != nil {
			return err
		}

	case code.OpMapStart:
		frame.ip++ // operand unused at runtime; bytecode layout only.

	case code.OpMapEnd:
		n := int(ins[ip+1])
		frame.ip++
		m := vm.gc.NewMap()
		pairs := vm.stack[vm.sp-2*n : vm.sp]
		vm.sp -= 2 * n
		for i := 0; i < n; i++ {
			key, ok := pairs[2*i].(object.Hashable)
			if !ok {
				recovered, err := vm.raise(apeerr.Runtime, "unusable as map key: %s", pairs[2*i].Type())
				if recovered {
					return nil
				}
				return err
			}
			m.Set(key, pairs[2*i+1])
		}
		if err := vm.push(m); err != nil {
			return err
		}

	case code.OpGetIndex:
		index := vm.pop()
		base := vm.pop()
		val, err := vm.indexGet(base, index)
		if err != nil {
			recovered, rerr := vm.raise(apeerr.Runtime, "%s", err)
			if recovered {
				return nil
			}
			return rerr
		}
		if err := vm.push(val); err != nil {
			return err
		}

	case code.OpSetIndex:
		value := vm.pop()
		index := vm.pop()
		base := vm.pop()
		if err := vm.indexSet(base, index, value); err != nil {
			recovered, rerr := vm.raise(apeerr.Runtime, "%s", err)
			if recovered {
				return nil
			}
			return rerr
		}
		if err := vm.push(value); err != nil {
			return err
		}

	case code.OpLen:
		v := vm.pop()
		n, err := lengthOf(v)
		if err != nil {
			recovered, rerr := vm.raise(apeerr.Runtime, "%s", err)
			if recovered {
				return nil
			}
			return rerr
		}
		if err := vm.push(&object.Number{Value: float64(n)}); err != nil {
			return err
		}

	case code.OpGetValueAt:
		index := vm.pop()
		base := vm.pop()
		val, err := vm.valueAt(base, index)
		if err != nil {
			recovered, rerr := vm.raise(apeerr.Runtime, "%s", err)
			if recovered {
				return nil
			}
			return rerr
		}
		if err := vm.push(val); err != nil {
			return err
		}

	case code.OpGetModuleGlobal:
		idx := int(ins[ip+1])
		frame.ip++
		vm.ensureGlobals(idx)
		if err := vm.push(vm.globals[idx]); err != nil {
			return err
		}

	case code.OpSetModuleGlobal, code.OpDefModuleGlobal:
		idx := int(ins[ip+1])
		frame.ip++
		vm.ensureGlobals(idx)
		v := vm.pop()
		vm.globals[idx] = v
		if err := vm.push(v); err != nil {
			return err
		}

	case code.OpGetContextGlobal:
		idx := int(ins[ip+1])
		frame.ip++
		if idx < 0 || idx >= len(vm.contextGlobals) {
			if err := vm.push(object.NullVal); err != nil {
				return err
			}
		} else if err := vm.push(vm.contextGlobals[idx]); err != nil {
			return err
		}

	case code.OpGetLocal:
		idx := int(ins[ip+1])
		frame.ip++
		if err := vm.push(vm.stack[frame.basePointer+idx]); err != nil {
			return err
		}

	case code.OpSetLocal, code.OpDefLocal:
		idx := int(ins[ip+1])
		frame.ip++
		v := vm.pop()
		vm.stack[frame.basePointer+idx] = v
		if err := vm.push(v); err != nil {
			return err
		}

	case code.OpGetFree:
		idx := int(ins[ip+1])
		frame.ip++
		if err := vm.push(frame.cl.Free[idx]); err != nil {
			return err
		}

	case code.OpSetFree:
		idx := int(ins[ip+1])
		frame.ip++
		v := vm.pop()
		frame.cl.Free[idx] = v
		if err := vm.push(v); err != nil {
			return err
		}

	case code.OpGetThis:
		if len(vm.thisStack) == 0 {
			if err := vm.push(object.NullVal); err != nil {
				return err
			}
		} else if err := vm.push(vm.thisStack[len(vm.thisStack)-1]); err != nil {
			return err
		}

	case code.OpPushThis:
		vm.thisStack = append(vm.thisStack, vm.stack[vm.sp-1])

	case code.OpPopThis:
		vm.thisStack = vm.thisStack[:len(vm.thisStack)-1]

	case code.OpCurrentFunction:
		if err := vm.push(frame.cl); err != nil {
			return err
		}

	case code.OpJump:
		pos := int(ins[ip+1])
		frame.ip = pos - 1

	case code.OpJumpIfTrue:
		pos := int(ins[ip+1])
		frame.ip++
		if isTruthy(vm.pop()) {
			frame.ip = pos - 1
		}

	case code.OpJumpIfFalse:
		pos := int(ins[ip+1])
		frame.ip++
		if !isTruthy(vm.pop()) {
			frame.ip = pos - 1
		}

	case code.OpSetRecover:
		pos := int(ins[ip+1])
		frame.ip++
		frame.recoverIP = pos

	case code.OpCall:
		numArgs := int(ins[ip+1])
		frame.ip++
		if err := vm.call(numArgs); err != nil {
			var recovered bool
			var rerr error
			if ne, ok := err.(*nativeError); ok {
				recovered, rerr = vm.raiseHost(ne)
			} else {
				recovered, rerr = vm.raise(apeerr.Runtime, "%s", err)
			}
			if recovered {
				return nil
			}
			return rerr
		}

	case code.OpReturnValue:
		retVal := vm.pop()
		// The outermost frame (the program's own <main> function) has no
		// caller to unwind to and a basePointer of 0: popping it the normal
		// way would leave sp at -1. Treat it as the end of the run instead,
		// with retVal as the program's result (spec.md §8 end-to-end
		// scenarios all end in a top-level return).
		if vm.framesIndex == 1 {
			vm.lastPopped = retVal
			frame.ip = len(frame.Instructions()) - 1
			return nil
		}
		f := vm.popFrame()
		vm.sp = f.basePointer - 1
		if err := vm.push(retVal); err != nil {
			return err
		}

	case code.OpReturnNothing:
		if vm.framesIndex == 1 {
			vm.lastPopped = object.NullVal
			frame.ip = len(frame.Instructions()) - 1
			return nil
		}
		f := vm.popFrame()
		vm.sp = f.basePointer - 1
		if err := vm.push(object.NullVal); err != nil {
			return err
		}

	case code.OpMkFunction:
		constIdx := int(ins[ip+1])
		numFree := int(ins[ip+2])
		frame.ip += 2
		fn, ok := vm.constants[constIdx].(*object.ScriptFunction)
		if !ok {
			return apeerr.New(apeerr.Compilation, token.Position{}, "OpMkFunction: constant %d is not a function", constIdx)
		}
		free := make([]object.Object, numFree)
		copy(free, vm.stack[vm.sp-numFree:vm.sp])
		vm.sp -= numFree
		if err := vm.push(vm.gc.NewClosure(fn, free)); err != nil {
			return err
		}

	default:
		return apeerr.New(apeerr.Compilation, token.Position{}, "unknown opcode %d", op)
	}

	return nil
}

// nativeError marks a call() failure that originated from a native
// function returning an *object.ErrorValue, so OpCall's dispatch routes it
// through raiseHost (a USER error) instead of raise (a RUNTIME error).
type nativeError struct{ val *object.ErrorValue }

func (e *nativeError) Error() string { return e.val.Message }

// call dispatches OpCall against whichever kind of callable sits numArgs
// below the top of the stack.
func (vm *VM) call(numArgs int) error {
	callee := vm.stack[vm.sp-1-numArgs]

	switch fn := callee.(type) {
	case *object.Closure:
		if numArgs != fn.Fn.NumParameters {
			return apeerr.New(apeerr.Runtime, token.Position{}, "wrong number of arguments: want=%d, got=%d", fn.Fn.NumParameters, numArgs)
		}
		basePointer := vm.sp - numArgs
		frame := NewFrame(fn, basePointer)
		if err := vm.pushFrame(frame); err != nil {
			return err
		}
		vm.sp = basePointer + fn.Fn.NumLocals
		return nil

	case *object.NativeFunction:
		args := make([]object.Object, numArgs)
		copy(args, vm.stack[vm.sp-numArgs:vm.sp])
		result := fn.Fn(args)
		vm.sp = vm.sp - numArgs - 1
		if result == nil {
			result = object.NullVal
		}
		// A host callback signals failure by returning an ErrorValue; route
		// it through the recover machinery as a USER error instead of
		// pushing it as an ordinary value (spec.md §7: "A USER error is any
		// error originating from a native callback").
		if errVal, ok := result.(*object.ErrorValue); ok {
			return &nativeError{errVal}
		}
		return vm.push(result)

	default:
		return apeerr.New(apeerr.Runtime, token.Position{}, "not callable: %s", callee.Type())
	}
}

func (vm *VM) ensureGlobals(idx int) {
	if idx < len(vm.globals) {
		return
	}
	grown := make([]object.Object, idx+1)
	copy(grown, vm.globals)
	vm.globals = grown
}

// collect gathers every current root and runs one GC cycle.
func (vm *VM) collect() {
	stack := append([]object.Object(nil), vm.stack[:vm.sp]...)

	var closures []object.Object
	for i := 0; i < vm.framesIndex; i++ {
		if vm.frames[i].cl != nil {
			closures = append(closures, vm.frames[i].cl)
		}
	}

	vm.gc.Collect(gc.Roots{
		Stack:      stack,
		ThisStack:  append([]object.Object(nil), vm.thisStack...),
		Globals:    vm.globals,
		Constants:  vm.constants,
		Closures:   closures,
		LastPopped: vm.lastPopped,
	})
}

func lengthOf(obj object.Object) (int, error) {
	switch v := obj.(type) {
	case *object.String:
		return len(v.Value), nil
	case *object.Array:
		return len(v.Elements), nil
	case *object.Map:
		return v.Len(), nil
	default:
		return 0, apeerr.New(apeerr.Runtime, token.Position{}, "len: unsupported type %s", obj.Type())
	}
}

// arrayIndex resolves idx against length, wrapping a negative index from
// the end of the sequence (spec.md's negative-array-index supplement).
func arrayIndex(length, idx int) (int, bool) {
	if idx < 0 {
		idx += length
	}
	if idx < 0 || idx >= length {
		return 0, false
	}
	return idx, true
}

// lengthKey is the one pseudo-property GETINDEX resolves itself rather
// than leaving to a host-installed library module (spec.md §8 scenario 6
// exercises `a.length` with no host builtins registered; every other
// array/string pseudo-method stays out of scope per spec.md §1).
const lengthKey = "length"

// valueAt is OpGetValueAt's positional "array-like at(i)" lookup, used only
// by foreach lowering (spec.md §4.4.3). It differs from indexGet's Map case:
// a Map has no intrinsic position, so foreach walks its insertion order and
// binds the loop variable to the i-th KEY, leaving the body to look up the
// value itself (matching spec.md §8 scenario 3's "for (k in m) { t += m[k] }").
func (vm *VM) valueAt(base object.Object, index object.Object) (object.Object, error) {
	n, ok := index.(*object.Number)
	if !ok {
		return nil, apeerr.New(apeerr.Runtime, token.Position{}, "foreach index must be a number")
	}
	i := int(n.Value)

	switch b := base.(type) {
	case *object.Array:
		if i < 0 || i >= len(b.Elements) {
			return nil, apeerr.New(apeerr.Runtime, token.Position{}, "array index out of range: %d", i)
		}
		return b.Elements[i], nil

	case *object.String:
		if i < 0 || i >= len(b.Value) {
			return nil, apeerr.New(apeerr.Runtime, token.Position{}, "string index out of range: %d", i)
		}
		return &object.String{Value: string(b.Value[i])}, nil

	case *object.Map:
		key, ok := b.KeyAt(i)
		if !ok {
			return nil, apeerr.New(apeerr.Runtime, token.Position{}, "map index out of range: %d", i)
		}
		return key, nil

	default:
		return nil, apeerr.New(apeerr.Runtime, token.Position{}, "foreach not supported: %s", base.Type())
	}
}

func (vm *VM) indexGet(base, index object.Object) (object.Object, error) {
	switch b := base.(type) {
	case *object.Array:
		if s, ok := index.(*object.String); ok && s.Value == lengthKey {
			return &object.Number{Value: float64(len(b.Elements))}, nil
		}
		n, ok := index.(*object.Number)
		if !ok {
			return nil, apeerr.New(apeerr.Runtime, token.Position{}, "array index must be a number")
		}
		i, ok := arrayIndex(len(b.Elements), int(n.Value))
		if !ok {
			return nil, apeerr.New(apeerr.Runtime, token.Position{}, "array index out of range: %d", int(n.Value))
		}
		return b.Elements[i], nil

	case *object.String:
		if s, ok := index.(*object.String); ok && s.Value == lengthKey {
			return &object.Number{Value: float64(len(b.Value))}, nil
		}
		n, ok := index.(*object.Number)
		if !ok {
			return nil, apeerr.New(apeerr.Runtime, token.Position{}, "string index must be a number")
		}
		i, ok := arrayIndex(len(b.Value), int(n.Value))
		if !ok {
			return nil, apeerr.New(apeerr.Runtime, token.Position{}, "string index out of range: %d", int(n.Value))
		}
		return &object.String{Value: string(b.Value[i])}, nil

	case *object.Map:
		key, ok := index.(object.Hashable)
		if !ok {
			return nil, apeerr.New(apeerr.Runtime, token.Position{}, "unusable as map key: %s", index.Type())
		}
		val, ok := b.Get(key)
		if !ok {
			return object.NullVal, nil
		}
		return val, nil

	default:
		return nil, apeerr.New(apeerr.Runtime, token.Position{}, "index operator not supported: %s", base.Type())
	}
}

func (vm *VM) indexSet(base, index, value object.Object) error {
	switch b := base.(type) {
	case *object.Array:
		n, ok := index.(*object.Number)
		if !ok {
			return apeerr.New(apeerr.Runtime, token.Position{}, "array index must be a number")
		}
		idx := int(n.Value)
		if idx < 0 {
			idx += len(b.Elements)
			if idx < 0 {
				return apeerr.New(apeerr.Runtime, token.Position{}, "array index out of range: %d", int(n.Value))
			}
			b.Elements[idx] = value
			return nil
		}
		// Out-of-range positive indices grow the array, padding with null
		// up to idx (spec.md §4.5.3, §8 scenario 6).
		for idx >= len(b.Elements) {
			b.Elements = append(b.Elements, object.NullVal)
		}
		b.Elements[idx] = value
		return nil

	case *object.Map:
		key, ok := index.(object.Hashable)
		if !ok {
			return apeerr.New(apeerr.Runtime, token.Position{}, "unusable as map key: %s", index.Type())
		}
		b.Set(key, value)
		return nil

	default:
		return apeerr.New(apeerr.Runtime, token.Position{}, "index assignment not supported: %s", base.Type())
	}
}

// executeBinary dispatches an arithmetic/bit/shift opcode against the two
// operands on top of the stack, popping both and pushing the result.
func (vm *VM) executeBinary(op code.Opcode) error {
	right := vm.pop()
	left := vm.pop()

	if op == code.OpAdd {
		if ls, ok := left.(*object.String); ok {
			rs, ok := right.(*object.String)
			if !ok {
				return vm.push(vm.gc.NewString(ls.Value + right.Inspect()))
			}
			return vm.push(vm.gc.NewString(ls.Value + rs.Value))
		}
	}

	ln, ok := left.(*object.Number)
	if !ok {
		return apeerr.New(apeerr.Runtime, token.Position{}, "expected a number, got %s", left.Type())
	}
	rn, ok := right.(*object.Number)
	if !ok {
		return apeerr.New(apeerr.Runtime, token.Position{}, "expected a number, got %s", right.Type())
	}

	var result float64
	switch op {
	case code.OpAdd:
		result = ln.Value + rn.Value
	case code.OpSub:
		result = ln.Value - rn.Value
	case code.OpMul:
		result = ln.Value * rn.Value
	case code.OpDiv:
		if rn.Value == 0 {
			return apeerr.New(apeerr.Runtime, token.Position{}, "division by zero")
		}
		result = ln.Value / rn.Value
	case code.OpMod:
		r := int64(rn.Value)
		if r == 0 {
			return apeerr.New(apeerr.Runtime, token.Position{}, "division by zero")
		}
		result = float64(int64(ln.Value) % r)
	case code.OpBitAnd:
		result = float64(int64(ln.Value) & int64(rn.Value))
	case code.OpBitOr:
		result = float64(int64(ln.Value) | int64(rn.Value))
	case code.OpBitXor:
		result = float64(int64(ln.Value) ^ int64(rn.Value))
	case code.OpLeftShift:
		result = float64(int64(ln.Value) << uint64(int64(rn.Value)))
	case code.OpRightShift:
		result = float64(int64(ln.Value) >> uint64(int64(rn.Value)))
	}

	return vm.push(&object.Number{Value: result})
}

// comparePlain orders a against b for OpComparePlain (spec.md §4.5.3):
// numeric subtraction when both are numbers, lexicographic when both are
// strings, and a stable pointer-identity fallback for everything else
// (arrays, maps, closures, ...), so ordered comparisons never error at
// runtime.
func comparePlain(a, b object.Object) float64 {
	if an, ok := a.(*object.Number); ok {
		if bn, ok := b.(*object.Number); ok {
			switch {
			case an.Value < bn.Value:
				return -1
			case an.Value > bn.Value:
				return 1
			default:
				return 0
			}
		}
	}

	if as, ok := a.(*object.String); ok {
		if bs, ok := b.(*object.String); ok {
			return float64(strings.Compare(as.Value, bs.Value))
		}
	}

	ap := reflect.ValueOf(a).Pointer()
	bp := reflect.ValueOf(b).Pointer()
	switch {
	case ap < bp:
		return -1
	case ap > bp:
		return 1
	default:
		return 0
	}
}

func deepEqual(a, b object.Object) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Type() != b.Type() {
		return false
	}
	switch av := a.(type) {
	case *object.Number:
		return av.Value == b.(*object.Number).Value
	case *object.Boolean:
		return av.Value == b.(*object.Boolean).Value
	case *object.Null:
		return true
	case *object.String:
		return av.Value == b.(*object.String).Value
	case *object.Array:
		bv := b.(*object.Array)
		if len(av.Elements) != len(bv.Elements) {
			return false
		}
		for i := range av.Elements {
			if !deepEqual(av.Elements[i], bv.Elements[i]) {
				return false
			}
		}
		return true
	case *object.Map:
		bv := b.(*object.Map)
		if av.Len() != bv.Len() {
			return false
		}
		equal := true
		av.Each(func(k, v object.Object) {
			if !equal {
				return
			}
			hk, ok := k.(object.Hashable)
			if !ok {
				equal = false
				return
			}
			bVal, ok := bv.Get(hk)
			if !ok || !deepEqual(v, bVal) {
				equal = false
			}
		})
		return equal
	default:
		return a == b
	}
}

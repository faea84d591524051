// Package gc implements the tracing garbage collector (spec.md §4.6):
// tri-color mark-and-sweep over explicit roots, with a per-kind free pool
// so repeated allocation of the same object kind is cheap.
//
// The collector is deliberately single-threaded (spec.md §5): it is driven
// synchronously by the VM between opcodes or on an explicit host request,
// never from a goroutine. It owns no heap memory itself — object.Traceable
// values are ordinary Go allocations — but tracks every one ever handed to
// [Collector.Track] so sweep can find the unreachable ones, and recycles
// their shells through its per-kind free lists and kind-specific New* helpers
// rather than the layer beneath (Go's own allocator), mirroring the
// "free-pool before allocator" policy spec.md §3/§4.6 describe.
package gc

import (
	"github.com/google/uuid"

	"github.com/ape-lang/ape/internal/object"
)

// allocThreshold is the default allocation count that triggers a
// collection (spec.md §4.6: "an allocation counter crossing a threshold").
const allocThreshold = 4096

// Collector tracks every heap object allocated through it and reclaims
// unreachable ones on [Collector.Collect].
type Collector struct {
	all       []object.Traceable
	freeLists map[object.Type]object.Object

	allocated int
	threshold int

	// stats, exposed for host introspection / tests.
	collections int
	lastFreed   int
}

// New creates a Collector with the default allocation threshold.
func New() *Collector {
	return &Collector{freeLists: make(map[object.Type]object.Object), threshold: allocThreshold}
}

// SetThreshold overrides the allocation-count collection trigger.
func (c *Collector) SetThreshold(n int) { c.threshold = n }

// Track registers obj as a live heap object the collector is responsible
// for, stamping a fresh debug id. Every kind-specific constructor in this
// package calls Track on the object it returns.
func (c *Collector) Track(obj object.Traceable) {
	obj.GCHeader().SetColor(object.White)
	obj.GCHeader().SetDebugID(uuid.NewString())
	c.all = append(c.all, obj)
	c.allocated++
}

// recycle pops a free object of kind typ off its pool, or reports none
// available.
func (c *Collector) recycle(typ object.Type) (object.Traceable, bool) {
	head, ok := c.freeLists[typ]
	if !ok || head == nil {
		return nil, false
	}
	tr := head.(object.Traceable)
	c.freeLists[typ] = tr.GCHeader().FreeNext()
	tr.GCHeader().SetFreeNext(nil)
	return tr, true
}

// ShouldCollect reports whether the allocation counter has crossed the
// configured threshold since the last collection.
func (c *Collector) ShouldCollect() bool { return c.allocated >= c.threshold }

// Stats reports cumulative collector activity, for host introspection.
func (c *Collector) Stats() (collections, lastFreed, liveObjects int) {
	return c.collections, c.lastFreed, len(c.all)
}

// Roots bundles every root set the VM must supply: the value stack,
// this-stack, globals, constant pool, active closures, and the last-popped
// value (spec.md §4.6).
type Roots struct {
	Stack     []object.Object
	ThisStack []object.Object
	Globals   []object.Object
	Constants []object.Object
	Closures  []object.Object
	LastPopped object.Object
}

// Collect runs one mark-sweep cycle against roots: mark (DFS from roots,
// white→gray→black) then sweep (every still-white tracked object is
// deinitialised and chained onto its kind's free pool).
func (c *Collector) Collect(roots Roots) {
	var gray []object.Traceable

	mark := func(obj object.Object) {
		tr, ok := obj.(object.Traceable)
		if !ok || obj == nil {
			return
		}
		if tr.GCHeader().Color() != object.White {
			return
		}
		tr.GCHeader().SetColor(object.Gray)
		gray = append(gray, tr)
	}

	for _, v := range roots.Stack {
		mark(v)
	}
	for _, v := range roots.ThisStack {
		mark(v)
	}
	for _, v := range roots.Globals {
		mark(v)
	}
	for _, v := range roots.Constants {
		mark(v)
	}
	for _, v := range roots.Closures {
		mark(v)
	}
	mark(roots.LastPopped)

	for len(gray) > 0 {
		obj := gray[len(gray)-1]
		gray = gray[:len(gray)-1]
		obj.GCHeader().SetColor(object.Black)
		for _, child := range obj.Children() {
			mark(child)
		}
	}

	var survivors []object.Traceable
	freed := 0
	for _, obj := range c.all {
		if obj.GCHeader().Color() == object.Black {
			obj.GCHeader().SetColor(object.White)
			survivors = append(survivors, obj)
			continue
		}
		c.free(obj)
		freed++
	}
	c.all = survivors

	c.collections++
	c.lastFreed = freed
	c.allocated = 0
}

// free deinitialises obj's payload and chains it onto its kind's free pool.
func (c *Collector) free(obj object.Traceable) {
	switch v := obj.(type) {
	case *object.String:
		*v = object.String{}
	case *object.Array:
		v.Elements = nil
	case *object.Map:
		*v = *object.NewMap()
	case *object.Closure:
		v.Fn = nil
		v.Free = nil
	case *object.ScriptFunction:
		*v = object.ScriptFunction{}
	case *object.External:
		if v.Destroy != nil && v.Value != nil {
			v.Destroy(v.Value)
		}
		v.Value = nil
		v.Destroy = nil
	case *object.ErrorValue:
		*v = object.ErrorValue{}
	}

	typ := obj.Type()
	obj.GCHeader().SetFreeNext(c.freeLists[typ])
	obj.GCHeader().SetColor(object.White)
	c.freeLists[typ] = obj
}

// NewString allocates (or recycles) a String object and tracks it.
func (c *Collector) NewString(value string) *object.String {
	if tr, ok := c.recycle(object.STRING_OBJ); ok {
		s := tr.(*object.String)
		s.Value = value
		c.Track(s)
		return s
	}
	s := &object.String{Value: value}
	c.Track(s)
	return s
}

// NewArray allocates (or recycles) an Array object and tracks it.
func (c *Collector) NewArray(elements []object.Object) *object.Array {
	if tr, ok := c.recycle(object.ARRAY_OBJ); ok {
		a := tr.(*object.Array)
		a.Elements = elements
		c.Track(a)
		return a
	}
	a := &object.Array{Elements: elements}
	c.Track(a)
	return a
}

// NewMap allocates (or recycles) a Map object and tracks it.
func (c *Collector) NewMap() *object.Map {
	if tr, ok := c.recycle(object.MAP_OBJ); ok {
		m := tr.(*object.Map)
		*m = *object.NewMap()
		c.Track(m)
		return m
	}
	m := object.NewMap()
	c.Track(m)
	return m
}

// NewClosure allocates (or recycles) a Closure object and tracks it.
func (c *Collector) NewClosure(fn *object.ScriptFunction, free []object.Object) *object.Closure {
	if tr, ok := c.recycle(object.CLOSURE_OBJ); ok {
		cl := tr.(*object.Closure)
		cl.Fn, cl.Free = fn, free
		c.Track(cl)
		return cl
	}
	cl := &object.Closure{Fn: fn, Free: free}
	c.Track(cl)
	return cl
}

// NewScriptFunction allocates a ScriptFunction object and tracks it.
// ScriptFunctions live in the constant pool for the lifetime of their
// compilation unit, so recycling them mid-run is not attempted.
func (c *Collector) NewScriptFunction(fn object.ScriptFunction) *object.ScriptFunction {
	f := &fn
	c.Track(f)
	return f
}

// NewError allocates an ErrorValue object and tracks it.
func (c *Collector) NewError(kind, message string, pos object.Position, traceback []string) *object.ErrorValue {
	e := &object.ErrorValue{Kind: kind, Message: message, Pos: pos, Traceback: traceback}
	c.Track(e)
	return e
}

// NewExternal wraps an opaque host value and tracks it.
func (c *Collector) NewExternal(value any, destroy func(any)) *object.External {
	e := &object.External{Value: value, Destroy: destroy}
	c.Track(e)
	return e
}

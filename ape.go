// Package ape is the Core-to-host API (spec.md §6): the surface a host
// program embeds to create a context, install native functions, and run
// source through the lexer/parser/compiler/VM pipeline.
//
// A [Context] owns exactly one GC [gc.Collector] and one persistent
// module-global namespace. Each [Context.ExecuteString]/[Context.ExecuteFile]
// call compiles its input as a continuation of everything the context has
// already evaluated, the way a REPL line-by-line session does (module
// globals and the constant pool both carry forward), and then runs it on a
// fresh [vm.VM] seeded with the accumulated globals.
package ape

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ape-lang/ape/internal/apeerr"
	"github.com/ape-lang/ape/internal/compiler"
	"github.com/ape-lang/ape/internal/gc"
	"github.com/ape-lang/ape/internal/lexer"
	"github.com/ape-lang/ape/internal/object"
	"github.com/ape-lang/ape/internal/optimizer"
	"github.com/ape-lang/ape/internal/parser"
	"github.com/ape-lang/ape/internal/token"
	"github.com/ape-lang/ape/internal/vm"
)

// Config tunes a [Context] beyond its defaults.
type Config struct {
	// MaxExecutionTime bounds a single Execute* call's wall-clock budget
	// (spec.md §5 "Cancellation & timeouts"). Zero means unbounded.
	MaxExecutionTime time.Duration

	// StackSize and GlobalsSize override the VM's default capacities.
	StackSize   int
	GlobalsSize int

	// GCThreshold overrides the allocation count that triggers a
	// collection. Zero keeps the collector's own default.
	GCThreshold int

	// OptimizerEnabled turns on constant folding (spec.md §9: disabled by
	// default, since the source this was distilled from built it but
	// never wired it into the compile path).
	OptimizerEnabled bool

	// UndeclaredAssignIsLocal preserves assigning to an undeclared name by
	// auto-defining it as a local, rather than rejecting it as undefined
	// (spec.md §9 open question). Defaults to true when a zero Config is
	// used via [New]; set explicitly false for strict-mode hosts.
	UndeclaredAssignIsLocal *bool

	// ModuleLoader overrides how `include` reads a resolved module path.
	// Defaults to reading from the OS filesystem.
	ModuleLoader compiler.ModuleLoader

	// BaseDir is the directory include paths in the first ExecuteString
	// call resolve against. ExecuteFile always resolves against the
	// executed file's own directory instead.
	BaseDir string
}

// Context is one isolated execution environment: its own GC, module
// globals, constant pool, and installed native functions (spec.md §5
// "Shared-resource policy": contexts share nothing).
type Context struct {
	cfg Config

	gc  *gc.Collector
	opt *optimizer.Pass

	st        *compiler.SymbolTable
	constants []object.Object
	globals   []object.Object

	contextGlobals []object.Object
	contextNames   map[string]int

	files   map[string]*token.SourceFile
	errs    *apeerr.List
	baseDir string
}

// New creates a Context. A zero Config is valid and matches the source
// language's defaults (unbounded execution time, optimizer off,
// undeclared-assignment auto-define on).
func New(cfg Config) *Context {
	undeclaredLocal := true
	if cfg.UndeclaredAssignIsLocal != nil {
		undeclaredLocal = *cfg.UndeclaredAssignIsLocal
	}

	c := &Context{
		cfg:          cfg,
		gc:           gc.New(),
		opt:          optimizer.New(cfg.OptimizerEnabled),
		st:           compiler.NewSymbolTable(),
		contextNames: make(map[string]int),
		files:        make(map[string]*token.SourceFile),
		errs:         &apeerr.List{},
		baseDir:      cfg.BaseDir,
	}
	if cfg.GCThreshold > 0 {
		c.gc.SetThreshold(cfg.GCThreshold)
	}
	c.cfg.UndeclaredAssignIsLocal = &undeclaredLocal

	for _, b := range object.Builtins {
		_ = c.InstallNative(b.Name, b.Fn)
	}
	return c
}

// InstallNative binds name as a context global bound to fn, visible from
// every module this Context ever compiles (spec.md §6 "install a native
// function under a given global name").
func (c *Context) InstallNative(name string, fn func(args []object.Object) object.Object) error {
	if _, exists := c.contextNames[name]; exists {
		return fmt.Errorf("native function %q already installed", name)
	}
	idx := len(c.contextGlobals)
	c.contextGlobals = append(c.contextGlobals, &object.NativeFunction{Name: name, Fn: fn})
	c.contextNames[name] = idx
	c.st.DefineContextGlobal(name, idx)
	return nil
}

// SetGlobal sets (or defines, on first use) a module-global by name,
// visible to subsequently compiled source (spec.md §6 "set / get a global
// by name").
func (c *Context) SetGlobal(name string, value object.Object) {
	sym, ok := c.st.Resolve(name)
	if !ok || sym.Scope != compiler.ModuleGlobalScope {
		sym, _ = c.st.Define(name, true)
	}
	for len(c.globals) <= sym.Index {
		c.globals = append(c.globals, object.NullVal)
	}
	c.globals[sym.Index] = value
}

// GetGlobal looks up a module-global by name, reporting whether it exists.
func (c *Context) GetGlobal(name string) (object.Object, bool) {
	sym, ok := c.st.Resolve(name)
	if !ok || sym.Scope != compiler.ModuleGlobalScope {
		return nil, false
	}
	if sym.Index >= len(c.globals) {
		return nil, false
	}
	return c.globals[sym.Index], true
}

// ExecuteString compiles and runs source as the next continuation of this
// Context's module-global namespace (spec.md §6 "execute source string").
// It returns the last popped stack value, mirroring what an interactive
// session displays for an expression statement.
func (c *Context) ExecuteString(source string) (object.Object, error) {
	return c.execute(source, "<input>", c.baseDir)
}

// ExecuteFile reads path and runs it the same way ExecuteString does,
// resolving that file's own `include` statements against its directory
// (spec.md §6 "execute a file path").
func (c *Context) ExecuteFile(path string) (object.Object, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return c.execute(string(data), path, filepath.Dir(path))
}

func (c *Context) execute(source, path, baseDir string) (object.Object, error) {
	c.errs = &apeerr.List{}

	file := &token.SourceFile{Path: path, Dir: baseDir}
	l := lexer.New(source, file)
	p := parser.New(l, c.errs)
	program := p.ParseProgram()
	if c.errs.HasErrors() {
		return nil, c.errs.Errors()[0]
	}

	comp := compiler.NewWithState(c.st, c.constants, c.errs, c.opt, c.cfg.ModuleLoader, baseDir)
	comp.UndeclaredAssignIsLocal = *c.cfg.UndeclaredAssignIsLocal
	if err := comp.Compile(program); err != nil {
		return nil, err
	}

	c.st = comp.SymbolTable()
	c.constants = comp.Constants()
	for fp, f := range comp.Files() {
		c.files[fp] = f
	}
	c.files[path] = file

	bc := comp.Bytecode()
	machine := vm.NewWithGlobals(bc.MainFunction, bc.Constants, c.globals, vm.Options{
		StackSize:        c.cfg.StackSize,
		GlobalsSize:      c.cfg.GlobalsSize,
		MaxExecutionTime: c.cfg.MaxExecutionTime,
		ContextGlobals:   c.contextGlobals,
		Files:            c.files,
		GC:               c.gc,
		Errs:             c.errs,
	})
	if err := machine.Run(); err != nil {
		return nil, err
	}

	c.globals = machine.Globals()
	return machine.LastPoppedStackElem(), nil
}

// Errors returns every diagnostic accumulated by the most recent
// Execute* call (spec.md §6 "enumerate errors").
func (c *Context) Errors() []*apeerr.Error {
	return c.errs.Errors()
}

// RenderError produces the human-readable rendering of a single error
// (spec.md §6, §7 "User-visible rendering"): kind, position, message, an
// optional caret-annotated source line, and an optional traceback.
func (c *Context) RenderError(err *apeerr.Error) string {
	return apeerr.Render(err)
}

// Stats reports the context's GC activity, for host introspection.
func (c *Context) Stats() (collections, lastFreed, liveObjects int) {
	return c.gc.Stats()
}


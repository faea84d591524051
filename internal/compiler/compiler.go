// Package compiler turns a parsed program into bytecode for package vm: a
// single-pass, stack-based code generator with no intermediate IR (spec.md
// §4.4). It owns symbol resolution (via [SymbolTable]), constant pool
// de-duplication, control-flow jump patching, and `include`/`import`
// expansion.
package compiler

import (
	"os"
	"strings"

	"github.com/ape-lang/ape/internal/apeerr"
	"github.com/ape-lang/ape/internal/ast"
	"github.com/ape-lang/ape/internal/code"
	"github.com/ape-lang/ape/internal/lexer"
	"github.com/ape-lang/ape/internal/module"
	"github.com/ape-lang/ape/internal/object"
	"github.com/ape-lang/ape/internal/optimizer"
	"github.com/ape-lang/ape/internal/parser"
	"github.com/ape-lang/ape/internal/token"
)

// ModuleLoader reads the source for a canonical module path, so `include`
// can be tested or sandboxed without touching the real filesystem.
type ModuleLoader func(path string) (string, error)

// OSModuleLoader reads module source straight off disk. It is the default a
// host gets unless it supplies its own (package module only resolves paths;
// actually fetching the bytes is the host's concern).
func OSModuleLoader(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// EmittedInstruction remembers an opcode and where it starts, so the
// compiler can ask "did I just emit a return" without re-decoding.
type EmittedInstruction struct {
	Opcode   code.Opcode
	Position int
}

// loopCtx tracks the break/continue jump sites of one active loop, patched
// once the loop's exit and continuation points are known.
type loopCtx struct {
	breakJumps    []int
	continueJumps []int
}

// CompilationScope is the instruction stream (and its parallel source
// positions) for one function body, including the module's top level. A new
// scope is pushed for every [ast.FunctionLiteral] and popped once its body
// is fully compiled into a constant [object.ScriptFunction].
type CompilationScope struct {
	instructions code.Instructions
	positions    []object.Position

	lastInstruction     EmittedInstruction
	previousInstruction EmittedInstruction

	loops []*loopCtx
}

// Compiler walks an [ast.Program] and emits bytecode into the current
// [CompilationScope], resolving names through [SymbolTable] and recording
// diagnostics into a shared [apeerr.List] rather than failing fast.
type Compiler struct {
	constants       []object.Object
	stringConstants map[string]int

	symbolTable *SymbolTable

	scopes     []*CompilationScope
	scopeIndex int

	errs *apeerr.List
	opt  *optimizer.Pass

	loadModule ModuleLoader
	dirStack   []string

	including map[string]bool
	included  map[string]bool

	files map[string]*token.SourceFile

	// UndeclaredAssignIsLocal preserves the source behavior of auto-defining
	// an undeclared identifier on the left of an assignment as an
	// assignable local, rather than rejecting it as undefined (spec.md §9
	// open question: "may be a bug ... preserve it but mark configurable").
	// Defaults to true to match the source; a host wanting strict-mode
	// semantics sets it false before compiling.
	UndeclaredAssignIsLocal bool
}

// New creates a Compiler for a fresh module, rooted at baseDir for
// resolving its own `include` statements.
func New(errs *apeerr.List, opt *optimizer.Pass, loadModule ModuleLoader, baseDir string) *Compiler {
	if loadModule == nil {
		loadModule = OSModuleLoader
	}
	return &Compiler{
		stringConstants:      make(map[string]int),
		symbolTable:          NewSymbolTable(),
		scopes:               []*CompilationScope{{}},
		errs:                 errs,
		opt:                  opt,
		loadModule:           loadModule,
		dirStack:             []string{baseDir},
		including:            make(map[string]bool),
		included:             make(map[string]bool),
		files:                make(map[string]*token.SourceFile),
		UndeclaredAssignIsLocal: true,
	}
}

// NewWithState creates a Compiler that continues an existing module-global
// namespace and constant pool, the way a REPL compiles each new line of
// input as a continuation of everything evaluated so far.
func NewWithState(st *SymbolTable, constants []object.Object, errs *apeerr.List, opt *optimizer.Pass, loadModule ModuleLoader, baseDir string) *Compiler {
	c := New(errs, opt, loadModule, baseDir)
	c.symbolTable = st
	c.constants = constants
	return c
}

// SymbolTable exposes the root symbol table, so a REPL can thread it into
// the next line's Compiler via [NewWithState].
func (c *Compiler) SymbolTable() *SymbolTable { return c.symbolTable }

// Constants exposes the accumulated constant pool, for the same reason.
func (c *Compiler) Constants() []object.Object { return c.constants }

// Files returns every [token.SourceFile] this compilation touched (the
// root plus anything reached through `include`), keyed by canonical path,
// so a host can reconstruct [token.Position] values from the
// [object.Position]s stamped onto runtime errors.
func (c *Compiler) Files() map[string]*token.SourceFile { return c.files }

// Bytecode is the result of a successful compilation.
type Bytecode struct {
	MainFunction *object.ScriptFunction
	Constants    []object.Object
}

// Compile compiles program's statements into the current scope and reports
// the first accumulated error, if any. Diagnostics past the first are still
// available via the errs list the Compiler was constructed with.
func (c *Compiler) Compile(program *ast.Program) error {
	c.compileStatements(program.Statements)
	if c.errs.HasErrors() {
		return c.errs.Errors()[0]
	}
	return nil
}

// Bytecode packages the root scope's instructions as the program's main
// function, alongside the constant pool.
func (c *Compiler) Bytecode() *Bytecode {
	return &Bytecode{
		MainFunction: &object.ScriptFunction{
			Name:         "<main>",
			Instructions: c.scopes[0].instructions,
			Positions:    c.scopes[0].positions,
		},
		Constants: c.constants,
	}
}

// --- scope / instruction plumbing ---

func (c *Compiler) currentScope() *CompilationScope       { return c.scopes[c.scopeIndex] }
func (c *Compiler) currentInstructions() code.Instructions { return c.currentScope().instructions }
func (c *Compiler) currentPos() int                        { return len(c.currentInstructions()) }

func (c *Compiler) enterScope() {
	c.scopes = append(c.scopes, &CompilationScope{})
	c.scopeIndex++
	c.symbolTable = NewEnclosedSymbolTable(c.symbolTable)
}

func (c *Compiler) leaveScope() (code.Instructions, []object.Position) {
	scope := c.currentScope()
	c.scopes = c.scopes[:len(c.scopes)-1]
	c.scopeIndex--
	c.symbolTable = c.symbolTable.Outer
	return scope.instructions, scope.positions
}

func toObjPos(p token.Position) object.Position {
	var file string
	if p.File != nil {
		file = p.File.Path
	}
	return object.Position{File: file, Line: p.Line, Column: p.Column}
}

// emit appends one instruction (opcode plus operands) to the current scope,
// tagging every word it occupies with pos.
func (c *Compiler) emit(pos token.Position, op code.Opcode, operands ...int) int {
	ins := code.Make(op, operands...)
	start := c.currentPos()

	scope := c.currentScope()
	scope.instructions = append(scope.instructions, ins...)

	objPos := toObjPos(pos)
	for range ins {
		scope.positions = append(scope.positions, objPos)
	}

	scope.previousInstruction = scope.lastInstruction
	scope.lastInstruction = EmittedInstruction{Opcode: op, Position: start}
	return start
}

func (c *Compiler) lastInstructionIs(op code.Opcode) bool {
	scope := c.currentScope()
	if len(scope.instructions) == 0 {
		return false
	}
	return scope.lastInstruction.Opcode == op
}

// changeOperand overwrites a previously emitted single-operand instruction
// at pos with a new operand value, used to back-patch jump targets once
// known.
func (c *Compiler) changeOperand(pos int, operand int) {
	op := code.Opcode(c.currentInstructions()[pos])
	newIns := code.Make(op, operand)
	scope := c.currentScope()
	for i, w := range newIns {
		scope.instructions[pos+i] = w
	}
}

func (c *Compiler) patchJumps(positions []int, target int) {
	for _, pos := range positions {
		c.changeOperand(pos, target)
	}
}

func (c *Compiler) addConstant(obj object.Object) int {
	c.constants = append(c.constants, obj)
	return len(c.constants) - 1
}

func (c *Compiler) addStringConstant(s string) int {
	if idx, ok := c.stringConstants[s]; ok {
		return idx
	}
	idx := c.addConstant(&object.String{Value: s})
	c.stringConstants[s] = idx
	return idx
}

func (c *Compiler) pushLoop() *loopCtx {
	l := &loopCtx{}
	scope := c.currentScope()
	scope.loops = append(scope.loops, l)
	return l
}

func (c *Compiler) popLoop() {
	scope := c.currentScope()
	scope.loops = scope.loops[:len(scope.loops)-1]
}

func (c *Compiler) currentLoop() *loopCtx {
	scope := c.currentScope()
	if len(scope.loops) == 0 {
		return nil
	}
	return scope.loops[len(scope.loops)-1]
}

func (c *Compiler) currentDir() string {
	if len(c.dirStack) == 0 {
		return "."
	}
	return c.dirStack[len(c.dirStack)-1]
}

// --- statements ---

func (c *Compiler) compileStatements(stmts []ast.Statement) {
	for _, s := range stmts {
		c.compileStatement(s)
	}
}

func (c *Compiler) compileStatement(stmt ast.Statement) {
	switch s := stmt.(type) {
	case *ast.ExpressionStatement:
		if s.Expr == nil {
			return
		}
		c.compileExpression(s.Expr)
		c.emit(s.Pos(), code.OpPop)

	case *ast.DefineStatement:
		c.compileDefineStatement(s)

	case *ast.Block:
		c.compileBlock(s)

	case *ast.IfStatement:
		c.compileIfStatement(s)

	case *ast.WhileStatement:
		c.compileWhileStatement(s)

	case *ast.ForStatement:
		c.compileForStatement(s)

	case *ast.ForEachStatement:
		c.compileForEachStatement(s)

	case *ast.BreakStatement:
		loop := c.currentLoop()
		if loop == nil {
			c.errs.Addf(apeerr.Compilation, s.Pos(), "break outside of a loop")
			return
		}
		loop.breakJumps = append(loop.breakJumps, c.emit(s.Pos(), code.OpJump, 9999))

	case *ast.ContinueStatement:
		loop := c.currentLoop()
		if loop == nil {
			c.errs.Addf(apeerr.Compilation, s.Pos(), "continue outside of a loop")
			return
		}
		loop.continueJumps = append(loop.continueJumps, c.emit(s.Pos(), code.OpJump, 9999))

	case *ast.ReturnStatement:
		// Module scope has no enclosing function literal, but it is not
		// "outside a function" either: Bytecode wraps it as the program's
		// own <main> ScriptFunction, and the VM's outermost frame unwinds a
		// top-level return exactly like any other (vm.OpReturnValue). So,
		// unlike recover (compileRecover), return needs no scope guard here.
		if s.Value != nil {
			c.compileExpression(s.Value)
			c.emit(s.Pos(), code.OpReturnValue)
		} else {
			c.emit(s.Pos(), code.OpReturnNothing)
		}

	case *ast.IncludeStatement:
		c.compileInclude(s)

	case *ast.RecoverStatement:
		c.compileRecover(s)

	default:
		c.errs.Addf(apeerr.Compilation, stmt.Pos(), "compiler: unhandled statement %T", stmt)
	}
}

func (c *Compiler) compileBlock(b *ast.Block) {
	c.symbolTable.PushBlock()
	c.compileStatements(b.Statements)
	c.symbolTable.PopBlock()
}

func (c *Compiler) compileDefineStatement(s *ast.DefineStatement) {
	if s.Value != nil {
		c.compileExpression(s.Value)
	} else {
		c.emit(s.Pos(), code.OpNull)
	}

	sym, ok := c.symbolTable.Define(s.Name.Value, s.Assignable)
	if !ok {
		c.errs.Addf(apeerr.Compilation, s.Pos(), "%q is already declared in this scope", s.Name.Value)
		c.emit(s.Pos(), code.OpPop)
		return
	}

	c.emitDef(s.Pos(), sym)
	c.emit(s.Pos(), code.OpPop)
}

func (c *Compiler) compileIfStatement(s *ast.IfStatement) {
	var endJumps []int

	for _, cs := range s.Cases {
		c.compileExpression(cs.Test)
		falseJump := c.emit(cs.Test.Pos(), code.OpJumpIfFalse, 9999)
		c.compileBlock(cs.Consequence)
		endJumps = append(endJumps, c.emit(s.Pos(), code.OpJump, 9999))
		c.changeOperand(falseJump, c.currentPos())
	}

	if s.Else != nil {
		c.compileBlock(s.Else)
	}

	c.patchJumps(endJumps, c.currentPos())
}

func (c *Compiler) compileWhileStatement(s *ast.WhileStatement) {
	loop := c.pushLoop()
	testPos := c.currentPos()

	c.compileExpression(s.Test)
	exitJump := c.emit(s.Test.Pos(), code.OpJumpIfFalse, 9999)

	c.compileBlock(s.Body)

	c.patchJumps(loop.continueJumps, testPos)
	c.emit(s.Pos(), code.OpJump, testPos)
	c.changeOperand(exitJump, c.currentPos())
	c.patchJumps(loop.breakJumps, c.currentPos())
	c.popLoop()
}

func (c *Compiler) compileForStatement(s *ast.ForStatement) {
	c.symbolTable.PushBlock()
	if s.Init != nil {
		c.compileStatement(s.Init)
	}

	loop := c.pushLoop()
	testPos := c.currentPos()

	exitJump := -1
	if s.Test != nil {
		c.compileExpression(s.Test)
		exitJump = c.emit(s.Test.Pos(), code.OpJumpIfFalse, 9999)
	}

	c.compileBlock(s.Body)

	updatePos := c.currentPos()
	c.patchJumps(loop.continueJumps, updatePos)
	if s.Update != nil {
		c.compileExpression(s.Update)
		c.emit(s.Pos(), code.OpPop)
	}
	c.emit(s.Pos(), code.OpJump, testPos)

	if exitJump != -1 {
		c.changeOperand(exitJump, c.currentPos())
	}
	c.patchJumps(loop.breakJumps, c.currentPos())
	c.popLoop()
	c.symbolTable.PopBlock()
}

// compileForEachStatement lowers "for (ident in source) body" onto a
// C-style index loop over two synthetic, unshadowable locals (spec.md
// §4.4.3): "@source" holds the sequence once, "@i" is the cursor.
func (c *Compiler) compileForEachStatement(s *ast.ForEachStatement) {
	c.symbolTable.PushBlock()

	srcSym, _ := c.symbolTable.Define("@source", false)
	c.compileExpression(s.Source)
	c.emitDef(s.Pos(), srcSym)
	c.emit(s.Pos(), code.OpPop)

	idxSym, _ := c.symbolTable.Define("@i", true)
	zero := code.PackNumber(0)
	c.emit(s.Pos(), code.OpMkNumber, int(zero[0]), int(zero[1]), int(zero[2]), int(zero[3]))
	c.emitDef(s.Pos(), idxSym)
	c.emit(s.Pos(), code.OpPop)

	loop := c.pushLoop()
	testPos := c.currentPos()

	c.loadSymbol(s.Pos(), srcSym)
	c.emit(s.Pos(), code.OpLen)
	c.loadSymbol(s.Pos(), idxSym)
	c.emit(s.Pos(), code.OpComparePlain)
	c.emit(s.Pos(), code.OpGreaterThan)
	exitJump := c.emit(s.Pos(), code.OpJumpIfFalse, 9999)

	identSym, _ := c.symbolTable.Define(s.Ident.Value, true)
	c.loadSymbol(s.Pos(), srcSym)
	c.loadSymbol(s.Pos(), idxSym)
	c.emit(s.Pos(), code.OpGetValueAt)
	c.emitDef(s.Pos(), identSym)
	c.emit(s.Pos(), code.OpPop)

	c.compileStatements(s.Body.Statements)

	incrPos := c.currentPos()
	c.patchJumps(loop.continueJumps, incrPos)
	c.loadSymbol(s.Pos(), idxSym)
	one := code.PackNumber(1)
	c.emit(s.Pos(), code.OpMkNumber, int(one[0]), int(one[1]), int(one[2]), int(one[3]))
	c.emit(s.Pos(), code.OpAdd)
	c.storeSymbol(s.Pos(), idxSym)
	c.emit(s.Pos(), code.OpPop)

	c.emit(s.Pos(), code.OpJump, testPos)
	c.changeOperand(exitJump, c.currentPos())
	c.patchJumps(loop.breakJumps, c.currentPos())
	c.popLoop()

	c.symbolTable.PopBlock()
}

// compileRecover installs a handler for the remainder of the enclosing
// block: the handler body is emitted out of line and jumped over, then
// OpSetRecover arms it so later sibling statements run protected (spec.md
// §4.5.1's "recover_ip").
func (c *Compiler) compileRecover(s *ast.RecoverStatement) {
	if c.symbolTable.isModuleScope() || !c.symbolTable.AtTopLevelBlock() {
		c.errs.Addf(apeerr.Compilation, s.Pos(), "recover is only valid at the top of a function body")
		return
	}

	if n := len(s.Body.Statements); n == 0 {
		c.errs.Addf(apeerr.Compilation, s.Pos(), "recover body must end in a return")
	} else if _, ok := s.Body.Statements[n-1].(*ast.ReturnStatement); !ok {
		c.errs.Addf(apeerr.Compilation, s.Pos(), "recover body must end in a return")
	}

	skipJump := c.emit(s.Pos(), code.OpJump, 9999)
	handlerPos := c.currentPos()

	c.symbolTable.PushBlock()
	errSym, _ := c.symbolTable.Define(s.ErrName.Value, true)
	c.emitDef(s.Pos(), errSym)
	c.emit(s.Pos(), code.OpPop)
	c.compileStatements(s.Body.Statements)
	c.symbolTable.PopBlock()

	c.changeOperand(skipJump, c.currentPos())
	c.emit(s.Pos(), code.OpSetRecover, handlerPos)
}

func (c *Compiler) compileInclude(s *ast.IncludeStatement) {
	if !c.symbolTable.isModuleScope() || !c.symbolTable.AtTopLevelBlock() {
		c.errs.Addf(apeerr.Compilation, s.Pos(), "include/import is only allowed at module top level")
		return
	}

	canonical := module.Resolve(c.currentDir(), s.Path)
	s.ResolvedPath = canonical

	if c.including[canonical] {
		c.errs.Addf(apeerr.Compilation, s.Pos(), "circular include: %s", canonical)
		return
	}
	if c.included[canonical] {
		return
	}

	src, err := c.loadModule(canonical)
	if err != nil {
		c.errs.Addf(apeerr.Compilation, s.Pos(), "include %q: %s", s.Path, err)
		return
	}

	file := &token.SourceFile{Path: canonical, Dir: module.Dir(canonical), Lines: strings.Split(src, "\n")}
	c.files[canonical] = file

	c.including[canonical] = true
	c.dirStack = append(c.dirStack, file.Dir)

	l := lexer.New(src, file)
	p := parser.New(l, c.errs)
	if prog := p.ParseProgram(); prog != nil {
		c.compileStatements(prog.Statements)
	}

	c.dirStack = c.dirStack[:len(c.dirStack)-1]
	delete(c.including, canonical)
	c.included[canonical] = true
}

// --- expressions ---

func (c *Compiler) compileExpression(expr ast.Expression) {
	if c.opt != nil {
		if folded := c.opt.Fold(expr); folded != nil {
			expr = folded
		}
	}

	switch e := expr.(type) {
	case *ast.NumberLiteral:
		words := code.PackNumber(e.Value)
		c.emit(e.Pos(), code.OpMkNumber, int(words[0]), int(words[1]), int(words[2]), int(words[3]))

	case *ast.StringLiteral:
		c.emit(e.Pos(), code.OpConstant, c.addStringConstant(e.Value))

	case *ast.BoolLiteral:
		if e.Value {
			c.emit(e.Pos(), code.OpTrue)
		} else {
			c.emit(e.Pos(), code.OpFalse)
		}

	case *ast.NullLiteral:
		c.emit(e.Pos(), code.OpNull)

	case *ast.Identifier:
		sym, ok := c.symbolTable.Resolve(e.Value)
		if !ok {
			c.errs.Addf(apeerr.Compilation, e.Pos(), "undefined name: %s", e.Value)
			c.emit(e.Pos(), code.OpNull)
			return
		}
		c.loadSymbol(e.Pos(), sym)

	case *ast.ArrayLiteral:
		for _, el := range e.Elements {
			c.compileExpression(el)
		}
		c.emit(e.Pos(), code.OpMkArray, len(e.Elements))

	case *ast.MapLiteral:
		c.emit(e.Pos(), code.OpMapStart, len(e.Keys))
		for i := range e.Keys {
			// A bare identifier key ({a: 1}) names a literal string key,
			// not a variable reference — the one place the grammar reuses
			// Identifier as a key-shorthand rather than an expression.
			if ident, ok := e.Keys[i].(*ast.Identifier); ok {
				c.emit(ident.Pos(), code.OpConstant, c.addStringConstant(ident.Value))
			} else {
				c.compileExpression(e.Keys[i])
			}
			c.compileExpression(e.Values[i])
		}
		c.emit(e.Pos(), code.OpMapEnd, len(e.Keys))

	case *ast.PrefixExpression:
		c.compileExpression(e.Right)
		switch e.Operator {
		case "-":
			c.emit(e.Pos(), code.OpMinus)
		case "!":
			c.emit(e.Pos(), code.OpNot)
		default:
			c.errs.Addf(apeerr.Compilation, e.Pos(), "unknown prefix operator: %s", e.Operator)
		}

	case *ast.InfixExpression:
		c.compileInfix(e)

	case *ast.LogicalExpression:
		c.compileLogical(e)

	case *ast.TernaryExpression:
		c.compileExpression(e.Test)
		falseJump := c.emit(e.Pos(), code.OpJumpIfFalse, 9999)
		c.compileExpression(e.Then)
		endJump := c.emit(e.Pos(), code.OpJump, 9999)
		c.changeOperand(falseJump, c.currentPos())
		c.compileExpression(e.Else)
		c.changeOperand(endJump, c.currentPos())

	case *ast.IndexExpression:
		c.compileExpression(e.Left)
		c.compileExpression(e.Index)
		c.emit(e.Pos(), code.OpGetIndex)

	case *ast.DotExpression:
		c.compileExpression(e.Left)
		c.emit(e.Pos(), code.OpConstant, c.addStringConstant(e.Name))
		c.emit(e.Pos(), code.OpGetIndex)

	case *ast.CallExpression:
		c.compileCall(e)

	case *ast.FunctionLiteral:
		c.compileFunctionLiteral(e)

	case *ast.AssignmentExpression:
		c.compileAssignment(e)

	default:
		c.errs.Addf(apeerr.Compilation, expr.Pos(), "compiler: unhandled expression %T", expr)
	}
}

func (c *Compiler) compileInfix(e *ast.InfixExpression) {
	c.compileExpression(e.Left)
	c.compileExpression(e.Right)

	switch e.Operator {
	case "+":
		c.emit(e.Pos(), code.OpAdd)
	case "-":
		c.emit(e.Pos(), code.OpSub)
	case "*":
		c.emit(e.Pos(), code.OpMul)
	case "/":
		c.emit(e.Pos(), code.OpDiv)
	case "%":
		c.emit(e.Pos(), code.OpMod)
	case "&":
		c.emit(e.Pos(), code.OpBitAnd)
	case "|":
		c.emit(e.Pos(), code.OpBitOr)
	case "^":
		c.emit(e.Pos(), code.OpBitXor)
	case "<<":
		c.emit(e.Pos(), code.OpLeftShift)
	case ">>":
		c.emit(e.Pos(), code.OpRightShift)
	case ">":
		c.emit(e.Pos(), code.OpComparePlain)
		c.emit(e.Pos(), code.OpGreaterThan)
	case ">=":
		c.emit(e.Pos(), code.OpComparePlain)
		c.emit(e.Pos(), code.OpGreaterEqual)
	case "==":
		c.emit(e.Pos(), code.OpCompareEqual)
		c.emit(e.Pos(), code.OpIsEqual)
	case "!=":
		c.emit(e.Pos(), code.OpCompareEqual)
		c.emit(e.Pos(), code.OpNotEqual)
	default:
		c.errs.Addf(apeerr.Compilation, e.Pos(), "unknown infix operator: %s", e.Operator)
	}
}

// compileLogical lowers short-circuiting && / || without a dedicated
// opcode: duplicate the left operand, test the dup, and only evaluate the
// right side when the left didn't already decide the result.
func (c *Compiler) compileLogical(e *ast.LogicalExpression) {
	c.compileExpression(e.Left)
	c.emit(e.Pos(), code.OpDup)

	var shortCircuit int
	if e.Operator == "&&" {
		shortCircuit = c.emit(e.Pos(), code.OpJumpIfFalse, 9999)
	} else {
		shortCircuit = c.emit(e.Pos(), code.OpJumpIfTrue, 9999)
	}

	c.emit(e.Pos(), code.OpPop)
	c.compileExpression(e.Right)
	c.changeOperand(shortCircuit, c.currentPos())
}

// compileCall handles both plain calls and dot-calls, the latter binding
// the receiver as `this` for the duration of the call (spec.md §4.5.4).
func (c *Compiler) compileCall(e *ast.CallExpression) {
	if dot, ok := e.Callee.(*ast.DotExpression); ok {
		c.compileExpression(dot.Left)
		c.emit(e.Pos(), code.OpPushThis)
		c.emit(dot.Pos(), code.OpConstant, c.addStringConstant(dot.Name))
		c.emit(dot.Pos(), code.OpGetIndex)
		for _, a := range e.Args {
			c.compileExpression(a)
		}
		c.emit(e.Pos(), code.OpCall, len(e.Args))
		c.emit(e.Pos(), code.OpPopThis)
		return
	}

	c.compileExpression(e.Callee)
	for _, a := range e.Args {
		c.compileExpression(a)
	}
	c.emit(e.Pos(), code.OpCall, len(e.Args))
}

func (c *Compiler) compileFunctionLiteral(e *ast.FunctionLiteral) {
	c.enterScope()

	if e.Name != "" {
		c.symbolTable.DefineFunctionName(e.Name)
	}
	c.symbolTable.DefineThis()
	for _, p := range e.Params {
		c.symbolTable.Define(p.Value, true)
	}

	c.compileStatements(e.Body.Statements)

	if !c.lastInstructionIs(code.OpReturnValue) && !c.lastInstructionIs(code.OpReturnNothing) {
		c.emit(e.Pos(), code.OpReturnNothing)
	}

	freeSymbols := c.symbolTable.FreeSymbols
	numLocals := c.symbolTable.NumDefinitions()
	ins, positions := c.leaveScope()

	for _, sym := range freeSymbols {
		c.loadSymbol(e.Pos(), sym)
	}

	fn := &object.ScriptFunction{
		Name:          e.Name,
		Instructions:  ins,
		Positions:     positions,
		NumLocals:     numLocals,
		NumParameters: len(e.Params),
	}
	idx := c.addConstant(fn)
	c.emit(e.Pos(), code.OpMkFunction, idx, len(freeSymbols))
}

// compileAssignment compiles "dest = source", desugared postfix
// increment/decrement included (spec.md §4.4.4). Every store opcode pops
// its addressing operands and the value, then pushes the stored value back,
// so the expression's own value comes for free — except the postfix case,
// whose result must be the PRE-assignment value, handled by reading Dest
// before the store and discarding the store's (post-assignment) result.
func (c *Compiler) compileAssignment(e *ast.AssignmentExpression) {
	switch dest := e.Dest.(type) {
	case *ast.Identifier:
		sym, ok := c.symbolTable.Resolve(dest.Value)
		if !ok {
			if !c.UndeclaredAssignIsLocal {
				c.errs.Addf(apeerr.Compilation, dest.Pos(), "undefined name: %s", dest.Value)
				return
			}
			// Auto-define: see UndeclaredAssignIsLocal's doc comment.
			sym, _ = c.symbolTable.Define(dest.Value, true)
		}
		if !sym.Assignable {
			c.errs.Addf(apeerr.Compilation, dest.Pos(), "%q is not assignable", dest.Value)
		}

		if e.IsPostfix {
			c.loadSymbol(dest.Pos(), sym)
			c.compileExpression(e.Source)
			c.storeSymbol(e.Pos(), sym)
			c.emit(e.Pos(), code.OpPop)
		} else {
			c.compileExpression(e.Source)
			c.storeSymbol(e.Pos(), sym)
		}

	case *ast.IndexExpression:
		if e.IsPostfix {
			c.compileExpression(dest.Left)
			c.compileExpression(dest.Index)
			c.emit(dest.Pos(), code.OpGetIndex)

			c.compileExpression(dest.Left)
			c.compileExpression(dest.Index)
			c.compileExpression(e.Source)
			c.emit(e.Pos(), code.OpSetIndex)
			c.emit(e.Pos(), code.OpPop)
		} else {
			c.compileExpression(dest.Left)
			c.compileExpression(dest.Index)
			c.compileExpression(e.Source)
			c.emit(e.Pos(), code.OpSetIndex)
		}

	case *ast.DotExpression:
		key := c.addStringConstant(dest.Name)
		if e.IsPostfix {
			c.compileExpression(dest.Left)
			c.emit(dest.Pos(), code.OpConstant, key)
			c.emit(dest.Pos(), code.OpGetIndex)

			c.compileExpression(dest.Left)
			c.emit(dest.Pos(), code.OpConstant, key)
			c.compileExpression(e.Source)
			c.emit(e.Pos(), code.OpSetIndex)
			c.emit(e.Pos(), code.OpPop)
		} else {
			c.compileExpression(dest.Left)
			c.emit(dest.Pos(), code.OpConstant, key)
			c.compileExpression(e.Source)
			c.emit(e.Pos(), code.OpSetIndex)
		}

	default:
		c.errs.Addf(apeerr.Compilation, e.Pos(), "invalid assignment target: %T", e.Dest)
	}
}

func (c *Compiler) loadSymbol(pos token.Position, sym Symbol) {
	switch sym.Scope {
	case ModuleGlobalScope:
		c.emit(pos, code.OpGetModuleGlobal, sym.Index)
	case ContextGlobalScope:
		c.emit(pos, code.OpGetContextGlobal, sym.Index)
	case LocalScope:
		c.emit(pos, code.OpGetLocal, sym.Index)
	case FreeScope:
		c.emit(pos, code.OpGetFree, sym.Index)
	case FunctionScope:
		c.emit(pos, code.OpCurrentFunction)
	case ThisScope:
		c.emit(pos, code.OpGetThis)
	}
}

// emitDef is [loadSymbol]'s counterpart for first-binding a fresh symbol
// (var/const, a for-loop's synthetic cursor, a recover's bound error name).
func (c *Compiler) emitDef(pos token.Position, sym Symbol) {
	switch sym.Scope {
	case ModuleGlobalScope:
		c.emit(pos, code.OpDefModuleGlobal, sym.Index)
	default:
		c.emit(pos, code.OpDefLocal, sym.Index)
	}
}

func (c *Compiler) storeSymbol(pos token.Position, sym Symbol) {
	switch sym.Scope {
	case ModuleGlobalScope:
		c.emit(pos, code.OpSetModuleGlobal, sym.Index)
	case LocalScope:
		c.emit(pos, code.OpSetLocal, sym.Index)
	case FreeScope:
		c.emit(pos, code.OpSetFree, sym.Index)
	default:
		c.errs.Addf(apeerr.Compilation, pos, "%q is not assignable", sym.Name)
	}
}

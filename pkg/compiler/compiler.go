// Package compiler turns mission script source into a program.Program.
// It chains three phases:
// 1. Lexer: Tokenization
// 2. Parser: AST generation
// 3. Checker and code generation against the binding tables
//
// Every phase keeps going after an error so one call reports as many
// problems as it can; Compile returns them together as an ErrorList.
package compiler

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/zurustar/missionscript/pkg/compiler/ast"
	"github.com/zurustar/missionscript/pkg/compiler/lexer"
	"github.com/zurustar/missionscript/pkg/compiler/parser"
	"github.com/zurustar/missionscript/pkg/logger"
	"github.com/zurustar/missionscript/pkg/opcode"
	"github.com/zurustar/missionscript/pkg/program"
	"github.com/zurustar/missionscript/pkg/symbols"
	"github.com/zurustar/missionscript/pkg/types"
	"github.com/zurustar/missionscript/pkg/value"
)

// badType marks an expression whose type could not be worked out. Checks
// against it are skipped so one mistake is reported once.
const badType types.ID = math.MaxUint16

// Option configures Compile.
type Option func(*options)

type options struct {
	log *slog.Logger
}

// WithLogger sets the logger used for debug output.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// Compile compiles source against the binding tables in reg. name labels
// the program in diagnostics.
func Compile(name, source string, reg *symbols.Registry, opts ...Option) (*program.Program, error) {
	o := options{log: logger.GetLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	p := parser.New(lexer.New(source))
	tree := p.ParseProgram()

	c := newCompiler(name, source, reg)
	for _, pe := range p.Errors() {
		kind := KindSyntax
		if pe.Kind == parser.KindLexical {
			kind = KindLexical
		}
		c.errorAt(kind, pe.Line, pe.Column, pe.Message)
	}
	if len(c.errs) > 0 {
		o.log.Debug("parse failed", "program", name, "errors", len(c.errs))
		return nil, c.errs
	}

	c.compileProgram(tree)
	if len(c.errs) > 0 {
		o.log.Debug("compile failed", "program", name, "errors", len(c.errs))
		return nil, c.errs
	}

	if err := c.prog.Validate(); err != nil {
		return nil, fmt.Errorf("compiler: %s: generated invalid code: %w", name, err)
	}

	o.log.Debug("compiled program",
		"program", name,
		"code_bytes", len(c.prog.Code),
		"globals", len(c.prog.Globals),
		"triggers", len(c.prog.Triggers),
		"events", len(c.prog.Events),
		"functions", len(c.prog.Functions))
	return c.prog, nil
}

type compiler struct {
	name   string
	source string
	reg    *symbols.Registry
	types  *types.Registry
	prog   *program.Program
	errs   ErrorList

	globals   map[string]int
	arrays    map[string]int
	triggers  map[string]int
	events    map[string]int
	functions map[string]int
	// declared maps every top-level name to its declaration line.
	declared map[string]int
	// accepted holds the declarations that were not rejected as duplicates.
	accepted map[ast.Node]bool
	// fnParams holds the parameter types of each script function.
	fnParams [][]types.ID

	scope *scope
}

func newCompiler(name, source string, reg *symbols.Registry) *compiler {
	return &compiler{
		name:      name,
		source:    source,
		reg:       reg,
		types:     reg.Types,
		prog:      program.New(name),
		globals:   make(map[string]int),
		arrays:    make(map[string]int),
		triggers:  make(map[string]int),
		events:    make(map[string]int),
		functions: make(map[string]int),
		declared:  make(map[string]int),
		accepted:  make(map[ast.Node]bool),
	}
}

func (c *compiler) errorAt(kind ErrorKind, line, column int, msg string) {
	c.errs = append(c.errs, &CompileError{
		Kind:    kind,
		Program: c.name,
		Message: msg,
		Line:    line,
		Column:  column,
		Context: GenerateErrorContext(c.source, line, column),
	})
}

func (c *compiler) errorf(kind ErrorKind, at ast.Node, format string, args ...any) {
	pos := at.Pos()
	c.errorAt(kind, pos.Line, pos.Column, fmt.Sprintf(format, args...))
}

func (c *compiler) typeName(t types.ID) string {
	if t == badType {
		return "invalid type"
	}
	return c.types.Name(t)
}

func (c *compiler) compileProgram(tree *ast.Program) {
	c.declare(tree)
	c.emitInit()

	for _, d := range tree.Declarations {
		if !c.accepted[d] {
			continue
		}
		switch d := d.(type) {
		case *ast.TriggerDeclaration:
			c.compileTrigger(c.triggers[d.Name.Value], d.Spec)
		case *ast.EventDeclaration:
			c.compileEvent(c.events[d.Name.Value], d)
		case *ast.FunctionDeclaration:
			c.compileFunction(c.functions[d.Name.Value], d)
		}
	}

	if len(c.prog.Code) > program.MaxOperand {
		c.errorAt(KindSemantic, 1, 1, fmt.Sprintf("program is too large: %d bytes of code", len(c.prog.Code)))
	}
	if len(c.prog.Constants) > program.MaxOperand+1 || len(c.prog.Symbols) > program.MaxOperand+1 ||
		len(c.prog.Globals) > program.MaxOperand+1 || len(c.prog.Arrays) > program.MaxOperand+1 {
		c.errorAt(KindSemantic, 1, 1, "program has too many constants, symbols or globals")
	}
}

// declare records every top-level name so bodies may refer to names
// declared later in the file.
func (c *compiler) declare(tree *ast.Program) {
	for _, d := range tree.Declarations {
		switch d := d.(type) {
		case *ast.VarDeclaration:
			t, _ := c.resolveType(d.Type, false)
			for i, n := range d.Names {
				if !c.declareName(n, d) {
					continue
				}
				if i < len(d.Dims) && d.Dims[i] != nil {
					c.declareArray(n, t, d.Dims[i])
					continue
				}
				c.globals[n.Value] = len(c.prog.Globals)
				c.prog.Globals = append(c.prog.Globals, program.Slot{Name: n.Value, Type: t})
			}

		case *ast.TriggerDeclaration:
			if !c.declareName(d.Name, d) {
				continue
			}
			c.triggers[d.Name.Value] = len(c.prog.Triggers)
			c.prog.Triggers = append(c.prog.Triggers, program.Trigger{Name: d.Name.Value, Line: d.Token.Line})

		case *ast.EventDeclaration:
			if !c.declareName(d.Name, d) {
				continue
			}
			c.events[d.Name.Value] = len(c.prog.Events)
			c.prog.Events = append(c.prog.Events, program.Event{
				Name:    d.Name.Value,
				Trigger: program.BindInactive,
				Line:    d.Token.Line,
			})

		case *ast.FunctionDeclaration:
			ret, _ := c.resolveType(d.ReturnType, true)
			params := make([]types.ID, len(d.Parameters))
			for i, p := range d.Parameters {
				params[i], _ = c.resolveType(p.Type, false)
			}
			if !c.declareName(d.Name, d) {
				continue
			}
			c.functions[d.Name.Value] = len(c.prog.Functions)
			c.fnParams = append(c.fnParams, params)
			c.prog.Functions = append(c.prog.Functions, program.Function{
				Name:   d.Name.Value,
				Return: ret,
				Params: len(params),
				Line:   d.Token.Line,
			})
		}
	}
}

// declareArray lays the elements of a global array out as consecutive
// global slots.
func (c *compiler) declareArray(n *ast.Identifier, t types.ID, dims []int) {
	if len(dims) > program.MaxDimensions {
		c.errorf(KindSemantic, n, "array %s has %d dimensions, at most %d are allowed", n.Value, len(dims), program.MaxDimensions)
		return
	}
	size := 1
	for _, d := range dims {
		if d <= 0 {
			c.errorf(KindSemantic, n, "array %s has dimension %d, sizes must be positive", n.Value, d)
			return
		}
		size *= d
		if size > program.MaxOperand+1 {
			c.errorf(KindSemantic, n, "array %s is too large", n.Value)
			return
		}
	}

	arr := program.Array{Name: n.Value, Type: t, Dims: dims, Base: len(c.prog.Globals), Line: n.Token.Line}
	indices := make([]int, len(dims))
	for e := 0; e < size; e++ {
		c.prog.Globals = append(c.prog.Globals, program.Slot{Name: program.ElementName(n.Value, indices), Type: t})
		for k := len(indices) - 1; k >= 0; k-- {
			indices[k]++
			if indices[k] < dims[k] {
				break
			}
			indices[k] = 0
		}
	}
	c.arrays[n.Value] = len(c.prog.Arrays)
	c.prog.Arrays = append(c.prog.Arrays, arr)
}

func (c *compiler) declareName(n *ast.Identifier, decl ast.Node) bool {
	if prev, ok := c.declared[n.Value]; ok {
		c.errorf(KindSemantic, n, "%s redeclared in this program (previous declaration at line %d)", n.Value, prev)
		return false
	}
	c.declared[n.Value] = n.Token.Line
	c.accepted[decl] = true
	return true
}

// resolveType looks a type name up in the registry.
func (c *compiler) resolveType(n *ast.Identifier, allowVoid bool) (types.ID, bool) {
	info, ok := c.types.Lookup(n.Value)
	if !ok {
		c.errorf(KindUnresolved, n, "unknown type %s", n.Value)
		return badType, false
	}
	if info.ID == types.Void && !allowVoid {
		c.errorf(KindSemantic, n, "void is only valid as a function result type")
		return badType, false
	}
	return info.ID, true
}

// emitInit emits the static initialiser: every global gets its type's
// zero value or null sentinel.
func (c *compiler) emitInit() {
	c.prog.InitEntry = c.prog.Offset()
	for i, g := range c.prog.Globals {
		if g.Type == badType {
			continue
		}
		c.emitDefault(g.Type)
		c.prog.EmitU16(opcode.StoreGlobal, i)
	}
	c.prog.Emit(opcode.Halt)
}

func (c *compiler) emitDefault(t types.ID) {
	switch t {
	case types.Int:
		c.emitConst(value.IntValue(0))
	case types.Bool:
		c.emitConst(value.BoolValue(false))
	case types.String:
		c.emitConst(value.StringValue(""))
	default:
		c.prog.EmitU16(opcode.Null, int(t))
	}
}

func (c *compiler) emitConst(v value.Value) {
	c.prog.EmitU16(opcode.Const, c.prog.AddConstant(v))
}

func (c *compiler) compileEvent(idx int, d *ast.EventDeclaration) {
	binding := program.BindInactive
	switch {
	case d.Inactive:
	case d.Init:
		binding = program.BindInit
	case d.TriggerName != nil:
		if t, ok := c.triggers[d.TriggerName.Value]; ok {
			binding = t
		} else if c.callbackFor(d.TriggerName) != nil {
			binding = c.inlineTrigger(d, &ast.TriggerSpec{
				Token: d.TriggerName.Token,
				Kind:  ast.TriggerGeneric,
				First: d.TriggerName,
			})
		} else {
			c.errorf(KindUnresolved, d.TriggerName, "undefined trigger %s", d.TriggerName.Value)
		}
	case d.Spec != nil:
		binding = c.inlineTrigger(d, d.Spec)
	}

	c.scope = newScope(scopeEvent, d.Name.Value, types.Void)
	c.declareLocals(d.Locals)

	entry := c.prog.Offset()
	c.prog.MarkLine(d.Token.Line)
	c.compileBlock(d.Body)
	c.prog.Emit(opcode.Exit)

	ev := &c.prog.Events[idx]
	ev.Trigger = binding
	ev.Entry = entry
	ev.Locals = c.scope.slots
	c.scope = nil
}

// inlineTrigger compiles the trigger spec written in an event header.
func (c *compiler) inlineTrigger(d *ast.EventDeclaration, spec *ast.TriggerSpec) int {
	idx := len(c.prog.Triggers)
	c.prog.Triggers = append(c.prog.Triggers, program.Trigger{
		Name: d.Name.Value + "@trigger",
		Line: d.Token.Line,
	})
	c.compileTrigger(idx, spec)
	return idx
}

func (c *compiler) compileFunction(idx int, d *ast.FunctionDeclaration) {
	fn := c.prog.Functions[idx]
	c.scope = newScope(scopeFunction, fn.Name, fn.Return)

	for i, p := range d.Parameters {
		if _, dup := c.scope.locals[p.Name.Value]; dup {
			c.errorf(KindSemantic, p.Name, "duplicate parameter %s", p.Name.Value)
			continue
		}
		slot := c.scope.add(p.Name.Value, c.fnParams[idx][i])
		c.scope.assigned[slot] = true
	}
	c.declareLocals(d.Locals)

	entry := c.prog.Offset()
	c.prog.MarkLine(d.Token.Line)
	c.compileBlock(d.Body)

	if fn.Return == types.Void {
		c.prog.Emit(opcode.ReturnVoid)
	} else if !terminates(d.Body) {
		c.errorf(KindSemantic, d.Name, "missing return at end of function %s", fn.Name)
	}

	f := &c.prog.Functions[idx]
	f.Entry = entry
	f.Locals = c.scope.slots
	c.scope = nil
}

func (c *compiler) declareLocals(decls []*ast.VarDeclaration) {
	for _, d := range decls {
		t, _ := c.resolveType(d.Type, false)
		for i, n := range d.Names {
			if i < len(d.Dims) && d.Dims[i] != nil {
				c.errorf(KindSemantic, n, "local %s cannot be an array; arrays must be global", n.Value)
				continue
			}
			if _, dup := c.scope.locals[n.Value]; dup {
				c.errorf(KindSemantic, n, "%s redeclared in this block", n.Value)
				continue
			}
			slot := c.scope.add(n.Value, t)
			if t == badType || c.types.Kind(t) != types.Object {
				c.scope.assigned[slot] = true
			}
		}
	}
}

// terminates reports whether every path through b ends in return or exit.
func terminates(b *ast.BlockStatement) bool {
	if len(b.Statements) == 0 {
		return false
	}
	switch s := b.Statements[len(b.Statements)-1].(type) {
	case *ast.ReturnStatement, *ast.ExitStatement:
		return true
	case *ast.BlockStatement:
		return terminates(s)
	case *ast.IfStatement:
		if s.Alternative == nil || !terminates(s.Consequence) {
			return false
		}
		switch alt := s.Alternative.(type) {
		case *ast.BlockStatement:
			return terminates(alt)
		case *ast.IfStatement:
			return terminates(&ast.BlockStatement{Statements: []ast.Statement{alt}})
		}
	}
	return false
}

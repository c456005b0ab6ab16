package compiler

import (
	"github.com/zurustar/missionscript/pkg/compiler/ast"
	"github.com/zurustar/missionscript/pkg/opcode"
	"github.com/zurustar/missionscript/pkg/program"
	"github.com/zurustar/missionscript/pkg/symbols"
	"github.com/zurustar/missionscript/pkg/types"
	"github.com/zurustar/missionscript/pkg/value"
)

type nameKind int

const (
	nameNone nameKind = iota
	nameLocal
	nameGlobal
	nameArray
	nameExternal
	nameConstant
	nameScriptFunc
	nameNative
	nameTrigger
	nameEvent
	nameCallback
)

func (k nameKind) String() string {
	switch k {
	case nameLocal:
		return "local variable"
	case nameGlobal:
		return "global variable"
	case nameArray:
		return "array"
	case nameExternal:
		return "engine variable"
	case nameConstant:
		return "constant"
	case nameScriptFunc, nameNative:
		return "function"
	case nameTrigger:
		return "trigger"
	case nameEvent:
		return "event"
	case nameCallback:
		return "callback"
	default:
		return "name"
	}
}

// resolved is what an identifier refers to.
type resolved struct {
	kind     nameKind
	name     string
	index    int
	typ      types.ID
	variable *symbols.Variable
	constant *symbols.Constant
}

// resolve looks name up: locals and parameters, script globals and arrays, triggers
// and events, the variable table, the constant table, script functions,
// native functions and finally callbacks. The first match wins.
func (c *compiler) resolve(name string) resolved {
	r := resolved{name: name, typ: badType}
	if c.scope != nil {
		if slot, ok := c.scope.locals[name]; ok {
			r.kind, r.index, r.typ = nameLocal, slot, c.scope.slots[slot].Type
			return r
		}
	}
	if g, ok := c.globals[name]; ok {
		r.kind, r.index, r.typ = nameGlobal, g, c.prog.Globals[g].Type
		return r
	}
	if a, ok := c.arrays[name]; ok {
		r.kind, r.index, r.typ = nameArray, a, c.prog.Arrays[a].Type
		return r
	}
	if t, ok := c.triggers[name]; ok {
		r.kind, r.index = nameTrigger, t
		return r
	}
	if e, ok := c.events[name]; ok {
		r.kind, r.index = nameEvent, e
		return r
	}
	if v, ok := c.reg.Variables.Find(name); ok {
		r.kind, r.typ, r.variable = nameExternal, v.Type, v
		return r
	}
	if k, ok := c.reg.Constants.Find(name); ok {
		r.kind, r.typ, r.constant = nameConstant, k.Value.Type, k
		return r
	}
	if f, ok := c.functions[name]; ok {
		r.kind, r.index, r.typ = nameScriptFunc, f, c.prog.Functions[f].Return
		return r
	}
	if f, ok := c.reg.Functions.Find(name); ok {
		r.kind, r.typ = nameNative, f.Return
		return r
	}
	if _, ok := c.reg.Callbacks.Find(name); ok {
		r.kind = nameCallback
	}
	return r
}

// storageFor resolves the target of an assignment or a ref argument.
func (c *compiler) storageFor(id *ast.Identifier) (resolved, bool) {
	r := c.resolve(id.Value)
	switch r.kind {
	case nameLocal, nameGlobal:
		return r, true
	case nameExternal:
		if r.variable.ReadOnly() {
			c.errorf(KindSemantic, id, "cannot assign to read-only variable %s", id.Value)
			return r, false
		}
		return r, true
	case nameNone:
		c.errorf(KindUnresolved, id, "undefined: %s", id.Value)
	default:
		c.errorf(KindSemantic, id, "cannot assign to %s %s", r.kind, id.Value)
	}
	return r, false
}

func (c *compiler) emitLoad(r resolved) {
	switch r.kind {
	case nameLocal:
		c.prog.EmitU16(opcode.LoadLocal, r.index)
	case nameGlobal:
		c.prog.EmitU16(opcode.LoadGlobal, r.index)
	case nameExternal:
		c.prog.EmitU16(opcode.LoadExternal, c.externalSymbol(r.variable))
	}
}

func (c *compiler) emitStore(r resolved) {
	switch r.kind {
	case nameLocal:
		c.prog.EmitU16(opcode.StoreLocal, r.index)
		c.scope.assigned[r.index] = true
	case nameGlobal:
		c.prog.EmitU16(opcode.StoreGlobal, r.index)
	case nameExternal:
		c.prog.EmitU16(opcode.StoreExternal, c.externalSymbol(r.variable))
	}
}

func (c *compiler) externalSymbol(v *symbols.Variable) int {
	return c.prog.AddSymbol(program.SymbolRef{Kind: program.SymExternal, Name: v.Name})
}

func (c *compiler) memberSymbol(v *symbols.Variable) int {
	return c.prog.AddSymbol(program.SymbolRef{Kind: program.SymMember, Name: v.Name, Owner: v.Owner})
}

var arithOps = map[string]value.ArithOp{
	"+": value.OpAdd,
	"-": value.OpSub,
	"*": value.OpMul,
	"/": value.OpDiv,
	"%": value.OpMod,
}

var infixOpcodes = map[string]opcode.Op{
	"+":   opcode.Add,
	"-":   opcode.Sub,
	"*":   opcode.Mul,
	"/":   opcode.Div,
	"%":   opcode.Mod,
	"==":  opcode.Eq,
	"!=":  opcode.Ne,
	"<":   opcode.Lt,
	"<=":  opcode.Le,
	">":   opcode.Gt,
	">=":  opcode.Ge,
	"and": opcode.And,
	"or":  opcode.Or,
}

// fold evaluates e at compile time when it is built only from literals,
// constants and operators on them.
func (c *compiler) fold(e ast.Expression) (value.Value, bool) {
	switch e := e.(type) {
	case *ast.IntegerLiteral:
		return value.IntValue(e.Value), true
	case *ast.StringLiteral:
		return value.StringValue(e.Value), true
	case *ast.Boolean:
		return value.BoolValue(e.Value), true
	case *ast.Identifier:
		if r := c.resolve(e.Value); r.kind == nameConstant {
			return r.constant.Value, true
		}
	case *ast.PrefixExpression:
		v, ok := c.fold(e.Right)
		if !ok {
			break
		}
		switch {
		case e.Operator == "-" && v.Type == types.Int:
			return value.IntValue(value.Negate(v.Int)), true
		case e.Operator == "not" && v.Type == types.Bool:
			return value.BoolValue(!v.Bool()), true
		}
	case *ast.InfixExpression:
		l, ok := c.fold(e.Left)
		if !ok {
			break
		}
		r, ok := c.fold(e.Right)
		if !ok {
			break
		}
		return foldInfix(e.Operator, l, r)
	}
	return value.Value{}, false
}

func foldInfix(op string, l, r value.Value) (value.Value, bool) {
	bothInt := l.Type == types.Int && r.Type == types.Int
	switch op {
	case "+", "-", "*", "/", "%":
		if !bothInt {
			return value.Value{}, false
		}
		n, err := value.Arith(arithOps[op], l.Int, r.Int)
		if err != nil {
			return value.Value{}, false
		}
		return value.IntValue(n), true
	case "<", "<=", ">", ">=":
		if !bothInt {
			return value.Value{}, false
		}
		return value.BoolValue(compareInts(op, l.Int, r.Int)), true
	case "==", "!=":
		if l.Type != r.Type || (l.Type != types.Int && l.Type != types.Bool && l.Type != types.String) {
			return value.Value{}, false
		}
		return value.BoolValue(l.Equal(r) == (op == "==")), true
	case "and", "or":
		if l.Type != types.Bool || r.Type != types.Bool {
			return value.Value{}, false
		}
		if op == "and" {
			return value.BoolValue(l.Bool() && r.Bool()), true
		}
		return value.BoolValue(l.Bool() || r.Bool()), true
	}
	return value.Value{}, false
}

func compareInts(op string, a, b int64) bool {
	switch op {
	case "<":
		return a < b
	case "<=":
		return a <= b
	case ">":
		return a > b
	default:
		return a >= b
	}
}

// compileExpr emits code that leaves the value of e on the stack and
// returns its type.
func (c *compiler) compileExpr(e ast.Expression) types.ID {
	if v, ok := c.fold(e); ok {
		c.emitConst(v)
		return v.Type
	}

	switch e := e.(type) {
	case *ast.Identifier:
		return c.compileIdentifier(e)
	case *ast.PrefixExpression:
		return c.compilePrefix(e)
	case *ast.InfixExpression:
		return c.compileInfix(e)
	case *ast.MemberExpression:
		return c.compileMember(e)
	case *ast.IndexExpression:
		arr, ok := c.compileIndices(e)
		if !ok {
			return badType
		}
		c.prog.EmitU16(opcode.LoadArray, arr)
		return c.prog.Arrays[arr].Type
	case *ast.CallExpression:
		return c.compileCall(e)
	case *ast.RefExpression:
		c.errorf(KindSemantic, e, "ref is only allowed on call arguments")
	default:
		c.errorf(KindSemantic, e, "unsupported expression %s", e.String())
	}
	return badType
}

func (c *compiler) compileIdentifier(e *ast.Identifier) types.ID {
	r := c.resolve(e.Value)
	switch r.kind {
	case nameLocal:
		if !c.scope.assigned[r.index] {
			c.errorf(KindUninitialized, e, "object local %s is read before it is assigned", e.Value)
			c.scope.assigned[r.index] = true
		}
		c.emitLoad(r)
		return r.typ
	case nameGlobal, nameExternal:
		c.emitLoad(r)
		return r.typ
	case nameNone:
		c.errorf(KindUnresolved, e, "undefined: %s", e.Value)
	case nameScriptFunc, nameNative:
		c.errorf(KindSemantic, e, "function %s used as a value; call it with ()", e.Value)
	case nameArray:
		c.errorf(KindSemantic, e, "array %s used without an index", e.Value)
	default:
		c.errorf(KindSemantic, e, "%s %s cannot be used as a value", r.kind, e.Value)
	}
	return badType
}

// compileIndices resolves the array of e and pushes its indices.
func (c *compiler) compileIndices(e *ast.IndexExpression) (int, bool) {
	r := c.resolve(e.Array.Value)
	switch r.kind {
	case nameArray:
	case nameNone:
		c.errorf(KindUnresolved, e.Array, "undefined: %s", e.Array.Value)
		return 0, false
	default:
		c.errorf(KindType, e.Array, "%s %s is not an array", r.kind, e.Array.Value)
		return 0, false
	}

	arr := c.prog.Arrays[r.index]
	if len(e.Indices) != len(arr.Dims) {
		c.errorf(KindArity, e, "array %s has %d dimensions, indexed with %d", arr.Name, len(arr.Dims), len(e.Indices))
		return 0, false
	}
	ok := true
	for i, idx := range e.Indices {
		if n, isConst := c.constInt(idx); isConst && (n < 0 || n >= int64(arr.Dims[i])) {
			c.errorf(KindSemantic, idx, "index %d out of range for dimension %d of %s (size %d)", n, i+1, arr.Name, arr.Dims[i])
			ok = false
		}
		t := c.compileExpr(idx)
		if t != badType && t != types.Int {
			c.errorf(KindType, idx, "array index must be int, got %s", c.typeName(t))
			ok = false
		}
	}
	return r.index, ok
}

func (c *compiler) compilePrefix(e *ast.PrefixExpression) types.ID {
	t := c.compileExpr(e.Right)
	switch e.Operator {
	case "-":
		if t != badType && t != types.Int {
			c.errorf(KindType, e, "operator - requires an int operand, got %s", c.typeName(t))
		}
		c.prog.Emit(opcode.Neg)
		return types.Int
	default:
		if t != badType && t != types.Bool {
			c.errorf(KindType, e, "operator not requires a bool operand, got %s", c.typeName(t))
		}
		c.prog.Emit(opcode.Not)
		return types.Bool
	}
}

func (c *compiler) compileInfix(e *ast.InfixExpression) types.ID {
	lt := c.compileExpr(e.Left)
	rt := c.compileExpr(e.Right)
	op, ok := infixOpcodes[e.Operator]
	if !ok {
		c.errorf(KindSemantic, e, "unknown operator %s", e.Operator)
		return badType
	}
	c.prog.Emit(op)

	switch e.Operator {
	case "+", "-", "*", "/", "%":
		c.expectOperands(e, lt, rt, types.Int)
		return types.Int
	case "<", "<=", ">", ">=":
		c.expectOperands(e, lt, rt, types.Int)
		return types.Bool
	case "and", "or":
		c.expectOperands(e, lt, rt, types.Bool)
		return types.Bool
	default:
		if lt == badType || rt == badType {
			return types.Bool
		}
		if lt == types.Void || rt == types.Void || !c.comparable(lt, rt) {
			c.errorf(KindType, e, "mismatched types %s and %s in %s", c.typeName(lt), c.typeName(rt), e.String())
		}
		return types.Bool
	}
}

func (c *compiler) expectOperands(e *ast.InfixExpression, lt, rt, want types.ID) {
	if (lt == badType || lt == want) && (rt == badType || rt == want) {
		return
	}
	c.errorf(KindType, e, "operator %s requires %s operands, got %s and %s",
		e.Operator, c.typeName(want), c.typeName(lt), c.typeName(rt))
}

func (c *compiler) comparable(a, b types.ID) bool {
	return a == b || c.types.IsAssignable(a, b) || c.types.IsAssignable(b, a)
}

func (c *compiler) compileMember(e *ast.MemberExpression) types.ID {
	objT := c.compileExpr(e.Object)
	if objT == badType {
		return badType
	}
	v := c.memberFor(objT, e)
	if v == nil {
		return badType
	}
	c.prog.EmitU16(opcode.LoadMember, c.memberSymbol(v))
	return v.Type
}

func (c *compiler) memberForAssign(objT types.ID, e *ast.MemberExpression) *symbols.Variable {
	if objT == badType {
		return nil
	}
	v := c.memberFor(objT, e)
	if v != nil && v.ReadOnly() {
		c.errorf(KindSemantic, e.Member, "cannot assign to read-only member %s", e.String())
		return nil
	}
	return v
}

func (c *compiler) memberFor(objT types.ID, e *ast.MemberExpression) *symbols.Variable {
	if c.types.Kind(objT) != types.Object {
		c.errorf(KindType, e.Member, "%s (type %s) has no members", e.Object.String(), c.typeName(objT))
		return nil
	}
	v, ok := c.reg.FindMember(objT, e.Member.Value)
	if !ok {
		c.errorf(KindUnresolved, e.Member, "type %s has no member %s", c.typeName(objT), e.Member.Value)
		return nil
	}
	return v
}

// checkAssignable reports a type error when a value of type got cannot be
// stored where want is expected.
func (c *compiler) checkAssignable(want, got types.ID, at ast.Node, what string) {
	if want == badType || got == badType {
		return
	}
	if got == types.Void {
		c.errorf(KindType, at, "%s (no value) used as a value in %s", at.String(), what)
		return
	}
	if !c.types.IsAssignable(want, got) {
		c.errorf(KindType, at, "cannot use %s (type %s) as type %s in %s",
			at.String(), c.typeName(got), c.typeName(want), what)
	}
}

func (c *compiler) expectBool(at ast.Node, t types.ID, what string) {
	if t != badType && t != types.Bool {
		c.errorf(KindType, at, "%s must be bool, got %s", what, c.typeName(t))
	}
}

// constInt folds e to an int constant.
func (c *compiler) constInt(e ast.Expression) (int64, bool) {
	v, ok := c.fold(e)
	if !ok || v.Type != types.Int {
		return 0, false
	}
	return v.Int, true
}

package compiler

import (
	"fmt"

	"github.com/zurustar/missionscript/pkg/compiler/ast"
	"github.com/zurustar/missionscript/pkg/opcode"
	"github.com/zurustar/missionscript/pkg/program"
	"github.com/zurustar/missionscript/pkg/symbols"
	"github.com/zurustar/missionscript/pkg/types"
)

const maxNativeArgs = 255

// compileCall emits a call and returns its result type. Script functions
// are found before native ones.
func (c *compiler) compileCall(e *ast.CallExpression) types.ID {
	name := e.Function.Value
	r := c.resolve(name)

	switch r.kind {
	case nameScriptFunc:
		return c.compileScriptCall(e, r.index)
	case nameNative:
		f, _ := c.reg.Functions.Find(name)
		return c.compileNativeCall(e, f)
	case nameNone:
		c.errorf(KindUnresolved, e.Function, "undefined function %s", name)
	default:
		c.errorf(KindType, e.Function, "cannot call non-function %s (%s)", name, r.kind)
	}
	return badType
}

func (c *compiler) checkArity(e *ast.CallExpression, want int) bool {
	have := len(e.Arguments)
	switch {
	case have < want:
		c.errorf(KindArity, e, "not enough arguments in call to %s: have %d, want %d", e.Function.Value, have, want)
	case have > want:
		c.errorf(KindArity, e, "too many arguments in call to %s: have %d, want %d", e.Function.Value, have, want)
	default:
		return true
	}
	return false
}

func (c *compiler) compileScriptCall(e *ast.CallExpression, idx int) types.ID {
	fn := c.prog.Functions[idx]
	params := c.fnParams[idx]
	if !c.checkArity(e, len(params)) {
		return fn.Return
	}

	for i, arg := range e.Arguments {
		if ref, ok := arg.(*ast.RefExpression); ok {
			c.errorf(KindType, ref, "argument %d to %s: script function parameters cannot be passed by reference", i+1, fn.Name)
			continue
		}
		t := c.compileExpr(arg)
		c.checkAssignable(params[i], t, arg, fmt.Sprintf("argument %d to %s", i+1, fn.Name))
	}

	c.prog.EmitU16(opcode.Call, idx)
	return fn.Return
}

// compileNativeCall pushes the arguments, calls the native and stores the
// written-back by-reference arguments. CallNative leaves the result (if any)
// below the by-reference values, so they are stored last to first.
func (c *compiler) compileNativeCall(e *ast.CallExpression, f *symbols.Function) types.ID {
	if !c.checkArity(e, len(f.Params)) {
		return f.Return
	}
	if len(f.Params) > maxNativeArgs {
		c.errorf(KindSemantic, e, "%s takes more than %d arguments", f.Name, maxNativeArgs)
		return f.Return
	}

	var refs []resolved
	for i, arg := range e.Arguments {
		p := f.Params[i]
		what := fmt.Sprintf("argument %d to %s", i+1, f.Name)
		ref, isRef := arg.(*ast.RefExpression)

		switch {
		case p.ByRef && !isRef:
			c.errorf(KindType, arg, "%s must be passed by reference (ref %s)", what, arg.String())
		case !p.ByRef && isRef:
			c.errorf(KindType, arg, "%s is not a reference parameter", what)
		case p.ByRef:
			target := ref.Target.(*ast.Identifier)
			loc, ok := c.storageFor(target)
			if !ok {
				continue
			}
			if loc.typ != badType && !c.types.IsAssignable(loc.typ, p.Type) {
				c.errorf(KindType, target, "cannot pass %s (type %s) by reference as type %s in %s",
					target.Value, c.typeName(loc.typ), c.typeName(p.Type), what)
			}
			// By-reference arguments are outputs, so an unassigned object
			// local may be passed.
			c.emitLoad(loc)
			refs = append(refs, loc)
		default:
			t := c.compileExpr(arg)
			c.checkAssignable(p.Type, t, arg, what)
		}
	}

	sym := c.prog.AddSymbol(program.SymbolRef{Kind: program.SymFunction, Name: f.Name})
	c.prog.Emit(opcode.CallNative, byte(sym>>8), byte(sym), byte(len(f.Params)))
	for i := len(refs) - 1; i >= 0; i-- {
		c.emitStore(refs[i])
	}
	return f.Return
}

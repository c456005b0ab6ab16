package compiler

import (
	"github.com/zurustar/missionscript/pkg/compiler/ast"
	"github.com/zurustar/missionscript/pkg/opcode"
	"github.com/zurustar/missionscript/pkg/program"
	"github.com/zurustar/missionscript/pkg/symbols"
	"github.com/zurustar/missionscript/pkg/types"
	"github.com/zurustar/missionscript/pkg/value"
)

// levelOption is the trigger option that fires on every true test instead
// of on a false to true transition.
const levelOption = "level"

func (c *compiler) compileTrigger(idx int, spec *ast.TriggerSpec) {
	trig := &c.prog.Triggers[idx]
	trig.Line = spec.Token.Line

	switch spec.Kind {
	case ast.TriggerInit:
		trig.Kind = program.TriggerInit

	case ast.TriggerEvery, ast.TriggerWait:
		trig.Kind = program.TriggerEvery
		if spec.Kind == ast.TriggerWait {
			trig.Kind = program.TriggerWait
		}
		n, ok := c.constInt(spec.Args[0])
		if !ok || n <= 0 || n > program.MaxOperand {
			c.errorf(KindSemantic, spec.Args[0], "%s trigger interval must be a positive int constant, got %s",
				trig.Kind, spec.Args[0].String())
			return
		}
		trig.Interval = int(n)

	case ast.TriggerGeneric:
		if cb := c.callbackFor(spec.First); cb != nil {
			c.compileCallbackTrigger(trig, cb, spec)
			return
		}
		c.compileCodeTrigger(trig, spec)
	}
}

// callbackFor reports the callback a trigger spec names, unless a script
// or engine variable of that name shadows it.
func (c *compiler) callbackFor(e ast.Expression) *symbols.Callback {
	id, ok := e.(*ast.Identifier)
	if !ok {
		return nil
	}
	if c.resolve(id.Value).kind != nameCallback {
		return nil
	}
	cb, _ := c.reg.Callbacks.Find(id.Value)
	return cb
}

// compileCallbackTrigger binds a trigger to an engine callback. By-value
// arguments become constant filters; by-reference arguments name the
// globals that receive the engine's arguments.
func (c *compiler) compileCallbackTrigger(trig *program.Trigger, cb *symbols.Callback, spec *ast.TriggerSpec) {
	trig.Kind = program.TriggerCallback
	trig.Callback = cb.Name
	trig.CallbackID = cb.ID

	if len(spec.Args) != len(cb.Params) {
		c.errorf(KindArity, spec.First, "callback %s takes %d arguments, got %d", cb.Name, len(cb.Params), len(spec.Args))
		return
	}

	trig.Filters = make([]value.Value, len(cb.Params))
	trig.RefGlobals = make([]int, len(cb.Params))
	for i, p := range cb.Params {
		arg := spec.Args[i]
		trig.Filters[i] = value.Void
		trig.RefGlobals[i] = -1

		ref, isRef := arg.(*ast.RefExpression)
		switch {
		case p.ByRef && !isRef:
			c.errorf(KindType, arg, "argument %d of %s must be passed by reference (ref %s)", i+1, cb.Name, arg.String())

		case !p.ByRef && isRef:
			c.errorf(KindType, arg, "argument %d of %s is not a reference parameter", i+1, cb.Name)

		case p.ByRef:
			target := ref.Target.(*ast.Identifier)
			g, ok := c.globals[target.Value]
			if !ok {
				c.errorf(KindSemantic, target, "ref argument %d of %s must name a script global, got %s", i+1, cb.Name, target.Value)
				continue
			}
			gt := c.prog.Globals[g].Type
			if gt != badType && !c.types.IsAssignable(gt, p.Type) {
				c.errorf(KindType, target, "cannot receive argument %d of %s (type %s) in %s (type %s)",
					i+1, cb.Name, c.typeName(p.Type), target.Value, c.typeName(gt))
				continue
			}
			trig.RefGlobals[i] = g

		default:
			v, ok := c.fold(arg)
			if !ok {
				c.errorf(KindSemantic, arg, "argument %d of %s must be a constant expression", i+1, cb.Name)
				continue
			}
			if !c.types.IsAssignable(p.Type, v.Type) {
				c.errorf(KindType, arg, "cannot use %s (type %s) as type %s in argument %d of %s",
					arg.String(), c.typeName(v.Type), c.typeName(p.Type), i+1, cb.Name)
				continue
			}
			trig.Filters[i] = v
		}
	}
}

// compileCodeTrigger emits the condition as its own entry point ending in
// Halt, with the result left on the stack.
func (c *compiler) compileCodeTrigger(trig *program.Trigger, spec *ast.TriggerSpec) {
	trig.Kind = program.TriggerCode

	if len(spec.Args) == 0 || len(spec.Args) > 2 {
		c.errorf(KindArity, spec.First, "trigger %s takes a condition, an interval and an optional %s flag", trig.Name, levelOption)
		return
	}
	n, ok := c.constInt(spec.Args[0])
	if !ok || n < 0 || n > program.MaxOperand {
		c.errorf(KindSemantic, spec.Args[0], "trigger interval must be a non-negative int constant, got %s", spec.Args[0].String())
	}
	trig.Interval = int(n)
	if len(spec.Args) == 2 {
		if id, ok := spec.Args[1].(*ast.Identifier); ok && id.Value == levelOption {
			trig.Level = true
		} else {
			c.errorf(KindSemantic, spec.Args[1], "unknown trigger option %s (want %s)", spec.Args[1].String(), levelOption)
		}
	}

	c.scope = newScope(scopeTrigger, trig.Name, types.Bool)
	trig.Cond = c.prog.Offset()
	c.prog.MarkLine(spec.First.Pos().Line)
	c.expectBool(spec.First, c.compileExpr(spec.First), "trigger condition")
	c.prog.Emit(opcode.Halt)
	c.scope = nil
}

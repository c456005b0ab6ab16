package compiler

import (
	"fmt"

	"github.com/zurustar/missionscript/pkg/compiler/ast"
	"github.com/zurustar/missionscript/pkg/opcode"
	"github.com/zurustar/missionscript/pkg/types"
)

func (c *compiler) compileBlock(b *ast.BlockStatement) {
	for _, s := range b.Statements {
		c.compileStatement(s)
	}
}

func (c *compiler) compileStatement(s ast.Statement) {
	c.prog.MarkLine(s.Pos().Line)

	switch s := s.(type) {
	case *ast.AssignStatement:
		c.compileAssign(s)

	case *ast.ExpressionStatement:
		t := c.compileExpr(s.Expression)
		if t != types.Void && t != badType {
			c.prog.Emit(opcode.Pop)
		}

	case *ast.BlockStatement:
		c.compileBlock(s)

	case *ast.IfStatement:
		c.compileIf(s)

	case *ast.WhileStatement:
		start := c.prog.Offset()
		c.expectBool(s.Condition, c.compileExpr(s.Condition), "while condition")
		exit := c.prog.EmitJump(opcode.JumpIfFalse)
		before := c.scope.snapshot()
		c.compileBlock(s.Body)
		c.scope.assigned = before
		c.prog.EmitU16(opcode.Jump, start)
		c.prog.PatchJump(exit)

	case *ast.ReturnStatement:
		c.compileReturn(s)

	case *ast.ExitStatement:
		c.prog.Emit(opcode.Exit)

	case *ast.PauseStatement:
		if c.scope.kind != scopeEvent {
			c.errorf(KindSemantic, s, "pause is only allowed in event bodies")
			return
		}
		t := c.compileExpr(s.Ticks)
		if t != badType && t != types.Int {
			c.errorf(KindType, s.Ticks, "pause takes an int tick count, got %s", c.typeName(t))
		}
		c.prog.Emit(opcode.Pause)

	case *ast.SetTriggerStatement:
		c.compileSetTrigger(s)

	default:
		c.errorf(KindSemantic, s, "unsupported statement %s", s.String())
	}
}

func (c *compiler) compileIf(s *ast.IfStatement) {
	c.expectBool(s.Condition, c.compileExpr(s.Condition), "if condition")
	skipThen := c.prog.EmitJump(opcode.JumpIfFalse)

	before := c.scope.snapshot()
	c.compileBlock(s.Consequence)

	if s.Alternative == nil {
		c.prog.PatchJump(skipThen)
		c.scope.assigned = before
		return
	}

	afterThen := c.scope.assigned
	skipElse := c.prog.EmitJump(opcode.Jump)
	c.prog.PatchJump(skipThen)
	c.scope.assigned = before
	c.compileStatement(s.Alternative)
	c.scope.assigned = intersect(afterThen, c.scope.assigned)
	c.prog.PatchJump(skipElse)
}

func (c *compiler) compileAssign(s *ast.AssignStatement) {
	switch target := s.Target.(type) {
	case *ast.Identifier:
		loc, ok := c.storageFor(target)
		t := c.compileExpr(s.Value)
		if !ok {
			return
		}
		c.checkAssignable(loc.typ, t, s.Value, fmt.Sprintf("assignment to %s", target.Value))
		c.emitStore(loc)

	case *ast.IndexExpression:
		arr, ok := c.compileIndices(target)
		t := c.compileExpr(s.Value)
		if !ok {
			return
		}
		c.checkAssignable(c.prog.Arrays[arr].Type, t, s.Value, fmt.Sprintf("assignment to %s", target.String()))
		c.prog.EmitU16(opcode.StoreArray, arr)

	case *ast.MemberExpression:
		objT := c.compileExpr(target.Object)
		v := c.memberForAssign(objT, target)
		t := c.compileExpr(s.Value)
		if v == nil {
			return
		}
		c.checkAssignable(v.Type, t, s.Value, fmt.Sprintf("assignment to %s", target.String()))
		c.prog.EmitU16(opcode.StoreMember, c.memberSymbol(v))

	default:
		c.errorf(KindSemantic, s, "cannot assign to %s", s.Target.String())
	}
}

func (c *compiler) compileReturn(s *ast.ReturnStatement) {
	switch c.scope.kind {
	case scopeEvent:
		if s.Value != nil {
			c.errorf(KindSemantic, s.Value, "event %s cannot return a value", c.scope.name)
			return
		}
		c.prog.Emit(opcode.Exit)

	case scopeFunction:
		if c.scope.ret == types.Void {
			if s.Value != nil {
				c.errorf(KindSemantic, s.Value, "too many return values: function %s returns nothing", c.scope.name)
				return
			}
			c.prog.Emit(opcode.ReturnVoid)
			return
		}
		if s.Value == nil {
			c.errorf(KindSemantic, s, "missing return value: function %s returns %s", c.scope.name, c.typeName(c.scope.ret))
			return
		}
		t := c.compileExpr(s.Value)
		c.checkAssignable(c.scope.ret, t, s.Value, "return statement")
		c.prog.Emit(opcode.Return)

	default:
		c.errorf(KindSemantic, s, "return outside a function or event")
	}
}

func (c *compiler) compileSetTrigger(s *ast.SetTriggerStatement) {
	ev, ok := c.events[s.Event.Value]
	if !ok {
		c.errorf(KindUnresolved, s.Event, "undefined event %s", s.Event.Value)
		return
	}

	trig := int(opcode.TriggerInactive)
	switch {
	case s.Inactive:
	case s.Init:
		trig = int(opcode.TriggerInit)
	default:
		t, ok := c.triggers[s.Trigger.Value]
		if !ok {
			c.errorf(KindUnresolved, s.Trigger, "undefined trigger %s", s.Trigger.Value)
			return
		}
		trig = t
	}

	c.prog.Emit(opcode.SetTrigger, byte(ev>>8), byte(ev), byte(trig>>8), byte(trig))
}

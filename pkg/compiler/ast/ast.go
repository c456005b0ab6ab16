package ast

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/zurustar/missionscript/pkg/compiler/token"
)

type Node interface {
	TokenLiteral() string
	String() string
	Pos() token.Token
}

type Statement interface {
	Node
	statementNode()
}

type Expression interface {
	Node
	expressionNode()
}

// Program is the root node
type Program struct {
	Declarations []Statement
}

func (p *Program) TokenLiteral() string {
	if len(p.Declarations) > 0 {
		return p.Declarations[0].TokenLiteral()
	}
	return ""
}

func (p *Program) String() string {
	var out bytes.Buffer
	for _, s := range p.Declarations {
		out.WriteString(s.String())
		out.WriteString("\n")
	}
	return out.String()
}

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

// VarDeclaration declares globals (public/private) or event/function locals.
// Example: public DROID attacker, defender;
type VarDeclaration struct {
	Token token.Token // public, private or local
	Type  *Identifier
	Names []*Identifier
	Dims  [][]int // parallel to Names; nil for a scalar
}

func (vd *VarDeclaration) statementNode()       {}
func (vd *VarDeclaration) TokenLiteral() string { return vd.Token.Literal }
func (vd *VarDeclaration) Pos() token.Token     { return vd.Token }
func (vd *VarDeclaration) String() string {
	names := make([]string, len(vd.Names))
	for i, n := range vd.Names {
		names[i] = n.String()
		if i < len(vd.Dims) {
			for _, d := range vd.Dims[i] {
				names[i] += "[" + strconv.Itoa(d) + "]"
			}
		}
	}
	return vd.Token.Literal + " " + vd.Type.String() + " " + strings.Join(names, ", ") + ";"
}

// TriggerKind is the syntactic form of a trigger specification.
type TriggerKind int

const (
	// TriggerGeneric is `expr, args...`. It is a callback trigger when expr
	// names a callback, a condition trigger otherwise.
	TriggerGeneric TriggerKind = iota
	TriggerEvery
	TriggerWait
	TriggerInit
)

// TriggerSpec is the parenthesised part of a trigger declaration.
type TriggerSpec struct {
	Token token.Token
	Kind  TriggerKind
	First Expression
	Args  []Expression
}

func (ts *TriggerSpec) TokenLiteral() string { return ts.Token.Literal }
func (ts *TriggerSpec) Pos() token.Token     { return ts.Token }
func (ts *TriggerSpec) String() string {
	var parts []string
	switch ts.Kind {
	case TriggerEvery:
		parts = append(parts, "every")
	case TriggerWait:
		parts = append(parts, "wait")
	case TriggerInit:
		parts = append(parts, "init")
	default:
		parts = append(parts, ts.First.String())
	}
	for _, a := range ts.Args {
		parts = append(parts, a.String())
	}
	return strings.Join(parts, ", ")
}

// TriggerDeclaration names a trigger.
// Example: trigger enemyNear (objectInRange(0, 10, 10, 5), 20);
type TriggerDeclaration struct {
	Token token.Token
	Name  *Identifier
	Spec  *TriggerSpec
}

func (td *TriggerDeclaration) statementNode()       {}
func (td *TriggerDeclaration) TokenLiteral() string { return td.Token.Literal }
func (td *TriggerDeclaration) Pos() token.Token     { return td.Token }
func (td *TriggerDeclaration) String() string {
	return "trigger " + td.Name.String() + " (" + td.Spec.String() + ");"
}

// EventDeclaration is a handler body bound to a trigger. Exactly one of
// TriggerName, Spec, Inactive and Init is set; a bare name is resolved later
// as a declared trigger or an argument-less callback.
type EventDeclaration struct {
	Token       token.Token
	Name        *Identifier
	TriggerName *Identifier
	Spec        *TriggerSpec
	Inactive    bool
	Init        bool
	Locals      []*VarDeclaration
	Body        *BlockStatement
}

func (ed *EventDeclaration) statementNode()       {}
func (ed *EventDeclaration) TokenLiteral() string { return ed.Token.Literal }
func (ed *EventDeclaration) Pos() token.Token     { return ed.Token }
func (ed *EventDeclaration) String() string {
	var trig string
	switch {
	case ed.Inactive:
		trig = "inactive"
	case ed.Init:
		trig = "init"
	case ed.TriggerName != nil:
		trig = ed.TriggerName.String()
	case ed.Spec != nil:
		trig = ed.Spec.String()
	}
	return "event " + ed.Name.String() + " (" + trig + ") " + bodyString(ed.Locals, ed.Body)
}

// Parameter is a typed script function parameter.
type Parameter struct {
	Type *Identifier
	Name *Identifier
}

// FunctionDeclaration is a script function.
// Example: function int twice(int n) { return n * 2; }
type FunctionDeclaration struct {
	Token      token.Token
	ReturnType *Identifier
	Name       *Identifier
	Parameters []*Parameter
	Locals     []*VarDeclaration
	Body       *BlockStatement
}

func (fd *FunctionDeclaration) statementNode()       {}
func (fd *FunctionDeclaration) TokenLiteral() string { return fd.Token.Literal }
func (fd *FunctionDeclaration) Pos() token.Token     { return fd.Token }
func (fd *FunctionDeclaration) String() string {
	params := make([]string, len(fd.Parameters))
	for i, p := range fd.Parameters {
		params[i] = p.Type.String() + " " + p.Name.String()
	}
	return "function " + fd.ReturnType.String() + " " + fd.Name.String() +
		"(" + strings.Join(params, ", ") + ") " + bodyString(fd.Locals, fd.Body)
}

func bodyString(locals []*VarDeclaration, body *BlockStatement) string {
	var out bytes.Buffer
	out.WriteString("{ ")
	for _, l := range locals {
		out.WriteString(l.String())
		out.WriteString(" ")
	}
	if body != nil {
		for _, s := range body.Statements {
			out.WriteString(s.String())
			out.WriteString(" ")
		}
	}
	out.WriteString("}")
	return out.String()
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

type BlockStatement struct {
	Token      token.Token // {
	Statements []Statement
}

func (bs *BlockStatement) statementNode()       {}
func (bs *BlockStatement) TokenLiteral() string { return bs.Token.Literal }
func (bs *BlockStatement) Pos() token.Token     { return bs.Token }
func (bs *BlockStatement) String() string {
	var out bytes.Buffer
	out.WriteString("{ ")
	for _, s := range bs.Statements {
		out.WriteString(s.String())
		out.WriteString(" ")
	}
	out.WriteString("}")
	return out.String()
}

// AssignStatement stores into a variable or member.
type AssignStatement struct {
	Token  token.Token // =
	Target Expression  // *Identifier, *IndexExpression or *MemberExpression
	Value  Expression
}

func (as *AssignStatement) statementNode()       {}
func (as *AssignStatement) TokenLiteral() string { return as.Token.Literal }
func (as *AssignStatement) Pos() token.Token     { return as.Token }
func (as *AssignStatement) String() string {
	return as.Target.String() + " = " + as.Value.String() + ";"
}

type ExpressionStatement struct {
	Token      token.Token // The first token of the expression
	Expression Expression
}

func (es *ExpressionStatement) statementNode()       {}
func (es *ExpressionStatement) TokenLiteral() string { return es.Token.Literal }
func (es *ExpressionStatement) Pos() token.Token     { return es.Token }
func (es *ExpressionStatement) String() string {
	if es.Expression != nil {
		return es.Expression.String() + ";"
	}
	return ""
}

type IfStatement struct {
	Token       token.Token
	Condition   Expression
	Consequence *BlockStatement
	Alternative Statement // *BlockStatement or *IfStatement
}

func (is *IfStatement) statementNode()       {}
func (is *IfStatement) TokenLiteral() string { return is.Token.Literal }
func (is *IfStatement) Pos() token.Token     { return is.Token }
func (is *IfStatement) String() string {
	s := "if (" + is.Condition.String() + ") " + is.Consequence.String()
	if is.Alternative != nil {
		s += " else " + is.Alternative.String()
	}
	return s
}

type WhileStatement struct {
	Token     token.Token
	Condition Expression
	Body      *BlockStatement
}

func (ws *WhileStatement) statementNode()       {}
func (ws *WhileStatement) TokenLiteral() string { return ws.Token.Literal }
func (ws *WhileStatement) Pos() token.Token     { return ws.Token }
func (ws *WhileStatement) String() string {
	return "while (" + ws.Condition.String() + ") " + ws.Body.String()
}

type ReturnStatement struct {
	Token token.Token
	Value Expression // nil for a bare return
}

func (rs *ReturnStatement) statementNode()       {}
func (rs *ReturnStatement) TokenLiteral() string { return rs.Token.Literal }
func (rs *ReturnStatement) Pos() token.Token     { return rs.Token }
func (rs *ReturnStatement) String() string {
	if rs.Value == nil {
		return "return;"
	}
	return "return " + rs.Value.String() + ";"
}

// ExitStatement ends the running event.
type ExitStatement struct {
	Token token.Token
}

func (es *ExitStatement) statementNode()       {}
func (es *ExitStatement) TokenLiteral() string { return es.Token.Literal }
func (es *ExitStatement) Pos() token.Token     { return es.Token }
func (es *ExitStatement) String() string       { return "exit;" }

// PauseStatement defers the rest of an event by Ticks ticks.
type PauseStatement struct {
	Token token.Token
	Ticks Expression
}

func (ps *PauseStatement) statementNode()       {}
func (ps *PauseStatement) TokenLiteral() string { return ps.Token.Literal }
func (ps *PauseStatement) Pos() token.Token     { return ps.Token }
func (ps *PauseStatement) String() string       { return "pause(" + ps.Ticks.String() + ");" }

// SetTriggerStatement rebinds an event. Trigger is nil when Inactive or Init is set.
type SetTriggerStatement struct {
	Token    token.Token
	Event    *Identifier
	Trigger  *Identifier
	Inactive bool
	Init     bool
}

func (ss *SetTriggerStatement) statementNode()       {}
func (ss *SetTriggerStatement) TokenLiteral() string { return ss.Token.Literal }
func (ss *SetTriggerStatement) Pos() token.Token     { return ss.Token }
func (ss *SetTriggerStatement) String() string {
	trig := "inactive"
	if ss.Init {
		trig = "init"
	}
	if ss.Trigger != nil {
		trig = ss.Trigger.String()
	}
	return "setEventTrigger(" + ss.Event.String() + ", " + trig + ");"
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

type Identifier struct {
	Token token.Token // token.IDENT
	Value string
}

func (i *Identifier) expressionNode()      {}
func (i *Identifier) TokenLiteral() string { return i.Token.Literal }
func (i *Identifier) Pos() token.Token     { return i.Token }
func (i *Identifier) String() string       { return i.Value }

type IntegerLiteral struct {
	Token token.Token
	Value int64
}

func (il *IntegerLiteral) expressionNode()      {}
func (il *IntegerLiteral) TokenLiteral() string { return il.Token.Literal }
func (il *IntegerLiteral) Pos() token.Token     { return il.Token }
func (il *IntegerLiteral) String() string       { return il.Token.Literal }

type StringLiteral struct {
	Token token.Token
	Value string
}

func (sl *StringLiteral) expressionNode()      {}
func (sl *StringLiteral) TokenLiteral() string { return sl.Token.Literal }
func (sl *StringLiteral) Pos() token.Token     { return sl.Token }
func (sl *StringLiteral) String() string       { return "\"" + sl.Value + "\"" }

type Boolean struct {
	Token token.Token
	Value bool
}

func (b *Boolean) expressionNode()      {}
func (b *Boolean) TokenLiteral() string { return b.Token.Literal }
func (b *Boolean) Pos() token.Token     { return b.Token }
func (b *Boolean) String() string {
	if b.Value {
		return "true"
	}
	return "false"
}

// PrefixExpression is `-x` or `not x`.
type PrefixExpression struct {
	Token    token.Token
	Operator string
	Right    Expression
}

func (pe *PrefixExpression) expressionNode()      {}
func (pe *PrefixExpression) TokenLiteral() string { return pe.Token.Literal }
func (pe *PrefixExpression) Pos() token.Token     { return pe.Token }
func (pe *PrefixExpression) String() string {
	return "(" + pe.Operator + " " + pe.Right.String() + ")"
}

// InfixExpression is a binary operation. Operator is normalised: "and", "or", "==", "+" ...
type InfixExpression struct {
	Token    token.Token
	Left     Expression
	Operator string
	Right    Expression
}

func (ie *InfixExpression) expressionNode()      {}
func (ie *InfixExpression) TokenLiteral() string { return ie.Token.Literal }
func (ie *InfixExpression) Pos() token.Token     { return ie.Token }
func (ie *InfixExpression) String() string {
	return "(" + ie.Left.String() + " " + ie.Operator + " " + ie.Right.String() + ")"
}

type CallExpression struct {
	Token     token.Token // The '(' token
	Function  *Identifier
	Arguments []Expression
}

func (ce *CallExpression) expressionNode()      {}
func (ce *CallExpression) TokenLiteral() string { return ce.Token.Literal }
func (ce *CallExpression) Pos() token.Token     { return ce.Function.Token }
func (ce *CallExpression) String() string {
	args := make([]string, len(ce.Arguments))
	for i, a := range ce.Arguments {
		args[i] = a.String()
	}
	return ce.Function.String() + "(" + strings.Join(args, ", ") + ")"
}

// RefExpression marks a call argument passed by reference: `ref x`.
type RefExpression struct {
	Token  token.Token
	Target Expression
}

func (re *RefExpression) expressionNode()      {}
func (re *RefExpression) TokenLiteral() string { return re.Token.Literal }
func (re *RefExpression) Pos() token.Token     { return re.Token }
func (re *RefExpression) String() string       { return "ref " + re.Target.String() }

// MemberExpression reads a member of an object: `droid.health`.
type MemberExpression struct {
	Token  token.Token // .
	Object Expression
	Member *Identifier
}

func (me *MemberExpression) expressionNode()      {}
func (me *MemberExpression) TokenLiteral() string { return me.Token.Literal }
func (me *MemberExpression) Pos() token.Token     { return me.Object.Pos() }
func (me *MemberExpression) String() string {
	return me.Object.String() + "." + me.Member.String()
}

// IndexExpression reads an element of a global array: `grid[x][y]`.
type IndexExpression struct {
	Token   token.Token // [
	Array   *Identifier
	Indices []Expression
}

func (ie *IndexExpression) expressionNode()      {}
func (ie *IndexExpression) TokenLiteral() string { return ie.Token.Literal }
func (ie *IndexExpression) Pos() token.Token     { return ie.Array.Token }
func (ie *IndexExpression) String() string {
	var out bytes.Buffer
	out.WriteString(ie.Array.String())
	for _, idx := range ie.Indices {
		out.WriteString("[" + idx.String() + "]")
	}
	return out.String()
}

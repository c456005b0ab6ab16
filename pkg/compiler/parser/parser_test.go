package parser

import (
	"strings"
	"testing"

	"github.com/zurustar/missionscript/pkg/compiler/ast"
	"github.com/zurustar/missionscript/pkg/compiler/lexer"
)

func parse(t *testing.T, input string) *ast.Program {
	t.Helper()
	p := New(lexer.New(input))
	program := p.ParseProgram()
	checkParserErrors(t, p)
	return program
}

func checkParserErrors(t *testing.T, p *Parser) {
	t.Helper()
	errors := p.Errors()
	if len(errors) == 0 {
		return
	}

	t.Errorf("parser has %d errors", len(errors))
	for _, err := range errors {
		t.Errorf("parser error: %s", err)
	}
	t.FailNow()
}

func TestVarDeclarations(t *testing.T) {
	program := parse(t, `public int count, total; private DROID d;`)

	if len(program.Declarations) != 2 {
		t.Fatalf("program.Declarations does not contain 2 declarations. got=%d", len(program.Declarations))
	}

	vd, ok := program.Declarations[0].(*ast.VarDeclaration)
	if !ok {
		t.Fatalf("program.Declarations[0] is not ast.VarDeclaration. got=%T", program.Declarations[0])
	}
	if vd.Token.Literal != "public" || vd.Type.Value != "int" {
		t.Errorf("unexpected declaration %s", vd.String())
	}
	if len(vd.Names) != 2 || vd.Names[0].Value != "count" || vd.Names[1].Value != "total" {
		t.Errorf("unexpected names in %s", vd.String())
	}

	vd = program.Declarations[1].(*ast.VarDeclaration)
	if vd.Token.Literal != "private" || vd.Type.Value != "DROID" {
		t.Errorf("unexpected declaration %s", vd.String())
	}
}

func TestArrayDeclarations(t *testing.T) {
	program := parse(t, `public int count, grid[3][4], row[0x10]; event e(init) { grid[1][2] = row[count]; }`)

	vd := program.Declarations[0].(*ast.VarDeclaration)
	if len(vd.Dims) != 3 {
		t.Fatalf("Dims = %v, want one entry per name", vd.Dims)
	}
	if vd.Dims[0] != nil {
		t.Errorf("scalar count has dims %v", vd.Dims[0])
	}
	if len(vd.Dims[1]) != 2 || vd.Dims[1][0] != 3 || vd.Dims[1][1] != 4 {
		t.Errorf("grid dims = %v, want [3 4]", vd.Dims[1])
	}
	if len(vd.Dims[2]) != 1 || vd.Dims[2][0] != 16 {
		t.Errorf("row dims = %v, want [16]", vd.Dims[2])
	}
	if got := vd.String(); got != "public int count, grid[3][4], row[16];" {
		t.Errorf("String() = %q", got)
	}

	ev := program.Declarations[1].(*ast.EventDeclaration)
	assign := ev.Body.Statements[0].(*ast.AssignStatement)
	target, ok := assign.Target.(*ast.IndexExpression)
	if !ok {
		t.Fatalf("target = %T, want *ast.IndexExpression", assign.Target)
	}
	if target.Array.Value != "grid" || len(target.Indices) != 2 {
		t.Errorf("target = %s", target.String())
	}
	if got := assign.Value.String(); got != "row[count]" {
		t.Errorf("value = %q", got)
	}
}

func TestTriggerDeclarations(t *testing.T) {
	program := parse(t, `
trigger big(count > 10, 5);
trigger steady(count > 10, 5, level);
trigger tick(every, 20);
trigger once(wait, 3);
trigger boot(init);
trigger lost(CALL_OBJECT_DESTROYED, 0, ref victim);
`)

	tests := []struct {
		name  string
		kind  ast.TriggerKind
		nargs int
	}{
		{"big", ast.TriggerGeneric, 1},
		{"steady", ast.TriggerGeneric, 2},
		{"tick", ast.TriggerEvery, 1},
		{"once", ast.TriggerWait, 1},
		{"boot", ast.TriggerInit, 0},
		{"lost", ast.TriggerGeneric, 2},
	}

	if len(program.Declarations) != len(tests) {
		t.Fatalf("got %d declarations, want %d", len(program.Declarations), len(tests))
	}
	for i, tt := range tests {
		td, ok := program.Declarations[i].(*ast.TriggerDeclaration)
		if !ok {
			t.Fatalf("declaration %d is %T", i, program.Declarations[i])
		}
		if td.Name.Value != tt.name {
			t.Errorf("declaration %d name = %q, want %q", i, td.Name.Value, tt.name)
		}
		if td.Spec.Kind != tt.kind {
			t.Errorf("%s kind = %d, want %d", tt.name, td.Spec.Kind, tt.kind)
		}
		if len(td.Spec.Args) != tt.nargs {
			t.Errorf("%s has %d args, want %d", tt.name, len(td.Spec.Args), tt.nargs)
		}
	}

	lost := program.Declarations[5].(*ast.TriggerDeclaration)
	if _, ok := lost.Spec.First.(*ast.Identifier); !ok {
		t.Errorf("callback trigger first = %T, want *ast.Identifier", lost.Spec.First)
	}
	ref, ok := lost.Spec.Args[1].(*ast.RefExpression)
	if !ok {
		t.Fatalf("callback trigger second arg = %T, want *ast.RefExpression", lost.Spec.Args[1])
	}
	if ref.Target.String() != "victim" {
		t.Errorf("ref target = %s", ref.Target.String())
	}
}

func TestEventTriggerForms(t *testing.T) {
	program := parse(t, `
event a(big) { }
event b(inactive) { }
event c(init) { }
event d(every, 10) { }
event e(count == 3, 1) { }
`)

	if len(program.Declarations) != 5 {
		t.Fatalf("got %d declarations", len(program.Declarations))
	}
	events := make([]*ast.EventDeclaration, 5)
	for i, d := range program.Declarations {
		ev, ok := d.(*ast.EventDeclaration)
		if !ok {
			t.Fatalf("declaration %d is %T", i, d)
		}
		events[i] = ev
	}

	if events[0].TriggerName == nil || events[0].TriggerName.Value != "big" {
		t.Errorf("event a should name trigger big, got %s", events[0].String())
	}
	if !events[1].Inactive {
		t.Errorf("event b should be inactive")
	}
	if !events[2].Init {
		t.Errorf("event c should be init")
	}
	if events[3].Spec == nil || events[3].Spec.Kind != ast.TriggerEvery {
		t.Errorf("event d should carry an every spec")
	}
	if events[4].Spec == nil || events[4].Spec.Kind != ast.TriggerGeneric {
		t.Errorf("event e should carry an inline spec")
	}
}

func TestEventBody(t *testing.T) {
	program := parse(t, `
event main(init)
{
	local int i;
	local DROID d;
	i = 0;
	while (i < 3) {
		i = i + 1;
	}
	if (i == 3) {
		d = buildDroid(0, 10, 20);
	} else if (i > 3) {
		exit;
	} else {
		pause(5);
	}
	d.health = 50;
	setEventTrigger(main, inactive);
	debug("done");
}
`)

	ev := program.Declarations[0].(*ast.EventDeclaration)
	if len(ev.Locals) != 2 {
		t.Fatalf("got %d local declarations, want 2", len(ev.Locals))
	}
	if len(ev.Body.Statements) != 6 {
		t.Fatalf("got %d statements, want 6", len(ev.Body.Statements))
	}

	if _, ok := ev.Body.Statements[1].(*ast.WhileStatement); !ok {
		t.Errorf("statement 1 is %T, want *ast.WhileStatement", ev.Body.Statements[1])
	}

	ifs, ok := ev.Body.Statements[2].(*ast.IfStatement)
	if !ok {
		t.Fatalf("statement 2 is %T, want *ast.IfStatement", ev.Body.Statements[2])
	}
	elseIf, ok := ifs.Alternative.(*ast.IfStatement)
	if !ok {
		t.Fatalf("alternative is %T, want *ast.IfStatement", ifs.Alternative)
	}
	if _, ok := elseIf.Alternative.(*ast.BlockStatement); !ok {
		t.Errorf("final alternative is %T, want *ast.BlockStatement", elseIf.Alternative)
	}

	assign, ok := ev.Body.Statements[3].(*ast.AssignStatement)
	if !ok {
		t.Fatalf("statement 3 is %T, want *ast.AssignStatement", ev.Body.Statements[3])
	}
	if _, ok := assign.Target.(*ast.MemberExpression); !ok {
		t.Errorf("assignment target is %T, want *ast.MemberExpression", assign.Target)
	}

	st, ok := ev.Body.Statements[4].(*ast.SetTriggerStatement)
	if !ok || !st.Inactive || st.Event.Value != "main" {
		t.Errorf("statement 4 = %#v", ev.Body.Statements[4])
	}

	if _, ok := ev.Body.Statements[5].(*ast.ExpressionStatement); !ok {
		t.Errorf("statement 5 is %T, want *ast.ExpressionStatement", ev.Body.Statements[5])
	}
}

func TestFunctionDeclaration(t *testing.T) {
	program := parse(t, `
function int twice(int n) { return n * 2; }
function void nothing() { return; }
`)

	fd, ok := program.Declarations[0].(*ast.FunctionDeclaration)
	if !ok {
		t.Fatalf("declaration 0 is %T", program.Declarations[0])
	}
	if fd.ReturnType.Value != "int" || fd.Name.Value != "twice" || len(fd.Parameters) != 1 {
		t.Errorf("unexpected function %s", fd.String())
	}
	if fd.Parameters[0].Type.Value != "int" || fd.Parameters[0].Name.Value != "n" {
		t.Errorf("unexpected parameter %s %s", fd.Parameters[0].Type.Value, fd.Parameters[0].Name.Value)
	}
	ret := fd.Body.Statements[0].(*ast.ReturnStatement)
	if ret.Value == nil || ret.Value.String() != "(n * 2)" {
		t.Errorf("return value = %v", ret.Value)
	}

	fd = program.Declarations[1].(*ast.FunctionDeclaration)
	if len(fd.Parameters) != 0 {
		t.Errorf("nothing() has %d parameters", len(fd.Parameters))
	}
	if ret := fd.Body.Statements[0].(*ast.ReturnStatement); ret.Value != nil {
		t.Errorf("bare return has value %s", ret.Value.String())
	}
}

func TestOperatorPrecedenceParsing(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"x = -a * b;", "((- a) * b)"},
		{"x = not a and b;", "((not a) and b)"},
		{"x = !a && b || c;", "(((not a) and b) or c)"},
		{"x = a + b * c;", "(a + (b * c))"},
		{"x = a + b % c - d;", "((a + (b % c)) - d)"},
		{"x = a < b == c > d;", "((a < b) == (c > d))"},
		{"x = a or b and c;", "(a or (b and c))"},
		{"x = (a + b) * c;", "((a + b) * c)"},
		{"x = d.health - 1;", "(d.health - 1)"},
		{"x = add(a, b * 2) + 1;", "(add(a, (b * 2)) + 1)"},
		{"x = obj.x + obj.y;", "(obj.x + obj.y)"},
		{"x = grid[i + 1][2] * 3;", "(grid[(i + 1)][2] * 3)"},
		{"x = -row[0];", "(- row[0])"},
	}

	for _, tt := range tests {
		program := parse(t, "event e(init) { "+tt.input+" }")
		ev := program.Declarations[0].(*ast.EventDeclaration)
		assign := ev.Body.Statements[0].(*ast.AssignStatement)
		if got := assign.Value.String(); got != tt.expected {
			t.Errorf("%s: expected=%q, got=%q", tt.input, tt.expected, got)
		}
	}
}

func TestLiterals(t *testing.T) {
	program := parse(t, `event e(init) { x = f(0x1F, "hi", TRUE, false, ref y); }`)
	ev := program.Declarations[0].(*ast.EventDeclaration)
	call := ev.Body.Statements[0].(*ast.AssignStatement).Value.(*ast.CallExpression)

	if len(call.Arguments) != 5 {
		t.Fatalf("got %d arguments", len(call.Arguments))
	}
	if lit, ok := call.Arguments[0].(*ast.IntegerLiteral); !ok || lit.Value != 31 {
		t.Errorf("arg 0 = %#v", call.Arguments[0])
	}
	if lit, ok := call.Arguments[1].(*ast.StringLiteral); !ok || lit.Value != "hi" {
		t.Errorf("arg 1 = %#v", call.Arguments[1])
	}
	if b, ok := call.Arguments[2].(*ast.Boolean); !ok || !b.Value {
		t.Errorf("arg 2 = %#v", call.Arguments[2])
	}
	if b, ok := call.Arguments[3].(*ast.Boolean); !ok || b.Value {
		t.Errorf("arg 3 = %#v", call.Arguments[3])
	}
	if _, ok := call.Arguments[4].(*ast.RefExpression); !ok {
		t.Errorf("arg 4 = %T", call.Arguments[4])
	}
}

func TestParserErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		kind    string
		line    int
		message string
	}{
		{"missing semicolon", "public int x\npublic int y;", KindSyntax, 2, `expected ";"`},
		{"stray token", "42;", KindSyntax, 1, "expected a declaration"},
		{"illegal char", "public int x @;", KindLexical, 1, "unexpected character '@'"},
		{"not a statement", "event e(init) { x + 1; }", KindSyntax, 1, "is not a statement"},
		{"bad assign target", "event e(init) { f() = 1; }", KindSyntax, 1, "cannot assign"},
		{"late local", "event e(init) { x = 1; local int y; }", KindSyntax, 1, "local declarations must come before"},
		{"global local", "local int x;", KindSyntax, 1, "inside an event or function"},
		{"huge number", "event e(init) { x = 99999999999; }", KindLexical, 1, "32-bit integer"},
		{"unclosed body", "event e(init) { x = 1;", KindSyntax, 1, "missing '}'"},
		{"variable dimension", "public int a[n];", KindSyntax, 1, "expected a number"},
		{"unclosed index", "event e(init) { x = a[1; }", KindSyntax, 1, `expected "]"`},
		{"index a call", "event e(init) { x = f()[1]; }", KindSyntax, 1, "cannot be indexed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(lexer.New(tt.input))
			p.ParseProgram()
			errs := p.Errors()
			if len(errs) == 0 {
				t.Fatalf("expected an error for %q", tt.input)
			}
			var found bool
			for _, e := range errs {
				if e.Kind == tt.kind && e.Line == tt.line && strings.Contains(e.Message, tt.message) {
					found = true
				}
			}
			if !found {
				t.Errorf("no %s error on line %d containing %q; got %v", tt.kind, tt.line, tt.message, errs)
			}
		})
	}
}

func TestRecoveryReportsSeveralErrors(t *testing.T) {
	input := `public int ;
trigger t(every 5);
event ok(init) { x = 1; }
event bad(init) { y = ; z = 2; }
`
	p := New(lexer.New(input))
	program := p.ParseProgram()

	if len(p.Errors()) < 3 {
		t.Fatalf("expected at least 3 errors, got %v", p.Errors())
	}
	var sawOK bool
	for _, d := range program.Declarations {
		if ev, ok := d.(*ast.EventDeclaration); ok && ev.Name.Value == "ok" {
			sawOK = true
		}
	}
	if !sawOK {
		t.Errorf("event ok was lost during recovery")
	}
}

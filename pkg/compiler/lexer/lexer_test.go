package lexer

import (
	"testing"

	"github.com/zurustar/missionscript/pkg/compiler/token"
)

func TestNextToken(t *testing.T) {
	input := `public int count; // comment
trigger big(count > 10, 5);
/* block
   comment */ event e(big) { x = obj.health - 0x1F; pause(2); }
a == b != c <= d >= e && f || not g;
"say \"hi\"" m[2]`

	tests := []struct {
		expectedType    token.TokenType
		expectedLiteral string
	}{
		{token.PUBLIC, "public"},
		{token.IDENT, "int"},
		{token.IDENT, "count"},
		{token.SEMICOLON, ";"},
		{token.TRIGGER, "trigger"},
		{token.IDENT, "big"},
		{token.LPAREN, "("},
		{token.IDENT, "count"},
		{token.GT, ">"},
		{token.INT, "10"},
		{token.COMMA, ","},
		{token.INT, "5"},
		{token.RPAREN, ")"},
		{token.SEMICOLON, ";"},
		{token.EVENT, "event"},
		{token.IDENT, "e"},
		{token.LPAREN, "("},
		{token.IDENT, "big"},
		{token.RPAREN, ")"},
		{token.LBRACE, "{"},
		{token.IDENT, "x"},
		{token.ASSIGN, "="},
		{token.IDENT, "obj"},
		{token.DOT, "."},
		{token.IDENT, "health"},
		{token.MINUS, "-"},
		{token.INT, "0x1F"},
		{token.SEMICOLON, ";"},
		{token.PAUSE, "pause"},
		{token.LPAREN, "("},
		{token.INT, "2"},
		{token.RPAREN, ")"},
		{token.SEMICOLON, ";"},
		{token.RBRACE, "}"},
		{token.IDENT, "a"},
		{token.EQ, "=="},
		{token.IDENT, "b"},
		{token.NOT_EQ, "!="},
		{token.IDENT, "c"},
		{token.LTE, "<="},
		{token.IDENT, "d"},
		{token.GTE, ">="},
		{token.IDENT, "e"},
		{token.AND, "&&"},
		{token.IDENT, "f"},
		{token.OR, "||"},
		{token.NOT, "not"},
		{token.IDENT, "g"},
		{token.SEMICOLON, ";"},
		{token.STRING, `say "hi"`},
		{token.IDENT, "m"},
		{token.LBRACKET, "["},
		{token.INT, "2"},
		{token.RBRACKET, "]"},
		{token.EOF, ""},
	}

	l := New(input)
	for i, tt := range tests {
		tok := l.NextToken()
		if tok.Type != tt.expectedType {
			t.Fatalf("tests[%d] - tokentype wrong. expected=%q, got=%q (%q)", i, tt.expectedType, tok.Type, tok.Literal)
		}
		if tok.Literal != tt.expectedLiteral {
			t.Fatalf("tests[%d] - literal wrong. expected=%q, got=%q", i, tt.expectedLiteral, tok.Literal)
		}
	}
}

func TestPositions(t *testing.T) {
	l := New("a\n  bb = 1;\n\tc")

	want := []struct {
		lit       string
		line, col int
	}{
		{"a", 1, 1},
		{"bb", 2, 3},
		{"=", 2, 6},
		{"1", 2, 8},
		{";", 2, 9},
		{"c", 3, 2},
	}
	for _, w := range want {
		tok := l.NextToken()
		if tok.Literal != w.lit || tok.Line != w.line || tok.Column != w.col {
			t.Errorf("got %q at %d:%d, want %q at %d:%d", tok.Literal, tok.Line, tok.Column, w.lit, w.line, w.col)
		}
	}
}

func TestIllegal(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"stray char", "@", "unexpected character '@'"},
		{"single amp", "a & b", "unexpected character '&'"},
		{"unterminated string", `"abc`, "unterminated string literal"},
		{"unterminated comment", "/* abc", "unterminated block comment"},
		{"bad number", "12ab", "malformed number 12ab"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(tt.input)
			for {
				tok := l.NextToken()
				if tok.Type == token.EOF {
					t.Fatalf("no ILLEGAL token in %q", tt.input)
				}
				if tok.Type == token.ILLEGAL {
					if tok.Literal != tt.want {
						t.Errorf("literal = %q, want %q", tok.Literal, tt.want)
					}
					return
				}
			}
		})
	}
}

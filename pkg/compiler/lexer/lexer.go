// Package lexer tokenizes mission script source.
package lexer

import (
	"strings"

	"github.com/zurustar/missionscript/pkg/compiler/token"
)

// Lexer tokenizes script source code.
type Lexer struct {
	input        string
	position     int  // current position in input
	readPosition int  // current reading position (after current char)
	ch           byte // current char
	line         int  // line of ch
	lineStart    int  // offset of the first byte of line
}

// New creates a new Lexer.
func New(input string) *Lexer {
	l := &Lexer{
		input: input,
		line:  1,
	}
	l.readChar()
	return l
}

// NextToken returns the next token. Comments and whitespace are skipped.
// Malformed input yields an ILLEGAL token whose literal describes the problem.
func (l *Lexer) NextToken() token.Token {
	if msg := l.skipWhitespaceAndComments(); msg != "" {
		return token.Token{Type: token.ILLEGAL, Literal: msg, Line: l.line, Column: l.column()}
	}

	tok := token.Token{Line: l.line, Column: l.column()}

	switch l.ch {
	case '=':
		tok = l.oneOrTwo(tok, '=', token.ASSIGN, token.EQ)
	case '!':
		tok = l.oneOrTwo(tok, '=', token.BANG, token.NOT_EQ)
	case '<':
		tok = l.oneOrTwo(tok, '=', token.LT, token.LTE)
	case '>':
		tok = l.oneOrTwo(tok, '=', token.GT, token.GTE)
	case '&':
		if l.peekChar() == '&' {
			l.readChar()
			tok.Type, tok.Literal = token.AND, "&&"
		} else {
			tok.Type, tok.Literal = token.ILLEGAL, "unexpected character '&'"
		}
	case '|':
		if l.peekChar() == '|' {
			l.readChar()
			tok.Type, tok.Literal = token.OR, "||"
		} else {
			tok.Type, tok.Literal = token.ILLEGAL, "unexpected character '|'"
		}
	case '+':
		tok.Type, tok.Literal = token.PLUS, "+"
	case '-':
		tok.Type, tok.Literal = token.MINUS, "-"
	case '*':
		tok.Type, tok.Literal = token.ASTERISK, "*"
	case '/':
		tok.Type, tok.Literal = token.SLASH, "/"
	case '%':
		tok.Type, tok.Literal = token.PERCENT, "%"
	case '.':
		tok.Type, tok.Literal = token.DOT, "."
	case ',':
		tok.Type, tok.Literal = token.COMMA, ","
	case ';':
		tok.Type, tok.Literal = token.SEMICOLON, ";"
	case '(':
		tok.Type, tok.Literal = token.LPAREN, "("
	case ')':
		tok.Type, tok.Literal = token.RPAREN, ")"
	case '{':
		tok.Type, tok.Literal = token.LBRACE, "{"
	case '}':
		tok.Type, tok.Literal = token.RBRACE, "}"
	case '[':
		tok.Type, tok.Literal = token.LBRACKET, "["
	case ']':
		tok.Type, tok.Literal = token.RBRACKET, "]"
	case '"':
		s, ok := l.readString()
		if !ok {
			tok.Type, tok.Literal = token.ILLEGAL, "unterminated string literal"
			return tok
		}
		tok.Type, tok.Literal = token.STRING, s
	case 0:
		tok.Type, tok.Literal = token.EOF, ""
		return tok
	default:
		if isLetter(l.ch) {
			tok.Literal = l.readIdentifier()
			tok.Type = token.LookupIdent(tok.Literal)
			return tok
		}
		if isDigit(l.ch) {
			return l.readNumber(tok)
		}
		tok.Type, tok.Literal = token.ILLEGAL, "unexpected character "+quoteByte(l.ch)
	}

	l.readChar()
	return tok
}

func (l *Lexer) oneOrTwo(tok token.Token, second byte, one, two token.TokenType) token.Token {
	if l.peekChar() == second {
		first := l.ch
		l.readChar()
		tok.Type, tok.Literal = two, string([]byte{first, second})
		return tok
	}
	tok.Type, tok.Literal = one, string(l.ch)
	return tok
}

// readChar reads the next character.
func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.lineStart = l.readPosition
	}
	if l.readPosition >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPosition]
	}
	l.position = l.readPosition
	l.readPosition++
}

// column is the 1-indexed column of ch.
func (l *Lexer) column() int {
	return l.position - l.lineStart + 1
}

// peekChar returns the next character without advancing.
func (l *Lexer) peekChar() byte {
	if l.readPosition >= len(l.input) {
		return 0
	}
	return l.input[l.readPosition]
}

// readIdentifier reads an identifier.
func (l *Lexer) readIdentifier() string {
	position := l.position
	for isLetter(l.ch) || isDigit(l.ch) {
		l.readChar()
	}
	return l.input[position:l.position]
}

// readNumber reads a decimal or hexadecimal integer.
func (l *Lexer) readNumber(tok token.Token) token.Token {
	position := l.position

	if l.ch == '0' && (l.peekChar() == 'x' || l.peekChar() == 'X') {
		l.readChar() // consume '0'
		l.readChar() // consume 'x' or 'X'
		for isHexDigit(l.ch) {
			l.readChar()
		}
	} else {
		for isDigit(l.ch) {
			l.readChar()
		}
	}

	tok.Literal = l.input[position:l.position]
	if isLetter(l.ch) {
		for isLetter(l.ch) || isDigit(l.ch) {
			l.readChar()
		}
		tok.Type = token.ILLEGAL
		tok.Literal = "malformed number " + l.input[position:l.position]
		return tok
	}
	tok.Type = token.INT
	return tok
}

// readString reads a string literal with \" \\ \n and \t escapes.
func (l *Lexer) readString() (string, bool) {
	var sb strings.Builder
	for {
		l.readChar()
		switch l.ch {
		case 0, '\n':
			return "", false
		case '"':
			return sb.String(), true
		case '\\':
			l.readChar()
			switch l.ch {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 0:
				return "", false
			default:
				sb.WriteByte(l.ch)
			}
		default:
			sb.WriteByte(l.ch)
		}
	}
}

// skipWhitespaceAndComments skips blanks and comments. It returns a message
// for an unterminated block comment.
func (l *Lexer) skipWhitespaceAndComments() string {
	for {
		switch {
		case l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r':
			l.readChar()
		case l.ch == '/' && l.peekChar() == '/':
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
		case l.ch == '/' && l.peekChar() == '*':
			l.readChar() // consume /
			l.readChar() // consume *
			for !(l.ch == '*' && l.peekChar() == '/') {
				if l.ch == 0 {
					return "unterminated block comment"
				}
				l.readChar()
			}
			l.readChar() // consume *
			l.readChar() // consume /
		default:
			return ""
		}
	}
}

// Source returns the source code being tokenized.
func (l *Lexer) Source() string {
	return l.input
}

func quoteByte(ch byte) string {
	if ch < 0x20 || ch >= 0x7f {
		return "0x" + string("0123456789ABCDEF"[ch>>4]) + string("0123456789ABCDEF"[ch&0xF])
	}
	return "'" + string(ch) + "'"
}

// isLetter checks if a character is a letter.
func isLetter(ch byte) bool {
	return 'a' <= ch && ch <= 'z' || 'A' <= ch && ch <= 'Z' || ch == '_'
}

// isDigit checks if a character is a digit.
func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}

// isHexDigit checks if a character is a hexadecimal digit.
func isHexDigit(ch byte) bool {
	return ('0' <= ch && ch <= '9') || ('a' <= ch && ch <= 'f') || ('A' <= ch && ch <= 'F')
}

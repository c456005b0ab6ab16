// Package scriptvals reads value files, which give scripts their starting
// global values for one mission:
//
//	script "cam1.slo" run
//	{
//		target   DROID   12
//		waves[2] int     3
//		label    string  "alpha"
//		armed    bool    TRUE
//		base     STRUCTURESTAT "Factory"
//	}
//
// Each block names a script and lists globals with a type and a value.
// Objects are given by engine id; simple engine records by name.
// Values are applied after the program is loaded and before its first tick.
package scriptvals

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/zurustar/missionscript/pkg/compiler/lexer"
	"github.com/zurustar/missionscript/pkg/compiler/token"
	"github.com/zurustar/missionscript/pkg/program"
)

// ErrStoreBlock is returned when a store block is applied. Store blocks
// parse, but nothing in the engine looks up a stored program by name.
var ErrStoreBlock = errors.New("store blocks cannot be applied")

// Kind is the kind of a literal value.
type Kind int

const (
	IntLit Kind = iota
	BoolLit
	StringLit
)

func (k Kind) String() string {
	switch k {
	case IntLit:
		return "a number"
	case BoolLit:
		return "TRUE or FALSE"
	default:
		return "a quoted string"
	}
}

// Literal is a value as written in the file. Bools are 0 or 1 in Int.
type Literal struct {
	Kind Kind
	Int  int64
	Str  string
}

// Init sets one global, or one element of a global array.
type Init struct {
	Var     string
	Indices []int64
	Type    string
	Value   Literal
	Line    int
}

// Name is the global's name with any element indices, e.g. "waves[2]".
func (in Init) Name() string {
	idx := make([]int, len(in.Indices))
	for i, n := range in.Indices {
		idx[i] = int(n)
	}
	return program.ElementName(in.Var, idx)
}

// Block is one script entry.
type Block struct {
	// Script is the script file the values are for, as written.
	Script string
	// Store names a stored block; it is empty for run blocks.
	Store string
	Inits []Init
	Line  int
}

// File is a parsed value file.
type File struct {
	Name   string
	Blocks []Block
}

// Error is a syntax or value error with its position.
type Error struct {
	File    string
	Line    int
	Column  int
	Message string
}

func (e *Error) Error() string {
	if e.Column > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
	}
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Message)
}

type parser struct {
	name      string
	l         *lexer.Lexer
	cur, peek token.Token
}

// Parse reads a value file. name is used in error messages.
func Parse(name, src string) (*File, error) {
	p := &parser{name: name, l: lexer.New(src)}
	p.next()
	p.next()

	f := &File{Name: name}
	for p.cur.Type != token.EOF {
		b, err := p.block()
		if err != nil {
			return nil, err
		}
		f.Blocks = append(f.Blocks, b)
	}
	return f, nil
}

func (p *parser) next() {
	p.cur = p.peek
	p.peek = p.l.NextToken()
}

func (p *parser) errorf(tok token.Token, format string, args ...any) error {
	if tok.Type == token.ILLEGAL {
		return &Error{File: p.name, Line: tok.Line, Column: tok.Column, Message: tok.Literal}
	}
	return &Error{File: p.name, Line: tok.Line, Column: tok.Column, Message: fmt.Sprintf(format, args...)}
}

func describe(tok token.Token) string {
	switch tok.Type {
	case token.EOF:
		return "end of file"
	case token.STRING:
		return strconv.Quote(tok.Literal)
	default:
		return fmt.Sprintf("%q", tok.Literal)
	}
}

// expect consumes a token of type t.
func (p *parser) expect(t token.TokenType, what string) (token.Token, error) {
	tok := p.cur
	if tok.Type != t {
		return tok, p.errorf(tok, "expected %s, got %s", what, describe(tok))
	}
	p.next()
	return tok, nil
}

// keyword consumes the identifier word.
func (p *parser) keyword(word string) error {
	if p.cur.Type != token.IDENT || p.cur.Literal != word {
		return p.errorf(p.cur, "expected %q, got %s", word, describe(p.cur))
	}
	p.next()
	return nil
}

func (p *parser) block() (Block, error) {
	b := Block{Line: p.cur.Line}
	if err := p.keyword("script"); err != nil {
		return b, err
	}
	name, err := p.expect(token.STRING, "a quoted script name")
	if err != nil {
		return b, err
	}
	b.Script = name.Literal

	switch {
	case p.cur.Type == token.IDENT && p.cur.Literal == "run":
		p.next()
	case p.cur.Type == token.IDENT && p.cur.Literal == "store":
		p.next()
		store, err := p.expect(token.STRING, "a quoted store name")
		if err != nil {
			return b, err
		}
		b.Store = store.Literal
	default:
		return b, p.errorf(p.cur, "expected \"run\" or \"store\", got %s", describe(p.cur))
	}

	if _, err := p.expect(token.LBRACE, `"{"`); err != nil {
		return b, err
	}
	for p.cur.Type != token.RBRACE {
		if p.cur.Type == token.EOF {
			return b, p.errorf(p.cur, "block for %s is not closed", b.Script)
		}
		in, err := p.init()
		if err != nil {
			return b, err
		}
		b.Inits = append(b.Inits, in)
	}
	p.next()
	return b, nil
}

func (p *parser) init() (Init, error) {
	name, err := p.expect(token.IDENT, "a variable name")
	if err != nil {
		return Init{}, err
	}
	in := Init{Var: name.Literal, Line: name.Line}

	for p.cur.Type == token.LBRACKET {
		p.next()
		if len(in.Indices) == program.MaxDimensions {
			return in, p.errorf(p.cur, "too many dimensions for %s", in.Var)
		}
		tok, err := p.expect(token.INT, "an array index")
		if err != nil {
			return in, err
		}
		n, err := parseInt(tok.Literal)
		if err != nil {
			return in, p.errorf(tok, "bad array index %s", tok.Literal)
		}
		if _, err := p.expect(token.RBRACKET, `"]"`); err != nil {
			return in, err
		}
		in.Indices = append(in.Indices, n)
	}

	typ, err := p.expect(token.IDENT, "a type name")
	if err != nil {
		return in, err
	}
	in.Type = typ.Literal

	in.Value, err = p.literal()
	return in, err
}

func (p *parser) literal() (Literal, error) {
	tok := p.cur
	switch tok.Type {
	case token.TRUE:
		p.next()
		return Literal{Kind: BoolLit, Int: 1}, nil
	case token.FALSE:
		p.next()
		return Literal{Kind: BoolLit}, nil
	case token.STRING:
		p.next()
		return Literal{Kind: StringLit, Str: tok.Literal}, nil
	case token.MINUS, token.INT:
		neg := tok.Type == token.MINUS
		if neg {
			p.next()
		}
		num, err := p.expect(token.INT, "a number")
		if err != nil {
			return Literal{}, err
		}
		n, err := parseInt(num.Literal)
		if err != nil {
			return Literal{}, p.errorf(num, "could not parse %q as a 32-bit integer", num.Literal)
		}
		if neg {
			n = -n
		}
		return Literal{Kind: IntLit, Int: n}, nil
	}
	return Literal{}, p.errorf(tok, "expected a value, got %s", describe(tok))
}

// parseInt reads a decimal or 0x-prefixed hex literal that fits 32 bits.
func parseInt(lit string) (int64, error) {
	base := 10
	if len(lit) > 2 && lit[0] == '0' && (lit[1] == 'x' || lit[1] == 'X') {
		base = 16
		lit = lit[2:]
	}
	return strconv.ParseInt(lit, base, 32)
}

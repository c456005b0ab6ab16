package parser

import (
	"fmt"
	"strconv"

	"github.com/zurustar/missionscript/pkg/compiler/ast"
	"github.com/zurustar/missionscript/pkg/compiler/lexer"
	"github.com/zurustar/missionscript/pkg/compiler/token"
)

// Precedence levels for operators.
const (
	_ int = iota
	LOWEST
	OR          // or ||
	AND         // and &&
	EQUALS      // ==
	LESSGREATER // > or <
	SUM         // +
	PRODUCT     // *
	PREFIX      // -X or not X
	CALL        // myFunction(X)
	MEMBER      // obj.member
)

var precedences = map[token.TokenType]int{
	token.OR:       OR,
	token.AND:      AND,
	token.EQ:       EQUALS,
	token.NOT_EQ:   EQUALS,
	token.LT:       LESSGREATER,
	token.LTE:      LESSGREATER,
	token.GT:       LESSGREATER,
	token.GTE:      LESSGREATER,
	token.PLUS:     SUM,
	token.MINUS:    SUM,
	token.ASTERISK: PRODUCT,
	token.SLASH:    PRODUCT,
	token.PERCENT:  PRODUCT,
	token.LPAREN:   CALL,
	token.DOT:      MEMBER,
	token.LBRACKET: MEMBER,
}

// Error kinds reported by the parser.
const (
	KindLexical = "lexical"
	KindSyntax  = "syntax"
)

// ParserError is a lexical or syntax error at a source position.
type ParserError struct {
	Kind    string
	Message string
	Line    int
	Column  int
}

func (e *ParserError) Error() string {
	return fmt.Sprintf("%s error at line %d, column %d: %s", e.Kind, e.Line, e.Column, e.Message)
}

// Parser parses script source code into an AST.
type Parser struct {
	l      *lexer.Lexer
	errors []*ParserError

	curToken  token.Token
	peekToken token.Token

	prefixParseFns map[token.TokenType]prefixParseFn
	infixParseFns  map[token.TokenType]infixParseFn
}

type (
	prefixParseFn func() ast.Expression
	infixParseFn  func(ast.Expression) ast.Expression
)

// New creates a new Parser.
func New(l *lexer.Lexer) *Parser {
	p := &Parser{
		l:      l,
		errors: []*ParserError{},
	}

	p.prefixParseFns = make(map[token.TokenType]prefixParseFn)
	p.registerPrefix(token.IDENT, p.parseIdentifier)
	p.registerPrefix(token.INT, p.parseIntegerLiteral)
	p.registerPrefix(token.STRING, p.parseStringLiteral)
	p.registerPrefix(token.TRUE, p.parseBoolean)
	p.registerPrefix(token.FALSE, p.parseBoolean)
	p.registerPrefix(token.MINUS, p.parsePrefixExpression)
	p.registerPrefix(token.BANG, p.parsePrefixExpression)
	p.registerPrefix(token.NOT, p.parsePrefixExpression)
	p.registerPrefix(token.LPAREN, p.parseGroupedExpression)

	p.infixParseFns = make(map[token.TokenType]infixParseFn)
	for _, t := range []token.TokenType{
		token.PLUS, token.MINUS, token.ASTERISK, token.SLASH, token.PERCENT,
		token.EQ, token.NOT_EQ, token.LT, token.LTE, token.GT, token.GTE,
		token.AND, token.OR,
	} {
		p.registerInfix(t, p.parseInfixExpression)
	}
	p.registerInfix(token.LPAREN, p.parseCallExpression)
	p.registerInfix(token.DOT, p.parseMemberExpression)
	p.registerInfix(token.LBRACKET, p.parseIndexExpression)

	// Read two tokens to initialize curToken and peekToken
	p.nextToken()
	p.nextToken()

	return p
}

// Errors returns the lexical and syntax errors found so far.
func (p *Parser) Errors() []*ParserError {
	return p.errors
}

// ParseProgram parses the entire source. It keeps going after an error so
// that one pass reports as many problems as possible.
func (p *Parser) ParseProgram() *ast.Program {
	program := &ast.Program{}

	for !p.curTokenIs(token.EOF) {
		if p.curTokenIs(token.SEMICOLON) {
			p.nextToken()
			continue
		}
		decl := p.parseDeclaration()
		if decl != nil {
			program.Declarations = append(program.Declarations, decl)
		} else {
			p.synchronizeDeclaration()
		}
		p.nextToken()
	}

	return program
}

func (p *Parser) parseDeclaration() ast.Statement {
	switch p.curToken.Type {
	case token.PUBLIC, token.PRIVATE:
		if vd := p.parseVarDeclaration(); vd != nil {
			return vd
		}
		return nil
	case token.TRIGGER:
		return p.parseTriggerDeclaration()
	case token.EVENT:
		return p.parseEventDeclaration()
	case token.FUNCTION:
		return p.parseFunctionDeclaration()
	case token.LOCAL:
		p.errorAt(p.curToken, "local variables must be declared inside an event or function")
		return nil
	default:
		p.errorAt(p.curToken, fmt.Sprintf("expected a declaration, got %s", describe(p.curToken)))
		return nil
	}
}

// synchronizeDeclaration skips to just before the next top-level keyword.
func (p *Parser) synchronizeDeclaration() {
	for {
		switch p.peekToken.Type {
		case token.PUBLIC, token.PRIVATE, token.TRIGGER, token.EVENT, token.FUNCTION, token.EOF:
			return
		}
		p.nextToken()
	}
}

// parseVarDeclaration parses `public|private|local <type> a, b;`.
func (p *Parser) parseVarDeclaration() *ast.VarDeclaration {
	vd := &ast.VarDeclaration{Token: p.curToken}

	if !p.expectPeek(token.IDENT) {
		return nil
	}
	vd.Type = p.identifier()

	for {
		if !p.expectPeek(token.IDENT) {
			return nil
		}
		vd.Names = append(vd.Names, p.identifier())
		dims, ok := p.parseDimensions()
		if !ok {
			return nil
		}
		vd.Dims = append(vd.Dims, dims)
		if !p.peekTokenIs(token.COMMA) {
			break
		}
		p.nextToken()
	}

	if !p.expectPeek(token.SEMICOLON) {
		return nil
	}
	return vd
}

// parseDimensions parses the `[n]...` sizes after a declared name.
func (p *Parser) parseDimensions() ([]int, bool) {
	var dims []int
	for p.peekTokenIs(token.LBRACKET) {
		p.nextToken()
		if !p.expectPeek(token.INT) {
			return nil, false
		}
		lit, ok := p.parseIntegerLiteral().(*ast.IntegerLiteral)
		if !ok {
			return nil, false
		}
		dims = append(dims, int(lit.Value))
		if !p.expectPeek(token.RBRACKET) {
			return nil, false
		}
	}
	return dims, true
}

func (p *Parser) parseTriggerDeclaration() ast.Statement {
	td := &ast.TriggerDeclaration{Token: p.curToken}

	if !p.expectPeek(token.IDENT) {
		return nil
	}
	td.Name = p.identifier()

	if !p.expectPeek(token.LPAREN) {
		return nil
	}
	td.Spec = p.parseTriggerSpec()
	if td.Spec == nil {
		return nil
	}
	if !p.expectPeek(token.SEMICOLON) {
		return nil
	}
	return td
}

// parseTriggerSpec parses the inside of `( ... )`. curToken is the '(' on
// entry and the ')' on success.
func (p *Parser) parseTriggerSpec() *ast.TriggerSpec {
	spec := &ast.TriggerSpec{Token: p.peekToken}
	p.nextToken()

	switch p.curToken.Type {
	case token.EVERY, token.WAIT:
		spec.Kind = ast.TriggerEvery
		if p.curTokenIs(token.WAIT) {
			spec.Kind = ast.TriggerWait
		}
		if !p.expectPeek(token.COMMA) {
			return nil
		}
		p.nextToken()
		arg := p.parseExpression(LOWEST)
		if arg == nil {
			return nil
		}
		spec.Args = []ast.Expression{arg}
	case token.INIT:
		spec.Kind = ast.TriggerInit
	default:
		spec.Kind = ast.TriggerGeneric
		spec.First = p.parseExpression(LOWEST)
		if spec.First == nil {
			return nil
		}
		for p.peekTokenIs(token.COMMA) {
			p.nextToken()
			p.nextToken()
			arg := p.parseArgument()
			if arg == nil {
				return nil
			}
			spec.Args = append(spec.Args, arg)
		}
	}

	if !p.expectPeek(token.RPAREN) {
		return nil
	}
	return spec
}

func (p *Parser) parseEventDeclaration() ast.Statement {
	ed := &ast.EventDeclaration{Token: p.curToken}

	if !p.expectPeek(token.IDENT) {
		return nil
	}
	ed.Name = p.identifier()

	if !p.expectPeek(token.LPAREN) {
		return nil
	}

	switch p.peekToken.Type {
	case token.INACTIVE:
		p.nextToken()
		ed.Inactive = true
		if !p.expectPeek(token.RPAREN) {
			return nil
		}
	default:
		spec := p.parseTriggerSpec()
		if spec == nil {
			return nil
		}
		switch {
		case spec.Kind == ast.TriggerInit:
			ed.Init = true
		case spec.Kind == ast.TriggerGeneric && len(spec.Args) == 0:
			if ident, ok := spec.First.(*ast.Identifier); ok {
				ed.TriggerName = ident
			} else {
				ed.Spec = spec
			}
		default:
			ed.Spec = spec
		}
	}

	if !p.expectPeek(token.LBRACE) {
		return nil
	}
	locals, body, ok := p.parseBody()
	if !ok {
		return nil
	}
	ed.Locals, ed.Body = locals, body
	return ed
}

func (p *Parser) parseFunctionDeclaration() ast.Statement {
	fd := &ast.FunctionDeclaration{Token: p.curToken}

	if !p.expectPeek(token.IDENT) {
		return nil
	}
	fd.ReturnType = p.identifier()

	if !p.expectPeek(token.IDENT) {
		return nil
	}
	fd.Name = p.identifier()

	if !p.expectPeek(token.LPAREN) {
		return nil
	}
	if p.peekTokenIs(token.RPAREN) {
		p.nextToken()
	} else {
		for {
			if !p.expectPeek(token.IDENT) {
				return nil
			}
			param := &ast.Parameter{Type: p.identifier()}
			if !p.expectPeek(token.IDENT) {
				return nil
			}
			param.Name = p.identifier()
			fd.Parameters = append(fd.Parameters, param)
			if !p.peekTokenIs(token.COMMA) {
				break
			}
			p.nextToken()
		}
		if !p.expectPeek(token.RPAREN) {
			return nil
		}
	}

	if !p.expectPeek(token.LBRACE) {
		return nil
	}
	locals, body, ok := p.parseBody()
	if !ok {
		return nil
	}
	fd.Locals, fd.Body = locals, body
	return fd
}

// parseBody parses `{ local decls; statements }`. curToken is the '{' on
// entry and the '}' on success.
func (p *Parser) parseBody() ([]*ast.VarDeclaration, *ast.BlockStatement, bool) {
	open := p.curToken
	var locals []*ast.VarDeclaration

	for p.peekTokenIs(token.LOCAL) {
		p.nextToken()
		vd := p.parseVarDeclaration()
		if vd == nil {
			p.synchronizeStatement()
			continue
		}
		locals = append(locals, vd)
	}

	block := p.parseBlockStatement()
	block.Token = open
	if !p.curTokenIs(token.RBRACE) {
		p.errorAt(p.curToken, "missing '}' at end of body")
		return nil, nil, false
	}
	return locals, block, true
}

// parseBlockStatement parses statements up to the matching '}'. curToken is
// the token before the first statement on entry and the '}' on return.
func (p *Parser) parseBlockStatement() *ast.BlockStatement {
	block := &ast.BlockStatement{Token: p.curToken}
	block.Statements = []ast.Statement{}

	p.nextToken()

	for !p.curTokenIs(token.RBRACE) && !p.curTokenIs(token.EOF) {
		if p.curTokenIs(token.SEMICOLON) {
			p.nextToken()
			continue
		}

		stmt := p.parseStatement()
		if stmt != nil {
			block.Statements = append(block.Statements, stmt)
		} else {
			p.synchronizeStatement()
		}
		p.nextToken()
	}

	return block
}

// synchronizeStatement skips to the end of the current statement.
func (p *Parser) synchronizeStatement() {
	for !p.curTokenIs(token.SEMICOLON) && !p.curTokenIs(token.EOF) &&
		!p.peekTokenIs(token.RBRACE) && !p.peekTokenIs(token.EOF) {
		p.nextToken()
	}
}

func (p *Parser) parseStatement() ast.Statement {
	switch p.curToken.Type {
	case token.IF:
		return p.parseIfStatement()
	case token.WHILE:
		return p.parseWhileStatement()
	case token.RETURN:
		return p.parseReturnStatement()
	case token.EXIT:
		stmt := &ast.ExitStatement{Token: p.curToken}
		if !p.expectPeek(token.SEMICOLON) {
			return nil
		}
		return stmt
	case token.PAUSE:
		return p.parsePauseStatement()
	case token.SETTRIGGER:
		return p.parseSetTriggerStatement()
	case token.LBRACE:
		block := p.parseBlockStatement()
		if !p.curTokenIs(token.RBRACE) {
			p.errorAt(p.curToken, "missing '}' at end of block")
			return nil
		}
		return block
	case token.LOCAL:
		p.errorAt(p.curToken, "local declarations must come before the first statement")
		return nil
	default:
		return p.parseSimpleStatement()
	}
}

// parseSimpleStatement parses an assignment or a call statement.
func (p *Parser) parseSimpleStatement() ast.Statement {
	start := p.curToken
	expr := p.parseExpression(LOWEST)
	if expr == nil {
		return nil
	}

	if p.peekTokenIs(token.ASSIGN) {
		switch expr.(type) {
		case *ast.Identifier, *ast.IndexExpression, *ast.MemberExpression:
		default:
			p.errorAt(p.peekToken, fmt.Sprintf("cannot assign to %s", expr.String()))
			return nil
		}
		p.nextToken()
		stmt := &ast.AssignStatement{Token: p.curToken, Target: expr}
		p.nextToken()
		stmt.Value = p.parseExpression(LOWEST)
		if stmt.Value == nil {
			return nil
		}
		if !p.expectPeek(token.SEMICOLON) {
			return nil
		}
		return stmt
	}

	if _, ok := expr.(*ast.CallExpression); !ok {
		p.errorAt(start, fmt.Sprintf("%s is not a statement", expr.String()))
		return nil
	}
	if !p.expectPeek(token.SEMICOLON) {
		return nil
	}
	return &ast.ExpressionStatement{Token: start, Expression: expr}
}

func (p *Parser) parseIfStatement() ast.Statement {
	stmt := &ast.IfStatement{Token: p.curToken}

	if !p.expectPeek(token.LPAREN) {
		return nil
	}
	p.nextToken()
	stmt.Condition = p.parseExpression(LOWEST)
	if stmt.Condition == nil {
		return nil
	}
	if !p.expectPeek(token.RPAREN) {
		return nil
	}
	if !p.expectPeek(token.LBRACE) {
		return nil
	}
	stmt.Consequence = p.parseBlockStatement()
	if !p.curTokenIs(token.RBRACE) {
		p.errorAt(p.curToken, "missing '}' after if body")
		return nil
	}

	if p.peekTokenIs(token.ELSE) {
		p.nextToken()
		switch {
		case p.peekTokenIs(token.IF):
			p.nextToken()
			alt := p.parseIfStatement()
			if alt == nil {
				return nil
			}
			stmt.Alternative = alt
		case p.expectPeek(token.LBRACE):
			alt := p.parseBlockStatement()
			if !p.curTokenIs(token.RBRACE) {
				p.errorAt(p.curToken, "missing '}' after else body")
				return nil
			}
			stmt.Alternative = alt
		default:
			return nil
		}
	}
	return stmt
}

func (p *Parser) parseWhileStatement() ast.Statement {
	stmt := &ast.WhileStatement{Token: p.curToken}

	if !p.expectPeek(token.LPAREN) {
		return nil
	}
	p.nextToken()
	stmt.Condition = p.parseExpression(LOWEST)
	if stmt.Condition == nil {
		return nil
	}
	if !p.expectPeek(token.RPAREN) {
		return nil
	}
	if !p.expectPeek(token.LBRACE) {
		return nil
	}
	stmt.Body = p.parseBlockStatement()
	if !p.curTokenIs(token.RBRACE) {
		p.errorAt(p.curToken, "missing '}' after while body")
		return nil
	}
	return stmt
}

func (p *Parser) parseReturnStatement() ast.Statement {
	stmt := &ast.ReturnStatement{Token: p.curToken}
	if p.peekTokenIs(token.SEMICOLON) {
		p.nextToken()
		return stmt
	}
	p.nextToken()
	stmt.Value = p.parseExpression(LOWEST)
	if stmt.Value == nil {
		return nil
	}
	if !p.expectPeek(token.SEMICOLON) {
		return nil
	}
	return stmt
}

func (p *Parser) parsePauseStatement() ast.Statement {
	stmt := &ast.PauseStatement{Token: p.curToken}
	if !p.expectPeek(token.LPAREN) {
		return nil
	}
	p.nextToken()
	stmt.Ticks = p.parseExpression(LOWEST)
	if stmt.Ticks == nil {
		return nil
	}
	if !p.expectPeek(token.RPAREN) || !p.expectPeek(token.SEMICOLON) {
		return nil
	}
	return stmt
}

func (p *Parser) parseSetTriggerStatement() ast.Statement {
	stmt := &ast.SetTriggerStatement{Token: p.curToken}
	if !p.expectPeek(token.LPAREN) || !p.expectPeek(token.IDENT) {
		return nil
	}
	stmt.Event = p.identifier()
	if !p.expectPeek(token.COMMA) {
		return nil
	}
	p.nextToken()
	switch p.curToken.Type {
	case token.INACTIVE:
		stmt.Inactive = true
	case token.INIT:
		stmt.Init = true
	case token.IDENT:
		stmt.Trigger = p.identifier()
	default:
		p.errorAt(p.curToken, fmt.Sprintf("expected a trigger name, got %s", describe(p.curToken)))
		return nil
	}
	if !p.expectPeek(token.RPAREN) || !p.expectPeek(token.SEMICOLON) {
		return nil
	}
	return stmt
}

func (p *Parser) parseExpression(precedence int) ast.Expression {
	prefix := p.prefixParseFns[p.curToken.Type]
	if prefix == nil {
		p.noPrefixParseFnError(p.curToken)
		return nil
	}
	leftExp := prefix()
	if leftExp == nil {
		return nil
	}

	for !p.peekTokenIs(token.SEMICOLON) && precedence < p.peekPrecedence() {
		infix := p.infixParseFns[p.peekToken.Type]
		if infix == nil {
			return leftExp
		}

		p.nextToken()
		leftExp = infix(leftExp)
		if leftExp == nil {
			return nil
		}
	}

	return leftExp
}

// parseArgument parses a call or trigger argument, which may be `ref x`.
func (p *Parser) parseArgument() ast.Expression {
	if !p.curTokenIs(token.REF) {
		return p.parseExpression(LOWEST)
	}
	ref := &ast.RefExpression{Token: p.curToken}
	if !p.expectPeek(token.IDENT) {
		return nil
	}
	ref.Target = p.identifier()
	return ref
}

func (p *Parser) identifier() *ast.Identifier {
	return &ast.Identifier{Token: p.curToken, Value: p.curToken.Literal}
}

func (p *Parser) parseIdentifier() ast.Expression {
	return p.identifier()
}

func (p *Parser) parseIntegerLiteral() ast.Expression {
	lit := &ast.IntegerLiteral{Token: p.curToken}

	base := 10
	literal := p.curToken.Literal
	if len(literal) > 2 && literal[0] == '0' && (literal[1] == 'x' || literal[1] == 'X') {
		base = 16
		literal = literal[2:]
	}

	value, err := strconv.ParseInt(literal, base, 32)
	if err != nil {
		p.addError(KindLexical, p.curToken, fmt.Sprintf("could not parse %q as a 32-bit integer", p.curToken.Literal))
		return nil
	}

	lit.Value = value
	return lit
}

func (p *Parser) parseStringLiteral() ast.Expression {
	return &ast.StringLiteral{Token: p.curToken, Value: p.curToken.Literal}
}

func (p *Parser) parseBoolean() ast.Expression {
	return &ast.Boolean{Token: p.curToken, Value: p.curTokenIs(token.TRUE)}
}

func (p *Parser) parsePrefixExpression() ast.Expression {
	expression := &ast.PrefixExpression{
		Token:    p.curToken,
		Operator: normalizeOperator(p.curToken),
	}

	p.nextToken()
	expression.Right = p.parseExpression(PREFIX)
	if expression.Right == nil {
		return nil
	}
	return expression
}

func (p *Parser) parseInfixExpression(left ast.Expression) ast.Expression {
	expression := &ast.InfixExpression{
		Token:    p.curToken,
		Operator: normalizeOperator(p.curToken),
		Left:     left,
	}

	precedence := p.curPrecedence()
	p.nextToken()
	expression.Right = p.parseExpression(precedence)
	if expression.Right == nil {
		return nil
	}
	return expression
}

func (p *Parser) parseGroupedExpression() ast.Expression {
	p.nextToken()

	exp := p.parseExpression(LOWEST)
	if exp == nil {
		return nil
	}
	if !p.expectPeek(token.RPAREN) {
		return nil
	}
	return exp
}

func (p *Parser) parseCallExpression(function ast.Expression) ast.Expression {
	ident, ok := function.(*ast.Identifier)
	if !ok {
		p.errorAt(p.curToken, fmt.Sprintf("%s is not callable", function.String()))
		return nil
	}
	exp := &ast.CallExpression{Token: p.curToken, Function: ident}
	args, ok := p.parseArgumentList()
	if !ok {
		return nil
	}
	exp.Arguments = args
	return exp
}

func (p *Parser) parseMemberExpression(object ast.Expression) ast.Expression {
	exp := &ast.MemberExpression{Token: p.curToken, Object: object}
	if !p.expectPeek(token.IDENT) {
		return nil
	}
	exp.Member = p.identifier()
	return exp
}

func (p *Parser) parseIndexExpression(left ast.Expression) ast.Expression {
	var exp *ast.IndexExpression
	switch left := left.(type) {
	case *ast.Identifier:
		exp = &ast.IndexExpression{Token: p.curToken, Array: left}
	case *ast.IndexExpression:
		exp = left
	default:
		p.errorAt(p.curToken, fmt.Sprintf("%s cannot be indexed", left.String()))
		return nil
	}
	p.nextToken()
	idx := p.parseExpression(LOWEST)
	if idx == nil {
		return nil
	}
	if !p.expectPeek(token.RBRACKET) {
		return nil
	}
	exp.Indices = append(exp.Indices, idx)
	return exp
}

func (p *Parser) parseArgumentList() ([]ast.Expression, bool) {
	list := []ast.Expression{}

	if p.peekTokenIs(token.RPAREN) {
		p.nextToken()
		return list, true
	}

	p.nextToken()
	arg := p.parseArgument()
	if arg == nil {
		return nil, false
	}
	list = append(list, arg)

	for p.peekTokenIs(token.COMMA) {
		p.nextToken()
		p.nextToken()
		arg := p.parseArgument()
		if arg == nil {
			return nil, false
		}
		list = append(list, arg)
	}

	if !p.expectPeek(token.RPAREN) {
		return nil, false
	}
	return list, true
}

func normalizeOperator(tok token.Token) string {
	switch tok.Type {
	case token.AND:
		return "and"
	case token.OR:
		return "or"
	case token.BANG, token.NOT:
		return "not"
	default:
		return tok.Literal
	}
}

// Helper functions
func (p *Parser) curTokenIs(t token.TokenType) bool {
	return p.curToken.Type == t
}

func (p *Parser) peekTokenIs(t token.TokenType) bool {
	return p.peekToken.Type == t
}

func (p *Parser) expectPeek(t token.TokenType) bool {
	if p.peekTokenIs(t) {
		p.nextToken()
		return true
	}
	p.peekError(t)
	return false
}

// nextToken advances, reporting and dropping ILLEGAL tokens as lexical errors.
func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.l.NextToken()

	for p.peekToken.Type == token.ILLEGAL {
		p.addError(KindLexical, p.peekToken, p.peekToken.Literal)
		p.peekToken = p.l.NextToken()
	}
}

func (p *Parser) peekPrecedence() int {
	if p, ok := precedences[p.peekToken.Type]; ok {
		return p
	}
	return LOWEST
}

func (p *Parser) curPrecedence() int {
	if p, ok := precedences[p.curToken.Type]; ok {
		return p
	}
	return LOWEST
}

func (p *Parser) addError(kind string, at token.Token, msg string) {
	p.errors = append(p.errors, &ParserError{Kind: kind, Message: msg, Line: at.Line, Column: at.Column})
}

func (p *Parser) errorAt(at token.Token, msg string) {
	p.addError(KindSyntax, at, msg)
}

func (p *Parser) peekError(t token.TokenType) {
	p.errorAt(p.peekToken, fmt.Sprintf("expected %s, got %s", describeType(t), describe(p.peekToken)))
}

func (p *Parser) noPrefixParseFnError(tok token.Token) {
	p.errorAt(tok, fmt.Sprintf("unexpected %s in expression", describe(tok)))
}

func (p *Parser) registerPrefix(tokenType token.TokenType, fn prefixParseFn) {
	p.prefixParseFns[tokenType] = fn
}

func (p *Parser) registerInfix(tokenType token.TokenType, fn infixParseFn) {
	p.infixParseFns[tokenType] = fn
}

func describe(tok token.Token) string {
	switch tok.Type {
	case token.EOF:
		return "end of file"
	case token.IDENT:
		return fmt.Sprintf("identifier %q", tok.Literal)
	case token.INT:
		return fmt.Sprintf("number %s", tok.Literal)
	case token.STRING:
		return fmt.Sprintf("string %q", tok.Literal)
	default:
		return fmt.Sprintf("%q", tok.Literal)
	}
}

func describeType(t token.TokenType) string {
	switch t {
	case token.IDENT:
		return "an identifier"
	case token.INT:
		return "a number"
	case token.EOF:
		return "end of file"
	default:
		return fmt.Sprintf("%q", string(t))
	}
}

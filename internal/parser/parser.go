// Package parser implements the Pratt (precedence-climbing) parser for the
// core scripting language.
//
// The parser drives the lexer on demand, one token at a time, and builds an
// [ast.Program]. It implements recursive-descent statement parsing with
// operator-precedence expression parsing: two dispatch tables, keyed by
// token type, hold prefix and infix parse functions.
//
// On a syntax error the parser accumulates into a bounded [apeerr.List] and
// returns a nil AST; the caller discards any partial statement list.
package parser

import (
	"strconv"
	"strings"

	"github.com/ape-lang/ape/internal/apeerr"
	"github.com/ape-lang/ape/internal/ast"
	"github.com/ape-lang/ape/internal/lexer"
	"github.com/ape-lang/ape/internal/token"
)

// Precedence levels, lowest to highest, per spec.md §4.2.
const (
	_ int = iota
	LOWEST
	ASSIGN
	TERNARY
	LOGICALOR
	LOGICALAND
	BITOR
	BITXOR
	BITAND
	EQUALS
	LESSGREATER
	SHIFT
	SUM
	PRODUCT
	PREFIX
	INCDEC
	POSTFIX
)

var precedences = map[token.Type]int{
	token.ASSIGN:          ASSIGN,
	token.PLUS_ASSIGN:     ASSIGN,
	token.MINUS_ASSIGN:    ASSIGN,
	token.ASTERISK_ASSIGN: ASSIGN,
	token.SLASH_ASSIGN:    ASSIGN,
	token.PERCENT_ASSIGN:  ASSIGN,
	token.AND_ASSIGN:      ASSIGN,
	token.OR_ASSIGN:       ASSIGN,
	token.XOR_ASSIGN:      ASSIGN,
	token.LSHIFT_ASSIGN:   ASSIGN,
	token.RSHIFT_ASSIGN:   ASSIGN,
	token.QUESTION:        TERNARY,
	token.OR:              LOGICALOR,
	token.AND:             LOGICALAND,
	token.BITOR:           BITOR,
	token.BITXOR:          BITXOR,
	token.BITAND:          BITAND,
	token.EQ:              EQUALS,
	token.NOT_EQ:          EQUALS,
	token.LT:              LESSGREATER,
	token.GT:              LESSGREATER,
	token.LTE:             LESSGREATER,
	token.GTE:             LESSGREATER,
	token.LSHIFT:          SHIFT,
	token.RSHIFT:          SHIFT,
	token.PLUS:            SUM,
	token.MINUS:           SUM,
	token.ASTERISK:        PRODUCT,
	token.SLASH:           PRODUCT,
	token.PERCENT:         PRODUCT,
	token.INCR:            POSTFIX,
	token.DECR:            POSTFIX,
	token.LPAREN:          POSTFIX,
	token.LBRACKET:        POSTFIX,
	token.DOT:             POSTFIX,
}

var compoundOps = map[token.Type]string{
	token.PLUS_ASSIGN:     "+",
	token.MINUS_ASSIGN:    "-",
	token.ASTERISK_ASSIGN: "*",
	token.SLASH_ASSIGN:    "/",
	token.PERCENT_ASSIGN:  "%",
	token.AND_ASSIGN:      "&",
	token.OR_ASSIGN:       "|",
	token.XOR_ASSIGN:      "^",
	token.LSHIFT_ASSIGN:   "<<",
	token.RSHIFT_ASSIGN:   ">>",
}

type (
	prefixParseFn func() ast.Expression
	infixParseFn  func(ast.Expression) ast.Expression
)

// Parser turns a token stream into an AST.
type Parser struct {
	l      *lexer.Lexer
	errors *apeerr.List

	curToken  token.Token
	peekToken token.Token

	prefixFns map[token.Type]prefixParseFn
	infixFns  map[token.Type]infixParseFn
}

// New creates a Parser over l, reporting errors into errs.
func New(l *lexer.Lexer, errs *apeerr.List) *Parser {
	p := &Parser{l: l, errors: errs}

	p.prefixFns = map[token.Type]prefixParseFn{
		token.IDENT:    p.parseIdentifier,
		token.NUMBER:   p.parseNumberLiteral,
		token.STRING:   p.parseStringLiteral,
		token.TSTRING:  p.parseTemplateString,
		token.TRUE:     p.parseBool,
		token.FALSE:    p.parseBool,
		token.NULL:     p.parseNull,
		token.BANG:     p.parsePrefixExpression,
		token.MINUS:    p.parsePrefixExpression,
		token.INCR:     p.parsePrefixIncDec,
		token.DECR:     p.parsePrefixIncDec,
		token.LPAREN:   p.parseGroupedExpression,
		token.LBRACKET: p.parseArrayLiteral,
		token.LBRACE:   p.parseMapLiteral,
		token.FUNCTION: p.parseFunctionLiteral,
	}

	p.infixFns = map[token.Type]infixParseFn{
		token.PLUS:            p.parseInfixExpression,
		token.MINUS:           p.parseInfixExpression,
		token.SLASH:           p.parseInfixExpression,
		token.ASTERISK:        p.parseInfixExpression,
		token.PERCENT:         p.parseInfixExpression,
		token.BITAND:          p.parseInfixExpression,
		token.BITOR:           p.parseInfixExpression,
		token.BITXOR:          p.parseInfixExpression,
		token.LSHIFT:          p.parseInfixExpression,
		token.RSHIFT:          p.parseInfixExpression,
		token.EQ:              p.parseInfixExpression,
		token.NOT_EQ:          p.parseInfixExpression,
		token.LT:              p.parseInfixExpression,
		token.GT:              p.parseInfixExpression,
		token.LTE:             p.parseInfixExpression,
		token.GTE:             p.parseInfixExpression,
		token.AND:             p.parseLogicalExpression,
		token.OR:              p.parseLogicalExpression,
		token.QUESTION:        p.parseTernaryExpression,
		token.LPAREN:          p.parseCallExpression,
		token.LBRACKET:        p.parseIndexExpression,
		token.DOT:             p.parseDotExpression,
		token.ASSIGN:          p.parseAssignExpression,
		token.PLUS_ASSIGN:     p.parseCompoundAssignExpression,
		token.MINUS_ASSIGN:    p.parseCompoundAssignExpression,
		token.ASTERISK_ASSIGN: p.parseCompoundAssignExpression,
		token.SLASH_ASSIGN:    p.parseCompoundAssignExpression,
		token.PERCENT_ASSIGN:  p.parseCompoundAssignExpression,
		token.AND_ASSIGN:      p.parseCompoundAssignExpression,
		token.OR_ASSIGN:       p.parseCompoundAssignExpression,
		token.XOR_ASSIGN:      p.parseCompoundAssignExpression,
		token.LSHIFT_ASSIGN:   p.parseCompoundAssignExpression,
		token.RSHIFT_ASSIGN:   p.parseCompoundAssignExpression,
		token.INCR:            p.parsePostfixIncDec,
		token.DECR:            p.parsePostfixIncDec,
	}

	p.nextToken()
	p.nextToken()
	return p
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.l.NextToken()
}

func (p *Parser) errf(pos token.Position, format string, args ...any) {
	p.errors.Addf(apeerr.Parsing, pos, format, args...)
}

func (p *Parser) curIs(t token.Type) bool  { return p.curToken.Type == t }
func (p *Parser) peekIs(t token.Type) bool { return p.peekToken.Type == t }

func (p *Parser) expectPeek(t token.Type) bool {
	if p.peekIs(t) {
		p.nextToken()
		return true
	}
	p.errf(p.peekToken.Pos, "expected next token to be %s, got %s instead", t, p.peekToken.Type)
	return false
}

func (p *Parser) peekPrecedence() int {
	if pr, ok := precedences[p.peekToken.Type]; ok {
		return pr
	}
	return LOWEST
}

func (p *Parser) curPrecedence() int {
	if pr, ok := precedences[p.curToken.Type]; ok {
		return pr
	}
	return LOWEST
}

// ParseProgram parses the full token stream into a Program. On any error it
// returns nil; the caller should consult the error list passed to New.
func (p *Parser) ParseProgram() *ast.Program {
	program := &ast.Program{}

	for !p.curIs(token.EOF) {
		stmt := p.parseStatement()
		if p.errors.HasErrors() {
			return nil
		}
		if stmt != nil {
			program.Statements = append(program.Statements, stmt)
		}
		p.nextToken()
	}
	if p.errors.HasErrors() {
		return nil
	}
	return program
}

func (p *Parser) parseStatement() ast.Statement {
	switch p.curToken.Type {
	case token.VAR:
		return p.parseDefineStatement(true)
	case token.CONST:
		return p.parseDefineStatement(false)
	case token.RETURN:
		return p.parseReturnStatement()
	case token.IF:
		return p.parseIfStatement()
	case token.WHILE:
		return p.parseWhileStatement()
	case token.FOR:
		return p.parseForOrForEachStatement()
	case token.BREAK:
		return &ast.BreakStatement{Base: ast.Base{Token: p.curToken}}
	case token.CONTINUE:
		return &ast.ContinueStatement{Base: ast.Base{Token: p.curToken}}
	case token.INCLUDE, token.IMPORT:
		return p.parseIncludeStatement()
	case token.RECOVER:
		return p.parseRecoverStatement()
	case token.FUNCTION:
		if p.peekIs(token.IDENT) {
			return p.parseFunctionStatement()
		}
		return p.parseExpressionStatement()
	default:
		return p.parseExpressionStatement()
	}
}

// parseDefineStatement parses `var name = expr;` or `const name = expr;`.
func (p *Parser) parseDefineStatement(assignable bool) ast.Statement {
	tok := p.curToken
	if !p.expectPeek(token.IDENT) {
		return nil
	}
	name := &ast.Identifier{Base: ast.Base{Token: p.curToken}, Value: p.curToken.Literal}

	var value ast.Expression
	if p.peekIs(token.ASSIGN) {
		p.nextToken()
		p.nextToken()
		value = p.parseExpression(LOWEST)
	}
	if p.peekIs(token.SEMICOLON) {
		p.nextToken()
	}
	return &ast.DefineStatement{Base: ast.Base{Token: tok}, Name: name, Value: value, Assignable: assignable}
}

func (p *Parser) parseReturnStatement() ast.Statement {
	tok := p.curToken
	stmt := &ast.ReturnStatement{Base: ast.Base{Token: tok}}

	if p.peekIs(token.SEMICOLON) || p.peekIs(token.RBRACE) {
		if p.peekIs(token.SEMICOLON) {
			p.nextToken()
		}
		return stmt
	}
	p.nextToken()
	stmt.Value = p.parseExpression(LOWEST)
	if p.peekIs(token.SEMICOLON) {
		p.nextToken()
	}
	return stmt
}

func (p *Parser) parseExpressionStatement() ast.Statement {
	tok := p.curToken
	expr := p.parseExpression(LOWEST)
	stmt := &ast.ExpressionStatement{Base: ast.Base{Token: tok}, Expr: expr}
	if p.peekIs(token.SEMICOLON) {
		p.nextToken()
	}
	return stmt
}

func (p *Parser) parseBlock() *ast.Block {
	block := &ast.Block{Base: ast.Base{Token: p.curToken}}
	if !p.expectPeek(token.LBRACE) {
		return block
	}
	p.nextToken()
	for !p.curIs(token.RBRACE) && !p.curIs(token.EOF) {
		stmt := p.parseStatement()
		if p.errors.HasErrors() {
			return block
		}
		if stmt != nil {
			block.Statements = append(block.Statements, stmt)
		}
		p.nextToken()
	}
	return block
}

func (p *Parser) parseIfStatement() ast.Statement {
	tok := p.curToken
	stmt := &ast.IfStatement{Base: ast.Base{Token: tok}}

	if !p.expectPeek(token.LPAREN) {
		return stmt
	}
	p.nextToken()
	test := p.parseExpression(LOWEST)
	if !p.expectPeek(token.RPAREN) {
		return stmt
	}
	consequence := p.parseBlock()
	stmt.Cases = append(stmt.Cases, ast.IfCase{Test: test, Consequence: consequence})

	for p.peekIs(token.ELSE) {
		p.nextToken()
		if p.peekIs(token.IF) {
			p.nextToken()
			if !p.expectPeek(token.LPAREN) {
				return stmt
			}
			p.nextToken()
			t := p.parseExpression(LOWEST)
			if !p.expectPeek(token.RPAREN) {
				return stmt
			}
			c := p.parseBlock()
			stmt.Cases = append(stmt.Cases, ast.IfCase{Test: t, Consequence: c})
			continue
		}
		stmt.Else = p.parseBlock()
		break
	}
	return stmt
}

func (p *Parser) parseWhileStatement() ast.Statement {
	tok := p.curToken
	if !p.expectPeek(token.LPAREN) {
		return &ast.WhileStatement{Base: ast.Base{Token: tok}}
	}
	p.nextToken()
	test := p.parseExpression(LOWEST)
	if !p.expectPeek(token.RPAREN) {
		return &ast.WhileStatement{Base: ast.Base{Token: tok}}
	}
	body := p.parseBlock()
	return &ast.WhileStatement{Base: ast.Base{Token: tok}, Test: test, Body: body}
}

// parseForOrForEachStatement disambiguates `for (init; test; update) {}`
// from `for (ident in source) {}` by looking for a single identifier
// immediately followed by `in`.
func (p *Parser) parseForOrForEachStatement() ast.Statement {
	tok := p.curToken
	if !p.expectPeek(token.LPAREN) {
		return &ast.ForStatement{Base: ast.Base{Token: tok}}
	}

	if p.peekIs(token.IDENT) {
		savedCur, savedPeek := p.curToken, p.peekToken
		p.nextToken()
		ident := &ast.Identifier{Base: ast.Base{Token: p.curToken}, Value: p.curToken.Literal}
		if p.peekIs(token.IN) {
			p.nextToken()
			p.nextToken()
			source := p.parseExpression(LOWEST)
			if !p.expectPeek(token.RPAREN) {
				return &ast.ForEachStatement{Base: ast.Base{Token: tok}}
			}
			body := p.parseBlock()
			return &ast.ForEachStatement{Base: ast.Base{Token: tok}, Ident: ident, Source: source, Body: body}
		}
		// Not a foreach: rewind to parse a normal C-style for-init clause.
		p.l.Rewind()
		p.curToken, p.peekToken = savedCur, savedPeek
	}

	stmt := &ast.ForStatement{Base: ast.Base{Token: tok}}
	p.nextToken()
	if !p.curIs(token.SEMICOLON) {
		stmt.Init = p.parseStatement()
	}
	if p.peekIs(token.SEMICOLON) && !p.curIs(token.SEMICOLON) {
		p.nextToken()
	}
	p.nextToken()
	if !p.curIs(token.SEMICOLON) {
		stmt.Test = p.parseExpression(LOWEST)
		if !p.expectPeek(token.SEMICOLON) {
			return stmt
		}
	}
	p.nextToken()
	if !p.curIs(token.RPAREN) {
		stmt.Update = p.parseExpression(LOWEST)
	}
	if !p.expectPeek(token.RPAREN) {
		return stmt
	}
	stmt.Body = p.parseBlock()
	return stmt
}

func (p *Parser) parseIncludeStatement() ast.Statement {
	tok := p.curToken
	if !p.expectPeek(token.STRING) {
		return &ast.IncludeStatement{Base: ast.Base{Token: tok}}
	}
	path := p.curToken.Literal
	if p.peekIs(token.SEMICOLON) {
		p.nextToken()
	}
	return &ast.IncludeStatement{Base: ast.Base{Token: tok}, Path: path}
}

func (p *Parser) parseRecoverStatement() ast.Statement {
	tok := p.curToken
	if !p.expectPeek(token.LPAREN) {
		return &ast.RecoverStatement{Base: ast.Base{Token: tok}}
	}
	if !p.expectPeek(token.IDENT) {
		return &ast.RecoverStatement{Base: ast.Base{Token: tok}}
	}
	errName := &ast.Identifier{Base: ast.Base{Token: p.curToken}, Value: p.curToken.Literal}
	if !p.expectPeek(token.RPAREN) {
		return &ast.RecoverStatement{Base: ast.Base{Token: tok}}
	}
	body := p.parseBlock()
	return &ast.RecoverStatement{Base: ast.Base{Token: tok}, ErrName: errName, Body: body}
}

// parseFunctionStatement parses `function name(params) { body }` as sugar
// for `const name = function name(params) { body };` (spec.md §4.2).
func (p *Parser) parseFunctionStatement() ast.Statement {
	tok := p.curToken
	fn := p.parseFunctionLiteral().(*ast.FunctionLiteral)
	name := &ast.Identifier{Base: ast.Base{Token: tok}, Value: fn.Name}
	return &ast.DefineStatement{Base: ast.Base{Token: tok}, Name: name, Value: fn, Assignable: false}
}

// --- expressions ---

func (p *Parser) parseExpression(precedence int) ast.Expression {
	prefix, ok := p.prefixFns[p.curToken.Type]
	if !ok {
		p.errf(p.curToken.Pos, "no prefix parse function for %s found", p.curToken.Type)
		return nil
	}
	left := prefix()

	for !p.peekIs(token.SEMICOLON) && precedence < p.peekPrecedence() {
		infix, ok := p.infixFns[p.peekToken.Type]
		if !ok {
			return left
		}
		p.nextToken()
		left = infix(left)
	}
	return left
}

func (p *Parser) parseIdentifier() ast.Expression {
	return &ast.Identifier{Base: ast.Base{Token: p.curToken}, Value: p.curToken.Literal}
}

func (p *Parser) parseNumberLiteral() ast.Expression {
	tok := p.curToken
	lit := tok.Literal
	isHex := strings.HasPrefix(lit, "0x") || strings.HasPrefix(lit, "0X")
	isInt := isHex || !strings.ContainsAny(lit, ".eE")

	var value float64
	if isHex {
		iv, err := strconv.ParseInt(lit[2:], 16, 64)
		if err != nil {
			p.errf(tok.Pos, "could not parse %q as an integer", lit)
			return nil
		}
		value = float64(iv)
	} else {
		v, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			p.errf(tok.Pos, "could not parse %q as a number", lit)
			return nil
		}
		value = v
	}
	return &ast.NumberLiteral{Base: ast.Base{Token: tok}, Value: value, IsInt: isInt}
}

func (p *Parser) parseStringLiteral() ast.Expression {
	return &ast.StringLiteral{Base: ast.Base{Token: p.curToken}, Value: p.curToken.Literal}
}

func (p *Parser) parseBool() ast.Expression {
	return &ast.BoolLiteral{Base: ast.Base{Token: p.curToken}, Value: p.curIs(token.TRUE)}
}

func (p *Parser) parseNull() ast.Expression {
	return &ast.NullLiteral{Base: ast.Base{Token: p.curToken}}
}

// parseTemplateString lowers `` `a${expr}b` `` to `"a" + tostring(expr) + "b"`.
func (p *Parser) parseTemplateString() ast.Expression {
	startTok := p.curToken
	var result ast.Expression = &ast.StringLiteral{Base: ast.Base{Token: startTok}, Value: startTok.Literal}
	continues := p.l.TemplateContinues()
	if continues {
		// peekToken was lexed from the "${" the TSTRING stopped before;
		// undo that read so EnterTemplateExpr starts at the '$'.
		p.l.Rewind()
	}

	for continues {
		p.l.EnterTemplateExpr()
		// The template segment's own lookahead buffering is stale once the
		// lexer jumps into "${...}": re-prime cur/peek directly from the
		// lexer rather than via nextToken, which would replay a token read
		// before EnterTemplateExpr was called.
		p.curToken = p.l.NextToken()
		p.peekToken = p.l.NextToken()

		expr := p.parseExpression(LOWEST)
		if expr == nil {
			return nil
		}
		if !p.expectPeek(token.RBRACE) {
			return nil
		}
		// expectPeek lexed one token past the "}"; undo it so
		// ContinueTemplate scans the next segment from right after the "}".
		p.l.Rewind()

		call := &ast.CallExpression{
			Base: ast.Base{Token: startTok},
			Callee: &ast.Identifier{
				Base:  ast.Base{Token: token.Token{Type: token.IDENT, Literal: "tostring", Pos: startTok.Pos}},
				Value: "tostring",
			},
			Args: []ast.Expression{expr},
		}
		result = &ast.InfixExpression{Base: ast.Base{Token: startTok}, Left: result, Operator: "+", Right: call}

		seg, cont, ok := p.l.ContinueTemplate()
		if !ok {
			p.errf(p.curToken.Pos, "unterminated template string")
			return nil
		}
		segTok := token.Token{Type: token.TSTRING, Literal: seg, Pos: startTok.Pos}
		result = &ast.InfixExpression{
			Base: ast.Base{Token: segTok}, Left: result, Operator: "+",
			Right: &ast.StringLiteral{Base: ast.Base{Token: segTok}, Value: seg},
		}

		if cont {
			continues = true
		} else {
			// The segment itself isn't a token the normal statement loop has
			// seen yet: stand curToken in for it, then prime peek normally
			// so parseExpression's caller resumes exactly where a plain
			// STRING token would have left it.
			p.curToken = segTok
			p.peekToken = p.l.NextToken()
			continues = false
		}
	}
	return result
}

func (p *Parser) parseArrayLiteral() ast.Expression {
	tok := p.curToken
	elems := p.parseExpressionList(token.RBRACKET)
	return &ast.ArrayLiteral{Base: ast.Base{Token: tok}, Elements: elems}
}

func (p *Parser) parseExpressionList(end token.Type) []ast.Expression {
	var list []ast.Expression
	if p.peekIs(end) {
		p.nextToken()
		return list
	}
	p.nextToken()
	list = append(list, p.parseExpression(LOWEST))
	for p.peekIs(token.COMMA) {
		p.nextToken()
		p.nextToken()
		list = append(list, p.parseExpression(LOWEST))
	}
	if !p.expectPeek(end) {
		return nil
	}
	return list
}

func (p *Parser) parseMapLiteral() ast.Expression {
	tok := p.curToken
	m := &ast.MapLiteral{Base: ast.Base{Token: tok}}

	for !p.peekIs(token.RBRACE) {
		p.nextToken()
		key := p.parseExpression(LOWEST)
		if !p.expectPeek(token.COLON) {
			return nil
		}
		p.nextToken()
		value := p.parseExpression(LOWEST)
		m.Keys = append(m.Keys, key)
		m.Values = append(m.Values, value)

		if !p.peekIs(token.RBRACE) && !p.expectPeek(token.COMMA) {
			return nil
		}
	}
	if !p.expectPeek(token.RBRACE) {
		return nil
	}
	return m
}

func (p *Parser) parsePrefixExpression() ast.Expression {
	tok := p.curToken
	p.nextToken()
	right := p.parseExpression(PREFIX)
	return &ast.PrefixExpression{Base: ast.Base{Token: tok}, Operator: tok.Literal, Right: right}
}

// parsePrefixIncDec parses `++x`/`--x`, desugaring to an assignment whose
// source is `x +/- 1`.
func (p *Parser) parsePrefixIncDec() ast.Expression {
	tok := p.curToken
	op := "+"
	if tok.Type == token.DECR {
		op = "-"
	}
	p.nextToken()
	dest := p.parseExpression(INCDEC)
	if !isAssignable(dest) {
		p.errf(tok.Pos, "invalid assignment target for %s", tok.Literal)
		return nil
	}
	one := &ast.NumberLiteral{Base: ast.Base{Token: tok}, Value: 1, IsInt: true}
	src := &ast.InfixExpression{Base: ast.Base{Token: tok}, Left: cloneExpr(dest), Operator: op, Right: one}
	return &ast.AssignmentExpression{Base: ast.Base{Token: tok}, Dest: dest, Source: src}
}

// parsePostfixIncDec parses `x++`/`x--`, desugaring to an assignment marked
// IsPostfix so the compiler emits the pre-modification value.
func (p *Parser) parsePostfixIncDec(left ast.Expression) ast.Expression {
	tok := p.curToken
	if !isAssignable(left) {
		p.errf(tok.Pos, "invalid assignment target for %s", tok.Literal)
		return nil
	}
	op := "+"
	if tok.Type == token.DECR {
		op = "-"
	}
	one := &ast.NumberLiteral{Base: ast.Base{Token: tok}, Value: 1, IsInt: true}
	src := &ast.InfixExpression{Base: ast.Base{Token: tok}, Left: cloneExpr(left), Operator: op, Right: one}
	return &ast.AssignmentExpression{Base: ast.Base{Token: tok}, Dest: left, Source: src, IsPostfix: true}
}

func (p *Parser) parseInfixExpression(left ast.Expression) ast.Expression {
	tok := p.curToken
	precedence := p.curPrecedence()
	op := tok.Literal
	// `<` and `<=` lower as `>` and `>=` with operands swapped, so the VM
	// only needs one comparison-direction opcode pair (spec.md §4.4.4).
	if tok.Type == token.LT || tok.Type == token.LTE {
		p.nextToken()
		right := p.parseExpression(precedence)
		swapOp := ">"
		if tok.Type == token.LTE {
			swapOp = ">="
		}
		return &ast.InfixExpression{Base: ast.Base{Token: tok}, Left: right, Operator: swapOp, Right: left}
	}
	p.nextToken()
	right := p.parseExpression(precedence)
	return &ast.InfixExpression{Base: ast.Base{Token: tok}, Left: left, Operator: op, Right: right}
}

func (p *Parser) parseLogicalExpression(left ast.Expression) ast.Expression {
	tok := p.curToken
	precedence := p.curPrecedence()
	p.nextToken()
	right := p.parseExpression(precedence)
	return &ast.LogicalExpression{Base: ast.Base{Token: tok}, Left: left, Operator: tok.Literal, Right: right}
}

func (p *Parser) parseTernaryExpression(test ast.Expression) ast.Expression {
	tok := p.curToken
	p.nextToken()
	then := p.parseExpression(TERNARY)
	if !p.expectPeek(token.COLON) {
		return nil
	}
	p.nextToken()
	alt := p.parseExpression(TERNARY)
	return &ast.TernaryExpression{Base: ast.Base{Token: tok}, Test: test, Then: then, Else: alt}
}

func (p *Parser) parseGroupedExpression() ast.Expression {
	p.nextToken()
	expr := p.parseExpression(LOWEST)
	if !p.expectPeek(token.RPAREN) {
		return nil
	}
	return expr
}

func (p *Parser) parseIndexExpression(left ast.Expression) ast.Expression {
	tok := p.curToken
	p.nextToken()
	idx := p.parseExpression(LOWEST)
	if !p.expectPeek(token.RBRACKET) {
		return nil
	}
	return &ast.IndexExpression{Base: ast.Base{Token: tok}, Left: left, Index: idx}
}

func (p *Parser) parseDotExpression(left ast.Expression) ast.Expression {
	tok := p.curToken
	if !p.expectPeek(token.IDENT) {
		return nil
	}
	return &ast.DotExpression{Base: ast.Base{Token: tok}, Left: left, Name: p.curToken.Literal}
}

func (p *Parser) parseCallExpression(callee ast.Expression) ast.Expression {
	tok := p.curToken
	args := p.parseExpressionList(token.RPAREN)
	return &ast.CallExpression{Base: ast.Base{Token: tok}, Callee: callee, Args: args}
}

func (p *Parser) parseFunctionLiteral() ast.Expression {
	tok := p.curToken
	fn := &ast.FunctionLiteral{Base: ast.Base{Token: tok}}

	if p.peekIs(token.IDENT) {
		p.nextToken()
		fn.Name = p.curToken.Literal
	}

	if !p.expectPeek(token.LPAREN) {
		return fn
	}
	fn.Params = p.parseFunctionParams()
	fn.Body = p.parseBlock()
	return fn
}

func (p *Parser) parseFunctionParams() []*ast.Identifier {
	var params []*ast.Identifier
	if p.peekIs(token.RPAREN) {
		p.nextToken()
		return params
	}
	p.nextToken()
	params = append(params, &ast.Identifier{Base: ast.Base{Token: p.curToken}, Value: p.curToken.Literal})
	for p.peekIs(token.COMMA) {
		p.nextToken()
		p.nextToken()
		params = append(params, &ast.Identifier{Base: ast.Base{Token: p.curToken}, Value: p.curToken.Literal})
	}
	if !p.expectPeek(token.RPAREN) {
		return nil
	}
	return params
}

// parseAssignExpression parses `dest = source`; dest must be an identifier,
// index expression, or dot expression (spec.md §4.4.4).
func (p *Parser) parseAssignExpression(left ast.Expression) ast.Expression {
	tok := p.curToken
	if !isAssignable(left) {
		p.errf(tok.Pos, "invalid assignment target")
		return nil
	}
	p.nextToken()
	src := p.parseExpression(ASSIGN - 1)
	return &ast.AssignmentExpression{Base: ast.Base{Token: tok}, Dest: left, Source: src}
}

// parseCompoundAssignExpression desugars `x op= rhs` to `x = x op rhs`.
func (p *Parser) parseCompoundAssignExpression(left ast.Expression) ast.Expression {
	tok := p.curToken
	if !isAssignable(left) {
		p.errf(tok.Pos, "invalid assignment target")
		return nil
	}
	op := compoundOps[tok.Type]
	p.nextToken()
	rhs := p.parseExpression(ASSIGN - 1)
	src := &ast.InfixExpression{Base: ast.Base{Token: tok}, Left: cloneExpr(left), Operator: op, Right: rhs}
	return &ast.AssignmentExpression{Base: ast.Base{Token: tok}, Dest: left, Source: src}
}

func isAssignable(e ast.Expression) bool {
	switch e.(type) {
	case *ast.Identifier, *ast.IndexExpression, *ast.DotExpression:
		return true
	default:
		return false
	}
}

// cloneExpr duplicates an assignable destination expression so it can be
// referenced both as the assignment's Dest and inside its desugared Source,
// without two AST slots sharing one node (spec.md §4.2).
func cloneExpr(e ast.Expression) ast.Expression {
	switch v := e.(type) {
	case *ast.Identifier:
		c := *v
		return &c
	case *ast.IndexExpression:
		c := *v
		return &c
	case *ast.DotExpression:
		c := *v
		return &c
	default:
		return e
	}
}

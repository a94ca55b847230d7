// Package parser implements the infix expression grammar: a
// precedence-climbing descent over the token stream produced by
// internal/lexer, driven by a precedence table instead of hand-nested
// call levels, to match an explicit 12-tier operator table.
package parser

import (
	"fmt"

	"miniexpr/internal/ast"
	"miniexpr/internal/lexer"
)

// ParseError is a position-indexed parse diagnostic.
type ParseError struct {
	Msg string
	Pos lexer.Position
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error: %s at %s", e.Msg, e.Pos)
}

// precedence ranks binary operators from loosest (1) to tightest. `**` is
// handled separately (right-associative, tighter than unary on its left
// operand).
var precedence = map[lexer.TokenType]int{
	lexer.TokenOr:  1,
	lexer.TokenAnd: 2,

	lexer.TokenPipe: 3,
	lexer.TokenCirc: 4,
	lexer.TokenAmp:  5,

	lexer.TokenEq: 6,
	lexer.TokenNe: 6,

	lexer.TokenLT: 7,
	lexer.TokenLE: 7,
	lexer.TokenGT: 7,
	lexer.TokenGE: 7,

	lexer.TokenShl: 8,
	lexer.TokenShr: 8,

	lexer.TokenPlus:  9,
	lexer.TokenMinus: 9,

	lexer.TokenStar:    10,
	lexer.TokenSlash:   10,
	lexer.TokenPercent: 10,
}

const powPrecedence = 12
const unaryPrecedence = 11

type Parser struct {
	tokens  []lexer.Token
	current int
}

func New(tokens []lexer.Token) *Parser {
	return &Parser{tokens: tokens}
}

// Parse parses a full expression and requires EOF to follow.
func Parse(tokens []lexer.Token) (ast.Expr, error) {
	p := New(tokens)
	e, err := p.ParseExpr()
	if err != nil {
		return nil, err
	}
	if !p.check(lexer.TokenEOF) {
		return nil, &ParseError{Msg: fmt.Sprintf("unexpected trailing token %s", p.peek().Lexeme), Pos: p.peek().Pos}
	}
	return e, nil
}

// ParseExpr parses one expression, leaving the cursor wherever it stops
// (used by callers, such as the DSL statement parser, that embed
// expressions inside a larger grammar).
func (p *Parser) ParseExpr() (ast.Expr, error) {
	return p.parseBinary(1)
}

func (p *Parser) Pos() int      { return p.current }
func (p *Parser) AtEOF() bool   { return p.check(lexer.TokenEOF) }
func (p *Parser) Peek() lexer.Token { return p.peek() }

func (p *Parser) parseBinary(minPrec int) (ast.Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		prec, ok := precedence[tok.Type]
		if !ok || prec < minPrec {
			return left, nil
		}
		p.advance()
		right, err := p.parseBinary(prec + 1)
		if err != nil {
			return nil, err
		}
		left = &ast.Binary{Op: opText(tok), Left: left, Right: right, Pos: tok.Pos}
	}
}

func (p *Parser) parseUnary() (ast.Expr, error) {
	tok := p.peek()
	switch tok.Type {
	case lexer.TokenPlus, lexer.TokenMinus, lexer.TokenTilde, lexer.TokenNot:
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &ast.Unary{Op: opText(tok), Operand: operand, Pos: tok.Pos}, nil
	}
	return p.parsePow()
}

// parsePow handles right-associative `**`, binding tighter than unary minus
// on its right operand but looser than the primary/call grammar.
func (p *Parser) parsePow() (ast.Expr, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if p.check(lexer.TokenPow) {
		tok := p.advance()
		exp, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &ast.Binary{Op: "**", Left: base, Right: exp, Pos: tok.Pos}, nil
	}
	return base, nil
}

func (p *Parser) parsePrimary() (ast.Expr, error) {
	tok := p.peek()
	switch tok.Type {
	case lexer.TokenNumber:
		p.advance()
		return &ast.NumberLit{Lexeme: tok.Lexeme, Pos: tok.Pos}, nil
	case lexer.TokenString:
		p.advance()
		return &ast.StringLit{Value: tok.Lexeme, Pos: tok.Pos}, nil
	case lexer.TokenTrue:
		p.advance()
		return &ast.BoolLit{Value: true, Pos: tok.Pos}, nil
	case lexer.TokenFalse:
		p.advance()
		return &ast.BoolLit{Value: false, Pos: tok.Pos}, nil
	case lexer.TokenIdent:
		p.advance()
		if p.check(lexer.TokenLParen) {
			return p.finishCall(tok)
		}
		return &ast.Ident{Name: tok.Lexeme, Pos: tok.Pos}, nil
	case lexer.TokenLParen:
		p.advance()
		inner, err := p.parseBinary(1)
		if err != nil {
			return nil, err
		}
		if _, err := p.consume(lexer.TokenRParen, "expected ')'"); err != nil {
			return nil, err
		}
		return inner, nil
	}
	return nil, &ParseError{Msg: fmt.Sprintf("unexpected token %s", tok.Lexeme), Pos: tok.Pos}
}

func (p *Parser) finishCall(name lexer.Token) (ast.Expr, error) {
	if _, err := p.consume(lexer.TokenLParen, "expected '('"); err != nil {
		return nil, err
	}
	var args []ast.Expr
	if !p.check(lexer.TokenRParen) {
		for {
			arg, err := p.parseBinary(1)
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if !p.match(lexer.TokenComma) {
				break
			}
		}
	}
	if _, err := p.consume(lexer.TokenRParen, "expected ')' after call arguments"); err != nil {
		return nil, err
	}
	return &ast.Call{Name: name.Lexeme, Args: args, Pos: name.Pos}, nil
}

func opText(tok lexer.Token) string {
	switch tok.Type {
	case lexer.TokenAnd:
		return "and"
	case lexer.TokenOr:
		return "or"
	case lexer.TokenNot:
		return "not"
	default:
		return string(tok.Type)
	}
}

func (p *Parser) peek() lexer.Token {
	return p.tokens[p.current]
}

func (p *Parser) check(t lexer.TokenType) bool {
	return p.peek().Type == t
}

func (p *Parser) advance() lexer.Token {
	tok := p.tokens[p.current]
	if tok.Type != lexer.TokenEOF {
		p.current++
	}
	return tok
}

func (p *Parser) match(t lexer.TokenType) bool {
	if p.check(t) {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) consume(t lexer.TokenType, msg string) (lexer.Token, error) {
	if p.check(t) {
		return p.advance(), nil
	}
	return lexer.Token{}, &ParseError{Msg: msg, Pos: p.peek().Pos}
}

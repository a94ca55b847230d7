// Package ast is the untyped syntax tree produced by the infix expression
// parser, shared verbatim by expressions embedded in DSL kernel bodies.
// Type resolution happens later, in internal/sema.
package ast

import "miniexpr/internal/lexer"

// Expr is any node of the untyped expression tree.
type Expr interface {
	Accept(v Visitor) interface{}
	Position() lexer.Position
}

// NumberLit is a numeric literal kept as its source Lexeme; the semantic
// analyzer reads the lexical form (decimal, hex, scientific) from it to
// apply the suffix-less adoption rules (float32 vs float64, int32 vs int64).
type NumberLit struct {
	Lexeme string
	Pos    lexer.Position
}

func (n *NumberLit) Accept(v Visitor) interface{}    { return v.VisitNumberLit(n) }
func (n *NumberLit) Position() lexer.Position        { return n.Pos }

// StringLit is a double-quoted string literal.
type StringLit struct {
	Value string
	Pos   lexer.Position
}

func (s *StringLit) Accept(v Visitor) interface{} { return v.VisitStringLit(s) }
func (s *StringLit) Position() lexer.Position     { return s.Pos }

// BoolLit is `true`/`false`.
type BoolLit struct {
	Value bool
	Pos   lexer.Position
}

func (b *BoolLit) Accept(v Visitor) interface{} { return v.VisitBoolLit(b) }
func (b *BoolLit) Position() lexer.Position     { return b.Pos }

// Ident is a variable reference or a reserved index (_i0, _n0, _ndim,
// _global_linear_idx).
type Ident struct {
	Name string
	Pos  lexer.Position
}

func (i *Ident) Accept(v Visitor) interface{} { return v.VisitIdent(i) }
func (i *Ident) Position() lexer.Position     { return i.Pos }

// Unary is a prefix operator: + - ~ not.
type Unary struct {
	Op      string
	Operand Expr
	Pos     lexer.Position
}

func (u *Unary) Accept(v Visitor) interface{} { return v.VisitUnary(u) }
func (u *Unary) Position() lexer.Position     { return u.Pos }

// Binary is an infix operator per the precedence table, including
// `and`/`or` (kept as Binary rather than a separate Logical node: MiniExpr
// has no short-circuit requirement since operands are always evaluated
// array-wide).
type Binary struct {
	Op    string
	Left  Expr
	Right Expr
	Pos   lexer.Position
}

func (b *Binary) Accept(v Visitor) interface{} { return v.VisitBinary(b) }
func (b *Binary) Position() lexer.Position     { return b.Pos }

// Call is a function or reduction invocation: sin(x), sum(x), where(c,a,b).
type Call struct {
	Name string
	Args []Expr
	Pos  lexer.Position
}

func (c *Call) Accept(v Visitor) interface{} { return v.VisitCall(c) }
func (c *Call) Position() lexer.Position     { return c.Pos }

type Visitor interface {
	VisitNumberLit(n *NumberLit) interface{}
	VisitStringLit(s *StringLit) interface{}
	VisitBoolLit(b *BoolLit) interface{}
	VisitIdent(i *Ident) interface{}
	VisitUnary(u *Unary) interface{}
	VisitBinary(b *Binary) interface{}
	VisitCall(c *Call) interface{}
}

package parser

import (
	"testing"

	"miniexpr/internal/ast"
	"miniexpr/internal/lexer"
)

func mustTokens(t *testing.T, src string) []lexer.Token {
	t.Helper()
	toks, err := lexer.NewScanner(src).ScanTokens()
	if err != nil {
		t.Fatalf("lex error: %v", err)
	}
	return toks
}

func TestPrecedence(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"1 + 2 * 3", "(1 + (2 * 3))"},
		{"(1 + 2) * 3", "((1 + 2) * 3)"},
		{"2 ** 3 ** 2", "(2 ** (3 ** 2))"},
		{"-2 ** 2", "(-(2 ** 2))"},
		{"a and b or c", "((a and b) or c)"},
		{"a | b & c", "(a | (b & c))"},
		{"a < b and b < c", "((a < b) and (b < c))"},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			e, err := Parse(mustTokens(t, tt.src))
			if err != nil {
				t.Fatalf("parse error: %v", err)
			}
			got := render(e)
			if got != tt.want {
				t.Errorf("render(%q) = %q, want %q", tt.src, got, tt.want)
			}
		})
	}
}

func TestCallParsing(t *testing.T) {
	e, err := Parse(mustTokens(t, `sum(a + b, 2)`))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	call, ok := e.(*ast.Call)
	if !ok {
		t.Fatalf("got %T, want *ast.Call", e)
	}
	if call.Name != "sum" || len(call.Args) != 2 {
		t.Fatalf("unexpected call shape: %+v", call)
	}
}

func TestUnterminatedParenIsParseError(t *testing.T) {
	_, err := Parse(mustTokens(t, `(1 + 2`))
	if err == nil {
		t.Fatal("expected a parse error")
	}
	if _, ok := err.(*ParseError); !ok {
		t.Fatalf("got %T, want *ParseError", err)
	}
}

// render turns an expression back into a fully-parenthesized string so
// precedence/associativity are unambiguous to assert on.
func render(e ast.Expr) string {
	switch n := e.(type) {
	case *ast.NumberLit:
		return n.Lexeme
	case *ast.Ident:
		return n.Name
	case *ast.BoolLit:
		if n.Value {
			return "true"
		}
		return "false"
	case *ast.StringLit:
		return n.Value
	case *ast.Unary:
		return "(" + n.Op + render(n.Operand) + ")"
	case *ast.Binary:
		return "(" + render(n.Left) + " " + n.Op + " " + render(n.Right) + ")"
	case *ast.Call:
		s := n.Name + "("
		for i, a := range n.Args {
			if i > 0 {
				s += ", "
			}
			s += render(a)
		}
		return s + ")"
	}
	return "?"
}

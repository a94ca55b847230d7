package dslstmt

import (
	"fmt"
	"strings"

	"miniexpr/internal/ast"
	"miniexpr/internal/lexer"
	"miniexpr/internal/parser"
)

// ParseError is a position-indexed DSL parse diagnostic.
type ParseError struct {
	Msg string
	Pos lexer.Position
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("dsl parse error: %s at %s", e.Msg, e.Pos)
}

// allowedPragmas enumerates every recognized `# me:KEY=VALUE` key and its
// closed value set.
var allowedPragmas = map[string]map[string]bool{
	"fp":       {"strict": true, "contract": true, "fast": true},
	"compiler": {"cc": true, "tcc": true},
	"dialect":  {"vector": true, "element": true},
}

type line struct {
	indent int
	text   string // comment-stripped, right-trimmed
	lineNo int
}

// Parse parses a full DSL source into a Kernel.
func Parse(source string) (*Kernel, error) {
	lines, pragmas, err := splitLines(source)
	if err != nil {
		return nil, err
	}
	idx := 0
	for idx < len(lines) && lines[idx].text == "" {
		idx++
	}
	if idx >= len(lines) {
		return nil, &ParseError{Msg: "empty kernel source", Pos: lexer.Position{Line: 1, Column: 1}}
	}
	header := lines[idx]
	params, err := parseHeader(header)
	if err != nil {
		return nil, err
	}
	idx++

	bodyLines := nonEmptyFrom(lines, idx)
	if len(bodyLines) == 0 {
		return nil, &ParseError{Msg: "kernel has no body", Pos: pos(header)}
	}
	bodyIndent := bodyLines[0].indent
	if bodyIndent <= header.indent {
		return nil, &ParseError{Msg: "kernel body must be indented", Pos: pos(bodyLines[0])}
	}

	cursor := 0
	body, err := parseBlock(bodyLines, &cursor, bodyIndent)
	if err != nil {
		return nil, err
	}
	if cursor != len(bodyLines) {
		return nil, &ParseError{Msg: "unexpected indentation", Pos: pos(bodyLines[cursor])}
	}

	return &Kernel{Params: params, Pragmas: pragmas, Body: body, Pos: pos(header)}, nil
}

// splitLines tokenizes the source into physical lines, stripping blank
// lines and ordinary comments, while collecting `# me:KEY=VALUE` pragma
// lines that appear before the `def` header into a map. Pragma lines may
// only appear before the kernel header; unknown keys are rejected
// immediately as a compile-time error.
func splitLines(source string) ([]line, map[string]string, error) {
	pragmas := map[string]string{}
	raw := strings.Split(source, "\n")
	var out []line
	sawHeader := false
	for i, text := range raw {
		lineNo := i + 1
		trimmed := strings.TrimRight(text, " \t\r")
		stripped := strings.TrimLeft(trimmed, " \t")
		indent := len(trimmed) - len(stripped)

		if strings.HasPrefix(stripped, "# me:") {
			if sawHeader {
				return nil, nil, &ParseError{Msg: "pragma comment must appear before the kernel header", Pos: lexer.Position{Line: lineNo, Column: indent + 1}}
			}
			kv := strings.TrimPrefix(stripped, "# me:")
			parts := strings.SplitN(kv, "=", 2)
			if len(parts) != 2 {
				return nil, nil, &ParseError{Msg: fmt.Sprintf("malformed pragma %q", stripped), Pos: lexer.Position{Line: lineNo, Column: indent + 1}}
			}
			key, val := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
			allowedVals, known := allowedPragmas[key]
			if !known {
				return nil, nil, &ParseError{Msg: fmt.Sprintf("unknown pragma key %q", key), Pos: lexer.Position{Line: lineNo, Column: indent + 1}}
			}
			if !allowedVals[val] {
				return nil, nil, &ParseError{Msg: fmt.Sprintf("invalid value %q for pragma %q", val, key), Pos: lexer.Position{Line: lineNo, Column: indent + 1}}
			}
			pragmas[key] = val
			continue
		}
		if idxHash := strings.IndexByte(stripped, '#'); idxHash >= 0 {
			stripped = strings.TrimRight(stripped[:idxHash], " \t")
		}
		if stripped == "" {
			continue
		}
		if strings.HasPrefix(stripped, "def ") {
			sawHeader = true
		}
		out = append(out, line{indent: indent, text: stripped, lineNo: lineNo})
	}
	return out, pragmas, nil
}

func nonEmptyFrom(lines []line, idx int) []line {
	return lines[idx:]
}

func pos(l line) lexer.Position {
	return lexer.Position{Line: l.lineNo, Column: l.indent + 1}
}

// parseHeader parses `def kernel(p1, p2, ...):`.
func parseHeader(l line) ([]string, error) {
	text := l.text
	if !strings.HasPrefix(text, "def ") {
		return nil, &ParseError{Msg: "expected 'def kernel(...):'", Pos: pos(l)}
	}
	open := strings.IndexByte(text, '(')
	close := strings.LastIndexByte(text, ')')
	if open < 0 || close < open {
		return nil, &ParseError{Msg: "malformed kernel header", Pos: pos(l)}
	}
	if !strings.HasSuffix(strings.TrimSpace(text[close+1:]), ":") {
		return nil, &ParseError{Msg: "kernel header must end with ':'", Pos: pos(l)}
	}
	paramStr := strings.TrimSpace(text[open+1 : close])
	var params []string
	if paramStr != "" {
		for _, p := range strings.Split(paramStr, ",") {
			params = append(params, strings.TrimSpace(p))
		}
	}
	return params, nil
}

// parseBlock consumes every line at exactly the given indent (recursing
// into nested blocks for if/for headers) until indentation drops below
// indent or input is exhausted.
func parseBlock(lines []line, cursor *int, indent int) ([]Stmt, error) {
	var stmts []Stmt
	for *cursor < len(lines) {
		l := lines[*cursor]
		if l.indent < indent {
			break
		}
		if l.indent > indent {
			return nil, &ParseError{Msg: "unexpected indentation", Pos: pos(l)}
		}
		stmt, err := parseStmt(lines, cursor, indent)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
	return stmts, nil
}

func parseStmt(lines []line, cursor *int, indent int) (Stmt, error) {
	l := lines[*cursor]
	text := l.text

	switch {
	case strings.HasPrefix(text, "if ") && strings.HasSuffix(text, ":"):
		return parseIf(lines, cursor, indent)
	case strings.HasPrefix(text, "for ") && strings.HasSuffix(text, ":"):
		return parseFor(lines, cursor, indent)
	case text == "break" || strings.HasPrefix(text, "break if "):
		*cursor++
		return parseBreakContinue(text, l, true)
	case text == "continue" || strings.HasPrefix(text, "continue if "):
		*cursor++
		return parseBreakContinue(text, l, false)
	case strings.HasPrefix(text, "return"):
		*cursor++
		rest := strings.TrimSpace(strings.TrimPrefix(text, "return"))
		if rest == "" {
			return &Return{Value: nil, Pos: pos(l)}, nil
		}
		expr, err := parseExprString(rest, l)
		if err != nil {
			return nil, err
		}
		return &Return{Value: expr, Pos: pos(l)}, nil
	default:
		eq := strings.Index(text, "=")
		if eq <= 0 || (eq+1 < len(text) && text[eq+1] == '=') {
			return nil, &ParseError{Msg: fmt.Sprintf("unrecognized statement %q", text), Pos: pos(l)}
		}
		name := strings.TrimSpace(text[:eq])
		rhs := strings.TrimSpace(text[eq+1:])
		*cursor++
		expr, err := parseExprString(rhs, l)
		if err != nil {
			return nil, err
		}
		return &Assign{Name: name, Value: expr, Pos: pos(l)}, nil
	}
}

func parseBreakContinue(text string, l line, isBreak bool) (Stmt, error) {
	var condExpr ast.Expr
	prefix := "continue if "
	if isBreak {
		prefix = "break if "
	}
	if strings.HasPrefix(text, prefix) {
		cond := strings.TrimSpace(strings.TrimPrefix(text, prefix))
		e, err := parseExprString(cond, l)
		if err != nil {
			return nil, err
		}
		condExpr = e
	}
	if isBreak {
		return &Break{Cond: condExpr, Pos: pos(l)}, nil
	}
	return &Continue{Cond: condExpr, Pos: pos(l)}, nil
}

func parseIf(lines []line, cursor *int, indent int) (Stmt, error) {
	l := lines[*cursor]
	condText := strings.TrimSuffix(strings.TrimPrefix(l.text, "if "), ":")
	cond, err := parseExprString(condText, l)
	if err != nil {
		return nil, err
	}
	*cursor++
	thenBody, innerIndent, err := parseIndentedBody(lines, cursor, indent)
	if err != nil {
		return nil, err
	}
	_ = innerIndent

	node := &If{Cond: cond, Then: thenBody, Pos: pos(l)}

	if *cursor < len(lines) && lines[*cursor].indent == indent {
		next := lines[*cursor].text
		switch {
		case strings.HasPrefix(next, "elif ") && strings.HasSuffix(next, ":"):
			elifLine := lines[*cursor]
			rewritten := "if " + strings.TrimPrefix(next, "elif ")
			lines[*cursor] = line{indent: elifLine.indent, text: rewritten, lineNo: elifLine.lineNo}
			elifStmt, err := parseIf(lines, cursor, indent)
			if err != nil {
				return nil, err
			}
			node.Else = []Stmt{elifStmt}
		case next == "else:":
			*cursor++
			elseBody, _, err := parseIndentedBody(lines, cursor, indent)
			if err != nil {
				return nil, err
			}
			node.Else = elseBody
		}
	}
	return node, nil
}

func parseFor(lines []line, cursor *int, indent int) (Stmt, error) {
	l := lines[*cursor]
	header := strings.TrimSuffix(l.text, ":")
	// for NAME in range(...)
	const forPrefix = "for "
	rest := strings.TrimPrefix(header, forPrefix)
	inIdx := strings.Index(rest, " in ")
	if inIdx < 0 {
		return nil, &ParseError{Msg: "expected 'for NAME in range(...)'", Pos: pos(l)}
	}
	varName := strings.TrimSpace(rest[:inIdx])
	rangeExpr := strings.TrimSpace(rest[inIdx+len(" in "):])
	if !strings.HasPrefix(rangeExpr, "range(") || !strings.HasSuffix(rangeExpr, ")") {
		return nil, &ParseError{Msg: "for loops must iterate over range(...)", Pos: pos(l)}
	}
	argsStr := rangeExpr[len("range(") : len(rangeExpr)-1]
	var args []string
	if strings.TrimSpace(argsStr) != "" {
		for _, a := range strings.Split(argsStr, ",") {
			args = append(args, strings.TrimSpace(a))
		}
	}
	var start, stop, step ast.Expr
	var err error
	switch len(args) {
	case 1:
		stop, err = parseExprString(args[0], l)
	case 2:
		start, err = parseExprString(args[0], l)
		if err == nil {
			stop, err = parseExprString(args[1], l)
		}
	case 3:
		start, err = parseExprString(args[0], l)
		if err == nil {
			stop, err = parseExprString(args[1], l)
		}
		if err == nil {
			step, err = parseExprString(args[2], l)
		}
	default:
		return nil, &ParseError{Msg: "range() takes 1 to 3 arguments", Pos: pos(l)}
	}
	if err != nil {
		return nil, err
	}

	*cursor++
	body, _, err := parseIndentedBody(lines, cursor, indent)
	if err != nil {
		return nil, err
	}
	return &For{Var: varName, Start: start, Stop: stop, Step: step, Body: body, Pos: pos(l)}, nil
}

// parseIndentedBody consumes a nested block whose indent must exceed
// parentIndent, returning its statements and the indent level used.
func parseIndentedBody(lines []line, cursor *int, parentIndent int) ([]Stmt, int, error) {
	if *cursor >= len(lines) || lines[*cursor].indent <= parentIndent {
		pos := lexer.Position{Line: 0, Column: 0}
		if *cursor < len(lines) {
			pos = lexer.Position{Line: lines[*cursor].lineNo, Column: lines[*cursor].indent + 1}
		}
		return nil, 0, &ParseError{Msg: "expected an indented block", Pos: pos}
	}
	innerIndent := lines[*cursor].indent
	body, err := parseBlock(lines, cursor, innerIndent)
	return body, innerIndent, err
}

func parseExprString(s string, l line) (ast.Expr, error) {
	sc := lexer.NewScanner(s)
	toks, err := sc.ScanTokens()
	if err != nil {
		if le, ok := err.(*lexer.LexError); ok {
			return nil, &ParseError{Msg: le.Msg, Pos: lexer.Position{Line: l.lineNo, Column: l.indent + le.Pos.Column}}
		}
		return nil, &ParseError{Msg: err.Error(), Pos: pos(l)}
	}
	expr, err := parser.Parse(toks)
	if err != nil {
		if pe, ok := err.(*parser.ParseError); ok {
			return nil, &ParseError{Msg: pe.Msg, Pos: lexer.Position{Line: l.lineNo, Column: l.indent + pe.Pos.Column}}
		}
		return nil, &ParseError{Msg: err.Error(), Pos: pos(l)}
	}
	return expr, nil
}

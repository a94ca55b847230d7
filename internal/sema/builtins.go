package sema

import "miniexpr/internal/dtype"

// argKind restricts which operand dtypes a builtin call accepts: most trig
// and transcendental functions are real-only, abs() accepts complex too, and
// the string predicates live outside this table entirely since their
// argument shape (string, string-literal) isn't a single-dtype rule.
type argKind int

const (
	argRealOnly argKind = iota // reject COMPLEX and STRING
	argNumeric                 // reject only STRING
)

type outputRule func(dtype.DType) dtype.DType

func floatOfInput(d dtype.DType) dtype.DType {
	if d.IsFloat() {
		return d
	}
	switch d {
	case dtype.Bool, dtype.Int8, dtype.Int16, dtype.Int32, dtype.Uint8, dtype.Uint16, dtype.Uint32:
		return dtype.Float32
	default:
		return dtype.Float64
	}
}

func sameAsInput(d dtype.DType) dtype.DType { return d }

func absOutput(d dtype.DType) dtype.DType {
	switch d {
	case dtype.Complex64:
		return dtype.Float32
	case dtype.Complex128:
		return dtype.Float64
	default:
		return d
	}
}

type unaryBuiltin struct {
	kind argKind
	out  outputRule
}

// unaryBuiltins is the single-argument library function table shared by the
// infix and DSL expression analyzers.
var unaryBuiltins = map[string]unaryBuiltin{
	"sin":   {argRealOnly, floatOfInput},
	"cos":   {argRealOnly, floatOfInput},
	"tan":   {argRealOnly, floatOfInput},
	"exp":   {argRealOnly, floatOfInput},
	"log":   {argRealOnly, floatOfInput},
	"log2":  {argRealOnly, floatOfInput},
	"log10": {argRealOnly, floatOfInput},
	"sqrt":  {argRealOnly, floatOfInput},
	"floor": {argRealOnly, floatOfInput},
	"ceil":  {argRealOnly, floatOfInput},
	"round": {argRealOnly, floatOfInput},
	"sign":  {argRealOnly, sameAsInput},
	"abs":   {argNumeric, absOutput},
}

// stringPredicates names the two-argument (string, string-literal) -> BOOL
// builtins.
var stringPredicates = map[string]bool{
	"startswith": true,
	"endswith":   true,
	"contains":   true,
}

// reductionKinds names the whole-array reduction builtins. Syntactically
// these are ordinary Call nodes; the analyzer recognizes the
// name and lowers to ir.KindReduce instead of ir.KindCall.
var reductionKinds = map[string]bool{
	"sum": true, "prod": true, "min": true, "max": true, "any": true, "all": true,
}

// isMinMax distinguishes the two reduction kinds that also exist as the
// binary/ternary functions min(a,b) and max(a,b) (elementwise, not a
// reduction) from the single-argument reduction forms. Arity alone
// disambiguates: one argument is always the reduction.
func isMinMax(name string) bool { return name == "min" || name == "max" }

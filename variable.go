package miniexpr

import (
	"fmt"

	"miniexpr/internal/dtype"
)

// Variable declares one named input (or output) slot a source expression
// may reference. ItemSize is the fixed per-row byte width of a NUL-padded
// buffer and is only meaningful for DType == dtype.String; it is rejected
// for every other dtype.
type Variable struct {
	Name     string
	DType    dtype.DType
	ItemSize int
}

// NewVariable builds a Variable, validating ItemSize against DType via
// dtype.ValidateVariable.
func NewVariable(name string, dt dtype.DType, itemSize int) (Variable, error) {
	if name == "" {
		return Variable{}, fmt.Errorf("miniexpr: variable name must not be empty")
	}
	if err := dtype.ValidateVariable(dt, itemSize); err != nil {
		return Variable{}, err
	}
	return Variable{Name: name, DType: dt, ItemSize: itemSize}, nil
}

// Variables builds a validated variable set for Compile/CompileND: it
// rejects duplicate names up front, since the analyzer does not detect a
// duplicate: the later declaration silently replaces the earlier one.
func Variables(vs ...Variable) ([]Variable, error) {
	seen := make(map[string]bool, len(vs))
	for _, v := range vs {
		if seen[v.Name] {
			return nil, fmt.Errorf("miniexpr: variable %q declared more than once", v.Name)
		}
		seen[v.Name] = true
	}
	return vs, nil
}

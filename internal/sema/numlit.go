package sema

import (
	"strconv"
	"strings"

	"miniexpr/internal/dtype"
)

// parseNumberLiteral implements the suffix-less literal adoption rules:
// hex literals are always integers; a literal with a decimal point
// or exponent is always a float, narrowed to FLOAT32 only when every
// declared variable (referenced or not) is itself <=32-bit float/int
// (narrowFloats);
// otherwise a bare integer literal adopts the narrowest of INT32/INT64 (or
// UINT64 on INT64 overflow) that holds its value.
func parseNumberLiteral(lexeme string, narrowFloats bool) (interface{}, dtype.DType, error) {
	lower := strings.ToLower(lexeme)
	if strings.HasPrefix(lower, "0x") {
		v, err := strconv.ParseUint(lexeme[2:], 16, 64)
		if err != nil {
			return nil, dtype.Invalid, err
		}
		if v <= 1<<31-1 {
			return int64(v), dtype.Int32, nil
		}
		return int64(v), dtype.Int64, nil
	}

	if strings.ContainsAny(lexeme, ".eE") {
		v, err := strconv.ParseFloat(lexeme, 64)
		if err != nil {
			return nil, dtype.Invalid, err
		}
		if narrowFloats {
			return float32(v), dtype.Float32, nil
		}
		return v, dtype.Float64, nil
	}

	v, err := strconv.ParseInt(lexeme, 10, 64)
	if err != nil {
		uv, uerr := strconv.ParseUint(lexeme, 10, 64)
		if uerr != nil {
			return nil, dtype.Invalid, err
		}
		return uv, dtype.Uint64, nil
	}
	if v >= -(1<<31) && v <= 1<<31-1 {
		return v, dtype.Int32, nil
	}
	return v, dtype.Int64, nil
}

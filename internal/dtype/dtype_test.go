package dtype

import "testing"

func TestPromoteCommutative(t *testing.T) {
	kinds := []DType{Bool, Int8, Int16, Int32, Int64, Uint8, Uint16, Uint32, Uint64,
		Float32, Float64, Complex64, Complex128}
	for _, a := range kinds {
		for _, b := range kinds {
			ab, okAB := Promote(a, b)
			ba, okBA := Promote(b, a)
			if okAB != okBA || ab != ba {
				t.Fatalf("Promote(%s,%s)=%s,%v but Promote(%s,%s)=%s,%v",
					a, b, ab, okAB, b, a, ba, okBA)
			}
		}
	}
}

func TestPromoteRules(t *testing.T) {
	tests := []struct {
		name     string
		a, b     DType
		want     DType
		wantOK   bool
	}{
		{"bool with int32", Bool, Int32, Int32, true},
		{"int32 int32", Int32, Int32, Int32, true},
		{"int32 int64 same sign widens", Int32, Int64, Int64, true},
		{"uint8 uint16 widens", Uint8, Uint16, Uint16, true},
		{"int32 uint32 mixed sign", Int32, Uint32, Int64, true},
		{"int64 float32 promotes to float64", Int64, Float32, Float64, true},
		{"int8 float32 stays float32", Int8, Float32, Float32, true},
		{"float32 float64", Float32, Float64, Float64, true},
		{"float64 complex64 widens to complex128", Float64, Complex64, Complex128, true},
		{"int32 complex64 stays complex64", Int32, Complex64, Complex64, true},
		{"string with int32 rejected", String, Int32, Invalid, false},
		{"string with string ok (equal)", String, String, String, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Promote(tt.a, tt.b)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Fatalf("Promote(%s,%s) = %s, want %s", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestReductionOutputDType(t *testing.T) {
	tests := []struct {
		kind  string
		input DType
		want  DType
		ok    bool
	}{
		{"sum", Int32, Int64, true},
		{"sum", Uint32, Uint64, true},
		{"sum", Bool, Int64, true},
		{"sum", Float32, Float32, true},
		{"min", Float64, Float64, true},
		{"max", Complex128, Invalid, false},
		{"any", Bool, Bool, true},
		{"all", Int32, Bool, true},
	}
	for _, tt := range tests {
		got, ok := ReductionOutputDType(tt.kind, tt.input)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("ReductionOutputDType(%s,%s) = %s,%v, want %s,%v",
				tt.kind, tt.input, got, ok, tt.want, tt.ok)
		}
	}
}

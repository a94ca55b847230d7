package interp

import (
	"unsafe"

	"miniexpr/internal/dtype"
	"miniexpr/internal/mexerr"
)

// BoundVariable is the runtime binding of one caller-supplied Variable:
// its dtype and a pointer to nitems contiguous elements of that dtype's
// native width. ItemSize only matters for STRING, where it's the fixed
// per-row byte width of a NUL-padded buffer (mirroring a fixed-width C
// string array).
type BoundVariable struct {
	Name     string
	DType    dtype.DType
	Data     unsafe.Pointer
	ItemSize int
}

// columnReader holds one Variable's data already decoded into a typed Go
// slice: the unsafe cast happens once per Eval call, not once per element,
// so the chunk loop below is a plain slice index on every read.
type columnReader struct {
	dt   dtype.DType
	b    []bool
	i8   []int8
	i16  []int16
	i32  []int32
	i64  []int64
	u8   []uint8
	u16  []uint16
	u32  []uint32
	u64  []uint64
	f32  []float32
	f64  []float64
	c64  []complex64
	c128 []complex128
	// strRows holds one fixed-width (itemSize-byte), NUL-terminated row per
	// element for STRING variables.
	strRows  []byte
	itemSize int
}

func decodeColumn(v BoundVariable, nitems int64) (columnReader, *mexerr.RuntimeError) {
	c := columnReader{dt: v.DType}
	if v.Data == nil && nitems > 0 && v.DType != dtype.String {
		return c, mexerr.NewRuntime(mexerr.ErrInvalidArg, "variable %q has a nil data pointer", v.Name)
	}
	switch v.DType {
	case dtype.Bool:
		c.b = unsafe.Slice((*bool)(v.Data), nitems)
	case dtype.Int8:
		c.i8 = unsafe.Slice((*int8)(v.Data), nitems)
	case dtype.Int16:
		c.i16 = unsafe.Slice((*int16)(v.Data), nitems)
	case dtype.Int32:
		c.i32 = unsafe.Slice((*int32)(v.Data), nitems)
	case dtype.Int64:
		c.i64 = unsafe.Slice((*int64)(v.Data), nitems)
	case dtype.Uint8:
		c.u8 = unsafe.Slice((*uint8)(v.Data), nitems)
	case dtype.Uint16:
		c.u16 = unsafe.Slice((*uint16)(v.Data), nitems)
	case dtype.Uint32:
		c.u32 = unsafe.Slice((*uint32)(v.Data), nitems)
	case dtype.Uint64:
		c.u64 = unsafe.Slice((*uint64)(v.Data), nitems)
	case dtype.Float32:
		c.f32 = unsafe.Slice((*float32)(v.Data), nitems)
	case dtype.Float64:
		c.f64 = unsafe.Slice((*float64)(v.Data), nitems)
	case dtype.Complex64:
		c.c64 = unsafe.Slice((*complex64)(v.Data), nitems)
	case dtype.Complex128:
		c.c128 = unsafe.Slice((*complex128)(v.Data), nitems)
	case dtype.String:
		if v.ItemSize <= 0 {
			return c, mexerr.NewRuntime(mexerr.ErrInvalidArg, "string variable %q has a non-positive ItemSize", v.Name)
		}
		c.itemSize = v.ItemSize
		c.strRows = unsafe.Slice((*byte)(v.Data), nitems*int64(v.ItemSize))
	default:
		return c, mexerr.NewRuntime(mexerr.ErrInvalidArgType, "variable %q has an unsupported dtype %s", v.Name, v.DType)
	}
	return c, nil
}

func (c columnReader) read(i int64) rtValue {
	switch c.dt {
	case dtype.Bool:
		return fromBool(c.b[i])
	case dtype.Int8:
		return fromInt(dtype.Int8, int64(c.i8[i]))
	case dtype.Int16:
		return fromInt(dtype.Int16, int64(c.i16[i]))
	case dtype.Int32:
		return fromInt(dtype.Int32, int64(c.i32[i]))
	case dtype.Int64:
		return fromInt(dtype.Int64, c.i64[i])
	case dtype.Uint8:
		return fromUint(dtype.Uint8, uint64(c.u8[i]))
	case dtype.Uint16:
		return fromUint(dtype.Uint16, uint64(c.u16[i]))
	case dtype.Uint32:
		return fromUint(dtype.Uint32, uint64(c.u32[i]))
	case dtype.Uint64:
		return fromUint(dtype.Uint64, c.u64[i])
	case dtype.Float32:
		return fromF32(c.f32[i])
	case dtype.Float64:
		return fromF64(c.f64[i])
	case dtype.Complex64:
		return fromC64(c.c64[i])
	case dtype.Complex128:
		return fromC128(c.c128[i])
	case dtype.String:
		row := c.strRows[i*int64(c.itemSize) : (i+1)*int64(c.itemSize)]
		n := 0
		for n < len(row) && row[n] != 0 {
			n++
		}
		return fromString(string(row[:n]))
	}
	panic("internal: unhandled column dtype " + c.dt.String())
}

// write stores val (already cast to c.dt) into row i. For STRING it
// truncates to itemSize-1 bytes and NUL-pads the remainder.
func (c columnReader) write(i int64, val rtValue) {
	switch c.dt {
	case dtype.Bool:
		c.b[i] = val.i != 0
	case dtype.Int8:
		c.i8[i] = int8(val.i)
	case dtype.Int16:
		c.i16[i] = int16(val.i)
	case dtype.Int32:
		c.i32[i] = int32(val.i)
	case dtype.Int64:
		c.i64[i] = val.i
	case dtype.Uint8:
		c.u8[i] = uint8(val.u)
	case dtype.Uint16:
		c.u16[i] = uint16(val.u)
	case dtype.Uint32:
		c.u32[i] = uint32(val.u)
	case dtype.Uint64:
		c.u64[i] = val.u
	case dtype.Float32:
		c.f32[i] = val.f32
	case dtype.Float64:
		c.f64[i] = val.f64
	case dtype.Complex64:
		c.c64[i] = val.c64
	case dtype.Complex128:
		c.c128[i] = val.c128
	case dtype.String:
		row := c.strRows[i*int64(c.itemSize) : (i+1)*int64(c.itemSize)]
		for j := range row {
			row[j] = 0
		}
		n := copy(row[:c.itemSize-1], val.s)
		_ = n
	}
}

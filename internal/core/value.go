// Package core contains the data model shared by every access path:
// typed values with total-order comparison, sparse and dense rows,
// schema metadata, and the engine's stable error taxonomy.
package core

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"strings"
)

// Type identifies the concrete kind of a Value.
type Type int

const (
	TypeNull Type = iota
	TypeInt
	TypeBigInt
	TypeDecimal
	TypeString
	TypeBytes
	TypeGeometry
	TypeRow
)

func (t Type) String() string {
	switch t {
	case TypeNull:
		return "NULL"
	case TypeInt:
		return "BIGINT"
	case TypeBigInt:
		return "NUMERIC"
	case TypeDecimal:
		return "DECIMAL"
	case TypeString:
		return "VARCHAR"
	case TypeBytes:
		return "VARBINARY"
	case TypeGeometry:
		return "GEOMETRY"
	case TypeRow:
		return "ROW"
	}
	return fmt.Sprintf("TYPE(%d)", int(t))
}

// Value is the atomic data item. A nil Value in a search row means the
// column is unconstrained; the Null value is a real SQL NULL and sorts
// before every non-null value.
type Value interface {
	Type() Type
	// SQL renders the value the way it would appear in an error
	// message or generated statement.
	SQL() string
}

// Null is the SQL NULL sentinel. It is distinct from a nil Value slot.
type Null struct{}

func (Null) Type() Type  { return TypeNull }
func (Null) SQL() string { return "NULL" }

// NullValue is the shared NULL instance.
var NullValue Value = Null{}

// Int is a 64-bit integer value.
type Int int64

func (Int) Type() Type    { return TypeInt }
func (v Int) SQL() string { return fmt.Sprintf("%d", int64(v)) }

// BigInt is an arbitrary-precision integer value.
type BigInt struct{ V *big.Int }

func (BigInt) Type() Type    { return TypeBigInt }
func (v BigInt) SQL() string { return v.V.String() }

// Decimal is a fixed-point value: Unscaled * 10^-Scale.
type Decimal struct {
	Unscaled int64
	Scale    int32
}

func (Decimal) Type() Type { return TypeDecimal }

func (v Decimal) SQL() string {
	if v.Scale <= 0 {
		return fmt.Sprintf("%d", v.Unscaled)
	}
	neg := v.Unscaled < 0
	u := v.Unscaled
	if neg {
		u = -u
	}
	s := fmt.Sprintf("%0*d", int(v.Scale)+1, u)
	out := s[:len(s)-int(v.Scale)] + "." + s[len(s)-int(v.Scale):]
	if neg {
		out = "-" + out
	}
	return out
}

// Float returns the decimal as a float64, for cost arithmetic only.
func (v Decimal) Float() float64 {
	return float64(v.Unscaled) / math.Pow10(int(v.Scale))
}

// Str is a string value.
type Str string

func (Str) Type() Type    { return TypeString }
func (v Str) SQL() string { return "'" + strings.ReplaceAll(string(v), "'", "''") + "'" }

// Bytes is a binary value.
type Bytes []byte

func (Bytes) Type() Type    { return TypeBytes }
func (v Bytes) SQL() string { return fmt.Sprintf("X'%x'", []byte(v)) }

// Envelope is a minimum bounding rectangle in two dimensions.
type Envelope struct {
	MinX, MinY, MaxX, MaxY float64
}

// Intersects reports whether the two envelopes overlap, borders included.
func (e Envelope) Intersects(o Envelope) bool {
	return e.MinX <= o.MaxX && o.MinX <= e.MaxX && e.MinY <= o.MaxY && o.MinY <= e.MaxY
}

// Union returns the smallest envelope covering both inputs.
func (e Envelope) Union(o Envelope) Envelope {
	return Envelope{
		MinX: math.Min(e.MinX, o.MinX),
		MinY: math.Min(e.MinY, o.MinY),
		MaxX: math.Max(e.MaxX, o.MaxX),
		MaxY: math.Max(e.MaxY, o.MaxY),
	}
}

// Area returns the envelope area; degenerate envelopes have area 0.
func (e Envelope) Area() float64 {
	if e.MaxX < e.MinX || e.MaxY < e.MinY {
		return 0
	}
	return (e.MaxX - e.MinX) * (e.MaxY - e.MinY)
}

// Geometry is a spatial value: its envelope plus the raw encoded shape.
// Index comparisons only look at the envelope; exact intersection tests
// are left to the expression layer.
type Geometry struct {
	Env Envelope
	WKB []byte
}

func (Geometry) Type() Type    { return TypeGeometry }
func (v Geometry) SQL() string { return fmt.Sprintf("X'%x'", v.WKB) }

// RowValue is a tuple of values, used for compound IN conditions.
type RowValue []Value

func (RowValue) Type() Type { return TypeRow }

func (v RowValue) SQL() string {
	parts := make([]string, len(v))
	for i, e := range v {
		if e == nil {
			parts[i] = "DEFAULT"
			continue
		}
		parts[i] = e.SQL()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Compare defines the engine's total order over values. NULL sorts
// before every non-null value; numeric kinds compare by magnitude with
// promotion; incomparable kinds order by type tag so the order stays
// total.
func Compare(a, b Value) int {
	an := a == nil || a.Type() == TypeNull
	bn := b == nil || b.Type() == TypeNull
	if an || bn {
		if an && bn {
			return 0
		}
		if an {
			return -1
		}
		return 1
	}
	if isNumeric(a.Type()) && isNumeric(b.Type()) {
		return compareNumeric(a, b)
	}
	if a.Type() != b.Type() {
		return cmpInt(int64(a.Type()), int64(b.Type()))
	}
	switch av := a.(type) {
	case Str:
		return strings.Compare(string(av), string(b.(Str)))
	case Bytes:
		return bytes.Compare(av, b.(Bytes))
	case Geometry:
		bg := b.(Geometry)
		if c := compareEnvelope(av.Env, bg.Env); c != 0 {
			return c
		}
		return bytes.Compare(av.WKB, bg.WKB)
	case RowValue:
		bv := b.(RowValue)
		n := len(av)
		if len(bv) < n {
			n = len(bv)
		}
		for i := 0; i < n; i++ {
			if c := Compare(av[i], bv[i]); c != 0 {
				return c
			}
		}
		return cmpInt(int64(len(av)), int64(len(bv)))
	}
	return 0
}

func isNumeric(t Type) bool {
	return t == TypeInt || t == TypeBigInt || t == TypeDecimal
}

func compareNumeric(a, b Value) int {
	if ai, ok := a.(Int); ok {
		if bi, ok := b.(Int); ok {
			return cmpInt(int64(ai), int64(bi))
		}
	}
	return toBigRat(a).Cmp(toBigRat(b))
}

func toBigRat(v Value) *big.Rat {
	switch t := v.(type) {
	case Int:
		return new(big.Rat).SetInt64(int64(t))
	case BigInt:
		return new(big.Rat).SetInt(t.V)
	case Decimal:
		r := new(big.Rat).SetInt64(t.Unscaled)
		if t.Scale > 0 {
			d := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(t.Scale)), nil)
			r.Quo(r, new(big.Rat).SetInt(d))
		}
		return r
	}
	return new(big.Rat)
}

func compareEnvelope(a, b Envelope) int {
	if c := cmpFloat(a.MinX, b.MinX); c != 0 {
		return c
	}
	if c := cmpFloat(a.MinY, b.MinY); c != 0 {
		return c
	}
	if c := cmpFloat(a.MaxX, b.MaxX); c != 0 {
		return c
	}
	return cmpFloat(a.MaxY, b.MaxY)
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// CompareMode is the database-wide comparison configuration. The IN
// de-duplication and string ordering honour it.
type CompareMode struct {
	CaseInsensitive bool
}

// Compare orders two values under this mode.
func (m CompareMode) Compare(a, b Value) int {
	if m.CaseInsensitive {
		as, aok := a.(Str)
		bs, bok := b.(Str)
		if aok && bok {
			return strings.Compare(strings.ToUpper(string(as)), strings.ToUpper(string(bs)))
		}
	}
	return Compare(a, b)
}

// Equal reports value equality under this mode.
func (m CompareMode) Equal(a, b Value) bool { return m.Compare(a, b) == 0 }

const (
	tagNull byte = iota
	tagInt
	tagBigIntPos
	tagBigIntNeg
	tagDecimal
	tagString
	tagBytes
	tagGeometry
	tagRow
)

// EncodeValue appends the wire form of v to buf: a type tag followed by
// a type-specific payload.
func EncodeValue(buf []byte, v Value) []byte {
	if v == nil || v.Type() == TypeNull {
		return append(buf, tagNull)
	}
	switch t := v.(type) {
	case Int:
		buf = append(buf, tagInt)
		return binary.AppendVarint(buf, int64(t))
	case BigInt:
		tag := tagBigIntPos
		if t.V.Sign() < 0 {
			tag = tagBigIntNeg
		}
		raw := new(big.Int).Abs(t.V).Bytes()
		buf = append(buf, tag)
		buf = binary.AppendUvarint(buf, uint64(len(raw)))
		return append(buf, raw...)
	case Decimal:
		buf = append(buf, tagDecimal)
		buf = binary.AppendVarint(buf, t.Unscaled)
		return binary.AppendVarint(buf, int64(t.Scale))
	case Str:
		buf = append(buf, tagString)
		buf = binary.AppendUvarint(buf, uint64(len(t)))
		return append(buf, t...)
	case Bytes:
		buf = append(buf, tagBytes)
		buf = binary.AppendUvarint(buf, uint64(len(t)))
		return append(buf, t...)
	case Geometry:
		buf = append(buf, tagGeometry)
		for _, f := range [4]float64{t.Env.MinX, t.Env.MinY, t.Env.MaxX, t.Env.MaxY} {
			buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(f))
		}
		buf = binary.AppendUvarint(buf, uint64(len(t.WKB)))
		return append(buf, t.WKB...)
	case RowValue:
		buf = append(buf, tagRow)
		buf = binary.AppendUvarint(buf, uint64(len(t)))
		for _, e := range t {
			buf = EncodeValue(buf, e)
		}
		return buf
	}
	panic(fmt.Sprintf("core: cannot encode value of type %v", v.Type()))
}

// DecodeValue reads one value from b, returning it and the number of
// bytes consumed.
func DecodeValue(b []byte) (Value, int, error) {
	if len(b) == 0 {
		return nil, 0, fmt.Errorf("core: decode value: empty buffer")
	}
	tag := b[0]
	pos := 1
	switch tag {
	case tagNull:
		return NullValue, pos, nil
	case tagInt:
		v, n := binary.Varint(b[pos:])
		if n <= 0 {
			return nil, 0, fmt.Errorf("core: decode int: truncated varint")
		}
		return Int(v), pos + n, nil
	case tagBigIntPos, tagBigIntNeg:
		l, n := binary.Uvarint(b[pos:])
		if n <= 0 || pos+n+int(l) > len(b) {
			return nil, 0, fmt.Errorf("core: decode bigint: truncated")
		}
		pos += n
		v := new(big.Int).SetBytes(b[pos : pos+int(l)])
		if tag == tagBigIntNeg {
			v.Neg(v)
		}
		return BigInt{V: v}, pos + int(l), nil
	case tagDecimal:
		u, n := binary.Varint(b[pos:])
		if n <= 0 {
			return nil, 0, fmt.Errorf("core: decode decimal: truncated unscaled")
		}
		pos += n
		s, n := binary.Varint(b[pos:])
		if n <= 0 {
			return nil, 0, fmt.Errorf("core: decode decimal: truncated scale")
		}
		return Decimal{Unscaled: u, Scale: int32(s)}, pos + n, nil
	case tagString, tagBytes:
		l, n := binary.Uvarint(b[pos:])
		if n <= 0 || pos+n+int(l) > len(b) {
			return nil, 0, fmt.Errorf("core: decode bytes: truncated")
		}
		pos += n
		raw := b[pos : pos+int(l)]
		if tag == tagString {
			return Str(string(raw)), pos + int(l), nil
		}
		out := make([]byte, l)
		copy(out, raw)
		return Bytes(out), pos + int(l), nil
	case tagGeometry:
		if pos+32 > len(b) {
			return nil, 0, fmt.Errorf("core: decode geometry: truncated envelope")
		}
		var fs [4]float64
		for i := range fs {
			fs[i] = math.Float64frombits(binary.BigEndian.Uint64(b[pos:]))
			pos += 8
		}
		l, n := binary.Uvarint(b[pos:])
		if n <= 0 || pos+n+int(l) > len(b) {
			return nil, 0, fmt.Errorf("core: decode geometry: truncated shape")
		}
		pos += n
		wkb := make([]byte, l)
		copy(wkb, b[pos:pos+int(l)])
		return Geometry{Env: Envelope{MinX: fs[0], MinY: fs[1], MaxX: fs[2], MaxY: fs[3]}, WKB: wkb}, pos + int(l), nil
	case tagRow:
		cnt, n := binary.Uvarint(b[pos:])
		if n <= 0 {
			return nil, 0, fmt.Errorf("core: decode row: truncated count")
		}
		pos += n
		out := make(RowValue, cnt)
		for i := range out {
			v, n, err := DecodeValue(b[pos:])
			if err != nil {
				return nil, 0, err
			}
			out[i] = v
			pos += n
		}
		return out, pos, nil
	}
	return nil, 0, fmt.Errorf("core: decode value: unknown tag %d", tag)
}

package core

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// KeyNone marks a row whose key has not been assigned yet. The data
// index mints a fresh key when it sees it.
const KeyNone int64 = 0

// SearchRow is a sparse tuple: column index to value, plus an optional
// row key. A nil slot means the column is unconstrained; a NullValue
// slot is a real SQL NULL. Dense search rows double as table rows.
type SearchRow struct {
	Values []Value
	Key    int64
}

// Row is a dense SearchRow: every column present and a definite key.
// It is the unit of storage in data-index leaves and the unit returned
// by cursors.
type Row = SearchRow

// NewRow builds a dense row over the given values.
func NewRow(key int64, values ...Value) *Row {
	return &Row{Values: values, Key: key}
}

// Value returns the value at the column index, or nil when the row does
// not constrain that column.
func (r *SearchRow) Value(col int) Value {
	if r == nil || col < 0 || col >= len(r.Values) {
		return nil
	}
	return r.Values[col]
}

// SetValue grows the row as needed and stores v at the column index.
// Negative columns address the row key elsewhere and are ignored here.
func (r *SearchRow) SetValue(col int, v Value) {
	if col < 0 {
		return
	}
	for len(r.Values) <= col {
		r.Values = append(r.Values, nil)
	}
	r.Values[col] = v
}

// Clone returns a copy sharing no slice storage with the receiver.
func (r *SearchRow) Clone() *SearchRow {
	if r == nil {
		return nil
	}
	out := &SearchRow{Key: r.Key}
	out.Values = append([]Value(nil), r.Values...)
	return out
}

// SQL renders the constrained columns for error messages.
func (r *SearchRow) SQL() string {
	if r == nil {
		return "()"
	}
	parts := make([]string, 0, len(r.Values))
	for _, v := range r.Values {
		if v == nil {
			continue
		}
		parts = append(parts, v.SQL())
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// EncodeRowPayload appends the leaf wire form of a dense row: varlong
// key followed by one value per column.
func EncodeRowPayload(buf []byte, r *Row) []byte {
	buf = binary.AppendVarint(buf, r.Key)
	buf = binary.AppendUvarint(buf, uint64(len(r.Values)))
	for _, v := range r.Values {
		buf = EncodeValue(buf, v)
	}
	return buf
}

// DecodeRowPayload reads one dense row from b and returns the bytes
// consumed.
func DecodeRowPayload(b []byte) (*Row, int, error) {
	key, n := binary.Varint(b)
	if n <= 0 {
		return nil, 0, fmt.Errorf("core: decode row payload: truncated key")
	}
	pos := n
	cnt, n := binary.Uvarint(b[pos:])
	if n <= 0 {
		return nil, 0, fmt.Errorf("core: decode row payload: truncated column count")
	}
	pos += n
	row := &Row{Key: key, Values: make([]Value, cnt)}
	for i := range row.Values {
		v, n, err := DecodeValue(b[pos:])
		if err != nil {
			return nil, 0, err
		}
		row.Values[i] = v
		pos += n
	}
	return row, pos, nil
}

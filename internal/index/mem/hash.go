package mem

import (
	"math"
	"strings"

	"pagedb/internal/core"
	"pagedb/internal/index"
)

// CostInfeasible is the sentinel the hash index returns when any mask
// carries a non-equality predicate: the planner never picks it.
const CostInfeasible = math.MaxFloat64

// HashIndex is the equality-only in-memory index. A single integer
// column uses a primitive map from value to rows; any other shape
// hashes the encoded composite key. Non-unique indexes keep every
// matching row per key.
type HashIndex struct {
	index.Base
	intKey    bool
	intRows   map[int64][]*core.Row
	tupleRows map[string][]*core.Row
	// nullRows holds rows the primitive int map cannot key, a NULL in
	// the indexed column being the common case.
	nullRows []*core.Row
	rows     int64
}

// NewHashIndex creates an empty hash index, picking the internal shape
// from the column list.
func NewHashIndex(meta *core.IndexMeta, tbl *core.Table, mode core.CompareMode) *HashIndex {
	meta.Normalize()
	ix := &HashIndex{Base: index.Base{IndexMeta: meta, Tbl: tbl, Mode: mode}}
	if len(meta.Columns) == 1 {
		col := meta.Columns[0].Column
		if col >= 0 && col < len(tbl.Columns) && tbl.Columns[col].Type == core.TypeInt {
			ix.intKey = true
		}
	}
	if ix.intKey {
		ix.intRows = make(map[int64][]*core.Row)
	} else {
		ix.tupleRows = make(map[string][]*core.Row)
	}
	return ix
}

func (ix *HashIndex) CanScan() bool { return false }

// hashKey renders the indexed columns into the map key, honouring the
// compare mode for strings.
func (ix *HashIndex) hashKey(row *core.SearchRow) (int64, string, bool) {
	if ix.intKey {
		v := row.Value(ix.IndexMeta.Columns[0].Column)
		iv, ok := v.(core.Int)
		if !ok {
			return 0, "", false
		}
		return int64(iv), "", true
	}
	var buf []byte
	for _, ic := range ix.IndexMeta.Columns {
		v := row.Value(ic.Column)
		if v == nil {
			v = core.NullValue
		}
		if s, ok := v.(core.Str); ok && ix.Mode.CaseInsensitive {
			v = core.Str(strings.ToUpper(string(s)))
		}
		buf = core.EncodeValue(buf, v)
	}
	return 0, string(buf), true
}

func (ix *HashIndex) bucket(row *core.SearchRow) []*core.Row {
	ik, sk, ok := ix.hashKey(row)
	if !ok {
		return ix.nullRows
	}
	if ix.intKey {
		return ix.intRows[ik]
	}
	return ix.tupleRows[sk]
}

func (ix *HashIndex) Add(s *core.Session, row *core.Row) error {
	if ix.IndexMeta.Unique() && ix.UniqueConflict(row) {
		if len(ix.bucket(row)) > 0 {
			return ix.DuplicateKey(row)
		}
	}
	ik, sk, ok := ix.hashKey(row)
	switch {
	case !ok:
		ix.nullRows = append(ix.nullRows, row)
	case ix.intKey:
		ix.intRows[ik] = append(ix.intRows[ik], row)
	default:
		ix.tupleRows[sk] = append(ix.tupleRows[sk], row)
	}
	ix.rows++
	return nil
}

func (ix *HashIndex) Remove(s *core.Session, row *core.Row) error {
	ik, sk, ok := ix.hashKey(row)
	var bucket []*core.Row
	switch {
	case !ok:
		bucket = ix.nullRows
	case ix.intKey:
		bucket = ix.intRows[ik]
	default:
		bucket = ix.tupleRows[sk]
	}
	for i, r := range bucket {
		if r.Key != row.Key {
			continue
		}
		bucket = append(bucket[:i], bucket[i+1:]...)
		switch {
		case !ok:
			ix.nullRows = bucket
		case ix.intKey:
			if len(bucket) == 0 {
				delete(ix.intRows, ik)
			} else {
				ix.intRows[ik] = bucket
			}
		default:
			if len(bucket) == 0 {
				delete(ix.tupleRows, sk)
			} else {
				ix.tupleRows[sk] = bucket
			}
		}
		ix.rows--
		return nil
	}
	return core.NewRowNotFound(row)
}

func (ix *HashIndex) Update(s *core.Session, old, new *core.Row) error {
	return index.RemoveThenAdd(ix, s, old, new)
}

// Find only supports the equality probe shape: first and last must be
// the same point.
func (ix *HashIndex) Find(s *core.Session, first, last *core.SearchRow, reverse bool) (index.Cursor, error) {
	if first == nil || last == nil {
		return nil, core.NewUnsupported("range scan on " + ix.IndexMeta.Name)
	}
	if ix.CompareRows(first, last) != 0 {
		return nil, core.NewUnsupported("range scan on " + ix.IndexMeta.Name)
	}
	bucket := ix.bucket(first)
	i := 0
	return &index.FuncCursor{Fetch: func() (*core.Row, error) {
		if err := s.CheckCanceled(); err != nil {
			return nil, err
		}
		if i >= len(bucket) {
			return nil, nil
		}
		r := bucket[i]
		i++
		return r, nil
	}}, nil
}

func (ix *HashIndex) FindFirstOrLast(s *core.Session, first bool) (index.Cursor, error) {
	return nil, core.NewUnsupported("first/last lookup on " + ix.IndexMeta.Name)
}

// Cost is a small constant when every index column is constrained by
// equality and infeasible otherwise.
func (ix *HashIndex) Cost(s *core.Session, masks []int, order *index.SortOrder, projected []int) float64 {
	if masks == nil {
		return CostInfeasible
	}
	for _, ic := range ix.IndexMeta.Columns {
		if ic.Column < 0 || ic.Column >= len(masks) {
			return CostInfeasible
		}
		if masks[ic.Column] != index.MaskEquality {
			return CostInfeasible
		}
	}
	return 2 + float64(len(ix.IndexMeta.Columns))
}

func (ix *HashIndex) RowCount(s *core.Session) int64 {
	return ix.rows + s.RowCountDiff(ix.IndexMeta.ID)
}

func (ix *HashIndex) RowCountApprox() int64 { return ix.rows }

func (ix *HashIndex) Truncate(s *core.Session) error {
	if ix.intKey {
		ix.intRows = make(map[int64][]*core.Row)
	} else {
		ix.tupleRows = make(map[string][]*core.Row)
	}
	ix.nullRows = nil
	ix.rows = 0
	return nil
}

var _ index.Index = (*HashIndex)(nil)

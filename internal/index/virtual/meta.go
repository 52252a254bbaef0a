package virtual

import (
	"pagedb/internal/core"
	"pagedb/internal/index"
)

// MetaSource materialises the rows of one schema meta table.
type MetaSource func(s *core.Session) ([]*core.Row, error)

// MetaIndex serves the schema meta tables, filtering the materialised
// rows by the probe bounds on its indexed columns.
type MetaIndex struct {
	base
	source MetaSource
	approx int64
}

// NewMetaIndex wraps one meta table with an optional column index.
func NewMetaIndex(meta *core.IndexMeta, tbl *core.Table, approx int64, source MetaSource) *MetaIndex {
	return &MetaIndex{
		base:   base{index.Base{IndexMeta: meta, Tbl: tbl}},
		source: source,
		approx: approx,
	}
}

func (ix *MetaIndex) Find(s *core.Session, first, last *core.SearchRow, reverse bool) (index.Cursor, error) {
	if reverse {
		return nil, core.NewUnsupported("reverse scan on " + ix.IndexMeta.Name)
	}
	rows, err := ix.source(s)
	if err != nil {
		return nil, err
	}
	i := 0
	return &index.FuncCursor{Fetch: func() (*core.Row, error) {
		for i < len(rows) {
			if err := s.CheckCanceled(); err != nil {
				return nil, err
			}
			row := rows[i]
			i++
			if ix.InBounds(row, first, last) {
				return row, nil
			}
		}
		return nil, nil
	}}, nil
}

func (ix *MetaIndex) Cost(*core.Session, []int, *index.SortOrder, []int) float64 {
	return 10 * float64(ix.approx)
}

func (ix *MetaIndex) RowCount(s *core.Session) int64 {
	rows, err := ix.source(s)
	if err != nil {
		return ix.approx
	}
	return int64(len(rows))
}

func (ix *MetaIndex) RowCountApprox() int64 { return ix.approx }

var _ index.Index = (*MetaIndex)(nil)

// MetaScanIndex is the scan flavor of a meta table: it forbids
// column-probe lookups and always walks everything.
type MetaScanIndex struct {
	MetaIndex
}

func NewMetaScanIndex(meta *core.IndexMeta, tbl *core.Table, approx int64, source MetaSource) *MetaScanIndex {
	return &MetaScanIndex{MetaIndex{
		base:   base{index.Base{IndexMeta: meta, Tbl: tbl}},
		source: source,
		approx: approx,
	}}
}

func (ix *MetaScanIndex) FindRequiresFullScan() bool { return true }

func (ix *MetaScanIndex) Find(s *core.Session, first, last *core.SearchRow, reverse bool) (index.Cursor, error) {
	if first != nil || last != nil {
		return nil, core.NewUnsupported("column lookup on " + ix.IndexMeta.Name)
	}
	return ix.MetaIndex.Find(s, nil, nil, reverse)
}

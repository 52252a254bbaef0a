package virtual

import (
	"pagedb/internal/core"
	"pagedb/internal/index"
)

// FunctionIndex scans the result set of a table function. There is no
// lookup: every Find walks the whole result and higher predicates stay
// post-filters.
type FunctionIndex struct {
	base
	result       index.Result
	expectedRows int64
}

// NewFunctionIndex wraps a materialised function result.
func NewFunctionIndex(meta *core.IndexMeta, tbl *core.Table, result index.Result, expectedRows int64) *FunctionIndex {
	return &FunctionIndex{
		base:         base{index.Base{IndexMeta: meta, Tbl: tbl}},
		result:       result,
		expectedRows: expectedRows,
	}
}

func (ix *FunctionIndex) FindRequiresFullScan() bool { return true }

func (ix *FunctionIndex) Find(s *core.Session, first, last *core.SearchRow, reverse bool) (index.Cursor, error) {
	if reverse {
		return nil, core.NewUnsupported("reverse scan on " + ix.IndexMeta.Name)
	}
	return index.ResultCursor(s, ix.result), nil
}

func (ix *FunctionIndex) Cost(*core.Session, []int, *index.SortOrder, []int) float64 {
	return float64(ix.expectedRows) * 10
}

func (ix *FunctionIndex) RowCount(*core.Session) int64 { return int64(ix.result.RowCount()) }
func (ix *FunctionIndex) RowCountApprox() int64        { return ix.expectedRows }

var _ index.Index = (*FunctionIndex)(nil)

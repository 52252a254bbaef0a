package virtual

import (
	"fmt"

	"pagedb/internal/core"
	"pagedb/internal/index"
)

// RecursiveQuery is the two halves of a recursive common table
// expression: the anchor runs once, the recursive branch runs on the
// previous iteration's rows until it produces nothing.
type RecursiveQuery interface {
	Anchor(s *core.Session) ([]*core.Row, error)
	Recurse(s *core.Session, prev []*core.Row) ([]*core.Row, error)
}

// RecursiveIndex evaluates a recursive view into a local result,
// guarding against unbounded recursion with the caller's row limit.
type RecursiveIndex struct {
	base
	query   RecursiveQuery
	maxRows int
}

// NewRecursiveIndex wraps a recursive CTE; maxRows bounds the total
// materialised result (0 means the engine default).
func NewRecursiveIndex(meta *core.IndexMeta, tbl *core.Table, query RecursiveQuery, maxRows int) *RecursiveIndex {
	if maxRows <= 0 {
		maxRows = 1 << 20
	}
	return &RecursiveIndex{
		base:    base{index.Base{IndexMeta: meta, Tbl: tbl}},
		query:   query,
		maxRows: maxRows,
	}
}

func (ix *RecursiveIndex) FindRequiresFullScan() bool { return true }

func (ix *RecursiveIndex) Find(s *core.Session, first, last *core.SearchRow, reverse bool) (index.Cursor, error) {
	if reverse {
		return nil, core.NewUnsupported("reverse scan on " + ix.IndexMeta.Name)
	}
	rows, err := ix.query.Anchor(s)
	if err != nil {
		return nil, err
	}
	frontier := rows
	for len(frontier) > 0 {
		if err := s.CheckCanceled(); err != nil {
			return nil, err
		}
		next, err := ix.query.Recurse(s, frontier)
		if err != nil {
			return nil, err
		}
		rows = append(rows, next...)
		if len(rows) > ix.maxRows {
			return nil, fmt.Errorf("virtual: recursive view %s exceeds %d rows", ix.IndexMeta.Name, ix.maxRows)
		}
		frontier = next
	}
	return index.ResultCursor(s, &index.ListResult{Rows: rows}), nil
}

func (ix *RecursiveIndex) Cost(*core.Session, []int, *index.SortOrder, []int) float64 {
	return float64(ix.maxRows)
}

func (ix *RecursiveIndex) RowCount(*core.Session) int64 { return 0 }
func (ix *RecursiveIndex) RowCountApprox() int64        { return 0 }

var _ index.Index = (*RecursiveIndex)(nil)

package virtual

import (
	"fmt"
	"time"

	"pagedb/internal/core"
	"pagedb/internal/index"
)

// ViewQuery is the compiled subquery behind a view index. The bounds
// of a Find are pushed into the inner query as global parameters.
type ViewQuery interface {
	// EstimateCost returns the inner query's cost and expected rows
	// for the given predicate masks.
	EstimateCost(s *core.Session, masks []int) (cost float64, rows int64, err error)
	// Run evaluates the query with the pushed-down bounds.
	Run(s *core.Session, first, last *core.SearchRow) (index.Result, error)
}

type viewCostEntry struct {
	cost float64
	at   time.Time
}

// ViewIndex drives a view's compiled subquery. Cost estimates are
// cached per mask set for a bounded age, since planning probes the
// same view repeatedly within one statement.
type ViewIndex struct {
	base
	query  ViewQuery
	maxAge time.Duration
	cache  map[string]viewCostEntry
}

// NewViewIndex wraps a compiled subquery.
func NewViewIndex(meta *core.IndexMeta, tbl *core.Table, query ViewQuery, maxAge time.Duration) *ViewIndex {
	return &ViewIndex{
		base:   base{index.Base{IndexMeta: meta, Tbl: tbl}},
		query:  query,
		maxAge: maxAge,
		cache:  make(map[string]viewCostEntry),
	}
}

func (ix *ViewIndex) Find(s *core.Session, first, last *core.SearchRow, reverse bool) (index.Cursor, error) {
	if reverse {
		return nil, core.NewUnsupported("reverse scan on " + ix.IndexMeta.Name)
	}
	res, err := ix.query.Run(s, first, last)
	if err != nil {
		return nil, err
	}
	return index.ResultCursor(s, res), nil
}

func (ix *ViewIndex) Cost(s *core.Session, masks []int, order *index.SortOrder, projected []int) float64 {
	key := fmt.Sprint(masks)
	if e, ok := ix.cache[key]; ok && time.Since(e.at) < ix.maxAge {
		return e.cost
	}
	_, rows, err := ix.query.EstimateCost(s, masks)
	if err != nil {
		return 10
	}
	cost := float64(rows) * 10
	ix.cache[key] = viewCostEntry{cost: cost, at: time.Now()}
	return cost
}

func (ix *ViewIndex) RowCount(s *core.Session) int64 {
	res, err := ix.query.Run(s, nil, nil)
	if err != nil {
		return 0
	}
	return int64(res.RowCount())
}

func (ix *ViewIndex) RowCountApprox() int64 { return 0 }

var _ index.Index = (*ViewIndex)(nil)

package index_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagedb/internal/core"
	"pagedb/internal/index"
	"pagedb/internal/index/mem"
)

func newOrderedIndex(t *testing.T, sort core.SortType) (*mem.TreeIndex, *core.Session) {
	t.Helper()
	tbl := &core.Table{ID: 1, Name: "T", Columns: []*core.Column{
		{Name: "A", Type: core.TypeInt, Nullable: true},
		{Name: "B", Type: core.TypeInt, Nullable: true},
	}}
	meta := &core.IndexMeta{
		ID: 60, Name: "IDX_C", Type: core.IndexOrderedInMemory,
		Columns: []core.IndexColumn{{Name: "A", Column: 0, SortType: sort}},
	}
	return mem.NewTreeIndex(meta, tbl, core.CompareMode{}), core.NewSession()
}

func fill(t *testing.T, ix index.Index, s *core.Session, values ...int64) {
	t.Helper()
	for i, v := range values {
		require.NoError(t, ix.Add(s, core.NewRow(int64(i+1), core.Int(v), core.Int(v*10))))
	}
}

func drain(t *testing.T, cur index.Cursor) []int64 {
	t.Helper()
	var out []int64
	for {
		ok, err := cur.Next()
		require.NoError(t, err)
		if !ok {
			return out
		}
		row, err := cur.Row()
		require.NoError(t, err)
		out = append(out, int64(row.Values[0].(core.Int)))
	}
}

func prepare(t *testing.T, ix index.Index, s *core.Session, conds []*index.Condition) *index.IndexCursor {
	t.Helper()
	cur := index.NewIndexCursor(ix)
	require.NoError(t, cur.Prepare(s, conds, false))
	return cur
}

func TestIndexCursorRangeConjunction(t *testing.T) {
	ix, s := newOrderedIndex(t, core.SortAscending)
	fill(t, ix, s, 1, 2, 3, 4, 5, 6)
	cur := prepare(t, ix, s, []*index.Condition{
		{Op: index.CmpBiggerEqual, Column: 0, Expr: index.ValueExpr{V: core.Int(2)}},
		{Op: index.CmpSmallerEqual, Column: 0, Expr: index.ValueExpr{V: core.Int(4)}},
	})
	assert.Equal(t, []int64{2, 3, 4}, drain(t, cur))
}

func TestIndexCursorTightestBoundWins(t *testing.T) {
	ix, s := newOrderedIndex(t, core.SortAscending)
	fill(t, ix, s, 1, 2, 3, 4, 5, 6)
	cur := prepare(t, ix, s, []*index.Condition{
		{Op: index.CmpBiggerEqual, Column: 0, Expr: index.ValueExpr{V: core.Int(2)}},
		{Op: index.CmpBiggerEqual, Column: 0, Expr: index.ValueExpr{V: core.Int(4)}},
		{Op: index.CmpSmallerEqual, Column: 0, Expr: index.ValueExpr{V: core.Int(6)}},
		{Op: index.CmpSmallerEqual, Column: 0, Expr: index.ValueExpr{V: core.Int(5)}},
	})
	assert.Equal(t, []int64{4, 5}, drain(t, cur))
}

func TestIndexCursorEquality(t *testing.T) {
	ix, s := newOrderedIndex(t, core.SortAscending)
	fill(t, ix, s, 1, 2, 2, 3)
	cur := prepare(t, ix, s, []*index.Condition{
		{Op: index.CmpEquality, Column: 0, Expr: index.ValueExpr{V: core.Int(2)}},
	})
	assert.Equal(t, []int64{2, 2}, drain(t, cur))
}

func TestIndexCursorAlwaysFalse(t *testing.T) {
	ix, s := newOrderedIndex(t, core.SortAscending)
	fill(t, ix, s, 1, 2, 3)
	cur := prepare(t, ix, s, []*index.Condition{
		{Op: index.CmpAlwaysFalse},
		{Op: index.CmpEquality, Column: 0, Expr: index.ValueExpr{V: core.Int(2)}},
	})
	assert.Empty(t, drain(t, cur))
}

func TestIndexCursorEqualityWithNullIsAlwaysFalse(t *testing.T) {
	ix, s := newOrderedIndex(t, core.SortAscending)
	fill(t, ix, s, 1, 2, 3)
	cur := prepare(t, ix, s, []*index.Condition{
		{Op: index.CmpEquality, Column: 0, Expr: index.ValueExpr{V: core.NullValue}},
	})
	assert.Empty(t, drain(t, cur))
}

func TestIndexCursorInFanOutPreservesListOrder(t *testing.T) {
	ix, s := newOrderedIndex(t, core.SortAscending)
	fill(t, ix, s, 1, 2, 3)
	cur := prepare(t, ix, s, []*index.Condition{
		{Op: index.CmpInList, Column: 0, List: []index.Expression{
			index.ValueExpr{V: core.Int(3)},
			index.ValueExpr{V: core.Int(1)},
			index.ValueExpr{V: core.NullValue},
			index.ValueExpr{V: core.Int(3)},
			index.ValueExpr{V: core.Int(2)},
		}},
	})
	// De-duplicated, nulls skipped, list order preserved.
	assert.Equal(t, []int64{3, 1, 2}, drain(t, cur))
}

func TestIndexCursorInOnDescendingIndex(t *testing.T) {
	ix, s := newOrderedIndex(t, core.SortDescending)
	fill(t, ix, s, 1, 2, 3)
	cur := prepare(t, ix, s, []*index.Condition{
		{Op: index.CmpInList, Column: 0, List: []index.Expression{
			index.ValueExpr{V: core.Int(3)},
			index.ValueExpr{V: core.Int(1)},
			index.ValueExpr{V: core.Int(2)},
		}},
	})
	assert.Equal(t, []int64{3, 1, 2}, drain(t, cur))
}

func TestIndexCursorSecondInDiscarded(t *testing.T) {
	ix, s := newOrderedIndex(t, core.SortAscending)
	fill(t, ix, s, 1, 2, 3)
	cur := prepare(t, ix, s, []*index.Condition{
		{Op: index.CmpInList, Column: 0, List: []index.Expression{index.ValueExpr{V: core.Int(2)}}},
		{Op: index.CmpInList, Column: 0, List: []index.Expression{index.ValueExpr{V: core.Int(3)}}},
	})
	assert.Equal(t, []int64{2}, drain(t, cur))
}

func TestIndexCursorCompoundInRequiresInList(t *testing.T) {
	ix, s := newOrderedIndex(t, core.SortAscending)
	cur := index.NewIndexCursor(ix)
	err := cur.Prepare(s, []*index.Condition{
		{Op: index.CmpInQuery, Columns: []int{0, 1}},
	}, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compound IN")
}

func TestIndexCursorInQueryRequiresRandomAccess(t *testing.T) {
	ix, s := newOrderedIndex(t, core.SortAscending)
	cur := index.NewIndexCursor(ix)
	err := cur.Prepare(s, []*index.Condition{
		{Op: index.CmpInQuery, Column: 0, Query: sequentialResult{}},
	}, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "random-access")
}

type sequentialResult struct{}

func (sequentialResult) RowCount() int                  { return 0 }
func (sequentialResult) RandomAccess() bool             { return false }
func (sequentialResult) RowAt(int) (*core.Row, error)   { return nil, nil }

func TestIndexCursorInSubquery(t *testing.T) {
	ix, s := newOrderedIndex(t, core.SortAscending)
	fill(t, ix, s, 1, 2, 3)
	res := &index.ListResult{Rows: []*core.Row{
		core.NewRow(1, core.Int(2)),
		core.NewRow(2, core.NullValue),
		core.NewRow(3, core.Int(1)),
	}}
	cur := prepare(t, ix, s, []*index.Condition{
		{Op: index.CmpInQuery, Column: 0, Query: res},
	})
	assert.Equal(t, []int64{2, 1}, drain(t, cur))
}

func TestIndexCursorCancellation(t *testing.T) {
	ix, s := newOrderedIndex(t, core.SortAscending)
	fill(t, ix, s, 1, 2, 3)
	cur := prepare(t, ix, s, nil)
	s.Cancel()
	_, err := cur.Next()
	assert.Equal(t, core.QueryCanceled, core.CodeOf(err))
}

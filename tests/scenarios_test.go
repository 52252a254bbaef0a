// Package tests exercises the storage core end to end: access paths
// driven through compiled index conditions, recovery, and the virtual
// table flavors working together.
package tests

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagedb/internal/config"
	"pagedb/internal/core"
	"pagedb/internal/index"
	"pagedb/internal/index/virtual"
	"pagedb/internal/store"
	"pagedb/internal/table"
)

func newDB(t *testing.T) (*table.Database, *core.Session) {
	t.Helper()
	cfg := config.Default()
	cfg.CachePages = 64
	return table.Open(store.NewMemStore(cfg), cfg), core.NewSession()
}

func intTable(name string) *core.Table {
	return &core.Table{Name: name, Columns: []*core.Column{
		{Name: "A", Type: core.TypeInt, Nullable: true},
		{Name: "B", Type: core.TypeInt, Nullable: true},
	}}
}

func uniqueOnA(name string) *core.IndexMeta {
	return &core.IndexMeta{
		Name: name, Type: core.IndexUniqueSecondary,
		Columns:           []core.IndexColumn{{Name: "A"}},
		UniqueColumnCount: 1,
		NullsDistinct:     core.NullsDistinctDefault,
	}
}

func drainPairs(t *testing.T, cur index.Cursor) [][2]int64 {
	t.Helper()
	var out [][2]int64
	for {
		ok, err := cur.Next()
		require.NoError(t, err)
		if !ok {
			return out
		}
		row, err := cur.Row()
		require.NoError(t, err)
		out = append(out, [2]int64{
			int64(row.Values[0].(core.Int)),
			int64(row.Values[1].(core.Int)),
		})
	}
}

// Unique secondary: insert three rows and scan the closed range
// [a>=2, a<=3] through compiled conditions.
func TestUniqueSecondaryInsertAndRange(t *testing.T) {
	db, s := newDB(t)
	tbl, err := db.CreateTable(intTable("T1"))
	require.NoError(t, err)
	ux, err := tbl.AddIndex(s, uniqueOnA("T1_A"))
	require.NoError(t, err)

	for _, pair := range [][2]int64{{1, 10}, {2, 20}, {3, 30}} {
		require.NoError(t, tbl.AddRow(s, core.NewRow(core.KeyNone, core.Int(pair[0]), core.Int(pair[1]))))
	}

	cur := index.NewIndexCursor(ux)
	require.NoError(t, cur.Prepare(s, []*index.Condition{
		{Op: index.CmpBiggerEqual, Column: 0, Expr: index.ValueExpr{V: core.Int(2)}},
		{Op: index.CmpSmallerEqual, Column: 0, Expr: index.ValueExpr{V: core.Int(3)}},
	}, false))
	assert.Equal(t, [][2]int64{{2, 20}, {3, 30}}, drainPairs(t, cur))
}

// Duplicate detection on the unique index renders the colliding key.
func TestDuplicateDetection(t *testing.T) {
	db, s := newDB(t)
	tbl, err := db.CreateTable(intTable("T2"))
	require.NoError(t, err)
	_, err = tbl.AddIndex(s, uniqueOnA("T2_A"))
	require.NoError(t, err)

	for _, pair := range [][2]int64{{1, 10}, {2, 20}, {3, 30}} {
		require.NoError(t, tbl.AddRow(s, core.NewRow(core.KeyNone, core.Int(pair[0]), core.Int(pair[1]))))
	}
	err = tbl.AddRow(s, core.NewRow(core.KeyNone, core.Int(2), core.Int(99)))
	require.Error(t, err)
	assert.Equal(t, core.DuplicateKey1, core.CodeOf(err))
	assert.Contains(t, err.Error(), "T2_A")
	assert.Contains(t, err.Error(), "(2)")
}

// Nulls-distinct default: nulls never collide, values do.
func TestNullsDistinctPolicy(t *testing.T) {
	db, s := newDB(t)
	tbl, err := db.CreateTable(intTable("T3"))
	require.NoError(t, err)
	_, err = tbl.AddIndex(s, uniqueOnA("T3_A"))
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		require.NoError(t, tbl.AddRow(s, core.NewRow(core.KeyNone, core.NullValue, core.Int(int64(i)))))
	}
	require.NoError(t, tbl.AddRow(s, core.NewRow(core.KeyNone, core.Int(1), core.Int(10))))
	err = tbl.AddRow(s, core.NewRow(core.KeyNone, core.Int(1), core.Int(20)))
	assert.Equal(t, core.DuplicateKey1, core.CodeOf(err))
}

// The range pseudo-index generates SYSTEM_RANGE(1,5,2) and honours
// pushed-down bounds.
func TestRangePseudoIndex(t *testing.T) {
	_, s := newDB(t)
	tbl := &core.Table{Name: "SR", Columns: []*core.Column{{Name: "X", Type: core.TypeInt}}}
	meta := &core.IndexMeta{Name: "SR_IDX", Type: core.IndexRange,
		Columns: []core.IndexColumn{{Name: "X", Column: 0}}}
	rx := virtual.NewRangeIndex(meta, tbl, 1, 5, 2)

	cur := index.NewIndexCursor(rx)
	require.NoError(t, cur.Prepare(s, nil, false))
	var all []int64
	for {
		ok, err := cur.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		row, _ := cur.Row()
		all = append(all, int64(row.Values[0].(core.Int)))
	}
	assert.Equal(t, []int64{1, 3, 5}, all)

	cur = index.NewIndexCursor(rx)
	require.NoError(t, cur.Prepare(s, []*index.Condition{
		{Op: index.CmpBiggerEqual, Column: 0, Expr: index.ValueExpr{V: core.Int(2)}},
		{Op: index.CmpSmallerEqual, Column: 0, Expr: index.ValueExpr{V: core.Int(4)}},
	}, false))
	ok, err := cur.Next()
	require.NoError(t, err)
	require.True(t, ok)
	row, _ := cur.Row()
	assert.Equal(t, 0, core.Compare(core.Int(3), row.Values[0]))
	ok, err = cur.Next()
	require.NoError(t, err)
	assert.False(t, ok)
}

// IN fan-out over a descending index emits the list order, not the
// index order.
func TestInFanOutWithDescendingIndex(t *testing.T) {
	db, s := newDB(t)
	tbl, err := db.CreateTable(intTable("T5"))
	require.NoError(t, err)
	meta := &core.IndexMeta{
		Name: "T5_A_DESC", Type: core.IndexSecondary,
		Columns: []core.IndexColumn{{Name: "A", SortType: core.SortDescending}},
	}
	dx, err := tbl.AddIndex(s, meta)
	require.NoError(t, err)
	for i := 1; i <= 3; i++ {
		require.NoError(t, tbl.AddRow(s, core.NewRow(core.KeyNone, core.Int(int64(i)), core.Int(0))))
	}

	cur := index.NewIndexCursor(dx)
	require.NoError(t, cur.Prepare(s, []*index.Condition{
		{Op: index.CmpInList, Column: 0, List: []index.Expression{
			index.ValueExpr{V: core.Int(3)},
			index.ValueExpr{V: core.Int(1)},
			index.ValueExpr{V: core.Int(2)},
		}},
	}, false))
	var got []int64
	for {
		ok, err := cur.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		row, err := cur.Row()
		require.NoError(t, err)
		got = append(got, int64(row.Values[0].(core.Int)))
	}
	assert.Equal(t, []int64{3, 1, 2}, got)
}

type rangeCTE struct{ limit int64 }

func (q rangeCTE) Anchor(*core.Session) ([]*core.Row, error) {
	return []*core.Row{core.NewRow(1, core.Int(1))}, nil
}

func (q rangeCTE) Recurse(_ *core.Session, prev []*core.Row) ([]*core.Row, error) {
	var out []*core.Row
	for _, r := range prev {
		n := int64(r.Values[0].(core.Int))
		if n < q.limit {
			out = append(out, core.NewRow(n+1, core.Int(n+1)))
		}
	}
	return out, nil
}

// The recursive view yields 1,2,3 exactly once each, in order.
func TestRecursiveView(t *testing.T) {
	_, s := newDB(t)
	tbl := &core.Table{Name: "R", Columns: []*core.Column{{Name: "N", Type: core.TypeInt}}}
	meta := &core.IndexMeta{Name: "R_IDX", Type: core.IndexView}
	rx := virtual.NewRecursiveIndex(meta, tbl, rangeCTE{limit: 3}, 100)

	cur, err := rx.Find(s, nil, nil, false)
	require.NoError(t, err)
	var got []int64
	for {
		ok, err := cur.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		row, _ := cur.Row()
		got = append(got, int64(row.Values[0].(core.Int)))
	}
	assert.Equal(t, []int64{1, 2, 3}, got)
}

// Splits under load, a crash before commit, and recovery to the
// committed prefix.
func TestSplitAndRecovery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s7.pagedb")
	cfg := config.Default()
	cfg.CachePages = 128

	st, err := store.Open(path, cfg)
	require.NoError(t, err)
	db := table.Open(st, cfg)
	s := core.NewSession()
	def := &core.Table{Name: "S7", Columns: []*core.Column{
		{Name: "A", Type: core.TypeInt, Nullable: true},
		{Name: "B", Type: core.TypeString, Nullable: true},
	}}
	tbl, err := db.CreateTable(def)
	require.NoError(t, err)

	const committed = 6000
	for i := 0; i < committed; i++ {
		row := core.NewRow(core.KeyNone, core.Int(int64(i)), core.Str(fmt.Sprintf("row-%05d", i)))
		require.NoError(t, tbl.AddRow(s, row))
	}
	require.NoError(t, st.Commit())
	head := tbl.Data().Meta().HeadPageID

	// More inserts that never commit, then a crash.
	for i := committed; i < 10000; i++ {
		row := core.NewRow(core.KeyNone, core.Int(int64(i)), core.Str(fmt.Sprintf("row-%05d", i)))
		require.NoError(t, tbl.AddRow(s, row))
	}

	st2, err := store.Open(path, cfg)
	require.NoError(t, err)
	defer st2.Close()
	assert.False(t, st2.CleanShutdown())

	db2 := table.Open(st2, cfg)
	s2 := core.NewSession()
	def2 := &core.Table{Name: "S7", Columns: def.Columns}
	tbl2, err := db2.OpenTable(def2, head)
	require.NoError(t, err)
	assert.EqualValues(t, committed, tbl2.RowCount(s2))

	cur, err := tbl2.Data().Find(s2, nil, nil, false)
	require.NoError(t, err)
	var prev int64
	n := 0
	for {
		ok, err := cur.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		row, err := cur.Row()
		require.NoError(t, err)
		if n > 0 {
			require.Greater(t, row.Key, prev)
		}
		prev = row.Key
		n++
	}
	assert.Equal(t, committed, n)
}

// Ordering property: a full scan of an ordered index emits rows in
// comparator order, under the index's own comparator.
func TestOrderingInvariant(t *testing.T) {
	db, s := newDB(t)
	tbl, err := db.CreateTable(intTable("T8"))
	require.NoError(t, err)
	meta := &core.IndexMeta{
		Name: "T8_AB", Type: core.IndexSecondary,
		Columns: []core.IndexColumn{{Name: "A"}, {Name: "B", SortType: core.SortDescending}},
	}
	ix, err := tbl.AddIndex(s, meta)
	require.NoError(t, err)
	for i := 0; i < 500; i++ {
		require.NoError(t, tbl.AddRow(s, core.NewRow(core.KeyNone,
			core.Int(int64(i%13)), core.Int(int64(i%29)))))
	}
	cur, err := ix.Find(s, nil, nil, false)
	require.NoError(t, err)
	var prev *core.SearchRow
	for {
		ok, err := cur.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		r := cur.SearchRow().Clone()
		if prev != nil {
			require.LessOrEqual(t, ix.CompareRows(prev, r), 0)
		}
		prev = r
	}
}

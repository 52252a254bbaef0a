package btree

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagedb/internal/core"
	"pagedb/internal/store"
)

type secondaryFixture struct {
	st   store.Store
	data *DataIndex
	idx  *SecondaryIndex
	s    *core.Session
}

func newSecondaryFixture(t *testing.T, meta *core.IndexMeta) *secondaryFixture {
	t.Helper()
	st := newTestStore(t)
	tbl := &core.Table{ID: 1, Name: "T", Columns: []*core.Column{
		{Name: "A", Type: core.TypeInt, Nullable: true},
		{Name: "B", Type: core.TypeInt, Nullable: true},
	}}
	dataMeta := &core.IndexMeta{ID: 10, Name: "T_DATA", TableID: 1, Type: core.IndexScan}
	data, err := NewDataIndex(st, dataMeta, tbl, core.CompareMode{})
	require.NoError(t, err)
	meta.TableID = 1
	require.NoError(t, meta.BindColumns(tbl))
	idx, err := NewSecondaryIndex(st, meta, tbl, core.CompareMode{}, func(s *core.Session, key int64) (*core.Row, error) {
		return data.GetRow(s, key)
	})
	require.NoError(t, err)
	return &secondaryFixture{st: st, data: data, idx: idx, s: core.NewSession()}
}

func (f *secondaryFixture) add(t *testing.T, a, b core.Value) *core.Row {
	t.Helper()
	row := core.NewRow(core.KeyNone, a, b)
	require.NoError(t, f.data.Add(f.s, row))
	err := f.idx.Add(f.s, row)
	if err != nil {
		require.NoError(t, f.data.Remove(f.s, row))
	}
	require.NoError(t, err)
	return row
}

func uniqueOnA() *core.IndexMeta {
	return &core.IndexMeta{
		ID: 11, Name: "IDX_A", Type: core.IndexUniqueSecondary,
		Columns:           []core.IndexColumn{{Name: "A"}},
		UniqueColumnCount: 1,
		NullsDistinct:     core.NullsDistinctDefault,
	}
}

func TestSecondaryInsertAndRangeScan(t *testing.T) {
	f := newSecondaryFixture(t, uniqueOnA())
	f.add(t, core.Int(1), core.Int(10))
	f.add(t, core.Int(2), core.Int(20))
	f.add(t, core.Int(3), core.Int(30))

	first := &core.SearchRow{}
	first.SetValue(0, core.Int(2))
	last := &core.SearchRow{}
	last.SetValue(0, core.Int(3))
	cur, err := f.idx.Find(f.s, first, last, false)
	require.NoError(t, err)

	var got [][2]int64
	for {
		ok, err := cur.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		row, err := cur.Row()
		require.NoError(t, err)
		got = append(got, [2]int64{int64(row.Values[0].(core.Int)), int64(row.Values[1].(core.Int))})
	}
	assert.Equal(t, [][2]int64{{2, 20}, {3, 30}}, got)
}

func TestSecondaryDuplicateKey(t *testing.T) {
	f := newSecondaryFixture(t, uniqueOnA())
	f.add(t, core.Int(1), core.Int(10))
	f.add(t, core.Int(2), core.Int(20))

	row := core.NewRow(core.KeyNone, core.Int(2), core.Int(99))
	require.NoError(t, f.data.Add(f.s, row))
	err := f.idx.Add(f.s, row)
	require.Error(t, err)
	assert.Equal(t, core.DuplicateKey1, core.CodeOf(err))
	assert.Contains(t, err.Error(), "IDX_A")
	assert.Contains(t, err.Error(), "(2)")
}

func TestSecondaryNullsDistinct(t *testing.T) {
	f := newSecondaryFixture(t, uniqueOnA())
	// Nulls never collide under the distinct policy.
	f.add(t, core.NullValue, core.Int(1))
	f.add(t, core.NullValue, core.Int(2))
	f.add(t, core.NullValue, core.Int(3))
	f.add(t, core.Int(1), core.Int(10))

	row := core.NewRow(core.KeyNone, core.Int(1), core.Int(20))
	require.NoError(t, f.data.Add(f.s, row))
	err := f.idx.Add(f.s, row)
	assert.Equal(t, core.DuplicateKey1, core.CodeOf(err))
}

func TestSecondaryNotDistinctCollidesOnNull(t *testing.T) {
	meta := uniqueOnA()
	meta.NullsDistinct = core.NullsNotDistinct
	f := newSecondaryFixture(t, meta)
	f.add(t, core.NullValue, core.Int(1))

	row := core.NewRow(core.KeyNone, core.NullValue, core.Int(2))
	require.NoError(t, f.data.Add(f.s, row))
	err := f.idx.Add(f.s, row)
	assert.Equal(t, core.DuplicateKey1, core.CodeOf(err))
}

func TestSecondaryDescendingOrder(t *testing.T) {
	meta := &core.IndexMeta{
		ID: 12, Name: "IDX_DESC", Type: core.IndexSecondary,
		Columns: []core.IndexColumn{{Name: "A", SortType: core.SortDescending}},
	}
	f := newSecondaryFixture(t, meta)
	f.add(t, core.Int(1), core.Int(0))
	f.add(t, core.Int(3), core.Int(0))
	f.add(t, core.Int(2), core.Int(0))

	cur, err := f.idx.Find(f.s, nil, nil, false)
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
	assert.Equal(t, []int64{3, 2, 1}, got)
}

func TestSecondarySplitKeepsOrderAndCount(t *testing.T) {
	meta := &core.IndexMeta{
		ID: 13, Name: "IDX_BIG", Type: core.IndexSecondary,
		Columns: []core.IndexColumn{{Name: "A"}},
	}
	f := newSecondaryFixture(t, meta)
	const n = 3000
	// Shuffle-ish insert order to exercise splits away from the tail.
	for i := 0; i < n; i++ {
		v := (i * 7919) % n
		f.add(t, core.Int(int64(v)), core.Int(int64(i)))
	}
	assert.EqualValues(t, n, f.idx.RowCount(f.s))

	cur, err := f.idx.Find(f.s, nil, nil, false)
	require.NoError(t, err)
	var prev *core.SearchRow
	count := 0
	for {
		ok, err := cur.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		r := cur.SearchRow()
		if prev != nil {
			assert.LessOrEqual(t, f.idx.CompareRows(prev, r), 0)
		}
		prev = r.Clone()
		count++
	}
	assert.Equal(t, n, count)
}

func TestSecondaryRemove(t *testing.T) {
	meta := &core.IndexMeta{
		ID: 14, Name: "IDX_R", Type: core.IndexSecondary,
		Columns: []core.IndexColumn{{Name: "A"}},
	}
	f := newSecondaryFixture(t, meta)
	rows := make([]*core.Row, 0, 800)
	for i := 0; i < 800; i++ {
		rows = append(rows, f.add(t, core.Int(int64(i%50)), core.Int(int64(i))))
	}
	for _, row := range rows {
		require.NoError(t, f.idx.Remove(f.s, row))
	}
	assert.EqualValues(t, 0, f.idx.RowCount(f.s))

	err := f.idx.Remove(f.s, rows[0])
	assert.Equal(t, core.RowNotFoundWhenDeleting1, core.CodeOf(err))
}

func TestSecondaryFindFirstOrLastSkipsNulls(t *testing.T) {
	meta := &core.IndexMeta{
		ID: 15, Name: "IDX_MM", Type: core.IndexSecondary,
		Columns: []core.IndexColumn{{Name: "A"}},
	}
	f := newSecondaryFixture(t, meta)
	f.add(t, core.NullValue, core.Int(0))
	f.add(t, core.Int(5), core.Int(0))
	f.add(t, core.Int(9), core.Int(0))

	cur, err := f.idx.FindFirstOrLast(f.s, true)
	require.NoError(t, err)
	ok, err := cur.Next()
	require.NoError(t, err)
	require.True(t, ok)
	row, _ := cur.Row()
	assert.Equal(t, 0, core.Compare(core.Int(5), row.Values[0]))

	cur, err = f.idx.FindFirstOrLast(f.s, false)
	require.NoError(t, err)
	ok, err = cur.Next()
	require.NoError(t, err)
	require.True(t, ok)
	row, _ = cur.Row()
	assert.Equal(t, 0, core.Compare(core.Int(9), row.Values[0]))
}

func TestSecondaryTruncateFreesPages(t *testing.T) {
	meta := &core.IndexMeta{
		ID: 16, Name: "IDX_T", Type: core.IndexSecondary,
		Columns: []core.IndexColumn{{Name: "A"}},
	}
	f := newSecondaryFixture(t, meta)
	for i := 0; i < 2000; i++ {
		f.add(t, core.Int(int64(i)), core.Int(0))
	}
	before := f.st.LivePages()
	require.NoError(t, f.idx.Truncate(f.s))
	assert.Less(t, f.st.LivePages(), before)
	assert.EqualValues(t, 0, f.idx.RowCount(f.s))
}

func TestSecondaryRowResolvesThroughDataIndex(t *testing.T) {
	f := newSecondaryFixture(t, uniqueOnA())
	want := f.add(t, core.Int(7), core.Int(70))

	probe := &core.SearchRow{}
	probe.SetValue(0, core.Int(7))
	cur, err := f.idx.Find(f.s, probe, probe, false)
	require.NoError(t, err)
	ok, err := cur.Next()
	require.NoError(t, err)
	require.True(t, ok)
	row, err := cur.Row()
	require.NoError(t, err)
	assert.Equal(t, want.Key, row.Key)
	assert.Equal(t, 0, core.Compare(core.Int(70), row.Values[1]))
	assert.Equal(t, fmt.Sprintf("%d", 7), row.Values[0].SQL())
}

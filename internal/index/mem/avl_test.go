package mem

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagedb/internal/core"
)

func newTreeFixture(t *testing.T, unique bool) (*TreeIndex, *core.Session) {
	t.Helper()
	tbl := &core.Table{ID: 1, Name: "M", Columns: []*core.Column{
		{Name: "A", Type: core.TypeInt, Nullable: true},
		{Name: "B", Type: core.TypeInt, Nullable: true},
	}}
	meta := &core.IndexMeta{
		ID: 30, Name: "IDX_M", Type: core.IndexOrderedInMemory,
		Columns: []core.IndexColumn{{Name: "A", Column: 0}},
	}
	if unique {
		meta.Type = core.IndexUniqueSecondary
		meta.UniqueColumnCount = 1
		meta.NullsDistinct = core.NullsDistinctDefault
	}
	return NewTreeIndex(meta, tbl, core.CompareMode{}), core.NewSession()
}

func TestTreeIndexOrderedIteration(t *testing.T) {
	ix, s := newTreeFixture(t, false)
	rnd := rand.New(rand.NewSource(1))
	const n = 1000
	for i := 0; i < n; i++ {
		row := core.NewRow(int64(i+1), core.Int(int64(rnd.Intn(200))), core.Int(int64(i)))
		require.NoError(t, ix.Add(s, row))
	}
	cur, err := ix.Find(s, nil, nil, false)
	require.NoError(t, err)
	var prev *core.Row
	count := 0
	for {
		ok, err := cur.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		row, _ := cur.Row()
		if prev != nil {
			assert.LessOrEqual(t, ix.CompareRows(prev, row), 0)
		}
		prev = row
		count++
	}
	assert.Equal(t, n, count)
}

func TestTreeIndexHeightBound(t *testing.T) {
	ix, s := newTreeFixture(t, false)
	const n = 4096
	for i := 0; i < n; i++ {
		require.NoError(t, ix.Add(s, core.NewRow(int64(i+1), core.Int(int64(i)), core.Int(0))))
	}
	limit := 1.44 * math.Log2(float64(n)+2)
	assert.LessOrEqual(t, float64(ix.Height()), limit)

	// Deleting half the rows keeps the tree balanced.
	for i := 0; i < n; i += 2 {
		require.NoError(t, ix.Remove(s, core.NewRow(int64(i+1), core.Int(int64(i)), core.Int(0))))
	}
	limit = 1.44 * math.Log2(float64(n)/2+2)
	assert.LessOrEqual(t, float64(ix.Height()), limit)
	assert.EqualValues(t, n/2, ix.RowCount(s))
}

func TestTreeIndexRangeAndReverse(t *testing.T) {
	ix, s := newTreeFixture(t, false)
	for i := 1; i <= 9; i++ {
		require.NoError(t, ix.Add(s, core.NewRow(int64(i), core.Int(int64(i)), core.Int(0))))
	}
	first := &core.SearchRow{}
	first.SetValue(0, core.Int(3))
	last := &core.SearchRow{}
	last.SetValue(0, core.Int(6))

	var got []int64
	cur, err := ix.Find(s, first, last, false)
	require.NoError(t, err)
	for {
		ok, err := cur.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		row, _ := cur.Row()
		got = append(got, int64(row.Values[0].(core.Int)))
	}
	assert.Equal(t, []int64{3, 4, 5, 6}, got)

	got = got[:0]
	cur, err = ix.Find(s, first, last, true)
	require.NoError(t, err)
	for {
		ok, err := cur.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		row, _ := cur.Row()
		got = append(got, int64(row.Values[0].(core.Int)))
	}
	assert.Equal(t, []int64{6, 5, 4, 3}, got)
}

func TestTreeIndexUnique(t *testing.T) {
	ix, s := newTreeFixture(t, true)
	require.NoError(t, ix.Add(s, core.NewRow(1, core.Int(1), core.Int(0))))
	err := ix.Add(s, core.NewRow(2, core.Int(1), core.Int(9)))
	assert.Equal(t, core.DuplicateKey1, core.CodeOf(err))

	// Nulls stay distinct.
	require.NoError(t, ix.Add(s, core.NewRow(3, core.NullValue, core.Int(0))))
	require.NoError(t, ix.Add(s, core.NewRow(4, core.NullValue, core.Int(1))))
}

func TestTreeIndexRemoveExactRow(t *testing.T) {
	ix, s := newTreeFixture(t, false)
	// Equal composite keys, distinct row keys.
	a := core.NewRow(1, core.Int(5), core.Int(0))
	b := core.NewRow(2, core.Int(5), core.Int(1))
	require.NoError(t, ix.Add(s, a))
	require.NoError(t, ix.Add(s, b))
	require.NoError(t, ix.Remove(s, a))
	assert.EqualValues(t, 1, ix.RowCount(s))

	cur, _ := ix.Find(s, nil, nil, false)
	ok, err := cur.Next()
	require.NoError(t, err)
	require.True(t, ok)
	row, _ := cur.Row()
	assert.Equal(t, int64(2), row.Key)
}

package btree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagedb/internal/core"
)

func geom(x, y float64) core.Geometry {
	return core.Geometry{Env: core.Envelope{MinX: x, MinY: y, MaxX: x + 1, MaxY: y + 1}}
}

func newSpatialFixture(t *testing.T) (*SpatialTreeIndex, *core.Session) {
	t.Helper()
	tbl := &core.Table{ID: 1, Name: "G", Columns: []*core.Column{
		{Name: "SHAPE", Type: core.TypeGeometry, Nullable: true},
	}}
	meta := &core.IndexMeta{
		ID: 20, Name: "IDX_G", Type: core.IndexSpatial,
		Columns: []core.IndexColumn{{Name: "SHAPE", Column: 0}},
	}
	return NewSpatialIndex(meta, tbl, core.CompareMode{}, nil), core.NewSession()
}

func TestSpatialInsertAndIntersect(t *testing.T) {
	ix, s := newSpatialFixture(t)
	for x := 0; x < 10; x++ {
		for y := 0; y < 10; y++ {
			row := core.NewRow(int64(x*10+y+1), geom(float64(x*3), float64(y*3)))
			require.NoError(t, ix.Add(s, row))
		}
	}
	assert.EqualValues(t, 100, ix.RowCount(s))

	// A window covering the 2x2 block of cells at origin.
	cur, err := ix.FindByGeometry(s, nil, nil, core.Envelope{MinX: 0, MinY: 0, MaxX: 4, MaxY: 4})
	require.NoError(t, err)
	n := 0
	for {
		ok, err := cur.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		row, _ := cur.Row()
		g := row.Value(0).(core.Geometry)
		assert.True(t, g.Env.Intersects(core.Envelope{MinX: 0, MinY: 0, MaxX: 4, MaxY: 4}))
		n++
	}
	assert.Equal(t, 4, n)
}

func TestSpatialRemove(t *testing.T) {
	ix, s := newSpatialFixture(t)
	rows := make([]*core.Row, 0, 40)
	for i := 0; i < 40; i++ {
		row := core.NewRow(int64(i+1), geom(float64(i), 0))
		require.NoError(t, ix.Add(s, row))
		rows = append(rows, row)
	}
	for _, row := range rows {
		require.NoError(t, ix.Remove(s, row))
	}
	assert.EqualValues(t, 0, ix.RowCount(s))

	err := ix.Remove(s, rows[0])
	assert.Equal(t, core.RowNotFoundWhenDeleting1, core.CodeOf(err))
}

func TestSpatialFullScanHonoursCancellation(t *testing.T) {
	ix, s := newSpatialFixture(t)
	require.NoError(t, ix.Add(s, core.NewRow(1, geom(0, 0))))
	cur, err := ix.Find(s, nil, nil, false)
	require.NoError(t, err)
	s.Cancel()
	_, err = cur.Next()
	assert.Equal(t, core.QueryCanceled, core.CodeOf(err))
}

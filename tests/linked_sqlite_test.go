package tests

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"pagedb/internal/core"
	"pagedb/internal/index/linked"
)

// The linked index against an in-process sqlite: a real SQL engine on
// the other side of the dialect layer, no server required.
func TestLinkedIndexSQLiteRoundTrip(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(`CREATE TABLE remote (a INTEGER, b TEXT)`)
	require.NoError(t, err)

	tbl := &core.Table{ID: 1, Name: "REMOTE", Columns: []*core.Column{
		{Name: "a", Type: core.TypeInt, Nullable: true},
		{Name: "b", Type: core.TypeString, Nullable: true},
	}}
	meta := &core.IndexMeta{ID: 1, Name: "LNK_SQLITE", Type: core.IndexLinked}
	ix := linked.NewLinkedIndex(meta, tbl, db, linked.Get("sqlite"), "remote")
	s := core.NewSession()

	require.NoError(t, ix.Add(s, core.NewRow(1, core.Int(1), core.Str("one"))))
	require.NoError(t, ix.Add(s, core.NewRow(2, core.Int(2), core.Str("two"))))
	require.NoError(t, ix.Add(s, core.NewRow(3, core.Int(3), core.NullValue)))

	// Bounded SELECT through the dialect layer.
	first := &core.SearchRow{}
	first.SetValue(0, core.Int(2))
	cur, err := ix.Find(s, first, nil, false)
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
	assert.ElementsMatch(t, []int64{2, 3}, got)

	// Direct UPDATE, IS NULL matching, and delete-missing behavior.
	require.NoError(t, ix.Update(s,
		core.NewRow(2, core.Int(2), core.Str("two")),
		core.NewRow(2, core.Int(2), core.Str("TWO"))))
	require.NoError(t, ix.Remove(s, core.NewRow(3, core.Int(3), core.NullValue)))
	err = ix.Remove(s, core.NewRow(9, core.Int(9), core.Str("none")))
	assert.Equal(t, core.RowNotFoundWhenDeleting1, core.CodeOf(err))

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM remote`).Scan(&n))
	assert.Equal(t, 2, n)
	var b string
	require.NoError(t, db.QueryRow(`SELECT b FROM remote WHERE a = 2`).Scan(&b))
	assert.Equal(t, "TWO", b)
}

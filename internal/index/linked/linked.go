package linked

import (
	"database/sql"
	"fmt"
	"math/big"
	"strings"

	"pagedb/internal/core"
	"pagedb/internal/index"
)

// approxRemoteRows is the fixed estimate for remote tables: linked
// indexes do not maintain a row count.
const approxRemoteRows = 1000

// LinkedIndex delegates every operation to a remote SQL source.
// Failures from the remote are wrapped with the statement text.
type LinkedIndex struct {
	index.Base
	db      *sql.DB
	dialect Dialect
	remote  string
}

// NewLinkedIndex binds a remote table through an open connection pool.
func NewLinkedIndex(meta *core.IndexMeta, tbl *core.Table, db *sql.DB, dialect Dialect, remoteTable string) *LinkedIndex {
	return &LinkedIndex{
		Base:    index.Base{IndexMeta: meta, Tbl: tbl},
		db:      db,
		dialect: dialect,
		remote:  remoteTable,
	}
}

func (ix *LinkedIndex) FindRequiresFullScan() bool { return false }

// bindValue converts an engine value to a driver argument.
func bindValue(v core.Value) any {
	switch t := v.(type) {
	case nil, core.Null:
		return nil
	case core.Int:
		return int64(t)
	case core.BigInt:
		return t.V.String()
	case core.Decimal:
		return t.SQL()
	case core.Str:
		return string(t)
	case core.Bytes:
		return []byte(t)
	case core.Geometry:
		return t.WKB
	}
	return v.SQL()
}

// scanValue converts a driver result back into an engine value.
func scanValue(v any) core.Value {
	switch t := v.(type) {
	case nil:
		return core.NullValue
	case int64:
		return core.Int(t)
	case string:
		return core.Str(t)
	case []byte:
		return core.Bytes(append([]byte(nil), t...))
	case float64:
		r := new(big.Rat).SetFloat64(t)
		num := new(big.Int).Set(r.Num())
		return core.BigInt{V: num.Quo(num, r.Denom())}
	case bool:
		if t {
			return core.Int(1)
		}
		return core.Int(0)
	}
	return core.Str(fmt.Sprintf("%v", v))
}

// Add emits INSERT INTO t VALUES(...).
func (ix *LinkedIndex) Add(s *core.Session, row *core.Row) error {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(ix.dialect.Quote(ix.remote))
	b.WriteString(" VALUES(")
	args := make([]any, 0, len(row.Values))
	for i, v := range row.Values {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(ix.dialect.Placeholder(len(args) + 1))
		args = append(args, bindValue(v))
	}
	b.WriteString(")")
	if _, err := ix.db.Exec(b.String(), args...); err != nil {
		return core.NewLinkedError(b.String(), err)
	}
	return nil
}

// whereAllColumns renders "col IS NULL" or "col = ?" per column.
func (ix *LinkedIndex) whereAllColumns(b *strings.Builder, row *core.Row, args *[]any) {
	b.WriteString(" WHERE ")
	for i, col := range ix.Tbl.Columns {
		if i > 0 {
			b.WriteString(" AND ")
		}
		quoted := ix.dialect.Quote(col.Name)
		v := row.Value(i)
		if v == nil || v.Type() == core.TypeNull {
			b.WriteString(quoted)
			b.WriteString(" IS NULL")
			continue
		}
		b.WriteString(ix.dialect.CompareExpr(quoted, col))
		b.WriteString(" = ")
		b.WriteString(ix.dialect.Placeholder(len(*args) + 1))
		*args = append(*args, bindValue(v))
	}
}

// Remove emits DELETE FROM t WHERE ... matching every column.
func (ix *LinkedIndex) Remove(s *core.Session, row *core.Row) error {
	var b strings.Builder
	b.WriteString("DELETE FROM ")
	b.WriteString(ix.dialect.Quote(ix.remote))
	var args []any
	ix.whereAllColumns(&b, row, &args)
	res, err := ix.db.Exec(b.String(), args...)
	if err != nil {
		return core.NewLinkedError(b.String(), err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.NewRowNotFound(row)
	}
	return nil
}

// Update emits a direct UPDATE instead of remove-then-add.
func (ix *LinkedIndex) Update(s *core.Session, old, new *core.Row) error {
	var b strings.Builder
	b.WriteString("UPDATE ")
	b.WriteString(ix.dialect.Quote(ix.remote))
	b.WriteString(" SET ")
	var args []any
	for i, col := range ix.Tbl.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(ix.dialect.Quote(col.Name))
		b.WriteString(" = ")
		b.WriteString(ix.dialect.Placeholder(len(args) + 1))
		args = append(args, bindValue(new.Value(i)))
	}
	ix.whereAllColumns(&b, old, &args)
	if _, err := ix.db.Exec(b.String(), args...); err != nil {
		return core.NewLinkedError(b.String(), err)
	}
	return nil
}

// Find emits SELECT * with >= / <= bounds for the constrained columns.
func (ix *LinkedIndex) Find(s *core.Session, first, last *core.SearchRow, reverse bool) (index.Cursor, error) {
	if reverse {
		return nil, core.NewUnsupported("reverse scan on " + ix.IndexMeta.Name)
	}
	var b strings.Builder
	b.WriteString("SELECT * FROM ")
	b.WriteString(ix.dialect.Quote(ix.remote))
	var args []any
	var conds []string
	appendBounds := func(probe *core.SearchRow, op string) {
		if probe == nil {
			return
		}
		for i, col := range ix.Tbl.Columns {
			v := probe.Value(i)
			if v == nil || v.Type() == core.TypeNull {
				continue
			}
			expr := ix.dialect.CompareExpr(ix.dialect.Quote(col.Name), col)
			conds = append(conds, expr+" "+op+" "+ix.dialect.Placeholder(len(args)+1))
			args = append(args, bindValue(v))
		}
	}
	appendBounds(first, ">=")
	appendBounds(last, "<=")
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	rows, err := ix.db.Query(b.String(), args...)
	if err != nil {
		return nil, core.NewLinkedError(b.String(), err)
	}
	return &linkedCursor{s: s, sql: b.String(), rows: rows}, nil
}

type linkedCursor struct {
	s       *core.Session
	sql     string
	rows    *sql.Rows
	current *core.Row
	nextKey int64
	done    bool
}

func (c *linkedCursor) Next() (bool, error) {
	if err := c.s.CheckCanceled(); err != nil {
		return false, err
	}
	if c.done {
		return false, nil
	}
	if !c.rows.Next() {
		c.done = true
		c.current = nil
		if err := c.rows.Err(); err != nil {
			return false, core.NewLinkedError(c.sql, err)
		}
		_ = c.rows.Close()
		return false, nil
	}
	cols, err := c.rows.Columns()
	if err != nil {
		return false, core.NewLinkedError(c.sql, err)
	}
	raw := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := c.rows.Scan(ptrs...); err != nil {
		return false, core.NewLinkedError(c.sql, err)
	}
	c.nextKey++
	row := &core.Row{Key: c.nextKey, Values: make([]core.Value, len(cols))}
	for i, v := range raw {
		row.Values[i] = scanValue(v)
	}
	c.current = row
	return true, nil
}

func (c *linkedCursor) Row() (*core.Row, error)    { return c.current, nil }
func (c *linkedCursor) SearchRow() *core.SearchRow { return c.current }

func (ix *LinkedIndex) FindFirstOrLast(s *core.Session, first bool) (index.Cursor, error) {
	return nil, core.NewUnsupported("first/last lookup on " + ix.IndexMeta.Name)
}

func (ix *LinkedIndex) Cost(s *core.Session, masks []int, order *index.SortOrder, projected []int) float64 {
	// Every remote round trip is charged on top of the range cost.
	return 100 + index.CostRangeIndex(masks, index.CostParams{
		Meta: ix.IndexMeta, Table: ix.Tbl,
		RowCount: approxRemoteRows, Order: order, Projected: projected,
	})
}

// RowCount is intentionally not maintained for linked tables.
func (ix *LinkedIndex) RowCount(*core.Session) int64 { return approxRemoteRows }
func (ix *LinkedIndex) RowCountApprox() int64        { return approxRemoteRows }

func (ix *LinkedIndex) Truncate(*core.Session) error {
	stmt := "DELETE FROM " + ix.dialect.Quote(ix.remote)
	if _, err := ix.db.Exec(stmt); err != nil {
		return core.NewLinkedError(stmt, err)
	}
	return nil
}

var _ index.Index = (*LinkedIndex)(nil)

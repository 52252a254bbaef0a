package index

import (
	"pagedb/internal/core"
)

// Base carries the state and comparator logic shared by every index
// variant. Variants embed it and override what differs.
type Base struct {
	IndexMeta *core.IndexMeta
	Tbl       *core.Table
	Mode      core.CompareMode
	Rebuild   bool
}

func (b *Base) Meta() *core.IndexMeta { return b.IndexMeta }
func (b *Base) Table() *core.Table    { return b.Tbl }
func (b *Base) NeedsRebuild() bool    { return b.Rebuild }

// ClearRebuild marks the index consistent again after the table layer
// repopulated it.
func (b *Base) ClearRebuild() { b.Rebuild = false }

// Capability defaults; variants override.
func (b *Base) CanScan() bool              { return true }
func (b *Base) CanGetFirstOrLast() bool    { return false }
func (b *Base) CanFindNext() bool          { return false }
func (b *Base) FindRequiresFullScan() bool { return false }

// CompareRows orders a and b by the index columns, honouring each
// column's sort type. Columns absent on either side are skipped, so a
// sparse probe only constrains the columns it carries.
func (b *Base) CompareRows(x, y *core.SearchRow) int {
	for _, ic := range b.IndexMeta.Columns {
		vx := x.Value(ic.Column)
		vy := y.Value(ic.Column)
		if vx == nil || vy == nil {
			continue
		}
		if c := CompareValues(b.Mode, vx, vy, ic.SortType); c != 0 {
			return c
		}
	}
	return 0
}

// CompareWithKey orders like CompareRows but breaks full-column ties by
// row key, the order entries take inside the tree.
func (b *Base) CompareWithKey(x, y *core.SearchRow) int {
	if c := b.CompareRows(x, y); c != 0 {
		return c
	}
	if x.Key == core.KeyNone || y.Key == core.KeyNone {
		return 0
	}
	switch {
	case x.Key < y.Key:
		return -1
	case x.Key > y.Key:
		return 1
	}
	return 0
}

// CompareValues orders two values for one index column: the sort type
// flips direction and places nulls.
func CompareValues(mode core.CompareMode, a, b core.Value, sort core.SortType) int {
	an := a.Type() == core.TypeNull
	bn := b.Type() == core.TypeNull
	if an || bn {
		if an && bn {
			return 0
		}
		switch {
		case sort&core.SortNullsFirst != 0:
			if an {
				return -1
			}
			return 1
		case sort&core.SortNullsLast != 0:
			if an {
				return 1
			}
			return -1
		}
		// Default: nulls sort low, flipped with the column direction.
		r := 1
		if an {
			r = -1
		}
		if sort.Descending() {
			r = -r
		}
		return r
	}
	c := mode.Compare(a, b)
	if sort.Descending() {
		c = -c
	}
	return c
}

// UniqueConflict decides whether an existing row with an equal unique
// prefix conflicts with the inserted row under the index's
// nulls-distinct policy.
func (b *Base) UniqueConflict(row *core.SearchRow) bool {
	m := b.IndexMeta
	switch m.NullsDistinct {
	case core.NullsNotDistinct:
		return true
	case core.NullsDistinctDefault:
		// Conflict unless every unique-prefix value is null.
		for i := 0; i < m.UniqueColumnCount && i < len(m.Columns); i++ {
			v := row.Value(m.Columns[i].Column)
			if v != nil && v.Type() != core.TypeNull {
				return true
			}
		}
		return false
	case core.NullsAllDistinct:
		// Conflict only when no unique-prefix value is null.
		for i := 0; i < m.UniqueColumnCount && i < len(m.Columns); i++ {
			v := row.Value(m.Columns[i].Column)
			if v == nil || v.Type() == core.TypeNull {
				return false
			}
		}
		return true
	}
	return true
}

// uniquePrefix extracts the unique-key columns of a row for the
// duplicate-key error message.
func (b *Base) uniquePrefix(row *core.SearchRow) *core.SearchRow {
	m := b.IndexMeta
	out := &core.SearchRow{}
	for i := 0; i < m.UniqueColumnCount && i < len(m.Columns); i++ {
		out.SetValue(i, row.Value(m.Columns[i].Column))
	}
	return out
}

// DuplicateKey builds the constraint-violation error for row.
func (b *Base) DuplicateKey(row *core.SearchRow) error {
	return core.NewDuplicateKey(b.IndexMeta.SQL(), b.uniquePrefix(row))
}

// InBounds reports whether row lies within the closed [first, last]
// interval under this index's comparator; a nil bound is unbounded.
func (b *Base) InBounds(row, first, last *core.SearchRow) bool {
	if first != nil && b.CompareRows(row, first) < 0 {
		return false
	}
	if last != nil && b.CompareRows(row, last) > 0 {
		return false
	}
	return true
}

// ColumnIndexOf returns the position of a table column inside this
// index's column list, or -1.
func (b *Base) ColumnIndexOf(col int) int {
	for i, ic := range b.IndexMeta.Columns {
		if ic.Column == col {
			return i
		}
	}
	return -1
}

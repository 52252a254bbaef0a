// Package index defines the access-path contract every index variant
// implements, the cursor model, the predicate masks shared with the
// planner, the cost model, and the IndexCursor driver that turns
// compiled conditions into scans.
package index

import (
	"pagedb/internal/core"
)

// Cursor iterates the rows of one scan. It starts before the first
// row; Next advances and reports whether a row is available. Cursors
// are bound to one session and must not be shared.
type Cursor interface {
	Next() (bool, error)
	// Row returns the current row, fetching the full payload if the
	// access path stores only part of it.
	Row() (*core.Row, error)
	// SearchRow returns the sparse form when that is cheaper; callers
	// that only need the indexed columns should prefer it.
	SearchRow() *core.SearchRow
}

// SortOrder is the ordering a query requests, as index columns.
type SortOrder struct {
	Columns []core.IndexColumn
}

// Index is the uniform access-path interface.
type Index interface {
	Meta() *core.IndexMeta
	Table() *core.Table

	// Add inserts a row; it fails with DUPLICATE_KEY_1 when a unique
	// constraint fires.
	Add(s *core.Session, row *core.Row) error
	// Remove deletes a row; it fails with
	// ROW_NOT_FOUND_WHEN_DELETING_1 when the row is absent.
	Remove(s *core.Session, row *core.Row) error
	// Update replaces old with new. Most paths implement it as
	// remove-then-add; the linked path emits a direct UPDATE.
	Update(s *core.Session, old, new *core.Row) error

	// Find returns a cursor over rows whose keys fall inside the
	// closed interval [first, last]; nil means unbounded on that
	// side. Reverse flips the iteration direction.
	Find(s *core.Session, first, last *core.SearchRow, reverse bool) (Cursor, error)
	// FindFirstOrLast returns a cursor at the extreme row; it is only
	// available when CanGetFirstOrLast reports true.
	FindFirstOrLast(s *core.Session, first bool) (Cursor, error)

	// Cost estimates this path for the given predicate masks,
	// requested order and projected columns. Deterministic.
	Cost(s *core.Session, masks []int, order *SortOrder, projected []int) float64

	RowCount(s *core.Session) int64
	RowCountApprox() int64

	// Truncate removes every row. The caller must hold the exclusive
	// database lock.
	Truncate(s *core.Session) error

	// NeedsRebuild reports that an unclean shutdown was detected at
	// open and the index must be repopulated from the row source.
	NeedsRebuild() bool

	CanScan() bool
	CanGetFirstOrLast() bool
	CanFindNext() bool
	FindRequiresFullScan() bool

	// CompareRows orders two rows under this index's comparator,
	// ignoring columns either side leaves absent.
	CompareRows(a, b *core.SearchRow) int
}

// SpatialIndex is the extra capability of the spatial variant.
type SpatialIndex interface {
	Index
	// FindByGeometry walks entries whose bounding box intersects the
	// given envelope and that fall within [first, last].
	FindByGeometry(s *core.Session, first, last *core.SearchRow, intersection core.Envelope) (Cursor, error)
}

// Delta is the hook the MVCC layer implements to overlay a per-index
// set of uncommitted changes on a base cursor. The core itself ships
// no implementation; the transaction layer installs one and wraps the
// cursors it hands out, under the same database lock.
type Delta interface {
	Overlay(s *core.Session, base Cursor) Cursor
}

// RemoveThenAdd is the default Update implementation shared by paths
// without a native update.
func RemoveThenAdd(idx Index, s *core.Session, old, new *core.Row) error {
	if err := idx.Remove(s, old); err != nil {
		return err
	}
	return idx.Add(s, new)
}

// emptyCursor yields no rows.
type emptyCursor struct{}

// EmptyCursor is the shared cursor over zero rows.
var EmptyCursor Cursor = emptyCursor{}

func (emptyCursor) Next() (bool, error)          { return false, nil }
func (emptyCursor) Row() (*core.Row, error)      { return nil, nil }
func (emptyCursor) SearchRow() *core.SearchRow   { return nil }

// SingleRowCursor yields exactly one row, or none when row is nil.
func SingleRowCursor(row *core.Row) Cursor { return &singleRowCursor{row: row} }

type singleRowCursor struct {
	row  *core.Row
	done bool
}

func (c *singleRowCursor) Next() (bool, error) {
	if c.done || c.row == nil {
		return false, nil
	}
	c.done = true
	return true, nil
}

func (c *singleRowCursor) Row() (*core.Row, error) {
	if !c.done {
		return nil, nil
	}
	return c.row, nil
}

func (c *singleRowCursor) SearchRow() *core.SearchRow {
	if !c.done {
		return nil
	}
	return c.row
}

// FuncCursor adapts a pull function into a Cursor; fetch returns nil
// when exhausted.
type FuncCursor struct {
	Fetch func() (*core.Row, error)
	cur   *core.Row
}

func (c *FuncCursor) Next() (bool, error) {
	row, err := c.Fetch()
	if err != nil {
		return false, err
	}
	c.cur = row
	return row != nil, nil
}

func (c *FuncCursor) Row() (*core.Row, error)    { return c.cur, nil }
func (c *FuncCursor) SearchRow() *core.SearchRow { return c.cur }

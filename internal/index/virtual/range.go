package virtual

import (
	"pagedb/internal/core"
	"pagedb/internal/index"
)

// RangeIndex generates the rows of SYSTEM_RANGE(min, max, step)
// without storing anything. Step 0 is a configured error; first/last
// lookups are O(1).
type RangeIndex struct {
	base
	Min, Max, Step int64
}

// NewRangeIndex builds the pseudo-index for one range table.
func NewRangeIndex(meta *core.IndexMeta, tbl *core.Table, min, max, step int64) *RangeIndex {
	return &RangeIndex{
		base: base{index.Base{IndexMeta: meta, Tbl: tbl}},
		Min:  min, Max: max, Step: step,
	}
}

func (ix *RangeIndex) CanGetFirstOrLast() bool { return true }

func (ix *RangeIndex) rowAt(v int64) *core.Row {
	return core.NewRow(v, core.Int(v))
}

// clip narrows [Min, Max] by the probe bounds on the value column.
func (ix *RangeIndex) clip(first, last *core.SearchRow) (int64, int64, error) {
	if ix.Step == 0 {
		return 0, 0, core.ErrStepSizeZero
	}
	lo, hi := ix.Min, ix.Max
	if ix.Step < 0 {
		lo, hi = hi, lo
	}
	bound := func(r *core.SearchRow) (int64, bool) {
		if r == nil {
			return 0, false
		}
		v, ok := r.Value(0).(core.Int)
		if !ok {
			return 0, false
		}
		return int64(v), true
	}
	if v, ok := bound(first); ok && v > lo {
		// Snap up to the next generated value.
		step := ix.Step
		if step < 0 {
			step = -step
		}
		if m := (v - lo) % step; m != 0 {
			v += step - m
		}
		lo = v
	}
	if v, ok := bound(last); ok && v < hi {
		hi = v
	}
	return lo, hi, nil
}

func (ix *RangeIndex) Find(s *core.Session, first, last *core.SearchRow, reverse bool) (index.Cursor, error) {
	lo, hi, err := ix.clip(first, last)
	if err != nil {
		return nil, err
	}
	step := ix.Step
	if step < 0 {
		step = -step
	}
	cur := lo
	if reverse {
		// Snap the high bound down onto the generated sequence.
		d := (hi - lo) % step
		cur = hi - d
	}
	return &index.FuncCursor{Fetch: func() (*core.Row, error) {
		if err := s.CheckCanceled(); err != nil {
			return nil, err
		}
		if cur < lo || cur > hi {
			return nil, nil
		}
		row := ix.rowAt(cur)
		if reverse {
			cur -= step
		} else {
			cur += step
		}
		return row, nil
	}}, nil
}

func (ix *RangeIndex) FindFirstOrLast(s *core.Session, first bool) (index.Cursor, error) {
	if ix.Step == 0 {
		return nil, core.ErrStepSizeZero
	}
	lo, hi, err := ix.clip(nil, nil)
	if err != nil {
		return nil, err
	}
	if lo > hi {
		return index.EmptyCursor, nil
	}
	if first {
		return index.SingleRowCursor(ix.rowAt(lo)), nil
	}
	step := ix.Step
	if step < 0 {
		step = -step
	}
	return index.SingleRowCursor(ix.rowAt(hi - (hi-lo)%step)), nil
}

func (ix *RangeIndex) Cost(*core.Session, []int, *index.SortOrder, []int) float64 { return 1 }

func (ix *RangeIndex) RowCount(*core.Session) int64 { return ix.RowCountApprox() }

func (ix *RangeIndex) RowCountApprox() int64 {
	if ix.Step == 0 {
		return 0
	}
	step := ix.Step
	lo, hi := ix.Min, ix.Max
	if step < 0 {
		step, lo, hi = -step, hi, lo
	}
	if lo > hi {
		return 0
	}
	return (hi-lo)/step + 1
}

var _ index.Index = (*RangeIndex)(nil)

// DualIndex yields the single empty row of the dual pseudo-table.
type DualIndex struct {
	base
}

func NewDualIndex(meta *core.IndexMeta, tbl *core.Table) *DualIndex {
	return &DualIndex{base{index.Base{IndexMeta: meta, Tbl: tbl}}}
}

func (ix *DualIndex) Find(s *core.Session, first, last *core.SearchRow, reverse bool) (index.Cursor, error) {
	return index.SingleRowCursor(&core.Row{}), nil
}

func (ix *DualIndex) Cost(*core.Session, []int, *index.SortOrder, []int) float64 { return 1 }

func (ix *DualIndex) RowCount(*core.Session) int64 { return 1 }
func (ix *DualIndex) RowCountApprox() int64        { return 1 }

var _ index.Index = (*DualIndex)(nil)

package index

import (
	"fmt"
	"math"

	"pagedb/internal/core"
)

// IndexCursor drives an access path from compiled conditions: it folds
// the condition list into (start, end, intersection) probe rows,
// materialises IN lists, and re-opens point lookups per IN value.
type IndexCursor struct {
	s       *core.Session
	idx     Index
	reverse bool

	start, end *core.SearchRow
	spatial    bool
	inter      core.Envelope
	hasInter   bool

	inColumns []int
	inValues  []core.Value
	inPos     int
	inResult  Result
	inResPos  int

	alwaysFalse bool
	inner       Cursor
	opened      bool
}

// NewIndexCursor binds a cursor to the chosen access path.
func NewIndexCursor(idx Index) *IndexCursor { return &IndexCursor{idx: idx} }

// Prepare classifies the conditions and assembles the search bounds.
// It must be called once before Next.
func (c *IndexCursor) Prepare(s *core.Session, conds []*Condition, reverse bool) error {
	c.s = s
	c.reverse = reverse
	fullScan := c.idx.FindRequiresFullScan()
	var inCond *Condition
	for _, cond := range conds {
		if cond.Op == CmpAlwaysFalse {
			c.alwaysFalse = true
			return nil
		}
		if fullScan {
			// This path scans everything anyway; every condition
			// stays a post-filter above us.
			continue
		}
		if cond.IsIn() {
			if len(cond.Columns) > 0 && cond.Op != CmpInList {
				return fmt.Errorf("index: compound IN with compare type %v", cond.Op)
			}
			if inCond != nil {
				// Only one IN can drive the cursor; later ones stay
				// post-filters.
				continue
			}
			if !c.inTargetsIndexHead(cond) {
				continue
			}
			if cond.Op == CmpInQuery && (cond.Query == nil || !cond.Query.RandomAccess()) {
				return fmt.Errorf("index: IN(query) requires a random-access result")
			}
			inCond = cond
			continue
		}
		if cond.Op == CmpSpatialIntersects {
			v, err := cond.Expr.Evaluate(s)
			if err != nil {
				return err
			}
			g, ok := v.(core.Geometry)
			if !ok {
				c.alwaysFalse = true
				return nil
			}
			if c.hasInter {
				c.inter = c.inter.Union(g.Env)
			} else {
				c.inter = g.Env
				c.hasInter = true
			}
			c.spatial = true
			continue
		}
		v, err := cond.Expr.Evaluate(s)
		if err != nil {
			return err
		}
		if v == nil || v.Type() == core.TypeNull {
			if cond.Column == RowKeyColumn {
				v = core.Int(math.MinInt64)
			} else if cond.Op != CmpIsNotDistinct {
				// Comparison with NULL matches nothing.
				c.alwaysFalse = true
				return nil
			}
		}
		sort := c.sortTypeOf(cond.Column)
		if cond.IsStart() {
			c.updateBound(cond.Column, v, sort, !sort.Descending())
		}
		if cond.IsEnd() {
			c.updateBound(cond.Column, v, sort, sort.Descending())
		}
	}
	if inCond != nil {
		if c.start != nil || c.end != nil {
			// The IN cannot coexist with other bounds; the bounds win
			// and the IN stays a post-filter.
			return nil
		}
		return c.materializeIn(inCond)
	}
	return nil
}

// inTargetsIndexHead checks the IN placement rule: the first index
// column, or the exact column tuple for compound IN.
func (c *IndexCursor) inTargetsIndexHead(cond *Condition) bool {
	cols := c.idx.Meta().Columns
	if len(cols) == 0 {
		return false
	}
	if len(cond.Columns) > 0 {
		if len(cond.Columns) > len(cols) {
			return false
		}
		for i, col := range cond.Columns {
			if cols[i].Column != col {
				return false
			}
		}
		return true
	}
	return cols[0].Column == cond.Column
}

func (c *IndexCursor) sortTypeOf(col int) core.SortType {
	for _, ic := range c.idx.Meta().Columns {
		if ic.Column == col {
			return ic.SortType
		}
	}
	return core.SortAscending
}

// updateBound folds one value into the start or end probe row, keeping
// the tighter bound under the index comparator. Descending columns
// arrive here with start/end already swapped into index space.
func (c *IndexCursor) updateBound(col int, v core.Value, sort core.SortType, startInIndexSpace bool) {
	var mode core.CompareMode
	if startInIndexSpace {
		if c.start == nil {
			c.start = &core.SearchRow{}
		}
		cur := c.boundValue(c.start, col)
		if cur == nil || CompareValues(mode, v, cur, sort) > 0 {
			c.setBoundValue(c.start, col, v)
		}
		return
	}
	if c.end == nil {
		c.end = &core.SearchRow{}
	}
	cur := c.boundValue(c.end, col)
	if cur == nil || CompareValues(mode, v, cur, sort) < 0 {
		c.setBoundValue(c.end, col, v)
	}
}

func (c *IndexCursor) boundValue(row *core.SearchRow, col int) core.Value {
	if col == RowKeyColumn {
		if row.Key == core.KeyNone {
			return nil
		}
		return core.Int(row.Key)
	}
	return row.Value(col)
}

func (c *IndexCursor) setBoundValue(row *core.SearchRow, col int, v core.Value) {
	if col == RowKeyColumn {
		if iv, ok := v.(core.Int); ok {
			row.Key = int64(iv)
		}
		return
	}
	row.SetValue(col, v)
}

// materializeIn evaluates and de-duplicates the IN values under the
// database compare mode, keeping first-occurrence order.
func (c *IndexCursor) materializeIn(cond *Condition) error {
	c.inColumns = cond.Columns
	if len(c.inColumns) == 0 {
		c.inColumns = []int{cond.Column}
	}
	if cond.Op == CmpInQuery {
		c.inResult = cond.Query
		return nil
	}
	var mode core.CompareMode
	for _, expr := range cond.List {
		v, err := expr.Evaluate(c.s)
		if err != nil {
			return err
		}
		if v == nil || v.Type() == core.TypeNull {
			// NULL never equals anything; it contributes no lookup.
			continue
		}
		dup := false
		for _, seen := range c.inValues {
			if mode.Equal(seen, v) {
				dup = true
				break
			}
		}
		if !dup {
			c.inValues = append(c.inValues, v)
		}
	}
	return nil
}

func (c *IndexCursor) hasIn() bool { return len(c.inColumns) > 0 }

// Next advances the cursor, re-opening the inner cursor per IN value.
func (c *IndexCursor) Next() (bool, error) {
	if err := c.s.CheckCanceled(); err != nil {
		return false, err
	}
	if c.alwaysFalse {
		return false, nil
	}
	for {
		if !c.opened && !c.hasIn() {
			inner, err := c.open(c.start, c.end)
			if err != nil {
				return false, err
			}
			c.inner = inner
			c.opened = true
		}
		if c.inner != nil {
			ok, err := c.inner.Next()
			if err != nil || ok {
				return ok, err
			}
			c.inner = nil
		}
		if !c.hasIn() {
			return false, nil
		}
		probe, ok, err := c.nextInProbe()
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		inner, err := c.idx.Find(c.s, probe, probe, false)
		if err != nil {
			return false, err
		}
		c.inner = inner
		c.opened = true
	}
}

// nextInProbe produces the probe row for the next IN value, pulling
// from the list or the random-access subquery result and skipping
// nulls.
func (c *IndexCursor) nextInProbe() (*core.SearchRow, bool, error) {
	for {
		var v core.Value
		switch {
		case c.inResult != nil:
			if c.inResPos >= c.inResult.RowCount() {
				return nil, false, nil
			}
			row, err := c.inResult.RowAt(c.inResPos)
			c.inResPos++
			if err != nil {
				return nil, false, err
			}
			v = row.Value(0)
		default:
			if c.inPos >= len(c.inValues) {
				return nil, false, nil
			}
			v = c.inValues[c.inPos]
			c.inPos++
		}
		if v == nil || v.Type() == core.TypeNull {
			continue
		}
		probe := &core.SearchRow{}
		if tuple, ok := v.(core.RowValue); ok && len(c.inColumns) > 1 {
			for i, col := range c.inColumns {
				if i < len(tuple) {
					c.setBoundValue(probe, col, tuple[i])
				}
			}
		} else {
			c.setBoundValue(probe, c.inColumns[0], v)
		}
		return probe, true, nil
	}
}

func (c *IndexCursor) open(first, last *core.SearchRow) (Cursor, error) {
	if c.spatial {
		sp, ok := c.idx.(SpatialIndex)
		if !ok {
			return nil, core.NewUnsupported("spatial lookup on " + c.idx.Meta().Name)
		}
		return sp.FindByGeometry(c.s, first, last, c.inter)
	}
	return c.idx.Find(c.s, first, last, c.reverse)
}

func (c *IndexCursor) Row() (*core.Row, error) {
	if c.inner == nil {
		return nil, nil
	}
	return c.inner.Row()
}

func (c *IndexCursor) SearchRow() *core.SearchRow {
	if c.inner == nil {
		return nil
	}
	return c.inner.SearchRow()
}

package index

import (
	"pagedb/internal/core"
)

// Predicate mask bits, wire-stable between the planner and the index.
const (
	MaskEquality          = 1
	MaskStart             = 2
	MaskEnd               = 4
	MaskRange             = MaskStart | MaskEnd
	MaskAlwaysFalse       = 8
	MaskSpatialIntersects = 16
)

// Cost constants shared by the range-index cost function.
const (
	// costRowOffset keeps tiny tables from producing degenerate
	// plans: every estimate starts from rowCount + offset.
	costRowOffset = 1000
	// costSortPenalty is added when the query orders and the index
	// cannot supply that order.
	costSortPenalty = 100
	// costScanBase is the extra a pure table scan pays.
	costScanBase = 20
)

// CostParams collects what the range cost function needs beyond the
// masks.
type CostParams struct {
	Meta      *core.IndexMeta
	Table     *core.Table
	RowCount  int64
	Order     *SortOrder
	Projected []int
	// Scan marks the data-index scan path.
	Scan bool
}

// CostRangeIndex is the deterministic pseudo-row-count cost shared by
// every range-capable access path.
func CostRangeIndex(masks []int, p CostParams) float64 {
	rowCount := p.RowCount
	rows := float64(rowCount) + costRowOffset
	cost := rows
	if masks != nil {
		totalSelectivity := 0
		for i, ic := range p.Meta.Columns {
			col := ic.Column
			if col < 0 || col >= len(masks) {
				break
			}
			mask := masks[col]
			switch {
			case mask&MaskEquality == MaskEquality:
				if p.Meta.Unique() && i == p.Meta.UniqueColumnCount-1 {
					// Equality completed the unique key.
					cost = 3
					return finishCost(cost, masks, p)
				}
				colSel := 50
				if col < len(p.Table.Columns) {
					colSel = p.Table.Columns[col].EffectiveSelectivity()
				}
				totalSelectivity = 100 - (100-totalSelectivity)*(100-colSel)/100
				distinctRows := rowCount * int64(totalSelectivity) / 100
				if distinctRows <= 0 {
					distinctRows = 1
				}
				rows = float64(rowCount) / float64(distinctRows)
				if rows < 1 {
					rows = 1
				}
				cost = 2 + rows
				continue
			case mask&MaskRange == MaskRange:
				cost = 2 + cost/4
			case mask&MaskStart == MaskStart:
				cost = 2 + cost/3
			case mask&MaskEnd == MaskEnd:
				cost = cost / 3
			case mask&MaskSpatialIntersects == MaskSpatialIntersects:
				cost = 2 + cost/4
			default:
				return finishCost(cost, masks, p)
			}
			return finishCost(cost, masks, p)
		}
	}
	return finishCost(cost, masks, p)
}

// finishCost applies the sort and covering adjustments plus the
// per-flavor base constants.
func finishCost(cost float64, masks []int, p CostParams) float64 {
	if p.Order != nil && !SortMatches(p.Meta, p.Order) {
		cost += costSortPenalty
	}
	switch {
	case p.Scan:
		cost += costScanBase
	case Covers(p.Meta, p.Projected):
		// Covering secondary: smaller indexes win among ties.
		cost += float64(len(p.Meta.Columns))
	default:
		// Each matched row pays one data-index lookup.
		cost += cost + costScanBase
	}
	return cost
}

// SortMatches reports whether the index order is a prefix-compatible
// supply for the requested order.
func SortMatches(meta *core.IndexMeta, order *SortOrder) bool {
	if order == nil || len(order.Columns) == 0 {
		return true
	}
	if len(order.Columns) > len(meta.Columns) {
		return false
	}
	for i, oc := range order.Columns {
		ic := meta.Columns[i]
		if ic.Column != oc.Column || ic.SortType.Descending() != oc.SortType.Descending() {
			return false
		}
	}
	return true
}

// Covers reports whether the index carries every projected column, so
// the data index never has to be consulted.
func Covers(meta *core.IndexMeta, projected []int) bool {
	if projected == nil {
		return false
	}
	for _, col := range projected {
		found := false
		for _, ic := range meta.Columns {
			if ic.Column == col {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

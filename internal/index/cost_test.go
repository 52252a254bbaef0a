package index

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"pagedb/internal/core"
)

func costFixture() (CostParams, *core.Table) {
	tbl := &core.Table{ID: 1, Name: "T", Columns: []*core.Column{
		{Name: "A", Type: core.TypeInt},
		{Name: "B", Type: core.TypeInt},
	}}
	meta := &core.IndexMeta{
		ID: 1, Name: "IDX", Type: core.IndexSecondary,
		Columns: []core.IndexColumn{{Name: "A", Column: 0}, {Name: "B", Column: 1}},
	}
	return CostParams{Meta: meta, Table: tbl, RowCount: 100000}, tbl
}

func TestCostUniquePrefixCompletion(t *testing.T) {
	p, _ := costFixture()
	p.Meta.UniqueColumnCount = 1
	cost := CostRangeIndex([]int{MaskEquality, 0}, p)
	// Unique completion short-circuits to 3 before the access constant.
	assert.Less(t, cost, float64(30))
	p.Meta.UniqueColumnCount = 0
	assert.Less(t, cost, CostRangeIndex([]int{MaskEquality, 0}, p))
}

func TestCostEqualityBeatsRangeBeatsScan(t *testing.T) {
	p, _ := costFixture()
	eq := CostRangeIndex([]int{MaskEquality, 0}, p)
	rng := CostRangeIndex([]int{MaskRange, 0}, p)
	start := CostRangeIndex([]int{MaskStart, 0}, p)
	none := CostRangeIndex([]int{0, 0}, p)
	assert.Less(t, eq, rng)
	assert.Less(t, rng, start)
	assert.Less(t, start, none)
}

func TestCostMonotonicInMatches(t *testing.T) {
	p, _ := costFixture()
	one := CostRangeIndex([]int{MaskEquality, 0}, p)
	two := CostRangeIndex([]int{MaskEquality, MaskEquality}, p)
	assert.LessOrEqual(t, two, one)
}

func TestCostScanExceedsConstrainedSecondary(t *testing.T) {
	p, _ := costFixture()
	scan := p
	scan.Scan = true
	scanMeta := *p.Meta
	scanMeta.Columns = nil
	scan.Meta = &scanMeta
	scanCost := CostRangeIndex(nil, scan)
	secondary := CostRangeIndex([]int{MaskEquality, 0}, p)
	assert.Greater(t, scanCost, secondary)
}

func TestCostSortPenaltyAndCoveringCredit(t *testing.T) {
	p, _ := costFixture()
	matched := p
	matched.Order = &SortOrder{Columns: []core.IndexColumn{{Column: 0}}}
	mismatched := p
	mismatched.Order = &SortOrder{Columns: []core.IndexColumn{{Column: 1}}}
	assert.Less(t, CostRangeIndex([]int{MaskEquality, 0}, matched), CostRangeIndex([]int{MaskEquality, 0}, mismatched))

	covering := p
	covering.Projected = []int{0, 1}
	notCovering := p
	notCovering.Projected = []int{0, 1}
	notCoveringMeta := *p.Meta
	notCoveringMeta.Columns = notCoveringMeta.Columns[:1]
	notCovering.Meta = &notCoveringMeta
	assert.Less(t, CostRangeIndex([]int{MaskEquality, 0}, covering), CostRangeIndex([]int{MaskEquality, 0}, notCovering))
}

func TestCostSpatial(t *testing.T) {
	p, _ := costFixture()
	sp := CostRangeIndex([]int{MaskSpatialIntersects, 0}, p)
	full := CostRangeIndex([]int{0, 0}, p)
	assert.Less(t, sp, full)
}

func TestBuildMasks(t *testing.T) {
	conds := []*Condition{
		{Op: CmpEquality, Column: 0, Expr: ValueExpr{V: core.Int(1)}},
		{Op: CmpBiggerEqual, Column: 1, Expr: ValueExpr{V: core.Int(2)}},
		{Op: CmpSmaller, Column: 1, Expr: ValueExpr{V: core.Int(9)}},
	}
	masks := BuildMasks(conds, 2)
	assert.Equal(t, []int{MaskEquality, MaskRange}, masks)

	masks = BuildMasks(append(conds, &Condition{Op: CmpAlwaysFalse}), 2)
	assert.Nil(t, masks, "always-false folds to the nil mask array")

	masks = BuildMasks([]*Condition{{Op: CmpInList, Column: 0}}, 2)
	assert.Equal(t, []int{MaskEquality, 0}, masks)

	masks = BuildMasks([]*Condition{{Op: CmpInList, Columns: []int{0, 1}}}, 2)
	assert.Equal(t, []int{MaskEquality, MaskEquality}, masks)
}

func TestSortMatchesAndCovers(t *testing.T) {
	meta := &core.IndexMeta{Columns: []core.IndexColumn{
		{Column: 0}, {Column: 1, SortType: core.SortDescending},
	}}
	assert.True(t, SortMatches(meta, nil))
	assert.True(t, SortMatches(meta, &SortOrder{Columns: []core.IndexColumn{{Column: 0}}}))
	assert.False(t, SortMatches(meta, &SortOrder{Columns: []core.IndexColumn{{Column: 1}}}))
	assert.False(t, SortMatches(meta, &SortOrder{Columns: []core.IndexColumn{{Column: 0}, {Column: 1}}}))
	assert.True(t, SortMatches(meta, &SortOrder{Columns: []core.IndexColumn{{Column: 0}, {Column: 1, SortType: core.SortDescending}}}))

	assert.True(t, Covers(meta, []int{0, 1}))
	assert.False(t, Covers(meta, []int{0, 2}))
	assert.False(t, Covers(meta, nil))
}

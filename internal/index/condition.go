package index

import (
	"fmt"

	"pagedb/internal/core"
)

// RowKeyColumn is the pseudo column id conditions use to target the
// row key instead of a table column.
const RowKeyColumn = -1

// Expression is the opaque evaluation capability the expression layer
// provides; the core never looks inside.
type Expression interface {
	Evaluate(s *core.Session) (core.Value, error)
}

// ValueExpr is a literal expression.
type ValueExpr struct{ V core.Value }

func (e ValueExpr) Evaluate(*core.Session) (core.Value, error) { return e.V, nil }

// Result is a materialised query result the virtual indexes and
// IN-subquery conditions read from.
type Result interface {
	RowCount() int
	// RandomAccess reports whether RowAt is available; IN-subquery
	// requires it.
	RandomAccess() bool
	RowAt(i int) (*core.Row, error)
}

// CompareType classifies an index condition.
type CompareType int

const (
	CmpEquality CompareType = iota
	CmpBiggerEqual
	CmpBigger
	CmpSmallerEqual
	CmpSmaller
	CmpIsNotDistinct
	CmpInList
	CmpInArray
	CmpInQuery
	CmpSpatialIntersects
	CmpAlwaysFalse
)

func (t CompareType) String() string {
	switch t {
	case CmpEquality:
		return "="
	case CmpBiggerEqual:
		return ">="
	case CmpBigger:
		return ">"
	case CmpSmallerEqual:
		return "<="
	case CmpSmaller:
		return "<"
	case CmpIsNotDistinct:
		return "IS NOT DISTINCT FROM"
	case CmpInList:
		return "IN(..)"
	case CmpInArray:
		return "= ANY(..)"
	case CmpInQuery:
		return "IN(query)"
	case CmpSpatialIntersects:
		return "&&"
	case CmpAlwaysFalse:
		return "FALSE"
	}
	return fmt.Sprintf("CMP(%d)", int(t))
}

// Condition is one predicate the planner pushed down to an index:
// a compare type bound to one column (or a column tuple for compound
// IN) plus the expression side.
type Condition struct {
	Op     CompareType
	Column int
	// Columns is set for compound IN; Op must be CmpInList then.
	Columns []int
	Expr    Expression
	List    []Expression
	Query   Result
}

// Mask returns the predicate mask bit of this condition.
func (c *Condition) Mask() int {
	switch c.Op {
	case CmpAlwaysFalse:
		return MaskAlwaysFalse
	case CmpEquality, CmpIsNotDistinct, CmpInList, CmpInArray, CmpInQuery:
		return MaskEquality
	case CmpBiggerEqual, CmpBigger:
		return MaskStart
	case CmpSmallerEqual, CmpSmaller:
		return MaskEnd
	case CmpSpatialIntersects:
		return MaskSpatialIntersects
	}
	return 0
}

// IsStart reports whether the condition constrains the low end.
func (c *Condition) IsStart() bool {
	switch c.Op {
	case CmpEquality, CmpIsNotDistinct, CmpBiggerEqual, CmpBigger:
		return true
	}
	return false
}

// IsEnd reports whether the condition constrains the high end.
func (c *Condition) IsEnd() bool {
	switch c.Op {
	case CmpEquality, CmpIsNotDistinct, CmpSmallerEqual, CmpSmaller:
		return true
	}
	return false
}

// IsIn reports whether the condition fans out over a value list.
func (c *Condition) IsIn() bool {
	switch c.Op {
	case CmpInList, CmpInArray, CmpInQuery:
		return true
	}
	return false
}

// BuildMasks folds a condition list into the per-column mask array the
// cost model consumes. It returns nil when a condition is always
// false.
func BuildMasks(conds []*Condition, columnCount int) []int {
	masks := make([]int, columnCount)
	for _, c := range conds {
		if c.Op == CmpAlwaysFalse {
			return nil
		}
		if c.Column >= 0 && c.Column < columnCount {
			masks[c.Column] |= c.Mask()
		}
		for _, col := range c.Columns {
			if col >= 0 && col < columnCount {
				masks[col] |= MaskEquality
			}
		}
	}
	return masks
}

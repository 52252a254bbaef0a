// Package mem contains the in-memory access paths: an AVL ordered
// index with the same key shape as the secondary B-tree, and an
// equality-only hash index. They share the access-path interface but
// not the paged layout.
package mem

import (
	"pagedb/internal/core"
	"pagedb/internal/index"
)

// TreeIndex is a single-threaded AVL tree keyed by the composite key
// with the row key as tiebreaker. Cursors traverse through parent
// pointers.
type TreeIndex struct {
	index.Base
	root *treeNode
	rows int64
}

type treeNode struct {
	row                 *core.Row
	left, right, parent *treeNode
	height              int
}

// NewTreeIndex creates an empty ordered in-memory index.
func NewTreeIndex(meta *core.IndexMeta, tbl *core.Table, mode core.CompareMode) *TreeIndex {
	meta.Normalize()
	return &TreeIndex{Base: index.Base{IndexMeta: meta, Tbl: tbl, Mode: mode}}
}

func (ix *TreeIndex) CanGetFirstOrLast() bool { return true }

func height(n *treeNode) int {
	if n == nil {
		return 0
	}
	return n.height
}

func (n *treeNode) update() {
	lh, rh := height(n.left), height(n.right)
	if lh > rh {
		n.height = lh + 1
	} else {
		n.height = rh + 1
	}
}

func balance(n *treeNode) int { return height(n.left) - height(n.right) }

// rotate replaces n with its child c in n's parent, re-hanging the
// displaced subtree.
func (ix *TreeIndex) rotateLeft(n *treeNode) *treeNode {
	c := n.right
	n.right = c.left
	if c.left != nil {
		c.left.parent = n
	}
	c.left = n
	ix.replaceChild(n, c)
	n.parent = c
	n.update()
	c.update()
	return c
}

func (ix *TreeIndex) rotateRight(n *treeNode) *treeNode {
	c := n.left
	n.left = c.right
	if c.right != nil {
		c.right.parent = n
	}
	c.right = n
	ix.replaceChild(n, c)
	n.parent = c
	n.update()
	c.update()
	return c
}

func (ix *TreeIndex) replaceChild(old, new *treeNode) {
	p := old.parent
	new.parent = p
	switch {
	case p == nil:
		ix.root = new
	case p.left == old:
		p.left = new
	default:
		p.right = new
	}
}

// rebalance walks from n to the root, restoring the AVL invariant with
// single or double rotations.
func (ix *TreeIndex) rebalance(n *treeNode) {
	for n != nil {
		n.update()
		b := balance(n)
		switch {
		case b > 1:
			if balance(n.left) < 0 {
				ix.rotateLeft(n.left)
			}
			n = ix.rotateRight(n)
		case b < -1:
			if balance(n.right) > 0 {
				ix.rotateRight(n.right)
			}
			n = ix.rotateLeft(n)
		}
		n = n.parent
	}
}

func (ix *TreeIndex) Add(s *core.Session, row *core.Row) error {
	if ix.IndexMeta.Unique() && ix.UniqueConflict(row) {
		if n := ix.lookupPrefix(row); n != nil {
			return ix.DuplicateKey(row)
		}
	}
	node := &treeNode{row: row, height: 1}
	if ix.root == nil {
		ix.root = node
	} else {
		cur := ix.root
		for {
			if ix.CompareWithKey(row, cur.row) < 0 {
				if cur.left == nil {
					cur.left = node
					node.parent = cur
					break
				}
				cur = cur.left
			} else {
				if cur.right == nil {
					cur.right = node
					node.parent = cur
					break
				}
				cur = cur.right
			}
		}
		ix.rebalance(node.parent)
	}
	ix.rows++
	return nil
}

// lookupPrefix finds any row equal to the unique prefix of row.
func (ix *TreeIndex) lookupPrefix(row *core.Row) *treeNode {
	probe := &core.SearchRow{}
	m := ix.IndexMeta
	for i := 0; i < m.UniqueColumnCount && i < len(m.Columns); i++ {
		v := row.Value(m.Columns[i].Column)
		if v == nil {
			v = core.NullValue
		}
		probe.SetValue(m.Columns[i].Column, v)
	}
	cur := ix.root
	for cur != nil {
		c := ix.CompareRows(cur.row, probe)
		switch {
		case c == 0:
			return cur
		case c < 0:
			cur = cur.right
		default:
			cur = cur.left
		}
	}
	return nil
}

func (ix *TreeIndex) Remove(s *core.Session, row *core.Row) error {
	n := ix.exactNode(row)
	if n == nil {
		return core.NewRowNotFound(row)
	}
	ix.removeNode(n)
	ix.rows--
	return nil
}

func (ix *TreeIndex) exactNode(row *core.Row) *treeNode {
	cur := ix.root
	for cur != nil {
		c := ix.CompareWithKey(cur.row, row)
		switch {
		case c == 0:
			if cur.row.Key == row.Key {
				return cur
			}
			// Keys absent on one side compare equal; scan the
			// neighbourhood in order.
			for n := ix.predecessor(cur); n != nil && ix.CompareRows(n.row, row) == 0; n = ix.predecessor(n) {
				if n.row.Key == row.Key {
					return n
				}
			}
			for n := ix.successor(cur); n != nil && ix.CompareRows(n.row, row) == 0; n = ix.successor(n) {
				if n.row.Key == row.Key {
					return n
				}
			}
			return nil
		case c < 0:
			cur = cur.right
		default:
			cur = cur.left
		}
	}
	return nil
}

func (ix *TreeIndex) removeNode(n *treeNode) {
	if n.left != nil && n.right != nil {
		// Swap with the in-order predecessor, then unlink that node.
		pred := n.left
		for pred.right != nil {
			pred = pred.right
		}
		n.row, pred.row = pred.row, n.row
		n = pred
	}
	child := n.left
	if child == nil {
		child = n.right
	}
	p := n.parent
	if child != nil {
		child.parent = p
	}
	switch {
	case p == nil:
		ix.root = child
	case p.left == n:
		p.left = child
	default:
		p.right = child
	}
	ix.rebalance(p)
}

func (ix *TreeIndex) successor(n *treeNode) *treeNode {
	if n.right != nil {
		n = n.right
		for n.left != nil {
			n = n.left
		}
		return n
	}
	for n.parent != nil && n.parent.right == n {
		n = n.parent
	}
	return n.parent
}

func (ix *TreeIndex) predecessor(n *treeNode) *treeNode {
	if n.left != nil {
		n = n.left
		for n.right != nil {
			n = n.right
		}
		return n
	}
	for n.parent != nil && n.parent.left == n {
		n = n.parent
	}
	return n.parent
}

func (ix *TreeIndex) Update(s *core.Session, old, new *core.Row) error {
	return index.RemoveThenAdd(ix, s, old, new)
}

func (ix *TreeIndex) Find(s *core.Session, first, last *core.SearchRow, reverse bool) (index.Cursor, error) {
	var start *treeNode
	if reverse {
		start = ix.extremeWithin(last, false)
	} else {
		start = ix.extremeWithin(first, true)
	}
	return &treeCursor{ix: ix, s: s, next: start, first: first, last: last, reverse: reverse}, nil
}

// extremeWithin finds the first node not below bound (forward) or the
// last node not above it (reverse); nil bound means the tree extreme.
func (ix *TreeIndex) extremeWithin(bound *core.SearchRow, forward bool) *treeNode {
	cur := ix.root
	var candidate *treeNode
	for cur != nil {
		if bound == nil {
			if forward {
				candidate = cur
				cur = cur.left
			} else {
				candidate = cur
				cur = cur.right
			}
			continue
		}
		c := ix.CompareRows(cur.row, bound)
		if forward {
			if c >= 0 {
				candidate = cur
				cur = cur.left
			} else {
				cur = cur.right
			}
		} else {
			if c <= 0 {
				candidate = cur
				cur = cur.right
			} else {
				cur = cur.left
			}
		}
	}
	return candidate
}

func (ix *TreeIndex) FindFirstOrLast(s *core.Session, first bool) (index.Cursor, error) {
	if len(ix.IndexMeta.Columns) == 0 {
		return nil, core.NewUnsupported("first/last lookup on " + ix.IndexMeta.Name)
	}
	cur, err := ix.Find(s, nil, nil, !first)
	if err != nil {
		return nil, err
	}
	lead := ix.IndexMeta.Columns[0].Column
	for {
		ok, err := cur.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return index.EmptyCursor, nil
		}
		row, err := cur.Row()
		if err != nil {
			return nil, err
		}
		if v := row.Value(lead); v != nil && v.Type() != core.TypeNull {
			return index.SingleRowCursor(row), nil
		}
	}
}

func (ix *TreeIndex) Cost(s *core.Session, masks []int, order *index.SortOrder, projected []int) float64 {
	return index.CostRangeIndex(masks, index.CostParams{
		Meta: ix.IndexMeta, Table: ix.Tbl,
		RowCount: ix.RowCount(s), Order: order, Projected: projected,
	})
}

func (ix *TreeIndex) RowCount(s *core.Session) int64 {
	return ix.rows + s.RowCountDiff(ix.IndexMeta.ID)
}

func (ix *TreeIndex) RowCountApprox() int64 { return ix.rows }

func (ix *TreeIndex) Truncate(s *core.Session) error {
	ix.root = nil
	ix.rows = 0
	return nil
}

// Height reports the current tree height, for balance checks.
func (ix *TreeIndex) Height() int { return height(ix.root) }

type treeCursor struct {
	ix          *TreeIndex
	s           *core.Session
	next        *treeNode
	cur         *treeNode
	first, last *core.SearchRow
	reverse     bool
	done        bool
}

func (c *treeCursor) Next() (bool, error) {
	if err := c.s.CheckCanceled(); err != nil {
		return false, err
	}
	if c.done {
		return false, nil
	}
	for c.next != nil {
		n := c.next
		if c.reverse {
			c.next = c.ix.predecessor(n)
			if c.first != nil && c.ix.CompareRows(n.row, c.first) < 0 {
				break
			}
			if c.last != nil && c.ix.CompareRows(n.row, c.last) > 0 {
				continue
			}
		} else {
			c.next = c.ix.successor(n)
			if c.last != nil && c.ix.CompareRows(n.row, c.last) > 0 {
				break
			}
			if c.first != nil && c.ix.CompareRows(n.row, c.first) < 0 {
				continue
			}
		}
		c.cur = n
		return true, nil
	}
	c.done = true
	c.cur = nil
	return false, nil
}

func (c *treeCursor) Row() (*core.Row, error) {
	if c.cur == nil {
		return nil, nil
	}
	return c.cur.row, nil
}

func (c *treeCursor) SearchRow() *core.SearchRow {
	if c.cur == nil {
		return nil
	}
	return c.cur.row
}

var _ index.Index = (*TreeIndex)(nil)

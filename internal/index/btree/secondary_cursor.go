package btree

import (
	"pagedb/internal/core"
	"pagedb/internal/index"
	"pagedb/internal/store"
)

// btreeCursor walks a secondary index between two sparse bounds. The
// bounds are checked once per row, so rows with nulls that sort below
// the constrained prefix are skipped rather than emitted.
type btreeCursor struct {
	ix          *SecondaryIndex
	s           *core.Session
	first, last *core.SearchRow
	reverse     bool

	leaf    *btreeLeaf
	pos     int
	started bool
	done    bool
	current *core.SearchRow
}

func newBtreeCursor(ix *SecondaryIndex, s *core.Session, first, last *core.SearchRow, reverse bool) *btreeCursor {
	return &btreeCursor{ix: ix, s: s, first: first, last: last, reverse: reverse}
}

func (c *btreeCursor) Next() (bool, error) {
	if err := c.s.CheckCanceled(); err != nil {
		return false, err
	}
	if c.done {
		return false, nil
	}
	for {
		if !c.started {
			c.started = true
			if err := c.seek(); err != nil {
				return false, err
			}
		} else if c.leaf != nil {
			if c.reverse {
				c.pos--
			} else {
				c.pos++
			}
		}
		for c.leaf != nil && (c.pos < 0 || c.pos >= len(c.leaf.rows)) {
			if err := c.advanceLeaf(); err != nil {
				return false, err
			}
		}
		if c.leaf == nil {
			c.finish()
			return false, nil
		}
		row, err := c.ix.leafRow(c.s, c.leaf, c.pos)
		if err != nil {
			return false, err
		}
		if !c.reverse {
			if c.last != nil && c.ix.CompareRows(row, c.last) > 0 {
				c.finish()
				return false, nil
			}
			if c.first != nil && c.ix.CompareRows(row, c.first) < 0 {
				continue
			}
		} else {
			if c.first != nil && c.ix.CompareRows(row, c.first) < 0 {
				c.finish()
				return false, nil
			}
			if c.last != nil && c.ix.CompareRows(row, c.last) > 0 {
				continue
			}
		}
		c.current = row
		return true, nil
	}
}

func (c *btreeCursor) finish() {
	if c.leaf != nil {
		c.ix.st.Unpin(c.leaf.id)
		c.leaf = nil
	}
	c.done = true
	c.current = nil
}

func (c *btreeCursor) setLeaf(leaf *btreeLeaf) error {
	if c.leaf != nil {
		c.ix.st.Unpin(c.leaf.id)
	}
	if leaf != nil && len(leaf.rows) == 0 && leaf.parent != store.Root && !c.ix.st.AllowEmptyPages() {
		c.leaf = nil
		return core.NewFileCorrupted(leaf.id, "empty non-root leaf")
	}
	c.leaf = leaf
	if leaf != nil {
		c.ix.st.Pin(leaf.id)
	}
	return nil
}

// seek descends to the first leaf that can contain rows inside the
// bound on the scan side.
func (c *btreeCursor) seek() error {
	bound := c.first
	if c.reverse {
		bound = c.last
	}
	pageID := c.ix.rootID
	for {
		buf, err := c.ix.st.Read(pageID)
		if err != nil {
			return err
		}
		if store.PageType(buf[0]&^(store.FlagLast|flagOnlyPosition)) == store.PageBTreeLeaf {
			leaf, err := decodeBtreeLeaf(pageID, buf)
			if err != nil {
				return err
			}
			if err := c.setLeaf(leaf); err != nil {
				return err
			}
			if c.reverse {
				c.pos = len(leaf.rows) - 1
			} else {
				c.pos = 0
				if bound != nil {
					c.pos, err = c.ix.searchLeaf(c.s, leaf, bound, false)
					if err != nil {
						return err
					}
				}
			}
			return nil
		}
		node, err := decodeBtreeNode(pageID, buf)
		if err != nil {
			return err
		}
		if c.reverse {
			idx := len(node.children) - 1
			if bound != nil {
				// The last child whose first row is not above the
				// bound.
				idx = 0
				for i, p := range node.pivots {
					if c.ix.CompareRows(p, bound) <= 0 {
						idx = i + 1
					}
				}
			}
			pageID = node.children[idx]
		} else {
			idx := 0
			if bound != nil {
				idx = c.ix.descendIndex(node, bound)
				// Equal rows can start in the child left of an equal
				// pivot.
				if idx > 0 && idx <= len(node.pivots) && c.ix.CompareRows(node.pivots[idx-1], bound) == 0 {
					idx--
				}
			}
			pageID = node.children[idx]
		}
	}
}

func (c *btreeCursor) advanceLeaf() error {
	childID := c.leaf.id
	parentID := c.leaf.parent
	_ = c.setLeaf(nil)
	for parentID != store.Root {
		buf, err := c.ix.st.Read(parentID)
		if err != nil {
			return err
		}
		node, err := decodeBtreeNode(parentID, buf)
		if err != nil {
			return err
		}
		idx := -1
		for i, ch := range node.children {
			if ch == childID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return core.NewFileCorrupted(parentID, "child not referenced by parent")
		}
		if c.reverse {
			if idx > 0 {
				return c.descendExtreme(node.children[idx-1])
			}
		} else {
			if idx < len(node.children)-1 {
				return c.descendExtreme(node.children[idx+1])
			}
		}
		childID = parentID
		parentID = node.parent
	}
	return nil
}

func (c *btreeCursor) descendExtreme(pageID int) error {
	for {
		buf, err := c.ix.st.Read(pageID)
		if err != nil {
			return err
		}
		if store.PageType(buf[0]&^(store.FlagLast|flagOnlyPosition)) == store.PageBTreeLeaf {
			leaf, err := decodeBtreeLeaf(pageID, buf)
			if err != nil {
				return err
			}
			if err := c.setLeaf(leaf); err != nil {
				return err
			}
			if c.reverse {
				c.pos = len(leaf.rows) - 1
			} else {
				c.pos = 0
			}
			return nil
		}
		node, err := decodeBtreeNode(pageID, buf)
		if err != nil {
			return err
		}
		if c.reverse {
			pageID = node.children[len(node.children)-1]
		} else {
			pageID = node.children[0]
		}
	}
}

// Row resolves the full table row through the data index.
func (c *btreeCursor) Row() (*core.Row, error) {
	if c.current == nil {
		return nil, nil
	}
	return c.ix.fetch(c.s, c.current.Key)
}

// SearchRow returns the index row: the indexed columns plus the key.
func (c *btreeCursor) SearchRow() *core.SearchRow { return c.current }

var _ index.Cursor = (*btreeCursor)(nil)

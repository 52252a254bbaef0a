package btree

import (
	"sort"

	"pagedb/internal/core"
	"pagedb/internal/index"
	"pagedb/internal/store"
)

// dataCursor walks the data index leaf chain. Leaves do not link
// siblings; the cursor ascends through parent pointers to find the
// next leaf, the way the pages themselves are wired.
type dataCursor struct {
	ix      *DataIndex
	s       *core.Session
	reverse bool

	first, last       int64
	hasFirst, hasLast bool

	leaf    *dataLeaf
	pos     int
	started bool
	done    bool
	row     *core.Row
}

func (c *dataCursor) Next() (bool, error) {
	if err := c.s.CheckCanceled(); err != nil {
		return false, err
	}
	if c.done {
		return false, nil
	}
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
	for c.leaf != nil && (c.pos < 0 || c.pos >= len(c.leaf.entries)) {
		if err := c.advanceLeaf(); err != nil {
			return false, err
		}
	}
	if c.leaf == nil {
		c.finish()
		return false, nil
	}
	key := c.leaf.entries[c.pos].key
	if !c.reverse && c.hasLast && key > c.last {
		c.finish()
		return false, nil
	}
	if c.reverse && c.hasFirst && key < c.first {
		c.finish()
		return false, nil
	}
	row, err := c.ix.entryRow(c.leaf.entries[c.pos])
	if err != nil {
		return false, err
	}
	c.row = row
	return true, nil
}

func (c *dataCursor) finish() {
	if c.leaf != nil {
		c.ix.st.Unpin(c.leaf.id)
		c.leaf = nil
	}
	c.done = true
	c.row = nil
}

// seek descends to the leaf holding the start bound, or to the extreme
// leaf when unbounded.
func (c *dataCursor) seek() error {
	pageID := c.ix.rootID
	for {
		buf, err := c.ix.st.Read(pageID)
		if err != nil {
			return err
		}
		if store.PageType(buf[0]&^store.FlagLast) == store.PageDataLeaf {
			leaf, err := decodeDataLeaf(pageID, buf)
			if err != nil {
				return err
			}
			if err := c.checkLeaf(leaf); err != nil {
				return err
			}
			c.setLeaf(leaf)
			if c.reverse {
				c.pos = len(leaf.entries) - 1
				if c.hasLast {
					c.pos = sort.Search(len(leaf.entries), func(i int) bool {
						return leaf.entries[i].key > c.last
					}) - 1
				}
			} else {
				c.pos = 0
				if c.hasFirst {
					c.pos = sort.Search(len(leaf.entries), func(i int) bool {
						return leaf.entries[i].key >= c.first
					})
				}
			}
			return nil
		}
		node, err := decodeDataNode(pageID, buf)
		if err != nil {
			return err
		}
		if c.reverse {
			pageID = node.rightmost
			if c.hasLast {
				idx := sort.Search(len(node.keys), func(i int) bool {
					return c.last <= node.keys[i]
				})
				if idx < len(node.children) {
					pageID = node.children[idx]
				}
			}
		} else {
			pageID = node.rightmost
			if c.hasFirst {
				idx := sort.Search(len(node.keys), func(i int) bool {
					return c.first <= node.keys[i]
				})
				if idx < len(node.children) {
					pageID = node.children[idx]
				}
			} else if len(node.children) > 0 {
				pageID = node.children[0]
			}
		}
	}
}

func (c *dataCursor) setLeaf(leaf *dataLeaf) {
	if c.leaf != nil {
		c.ix.st.Unpin(c.leaf.id)
	}
	c.leaf = leaf
	if leaf != nil {
		c.ix.st.Pin(leaf.id)
	}
}

// checkLeaf rejects empty non-root leaves; splits free them, so one on
// disk is damage unless the compatibility toggle allows it.
func (c *dataCursor) checkLeaf(leaf *dataLeaf) error {
	if len(leaf.entries) == 0 && leaf.parent != store.Root && !c.ix.st.AllowEmptyPages() {
		return core.NewFileCorrupted(leaf.id, "empty non-root leaf")
	}
	return nil
}

// advanceLeaf climbs to the parent until a sibling exists in the scan
// direction, then descends to its extreme leaf.
func (c *dataCursor) advanceLeaf() error {
	childID := c.leaf.id
	parentID := c.leaf.parent
	c.setLeaf(nil)
	for parentID != store.Root {
		buf, err := c.ix.st.Read(parentID)
		if err != nil {
			return err
		}
		node, err := decodeDataNode(parentID, buf)
		if err != nil {
			return err
		}
		idx := childPosition(node, childID)
		if idx < 0 {
			return core.NewFileCorrupted(parentID, "child not referenced by parent")
		}
		if c.reverse {
			if idx > 0 {
				return c.descendExtreme(childAt(node, idx-1))
			}
		} else {
			if idx < len(node.children) {
				return c.descendExtreme(childAt(node, idx+1))
			}
		}
		childID = parentID
		parentID = node.parent
	}
	return nil
}

// childPosition locates a child inside a node; len(children) means the
// rightmost slot.
func childPosition(node *dataNode, childID int) int {
	for i, ch := range node.children {
		if ch == childID {
			return i
		}
	}
	if node.rightmost == childID {
		return len(node.children)
	}
	return -1
}

func childAt(node *dataNode, idx int) int {
	if idx == len(node.children) {
		return node.rightmost
	}
	return node.children[idx]
}

// descendExtreme walks to the first leaf of a subtree in scan order.
func (c *dataCursor) descendExtreme(pageID int) error {
	for {
		buf, err := c.ix.st.Read(pageID)
		if err != nil {
			return err
		}
		if store.PageType(buf[0]&^store.FlagLast) == store.PageDataLeaf {
			leaf, err := decodeDataLeaf(pageID, buf)
			if err != nil {
				return err
			}
			if err := c.checkLeaf(leaf); err != nil {
				return err
			}
			c.setLeaf(leaf)
			if c.reverse {
				c.pos = len(leaf.entries) - 1
			} else {
				c.pos = 0
			}
			return nil
		}
		node, err := decodeDataNode(pageID, buf)
		if err != nil {
			return err
		}
		if c.reverse {
			pageID = node.rightmost
		} else if len(node.children) > 0 {
			pageID = node.children[0]
		} else {
			pageID = node.rightmost
		}
	}
}

func (c *dataCursor) Row() (*core.Row, error)    { return c.row, nil }
func (c *dataCursor) SearchRow() *core.SearchRow { return c.row }

var _ index.Cursor = (*dataCursor)(nil)

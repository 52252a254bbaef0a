package btree

import (
	"sort"

	"pagedb/internal/core"
	"pagedb/internal/index"
	"pagedb/internal/store"
)

// RowFetcher resolves a row key to the full row; secondary indexes use
// it to serve cursors and only-position leaves.
type RowFetcher func(s *core.Session, key int64) (*core.Row, error)

// SecondaryIndex is the persistent B+-tree over a column tuple. Leaves
// store the indexed columns plus the row key; full rows resolve
// through the data index.
type SecondaryIndex struct {
	index.Base
	st     store.Store
	rootID int
	fetch  RowFetcher
	rows   int64
}

// NewSecondaryIndex opens the index at its head page. When the store
// reports an unclean shutdown the index flags itself for a rebuild.
func NewSecondaryIndex(st store.Store, meta *core.IndexMeta, tbl *core.Table, mode core.CompareMode, fetch RowFetcher) (*SecondaryIndex, error) {
	meta.Normalize()
	ix := &SecondaryIndex{
		Base:  index.Base{IndexMeta: meta, Tbl: tbl, Mode: mode},
		st:    st,
		fetch: fetch,
	}
	created := meta.HeadPageID == store.Root
	if created {
		id, err := st.Allocate()
		if err != nil {
			return nil, err
		}
		meta.HeadPageID = id
		ix.rootID = id
		if err := ix.writeLeaf(&btreeLeaf{id: id, parent: store.Root, indexID: meta.ID}); err != nil {
			return nil, err
		}
	} else {
		ix.rootID = meta.HeadPageID
		if !st.CleanShutdown() {
			ix.Rebuild = true
		} else {
			n, err := ix.countRows(ix.rootID)
			if err != nil {
				return nil, err
			}
			ix.rows = n
		}
	}
	return ix, nil
}

func (ix *SecondaryIndex) countRows(pageID int) (int64, error) {
	buf, err := ix.st.Read(pageID)
	if err != nil {
		return 0, err
	}
	if store.PageType(buf[0]&^(store.FlagLast|flagOnlyPosition)) == store.PageBTreeLeaf {
		leaf, err := decodeBtreeLeaf(pageID, buf)
		if err != nil {
			return 0, err
		}
		return int64(len(leaf.rows)), nil
	}
	node, err := decodeBtreeNode(pageID, buf)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, child := range node.children {
		n, err := ix.countRows(child)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// indexRow projects the indexed columns and the key out of a table
// row.
func (ix *SecondaryIndex) indexRow(row *core.Row) *core.SearchRow {
	out := &core.SearchRow{Key: row.Key}
	for _, ic := range ix.IndexMeta.Columns {
		v := row.Value(ic.Column)
		if v == nil {
			v = core.NullValue
		}
		out.SetValue(ic.Column, v)
	}
	return out
}

// leafRow returns the comparable form of a leaf slot, re-fetching the
// columns from the data index for only-position leaves.
func (ix *SecondaryIndex) leafRow(s *core.Session, leaf *btreeLeaf, i int) (*core.SearchRow, error) {
	r := leaf.rows[i]
	if !leaf.onlyPosition {
		return r, nil
	}
	full, err := ix.fetch(s, r.Key)
	if err != nil {
		return nil, err
	}
	return ix.indexRow(full), nil
}

func (ix *SecondaryIndex) CanGetFirstOrLast() bool { return true }
func (ix *SecondaryIndex) CanFindNext() bool       { return true }

// Add inserts the projected row, enforcing the unique constraint under
// the index's nulls-distinct policy.
func (ix *SecondaryIndex) Add(s *core.Session, row *core.Row) error {
	r := ix.indexRow(row)
	if ix.IndexMeta.Unique() && ix.UniqueConflict(r) {
		probe := &core.SearchRow{}
		m := ix.IndexMeta
		for i := 0; i < m.UniqueColumnCount && i < len(m.Columns); i++ {
			v := r.Value(m.Columns[i].Column)
			if v == nil {
				v = core.NullValue
			}
			probe.SetValue(m.Columns[i].Column, v)
		}
		cur, err := ix.Find(s, probe, probe, false)
		if err != nil {
			return err
		}
		ok, err := cur.Next()
		if err != nil {
			return err
		}
		if ok {
			return ix.DuplicateKey(r)
		}
	}
	split, err := ix.insert(s, ix.rootID, r)
	if err != nil {
		return err
	}
	if split != nil {
		if err := ix.growRoot(split); err != nil {
			return err
		}
	}
	ix.rows++
	return nil
}

type btreeSplit struct {
	pivot   *core.SearchRow
	rightID int
}

func (ix *SecondaryIndex) insert(s *core.Session, pageID int, r *core.SearchRow) (*btreeSplit, error) {
	buf, err := ix.st.Read(pageID)
	if err != nil {
		return nil, err
	}
	if store.PageType(buf[0]&^(store.FlagLast|flagOnlyPosition)) == store.PageBTreeNode {
		return ix.insertNode(s, pageID, buf, r)
	}
	return ix.insertLeaf(s, pageID, buf, r)
}

func (ix *SecondaryIndex) insertLeaf(s *core.Session, pageID int, buf []byte, r *core.SearchRow) (*btreeSplit, error) {
	leaf, err := decodeBtreeLeaf(pageID, buf)
	if err != nil {
		return nil, err
	}
	pos, err := ix.searchLeaf(s, leaf, r, true)
	if err != nil {
		return nil, err
	}
	if err := ix.st.LogUndo(pageID); err != nil {
		return nil, err
	}
	leaf.rows = append(leaf.rows, nil)
	copy(leaf.rows[pos+1:], leaf.rows[pos:])
	leaf.rows[pos] = r
	if leaf.fits(ix.st.PageSize()) {
		return nil, ix.writeLeaf(leaf)
	}
	if !leaf.onlyPosition && len(encodeIndexRow(nil, r)) > ix.st.PageSize()/4 {
		// The composite keys are too large to keep inline: flip the
		// leaf to only-position mode. The flip is terminal.
		leaf.onlyPosition = true
		if leaf.fits(ix.st.PageSize()) {
			return nil, ix.writeLeaf(leaf)
		}
	}
	n := len(leaf.rows)
	splitAt := n / 3
	if pos >= n/2 {
		splitAt = 2 * n / 3
	}
	if splitAt < 1 {
		splitAt = 1
	}
	if splitAt > n-1 {
		splitAt = n - 1
	}
	rightID, err := ix.st.Allocate()
	if err != nil {
		return nil, err
	}
	right := &btreeLeaf{id: rightID, parent: leaf.parent, indexID: ix.IndexMeta.ID, onlyPosition: leaf.onlyPosition}
	right.rows = append(right.rows, leaf.rows[splitAt:]...)
	leaf.rows = leaf.rows[:splitAt]
	if err := ix.writeLeaf(leaf); err != nil {
		return nil, err
	}
	if err := ix.writeLeaf(right); err != nil {
		return nil, err
	}
	pivot, err := ix.leafRow(s, right, 0)
	if err != nil {
		return nil, err
	}
	return &btreeSplit{pivot: pivot.Clone(), rightID: rightID}, nil
}

// searchLeaf locates the insertion point (forInsert) or the first slot
// not below r.
func (ix *SecondaryIndex) searchLeaf(s *core.Session, leaf *btreeLeaf, r *core.SearchRow, forInsert bool) (int, error) {
	lo, hi := 0, len(leaf.rows)
	for lo < hi {
		mid := (lo + hi) / 2
		row, err := ix.leafRow(s, leaf, mid)
		if err != nil {
			return 0, err
		}
		var c int
		if forInsert {
			c = ix.CompareWithKey(row, r)
		} else {
			c = ix.CompareRows(row, r)
		}
		if c < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, nil
}

func (ix *SecondaryIndex) insertNode(s *core.Session, pageID int, buf []byte, r *core.SearchRow) (*btreeSplit, error) {
	node, err := decodeBtreeNode(pageID, buf)
	if err != nil {
		return nil, err
	}
	idx := len(node.pivots)
	for i, p := range node.pivots {
		if ix.CompareWithKey(p, r) > 0 {
			idx = i
			break
		}
	}
	split, err := ix.insert(s, node.children[idx], r)
	if err != nil {
		return nil, err
	}
	if split == nil {
		return nil, nil
	}
	if err := ix.st.LogUndo(pageID); err != nil {
		return nil, err
	}
	node.pivots = append(node.pivots, nil)
	copy(node.pivots[idx+1:], node.pivots[idx:])
	node.pivots[idx] = split.pivot
	node.children = append(node.children, 0)
	copy(node.children[idx+2:], node.children[idx+1:])
	node.children[idx+1] = split.rightID
	if err := ix.setParent(split.rightID, pageID); err != nil {
		return nil, err
	}
	if node.fits(ix.st.PageSize()) {
		return nil, ix.writeNode(node)
	}
	return ix.splitNode(node)
}

func (ix *SecondaryIndex) splitNode(node *btreeNode) (*btreeSplit, error) {
	n := len(node.pivots)
	s := n / 2
	if s < 1 {
		s = 1
	}
	if s > n-1 {
		s = n - 1
	}
	promoted := node.pivots[s]
	rightID, err := ix.st.Allocate()
	if err != nil {
		return nil, err
	}
	right := &btreeNode{id: rightID, parent: node.parent, indexID: ix.IndexMeta.ID}
	right.children = append(right.children, node.children[s+1:]...)
	right.pivots = append(right.pivots, node.pivots[s+1:]...)
	node.children = node.children[:s+1]
	node.pivots = node.pivots[:s]
	for _, child := range right.children {
		if err := ix.setParent(child, rightID); err != nil {
			return nil, err
		}
	}
	if err := ix.writeNode(node); err != nil {
		return nil, err
	}
	if err := ix.writeNode(right); err != nil {
		return nil, err
	}
	return &btreeSplit{pivot: promoted, rightID: rightID}, nil
}

func (ix *SecondaryIndex) growRoot(split *btreeSplit) error {
	buf, err := ix.st.Read(ix.rootID)
	if err != nil {
		return err
	}
	leftID, err := ix.st.Allocate()
	if err != nil {
		return err
	}
	if store.PageType(buf[0]&^(store.FlagLast|flagOnlyPosition)) == store.PageBTreeNode {
		old, err := decodeBtreeNode(ix.rootID, buf)
		if err != nil {
			return err
		}
		left := &btreeNode{id: leftID, parent: ix.rootID, indexID: ix.IndexMeta.ID, children: old.children, pivots: old.pivots}
		for _, child := range left.children {
			if err := ix.setParent(child, leftID); err != nil {
				return err
			}
		}
		if err := ix.writeNode(left); err != nil {
			return err
		}
	} else {
		old, err := decodeBtreeLeaf(ix.rootID, buf)
		if err != nil {
			return err
		}
		left := &btreeLeaf{id: leftID, parent: ix.rootID, indexID: ix.IndexMeta.ID, onlyPosition: old.onlyPosition, rows: old.rows}
		if err := ix.writeLeaf(left); err != nil {
			return err
		}
	}
	if err := ix.st.LogUndo(ix.rootID); err != nil {
		return err
	}
	root := &btreeNode{
		id: ix.rootID, parent: store.Root, indexID: ix.IndexMeta.ID,
		children: []int{leftID, split.rightID},
		pivots:   []*core.SearchRow{split.pivot},
	}
	if err := ix.setParent(split.rightID, ix.rootID); err != nil {
		return err
	}
	return ix.writeNode(root)
}

func (ix *SecondaryIndex) writeLeaf(leaf *btreeLeaf) error {
	buf, err := leaf.encode(ix.st.PageSize())
	if err != nil {
		return err
	}
	return ix.st.Update(leaf.id, buf)
}

func (ix *SecondaryIndex) writeNode(node *btreeNode) error {
	buf, err := node.encode(ix.st.PageSize())
	if err != nil {
		return err
	}
	return ix.st.Update(node.id, buf)
}

func (ix *SecondaryIndex) setParent(pageID, parent int) error {
	buf, err := ix.st.Read(pageID)
	if err != nil {
		return err
	}
	if err := ix.st.LogUndo(pageID); err != nil {
		return err
	}
	bufSetParent(buf, parent)
	return ix.st.Update(pageID, buf)
}

// Remove deletes the projected row, matching on the composite key plus
// the row key.
func (ix *SecondaryIndex) Remove(s *core.Session, row *core.Row) error {
	r := ix.indexRow(row)
	emptied, found, err := ix.remove(s, ix.rootID, r)
	if err != nil {
		return err
	}
	if !found {
		return core.NewRowNotFound(r)
	}
	if emptied {
		if err := ix.st.LogUndo(ix.rootID); err != nil {
			return err
		}
		if err := ix.writeLeaf(&btreeLeaf{id: ix.rootID, parent: store.Root, indexID: ix.IndexMeta.ID}); err != nil {
			return err
		}
	}
	ix.rows--
	return nil
}

func (ix *SecondaryIndex) remove(s *core.Session, pageID int, r *core.SearchRow) (emptied, found bool, err error) {
	buf, err := ix.st.Read(pageID)
	if err != nil {
		return false, false, err
	}
	if store.PageType(buf[0]&^(store.FlagLast|flagOnlyPosition)) == store.PageBTreeLeaf {
		leaf, err := decodeBtreeLeaf(pageID, buf)
		if err != nil {
			return false, false, err
		}
		pos, err := ix.searchLeaf(s, leaf, r, false)
		if err != nil {
			return false, false, err
		}
		for ; pos < len(leaf.rows); pos++ {
			cand, err := ix.leafRow(s, leaf, pos)
			if err != nil {
				return false, false, err
			}
			if ix.CompareRows(cand, r) != 0 {
				return false, false, nil
			}
			if cand.Key == r.Key {
				break
			}
		}
		if pos >= len(leaf.rows) {
			return false, false, nil
		}
		if err := ix.st.LogUndo(pageID); err != nil {
			return false, false, err
		}
		leaf.rows = append(leaf.rows[:pos], leaf.rows[pos+1:]...)
		if len(leaf.rows) == 0 {
			return true, true, nil
		}
		return false, true, ix.writeLeaf(leaf)
	}
	node, err := decodeBtreeNode(pageID, buf)
	if err != nil {
		return false, false, err
	}
	// Equal rows may start in the child left of an equal pivot; probe
	// children until the row is found or the key range is passed.
	for idx := ix.descendIndex(node, r); idx < len(node.children); idx++ {
		childEmptied, childFound, err := ix.remove(s, node.children[idx], r)
		if err != nil {
			return false, false, err
		}
		if !childFound {
			if idx < len(node.pivots) && ix.CompareRows(node.pivots[idx], r) > 0 {
				return false, false, nil
			}
			continue
		}
		if !childEmptied {
			return false, true, nil
		}
		if err := ix.st.LogUndo(pageID); err != nil {
			return false, false, err
		}
		if err := ix.st.Free(node.children[idx]); err != nil {
			return false, false, err
		}
		node.children = append(node.children[:idx], node.children[idx+1:]...)
		if len(node.pivots) > 0 {
			p := idx
			if p > 0 {
				p--
			}
			node.pivots = append(node.pivots[:p], node.pivots[p+1:]...)
		}
		if len(node.children) == 0 {
			return true, true, nil
		}
		return false, true, ix.writeNode(node)
	}
	return false, false, nil
}

// descendIndex returns the first child whose subtree can contain rows
// not below r.
func (ix *SecondaryIndex) descendIndex(node *btreeNode, r *core.SearchRow) int {
	for i, p := range node.pivots {
		if ix.CompareRows(p, r) >= 0 {
			return i
		}
	}
	return len(node.pivots)
}

func (ix *SecondaryIndex) Update(s *core.Session, old, new *core.Row) error {
	return index.RemoveThenAdd(ix, s, old, new)
}

// Find scans index rows within [first, last] under the index
// comparator; the boundary check runs once per row.
func (ix *SecondaryIndex) Find(s *core.Session, first, last *core.SearchRow, reverse bool) (index.Cursor, error) {
	return newBtreeCursor(ix, s, first, last, reverse), nil
}

// FindFirstOrLast returns the extreme row with a non-null leading
// column, the shape MIN and MAX lookups need.
func (ix *SecondaryIndex) FindFirstOrLast(s *core.Session, first bool) (index.Cursor, error) {
	if len(ix.IndexMeta.Columns) == 0 {
		return nil, core.NewUnsupported("first/last lookup on " + ix.IndexMeta.Name)
	}
	cur := newBtreeCursor(ix, s, nil, nil, !first)
	lead := ix.IndexMeta.Columns[0].Column
	for {
		ok, err := cur.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return index.EmptyCursor, nil
		}
		r := cur.SearchRow()
		if v := r.Value(lead); v != nil && v.Type() != core.TypeNull {
			row, err := cur.Row()
			if err != nil {
				return nil, err
			}
			return index.SingleRowCursor(row), nil
		}
	}
}

func (ix *SecondaryIndex) Cost(s *core.Session, masks []int, order *index.SortOrder, projected []int) float64 {
	return index.CostRangeIndex(masks, index.CostParams{
		Meta: ix.IndexMeta, Table: ix.Tbl,
		RowCount: ix.RowCount(s), Order: order, Projected: projected,
	})
}

func (ix *SecondaryIndex) RowCount(s *core.Session) int64 {
	return ix.rows + s.RowCountDiff(ix.IndexMeta.ID)
}

func (ix *SecondaryIndex) RowCountApprox() int64 { return ix.rows }

// SetRowCount is called by the table layer after a rebuild.
func (ix *SecondaryIndex) SetRowCount(n int64) {
	ix.rows = n
	ix.Rebuild = false
}

// Truncate frees the tree below the root and resets it to an empty
// leaf. The caller holds the exclusive database lock.
func (ix *SecondaryIndex) Truncate(s *core.Session) error {
	if err := ix.freeSubtree(ix.rootID, false); err != nil {
		return err
	}
	if err := ix.st.LogUndo(ix.rootID); err != nil {
		return err
	}
	if err := ix.writeLeaf(&btreeLeaf{id: ix.rootID, parent: store.Root, indexID: ix.IndexMeta.ID}); err != nil {
		return err
	}
	ix.rows = 0
	return nil
}

// RemoveIndex frees the whole tree including the head page.
func (ix *SecondaryIndex) RemoveIndex() error {
	return ix.freeSubtree(ix.rootID, true)
}

func (ix *SecondaryIndex) freeSubtree(pageID int, includeSelf bool) error {
	buf, err := ix.st.Read(pageID)
	if err != nil {
		return err
	}
	if store.PageType(buf[0]&^(store.FlagLast|flagOnlyPosition)) == store.PageBTreeNode {
		node, err := decodeBtreeNode(pageID, buf)
		if err != nil {
			return err
		}
		for _, child := range node.children {
			if err := ix.freeSubtree(child, true); err != nil {
				return err
			}
		}
	}
	if includeSelf {
		return ix.st.Free(pageID)
	}
	return nil
}

var _ index.Index = (*SecondaryIndex)(nil)

package btree

import (
	"encoding/binary"
	"fmt"
	"sort"

	"pagedb/internal/core"
	"pagedb/internal/index"
	"pagedb/internal/store"
)

// DataIndex is the primary access path: a B+-tree keyed by the 64-bit
// row key, with full rows in the leaves. It is the only place row keys
// are minted and it doubles as the table scan.
type DataIndex struct {
	index.Base
	st      store.Store
	rootID  int
	lastKey int64
}

// NewDataIndex opens the data index at its head page, creating an
// empty root leaf for a fresh index.
func NewDataIndex(st store.Store, meta *core.IndexMeta, tbl *core.Table, mode core.CompareMode) (*DataIndex, error) {
	ix := &DataIndex{
		Base: index.Base{IndexMeta: meta, Tbl: tbl, Mode: mode},
		st:   st,
	}
	if meta.HeadPageID == store.Root {
		id, err := st.Allocate()
		if err != nil {
			return nil, err
		}
		meta.HeadPageID = id
		ix.rootID = id
		leaf := &dataLeaf{id: id, parent: store.Root, indexID: meta.ID}
		if err := ix.writeLeaf(leaf); err != nil {
			return nil, err
		}
		return ix, nil
	}
	ix.rootID = meta.HeadPageID
	last, err := ix.findLastKey(ix.rootID)
	if err != nil {
		return nil, err
	}
	ix.lastKey = last
	return ix, nil
}

func (ix *DataIndex) findLastKey(pageID int) (int64, error) {
	for {
		buf, err := ix.st.Read(pageID)
		if err != nil {
			return 0, err
		}
		switch store.PageType(buf[0] &^ (store.FlagLast | flagOnlyPosition)) {
		case store.PageDataNode:
			node, err := decodeDataNode(pageID, buf)
			if err != nil {
				return 0, err
			}
			pageID = node.rightmost
		case store.PageDataLeaf:
			leaf, err := decodeDataLeaf(pageID, buf)
			if err != nil {
				return 0, err
			}
			if len(leaf.entries) == 0 {
				return 0, nil
			}
			return leaf.entries[len(leaf.entries)-1].key, nil
		default:
			return 0, core.NewFileCorrupted(pageID, "unexpected page type in data index")
		}
	}
}

// LastKey returns the current minting point: the next key minted for an
// unassigned row is LastKey()+1.
func (ix *DataIndex) LastKey() int64 { return ix.lastKey }

func (ix *DataIndex) CanScan() bool { return true }

// Add inserts the row, minting its key when it arrives unassigned.
func (ix *DataIndex) Add(s *core.Session, row *core.Row) error {
	if row.Key == core.KeyNone {
		ix.lastKey++
		row.Key = ix.lastKey
	} else if row.Key+1 > ix.lastKey {
		ix.lastKey = row.Key + 1
	}
	payload := core.EncodeRowPayload(nil, row)
	entry := dataLeafEntry{key: row.Key, inline: payload, totalLen: len(payload)}
	if len(payload) > ix.maxInline() {
		var err error
		entry, err = ix.spill(entry)
		if err != nil {
			return err
		}
	}
	split, err := ix.insert(ix.rootID, entry)
	if err != nil {
		return err
	}
	if split != nil {
		if err := ix.growRoot(split); err != nil {
			return err
		}
	}
	return nil
}

// maxInline bounds a single leaf entry so any two entries fit a page;
// larger payloads continue in an overflow chain.
func (ix *DataIndex) maxInline() int {
	return (ix.st.PageSize() - pageHeaderSize - 64) / 2
}

// spill moves the payload tail beyond maxInline into a chain of
// overflow pages.
func (ix *DataIndex) spill(e dataLeafEntry) (dataLeafEntry, error) {
	head := ix.maxInline()
	tail := e.inline[head:]
	e.inline = e.inline[:head]
	first := store.Root
	prev := store.Root
	pageSize := ix.st.PageSize()
	chunk := pageSize - pageHeaderSize - binary.MaxVarintLen32 - 4 - 2
	for len(tail) > 0 {
		n := len(tail)
		if n > chunk {
			n = chunk
		}
		id, err := ix.st.Allocate()
		if err != nil {
			return e, err
		}
		last := n == len(tail)
		buf := make([]byte, pageSize)
		if last {
			buf[0] = byte(store.PageDataOverflowLast) | store.FlagLast
		} else {
			buf[0] = byte(store.PageDataOverflow)
		}
		binary.BigEndian.PutUint32(buf[3:7], uint32(prev))
		pos := pageHeaderSize
		pos += binary.PutUvarint(buf[pos:], uint64(ix.IndexMeta.ID))
		binary.BigEndian.PutUint32(buf[pos:], 0) // next, patched below
		pos += 4
		binary.BigEndian.PutUint16(buf[pos:], uint16(n))
		pos += 2
		copy(buf[pos:], tail[:n])
		sealPage(buf)
		if err := ix.st.Update(id, buf); err != nil {
			return e, err
		}
		if prev != store.Root {
			pbuf, err := ix.st.Read(prev)
			if err != nil {
				return e, err
			}
			if err := ix.st.LogUndo(prev); err != nil {
				return e, err
			}
			// Patch the next pointer of the previous chain page.
			ppos := pageHeaderSize
			_, vn := binary.Uvarint(pbuf[ppos:])
			binary.BigEndian.PutUint32(pbuf[ppos+vn:], uint32(id))
			sealPage(pbuf)
			if err := ix.st.Update(prev, pbuf); err != nil {
				return e, err
			}
		} else {
			first = id
		}
		prev = id
		tail = tail[n:]
	}
	e.overflow = first
	return e, nil
}

// readOverflow reassembles the payload tail from an overflow chain.
func (ix *DataIndex) readOverflow(first int, want int) ([]byte, error) {
	out := make([]byte, 0, want)
	id := first
	for id != store.Root {
		buf, err := ix.st.Read(id)
		if err != nil {
			return nil, err
		}
		typ := store.PageType(buf[0] &^ store.FlagLast)
		if typ != store.PageDataOverflow && typ != store.PageDataOverflowLast {
			return nil, core.NewFileCorrupted(id, "expected overflow page")
		}
		pos := pageHeaderSize
		_, vn := binary.Uvarint(buf[pos:])
		pos += vn
		next := int(binary.BigEndian.Uint32(buf[pos:]))
		pos += 4
		n := int(binary.BigEndian.Uint16(buf[pos:]))
		pos += 2
		out = append(out, buf[pos:pos+n]...)
		if typ == store.PageDataOverflowLast {
			break
		}
		id = next
	}
	if len(out) != want {
		return nil, core.NewFileCorrupted(first, fmt.Sprintf("overflow chain length %d, expected %d", len(out), want))
	}
	return out, nil
}

func (ix *DataIndex) freeOverflow(first int) error {
	id := first
	for id != store.Root {
		buf, err := ix.st.Read(id)
		if err != nil {
			return err
		}
		typ := store.PageType(buf[0] &^ store.FlagLast)
		pos := pageHeaderSize
		_, vn := binary.Uvarint(buf[pos:])
		next := int(binary.BigEndian.Uint32(buf[pos+vn:]))
		if err := ix.st.Free(id); err != nil {
			return err
		}
		if typ == store.PageDataOverflowLast {
			break
		}
		id = next
	}
	return nil
}

type splitData struct {
	pivot   int64
	rightID int
}

func (ix *DataIndex) insert(pageID int, entry dataLeafEntry) (*splitData, error) {
	buf, err := ix.st.Read(pageID)
	if err != nil {
		return nil, err
	}
	if store.PageType(buf[0]&^store.FlagLast) == store.PageDataNode {
		return ix.insertNode(pageID, buf, entry)
	}
	return ix.insertLeaf(pageID, buf, entry)
}

func (ix *DataIndex) insertLeaf(pageID int, buf []byte, entry dataLeafEntry) (*splitData, error) {
	leaf, err := decodeDataLeaf(pageID, buf)
	if err != nil {
		return nil, err
	}
	pos := sort.Search(len(leaf.entries), func(i int) bool {
		return leaf.entries[i].key >= entry.key
	})
	if pos < len(leaf.entries) && leaf.entries[pos].key == entry.key {
		return nil, core.NewFileCorrupted(pageID, fmt.Sprintf("duplicate row key %d", entry.key))
	}
	if err := ix.st.LogUndo(pageID); err != nil {
		return nil, err
	}
	leaf.entries = append(leaf.entries, dataLeafEntry{})
	copy(leaf.entries[pos+1:], leaf.entries[pos:])
	leaf.entries[pos] = entry
	if _, err := leaf.encode(ix.st.PageSize()); err == nil {
		return nil, ix.writeLeaf(leaf)
	}
	// Split, biased toward the insertion index so monotonic inserts
	// pack the left page.
	n := len(leaf.entries)
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
	right := &dataLeaf{id: rightID, parent: leaf.parent, indexID: ix.IndexMeta.ID}
	right.entries = append(right.entries, leaf.entries[splitAt:]...)
	leaf.entries = leaf.entries[:splitAt]
	if err := ix.writeLeaf(leaf); err != nil {
		return nil, err
	}
	if err := ix.writeLeaf(right); err != nil {
		return nil, err
	}
	return &splitData{pivot: leaf.entries[len(leaf.entries)-1].key, rightID: rightID}, nil
}

func (ix *DataIndex) writeLeaf(leaf *dataLeaf) error {
	buf, err := leaf.encode(ix.st.PageSize())
	if err != nil {
		return err
	}
	return ix.st.Update(leaf.id, buf)
}

func (ix *DataIndex) writeNode(node *dataNode) error {
	buf, err := node.encode(ix.st.PageSize())
	if err != nil {
		return err
	}
	return ix.st.Update(node.id, buf)
}

func (ix *DataIndex) insertNode(pageID int, buf []byte, entry dataLeafEntry) (*splitData, error) {
	node, err := decodeDataNode(pageID, buf)
	if err != nil {
		return nil, err
	}
	idx := sort.Search(len(node.keys), func(i int) bool {
		return entry.key <= node.keys[i]
	})
	childID := node.rightmost
	if idx < len(node.children) {
		childID = node.children[idx]
	}
	split, err := ix.insert(childID, entry)
	if err != nil {
		return nil, err
	}
	if err := ix.st.LogUndo(pageID); err != nil {
		return nil, err
	}
	node.rowCount = unknownRowCount
	if split == nil {
		return nil, ix.writeNode(node)
	}
	if idx < len(node.children) {
		// The split child keeps its id as the left half; the pair
		// that covered it now covers the right sibling.
		node.children = append(node.children, 0)
		copy(node.children[idx+1:], node.children[idx:])
		node.children[idx+1] = split.rightID
		node.keys = append(node.keys, 0)
		copy(node.keys[idx+1:], node.keys[idx:])
		node.keys[idx] = split.pivot
	} else {
		node.children = append(node.children, node.rightmost)
		node.keys = append(node.keys, split.pivot)
		node.rightmost = split.rightID
	}
	if err := ix.setParent(split.rightID, pageID); err != nil {
		return nil, err
	}
	if _, err := node.encode(ix.st.PageSize()); err == nil {
		return nil, ix.writeNode(node)
	}
	return ix.splitNode(node)
}

func (ix *DataIndex) splitNode(node *dataNode) (*splitData, error) {
	n := len(node.children)
	s := n / 2
	if s < 1 {
		s = 1
	}
	if s > n-1 {
		s = n - 1
	}
	rightID, err := ix.st.Allocate()
	if err != nil {
		return nil, err
	}
	right := &dataNode{
		id: rightID, parent: node.parent, indexID: ix.IndexMeta.ID,
		rowCount: unknownRowCount, rightmost: node.rightmost,
	}
	right.children = append(right.children, node.children[s:]...)
	right.keys = append(right.keys, node.keys[s:]...)
	pivot := node.keys[s-1]
	node.rightmost = node.children[s-1]
	node.children = node.children[:s-1]
	node.keys = node.keys[:s-1]
	for _, child := range right.children {
		if err := ix.setParent(child, rightID); err != nil {
			return nil, err
		}
	}
	if err := ix.setParent(right.rightmost, rightID); err != nil {
		return nil, err
	}
	if err := ix.writeNode(node); err != nil {
		return nil, err
	}
	if err := ix.writeNode(right); err != nil {
		return nil, err
	}
	return &splitData{pivot: pivot, rightID: rightID}, nil
}

// setParent patches the parent pointer of any tree page in place.
func (ix *DataIndex) setParent(pageID, parent int) error {
	buf, err := ix.st.Read(pageID)
	if err != nil {
		return err
	}
	if err := ix.st.LogUndo(pageID); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(buf[3:7], uint32(parent))
	sealPage(buf)
	return ix.st.Update(pageID, buf)
}

// growRoot keeps the head page id stable: the old root content moves
// to a fresh left page and the root becomes a node one level higher.
func (ix *DataIndex) growRoot(split *splitData) error {
	buf, err := ix.st.Read(ix.rootID)
	if err != nil {
		return err
	}
	leftID, err := ix.st.Allocate()
	if err != nil {
		return err
	}
	if store.PageType(buf[0]&^store.FlagLast) == store.PageDataNode {
		old, err := decodeDataNode(ix.rootID, buf)
		if err != nil {
			return err
		}
		left := &dataNode{
			id: leftID, parent: ix.rootID, indexID: ix.IndexMeta.ID,
			rowCount: old.rowCount, children: old.children, keys: old.keys,
			rightmost: old.rightmost,
		}
		for _, child := range left.children {
			if err := ix.setParent(child, leftID); err != nil {
				return err
			}
		}
		if err := ix.setParent(left.rightmost, leftID); err != nil {
			return err
		}
		if err := ix.writeNode(left); err != nil {
			return err
		}
	} else {
		old, err := decodeDataLeaf(ix.rootID, buf)
		if err != nil {
			return err
		}
		left := &dataLeaf{id: leftID, parent: ix.rootID, indexID: ix.IndexMeta.ID, entries: old.entries}
		if err := ix.writeLeaf(left); err != nil {
			return err
		}
	}
	if err := ix.st.LogUndo(ix.rootID); err != nil {
		return err
	}
	root := &dataNode{
		id: ix.rootID, parent: store.Root, indexID: ix.IndexMeta.ID,
		rowCount: unknownRowCount,
		children: []int{leftID}, keys: []int64{split.pivot},
		rightmost: split.rightID,
	}
	if err := ix.setParent(split.rightID, ix.rootID); err != nil {
		return err
	}
	return ix.writeNode(root)
}

type removeResult struct {
	emptied        bool
	largestChanged bool
	newLargest     int64
}

// Remove deletes the row with the given key. Emptied non-root leaves
// are freed; there is no merging, the next split repacks.
func (ix *DataIndex) Remove(s *core.Session, row *core.Row) error {
	res, err := ix.remove(ix.rootID, row.Key)
	if err != nil {
		return err
	}
	if res.emptied {
		// The root emptied: rewrite it as an empty leaf.
		if err := ix.st.LogUndo(ix.rootID); err != nil {
			return err
		}
		leaf := &dataLeaf{id: ix.rootID, parent: store.Root, indexID: ix.IndexMeta.ID}
		if err := ix.writeLeaf(leaf); err != nil {
			return err
		}
	}
	return nil
}

func (ix *DataIndex) remove(pageID int, key int64) (removeResult, error) {
	var res removeResult
	buf, err := ix.st.Read(pageID)
	if err != nil {
		return res, err
	}
	if store.PageType(buf[0]&^store.FlagLast) == store.PageDataLeaf {
		leaf, err := decodeDataLeaf(pageID, buf)
		if err != nil {
			return res, err
		}
		pos := sort.Search(len(leaf.entries), func(i int) bool {
			return leaf.entries[i].key >= key
		})
		if pos >= len(leaf.entries) || leaf.entries[pos].key != key {
			return res, core.NewRowNotFound(&core.SearchRow{Key: key})
		}
		if err := ix.st.LogUndo(pageID); err != nil {
			return res, err
		}
		if of := leaf.entries[pos].overflow; of != store.Root && of != 0 {
			if err := ix.freeOverflow(of); err != nil {
				return res, err
			}
		}
		leaf.entries = append(leaf.entries[:pos], leaf.entries[pos+1:]...)
		if len(leaf.entries) == 0 {
			res.emptied = true
			return res, nil
		}
		if pos == len(leaf.entries) {
			res.largestChanged = true
			res.newLargest = leaf.entries[len(leaf.entries)-1].key
		}
		return res, ix.writeLeaf(leaf)
	}
	node, err := decodeDataNode(pageID, buf)
	if err != nil {
		return res, err
	}
	idx := sort.Search(len(node.keys), func(i int) bool {
		return key <= node.keys[i]
	})
	childID := node.rightmost
	if idx < len(node.children) {
		childID = node.children[idx]
	}
	childRes, err := ix.remove(childID, key)
	if err != nil {
		return res, err
	}
	if err := ix.st.LogUndo(pageID); err != nil {
		return res, err
	}
	node.rowCount = unknownRowCount
	if childRes.emptied {
		if err := ix.st.Free(childID); err != nil {
			return res, err
		}
		if idx < len(node.children) {
			node.children = append(node.children[:idx], node.children[idx+1:]...)
			node.keys = append(node.keys[:idx], node.keys[idx+1:]...)
		} else {
			last := len(node.children) - 1
			if last < 0 {
				res.emptied = true
				return res, nil
			}
			node.rightmost = node.children[last]
			node.children = node.children[:last]
			res.largestChanged = true
			res.newLargest = node.keys[last]
			node.keys = node.keys[:last]
		}
		if len(node.children) == 0 && node.rightmost == childID {
			res.emptied = true
			return res, nil
		}
	} else if childRes.largestChanged {
		if idx < len(node.keys) {
			node.keys[idx] = childRes.newLargest
		} else {
			res.largestChanged = true
			res.newLargest = childRes.newLargest
		}
	}
	return res, ix.writeNode(node)
}

func (ix *DataIndex) Update(s *core.Session, old, new *core.Row) error {
	return index.RemoveThenAdd(ix, s, old, new)
}

// GetRow fetches the full row for a key; secondary indexes resolve
// through it.
func (ix *DataIndex) GetRow(s *core.Session, key int64) (*core.Row, error) {
	pageID := ix.rootID
	for {
		buf, err := ix.st.Read(pageID)
		if err != nil {
			return nil, err
		}
		if store.PageType(buf[0]&^store.FlagLast) == store.PageDataNode {
			node, err := decodeDataNode(pageID, buf)
			if err != nil {
				return nil, err
			}
			idx := sort.Search(len(node.keys), func(i int) bool {
				return key <= node.keys[i]
			})
			if idx < len(node.children) {
				pageID = node.children[idx]
			} else {
				pageID = node.rightmost
			}
			continue
		}
		leaf, err := decodeDataLeaf(pageID, buf)
		if err != nil {
			return nil, err
		}
		pos := sort.Search(len(leaf.entries), func(i int) bool {
			return leaf.entries[i].key >= key
		})
		if pos >= len(leaf.entries) || leaf.entries[pos].key != key {
			return nil, core.NewRowNotFound(&core.SearchRow{Key: key})
		}
		return ix.entryRow(leaf.entries[pos])
	}
}

func (ix *DataIndex) entryRow(e dataLeafEntry) (*core.Row, error) {
	payload := e.inline
	if e.overflow != 0 {
		tail, err := ix.readOverflow(e.overflow, e.totalLen-len(e.inline))
		if err != nil {
			return nil, err
		}
		payload = append(append([]byte(nil), e.inline...), tail...)
	}
	row, _, err := core.DecodeRowPayload(payload)
	return row, err
}

// Find scans keys in [first, last]; nil bounds are unbounded.
func (ix *DataIndex) Find(s *core.Session, first, last *core.SearchRow, reverse bool) (index.Cursor, error) {
	c := &dataCursor{ix: ix, s: s, reverse: reverse}
	if first != nil && first.Key != core.KeyNone {
		c.first, c.hasFirst = first.Key, true
	}
	if last != nil && last.Key != core.KeyNone {
		c.last, c.hasLast = last.Key, true
	}
	return c, nil
}

func (ix *DataIndex) FindFirstOrLast(s *core.Session, first bool) (index.Cursor, error) {
	return nil, core.NewUnsupported("first/last lookup on " + ix.IndexMeta.Name)
}

func (ix *DataIndex) Cost(s *core.Session, masks []int, order *index.SortOrder, projected []int) float64 {
	return index.CostRangeIndex(masks, index.CostParams{
		Meta: ix.IndexMeta, Table: ix.Tbl,
		RowCount: ix.RowCount(s), Order: order, Projected: projected,
		Scan: true,
	})
}

// RowCount walks the cached subtree counts, recomputing invalidated
// nodes, and overlays the session's uncommitted diff.
func (ix *DataIndex) RowCount(s *core.Session) int64 {
	n, err := ix.subtreeRowCount(ix.rootID)
	if err != nil {
		return 0
	}
	return n + s.RowCountDiff(ix.IndexMeta.ID)
}

func (ix *DataIndex) RowCountApprox() int64 {
	n, _ := ix.subtreeRowCount(ix.rootID)
	return n
}

func (ix *DataIndex) subtreeRowCount(pageID int) (int64, error) {
	buf, err := ix.st.Read(pageID)
	if err != nil {
		return 0, err
	}
	if store.PageType(buf[0]&^store.FlagLast) == store.PageDataLeaf {
		leaf, err := decodeDataLeaf(pageID, buf)
		if err != nil {
			return 0, err
		}
		return int64(len(leaf.entries)), nil
	}
	node, err := decodeDataNode(pageID, buf)
	if err != nil {
		return 0, err
	}
	if node.rowCount != unknownRowCount {
		return node.rowCount, nil
	}
	var total int64
	for _, child := range node.children {
		n, err := ix.subtreeRowCount(child)
		if err != nil {
			return 0, err
		}
		total += n
	}
	n, err := ix.subtreeRowCount(node.rightmost)
	if err != nil {
		return 0, err
	}
	total += n
	node.rowCount = total
	if !ix.st.ReadOnly() {
		if err := ix.st.LogUndo(pageID); err != nil {
			return 0, err
		}
		if err := ix.writeNode(node); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// Truncate frees every page below the root and resets it to an empty
// leaf. The caller holds the exclusive database lock. The last issued
// key is kept so re-inserted rows never reuse one.
func (ix *DataIndex) Truncate(s *core.Session) error {
	if err := ix.freeSubtree(ix.rootID, false); err != nil {
		return err
	}
	if err := ix.st.LogUndo(ix.rootID); err != nil {
		return err
	}
	leaf := &dataLeaf{id: ix.rootID, parent: store.Root, indexID: ix.IndexMeta.ID}
	return ix.writeLeaf(leaf)
}

// RemoveIndex frees the whole tree including the root; the head record
// is removed by the table layer.
func (ix *DataIndex) RemoveIndex() error {
	return ix.freeSubtree(ix.rootID, true)
}

func (ix *DataIndex) freeSubtree(pageID int, includeSelf bool) error {
	buf, err := ix.st.Read(pageID)
	if err != nil {
		return err
	}
	if store.PageType(buf[0]&^store.FlagLast) == store.PageDataNode {
		node, err := decodeDataNode(pageID, buf)
		if err != nil {
			return err
		}
		for _, child := range node.children {
			if err := ix.freeSubtree(child, true); err != nil {
				return err
			}
		}
		if err := ix.freeSubtree(node.rightmost, true); err != nil {
			return err
		}
	} else {
		leaf, err := decodeDataLeaf(pageID, buf)
		if err != nil {
			return err
		}
		for _, e := range leaf.entries {
			if e.overflow != 0 {
				if err := ix.freeOverflow(e.overflow); err != nil {
					return err
				}
			}
		}
	}
	if includeSelf {
		return ix.st.Free(pageID)
	}
	return nil
}

var _ index.Index = (*DataIndex)(nil)

// Package btree implements the two persistent B+-tree access paths:
// the data index keyed by row key and carrying full rows, and the
// secondary index keyed by a column tuple with the row key as
// tiebreaker. Pages reference each other by integer page id only; the
// page store mediates every resolution.
package btree

import (
	"encoding/binary"
	"fmt"

	"pagedb/internal/core"
	"pagedb/internal/store"
)

// flagOnlyPosition marks a secondary leaf that stores row keys only
// and re-fetches column values from the data index on demand.
const flagOnlyPosition byte = 0x20

// pageHeaderSize is the fixed prefix every tree page shares before the
// varint index id: type byte, checksum short, parent page id.
const pageHeaderSize = 1 + 2 + 4

// checksumOf computes the 16-bit page checksum with the checksum field
// zeroed.
func checksumOf(buf []byte) uint16 {
	c0, c1 := buf[1], buf[2]
	buf[1], buf[2] = 0, 0
	sum := uint16(store.Fletcher32(buf))
	buf[1], buf[2] = c0, c1
	return sum
}

// bufSetParent patches the parent pointer of an encoded page and
// reseals the checksum.
func bufSetParent(buf []byte, parent int) {
	binary.BigEndian.PutUint32(buf[3:7], uint32(parent))
	sealPage(buf)
}

func sealPage(buf []byte) {
	buf[1], buf[2] = 0, 0
	sum := checksumOf(buf)
	binary.BigEndian.PutUint16(buf[1:3], sum)
}

func verifyPage(id int, buf []byte, wantType store.PageType) (byte, error) {
	if len(buf) < pageHeaderSize {
		return 0, core.NewFileCorrupted(id, "page shorter than header")
	}
	flags := buf[0]
	typ := store.PageType(flags &^ (store.FlagLast | flagOnlyPosition))
	if typ != wantType {
		return 0, core.NewFileCorrupted(id, fmt.Sprintf("page type %d, expected %d", typ, wantType))
	}
	want := binary.BigEndian.Uint16(buf[1:3])
	if got := checksumOf(buf); got != want {
		return 0, core.NewFileCorrupted(id, "checksum mismatch")
	}
	return flags, nil
}

// unknownRowCount is the sentinel for an invalidated subtree count.
const unknownRowCount = int64(-1)

// dataNode is the decoded form of a data-index interior page: n
// (child, key) pairs where the key is the largest key under the child,
// plus the rightmost child.
type dataNode struct {
	id        int
	parent    int
	indexID   int
	rowCount  int64
	children  []int   // len n
	keys      []int64 // len n
	rightmost int
}

func (p *dataNode) encodedSize() int {
	size := pageHeaderSize + binary.MaxVarintLen32 + 8 + 2 + 4
	for i := range p.children {
		size += 4 + binary.MaxVarintLen64
		_ = p.keys[i]
	}
	return size
}

func (p *dataNode) encode(pageSize int) ([]byte, error) {
	buf := make([]byte, pageSize)
	buf[0] = byte(store.PageDataNode)
	binary.BigEndian.PutUint32(buf[3:7], uint32(p.parent))
	pos := pageHeaderSize
	pos += binary.PutUvarint(buf[pos:], uint64(p.indexID))
	binary.BigEndian.PutUint64(buf[pos:], uint64(p.rowCount))
	pos += 8
	binary.BigEndian.PutUint16(buf[pos:], uint16(len(p.children)))
	pos += 2
	binary.BigEndian.PutUint32(buf[pos:], uint32(p.rightmost))
	pos += 4
	for i, child := range p.children {
		if pos+4+binary.MaxVarintLen64 > pageSize {
			return nil, fmt.Errorf("btree: data node %d overflows page", p.id)
		}
		binary.BigEndian.PutUint32(buf[pos:], uint32(child))
		pos += 4
		pos += binary.PutVarint(buf[pos:], p.keys[i])
	}
	sealPage(buf)
	return buf, nil
}

func decodeDataNode(id int, buf []byte) (*dataNode, error) {
	if _, err := verifyPage(id, buf, store.PageDataNode); err != nil {
		return nil, err
	}
	p := &dataNode{id: id, parent: int(binary.BigEndian.Uint32(buf[3:7]))}
	pos := pageHeaderSize
	iid, n := binary.Uvarint(buf[pos:])
	if n <= 0 {
		return nil, core.NewFileCorrupted(id, "truncated index id")
	}
	p.indexID = int(iid)
	pos += n
	p.rowCount = int64(binary.BigEndian.Uint64(buf[pos:]))
	pos += 8
	cnt := int(binary.BigEndian.Uint16(buf[pos:]))
	pos += 2
	p.rightmost = int(binary.BigEndian.Uint32(buf[pos:]))
	pos += 4
	if p.rightmost == store.Root {
		return nil, core.NewFileCorrupted(id, "zero rightmost child pointer")
	}
	p.children = make([]int, cnt)
	p.keys = make([]int64, cnt)
	for i := 0; i < cnt; i++ {
		p.children[i] = int(binary.BigEndian.Uint32(buf[pos:]))
		pos += 4
		if p.children[i] == store.Root {
			return nil, core.NewFileCorrupted(id, "zero child pointer")
		}
		k, n := binary.Varint(buf[pos:])
		if n <= 0 {
			return nil, core.NewFileCorrupted(id, "truncated node key")
		}
		p.keys[i] = k
		pos += n
	}
	return p, nil
}

// dataLeafEntry is one row slot of a data leaf. The payload is the row
// wire form (varlong key first); when the row did not fit, inline
// holds the head and overflow points at the chain with the tail.
type dataLeafEntry struct {
	key      int64
	inline   []byte
	totalLen int
	overflow int
}

type dataLeaf struct {
	id      int
	parent  int
	indexID int
	entries []dataLeafEntry
}

func (p *dataLeaf) encodedSize() int {
	size := pageHeaderSize + binary.MaxVarintLen32 + 2
	for _, e := range p.entries {
		// Offset slot plus entry header plus inline bytes.
		size += 2 + binary.MaxVarintLen64 + 2*binary.MaxVarintLen32 + len(e.inline)
		if e.overflow != 0 {
			size += 4
		}
	}
	return size
}

func (p *dataLeaf) encode(pageSize int) ([]byte, error) {
	buf := make([]byte, pageSize)
	buf[0] = byte(store.PageDataLeaf)
	binary.BigEndian.PutUint32(buf[3:7], uint32(p.parent))
	pos := pageHeaderSize
	pos += binary.PutUvarint(buf[pos:], uint64(p.indexID))
	binary.BigEndian.PutUint16(buf[pos:], uint16(len(p.entries)))
	pos += 2
	offsetTable := pos
	pos += 2 * len(p.entries)
	// Payloads grow downward from the page end; the offset slots grow
	// from the header.
	dataEnd := pageSize
	for i, e := range p.entries {
		var ebuf []byte
		ebuf = binary.AppendVarint(ebuf, e.key)
		ebuf = binary.AppendUvarint(ebuf, uint64(e.totalLen))
		ebuf = binary.AppendUvarint(ebuf, uint64(len(e.inline)))
		ebuf = append(ebuf, e.inline...)
		if e.overflow != 0 {
			ebuf = binary.BigEndian.AppendUint32(ebuf, uint32(e.overflow))
		}
		dataEnd -= len(ebuf)
		if dataEnd < pos {
			return nil, fmt.Errorf("btree: data leaf %d overflows page", p.id)
		}
		copy(buf[dataEnd:], ebuf)
		binary.BigEndian.PutUint16(buf[offsetTable+2*i:], uint16(dataEnd))
	}
	sealPage(buf)
	return buf, nil
}

func decodeDataLeaf(id int, buf []byte) (*dataLeaf, error) {
	if _, err := verifyPage(id, buf, store.PageDataLeaf); err != nil {
		return nil, err
	}
	p := &dataLeaf{id: id, parent: int(binary.BigEndian.Uint32(buf[3:7]))}
	pos := pageHeaderSize
	iid, n := binary.Uvarint(buf[pos:])
	if n <= 0 {
		return nil, core.NewFileCorrupted(id, "truncated index id")
	}
	p.indexID = int(iid)
	pos += n
	cnt := int(binary.BigEndian.Uint16(buf[pos:]))
	pos += 2
	p.entries = make([]dataLeafEntry, cnt)
	for i := 0; i < cnt; i++ {
		off := int(binary.BigEndian.Uint16(buf[pos+2*i:]))
		if off < pos || off >= len(buf) {
			return nil, core.NewFileCorrupted(id, "entry offset out of range")
		}
		e, err := decodeDataLeafEntry(id, buf[off:])
		if err != nil {
			return nil, err
		}
		p.entries[i] = e
	}
	return p, nil
}

func decodeDataLeafEntry(id int, b []byte) (dataLeafEntry, error) {
	var e dataLeafEntry
	key, n := binary.Varint(b)
	if n <= 0 {
		return e, core.NewFileCorrupted(id, "truncated entry key")
	}
	pos := n
	total, n := binary.Uvarint(b[pos:])
	if n <= 0 {
		return e, core.NewFileCorrupted(id, "truncated entry length")
	}
	pos += n
	inlineLen, n := binary.Uvarint(b[pos:])
	if n <= 0 || pos+n+int(inlineLen) > len(b) {
		return e, core.NewFileCorrupted(id, "truncated entry payload")
	}
	pos += n
	e.key = key
	e.totalLen = int(total)
	e.inline = append([]byte(nil), b[pos:pos+int(inlineLen)]...)
	pos += int(inlineLen)
	if int(inlineLen) < int(total) {
		if pos+4 > len(b) {
			return e, core.NewFileCorrupted(id, "truncated overflow pointer")
		}
		e.overflow = int(binary.BigEndian.Uint32(b[pos:]))
		if e.overflow == store.Root {
			return e, core.NewFileCorrupted(id, "zero overflow pointer")
		}
	}
	return e, nil
}

// btreeNode is the decoded form of a secondary-index interior page:
// n+1 children separated by n pivot rows, each pivot being the first
// row of its right subtree.
type btreeNode struct {
	id       int
	parent   int
	indexID  int
	children []int             // len n+1
	pivots   []*core.SearchRow // len n
}

func (p *btreeNode) encode(pageSize int) ([]byte, error) {
	buf := make([]byte, pageSize)
	buf[0] = byte(store.PageBTreeNode)
	binary.BigEndian.PutUint32(buf[3:7], uint32(p.parent))
	pos := pageHeaderSize
	pos += binary.PutUvarint(buf[pos:], uint64(p.indexID))
	binary.BigEndian.PutUint16(buf[pos:], uint16(len(p.pivots)))
	pos += 2
	var body []byte
	for i, child := range p.children {
		body = binary.BigEndian.AppendUint32(body, uint32(child))
		if i < len(p.pivots) {
			body = encodeIndexRow(body, p.pivots[i])
		}
	}
	if pos+len(body) > pageSize {
		return nil, fmt.Errorf("btree: node %d overflows page", p.id)
	}
	copy(buf[pos:], body)
	sealPage(buf)
	return buf, nil
}

func decodeBtreeNode(id int, buf []byte) (*btreeNode, error) {
	if _, err := verifyPage(id, buf, store.PageBTreeNode); err != nil {
		return nil, err
	}
	p := &btreeNode{id: id, parent: int(binary.BigEndian.Uint32(buf[3:7]))}
	pos := pageHeaderSize
	iid, n := binary.Uvarint(buf[pos:])
	if n <= 0 {
		return nil, core.NewFileCorrupted(id, "truncated index id")
	}
	p.indexID = int(iid)
	pos += n
	cnt := int(binary.BigEndian.Uint16(buf[pos:]))
	pos += 2
	p.children = make([]int, cnt+1)
	p.pivots = make([]*core.SearchRow, cnt)
	for i := 0; i <= cnt; i++ {
		p.children[i] = int(binary.BigEndian.Uint32(buf[pos:]))
		pos += 4
		if p.children[i] == store.Root {
			return nil, core.NewFileCorrupted(id, "zero child pointer")
		}
		if i < cnt {
			row, n, err := decodeIndexRow(buf[pos:])
			if err != nil {
				return nil, core.NewFileCorrupted(id, err.Error())
			}
			p.pivots[i] = row
			pos += n
		}
	}
	return p, nil
}

func (p *btreeNode) fits(pageSize int) bool {
	size := pageHeaderSize + binary.MaxVarintLen32 + 2 + 4*len(p.children)
	for _, r := range p.pivots {
		size += len(encodeIndexRow(nil, r))
	}
	return size <= pageSize
}

// btreeLeaf is the decoded form of a secondary leaf. In only-position
// mode the rows carry only their key; column values are fetched from
// the data index when a cursor needs them.
type btreeLeaf struct {
	id           int
	parent       int
	indexID      int
	onlyPosition bool
	rows         []*core.SearchRow
}

func (p *btreeLeaf) encode(pageSize int) ([]byte, error) {
	buf := make([]byte, pageSize)
	buf[0] = byte(store.PageBTreeLeaf)
	if p.onlyPosition {
		buf[0] |= flagOnlyPosition
	}
	binary.BigEndian.PutUint32(buf[3:7], uint32(p.parent))
	pos := pageHeaderSize
	pos += binary.PutUvarint(buf[pos:], uint64(p.indexID))
	binary.BigEndian.PutUint16(buf[pos:], uint16(len(p.rows)))
	pos += 2
	offsetTable := pos
	pos += 2 * len(p.rows)
	dataEnd := pageSize
	for i, r := range p.rows {
		var ebuf []byte
		if p.onlyPosition {
			ebuf = binary.AppendVarint(ebuf, r.Key)
		} else {
			ebuf = encodeIndexRow(ebuf, r)
		}
		dataEnd -= len(ebuf)
		if dataEnd < pos {
			return nil, fmt.Errorf("btree: leaf %d overflows page", p.id)
		}
		copy(buf[dataEnd:], ebuf)
		binary.BigEndian.PutUint16(buf[offsetTable+2*i:], uint16(dataEnd))
	}
	sealPage(buf)
	return buf, nil
}

func decodeBtreeLeaf(id int, buf []byte) (*btreeLeaf, error) {
	flags, err := verifyPage(id, buf, store.PageBTreeLeaf)
	if err != nil {
		return nil, err
	}
	p := &btreeLeaf{
		id:           id,
		parent:       int(binary.BigEndian.Uint32(buf[3:7])),
		onlyPosition: flags&flagOnlyPosition != 0,
	}
	pos := pageHeaderSize
	iid, n := binary.Uvarint(buf[pos:])
	if n <= 0 {
		return nil, core.NewFileCorrupted(id, "truncated index id")
	}
	p.indexID = int(iid)
	pos += n
	cnt := int(binary.BigEndian.Uint16(buf[pos:]))
	pos += 2
	p.rows = make([]*core.SearchRow, cnt)
	for i := 0; i < cnt; i++ {
		off := int(binary.BigEndian.Uint16(buf[pos+2*i:]))
		if off < pos || off >= len(buf) {
			return nil, core.NewFileCorrupted(id, "row offset out of range")
		}
		if p.onlyPosition {
			key, n := binary.Varint(buf[off:])
			if n <= 0 {
				return nil, core.NewFileCorrupted(id, "truncated row key")
			}
			p.rows[i] = &core.SearchRow{Key: key}
		} else {
			row, _, err := decodeIndexRow(buf[off:])
			if err != nil {
				return nil, core.NewFileCorrupted(id, err.Error())
			}
			p.rows[i] = row
		}
	}
	return p, nil
}

func (p *btreeLeaf) fits(pageSize int) bool {
	size := pageHeaderSize + binary.MaxVarintLen32 + 2
	for _, r := range p.rows {
		size += 2
		if p.onlyPosition {
			size += binary.MaxVarintLen64
		} else {
			size += len(encodeIndexRow(nil, r))
		}
	}
	return size <= pageSize
}

// encodeIndexRow appends the secondary-index wire form of a sparse
// row: column count, values by position, then the row key.
func encodeIndexRow(buf []byte, r *core.SearchRow) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(r.Values)))
	for _, v := range r.Values {
		buf = core.EncodeValue(buf, v)
	}
	return binary.AppendVarint(buf, r.Key)
}

func decodeIndexRow(b []byte) (*core.SearchRow, int, error) {
	cnt, n := binary.Uvarint(b)
	if n <= 0 {
		return nil, 0, fmt.Errorf("truncated index row count")
	}
	pos := n
	row := &core.SearchRow{Values: make([]core.Value, cnt)}
	for i := range row.Values {
		v, n, err := core.DecodeValue(b[pos:])
		if err != nil {
			return nil, 0, err
		}
		row.Values[i] = v
		pos += n
	}
	key, n := binary.Varint(b[pos:])
	if n <= 0 {
		return nil, 0, fmt.Errorf("truncated index row key")
	}
	row.Key = key
	return row, pos + n, nil
}

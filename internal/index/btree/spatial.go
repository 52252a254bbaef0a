package btree

import (
	"pagedb/internal/core"
	"pagedb/internal/index"
)

const (
	rtreeMaxEntries = 8
	rtreeMinEntries = 3
)

// SpatialTreeIndex is the spatial access path: an R-tree keyed by the
// minimum bounding rectangle of one geometry column, with the
// quadratic-split insertion heuristic. Lookups prune by MBR
// intersection at every node and filter at the leaf.
type SpatialTreeIndex struct {
	index.Base
	fetch RowFetcher
	root  *rtreeNode
	rows  int64
}

type rtreeEntry struct {
	env   core.Envelope
	row   *core.SearchRow // leaf level
	child *rtreeNode      // interior level
}

type rtreeNode struct {
	leaf    bool
	entries []rtreeEntry
}

// NewSpatialIndex creates an empty spatial index over one geometry
// column.
func NewSpatialIndex(meta *core.IndexMeta, tbl *core.Table, mode core.CompareMode, fetch RowFetcher) *SpatialTreeIndex {
	return &SpatialTreeIndex{
		Base:  index.Base{IndexMeta: meta, Tbl: tbl, Mode: mode},
		fetch: fetch,
		root:  &rtreeNode{leaf: true},
	}
}

func (ix *SpatialTreeIndex) CanScan() bool { return true }

func (ix *SpatialTreeIndex) envelopeOf(row *core.SearchRow) (core.Envelope, bool) {
	v := row.Value(ix.IndexMeta.Columns[0].Column)
	g, ok := v.(core.Geometry)
	if !ok {
		return core.Envelope{}, false
	}
	return g.Env, true
}

func (ix *SpatialTreeIndex) Add(s *core.Session, row *core.Row) error {
	r := &core.SearchRow{Key: row.Key}
	col := ix.IndexMeta.Columns[0].Column
	v := row.Value(col)
	if v == nil {
		v = core.NullValue
	}
	r.SetValue(col, v)
	env, ok := ix.envelopeOf(r)
	if !ok {
		// Null geometries are not indexed; the table filter finds
		// them through the scan path.
		ix.rows++
		return nil
	}
	split := ix.insert(ix.root, rtreeEntry{env: env, row: r})
	if split != nil {
		old := ix.root
		ix.root = &rtreeNode{entries: []rtreeEntry{
			{env: nodeEnvelope(old), child: old},
			{env: nodeEnvelope(split), child: split},
		}}
	}
	ix.rows++
	return nil
}

func nodeEnvelope(n *rtreeNode) core.Envelope {
	env := n.entries[0].env
	for _, e := range n.entries[1:] {
		env = env.Union(e.env)
	}
	return env
}

func (ix *SpatialTreeIndex) insert(n *rtreeNode, e rtreeEntry) *rtreeNode {
	if n.leaf {
		n.entries = append(n.entries, e)
		if len(n.entries) > rtreeMaxEntries {
			return ix.splitQuadratic(n)
		}
		return nil
	}
	best := ix.chooseSubtree(n, e.env)
	split := ix.insert(n.entries[best].child, e)
	n.entries[best].env = nodeEnvelope(n.entries[best].child)
	if split != nil {
		n.entries = append(n.entries, rtreeEntry{env: nodeEnvelope(split), child: split})
		if len(n.entries) > rtreeMaxEntries {
			return ix.splitQuadratic(n)
		}
	}
	return nil
}

// chooseSubtree picks the child needing the least enlargement, ties
// broken by smaller area.
func (ix *SpatialTreeIndex) chooseSubtree(n *rtreeNode, env core.Envelope) int {
	best, bestGrow, bestArea := 0, -1.0, 0.0
	for i, e := range n.entries {
		grown := e.env.Union(env)
		grow := grown.Area() - e.env.Area()
		if bestGrow < 0 || grow < bestGrow || (grow == bestGrow && e.env.Area() < bestArea) {
			best, bestGrow, bestArea = i, grow, e.env.Area()
		}
	}
	return best
}

// splitQuadratic splits an overfull node: pick the pair of seeds that
// wastes the most area together, then assign the rest greedily to the
// group needing less enlargement.
func (ix *SpatialTreeIndex) splitQuadratic(n *rtreeNode) *rtreeNode {
	entries := n.entries
	s1, s2 := 0, 1
	worst := -1.0
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			d := entries[i].env.Union(entries[j].env).Area() - entries[i].env.Area() - entries[j].env.Area()
			if d > worst {
				worst, s1, s2 = d, i, j
			}
		}
	}
	g1 := []rtreeEntry{entries[s1]}
	g2 := []rtreeEntry{entries[s2]}
	e1, e2 := entries[s1].env, entries[s2].env
	for k, e := range entries {
		if k == s1 || k == s2 {
			continue
		}
		remaining := len(entries) - k
		if len(g1)+remaining <= rtreeMinEntries {
			g1 = append(g1, e)
			e1 = e1.Union(e.env)
			continue
		}
		if len(g2)+remaining <= rtreeMinEntries {
			g2 = append(g2, e)
			e2 = e2.Union(e.env)
			continue
		}
		grow1 := e1.Union(e.env).Area() - e1.Area()
		grow2 := e2.Union(e.env).Area() - e2.Area()
		if grow1 <= grow2 {
			g1 = append(g1, e)
			e1 = e1.Union(e.env)
		} else {
			g2 = append(g2, e)
			e2 = e2.Union(e.env)
		}
	}
	n.entries = g1
	return &rtreeNode{leaf: n.leaf, entries: g2}
}

func (ix *SpatialTreeIndex) Remove(s *core.Session, row *core.Row) error {
	r := &core.SearchRow{Key: row.Key}
	col := ix.IndexMeta.Columns[0].Column
	v := row.Value(col)
	if v == nil {
		v = core.NullValue
	}
	r.SetValue(col, v)
	env, ok := ix.envelopeOf(r)
	if !ok {
		ix.rows--
		return nil
	}
	if !ix.removeEntry(ix.root, env, row.Key) {
		return core.NewRowNotFound(r)
	}
	// A root with a single interior child shrinks the tree.
	for !ix.root.leaf && len(ix.root.entries) == 1 {
		ix.root = ix.root.entries[0].child
	}
	if !ix.root.leaf && len(ix.root.entries) == 0 {
		ix.root = &rtreeNode{leaf: true}
	}
	ix.rows--
	return nil
}

func (ix *SpatialTreeIndex) removeEntry(n *rtreeNode, env core.Envelope, key int64) bool {
	if n.leaf {
		for i, e := range n.entries {
			if e.row.Key == key {
				n.entries = append(n.entries[:i], n.entries[i+1:]...)
				return true
			}
		}
		return false
	}
	for i, e := range n.entries {
		if !e.env.Intersects(env) {
			continue
		}
		if ix.removeEntry(e.child, env, key) {
			if len(e.child.entries) == 0 {
				n.entries = append(n.entries[:i], n.entries[i+1:]...)
			} else {
				n.entries[i].env = nodeEnvelope(e.child)
			}
			return true
		}
	}
	return false
}

func (ix *SpatialTreeIndex) Update(s *core.Session, old, new *core.Row) error {
	return index.RemoveThenAdd(ix, s, old, new)
}

// Find walks every indexed entry; R-trees have no linear order, so
// bounds are applied as filters only.
func (ix *SpatialTreeIndex) Find(s *core.Session, first, last *core.SearchRow, reverse bool) (index.Cursor, error) {
	if reverse {
		return nil, core.NewUnsupported("reverse scan on " + ix.IndexMeta.Name)
	}
	rows := ix.collect(ix.root, nil, nil)
	return ix.cursorOver(s, rows, first, last), nil
}

// FindByGeometry prunes the walk by MBR intersection.
func (ix *SpatialTreeIndex) FindByGeometry(s *core.Session, first, last *core.SearchRow, intersection core.Envelope) (index.Cursor, error) {
	rows := ix.collect(ix.root, &intersection, nil)
	return ix.cursorOver(s, rows, first, last), nil
}

func (ix *SpatialTreeIndex) collect(n *rtreeNode, inter *core.Envelope, out []*core.SearchRow) []*core.SearchRow {
	for _, e := range n.entries {
		if inter != nil && !e.env.Intersects(*inter) {
			continue
		}
		if n.leaf {
			out = append(out, e.row)
		} else {
			out = ix.collect(e.child, inter, out)
		}
	}
	return out
}

func (ix *SpatialTreeIndex) cursorOver(s *core.Session, rows []*core.SearchRow, first, last *core.SearchRow) index.Cursor {
	i := 0
	return &index.FuncCursor{Fetch: func() (*core.Row, error) {
		for i < len(rows) {
			if err := s.CheckCanceled(); err != nil {
				return nil, err
			}
			r := rows[i]
			i++
			if !ix.InBounds(r, first, last) {
				continue
			}
			if ix.fetch != nil {
				return ix.fetch(s, r.Key)
			}
			return r, nil
		}
		return nil, nil
	}}
}

func (ix *SpatialTreeIndex) FindFirstOrLast(s *core.Session, first bool) (index.Cursor, error) {
	return nil, core.NewUnsupported("first/last lookup on " + ix.IndexMeta.Name)
}

func (ix *SpatialTreeIndex) Cost(s *core.Session, masks []int, order *index.SortOrder, projected []int) float64 {
	return index.CostRangeIndex(masks, index.CostParams{
		Meta: ix.IndexMeta, Table: ix.Tbl,
		RowCount: ix.RowCount(s), Order: order, Projected: projected,
	})
}

func (ix *SpatialTreeIndex) RowCount(s *core.Session) int64 {
	return ix.rows + s.RowCountDiff(ix.IndexMeta.ID)
}

func (ix *SpatialTreeIndex) RowCountApprox() int64 { return ix.rows }

func (ix *SpatialTreeIndex) Truncate(s *core.Session) error {
	ix.root = &rtreeNode{leaf: true}
	ix.rows = 0
	return nil
}

var _ index.SpatialIndex = (*SpatialTreeIndex)(nil)

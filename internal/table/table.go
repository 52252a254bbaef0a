// Package table ties the access paths together: a Database owns the
// page store, the schema meta records and the coarse-grained lock; a
// Table owns its data index and secondary set and keeps their row
// counts in step.
package table

import (
	"fmt"
	"sync"

	"pagedb/internal/config"
	"pagedb/internal/core"
	"pagedb/internal/index"
	"pagedb/internal/index/btree"
	"pagedb/internal/index/mem"
	"pagedb/internal/store"
)

// Database is the process-wide context threaded through every call.
// Mutators serialise on its lock; readers and a single writer may
// coexist on the paged store under it.
type Database struct {
	mu     sync.Mutex
	st     store.Store
	cfg    *config.Config
	mode   core.CompareMode
	tables map[string]*Table
	metas  []*core.IndexMeta
	nextID int
}

// Open wires a database over an already-open store.
func Open(st store.Store, cfg *config.Config) *Database {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Database{
		st:     st,
		cfg:    cfg,
		mode:   core.CompareMode{CaseInsensitive: cfg.CaseInsensitive},
		tables: make(map[string]*Table),
		nextID: 1,
	}
}

// Lock takes the database monitor; every public entry point of the
// storage engine runs under it.
func (db *Database) Lock()   { db.mu.Lock() }
func (db *Database) Unlock() { db.mu.Unlock() }

func (db *Database) Store() store.Store     { return db.st }
func (db *Database) Mode() core.CompareMode { return db.mode }
func (db *Database) Config() *config.Config { return db.cfg }

func (db *Database) allocID() int {
	id := db.nextID
	db.nextID++
	return id
}

// MetaRows materialises the index head records for the meta tables:
// (id, name, table-id, index-type, head-page-id, column-list, comment).
func (db *Database) MetaRows(s *core.Session) ([]*core.Row, error) {
	out := make([]*core.Row, 0, len(db.metas))
	for i, m := range db.metas {
		rec := m.HeadRecord()
		row := &core.Row{Key: int64(i + 1)}
		for j, f := range rec {
			row.SetValue(j, core.Str(f))
		}
		out = append(out, row)
	}
	return out, nil
}

func (db *Database) addMeta(m *core.IndexMeta) {
	db.metas = append(db.metas, m)
}

func (db *Database) removeMeta(id int) {
	for i, m := range db.metas {
		if m.ID == id {
			db.metas = append(db.metas[:i], db.metas[i+1:]...)
			return
		}
	}
}

// Commit makes the transaction durable and folds the session's
// row-count diffs away.
func (db *Database) Commit(s *core.Session) error {
	if err := db.st.Commit(); err != nil {
		return err
	}
	s.CommitRowCounts()
	return nil
}

// Rollback restores every modified page from the undo log. In-memory
// access paths are rebuilt from the restored data indexes.
func (db *Database) Rollback(s *core.Session) error {
	if err := db.st.Rollback(); err != nil {
		return err
	}
	s.CommitRowCounts()
	for _, t := range db.tables {
		if err := t.reload(s); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes and closes the underlying store.
func (db *Database) Close() error { return db.st.Close() }

// Table is one user table: its definition, its data index, and every
// secondary access path over it.
type Table struct {
	db      *Database
	def     *core.Table
	data    *btree.DataIndex
	indexes []index.Index
}

// CreateTable creates the table with its data index and records the
// head record in the meta table.
func (db *Database) CreateTable(def *core.Table) (*Table, error) {
	return db.OpenTable(def, store.Root)
}

// OpenTable attaches a table whose data index head page is already
// known from its head record; a zero head creates a fresh index.
func (db *Database) OpenTable(def *core.Table, dataHead int) (*Table, error) {
	if _, ok := db.tables[def.Name]; ok {
		return nil, fmt.Errorf("table: %s already exists", def.Name)
	}
	if def.ID == 0 {
		def.ID = db.allocID()
	}
	meta := &core.IndexMeta{
		ID:         db.allocID(),
		Name:       def.Name + "_DATA",
		TableID:    def.ID,
		Type:       core.IndexScan,
		HeadPageID: dataHead,
	}
	data, err := btree.NewDataIndex(db.st, meta, def, db.mode)
	if err != nil {
		return nil, err
	}
	db.addMeta(meta)
	t := &Table{db: db, def: def, data: data}
	db.tables[def.Name] = t
	return t, nil
}

// Table returns an open table by name.
func (db *Database) Table(name string) *Table { return db.tables[name] }

func (t *Table) Definition() *core.Table { return t.def }
func (t *Table) Data() *btree.DataIndex  { return t.data }
func (t *Table) Indexes() []index.Index  { return t.indexes }

// fetcher resolves row keys through the data index for secondary
// access paths.
func (t *Table) fetcher() btree.RowFetcher {
	return func(s *core.Session, key int64) (*core.Row, error) {
		return t.data.GetRow(s, key)
	}
}

// AddIndex creates a secondary access path from its meta description,
// populating it from the data index. An index found needing a rebuild
// after an unclean shutdown is truncated and repopulated the same way.
func (t *Table) AddIndex(s *core.Session, meta *core.IndexMeta) (index.Index, error) {
	if meta.ID == 0 {
		meta.ID = t.db.allocID()
	}
	meta.TableID = t.def.ID
	if err := meta.BindColumns(t.def); err != nil {
		return nil, err
	}
	var (
		ix  index.Index
		err error
	)
	switch meta.Type {
	case core.IndexSecondary, core.IndexUniqueSecondary, core.IndexPrimaryKey:
		ix, err = btree.NewSecondaryIndex(t.db.st, meta, t.def, t.db.mode, t.fetcher())
	case core.IndexHash:
		hx := mem.NewHashIndex(meta, t.def, t.db.mode)
		hx.Rebuild = true
		ix = hx
	case core.IndexOrderedInMemory:
		tx := mem.NewTreeIndex(meta, t.def, t.db.mode)
		tx.Rebuild = true
		ix = tx
	case core.IndexSpatial:
		sx := btree.NewSpatialIndex(meta, t.def, t.db.mode, t.fetcher())
		sx.Rebuild = true
		ix = sx
	default:
		return nil, core.NewUnsupported(fmt.Sprintf("index type %v on table %s", meta.Type, t.def.Name))
	}
	if err != nil {
		return nil, err
	}
	if meta.Type == core.IndexPrimaryKey {
		for i := 0; i < meta.UniqueColumnCount && i < len(meta.Columns); i++ {
			col := t.def.Columns[meta.Columns[i].Column]
			col.Nullable = false
		}
	}
	// Rebuild after an unclean shutdown, and populate a fresh index
	// created over a table that already holds rows.
	if ix.NeedsRebuild() || (ix.RowCountApprox() == 0 && t.data.RowCountApprox() > 0) {
		if err := t.rebuildIndex(s, ix); err != nil {
			return nil, err
		}
	}
	t.indexes = append(t.indexes, ix)
	t.db.addMeta(meta)
	return ix, nil
}

// rebuildIndex truncates the index and repopulates it from the data
// index, the row source of truth.
func (t *Table) rebuildIndex(s *core.Session, ix index.Index) error {
	if err := ix.Truncate(s); err != nil {
		return err
	}
	cur, err := t.data.Find(s, nil, nil, false)
	if err != nil {
		return err
	}
	var n int64
	for {
		ok, err := cur.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		row, err := cur.Row()
		if err != nil {
			return err
		}
		if err := ix.Add(s, row); err != nil {
			return err
		}
		n++
	}
	if sx, ok := ix.(*btree.SecondaryIndex); ok {
		sx.SetRowCount(n)
	}
	if c, ok := ix.(interface{ ClearRebuild() }); ok {
		c.ClearRebuild()
	}
	return nil
}

// AddRow inserts into the data index first, then every secondary;
// a failure compensates the paths already written so the row counts
// stay equal.
func (t *Table) AddRow(s *core.Session, row *core.Row) error {
	if err := t.checkNulls(row); err != nil {
		return err
	}
	if err := t.data.Add(s, row); err != nil {
		return err
	}
	for i, ix := range t.indexes {
		if err := ix.Add(s, row); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = t.indexes[j].Remove(s, row)
			}
			_ = t.data.Remove(s, row)
			return err
		}
	}
	return nil
}

func (t *Table) checkNulls(row *core.Row) error {
	for i, col := range t.def.Columns {
		if col.Nullable {
			continue
		}
		v := row.Value(i)
		if v == nil || v.Type() == core.TypeNull {
			return core.NewNullNotAllowed(col.Name)
		}
	}
	return nil
}

// RemoveRow deletes from every secondary, then the data index.
func (t *Table) RemoveRow(s *core.Session, row *core.Row) error {
	for _, ix := range t.indexes {
		if err := ix.Remove(s, row); err != nil {
			return err
		}
	}
	return t.data.Remove(s, row)
}

// UpdateRow replaces old with new across every access path.
func (t *Table) UpdateRow(s *core.Session, old, new *core.Row) error {
	if new.Key == core.KeyNone {
		new.Key = old.Key
	}
	if err := t.data.Update(s, old, new); err != nil {
		return err
	}
	for _, ix := range t.indexes {
		if err := ix.Update(s, old, new); err != nil {
			return err
		}
	}
	return nil
}

// Truncate removes every row from every access path. The caller holds
// the exclusive database lock.
func (t *Table) Truncate(s *core.Session) error {
	if err := t.data.Truncate(s); err != nil {
		return err
	}
	for _, ix := range t.indexes {
		if err := ix.Truncate(s); err != nil {
			return err
		}
	}
	return nil
}

// RowCount returns the table row count seen by the session.
func (t *Table) RowCount(s *core.Session) int64 { return t.data.RowCount(s) }

// BestIndex asks every access path for its cost and returns the
// cheapest; the data index is the fallback scan.
func (t *Table) BestIndex(s *core.Session, masks []int, order *index.SortOrder, projected []int) index.Index {
	best := index.Index(t.data)
	bestCost := t.data.Cost(s, masks, order, projected)
	for _, ix := range t.indexes {
		if c := ix.Cost(s, masks, order, projected); c < bestCost {
			best, bestCost = ix, c
		}
	}
	return best
}

// reload re-derives the in-memory access paths after a rollback
// restored the pages underneath them.
func (t *Table) reload(s *core.Session) error {
	for _, ix := range t.indexes {
		switch ix.(type) {
		case *mem.HashIndex, *mem.TreeIndex, *btree.SpatialTreeIndex:
			if err := t.rebuildIndex(s, ix); err != nil {
				return err
			}
		}
	}
	return nil
}

// DropIndex frees a secondary index's pages and removes its head
// record.
func (t *Table) DropIndex(s *core.Session, name string) error {
	for i, ix := range t.indexes {
		if ix.Meta().Name != name {
			continue
		}
		if sx, ok := ix.(*btree.SecondaryIndex); ok {
			if err := sx.RemoveIndex(); err != nil {
				return err
			}
		}
		t.indexes = append(t.indexes[:i], t.indexes[i+1:]...)
		t.db.removeMeta(ix.Meta().ID)
		return nil
	}
	return fmt.Errorf("table: index %s not found on %s", name, t.def.Name)
}

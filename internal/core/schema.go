package core

import (
	"fmt"
	"strconv"
	"strings"
)

// SortType encodes the per-column ordering of an index column.
// Descending and the nulls placement combine as bit flags.
type SortType int

const (
	SortAscending  SortType = 0
	SortDescending SortType = 1
	SortNullsFirst SortType = 2
	SortNullsLast  SortType = 4
)

// Descending reports whether the column sorts high-to-low.
func (s SortType) Descending() bool { return s&SortDescending != 0 }

// Column describes one table column.
type Column struct {
	Name     string
	Type     Type
	Nullable bool
	// Selectivity is the percentage of distinct values, 1..100.
	// 0 means "not analysed" and is treated as 50.
	Selectivity int
}

// EffectiveSelectivity returns the selectivity with the default applied.
func (c *Column) EffectiveSelectivity() int {
	if c.Selectivity <= 0 || c.Selectivity > 100 {
		return 50
	}
	return c.Selectivity
}

// IndexColumn is a reference to a table column plus its sort type.
type IndexColumn struct {
	Column   int
	Name     string
	SortType SortType
}

// IndexType is the flavor of an access path.
type IndexType int

const (
	IndexScan IndexType = iota
	IndexSecondary
	IndexUniqueSecondary
	IndexPrimaryKey
	IndexHash
	IndexOrderedInMemory
	IndexMeta
	IndexRange
	IndexDual
	IndexFunction
	IndexView
	IndexLinked
	IndexSpatial
)

func (t IndexType) String() string {
	switch t {
	case IndexScan:
		return "SCAN"
	case IndexSecondary:
		return "INDEX"
	case IndexUniqueSecondary:
		return "UNIQUE INDEX"
	case IndexPrimaryKey:
		return "PRIMARY KEY"
	case IndexHash:
		return "HASH"
	case IndexOrderedInMemory:
		return "MEMORY"
	case IndexMeta:
		return "META"
	case IndexRange:
		return "RANGE"
	case IndexDual:
		return "DUAL"
	case IndexFunction:
		return "FUNCTION"
	case IndexView:
		return "VIEW"
	case IndexLinked:
		return "LINKED"
	case IndexSpatial:
		return "SPATIAL"
	}
	return fmt.Sprintf("INDEX_TYPE(%d)", int(t))
}

// NullsDistinct controls whether rows with nulls in unique columns
// collide.
type NullsDistinct int

const (
	// NullsNotDistinct makes nulls compare equal: duplicates always
	// conflict.
	NullsNotDistinct NullsDistinct = iota
	// NullsDistinctDefault makes rows conflict unless every unique
	// prefix value is null.
	NullsDistinctDefault
	// NullsAllDistinct makes rows conflict only when every unique
	// prefix value is non-null.
	NullsAllDistinct
)

// Table describes a table: its columns and identity. Access paths are
// attached by the table layer, not here.
type Table struct {
	ID      int
	Name    string
	Columns []*Column
}

// FindColumn returns the index of the named column, or -1.
func (t *Table) FindColumn(name string) int {
	for i, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return i
		}
	}
	return -1
}

func (t *Table) String() string { return t.Name }

// IndexMeta is the durable description of an index: the head record
// stored in the schema meta table.
type IndexMeta struct {
	ID                int
	Name              string
	TableID           int
	Type              IndexType
	HeadPageID        int
	Columns           []IndexColumn
	UniqueColumnCount int
	NullsDistinct     NullsDistinct
	Comment           string
}

// Unique reports whether a non-empty prefix of the columns must form a
// unique key.
func (m *IndexMeta) Unique() bool { return m.UniqueColumnCount > 0 }

// Normalize applies creation-time rewrites: a single-column unique
// index with the all-distinct policy behaves exactly like distinct, so
// it is stored that way.
func (m *IndexMeta) Normalize() {
	if m.UniqueColumnCount == 1 && m.NullsDistinct == NullsAllDistinct {
		m.NullsDistinct = NullsDistinctDefault
	}
}

// SQL renders the index name for error messages, mirroring how it
// appears in statements.
func (m *IndexMeta) SQL() string { return m.Name }

// HeadRecord renders the meta-table row for this index:
// id, name, table-id, index-type, head-page-id, column-list, comment.
func (m *IndexMeta) HeadRecord() []string {
	cols := make([]string, len(m.Columns))
	for i, ic := range m.Columns {
		c := ic.Name
		if ic.SortType.Descending() {
			c += " DESC"
		}
		if ic.SortType&SortNullsFirst != 0 {
			c += " NULLS FIRST"
		} else if ic.SortType&SortNullsLast != 0 {
			c += " NULLS LAST"
		}
		cols[i] = c
	}
	return []string{
		strconv.Itoa(m.ID),
		m.Name,
		strconv.Itoa(m.TableID),
		strconv.Itoa(int(m.Type)),
		strconv.Itoa(m.HeadPageID),
		strings.Join(cols, ","),
		m.Comment,
	}
}

// ParseHeadRecord rebuilds an IndexMeta from its meta-table row.
func ParseHeadRecord(fields []string) (*IndexMeta, error) {
	if len(fields) != 7 {
		return nil, fmt.Errorf("core: head record: want 7 fields, got %d", len(fields))
	}
	m := &IndexMeta{Name: fields[1], Comment: fields[6]}
	var err error
	if m.ID, err = strconv.Atoi(fields[0]); err != nil {
		return nil, fmt.Errorf("core: head record id: %w", err)
	}
	if m.TableID, err = strconv.Atoi(fields[2]); err != nil {
		return nil, fmt.Errorf("core: head record table id: %w", err)
	}
	it, err := strconv.Atoi(fields[3])
	if err != nil {
		return nil, fmt.Errorf("core: head record index type: %w", err)
	}
	m.Type = IndexType(it)
	if m.HeadPageID, err = strconv.Atoi(fields[4]); err != nil {
		return nil, fmt.Errorf("core: head record head page: %w", err)
	}
	if fields[5] != "" {
		for _, part := range strings.Split(fields[5], ",") {
			ic := IndexColumn{Column: -1}
			rest := part
			if strings.HasSuffix(rest, " NULLS FIRST") {
				ic.SortType |= SortNullsFirst
				rest = strings.TrimSuffix(rest, " NULLS FIRST")
			} else if strings.HasSuffix(rest, " NULLS LAST") {
				ic.SortType |= SortNullsLast
				rest = strings.TrimSuffix(rest, " NULLS LAST")
			}
			if strings.HasSuffix(rest, " DESC") {
				ic.SortType |= SortDescending
				rest = strings.TrimSuffix(rest, " DESC")
			}
			ic.Name = rest
			m.Columns = append(m.Columns, ic)
		}
	}
	return m, nil
}

// BindColumns resolves column names in the meta to positions in t.
func (m *IndexMeta) BindColumns(t *Table) error {
	for i := range m.Columns {
		pos := t.FindColumn(m.Columns[i].Name)
		if pos < 0 {
			return fmt.Errorf("core: index %s: column %q not in table %s", m.Name, m.Columns[i].Name, t.Name)
		}
		m.Columns[i].Column = pos
	}
	return nil
}

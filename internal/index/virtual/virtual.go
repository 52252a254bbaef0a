// Package virtual contains the non-stored access paths: the range and
// dual pseudo-tables, the meta-table indexes, result-set scans, view
// indexes over compiled subqueries, and the recursive-view driver.
package virtual

import (
	"pagedb/internal/core"
	"pagedb/internal/index"
)

// base provides the rejections shared by every pseudo-index: they
// cannot be mutated and never need a rebuild.
type base struct {
	index.Base
}

func (b *base) Add(*core.Session, *core.Row) error {
	return core.NewUnsupported("insert into " + b.IndexMeta.Name)
}

func (b *base) Remove(*core.Session, *core.Row) error {
	return core.NewUnsupported("delete from " + b.IndexMeta.Name)
}

func (b *base) Update(s *core.Session, old, new *core.Row) error {
	return core.NewUnsupported("update of " + b.IndexMeta.Name)
}

func (b *base) Truncate(*core.Session) error {
	return core.NewUnsupported("truncate of " + b.IndexMeta.Name)
}

func (b *base) FindFirstOrLast(*core.Session, bool) (index.Cursor, error) {
	return nil, core.NewUnsupported("first/last lookup on " + b.IndexMeta.Name)
}

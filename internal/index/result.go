package index

import "pagedb/internal/core"

// ListResult is a materialised, random-access Result over local rows.
type ListResult struct {
	Rows []*core.Row
}

func (r *ListResult) RowCount() int      { return len(r.Rows) }
func (r *ListResult) RandomAccess() bool { return true }

func (r *ListResult) RowAt(i int) (*core.Row, error) { return r.Rows[i], nil }

// ResultCursor iterates a Result in order, checking the session cancel
// flag between rows.
func ResultCursor(s *core.Session, res Result) Cursor {
	i := 0
	return &FuncCursor{Fetch: func() (*core.Row, error) {
		if err := s.CheckCanceled(); err != nil {
			return nil, err
		}
		if i >= res.RowCount() {
			return nil, nil
		}
		row, err := res.RowAt(i)
		i++
		return row, err
	}}
}

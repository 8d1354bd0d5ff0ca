package protocol

import (
	"github.com/burrowdb/burrow/engine"
)

// Cursor is one open server-side paginated result. It is owned exclusively
// by the CursorRegistry between creation and removal; no locking of its own
// because one client drives one cursor at a time.
type Cursor struct {
	id       uint64
	pageSize int
	maxRows  int // 0 = unbounded
	fetched  int
	rows     engine.RowCursor
}

func newCursor(id uint64, pageSize, maxRows int, rows engine.RowCursor) *Cursor {
	return &Cursor{
		id:       id,
		pageSize: pageSize,
		maxRows:  maxRows,
		rows:     rows,
	}
}

// ID returns the cursor's unique identifier.
func (c *Cursor) ID() uint64 { return c.id }

// IsQuery reports whether the underlying result carries rows (true) or a
// single update count (false).
func (c *Cursor) IsQuery() bool { return c.rows.IsQuery() }

// SetPageSize updates the page size used by subsequent FetchPage calls.
func (c *Cursor) SetPageSize(pageSize int) { c.pageSize = pageSize }

// FetchPage pulls up to one page of rows, honoring the max row cap.
func (c *Cursor) FetchPage() ([][]any, error) {
	limit := c.pageSize
	if c.maxRows > 0 {
		if remaining := c.maxRows - c.fetched; remaining < limit {
			limit = remaining
		}
	}
	if limit <= 0 {
		return [][]any{}, nil
	}

	page, err := c.rows.FetchPage(limit)
	if err != nil {
		return nil, err
	}
	c.fetched += len(page)
	return page, nil
}

// HasNext reports whether more rows remain within the max row cap.
func (c *Cursor) HasNext() bool {
	if c.maxRows > 0 && c.fetched >= c.maxRows {
		return false
	}
	return c.rows.HasNext()
}

// Columns returns the column metadata of the underlying result.
func (c *Cursor) Columns() []engine.ColumnMeta { return c.rows.Columns() }

// Close releases the underlying result.
func (c *Cursor) Close() error { return c.rows.Close() }

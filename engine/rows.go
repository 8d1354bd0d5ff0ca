package engine

import (
	"database/sql"
)

// queryRows adapts *sql.Rows to RowCursor with a one-row lookahead so that
// HasNext is exact after every page pull.
type queryRows struct {
	rows    *sql.Rows
	cols    []ColumnMeta
	pending []any
	hasNext bool
	closed  bool
}

func newQueryRows(rows *sql.Rows) (*queryRows, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		rows.Close()
		return nil, err
	}

	cols := make([]ColumnMeta, len(types))
	for i, ct := range types {
		nullable, ok := ct.Nullable()
		cols[i] = ColumnMeta{
			Name:     ct.Name(),
			TypeName: ct.DatabaseTypeName(),
			Nullable: nullable || !ok,
		}
	}

	q := &queryRows{rows: rows, cols: cols}
	if err := q.advance(); err != nil {
		rows.Close()
		return nil, err
	}
	return q, nil
}

// advance pulls the next row into the lookahead buffer.
func (q *queryRows) advance() error {
	if !q.rows.Next() {
		q.pending = nil
		q.hasNext = false
		return q.rows.Err()
	}

	scan := make([]any, len(q.cols))
	for i := range scan {
		scan[i] = new(any)
	}
	if err := q.rows.Scan(scan...); err != nil {
		return err
	}

	row := make([]any, len(scan))
	for i, cell := range scan {
		row[i] = *(cell.(*any))
	}
	q.pending = row
	q.hasNext = true
	return nil
}

func (q *queryRows) IsQuery() bool { return true }

func (q *queryRows) HasNext() bool { return q.hasNext }

func (q *queryRows) FetchPage(limit int) ([][]any, error) {
	page := make([][]any, 0, limit)
	for len(page) < limit && q.hasNext {
		page = append(page, q.pending)
		if err := q.advance(); err != nil {
			return nil, err
		}
	}
	return page, nil
}

func (q *queryRows) Columns() []ColumnMeta { return q.cols }

func (q *queryRows) Close() error {
	if q.closed {
		return nil
	}
	q.closed = true
	return q.rows.Close()
}

// updateRows is the DML-shaped cursor: a single row holding the affected
// row count.
type updateRows struct {
	affected int64
	consumed bool
}

func newUpdateRows(affected int64) *updateRows {
	return &updateRows{affected: affected}
}

func (u *updateRows) IsQuery() bool { return false }

func (u *updateRows) HasNext() bool { return !u.consumed }

func (u *updateRows) FetchPage(limit int) ([][]any, error) {
	if u.consumed || limit < 1 {
		return [][]any{}, nil
	}
	u.consumed = true
	return [][]any{{u.affected}}, nil
}

func (u *updateRows) Columns() []ColumnMeta {
	return []ColumnMeta{{Name: "UPDATED", TypeName: "BIGINT", Nullable: false}}
}

func (u *updateRows) Close() error { return nil }

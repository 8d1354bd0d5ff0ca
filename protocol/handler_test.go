package protocol

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/burrowdb/burrow/cfg"
	"github.com/burrowdb/burrow/engine"
	"github.com/burrowdb/burrow/id"
	"github.com/burrowdb/burrow/version"
)

// fakeRows is a scripted RowCursor.
type fakeRows struct {
	rows     [][]any
	cols     []engine.ColumnMeta
	pos      int
	isQuery  bool
	closed   bool
	closeErr error
}

func newFakeRows(rows [][]any, isQuery bool) *fakeRows {
	return &fakeRows{
		rows:    rows,
		isQuery: isQuery,
		cols:    []engine.ColumnMeta{{Name: "ID", TypeName: "BIGINT"}},
	}
}

func (f *fakeRows) IsQuery() bool { return f.isQuery }
func (f *fakeRows) HasNext() bool { return f.pos < len(f.rows) }

func (f *fakeRows) FetchPage(limit int) ([][]any, error) {
	end := f.pos + limit
	if end > len(f.rows) {
		end = len(f.rows)
	}
	page := f.rows[f.pos:end]
	f.pos = end
	return page, nil
}

func (f *fakeRows) Columns() []engine.ColumnMeta { return f.cols }

func (f *fakeRows) Close() error {
	f.closed = true
	return f.closeErr
}

// fakeEngine is a scripted QueryEngine that records submitted statements.
type fakeEngine struct {
	submitFn  func(stmt *engine.Statement) (engine.RowCursor, error)
	prepareFn func(schema, sql string) ([]engine.ParamMeta, error)
	caches    []string
	types     map[string][]*engine.TypeDescriptor
	submitted []*engine.Statement
}

func (f *fakeEngine) Submit(stmt *engine.Statement) (engine.RowCursor, error) {
	f.submitted = append(f.submitted, stmt)
	return f.submitFn(stmt)
}

func (f *fakeEngine) PrepareParams(schema, sql string) ([]engine.ParamMeta, error) {
	if f.prepareFn == nil {
		return nil, nil
	}
	return f.prepareFn(schema, sql)
}

func (f *fakeEngine) PublicCaches() []string { return f.caches }

func (f *fakeEngine) Types(cacheName string) []*engine.TypeDescriptor {
	return f.types[cacheName]
}

func selectEngine(rowCount int) *fakeEngine {
	return &fakeEngine{
		submitFn: func(stmt *engine.Statement) (engine.RowCursor, error) {
			return newFakeRows(intRows(rowCount), true), nil
		},
	}
}

func updateEngine(affected int64) *fakeEngine {
	return &fakeEngine{
		submitFn: func(stmt *engine.Statement) (engine.RowCursor, error) {
			return newFakeRows([][]any{{affected}}, false), nil
		},
	}
}

func newTestHandler(t *testing.T, eng engine.QueryEngine, conf cfg.SessionConfiguration) *SessionHandler {
	t.Helper()
	return NewSessionHandler(1, eng, NewBusyGate(), id.NewGenerator(), conf)
}

func executeResult(t *testing.T, resp *Response) *ExecuteResult {
	t.Helper()
	require.Equal(t, StatusSuccess, resp.Status, "unexpected failure: %s", resp.Error)
	res, ok := resp.Result.(*ExecuteResult)
	require.True(t, ok)
	return res
}

func TestExecuteQueryFirstPage(t *testing.T) {
	h := newTestHandler(t, selectEngine(5), cfg.SessionConfiguration{})

	resp := h.Handle(NewExecuteRequest(1, "", "SELECT id FROM t", nil, engine.StatementAny, 2, 0))

	res := executeResult(t, resp)
	require.True(t, res.IsQuery)
	require.Len(t, res.Rows, 2)
	require.False(t, res.Last)
	require.Equal(t, 1, h.OpenCursors())
}

func TestExecuteQueryExhaustedKeptOpenByDefault(t *testing.T) {
	// Without auto-close an exhausted query cursor stays registered until
	// the client closes it.
	h := newTestHandler(t, selectEngine(2), cfg.SessionConfiguration{})

	resp := h.Handle(NewExecuteRequest(1, "", "SELECT id FROM t", nil, engine.StatementAny, 10, 0))

	res := executeResult(t, resp)
	require.True(t, res.Last)
	require.Equal(t, 1, h.OpenCursors())
}

func TestExecuteQueryAutoClose(t *testing.T) {
	eng := &fakeEngine{}
	var rows *fakeRows
	eng.submitFn = func(stmt *engine.Statement) (engine.RowCursor, error) {
		rows = newFakeRows(intRows(2), true)
		return rows, nil
	}
	h := newTestHandler(t, eng, cfg.SessionConfiguration{AutoCloseCursors: true})

	resp := h.Handle(NewExecuteRequest(1, "", "SELECT id FROM t", nil, engine.StatementAny, 10, 0))

	res := executeResult(t, resp)
	require.True(t, res.Last)
	require.Equal(t, 0, h.OpenCursors())
	require.True(t, rows.closed)

	// Nothing was registered, so a fetch against the id fails.
	fetch := h.Handle(NewFetchRequest(2, res.CursorID, 10))
	require.Equal(t, StatusFailed, fetch.Status)
	require.Equal(t, fmt.Sprintf("Failed to find query cursor with ID: %d", res.CursorID), fetch.Error)
}

func TestExecuteDML(t *testing.T) {
	h := newTestHandler(t, updateEngine(5), cfg.SessionConfiguration{})

	resp := h.Handle(NewExecuteRequest(1, "", "UPDATE t SET x=1", nil, engine.StatementAny, 10, 0))

	res := executeResult(t, resp)
	require.False(t, res.IsQuery)
	require.True(t, res.Last)
	require.Equal(t, int64(5), res.UpdateCount)
	// DML cursors never outlive the request.
	require.Equal(t, 0, h.OpenCursors())
}

func TestExecuteInvalidFetchSize(t *testing.T) {
	h := newTestHandler(t, selectEngine(1), cfg.SessionConfiguration{})

	resp := h.Handle(NewExecuteRequest(1, "", "SELECT 1", nil, engine.StatementAny, 0, 0))
	require.Equal(t, StatusFailed, resp.Status)
	require.Equal(t, "Invalid fetch size: [fetchSize=0]", resp.Error)
}

func TestExecuteEngineFailure(t *testing.T) {
	eng := &fakeEngine{
		submitFn: func(stmt *engine.Statement) (engine.RowCursor, error) {
			return nil, fmt.Errorf("no such table: t")
		},
	}
	h := newTestHandler(t, eng, cfg.SessionConfiguration{})

	resp := h.Handle(NewExecuteRequest(1, "", "SELECT id FROM t", nil, engine.StatementAny, 10, 0))
	require.Equal(t, StatusFailed, resp.Status)
	require.Equal(t, "no such table: t", resp.Error)
	require.Equal(t, 0, h.OpenCursors())
}

func TestExecuteDefaultsSchema(t *testing.T) {
	eng := selectEngine(1)
	h := newTestHandler(t, eng, cfg.SessionConfiguration{})

	h.Handle(NewExecuteRequest(1, "", "SELECT 1", nil, engine.StatementAny, 10, 0))
	require.Equal(t, engine.DefaultSchema, eng.submitted[0].Schema)

	h.Handle(NewExecuteRequest(2, "SALES", "SELECT 1", nil, engine.StatementAny, 10, 0))
	require.Equal(t, "SALES", eng.submitted[1].Schema)
}

func TestExecuteAppliesSessionFlags(t *testing.T) {
	eng := selectEngine(1)
	h := newTestHandler(t, eng, cfg.SessionConfiguration{
		DistributedJoins: true,
		Lazy:             true,
	})

	h.Handle(NewExecuteRequest(1, "", "SELECT 1", nil, engine.StatementAny, 10, 0))

	flags := eng.submitted[0].Flags
	require.True(t, flags.DistributedJoins)
	require.True(t, flags.Lazy)
	require.False(t, flags.EnforceJoinOrder)
}

func TestCursorLimit(t *testing.T) {
	h := newTestHandler(t, selectEngine(5), cfg.SessionConfiguration{MaxOpenCursors: 2})

	first := executeResult(t, h.Handle(NewExecuteRequest(1, "", "SELECT 1", nil, engine.StatementAny, 2, 0)))
	executeResult(t, h.Handle(NewExecuteRequest(2, "", "SELECT 1", nil, engine.StatementAny, 2, 0)))

	resp := h.Handle(NewExecuteRequest(3, "", "SELECT 1", nil, engine.StatementAny, 2, 0))
	require.Equal(t, StatusFailed, resp.Status)
	require.Contains(t, resp.Error, "Too many open cursors")
	require.Contains(t, resp.Error, "[maximum=2, current=2]")

	// Freeing a slot admits the next execution.
	closeResp := h.Handle(NewCloseRequest(4, first.CursorID))
	require.Equal(t, StatusSuccess, closeResp.Status)

	resp = h.Handle(NewExecuteRequest(5, "", "SELECT 1", nil, engine.StatementAny, 2, 0))
	require.Equal(t, StatusSuccess, resp.Status)
}

func TestCursorLimitZeroIsUnlimited(t *testing.T) {
	h := newTestHandler(t, selectEngine(5), cfg.SessionConfiguration{MaxOpenCursors: 0})

	for i := uint64(0); i < 50; i++ {
		resp := h.Handle(NewExecuteRequest(i, "", "SELECT 1", nil, engine.StatementAny, 2, 0))
		require.Equal(t, StatusSuccess, resp.Status)
	}
	require.Equal(t, 50, h.OpenCursors())
}

func TestFetchToExhaustion(t *testing.T) {
	h := newTestHandler(t, selectEngine(5), cfg.SessionConfiguration{AutoCloseCursors: true})

	res := executeResult(t, h.Handle(NewExecuteRequest(1, "", "SELECT 1", nil, engine.StatementAny, 2, 0)))
	require.False(t, res.Last)

	resp := h.Handle(NewFetchRequest(2, res.CursorID, 2))
	require.Equal(t, StatusSuccess, resp.Status)
	fetch := resp.Result.(*FetchResult)
	require.Len(t, fetch.Rows, 2)
	require.False(t, fetch.Last)

	resp = h.Handle(NewFetchRequest(3, res.CursorID, 2))
	fetch = resp.Result.(*FetchResult)
	require.Len(t, fetch.Rows, 1)
	require.True(t, fetch.Last)

	// Auto-close removed the exhausted cursor.
	require.Equal(t, 0, h.OpenCursors())
	resp = h.Handle(NewFetchRequest(4, res.CursorID, 2))
	require.Equal(t, StatusFailed, resp.Status)
}

func TestFetchInvalidPageSize(t *testing.T) {
	h := newTestHandler(t, selectEngine(5), cfg.SessionConfiguration{})

	res := executeResult(t, h.Handle(NewExecuteRequest(1, "", "SELECT 1", nil, engine.StatementAny, 2, 0)))

	resp := h.Handle(NewFetchRequest(2, res.CursorID, -1))
	require.Equal(t, StatusFailed, resp.Status)
	require.Equal(t, "Invalid fetch size: [fetchSize=-1]", resp.Error)

	// The cursor survives the rejected fetch.
	require.Equal(t, 1, h.OpenCursors())
}

func TestMaxRowsCapsResult(t *testing.T) {
	h := newTestHandler(t, selectEngine(10), cfg.SessionConfiguration{})

	res := executeResult(t, h.Handle(NewExecuteRequest(1, "", "SELECT 1", nil, engine.StatementAny, 2, 3)))
	require.Len(t, res.Rows, 2)
	require.False(t, res.Last)

	resp := h.Handle(NewFetchRequest(2, res.CursorID, 2))
	fetch := resp.Result.(*FetchResult)
	require.Len(t, fetch.Rows, 1)
	require.True(t, fetch.Last)
}

func TestCloseIsNotIdempotent(t *testing.T) {
	h := newTestHandler(t, selectEngine(5), cfg.SessionConfiguration{})

	res := executeResult(t, h.Handle(NewExecuteRequest(1, "", "SELECT 1", nil, engine.StatementAny, 2, 0)))

	resp := h.Handle(NewCloseRequest(2, res.CursorID))
	require.Equal(t, StatusSuccess, resp.Status)

	resp = h.Handle(NewCloseRequest(3, res.CursorID))
	require.Equal(t, StatusFailed, resp.Status)
	require.Equal(t, fmt.Sprintf("Failed to find query cursor with ID: %d", res.CursorID), resp.Error)
}

func TestQueryMeta(t *testing.T) {
	h := newTestHandler(t, selectEngine(5), cfg.SessionConfiguration{})

	res := executeResult(t, h.Handle(NewExecuteRequest(1, "", "SELECT 1", nil, engine.StatementAny, 2, 0)))

	resp := h.Handle(NewQueryMetaRequest(2, res.CursorID))
	require.Equal(t, StatusSuccess, resp.Status)
	meta := resp.Result.(*QueryMetaResult)
	require.Equal(t, res.CursorID, meta.CursorID)
	require.Equal(t, "ID", meta.Columns[0].Name)

	resp = h.Handle(NewQueryMetaRequest(3, res.CursorID+100))
	require.Equal(t, StatusFailed, resp.Status)
}

func TestBatchExecute(t *testing.T) {
	counts := []int64{1, 2, 3}
	idx := 0
	eng := &fakeEngine{}
	eng.submitFn = func(stmt *engine.Statement) (engine.RowCursor, error) {
		count := counts[idx]
		idx++
		return newFakeRows([][]any{{count}}, false), nil
	}
	h := newTestHandler(t, eng, cfg.SessionConfiguration{})

	resp := h.Handle(NewBatchExecuteRequest(1, "", []BatchQuery{
		{SQL: "INSERT INTO t VALUES (?)", Args: []any{1}},
		{SQL: "INSERT INTO t VALUES (?)", Args: []any{2}},
		{SQL: "INSERT INTO t VALUES (?)", Args: []any{3}},
	}))

	require.Equal(t, StatusSuccess, resp.Status)
	res := resp.Result.(*BatchExecuteResult)
	require.Equal(t, []int64{1, 2, 3}, res.UpdateCounts)
	require.Equal(t, StatusSuccess, res.Status)

	// Every batch statement is forced to DML semantics.
	for _, stmt := range eng.submitted {
		require.Equal(t, engine.StatementUpdate, stmt.Type)
	}
}

func TestBatchStickySQL(t *testing.T) {
	eng := &fakeEngine{}
	eng.submitFn = func(stmt *engine.Statement) (engine.RowCursor, error) {
		return newFakeRows([][]any{{int64(1)}}, false), nil
	}
	h := newTestHandler(t, eng, cfg.SessionConfiguration{})

	resp := h.Handle(NewBatchExecuteRequest(1, "", []BatchQuery{
		{SQL: "INSERT INTO t VALUES (?)", Args: []any{1}},
		{SQL: "", Args: []any{2}},
		{SQL: "", Args: []any{3}},
	}))

	require.Equal(t, StatusSuccess, resp.Status)
	require.Len(t, eng.submitted, 3)
	for _, stmt := range eng.submitted {
		require.Equal(t, "INSERT INTO t VALUES (?)", stmt.SQL)
	}
}

func TestBatchPartialFailure(t *testing.T) {
	eng := &fakeEngine{}
	call := 0
	eng.submitFn = func(stmt *engine.Statement) (engine.RowCursor, error) {
		call++
		if call == 3 {
			return nil, fmt.Errorf("constraint violation")
		}
		return newFakeRows([][]any{{int64(call)}}, false), nil
	}
	h := newTestHandler(t, eng, cfg.SessionConfiguration{})

	resp := h.Handle(NewBatchExecuteRequest(1, "", []BatchQuery{
		{SQL: "INSERT INTO t VALUES (1)"},
		{SQL: "INSERT INTO t VALUES (2)"},
		{SQL: "INSERT INTO t VALUES (3)"},
		{SQL: "INSERT INTO t VALUES (4)"},
	}))

	require.Equal(t, StatusFailed, resp.Status)
	require.Contains(t, resp.Error, "constraint violation")

	res := resp.Result.(*BatchExecuteResult)
	require.Equal(t, []int64{1, 2}, res.UpdateCounts)
	require.Equal(t, StatusFailed, res.Status)

	// The statement after the failing one is never attempted.
	require.Len(t, eng.submitted, 3)
}

func TestHandleWhileStopping(t *testing.T) {
	gate := NewBusyGate()
	h := NewSessionHandler(1, selectEngine(1), gate, id.NewGenerator(), cfg.SessionConfiguration{})

	gate.Shutdown()

	resp := h.Handle(NewExecuteRequest(1, "", "SELECT 1", nil, engine.StatementAny, 10, 0))
	require.Equal(t, StatusFailed, resp.Status)
	require.Equal(t, "Failed to handle request because node is stopping.", resp.Error)
}

func TestUnsupportedRequest(t *testing.T) {
	h := newTestHandler(t, selectEngine(1), cfg.SessionConfiguration{})

	resp := h.Handle(&unknownRequest{request: request{ID: 1}, kind: RequestType(99)})
	require.Equal(t, StatusFailed, resp.Status)
	require.Equal(t, "Unsupported request [type=99]", resp.Error)
}

func TestOnDisconnectSweepsCursors(t *testing.T) {
	eng := &fakeEngine{}
	var opened []*fakeRows
	eng.submitFn = func(stmt *engine.Statement) (engine.RowCursor, error) {
		rows := newFakeRows(intRows(5), true)
		opened = append(opened, rows)
		return rows, nil
	}
	h := newTestHandler(t, eng, cfg.SessionConfiguration{})

	res := executeResult(t, h.Handle(NewExecuteRequest(1, "", "SELECT 1", nil, engine.StatementAny, 2, 0)))
	executeResult(t, h.Handle(NewExecuteRequest(2, "", "SELECT 1", nil, engine.StatementAny, 2, 0)))
	require.Equal(t, 2, h.OpenCursors())

	h.OnDisconnect()

	require.Equal(t, 0, h.OpenCursors())
	for _, rows := range opened {
		require.True(t, rows.closed)
	}

	resp := h.Handle(NewFetchRequest(3, res.CursorID, 2))
	require.Equal(t, StatusFailed, resp.Status)
}

func TestOnDisconnectSurvivesCloseErrors(t *testing.T) {
	eng := &fakeEngine{}
	var opened []*fakeRows
	eng.submitFn = func(stmt *engine.Statement) (engine.RowCursor, error) {
		rows := newFakeRows(intRows(5), true)
		rows.closeErr = fmt.Errorf("already closed")
		opened = append(opened, rows)
		return rows, nil
	}
	h := newTestHandler(t, eng, cfg.SessionConfiguration{})

	executeResult(t, h.Handle(NewExecuteRequest(1, "", "SELECT 1", nil, engine.StatementAny, 2, 0)))
	executeResult(t, h.Handle(NewExecuteRequest(2, "", "SELECT 1", nil, engine.StatementAny, 2, 0)))

	h.OnDisconnect()

	require.Equal(t, 0, h.OpenCursors())
	require.Len(t, opened, 2)
}

func TestHandshake(t *testing.T) {
	h := newTestHandler(t, selectEngine(1), cfg.SessionConfiguration{})

	res := h.Handshake()
	require.True(t, res.Accepted)
	require.Equal(t, version.Current(), res.Version)
}

func TestMetaSchemasThroughHandler(t *testing.T) {
	eng := &fakeEngine{
		caches: []string{"public"},
		types: map[string][]*engine.TypeDescriptor{
			"public": {
				{SchemaName: "PUBLIC", TableName: "USERS"},
				{SchemaName: "PUBLIC", TableName: "ORDERS"},
			},
		},
	}
	h := newTestHandler(t, eng, cfg.SessionConfiguration{})

	resp := h.Handle(NewMetaSchemasRequest(1, "%"))
	require.Equal(t, StatusSuccess, resp.Status)
	res := resp.Result.(*MetaSchemasResult)
	require.Equal(t, []string{"PUBLIC"}, res.Schemas)
}

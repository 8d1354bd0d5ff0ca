// Package protocol implements the server side of a client SQL session: the
// request dispatcher, the cursor registry and lifecycle, query and batch
// execution, and metadata introspection over the engine's type catalog.
package protocol

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/burrowdb/burrow/cfg"
	"github.com/burrowdb/burrow/engine"
	"github.com/burrowdb/burrow/id"
	"github.com/burrowdb/burrow/meta"
	"github.com/burrowdb/burrow/telemetry"
	"github.com/burrowdb/burrow/version"
)

// SessionHandler processes the decoded requests of one client session.
// Multiple requests of the session may be in flight concurrently on
// different goroutines; the registry and gate carry all shared state.
type SessionHandler struct {
	sessionID uint64
	engine    engine.QueryEngine
	gate      *BusyGate
	ids       *id.Generator
	cursors   *CursorRegistry
	meta      *meta.Resolver
	conf      cfg.SessionConfiguration
	log       zerolog.Logger
}

// NewSessionHandler creates a handler for one client session. The gate and
// id generator are node-wide and shared across sessions; the session
// configuration is immutable from here on.
func NewSessionHandler(sessionID uint64, eng engine.QueryEngine, gate *BusyGate,
	ids *id.Generator, conf cfg.SessionConfiguration) *SessionHandler {
	return &SessionHandler{
		sessionID: sessionID,
		engine:    eng,
		gate:      gate,
		ids:       ids,
		cursors:   NewCursorRegistry(),
		meta:      meta.NewResolver(eng),
		conf:      conf,
		log:       log.With().Uint64("session_id", sessionID).Logger(),
	}
}

// SessionID returns the id assigned by the transport layer.
func (h *SessionHandler) SessionID() uint64 { return h.sessionID }

// OpenCursors returns the number of currently open cursors.
func (h *SessionHandler) OpenCursors() int { return h.cursors.Count() }

// Handle processes one request and always returns a well-formed response;
// no failure escapes uninterpreted.
func (h *SessionHandler) Handle(req Request) *Response {
	if req == nil {
		return failed("Failed to handle request: empty request")
	}

	if !h.gate.Enter() {
		return failed("Failed to handle request because node is stopping.")
	}
	defer h.gate.Leave()

	start := time.Now()
	resp := h.dispatch(req)

	status := "success"
	if resp.Status != StatusSuccess {
		status = "failed"
	}
	typeName := requestTypeName(req.Type())
	telemetry.RequestsTotal.With(typeName, status).Inc()
	telemetry.RequestDurationSeconds.With(typeName).Observe(time.Since(start).Seconds())

	return resp
}

func (h *SessionHandler) dispatch(req Request) *Response {
	switch req := req.(type) {
	case *ExecuteRequest:
		return h.executeQuery(req)
	case *FetchRequest:
		return h.fetchQuery(req)
	case *CloseRequest:
		return h.closeQuery(req)
	case *QueryMetaRequest:
		return h.getQueryMeta(req)
	case *BatchExecuteRequest:
		return h.executeBatch(req)
	case *MetaTablesRequest:
		return h.getTablesMeta(req)
	case *MetaColumnsRequest:
		return h.getColumnsMeta(req)
	case *MetaIndexesRequest:
		return h.getIndexesMeta(req)
	case *MetaParamsRequest:
		return h.getParamsMeta(req)
	case *MetaPrimaryKeysRequest:
		return h.getPrimaryKeys(req)
	case *MetaSchemasRequest:
		return h.getSchemas(req)
	default:
		return failed(fmt.Sprintf("Unsupported request [type=%d]", req.Type()))
	}
}

// HandleFailure converts a transport-reported failure into a response.
func (h *SessionHandler) HandleFailure(err error) *Response {
	return failed(err.Error())
}

// Handshake returns the one-time connection-setup acknowledgment.
func (h *SessionHandler) Handshake() HandshakeResult {
	return HandshakeResult{Accepted: true, Version: version.Current()}
}

// OnDisconnect closes every open cursor of the session. Invoked by the
// transport layer when the connection ends, for any reason; best-effort,
// one bad cursor cannot block closing the rest.
func (h *SessionHandler) OnDisconnect() {
	if !h.gate.Enter() {
		return
	}
	defer h.gate.Leave()

	h.sweepCursors()
}

// sweepCursors force-closes all registered cursors, bypassing the gate.
// Used by OnDisconnect and by node shutdown after the gate has closed.
func (h *SessionHandler) sweepCursors() {
	removed := h.cursors.RemoveAll()
	for _, cur := range removed {
		if err := cur.Close(); err != nil {
			h.log.Warn().Err(err).Uint64("cursor_id", cur.ID()).
				Msg("Failed to close cursor on disconnect")
		}
	}
	telemetry.OpenCursors.Sub(float64(len(removed)))
}

func (h *SessionHandler) executeQuery(req *ExecuteRequest) *Response {
	cursorCnt := h.cursors.Count()

	if max := h.conf.MaxOpenCursors; max > 0 && cursorCnt >= max {
		telemetry.CursorsRejectedTotal.Inc()
		return failed(fmt.Sprintf("Too many open cursors (either close other open cursors "+
			"or increase the limit through session.max_open_cursors) "+
			"[maximum=%d, current=%d]", max, cursorCnt))
	}

	// The id is burned even if execution fails below; ids are never
	// reused or compared for gaps.
	cursorID := h.ids.NextID()

	if req.PageSize <= 0 {
		return failed(fmt.Sprintf("Invalid fetch size: [fetchSize=%d]", req.PageSize))
	}

	schema := req.Schema
	if schema == "" {
		schema = engine.DefaultSchema
	}

	stmt := &engine.Statement{
		SQL:      req.SQL,
		Args:     req.Args,
		Schema:   schema,
		PageSize: req.PageSize,
		Type:     req.ExpectedType,
		Flags:    h.sessionFlags(),
	}

	rows, err := h.engine.Submit(stmt)
	if err != nil {
		return h.executeFailure(req, cursorID, nil, err)
	}

	cur := newCursor(cursorID, req.PageSize, req.MaxRows, rows)

	var res *ExecuteResult

	if cur.IsQuery() {
		page, err := cur.FetchPage()
		if err != nil {
			return h.executeFailure(req, cursorID, cur, err)
		}
		res = &ExecuteResult{
			CursorID: cursorID,
			IsQuery:  true,
			Rows:     page,
			Last:     !cur.HasNext(),
		}
	} else {
		count, err := h.fetchUpdateCount(cur)
		if err != nil {
			// Internal contract violation, not a client error.
			h.log.Error().Err(err).Uint64("req_id", req.RequestID()).Str("sql", req.SQL).
				Msg("Invalid result set for non-query statement")
			return h.executeFailure(req, cursorID, cur, err)
		}
		res = &ExecuteResult{
			CursorID:    cursorID,
			IsQuery:     false,
			Last:        true,
			UpdateCount: count,
		}
	}

	if res.Last && (!res.IsQuery || h.conf.AutoCloseCursors) {
		if err := cur.Close(); err != nil {
			return h.executeFailure(req, cursorID, nil, err)
		}
	} else {
		h.cursors.Insert(cur)
		telemetry.CursorsOpenedTotal.Inc()
		telemetry.OpenCursors.Inc()
	}

	return ok(res)
}

// executeFailure is the single cleanup path for a failed Execute: any
// partially registered cursor for the id is discarded, the failure is
// logged with the request context, and a FAILED response is returned.
func (h *SessionHandler) executeFailure(req *ExecuteRequest, cursorID uint64,
	cur *Cursor, err error) *Response {
	if _, found := h.cursors.Remove(cursorID); found {
		telemetry.OpenCursors.Dec()
	}

	if cur != nil {
		if closeErr := cur.Close(); closeErr != nil {
			h.log.Warn().Err(closeErr).Uint64("cursor_id", cursorID).
				Msg("Failed to close cursor after execution failure")
		}
	}

	h.log.Error().Err(err).
		Uint64("req_id", req.RequestID()).
		Str("schema", req.Schema).
		Str("sql", req.SQL).
		Msg("Failed to execute SQL statement")

	return failed(err.Error())
}

// fetchUpdateCount reads the single-cell affected-row count of a DML-shaped
// cursor. Any other shape is a broken engine contract.
func (h *SessionHandler) fetchUpdateCount(cur *Cursor) (int64, error) {
	page, err := cur.FetchPage()
	if err != nil {
		return 0, err
	}
	if len(page) != 1 || len(page[0]) != 1 {
		return 0, fmt.Errorf("unexpected update result shape: %d rows", len(page))
	}
	count, ok := page[0][0].(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected update count type %T", page[0][0])
	}
	return count, nil
}

func (h *SessionHandler) fetchQuery(req *FetchRequest) *Response {
	cur, found := h.cursors.Get(req.CursorID)
	if !found {
		return failed(fmt.Sprintf("Failed to find query cursor with ID: %d", req.CursorID))
	}

	if req.PageSize <= 0 {
		return failed(fmt.Sprintf("Invalid fetch size: [fetchSize=%d]", req.PageSize))
	}

	cur.SetPageSize(req.PageSize)

	page, err := cur.FetchPage()
	if err != nil {
		h.log.Error().Err(err).Uint64("req_id", req.RequestID()).
			Uint64("cursor_id", req.CursorID).Msg("Failed to fetch query result")
		return failed(err.Error())
	}

	res := &FetchResult{Rows: page, Last: !cur.HasNext()}

	if res.Last && (!cur.IsQuery() || h.conf.AutoCloseCursors) {
		if _, found := h.cursors.Remove(req.CursorID); found {
			telemetry.OpenCursors.Dec()
		}

		if err := cur.Close(); err != nil {
			h.log.Error().Err(err).Uint64("req_id", req.RequestID()).
				Uint64("cursor_id", req.CursorID).Msg("Failed to close exhausted cursor")
			return failed(err.Error())
		}
	}

	return ok(res)
}

func (h *SessionHandler) closeQuery(req *CloseRequest) *Response {
	cur, found := h.cursors.Remove(req.CursorID)
	if !found {
		return failed(fmt.Sprintf("Failed to find query cursor with ID: %d", req.CursorID))
	}

	telemetry.OpenCursors.Dec()

	if err := cur.Close(); err != nil {
		h.log.Error().Err(err).Uint64("req_id", req.RequestID()).
			Uint64("cursor_id", req.CursorID).Msg("Failed to close query cursor")
		return failed(err.Error())
	}

	return ok(nil)
}

func (h *SessionHandler) getQueryMeta(req *QueryMetaRequest) *Response {
	cur, found := h.cursors.Get(req.CursorID)
	if !found {
		return failed(fmt.Sprintf("Failed to find query with ID: %d", req.CursorID))
	}

	return ok(&QueryMetaResult{CursorID: req.CursorID, Columns: cur.Columns()})
}

func (h *SessionHandler) executeBatch(req *BatchExecuteRequest) *Response {
	schema := req.Schema
	if schema == "" {
		schema = engine.DefaultSchema
	}

	updCnts := make([]int64, 0, len(req.Queries))

	// An entry with empty SQL reuses the last non-empty SQL text seen in
	// this batch; drivers rely on it for repeated statements with varying
	// arguments.
	var sql string

	for _, q := range req.Queries {
		if q.SQL != "" {
			sql = q.SQL
		}

		count, err := h.executeBatchStatement(schema, sql, q.Args)
		if err != nil {
			telemetry.BatchStatementsTotal.With("failed").Inc()

			h.log.Error().Err(err).
				Uint64("req_id", req.RequestID()).
				Str("schema", req.Schema).
				Str("sql", sql).
				Int("succeeded", len(updCnts)).
				Msg("Failed to execute batch statement")

			return &Response{
				Status: StatusFailed,
				Error:  err.Error(),
				Result: &BatchExecuteResult{
					UpdateCounts: updCnts,
					Status:       StatusFailed,
					Error:        err.Error(),
				},
			}
		}

		telemetry.BatchStatementsTotal.With("success").Inc()
		updCnts = append(updCnts, count)
	}

	return ok(&BatchExecuteResult{UpdateCounts: updCnts, Status: StatusSuccess})
}

func (h *SessionHandler) executeBatchStatement(schema, sql string, args []any) (int64, error) {
	stmt := &engine.Statement{
		SQL:    sql,
		Args:   args,
		Schema: schema,
		Type:   engine.StatementUpdate,
		Flags:  h.sessionFlags(),
	}

	rows, err := h.engine.Submit(stmt)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	if rows.IsQuery() {
		// Broken engine contract: a forced-DML statement produced rows.
		h.log.Error().Str("sql", sql).Msg("Non-query batch statement returned a query result")
		return 0, fmt.Errorf("unexpected query result for batch statement: %s", sql)
	}

	page, err := rows.FetchPage(2)
	if err != nil {
		return 0, err
	}
	if len(page) != 1 || len(page[0]) != 1 {
		return 0, fmt.Errorf("unexpected update result shape: %d rows", len(page))
	}
	count, ok := page[0][0].(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected update count type %T", page[0][0])
	}
	return count, nil
}

func (h *SessionHandler) getTablesMeta(req *MetaTablesRequest) *Response {
	tables, err := h.meta.Tables(req.SchemaPattern, req.TablePattern)
	if err != nil {
		return h.metaFailure(req, "tables", err)
	}
	return ok(&MetaTablesResult{Tables: tables})
}

func (h *SessionHandler) getColumnsMeta(req *MetaColumnsRequest) *Response {
	columns, err := h.meta.Columns(req.SchemaPattern, req.TablePattern, req.ColumnPattern)
	if err != nil {
		return h.metaFailure(req, "columns", err)
	}
	return ok(&MetaColumnsResult{Columns: columns})
}

func (h *SessionHandler) getIndexesMeta(req *MetaIndexesRequest) *Response {
	indexes, err := h.meta.Indexes(req.SchemaPattern, req.TablePattern)
	if err != nil {
		return h.metaFailure(req, "indexes", err)
	}
	return ok(&MetaIndexesResult{Indexes: indexes})
}

func (h *SessionHandler) getParamsMeta(req *MetaParamsRequest) *Response {
	params, err := h.meta.Params(req.Schema, req.SQL)
	if err != nil {
		return h.metaFailure(req, "parameters", err)
	}
	return ok(&MetaParamsResult{Params: params})
}

func (h *SessionHandler) getPrimaryKeys(req *MetaPrimaryKeysRequest) *Response {
	keys, err := h.meta.PrimaryKeys(req.SchemaPattern, req.TablePattern)
	if err != nil {
		return h.metaFailure(req, "primary keys", err)
	}
	return ok(&MetaPrimaryKeysResult{PrimaryKeys: keys})
}

func (h *SessionHandler) getSchemas(req *MetaSchemasRequest) *Response {
	schemas, err := h.meta.Schemas(req.SchemaPattern)
	if err != nil {
		return h.metaFailure(req, "schemas", err)
	}
	return ok(&MetaSchemasResult{Schemas: schemas})
}

func (h *SessionHandler) metaFailure(req Request, kind string, err error) *Response {
	h.log.Error().Err(err).Uint64("req_id", req.RequestID()).
		Msg("Failed to get " + kind + " metadata")
	return failed(err.Error())
}

func (h *SessionHandler) sessionFlags() engine.Flags {
	return engine.Flags{
		DistributedJoins: h.conf.DistributedJoins,
		EnforceJoinOrder: h.conf.EnforceJoinOrder,
		Collocated:       h.conf.Collocated,
		ReplicatedOnly:   h.conf.ReplicatedOnly,
		Lazy:             h.conf.Lazy,
	}
}

func requestTypeName(t RequestType) string {
	switch t {
	case ReqExecute:
		return "execute"
	case ReqFetch:
		return "fetch"
	case ReqClose:
		return "close"
	case ReqQueryMeta:
		return "query_meta"
	case ReqBatchExecute:
		return "batch_execute"
	case ReqMetaTables:
		return "meta_tables"
	case ReqMetaColumns:
		return "meta_columns"
	case ReqMetaIndexes:
		return "meta_indexes"
	case ReqMetaParams:
		return "meta_params"
	case ReqMetaPrimaryKeys:
		return "meta_primary_keys"
	case ReqMetaSchemas:
		return "meta_schemas"
	default:
		return "unknown"
	}
}

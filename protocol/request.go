package protocol

import "github.com/burrowdb/burrow/engine"

// RequestType identifies a client request kind. Values match the wire
// protocol's command codes.
type RequestType byte

const (
	ReqExecute         RequestType = 2
	ReqFetch           RequestType = 3
	ReqClose           RequestType = 4
	ReqQueryMeta       RequestType = 5
	ReqBatchExecute    RequestType = 6
	ReqMetaTables      RequestType = 7
	ReqMetaColumns     RequestType = 8
	ReqMetaIndexes     RequestType = 9
	ReqMetaParams      RequestType = 10
	ReqMetaPrimaryKeys RequestType = 11
	ReqMetaSchemas     RequestType = 12
)

// Request is a decoded client request. The set of implementations is closed:
// the unexported marker method keeps other packages from adding kinds, so
// the dispatcher's type switch covers every possible request.
type Request interface {
	RequestID() uint64
	Type() RequestType

	isRequest()
}

// request carries the id every request kind shares. The id is used for
// diagnostics only; responses are correlated by the transport layer.
type request struct {
	ID uint64
}

func (r *request) RequestID() uint64 { return r.ID }
func (r *request) isRequest()        {}

// ExecuteRequest runs one SQL statement and opens a cursor over its result.
type ExecuteRequest struct {
	request

	Schema       string
	SQL          string
	Args         []any
	ExpectedType engine.StatementType
	PageSize     int
	MaxRows      int
}

func (r *ExecuteRequest) Type() RequestType { return ReqExecute }

// NewExecuteRequest constructs an ExecuteRequest with the given request id.
func NewExecuteRequest(reqID uint64, schema, sql string, args []any,
	expectedType engine.StatementType, pageSize, maxRows int) *ExecuteRequest {
	return &ExecuteRequest{
		request:      request{ID: reqID},
		Schema:       schema,
		SQL:          sql,
		Args:         args,
		ExpectedType: expectedType,
		PageSize:     pageSize,
		MaxRows:      maxRows,
	}
}

// FetchRequest pulls the next page from an open cursor.
type FetchRequest struct {
	request

	CursorID uint64
	PageSize int
}

func (r *FetchRequest) Type() RequestType { return ReqFetch }

// NewFetchRequest constructs a FetchRequest with the given request id.
func NewFetchRequest(reqID, cursorID uint64, pageSize int) *FetchRequest {
	return &FetchRequest{request: request{ID: reqID}, CursorID: cursorID, PageSize: pageSize}
}

// CloseRequest releases an open cursor.
type CloseRequest struct {
	request

	CursorID uint64
}

func (r *CloseRequest) Type() RequestType { return ReqClose }

// NewCloseRequest constructs a CloseRequest with the given request id.
func NewCloseRequest(reqID, cursorID uint64) *CloseRequest {
	return &CloseRequest{request: request{ID: reqID}, CursorID: cursorID}
}

// QueryMetaRequest reads the column metadata of an open cursor.
type QueryMetaRequest struct {
	request

	CursorID uint64
}

func (r *QueryMetaRequest) Type() RequestType { return ReqQueryMeta }

// NewQueryMetaRequest constructs a QueryMetaRequest with the given request id.
func NewQueryMetaRequest(reqID, cursorID uint64) *QueryMetaRequest {
	return &QueryMetaRequest{request: request{ID: reqID}, CursorID: cursorID}
}

// BatchQuery is one entry of a batch. An empty SQL reuses the most recent
// non-empty SQL text of an earlier entry in the same batch.
type BatchQuery struct {
	SQL  string
	Args []any
}

// BatchExecuteRequest runs an ordered sequence of DML statements.
type BatchExecuteRequest struct {
	request

	Schema  string
	Queries []BatchQuery
}

func (r *BatchExecuteRequest) Type() RequestType { return ReqBatchExecute }

// NewBatchExecuteRequest constructs a BatchExecuteRequest with the given
// request id.
func NewBatchExecuteRequest(reqID uint64, schema string, queries []BatchQuery) *BatchExecuteRequest {
	return &BatchExecuteRequest{request: request{ID: reqID}, Schema: schema, Queries: queries}
}

// MetaTablesRequest enumerates tables matching the given patterns.
type MetaTablesRequest struct {
	request

	SchemaPattern string
	TablePattern  string
}

func (r *MetaTablesRequest) Type() RequestType { return ReqMetaTables }

// NewMetaTablesRequest constructs a MetaTablesRequest.
func NewMetaTablesRequest(reqID uint64, schemaPtrn, tablePtrn string) *MetaTablesRequest {
	return &MetaTablesRequest{request: request{ID: reqID}, SchemaPattern: schemaPtrn, TablePattern: tablePtrn}
}

// MetaColumnsRequest enumerates columns matching the given patterns.
type MetaColumnsRequest struct {
	request

	SchemaPattern string
	TablePattern  string
	ColumnPattern string
}

func (r *MetaColumnsRequest) Type() RequestType { return ReqMetaColumns }

// NewMetaColumnsRequest constructs a MetaColumnsRequest.
func NewMetaColumnsRequest(reqID uint64, schemaPtrn, tablePtrn, colPtrn string) *MetaColumnsRequest {
	return &MetaColumnsRequest{
		request:       request{ID: reqID},
		SchemaPattern: schemaPtrn,
		TablePattern:  tablePtrn,
		ColumnPattern: colPtrn,
	}
}

// MetaIndexesRequest enumerates indexes of tables matching the patterns.
type MetaIndexesRequest struct {
	request

	SchemaPattern string
	TablePattern  string
}

func (r *MetaIndexesRequest) Type() RequestType { return ReqMetaIndexes }

// NewMetaIndexesRequest constructs a MetaIndexesRequest.
func NewMetaIndexesRequest(reqID uint64, schemaPtrn, tablePtrn string) *MetaIndexesRequest {
	return &MetaIndexesRequest{request: request{ID: reqID}, SchemaPattern: schemaPtrn, TablePattern: tablePtrn}
}

// MetaParamsRequest reads parameter metadata of a statement without
// executing it.
type MetaParamsRequest struct {
	request

	Schema string
	SQL    string
}

func (r *MetaParamsRequest) Type() RequestType { return ReqMetaParams }

// NewMetaParamsRequest constructs a MetaParamsRequest.
func NewMetaParamsRequest(reqID uint64, schema, sql string) *MetaParamsRequest {
	return &MetaParamsRequest{request: request{ID: reqID}, Schema: schema, SQL: sql}
}

// MetaPrimaryKeysRequest enumerates primary keys of matching tables.
type MetaPrimaryKeysRequest struct {
	request

	SchemaPattern string
	TablePattern  string
}

func (r *MetaPrimaryKeysRequest) Type() RequestType { return ReqMetaPrimaryKeys }

// NewMetaPrimaryKeysRequest constructs a MetaPrimaryKeysRequest.
func NewMetaPrimaryKeysRequest(reqID uint64, schemaPtrn, tablePtrn string) *MetaPrimaryKeysRequest {
	return &MetaPrimaryKeysRequest{request: request{ID: reqID}, SchemaPattern: schemaPtrn, TablePattern: tablePtrn}
}

// MetaSchemasRequest enumerates schema names matching the pattern.
type MetaSchemasRequest struct {
	request

	SchemaPattern string
}

func (r *MetaSchemasRequest) Type() RequestType { return ReqMetaSchemas }

// NewMetaSchemasRequest constructs a MetaSchemasRequest.
func NewMetaSchemasRequest(reqID uint64, schemaPtrn string) *MetaSchemasRequest {
	return &MetaSchemasRequest{request: request{ID: reqID}, SchemaPattern: schemaPtrn}
}

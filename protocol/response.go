package protocol

import (
	"github.com/burrowdb/burrow/engine"
	"github.com/burrowdb/burrow/meta"
	"github.com/burrowdb/burrow/version"
)

// Response statuses.
const (
	StatusSuccess byte = 0
	StatusFailed  byte = 1
)

// Response is the uniform reply shape for every request. Exactly one
// Response is produced per Request; the transport layer serializes it.
type Response struct {
	Status byte
	Error  string
	// Result is the typed payload matching the request kind; nil for
	// failures and for successful Close.
	Result any
}

func ok(result any) *Response {
	return &Response{Status: StatusSuccess, Result: result}
}

func failed(msg string) *Response {
	return &Response{Status: StatusFailed, Error: msg}
}

// ExecuteResult is the payload of a successful Execute.
type ExecuteResult struct {
	CursorID uint64
	IsQuery  bool

	// Query-shaped: first page of rows and whether it is the last one.
	Rows [][]any
	Last bool

	// DML-shaped: the affected-row count.
	UpdateCount int64
}

// FetchResult is the payload of a successful Fetch.
type FetchResult struct {
	Rows [][]any
	Last bool
}

// QueryMetaResult carries the column metadata of an open cursor.
type QueryMetaResult struct {
	CursorID uint64
	Columns  []engine.ColumnMeta
}

// BatchExecuteResult reports per-statement update counts. On failure the
// counts cover only the statements that succeeded before the error.
type BatchExecuteResult struct {
	UpdateCounts []int64
	Status       byte
	Error        string
}

// MetaTablesResult carries matching table descriptors.
type MetaTablesResult struct {
	Tables []meta.TableMeta
}

// MetaColumnsResult carries matching column descriptors.
type MetaColumnsResult struct {
	Columns []meta.ColumnMeta
}

// MetaIndexesResult carries matching index descriptors.
type MetaIndexesResult struct {
	Indexes []meta.IndexMeta
}

// MetaParamsResult carries positional parameter metadata.
type MetaParamsResult struct {
	Params []meta.ParameterMeta
}

// MetaPrimaryKeysResult carries matching primary key descriptors.
type MetaPrimaryKeysResult struct {
	PrimaryKeys []meta.PrimaryKeyMeta
}

// MetaSchemasResult carries matching schema names.
type MetaSchemasResult struct {
	Schemas []string
}

// HandshakeResult is the one-time connection-setup acknowledgment.
type HandshakeResult struct {
	Accepted bool
	Version  version.Info
}

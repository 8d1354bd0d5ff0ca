// Package engine defines the boundary between the client session layer and
// the node's SQL query engine, plus an embedded SQLite-backed implementation
// used when the node runs stand-alone.
package engine

// DefaultSchema is used when a request carries an empty schema name.
const DefaultSchema = "PUBLIC"

// StatementType is the expected shape of a statement supplied by the client.
type StatementType int

const (
	// StatementAny lets the engine infer the statement shape.
	StatementAny StatementType = iota
	// StatementSelect forces query semantics; a non-query statement fails.
	StatementSelect
	// StatementUpdate forces DML semantics; the result is an update count.
	StatementUpdate
)

// Flags are session-wide execution hints applied to every statement.
// A single-node engine accepts them but treats distribution hints as no-ops.
type Flags struct {
	DistributedJoins bool
	EnforceJoinOrder bool
	Collocated       bool
	ReplicatedOnly   bool
	Lazy             bool
}

// Statement is one SQL statement prepared for submission.
type Statement struct {
	SQL      string
	Args     []any
	Schema   string
	PageSize int
	Type     StatementType
	Flags    Flags
}

// ColumnMeta describes one column of a query-shaped result.
type ColumnMeta struct {
	Schema   string
	Table    string
	Name     string
	TypeName string
	Nullable bool
}

// RowCursor is a paginated result handle returned by Submit.
// Query-shaped cursors produce result rows; DML-shaped cursors produce a
// single row with a single int64 cell holding the affected-row count.
type RowCursor interface {
	IsQuery() bool
	HasNext() bool
	FetchPage(limit int) ([][]any, error)
	Columns() []ColumnMeta
	Close() error
}

// Field describes one column of a registered queryable type.
type Field struct {
	Name     string
	TypeName string
	Nullable bool
	Key      bool
}

// IndexDescriptor describes one declared index of a queryable type.
type IndexDescriptor struct {
	Name   string
	Fields []string
	Unique bool
}

// TypeDescriptor is one entry of the engine's type catalog: a queryable
// table reachable through a cache.
type TypeDescriptor struct {
	SchemaName string
	TableName  string
	Fields     []Field
	Indexes    []IndexDescriptor
	// KeyFieldName is the declared composite key alias, empty if none.
	KeyFieldName string
}

// ParamMeta describes one statement parameter, in declaration order.
type ParamMeta struct {
	TypeName string
	Nullable bool
}

// QueryEngine is the narrow interface the session layer depends on.
type QueryEngine interface {
	// Submit executes the statement and returns its paginated result.
	Submit(stmt *Statement) (RowCursor, error)

	// PrepareParams prepares the statement without executing it and
	// returns per-parameter metadata in positional order.
	PrepareParams(schema, sql string) ([]ParamMeta, error)

	// PublicCaches lists the names of all publicly visible caches.
	PublicCaches() []string

	// Types returns the queryable type descriptors registered for a cache.
	Types(cacheName string) []*TypeDescriptor
}

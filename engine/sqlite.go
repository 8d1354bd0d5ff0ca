package engine

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

const paramCacheSize = 256

// SQLiteEngine is the embedded QueryEngine implementation. Each attached
// cache is backed by one SQLite database; the cache's tables appear in the
// type catalog under the upper-cased cache name as schema.
type SQLiteEngine struct {
	mu       sync.RWMutex
	caches   map[string]*sql.DB // cache name -> handle
	bySchema map[string]string  // schema name -> cache name

	// Prepared parameter metadata, keyed by schema+SQL. Statements are
	// re-prepared by drivers on every params request, so this is hot.
	paramCache *lru.Cache[string, []ParamMeta]
}

// NewSQLiteEngine creates an engine with no caches attached.
func NewSQLiteEngine() (*SQLiteEngine, error) {
	cache, err := lru.New[string, []ParamMeta](paramCacheSize)
	if err != nil {
		return nil, err
	}

	return &SQLiteEngine{
		caches:     make(map[string]*sql.DB),
		bySchema:   make(map[string]string),
		paramCache: cache,
	}, nil
}

// Attach opens the database file backing a cache and registers its schema.
func (e *SQLiteEngine) Attach(cacheName, dsn string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.caches[cacheName]; exists {
		return fmt.Errorf("cache already attached: %s", cacheName)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return fmt.Errorf("failed to open cache %s: %w", cacheName, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("failed to open cache %s: %w", cacheName, err)
	}

	schema := schemaName(cacheName)
	e.caches[cacheName] = db
	e.bySchema[schema] = cacheName

	log.Info().Str("cache", cacheName).Str("schema", schema).Msg("Cache attached")
	return nil
}

// Close closes every attached cache.
func (e *SQLiteEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var firstErr error
	for name, db := range e.caches {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close cache %s: %w", name, err)
		}
	}
	e.caches = make(map[string]*sql.DB)
	e.bySchema = make(map[string]string)
	return firstErr
}

// schemaName maps a cache name to its SQL schema name.
func schemaName(cacheName string) string {
	return strings.ToUpper(cacheName)
}

func (e *SQLiteEngine) dbForSchema(schema string) (*sql.DB, error) {
	if schema == "" {
		schema = DefaultSchema
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	cacheName, ok := e.bySchema[schema]
	if !ok {
		return nil, fmt.Errorf("schema not found: %s", schema)
	}
	return e.caches[cacheName], nil
}

// Submit executes the statement and returns its row cursor.
// Distribution flags are accepted but are no-ops on a single node.
func (e *SQLiteEngine) Submit(stmt *Statement) (RowCursor, error) {
	db, err := e.dbForSchema(stmt.Schema)
	if err != nil {
		return nil, err
	}

	isQuery := isQuerySQL(stmt.SQL)

	switch stmt.Type {
	case StatementSelect:
		if !isQuery {
			return nil, fmt.Errorf("statement is not query-shaped: %s", stmt.SQL)
		}
	case StatementUpdate:
		if isQuery {
			return nil, fmt.Errorf("statement is not DML-shaped: %s", stmt.SQL)
		}
		isQuery = false
	}

	if isQuery {
		rows, err := db.Query(stmt.SQL, stmt.Args...)
		if err != nil {
			return nil, err
		}
		return newQueryRows(rows)
	}

	res, err := db.Exec(stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	return newUpdateRows(affected), nil
}

// PrepareParams prepares the statement without executing it and reports its
// parameter metadata. SQLite parameters are dynamically typed, so every
// parameter is a nullable ANY.
func (e *SQLiteEngine) PrepareParams(schema, sql string) ([]ParamMeta, error) {
	key := schema + "\x00" + sql
	if cached, ok := e.paramCache.Get(key); ok {
		return cached, nil
	}

	db, err := e.dbForSchema(schema)
	if err != nil {
		return nil, err
	}

	conn, err := db.Conn(context.Background())
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var count int
	err = conn.Raw(func(driverConn any) error {
		sc, ok := driverConn.(*sqlite3.SQLiteConn)
		if !ok {
			return fmt.Errorf("unexpected driver connection type %T", driverConn)
		}
		st, err := sc.Prepare(sql)
		if err != nil {
			return err
		}
		defer st.Close()
		count = st.NumInput()
		return nil
	})
	if err != nil {
		return nil, err
	}

	params := make([]ParamMeta, count)
	for i := range params {
		params[i] = ParamMeta{TypeName: "ANY", Nullable: true}
	}

	e.paramCache.Add(key, params)
	return params, nil
}

// PublicCaches lists attached cache names in sorted order.
func (e *SQLiteEngine) PublicCaches() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.caches))
	for name := range e.caches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Types builds type descriptors for every user table of a cache. Internal
// tables (sqlite_* and __burrow__*) are excluded. Catalog read failures are
// logged and skipped so one broken table cannot hide the rest.
func (e *SQLiteEngine) Types(cacheName string) []*TypeDescriptor {
	e.mu.RLock()
	db, ok := e.caches[cacheName]
	e.mu.RUnlock()
	if !ok {
		return nil
	}

	schema := schemaName(cacheName)

	rows, err := db.Query(
		"SELECT name FROM sqlite_master WHERE type='table' " +
			"AND name NOT LIKE 'sqlite_%' AND name NOT LIKE '__burrow__%' ORDER BY name")
	if err != nil {
		log.Warn().Err(err).Str("cache", cacheName).Msg("Failed to list tables")
		return nil
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			log.Warn().Err(err).Str("cache", cacheName).Msg("Failed to scan table name")
			continue
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		log.Warn().Err(err).Str("cache", cacheName).Msg("Failed to list tables")
		return nil
	}

	descs := make([]*TypeDescriptor, 0, len(tables))
	for _, table := range tables {
		desc, err := e.describeTable(db, schema, table)
		if err != nil {
			log.Warn().Err(err).Str("cache", cacheName).Str("table", table).
				Msg("Failed to describe table")
			continue
		}
		descs = append(descs, desc)
	}
	return descs
}

func (e *SQLiteEngine) describeTable(db *sql.DB, schema, table string) (*TypeDescriptor, error) {
	desc := &TypeDescriptor{
		SchemaName: schema,
		TableName:  strings.ToUpper(table),
	}

	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, declType string
		var notNull, pk int
		var dflt sql.NullString

		if err := rows.Scan(&cid, &name, &declType, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}

		typeName := strings.ToUpper(declType)
		if typeName == "" {
			typeName = "ANY"
		}

		desc.Fields = append(desc.Fields, Field{
			Name:     strings.ToUpper(name),
			TypeName: typeName,
			Nullable: notNull == 0,
			Key:      pk > 0,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	indexes, err := e.describeIndexes(db, table)
	if err != nil {
		return nil, err
	}
	desc.Indexes = indexes

	return desc, nil
}

func (e *SQLiteEngine) describeIndexes(db *sql.DB, table string) ([]IndexDescriptor, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA index_list(%q)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type indexInfo struct {
		name   string
		unique bool
	}
	var infos []indexInfo

	for rows.Next() {
		var seq, unique, partial int
		var name, origin string

		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			return nil, err
		}
		// Implicit PK indexes are surfaced through key fields instead.
		if strings.HasPrefix(name, "sqlite_autoindex_") {
			continue
		}
		infos = append(infos, indexInfo{name: name, unique: unique == 1})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	indexes := make([]IndexDescriptor, 0, len(infos))
	for _, info := range infos {
		fields, err := e.indexFields(db, info.name)
		if err != nil {
			return nil, err
		}
		indexes = append(indexes, IndexDescriptor{
			Name:   strings.ToUpper(info.name),
			Fields: fields,
			Unique: info.unique,
		})
	}
	return indexes, nil
}

func (e *SQLiteEngine) indexFields(db *sql.DB, index string) ([]string, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA index_info(%q)", index))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fields []string
	for rows.Next() {
		var seqno, cid int
		var name sql.NullString

		if err := rows.Scan(&seqno, &cid, &name); err != nil {
			return nil, err
		}
		if name.Valid {
			fields = append(fields, strings.ToUpper(name.String))
		}
	}
	return fields, rows.Err()
}

// isQuerySQL classifies a statement as query-shaped by its leading keyword.
func isQuerySQL(sqlText string) bool {
	trimmed := strings.TrimSpace(sqlText)
	for _, prefix := range []string{"SELECT", "VALUES", "WITH", "PRAGMA", "EXPLAIN"} {
		if len(trimmed) >= len(prefix) && strings.EqualFold(trimmed[:len(prefix)], prefix) {
			return true
		}
	}
	return false
}

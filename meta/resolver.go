package meta

import (
	"sort"

	"github.com/burrowdb/burrow/engine"
)

// TableType is the fixed type label reported for every catalog table.
const TableType = "TABLE"

// ImplicitKeyColumn is reported when a table declares no key fields: the
// whole object is the key.
const ImplicitKeyColumn = "_KEY"

// TableMeta identifies one catalog table.
type TableMeta struct {
	Schema    string
	Table     string
	TableType string
}

// ColumnMeta identifies one column of a catalog table.
type ColumnMeta struct {
	Schema   string
	Table    string
	Column   string
	TypeName string
}

// IndexMeta identifies one declared index.
type IndexMeta struct {
	Schema string
	Table  string
	Name   string
	Fields []string
	Unique bool
}

// PrimaryKeyMeta identifies one table's primary key constraint.
type PrimaryKeyMeta struct {
	Schema string
	Table  string
	Name   string
	Fields []string
}

// ParameterMeta describes one statement parameter; positions are 1-indexed.
type ParameterMeta struct {
	Position int
	TypeName string
	Nullable bool
}

// Resolver enumerates the engine's type catalog. The same logical table may
// be reachable through multiple caches, so every enumeration deduplicates
// by identity before returning.
type Resolver struct {
	engine engine.QueryEngine
}

// NewResolver creates a resolver over the given engine.
func NewResolver(eng engine.QueryEngine) *Resolver {
	return &Resolver{engine: eng}
}

// forEachMatch walks every type descriptor whose schema and table names
// match the patterns.
func (r *Resolver) forEachMatch(schemaPtrn, tablePtrn string, fn func(*engine.TypeDescriptor)) {
	for _, cacheName := range r.engine.PublicCaches() {
		for _, table := range r.engine.Types(cacheName) {
			if !Matches(table.SchemaName, schemaPtrn) {
				continue
			}
			if !Matches(table.TableName, tablePtrn) {
				continue
			}
			fn(table)
		}
	}
}

// Tables lists matching tables.
func (r *Resolver) Tables(schemaPtrn, tablePtrn string) ([]TableMeta, error) {
	seen := make(map[TableMeta]struct{})
	var tables []TableMeta

	r.forEachMatch(schemaPtrn, tablePtrn, func(table *engine.TypeDescriptor) {
		tm := TableMeta{Schema: table.SchemaName, Table: table.TableName, TableType: TableType}
		if _, dup := seen[tm]; dup {
			return
		}
		seen[tm] = struct{}{}
		tables = append(tables, tm)
	})

	sort.Slice(tables, func(i, j int) bool {
		if tables[i].Schema != tables[j].Schema {
			return tables[i].Schema < tables[j].Schema
		}
		return tables[i].Table < tables[j].Table
	})
	return tables, nil
}

// Columns lists matching columns of matching tables.
func (r *Resolver) Columns(schemaPtrn, tablePtrn, columnPtrn string) ([]ColumnMeta, error) {
	seen := make(map[ColumnMeta]struct{})
	var columns []ColumnMeta

	r.forEachMatch(schemaPtrn, tablePtrn, func(table *engine.TypeDescriptor) {
		for _, field := range table.Fields {
			if !Matches(field.Name, columnPtrn) {
				continue
			}
			cm := ColumnMeta{
				Schema:   table.SchemaName,
				Table:    table.TableName,
				Column:   field.Name,
				TypeName: field.TypeName,
			}
			if _, dup := seen[cm]; dup {
				continue
			}
			seen[cm] = struct{}{}
			columns = append(columns, cm)
		}
	})

	sort.Slice(columns, func(i, j int) bool {
		a, b := columns[i], columns[j]
		if a.Schema != b.Schema {
			return a.Schema < b.Schema
		}
		if a.Table != b.Table {
			return a.Table < b.Table
		}
		return a.Column < b.Column
	})
	return columns, nil
}

// Indexes lists declared indexes of matching tables.
func (r *Resolver) Indexes(schemaPtrn, tablePtrn string) ([]IndexMeta, error) {
	type indexKey struct {
		schema, table, name string
	}
	seen := make(map[indexKey]struct{})
	var indexes []IndexMeta

	r.forEachMatch(schemaPtrn, tablePtrn, func(table *engine.TypeDescriptor) {
		for _, idx := range table.Indexes {
			key := indexKey{schema: table.SchemaName, table: table.TableName, name: idx.Name}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			indexes = append(indexes, IndexMeta{
				Schema: table.SchemaName,
				Table:  table.TableName,
				Name:   idx.Name,
				Fields: idx.Fields,
				Unique: idx.Unique,
			})
		}
	})

	sort.Slice(indexes, func(i, j int) bool {
		a, b := indexes[i], indexes[j]
		if a.Schema != b.Schema {
			return a.Schema < b.Schema
		}
		if a.Table != b.Table {
			return a.Table < b.Table
		}
		return a.Name < b.Name
	})
	return indexes, nil
}

// PrimaryKeys lists primary key constraints of matching tables. A table
// with no key-marked fields reports the implicit whole-object key column;
// a table without a declared key field name gets a synthesized constraint
// name.
func (r *Resolver) PrimaryKeys(schemaPtrn, tablePtrn string) ([]PrimaryKeyMeta, error) {
	type pkKey struct {
		schema, table, name string
	}
	seen := make(map[pkKey]struct{})
	var keys []PrimaryKeyMeta

	r.forEachMatch(schemaPtrn, tablePtrn, func(table *engine.TypeDescriptor) {
		var fields []string
		for _, field := range table.Fields {
			if field.Key {
				fields = append(fields, field.Name)
			}
		}

		keyName := table.KeyFieldName
		if keyName == "" {
			keyName = "PK_" + table.SchemaName + "_" + table.TableName
		}

		if len(fields) == 0 {
			fields = []string{ImplicitKeyColumn}
		}

		key := pkKey{schema: table.SchemaName, table: table.TableName, name: keyName}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		keys = append(keys, PrimaryKeyMeta{
			Schema: table.SchemaName,
			Table:  table.TableName,
			Name:   keyName,
			Fields: fields,
		})
	})

	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Schema != b.Schema {
			return a.Schema < b.Schema
		}
		return a.Table < b.Table
	})
	return keys, nil
}

// Schemas lists the distinct schema names among matching tables.
func (r *Resolver) Schemas(schemaPtrn string) ([]string, error) {
	seen := make(map[string]struct{})

	for _, cacheName := range r.engine.PublicCaches() {
		for _, table := range r.engine.Types(cacheName) {
			if Matches(table.SchemaName, schemaPtrn) {
				seen[table.SchemaName] = struct{}{}
			}
		}
	}

	schemas := make([]string, 0, len(seen))
	for schema := range seen {
		schemas = append(schemas, schema)
	}
	sort.Strings(schemas)
	return schemas, nil
}

// Params prepares the statement without executing it and reports its
// parameter metadata, 1-indexed by position.
func (r *Resolver) Params(schema, sql string) ([]ParameterMeta, error) {
	params, err := r.engine.PrepareParams(schema, sql)
	if err != nil {
		return nil, err
	}

	result := make([]ParameterMeta, len(params))
	for i, p := range params {
		result[i] = ParameterMeta{
			Position: i + 1,
			TypeName: p.TypeName,
			Nullable: p.Nullable,
		}
	}
	return result, nil
}

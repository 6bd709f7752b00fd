// Package schema models the database schema consumed by the pipeline: the
// provider contract, the snapshot types, and the per-request validation
// catalog. The core never caches schema; a catalog is rebuilt from the
// provider on every call.
package schema

import "strings"

// Dialect identifies the target SQL engine variant.
type Dialect string

const (
	DialectSQLServer Dialect = "sqlserver"
	DialectPostgres  Dialect = "postgres"
	DialectSQLite    Dialect = "sqlite"
)

// ParseDialect normalizes a dialect tag; unrecognized values map to the
// empty Dialect so callers can fall through to their default.
func ParseDialect(s string) Dialect {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sqlserver", "mssql":
		return DialectSQLServer
	case "postgres", "postgresql":
		return DialectPostgres
	case "sqlite", "sqlite3":
		return DialectSQLite
	}
	return ""
}

// ColumnDef describes one column of a provider table.
type ColumnDef struct {
	Name        string
	Type        string
	Nullable    bool
	PK          bool
	Identity    bool
	Description string
}

// TableDef describes one provider table with its ordered columns.
type TableDef struct {
	Name        string
	Schema      string
	FullName    string
	Description string
	Synonyms    []string
	Columns     []ColumnDef
}

// DatabaseSchema is a provider snapshot: dialect tag plus table list.
type DatabaseSchema struct {
	Dialect Dialect
	Tables  []TableDef
}

// Provider exposes a read-only schema snapshot. Implementations may
// re-fetch on every call; the engine treats each Snapshot as fresh.
type Provider interface {
	Snapshot() (*DatabaseSchema, error)
}

// Table returns the table matching a full or short name, or nil.
func (s *DatabaseSchema) Table(name string) *TableDef {
	target := strings.ToLower(strings.TrimSpace(name))
	for i := range s.Tables {
		t := &s.Tables[i]
		if strings.ToLower(t.FullName) == target || strings.ToLower(t.Name) == target {
			return t
		}
	}
	return nil
}

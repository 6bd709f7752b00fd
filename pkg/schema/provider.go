package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// rawColumn tolerates the key spellings seen across snapshot exporters:
// name/column_name, type/data_type, nullable/is_nullable, pk/is_primary_key,
// identity/is_identity.
type rawColumn struct {
	Name         string `json:"name"`
	ColumnName   string `json:"column_name"`
	Type         string `json:"type"`
	DataType     string `json:"data_type"`
	Nullable     *bool  `json:"nullable"`
	IsNullable   *bool  `json:"is_nullable"`
	PK           bool   `json:"pk"`
	IsPrimaryKey bool   `json:"is_primary_key"`
	Identity     bool   `json:"identity"`
	IsIdentity   bool   `json:"is_identity"`
	Description  string `json:"description"`
}

type rawTable struct {
	Name        string      `json:"name"`
	TableName   string      `json:"table_name"`
	Schema      string      `json:"schema"`
	SchemaName  string      `json:"schema_name"`
	Description string      `json:"description"`
	Synonyms    []string    `json:"synonyms"`
	Columns     []rawColumn `json:"columns"`
}

type rawSnapshot struct {
	Dialect string     `json:"dialect"`
	Engine  string     `json:"engine"`
	Tables  []rawTable `json:"tables"`
	Schemas []struct {
		Tables []rawTable `json:"tables"`
	} `json:"schemas"`
}

// FileProvider loads a JSON schema snapshot from disk. The file is re-read
// on every Snapshot call so external refreshes are picked up per request.
type FileProvider struct {
	path string
}

// NewFileProvider returns a provider backed by the given snapshot file.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

// Snapshot parses the snapshot file into a DatabaseSchema.
func (p *FileProvider) Snapshot() (*DatabaseSchema, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("read schema snapshot: %w", err)
	}
	return ParseSnapshot(data)
}

// ParseSnapshot decodes snapshot JSON, accepting both the flat
// {dialect, tables} shape and the nested {schemas:[{tables}]} shape.
func ParseSnapshot(data []byte) (*DatabaseSchema, error) {
	var raw rawSnapshot
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode schema snapshot: %w", err)
	}

	dialectTag := raw.Dialect
	if dialectTag == "" {
		dialectTag = raw.Engine
	}

	tables := raw.Tables
	if len(raw.Schemas) > 0 {
		tables = raw.Schemas[0].Tables
	}

	out := &DatabaseSchema{Dialect: ParseDialect(dialectTag)}
	for _, t := range tables {
		name := firstNonEmpty(t.Name, t.TableName)
		if name == "" {
			continue
		}
		schemaName := firstNonEmpty(t.Schema, t.SchemaName)
		if schemaName == "" {
			schemaName = "dbo"
		}
		def := TableDef{
			Name:        strings.TrimSpace(name),
			Schema:      strings.TrimSpace(schemaName),
			FullName:    strings.TrimSpace(schemaName) + "." + strings.TrimSpace(name),
			Description: t.Description,
			Synonyms:    t.Synonyms,
		}
		for _, c := range t.Columns {
			cname := firstNonEmpty(c.Name, c.ColumnName)
			if cname == "" {
				continue
			}
			def.Columns = append(def.Columns, ColumnDef{
				Name:        strings.TrimSpace(cname),
				Type:        strings.TrimSpace(firstNonEmpty(c.Type, c.DataType)),
				Nullable:    nullableOf(c),
				PK:          c.PK || c.IsPrimaryKey,
				Identity:    c.Identity || c.IsIdentity,
				Description: c.Description,
			})
		}
		out.Tables = append(out.Tables, def)
	}
	return out, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func nullableOf(c rawColumn) bool {
	if c.Nullable != nil {
		return *c.Nullable
	}
	if c.IsNullable != nil {
		return *c.IsNullable
	}
	return true
}

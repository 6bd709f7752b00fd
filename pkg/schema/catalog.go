package schema

import "strings"

// ColumnInfo is the catalog view of a column used during plan validation.
type ColumnInfo struct {
	Name        string
	Type        string
	PK          bool
	Nullable    bool
	Description string
}

// TableInfo is the catalog view of a table. Column keys are lower-cased.
type TableInfo struct {
	FullName  string
	Schema    string
	Name      string
	Columns   map[string]ColumnInfo
	PKColumns []string
}

// Catalog is a read-only, per-request snapshot of the live schema. Keys are
// lower-cased full names ("dbo.cita") so lookups are case-insensitive.
type Catalog struct {
	tables map[string]TableInfo
}

// BuildCatalog derives a catalog from a provider snapshot.
func BuildCatalog(s *DatabaseSchema) *Catalog {
	cat := &Catalog{tables: map[string]TableInfo{}}
	if s == nil {
		return cat
	}
	for _, t := range s.Tables {
		full := strings.TrimSpace(t.FullName)
		if full == "" {
			if t.Schema != "" {
				full = t.Schema + "." + t.Name
			} else {
				full = t.Name
			}
		}
		info := TableInfo{
			FullName: full,
			Schema:   t.Schema,
			Name:     t.Name,
			Columns:  make(map[string]ColumnInfo, len(t.Columns)),
		}
		for _, c := range t.Columns {
			if c.Name == "" {
				continue
			}
			info.Columns[strings.ToLower(c.Name)] = ColumnInfo{
				Name:        c.Name,
				Type:        c.Type,
				PK:          c.PK,
				Nullable:    c.Nullable,
				Description: c.Description,
			}
			if c.PK {
				info.PKColumns = append(info.PKColumns, c.Name)
			}
		}
		cat.tables[strings.ToLower(full)] = info
	}
	return cat
}

// HasTable reports whether the catalog knows the table.
func (c *Catalog) HasTable(fullName string) bool {
	_, ok := c.tables[key(fullName)]
	return ok
}

// Table returns the catalog entry for a table, or nil.
func (c *Catalog) Table(fullName string) *TableInfo {
	if t, ok := c.tables[key(fullName)]; ok {
		return &t
	}
	return nil
}

// HasColumn reports whether the table exists and carries the column.
func (c *Catalog) HasColumn(fullName, column string) bool {
	return c.Column(fullName, column) != nil
}

// Column returns the catalog entry for a column, or nil.
func (c *Catalog) Column(fullName, column string) *ColumnInfo {
	t, ok := c.tables[key(fullName)]
	if !ok {
		return nil
	}
	if col, ok := t.Columns[key(column)]; ok {
		return &col
	}
	return nil
}

func key(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

package schema

import (
	"fmt"
	"strings"
)

// Document is a renderable text description of one table, suitable for
// feeding an external semantic indexer. IDs are canonical lower-cased full
// names so repeated exports stay stable.
type Document struct {
	ID       string
	Text     string
	Metadata map[string]string
}

// Documents renders one document per table. Duplicate table entries resolve
// to the one with the longer (more informative) text.
func (s *DatabaseSchema) Documents() []Document {
	byID := map[string]int{}
	var docs []Document

	for _, t := range s.Tables {
		id := strings.ToLower(strings.TrimSpace(t.FullName))
		text := renderTableDoc(t)
		meta := map[string]string{
			"kind":    "table",
			"table":   t.FullName,
			"schema":  t.Schema,
			"dialect": string(s.Dialect),
		}
		if len(t.Synonyms) > 0 {
			meta["synonyms"] = strings.Join(t.Synonyms, ", ")
		}

		if idx, ok := byID[id]; ok {
			if len(text) > len(docs[idx].Text) {
				docs[idx].Text = text
				docs[idx].Metadata = meta
			}
			continue
		}
		byID[id] = len(docs)
		docs = append(docs, Document{ID: id, Text: text, Metadata: meta})
	}
	return docs
}

func renderTableDoc(t TableDef) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tabla: %s\n", t.FullName)
	if t.Description != "" {
		fmt.Fprintf(&b, "Descripcion: %s\n", t.Description)
	}
	if len(t.Synonyms) > 0 {
		fmt.Fprintf(&b, "Tambien conocida como: %s\n", strings.Join(t.Synonyms, ", "))
	}
	b.WriteString("Columnas:\n")
	for _, c := range t.Columns {
		fmt.Fprintf(&b, "- %s: %s", c.Name, c.Type)
		var extras []string
		if c.PK {
			extras = append(extras, "PK")
		}
		if c.Identity {
			extras = append(extras, "IDENTITY")
		}
		if !c.Nullable {
			extras = append(extras, "NOT NULL")
		}
		if c.Description != "" {
			extras = append(extras, "desc="+c.Description)
		}
		if len(extras) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(extras, ", "))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

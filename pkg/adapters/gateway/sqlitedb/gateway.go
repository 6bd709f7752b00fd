// Package sqlitedb adapts an embedded SQLite database to the executor's
// gateway contract. The driver accepts :name placeholders directly, so the
// named-parameter map passes through as sql.Named args.
package sqlitedb

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	_ "modernc.org/sqlite" // cgo-free SQLite driver
)

// Gateway wraps a *sql.DB opened against a SQLite file.
type Gateway struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path.
func Open(path string) (*Gateway, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	return &Gateway{db: db}, nil
}

// NewGateway wraps an existing handle; the caller keeps ownership.
func NewGateway(db *sql.DB) *Gateway {
	return &Gateway{db: db}
}

// FetchAll runs the statement and returns every row as a keyed map. Args is
// the plan's named-parameter map. Driver errors propagate unmodified.
func (g *Gateway) FetchAll(ctx context.Context, query string, args any) ([]any, error) {
	named, _ := args.(map[string]any)

	names := make([]string, 0, len(named))
	for k := range named {
		names = append(names, k)
	}
	sort.Strings(names)
	bound := make([]any, 0, len(named))
	for _, k := range names {
		bound = append(bound, sql.Named(k, named[k]))
	}

	rows, err := g.db.QueryContext(ctx, query, bound...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columnNames, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	out := make([]any, 0)
	for rows.Next() {
		values := make([]any, len(columnNames))
		valuePtrs := make([]any, len(columnNames))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		rowMap := make(map[string]any, len(columnNames))
		for i, col := range columnNames {
			val := values[i]
			if b, ok := val.([]byte); ok {
				val = string(b)
			}
			rowMap[col] = val
		}
		out = append(out, rowMap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

// Close releases the underlying handle.
func (g *Gateway) Close() error {
	return g.db.Close()
}

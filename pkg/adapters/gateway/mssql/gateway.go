// Package mssql adapts a SQL Server connection to the executor's gateway
// contract. Plans for this dialect carry positional args bound to "?"
// placeholders; the driver wants @pN named parameters, so the gateway
// rewrites on the way in.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb" // SQL Server driver
)

// Gateway wraps a *sql.DB opened against SQL Server.
type Gateway struct {
	db *sql.DB
}

// Open dials SQL Server with the given DSN and pool bounds.
func Open(dsn string, maxOpen, maxIdle int) (*Gateway, error) {
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlserver connection: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	return &Gateway{db: db}, nil
}

// NewGateway wraps an existing handle; the caller keeps ownership.
func NewGateway(db *sql.DB) *Gateway {
	return &Gateway{db: db}
}

// FetchAll runs the statement and returns every row as a keyed map. Args is
// the plan's positional sequence. Driver errors propagate unmodified.
func (g *Gateway) FetchAll(ctx context.Context, query string, args any) ([]any, error) {
	positional, _ := args.([]any)

	converted := convertQmarks(query)
	named := make([]any, len(positional))
	for i, p := range positional {
		named[i] = sql.Named(fmt.Sprintf("p%d", i+1), p)
	}

	rows, err := g.db.QueryContext(ctx, converted, named...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRows(rows)
}

// Close releases the underlying handle.
func (g *Gateway) Close() error {
	return g.db.Close()
}

// convertQmarks rewrites "?" placeholders to @p1..@pN in order.
func convertQmarks(query string) string {
	var b strings.Builder
	b.Grow(len(query))
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			fmt.Fprintf(&b, "@p%d", n)
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func scanRows(rows *sql.Rows) ([]any, error) {
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

// Package postgres adapts a pgx pool to the executor's gateway contract.
// Plans for this dialect carry a named-parameter map; pgx wants $N
// positionals, so the gateway rewrites placeholders in first-occurrence
// order.
package postgres

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Gateway wraps a pgx connection pool.
type Gateway struct {
	pool *pgxpool.Pool
}

// Open dials PostgreSQL with the given DSN.
func Open(ctx context.Context, dsn string) (*Gateway, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	return &Gateway{pool: pool}, nil
}

// NewGateway wraps an existing pool; the caller keeps ownership.
func NewGateway(pool *pgxpool.Pool) *Gateway {
	return &Gateway{pool: pool}
}

var namedParamRx = regexp.MustCompile(`:([a-zA-Z_][a-zA-Z0-9_]*)`)

// FetchAll runs the statement and returns every row as a keyed map. Args is
// the plan's named-parameter map. Driver errors propagate unmodified.
func (g *Gateway) FetchAll(ctx context.Context, query string, args any) ([]any, error) {
	named, _ := args.(map[string]any)

	rewritten, ordered, err := rewriteNamed(query, named)
	if err != nil {
		return nil, err
	}

	rows, err := g.pool.Query(ctx, rewritten, ordered...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	out := make([]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		rowMap := make(map[string]any, len(columns))
		for i, col := range columns {
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

// Close releases the pool.
func (g *Gateway) Close() {
	g.pool.Close()
}

// rewriteNamed converts :name placeholders to $N, binding each distinct name
// once, in first-occurrence order.
func rewriteNamed(query string, named map[string]any) (string, []any, error) {
	index := map[string]int{}
	var ordered []any
	var missing string

	rewritten := namedParamRx.ReplaceAllStringFunc(query, func(m string) string {
		name := m[1:]
		v, ok := named[name]
		if !ok {
			if missing == "" {
				missing = name
			}
			return m
		}
		n, seen := index[name]
		if !seen {
			ordered = append(ordered, v)
			n = len(ordered)
			index[name] = n
		}
		return fmt.Sprintf("$%d", n)
	})
	if missing != "" {
		return "", nil, fmt.Errorf("unbound placeholder :%s", missing)
	}
	return rewritten, ordered, nil
}

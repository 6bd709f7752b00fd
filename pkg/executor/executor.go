package executor

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"time"

	"github.com/corazawaf/libinjection-go"

	"github.com/medagenda/query-engine/pkg/apperrors"
	"github.com/medagenda/query-engine/pkg/planner"
	"github.com/medagenda/query-engine/pkg/schema"
)

// QueryResult is the normalized outcome of one executed plan.
type QueryResult struct {
	Rows      []map[string]any
	Columns   []string
	RowCount  int
	ElapsedMS float64
	Meta      map[string]any
	Warnings  []string
}

// DatabaseGateway is the minimal fetch capability the executor needs. Args is
// either a positional []any or a named map[string]any, chosen by dialect.
// Driver errors propagate unmodified; any deadline is the gateway's concern.
type DatabaseGateway interface {
	FetchAll(ctx context.Context, sql string, args any) ([]any, error)
}

// Executor runs a validated plan through an injected gateway. It re-applies
// the safety checks independently so it stays usable without the validator.
type Executor struct {
	db DatabaseGateway
}

// New builds an executor over the gateway.
func New(db DatabaseGateway) *Executor {
	return &Executor{db: db}
}

var (
	dangerousRx = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|DROP|ALTER|TRUNCATE|MERGE|EXEC|EXECUTE|CALL|CREATE|GRANT|REVOKE)\b`)
	selectRx    = regexp.MustCompile(`(?i)^\s*(SELECT|WITH)\b`)
)

// Execute runs the plan and normalizes the rows. ElapsedMS times the gateway
// call only.
func (e *Executor) Execute(ctx context.Context, plan *planner.SqlPlan) (*QueryResult, error) {
	if err := guardSelect(plan.SQL); err != nil {
		return nil, err
	}

	var args any
	if plan.Dialect == schema.DialectSQLServer {
		args = append([]any{}, plan.ParamsSeq...)
	} else {
		named := make(map[string]any, len(plan.ParamsNamed))
		for k, v := range plan.ParamsNamed {
			named[k] = v
		}
		args = named
	}

	if err := screenArgs(args); err != nil {
		return nil, err
	}

	t0 := time.Now()
	raw, err := e.db.FetchAll(ctx, plan.SQL, args)
	elapsed := float64(time.Since(t0).Microseconds()) / 1000.0
	if err != nil {
		return nil, err
	}

	rows := normalizeRows(raw)
	result := &QueryResult{
		Rows:      rows,
		RowCount:  len(rows),
		ElapsedMS: round3(elapsed),
		Warnings:  append([]string{}, plan.Warnings...),
	}
	if len(rows) > 0 {
		result.Columns = columnOrder(raw[0], rows[0])
	}
	result.Meta = make(map[string]any, len(plan.Meta))
	for k, v := range plan.Meta {
		result.Meta[k] = v
	}
	return result, nil
}

func guardSelect(sql string) error {
	if dangerousRx.MatchString(sql) {
		return apperrors.ErrDangerousSQL
	}
	if !selectRx.MatchString(sql) {
		return apperrors.ErrNotSelect
	}
	return nil
}

// screenArgs runs every string-valued parameter through an injection check.
// Parameters are bound, never spliced, so a hit here means upstream entity
// extraction let something hostile through.
func screenArgs(args any) error {
	check := func(label string, v any) error {
		s, ok := v.(string)
		if !ok {
			return nil
		}
		if found, _ := libinjection.IsSQLi(s); found {
			return fmt.Errorf("parameter %s: %w", label, apperrors.ErrDangerousSQL)
		}
		return nil
	}

	switch a := args.(type) {
	case []any:
		for i, v := range a {
			if err := check(fmt.Sprint(i), v); err != nil {
				return err
			}
		}
	case map[string]any:
		names := make([]string, 0, len(a))
		for k := range a {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			if err := check(k, a[k]); err != nil {
				return err
			}
		}
	}
	return nil
}

// normalizeRows converts whatever the gateway produced into keyed rows, in
// order: key-valued map, field-labeled struct, positional sequence, synthetic
// single key. It always yields some row shape.
func normalizeRows(raw []any) []map[string]any {
	if len(raw) == 0 {
		return []map[string]any{}
	}
	out := make([]map[string]any, 0, len(raw))
	for _, r := range raw {
		out = append(out, normalizeRow(r))
	}
	return out
}

func normalizeRow(r any) map[string]any {
	if m, ok := r.(map[string]any); ok {
		return m
	}

	v := reflect.ValueOf(r)
	if v.Kind() == reflect.Pointer && !v.IsNil() {
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Struct:
		row := make(map[string]any, v.NumField())
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			row[f.Name] = v.Field(i).Interface()
		}
		if len(row) > 0 {
			return row
		}
	case reflect.Slice, reflect.Array:
		row := make(map[string]any, v.Len())
		for i := 0; i < v.Len(); i++ {
			row[fmt.Sprint(i)] = v.Index(i).Interface()
		}
		return row
	}

	return map[string]any{"value": r}
}

// columnOrder infers a stable column list from the first raw row: struct
// field order when available, index order for sequences, sorted keys
// otherwise.
func columnOrder(raw any, normalized map[string]any) []string {
	v := reflect.ValueOf(raw)
	if v.Kind() == reflect.Pointer && !v.IsNil() {
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Struct:
		var cols []string
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			if t.Field(i).IsExported() {
				cols = append(cols, t.Field(i).Name)
			}
		}
		if len(cols) > 0 {
			return cols
		}
	case reflect.Slice, reflect.Array:
		cols := make([]string, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			cols = append(cols, fmt.Sprint(i))
		}
		return cols
	}

	cols := make([]string, 0, len(normalized))
	for k := range normalized {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

func round3(f float64) float64 {
	return float64(int64(f*1000+0.5)) / 1000
}

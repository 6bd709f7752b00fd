package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medagenda/query-engine/pkg/apperrors"
	"github.com/medagenda/query-engine/pkg/planner"
	"github.com/medagenda/query-engine/pkg/schema"
)

type fakeGateway struct {
	rows    []any
	err     error
	called  bool
	gotSQL  string
	gotArgs any
}

func (f *fakeGateway) FetchAll(_ context.Context, sql string, args any) ([]any, error) {
	f.called = true
	f.gotSQL = sql
	f.gotArgs = args
	return f.rows, f.err
}

func countPlan() *planner.SqlPlan {
	return &planner.SqlPlan{
		Dialect:   schema.DialectSQLServer,
		SQL:       "SELECT COUNT(*) AS total FROM [dbo].[cita] WHERE [fecha] >= ? AND [fecha] < ?",
		ParamsSeq: []any{"2025-01-01", "2026-01-01"},
		Meta:      map[string]any{"table": "dbo.cita", "intent": "COUNT"},
	}
}

func TestExecute_CountHappyPath(t *testing.T) {
	gw := &fakeGateway{rows: []any{map[string]any{"total": int64(42)}}}
	e := New(gw)

	res, err := e.Execute(context.Background(), countPlan())
	require.NoError(t, err)

	assert.Equal(t, 1, res.RowCount)
	assert.Equal(t, int64(42), res.Rows[0]["total"])
	assert.Equal(t, []string{"total"}, res.Columns)
	assert.Equal(t, "dbo.cita", res.Meta["table"])
	assert.GreaterOrEqual(t, res.ElapsedMS, 0.0)

	assert.Equal(t, countPlan().SQL, gw.gotSQL)
	assert.Equal(t, []any{"2025-01-01", "2026-01-01"}, gw.gotArgs)
}

func TestExecute_NamedArgsForNonSQLServer(t *testing.T) {
	gw := &fakeGateway{rows: []any{}}
	e := New(gw)

	plan := &planner.SqlPlan{
		Dialect:     schema.DialectPostgres,
		SQL:         `SELECT COUNT(*) AS total FROM "dbo"."cita" WHERE "estado" = :status_0`,
		ParamsNamed: map[string]any{"status_0": "cancelada"},
	}
	_, err := e.Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"status_0": "cancelada"}, gw.gotArgs)
}

func TestExecute_EmptyResult(t *testing.T) {
	gw := &fakeGateway{rows: []any{}}
	e := New(gw)

	res, err := e.Execute(context.Background(), countPlan())
	require.NoError(t, err)
	assert.Zero(t, res.RowCount)
	assert.NotNil(t, res.Rows)
	assert.Empty(t, res.Rows)
	assert.Nil(t, res.Columns)
}

func TestExecute_RejectsDangerousSQL(t *testing.T) {
	gw := &fakeGateway{}
	e := New(gw)

	plan := &planner.SqlPlan{Dialect: schema.DialectSQLServer, SQL: "DELETE FROM cita"}
	_, err := e.Execute(context.Background(), plan)
	assert.ErrorIs(t, err, apperrors.ErrDangerousSQL)
	assert.False(t, gw.called)
}

func TestExecute_RejectsNonSelect(t *testing.T) {
	gw := &fakeGateway{}
	e := New(gw)

	plan := &planner.SqlPlan{Dialect: schema.DialectSQLite, SQL: `PRAGMA table_info("cita")`}
	_, err := e.Execute(context.Background(), plan)
	assert.ErrorIs(t, err, apperrors.ErrNotSelect)
	assert.False(t, gw.called)
}

func TestExecute_ScreensInjectionInArgs(t *testing.T) {
	gw := &fakeGateway{}
	e := New(gw)

	plan := countPlan()
	plan.ParamsSeq = []any{"1' UNION SELECT 1,2,3--", "2026-01-01"}

	_, err := e.Execute(context.Background(), plan)
	assert.ErrorIs(t, err, apperrors.ErrDangerousSQL)
	assert.False(t, gw.called)
}

func TestExecute_BenignStringArgsPass(t *testing.T) {
	gw := &fakeGateway{rows: []any{}}
	e := New(gw)

	plan := &planner.SqlPlan{
		Dialect:     schema.DialectPostgres,
		SQL:         `SELECT "estado" FROM "dbo"."cita" WHERE "estado" = :status_0 LIMIT :limit_rows`,
		ParamsNamed: map[string]any{"status_0": "cancelada", "limit_rows": 100},
	}
	_, err := e.Execute(context.Background(), plan)
	assert.NoError(t, err)
	assert.True(t, gw.called)
}

func TestExecute_GatewayErrorPropagates(t *testing.T) {
	boom := errors.New("connection reset")
	e := New(&fakeGateway{err: boom})

	_, err := e.Execute(context.Background(), countPlan())
	assert.ErrorIs(t, err, boom)
}

func TestExecute_WarningsAndMetaCopied(t *testing.T) {
	gw := &fakeGateway{rows: []any{}}
	e := New(gw)

	plan := countPlan()
	plan.Warnings = []string{"date_range_requested_without_date_column"}

	res, err := e.Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, plan.Warnings, res.Warnings)

	// Mutating the result must not leak back into the plan.
	res.Meta["table"] = "other"
	assert.Equal(t, "dbo.cita", plan.Meta["table"])
}

type pacienteRow struct {
	Nombre string
	Edad   int
	hidden string
}

func TestNormalizeRow(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected map[string]any
	}{
		{
			name:     "map passes through",
			input:    map[string]any{"a": 1},
			expected: map[string]any{"a": 1},
		},
		{
			name:     "struct fields become keys",
			input:    pacienteRow{Nombre: "Ana", Edad: 30, hidden: "x"},
			expected: map[string]any{"Nombre": "Ana", "Edad": 30},
		},
		{
			name:     "pointer to struct",
			input:    &pacienteRow{Nombre: "Luis"},
			expected: map[string]any{"Nombre": "Luis", "Edad": 0},
		},
		{
			name:     "slice becomes positional keys",
			input:    []any{"a", 2},
			expected: map[string]any{"0": "a", "1": 2},
		},
		{
			name:     "scalar wraps under value",
			input:    42,
			expected: map[string]any{"value": 42},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, normalizeRow(tt.input))
		})
	}
}

func TestExecute_ColumnOrderFromRawRow(t *testing.T) {
	e := New(&fakeGateway{rows: []any{pacienteRow{Nombre: "Ana", Edad: 30}}})

	res, err := e.Execute(context.Background(), countPlan())
	require.NoError(t, err)
	assert.Equal(t, []string{"Nombre", "Edad"}, res.Columns)

	e = New(&fakeGateway{rows: []any{[]any{"a", "b", "c"}}})
	res, err = e.Execute(context.Background(), countPlan())
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1", "2"}, res.Columns)

	e = New(&fakeGateway{rows: []any{map[string]any{"b": 1, "a": 2}}})
	res, err = e.Execute(context.Background(), countPlan())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, res.Columns)
}

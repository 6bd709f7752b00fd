package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/medagenda/query-engine/pkg/apperrors"
	"github.com/medagenda/query-engine/pkg/config"
	"github.com/medagenda/query-engine/pkg/extraction"
	"github.com/medagenda/query-engine/pkg/schema"
)

type fakeProvider struct {
	snapshot *schema.DatabaseSchema
	err      error
}

func (f *fakeProvider) Snapshot() (*schema.DatabaseSchema, error) {
	return f.snapshot, f.err
}

type panickyProvider struct{}

func (panickyProvider) Snapshot() (*schema.DatabaseSchema, error) {
	panic("snapshot store corrupted")
}

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

func testConfig() *config.Config {
	return &config.Config{
		Env:            "local",
		DefaultDialect: "sqlserver",
		Pipeline: config.PipelineConfig{
			MinIntentConfidence: 0.6,
			MinTableScore:       1.2,
			DefaultListLimit:    100,
			MaxSelectColumns:    12,
		},
		Answer: config.AnswerConfig{
			IncludeTrace:   true,
			MaxPreviewRows: 100,
		},
	}
}

func testSnapshot() *schema.DatabaseSchema {
	return &schema.DatabaseSchema{
		Dialect: schema.DialectSQLServer,
		Tables: []schema.TableDef{
			{
				Name: "cita", Schema: "dbo", FullName: "dbo.cita",
				Columns: []schema.ColumnDef{
					{Name: "cita_id", Type: "int", PK: true},
					{Name: "fecha", Type: "datetime"},
					{Name: "estado", Type: "varchar(20)"},
					{Name: "paciente_id", Type: "int"},
				},
			},
			{
				Name: "paciente", Schema: "dbo", FullName: "dbo.paciente",
				Columns: []schema.ColumnDef{
					{Name: "paciente_id", Type: "int", PK: true},
					{Name: "nombre", Type: "varchar(100)"},
				},
			},
		},
	}
}

func newTestEngine(gw *fakeGateway, provider schema.Provider) *Engine {
	return New(testConfig(), zap.NewNop(), provider, gw, nil)
}

func TestAnswer_CountEndToEnd(t *testing.T) {
	gw := &fakeGateway{rows: []any{map[string]any{"total": int64(42)}}}
	eng := newTestEngine(gw, &fakeProvider{snapshot: testSnapshot()})

	payload := eng.Answer(context.Background(), "cuantas citas hay en el 2025", "")

	assert.Equal(t, "success", payload.Status)
	assert.Equal(t, "Conteo obtenido", payload.Message)
	assert.Equal(t, int64(42), payload.Data["total"])
	assert.Equal(t, "dbo.cita", payload.Data["table"])
	assert.Equal(t, "2025", payload.Data["period"])

	assert.True(t, gw.called)
	assert.Equal(t,
		"SELECT COUNT(*) AS total FROM [dbo].[cita] WHERE [fecha] >= ? AND [fecha] < ?",
		gw.gotSQL)
	assert.Equal(t, []any{"2025-01-01", "2026-01-01"}, gw.gotArgs)

	require.NotNil(t, payload.Trace)
	assert.Equal(t, "sqlserver", payload.Trace["dialect"])
	assert.NotEmpty(t, payload.Trace["request_id"])
}

func TestAnswer_ListWithStatusFilter(t *testing.T) {
	gw := &fakeGateway{rows: []any{
		map[string]any{"cita_id": int64(1), "estado": "cancelada"},
	}}
	eng := newTestEngine(gw, &fakeProvider{snapshot: testSnapshot()})

	payload := eng.Answer(context.Background(), "top 10 citas canceladas", "")

	assert.Equal(t, "success", payload.Status)
	assert.Equal(t, "Datos obtenidos", payload.Message)
	assert.Equal(t, 1, payload.Data["rowcount"])
	assert.Contains(t, gw.gotSQL, "SELECT TOP 10")
	assert.Contains(t, gw.gotSQL, "[estado] = ?")
	assert.Equal(t, []any{"cancelada"}, gw.gotArgs)
}

func TestAnswer_ExplicitDialectWins(t *testing.T) {
	gw := &fakeGateway{rows: []any{map[string]any{"total": int64(5)}}}
	eng := newTestEngine(gw, &fakeProvider{snapshot: testSnapshot()})

	payload := eng.Answer(context.Background(), "cuantas citas hay en el 2025", "postgres")

	assert.Equal(t, "success", payload.Status)
	assert.Equal(t,
		`SELECT COUNT(*) AS total FROM "dbo"."cita" WHERE "fecha" >= :start_0 AND "fecha" < :end_0`,
		gw.gotSQL)
	assert.Equal(t, map[string]any{"start_0": "2025-01-01", "end_0": "2026-01-01"}, gw.gotArgs)
	assert.Equal(t, "postgres", payload.Trace["dialect"])
}

func TestAnswer_NoTableCandidate(t *testing.T) {
	gw := &fakeGateway{}
	eng := newTestEngine(gw, &fakeProvider{snapshot: testSnapshot()})

	payload := eng.Answer(context.Background(), "qwerty zzz", "")

	assert.Equal(t, "error", payload.Status)
	assert.Equal(t, "No se encontro una tabla candidata para la consulta.", payload.Message)
	assert.Equal(t, "no_table_candidate", payload.Trace["code"])
	assert.False(t, gw.called)
}

func TestChooseTable_NoCandidateSentinel(t *testing.T) {
	eng := newTestEngine(&fakeGateway{}, &fakeProvider{snapshot: testSnapshot()})
	extractor := extraction.NewExtractor()

	entities := extractor.Extract("qwerty zzz", time.Time{})
	_, err := eng.chooseTable(context.Background(), "qwerty zzz", testSnapshot(), &entities, schema.DialectSQLServer)
	require.ErrorIs(t, err, apperrors.ErrNoTableCandidate)

	entities = extractor.Extract("cuantas citas hay en el 2025", time.Time{})
	selRes, err := eng.chooseTable(context.Background(), "cuantas citas hay en el 2025", testSnapshot(), &entities, schema.DialectSQLServer)
	require.NoError(t, err)
	assert.Equal(t, "dbo.cita", selRes.Chosen.Table.FullName)
}

func TestAnswer_SnapshotFailure(t *testing.T) {
	gw := &fakeGateway{}
	eng := newTestEngine(gw, &fakeProvider{err: errors.New("disk gone")})

	payload := eng.Answer(context.Background(), "cuantas citas hay", "")

	assert.Equal(t, "error", payload.Status)
	assert.Equal(t, "Error interno: no se pudo leer el esquema", payload.Message)
	assert.False(t, gw.called)
}

func TestAnswer_AggregateIsRejected(t *testing.T) {
	gw := &fakeGateway{}
	eng := newTestEngine(gw, &fakeProvider{snapshot: testSnapshot()})

	payload := eng.Answer(context.Background(), "promedio de duracion de las citas", "")

	assert.Equal(t, "error", payload.Status)
	assert.Contains(t, payload.Message, "Error interno")
	assert.False(t, gw.called)
}

func TestAnswer_ValidationBlocksExecution(t *testing.T) {
	gw := &fakeGateway{}
	eng := newTestEngine(gw, &fakeProvider{snapshot: testSnapshot()})

	// PRAGMA describe plans never pass the SELECT-only gate.
	payload := eng.Answer(context.Background(), "que columnas tiene la tabla citas", "sqlite")

	assert.Equal(t, "error", payload.Status)
	assert.False(t, gw.called)

	var hasNotSelect bool
	for _, w := range payload.Warnings {
		if strings.HasPrefix(w, "not_select:") {
			hasNotSelect = true
		}
	}
	assert.True(t, hasNotSelect, "expected a not_select validation warning, got %v", payload.Warnings)
}

func TestAnswer_ExecutionFailure(t *testing.T) {
	gw := &fakeGateway{err: errors.New("login failed for user")}
	eng := newTestEngine(gw, &fakeProvider{snapshot: testSnapshot()})

	payload := eng.Answer(context.Background(), "cuantas citas hay en el 2025", "")

	assert.Equal(t, "error", payload.Status)
	assert.Contains(t, payload.Message, "Error interno")
}

func TestAnswer_PanicBecomesErrorPayload(t *testing.T) {
	gw := &fakeGateway{}
	eng := newTestEngine(gw, panickyProvider{})

	payload := eng.Answer(context.Background(), "cuantas citas hay", "")

	assert.Equal(t, "error", payload.Status)
	assert.Contains(t, payload.Message, "Error interno")
	assert.Equal(t, "internal_error", payload.Trace["code"])
}

func TestAnswer_Deterministic(t *testing.T) {
	provider := &fakeProvider{snapshot: testSnapshot()}
	gw := &fakeGateway{rows: []any{map[string]any{"total": int64(42)}}}
	eng := newTestEngine(gw, provider)

	first := eng.Answer(context.Background(), "cuantas citas hay en el 2025", "")
	firstSQL := gw.gotSQL
	second := eng.Answer(context.Background(), "cuantas citas hay en el 2025", "")

	assert.Equal(t, firstSQL, gw.gotSQL)
	assert.Equal(t, first.Data["total"], second.Data["total"])
}

func TestResolveDialect(t *testing.T) {
	eng := newTestEngine(&fakeGateway{}, &fakeProvider{snapshot: testSnapshot()})

	tests := []struct {
		name     string
		explicit string
		snapshot *schema.DatabaseSchema
		expected schema.Dialect
	}{
		{"explicit wins", "postgres", testSnapshot(), schema.DialectPostgres},
		{"snapshot dialect", "", &schema.DatabaseSchema{Dialect: schema.DialectSQLite}, schema.DialectSQLite},
		{"config default", "", &schema.DatabaseSchema{}, schema.DialectSQLServer},
		{"nil snapshot", "", nil, schema.DialectSQLServer},
		{"garbage explicit falls through", "oracle", &schema.DatabaseSchema{Dialect: schema.DialectPostgres}, schema.DialectPostgres},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, eng.resolveDialect(tt.explicit, tt.snapshot))
		})
	}
}

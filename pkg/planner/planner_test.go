package planner

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medagenda/query-engine/pkg/apperrors"
	"github.com/medagenda/query-engine/pkg/extraction"
	"github.com/medagenda/query-engine/pkg/intent"
	"github.com/medagenda/query-engine/pkg/schema"
	"github.com/medagenda/query-engine/pkg/selection"
)

var (
	fechaCol  = selection.ColumnSnapshot{Name: "fecha", Type: "datetime"}
	estadoCol = selection.ColumnSnapshot{Name: "estado", Type: "varchar(20)"}
	idCol     = selection.ColumnSnapshot{Name: "cita_id", Type: "int", PK: true}
)

func citaTable() selection.TableProfile {
	return selection.TableProfile{
		FullName: "dbo.cita",
		Name:     "cita",
		Schema:   "dbo",
		Columns:  []selection.ColumnSnapshot{idCol, fechaCol, estadoCol},
	}
}

func choices(date, status, id bool) selection.ColumnSelectionResult {
	res := selection.ColumnSelectionResult{
		TableFullName: "dbo.cita",
		Choices:       map[selection.ColumnRole]selection.ColumnChoice{},
	}
	if date {
		c := fechaCol
		res.Choices[selection.RoleDate] = selection.ColumnChoice{Role: selection.RoleDate, Column: &c}
	}
	if status {
		c := estadoCol
		res.Choices[selection.RoleStatus] = selection.ColumnChoice{Role: selection.RoleStatus, Column: &c}
	}
	if id {
		c := idCol
		res.Choices[selection.RoleID] = selection.ColumnChoice{Role: selection.RoleID, Column: &c}
	}
	return res
}

func year2025() *extraction.Entities {
	return &extraction.Entities{
		DateRanges: []extraction.DateRange{{
			Start: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			Label: "2025",
		}},
	}
}

func TestBuildCount_SQLServerYearRange(t *testing.T) {
	p := New(Config{})

	plan, err := p.Build(BuildRequest{
		Intent:   intent.IntentCount,
		Dialect:  schema.DialectSQLServer,
		Table:    citaTable(),
		Columns:  choices(true, false, false),
		Entities: year2025(),
		Question: "cuantas citas hay en el 2025",
	})
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT COUNT(*) AS total FROM [dbo].[cita] WHERE [fecha] >= ? AND [fecha] < ?",
		plan.SQL)
	assert.Nil(t, plan.ParamsNamed)
	assert.Equal(t, []any{"2025-01-01", "2026-01-01"}, plan.ParamsSeq)
	assert.Equal(t, "dbo.cita", plan.Meta["table"])
	assert.Equal(t, "COUNT", plan.Meta["intent"])
	assert.Equal(t, "2025", plan.Meta["period"])
	assert.Equal(t, []string{"start_0", "end_0"}, plan.Meta["filters"])
	assert.Empty(t, plan.Warnings)
}

func TestBuildCount_PostgresKeepsNamedParams(t *testing.T) {
	p := New(Config{})

	plan, err := p.Build(BuildRequest{
		Intent:   intent.IntentCount,
		Dialect:  schema.DialectPostgres,
		Table:    citaTable(),
		Columns:  choices(true, false, false),
		Entities: year2025(),
		Question: "cuantas citas hay en el 2025",
	})
	require.NoError(t, err)

	assert.Equal(t,
		`SELECT COUNT(*) AS total FROM "dbo"."cita" WHERE "fecha" >= :start_0 AND "fecha" < :end_0`,
		plan.SQL)
	assert.Nil(t, plan.ParamsSeq)
	assert.Equal(t, map[string]any{"start_0": "2025-01-01", "end_0": "2026-01-01"}, plan.ParamsNamed)
}

func TestBuildCount_MultipleRangesAreParenthesized(t *testing.T) {
	p := New(Config{})
	entities := year2025()
	entities.DateRanges = append(entities.DateRanges, extraction.DateRange{
		Start: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Label: "2023",
	})

	plan, err := p.Build(BuildRequest{
		Intent:   intent.IntentCount,
		Dialect:  schema.DialectSQLServer,
		Table:    citaTable(),
		Columns:  choices(true, false, false),
		Entities: entities,
	})
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT COUNT(*) AS total FROM [dbo].[cita] WHERE ([fecha] >= ? AND [fecha] < ? OR [fecha] >= ? AND [fecha] < ?)",
		plan.SQL)
	assert.Equal(t, []any{"2025-01-01", "2026-01-01", "2023-01-01", "2024-01-01"}, plan.ParamsSeq)
}

func TestBuildCount_DateRangeWithoutDateColumnWarns(t *testing.T) {
	p := New(Config{})

	plan, err := p.Build(BuildRequest{
		Intent:   intent.IntentCount,
		Dialect:  schema.DialectSQLServer,
		Table:    citaTable(),
		Columns:  choices(false, false, false),
		Entities: year2025(),
	})
	require.NoError(t, err)

	assert.Equal(t, "SELECT COUNT(*) AS total FROM [dbo].[cita]", plan.SQL)
	assert.Empty(t, plan.ParamsSeq)
	assert.Contains(t, plan.Warnings, "date_range_requested_without_date_column")
}

func TestBuildCount_StatusFilter(t *testing.T) {
	p := New(Config{})

	plan, err := p.Build(BuildRequest{
		Intent:   intent.IntentCount,
		Dialect:  schema.DialectSQLServer,
		Table:    citaTable(),
		Columns:  choices(false, true, false),
		Entities: &extraction.Entities{Statuses: []string{"cancelada"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "SELECT COUNT(*) AS total FROM [dbo].[cita] WHERE [estado] = ?", plan.SQL)
	assert.Equal(t, []any{"cancelada"}, plan.ParamsSeq)
}

func TestBuildCount_MultipleStatusesUseIN(t *testing.T) {
	p := New(Config{})

	plan, err := p.Build(BuildRequest{
		Intent:   intent.IntentCount,
		Dialect:  schema.DialectPostgres,
		Table:    citaTable(),
		Columns:  choices(false, true, false),
		Entities: &extraction.Entities{Statuses: []string{"cancelada", "pendiente"}},
	})
	require.NoError(t, err)

	assert.Equal(t,
		`SELECT COUNT(*) AS total FROM "dbo"."cita" WHERE "estado" IN (:status_0, :status_1)`,
		plan.SQL)
	assert.Equal(t, map[string]any{"status_0": "cancelada", "status_1": "pendiente"}, plan.ParamsNamed)
}

func TestBuildList_SQLServerTopAndStatus(t *testing.T) {
	p := New(Config{})

	plan, err := p.Build(BuildRequest{
		Intent:  intent.IntentList,
		Dialect: schema.DialectSQLServer,
		Table:   citaTable(),
		Columns: choices(true, true, true),
		Entities: &extraction.Entities{
			Statuses:  []string{"cancelada"},
			Limit:     10,
			HasLimit:  true,
			OrderHint: "desc",
		},
		Question: "top 10 citas canceladas",
	})
	require.NoError(t, err)

	assert.Equal(t,
		"SELECT TOP 10 [cita_id], [fecha], [estado] FROM [dbo].[cita] WHERE [estado] = ? ORDER BY [fecha] DESC",
		plan.SQL)
	assert.Equal(t, []any{"cancelada"}, plan.ParamsSeq)
	assert.Equal(t, 10, plan.Meta["limit"])
	assert.Equal(t, "fecha", plan.Meta["order_by"])
	assert.Equal(t, "DESC", plan.Meta["order_dir"])
}

func TestBuildList_PostgresLimitParam(t *testing.T) {
	p := New(Config{})

	plan, err := p.Build(BuildRequest{
		Intent:  intent.IntentList,
		Dialect: schema.DialectPostgres,
		Table:   citaTable(),
		Columns: choices(true, false, true),
	})
	require.NoError(t, err)

	assert.Equal(t,
		`SELECT "cita_id", "fecha", "estado" FROM "dbo"."cita" ORDER BY "fecha" DESC LIMIT :limit_rows`,
		plan.SQL)
	assert.Equal(t, map[string]any{"limit_rows": 100}, plan.ParamsNamed)
}

func TestBuildList_OrderFallsBackToID(t *testing.T) {
	p := New(Config{})

	plan, err := p.Build(BuildRequest{
		Intent:  intent.IntentList,
		Dialect: schema.DialectSQLServer,
		Table:   citaTable(),
		Columns: choices(false, false, true),
	})
	require.NoError(t, err)

	assert.Contains(t, plan.SQL, "ORDER BY [cita_id] DESC")
}

func TestBuildList_ExplicitSelectColumns(t *testing.T) {
	p := New(Config{})

	plan, err := p.Build(BuildRequest{
		Intent:        intent.IntentList,
		Dialect:       schema.DialectSQLServer,
		Table:         citaTable(),
		Columns:       choices(false, false, false),
		SelectColumns: []string{"fecha", "estado"},
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(plan.SQL, "SELECT TOP 100 [fecha], [estado] FROM"), plan.SQL)
}

func TestBuildList_CapsProjection(t *testing.T) {
	p := New(Config{DefaultListLimit: 100, MaxSelectColumns: 2, PreferOrderByDate: true})

	plan, err := p.Build(BuildRequest{
		Intent:  intent.IntentList,
		Dialect: schema.DialectSQLServer,
		Table:   citaTable(),
		Columns: choices(false, false, false),
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(plan.SQL, "SELECT TOP 100 [cita_id], [fecha] FROM"), plan.SQL)
}

func TestBuildDescribe_PerDialect(t *testing.T) {
	p := New(Config{})

	tests := []struct {
		dialect schema.Dialect
		sql     string
		named   map[string]any
		seq     []any
	}{
		{
			dialect: schema.DialectSQLite,
			sql:     `PRAGMA table_info("cita")`,
			named:   map[string]any{},
		},
		{
			dialect: schema.DialectSQLServer,
			sql: "SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE " +
				"FROM INFORMATION_SCHEMA.COLUMNS " +
				"WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? " +
				"ORDER BY ORDINAL_POSITION",
			seq: []any{"dbo", "cita"},
		},
		{
			dialect: schema.DialectPostgres,
			sql:     `SELECT * FROM "dbo"."cita" LIMIT 0`,
			named:   map[string]any{},
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.dialect), func(t *testing.T) {
			plan, err := p.Build(BuildRequest{
				Intent:  intent.IntentDescribe,
				Dialect: tt.dialect,
				Table:   citaTable(),
				Columns: choices(false, false, false),
			})
			require.NoError(t, err)
			assert.Equal(t, tt.sql, plan.SQL)
			assert.Equal(t, tt.named, plan.ParamsNamed)
			assert.Equal(t, tt.seq, plan.ParamsSeq)
			assert.Equal(t, "DESCRIBE", plan.Meta["intent"])
		})
	}
}

func TestBuild_AggregateNotSupported(t *testing.T) {
	p := New(Config{})

	_, err := p.Build(BuildRequest{
		Intent:  intent.IntentAggregate,
		Dialect: schema.DialectSQLServer,
		Table:   citaTable(),
		Columns: choices(false, false, false),
	})
	assert.ErrorIs(t, err, apperrors.ErrAggregateNotSupported)
}

func TestBuild_UnknownIntentFallsBackToList(t *testing.T) {
	p := New(Config{})

	plan, err := p.Build(BuildRequest{
		Intent:  intent.IntentUnknown,
		Dialect: schema.DialectSQLServer,
		Table:   citaTable(),
		Columns: choices(false, false, false),
	})
	require.NoError(t, err)
	assert.Equal(t, "LIST", plan.Meta["intent"])
}

func TestBuild_ExactlyOneParamForm(t *testing.T) {
	p := New(Config{})

	for _, d := range []schema.Dialect{schema.DialectSQLServer, schema.DialectPostgres, schema.DialectSQLite} {
		for _, in := range []intent.Intent{intent.IntentCount, intent.IntentList, intent.IntentDescribe} {
			plan, err := p.Build(BuildRequest{
				Intent:   in,
				Dialect:  d,
				Table:    citaTable(),
				Columns:  choices(true, true, true),
				Entities: year2025(),
			})
			require.NoError(t, err)
			if d == schema.DialectSQLServer {
				assert.Nil(t, plan.ParamsNamed)
				assert.Equal(t, strings.Count(plan.SQL, "?"), len(plan.ParamsSeq))
			} else {
				assert.Nil(t, plan.ParamsSeq)
			}
		}
	}
}

func TestQuoteIdentEscapesClosers(t *testing.T) {
	assert.Equal(t, "[weird]]name]", quoteIdent(schema.DialectSQLServer, "weird]name"))
	assert.Equal(t, `"weird""name"`, quoteIdent(schema.DialectPostgres, `weird"name`))
}

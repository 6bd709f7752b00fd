package answer

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medagenda/query-engine/pkg/executor"
	"github.com/medagenda/query-engine/pkg/intent"
	"github.com/medagenda/query-engine/pkg/planner"
	"github.com/medagenda/query-engine/pkg/schema"
)

func countPlan() *planner.SqlPlan {
	return &planner.SqlPlan{
		Dialect:   schema.DialectSQLServer,
		SQL:       "SELECT COUNT(*) AS total FROM [dbo].[cita] WHERE [fecha] >= ? AND [fecha] < ?",
		ParamsSeq: []any{"2025-01-01", "2026-01-01"},
		Meta: map[string]any{
			"table":   "dbo.cita",
			"intent":  "COUNT",
			"period":  "2025",
			"filters": []string{"start_0", "end_0"},
		},
	}
}

func countResult(total int64) *executor.QueryResult {
	return &executor.QueryResult{
		Rows:      []map[string]any{{"total": total}},
		Columns:   []string{"total"},
		RowCount:  1,
		ElapsedMS: 12.25,
	}
}

func okValidation() *planner.ValidationResult {
	var vr planner.ValidationResult
	vr.AddInfo("table_ok", "table found in the catalog")
	return vr.Finalize()
}

func TestFormat_Count(t *testing.T) {
	f := New(Config{})

	payload := f.Format(Request{
		Intent:     intent.IntentCount,
		Plan:       countPlan(),
		Result:     countResult(42),
		Validation: okValidation(),
		RequestID:  "req-1",
	})

	assert.Equal(t, "success", payload.Status)
	assert.Equal(t, "Conteo obtenido", payload.Message)
	assert.Equal(t, int64(42), payload.Data["total"])
	assert.Equal(t, "dbo.cita", payload.Data["table"])
	assert.Equal(t, "2025", payload.Data["period"])
	assert.Equal(t, 12.25, payload.Data["elapsed_ms"])
	assert.Empty(t, payload.Warnings)

	require.NotNil(t, payload.Trace)
	assert.Equal(t, "sqlserver", payload.Trace["dialect"])
	assert.Equal(t, countPlan().SQL, payload.Trace["sql"])
	assert.Equal(t, "req-1", payload.Trace["request_id"])
	assert.NotEmpty(t, payload.Trace["validation"])
}

func TestFormat_CountFallsBackToFirstColumn(t *testing.T) {
	f := New(Config{})

	result := &executor.QueryResult{
		Rows:     []map[string]any{{"cnt": int64(7)}},
		Columns:  []string{"cnt"},
		RowCount: 1,
	}
	payload := f.Format(Request{Intent: intent.IntentCount, Plan: countPlan(), Result: result})
	assert.Equal(t, int64(7), payload.Data["total"])
}

func TestFormat_CountEmptyResultUsesRowCount(t *testing.T) {
	f := New(Config{})

	result := &executor.QueryResult{Rows: []map[string]any{}}
	payload := f.Format(Request{Intent: intent.IntentCount, Plan: countPlan(), Result: result})
	assert.Equal(t, 0, payload.Data["total"])
}

func TestFormat_ValidationErrorFlipsStatus(t *testing.T) {
	f := New(Config{})

	var vr planner.ValidationResult
	vr.AddError("table_not_found", "table does not exist in the catalog")
	vr.AddWarning("date_missing", "no column chosen for the date role")
	vr.Finalize()

	payload := f.Format(Request{
		Intent:     intent.IntentCount,
		Plan:       countPlan(),
		Result:     &executor.QueryResult{Rows: []map[string]any{}},
		Validation: &vr,
	})

	assert.Equal(t, "error", payload.Status)
	assert.Contains(t, payload.Warnings, "table_not_found:table does not exist in the catalog")
	assert.Contains(t, payload.Warnings, "date_missing:no column chosen for the date role")
}

func TestFormat_ListPreviewTruncation(t *testing.T) {
	f := New(Config{IncludeTrace: true, MaxPreviewRows: 2, ShowColumns: true})

	rows := make([]map[string]any, 5)
	for i := range rows {
		rows[i] = map[string]any{"cita_id": i}
	}
	plan := countPlan()
	plan.Meta["intent"] = "LIST"
	plan.Meta["limit"] = 10
	plan.Meta["order_by"] = "fecha"
	plan.Meta["order_dir"] = "DESC"

	payload := f.Format(Request{
		Intent: intent.IntentList,
		Plan:   plan,
		Result: &executor.QueryResult{Rows: rows, Columns: []string{"cita_id"}, RowCount: 5},
	})

	assert.Equal(t, "Datos obtenidos", payload.Message)
	assert.Len(t, payload.Data["rows"], 2)
	assert.Equal(t, 5, payload.Data["rowcount"])
	assert.Equal(t, true, payload.Data["truncated"])
	assert.Equal(t, []string{"cita_id"}, payload.Data["columns"])
	assert.Equal(t, 10, payload.Data["limit"])
	assert.Equal(t, map[string]any{"by": "fecha", "dir": "DESC"}, payload.Data["order"])
}

func TestFormat_ListWithoutTruncation(t *testing.T) {
	f := New(Config{})

	payload := f.Format(Request{
		Intent: intent.IntentList,
		Plan:   countPlan(),
		Result: &executor.QueryResult{Rows: []map[string]any{{"cita_id": 1}}, RowCount: 1},
	})
	assert.Equal(t, false, payload.Data["truncated"])
}

func TestFormat_Describe(t *testing.T) {
	f := New(Config{})

	plan := &planner.SqlPlan{
		Dialect: schema.DialectSQLite,
		SQL:     `PRAGMA table_info("cita")`,
		Meta:    map[string]any{"table": "dbo.cita", "intent": "DESCRIBE"},
	}
	rows := []map[string]any{{"name": "cita_id", "type": "INTEGER"}}

	payload := f.Format(Request{
		Intent: intent.IntentDescribe,
		Plan:   plan,
		Result: &executor.QueryResult{Rows: rows, RowCount: 1},
	})

	assert.Equal(t, "Estructura obtenida", payload.Message)
	assert.Equal(t, rows, payload.Data["columns_preview"])
}

func TestFormat_TraceCanBeDisabled(t *testing.T) {
	f := New(Config{IncludeTrace: false, MaxPreviewRows: 100})

	payload := f.Format(Request{
		Intent: intent.IntentCount,
		Plan:   countPlan(),
		Result: countResult(1),
	})
	assert.Nil(t, payload.Trace)
}

func TestFormat_MergesPlanAndResultWarnings(t *testing.T) {
	f := New(Config{})

	plan := countPlan()
	plan.Warnings = []string{"date_range_requested_without_date_column"}

	result := countResult(3)
	result.Warnings = []string{"date_range_requested_without_date_column"}

	payload := f.Format(Request{Intent: intent.IntentCount, Plan: plan, Result: result})
	assert.Len(t, payload.Warnings, 2)
}

func TestFormat_TraceFiltersDefaultEmpty(t *testing.T) {
	f := New(Config{})

	plan := countPlan()
	delete(plan.Meta, "filters")

	payload := f.Format(Request{Intent: intent.IntentCount, Plan: plan, Result: countResult(1)})
	assert.Equal(t, []string{}, payload.Trace["filters"])
}

func TestRound2(t *testing.T) {
	assert.Equal(t, "3.14", fmt.Sprint(round2(3.141)))
	assert.Equal(t, "0", fmt.Sprint(round2(0)))
}

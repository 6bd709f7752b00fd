package answer

import (
	"fmt"

	"github.com/medagenda/query-engine/pkg/executor"
	"github.com/medagenda/query-engine/pkg/intent"
	"github.com/medagenda/query-engine/pkg/planner"
)

// Payload is the single response shape exposed to the host. Every pipeline
// outcome, success or failure, is encoded here; nothing else crosses the
// boundary.
type Payload struct {
	Status   string         `json:"status"`
	Message  string         `json:"message"`
	Data     map[string]any `json:"data"`
	Trace    map[string]any `json:"trace"`
	Warnings []string       `json:"warnings"`
}

// Config carries the formatter tunables.
type Config struct {
	IncludeTrace   bool
	MaxPreviewRows int
	ShowColumns    bool
}

// DefaultConfig returns the stock formatter settings.
func DefaultConfig() Config {
	return Config{
		IncludeTrace:   true,
		MaxPreviewRows: 100,
		ShowColumns:    true,
	}
}

// Formatter shapes the final payload by intent and merges warnings/status.
type Formatter struct {
	cfg Config
}

// New builds a formatter; a zero config falls back to defaults.
func New(cfg Config) *Formatter {
	if cfg.MaxPreviewRows == 0 {
		cfg = DefaultConfig()
	}
	return &Formatter{cfg: cfg}
}

// Request is the formatter input. Result may be an empty placeholder when
// validation blocked execution. RequestID, when set, lands in the trace.
type Request struct {
	Intent     intent.Intent
	Plan       *planner.SqlPlan
	Result     *executor.QueryResult
	Validation *planner.ValidationResult
	RequestID  string
}

// Format builds the payload. Any error-level validation issue flips the
// status to "error"; warning-level issues are carried without flipping it.
func (f *Formatter) Format(req Request) Payload {
	status := "success"
	warnings := []string{}
	warnings = append(warnings, req.Result.Warnings...)
	warnings = append(warnings, req.Plan.Warnings...)

	if req.Validation != nil {
		for _, issue := range req.Validation.Issues {
			switch issue.Level {
			case planner.LevelError:
				status = "error"
				warnings = append(warnings, fmt.Sprintf("%s:%s", issue.Code, issue.Message))
			case planner.LevelWarning:
				warnings = append(warnings, fmt.Sprintf("%s:%s", issue.Code, issue.Message))
			}
		}
	}

	var data map[string]any
	var message string
	switch req.Intent {
	case intent.IntentCount:
		data = f.formatCount(req.Plan, req.Result)
		message = "Conteo obtenido"
	case intent.IntentDescribe:
		data = f.formatDescribe(req.Plan, req.Result)
		message = "Estructura obtenida"
	default:
		data = f.formatList(req.Plan, req.Result)
		message = "Datos obtenidos"
	}

	var trace map[string]any
	if f.cfg.IncludeTrace {
		trace = f.buildTrace(req)
	}

	return Payload{
		Status:   status,
		Message:  message,
		Data:     data,
		Trace:    trace,
		Warnings: warnings,
	}
}

func (f *Formatter) formatCount(plan *planner.SqlPlan, result *executor.QueryResult) map[string]any {
	var total any
	if len(result.Rows) > 0 {
		row0 := result.Rows[0]
		if v, ok := row0["total"]; ok {
			total = v
		} else if len(result.Columns) > 0 {
			total = row0[result.Columns[0]]
		}
	}
	if total == nil {
		total = result.RowCount
	}

	return map[string]any{
		"total":      total,
		"table":      plan.Meta["table"],
		"period":     plan.Meta["period"],
		"elapsed_ms": round2(result.ElapsedMS),
	}
}

func (f *Formatter) formatList(plan *planner.SqlPlan, result *executor.QueryResult) map[string]any {
	preview := result.Rows
	truncated := false
	if len(preview) > f.cfg.MaxPreviewRows {
		preview = preview[:f.cfg.MaxPreviewRows]
		truncated = true
	}

	out := map[string]any{
		"table":      plan.Meta["table"],
		"rows":       preview,
		"rowcount":   result.RowCount,
		"elapsed_ms": round2(result.ElapsedMS),
		"truncated":  truncated,
	}
	if f.cfg.ShowColumns {
		out["columns"] = result.Columns
	}
	if limit, ok := plan.Meta["limit"]; ok {
		out["limit"] = limit
	}
	if orderBy, ok := plan.Meta["order_by"].(string); ok && orderBy != "" {
		dir, _ := plan.Meta["order_dir"].(string)
		if dir == "" {
			dir = "DESC"
		}
		out["order"] = map[string]any{"by": orderBy, "dir": dir}
	}
	return out
}

func (f *Formatter) formatDescribe(plan *planner.SqlPlan, result *executor.QueryResult) map[string]any {
	preview := result.Rows
	if len(preview) > f.cfg.MaxPreviewRows {
		preview = preview[:f.cfg.MaxPreviewRows]
	}
	return map[string]any{
		"table":           plan.Meta["table"],
		"columns_preview": preview,
		"elapsed_ms":      round2(result.ElapsedMS),
	}
}

func (f *Formatter) buildTrace(req Request) map[string]any {
	filters := req.Plan.Meta["filters"]
	if filters == nil {
		filters = []string{}
	}
	trace := map[string]any{
		"dialect":      string(req.Plan.Dialect),
		"table":        req.Plan.Meta["table"],
		"intent":       req.Plan.Meta["intent"],
		"sql":          req.Plan.SQL,
		"params_named": req.Plan.ParamsNamed,
		"params_seq":   req.Plan.ParamsSeq,
		"filters":      filters,
		"elapsed_ms":   round2(req.Result.ElapsedMS),
	}
	if req.RequestID != "" {
		trace["request_id"] = req.RequestID
	}
	if req.Validation != nil {
		issues := make([]map[string]any, 0, len(req.Validation.Issues))
		for _, i := range req.Validation.Issues {
			issues = append(issues, map[string]any{
				"level":   string(i.Level),
				"code":    i.Code,
				"message": i.Message,
				"details": i.Details,
			})
		}
		trace["validation"] = issues
	}
	return trace
}

func round2(f float64) float64 {
	return float64(int64(f*100+0.5)) / 100
}

package planner

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/medagenda/query-engine/pkg/schema"
	"github.com/medagenda/query-engine/pkg/selection"
)

// IssueLevel grades a validation finding.
type IssueLevel string

const (
	LevelError   IssueLevel = "error"
	LevelWarning IssueLevel = "warning"
	LevelInfo    IssueLevel = "info"
)

// ValidationIssue is one finding from a plan check.
type ValidationIssue struct {
	Level   IssueLevel        `json:"level"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// ValidationResult collects all findings. OK is derived: no error-level issue.
type ValidationResult struct {
	OK     bool
	Issues []ValidationIssue
}

func (r *ValidationResult) AddError(code, message string, details ...string) {
	r.Issues = append(r.Issues, ValidationIssue{Level: LevelError, Code: code, Message: message, Details: kvMap(details)})
}

func (r *ValidationResult) AddWarning(code, message string, details ...string) {
	r.Issues = append(r.Issues, ValidationIssue{Level: LevelWarning, Code: code, Message: message, Details: kvMap(details)})
}

func (r *ValidationResult) AddInfo(code, message string, details ...string) {
	r.Issues = append(r.Issues, ValidationIssue{Level: LevelInfo, Code: code, Message: message, Details: kvMap(details)})
}

// Finalize recomputes OK from the collected issues.
func (r *ValidationResult) Finalize() *ValidationResult {
	for _, i := range r.Issues {
		if i.Level == LevelError {
			r.OK = false
			return r
		}
	}
	r.OK = true
	return r
}

func kvMap(kv []string) map[string]string {
	if len(kv) == 0 {
		return nil
	}
	m := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i]] = kv[i+1]
	}
	return m
}

var (
	dangerousRx = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|DROP|ALTER|TRUNCATE|MERGE|EXEC|EXECUTE|CALL|CREATE|GRANT|REVOKE)\b`)
	selectRx    = regexp.MustCompile(`(?i)^\s*(SELECT|WITH)\b`)
)

// Validator checks a plan against the live catalog before execution. All
// checks run independently; nothing short-circuits.
type Validator struct{}

// NewValidator returns a plan validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate runs every check and returns the finalized result.
func (v *Validator) Validate(plan *SqlPlan, catalog *schema.Catalog, table selection.TableProfile, columns selection.ColumnSelectionResult) ValidationResult {
	var vr ValidationResult

	if dangerousRx.MatchString(plan.SQL) {
		vr.AddError("dangerous_sql", "potentially dangerous keywords detected in SQL")
	}
	if !selectRx.MatchString(plan.SQL) {
		vr.AddError("not_select", "plan SQL is not a SELECT/WITH query")
	}

	if !catalog.HasTable(table.FullName) {
		vr.AddError("table_not_found", "table does not exist in the catalog", "table", table.FullName)
	} else {
		vr.AddInfo("table_ok", "table found in the catalog", "table", table.FullName)
	}

	v.validateRoleColumn(&vr, catalog, table, columns, selection.RoleDate)
	v.validateRoleColumn(&vr, catalog, table, columns, selection.RoleStatus)
	v.validateRoleColumn(&vr, catalog, table, columns, selection.RoleID)

	v.validateParams(&vr, plan)
	v.warnUseful(&vr, plan)

	return *vr.Finalize()
}

func (v *Validator) validateRoleColumn(vr *ValidationResult, catalog *schema.Catalog, table selection.TableProfile, columns selection.ColumnSelectionResult, role selection.ColumnRole) {
	col := columns.Choice(role)
	if col == nil {
		vr.AddWarning(string(role)+"_missing", fmt.Sprintf("no column chosen for the %s role", role), "table", table.FullName)
		return
	}
	info := catalog.Column(table.FullName, col.Name)
	if info == nil {
		vr.AddError(
			string(role)+"_invalid",
			fmt.Sprintf("column %q for the %s role does not exist in the table", col.Name, role),
			"table", table.FullName, "column", col.Name,
		)
		return
	}
	details := []string{"table", table.FullName, "column", col.Name}
	if info.Type != "" {
		details = append(details, "type", info.Type)
	}
	if info.PK {
		details = append(details, "pk", "true")
	}
	vr.AddInfo(string(role)+"_ok", fmt.Sprintf("column for the %s role verified", role), details...)
}

func (v *Validator) validateParams(vr *ValidationResult, plan *SqlPlan) {
	if plan.Dialect == schema.DialectSQLServer {
		qmarks := strings.Count(plan.SQL, "?")
		if qmarks != len(plan.ParamsSeq) {
			vr.AddError("params_mismatch", "'?' placeholder count does not match bound parameters",
				"placeholders", fmt.Sprint(qmarks), "params", fmt.Sprint(len(plan.ParamsSeq)))
		} else {
			vr.AddInfo("params_ok", "positional parameters consistent", "placeholders", fmt.Sprint(qmarks))
		}
		return
	}

	used := map[string]struct{}{}
	for _, m := range namedParamRx.FindAllStringSubmatch(plan.SQL, -1) {
		used[m[1]] = struct{}{}
	}

	var missing, extra []string
	for name := range used {
		if _, ok := plan.ParamsNamed[name]; !ok {
			missing = append(missing, name)
		}
	}
	for name := range plan.ParamsNamed {
		if _, ok := used[name]; !ok {
			extra = append(extra, name)
		}
	}
	sort.Strings(missing)
	sort.Strings(extra)

	if len(missing) > 0 {
		vr.AddError("params_missing", "named parameters referenced without bound values", "missing", strings.Join(missing, ","))
	}
	if len(extra) > 0 {
		vr.AddWarning("params_extra", "bound parameters not referenced in the SQL", "extra", strings.Join(extra, ","))
	}
	if len(missing) == 0 {
		vr.AddInfo("params_ok", "named parameters consistent", "count", fmt.Sprint(len(used)))
	}
}

func (v *Validator) warnUseful(vr *ValidationResult, plan *SqlPlan) {
	if strings.Contains(strings.ToUpper(plan.SQL), " COUNT(") && len(plan.ParamsNamed) == 0 && len(plan.ParamsSeq) == 0 {
		vr.AddWarning("no_filters", "COUNT query without filters; check whether a date range or status is expected")
	}
	for _, w := range plan.Warnings {
		vr.AddWarning("planner_warn", w)
	}
}

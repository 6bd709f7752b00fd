package planner

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/medagenda/query-engine/pkg/apperrors"
	"github.com/medagenda/query-engine/pkg/extraction"
	"github.com/medagenda/query-engine/pkg/intent"
	"github.com/medagenda/query-engine/pkg/schema"
	"github.com/medagenda/query-engine/pkg/selection"
)

// SqlPlan is a fully-formed parameterized statement plus metadata, prior to
// validation and execution. Exactly one of ParamsNamed/ParamsSeq is populated,
// selected by dialect: SQL Server gets positional args, the rest keep named
// placeholders.
type SqlPlan struct {
	Dialect     schema.Dialect
	SQL         string
	ParamsNamed map[string]any
	ParamsSeq   []any
	Meta        map[string]any
	Warnings    []string
}

// Config carries the planner tunables.
type Config struct {
	DefaultListLimit  int
	MaxSelectColumns  int
	PreferOrderByDate bool
}

// DefaultConfig returns the stock planner settings.
func DefaultConfig() Config {
	return Config{
		DefaultListLimit:  100,
		MaxSelectColumns:  12,
		PreferOrderByDate: true,
	}
}

// Planner builds dialect-specific SQL from the upstream pipeline outputs.
// Filter values are always bound as parameters, never interpolated.
type Planner struct {
	cfg Config
}

// New builds a planner; a zero config falls back to defaults.
func New(cfg Config) *Planner {
	if cfg.DefaultListLimit == 0 {
		cfg = DefaultConfig()
	}
	return &Planner{cfg: cfg}
}

// BuildRequest is the planner input. SelectColumns overrides the default
// projection when non-empty.
type BuildRequest struct {
	Intent        intent.Intent
	Dialect       schema.Dialect
	Table         selection.TableProfile
	Columns       selection.ColumnSelectionResult
	Entities      *extraction.Entities
	Question      string
	SelectColumns []string
}

// Build produces a plan for the request. Aggregate has no SQL shape yet and
// fails rather than approximating.
func (p *Planner) Build(req BuildRequest) (*SqlPlan, error) {
	switch req.Intent {
	case intent.IntentCount:
		return p.buildCount(req)
	case intent.IntentList:
		return p.buildList(req)
	case intent.IntentAggregate:
		return nil, apperrors.ErrAggregateNotSupported
	case intent.IntentDescribe:
		return p.buildDescribe(req)
	default:
		return p.buildList(req)
	}
}

func (p *Planner) buildCount(req BuildRequest) (*SqlPlan, error) {
	dateCol := req.Columns.Choice(selection.RoleDate)
	statusCol := req.Columns.Choice(selection.RoleStatus)

	tblSQL := quoteTable(req.Dialect, req.Table.Schema, req.Table.Name)
	whereSQL, params, warns := p.composeWhere(req.Dialect, dateCol, statusCol, req.Entities)

	sqlNamed := "SELECT COUNT(*) AS total FROM " + tblSQL
	if whereSQL != "" {
		sqlNamed += " WHERE " + whereSQL
	}

	finalSQL, named, seq, err := finalize(req.Dialect, sqlNamed, params)
	if err != nil {
		return nil, err
	}

	meta := map[string]any{
		"table":         req.Table.FullName,
		"intent":        "COUNT",
		"date_column":   colName(dateCol),
		"status_column": colName(statusCol),
		"question":      req.Question,
		"filters":       params.keys,
	}
	if label := periodLabel(req.Entities); label != "" {
		meta["period"] = label
	}
	return &SqlPlan{
		Dialect:     req.Dialect,
		SQL:         finalSQL,
		ParamsNamed: named,
		ParamsSeq:   seq,
		Meta:        meta,
		Warnings:    warns,
	}, nil
}

func (p *Planner) buildList(req BuildRequest) (*SqlPlan, error) {
	dateCol := req.Columns.Choice(selection.RoleDate)
	statusCol := req.Columns.Choice(selection.RoleStatus)
	idCol := req.Columns.Choice(selection.RoleID)

	tblSQL := quoteTable(req.Dialect, req.Table.Schema, req.Table.Name)

	names := req.SelectColumns
	if len(names) == 0 {
		for _, c := range req.Table.Columns {
			names = append(names, c.Name)
			if len(names) == p.cfg.MaxSelectColumns {
				break
			}
		}
	}
	quoted := make([]string, 0, len(names))
	for _, n := range names {
		quoted = append(quoted, quoteIdent(req.Dialect, n))
	}
	selectList := strings.Join(quoted, ", ")

	whereSQL, params, warns := p.composeWhere(req.Dialect, dateCol, statusCol, req.Entities)

	orderCol := ""
	orderDir := "ASC"
	switch {
	case dateCol != nil && p.cfg.PreferOrderByDate:
		orderCol = dateCol.Name
		orderDir = "DESC"
	case idCol != nil:
		orderCol = idCol.Name
		orderDir = "DESC"
	}

	limit := p.cfg.DefaultListLimit
	if req.Entities != nil && req.Entities.HasLimit && req.Entities.Limit > 0 {
		limit = req.Entities.Limit
	}

	var sqlNamed string
	if req.Dialect == schema.DialectSQLServer {
		sqlNamed = fmt.Sprintf("SELECT TOP %d %s FROM %s", limit, selectList, tblSQL)
		if whereSQL != "" {
			sqlNamed += " WHERE " + whereSQL
		}
		if orderCol != "" {
			sqlNamed += " ORDER BY " + quoteIdent(req.Dialect, orderCol) + " " + orderDir
		}
	} else {
		sqlNamed = "SELECT " + selectList + " FROM " + tblSQL
		if whereSQL != "" {
			sqlNamed += " WHERE " + whereSQL
		}
		if orderCol != "" {
			sqlNamed += " ORDER BY " + quoteIdent(req.Dialect, orderCol) + " " + orderDir
		}
		sqlNamed += " LIMIT :limit_rows"
		params.set("limit_rows", limit)
	}

	finalSQL, named, seq, err := finalize(req.Dialect, sqlNamed, params)
	if err != nil {
		return nil, err
	}

	meta := map[string]any{
		"table":         req.Table.FullName,
		"intent":        "LIST",
		"date_column":   colName(dateCol),
		"status_column": colName(statusCol),
		"id_column":     colName(idCol),
		"question":      req.Question,
		"limit":         limit,
		"order_by":      orderCol,
		"order_dir":     orderDir,
		"filters":       params.keys,
	}
	if label := periodLabel(req.Entities); label != "" {
		meta["period"] = label
	}
	return &SqlPlan{
		Dialect:     req.Dialect,
		SQL:         finalSQL,
		ParamsNamed: named,
		ParamsSeq:   seq,
		Meta:        meta,
		Warnings:    warns,
	}, nil
}

func (p *Planner) buildDescribe(req BuildRequest) (*SqlPlan, error) {
	params := newParams()
	var sqlNamed string

	switch req.Dialect {
	case schema.DialectSQLite:
		sqlNamed = fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(req.Dialect, req.Table.Name))
	case schema.DialectSQLServer:
		sqlNamed = "SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE " +
			"FROM INFORMATION_SCHEMA.COLUMNS " +
			"WHERE TABLE_SCHEMA = :schema AND TABLE_NAME = :table " +
			"ORDER BY ORDINAL_POSITION"
		params.set("schema", req.Table.Schema)
		params.set("table", req.Table.Name)
	default:
		sqlNamed = "SELECT * FROM " + quoteTable(req.Dialect, req.Table.Schema, req.Table.Name) + " LIMIT 0"
	}

	finalSQL, named, seq, err := finalize(req.Dialect, sqlNamed, params)
	if err != nil {
		return nil, err
	}
	meta := map[string]any{
		"table":  req.Table.FullName,
		"intent": "DESCRIBE",
	}
	return &SqlPlan{
		Dialect:     req.Dialect,
		SQL:         finalSQL,
		ParamsNamed: named,
		ParamsSeq:   seq,
		Meta:        meta,
	}, nil
}

// composeWhere builds the filter clause. A requested date range with no date
// column is dropped with a warning, never absorbed silently.
func (p *Planner) composeWhere(dialect schema.Dialect, dateCol, statusCol *selection.ColumnSnapshot, entities *extraction.Entities) (string, *orderedParams, []string) {
	var parts []string
	params := newParams()
	var warns []string
	if entities == nil {
		return "", params, nil
	}

	if len(entities.DateRanges) > 0 {
		if dateCol == nil {
			warns = append(warns, "date_range_requested_without_date_column")
		} else {
			col := quoteIdent(dialect, dateCol.Name)
			exprs := make([]string, 0, len(entities.DateRanges))
			for i, r := range entities.DateRanges {
				startKey := fmt.Sprintf("start_%d", i)
				endKey := fmt.Sprintf("end_%d", i)
				exprs = append(exprs, fmt.Sprintf("%s >= :%s AND %s < :%s", col, startKey, col, endKey))
				params.set(startKey, r.Start.Format("2006-01-02"))
				params.set(endKey, r.End.Format("2006-01-02"))
			}
			if len(exprs) == 1 {
				parts = append(parts, exprs[0])
			} else {
				parts = append(parts, "("+strings.Join(exprs, " OR ")+")")
			}
		}
	}

	if len(entities.Statuses) > 0 && statusCol != nil {
		col := quoteIdent(dialect, statusCol.Name)
		if len(entities.Statuses) == 1 {
			params.set("status_0", entities.Statuses[0])
			parts = append(parts, col+" = :status_0")
		} else {
			keys := make([]string, 0, len(entities.Statuses))
			for i, st := range entities.Statuses {
				k := fmt.Sprintf("status_%d", i)
				params.set(k, st)
				keys = append(keys, ":"+k)
			}
			parts = append(parts, col+" IN ("+strings.Join(keys, ", ")+")")
		}
	}

	return strings.Join(parts, " AND "), params, warns
}

// orderedParams keeps insertion order so filter keys and positional rewrites
// stay deterministic.
type orderedParams struct {
	keys   []string
	values map[string]any
}

func newParams() *orderedParams {
	return &orderedParams{values: map[string]any{}}
}

func (p *orderedParams) set(key string, value any) {
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
}

func (p *orderedParams) named() map[string]any {
	out := make(map[string]any, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

var namedParamRx = regexp.MustCompile(`:([a-zA-Z_][a-zA-Z0-9_]*)`)

// finalize rewrites named placeholders to positional "?" for SQL Server,
// binding args in first-occurrence order; other dialects keep the named form.
func finalize(dialect schema.Dialect, sqlNamed string, params *orderedParams) (string, map[string]any, []any, error) {
	if dialect != schema.DialectSQLServer {
		return sqlNamed, params.named(), nil, nil
	}

	var seq []any
	var missing string
	out := namedParamRx.ReplaceAllStringFunc(sqlNamed, func(m string) string {
		name := m[1:]
		v, ok := params.values[name]
		if !ok {
			if missing == "" {
				missing = name
			}
			return m
		}
		seq = append(seq, v)
		return "?"
	})
	if missing != "" {
		return "", nil, nil, fmt.Errorf("unbound placeholder :%s", missing)
	}
	return out, nil, seq, nil
}

func quoteIdent(dialect schema.Dialect, ident string) string {
	if dialect == schema.DialectSQLServer {
		return "[" + strings.ReplaceAll(ident, "]", "]]") + "]"
	}
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func quoteTable(dialect schema.Dialect, schemaName, table string) string {
	if schemaName != "" {
		return quoteIdent(dialect, schemaName) + "." + quoteIdent(dialect, table)
	}
	return quoteIdent(dialect, table)
}

func colName(c *selection.ColumnSnapshot) any {
	if c == nil {
		return nil
	}
	return c.Name
}

func periodLabel(entities *extraction.Entities) string {
	if entities == nil || len(entities.DateRanges) == 0 {
		return ""
	}
	return entities.DateRanges[0].Label
}

package selection

import (
	"regexp"
	"strings"

	"github.com/medagenda/query-engine/pkg/extraction"
	"github.com/medagenda/query-engine/pkg/textutil"
)

// ColumnRole is the semantic purpose a column plays in the generated SQL,
// independent of its declared name or type.
type ColumnRole string

const (
	RoleDate   ColumnRole = "date"
	RoleStatus ColumnRole = "status"
	RoleID     ColumnRole = "id"
)

// ColumnSnapshot is the selector's view of one column.
type ColumnSnapshot struct {
	Name        string
	Type        string
	PK          bool
	FK          bool
	Nullable    bool
	Description string
}

// TableProfile is a table with fully described columns, the unit the column
// selector, planner and validator all operate on.
type TableProfile struct {
	FullName string
	Name     string
	Schema   string
	Columns  []ColumnSnapshot
}

// ColumnChoice is the outcome for one role. A nil Column means no candidate
// cleared the acceptance threshold — which is not an error.
type ColumnChoice struct {
	Role    ColumnRole
	Column  *ColumnSnapshot
	Score   float64
	Reasons []string
}

// ColumnSelectionResult bundles the per-role choices with an aggregate
// confidence.
type ColumnSelectionResult struct {
	TableFullName string
	Choices       map[ColumnRole]ColumnChoice
	Reasons       []string
	Confidence    float64
}

// Choice returns the chosen column for a role, or nil.
func (r ColumnSelectionResult) Choice(role ColumnRole) *ColumnSnapshot {
	if c, ok := r.Choices[role]; ok {
		return c.Column
	}
	return nil
}

// ColumnSelectorConfig carries the role vocabularies and weights.
type ColumnSelectorConfig struct {
	NameHintWeight      float64
	TypeHintWeight      float64
	EntityNeedWeight    float64
	PKBonusWeight       float64
	IDNamePatternWeight float64
	QuestionTokenWeight float64
	MinAcceptScore      float64

	DateHints            []string
	StatusHints          []string
	IDNamePatterns       []string
	DateTypeTokens       []string
	QuestionDateTokens   []string
	QuestionStatusTokens []string
}

// DefaultColumnSelectorConfig returns the stock vocabularies.
func DefaultColumnSelectorConfig() ColumnSelectorConfig {
	return ColumnSelectorConfig{
		NameHintWeight:      1.4,
		TypeHintWeight:      1.2,
		EntityNeedWeight:    1.0,
		PKBonusWeight:       1.5,
		IDNamePatternWeight: 1.2,
		QuestionTokenWeight: 0.6,
		MinAcceptScore:      1.0,
		DateHints: []string{
			"fecha", "fecharegistro", "fechacreacion", "fechaprogramada", "fechacita",
			"created_at", "createdon", "createddate", "datetime", "timestamp",
		},
		StatusHints:    []string{"estado", "estatus", "status"},
		IDNamePatterns: []string{`(^|_)id($|_)`, `.+_id$`, `^id_.+`, `.+id$`},
		DateTypeTokens: []string{"date", "datetime", "timestamp", "time"},
		QuestionDateTokens: []string{
			"fecha", "fechas", "dia", "dias", "mes", "meses", "ano", "anio", "anos", "anios",
		},
		QuestionStatusTokens: []string{"estado", "estatus", "status"},
	}
}

// ColumnSelector assigns Date/Status/Id roles within one table.
type ColumnSelector struct {
	cfg  ColumnSelectorConfig
	idRx []*regexp.Regexp
}

// NewColumnSelector builds a selector; a zero config falls back to defaults.
func NewColumnSelector(cfg ColumnSelectorConfig) *ColumnSelector {
	if cfg.MinAcceptScore == 0 {
		cfg = DefaultColumnSelectorConfig()
	}
	s := &ColumnSelector{cfg: cfg}
	for _, p := range cfg.IDNamePatterns {
		s.idRx = append(s.idRx, regexp.MustCompile(p))
	}
	return s
}

// Select picks the best column per role. Roles are independent: a table may
// get an Id but no Date, and the result still carries a confidence.
func (s *ColumnSelector) Select(table TableProfile, question string, entities *extraction.Entities) ColumnSelectionResult {
	qTokens := textutil.Tokenize(question)

	choices := map[ColumnRole]ColumnChoice{
		RoleDate:   s.pickDate(table, qTokens, entities),
		RoleStatus: s.pickStatus(table, qTokens, entities),
		RoleID:     s.pickID(table, qTokens),
	}

	var accepted []ColumnChoice
	for _, c := range choices {
		if c.Column != nil {
			accepted = append(accepted, c)
		}
	}

	var confidence float64
	var reasons []string
	if len(accepted) > 0 {
		maxWeight := s.cfg.NameHintWeight + s.cfg.TypeHintWeight + s.cfg.EntityNeedWeight + s.cfg.PKBonusWeight
		var sum float64
		var roles []string
		for _, role := range []ColumnRole{RoleDate, RoleStatus, RoleID} {
			if c := choices[role]; c.Column != nil {
				sum += c.Score
				roles = append(roles, string(role))
			}
		}
		confidence = sum / (float64(len(accepted)) * maxWeight)
		if confidence > 0.99 {
			confidence = 0.99
		}
		if confidence < 0.55 {
			confidence = 0.55
		}
		confidence = round3(confidence)
		reasons = append(reasons, "roles_chosen:"+strings.Join(roles, ","))
	} else {
		reasons = append(reasons, "no_columns_chosen")
	}

	return ColumnSelectionResult{
		TableFullName: table.FullName,
		Choices:       choices,
		Reasons:       reasons,
		Confidence:    confidence,
	}
}

func (s *ColumnSelector) pickDate(table TableProfile, qTokens []string, entities *extraction.Entities) ColumnChoice {
	cfg := s.cfg
	needTime := entities != nil && len(entities.DateRanges) > 0
	if !needTime && anyTokenIn(qTokens, cfg.QuestionDateTokens) {
		needTime = true
	}

	var best ColumnChoice
	best.Role = RoleDate
	for i := range table.Columns {
		col := &table.Columns[i]
		nameTokens := textutil.SplitIdent(col.Name)
		var score float64
		var rs []string

		if anyTokenIn(nameTokens, cfg.DateHints) {
			score += cfg.NameHintWeight
			rs = append(rs, "date_name_hint")
		}
		if col.Type != "" {
			tnorm := textutil.Normalize(col.Type)
			for _, tok := range cfg.DateTypeTokens {
				if strings.Contains(tnorm, tok) {
					score += cfg.TypeHintWeight
					rs = append(rs, "type_hint:"+tnorm)
					break
				}
			}
		}
		if needTime {
			score += cfg.EntityNeedWeight
			rs = append(rs, "time_need")
		}
		if anyTokenIn(qTokens, nameTokens) {
			score += cfg.QuestionTokenWeight
			rs = append(rs, "question_token_hit")
		}

		if score > best.Score {
			best = ColumnChoice{Role: RoleDate, Column: col, Score: round3(score), Reasons: rs}
		}
	}
	return s.acceptOrReject(best)
}

func (s *ColumnSelector) pickStatus(table TableProfile, qTokens []string, entities *extraction.Entities) ColumnChoice {
	cfg := s.cfg
	needStatus := entities != nil && len(entities.Statuses) > 0
	if !needStatus && anyTokenIn(qTokens, cfg.QuestionStatusTokens) {
		needStatus = true
	}

	var best ColumnChoice
	best.Role = RoleStatus
	for i := range table.Columns {
		col := &table.Columns[i]
		nameTokens := textutil.SplitIdent(col.Name)
		var score float64
		var rs []string

		if anyTokenIn(nameTokens, cfg.StatusHints) {
			score += cfg.NameHintWeight
			rs = append(rs, "status_name_hint")
		}
		if needStatus {
			score += cfg.EntityNeedWeight
			rs = append(rs, "status_need")
		}
		if anyTokenIn(qTokens, nameTokens) {
			score += cfg.QuestionTokenWeight
			rs = append(rs, "question_token_hit")
		}

		if score > best.Score {
			best = ColumnChoice{Role: RoleStatus, Column: col, Score: round3(score), Reasons: rs}
		}
	}
	return s.acceptOrReject(best)
}

func (s *ColumnSelector) pickID(table TableProfile, qTokens []string) ColumnChoice {
	cfg := s.cfg
	tableTokens := textutil.SplitIdent(table.Name)

	var best ColumnChoice
	best.Role = RoleID
	for i := range table.Columns {
		col := &table.Columns[i]
		nameNorm := textutil.Normalize(col.Name)
		nameTokens := textutil.SplitIdent(col.Name)
		var score float64
		var rs []string

		if col.PK {
			score += cfg.PKBonusWeight
			rs = append(rs, "pk")
		}
		for _, rx := range s.idRx {
			if rx.MatchString(nameNorm) {
				score += cfg.IDNamePatternWeight
				rs = append(rs, "id_name_pattern")
				break
			}
		}
		// cita_id and id_cita both carry the table's own token.
		if anyTokenIn(tableTokens, nameTokens) {
			score += cfg.QuestionTokenWeight
			rs = append(rs, "table_token_in_column")
		}
		if anyTokenIn(qTokens, nameTokens) {
			score += cfg.QuestionTokenWeight
			rs = append(rs, "question_token_hit")
		}

		if score > best.Score {
			best = ColumnChoice{Role: RoleID, Column: col, Score: round3(score), Reasons: rs}
		}
	}
	return s.acceptOrReject(best)
}

func (s *ColumnSelector) acceptOrReject(best ColumnChoice) ColumnChoice {
	if best.Score < s.cfg.MinAcceptScore {
		best.Column = nil
		best.Reasons = append(best.Reasons, "below_threshold")
	}
	return best
}

func anyTokenIn(tokens []string, candidates []string) bool {
	set := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		set[c] = struct{}{}
	}
	for _, t := range tokens {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}

// ProfileFromSnapshot builds an enriched TableProfile from flat inputs, the
// shape the orchestrator gets from the schema provider.
func ProfileFromSnapshot(snapshot TableSnapshot, columnTypes map[string]string, primaryKeys []string) TableProfile {
	pkSet := map[string]struct{}{}
	for _, pk := range primaryKeys {
		pkSet[strings.ToLower(strings.TrimSpace(pk))] = struct{}{}
	}
	typeOf := map[string]string{}
	for name, typ := range columnTypes {
		typeOf[strings.ToLower(strings.TrimSpace(name))] = typ
	}

	profile := TableProfile{
		FullName: snapshot.FullName,
		Name:     snapshot.Name,
		Schema:   snapshot.Schema,
	}
	for _, cname := range snapshot.Columns {
		key := strings.ToLower(strings.TrimSpace(cname))
		_, isPK := pkSet[key]
		profile.Columns = append(profile.Columns, ColumnSnapshot{
			Name: cname,
			Type: typeOf[key],
			PK:   isPK,
		})
	}
	return profile
}

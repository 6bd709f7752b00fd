// Package selection scores schema objects against a question: the table
// selector ranks candidate tables, the column selector assigns Date, Status
// and Id roles inside the chosen table. Scoring is weighted and explainable;
// every contribution leaves a reason string behind.
package selection

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jinzhu/inflection"

	"github.com/medagenda/query-engine/pkg/extraction"
	"github.com/medagenda/query-engine/pkg/textutil"
)

// TableSnapshot is the selector's lightweight view of one table.
type TableSnapshot struct {
	FullName string
	Name     string
	Schema   string
	Columns  []string
}

// SemanticHit is one ranked result from an external semantic retriever.
// Either Score (similarity, higher is better) or Distance (lower is better)
// is populated.
type SemanticHit struct {
	ID       string
	Score    float64
	Distance float64
	HasScore bool
	Metadata map[string]string
}

// SemanticRetriever is the narrow search capability the selector consumes.
// Implementations live outside the core.
type SemanticRetriever interface {
	Search(ctx context.Context, query string, n int, dialect, table string) ([]SemanticHit, error)
}

// TableCandidate is one scored table.
type TableCandidate struct {
	Table   TableSnapshot
	Score   float64
	Reasons []string
	Signals map[string]float64
}

// TableSelectionResult holds the ranked candidates and the chosen table, if
// any cleared the minimum score.
type TableSelectionResult struct {
	Candidates []TableCandidate
	Chosen     *TableCandidate
	Reasons    []string
}

// TableSelectorConfig holds the scoring weights and vocabularies. All of it
// is data; tests and deployments tune it without touching the selector.
type TableSelectorConfig struct {
	NameExactWeight   float64
	NamePartialWeight float64
	ColumnTokenWeight float64
	TimeColumnBoost   float64
	StatusColumnBoost float64
	SemanticHitWeight float64
	SchemaPrefixBoost float64
	MinScore          float64
	TopK              int
	MaxSemanticHits   int
	DomainSynonyms    map[string][]string
	TimeColumnHints   []string
	StatusColumnHints []string
}

// DefaultTableSelectorConfig returns the stock weights and the appointment
// domain synonym table.
func DefaultTableSelectorConfig() TableSelectorConfig {
	return TableSelectorConfig{
		NameExactWeight:   3.0,
		NamePartialWeight: 1.5,
		ColumnTokenWeight: 0.9,
		TimeColumnBoost:   1.2,
		StatusColumnBoost: 0.8,
		SemanticHitWeight: 2.0,
		SchemaPrefixBoost: 0.3,
		MinScore:          1.2,
		TopK:              5,
		MaxSemanticHits:   6,
		DomainSynonyms: map[string][]string{
			"cita":    {"cita", "citas", "appointment", "appointments", "turno", "turnos", "agenda", "agendamiento"},
			"usuario": {"usuario", "usuarios", "user", "users"},
			"persona": {"persona", "personas", "patient", "paciente", "pacientes", "client", "cliente", "clientes"},
			"fecha":   {"fecha", "fechas", "date", "datetime", "created_at", "updated_at"},
			"estado":  {"estado", "estatus", "status"},
		},
		TimeColumnHints: []string{
			"fecha", "fecharegistro", "fechacreacion", "fechaprogramada", "created_at",
			"createdon", "createddate", "datetime", "timestamp", "fecha_cita", "fechacita",
		},
		StatusColumnHints: []string{"estado", "estatus", "status"},
	}
}

// TableSelector ranks tables by lexical and structural affinity with the
// question, optionally boosted by semantic retrieval.
type TableSelector struct {
	cfg TableSelectorConfig
}

// NewTableSelector builds a selector; a zero config falls back to defaults.
func NewTableSelector(cfg TableSelectorConfig) *TableSelector {
	if cfg.TopK == 0 {
		cfg = DefaultTableSelectorConfig()
	}
	return &TableSelector{cfg: cfg}
}

// Select scores every table and returns the top-K plus the chosen one. A
// nil retriever skips the semantic boost. Zero tables is not an error: the
// result simply has no chosen candidate.
func (s *TableSelector) Select(ctx context.Context, question string, tables []TableSnapshot, entities *extraction.Entities, retriever SemanticRetriever, dialect string) TableSelectionResult {
	qTokens := s.tokenizeQuestion(question)

	var scored []TableCandidate
	for _, t := range tables {
		cand := s.scoreTable(qTokens, t, entities)
		if cand.Score > 0 {
			scored = append(scored, cand)
		}
	}

	var globalReasons []string
	if retriever != nil {
		hits, err := retriever.Search(ctx, question, s.cfg.MaxSemanticHits, dialect, "")
		if err == nil {
			if mapped := mapSemanticHits(hits); len(mapped) > 0 {
				globalReasons = append(globalReasons, "semantic_boost_applied")
				s.applySemanticBoost(scored, mapped)
			}
		} else {
			globalReasons = append(globalReasons, "semantic_search_failed")
		}
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	top := scored
	if len(top) > s.cfg.TopK {
		top = top[:s.cfg.TopK]
	}

	var chosen *TableCandidate
	if len(top) > 0 && top[0].Score >= s.cfg.MinScore {
		chosen = &top[0]
	}

	if len(top) == 0 {
		globalReasons = append(globalReasons, "no_candidates")
	} else if chosen == nil {
		globalReasons = append(globalReasons, "below_min_score")
	}

	return TableSelectionResult{Candidates: top, Chosen: chosen, Reasons: globalReasons}
}

// tokenizeQuestion tokenizes and expands via the domain synonym table.
// English plurals fold through inflection so "appointments" also carries
// the "appointment" signal.
func (s *TableSelector) tokenizeQuestion(question string) []string {
	base := textutil.Tokenize(question)
	expanded := make([]string, 0, len(base)*2)
	seen := map[string]struct{}{}
	add := func(tok string) {
		if _, ok := seen[tok]; !ok {
			seen[tok] = struct{}{}
			expanded = append(expanded, tok)
		}
	}
	for _, tok := range base {
		add(tok)
		if sing := inflection.Singular(tok); sing != tok {
			add(sing)
		}
	}
	for key, syns := range s.cfg.DomainSynonyms {
		hit := false
		for _, tok := range base {
			if tok == key || strings.Contains(tok, key) {
				hit = true
				break
			}
		}
		if hit {
			for _, syn := range syns {
				add(syn)
			}
		}
	}
	return expanded
}

func (s *TableSelector) scoreTable(qTokens []string, table TableSnapshot, entities *extraction.Entities) TableCandidate {
	cfg := s.cfg
	nameTokens := textutil.SplitIdent(table.Name)
	var schemaTokens []string
	if table.Schema != "" {
		schemaTokens = textutil.SplitIdent(table.Schema)
	}
	columnTokens := map[string]struct{}{}
	for _, c := range table.Columns {
		for _, tok := range textutil.SplitIdent(c) {
			columnTokens[tok] = struct{}{}
		}
	}

	var score float64
	var reasons []string
	signals := map[string]float64{}

	var exactHits []string
	for _, qt := range qTokens {
		if contains(nameTokens, qt) {
			exactHits = append(exactHits, qt)
		}
	}
	if len(exactHits) > 0 {
		score += cfg.NameExactWeight * float64(len(exactHits))
		signals["name_exact_hits"] = float64(len(exactHits))
		sort.Strings(exactHits)
		reasons = append(reasons, "name_exact:"+strings.Join(exactHits, ","))
	}

	partialHits := 0
	for _, qt := range qTokens {
		if contains(nameTokens, qt) {
			continue
		}
		for _, nt := range nameTokens {
			if isPartialMatch(qt, nt) {
				partialHits++
				break
			}
		}
	}
	if partialHits > 0 {
		score += cfg.NamePartialWeight * float64(partialHits)
		signals["name_partial_hits"] = float64(partialHits)
		reasons = append(reasons, fmt.Sprintf("name_partial:%d", partialHits))
	}

	colHits := 0
	for _, qt := range qTokens {
		if _, ok := columnTokens[qt]; ok {
			colHits++
		}
	}
	if colHits > 0 {
		score += cfg.ColumnTokenWeight * float64(colHits)
		signals["column_hits"] = float64(colHits)
		reasons = append(reasons, fmt.Sprintf("column_hits:%d", colHits))
	}

	if len(schemaTokens) > 0 {
		for _, qt := range qTokens {
			if contains(schemaTokens, qt) {
				score += cfg.SchemaPrefixBoost
				signals["schema_boost"] = cfg.SchemaPrefixBoost
				reasons = append(reasons, "schema_match")
				break
			}
		}
	}

	if hasTimeNeed(entities) && hasAnyHint(columnTokens, cfg.TimeColumnHints) {
		score += cfg.TimeColumnBoost
		signals["time_boost"] = cfg.TimeColumnBoost
		reasons = append(reasons, "time_column_hint")
	}

	if wantsStatus(qTokens) && hasAnyHint(columnTokens, cfg.StatusColumnHints) {
		score += cfg.StatusColumnBoost
		signals["status_boost"] = cfg.StatusColumnBoost
		reasons = append(reasons, "status_column_hint")
	}

	return TableCandidate{Table: table, Score: round4(score), Reasons: reasons, Signals: signals}
}

func hasTimeNeed(entities *extraction.Entities) bool {
	return entities != nil && len(entities.DateRanges) > 0
}

func wantsStatus(qTokens []string) bool {
	for _, t := range qTokens {
		if t == "estado" || t == "estatus" || t == "status" {
			return true
		}
	}
	return false
}

// isPartialMatch accepts prefix/suffix overlap for tokens longer than two
// runes; shorter tokens are too noisy.
func isPartialMatch(queryTok, targetTok string) bool {
	if len(queryTok) <= 2 || len(targetTok) <= 2 {
		return false
	}
	return strings.HasPrefix(targetTok, queryTok) || strings.HasSuffix(targetTok, queryTok)
}

func hasAnyHint(columnTokens map[string]struct{}, hints []string) bool {
	for _, h := range hints {
		if _, ok := columnTokens[h]; ok {
			return true
		}
	}
	return false
}

// mapSemanticHits folds raw hits into table-hint → score, keeping the best
// score per hint. A distance is converted to 1-min(distance,1) when no
// similarity score was given.
func mapSemanticHits(hits []SemanticHit) map[string]float64 {
	scores := map[string]float64{}
	for _, h := range hits {
		hint := strings.TrimSpace(h.Metadata["table"])
		if hint == "" {
			hint = strings.TrimSpace(h.ID)
		}
		if hint == "" {
			continue
		}
		score := h.Score
		if !h.HasScore {
			d := h.Distance
			if d > 1 {
				d = 1
			}
			score = 1 - d
			if score < 0 {
				score = 0
			}
		}
		key := strings.ToLower(hint)
		if score > scores[key] {
			scores[key] = score
		}
	}
	return scores
}

// applySemanticBoost adds a bounded boost to matching candidates. Semantic
// hits augment rule scores, never replace them.
func (s *TableSelector) applySemanticBoost(candidates []TableCandidate, tableScores map[string]float64) {
	byFull := map[string]*TableCandidate{}
	byShort := map[string]*TableCandidate{}
	for i := range candidates {
		byFull[strings.ToLower(candidates[i].Table.FullName)] = &candidates[i]
		byShort[strings.ToLower(candidates[i].Table.Name)] = &candidates[i]
	}
	for hint, semScore := range tableScores {
		target := byFull[hint]
		if target == nil {
			target = byShort[hint]
		}
		if target == nil {
			squashed := strings.ReplaceAll(textutil.Normalize(hint), " ", "")
			target = byFull[squashed]
			if target == nil {
				target = byShort[squashed]
			}
		}
		if target == nil {
			continue
		}
		bounded := semScore
		if bounded < 0.2 {
			bounded = 0.2
		}
		if bounded > 1 {
			bounded = 1
		}
		boost := s.cfg.SemanticHitWeight * bounded
		target.Score = round4(target.Score + boost)
		target.Signals["semantic_boost"] += boost
		target.Reasons = append(target.Reasons, fmt.Sprintf("semantic_hit:%s:%.3f", hint, boost))
	}
}

func contains(tokens []string, t string) bool {
	for _, x := range tokens {
		if x == t {
			return true
		}
	}
	return false
}

func round4(f float64) float64 {
	return float64(int(f*10000+0.5)) / 10000
}

func round3(f float64) float64 {
	return float64(int(f*1000+0.5)) / 1000
}

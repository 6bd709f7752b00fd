// Package intent classifies natural-language questions into the query
// intents the planner knows how to serve. Detection is rule based: weighted
// Spanish/English regex tables plus a handful of high-precision prefix rules.
// It never fails; ambiguous questions degrade to a configurable fallback.
package intent

import (
	"regexp"

	"github.com/medagenda/query-engine/pkg/textutil"
)

// Intent is the detected question type.
type Intent string

const (
	IntentCount     Intent = "count"
	IntentList      Intent = "list"
	IntentAggregate Intent = "aggregate"
	IntentDescribe  Intent = "describe"
	IntentUnknown   Intent = "unknown"
)

// DetectionResult is the outcome of a single classification.
type DetectionResult struct {
	Intent             Intent
	Confidence         float64
	NormalizedQuestion string
	Reasons            []string
	Flags              map[string]bool
}

// Rule is one weighted pattern contributing to an intent's score.
type Rule struct {
	Pattern *regexp.Regexp
	Weight  float64
}

// Config holds the pattern tables and thresholds. Patterns are data, not
// control flow: callers may supply their own tables for tuning or tests.
type Config struct {
	Patterns map[Intent][]Rule

	// MinConfidence is the floor below which the fallback policy applies.
	MinConfidence float64

	// TiePenalty is subtracted when the winner's margin over the runner-up
	// is small.
	TiePenalty float64

	// FallbackIntent is assumed when no rule produces a signal. Defaulting
	// ambiguous questions to a listing is a product decision, not an
	// algorithmic one, so it is overridable here.
	FallbackIntent Intent

	// CountPrefixBonus is added when the question starts with a counting
	// interrogative ("cuantas ", "cuantos ", "how many ").
	CountPrefixBonus float64
}

// DefaultConfig returns the stock ES/EN pattern tables.
func DefaultConfig() Config {
	rule := func(rx string, w float64) Rule {
		return Rule{Pattern: regexp.MustCompile(rx), Weight: w}
	}
	return Config{
		MinConfidence:    0.6,
		TiePenalty:       0.1,
		FallbackIntent:   IntentList,
		CountPrefixBonus: 1.2,
		Patterns: map[Intent][]Rule{
			IntentCount: {
				rule(`\bcuantas?\b`, 1.0),
				rule(`\bcuantos\b`, 1.0),
				rule(`\bnumero de\b`, 0.9),
				rule(`\bcantidad de\b`, 0.9),
				rule(`\btotal(?:es)? de\b`, 1.0),
				rule(`\bconteo\b`, 1.0),
				rule(`\bcount\b`, 1.0),
				rule(`\bhow many\b`, 1.0),
			},
			IntentList: {
				rule(`\blistar?\b`, 0.9),
				rule(`\blista\b`, 0.8),
				rule(`\bmostrar?\b`, 0.7),
				rule(`\bmuestrame\b`, 0.9),
				rule(`\bdame\b`, 0.6),
				rule(`\bver\b`, 0.5),
				rule(`\bconsultar?\b`, 0.6),
				rule(`\blist\b`, 0.8),
				rule(`\bselect\b`, 0.6),
				rule(`\bdistinct\b`, 0.6),
			},
			IntentAggregate: {
				rule(`\bpromedio\b`, 1.0),
				rule(`\bmedia\b`, 0.9),
				rule(`\bavg\b`, 1.0),
				rule(`\bsuma(?:toria)?\b`, 1.0),
				rule(`\bsum\b`, 1.0),
				rule(`\bmax(?:imo)?\b`, 0.9),
				rule(`\bmin(?:imo)?\b`, 0.9),
				rule(`\bmediana\b`, 0.9),
				rule(`\bpercentil(?:es)?\b`, 0.9),
				rule(`\bgroup by\b`, 0.9),
				rule(`\bagrup(?:ar|ados?)\b`, 0.9),
			},
			IntentDescribe: {
				rule(`\bcolumnas?\b`, 1.0),
				rule(`\bcampos?\b`, 1.0),
				rule(`\bestructura\b`, 1.0),
				rule(`\besquema\b`, 1.0),
				rule(`\bdescribe?r?\b`, 1.0),
				rule(`\bmetadata\b`, 0.9),
				rule(`\bque tablas?\b`, 0.9),
				rule(`\bcuales tablas\b`, 0.9),
				rule(`\ben que tablas\b`, 0.9),
				rule(`\bddl\b`, 0.8),
			},
		},
	}
}

// scoreOrder fixes the evaluation order so ties resolve deterministically.
var scoreOrder = []Intent{IntentCount, IntentList, IntentAggregate, IntentDescribe}

var (
	timeFlagRx = []*regexp.Regexp{
		regexp.MustCompile(`\b(19|20)\d{2}\b`),
		regexp.MustCompile(`\bhoy\b|\bayer\b|\bmanana\b`),
		regexp.MustCompile(`\beste (a|an)o\b|\beste mes\b|\bel mes pasado\b|\bel (a|an)o pasado\b`),
		regexp.MustCompile(`\ben (ene|feb|mar|abr|may|jun|jul|ago|sep|oct|nov|dic)\b`),
		regexp.MustCompile(`\ben (enero|febrero|marzo|abril|mayo|junio|julio|agosto|septiembre|octubre|noviembre|diciembre)\b`),
		regexp.MustCompile(`\btrimestre\b|\bcuatrimestre\b|\bsemestre\b|\bq[1-4]\b`),
	}
	groupFlagRx = []*regexp.Regexp{
		regexp.MustCompile(`\bgroup by\b`),
		regexp.MustCompile(`\bagrup(?:ar|ados?)\b`),
	}
)

// Detector scores questions against the configured pattern tables.
type Detector struct {
	cfg Config
}

// NewDetector builds a detector; a zero Config falls back to DefaultConfig.
func NewDetector(cfg Config) *Detector {
	if cfg.Patterns == nil {
		cfg = DefaultConfig()
	}
	if cfg.FallbackIntent == "" {
		cfg.FallbackIntent = IntentList
	}
	return &Detector{cfg: cfg}
}

// Detect classifies a question. It always returns a result: blank input maps
// to Unknown with zero confidence.
func (d *Detector) Detect(question string) DetectionResult {
	norm := textutil.Normalize(question)
	if norm == "" {
		return DetectionResult{
			Intent:             IntentUnknown,
			Confidence:         0,
			NormalizedQuestion: "",
			Reasons:            []string{"empty_input"},
			Flags:              map[string]bool{},
		}
	}

	scores := map[Intent]float64{}
	var reasons []string

	if hasCountPrefix(norm) {
		scores[IntentCount] += d.cfg.CountPrefixBonus
		reasons = append(reasons, "prefix_rule:count")
	}

	for _, it := range scoreOrder {
		for _, r := range d.cfg.Patterns[it] {
			if r.Pattern.MatchString(norm) {
				scores[it] += r.Weight
				reasons = append(reasons, "match:"+string(it)+":"+r.Pattern.String())
			}
		}
	}

	winner, winnerScore, second := best(scores)
	confidence := d.confidence(winnerScore, second)

	if confidence < d.cfg.MinConfidence {
		if winner != IntentUnknown {
			if confidence < 0.51 {
				confidence = 0.51
			}
		} else {
			winner = d.cfg.FallbackIntent
			confidence = 0.51
			reasons = append(reasons, "fallback:"+string(winner))
		}
	}

	return DetectionResult{
		Intent:             winner,
		Confidence:         round3(confidence),
		NormalizedQuestion: norm,
		Reasons:            reasons,
		Flags:              basicFlags(norm),
	}
}

func hasCountPrefix(norm string) bool {
	for _, p := range []string{"cuantas ", "cuantos ", "how many "} {
		if len(norm) >= len(p) && norm[:len(p)] == p {
			return true
		}
	}
	return false
}

// best picks the max-scoring intent in fixed order, excluding Unknown. A
// winner with no positive score is treated as Unknown so the fallback policy
// decides.
func best(scores map[Intent]float64) (winner Intent, winnerScore, second float64) {
	winner = IntentUnknown
	for _, it := range scoreOrder {
		sc := scores[it]
		if sc > winnerScore {
			second = winnerScore
			winner, winnerScore = it, sc
		} else if sc > second {
			second = sc
		}
	}
	if winnerScore <= 0 {
		return IntentUnknown, 0, 0
	}
	return winner, winnerScore, second
}

func (d *Detector) confidence(winnerScore, second float64) float64 {
	if winnerScore <= 0 {
		return 0
	}
	base := winnerScore / (winnerScore + second + 1e-6)
	if base > 1 {
		base = 1
	}
	margin := winnerScore - second
	switch {
	case margin < 0.2:
		return max2(0.5, base-d.cfg.TiePenalty)
	case margin < 0.5:
		return max2(0.55, base-d.cfg.TiePenalty*0.5)
	default:
		return min2(0.99, base+0.1)
	}
}

func basicFlags(norm string) map[string]bool {
	flags := map[string]bool{"has_time_filter": false, "has_grouping": false}
	for _, rx := range timeFlagRx {
		if rx.MatchString(norm) {
			flags["has_time_filter"] = true
			break
		}
	}
	for _, rx := range groupFlagRx {
		if rx.MatchString(norm) {
			flags["has_grouping"] = true
			break
		}
	}
	return flags
}

func max2(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func min2(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func round3(f float64) float64 {
	return float64(int(f*1000+0.5)) / 1000
}

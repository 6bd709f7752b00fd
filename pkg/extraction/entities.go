// Package extraction pulls the planner-facing entities out of a question:
// half-open date ranges with an inferred granularity, status values, a row
// limit and an ordering hint. Extraction never fails; fragments that do not
// parse are skipped.
package extraction

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/medagenda/query-engine/pkg/textutil"
)

// Granularity describes the temporal resolution of the extracted ranges.
type Granularity string

const (
	GranularityDay     Granularity = "day"
	GranularityMonth   Granularity = "month"
	GranularityQuarter Granularity = "quarter"
	GranularityYear    Granularity = "year"
	GranularityRange   Granularity = "range"
	GranularityUnknown Granularity = "unknown"
)

// Entities is the extracted, planner-ready view of a question.
type Entities struct {
	NormalizedQuestion string
	DateRanges         []DateRange
	Granularity        Granularity
	Statuses           []string
	Limit              int  // 0 means no explicit limit
	HasLimit           bool
	OrderHint          string // "asc", "desc" or ""
	Reasons            []string
}

// statusVocab is the fixed appointment-status vocabulary, normalized.
var statusVocab = map[string]struct{}{
	"programada": {}, "pendiente": {}, "confirmada": {}, "completada": {},
	"realizada": {}, "cancelada": {}, "rechazada": {}, "reprogramada": {},
	"no_show": {}, "ausente": {}, "en_proceso": {},
}

var statusKVRx = regexp.MustCompile(`\bestad(?:o|us)\s*[:=]\s*([a-z0-9_]+)\b`)

// limitRules are ordered; the first match wins.
var limitRules = []struct {
	rx    *regexp.Regexp
	order string
}{
	{regexp.MustCompile(`\btop\s*(\d{1,5})\b`), "desc"},
	{regexp.MustCompile(`\bprimer(?:os|as)?\s*(\d{1,5})\b`), "asc"},
	{regexp.MustCompile(`\bultim(?:os|as)?\s*(\d{1,5})\b`), "desc"},
}

var (
	hoyRx    = regexp.MustCompile(`\bhoy\b`)
	ayerRx   = regexp.MustCompile(`\bayer\b`)
	mananaRx = regexp.MustCompile(`\bmanana\b`)

	esteAnoRx    = regexp.MustCompile(`\beste (a|an)o\b|\bthis year\b`)
	anoPasadoRx  = regexp.MustCompile(`\bel (a|an)o pasado\b|\blast year\b`)
	proximoAnoRx = regexp.MustCompile(`\bel proximo (a|an)o\b|\bnext year\b`)

	esteMesRx    = regexp.MustCompile(`\beste mes\b|\bthis month\b`)
	mesPasadoRx  = regexp.MustCompile(`\bel mes pasado\b|\blast month\b`)
	proximoMesRx = regexp.MustCompile(`\bel proximo mes\b|\bnext month\b`)

	esteTrimRx   = regexp.MustCompile(`\beste trimestre\b|\bthis quarter\b`)
	trimPasadoRx = regexp.MustCompile(`\bel trimestre pasado\b|\blast quarter\b`)
)

// Extractor parses entities relative to a reference date.
type Extractor struct{}

// NewExtractor returns a stateless extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract parses the question. The reference date anchors relative
// expressions; a zero value means today (UTC).
func (e *Extractor) Extract(question string, reference time.Time) Entities {
	norm := textutil.Normalize(question)
	if norm == "" {
		return Entities{
			NormalizedQuestion: "",
			Granularity:        GranularityUnknown,
			Reasons:            []string{"empty_input"},
		}
	}
	if reference.IsZero() {
		reference = time.Now().UTC()
	}
	today := ymd(reference.Year(), int(reference.Month()), reference.Day())

	var reasons []string

	limit, order, limitReason := extractLimitAndOrder(norm)
	if limitReason != "" {
		reasons = append(reasons, limitReason)
	}

	statuses := extractStatuses(norm)
	if len(statuses) > 0 {
		reasons = append(reasons, "statuses:"+strings.Join(statuses, ","))
	}

	relRanges, relReasons := extractRelativePeriods(norm, today)
	reasons = append(reasons, relReasons...)

	// Each parser consumes what it matched so coarser parsers downstream do
	// not re-read fragments (the year inside "Q1 2025", the endpoints of a
	// "entre ... y ..." expression).
	rest := norm
	betweenRanges, rest := extractBetweenRanges(rest)
	if len(betweenRanges) > 0 {
		reasons = append(reasons, "between_ranges")
	}
	explicitRanges, rest := extractExplicitDates(rest)
	if len(explicitRanges) > 0 {
		reasons = append(reasons, "explicit_dates")
	}
	quarterRanges, rest := extractQuarters(rest)
	if len(quarterRanges) > 0 {
		reasons = append(reasons, "quarters")
	}
	monthRanges, rest := extractMonthYears(rest)
	if len(monthRanges) > 0 {
		reasons = append(reasons, "month_year")
	}
	yearRanges, _ := extractYears(rest)
	if len(yearRanges) > 0 {
		reasons = append(reasons, "bare_years")
	}

	var all []DateRange
	all = append(all, betweenRanges...)
	all = append(all, explicitRanges...)
	all = append(all, quarterRanges...)
	all = append(all, monthRanges...)
	all = append(all, yearRanges...)
	all = append(all, relRanges...)

	merged := dedupeRanges(all)

	return Entities{
		NormalizedQuestion: norm,
		DateRanges:         merged,
		Granularity:        inferGranularity(merged),
		Statuses:           statuses,
		Limit:              limit,
		HasLimit:           limit > 0,
		OrderHint:          order,
		Reasons:            reasons,
	}
}

// dedupeRanges drops duplicate (start, end) pairs, keeping the first label.
func dedupeRanges(ranges []DateRange) []DateRange {
	type key struct{ s, e int64 }
	seen := make(map[key]struct{}, len(ranges))
	out := make([]DateRange, 0, len(ranges))
	for _, r := range ranges {
		k := key{r.Start.Unix(), r.End.Unix()}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}

func inferGranularity(ranges []DateRange) Granularity {
	switch {
	case len(ranges) == 0:
		return GranularityUnknown
	case len(ranges) > 1:
		return GranularityRange
	}
	span := int(ranges[0].End.Sub(ranges[0].Start).Hours() / 24)
	switch {
	case span <= 1:
		return GranularityDay
	case span <= 32:
		return GranularityMonth
	case span <= 93:
		return GranularityQuarter
	case span <= 370:
		return GranularityYear
	default:
		return GranularityRange
	}
}

// extractStatuses merges explicit "estado:x" pairs with vocabulary hits.
// Order is preserved and duplicates dropped. Feminine plurals fold to the
// vocabulary's singular form so "canceladas" resolves to "cancelada".
func extractStatuses(norm string) []string {
	var found []string
	seen := map[string]struct{}{}
	add := func(s string) {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			found = append(found, s)
		}
	}
	for _, m := range statusKVRx.FindAllStringSubmatch(norm, -1) {
		add(m[1])
	}
	for _, tok := range textutil.Tokenize(norm) {
		if _, ok := statusVocab[tok]; ok {
			add(tok)
			continue
		}
		if singular := strings.TrimSuffix(tok, "s"); singular != tok {
			if _, ok := statusVocab[singular]; ok {
				add(singular)
			}
		}
	}
	return found
}

func extractLimitAndOrder(norm string) (int, string, string) {
	for _, rule := range limitRules {
		m := rule.rx.FindStringSubmatch(norm)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			continue
		}
		return n, rule.order, fmt.Sprintf("limit:%d:%s", n, rule.order)
	}
	return 0, "", ""
}

func extractRelativePeriods(norm string, today time.Time) ([]DateRange, []string) {
	var ranges []DateRange
	var reasons []string
	y, m := today.Year(), int(today.Month())

	if hoyRx.MatchString(norm) {
		ranges = append(ranges, DateRange{Start: today, End: today.AddDate(0, 0, 1), Label: "hoy"})
		reasons = append(reasons, "rel:hoy")
	}
	if ayerRx.MatchString(norm) {
		ranges = append(ranges, DateRange{Start: today.AddDate(0, 0, -1), End: today, Label: "ayer"})
		reasons = append(reasons, "rel:ayer")
	}
	if mananaRx.MatchString(norm) {
		d := today.AddDate(0, 0, 1)
		ranges = append(ranges, DateRange{Start: d, End: d.AddDate(0, 0, 1), Label: "manana"})
		reasons = append(reasons, "rel:manana")
	}

	if esteAnoRx.MatchString(norm) {
		ranges = append(ranges, DateRange{Start: ymd(y, 1, 1), End: ymd(y+1, 1, 1), Label: fmt.Sprintf("este ano %d", y)})
		reasons = append(reasons, "rel:este_ano")
	}
	if anoPasadoRx.MatchString(norm) {
		ranges = append(ranges, DateRange{Start: ymd(y-1, 1, 1), End: ymd(y, 1, 1), Label: fmt.Sprintf("ano pasado %d", y-1)})
		reasons = append(reasons, "rel:ano_pasado")
	}
	if proximoAnoRx.MatchString(norm) {
		ranges = append(ranges, DateRange{Start: ymd(y+1, 1, 1), End: ymd(y+2, 1, 1), Label: fmt.Sprintf("proximo ano %d", y+1)})
		reasons = append(reasons, "rel:proximo_ano")
	}

	if esteMesRx.MatchString(norm) {
		ny, nm := nextMonth(y, m)
		ranges = append(ranges, DateRange{Start: ymd(y, m, 1), End: ymd(ny, nm, 1), Label: "este mes"})
		reasons = append(reasons, "rel:este_mes")
	}
	if mesPasadoRx.MatchString(norm) {
		py, pm := y, m-1
		if m == 1 {
			py, pm = y-1, 12
		}
		ny, nm := nextMonth(py, pm)
		ranges = append(ranges, DateRange{Start: ymd(py, pm, 1), End: ymd(ny, nm, 1), Label: "mes pasado"})
		reasons = append(reasons, "rel:mes_pasado")
	}
	if proximoMesRx.MatchString(norm) {
		sy, sm := nextMonth(y, m)
		ey, em := nextMonth(sy, sm)
		ranges = append(ranges, DateRange{Start: ymd(sy, sm, 1), End: ymd(ey, em, 1), Label: "proximo mes"})
		reasons = append(reasons, "rel:proximo_mes")
	}

	if esteTrimRx.MatchString(norm) {
		q := (m-1)/3 + 1
		start, end := quarterBounds(y, q)
		ranges = append(ranges, DateRange{Start: start, End: end, Label: fmt.Sprintf("este trimestre Q%d", q)})
		reasons = append(reasons, "rel:este_trimestre")
	}
	if trimPasadoRx.MatchString(norm) {
		q := (m-1)/3 + 1
		qy := y
		if q == 1 {
			qy, q = y-1, 4
		} else {
			q--
		}
		start, end := quarterBounds(qy, q)
		ranges = append(ranges, DateRange{Start: start, End: end, Label: fmt.Sprintf("trimestre pasado Q%d %d", q, qy)})
		reasons = append(reasons, "rel:trimestre_pasado")
	}

	return ranges, reasons
}

package extraction

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/medagenda/query-engine/pkg/textutil"
)

// DateRange is a half-open interval [Start, End). The exclusive end avoids
// off-by-one bugs on month and year boundaries.
type DateRange struct {
	Start time.Time
	End   time.Time
	Label string
}

var monthNumbers = map[string]int{
	"enero": 1, "febrero": 2, "marzo": 3, "abril": 4, "mayo": 5, "junio": 6,
	"julio": 7, "agosto": 8, "septiembre": 9, "setiembre": 9, "octubre": 10,
	"noviembre": 11, "diciembre": 12,
	"ene": 1, "feb": 2, "mar": 3, "abr": 4, "may": 5, "jun": 6, "jul": 7,
	"ago": 8, "sep": 9, "set": 9, "oct": 10, "nov": 11, "dic": 12,
	"january": 1, "february": 2, "march": 3, "april": 4, "june": 6, "july": 7,
	"august": 8, "september": 9, "october": 10, "november": 11, "december": 12,
}

var (
	yearRx      = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	monthYearRx = regexp.MustCompile(`\b(enero|febrero|marzo|abril|mayo|junio|julio|agosto|septiembre|setiembre|octubre|noviembre|diciembre|january|february|march|april|june|july|august|september|october|november|december|ene|feb|mar|abr|may|jun|jul|ago|sep|set|oct|nov|dic)\s*(?:de |del )?\s*((?:19|20)\d{2})\b`)
	quarterRx1  = regexp.MustCompile(`\b(?:q|t)\s*([1-4])\s*((?:19|20)\d{2})\b`)
	quarterRx2  = regexp.MustCompile(`\b([1-4])(?:er|o)?\s+trimestre\s*(?:de)?\s*((?:19|20)\d{2})\b`)
	quarterRx3  = regexp.MustCompile(`\btrimestre\s*([1-4])\s*(?:de)?\s*((?:19|20)\d{2})\b`)
	isoDateRx   = regexp.MustCompile(`\b(?:19|20)\d{2}-\d{1,2}-\d{1,2}\b`)
	dmyDateRx   = regexp.MustCompile(`\b\d{1,2}/\d{1,2}/(?:19|20)\d{2}\b`)
	verbalRx    = regexp.MustCompile(`\b\d{1,2}\s+(?:de\s+)?[a-z]+\s+(?:de\s+)?(?:19|20)\d{2}\b`)
	betweenRx   = regexp.MustCompile(`\b(?:entre|del|desde)\s+(\S+(?:\s+de\s+\S+\s+de\s+\S+|\s+\S+\s+\S+)?)\s+(?:y|al|hasta)\s+(\S+(?:\s+de\s+\S+\s+de\s+\S+|\s+\S+\s+\S+)?)`)

	isoFullRx    = regexp.MustCompile(`^((?:19|20)\d{2})-(\d{1,2})-(\d{1,2})$`)
	dmyFullRx    = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/((?:19|20)\d{2})$`)
	verbalFullRx = regexp.MustCompile(`^(\d{1,2})\s*(?:de\s+)?([a-z]+)\s*(?:de\s+)?((?:19|20)\d{2})$`)
)

func isLeapYear(y int) bool {
	return y%4 == 0 && (y%100 != 0 || y%400 == 0)
}

func lastDayOfMonth(y, m int) int {
	switch m {
	case 1, 3, 5, 7, 8, 10, 12:
		return 31
	case 4, 6, 9, 11:
		return 30
	}
	if isLeapYear(y) {
		return 29
	}
	return 28
}

func nextMonth(y, m int) (int, int) {
	if m == 12 {
		return y + 1, 1
	}
	return y, m + 1
}

func ymd(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

// safeDate clamps the day into the month's valid range instead of letting
// the calendar roll over.
func safeDate(y, m, d int) time.Time {
	maxd := lastDayOfMonth(y, m)
	if d < 1 {
		d = 1
	}
	if d > maxd {
		d = maxd
	}
	return ymd(y, m, d)
}

func quarterBounds(y, q int) (time.Time, time.Time) {
	switch q {
	case 1:
		return ymd(y, 1, 1), ymd(y, 4, 1)
	case 2:
		return ymd(y, 4, 1), ymd(y, 7, 1)
	case 3:
		return ymd(y, 7, 1), ymd(y, 10, 1)
	}
	return ymd(y, 10, 1), ymd(y+1, 1, 1)
}

// mask blanks out the byte span [from, to) so later, coarser parsers do not
// re-match fragments of an expression that was already consumed. A bare year
// inside "2024-05-01" must not also produce a whole-year range.
func mask(text string, from, to int) string {
	return text[:from] + strings.Repeat(" ", to-from) + text[to:]
}

func extractYears(text string) ([]DateRange, string) {
	var ranges []DateRange
	for {
		loc := yearRx.FindStringIndex(text)
		if loc == nil {
			break
		}
		tok := text[loc[0]:loc[1]]
		text = mask(text, loc[0], loc[1])
		y, _ := strconv.Atoi(tok)
		ranges = append(ranges, DateRange{Start: ymd(y, 1, 1), End: ymd(y+1, 1, 1), Label: tok})
	}
	return ranges, text
}

func extractMonthYears(text string) ([]DateRange, string) {
	var ranges []DateRange
	for {
		loc := monthYearRx.FindStringSubmatchIndex(text)
		if loc == nil {
			break
		}
		name := text[loc[2]:loc[3]]
		yearTok := text[loc[4]:loc[5]]
		text = mask(text, loc[0], loc[1])
		mon, ok := monthNumbers[name]
		if !ok {
			continue
		}
		y, _ := strconv.Atoi(yearTok)
		ny, nm := nextMonth(y, mon)
		ranges = append(ranges, DateRange{
			Start: ymd(y, mon, 1),
			End:   ymd(ny, nm, 1),
			Label: fmt.Sprintf("%s %d", name, y),
		})
	}
	return ranges, text
}

func extractQuarters(text string) ([]DateRange, string) {
	var ranges []DateRange
	for _, rx := range []*regexp.Regexp{quarterRx1, quarterRx2, quarterRx3} {
		for {
			loc := rx.FindStringSubmatchIndex(text)
			if loc == nil {
				break
			}
			q, _ := strconv.Atoi(text[loc[2]:loc[3]])
			y, _ := strconv.Atoi(text[loc[4]:loc[5]])
			text = mask(text, loc[0], loc[1])
			start, end := quarterBounds(y, q)
			ranges = append(ranges, DateRange{Start: start, End: end, Label: fmt.Sprintf("Q%d %d", q, y)})
		}
	}
	return ranges, text
}

func parseISODate(token string) (time.Time, bool) {
	m := isoFullRx.FindStringSubmatch(token)
	if m == nil {
		return time.Time{}, false
	}
	y, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	dd, _ := strconv.Atoi(m[3])
	if mm < 1 || mm > 12 {
		return time.Time{}, false
	}
	return safeDate(y, mm, dd), true
}

func parseDMYDate(token string) (time.Time, bool) {
	m := dmyFullRx.FindStringSubmatch(token)
	if m == nil {
		return time.Time{}, false
	}
	dd, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	y, _ := strconv.Atoi(m[3])
	if mm < 1 || mm > 12 {
		return time.Time{}, false
	}
	return safeDate(y, mm, dd), true
}

// parseVerbalDate handles "1 de enero de 2025" and "10 enero 2024".
func parseVerbalDate(token string) (time.Time, bool) {
	m := verbalFullRx.FindStringSubmatch(token)
	if m == nil {
		return time.Time{}, false
	}
	dd, _ := strconv.Atoi(m[1])
	mon, ok := monthNumbers[textutil.StripAccents(m[2])]
	if !ok {
		return time.Time{}, false
	}
	y, _ := strconv.Atoi(m[3])
	return safeDate(y, mon, dd), true
}

func parseAnyDate(token string) (time.Time, bool) {
	token = strings.TrimSpace(token)
	if d, ok := parseISODate(token); ok {
		return d, true
	}
	if d, ok := parseDMYDate(token); ok {
		return d, true
	}
	return parseVerbalDate(token)
}

// extractExplicitDates finds standalone dates and returns them as single-day
// ranges, consuming the matched tokens.
func extractExplicitDates(text string) ([]DateRange, string) {
	var ranges []DateRange
	for _, rx := range []*regexp.Regexp{isoDateRx, dmyDateRx, verbalRx} {
		for {
			loc := rx.FindStringIndex(text)
			if loc == nil {
				break
			}
			tok := text[loc[0]:loc[1]]
			text = mask(text, loc[0], loc[1])
			d, ok := parseAnyDate(tok)
			if !ok {
				continue
			}
			ranges = append(ranges, DateRange{
				Start: d,
				End:   d.AddDate(0, 0, 1),
				Label: d.Format("2006-01-02"),
			})
		}
	}
	return ranges, text
}

// parseEndpoint parses one between-operand. The greedy capture can swallow
// words that follow the date ("2024-06-30 por favor"), so when the full
// operand does not parse, the bare first token is tried before giving up.
// The returned token is what actually parsed; callers mask only that much.
func parseEndpoint(raw string) (time.Time, string, bool) {
	if d, ok := parseAnyDate(raw); ok {
		return d, raw, true
	}
	if i := strings.IndexByte(raw, ' '); i > 0 {
		tok := raw[:i]
		if d, ok := parseAnyDate(tok); ok {
			return d, tok, true
		}
	}
	return time.Time{}, "", false
}

// extractBetweenRanges parses "entre A y B", "del A al B" and
// "desde A hasta B". Reversed endpoints are swapped; the right endpoint is
// inclusive in speech, so the half-open end is right+1d. Matched spans are
// consumed so the endpoint dates are not re-extracted on their own.
func extractBetweenRanges(text string) ([]DateRange, string) {
	var ranges []DateRange
	for {
		loc := betweenRx.FindStringSubmatchIndex(text)
		if loc == nil {
			break
		}
		left, leftTok, lok := parseEndpoint(text[loc[2]:loc[3]])
		right, rightTok, rok := parseEndpoint(text[loc[4]:loc[5]])
		if !lok || !rok {
			// Leave the connective words blanked so the scan terminates,
			// but keep the operands for the standalone date parsers.
			text = mask(text, loc[0], loc[2])
			continue
		}
		// Trailing words the capture swallowed stay in the text.
		text = mask(text, loc[0], loc[4]+len(rightTok))
		label := leftTok + " - " + rightTok
		if right.Before(left) {
			left, right = right, left
		}
		ranges = append(ranges, DateRange{Start: left, End: right.AddDate(0, 0, 1), Label: label})
	}
	return ranges, text
}

package planner

import (
	"sort"
	"strings"

	"github.com/medagenda/query-engine/pkg/schema"
	"github.com/medagenda/query-engine/pkg/textutil"
)

// JoinEdge is one proposed join pair between two tables. The finder is
// name-heuristic only; it never touches the database.
type JoinEdge struct {
	LeftTable   string
	LeftColumn  string
	RightTable  string
	RightColumn string
	Score       float64
}

// SuggestJoins ranks join candidates between two catalog tables: PK paired
// with an id-like column carrying the other table's name tokens, mutual
// id-like columns, and verbatim same-name columns. PK participation adds a
// bonus per side.
func SuggestJoins(catalog *schema.Catalog, fromTable, toTable string) []JoinEdge {
	left := catalog.Table(fromTable)
	right := catalog.Table(toTable)
	if left == nil || right == nil {
		return nil
	}

	leftPK := lowerSet(left.PKColumns)
	rightPK := lowerSet(right.PKColumns)

	var edges []JoinEdge
	for _, pair := range commonIDCandidates(left, right) {
		score := 1.0
		if _, ok := leftPK[strings.ToLower(pair[0])]; ok {
			score += 0.5
		}
		if _, ok := rightPK[strings.ToLower(pair[1])]; ok {
			score += 0.5
		}
		edges = append(edges, JoinEdge{
			LeftTable:   left.FullName,
			LeftColumn:  pair[0],
			RightTable:  right.FullName,
			RightColumn: pair[1],
			Score:       score,
		})
	}

	sort.SliceStable(edges, func(i, j int) bool { return edges[i].Score > edges[j].Score })
	return edges
}

// BestJoin returns the top-ranked candidate, or nil when none exists.
func BestJoin(catalog *schema.Catalog, fromTable, toTable string) *JoinEdge {
	edges := SuggestJoins(catalog, fromTable, toTable)
	if len(edges) == 0 {
		return nil
	}
	return &edges[0]
}

func commonIDCandidates(left, right *schema.TableInfo) [][2]string {
	ltoks := textutil.SplitIdent(left.Name)
	rtoks := textutil.SplitIdent(right.Name)

	var candidates [][2]string

	// PK on one side, id-like column naming the other table on the opposite side.
	for _, pk := range left.PKColumns {
		for _, rcol := range sortedColumns(right) {
			nrm := strings.ToLower(rcol)
			if containsAny(nrm, ltoks) && idLike(nrm) {
				candidates = append(candidates, [2]string{strings.ToLower(pk), rcol})
			}
		}
	}
	for _, pk := range right.PKColumns {
		for _, lcol := range sortedColumns(left) {
			nrm := strings.ToLower(lcol)
			if containsAny(nrm, rtoks) && idLike(nrm) {
				candidates = append(candidates, [2]string{lcol, strings.ToLower(pk)})
			}
		}
	}

	// Id-like columns on both sides cross-referencing each other's tokens.
	for _, lcol := range sortedColumns(left) {
		ln := strings.ToLower(lcol)
		if !strings.Contains(ln, "id") {
			continue
		}
		for _, rcol := range sortedColumns(right) {
			rn := strings.ToLower(rcol)
			if strings.Contains(rn, "id") && (containsAny(ln, rtoks) || containsAny(rn, ltoks)) {
				candidates = append(candidates, [2]string{lcol, rcol})
			}
		}
	}

	// Same column name verbatim on both sides.
	for _, lcol := range sortedColumns(left) {
		if _, ok := right.Columns[strings.ToLower(lcol)]; ok {
			candidates = append(candidates, [2]string{lcol, lcol})
		}
	}

	seen := map[[2]string]struct{}{}
	var uniq [][2]string
	for _, c := range candidates {
		key := [2]string{strings.ToLower(c[0]), strings.ToLower(c[1])}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		uniq = append(uniq, c)
	}
	return uniq
}

func sortedColumns(t *schema.TableInfo) []string {
	names := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		names = append(names, c.Name)
	}
	sort.Strings(names)
	return names
}

func idLike(name string) bool {
	return strings.Contains(name, "id") || strings.HasSuffix(name, "_id") || strings.HasPrefix(name, "id_")
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if t != "" && strings.Contains(s, t) {
			return true
		}
	}
	return false
}

func lowerSet(vals []string) map[string]struct{} {
	set := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		set[strings.ToLower(v)] = struct{}{}
	}
	return set
}

package agent

import (
	"regexp"
	"strconv"
	"strings"
)

// cleanSQL strips markdown fences and a trailing semicolon from a raw LM
// response, the same cleanup translate_nl_to_sql applied before any
// further processing.
func cleanSQL(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```sql")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ";")
	return strings.TrimSpace(s)
}

var roundPattern = regexp.MustCompile(`(?i)ROUND\s*\(\s*(.*?)\s*,\s*(\d+)\s*\)`)

// divisionPattern recognizes a simple numerator/denominator arithmetic
// division between two single tokens (identifiers, dotted references,
// or parenthesized expressions), so it can be wrapped in NULLIF. It
// intentionally does not attempt to parse full SQL expression grammar,
// and stops at whitespace so it never swallows surrounding clauses.
var divisionPattern = regexp.MustCompile(`(\([^()]*\)|[\w.]+)\s*/\s*(\([^()]*\)|[\w.]+)`)

// postprocessSQL applies three domain-independent fixups after
// generation: inject a default LIMIT when none is present, cast the
// first argument of ROUND(...) to NUMERIC when it is not already cast,
// and wrap bare divisions in NULLIF to prevent division-by-zero at
// execution time. Deployment-specific column or table substitutions are
// deliberately out of scope here — those belong in the prompt, not in
// generic SQL hygiene.
func postprocessSQL(sql string, defaultLimit int) string {
	sql = injectLimit(sql, defaultLimit)
	sql = fixRoundCasts(sql)
	sql = guardDivisions(sql)
	return sql
}

func injectLimit(sql string, limit int) string {
	lower := strings.ToLower(sql)
	if strings.Contains(lower, "limit") {
		return sql
	}
	return sql + " LIMIT " + strconv.Itoa(limit)
}

func fixRoundCasts(sql string) string {
	lower := strings.ToLower(sql)
	if !strings.Contains(lower, "round(") {
		return sql
	}
	return roundPattern.ReplaceAllStringFunc(sql, func(match string) string {
		groups := roundPattern.FindStringSubmatch(match)
		if len(groups) != 3 {
			return match
		}
		expr, digits := groups[1], groups[2]
		exprLower := strings.ToLower(expr)
		if strings.Contains(exprLower, "::numeric") || strings.Contains(exprLower, "as numeric") {
			return match
		}
		return "ROUND(CAST(" + expr + " AS NUMERIC), " + digits + ")"
	})
}

// guardDivisions wraps a bare denominator in NULLIF(denominator, 0)
// unless it is already guarded, applying the fix iteratively until a
// pass produces no further change.
func guardDivisions(sql string) string {
	current := sql
	for {
		next := divisionPattern.ReplaceAllStringFunc(current, func(match string) string {
			groups := divisionPattern.FindStringSubmatch(match)
			if len(groups) != 3 {
				return match
			}
			numerator := strings.TrimSpace(groups[1])
			denominator := strings.TrimSpace(groups[2])
			if strings.HasPrefix(strings.ToLower(denominator), "nullif") {
				return match
			}
			return numerator + " / NULLIF(" + denominator + ", 0)"
		})
		if next == current {
			return current
		}
		current = next
	}
}

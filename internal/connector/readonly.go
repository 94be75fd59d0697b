package connector

import (
	"regexp"
	"strings"
)

// writeVerbPattern matches the leading statement verb for write
// operations a generated statement must never be allowed to run,
// on by default.
var writeVerbPattern = regexp.MustCompile(`(?i)^\s*(INSERT|UPDATE|DELETE|DROP|ALTER|TRUNCATE|CREATE|GRANT|REVOKE|REPLACE)\b`)

// IsReadOnly reports whether sql is a read-only statement: it does not
// validate full SQL grammar, only rejects the write verbs a generated
// statement could plausibly open with.
func IsReadOnly(sql string) bool {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return false
	}
	return !writeVerbPattern.MatchString(trimmed)
}

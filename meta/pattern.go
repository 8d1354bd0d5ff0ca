// Package meta resolves schema/table/column/index/key metadata from the
// query engine's type catalog, filtered by SQL LIKE-style patterns.
package meta

import (
	"regexp"
	"strings"
)

// Matches tests a name against a SQL wildcard pattern: '%' matches any
// sequence, '_' matches any single character, and an empty pattern matches
// everything. The pattern is translated to a full-match regular expression;
// other regexp metacharacters pass through untranslated, which is the wire
// protocol's documented behavior.
func Matches(name, pattern string) bool {
	if pattern == "" {
		return true
	}

	expr := strings.ReplaceAll(pattern, "%", ".*")
	expr = strings.ReplaceAll(expr, "_", ".")

	matched, err := regexp.MatchString("^(?:"+expr+")$", name)
	return err == nil && matched
}

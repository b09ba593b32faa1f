package memory

import (
	"fmt"
	"regexp"
	"strings"
)

// likePattern translates a SQL LIKE pattern into an anchored regexp with the
// same case-sensitive semantics as PostgreSQL's LIKE with the default escape.
func likePattern(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString(`(?s)^`)
	escaped := false
	for _, r := range pattern {
		switch {
		case escaped:
			b.WriteString(regexp.QuoteMeta(string(r)))
			escaped = false
		case r == '\\':
			escaped = true
		case r == '%':
			b.WriteString(`.*`)
		case r == '_':
			b.WriteString(`.`)
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	if escaped {
		return nil, fmt.Errorf("LIKE pattern %q must not end with escape character", pattern)
	}
	b.WriteString(`$`)
	return regexp.Compile(b.String())
}

// Package permission implements the attribute-based permission engine:
// glob-scoped rule matching, prebuilt role rule sets, actor resolution,
// and the fail-closed authorization gate.
package permission

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/org/secretplane/pkg/models"
)

// MatchesConditions evaluates a rule's conditions against the instance
// fields of the resource being checked. An empty condition set always
// matches. Unknown field names never match, so a rule scoped on a field the
// caller did not supply stays scoped instead of silently widening.
func MatchesConditions(conditions map[string]models.Condition, fields models.SubjectFields) bool {
	for name, cond := range conditions {
		value, ok := fields.Field(name)
		if !ok {
			return false
		}
		if cond.Glob != "" {
			if !matchGlob(cond.Glob, value) {
				return false
			}
			continue
		}
		if cond.Eq != value {
			return false
		}
	}
	return true
}

// matchGlob matches value against a shell-glob pattern with loose slash
// boundaries: a pattern without a trailing slash also matches anything
// nested below it, so "/foo" covers "/foo/bar/baz".
func matchGlob(pattern, value string) bool {
	if ok, err := doublestar.Match(pattern, value); err == nil && ok {
		return true
	}
	loose := strings.TrimSuffix(pattern, "/") + "/**"
	ok, err := doublestar.Match(loose, value)
	return err == nil && ok
}

package permission

import (
	"testing"

	"github.com/org/secretplane/pkg/models"
)

func TestMatchesConditionsEmpty(t *testing.T) {
	if !MatchesConditions(nil, models.SubjectFields{Environment: "prod", SecretPath: "/a"}) {
		t.Error("empty condition set should always match")
	}
	if !MatchesConditions(map[string]models.Condition{}, models.SubjectFields{}) {
		t.Error("empty condition map should always match")
	}
}

func TestMatchesConditionsEquality(t *testing.T) {
	conds := map[string]models.Condition{
		"environment": {Eq: "prod"},
	}
	if !MatchesConditions(conds, models.SubjectFields{Environment: "prod"}) {
		t.Error("expected exact environment match")
	}
	if MatchesConditions(conds, models.SubjectFields{Environment: "dev"}) {
		t.Error("expected environment mismatch to fail")
	}
}

func TestMatchesConditionsGlob(t *testing.T) {
	cases := []struct {
		name    string
		pattern string
		path    string
		want    bool
	}{
		{"exact", "/prod/db", "/prod/db", true},
		{"single star same level", "/prod/*", "/prod/db", true},
		{"single star wrong prefix", "/prod/*", "/dev/db", false},
		{"loose slashes match deeper", "/prod/*", "/prod/db/creds", true},
		{"bare prefix matches subtree", "/prod", "/prod/db", true},
		{"doublestar", "/prod/**", "/prod/a/b/c", true},
		{"doublestar other tree", "/prod/**", "/dev/a", false},
		{"root glob", "/**", "/anything/here", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conds := map[string]models.Condition{
				"secretPath": {Glob: tc.pattern},
			}
			got := MatchesConditions(conds, models.SubjectFields{SecretPath: tc.path})
			if got != tc.want {
				t.Errorf("pattern=%q path=%q: expected %v got %v", tc.pattern, tc.path, tc.want, got)
			}
		})
	}
}

func TestMatchesConditionsCombined(t *testing.T) {
	conds := map[string]models.Condition{
		"environment": {Eq: "prod"},
		"secretPath":  {Glob: "/api/*"},
	}
	if !MatchesConditions(conds, models.SubjectFields{Environment: "prod", SecretPath: "/api/key"}) {
		t.Error("both conditions hold, expected match")
	}
	if MatchesConditions(conds, models.SubjectFields{Environment: "dev", SecretPath: "/api/key"}) {
		t.Error("environment mismatch should fail even when path matches")
	}
}

func TestMatchesConditionsUnknownField(t *testing.T) {
	conds := map[string]models.Condition{
		"owner": {Eq: "me"},
	}
	if MatchesConditions(conds, models.SubjectFields{Environment: "prod"}) {
		t.Error("condition on an unknown field must never match")
	}
}

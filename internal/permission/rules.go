package permission

import "github.com/org/secretplane/pkg/models"

// Permission is an evaluable set of rules resolved for one actor in one
// scope. Union semantics: an action is granted if any rule matches the
// action/subject pair and its conditions hold against the instance.
// A Permission is never mutated after construction, so the prebuilt
// built-in role instances are safe to share across requests.
type Permission struct {
	rules []models.Rule
}

// NewPermission builds a Permission from rules. The slice is copied so the
// caller cannot mutate the permission afterwards.
func NewPermission(rules []models.Rule) *Permission {
	owned := make([]models.Rule, len(rules))
	copy(owned, rules)
	return &Permission{rules: owned}
}

// Can reports whether the permission grants action on subject for the
// given instance fields.
func (p *Permission) Can(action models.Action, subject models.Subject, fields models.SubjectFields) bool {
	for _, r := range p.rules {
		if r.Action != action || r.Subject != subject {
			continue
		}
		if MatchesConditions(r.Conditions, fields) {
			return true
		}
	}
	return false
}

// Rules returns a copy of the rule list, for serialization to clients.
func (p *Permission) Rules() []models.Rule {
	out := make([]models.Rule, len(p.rules))
	copy(out, p.rules)
	return out
}

package permission

import (
	"github.com/org/secretplane/internal/apperr"
	"github.com/org/secretplane/pkg/models"
)

// Check is the single authorization choke point. Every protected operation
// must call it before mutating state or serving a sensitive read; callers
// must not implement ad hoc role checks. It fails closed: a nil permission
// or an unmatched action/subject pair yields Forbidden.
//
// When the subject carries instance fields (environment, secretPath) the
// caller must pass them so glob-scoped rules are evaluated; omitting them
// would silently degrade a scoped rule check and is treated as a defect.
func Check(p *Permission, action models.Action, subject models.Subject, fields models.SubjectFields) error {
	if p == nil || !p.Can(action, subject, fields) {
		return apperr.Forbidden(string(action), string(subject))
	}
	return nil
}

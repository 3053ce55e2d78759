package permission

import (
	"testing"

	"github.com/org/secretplane/internal/apperr"
	"github.com/org/secretplane/pkg/models"
)

// Scenario: viewer on a project attempting a create must get Forbidden,
// never a silent pass. There is no code path that defaults to allow.
func TestGateFailClosed(t *testing.T) {
	viewer := ViewerProjectPermission()

	err := Check(viewer, models.ActionCreate, models.SubjectSecrets, models.SubjectFields{})
	if err == nil {
		t.Fatal("viewer create secrets should be forbidden")
	}
	if !apperr.IsForbidden(err) {
		t.Fatalf("expected ForbiddenError, got %T: %v", err, err)
	}

	if err := Check(viewer, models.ActionRead, models.SubjectSecrets, models.SubjectFields{}); err != nil {
		t.Fatalf("viewer read secrets should be allowed: %v", err)
	}
}

func TestGateNilPermission(t *testing.T) {
	err := Check(nil, models.ActionRead, models.SubjectSecrets, models.SubjectFields{})
	if !apperr.IsForbidden(err) {
		t.Fatalf("nil permission must be forbidden, got %v", err)
	}
}

func TestGateEveryUnmatchedPairForbidden(t *testing.T) {
	perm := NewPermission([]models.Rule{
		{Action: models.ActionRead, Subject: models.SubjectSecrets},
	})
	actions := []models.Action{models.ActionRead, models.ActionCreate, models.ActionEdit, models.ActionDelete}
	subjects := []models.Subject{models.SubjectSecrets, models.SubjectSecretFolders, models.SubjectRole}
	for _, act := range actions {
		for _, sub := range subjects {
			err := Check(perm, act, sub, models.SubjectFields{})
			granted := act == models.ActionRead && sub == models.SubjectSecrets
			if granted && err != nil {
				t.Errorf("%s %s: expected allow, got %v", act, sub, err)
			}
			if !granted && !apperr.IsForbidden(err) {
				t.Errorf("%s %s: expected Forbidden, got %v", act, sub, err)
			}
		}
	}
}

// Instance fields must flow through the gate so glob conditions evaluate.
func TestGatePassesInstanceFields(t *testing.T) {
	perm := NewPermission([]models.Rule{
		{
			Action:  models.ActionRead,
			Subject: models.SubjectSecrets,
			Conditions: map[string]models.Condition{
				"secretPath": {Glob: "/prod/*"},
			},
		},
	})

	if err := Check(perm, models.ActionRead, models.SubjectSecrets, models.SubjectFields{SecretPath: "/prod/db"}); err != nil {
		t.Fatalf("in-scope path should be allowed: %v", err)
	}
	err := Check(perm, models.ActionRead, models.SubjectSecrets, models.SubjectFields{SecretPath: "/dev/db"})
	if !apperr.IsForbidden(err) {
		t.Fatalf("out-of-scope path should be forbidden, got %v", err)
	}
}

package permission

import "github.com/org/secretplane/pkg/models"

// Built-in role rule sets, constructed exactly once at process start and
// shared read-only across all requests. Built-ins carry no conditions;
// only custom roles can be path-scoped, since conditions are exposed
// through the rule-authoring API alone. Any future "customize a built-in"
// feature must copy these into a new Permission, never mutate them.
var (
	adminProjectPermission  = NewPermission(buildAdminProjectRules())
	memberProjectPermission = NewPermission(buildMemberProjectRules())
	viewerProjectPermission = NewPermission(buildViewerProjectRules())

	adminOrgPermission  = NewPermission(buildAdminOrgRules())
	memberOrgPermission = NewPermission(buildMemberOrgRules())

	// Legacy service tokens sit outside RBAC entirely; they resolve to a
	// fixed viewer-equivalent permission regardless of recorded grants.
	serviceTokenPermission = NewPermission(buildViewerProjectRules())
)

// AdminProjectPermission returns the shared admin rule set for a project.
func AdminProjectPermission() *Permission { return adminProjectPermission }

// MemberProjectPermission returns the shared member rule set for a project.
func MemberProjectPermission() *Permission { return memberProjectPermission }

// ViewerProjectPermission returns the shared viewer rule set for a project.
func ViewerProjectPermission() *Permission { return viewerProjectPermission }

// AdminOrgPermission returns the shared org admin rule set.
func AdminOrgPermission() *Permission { return adminOrgPermission }

// MemberOrgPermission returns the shared org member rule set.
func MemberOrgPermission() *Permission { return memberOrgPermission }

// ServiceTokenPermission returns the fixed permission for legacy service
// tokens.
func ServiceTokenPermission() *Permission { return serviceTokenPermission }

var allActions = []models.Action{
	models.ActionRead, models.ActionCreate, models.ActionEdit, models.ActionDelete,
}

func grantAll(rules []models.Rule, subjects ...models.Subject) []models.Rule {
	for _, sub := range subjects {
		for _, act := range allActions {
			rules = append(rules, models.Rule{Action: act, Subject: sub})
		}
	}
	return rules
}

func grant(rules []models.Rule, action models.Action, subjects ...models.Subject) []models.Rule {
	for _, sub := range subjects {
		rules = append(rules, models.Rule{Action: action, Subject: sub})
	}
	return rules
}

func buildAdminProjectRules() []models.Rule {
	var rules []models.Rule
	rules = grantAll(rules,
		models.SubjectSecrets,
		models.SubjectSecretFolders,
		models.SubjectCommits,
		models.SubjectRole,
		models.SubjectMember,
		models.SubjectEnvironments,
		models.SubjectTags,
		models.SubjectIPAllowlist,
		models.SubjectServiceTokens,
		models.SubjectSettings,
		models.SubjectIntegrations,
		models.SubjectWebhooks,
		models.SubjectIdentity,
	)
	rules = grant(rules, models.ActionRead, models.SubjectAuditLogs, models.SubjectSecretRollback)
	rules = grant(rules, models.ActionCreate, models.SubjectSecretRollback)
	rules = grant(rules, models.ActionEdit, models.SubjectProject)
	rules = grant(rules, models.ActionDelete, models.SubjectProject)
	return rules
}

func buildMemberProjectRules() []models.Rule {
	var rules []models.Rule
	rules = grantAll(rules,
		models.SubjectSecrets,
		models.SubjectSecretFolders,
		models.SubjectTags,
		models.SubjectIntegrations,
		models.SubjectWebhooks,
	)
	rules = grant(rules, models.ActionRead,
		models.SubjectCommits,
		models.SubjectMember,
		models.SubjectRole,
		models.SubjectEnvironments,
		models.SubjectSettings,
		models.SubjectIPAllowlist,
		models.SubjectServiceTokens,
		models.SubjectIdentity,
		models.SubjectSecretRollback,
	)
	rules = grant(rules, models.ActionCreate, models.SubjectServiceTokens, models.SubjectSecretRollback)
	rules = grant(rules, models.ActionCreate, models.SubjectEnvironments)
	return rules
}

func buildViewerProjectRules() []models.Rule {
	var rules []models.Rule
	rules = grant(rules, models.ActionRead,
		models.SubjectSecrets,
		models.SubjectSecretFolders,
		models.SubjectCommits,
		models.SubjectMember,
		models.SubjectRole,
		models.SubjectEnvironments,
		models.SubjectTags,
		models.SubjectIntegrations,
		models.SubjectWebhooks,
		models.SubjectSettings,
	)
	return rules
}

func buildAdminOrgRules() []models.Rule {
	var rules []models.Rule
	rules = grantAll(rules,
		models.SubjectRole,
		models.SubjectMember,
		models.SubjectSettings,
		models.SubjectIdentity,
		models.SubjectIPAllowlist,
	)
	rules = grant(rules, models.ActionRead, models.SubjectAuditLogs)
	rules = grant(rules, models.ActionCreate, models.SubjectProject)
	rules = grant(rules, models.ActionDelete, models.SubjectProject)
	return rules
}

func buildMemberOrgRules() []models.Rule {
	var rules []models.Rule
	rules = grant(rules, models.ActionRead,
		models.SubjectRole,
		models.SubjectMember,
		models.SubjectSettings,
		models.SubjectIdentity,
	)
	rules = grant(rules, models.ActionCreate, models.SubjectProject)
	return rules
}

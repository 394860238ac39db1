package authority

import (
	"fmt"
	"strings"

	"foreman/internal/model"
)

// Decision is the outcome of a write check. MatchedRule is the pattern that
// decided the outcome, or empty when no rule matched (default deny).
type Decision struct {
	Allowed     bool
	RoleID      string
	Path        string
	MatchedRule string
	Reason      string
}

// Enforcer evaluates a role's ordered authority rules against proposed
// write paths. Rules are immutable after construction; evaluation is pure
// and safe for concurrent use.
type Enforcer struct {
	rules map[string][]model.AuthorityRule
}

func NewEnforcer(roles []model.Role) *Enforcer {
	rules := make(map[string][]model.AuthorityRule, len(roles))
	for _, role := range roles {
		rules[role.ID] = append([]model.AuthorityRule(nil), role.Authority...)
	}
	return &Enforcer{rules: rules}
}

// CheckWrite evaluates the role's rule list in order; the first matching
// pattern wins. A path with no matching rule is denied: authority is
// granted explicitly or not at all.
func (e *Enforcer) CheckWrite(roleID string, writePath string) Decision {
	decision := Decision{RoleID: roleID, Path: normalizePath(writePath)}
	rules, ok := e.rules[roleID]
	if !ok {
		decision.Reason = fmt.Sprintf("unknown role %q", roleID)
		return decision
	}
	for _, rule := range rules {
		if matchPattern(rule.Pattern, decision.Path) {
			decision.Allowed = rule.Allow
			decision.MatchedRule = rule.Pattern
			if rule.Allow {
				decision.Reason = fmt.Sprintf("allowed by %q", rule.Pattern)
			} else {
				decision.Reason = fmt.Sprintf("denied by %q", rule.Pattern)
			}
			return decision
		}
	}
	decision.Reason = "no matching rule (default deny)"
	return decision
}

// CheckWrites validates a batch of proposed writes all-or-nothing: the
// first denial is returned and nothing should be committed.
func (e *Enforcer) CheckWrites(roleID string, writes []model.ProposedWrite) (Decision, bool) {
	for _, write := range writes {
		decision := e.CheckWrite(roleID, write.Path)
		if !decision.Allowed {
			return decision, false
		}
	}
	return Decision{Allowed: true, RoleID: roleID}, true
}

// Rules returns the role's authority snapshot for embedding in a
// delegation request.
func (e *Enforcer) Rules(roleID string) []model.AuthorityRule {
	rules, ok := e.rules[roleID]
	if !ok {
		return nil
	}
	return append([]model.AuthorityRule(nil), rules...)
}

func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimPrefix(p, "./")
	return strings.TrimPrefix(p, "/")
}

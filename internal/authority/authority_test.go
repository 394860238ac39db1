package authority

import (
	"testing"

	"foreman/internal/model"
)

func testRoles() []model.Role {
	return []model.Role{
		{
			ID:            "engineer",
			MaxConcurrent: 1,
			Authority: []model.AuthorityRule{
				{Pattern: "src/generated/**", Allow: false},
				{Pattern: "src/**", Allow: true},
				{Pattern: "tests/**", Allow: true},
			},
		},
		{
			ID:            "docs",
			MaxConcurrent: 1,
			Authority: []model.AuthorityRule{
				{Pattern: "docs/**", Allow: true},
			},
		},
	}
}

func TestFirstMatchingRuleWins(t *testing.T) {
	enforcer := NewEnforcer(testRoles())

	decision := enforcer.CheckWrite("engineer", "src/generated/api.go")
	if decision.Allowed {
		t.Fatalf("expected deny rule to win over the broader allow: %+v", decision)
	}
	if decision.MatchedRule != "src/generated/**" {
		t.Fatalf("expected matched rule src/generated/**, got %q", decision.MatchedRule)
	}

	decision = enforcer.CheckWrite("engineer", "src/server/main.go")
	if !decision.Allowed {
		t.Fatalf("expected src write to be allowed: %+v", decision)
	}
}

func TestDefaultDeny(t *testing.T) {
	enforcer := NewEnforcer(testRoles())
	decision := enforcer.CheckWrite("engineer", "ops/deploy.sh")
	if decision.Allowed {
		t.Fatalf("expected unmatched path to be denied")
	}
	if decision.MatchedRule != "" {
		t.Fatalf("expected empty matched rule for default deny, got %q", decision.MatchedRule)
	}
}

func TestUnknownRoleDenied(t *testing.T) {
	enforcer := NewEnforcer(testRoles())
	if decision := enforcer.CheckWrite("ghost", "src/a.go"); decision.Allowed {
		t.Fatalf("expected unknown role to be denied")
	}
}

func TestCheckWritesAllOrNothing(t *testing.T) {
	enforcer := NewEnforcer(testRoles())
	writes := []model.ProposedWrite{
		{Path: "src/a.go"},
		{Path: "docs/readme.md"},
		{Path: "src/b.go"},
	}
	decision, ok := enforcer.CheckWrites("engineer", writes)
	if ok {
		t.Fatalf("expected batch with a forbidden write to fail")
	}
	if decision.Path != "docs/readme.md" {
		t.Fatalf("expected failure on docs/readme.md, got %q", decision.Path)
	}

	if _, ok := enforcer.CheckWrites("engineer", writes[:1]); !ok {
		t.Fatalf("expected clean batch to pass")
	}
}

func TestPathNormalization(t *testing.T) {
	enforcer := NewEnforcer(testRoles())
	if decision := enforcer.CheckWrite("engineer", "./src/a.go"); !decision.Allowed {
		t.Fatalf("expected ./ prefix to be stripped before matching")
	}
	if decision := enforcer.CheckWrite("engineer", `src\win\a.go`); !decision.Allowed {
		t.Fatalf("expected backslashes to be normalized before matching")
	}
}

package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"foreman/internal/model"
)

func TestDefaultPolicyIsValid(t *testing.T) {
	cfg := Default()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected default policy to validate: %v", err)
	}
}

func TestLoadPolicyFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "policy.json")
	if err := SaveDefault(path); err != nil {
		t.Fatalf("save default policy: %v", err)
	}

	cfg, loadedPath, err := Load(path)
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}
	if loadedPath != path {
		t.Fatalf("expected loaded path %q, got %q", path, loadedPath)
	}
	if len(cfg.Roles) == 0 {
		t.Fatalf("expected roles in loaded policy")
	}
}

func TestLoadPolicyMissingFileUsesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "missing-policy.json")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected missing test policy file")
	}

	cfg, loadedPath, err := Load(path)
	if err != nil {
		t.Fatalf("load policy with missing file: %v", err)
	}
	if loadedPath != path {
		t.Fatalf("expected loaded path %q, got %q", path, loadedPath)
	}
	if cfg.Version != 1 {
		t.Fatalf("expected default policy version 1, got %d", cfg.Version)
	}
}

func TestValidateRejectsBadRole(t *testing.T) {
	cfg := Default()
	cfg.Roles[0].MaxConcurrent = 0
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected zero max_concurrent to fail validation")
	}

	cfg = Default()
	cfg.Roles[0].Authority[0].Effect = "maybe"
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected unknown authority effect to fail validation")
	}

	cfg = Default()
	cfg.Roles = append(cfg.Roles, cfg.Roles[0])
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected duplicate role id to fail validation")
	}
}

func TestResolveRolesPreservesRuleOrder(t *testing.T) {
	cfg := Default()
	roles := ResolveRoles(cfg)
	if len(roles) != len(cfg.Roles) {
		t.Fatalf("expected %d resolved roles, got %d", len(cfg.Roles), len(roles))
	}
	engineer := roles[0]
	if engineer.ID != "engineer" {
		t.Fatalf("expected first role engineer, got %s", engineer.ID)
	}
	if engineer.Authority[0].Allow {
		t.Fatalf("expected engineer's first rule to be a deny")
	}
	if !engineer.Authority[2].Allow {
		t.Fatalf("expected engineer's src allow rule to stay third")
	}
}

func TestSLAFor(t *testing.T) {
	cfg := Default()
	if cfg.SLAFor(model.TicketStatusInProgress) != 24*time.Hour {
		t.Fatalf("expected 24h SLA for in_progress")
	}
	if cfg.SLAFor(model.TicketStatusOpen) != 0 {
		t.Fatalf("expected no SLA for open")
	}
}

package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"foreman/internal/model"
)

const DefaultPolicyPath = ".foreman/policy.json"

type Config struct {
	Version    int `json:"version"`
	Delegation struct {
		TimeoutSeconds int `json:"timeout_seconds"`
		MaxRetries     int `json:"max_retries"`
		MaxContextLen  int `json:"max_context_len"`
		MemoryWindow   int `json:"memory_window"`
	} `json:"delegation"`
	SLA struct {
		MaxAgeSeconds map[string]int `json:"max_age_seconds"`
	} `json:"sla"`
	Gates struct {
		// Expressions are optional Lua predicates keyed by target status.
		// When absent the built-in gate applies.
		Expressions map[string]string `json:"expressions,omitempty"`
	} `json:"gates"`
	Sink struct {
		// RedisURL enables the durable redis-stream escalation sink; empty
		// keeps the in-process channel sink.
		RedisURL      string `json:"redis_url,omitempty"`
		ConsumerGroup string `json:"consumer_group,omitempty"`
	} `json:"sink"`
	Audit struct {
		CLITool string `json:"cli_tool"`
	} `json:"audit"`
	Roles []Role `json:"roles"`
}

type Role struct {
	ID            string          `json:"id"`
	MaxConcurrent int             `json:"max_concurrent"`
	Capabilities  []string        `json:"capabilities,omitempty"`
	Authority     []AuthorityRule `json:"authority"`
}

type AuthorityRule struct {
	Pattern string `json:"pattern"`
	Effect  string `json:"effect"`
}

const (
	EffectAllow = "allow"
	EffectDeny  = "deny"
)

func Default() Config {
	cfg := Config{
		Version: 1,
	}
	cfg.Delegation.TimeoutSeconds = 600
	cfg.Delegation.MaxRetries = 2
	cfg.Delegation.MaxContextLen = 32768
	cfg.Delegation.MemoryWindow = 20
	cfg.SLA.MaxAgeSeconds = map[string]int{
		string(model.TicketStatusInProgress): 86400,
		string(model.TicketStatusReview):     43200,
		string(model.TicketStatusReadyForQA): 43200,
	}
	cfg.Sink.ConsumerGroup = "foreman"
	cfg.Audit.CLITool = "tickets"
	cfg.Roles = []Role{
		{
			ID:            "engineer",
			MaxConcurrent: 1,
			Capabilities:  []string{"code", "design"},
			Authority: []AuthorityRule{
				{Pattern: "docs/**", Effect: EffectDeny},
				{Pattern: "ops/**", Effect: EffectDeny},
				{Pattern: "src/**", Effect: EffectAllow},
				{Pattern: "tests/**", Effect: EffectAllow},
			},
		},
		{
			ID:            "qa",
			MaxConcurrent: 1,
			Capabilities:  []string{"test", "verify"},
			Authority: []AuthorityRule{
				{Pattern: "src/**", Effect: EffectDeny},
				{Pattern: "tests/**", Effect: EffectAllow},
				{Pattern: "qa/**", Effect: EffectAllow},
			},
		},
		{
			ID:            "ops",
			MaxConcurrent: 1,
			Capabilities:  []string{"deploy", "infra"},
			Authority: []AuthorityRule{
				{Pattern: "src/**", Effect: EffectDeny},
				{Pattern: "ops/**", Effect: EffectAllow},
				{Pattern: "deploy/**", Effect: EffectAllow},
			},
		},
		{
			ID:            "docs",
			MaxConcurrent: 1,
			Capabilities:  []string{"document"},
			Authority: []AuthorityRule{
				{Pattern: "docs/**", Effect: EffectAllow},
			},
		},
	}
	return cfg
}

func Load(path string) (Config, string, error) {
	cfg := Default()
	finalPath := path
	if strings.TrimSpace(finalPath) == "" {
		finalPath = DefaultPolicyPath
	}
	if _, err := os.Stat(finalPath); os.IsNotExist(err) {
		return cfg, finalPath, nil
	}

	b, err := os.ReadFile(finalPath)
	if err != nil {
		return cfg, finalPath, fmt.Errorf("read policy %s: %w", finalPath, err)
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, finalPath, fmt.Errorf("parse policy %s: %w", finalPath, err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, finalPath, fmt.Errorf("validate policy %s: %w", finalPath, err)
	}
	return cfg, finalPath, nil
}

func SaveDefault(path string) error {
	cfg := Default()
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func Validate(cfg Config) error {
	if cfg.Version <= 0 {
		return fmt.Errorf("version must be positive")
	}
	if cfg.Delegation.TimeoutSeconds <= 0 {
		return fmt.Errorf("delegation.timeout_seconds must be > 0")
	}
	if cfg.Delegation.MaxRetries < 0 {
		return fmt.Errorf("delegation.max_retries must be >= 0")
	}
	if cfg.Delegation.MaxContextLen <= 0 {
		return fmt.Errorf("delegation.max_context_len must be > 0")
	}
	if cfg.Delegation.MemoryWindow < 0 {
		return fmt.Errorf("delegation.memory_window must be >= 0")
	}
	for status, age := range cfg.SLA.MaxAgeSeconds {
		if age <= 0 {
			return fmt.Errorf("sla.max_age_seconds[%s] must be > 0", status)
		}
	}
	if len(cfg.Roles) == 0 {
		return fmt.Errorf("roles must contain at least one entry")
	}
	seen := map[string]bool{}
	for _, role := range cfg.Roles {
		id := strings.TrimSpace(role.ID)
		if id == "" {
			return fmt.Errorf("role.id cannot be empty")
		}
		if seen[id] {
			return fmt.Errorf("role %q defined twice", id)
		}
		seen[id] = true
		if role.MaxConcurrent <= 0 {
			return fmt.Errorf("role %q max_concurrent must be > 0", id)
		}
		for _, rule := range role.Authority {
			if strings.TrimSpace(rule.Pattern) == "" {
				return fmt.Errorf("role %q has an authority rule with an empty pattern", id)
			}
			if rule.Effect != EffectAllow && rule.Effect != EffectDeny {
				return fmt.Errorf("role %q authority effect must be allow|deny", id)
			}
		}
	}
	return nil
}

// ResolveRoles converts policy role entries into model roles, preserving
// rule order.
func ResolveRoles(cfg Config) []model.Role {
	out := make([]model.Role, 0, len(cfg.Roles))
	for _, role := range cfg.Roles {
		rules := make([]model.AuthorityRule, 0, len(role.Authority))
		for _, rule := range role.Authority {
			rules = append(rules, model.AuthorityRule{
				Pattern: rule.Pattern,
				Allow:   rule.Effect == EffectAllow,
			})
		}
		out = append(out, model.Role{
			ID:            strings.TrimSpace(role.ID),
			Authority:     rules,
			MaxConcurrent: role.MaxConcurrent,
			Capabilities:  role.Capabilities,
		})
	}
	return out
}

func (c Config) DelegationTimeout() time.Duration {
	return time.Duration(c.Delegation.TimeoutSeconds) * time.Second
}

// SLAFor returns the configured max age for a status, or zero when the
// status carries no SLA.
func (c Config) SLAFor(status model.TicketStatus) time.Duration {
	age, ok := c.SLA.MaxAgeSeconds[string(status)]
	if !ok {
		return 0
	}
	return time.Duration(age) * time.Second
}

package model

import "time"

type TicketType string

const (
	TicketTypeEpic  TicketType = "epic"
	TicketTypeIssue TicketType = "issue"
	TicketTypeTask  TicketType = "task"
	TicketTypePR    TicketType = "pr"
)

type TicketStatus string

const (
	TicketStatusOpen               TicketStatus = "open"
	TicketStatusInProgress         TicketStatus = "in_progress"
	TicketStatusBlocked            TicketStatus = "blocked"
	TicketStatusReview             TicketStatus = "review"
	TicketStatusReadyForQA         TicketStatus = "ready_for_qa"
	TicketStatusReadyForDeployment TicketStatus = "ready_for_deployment"
	TicketStatusDone               TicketStatus = "done"
	TicketStatusCancelled          TicketStatus = "cancelled"
)

func (s TicketStatus) Terminal() bool {
	return s == TicketStatusDone || s == TicketStatusCancelled
}

type TicketEvent string

const (
	TicketEventStart   TicketEvent = "start"
	TicketEventBlock   TicketEvent = "block"
	TicketEventUnblock TicketEvent = "unblock"
	TicketEventReview  TicketEvent = "review"
	TicketEventReject  TicketEvent = "reject"
	TicketEventQA      TicketEvent = "qa"
	TicketEventDeploy  TicketEvent = "deploy"
	TicketEventDone    TicketEvent = "done"
	TicketEventCancel  TicketEvent = "cancel"
)

type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeViolation Outcome = "violation"
	OutcomeCancelled Outcome = "cancelled"
)

type MemoryCategory string

const (
	MemoryCategoryBug          MemoryCategory = "bug"
	MemoryCategoryFeedback     MemoryCategory = "feedback"
	MemoryCategoryArchitecture MemoryCategory = "architecture"
	MemoryCategoryPerformance  MemoryCategory = "performance"
	MemoryCategoryIntegration  MemoryCategory = "integration"
	MemoryCategoryQA           MemoryCategory = "qa"
)

type EscalationKind string

const (
	EscalationNonResponse        EscalationKind = "non_response"
	EscalationAuthorityViolation EscalationKind = "authority_violation"
	EscalationQualityGateFailed  EscalationKind = "quality_gate_failed"
	EscalationCapacityExceeded   EscalationKind = "capacity_exceeded"
	EscalationConflictingResults EscalationKind = "conflicting_results"
	EscalationSLABreach          EscalationKind = "sla_breach"
)

// AuthorityRule is one entry in a role's ordered write-authority list.
// The first rule whose pattern matches a path wins.
type AuthorityRule struct {
	Pattern string `json:"pattern"`
	Allow   bool   `json:"allow"`
}

type Role struct {
	ID            string          `json:"id"`
	Authority     []AuthorityRule `json:"authority"`
	MaxConcurrent int             `json:"max_concurrent"`
	Capabilities  []string        `json:"capabilities,omitempty"`
}

type Comment struct {
	ID        string    `json:"id"`
	TicketID  string    `json:"ticket_id"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

type Ticket struct {
	ID        string       `json:"id"`
	Type      TicketType   `json:"type"`
	Title     string       `json:"title"`
	Body      string       `json:"body,omitempty"`
	Status    TicketStatus `json:"status"`
	Priority  Priority     `json:"priority"`
	Assignee  string       `json:"assignee,omitempty"`
	ParentID  string       `json:"parent_id,omitempty"`
	Labels    []string     `json:"labels,omitempty"`
	Conflict  bool         `json:"conflict,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
	ClosedAt  *time.Time   `json:"closed_at,omitempty"`
}

// ProposedWrite is one file write an agent reports back for validation.
// Nothing is committed until every write for the delegation passes the
// authority check.
type ProposedWrite struct {
	Path    string `json:"path"`
	Summary string `json:"summary,omitempty"`
}

type ContextPayload struct {
	Ticket    Ticket         `json:"ticket"`
	Ancestors []Ticket       `json:"ancestors,omitempty"`
	Comments  []Comment      `json:"comments,omitempty"`
	Memory    []MemoryRecord `json:"memory,omitempty"`
	Truncated bool           `json:"truncated,omitempty"`
}

type DelegationRequest struct {
	ID        string          `json:"id"`
	RoleID    string          `json:"role_id"`
	TicketID  string          `json:"ticket_id"`
	Task      string          `json:"task"`
	Context   ContextPayload  `json:"context"`
	Authority []AuthorityRule `json:"authority"`
	IssuedAt  time.Time       `json:"issued_at"`
	Deadline  time.Time       `json:"deadline"`
}

type DelegationResult struct {
	RequestID string          `json:"request_id"`
	RoleID    string          `json:"role_id"`
	TicketID  string          `json:"ticket_id"`
	Outcome   Outcome         `json:"outcome"`
	Summary   string          `json:"summary,omitempty"`
	Writes    []ProposedWrite `json:"writes,omitempty"`
	Memory    []MemoryRecord  `json:"memory,omitempty"`
	Duration  time.Duration   `json:"duration"`
}

// MemoryRecord is append-only. A record is never updated in place; a later
// record with Supersedes set retires it.
type MemoryRecord struct {
	ID         string         `json:"id"`
	Category   MemoryCategory `json:"category"`
	Priority   Priority       `json:"priority"`
	RoleID     string         `json:"role_id"`
	TicketID   string         `json:"ticket_id,omitempty"`
	Content    string         `json:"content"`
	Supersedes string         `json:"supersedes,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

type EscalationEvent struct {
	ID         string         `json:"id"`
	Kind       EscalationKind `json:"kind"`
	TicketID   string         `json:"ticket_id,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
	RoleID     string         `json:"role_id,omitempty"`
	Severity   Priority       `json:"severity"`
	Message    string         `json:"message"`
	Resolved   bool           `json:"resolved"`
	CreatedAt  time.Time      `json:"created_at"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
	ResolvedBy string         `json:"resolved_by,omitempty"`
}

// AuditEvent is one row of the append-only audit trail. Every committed
// transition and every delegation outcome lands here.
type AuditEvent struct {
	ID         int64     `json:"id"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	EventType  string    `json:"event_type"`
	FromState  string    `json:"from_state,omitempty"`
	ToState    string    `json:"to_state,omitempty"`
	Message    string    `json:"message,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type TopicRegistry struct {
	EscalationTopic string
	TicketTopic     string
	DelegationTopic string
}

func DefaultTopicRegistry() TopicRegistry {
	return TopicRegistry{
		EscalationTopic: "foreman.escalations",
		TicketTopic:     "foreman.tickets",
		DelegationTopic: "foreman.delegations",
	}
}

// SeverityRank orders priorities for escalation sorting; lower sorts first.
func SeverityRank(p Priority) int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

// EntityName maps a ticket type onto the external CLI entity noun.
func (t TicketType) EntityName() string {
	return string(t)
}

func ValidTicketType(t TicketType) bool {
	switch t {
	case TicketTypeEpic, TicketTypeIssue, TicketTypeTask, TicketTypePR:
		return true
	}
	return false
}

func ValidPriority(p Priority) bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

func ValidMemoryCategory(c MemoryCategory) bool {
	switch c {
	case MemoryCategoryBug, MemoryCategoryFeedback, MemoryCategoryArchitecture,
		MemoryCategoryPerformance, MemoryCategoryIntegration, MemoryCategoryQA:
		return true
	}
	return false
}

// ParentableBy reports whether a ticket of type child may have a parent of
// type parent. Epics have no parent; an issue's parent is an epic; a task's
// parent is an issue; a PR's parent is a task or an issue.
func ParentableBy(child TicketType, parent TicketType) bool {
	switch child {
	case TicketTypeIssue:
		return parent == TicketTypeEpic
	case TicketTypeTask:
		return parent == TicketTypeIssue
	case TicketTypePR:
		return parent == TicketTypeTask || parent == TicketTypeIssue
	}
	return false
}

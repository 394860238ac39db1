package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/strategy"

	"foreman/internal/authority"
	"foreman/internal/bus"
	"foreman/internal/dispatch"
	"foreman/internal/escalation"
	"foreman/internal/gate"
	"foreman/internal/memory"
	"foreman/internal/model"
	"foreman/internal/policy"
	"foreman/internal/registry"
	"foreman/internal/store"
	"foreman/internal/ticket"
	"foreman/internal/ticketcli"
)

// Service is the orchestration facade: it wires the store, the role
// registry, the authority enforcer, the dispatcher, and the escalation
// manager behind one API the CLI and the watcher run against.
type Service struct {
	store       *store.Store
	cfg         policy.Config
	registry    *registry.Registry
	enforcer    *authority.Enforcer
	gates       *gate.Evaluator
	bus         *bus.Bus
	topics      model.TopicRegistry
	escalations *escalation.Manager
	tickets     *ticket.Service
	assembler   *memory.Assembler
	dispatcher  *dispatch.Dispatcher
	logger      *log.Logger
}

type ServiceOptions struct {
	DBPath     string
	PolicyPath string
	Runtime    dispatch.Runtime
	Logger     *log.Logger
}

// noRuntime refuses delegation when no agent runtime is configured.
// Every other operation still works; a read-only deployment is valid.
type noRuntime struct{}

func (noRuntime) Execute(context.Context, model.DelegationRequest) (model.DelegationResult, error) {
	return model.DelegationResult{}, fmt.Errorf("no agent runtime configured")
}

func NewService(opts ServiceOptions) (*Service, error) {
	st, err := store.New(opts.DBPath)
	if err != nil {
		return nil, err
	}

	cfg, _, err := policy.Load(opts.PolicyPath)
	if err != nil {
		cfg = policy.Default()
	}

	roles := policy.ResolveRoles(cfg)
	reg, err := registry.New(roles)
	if err != nil {
		st.Close()
		return nil, err
	}
	enforcer := authority.NewEnforcer(roles)
	gates := gate.NewEvaluator(reg.WithCapability("verify"), cfg.Gates.Expressions)

	var eventBus *bus.Bus
	if strings.TrimSpace(cfg.Sink.RedisURL) != "" {
		eventBus, err = bus.NewRedis(cfg.Sink.RedisURL, cfg.Sink.ConsumerGroup)
		if err != nil {
			st.Close()
			return nil, err
		}
	} else {
		eventBus = bus.NewInProcess()
	}

	topics := model.DefaultTopicRegistry()
	escalations := escalation.NewManager(st, eventBus, topics.EscalationTopic, opts.Logger)
	tickets := ticket.NewService(st, gates, escalations, opts.Logger)
	assembler := memory.NewAssembler(st, cfg)

	runtime := opts.Runtime
	if runtime == nil {
		runtime = noRuntime{}
	}
	dispatcher := dispatch.NewDispatcher(st, reg, enforcer, assembler, escalations, runtime, cfg.DelegationTimeout(), opts.Logger)

	return &Service{
		store:       st,
		cfg:         cfg,
		registry:    reg,
		enforcer:    enforcer,
		gates:       gates,
		bus:         eventBus,
		topics:      topics,
		escalations: escalations,
		tickets:     tickets,
		assembler:   assembler,
		dispatcher:  dispatcher,
		logger:      opts.Logger,
	}, nil
}

func (s *Service) Close() error {
	if err := s.bus.Close(); err != nil {
		s.store.Close()
		return err
	}
	return s.store.Close()
}

func (s *Service) Policy() policy.Config { return s.cfg }

func (s *Service) Store() *store.Store { return s.store }

func (s *Service) Roles() []model.Role { return s.registry.Roles() }

// CreateTicket is the work intake: validated tickets enter the system
// in open status and are announced on the ticket topic.
func (s *Service) CreateTicket(req ticket.CreateRequest) (model.Ticket, error) {
	created, err := s.tickets.Create(req)
	if err != nil {
		return model.Ticket{}, err
	}
	s.publishTicket(created)
	return created, nil
}

func (s *Service) GetTicket(id string) (model.Ticket, error) {
	return s.tickets.Get(id)
}

func (s *Service) ListTickets(filter store.TicketFilter) ([]model.Ticket, error) {
	return s.tickets.List(filter)
}

func (s *Service) Comments(ticketID string) ([]model.Comment, error) {
	return s.tickets.Comments(ticketID)
}

func (s *Service) Comment(ticketID, author, text string) (model.Comment, error) {
	return s.tickets.Comment(ticketID, author, text)
}

func (s *Service) Assign(id, assignee string) (model.Ticket, error) {
	return s.tickets.Assign(id, assignee)
}

func (s *Service) Transition(id string, to model.TicketStatus, actor, note string) (model.Ticket, error) {
	updated, err := s.tickets.Transition(id, to, actor, note)
	if err != nil {
		return model.Ticket{}, err
	}
	s.publishTicket(updated)
	return updated, nil
}

func (s *Service) Apply(id string, event model.TicketEvent, actor, note string) (model.Ticket, error) {
	updated, err := s.tickets.Apply(id, event, actor, note)
	if err != nil {
		return model.Ticket{}, err
	}
	s.publishTicket(updated)
	return updated, nil
}

func (s *Service) ClearConflict(id, actor string) error {
	return s.tickets.ClearConflict(id, actor)
}

type DelegateOptions struct {
	RoleID   string
	TicketID string
	Task     string
}

// Delegate hands the task to the role's agent. Plain failures are
// retried up to the policy limit with linear backoff; timeouts,
// violations, and capacity refusals are never retried, their
// escalations already demand a human decision.
func (s *Service) Delegate(ctx context.Context, opts DelegateOptions) (model.DelegationResult, error) {
	var result model.DelegationResult
	var hardErr error

	attempts := uint(s.cfg.Delegation.MaxRetries + 1)
	err := retry.Retry(func(attempt uint) error {
		result, hardErr = s.dispatcher.Delegate(ctx, opts.RoleID, opts.TicketID, opts.Task)
		if hardErr != nil {
			return nil
		}
		if result.Outcome == model.OutcomeFailure {
			return fmt.Errorf("delegation attempt %d failed: %s", attempt+1, result.Summary)
		}
		return nil
	}, strategy.Limit(attempts), strategy.Backoff(backoff.Linear(100*time.Millisecond)))
	if hardErr != nil {
		return model.DelegationResult{}, hardErr
	}
	if err != nil && s.logger != nil {
		s.logger.Printf("orchestrator: retries exhausted for %s: %v", opts.TicketID, err)
	}

	s.publish(s.topics.DelegationTopic, result)

	if result.Outcome == model.OutcomeSuccess {
		if err := s.detectConflicts(opts.TicketID); err != nil && s.logger != nil {
			s.logger.Printf("orchestrator: conflict detection on %s failed: %v", opts.TicketID, err)
		}
	}
	return result, nil
}

// detectConflicts flags a ticket when two successful delegations from
// different roles claim writes to the same path. The ticket freezes
// until someone resolves the escalation and clears the flag.
func (s *Service) detectConflicts(ticketID string) error {
	results, err := s.store.ResultsForTicket(ticketID)
	if err != nil {
		return err
	}
	writers := map[string]string{}
	for _, res := range results {
		if res.Outcome != model.OutcomeSuccess {
			continue
		}
		for _, write := range res.Writes {
			prev, seen := writers[write.Path]
			if seen && prev != res.RoleID {
				already, err := s.escalations.HasPending(model.EscalationConflictingResults, ticketID)
				if err != nil {
					return err
				}
				if !already {
					if _, err := s.escalations.Observe(model.EscalationEvent{
						Kind:     model.EscalationConflictingResults,
						TicketID: ticketID,
						Severity: model.PriorityHigh,
						Message:  fmt.Sprintf("roles %s and %s both report writes to %s", prev, res.RoleID, write.Path),
					}); err != nil {
						return err
					}
				}
				return s.tickets.MarkConflict(ticketID)
			}
			writers[write.Path] = res.RoleID
		}
	}
	return nil
}

func (s *Service) PendingEscalations(severity model.Priority) ([]model.EscalationEvent, error) {
	return s.escalations.Pending(severity)
}

func (s *Service) ResolveEscalation(id, resolvedBy string) error {
	return s.escalations.Resolve(id, resolvedBy)
}

func (s *Service) RecordMemory(rec model.MemoryRecord) (model.MemoryRecord, error) {
	return s.assembler.Record(rec)
}

func (s *Service) ListMemory(filter store.MemoryFilter) ([]model.MemoryRecord, error) {
	return s.assembler.List(filter)
}

// Replay renders a ticket's audit trail as external ticket-tool
// commands, for syncing an outside tracker.
func (s *Service) Replay(ticketID string) ([]ticketcli.Command, error) {
	t, err := s.store.GetTicket(ticketID)
	if err != nil {
		return nil, err
	}
	events, err := s.store.Events(ticketID)
	if err != nil {
		return nil, err
	}
	renderer := ticketcli.NewRenderer(s.cfg.Audit.CLITool)
	return renderer.Replay(t.Type, events), nil
}

func (s *Service) Events(entityID string) ([]model.AuditEvent, error) {
	return s.store.Events(entityID)
}

// StatusSnapshot is what `foreman status` renders.
type StatusSnapshot struct {
	Tickets     map[model.TicketStatus]int
	Conflicted  []string
	ActiveRoles map[string]int
	Escalations int
}

func (s *Service) Status() (StatusSnapshot, error) {
	tickets, err := s.store.ListTickets(store.TicketFilter{})
	if err != nil {
		return StatusSnapshot{}, err
	}
	snapshot := StatusSnapshot{
		Tickets:     map[model.TicketStatus]int{},
		ActiveRoles: map[string]int{},
	}
	for _, t := range tickets {
		snapshot.Tickets[t.Status]++
		if t.Conflict {
			snapshot.Conflicted = append(snapshot.Conflicted, t.ID)
		}
	}
	sort.Strings(snapshot.Conflicted)
	for _, role := range s.registry.Roles() {
		snapshot.ActiveRoles[role.ID] = s.registry.ActiveInstances(role.ID)
	}
	pending, err := s.escalations.Pending("")
	if err != nil {
		return StatusSnapshot{}, err
	}
	snapshot.Escalations = len(pending)
	return snapshot, nil
}

func (s *Service) publishTicket(t model.Ticket) {
	s.publish(s.topics.TicketTopic, t)
}

func (s *Service) publish(topic string, payload any) {
	if err := s.bus.Publish(topic, payload); err != nil && s.logger != nil {
		s.logger.Printf("orchestrator: publish on %s failed: %v", topic, err)
	}
}

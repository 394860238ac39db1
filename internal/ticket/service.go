package ticket

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v3"

	"foreman/internal/gate"
	"foreman/internal/hsm"
	"foreman/internal/model"
	"foreman/internal/store"
)

// TransitionError reports a rejected status change. The ticket is left
// untouched whenever one of these is returned.
type TransitionError struct {
	TicketID string
	From     model.TicketStatus
	To       model.TicketStatus
	Reason   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move %s from %s to %s: %s", e.TicketID, e.From, e.To, e.Reason)
}

// Escalator is the slice of the escalation manager the service needs.
type Escalator interface {
	Observe(event model.EscalationEvent) (model.EscalationEvent, error)
}

// Service owns ticket lifecycle: creation, hierarchy, and the state
// machine. Transitions on the same ticket are serialized through a
// per-ticket mutex so two concurrent callers cannot both commit from
// the same starting status.
type Service struct {
	store       *store.Store
	gates       *gate.Evaluator
	escalations Escalator
	logger      *log.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewService(st *store.Store, gates *gate.Evaluator, escalations Escalator, logger *log.Logger) *Service {
	return &Service{
		store:       st,
		gates:       gates,
		escalations: escalations,
		logger:      logger,
		locks:       map[string]*sync.Mutex{},
	}
}

func (s *Service) lockTicket(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

type CreateRequest struct {
	Type     model.TicketType
	Title    string
	Body     string
	Priority model.Priority
	ParentID string
	Assignee string
	Labels   []string
}

// Create validates the request and persists a new ticket in open status.
// Parent links are checked against the type hierarchy: issues under
// epics, tasks under issues, PRs under tasks or issues.
func (s *Service) Create(req CreateRequest) (model.Ticket, error) {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return model.Ticket{}, fmt.Errorf("ticket requires a title")
	}
	if !model.ValidTicketType(req.Type) {
		return model.Ticket{}, fmt.Errorf("unknown ticket type %q", req.Type)
	}
	if req.Priority == "" {
		req.Priority = model.PriorityMedium
	}
	if !model.ValidPriority(req.Priority) {
		return model.Ticket{}, fmt.Errorf("unknown priority %q", req.Priority)
	}
	if req.ParentID != "" {
		parent, err := s.store.GetTicket(req.ParentID)
		if err != nil {
			return model.Ticket{}, err
		}
		if !model.ParentableBy(req.Type, parent.Type) {
			return model.Ticket{}, fmt.Errorf("a %s cannot be a child of a %s", req.Type, parent.Type)
		}
		if parent.Status.Terminal() {
			return model.Ticket{}, fmt.Errorf("parent %s is %s", parent.ID, parent.Status)
		}
	}

	ticket := model.Ticket{
		Type:     req.Type,
		Title:    req.Title,
		Body:     req.Body,
		Status:   model.TicketStatusOpen,
		Priority: req.Priority,
		Assignee: req.Assignee,
		ParentID: req.ParentID,
		Labels:   req.Labels,
	}
	if err := s.store.CreateTicket(&ticket); err != nil {
		return model.Ticket{}, err
	}
	if err := s.store.AddEvent("ticket", ticket.ID, "created", "", string(ticket.Status), ticket.Title); err != nil && s.logger != nil {
		s.logger.Printf("ticket: audit event for %s failed: %v", ticket.ID, err)
	}
	return ticket, nil
}

func (s *Service) Get(id string) (model.Ticket, error) {
	return s.store.GetTicket(id)
}

func (s *Service) List(filter store.TicketFilter) ([]model.Ticket, error) {
	return s.store.ListTickets(filter)
}

func (s *Service) Children(parentID string) ([]model.Ticket, error) {
	return s.store.Children(parentID)
}

func (s *Service) Comments(ticketID string) ([]model.Comment, error) {
	return s.store.Comments(ticketID)
}

func (s *Service) Assign(id, assignee string) (model.Ticket, error) {
	unlock := s.lockTicket(id)
	defer unlock()
	if err := s.store.UpdateTicketAssignee(id, assignee); err != nil {
		return model.Ticket{}, err
	}
	return s.store.GetTicket(id)
}

// Comment appends a free-form comment outside of any transition.
func (s *Service) Comment(ticketID, author, text string) (model.Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.Comment{}, fmt.Errorf("comment requires text")
	}
	c := model.Comment{
		ID:        shortuuid.New(),
		TicketID:  ticketID,
		Author:    author,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := s.store.GetTicket(ticketID); err != nil {
		return model.Comment{}, err
	}
	if err := s.store.AppendComment(c); err != nil {
		return model.Comment{}, err
	}
	return c, nil
}

// Apply resolves an event verb against the ticket's current status and
// commits the resulting transition.
func (s *Service) Apply(id string, event model.TicketEvent, actor, note string) (model.Ticket, error) {
	unlock := s.lockTicket(id)
	defer unlock()

	ticket, err := s.store.GetTicket(id)
	if err != nil {
		return model.Ticket{}, err
	}
	to, ok := hsm.ApplyEvent(ticket.Type, ticket.Status, event)
	if !ok {
		return model.Ticket{}, &TransitionError{
			TicketID: id, From: ticket.Status, To: ticket.Status,
			Reason: fmt.Sprintf("event %q has no effect in %s", event, ticket.Status),
		}
	}
	return s.transition(ticket, to, actor, note)
}

// Transition moves the ticket to the target status if the state machine,
// the conflict flag, the hierarchy rule, and the quality gate all allow
// it. A same-status transition is a no-op.
func (s *Service) Transition(id string, to model.TicketStatus, actor, note string) (model.Ticket, error) {
	unlock := s.lockTicket(id)
	defer unlock()

	ticket, err := s.store.GetTicket(id)
	if err != nil {
		return model.Ticket{}, err
	}
	return s.transition(ticket, to, actor, note)
}

func (s *Service) transition(ticket model.Ticket, to model.TicketStatus, actor, note string) (model.Ticket, error) {
	from := ticket.Status
	if from == to {
		return ticket, nil
	}
	if ticket.Conflict {
		return model.Ticket{}, &TransitionError{
			TicketID: ticket.ID, From: from, To: to,
			Reason: "conflicting delegation results are unresolved",
		}
	}
	if !hsm.CanTransitionTicket(ticket.Type, from, to) {
		return model.Ticket{}, &TransitionError{
			TicketID: ticket.ID, From: from, To: to,
			Reason: fmt.Sprintf("illegal transition for a %s", ticket.Type),
		}
	}

	if to == model.TicketStatusDone {
		if incomplete, err := s.incompleteChildren(ticket.ID); err != nil {
			return model.Ticket{}, err
		} else if len(incomplete) > 0 {
			return model.Ticket{}, &TransitionError{
				TicketID: ticket.ID, From: from, To: to,
				Reason: fmt.Sprintf("children not finished: %s", strings.Join(incomplete, ", ")),
			}
		}
	}

	if hsm.Gated(to) {
		verdict, err := s.evaluateGate(ticket, to)
		if err != nil {
			return model.Ticket{}, err
		}
		if !verdict.Passed {
			s.observe(model.EscalationEvent{
				Kind:     model.EscalationQualityGateFailed,
				TicketID: ticket.ID,
				RoleID:   actor,
				Severity: model.PriorityHigh,
				Message:  fmt.Sprintf("%s blocked from %s: %s", ticket.ID, to, verdict.Reason),
			})
			return model.Ticket{}, &TransitionError{
				TicketID: ticket.ID, From: from, To: to,
				Reason: verdict.Reason,
			}
		}
	}

	text := fmt.Sprintf("status: %s -> %s", from, to)
	if note = strings.TrimSpace(note); note != "" {
		text += ": " + note
	}
	comment := model.Comment{
		ID:        shortuuid.New(),
		TicketID:  ticket.ID,
		Author:    actor,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CommitTransition(ticket.ID, from, to, comment, note); err != nil {
		return model.Ticket{}, err
	}
	if s.logger != nil {
		s.logger.Printf("ticket: %s %s -> %s by %s", ticket.ID, from, to, actor)
	}
	return s.store.GetTicket(ticket.ID)
}

func (s *Service) incompleteChildren(parentID string) ([]string, error) {
	children, err := s.store.Children(parentID)
	if err != nil {
		return nil, err
	}
	var incomplete []string
	for _, child := range children {
		if !child.Status.Terminal() {
			incomplete = append(incomplete, child.ID)
		}
	}
	return incomplete, nil
}

func (s *Service) evaluateGate(ticket model.Ticket, to model.TicketStatus) (gate.Verdict, error) {
	results, err := s.store.ResultsForTicket(ticket.ID)
	if err != nil {
		return gate.Verdict{}, err
	}
	records, err := s.store.ListMemory(store.MemoryFilter{})
	if err != nil {
		return gate.Verdict{}, err
	}
	return s.gates.Evaluate(ticket, to, results, records)
}

// MarkConflict flags a ticket whose delegations disagreed. A flagged
// ticket refuses every transition until the conflict is cleared.
func (s *Service) MarkConflict(id string) error {
	unlock := s.lockTicket(id)
	defer unlock()
	return s.store.SetTicketConflict(id, true)
}

// ClearConflict lifts the freeze and records who decided.
func (s *Service) ClearConflict(id, actor string) error {
	unlock := s.lockTicket(id)
	defer unlock()
	if err := s.store.SetTicketConflict(id, false); err != nil {
		return err
	}
	if err := s.store.AddEvent("ticket", id, "conflict_cleared", "", "", "cleared by "+actor); err != nil && s.logger != nil {
		s.logger.Printf("ticket: audit event for %s failed: %v", id, err)
	}
	return nil
}

func (s *Service) observe(event model.EscalationEvent) {
	if s.escalations == nil {
		return
	}
	if _, err := s.escalations.Observe(event); err != nil && s.logger != nil {
		s.logger.Printf("ticket: escalation %s not recorded: %v", event.Kind, err)
	}
}

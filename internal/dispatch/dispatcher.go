package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"foreman/internal/authority"
	"foreman/internal/memory"
	"foreman/internal/model"
	"foreman/internal/registry"
	"foreman/internal/store"
)

// Runtime executes one delegated request and reports the agent's result.
// Execute must honor ctx: when the deadline passes the dispatcher stops
// waiting regardless of what the runtime does afterwards.
type Runtime interface {
	Execute(ctx context.Context, req model.DelegationRequest) (model.DelegationResult, error)
}

// Escalator is the slice of the escalation manager the dispatcher needs.
type Escalator interface {
	Observe(event model.EscalationEvent) (model.EscalationEvent, error)
}

// Dispatcher hands work to role agents. Every delegation reserves a
// concurrency slot first and releases it on every exit path; a timed-out
// or violating delegation never mutates the ticket it was issued for.
type Dispatcher struct {
	store       *store.Store
	registry    *registry.Registry
	enforcer    *authority.Enforcer
	assembler   *memory.Assembler
	escalations Escalator
	runtime     Runtime
	timeout     time.Duration
	logger      *log.Logger
}

func NewDispatcher(
	st *store.Store,
	reg *registry.Registry,
	enforcer *authority.Enforcer,
	assembler *memory.Assembler,
	escalations Escalator,
	runtime Runtime,
	timeout time.Duration,
	logger *log.Logger,
) *Dispatcher {
	return &Dispatcher{
		store:       st,
		registry:    reg,
		enforcer:    enforcer,
		assembler:   assembler,
		escalations: escalations,
		runtime:     runtime,
		timeout:     timeout,
		logger:      logger,
	}
}

// Delegate reserves a slot for the role, assembles the request, and waits
// for the runtime until the deadline. The returned result is what was
// persisted; callers inspect Outcome rather than the error for timeout
// and violation cases.
func (d *Dispatcher) Delegate(ctx context.Context, roleID, ticketID, task string) (model.DelegationResult, error) {
	task = strings.TrimSpace(task)
	if task == "" {
		return model.DelegationResult{}, fmt.Errorf("delegation requires a task")
	}

	role, err := d.registry.Resolve(roleID)
	if err != nil {
		return model.DelegationResult{}, err
	}

	release, err := d.registry.Reserve(roleID)
	if err != nil {
		var capacity *registry.CapacityExceededError
		if errors.As(err, &capacity) {
			d.observe(model.EscalationEvent{
				Kind:     model.EscalationCapacityExceeded,
				TicketID: ticketID,
				RoleID:   roleID,
				Severity: model.PriorityMedium,
				Message:  fmt.Sprintf("role %s at capacity (%d in flight), delegation for %s refused", roleID, capacity.MaxConcurrent, ticketID),
			})
		}
		return model.DelegationResult{}, err
	}
	defer release()

	payload, err := d.assembler.BuildContext(ticketID, role)
	if err != nil {
		return model.DelegationResult{}, fmt.Errorf("assemble context for %s: %w", ticketID, err)
	}

	now := time.Now().UTC()
	req := model.DelegationRequest{
		ID:        uuid.NewString(),
		RoleID:    roleID,
		TicketID:  ticketID,
		Task:      task,
		Context:   payload,
		Authority: d.enforcer.Rules(roleID),
		IssuedAt:  now,
		Deadline:  now.Add(d.timeout),
	}
	if err := d.store.SaveDelegationRequest(req); err != nil {
		return model.DelegationResult{}, err
	}

	execCtx, cancel := context.WithDeadline(ctx, req.Deadline)
	defer cancel()

	started := time.Now()
	result, execErr := d.wait(execCtx, req)
	result.RequestID = req.ID
	result.RoleID = roleID
	result.TicketID = ticketID
	result.Duration = time.Since(started)

	switch {
	case execErr != nil && execCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil:
		result.Outcome = model.OutcomeTimeout
		result.Writes = nil
		result.Memory = nil
		result.Summary = fmt.Sprintf("no response from %s before the %s deadline", roleID, d.timeout)
		d.observe(model.EscalationEvent{
			Kind:      model.EscalationNonResponse,
			TicketID:  ticketID,
			RequestID: req.ID,
			RoleID:    roleID,
			Severity:  model.PriorityHigh,
			Message:   result.Summary,
		})
	case execErr != nil && ctx.Err() != nil:
		result.Outcome = model.OutcomeCancelled
		result.Writes = nil
		result.Memory = nil
		result.Summary = "delegation cancelled"
	case execErr != nil:
		result.Outcome = model.OutcomeFailure
		result.Writes = nil
		result.Memory = nil
		result.Summary = execErr.Error()
	default:
		if result.Outcome == "" {
			result.Outcome = model.OutcomeSuccess
		}
		if decision, ok := d.enforcer.CheckWrites(roleID, result.Writes); !ok {
			result.Outcome = model.OutcomeViolation
			result.Writes = nil
			result.Memory = nil
			result.Summary = decision.Reason
			d.observe(model.EscalationEvent{
				Kind:      model.EscalationAuthorityViolation,
				TicketID:  ticketID,
				RequestID: req.ID,
				RoleID:    roleID,
				Severity:  model.PriorityCritical,
				Message:   fmt.Sprintf("%s proposed write to %s: %s", roleID, decision.Path, decision.Reason),
			})
		} else if result.Outcome != model.OutcomeSuccess {
			// only a success carries writes forward
			result.Writes = nil
			result.Memory = nil
		}
	}

	if err := d.store.SaveDelegationResult(result); err != nil {
		return result, err
	}
	if err := d.store.AddEvent("delegation", req.ID, string(result.Outcome), "", "",
		fmt.Sprintf("role=%s ticket=%s", roleID, ticketID)); err != nil && d.logger != nil {
		d.logger.Printf("dispatch: audit event for %s failed: %v", req.ID, err)
	}

	if result.Outcome == model.OutcomeSuccess {
		for _, rec := range result.Memory {
			rec.RoleID = roleID
			if rec.TicketID == "" {
				rec.TicketID = ticketID
			}
			if _, err := d.assembler.Record(rec); err != nil && d.logger != nil {
				d.logger.Printf("dispatch: memory record from %s dropped: %v", req.ID, err)
			}
		}
	}

	if d.logger != nil {
		d.logger.Printf("dispatch: request=%s role=%s ticket=%s outcome=%s in %s",
			req.ID, roleID, ticketID, result.Outcome, result.Duration.Round(time.Millisecond))
	}
	return result, nil
}

type execReply struct {
	result model.DelegationResult
	err    error
}

// wait runs the runtime in its own goroutine and gives up when ctx
// fires. A runtime that ignores its ctx still cannot hold the slot past
// the deadline; its eventual reply is discarded.
func (d *Dispatcher) wait(ctx context.Context, req model.DelegationRequest) (model.DelegationResult, error) {
	replies := make(chan execReply, 1)
	go func() {
		result, err := d.runtime.Execute(ctx, req)
		replies <- execReply{result: result, err: err}
	}()

	select {
	case reply := <-replies:
		return reply.result, reply.err
	case <-ctx.Done():
		return model.DelegationResult{}, ctx.Err()
	}
}

func (d *Dispatcher) observe(event model.EscalationEvent) {
	if d.escalations == nil {
		return
	}
	if _, err := d.escalations.Observe(event); err != nil && d.logger != nil {
		d.logger.Printf("dispatch: escalation %s not recorded: %v", event.Kind, err)
	}
}

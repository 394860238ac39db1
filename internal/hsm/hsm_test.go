package hsm

import (
	"testing"

	"foreman/internal/model"
)

func TestTaskTransitions(t *testing.T) {
	if !CanTransitionTicket(model.TicketTypeTask, model.TicketStatusOpen, model.TicketStatusInProgress) {
		t.Fatalf("expected open -> in_progress transition to be allowed")
	}
	if !CanTransitionTicket(model.TicketTypeTask, model.TicketStatusInProgress, model.TicketStatusBlocked) {
		t.Fatalf("expected in_progress -> blocked transition to be allowed")
	}
	if !CanTransitionTicket(model.TicketTypeTask, model.TicketStatusReview, model.TicketStatusDone) {
		t.Fatalf("expected review -> done transition to be allowed")
	}
	if CanTransitionTicket(model.TicketTypeTask, model.TicketStatusOpen, model.TicketStatusDone) {
		t.Fatalf("expected open -> done transition to be disallowed")
	}
	if CanTransitionTicket(model.TicketTypeTask, model.TicketStatusReview, model.TicketStatusReadyForQA) {
		t.Fatalf("expected review -> ready_for_qa to be disallowed for tasks")
	}
}

func TestIssueSubFlow(t *testing.T) {
	if !CanTransitionTicket(model.TicketTypeIssue, model.TicketStatusReview, model.TicketStatusReadyForQA) {
		t.Fatalf("expected review -> ready_for_qa transition to be allowed for issues")
	}
	if !CanTransitionTicket(model.TicketTypeIssue, model.TicketStatusReadyForQA, model.TicketStatusReadyForDeployment) {
		t.Fatalf("expected ready_for_qa -> ready_for_deployment transition to be allowed")
	}
	if !CanTransitionTicket(model.TicketTypeIssue, model.TicketStatusReadyForDeployment, model.TicketStatusDone) {
		t.Fatalf("expected ready_for_deployment -> done transition to be allowed")
	}
	if !CanTransitionTicket(model.TicketTypeIssue, model.TicketStatusReadyForQA, model.TicketStatusInProgress) {
		t.Fatalf("expected ready_for_qa -> in_progress reject transition to be allowed")
	}
	if CanTransitionTicket(model.TicketTypeIssue, model.TicketStatusReadyForQA, model.TicketStatusDone) {
		t.Fatalf("expected ready_for_qa -> done transition to be disallowed")
	}
}

func TestCancelFromNonTerminal(t *testing.T) {
	for _, from := range []model.TicketStatus{
		model.TicketStatusOpen,
		model.TicketStatusInProgress,
		model.TicketStatusBlocked,
		model.TicketStatusReview,
	} {
		if !CanTransitionTicket(model.TicketTypeEpic, from, model.TicketStatusCancelled) {
			t.Fatalf("expected %s -> cancelled transition to be allowed", from)
		}
	}
	if CanTransitionTicket(model.TicketTypeEpic, model.TicketStatusDone, model.TicketStatusCancelled) {
		t.Fatalf("expected done -> cancelled transition to be disallowed")
	}
}

func TestSelfTransitionAllowed(t *testing.T) {
	if !CanTransitionTicket(model.TicketTypePR, model.TicketStatusInProgress, model.TicketStatusInProgress) {
		t.Fatalf("expected self transition to be allowed")
	}
}

func TestApplyEvent(t *testing.T) {
	status, ok := ApplyEvent(model.TicketTypeIssue, model.TicketStatusReview, model.TicketEventQA)
	if !ok || status != model.TicketStatusReadyForQA {
		t.Fatalf("expected qa event to move review -> ready_for_qa, got %s ok=%t", status, ok)
	}

	if _, ok := ApplyEvent(model.TicketTypeTask, model.TicketStatusReview, model.TicketEventQA); ok {
		t.Fatalf("expected qa event to be rejected for tasks")
	}

	if _, ok := ApplyEvent(model.TicketTypeTask, model.TicketStatusDone, model.TicketEventStart); ok {
		t.Fatalf("expected events on terminal status to be rejected")
	}
}

func TestEventForRoundTrip(t *testing.T) {
	event, ok := EventFor(model.TicketStatusOpen, model.TicketStatusInProgress)
	if !ok || event != model.TicketEventStart {
		t.Fatalf("expected start event for open -> in_progress, got %s ok=%t", event, ok)
	}
	if _, ok := EventFor(model.TicketStatusOpen, model.TicketStatusDone); ok {
		t.Fatalf("expected no event for open -> done")
	}
}

func TestGatedStatuses(t *testing.T) {
	if !Gated(model.TicketStatusDone) {
		t.Fatalf("expected done to be gated")
	}
	if !Gated(model.TicketStatusReadyForDeployment) {
		t.Fatalf("expected ready_for_deployment to be gated")
	}
	if Gated(model.TicketStatusReview) {
		t.Fatalf("expected review to be ungated")
	}
}

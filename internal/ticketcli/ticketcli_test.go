package ticketcli

import (
	"testing"

	"foreman/internal/model"
)

func TestRenderCreate(t *testing.T) {
	r := NewRenderer("tickets")
	cmd, ok := r.Render(model.TicketTypeIssue, model.AuditEvent{
		EntityID: "ISS-1", EventType: "created", ToState: "open", Message: "checkout flow",
	})
	if !ok {
		t.Fatalf("expected created event to render")
	}
	if got := cmd.String(); got != `tickets issue create ISS-1 --title "checkout flow"` {
		t.Fatalf("unexpected command %q", got)
	}
}

func TestRenderTransitionUsesEventVerb(t *testing.T) {
	r := NewRenderer("tickets")
	cmd, ok := r.Render(model.TicketTypeTask, model.AuditEvent{
		EntityID: "TSK-3", EventType: "transition", FromState: "open", ToState: "in_progress",
	})
	if !ok {
		t.Fatalf("expected transition to render")
	}
	if got := cmd.String(); got != "tickets task start TSK-3" {
		t.Fatalf("unexpected command %q", got)
	}

	cmd, ok = r.Render(model.TicketTypeIssue, model.AuditEvent{
		EntityID: "ISS-2", EventType: "transition", FromState: "ready_for_qa", ToState: "ready_for_deployment",
	})
	if !ok {
		t.Fatalf("expected qa transition to render")
	}
	if got := cmd.String(); got != "tickets issue deploy ISS-2" {
		t.Fatalf("unexpected command %q", got)
	}
}

func TestRenderSkipsInternalEvents(t *testing.T) {
	r := NewRenderer("tickets")
	if _, ok := r.Render(model.TicketTypeTask, model.AuditEvent{EntityID: "TSK-1", EventType: "conflict_cleared"}); ok {
		t.Fatalf("expected conflict_cleared to have no external form")
	}
}

func TestReplayPreservesOrder(t *testing.T) {
	r := NewRenderer("tk")
	commands := r.Replay(model.TicketTypeTask, []model.AuditEvent{
		{EntityID: "TSK-1", EventType: "created", Message: "wire client"},
		{EntityID: "TSK-1", EventType: "transition", FromState: "open", ToState: "in_progress"},
		{EntityID: "TSK-1", EventType: "transition", FromState: "in_progress", ToState: "review"},
	})
	if len(commands) != 3 {
		t.Fatalf("expected 3 commands, got %d", len(commands))
	}
	if commands[1].Verb != "start" || commands[2].Verb != "review" {
		t.Fatalf("unexpected verbs %s, %s", commands[1].Verb, commands[2].Verb)
	}
}

func TestParseReply(t *testing.T) {
	outcome, detail, err := ParseReply("ok TSK-1\n")
	if err != nil || outcome != model.OutcomeSuccess || detail != "TSK-1" {
		t.Fatalf("unexpected parse: %v %v %q", outcome, err, detail)
	}

	outcome, detail, err = ParseReply("error: no such ticket")
	if err != nil || outcome != model.OutcomeFailure || detail != "no such ticket" {
		t.Fatalf("unexpected parse: %v %v %q", outcome, err, detail)
	}

	if _, _, err := ParseReply(""); err == nil {
		t.Fatalf("expected empty reply to error")
	}
	if _, _, err := ParseReply("???"); err == nil {
		t.Fatalf("expected garbage reply to error")
	}
}

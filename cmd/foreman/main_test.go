package main

import (
	"strings"
	"testing"
	"time"

	"foreman/internal/model"
	"foreman/internal/orchestrator"
)

func TestRenderTicketLine(t *testing.T) {
	line := renderTicketLine(model.Ticket{
		ID: "TSK-3", Type: model.TicketTypeTask, Title: "wire client",
		Status: model.TicketStatusInProgress, Priority: model.PriorityHigh,
		Assignee: "engineer", ParentID: "ISS-1",
	})
	want := "TSK-3 [task] wire client (in_progress, high) @engineer parent=ISS-1"
	if line != want {
		t.Fatalf("got %q, want %q", line, want)
	}

	conflicted := renderTicketLine(model.Ticket{
		ID: "ISS-1", Type: model.TicketTypeIssue, Title: "checkout",
		Status: model.TicketStatusInProgress, Priority: model.PriorityMedium, Conflict: true,
	})
	if !strings.HasSuffix(conflicted, " CONFLICT") {
		t.Fatalf("expected conflict marker, got %q", conflicted)
	}
}

func TestRenderTicketDetailIncludesComments(t *testing.T) {
	now := time.Date(2026, 8, 30, 9, 30, 0, 0, time.UTC)
	detail := renderTicketDetail(
		model.Ticket{
			ID: "ISS-1", Type: model.TicketTypeIssue, Title: "checkout",
			Status: model.TicketStatusReview, Priority: model.PriorityMedium,
			Body: "stripe checkout flow", Labels: []string{"payments"}, CreatedAt: now,
		},
		[]model.Comment{{Author: "pm", Text: "status: open -> in_progress", CreatedAt: now}},
	)
	for _, want := range []string{"stripe checkout flow", "labels: payments", "pm: status: open -> in_progress"} {
		if !strings.Contains(detail, want) {
			t.Fatalf("expected %q in detail:\n%s", want, detail)
		}
	}
}

func TestRenderEscalationLine(t *testing.T) {
	line := renderEscalationLine(model.EscalationEvent{
		ID: "01H", Kind: model.EscalationSLABreach, TicketID: "ISS-1",
		Severity: model.PriorityMedium, Message: "stuck in review",
	})
	want := "01H medium sla_breach ticket=ISS-1: stuck in review"
	if line != want {
		t.Fatalf("got %q, want %q", line, want)
	}
}

func TestRenderStatus(t *testing.T) {
	out := renderStatus(orchestrator.StatusSnapshot{
		Tickets: map[model.TicketStatus]int{
			model.TicketStatusOpen:       2,
			model.TicketStatusInProgress: 1,
		},
		Conflicted:  []string{"TSK-9"},
		ActiveRoles: map[string]int{"engineer": 1, "qa": 0},
		Escalations: 3,
	})
	for _, want := range []string{"open", "in_progress", "Conflicted: TSK-9", "engineer", "Pending escalations: 3"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in status output:\n%s", want, out)
		}
	}
}

func TestRootCommandRequiresSubcommand(t *testing.T) {
	if err := executeCLI([]string{}); err == nil {
		t.Fatalf("expected bare invocation to error")
	}
}

func TestMoveRequiresStatusOrEvent(t *testing.T) {
	err := executeCLI([]string{"move", "--ticket", "TSK-1"})
	if err == nil || !strings.Contains(err.Error(), "--status or --event") {
		t.Fatalf("expected flag validation error, got %v", err)
	}
}

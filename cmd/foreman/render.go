package main

import (
	"fmt"
	"sort"
	"strings"

	"foreman/internal/model"
	"foreman/internal/orchestrator"
)

func renderTicketLine(t model.Ticket) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s (%s, %s)", t.ID, t.Type, t.Title, t.Status, t.Priority)
	if t.Assignee != "" {
		fmt.Fprintf(&b, " @%s", t.Assignee)
	}
	if t.ParentID != "" {
		fmt.Fprintf(&b, " parent=%s", t.ParentID)
	}
	if t.Conflict {
		b.WriteString(" CONFLICT")
	}
	return b.String()
}

func renderTicketDetail(t model.Ticket, comments []model.Comment) string {
	var b strings.Builder
	b.WriteString(renderTicketLine(t))
	b.WriteString("\n")
	if t.Body != "" {
		fmt.Fprintf(&b, "  %s\n", t.Body)
	}
	if len(t.Labels) > 0 {
		fmt.Fprintf(&b, "  labels: %s\n", strings.Join(t.Labels, ", "))
	}
	fmt.Fprintf(&b, "  created %s", t.CreatedAt.Format("2006-01-02 15:04"))
	if t.ClosedAt != nil {
		fmt.Fprintf(&b, ", closed %s", t.ClosedAt.Format("2006-01-02 15:04"))
	}
	b.WriteString("\n")
	for _, c := range comments {
		fmt.Fprintf(&b, "  [%s] %s: %s\n", c.CreatedAt.Format("2006-01-02 15:04"), c.Author, c.Text)
	}
	return b.String()
}

func renderEscalationLine(e model.EscalationEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s", e.ID, e.Severity, e.Kind)
	if e.TicketID != "" {
		fmt.Fprintf(&b, " ticket=%s", e.TicketID)
	}
	if e.RoleID != "" {
		fmt.Fprintf(&b, " role=%s", e.RoleID)
	}
	fmt.Fprintf(&b, ": %s", e.Message)
	return b.String()
}

func renderMemoryLine(rec model.MemoryRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s/%s]", rec.ID, rec.Category, rec.Priority)
	if rec.TicketID != "" {
		fmt.Fprintf(&b, " ticket=%s", rec.TicketID)
	}
	if rec.RoleID != "" {
		fmt.Fprintf(&b, " by=%s", rec.RoleID)
	}
	fmt.Fprintf(&b, ": %s", rec.Content)
	if rec.Supersedes != "" {
		fmt.Fprintf(&b, " (supersedes %s)", rec.Supersedes)
	}
	return b.String()
}

func renderStatus(snapshot orchestrator.StatusSnapshot) string {
	var b strings.Builder
	b.WriteString("Tickets:\n")
	statuses := make([]string, 0, len(snapshot.Tickets))
	for status := range snapshot.Tickets {
		statuses = append(statuses, string(status))
	}
	sort.Strings(statuses)
	if len(statuses) == 0 {
		b.WriteString("  none\n")
	}
	for _, status := range statuses {
		fmt.Fprintf(&b, "  %-22s %d\n", status, snapshot.Tickets[model.TicketStatus(status)])
	}
	if len(snapshot.Conflicted) > 0 {
		fmt.Fprintf(&b, "Conflicted: %s\n", strings.Join(snapshot.Conflicted, ", "))
	}
	b.WriteString("Roles:\n")
	roles := make([]string, 0, len(snapshot.ActiveRoles))
	for role := range snapshot.ActiveRoles {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	for _, role := range roles {
		fmt.Fprintf(&b, "  %-22s %d active\n", role, snapshot.ActiveRoles[role])
	}
	fmt.Fprintf(&b, "Pending escalations: %d\n", snapshot.Escalations)
	return b.String()
}

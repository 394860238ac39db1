package memory

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"foreman/internal/model"
	"foreman/internal/policy"
	"foreman/internal/store"
)

func testAssembler(t *testing.T, maxLen int) (*Assembler, *store.Store) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "foreman.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	cfg := policy.Default()
	if maxLen > 0 {
		cfg.Delegation.MaxContextLen = maxLen
	}
	return NewAssembler(st, cfg), st
}

func mustTicket(t *testing.T, st *store.Store, ticketType model.TicketType, title string, parentID string) model.Ticket {
	t.Helper()
	ticket := model.Ticket{
		Type:     ticketType,
		Title:    title,
		Status:   model.TicketStatusOpen,
		Priority: model.PriorityMedium,
		ParentID: parentID,
	}
	if err := st.CreateTicket(&ticket); err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	return ticket
}

func TestBuildContextIncludesAncestorsAndComments(t *testing.T) {
	a, st := testAssembler(t, 0)

	epic := mustTicket(t, st, model.TicketTypeEpic, "payments", "")
	issue := mustTicket(t, st, model.TicketTypeIssue, "checkout flow", epic.ID)
	task := mustTicket(t, st, model.TicketTypeTask, "wire stripe client", issue.ID)

	now := time.Now().UTC()
	if err := st.AppendComment(model.Comment{ID: "c1", TicketID: task.ID, Author: "pm", Text: "use the sandbox key", CreatedAt: now}); err != nil {
		t.Fatalf("append comment: %v", err)
	}

	payload, err := a.BuildContext(task.ID, model.Role{ID: "engineer", Capabilities: []string{"code"}})
	if err != nil {
		t.Fatalf("build context: %v", err)
	}
	if payload.Ticket.ID != task.ID {
		t.Fatalf("expected ticket %s, got %s", task.ID, payload.Ticket.ID)
	}
	if len(payload.Ancestors) != 2 || payload.Ancestors[0].ID != issue.ID || payload.Ancestors[1].ID != epic.ID {
		t.Fatalf("expected nearest-first ancestor chain, got %+v", payload.Ancestors)
	}
	if len(payload.Comments) != 1 || payload.Comments[0].Text != "use the sandbox key" {
		t.Fatalf("expected ticket comments, got %+v", payload.Comments)
	}
	if payload.Truncated {
		t.Fatalf("expected payload under the default limit")
	}
}

func TestBuildContextFiltersMemoryByCapability(t *testing.T) {
	a, _ := testAssembler(t, 0)

	if _, err := a.Record(model.MemoryRecord{Category: model.MemoryCategoryQA, Priority: model.PriorityHigh, RoleID: "qa", Content: "flaky checkout test"}); err != nil {
		t.Fatalf("record qa: %v", err)
	}
	if _, err := a.Record(model.MemoryRecord{Category: model.MemoryCategoryBug, Priority: model.PriorityHigh, RoleID: "engineer", Content: "nil deref in cart totals"}); err != nil {
		t.Fatalf("record bug: %v", err)
	}

	st := a.store
	ticket := mustTicket(t, st, model.TicketTypeTask, "fix totals", "")

	payload, err := a.BuildContext(ticket.ID, model.Role{ID: "docs", Capabilities: []string{"document"}})
	if err != nil {
		t.Fatalf("build context: %v", err)
	}
	for _, rec := range payload.Memory {
		if rec.Category == model.MemoryCategoryQA || rec.Category == model.MemoryCategoryBug {
			t.Fatalf("docs role should not receive %s records", rec.Category)
		}
	}

	payload, err = a.BuildContext(ticket.ID, model.Role{ID: "engineer", Capabilities: []string{"code"}})
	if err != nil {
		t.Fatalf("build context: %v", err)
	}
	found := false
	for _, rec := range payload.Memory {
		if rec.Category == model.MemoryCategoryBug {
			found = true
		}
	}
	if !found {
		t.Fatalf("engineer role should receive bug records, got %+v", payload.Memory)
	}
}

func TestBuildContextTruncatesToLimit(t *testing.T) {
	a, st := testAssembler(t, 2048)

	ticket := mustTicket(t, st, model.TicketTypeTask, "long history", "")
	filler := strings.Repeat("x", 400)
	for i := 0; i < 10; i++ {
		c := model.Comment{
			ID:        "c" + string(rune('0'+i)),
			TicketID:  ticket.ID,
			Author:    "pm",
			Text:      filler,
			CreatedAt: time.Now().UTC().Add(time.Duration(i) * time.Second),
		}
		if err := st.AppendComment(c); err != nil {
			t.Fatalf("append comment: %v", err)
		}
	}

	payload, err := a.BuildContext(ticket.ID, model.Role{ID: "engineer", Capabilities: []string{"code"}})
	if err != nil {
		t.Fatalf("build context: %v", err)
	}
	if !payload.Truncated {
		t.Fatalf("expected truncation at 2048 bytes")
	}
	if len(payload.Comments) == 10 {
		t.Fatalf("expected oldest comments dropped")
	}
	if len(payload.Comments) > 0 {
		last := payload.Comments[len(payload.Comments)-1]
		if last.ID != "c9" {
			t.Fatalf("expected newest comment kept, got %s", last.ID)
		}
	}
}

func TestRecordValidatesAndAssignsID(t *testing.T) {
	a, _ := testAssembler(t, 0)

	rec, err := a.Record(model.MemoryRecord{Category: model.MemoryCategoryArchitecture, Content: "  split billing into its own service  "})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec.ID == "" || rec.CreatedAt.IsZero() {
		t.Fatalf("expected assigned id and timestamp, got %+v", rec)
	}
	if rec.Content != "split billing into its own service" {
		t.Fatalf("expected trimmed content, got %q", rec.Content)
	}
	if rec.Priority != model.PriorityMedium {
		t.Fatalf("expected default priority, got %s", rec.Priority)
	}

	if _, err := a.Record(model.MemoryRecord{Category: "vibes", Content: "nope"}); err == nil {
		t.Fatalf("expected unknown category to error")
	}
	if _, err := a.Record(model.MemoryRecord{Category: model.MemoryCategoryBug}); err == nil {
		t.Fatalf("expected empty content to error")
	}
}

func TestSupersededRecordsAreRetired(t *testing.T) {
	a, _ := testAssembler(t, 0)

	first, err := a.Record(model.MemoryRecord{Category: model.MemoryCategoryArchitecture, Content: "use redis for sessions"})
	if err != nil {
		t.Fatalf("record first: %v", err)
	}
	if _, err := a.Record(model.MemoryRecord{Category: model.MemoryCategoryArchitecture, Content: "sessions moved to postgres", Supersedes: first.ID}); err != nil {
		t.Fatalf("record superseding: %v", err)
	}

	records, err := a.List(store.MemoryFilter{Categories: []model.MemoryCategory{model.MemoryCategoryArchitecture}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, rec := range records {
		if rec.ID == first.ID {
			t.Fatalf("superseded record should not be listed")
		}
	}
}

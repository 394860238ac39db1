package server

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"foreman/internal/bus"
	"foreman/internal/escalation"
	"foreman/internal/model"
	"foreman/internal/policy"
	"foreman/internal/store"
)

func newWatcher(t *testing.T, maxAgeSeconds int) (*SLAWatcher, *store.Store, *escalation.Manager) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "foreman.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	eventBus := bus.NewInProcess()
	t.Cleanup(func() { eventBus.Close() })
	escalations := escalation.NewManager(st, eventBus, "foreman.escalations", nil)

	cfg := policy.Default()
	cfg.SLA.MaxAgeSeconds = map[string]int{
		string(model.TicketStatusInProgress): maxAgeSeconds,
	}
	return NewSLAWatcher(st, cfg, escalations, time.Hour, nil), st, escalations
}

func staleTicket(t *testing.T, st *store.Store) model.Ticket {
	t.Helper()
	ticket := model.Ticket{Type: model.TicketTypeTask, Title: "stuck", Status: model.TicketStatusOpen, Priority: model.PriorityMedium}
	if err := st.CreateTicket(&ticket); err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	comment := model.Comment{ID: "c-" + ticket.ID, TicketID: ticket.ID, Author: "pm", Text: "status: open -> in_progress", CreatedAt: time.Now().UTC()}
	if err := st.CommitTransition(ticket.ID, model.TicketStatusOpen, model.TicketStatusInProgress, comment, ""); err != nil {
		t.Fatalf("start ticket: %v", err)
	}
	// let updated_at fall behind the zero-second SLA cutoff
	time.Sleep(20 * time.Millisecond)
	return ticket
}

func TestSweepRaisesBreachOnce(t *testing.T) {
	w, st, escalations := newWatcher(t, 0)
	ticket := staleTicket(t, st)

	if raised := w.Sweep(); raised != 1 {
		t.Fatalf("expected one breach, got %d", raised)
	}
	pending, err := escalations.Pending("")
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Kind != model.EscalationSLABreach || pending[0].TicketID != ticket.ID {
		t.Fatalf("expected one sla_breach for %s, got %+v", ticket.ID, pending)
	}

	// a pending breach suppresses repeats
	if raised := w.Sweep(); raised != 0 {
		t.Fatalf("expected dedupe, got %d new breaches", raised)
	}

	if err := escalations.Resolve(pending[0].ID, "pm"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if raised := w.Sweep(); raised != 1 {
		t.Fatalf("expected a fresh breach after resolution, got %d", raised)
	}
}

func TestSweepIgnoresTicketsWithinSLA(t *testing.T) {
	w, st, escalations := newWatcher(t, 3600)
	staleTicket(t, st)

	if raised := w.Sweep(); raised != 0 {
		t.Fatalf("expected no breaches inside the SLA window, got %d", raised)
	}
	pending, err := escalations.Pending("")
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected nothing pending, got %+v", pending)
	}

	snapshot := w.Snapshot()
	if snapshot.TotalSweeps != 1 || snapshot.IdleSweeps != 1 {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
}

func TestWatcherLifecycle(t *testing.T) {
	w, _, _ := newWatcher(t, 3600)

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	if !w.Snapshot().Running {
		t.Fatalf("expected watcher running")
	}
	cancel()
	if !w.Wait(2 * time.Second) {
		t.Fatalf("watcher did not stop")
	}
	if w.Snapshot().Running {
		t.Fatalf("expected watcher stopped")
	}
}

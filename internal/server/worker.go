package server

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"foreman/internal/escalation"
	"foreman/internal/model"
	"foreman/internal/policy"
	"foreman/internal/store"
)

type SLAWatcherSnapshot struct {
	Running           bool       `json:"running"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	LastSweepAt       *time.Time `json:"last_sweep_at,omitempty"`
	LastBreachAt      *time.Time `json:"last_breach_at,omitempty"`
	LastErrorAt       *time.Time `json:"last_error_at,omitempty"`
	LastError         string     `json:"last_error,omitempty"`
	ConsecutiveErrors int        `json:"consecutive_errors"`
	TotalSweeps       int64      `json:"total_sweeps"`
	TotalBreaches     int64      `json:"total_breaches"`
	IdleSweeps        int64      `json:"idle_sweeps"`
}

// SLAWatcher periodically sweeps for tickets that have sat in a status
// past the policy's SLA and raises an sla_breach escalation for each.
// A ticket with a pending breach is not escalated again until the first
// one is resolved.
type SLAWatcher struct {
	store       *store.Store
	cfg         policy.Config
	escalations *escalation.Manager
	interval    time.Duration
	logger      *log.Logger

	mu       sync.RWMutex
	running  bool
	doneChan chan struct{}
	snapshot SLAWatcherSnapshot
}

func NewSLAWatcher(st *store.Store, cfg policy.Config, escalations *escalation.Manager, interval time.Duration, logger *log.Logger) *SLAWatcher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &SLAWatcher{
		store:       st,
		cfg:         cfg,
		escalations: escalations,
		interval:    interval,
		logger:      logger,
	}
}

func (w *SLAWatcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	now := time.Now().UTC()
	w.snapshot.Running = true
	w.snapshot.StartedAt = timePtr(now)
	w.doneChan = make(chan struct{})
	done := w.doneChan
	w.mu.Unlock()

	go func() {
		defer close(done)
		w.loop(ctx)
		w.mu.Lock()
		w.running = false
		w.snapshot.Running = false
		w.mu.Unlock()
	}()
}

func (w *SLAWatcher) Wait(timeout time.Duration) bool {
	w.mu.RLock()
	done := w.doneChan
	w.mu.RUnlock()
	if done == nil {
		return true
	}
	if timeout <= 0 {
		<-done
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

func (w *SLAWatcher) Snapshot() SLAWatcherSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	copySnapshot := w.snapshot
	copySnapshot.StartedAt = cloneTimePtr(w.snapshot.StartedAt)
	copySnapshot.LastSweepAt = cloneTimePtr(w.snapshot.LastSweepAt)
	copySnapshot.LastBreachAt = cloneTimePtr(w.snapshot.LastBreachAt)
	copySnapshot.LastErrorAt = cloneTimePtr(w.snapshot.LastErrorAt)
	return copySnapshot
}

func (w *SLAWatcher) loop(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Sweep()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep()
		}
	}
}

// Sweep runs one pass over every status with a configured SLA and
// returns how many breaches it raised.
func (w *SLAWatcher) Sweep() int {
	now := time.Now().UTC()
	breaches := 0
	var sweepErr error

	for status, maxAge := range w.cfg.SLA.MaxAgeSeconds {
		age := time.Duration(maxAge) * time.Second
		cutoff := now.Add(-age)
		stale, err := w.store.StaleTickets(model.TicketStatus(status), cutoff)
		if err != nil {
			sweepErr = err
			continue
		}
		for _, ticket := range stale {
			raised, err := w.escalate(ticket, age)
			if err != nil {
				sweepErr = err
				continue
			}
			if raised {
				breaches++
			}
		}
	}

	w.mu.Lock()
	w.snapshot.TotalSweeps++
	w.snapshot.LastSweepAt = timePtr(now)
	if breaches > 0 {
		w.snapshot.TotalBreaches += int64(breaches)
		w.snapshot.LastBreachAt = timePtr(time.Now().UTC())
	} else {
		w.snapshot.IdleSweeps++
	}
	if sweepErr != nil {
		w.snapshot.ConsecutiveErrors++
		w.snapshot.LastError = sweepErr.Error()
		w.snapshot.LastErrorAt = timePtr(time.Now().UTC())
	} else {
		w.snapshot.ConsecutiveErrors = 0
		w.snapshot.LastError = ""
	}
	w.mu.Unlock()

	if sweepErr != nil && w.logger != nil {
		w.logger.Printf("sla watcher: sweep error: %v", sweepErr)
	}
	return breaches
}

func (w *SLAWatcher) escalate(ticket model.Ticket, age time.Duration) (bool, error) {
	pending, err := w.escalations.HasPending(model.EscalationSLABreach, ticket.ID)
	if err != nil {
		return false, err
	}
	if pending {
		return false, nil
	}
	_, err = w.escalations.Observe(model.EscalationEvent{
		Kind:     model.EscalationSLABreach,
		TicketID: ticket.ID,
		RoleID:   ticket.Assignee,
		Severity: model.PriorityMedium,
		Message:  fmt.Sprintf("%s has been %s for more than %s", ticket.ID, ticket.Status, age),
	})
	if err != nil {
		return false, err
	}
	if w.logger != nil {
		w.logger.Printf("sla watcher: %s breached %s SLA", ticket.ID, ticket.Status)
	}
	return true, nil
}

func timePtr(t time.Time) *time.Time { return &t }

func cloneTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	copyT := *t
	return &copyT
}

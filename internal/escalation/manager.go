package escalation

import (
	"fmt"
	"log"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"foreman/internal/model"
	"foreman/internal/store"
)

// Publisher is the event stream escalations are mirrored onto for
// external watchers. The store remains the durable record; losing a bus
// message never loses an escalation.
type Publisher interface {
	Publish(topic string, payload any) error
}

// Manager ingests escalation events from every component, persists them,
// and republishes them on the escalation topic. Resolution is explicit and
// idempotent; nothing auto-resolves.
type Manager struct {
	store  *store.Store
	bus    Publisher
	topic  string
	logger *log.Logger

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func NewManager(st *store.Store, publisher Publisher, topic string, logger *log.Logger) *Manager {
	return &Manager{
		store:   st,
		bus:     publisher,
		topic:   topic,
		logger:  logger,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

// Observe assigns the event an id and timestamp, persists it, and
// publishes it. A bus failure is logged, not returned: alerting degrades,
// the record does not.
func (m *Manager) Observe(event model.EscalationEvent) (model.EscalationEvent, error) {
	if event.Kind == "" {
		return model.EscalationEvent{}, fmt.Errorf("escalation kind is required")
	}
	if strings.TrimSpace(event.Message) == "" {
		return model.EscalationEvent{}, fmt.Errorf("escalation message is required")
	}
	if event.Severity == "" {
		event.Severity = model.PriorityHigh
	}
	event.ID = m.newID()
	event.Resolved = false
	event.CreatedAt = time.Now().UTC()

	if err := m.store.InsertEscalation(event); err != nil {
		return model.EscalationEvent{}, err
	}
	if m.bus != nil {
		if err := m.bus.Publish(m.topic, event); err != nil && m.logger != nil {
			m.logger.Printf("escalation: publish %s failed: %v", event.ID, err)
		}
	}
	if m.logger != nil {
		m.logger.Printf("escalation: kind=%s severity=%s ticket=%s %s", event.Kind, event.Severity, event.TicketID, event.Message)
	}
	return event, nil
}

// Pending lists unresolved escalations, most severe first, oldest first
// within a severity. An empty severity returns everything pending.
func (m *Manager) Pending(severity model.Priority) ([]model.EscalationEvent, error) {
	events, err := m.store.ListEscalations(store.EscalationFilter{
		PendingOnly: true,
		Severity:    severity,
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(events, func(i, j int) bool {
		ri, rj := model.SeverityRank(events[i].Severity), model.SeverityRank(events[j].Severity)
		if ri != rj {
			return ri < rj
		}
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
	return events, nil
}

// Resolve marks the escalation resolved. Re-resolving is a no-op so that
// a human and a corrective re-delegation racing each other never error.
func (m *Manager) Resolve(id string, resolvedBy string) error {
	return m.store.ResolveEscalation(id, resolvedBy)
}

// HasPending reports whether an unresolved escalation of the given kind
// exists for the ticket, to keep triggers from firing twice.
func (m *Manager) HasPending(kind model.EscalationKind, ticketID string) (bool, error) {
	events, err := m.store.ListEscalations(store.EscalationFilter{
		PendingOnly: true,
		TicketID:    ticketID,
		Kind:        kind,
	})
	if err != nil {
		return false, err
	}
	return len(events) > 0, nil
}

func (m *Manager) newID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), m.entropy).String()
}

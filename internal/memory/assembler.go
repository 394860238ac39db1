package memory

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v3"

	"foreman/internal/model"
	"foreman/internal/policy"
	"foreman/internal/store"
)

// categoriesForCapabilities maps role capabilities onto the memory
// categories worth surfacing to that role. Unknown capabilities widen
// nothing; every role still sees architecture notes.
var capabilityCategories = map[string][]model.MemoryCategory{
	"code":     {model.MemoryCategoryBug, model.MemoryCategoryPerformance, model.MemoryCategoryIntegration},
	"design":   {model.MemoryCategoryArchitecture, model.MemoryCategoryFeedback},
	"test":     {model.MemoryCategoryQA, model.MemoryCategoryBug},
	"verify":   {model.MemoryCategoryQA},
	"deploy":   {model.MemoryCategoryIntegration, model.MemoryCategoryPerformance},
	"infra":    {model.MemoryCategoryIntegration},
	"document": {model.MemoryCategoryFeedback, model.MemoryCategoryArchitecture},
}

// Assembler builds the bounded context payload handed to a delegated
// agent and appends records to the shared memory log.
type Assembler struct {
	store  *store.Store
	maxLen int
	window int
}

func NewAssembler(st *store.Store, cfg policy.Config) *Assembler {
	return &Assembler{
		store:  st,
		maxLen: cfg.Delegation.MaxContextLen,
		window: cfg.Delegation.MemoryWindow,
	}
}

// BuildContext assembles the ticket, its ancestor chain, its comments,
// and the memory records relevant to the role's capabilities. The
// payload is trimmed to the configured byte limit; trimming drops the
// oldest comments first, then the oldest memory, and marks the payload
// truncated. The ticket itself is never dropped.
func (a *Assembler) BuildContext(ticketID string, role model.Role) (model.ContextPayload, error) {
	ticket, err := a.store.GetTicket(ticketID)
	if err != nil {
		return model.ContextPayload{}, err
	}

	payload := model.ContextPayload{Ticket: ticket}

	for parentID := ticket.ParentID; parentID != ""; {
		parent, err := a.store.GetTicket(parentID)
		if err != nil {
			return model.ContextPayload{}, fmt.Errorf("ancestor %s: %w", parentID, err)
		}
		payload.Ancestors = append(payload.Ancestors, parent)
		parentID = parent.ParentID
	}

	payload.Comments, err = a.store.Comments(ticketID)
	if err != nil {
		return model.ContextPayload{}, err
	}

	if a.window > 0 {
		payload.Memory, err = a.store.ListMemory(store.MemoryFilter{
			Categories: relevantCategories(role.Capabilities),
			Limit:      a.window,
		})
		if err != nil {
			return model.ContextPayload{}, err
		}
	}

	return a.bound(payload)
}

func relevantCategories(capabilities []string) []model.MemoryCategory {
	seen := map[model.MemoryCategory]bool{model.MemoryCategoryArchitecture: true}
	for _, cap := range capabilities {
		for _, c := range capabilityCategories[cap] {
			seen[c] = true
		}
	}
	categories := make([]model.MemoryCategory, 0, len(seen))
	for c := range seen {
		categories = append(categories, c)
	}
	return categories
}

// bound shrinks the payload until its JSON encoding fits the limit.
// Comments go before memory because memory survives in the store; a
// comment dropped here is still on the ticket.
func (a *Assembler) bound(payload model.ContextPayload) (model.ContextPayload, error) {
	for {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return model.ContextPayload{}, fmt.Errorf("encode context: %w", err)
		}
		if a.maxLen <= 0 || len(encoded) <= a.maxLen {
			return payload, nil
		}
		payload.Truncated = true
		switch {
		case len(payload.Comments) > 0:
			payload.Comments = payload.Comments[1:]
		case len(payload.Memory) > 0:
			payload.Memory = payload.Memory[:len(payload.Memory)-1]
		case len(payload.Ancestors) > 0:
			payload.Ancestors = payload.Ancestors[:len(payload.Ancestors)-1]
		default:
			return payload, nil
		}
	}
}

// Record appends one record to the memory log. Records are never
// edited; pass Supersedes to retire an earlier record.
func (a *Assembler) Record(rec model.MemoryRecord) (model.MemoryRecord, error) {
	rec.Content = strings.TrimSpace(rec.Content)
	if rec.Content == "" {
		return model.MemoryRecord{}, fmt.Errorf("memory record requires content")
	}
	if !model.ValidMemoryCategory(rec.Category) {
		return model.MemoryRecord{}, fmt.Errorf("unknown memory category %q", rec.Category)
	}
	if rec.Priority == "" {
		rec.Priority = model.PriorityMedium
	}
	if !model.ValidPriority(rec.Priority) {
		return model.MemoryRecord{}, fmt.Errorf("unknown priority %q", rec.Priority)
	}
	rec.ID = shortuuid.New()
	rec.CreatedAt = time.Now().UTC()
	if err := a.store.AppendMemory(rec); err != nil {
		return model.MemoryRecord{}, err
	}
	return rec, nil
}

// List exposes the memory log with the store's filters applied.
func (a *Assembler) List(filter store.MemoryFilter) ([]model.MemoryRecord, error) {
	return a.store.ListMemory(filter)
}

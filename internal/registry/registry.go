package registry

import (
	"fmt"
	"sort"
	"sync/atomic"

	"foreman/internal/model"
)

// CapacityExceededError reports a reservation attempt against a role whose
// instance slots are all busy. Singleton roles (max_concurrent=1, the
// normal case) hit this whenever a second delegation races the first.
type CapacityExceededError struct {
	RoleID        string
	MaxConcurrent int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("role %s is at capacity (%d in flight)", e.RoleID, e.MaxConcurrent)
}

type NotFoundError struct {
	RoleID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("role %s is not registered", e.RoleID)
}

type entry struct {
	role   model.Role
	active atomic.Int64
}

// Registry is the static role table plus per-role active-instance
// accounting. Roles are immutable after New; the counters are the only
// mutable state and are updated with compare-and-swap so that concurrent
// delegation attempts cannot both claim a singleton's slot.
type Registry struct {
	entries map[string]*entry
}

func New(roles []model.Role) (*Registry, error) {
	entries := make(map[string]*entry, len(roles))
	for _, role := range roles {
		if role.ID == "" {
			return nil, fmt.Errorf("role id cannot be empty")
		}
		if _, exists := entries[role.ID]; exists {
			return nil, fmt.Errorf("role %s registered twice", role.ID)
		}
		if role.MaxConcurrent <= 0 {
			return nil, fmt.Errorf("role %s max_concurrent must be > 0", role.ID)
		}
		entries[role.ID] = &entry{role: role}
	}
	return &Registry{entries: entries}, nil
}

func (r *Registry) Resolve(roleID string) (model.Role, error) {
	e, ok := r.entries[roleID]
	if !ok {
		return model.Role{}, &NotFoundError{RoleID: roleID}
	}
	return e.role, nil
}

func (r *Registry) ActiveInstances(roleID string) int {
	e, ok := r.entries[roleID]
	if !ok {
		return 0
	}
	return int(e.active.Load())
}

// Reserve claims one instance slot for the role. The returned release
// function is idempotent and must be called on every delegation exit path;
// a leaked slot permanently wedges a singleton role.
func (r *Registry) Reserve(roleID string) (func(), error) {
	e, ok := r.entries[roleID]
	if !ok {
		return nil, &NotFoundError{RoleID: roleID}
	}
	for {
		current := e.active.Load()
		if current >= int64(e.role.MaxConcurrent) {
			return nil, &CapacityExceededError{RoleID: roleID, MaxConcurrent: e.role.MaxConcurrent}
		}
		if e.active.CompareAndSwap(current, current+1) {
			break
		}
	}
	var released atomic.Bool
	return func() {
		if released.CompareAndSwap(false, true) {
			e.active.Add(-1)
		}
	}, nil
}

// Roles returns all registered roles sorted by id.
func (r *Registry) Roles() []model.Role {
	out := make([]model.Role, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// WithCapability returns role ids carrying the given capability tag, for
// routing a unit of work to a specialist.
func (r *Registry) WithCapability(capability string) []string {
	var out []string
	for id, e := range r.entries {
		for _, c := range e.role.Capabilities {
			if c == capability {
				out = append(out, id)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

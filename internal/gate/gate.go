package gate

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"foreman/internal/model"
)

// Evaluator decides whether a ticket may cross into a gated status
// (done, ready_for_deployment) given the delegation results and memory
// records recorded against it. Policy may override the built-in predicate
// per target status with a Lua expression.
type Evaluator struct {
	qaRoles     map[string]bool
	expressions map[string]string
}

func NewEvaluator(qaRoleIDs []string, expressions map[string]string) *Evaluator {
	qaRoles := make(map[string]bool, len(qaRoleIDs))
	for _, id := range qaRoleIDs {
		qaRoles[id] = true
	}
	return &Evaluator{qaRoles: qaRoles, expressions: expressions}
}

// Verdict carries the gate decision and a human-readable reason for the
// escalation raised on failure.
type Verdict struct {
	Passed bool
	Reason string
}

type stats struct {
	resultCount         int
	successCount        int
	qaSuccessCount      int
	failureCount        int
	violationCount      int
	criticalMemoryCount int
}

// Evaluate runs the gate for the target status. The memory slice must
// already exclude superseded records.
func (e *Evaluator) Evaluate(ticket model.Ticket, target model.TicketStatus, results []model.DelegationResult, memory []model.MemoryRecord) (Verdict, error) {
	st := collect(e.qaRoles, ticket.ID, results, memory)

	if expr, ok := e.expressions[string(target)]; ok && expr != "" {
		return evalLua(expr, ticket, target, st)
	}
	return builtin(ticket, st), nil
}

func collect(qaRoles map[string]bool, ticketID string, results []model.DelegationResult, memory []model.MemoryRecord) stats {
	var st stats
	for _, res := range results {
		st.resultCount++
		switch res.Outcome {
		case model.OutcomeSuccess:
			st.successCount++
			if qaRoles[res.RoleID] {
				st.qaSuccessCount++
			}
		case model.OutcomeFailure, model.OutcomeTimeout:
			st.failureCount++
		case model.OutcomeViolation:
			st.violationCount++
		}
	}
	for _, rec := range memory {
		if rec.Priority == model.PriorityCritical && (rec.TicketID == "" || rec.TicketID == ticketID) {
			st.criticalMemoryCount++
		}
	}
	return st
}

// builtin is the default predicate: no unresolved critical memory for any
// type; issues and PRs additionally need a QA success, tasks any success.
// Epics are containers and carry only the memory check — the parent/child
// completion rule does the rest.
func builtin(ticket model.Ticket, st stats) Verdict {
	if st.criticalMemoryCount > 0 {
		return Verdict{Reason: fmt.Sprintf("%d unresolved critical memory record(s)", st.criticalMemoryCount)}
	}
	switch ticket.Type {
	case model.TicketTypeIssue, model.TicketTypePR:
		if st.qaSuccessCount == 0 {
			return Verdict{Reason: "no successful qa delegation recorded"}
		}
	case model.TicketTypeTask:
		if st.successCount == 0 {
			return Verdict{Reason: "no successful delegation recorded"}
		}
	}
	return Verdict{Passed: true}
}

func evalLua(expr string, ticket model.Ticket, target model.TicketStatus, st stats) (Verdict, error) {
	L := lua.NewState()
	defer L.Close()

	L.SetGlobal("result_count", lua.LNumber(st.resultCount))
	L.SetGlobal("success_count", lua.LNumber(st.successCount))
	L.SetGlobal("qa_success_count", lua.LNumber(st.qaSuccessCount))
	L.SetGlobal("failure_count", lua.LNumber(st.failureCount))
	L.SetGlobal("violation_count", lua.LNumber(st.violationCount))
	L.SetGlobal("critical_memory_count", lua.LNumber(st.criticalMemoryCount))
	L.SetGlobal("ticket_type", lua.LString(ticket.Type))
	L.SetGlobal("target_status", lua.LString(target))

	if err := L.DoString("return " + expr); err != nil {
		return Verdict{}, fmt.Errorf("evaluate gate expression for %s: %w", target, err)
	}
	passed := lua.LVAsBool(L.Get(-1))
	if passed {
		return Verdict{Passed: true}, nil
	}
	return Verdict{Reason: fmt.Sprintf("gate expression %q evaluated false", expr)}, nil
}

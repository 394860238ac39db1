// Package ticketcli renders committed ticket activity as invocations of
// an external ticket CLI and parses that CLI's replies. The store stays
// the source of truth; the rendered commands let an outside tracker be
// replayed into sync after the fact.
package ticketcli

import (
	"fmt"
	"strings"

	"foreman/internal/hsm"
	"foreman/internal/model"
)

// Command is one external invocation: tool entity verb id [--flag value].
type Command struct {
	Tool   string
	Entity string
	Verb   string
	ID     string
	Flags  []Flag
}

type Flag struct {
	Name  string
	Value string
}

func (c Command) Args() []string {
	args := []string{c.Entity, c.Verb, c.ID}
	for _, f := range c.Flags {
		args = append(args, "--"+f.Name, f.Value)
	}
	return args
}

func (c Command) String() string {
	parts := append([]string{c.Tool}, c.Args()...)
	for i, p := range parts {
		if strings.ContainsAny(p, " \t\"") {
			parts[i] = fmt.Sprintf("%q", p)
		}
	}
	return strings.Join(parts, " ")
}

// Renderer maps audit events onto CLI commands for a configured tool.
type Renderer struct {
	tool string
}

func NewRenderer(tool string) *Renderer {
	tool = strings.TrimSpace(tool)
	if tool == "" {
		tool = "tickets"
	}
	return &Renderer{tool: tool}
}

// Render maps one ticket audit event to a command. The second return is
// false for events with no external representation.
func (r *Renderer) Render(ticketType model.TicketType, ev model.AuditEvent) (Command, bool) {
	switch ev.EventType {
	case "created":
		cmd := Command{Tool: r.tool, Entity: string(ticketType), Verb: "create", ID: ev.EntityID}
		if ev.Message != "" {
			cmd.Flags = append(cmd.Flags, Flag{Name: "title", Value: ev.Message})
		}
		return cmd, true
	case "transition":
		from := model.TicketStatus(ev.FromState)
		to := model.TicketStatus(ev.ToState)
		cmd := Command{Tool: r.tool, Entity: string(ticketType), ID: ev.EntityID}
		if event, ok := hsm.EventFor(from, to); ok {
			cmd.Verb = string(event)
		} else {
			cmd.Verb = "update"
			cmd.Flags = append(cmd.Flags, Flag{Name: "status", Value: string(to)})
		}
		if ev.Message != "" {
			cmd.Flags = append(cmd.Flags, Flag{Name: "comment", Value: ev.Message})
		}
		return cmd, true
	}
	return Command{}, false
}

// Replay renders a ticket's full audit trail in order.
func (r *Renderer) Replay(ticketType model.TicketType, events []model.AuditEvent) []Command {
	var commands []Command
	for _, ev := range events {
		if cmd, ok := r.Render(ticketType, ev); ok {
			commands = append(commands, cmd)
		}
	}
	return commands
}

// ParseReply classifies the external CLI's output. The CLI answers one
// line per command: "ok <id>" on success, "error: <reason>" on failure.
func ParseReply(output string) (model.Outcome, string, error) {
	line := strings.TrimSpace(output)
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = strings.TrimSpace(line[:idx])
	}
	switch {
	case line == "ok" || strings.HasPrefix(line, "ok "):
		return model.OutcomeSuccess, strings.TrimSpace(strings.TrimPrefix(line, "ok")), nil
	case strings.HasPrefix(line, "error:"):
		return model.OutcomeFailure, strings.TrimSpace(strings.TrimPrefix(line, "error:")), nil
	case line == "":
		return "", "", fmt.Errorf("empty reply from ticket tool")
	}
	return "", "", fmt.Errorf("unrecognized reply %q", line)
}

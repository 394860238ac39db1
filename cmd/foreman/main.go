package main

import (
	"fmt"
	"os"
)

func main() {
	if err := executeCLI(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`foreman - orchestrate a multi-agent project management engine

Usage:
  foreman <command> [flags]

Tickets:
  create        Create an epic, issue, task, or pr
  move          Transition a ticket to a new status
  show          Show one ticket with its comments
  list          List tickets
  comment       Append a comment to a ticket
  assign        Set a ticket's assignee

Escalations:
  escalations   List pending escalations
  resolve       Resolve an escalation

Memory:
  remember      Append a memory record
  memory        List memory records

Operations:
  status        Summarize tickets, roles, and escalations
  replay        Render a ticket's audit trail as ticket-tool commands
  watch         Run the SLA watcher until interrupted
  policy-init   Write a default policy file

Run "foreman <command> --help" for flags.`)
}

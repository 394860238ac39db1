package main

import (
	"context"
	"fmt"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"

	"foreman/internal/model"
	"foreman/internal/orchestrator"
	"foreman/internal/store"
	"foreman/internal/ticket"
)

func serviceFlags() []*parameters.ParameterDefinition {
	return []*parameters.ParameterDefinition{
		parameters.NewParameterDefinition(
			"db",
			parameters.ParameterTypeString,
			parameters.WithHelp("Path to SQLite DB"),
			parameters.WithDefault(store.DefaultDBPath),
		),
		parameters.NewParameterDefinition(
			"policy",
			parameters.ParameterTypeString,
			parameters.WithHelp("Path to policy file"),
			parameters.WithDefault(""),
		),
	}
}

func openService(dbPath, policyPath string) (*orchestrator.Service, error) {
	return orchestrator.NewService(orchestrator.ServiceOptions{
		DBPath:     dbPath,
		PolicyPath: policyPath,
	})
}

type createGlazedCommand struct {
	*cmds.CommandDescription
}

type createSettings struct {
	DBPath     string   `glazed.parameter:"db"`
	PolicyPath string   `glazed.parameter:"policy"`
	Type       string   `glazed.parameter:"type"`
	Title      string   `glazed.parameter:"title"`
	Body       string   `glazed.parameter:"body"`
	Priority   string   `glazed.parameter:"priority"`
	Parent     string   `glazed.parameter:"parent"`
	Assignee   string   `glazed.parameter:"assignee"`
	Labels     []string `glazed.parameter:"label"`
}

func newCreateGlazedCommand() (cmds.Command, error) {
	flags := append(serviceFlags(),
		parameters.NewParameterDefinition(
			"type",
			parameters.ParameterTypeString,
			parameters.WithHelp("Ticket type: epic, issue, task, pr"),
			parameters.WithRequired(true),
		),
		parameters.NewParameterDefinition(
			"title",
			parameters.ParameterTypeString,
			parameters.WithHelp("Ticket title"),
			parameters.WithRequired(true),
		),
		parameters.NewParameterDefinition(
			"body",
			parameters.ParameterTypeString,
			parameters.WithHelp("Ticket body"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"priority",
			parameters.ParameterTypeString,
			parameters.WithHelp("Priority: critical, high, medium, low"),
			parameters.WithDefault(string(model.PriorityMedium)),
		),
		parameters.NewParameterDefinition(
			"parent",
			parameters.ParameterTypeString,
			parameters.WithHelp("Parent ticket id"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"assignee",
			parameters.ParameterTypeString,
			parameters.WithHelp("Role to assign"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"label",
			parameters.ParameterTypeStringList,
			parameters.WithHelp("Labels (repeatable)"),
			parameters.WithDefault([]string{}),
		),
	)
	return &createGlazedCommand{
		CommandDescription: cmds.NewCommandDescription(
			"create",
			cmds.WithShort("Create an epic, issue, task, or pr"),
			cmds.WithFlags(flags...),
		),
	}, nil
}

func (c *createGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	_ = ctx
	settings := &createSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	service, err := openService(settings.DBPath, settings.PolicyPath)
	if err != nil {
		return err
	}
	defer service.Close()

	created, err := service.CreateTicket(ticket.CreateRequest{
		Type:     model.TicketType(settings.Type),
		Title:    settings.Title,
		Body:     settings.Body,
		Priority: model.Priority(settings.Priority),
		ParentID: settings.Parent,
		Assignee: settings.Assignee,
		Labels:   settings.Labels,
	})
	if err != nil {
		return err
	}
	fmt.Println(renderTicketLine(created))
	return nil
}

var _ cmds.BareCommand = &createGlazedCommand{}

type moveGlazedCommand struct {
	*cmds.CommandDescription
}

type moveSettings struct {
	DBPath     string `glazed.parameter:"db"`
	PolicyPath string `glazed.parameter:"policy"`
	Ticket     string `glazed.parameter:"ticket"`
	Status     string `glazed.parameter:"status"`
	Event      string `glazed.parameter:"event"`
	Actor      string `glazed.parameter:"actor"`
	Note       string `glazed.parameter:"note"`
}

func newMoveGlazedCommand() (cmds.Command, error) {
	flags := append(serviceFlags(),
		parameters.NewParameterDefinition(
			"ticket",
			parameters.ParameterTypeString,
			parameters.WithHelp("Ticket id"),
			parameters.WithRequired(true),
		),
		parameters.NewParameterDefinition(
			"status",
			parameters.ParameterTypeString,
			parameters.WithHelp("Target status"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"event",
			parameters.ParameterTypeString,
			parameters.WithHelp("Event verb instead of a target status: start, block, unblock, review, reject, qa, deploy, done, cancel"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"actor",
			parameters.ParameterTypeString,
			parameters.WithHelp("Who is moving the ticket"),
			parameters.WithDefault("operator"),
		),
		parameters.NewParameterDefinition(
			"note",
			parameters.ParameterTypeString,
			parameters.WithHelp("Note recorded with the transition"),
			parameters.WithDefault(""),
		),
	)
	return &moveGlazedCommand{
		CommandDescription: cmds.NewCommandDescription(
			"move",
			cmds.WithShort("Transition a ticket to a new status"),
			cmds.WithFlags(flags...),
		),
	}, nil
}

func (c *moveGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	_ = ctx
	settings := &moveSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	if (settings.Status == "") == (settings.Event == "") {
		return fmt.Errorf("exactly one of --status or --event is required")
	}
	service, err := openService(settings.DBPath, settings.PolicyPath)
	if err != nil {
		return err
	}
	defer service.Close()

	var updated model.Ticket
	if settings.Event != "" {
		updated, err = service.Apply(settings.Ticket, model.TicketEvent(settings.Event), settings.Actor, settings.Note)
	} else {
		updated, err = service.Transition(settings.Ticket, model.TicketStatus(settings.Status), settings.Actor, settings.Note)
	}
	if err != nil {
		return err
	}
	fmt.Println(renderTicketLine(updated))
	return nil
}

var _ cmds.BareCommand = &moveGlazedCommand{}

type showGlazedCommand struct {
	*cmds.CommandDescription
}

type showSettings struct {
	DBPath     string `glazed.parameter:"db"`
	PolicyPath string `glazed.parameter:"policy"`
	Ticket     string `glazed.parameter:"ticket"`
}

func newShowGlazedCommand() (cmds.Command, error) {
	flags := append(serviceFlags(),
		parameters.NewParameterDefinition(
			"ticket",
			parameters.ParameterTypeString,
			parameters.WithHelp("Ticket id"),
			parameters.WithRequired(true),
		),
	)
	return &showGlazedCommand{
		CommandDescription: cmds.NewCommandDescription(
			"show",
			cmds.WithShort("Show one ticket with its comments"),
			cmds.WithFlags(flags...),
		),
	}, nil
}

func (c *showGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	_ = ctx
	settings := &showSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	service, err := openService(settings.DBPath, settings.PolicyPath)
	if err != nil {
		return err
	}
	defer service.Close()

	t, err := service.GetTicket(settings.Ticket)
	if err != nil {
		return err
	}
	comments, err := service.Comments(settings.Ticket)
	if err != nil {
		return err
	}
	fmt.Print(renderTicketDetail(t, comments))
	return nil
}

var _ cmds.BareCommand = &showGlazedCommand{}

type listGlazedCommand struct {
	*cmds.CommandDescription
}

type listSettings struct {
	DBPath     string `glazed.parameter:"db"`
	PolicyPath string `glazed.parameter:"policy"`
	Type       string `glazed.parameter:"type"`
	Status     string `glazed.parameter:"status"`
	Assignee   string `glazed.parameter:"assignee"`
	Parent     string `glazed.parameter:"parent"`
}

func newListGlazedCommand() (cmds.Command, error) {
	flags := append(serviceFlags(),
		parameters.NewParameterDefinition(
			"type",
			parameters.ParameterTypeString,
			parameters.WithHelp("Filter by ticket type"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"status",
			parameters.ParameterTypeString,
			parameters.WithHelp("Filter by status"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"assignee",
			parameters.ParameterTypeString,
			parameters.WithHelp("Filter by assignee"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"parent",
			parameters.ParameterTypeString,
			parameters.WithHelp("Filter by parent ticket id"),
			parameters.WithDefault(""),
		),
	)
	return &listGlazedCommand{
		CommandDescription: cmds.NewCommandDescription(
			"list",
			cmds.WithShort("List tickets"),
			cmds.WithFlags(flags...),
		),
	}, nil
}

func (c *listGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	_ = ctx
	settings := &listSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	service, err := openService(settings.DBPath, settings.PolicyPath)
	if err != nil {
		return err
	}
	defer service.Close()

	tickets, err := service.ListTickets(store.TicketFilter{
		Type:     model.TicketType(settings.Type),
		Status:   model.TicketStatus(settings.Status),
		Assignee: settings.Assignee,
		ParentID: settings.Parent,
	})
	if err != nil {
		return err
	}
	if len(tickets) == 0 {
		fmt.Println("no tickets")
		return nil
	}
	for _, t := range tickets {
		fmt.Println(renderTicketLine(t))
	}
	return nil
}

var _ cmds.BareCommand = &listGlazedCommand{}

type commentGlazedCommand struct {
	*cmds.CommandDescription
}

type commentSettings struct {
	DBPath     string `glazed.parameter:"db"`
	PolicyPath string `glazed.parameter:"policy"`
	Ticket     string `glazed.parameter:"ticket"`
	Author     string `glazed.parameter:"author"`
	Text       string `glazed.parameter:"text"`
}

func newCommentGlazedCommand() (cmds.Command, error) {
	flags := append(serviceFlags(),
		parameters.NewParameterDefinition(
			"ticket",
			parameters.ParameterTypeString,
			parameters.WithHelp("Ticket id"),
			parameters.WithRequired(true),
		),
		parameters.NewParameterDefinition(
			"author",
			parameters.ParameterTypeString,
			parameters.WithHelp("Comment author"),
			parameters.WithDefault("operator"),
		),
		parameters.NewParameterDefinition(
			"text",
			parameters.ParameterTypeString,
			parameters.WithHelp("Comment text"),
			parameters.WithRequired(true),
		),
	)
	return &commentGlazedCommand{
		CommandDescription: cmds.NewCommandDescription(
			"comment",
			cmds.WithShort("Append a comment to a ticket"),
			cmds.WithFlags(flags...),
		),
	}, nil
}

func (c *commentGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	_ = ctx
	settings := &commentSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	service, err := openService(settings.DBPath, settings.PolicyPath)
	if err != nil {
		return err
	}
	defer service.Close()

	comment, err := service.Comment(settings.Ticket, settings.Author, settings.Text)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s: %s\n", comment.TicketID, comment.Author, comment.Text)
	return nil
}

var _ cmds.BareCommand = &commentGlazedCommand{}

type assignGlazedCommand struct {
	*cmds.CommandDescription
}

type assignSettings struct {
	DBPath     string `glazed.parameter:"db"`
	PolicyPath string `glazed.parameter:"policy"`
	Ticket     string `glazed.parameter:"ticket"`
	Assignee   string `glazed.parameter:"assignee"`
}

func newAssignGlazedCommand() (cmds.Command, error) {
	flags := append(serviceFlags(),
		parameters.NewParameterDefinition(
			"ticket",
			parameters.ParameterTypeString,
			parameters.WithHelp("Ticket id"),
			parameters.WithRequired(true),
		),
		parameters.NewParameterDefinition(
			"assignee",
			parameters.ParameterTypeString,
			parameters.WithHelp("Role to assign"),
			parameters.WithRequired(true),
		),
	)
	return &assignGlazedCommand{
		CommandDescription: cmds.NewCommandDescription(
			"assign",
			cmds.WithShort("Set a ticket's assignee"),
			cmds.WithFlags(flags...),
		),
	}, nil
}

func (c *assignGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	_ = ctx
	settings := &assignSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	service, err := openService(settings.DBPath, settings.PolicyPath)
	if err != nil {
		return err
	}
	defer service.Close()

	updated, err := service.Assign(settings.Ticket, settings.Assignee)
	if err != nil {
		return err
	}
	fmt.Println(renderTicketLine(updated))
	return nil
}

var _ cmds.BareCommand = &assignGlazedCommand{}

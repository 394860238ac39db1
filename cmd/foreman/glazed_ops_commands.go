package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"

	"foreman/internal/bus"
	"foreman/internal/escalation"
	"foreman/internal/model"
	"foreman/internal/policy"
	"foreman/internal/server"
	"foreman/internal/store"
)

type escalationsGlazedCommand struct {
	*cmds.CommandDescription
}

type escalationsSettings struct {
	DBPath     string `glazed.parameter:"db"`
	PolicyPath string `glazed.parameter:"policy"`
	Severity   string `glazed.parameter:"severity"`
}

func newEscalationsGlazedCommand() (cmds.Command, error) {
	flags := append(serviceFlags(),
		parameters.NewParameterDefinition(
			"severity",
			parameters.ParameterTypeString,
			parameters.WithHelp("Only show one severity: critical, high, medium, low"),
			parameters.WithDefault(""),
		),
	)
	return &escalationsGlazedCommand{
		CommandDescription: cmds.NewCommandDescription(
			"escalations",
			cmds.WithShort("List pending escalations"),
			cmds.WithFlags(flags...),
		),
	}, nil
}

func (c *escalationsGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	_ = ctx
	settings := &escalationsSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	service, err := openService(settings.DBPath, settings.PolicyPath)
	if err != nil {
		return err
	}
	defer service.Close()

	pending, err := service.PendingEscalations(model.Priority(settings.Severity))
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Println("no pending escalations")
		return nil
	}
	for _, event := range pending {
		fmt.Println(renderEscalationLine(event))
	}
	return nil
}

var _ cmds.BareCommand = &escalationsGlazedCommand{}

type resolveGlazedCommand struct {
	*cmds.CommandDescription
}

type resolveSettings struct {
	DBPath     string `glazed.parameter:"db"`
	PolicyPath string `glazed.parameter:"policy"`
	ID         string `glazed.parameter:"id"`
	By         string `glazed.parameter:"by"`
}

func newResolveGlazedCommand() (cmds.Command, error) {
	flags := append(serviceFlags(),
		parameters.NewParameterDefinition(
			"id",
			parameters.ParameterTypeString,
			parameters.WithHelp("Escalation id"),
			parameters.WithRequired(true),
		),
		parameters.NewParameterDefinition(
			"by",
			parameters.ParameterTypeString,
			parameters.WithHelp("Who resolved it"),
			parameters.WithDefault("operator"),
		),
	)
	return &resolveGlazedCommand{
		CommandDescription: cmds.NewCommandDescription(
			"resolve",
			cmds.WithShort("Resolve an escalation"),
			cmds.WithFlags(flags...),
		),
	}, nil
}

func (c *resolveGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	_ = ctx
	settings := &resolveSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	service, err := openService(settings.DBPath, settings.PolicyPath)
	if err != nil {
		return err
	}
	defer service.Close()

	if err := service.ResolveEscalation(settings.ID, settings.By); err != nil {
		return err
	}
	fmt.Printf("resolved %s\n", settings.ID)
	return nil
}

var _ cmds.BareCommand = &resolveGlazedCommand{}

type rememberGlazedCommand struct {
	*cmds.CommandDescription
}

type rememberSettings struct {
	DBPath     string `glazed.parameter:"db"`
	PolicyPath string `glazed.parameter:"policy"`
	Category   string `glazed.parameter:"category"`
	Priority   string `glazed.parameter:"priority"`
	Role       string `glazed.parameter:"role"`
	Ticket     string `glazed.parameter:"ticket"`
	Content    string `glazed.parameter:"content"`
	Supersedes string `glazed.parameter:"supersedes"`
}

func newRememberGlazedCommand() (cmds.Command, error) {
	flags := append(serviceFlags(),
		parameters.NewParameterDefinition(
			"category",
			parameters.ParameterTypeString,
			parameters.WithHelp("Category: bug, feedback, architecture, performance, integration, qa"),
			parameters.WithRequired(true),
		),
		parameters.NewParameterDefinition(
			"priority",
			parameters.ParameterTypeString,
			parameters.WithHelp("Priority: critical, high, medium, low"),
			parameters.WithDefault(string(model.PriorityMedium)),
		),
		parameters.NewParameterDefinition(
			"role",
			parameters.ParameterTypeString,
			parameters.WithHelp("Role recording the memory"),
			parameters.WithDefault("operator"),
		),
		parameters.NewParameterDefinition(
			"ticket",
			parameters.ParameterTypeString,
			parameters.WithHelp("Related ticket id"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"content",
			parameters.ParameterTypeString,
			parameters.WithHelp("What to remember"),
			parameters.WithRequired(true),
		),
		parameters.NewParameterDefinition(
			"supersedes",
			parameters.ParameterTypeString,
			parameters.WithHelp("Id of an earlier record this one retires"),
			parameters.WithDefault(""),
		),
	)
	return &rememberGlazedCommand{
		CommandDescription: cmds.NewCommandDescription(
			"remember",
			cmds.WithShort("Append a memory record"),
			cmds.WithFlags(flags...),
		),
	}, nil
}

func (c *rememberGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	_ = ctx
	settings := &rememberSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	service, err := openService(settings.DBPath, settings.PolicyPath)
	if err != nil {
		return err
	}
	defer service.Close()

	rec, err := service.RecordMemory(model.MemoryRecord{
		Category:   model.MemoryCategory(settings.Category),
		Priority:   model.Priority(settings.Priority),
		RoleID:     settings.Role,
		TicketID:   settings.Ticket,
		Content:    settings.Content,
		Supersedes: settings.Supersedes,
	})
	if err != nil {
		return err
	}
	fmt.Println(renderMemoryLine(rec))
	return nil
}

var _ cmds.BareCommand = &rememberGlazedCommand{}

type memoryGlazedCommand struct {
	*cmds.CommandDescription
}

type memorySettings struct {
	DBPath     string   `glazed.parameter:"db"`
	PolicyPath string   `glazed.parameter:"policy"`
	Categories []string `glazed.parameter:"category"`
	Ticket     string   `glazed.parameter:"ticket"`
	Role       string   `glazed.parameter:"role"`
	Limit      int      `glazed.parameter:"limit"`
}

func newMemoryGlazedCommand() (cmds.Command, error) {
	flags := append(serviceFlags(),
		parameters.NewParameterDefinition(
			"category",
			parameters.ParameterTypeStringList,
			parameters.WithHelp("Filter by categories (repeatable)"),
			parameters.WithDefault([]string{}),
		),
		parameters.NewParameterDefinition(
			"ticket",
			parameters.ParameterTypeString,
			parameters.WithHelp("Filter by ticket id"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"role",
			parameters.ParameterTypeString,
			parameters.WithHelp("Filter by recording role"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"limit",
			parameters.ParameterTypeInteger,
			parameters.WithHelp("Maximum records to show"),
			parameters.WithDefault(50),
		),
	)
	return &memoryGlazedCommand{
		CommandDescription: cmds.NewCommandDescription(
			"memory",
			cmds.WithShort("List memory records"),
			cmds.WithFlags(flags...),
		),
	}, nil
}

func (c *memoryGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	_ = ctx
	settings := &memorySettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	service, err := openService(settings.DBPath, settings.PolicyPath)
	if err != nil {
		return err
	}
	defer service.Close()

	categories := make([]model.MemoryCategory, 0, len(settings.Categories))
	for _, c := range settings.Categories {
		categories = append(categories, model.MemoryCategory(c))
	}
	records, err := service.ListMemory(store.MemoryFilter{
		Categories: categories,
		TicketID:   settings.Ticket,
		RoleID:     settings.Role,
		Limit:      settings.Limit,
	})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("no memory records")
		return nil
	}
	for _, rec := range records {
		fmt.Println(renderMemoryLine(rec))
	}
	return nil
}

var _ cmds.BareCommand = &memoryGlazedCommand{}

type statusGlazedCommand struct {
	*cmds.CommandDescription
}

type statusSettings struct {
	DBPath     string `glazed.parameter:"db"`
	PolicyPath string `glazed.parameter:"policy"`
}

func newStatusGlazedCommand() (cmds.Command, error) {
	return &statusGlazedCommand{
		CommandDescription: cmds.NewCommandDescription(
			"status",
			cmds.WithShort("Summarize tickets, roles, and escalations"),
			cmds.WithFlags(serviceFlags()...),
		),
	}, nil
}

func (c *statusGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	_ = ctx
	settings := &statusSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	service, err := openService(settings.DBPath, settings.PolicyPath)
	if err != nil {
		return err
	}
	defer service.Close()

	snapshot, err := service.Status()
	if err != nil {
		return err
	}
	fmt.Print(renderStatus(snapshot))
	return nil
}

var _ cmds.BareCommand = &statusGlazedCommand{}

type replayGlazedCommand struct {
	*cmds.CommandDescription
}

type replaySettings struct {
	DBPath     string `glazed.parameter:"db"`
	PolicyPath string `glazed.parameter:"policy"`
	Ticket     string `glazed.parameter:"ticket"`
}

func newReplayGlazedCommand() (cmds.Command, error) {
	flags := append(serviceFlags(),
		parameters.NewParameterDefinition(
			"ticket",
			parameters.ParameterTypeString,
			parameters.WithHelp("Ticket id"),
			parameters.WithRequired(true),
		),
	)
	return &replayGlazedCommand{
		CommandDescription: cmds.NewCommandDescription(
			"replay",
			cmds.WithShort("Render a ticket's audit trail as ticket-tool commands"),
			cmds.WithFlags(flags...),
		),
	}, nil
}

func (c *replayGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	_ = ctx
	settings := &replaySettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	service, err := openService(settings.DBPath, settings.PolicyPath)
	if err != nil {
		return err
	}
	defer service.Close()

	commands, err := service.Replay(settings.Ticket)
	if err != nil {
		return err
	}
	for _, cmd := range commands {
		fmt.Println(cmd.String())
	}
	return nil
}

var _ cmds.BareCommand = &replayGlazedCommand{}

type watchGlazedCommand struct {
	*cmds.CommandDescription
}

type watchSettings struct {
	DBPath     string `glazed.parameter:"db"`
	PolicyPath string `glazed.parameter:"policy"`
	Interval   int    `glazed.parameter:"interval"`
}

func newWatchGlazedCommand() (cmds.Command, error) {
	flags := append(serviceFlags(),
		parameters.NewParameterDefinition(
			"interval",
			parameters.ParameterTypeInteger,
			parameters.WithHelp("Sweep interval in seconds"),
			parameters.WithDefault(30),
		),
	)
	return &watchGlazedCommand{
		CommandDescription: cmds.NewCommandDescription(
			"watch",
			cmds.WithShort("Run the SLA watcher until interrupted"),
			cmds.WithFlags(flags...),
		),
	}, nil
}

func (c *watchGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	settings := &watchSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}

	st, err := store.New(settings.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	cfg, _, err := policy.Load(settings.PolicyPath)
	if err != nil {
		cfg = policy.Default()
	}

	var eventBus *bus.Bus
	if cfg.Sink.RedisURL != "" {
		eventBus, err = bus.NewRedis(cfg.Sink.RedisURL, cfg.Sink.ConsumerGroup)
		if err != nil {
			return err
		}
	} else {
		eventBus = bus.NewInProcess()
	}
	defer eventBus.Close()

	logger := log.New(os.Stdout, "", log.LstdFlags)
	escalations := escalation.NewManager(st, eventBus, model.DefaultTopicRegistry().EscalationTopic, logger)
	watcher := server.NewSLAWatcher(st, cfg, escalations, time.Duration(settings.Interval)*time.Second, logger)

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	watcher.Start(watchCtx)
	logger.Printf("sla watcher running, interval=%ds", settings.Interval)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	select {
	case <-signals:
	case <-watchCtx.Done():
	}
	cancel()
	watcher.Wait(5 * time.Second)
	return nil
}

var _ cmds.BareCommand = &watchGlazedCommand{}

type policyInitGlazedCommand struct {
	*cmds.CommandDescription
}

type policyInitSettings struct {
	Path string `glazed.parameter:"path"`
}

func newPolicyInitGlazedCommand() (cmds.Command, error) {
	return &policyInitGlazedCommand{
		CommandDescription: cmds.NewCommandDescription(
			"policy-init",
			cmds.WithShort("Write a default policy file"),
			cmds.WithFlags(
				parameters.NewParameterDefinition(
					"path",
					parameters.ParameterTypeString,
					parameters.WithHelp("Path to policy file"),
					parameters.WithDefault(policy.DefaultPolicyPath),
				),
			),
		),
	}, nil
}

func (c *policyInitGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	_ = ctx
	settings := &policyInitSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	if err := policy.SaveDefault(settings.Path); err != nil {
		return err
	}
	fmt.Printf("Wrote default policy to %s\n", settings.Path)
	return nil
}

var _ cmds.BareCommand = &policyInitGlazedCommand{}

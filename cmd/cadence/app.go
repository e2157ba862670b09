package main

import (
	"fmt"
	"log/slog"

	"github.com/kalambet/cadence/internal/assign"
	"github.com/kalambet/cadence/internal/config"
	"github.com/kalambet/cadence/internal/lead"
	"github.com/kalambet/cadence/internal/leadstore"
	"github.com/kalambet/cadence/internal/pipeline"
	"github.com/kalambet/cadence/internal/smartlead"
	"github.com/kalambet/cadence/internal/storage"
)

// app is everything a cycle needs, wired from config.
type app struct {
	cfg     config.Config
	leads   *leadstore.FileStore
	journal *storage.Store
	client  *smartlead.Client
	engine  *pipeline.Engine
}

func newApp(cfg config.Config) (*app, error) {
	channel := cfg.Channel()
	campaigns, err := cfg.Campaigns()
	if err != nil {
		return nil, err
	}

	leads, err := leadstore.Open(cfg.Leads.Path, []lead.Channel{channel})
	if err != nil {
		return nil, err
	}
	leads.WithLogger(slog.Default().With("component", "leadstore"))

	journal, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	client := smartlead.NewClientWithBaseURL(cfg.Smartlead.APIKey, cfg.Smartlead.BaseURL)

	var registry assign.TemplateRegistry
	if cfg.Engine.TemplatesDir != "" {
		registry = assign.NewDirRegistry(cfg.Engine.TemplatesDir)
	}
	assigner := assign.New(channel, campaigns, cfg.Engine.CohortTag, registry,
		assign.WithLogger(slog.Default().With("component", "assign")))

	eng, err := pipeline.New(pipeline.Options{
		Store:         leads,
		Sender:        client,
		Assigner:      assigner,
		Journal:       journal,
		Channel:       channel,
		Cap:           cfg.Engine.MaxAttempts,
		CooldownDays:  cfg.Engine.CooldownDays,
		DueWindowDays: cfg.Engine.DueWindowDays,
		Logger:        slog.Default().With("component", "pipeline"),
	})
	if err != nil {
		journal.Close()
		return nil, err
	}

	return &app{
		cfg:     cfg,
		leads:   leads,
		journal: journal,
		client:  client,
		engine:  eng,
	}, nil
}

func (a *app) Close() {
	if err := a.journal.Close(); err != nil {
		printWarning("closing journal: %v", err)
	}
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/kalambet/campusnav/internal/config"
	"github.com/kalambet/campusnav/internal/engine"
	"github.com/kalambet/campusnav/internal/gateway"
	"github.com/kalambet/campusnav/internal/geo"
	"github.com/kalambet/campusnav/internal/pipeline"
	"github.com/kalambet/campusnav/internal/storage"
)

// app is the wired pipeline shared by serve, ask, batch and check.
type app struct {
	cfg     config.Config
	store   *storage.Store
	engine  engine.Engine // nil when the backend is not configured
	engErr  error
	gateway *gateway.Gateway
	nav     *pipeline.Navigator
	geo     *geo.Index
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	store, err := storage.Open(cfg.Storage.StorageTarget())
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	eng, engErr := engine.Detect(engine.DetectConfig{
		Provider: cfg.LLM.Provider,
		APIKey:   cfg.LLM.APIKey,
		BaseURL:  cfg.LLM.BaseURL,
		Timeout:  cfg.LLM.Timeout,
	})
	model := cfg.LLM.Model
	if engErr != nil {
		slog.Warn("language model backend not configured, answers will use fallback text",
			"provider", cfg.LLM.Provider, "error", engErr)
		eng = nil
		model = ""
	}
	gw := gateway.New(eng, model, engErr)

	buildings, err := store.ListBuildings(ctx)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("loading buildings: %w", err)
	}

	return &app{
		cfg:     cfg,
		store:   store,
		engine:  eng,
		engErr:  engErr,
		gateway: gw,
		nav:     pipeline.NewNavigator(gw, store, model),
		geo:     geo.NewIndex(buildings),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
	}
}

// loadConfig loads configuration and installs the slog default handler.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()})))
	return cfg, nil
}

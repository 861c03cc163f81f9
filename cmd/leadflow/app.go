package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/rendis/leadflow/internal/engine"
	"github.com/rendis/leadflow/internal/logging"
	"github.com/rendis/leadflow/internal/secrets"
	"github.com/rendis/leadflow/internal/sender"
	"github.com/rendis/leadflow/internal/store"
	"github.com/rendis/leadflow/internal/streaming"
)

// app is the wired object graph shared by the subcommands.
type app struct {
	cfg    Config
	logger *slog.Logger
	store  *store.LibSQLStore
	hub    *streaming.MemoryHub
	vault  secrets.Vault
	engine *engine.Engine
}

// resolveConfig loads the layered configuration and applies explicit flags.
func resolveConfig(cmd *cli.Command) (Config, error) {
	cfg, err := loadConfig(cmd.String("config"), os.Getenv)
	if err != nil {
		return cfg, err
	}
	if cmd.IsSet("db-path") {
		cfg.DBPath = cmd.String("db-path")
	}
	if cmd.IsSet("log-level") {
		cfg.LogLevel = cmd.String("log-level")
	}
	if cmd.IsSet("log-format") {
		cfg.LogFormat = cmd.String("log-format")
	}
	if cmd.IsSet("schedule") {
		cfg.Schedule = cmd.String("schedule")
	}
	if cmd.IsSet("transport") {
		cfg.Transport = cmd.String("transport")
	}
	if cmd.IsSet("listen") {
		cfg.ListenAddr = cmd.String("listen")
	}
	if cmd.IsSet("concurrency") {
		cfg.Concurrency = int(cmd.Int("concurrency"))
	}
	return cfg, cfg.Validate()
}

// openApp opens the store, applies migrations and wires the engine.
// Logs go to stderr so stdout stays free for MCP and command output.
func openApp(ctx context.Context, cmd *cli.Command) (*app, error) {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}

	s, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, store: s, hub: streaming.NewMemoryHub()}

	if cfg.VaultKey != "" {
		vcfg, err := secrets.ParseVaultKey(cfg.VaultKey)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		v, err := secrets.NewAESVault(s, vcfg)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		a.vault = v
	}

	snd, err := a.buildSender()
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	a.engine, err = engine.New(engine.Deps{
		Store:  s,
		Sender: snd,
		Hub:    a.hub,
		Logger: logger,
	}, cfg.EngineConfig())
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) buildSender() (sender.Sender, error) {
	switch a.cfg.Sender.Kind {
	case "http":
		timeout, _ := time.ParseDuration(a.cfg.Sender.Timeout)
		return sender.NewHTTPSender(sender.HTTPConfig{
			Endpoint:     a.cfg.Sender.Endpoint,
			From:         a.cfg.Sender.From,
			APIKeySecret: a.cfg.Sender.APIKeySecret,
			Timeout:      timeout,
		}, a.vault)
	default:
		a.logger.Warn("using log sender, emails are not delivered")
		return sender.NewLogSender(a.logger), nil
	}
}

// logEvents writes every hub event to the log until ctx ends.
func (a *app) logEvents(ctx context.Context) error {
	events, unsubscribe, err := a.hub.Subscribe(ctx, streaming.EventFilter{})
	if err != nil {
		return err
	}
	logger := logging.WithModule(a.logger, "events")
	go func() {
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				evCtx := logging.WithIDs(ctx, ev.ExecutionID, ev.WorkflowID, ev.EntityID)
				logger.InfoContext(evCtx, ev.Type, slog.Int("step", ev.StepOrder), slog.String("detail", ev.Detail))
			}
		}
	}()
	return nil
}

func (a *app) Close() error {
	return a.store.Close()
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/rendis/leadflow/internal/scheduler"
	"github.com/rendis/leadflow/internal/store"
	"github.com/rendis/leadflow/pkg/mcp"
	"github.com/rendis/leadflow/pkg/schema"
)

// withApp opens the app for the duration of fn.
func withApp(fn func(ctx context.Context, cmd *cli.Command, a *app) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		a, err := openApp(ctx, cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(ctx, cmd, a)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the scheduler and serve MCP tools over stdio or SSE",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "transport",
				Usage:   "MCP transport (stdio, sse)",
				Sources: cli.EnvVars("LEADFLOW_TRANSPORT"),
			},
			&cli.StringFlag{
				Name:    "listen",
				Usage:   "Listen address of the SSE transport",
				Sources: cli.EnvVars("LEADFLOW_LISTEN_ADDR"),
			},
			&cli.StringFlag{
				Name:    "schedule",
				Usage:   "Cron spec of the processing passes (e.g. @every 1m)",
				Sources: cli.EnvVars("LEADFLOW_SCHEDULE"),
			},
			&cli.IntFlag{
				Name:    "concurrency",
				Usage:   "Executions processed in parallel per pass",
				Sources: cli.EnvVars("LEADFLOW_CONCURRENCY"),
			},
		},
		Action: withApp(func(ctx context.Context, _ *cli.Command, a *app) error {
			sched, err := scheduler.New(a.engine, a.cfg.Schedule, a.logger)
			if err != nil {
				return err
			}
			if err := a.logEvents(ctx); err != nil {
				return err
			}
			if err := sched.Start(ctx); err != nil {
				return err
			}
			defer sched.Stop()

			a.logger.Info("leadflow serving",
				slog.String("db", a.cfg.DBPath),
				slog.String("schedule", a.cfg.Schedule),
				slog.String("breaker", a.engine.BreakerState()))

			srv := mcp.NewLeadflowServer(mcp.ServerDeps{
				Engine:    a.engine,
				Store:     a.store,
				Scheduler: sched,
				Hub:       a.hub,
				Logger:    a.logger,
			})
			if a.cfg.Transport == "sse" {
				err = srv.ServeSSE(ctx, a.cfg.ListenAddr, a.cfg.sseBaseURL())
			} else {
				err = srv.Serve(ctx)
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		}),
	}
}

func processCommand() *cli.Command {
	return &cli.Command{
		Name:  "process",
		Usage: "Run one processing pass over due executions",
		Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
			n, err := a.engine.ProcessScheduledSteps(ctx)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.Root().Writer, "processed %d executions\n", n)
			return err
		}),
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply database migrations",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "vacuum", Usage: "reclaim free pages after migrating"},
		},
		Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
			if cmd.Bool("vacuum") {
				if err := a.store.Vacuum(ctx); err != nil {
					return fmt.Errorf("vacuum: %w", err)
				}
			}
			_, err := fmt.Fprintf(cmd.Root().Writer, "migrated %s\n", a.cfg.DBPath)
			return err
		}),
	}
}

func defineCommand() *cli.Command {
	return &cli.Command{
		Name:      "define",
		Usage:     "Validate and store a workflow definition",
		ArgsUsage: "<file.json>",
		Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
			var def schema.WorkflowDefinition
			if err := readJSONArg(cmd, &def); err != nil {
				return err
			}
			if err := a.engine.DefineWorkflow(ctx, &def); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.Root().Writer, "defined %s v%d\n", def.ID, def.Version)
			return err
		}),
	}
}

func workflowCommand() *cli.Command {
	toggle := func(active bool) cli.ActionFunc {
		return withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
			id := cmd.Args().First()
			if id == "" {
				return schema.NewError(schema.ErrCodeValidation, "workflow id is required")
			}
			return a.engine.SetWorkflowActive(ctx, id, active)
		})
	}
	return &cli.Command{
		Name:  "workflow",
		Usage: "List, activate or deactivate workflows",
		Commands: []*cli.Command{
			{
				Name: "list",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "active", Usage: "only active workflows"},
				},
				Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
					var filter store.WorkflowFilter
					if cmd.Bool("active") {
						active := true
						filter.Active = &active
					}
					defs, err := a.engine.ListWorkflows(ctx, filter)
					if err != nil {
						return err
					}
					for _, def := range defs {
						state := "inactive"
						if def.Active {
							state = "active"
						}
						if _, err := fmt.Fprintf(cmd.Root().Writer, "%s\tv%d\t%s\t%s\n", def.ID, def.Version, def.Trigger.Kind, state); err != nil {
							return err
						}
					}
					return nil
				}),
			},
			{Name: "activate", ArgsUsage: "<workflow-id>", Action: toggle(true)},
			{Name: "deactivate", ArgsUsage: "<workflow-id>", Action: toggle(false)},
		},
	}
}

func leadCommand() *cli.Command {
	return &cli.Command{
		Name:      "lead",
		Usage:     "Create or update a lead from a JSON file",
		ArgsUsage: "<file.json>",
		Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
			var lead schema.Lead
			if err := readJSONArg(cmd, &lead); err != nil {
				return err
			}
			if lead.ID == "" || lead.Email == "" {
				return schema.NewError(schema.ErrCodeValidation, "lead id and email are required")
			}
			return a.store.UpsertLead(ctx, &lead)
		}),
	}
}

func templateCommand() *cli.Command {
	return &cli.Command{
		Name:      "template",
		Usage:     "Create or replace an email template from a JSON file",
		ArgsUsage: "<file.json>",
		Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
			var tpl schema.EmailTemplate
			if err := readJSONArg(cmd, &tpl); err != nil {
				return err
			}
			if tpl.Ref == "" || tpl.Subject == "" || tpl.HTMLBody == "" {
				return schema.NewError(schema.ErrCodeValidation, "template ref, subject and html_body are required")
			}
			if tpl.Name == "" {
				tpl.Name = tpl.Ref
			}
			return a.store.StoreEmailTemplate(ctx, &tpl)
		}),
	}
}

func triggerCommand() *cli.Command {
	return &cli.Command{
		Name:  "trigger",
		Usage: "Evaluate a lead event and start matching workflows",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "entity", Usage: "Lead ID", Required: true},
			&cli.StringFlag{Name: "kind", Usage: "LEAD_CREATED, STATUS_CHANGED, TAG_ADDED or DATE_BASED", Required: true},
			&cli.StringFlag{Name: "data", Usage: "Event payload as a JSON object"},
		},
		Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
			var event map[string]any
			if raw := cmd.String("data"); raw != "" {
				if err := json.Unmarshal([]byte(raw), &event); err != nil {
					return schema.NewError(schema.ErrCodeValidation, "--data must be a JSON object").WithCause(err)
				}
			}
			res, err := a.engine.Evaluate(ctx, cmd.String("entity"), schema.TriggerKind(cmd.String("kind")), event)
			if err != nil {
				return err
			}
			return printJSON(cmd.Root().Writer, res)
		}),
	}
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:      "stats",
		Usage:     "Count a workflow's executions by status",
		ArgsUsage: "<workflow-id>",
		Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
			id := cmd.Args().First()
			if id == "" {
				return schema.NewError(schema.ErrCodeValidation, "workflow id is required")
			}
			stats, err := a.engine.GetWorkflowStats(ctx, id)
			if err != nil {
				return err
			}
			return printJSON(cmd.Root().Writer, stats)
		}),
	}
}

func secretCommand() *cli.Command {
	return &cli.Command{
		Name:  "secret",
		Usage: "Manage encrypted sender credentials",
		Commands: []*cli.Command{
			{
				Name:      "set",
				Usage:     "Store a secret",
				ArgsUsage: "<key> <value>",
				Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
					if a.vault == nil {
						return schema.NewError(schema.ErrCodeVault, "vault_key is not configured")
					}
					key, value := cmd.Args().Get(0), cmd.Args().Get(1)
					if key == "" || value == "" {
						return schema.NewError(schema.ErrCodeValidation, "key and value are required")
					}
					return a.vault.Store(ctx, key, []byte(value))
				}),
			},
			{
				Name:  "list",
				Usage: "List secret keys",
				Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
					if a.vault == nil {
						return schema.NewError(schema.ErrCodeVault, "vault_key is not configured")
					}
					keys, err := a.vault.List(ctx)
					if err != nil {
						return err
					}
					for _, k := range keys {
						fmt.Fprintln(cmd.Root().Writer, k)
					}
					return nil
				}),
			},
		},
	}
}

func readJSONArg(cmd *cli.Command, dst any) error {
	path := cmd.Args().First()
	if path == "" {
		return schema.NewError(schema.ErrCodeValidation, "a JSON file argument is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "parse %s: %v", path, err).WithCause(err)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

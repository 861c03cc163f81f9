package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "leadflow:", err)
		os.Exit(1)
	}
}

func rootCommand() *cli.Command {
	return &cli.Command{
		Name:                  "leadflow",
		Usage:                 "Run delayed email sequences for CRM leads",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to settings.json",
				Value: settingsPath(),
			},
			&cli.StringFlag{
				Name:    "db-path",
				Usage:   "Path of the libSQL database file",
				Sources: cli.EnvVars("LEADFLOW_DB_PATH"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Sources: cli.EnvVars("LEADFLOW_LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Sources: cli.EnvVars("LEADFLOW_LOG_FORMAT"),
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			processCommand(),
			migrateCommand(),
			defineCommand(),
			workflowCommand(),
			leadCommand(),
			templateCommand(),
			triggerCommand(),
			statsCommand(),
			diagramCommand(),
			secretCommand(),
			versionCommand(),
		},
	}
}

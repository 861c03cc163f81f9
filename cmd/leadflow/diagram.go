package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/rendis/leadflow/internal/diagram"
	"github.com/rendis/leadflow/pkg/schema"
)

// diagramCommand draws a workflow, optionally overlaid with one execution.
func diagramCommand() *cli.Command {
	return &cli.Command{
		Name:      "diagram",
		Usage:     "Render a workflow as Mermaid text or a PNG image",
		ArgsUsage: "<workflow-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "execution", Usage: "Overlay this execution's progress on its pinned workflow version"},
			&cli.StringFlag{Name: "format", Usage: "mermaid or png", Value: "mermaid"},
			&cli.StringFlag{Name: "out", Usage: "Output file (required for png)"},
		},
		Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app) error {
			format := cmd.String("format")
			if format != "mermaid" && format != "png" {
				return schema.NewErrorf(schema.ErrCodeValidation, "unknown format %q", format)
			}
			out := cmd.String("out")
			if format == "png" && out == "" {
				return schema.NewError(schema.ErrCodeValidation, "--out is required for png")
			}

			workflowID, version := cmd.Args().First(), 0
			var exec *schema.Execution
			if id := cmd.String("execution"); id != "" {
				var err error
				if exec, err = a.engine.GetExecution(ctx, id); err != nil {
					return err
				}
				workflowID, version = exec.WorkflowID, exec.WorkflowVersion
			}
			if workflowID == "" {
				return schema.NewError(schema.ErrCodeValidation, "workflow id or --execution is required")
			}

			def, err := a.engine.GetWorkflow(ctx, workflowID, version)
			if err != nil {
				return err
			}
			model, err := diagram.Build(def, exec)
			if err != nil {
				return err
			}

			var data []byte
			if format == "png" {
				if data, err = diagram.RenderImage(ctx, model); err != nil {
					return err
				}
			} else {
				data = []byte(diagram.RenderMermaid(model))
			}
			if out == "" {
				_, err = cmd.Root().Writer.Write(data)
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			return nil
		}),
	}
}

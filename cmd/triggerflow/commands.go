package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rendis/triggerflow/internal/actions"
	"github.com/rendis/triggerflow/internal/definitions"
	"github.com/rendis/triggerflow/internal/sweeper"
	"github.com/rendis/triggerflow/internal/validation"
	"github.com/rendis/triggerflow/pkg/mcp"
	"github.com/rendis/triggerflow/pkg/schema"
)

func newImportCmd(c *cli) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "import <bundle.json|->",
		Short: "Validate and store a bundle of workflow definitions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := c.owner()
			if err != nil {
				return err
			}
			bundle, err := readBundle(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			reg := actions.NewRegistry()
			if err := actions.RegisterBuiltins(reg, actions.Deps{}); err != nil {
				return err
			}
			checker, err := validation.NewBundleValidator(reg)
			if err != nil {
				return err
			}
			if dryRun {
				res := checker.Validate(bundle)
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
				return res.ToError()
			}

			a, err := newApp(cmd.Context(), c.cfg)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := definitions.NewImporter(a.store, checker, a.logger).Import(cmd.Context(), owner, bundle)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "only validate, print errors and warnings")
	return cmd
}

func newRunCmd(c *cli) *cobra.Command {
	var data string
	cmd := &cobra.Command{
		Use:   "run <workflow-id>",
		Short: "Run one workflow directly",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := c.owner()
			if err != nil {
				return err
			}
			input, err := parseObject(data)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), c.cfg)
			if err != nil {
				return err
			}
			defer a.close()

			eng, err := a.engine(owner)
			if err != nil {
				return err
			}
			res, err := eng.RunWorkflow(cmd.Context(), args[0], input)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("workflow failed: %s", res.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "initial context as a JSON object")
	return cmd
}

func newDispatchCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Deliver an event to the workflows triggered by it",
	}

	var formData, submissionID string
	form := &cobra.Command{
		Use:   "form <form-id>",
		Short: "Dispatch a form submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := parseObject(formData)
			if err != nil {
				return err
			}
			return c.dispatch(cmd, func(a *app, owner string) (any, error) {
				eng, err := a.engine(owner)
				if err != nil {
					return nil, err
				}
				return eng.DispatchFormSubmission(cmd.Context(), args[0], fields, submissionID), nil
			})
		},
	}
	form.Flags().StringVar(&formData, "data", "", "submitted fields as a JSON object")
	form.Flags().StringVar(&submissionID, "submission-id", "", "ID of the stored submission")

	var recordData, recordID string
	table := &cobra.Command{
		Use:   "table <table-id> <create|update|delete>",
		Short: "Dispatch a table record mutation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			op := schema.Operation(args[1])
			if !op.Valid() {
				return fmt.Errorf("operation must be create, update or delete, got %q", args[1])
			}
			record, err := parseObject(recordData)
			if err != nil {
				return err
			}
			return c.dispatch(cmd, func(a *app, owner string) (any, error) {
				eng, err := a.engine(owner)
				if err != nil {
					return nil, err
				}
				return eng.DispatchDatabaseChange(cmd.Context(), args[0], op, record, recordID), nil
			})
		},
	}
	table.Flags().StringVar(&recordData, "data", "", "record fields as a JSON object")
	table.Flags().StringVar(&recordID, "record-id", "", "ID of the mutated record")

	cmd.AddCommand(form, table)
	return cmd
}

func (c *cli) dispatch(cmd *cobra.Command, fn func(a *app, owner string) (any, error)) error {
	owner, err := c.owner()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), c.cfg)
	if err != nil {
		return err
	}
	defer a.close()

	out, err := fn(a, owner)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the MCP tools over stdio and sweep abandoned executions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, c.cfg)
			if err != nil {
				return err
			}
			defer a.close()

			sw, err := sweeper.New(a.store, c.cfg.Sweeper, a.logger)
			if err != nil {
				return err
			}
			if err := sw.Start(ctx); err != nil {
				return err
			}
			defer sw.Stop()

			srv := mcp.NewServer(mcp.ServerDeps{
				Store:     a.store,
				Mailer:    a.mailer,
				Validator: a.validator,
				Engine:    c.cfg.Engine,
				Logger:    a.logger,
				Version:   version,
			})
			a.logger.Info("serving MCP over stdio", "db_path", c.cfg.DBPath)
			return srv.Serve(ctx)
		},
	}
}

// --- input/output helpers ---

func readBundle(stdin io.Reader, path string) (*schema.DefinitionBundle, error) {
	if path == "-" {
		return definitions.Decode(stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return definitions.Decode(f)
}

// parseObject decodes a JSON object flag. Empty input yields an empty map.
func parseObject(raw string) (map[string]any, error) {
	out := map[string]any{}
	if raw == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("--data must be a JSON object: %w", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

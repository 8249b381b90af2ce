package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/clinicops/platform/internal/reconciliation"
	"github.com/clinicops/platform/internal/shared/database"
	"github.com/clinicops/platform/internal/shared/types"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "platform",
		Short:         "Clinic operations backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(dispatchCmd())
	rootCmd.AddCommand(runScenariosCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(ehrExportCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// withApp builds the App for one command and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *App) error) error {
	ctx := cmd.Context()
	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(ctx, app)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *App) error {
				if err := database.Migrate(ctx, app.DB.Pool, app.Logger); err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
				return runServer(ctx, app)
			})
		},
	}
}

func dispatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch-reminders",
		Short: "Send the reminders that are due now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *App) error {
				res, err := app.Dispatcher.Dispatch(ctx)
				if printErr := printJSON(cmd.OutOrStdout(), res); printErr != nil {
					return printErr
				}
				return err
			})
		},
	}
}

func runScenariosCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-scenarios",
		Short: "Advance every due scenario enrollment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *App) error {
				res, err := app.Runner.RunDue(ctx)
				if printErr := printJSON(cmd.OutOrStdout(), res); printErr != nil {
					return printErr
				}
				return err
			})
		},
	}
}

func reconcileCmd() *cobra.Command {
	var (
		tenant string
		file   string
		apply  bool
		report string
	)
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Match a bank statement CSV against pending bank-transfer orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := types.ParseID(tenant)
			if err != nil {
				return fmt.Errorf("--tenant: %w", err)
			}
			text, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, app *App) error {
				run := app.Reconciliation.Preview
				if apply {
					run = app.Reconciliation.Apply
				}
				res, err := run(ctx, tenantID, string(text))
				if err != nil {
					return err
				}
				if report != "" {
					if err := writeReport(report, res); err != nil {
						return err
					}
				}
				return printJSON(cmd.OutOrStdout(), res.Summary)
			})
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&file, "file", "", "bank statement CSV")
	cmd.Flags().BoolVar(&apply, "apply", false, "confirm matched payments instead of previewing")
	cmd.Flags().StringVar(&report, "report", "", "write an XLSX report to this path")
	cmd.MarkFlagRequired("tenant")
	cmd.MarkFlagRequired("file")
	return cmd
}

func writeReport(path string, res reconciliation.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := reconciliation.WriteReport(f, res); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func ehrExportCmd() *cobra.Command {
	var (
		tenant string
		kind   string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "ehr-export",
		Short: "Export patients or kartes as transfer CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := types.ParseID(tenant)
			if err != nil {
				return fmt.Errorf("--tenant: %w", err)
			}
			if kind != "patients" && kind != "kartes" {
				return fmt.Errorf("--kind must be patients or kartes, got %q", kind)
			}
			return withApp(cmd, func(ctx context.Context, app *App) error {
				export := app.EHR.ExportPatientsCSV
				if kind == "kartes" {
					export = app.EHR.ExportKartesCSV
				}
				text, err := export(ctx, tenantID)
				if err != nil {
					return err
				}
				if out == "" || out == "-" {
					_, err = io.WriteString(cmd.OutOrStdout(), text)
					return err
				}
				return os.WriteFile(out, []byte(text), 0o640)
			})
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&kind, "kind", "patients", "patients or kartes")
	cmd.Flags().StringVar(&out, "out", "-", "output file, - for stdout")
	cmd.MarkFlagRequired("tenant")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *App) error {
				return database.Migrate(ctx, app.DB.Pool, app.Logger)
			})
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jangwonlee-rptly/hellomimir-dev/internal/app"
	"github.com/jangwonlee-rptly/hellomimir-dev/internal/config"
	"github.com/jangwonlee-rptly/hellomimir-dev/internal/domain"
	"github.com/jangwonlee-rptly/hellomimir-dev/internal/infrastructure/llm"
	"github.com/jangwonlee-rptly/hellomimir-dev/internal/logging"
)

const configPathEnv = "HELLOMIMIR_CONFIG"

func newRootCommand() *cobra.Command {
	var configFlag string

	rootCmd := &cobra.Command{
		Use:           "hellomimir",
		Short:         "Daily arXiv paper ingestion",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configFlag != "" {
				return os.Setenv(configPathEnv, configFlag)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newIngestCommand())
	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newOCRCommand())

	return rootCmd
}

// withApp loads configuration, builds the application and closes it once fn returns.
func withApp(ctx context.Context, fn func(*app.Application) error) error {
	cfg := config.Load()
	logger := logging.New(cfg.Logging.Level)

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := application.Close(); cerr != nil {
			logger.Warn("close application", "error", cerr)
		}
	}()
	return fn(application)
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP trigger and the optional cron schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()
			return withApp(ctx, func(a *app.Application) error {
				return a.Serve(ctx)
			})
		},
	}
}

func newIngestCommand() *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Run daily ingestion once and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			if date != "" {
				parsed, err := domain.ParseDate(date)
				if err != nil {
					return err
				}
				date = parsed
			}

			ctx, stop := signalContext(cmd)
			defer stop()
			return withApp(ctx, func(a *app.Application) error {
				report := a.RunOnce(ctx, date)
				if err := writeJSON(cmd, report); err != nil {
					return err
				}
				return runOutcome(report)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Run date as YYYY-MM-DD (default: today in UTC)")
	return cmd
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and seed configured fields",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()
			return withApp(ctx, func(a *app.Application) error {
				return a.Migrate(ctx)
			})
		},
	}
}

func newOCRCommand() *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "ocr [image...]",
		Short: "Extract text from table, figure or formula images",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			regionKind, err := parseRegionKind(kind)
			if err != nil {
				return err
			}

			regions := make([]llm.Region, 0, len(args))
			for _, path := range args {
				raw, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}
				regions = append(regions, llm.Region{Image: raw, Kind: regionKind})
			}

			ctx, stop := signalContext(cmd)
			defer stop()
			return withApp(ctx, func(a *app.Application) error {
				texts, err := a.ExtractRegions(ctx, regions)
				if err != nil {
					return err
				}
				out := make([]ocrResult, len(args))
				for i, path := range args {
					out[i] = ocrResult{File: path, Text: texts[i]}
				}
				return writeJSON(cmd, out)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(llm.RegionGeneral), "Region kind: table, figure, formula or general")
	return cmd
}

// runOutcome maps a report to the command's exit status.
func runOutcome(report domain.RunReport) error {
	if report.Failed() {
		return fmt.Errorf("daily run failed: %s", report.Error)
	}
	if report.FailCount > 0 {
		return fmt.Errorf("%d of %d fields failed", report.FailCount, len(report.Results))
	}
	return nil
}

type ocrResult struct {
	File string `json:"file"`
	Text string `json:"text"`
}

func parseRegionKind(raw string) (llm.RegionKind, error) {
	switch k := llm.RegionKind(strings.ToLower(strings.TrimSpace(raw))); k {
	case llm.RegionTable, llm.RegionFigure, llm.RegionFormula, llm.RegionGeneral:
		return k, nil
	default:
		return "", fmt.Errorf("%w: unknown region kind %q", domain.ErrValidation, raw)
	}
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

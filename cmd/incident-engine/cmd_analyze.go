package main

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-incidents/internal/engine"
	"github.com/miradorstack/mirador-incidents/internal/models"
)

var analyzeFlags struct {
	window    int
	maxTraces int
	user      string
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run one correlation pass and print the report as JSON",
	RunE:  runAnalyze,
}

func init() {
	f := analyzeCmd.Flags()
	f.IntVar(&analyzeFlags.window, "window", 0, "Look-back window in minutes (0 uses the configured default)")
	f.IntVar(&analyzeFlags.maxTraces, "max-traces", 0, "Maximum traces to analyse (0 uses the configured default)")
	f.StringVar(&analyzeFlags.user, "user", engine.DefaultUserID, "User whose credentials are used")
}

func runAnalyze(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close resources", slog.Any("error", err))
		}
	}()

	report, err := a.service.Analyze(cmd.Context(), models.AnalysisRequest{
		WindowMinutes: analyzeFlags.window,
		MaxTraces:     analyzeFlags.maxTraces,
		UserID:        analyzeFlags.user,
	})
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

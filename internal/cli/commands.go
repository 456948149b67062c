package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"impact-curator/internal/app"
)

func flagError(flag string, err error) error {
	return fmt.Errorf("invalid %s value: %w", flag, err)
}

var (
	analyzeClaims  string
	analyzeCandles string
	analyzeDryRun  bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Locate and align the market impulse for each claimed event",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Analyze(cmd.Context(), app.AnalyzeOptions{
			ClaimsPath:  analyzeClaims,
			CandlesPath: analyzeCandles,
			DryRun:      analyzeDryRun,
		})
	},
}

var researchFindings string

var researchCmd = &cobra.Command{
	Use:   "research",
	Short: "Apply external research findings to spikes and events",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Research(cmd.Context(), app.ResearchOptions{FindingsPath: researchFindings})
	},
}

var (
	dedupInput  string
	dedupOutput string
	dedupApply  bool
)

var dedupCmd = &cobra.Command{
	Use:   "dedup",
	Short: "Collapse records sharing (title, claimed timestamp) in a dataset file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Dedup(cmd.Context(), app.DedupOptions{InputPath: dedupInput, OutputPath: dedupOutput, Apply: dedupApply})
	},
}

var (
	auditMinText int
	auditStrict  bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Report quality issues in the curated dataset",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Audit(cmd.Context(), app.AuditOptions{MinTextLength: auditMinText, FailOnIssues: auditStrict})
	},
}

var correctOpts app.CorrectOptions

var correctCmd = &cobra.Command{
	Use:   "correct",
	Short: "Review or apply the timestamp correction proposed for an event",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Correct(cmd.Context(), correctOpts)
	},
}

var markOpts app.MarkOptions

var markCmd = &cobra.Command{
	Use:   "mark",
	Short: "Move a spike to another research state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Mark(cmd.Context(), markOpts)
	},
}

var runOnce bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Scan for spikes on every closed interval",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context(), app.RunOptions{Once: runOnce})
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeClaims, "claims", "", "JSON file of claimed events")
	analyzeCmd.Flags().StringVar(&analyzeCandles, "candles", "", "Read candles from a CSV or JSON file instead of the exchange")
	analyzeCmd.Flags().BoolVar(&analyzeDryRun, "dry-run", false, "Use an in-memory store")

	researchCmd.Flags().StringVar(&researchFindings, "findings", "", "JSON file of research findings")

	dedupCmd.Flags().StringVar(&dedupInput, "input", "", "JSON dataset to deduplicate")
	dedupCmd.Flags().StringVar(&dedupOutput, "output", "", "Where to write the deduplicated dataset")
	dedupCmd.Flags().BoolVar(&dedupApply, "apply", false, "Merge the deduplicated records into the store")

	auditCmd.Flags().IntVar(&auditMinText, "min-text", 0, "Minimum description length (defaults to config)")
	auditCmd.Flags().BoolVar(&auditStrict, "strict", false, "Exit non-zero when issues are found")

	correctCmd.Flags().StringVar(&correctOpts.Title, "title", "", "Event title")
	correctCmd.Flags().StringVar(&correctOpts.ClaimedAt, "claimed", "", "Event claimed timestamp")
	correctCmd.Flags().BoolVar(&correctOpts.Confirm, "confirm", false, "Apply the proposed correction")
	correctCmd.Flags().BoolVar(&correctOpts.Reanalyze, "reanalyze", true, "Refetch the price window around the corrected time")
	correctCmd.Flags().StringVar(&correctOpts.CandlesPath, "candles", "", "Read candles from a CSV or JSON file instead of the exchange")

	markCmd.Flags().StringVar(&markOpts.Symbol, "symbol", "", "Spike symbol (defaults to config)")
	markCmd.Flags().StringVar(&markOpts.At, "at", "", "Spike candle timestamp")
	markCmd.Flags().StringVar(&markOpts.Status, "status", "", "researching, verified or rejected")

	runCmd.Flags().BoolVar(&runOnce, "once", false, "Scan the last closed interval and exit")
}

package cli

import (
	"time"

	"github.com/spf13/cobra"

	"impact-curator/internal/app"
	"impact-curator/internal/domain"
)

var (
	scanFrom    string
	scanTo      string
	scanCandles string
	scanDryRun  bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Detect volatility spikes over a closed range of candles",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ScanOptions{CandlesPath: scanCandles, DryRun: scanDryRun}
		var err error
		if opts.From, err = parseOptionalTime("--from", scanFrom); err != nil {
			return err
		}
		if opts.To, err = parseOptionalTime("--to", scanTo); err != nil {
			return err
		}
		return getApp().Scan(cmd.Context(), opts)
	},
}

func init() {
	scanCmd.Flags().StringVar(&scanFrom, "from", "", "Start timestamp (inclusive)")
	scanCmd.Flags().StringVar(&scanTo, "to", "", "End timestamp (exclusive)")
	scanCmd.Flags().StringVar(&scanCandles, "candles", "", "Read candles from a CSV or JSON file instead of the exchange")
	scanCmd.Flags().BoolVar(&scanDryRun, "dry-run", false, "Use an in-memory store")
}

func parseOptionalTime(flag, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := domain.ParseTimestamp(raw)
	if err != nil {
		return time.Time{}, flagError(flag, err)
	}
	return t, nil
}

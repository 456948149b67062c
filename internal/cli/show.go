package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"impact-curator/internal/app"
)

var (
	showLimit  int
	showStatus string
	showSpikes bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display curated events or spikes",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:  showLimit,
			Status: showStatus,
			Spikes: showSpikes,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of records to display")
	showCmd.Flags().StringVar(&showStatus, "status", "", "Only records with this status")
	showCmd.Flags().BoolVar(&showSpikes, "spikes", false, "List volatility spikes instead of events")
}

package cli

import (
	"github.com/spf13/cobra"

	"impact-curator/internal/app"
)

var exportOpts app.ExportOptions

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the dataset as CSV/JSON, or chart one event window as PNG",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Export(cmd.Context(), exportOpts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOpts.CSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().StringVar(&exportOpts.JSONPath, "json", "", "Path to write the JSON dataset")
	exportCmd.Flags().StringVar(&exportOpts.PNGPath, "png", "", "Path to write a PNG chart of one event")
	exportCmd.Flags().StringVar(&exportOpts.Status, "status", "", "Only export events with this verification status")
	exportCmd.Flags().StringVar(&exportOpts.Title, "title", "", "Title of the event to chart")
	exportCmd.Flags().StringVar(&exportOpts.ClaimedAt, "claimed", "", "Claimed timestamp of the event to chart")
	exportCmd.Flags().IntVar(&exportOpts.MaxPoints, "max-points", 0, "Maximum candles to chart (defaults to config)")
}

package cli

import (
	"github.com/spf13/cobra"

	"price-tracker/internal/app"
)

var (
	exportOutPath string
	exportCSVPath string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export tracked products as JSON and/or CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Export(cmd.Context(), app.ExportOptions{
			OutPath: exportOutPath,
			CSVPath: exportCSVPath,
		})
	},
}

var importCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Merge a JSON export into the tracked products",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Import(cmd.Context(), args[0])
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOutPath, "out", "", "Path to write the JSON export")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write price history as CSV")
}

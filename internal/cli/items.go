package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"price-tracker/internal/app"
)

var (
	addURL     string
	addArticle string
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Start tracking a product by page URL or article",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Track(cmd.Context(), app.TrackOptions{URL: addURL, Article: addArticle})
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove ARTICLE",
	Short: "Stop tracking a product",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Remove(cmd.Context(), args[0])
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked products",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().List(cmd.Context())
	},
}

var historyCmd = &cobra.Command{
	Use:   "history ARTICLE",
	Short: "Show the daily price history of a product",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().History(cmd.Context(), args[0])
	},
}

var thresholdCmd = &cobra.Command{
	Use:   "threshold ARTICLE VALUE",
	Short: "Set the minimum drop that triggers a notification",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := decimal.NewFromString(args[1])
		if err != nil {
			return fmt.Errorf("invalid threshold %q: %w", args[1], err)
		}
		return getApp().SetThreshold(cmd.Context(), args[0], value)
	},
}

func init() {
	addCmd.Flags().StringVar(&addURL, "url", "", "Product page URL")
	addCmd.Flags().StringVar(&addArticle, "article", "", "Numeric product article")
	addCmd.MarkFlagsMutuallyExclusive("url", "article")
	addCmd.MarkFlagsOneRequired("url", "article")
}

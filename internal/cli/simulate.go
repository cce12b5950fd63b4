package cli

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateArticle string
	simulatePrice   string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-drop",
	Short: "模拟一次价格观测并触发降价通知",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateArticle == "" {
			return errors.New("--article 不能为空")
		}
		price, err := decimal.NewFromString(simulatePrice)
		if err != nil {
			return fmt.Errorf("invalid --price %q: %w", simulatePrice, err)
		}
		if !price.IsPositive() {
			return errors.New("--price 必须大于 0")
		}
		return getApp().SimulateDrop(cmd.Context(), simulateArticle, price)
	},
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Settings()
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateArticle, "article", "", "Tracked article")
	simulateCmd.Flags().StringVar(&simulatePrice, "price", "", "Observed price")
}

package cli

import (
	"github.com/spf13/cobra"

	"price-tracker/internal/app"
)

var refreshForce bool

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Re-check every tracked product once",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Refresh(cmd.Context(), app.RefreshOptions{Force: refreshForce})
	},
}

func init() {
	refreshCmd.Flags().BoolVar(&refreshForce, "force", false, "Ignore the minimum recheck interval")
}

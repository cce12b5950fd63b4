package cli

import (
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the price tracker daemon",
	Long: `Re-checks every tracked product on scheduler.interval, records daily prices
and delivers drop notifications until interrupted. Items added, removed or
imported by other pricetracker commands are picked up at the next cycle.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context())
	},
}

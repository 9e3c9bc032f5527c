package cli

import (
	"github.com/spf13/cobra"

	"stockwatch/internal/app"
)

var (
	showAlertLimit int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current prices and recent alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ShowOptions{
			Limit: showAlertLimit,
		}
		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showAlertLimit, "alerts", 10, "Number of recent alerts to display (0 disables)")
}

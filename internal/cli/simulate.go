package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateSymbol string
	simulateChange float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Run a synthetic price change through the alert evaluator",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateSymbol == "" {
			return errors.New("--symbol is required")
		}
		return getApp().SimulateAlert(cmd.Context(), simulateSymbol, decimal.NewFromFloat(simulateChange))
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSymbol, "symbol", "", "Symbol code, e.g. 600519")
	simulateCmd.Flags().Float64Var(&simulateChange, "change-pct", 0, "Change percent to simulate, e.g. -6.5")
}

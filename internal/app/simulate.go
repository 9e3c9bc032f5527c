package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"stockwatch/internal/storage"
)

// SimulateAlert runs a synthetic quote through the evaluator and reports the
// decision. Nothing is persisted; the command exists to verify threshold and
// cooldown configuration.
func (a *App) SimulateAlert(ctx context.Context, symbol string, changePct decimal.Decimal) error {
	if symbol == "" {
		return fmt.Errorf("--symbol is required")
	}

	clock := a.newClock()
	evaluator := a.newEvaluator(clock)

	snap := storage.Snapshot{
		Symbol:        symbol,
		Price:         decimal.NewFromInt(100),
		ChangePercent: changePct,
		ObservedAt:    time.Now(),
	}

	alert := evaluator.Evaluate(snap)
	if alert == nil {
		fmt.Fprintf(os.Stdout, "no alert: change %s%% is under the %.2f%% threshold\n",
			changePct.StringFixed(2), a.Config.Alerting.ThresholdPct)
		return nil
	}

	fmt.Fprintf(os.Stdout, "alert: %s %s %s%% (threshold %s%%)\n",
		alert.Symbol, alert.Direction, alert.MagnitudePct.StringFixed(2), alert.ThresholdPct.StringFixed(2))
	return nil
}

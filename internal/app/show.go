package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
)

// Show prints the current snapshot table and the most recent alerts.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	snapshots, err := store.ListSnapshots(ctx)
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		fmt.Fprintln(os.Stdout, "no snapshots found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Symbol\tName\tPrice\tChange\tChange%\tVolume\tObserved")
	for _, snap := range snapshots {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			snap.Symbol,
			snap.Name,
			formatDecimal(snap.Price, 2),
			formatDecimal(snap.ChangeAmount, 2),
			formatDecimal(snap.ChangePercent, 2),
			snap.Volume,
			snap.ObservedAt.Local().Format(time.RFC3339),
		)
	}
	writer.Flush()

	if opts.Limit <= 0 {
		return nil
	}

	alerts, err := store.ListRecentAlerts(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		return nil
	}

	fmt.Fprintln(os.Stdout)
	writer = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Triggered\tSymbol\tDirection\tMagnitude%\tThreshold%")
	for _, alert := range alerts {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\n",
			alert.TriggeredAt.Local().Format(time.RFC3339),
			alert.Symbol,
			alert.Direction,
			formatDecimal(alert.MagnitudePct, 2),
			formatDecimal(alert.ThresholdPct, 2),
		)
	}
	writer.Flush()
	return nil
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}

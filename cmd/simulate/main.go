// Command simulate replays persisted pool snapshots through the Pool Graph /
// Preview Optimizer / Swap Executor core without touching a live chain
// (spec.md §1's deterministic simulation mode), printing a per-tick report
// of every profitable cycle the replay would have executed.
//
// Usage:
//
//	simulate -config configs/config.yml -from 2026-01-01T00:00:00Z -to 2026-01-02T00:00:00Z
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/ref-trader/reftrader/configs"
	"github.com/ref-trader/reftrader/pkg/persistence"
	"github.com/ref-trader/reftrader/pkg/simulate"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "configs/config.yml", "topology config path")
	dsn := flag.String("dsn", os.Getenv("DATABASE_DSN"), "persistence DSN")
	fromStr := flag.String("from", "", "RFC3339 start of replay window")
	toStr := flag.String("to", "", "RFC3339 end of replay window")
	gasPrice := flag.Int64("gas-price", 0, "fixed yocto-per-gas price; 0 uses a mainnet-typical default")
	flag.Parse()

	if *fromStr == "" || *toStr == "" {
		fmt.Fprintln(os.Stderr, "simulate requires -from and -to (RFC3339 timestamps)")
		os.Exit(2)
	}
	from, err := time.Parse(time.RFC3339, *fromStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -from: %v\n", err)
		os.Exit(2)
	}
	to, err := time.Parse(time.RFC3339, *toStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -to: %v\n", err)
		os.Exit(2)
	}

	topology, err := configs.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	quote, err := topology.WnearAccountID()
	if err != nil {
		fmt.Fprintf(os.Stderr, "wnear account: %v\n", err)
		os.Exit(1)
	}

	store, err := persistence.NewMySQLStore(*dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect persistence: %v\n", err)
		os.Exit(1)
	}

	engine := simulate.NewEngine(store, simulate.NewMockGasSource(*gasPrice), quote, nil, nil)
	report, err := engine.Sweep(context.Background(), from, to)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sweep: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("ticks played:       %d\n", report.TicksPlayed)
	fmt.Printf("profitable ticks:   %d\n", report.ProfitableN)
	fmt.Printf("total simulated gain: %s yocto-%s\n", report.TotalGain.String(), quote.String())
	for _, step := range report.Steps {
		if step.Error != nil {
			fmt.Printf("  %s  error: %v\n", step.At.Format(time.RFC3339), step.Error)
			continue
		}
		if !step.Found {
			fmt.Printf("  %s  no profitable cycle\n", step.At.Format(time.RFC3339))
			continue
		}
		fmt.Printf("  %s  input=%s gain=%s depth=%d\n", step.At.Format(time.RFC3339), step.Input.String(), step.Gain.String(), step.Depth)
	}
}

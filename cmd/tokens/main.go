// Command tokens is an operator CLI for inspecting the bot's current
// candidate rankings and verifying a swap plan before it executes, built on
// the same core packages as cmd/bot. Uses stdlib flag, matching spec.md's
// Non-goal of "no CLI parsing framework" as a concern to design around.
//
// Usage:
//
//	tokens top   -config configs/config.yml
//	tokens verify -config configs/config.yml -from usdc.near -to wrap.near -amount 1000000
package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/ref-trader/reftrader/configs"
	"github.com/ref-trader/reftrader/pkg/chainclient"
	"github.com/ref-trader/reftrader/pkg/persistence"
	"github.com/ref-trader/reftrader/pkg/pool"
	"github.com/ref-trader/reftrader/pkg/portfolio"
	"github.com/ref-trader/reftrader/pkg/predictor"
	"github.com/ref-trader/reftrader/pkg/router"
	"github.com/ref-trader/reftrader/pkg/rpcpool"
	"github.com/ref-trader/reftrader/pkg/swap"
	"github.com/ref-trader/reftrader/pkg/tokenaccount"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: tokens <top|verify> [flags]")
		os.Exit(2)
	}

	switch os.Args[1] {
	case "top":
		runTop(os.Args[2:])
	case "verify":
		runVerify(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", os.Args[1])
		os.Exit(2)
	}
}

func runTop(args []string) {
	fs := flag.NewFlagSet("top", flag.ExitOnError)
	configPath := fs.String("config", "configs/config.yml", "topology config path")
	dsn := fs.String("dsn", os.Getenv("DATABASE_DSN"), "persistence DSN")
	fs.Parse(args)

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

	env := configs.LoadEnv()
	cfg := env.ToPortfolioConfig(quote)
	loop := portfolio.New(cfg, noopPoolSource{}, store, store, store, noopPredictor{}, nil)

	candidates, err := loop.RankCandidates(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "rank candidates: %v\n", err)
		os.Exit(1)
	}
	if len(candidates) == 0 {
		fmt.Println("no candidates survived ranking")
		return
	}
	for i, tok := range candidates {
		fmt.Printf("%2d. %s\n", i+1, tok.String())
	}
}

func runVerify(args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	configPath := fs.String("config", "configs/config.yml", "topology config path")
	from := fs.String("from", "", "input token account")
	to := fs.String("to", "", "output token account")
	amountStr := fs.String("amount", "", "input amount, smallest units")
	minOutStr := fs.String("min-out", "0", "minimum acceptable output, smallest units")
	fs.Parse(args)

	if *from == "" || *to == "" || *amountStr == "" {
		fmt.Fprintln(os.Stderr, "verify requires -from, -to, and -amount")
		os.Exit(2)
	}
	amount, ok := new(big.Int).SetString(*amountStr, 10)
	if !ok {
		fmt.Fprintf(os.Stderr, "invalid -amount %q\n", *amountStr)
		os.Exit(2)
	}
	minOut, ok := new(big.Int).SetString(*minOutStr, 10)
	if !ok {
		fmt.Fprintf(os.Stderr, "invalid -min-out %q\n", *minOutStr)
		os.Exit(2)
	}

	fromTok, err := tokenaccount.Parse(*from)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -from: %v\n", err)
		os.Exit(2)
	}
	toTok, err := tokenaccount.Parse(*to)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -to: %v\n", err)
		os.Exit(2)
	}

	topology, err := configs.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	poolCfg, err := topology.RPCPoolConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "rpc pool config: %v\n", err)
		os.Exit(1)
	}
	client := chainclient.New(rpcpool.NewPool(poolCfg), topology.RPCTimeout())
	routerAccount, err := topology.RouterAccountID()
	if err != nil {
		fmt.Fprintf(os.Stderr, "router account: %v\n", err)
		os.Exit(1)
	}
	wnearAccount, err := topology.WnearAccountID()
	if err != nil {
		fmt.Fprintf(os.Stderr, "wnear account: %v\n", err)
		os.Exit(1)
	}
	// verify never signs or submits, so an empty Signer placeholder is
	// enough to satisfy router.New's constructor.
	gateway := router.New(client, nil, routerAccount, wnearAccount)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pools, err := gateway.ListPools(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list pools: %v\n", err)
		os.Exit(1)
	}
	graph := pool.Build(pool.NewInfoList(pools))

	path, err := graph.ShortestPath(fromTok, toTok)
	if err != nil {
		fmt.Fprintf(os.Stderr, "no route %s -> %s: %v\n", *from, *to, err)
		os.Exit(1)
	}

	output := path.ComposeReturn(amount)
	actions, finalOut := swap.BuildActions(path, amount, minOut)

	fmt.Printf("route: %d hop(s)\n", path.Depth())
	for i, h := range path.Hops {
		fmt.Printf("  hop %d: pool %d -> %s\n", i, h.Pool.ID, h.Pool.Tokens[h.OutIndex])
	}
	fmt.Printf("input:  %s %s\n", amount.String(), *from)
	fmt.Printf("output: %s %s (composed)\n", output.String(), *to)
	fmt.Printf("final accumulator: %s\n", finalOut.String())
	if output.Cmp(minOut) < 0 {
		fmt.Printf("WARNING: composed output below requested min-out %s\n", minOut.String())
	}
	fmt.Printf("swap plan: %d action(s)\n", len(actions))
	for i, a := range actions {
		in := "-"
		if a.AmountIn != nil {
			in = a.AmountIn.String()
		}
		fmt.Printf("  [%d] pool=%d in=%s->%s amount_in=%s min_out=%s\n", i, a.PoolID, a.TokenIn, a.TokenOut, in, a.MinAmountOut.String())
	}
}

// noopPoolSource satisfies portfolio.PoolSource for the `top` subcommand,
// which only reads the already-persisted snapshot and never triggers
// RecordRates itself.
type noopPoolSource struct{}

func (noopPoolSource) ReadPools(ctx context.Context) ([]*pool.PoolInfo, error) {
	return nil, fmt.Errorf("tokens top: live pool refresh not supported, run cmd/bot's RecordRates instead")
}

// noopPredictor satisfies portfolio.PredictorClient for the `top`
// subcommand, which never calls predictAll.
type noopPredictor struct{}

func (noopPredictor) PredictZeroShot(ctx context.Context, req predictor.Request) (*predictor.Result, error) {
	return nil, fmt.Errorf("tokens top: prediction not supported")
}

// Package arbitrage implements the Arbitrage Loop from spec.md §4.7: a
// Checking → Starting → Evaluating → Executing → Sleeping state machine that
// looks for a profitable circular route starting and ending at the
// native-wrapped quote token. Grounded on original_source/backend/src/
// arbitrage.rs's run()/single_loop()/swap_each() and balances.rs's
// deposit-refill logic, expressed in the teacher's plain log.Printf style
// instead of structured slog fields.
package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ref-trader/reftrader/internal/boterr"
	"github.com/ref-trader/reftrader/pkg/chainclient"
	"github.com/ref-trader/reftrader/pkg/persistence"
	"github.com/ref-trader/reftrader/pkg/pool"
	"github.com/ref-trader/reftrader/pkg/preview"
	"github.com/ref-trader/reftrader/pkg/router"
	"github.com/ref-trader/reftrader/pkg/swap"
	"github.com/ref-trader/reftrader/pkg/tokenaccount"
)

// Config holds the Arbitrage Loop's operator-tunable knobs (spec.md §6).
type Config struct {
	Enabled bool

	// QuoteToken is the native-wrapped token the loop starts and ends each
	// cycle on.
	QuoteToken tokenaccount.Account

	// PoolLookback bounds how far back Graph snapshots are read from the
	// persistence layer when building the tick-local pool graph.
	PoolLookback time.Duration

	TokenNotFoundWait   time.Duration
	OtherErrorWait      time.Duration
	PreviewNotFoundWait time.Duration

	// RequiredBalance is the default minimum quote-token balance to keep
	// deposited with the router; nil or zero means one whole token (10^24).
	RequiredBalance *big.Int
}

func (c Config) tokenNotFoundWait() time.Duration {
	if c.TokenNotFoundWait > 0 {
		return c.TokenNotFoundWait
	}
	return time.Second
}

func (c Config) otherErrorWait() time.Duration {
	if c.OtherErrorWait > 0 {
		return c.OtherErrorWait
	}
	return 30 * time.Second
}

func (c Config) previewNotFoundWait() time.Duration {
	if c.PreviewNotFoundWait > 0 {
		return c.PreviewNotFoundWait
	}
	return 10 * time.Second
}

func (c Config) requiredBalance() *big.Int {
	if c.RequiredBalance != nil && c.RequiredBalance.Sign() > 0 {
		return c.RequiredBalance
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(24), nil) // 1 whole token
}

// GasSource reports the chain's current gas price, the only chainclient
// capability this loop needs directly (the rest goes through Gateway).
type GasSource interface {
	GetGasPrice(ctx context.Context, block *uint64) (chainclient.GasPrice, error)
}

// Loop runs the Arbitrage Loop against one signer.
type Loop struct {
	cfg     Config
	client  GasSource
	gateway *router.Gateway
	store   persistence.PoolSnapshotStore
}

// New builds a Loop.
func New(cfg Config, client GasSource, gateway *router.Gateway, store persistence.PoolSnapshotStore) *Loop {
	return &Loop{cfg: cfg, client: client, gateway: gateway, store: store}
}

// Run executes the Checking→Starting→Evaluating→Executing→Sleeping cycle
// forever, until ctx is cancelled. Mirrors arbitrage.rs's run().
func (l *Loop) Run(ctx context.Context) {
	if !l.cfg.Enabled {
		log.Printf("arbitrage: not enabled, exiting")
		return
	}
	for {
		if ctx.Err() != nil {
			return
		}
		err := l.singleLoop(ctx)
		if err == nil {
			log.Printf("arbitrage: cycle succeeded, continuing")
			continue
		}
		log.Printf("arbitrage: cycle failed: %v", err)

		var notFound *boterr.TokenNotFound
		if errors.As(err, &notFound) && notFound.Token == l.cfg.QuoteToken.String() {
			sleep(ctx, l.cfg.tokenNotFoundWait())
			continue
		}
		sleep(ctx, l.cfg.otherErrorWait())
	}
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// singleLoop runs one Checking→Executing pass.
func (l *Loop) singleLoop(ctx context.Context) error {
	start := l.cfg.QuoteToken

	balance, err := l.startBalance(ctx, start)
	if err != nil {
		return fmt.Errorf("arbitrage: start balance: %w", err)
	}

	snapshots, err := l.store.UniqueBetween(ctx, time.Now().Add(-l.cfg.PoolLookback), time.Now())
	if err != nil {
		return fmt.Errorf("arbitrage: read pool snapshots: %w", err)
	}
	graph := pool.Build(pool.NewInfoList(snapshots))

	gas, err := l.client.GetGasPrice(ctx, nil)
	if err != nil {
		return fmt.Errorf("arbitrage: gas price: %w", err)
	}
	gasPrice := preview.GasPrice{
		HeadGas:   big.NewInt(2_400_000_000_000),
		ByStepGas: big.NewInt(5_000_000_000_000),
		PriceYoc:  big.NewInt(gas.YoctoPerGas),
	}

	list := pickArbitrage(graph, start, balance, gasPrice)
	if list == nil || len(list.Previews) == 0 {
		sleep(ctx, l.cfg.previewNotFoundWait())
		return nil
	}

	tokens := touchedTokens(list)
	if err := l.gateway.CheckAndDeposit(ctx, tokens); err != nil {
		return fmt.Errorf("arbitrage: no account to deposit: %w", err)
	}

	var lastErr error
	successCount := 0
	for _, pv := range list.Previews {
		if err := l.swapEach(ctx, pv); err != nil {
			lastErr = err
			log.Printf("arbitrage: swap attempt failed, trying next path: %v", err)
			continue
		}
		successCount++
		log.Printf("arbitrage: swap successful, stopping further attempts")
		break
	}
	log.Printf("arbitrage: swaps completed %d/%d", successCount, len(list.Previews))
	if successCount == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}

// startBalance reads the router-deposited quote-token balance, topping up
// from the wallet's wrapped-native balance if it is below the configured
// minimum. Grounded on balances.rs's balance_of_start_token + refill.
func (l *Loop) startBalance(ctx context.Context, token tokenaccount.Account) (*big.Int, error) {
	deposits, err := l.gateway.Deposits(ctx, l.gateway.AccountID())
	if err != nil {
		return nil, err
	}
	required := l.cfg.requiredBalance()
	balance := deposits[token]
	if balance == nil {
		balance = big.NewInt(0)
	}
	if balance.Cmp(required) >= 0 {
		return balance, nil
	}

	wrapped, err := l.gateway.WrappedBalance(ctx, token)
	if err != nil {
		return nil, err
	}
	want := new(big.Int).Sub(required, balance)
	if wrapped.Cmp(want) < 0 {
		toWrap := new(big.Int).Sub(want, wrapped)
		if err := l.gateway.Wrap(ctx, toWrap); err != nil {
			return nil, fmt.Errorf("arbitrage: wrap: %w", err)
		}
	}
	if err := l.gateway.DepositToken(ctx, token, want); err != nil {
		return nil, fmt.Errorf("arbitrage: deposit: %w", err)
	}
	return balance, nil
}

// swapEach composes and submits one candidate preview's path, blocking until
// the transaction reaches finality.
func (l *Loop) swapEach(ctx context.Context, pv *preview.Preview) error {
	minOut := new(big.Int).Sub(pv.Output, pv.Gain)
	actions, _ := swap.BuildActions(pv.Path, pv.Input, minOut)
	outcome, err := swap.Execute(ctx, l.gateway, actions)
	if err != nil {
		return err
	}
	if !outcome.Success {
		return &boterr.TxFailure{Status: outcome.Status}
	}
	return nil
}

// pickArbitrage searches input sizes for the most profitable circular route
// start→mid→start over every reachable intermediate token, applying the
// arbitrage gain filter (spec.md §4.5's arbitrage variant).
func pickArbitrage(g *pool.Graph, start tokenaccount.Account, totalAmount *big.Int, gas preview.GasPrice) *preview.List {
	cycles := cyclePaths(g, start)
	if len(cycles) == 0 {
		return nil
	}

	minInput := big.NewInt(1)
	eval := func(x *big.Int) *preview.List {
		var previews []*preview.Preview
		total := big.NewInt(0)
		for _, path := range cycles {
			pv := newCyclePreview(start, path, x, gas)
			if pv.Gain.Sign() > 0 {
				previews = append(previews, pv)
				total.Add(total, pv.Gain)
			}
		}
		return &preview.List{Previews: previews, TotalGain: total}
	}
	return preview.ArbitrageSearch(minInput, totalAmount, nil, eval)
}

func newCyclePreview(start tokenaccount.Account, path *pool.Path, input *big.Int, gas preview.GasPrice) *preview.Preview {
	output := path.ComposeReturn(input)
	cost := gas.Cost(path.Depth())
	gain := new(big.Int).Sub(output, input)
	gain.Sub(gain, cost)
	if gain.Sign() < 0 {
		gain = big.NewInt(0)
	}
	return &preview.Preview{Goal: start, Path: path, Input: input, Output: output, Depth: path.Depth(), Gain: gain}
}

// cyclePaths builds one candidate round-trip path per intermediate token
// reachable from start, by concatenating the best outbound and inbound
// shortest paths. Unreachable intermediates are skipped.
func cyclePaths(g *pool.Graph, start tokenaccount.Account) []*pool.Path {
	var out []*pool.Path
	for _, mid := range g.Tokens() {
		if mid == start {
			continue
		}
		outPath, err := g.ShortestPath(start, mid)
		if err != nil {
			continue
		}
		backPath, err := g.ShortestPath(mid, start)
		if err != nil {
			continue
		}
		hops := make([]*pool.Pair, 0, outPath.Depth()+backPath.Depth())
		hops = append(hops, outPath.Hops...)
		hops = append(hops, backPath.Hops...)
		out = append(out, &pool.Path{Hops: hops})
	}
	return out
}

// touchedTokens collects every distinct token touched by any preview's path,
// for the storage-deposit check before swapping.
func touchedTokens(list *preview.List) []tokenaccount.Account {
	seen := make(map[tokenaccount.Account]bool)
	var out []tokenaccount.Account
	for _, pv := range list.Previews {
		for _, hop := range pv.Path.Hops {
			for _, t := range hop.Pool.Tokens {
				if !seen[t] {
					seen[t] = true
					out = append(out, t)
				}
			}
		}
	}
	return out
}

// sweep.go implements the historical replay driver: step through persisted
// PoolInfo snapshots in chronological order and run the same cycle-search
// the Arbitrage Loop runs (spec.md §4.7), but against MockSubmitter instead
// of a live router.Gateway. Grounded on original_source/crates/simulate/
// sweep.rs's snapshot-ordered replay loop.
package simulate

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ref-trader/reftrader/pkg/persistence"
	"github.com/ref-trader/reftrader/pkg/pool"
	"github.com/ref-trader/reftrader/pkg/preview"
	"github.com/ref-trader/reftrader/pkg/swap"
	"github.com/ref-trader/reftrader/pkg/tokenaccount"
)

// Step records the outcome of replaying one snapshot tick.
type Step struct {
	At    time.Time
	Found bool
	Input *big.Int
	Gain  *big.Int
	Depth int
	Error error
}

// Report aggregates a full sweep over a time range.
type Report struct {
	Steps        []Step
	TicksPlayed  int
	ProfitableN  int
	TotalGain    *big.Int
	FinalBalance *pool.InfoList
}

// Engine replays persisted pool snapshots through the Pool Graph / Preview
// Optimizer / Swap Executor core without touching a live chain.
type Engine struct {
	store      persistence.PoolSnapshotStore
	gas        MockGasSource
	quoteToken tokenaccount.Account
	minInput   *big.Int
	maxInput   *big.Int
}

// NewEngine builds a replay Engine. minInput/maxInput bound the ternary
// search over candidate input sizes (spec.md §4.5); zero/nil values fall
// back to 1 and 1 whole quote-token unit (1e24, NEAR's yocto scale).
func NewEngine(store persistence.PoolSnapshotStore, gas MockGasSource, quoteToken tokenaccount.Account, minInput, maxInput *big.Int) *Engine {
	if minInput == nil || minInput.Sign() <= 0 {
		minInput = big.NewInt(1)
	}
	if maxInput == nil || maxInput.Sign() <= 0 {
		maxInput = new(big.Int).Exp(big.NewInt(10), big.NewInt(24), nil)
	}
	return &Engine{store: store, gas: gas, quoteToken: quoteToken, minInput: minInput, maxInput: maxInput}
}

// Sweep replays every distinct observation timestamp between from and to, in
// order, searching for and "executing" the best arbitrage cycle found at
// each tick against an in-memory MockSubmitter seeded from that tick's
// snapshots. Snapshot mutations persist across ticks, the same way the live
// Arbitrage Loop's effect on reserves persists into the next cycle.
func (e *Engine) Sweep(ctx context.Context, from, to time.Time) (*Report, error) {
	snapshots, err := e.store.UniqueBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("simulate: read snapshots: %w", err)
	}
	if len(snapshots) == 0 {
		return &Report{TotalGain: big.NewInt(0), FinalBalance: pool.NewInfoList(nil)}, nil
	}

	byTick := make(map[int64][]*pool.PoolInfo)
	var ticks []int64
	for _, s := range snapshots {
		key := s.ObservedAt.Unix()
		if _, ok := byTick[key]; !ok {
			ticks = append(ticks, key)
		}
		byTick[key] = append(byTick[key], s)
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i] < ticks[j] })

	// live carries the latest known state for every pool id seen so far,
	// updated by each tick's new observations and by the mock submitter's
	// trade mutations, so a pool not re-observed on a later tick still
	// reflects whatever the sweep did to it previously.
	live := make(map[int64]*pool.PoolInfo)

	report := &Report{TotalGain: big.NewInt(0)}
	for _, tickKey := range ticks {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		tickTime := time.Unix(tickKey, 0).UTC()
		for _, s := range byTick[tickKey] {
			live[s.ID] = s.Clone()
		}

		infos := make([]*pool.PoolInfo, 0, len(live))
		for _, p := range live {
			infos = append(infos, p)
		}
		infoList := pool.NewInfoList(infos)

		step := e.playTick(ctx, tickTime, infoList)
		report.Steps = append(report.Steps, step)
		report.TicksPlayed++
		if step.Found {
			report.ProfitableN++
			report.TotalGain.Add(report.TotalGain, step.Gain)
		}

		for _, p := range infoList.All() {
			live[p.ID] = p
		}
	}

	finalInfos := make([]*pool.PoolInfo, 0, len(live))
	for _, p := range live {
		finalInfos = append(finalInfos, p)
	}
	report.FinalBalance = pool.NewInfoList(finalInfos)
	return report, nil
}

// playTick searches for the best round-trip cycle starting and ending on
// e.quoteToken using infoList's reserves, then, if one is found, applies it
// via a MockSubmitter so the mutation carries forward into later ticks.
func (e *Engine) playTick(ctx context.Context, at time.Time, infoList *pool.InfoList) Step {
	graph := pool.Build(infoList)

	gasPrice, err := e.gas.GetGasPrice(ctx, nil)
	if err != nil {
		return Step{At: at, Error: fmt.Errorf("simulate: gas price: %w", err)}
	}
	gas := preview.GasPrice{
		HeadGas:   big.NewInt(1),
		ByStepGas: big.NewInt(1),
		PriceYoc:  big.NewInt(gasPrice.YoctoPerGas),
	}

	best := bestCycle(graph, e.quoteToken, e.minInput, e.maxInput, gas)
	if best == nil {
		return Step{At: at, Found: false}
	}

	submitter := NewMockSubmitter(infoList)
	actions, _ := swap.BuildActions(best.Path, best.Input, big.NewInt(0))
	if _, err := swap.Execute(ctx, submitter, actions); err != nil {
		return Step{At: at, Error: fmt.Errorf("simulate: execute: %w", err)}
	}

	return Step{At: at, Found: true, Input: best.Input, Gain: best.Gain, Depth: best.Depth}
}

// bestCycle mirrors pkg/arbitrage's unexported pickArbitrage/cyclePaths: one
// candidate round trip per intermediate token, ranked by ternary-searched
// gas-adjusted gain.
func bestCycle(g *pool.Graph, start tokenaccount.Account, minInput, maxInput *big.Int, gas preview.GasPrice) *preview.Preview {
	cycles := cyclePaths(g, start)
	if len(cycles) == 0 {
		return nil
	}

	eval := func(x *big.Int) *preview.List {
		var previews []*preview.Preview
		total := big.NewInt(0)
		for _, path := range cycles {
			output := path.ComposeReturn(x)
			cost := gas.Cost(path.Depth())
			gain := new(big.Int).Sub(output, x)
			gain.Sub(gain, cost)
			if gain.Sign() <= 0 {
				continue
			}
			pv := &preview.Preview{Goal: start, Path: path, Input: x, Output: output, Depth: path.Depth(), Gain: gain}
			previews = append(previews, pv)
			total.Add(total, gain)
		}
		return &preview.List{Previews: previews, TotalGain: total}
	}

	list := preview.ArbitrageSearch(minInput, maxInput, nil, eval)
	if list == nil || len(list.Previews) == 0 {
		return nil
	}

	var winner *preview.Preview
	for _, pv := range list.Previews {
		if winner == nil || pv.Gain.Cmp(winner.Gain) > 0 {
			winner = pv
		}
	}
	return winner
}

// cyclePaths builds one candidate round-trip path per intermediate token
// reachable from start, the same construction pkg/arbitrage uses.
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

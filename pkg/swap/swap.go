// Package swap implements the multi-hop action builder and submission flow
// from spec.md §4.6: compose a TokenPath into router-ready SwapAction steps,
// submit them as one ft_transfer_call-style message, and await finality.
package swap

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ref-trader/reftrader/pkg/pool"
	"github.com/ref-trader/reftrader/pkg/tokenaccount"
)

// Action is one step in a submitted multi-hop swap. AmountIn is present only
// on the first hop; the router forwards every subsequent hop's input from the
// previous hop's output. MinAmountOut is nonzero only on the last hop.
type Action struct {
	PoolID       int64
	TokenIn      tokenaccount.Account
	TokenOut     tokenaccount.Account
	AmountIn     *big.Int // nil except on hop 0
	MinAmountOut *big.Int // zero except on the last hop
}

// BuildActions folds over path, threading the previous hop's estimated
// output as the next hop's input. An empty path returns (nil, initialIn)
// unchanged.
func BuildActions(path *pool.Path, initialIn, minOut *big.Int) ([]*Action, *big.Int) {
	if path == nil || len(path.Hops) == 0 {
		return nil, initialIn
	}

	actions := make([]*Action, 0, len(path.Hops))
	prevOut := new(big.Int).Set(initialIn)

	for i, hop := range path.Hops {
		a := &Action{
			PoolID:       hop.Pool.ID,
			TokenIn:      hop.Pool.Tokens[hop.InIndex],
			TokenOut:     hop.Pool.Tokens[hop.OutIndex],
			MinAmountOut: big.NewInt(0),
		}
		if i == 0 {
			a.AmountIn = new(big.Int).Set(prevOut)
		}
		if i == len(path.Hops)-1 {
			a.MinAmountOut = new(big.Int).Set(minOut)
		}
		actions = append(actions, a)
		prevOut = hop.EstimateReturn(prevOut)
	}
	return actions, prevOut
}

// Submitter sends a composed action set to the router and waits for finality.
// Implemented by pkg/router.Gateway; abstracted here so swap composition has
// no import-time dependency on the transport layer.
type Submitter interface {
	SubmitSwap(ctx context.Context, actions []*Action) (TxHandle, error)
	AwaitFinal(ctx context.Context, handle TxHandle) (Outcome, error)
}

// TxHandle opaquely identifies a broadcast transaction for status polling.
type TxHandle struct {
	Hash string
}

// Outcome is the terminal result of a submitted transaction.
type Outcome struct {
	Success bool
	Status  string
}

// Execute submits actions via sub and blocks until final. Within one tick,
// swaps are issued sequentially to avoid nonce collisions on the signer
// (spec.md §4.6 "Concurrency") — Execute itself performs one swap; the caller
// (the arbitrage/portfolio loop) is responsible for sequencing calls.
func Execute(ctx context.Context, sub Submitter, actions []*Action) (Outcome, error) {
	if len(actions) == 0 {
		return Outcome{}, fmt.Errorf("swap: no actions to execute")
	}
	handle, err := sub.SubmitSwap(ctx, actions)
	if err != nil {
		return Outcome{}, fmt.Errorf("swap: submit: %w", err)
	}
	outcome, err := sub.AwaitFinal(ctx, handle)
	if err != nil {
		return Outcome{}, fmt.Errorf("swap: await final: %w", err)
	}
	return outcome, nil
}

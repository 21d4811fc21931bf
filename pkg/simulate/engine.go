package simulate

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ref-trader/reftrader/pkg/pool"
	"github.com/ref-trader/reftrader/pkg/swap"
)

// MockSubmitter satisfies pkg/swap.Submitter by applying each SwapAction
// directly to an in-memory InfoList's reserves — the same constant-
// product/StableSwap math the live router enforces on-chain, minus the
// network round trip — instead of broadcasting a transaction. Every
// submitted swap is treated as immediately final.
type MockSubmitter struct {
	mu    sync.Mutex
	pools *pool.InfoList
}

// NewMockSubmitter wraps pools for simulated execution. Mutations are
// applied to the PoolInfo values pools indexes, so callers that need an
// unmodified baseline should pass a cloned InfoList.
func NewMockSubmitter(pools *pool.InfoList) *MockSubmitter {
	return &MockSubmitter{pools: pools}
}

// SubmitSwap applies actions in order, mutating reserves to reflect each
// hop, and returns a synthetic handle encoding the action count (there is
// no real transaction to reference).
func (m *MockSubmitter) SubmitSwap(ctx context.Context, actions []*swap.Action) (swap.TxHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var prevOut *big.Int
	for i, a := range actions {
		p := m.pools.Get(a.PoolID)
		if p == nil {
			return swap.TxHandle{}, fmt.Errorf("simulate: unknown pool %d", a.PoolID)
		}
		inIdx := p.IndexOf(a.TokenIn)
		outIdx := p.IndexOf(a.TokenOut)
		if inIdx < 0 || outIdx < 0 {
			return swap.TxHandle{}, fmt.Errorf("simulate: pool %d missing token for hop %s->%s", a.PoolID, a.TokenIn, a.TokenOut)
		}
		amountIn := a.AmountIn
		if i > 0 {
			// The router forwards the previous hop's output; BuildActions
			// leaves AmountIn nil on every hop after the first.
			amountIn = prevOut
		}
		pair := pool.NewPair(p, a.TokenIn, a.TokenOut)
		out := pair.EstimateReturn(amountIn)
		p.Reserves[inIdx] = new(big.Int).Add(p.Reserves[inIdx], amountIn)
		p.Reserves[outIdx] = new(big.Int).Sub(p.Reserves[outIdx], out)
		if p.Reserves[outIdx].Sign() < 0 {
			p.Reserves[outIdx] = big.NewInt(0)
		}
		prevOut = out
	}
	return swap.TxHandle{Hash: fmt.Sprintf("sim-%d-actions", len(actions))}, nil
}

// AwaitFinal always reports success: SubmitSwap already applied the trade.
func (m *MockSubmitter) AwaitFinal(ctx context.Context, handle swap.TxHandle) (swap.Outcome, error) {
	return swap.Outcome{Success: true, Status: "final"}, nil
}

// Snapshot returns the current (possibly mutated) pool state.
func (m *MockSubmitter) Snapshot() *pool.InfoList {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pools
}

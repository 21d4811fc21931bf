// Package simulate implements the deterministic simulation mode named in
// spec.md §1 ("the deterministic simulation mode that replays persisted
// pool snapshots against the same core") and expanded in SPEC_FULL.md:
// replay PoolInfo snapshots recorded by the Portfolio Loop's RecordRates
// against the same Pool Graph / Preview Optimizer / Swap Executor core,
// without touching a live chain. Grounded on original_source/crates/
// simulate/{engine.rs,mock_client.rs,sweep.rs} and spec.md §9's
// "Polymorphic RPC client" design note (the core is generic over any
// implementation of its small capability interfaces).
package simulate

import (
	"context"

	"github.com/ref-trader/reftrader/pkg/chainclient"
)

// MockGasSource reports a fixed, operator-configured gas price instead of
// querying a live chain, satisfying pkg/arbitrage.GasSource.
type MockGasSource struct {
	YoctoPerGas int64
}

// GetGasPrice ignores block and always returns the configured fixed price.
func (m MockGasSource) GetGasPrice(ctx context.Context, block *uint64) (chainclient.GasPrice, error) {
	return chainclient.GasPrice{YoctoPerGas: m.YoctoPerGas}, nil
}

// defaultYoctoPerGas mirrors a typical observed mainnet gas price, used when
// an operator doesn't configure one explicitly.
const defaultYoctoPerGas = 100_000_000

// NewMockGasSource builds a MockGasSource, defaulting to
// defaultYoctoPerGas when price is zero.
func NewMockGasSource(price int64) MockGasSource {
	if price <= 0 {
		price = defaultYoctoPerGas
	}
	return MockGasSource{YoctoPerGas: price}
}

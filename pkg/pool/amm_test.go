package pool

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstantProductReturnZeroAtZero(t *testing.T) {
	got := constantProductReturn(big.NewInt(1_000_000), big.NewInt(1_000_000), big.NewInt(0), 30)
	assert.Equal(t, 0, got.Sign())
}

func TestConstantProductReturnWeaklyIncreasing(t *testing.T) {
	reserveIn := big.NewInt(1_000_000_000)
	reserveOut := big.NewInt(1_000_000_000)
	prev := big.NewInt(0)
	for _, in := range []int64{0, 100, 1_000, 10_000, 100_000} {
		got := constantProductReturn(reserveIn, reserveOut, big.NewInt(in), 30)
		assert.GreaterOrEqual(t, got.Cmp(prev), 0)
		prev = got
	}
}

func TestConstantProductReturnZeroReserves(t *testing.T) {
	got := constantProductReturn(big.NewInt(0), big.NewInt(1_000), big.NewInt(100), 30)
	assert.Equal(t, 0, got.Sign())
}

func TestStableSwapReturnZeroAtZero(t *testing.T) {
	p := &PoolInfo{
		ID:       1,
		Kind:     KindStable,
		Tokens:   tokenaccountStub(2),
		Reserves: []*big.Int{big.NewInt(1_000_000_000), big.NewInt(1_000_000_000)},
		FeeBps:   4,
		Amp:      100,
	}
	got := stableSwapReturn(p, 0, 1, big.NewInt(0))
	assert.Equal(t, 0, got.Sign())
}

func TestStableSwapReturnWeaklyIncreasing(t *testing.T) {
	p := &PoolInfo{
		ID:       1,
		Kind:     KindStable,
		Tokens:   tokenaccountStub(2),
		Reserves: []*big.Int{big.NewInt(10_000_000_000), big.NewInt(10_000_000_000)},
		FeeBps:   4,
		Amp:      100,
	}
	prev := big.NewInt(0)
	for _, in := range []int64{0, 1_000, 10_000, 100_000, 1_000_000} {
		got := stableSwapReturn(p, 0, 1, big.NewInt(in))
		assert.GreaterOrEqual(t, got.Cmp(prev), 0)
		prev = got
	}
}

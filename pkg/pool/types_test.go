package pool

import (
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ref-trader/reftrader/pkg/tokenaccount"
)

// tokenaccountStub returns n distinct parsed token accounts for test fixtures.
func tokenaccountStub(n int) []tokenaccount.Account {
	out := make([]tokenaccount.Account, n)
	for i := range out {
		out[i] = tokenaccount.MustParse(fmt.Sprintf("token%d.near", i))
	}
	return out
}

func TestPoolInfoValidate(t *testing.T) {
	ok := &PoolInfo{ID: 1, Tokens: tokenaccountStub(2), Reserves: []*big.Int{big.NewInt(1), big.NewInt(1)}}
	assert.NoError(t, ok.Validate())

	tooFew := &PoolInfo{ID: 2, Tokens: tokenaccountStub(1), Reserves: []*big.Int{big.NewInt(1)}}
	assert.Error(t, tooFew.Validate())

	mismatched := &PoolInfo{ID: 3, Tokens: tokenaccountStub(2), Reserves: []*big.Int{big.NewInt(1)}}
	assert.Error(t, mismatched.Validate())
}

func TestInfoListKeepsLatestPerID(t *testing.T) {
	toks := tokenaccountStub(2)
	old := &PoolInfo{ID: 1, Tokens: toks, Reserves: []*big.Int{big.NewInt(1), big.NewInt(1)}, ObservedAt: time.Unix(1, 0)}
	newer := &PoolInfo{ID: 1, Tokens: toks, Reserves: []*big.Int{big.NewInt(2), big.NewInt(2)}, ObservedAt: time.Unix(2, 0)}

	l := NewInfoList([]*PoolInfo{old, newer})
	got := l.Get(1)
	require.NotNil(t, got)
	assert.Equal(t, big.NewInt(2), got.Reserves[0])
}

func TestPairEstimateReturnZeroAndIncreasing(t *testing.T) {
	toks := tokenaccountStub(2)
	p := &PoolInfo{
		ID:       1,
		Kind:     KindSimple,
		Tokens:   toks,
		Reserves: []*big.Int{big.NewInt(1_000_000), big.NewInt(1_000_000)},
		FeeBps:   30,
	}
	pr := NewPair(p, toks[0], toks[1])
	require.NotNil(t, pr)

	assert.Equal(t, 0, pr.EstimateReturn(big.NewInt(0)).Sign())

	a := pr.EstimateReturn(big.NewInt(100))
	b := pr.EstimateReturn(big.NewInt(1000))
	assert.GreaterOrEqual(t, b.Cmp(a), 0)
}

func TestPathComposeReturnAndEndpoints(t *testing.T) {
	toks := tokenaccountStub(3)
	poolA := &PoolInfo{
		ID:       1,
		Kind:     KindSimple,
		Tokens:   []tokenaccount.Account{toks[0], toks[1]},
		Reserves: []*big.Int{big.NewInt(1_000_000), big.NewInt(1_000_000)},
		FeeBps:   30,
	}
	poolB := &PoolInfo{
		ID:       2,
		Kind:     KindSimple,
		Tokens:   []tokenaccount.Account{toks[1], toks[2]},
		Reserves: []*big.Int{big.NewInt(1_000_000), big.NewInt(1_000_000)},
		FeeBps:   30,
	}

	hop1 := NewPair(poolA, toks[0], toks[1])
	hop2 := NewPair(poolB, toks[1], toks[2])
	require.NotNil(t, hop1)
	require.NotNil(t, hop2)

	path := &Path{Hops: []*Pair{hop1, hop2}}
	assert.Equal(t, toks[0], path.Start())
	assert.Equal(t, toks[2], path.Goal())
	assert.Equal(t, 2, path.Depth())

	direct := hop1.EstimateReturn(big.NewInt(10_000))
	composed := path.ComposeReturn(big.NewInt(10_000))
	// Second hop curvature means composed output is less than hop1's raw return
	// (it's hop2's return on hop1's output, not simply hop1's output).
	assert.True(t, composed.Cmp(direct) <= 0)
}

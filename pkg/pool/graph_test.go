package pool

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ref-trader/reftrader/internal/boterr"
	"github.com/ref-trader/reftrader/pkg/tokenaccount"
)

func simplePool(id int64, a, b tokenaccount.Account, reserveA, reserveB int64, feeBps int64) *PoolInfo {
	return &PoolInfo{
		ID:       id,
		Kind:     KindSimple,
		Tokens:   []tokenaccount.Account{a, b},
		Reserves: []*big.Int{big.NewInt(reserveA), big.NewInt(reserveB)},
		FeeBps:   feeBps,
	}
}

func TestGraphShortestPathSingleHop(t *testing.T) {
	toks := tokenaccountStub(2)
	pools := NewInfoList([]*PoolInfo{
		simplePool(1, toks[0], toks[1], 1_000_000, 1_000_000, 30),
	})
	g := Build(pools)

	path, err := g.ShortestPath(toks[0], toks[1])
	require.NoError(t, err)
	assert.Equal(t, toks[0], path.Start())
	assert.Equal(t, toks[1], path.Goal())
	assert.Equal(t, 1, path.Depth())
}

func TestGraphShortestPathThreeHop(t *testing.T) {
	toks := tokenaccountStub(4)
	pools := NewInfoList([]*PoolInfo{
		simplePool(1, toks[0], toks[1], 1_000_000, 1_000_000, 30),
		simplePool(2, toks[1], toks[2], 1_000_000, 1_000_000, 30),
		simplePool(3, toks[2], toks[3], 1_000_000, 1_000_000, 30),
	})
	g := Build(pools)

	path, err := g.ShortestPath(toks[0], toks[3])
	require.NoError(t, err)
	assert.Equal(t, toks[0], path.Start())
	assert.Equal(t, toks[3], path.Goal())
	assert.Equal(t, 3, path.Depth())
}

func TestGraphNoValidEdge(t *testing.T) {
	toks := tokenaccountStub(3)
	pools := NewInfoList([]*PoolInfo{
		simplePool(1, toks[0], toks[1], 1_000_000, 1_000_000, 30),
	})
	g := Build(pools)

	_, err := g.ShortestPath(toks[0], toks[2])
	require.Error(t, err)
	var noEdge *boterr.NoValidEdge
	assert.ErrorAs(t, err, &noEdge)
}

func TestGraphBestEdgePrefersHigherReturnThenLowerPoolID(t *testing.T) {
	toks := tokenaccountStub(2)
	// Pool 2 has deeper liquidity (better rate) than pool 1.
	pools := NewInfoList([]*PoolInfo{
		simplePool(1, toks[0], toks[1], 1_000_000, 1_000_000, 30),
		simplePool(2, toks[0], toks[1], 10_000_000, 10_000_000, 30),
	})
	g := Build(pools)

	best := g.BestEdge(toks[0], toks[1])
	require.NotNil(t, best)
	assert.Equal(t, int64(2), best.PoolID)
}

func TestGraphBestEdgeTieBreaksByLowerPoolID(t *testing.T) {
	toks := tokenaccountStub(2)
	// Identical reserves and fee on both pools -> identical weight -> tie-break by pool id.
	pools := NewInfoList([]*PoolInfo{
		simplePool(5, toks[0], toks[1], 1_000_000, 1_000_000, 30),
		simplePool(2, toks[0], toks[1], 1_000_000, 1_000_000, 30),
	})
	g := Build(pools)

	best := g.BestEdge(toks[0], toks[1])
	require.NotNil(t, best)
	assert.Equal(t, int64(2), best.PoolID)
}

func TestGraphListReturnsOmitsUnreachableGoals(t *testing.T) {
	toks := tokenaccountStub(3)
	pools := NewInfoList([]*PoolInfo{
		simplePool(1, toks[0], toks[1], 1_000_000, 1_000_000, 30),
	})
	g := Build(pools)

	got := g.ListReturns(big.NewInt(1000), toks[0], []tokenaccount.Account{toks[1], toks[2]})
	assert.Len(t, got, 1)
	_, ok := got[toks[1]]
	assert.True(t, ok)
}

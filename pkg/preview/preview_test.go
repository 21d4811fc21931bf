package preview

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ref-trader/reftrader/pkg/pool"
	"github.com/ref-trader/reftrader/pkg/tokenaccount"
)

func zeroGas() GasPrice {
	return GasPrice{HeadGas: big.NewInt(0), ByStepGas: big.NewInt(0), PriceYoc: big.NewInt(0)}
}

func TestListAtGainInvariant(t *testing.T) {
	toks := []tokenaccount.Account{
		tokenaccount.MustParse("a.near"),
		tokenaccount.MustParse("b.near"),
	}
	p := &pool.PoolInfo{
		ID:       1,
		Kind:     pool.KindSimple,
		Tokens:   toks,
		Reserves: []*big.Int{big.NewInt(1_000_000_000), big.NewInt(1_000_000_000)},
		FeeBps:   30,
	}
	infoList := pool.NewInfoList([]*pool.PoolInfo{p})
	g := pool.Build(infoList)

	list := ListAt(g, toks[0], []tokenaccount.Account{toks[1]}, big.NewInt(100_000), big.NewInt(1_000), zeroGas())
	require.NotNil(t, list)

	sum := big.NewInt(0)
	for _, pv := range list.Previews {
		sum.Add(sum, pv.Gain)
		// Output less input less cost must be >= gain, and gain == 0 or output>input.
		assert.True(t, pv.Gain.Sign() == 0 || pv.Output.Cmp(pv.Input) > 0)
	}
	assert.Equal(t, 0, sum.Cmp(list.TotalGain))
}

func TestListAtNoReachableGoalsIsEmpty(t *testing.T) {
	toks := []tokenaccount.Account{
		tokenaccount.MustParse("a.near"),
		tokenaccount.MustParse("b.near"),
		tokenaccount.MustParse("c.near"),
	}
	p := &pool.PoolInfo{
		ID:       1,
		Kind:     pool.KindSimple,
		Tokens:   toks[:2],
		Reserves: []*big.Int{big.NewInt(1_000_000), big.NewInt(1_000_000)},
		FeeBps:   30,
	}
	infoList := pool.NewInfoList([]*pool.PoolInfo{p})
	g := pool.Build(infoList)

	list := ListAt(g, toks[0], []tokenaccount.Account{toks[2]}, big.NewInt(100_000), big.NewInt(1_000), zeroGas())
	require.NotNil(t, list)
	assert.Empty(t, list.Previews)
	assert.Equal(t, 0, list.TotalGain.Sign())
}

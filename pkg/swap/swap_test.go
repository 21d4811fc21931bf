package swap

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ref-trader/reftrader/pkg/pool"
	"github.com/ref-trader/reftrader/pkg/tokenaccount"
)

func twoTokenPool(id int64, a, b tokenaccount.Account, ra, rb, feeBps int64) *pool.PoolInfo {
	return &pool.PoolInfo{
		ID:       id,
		Kind:     pool.KindSimple,
		Tokens:   []tokenaccount.Account{a, b},
		Reserves: []*big.Int{big.NewInt(ra), big.NewInt(rb)},
		FeeBps:   feeBps,
	}
}

// TestBuildActionsSingleHop exercises spec.md §8 scenario 1.
func TestBuildActionsSingleHop(t *testing.T) {
	a := tokenaccount.MustParse("a.near")
	b := tokenaccount.MustParse("b.near")
	p := twoTokenPool(1, a, b, 1_000_000, 2_000_000, 30)
	pr := pool.NewPair(p, a, b)
	require.NotNil(t, pr)
	path := &pool.Path{Hops: []*pool.Pair{pr}}

	actions, out := BuildActions(path, big.NewInt(1000), big.NewInt(1234))
	require.Len(t, actions, 1)
	assert.Equal(t, big.NewInt(1000), actions[0].AmountIn)
	assert.Equal(t, big.NewInt(1234), actions[0].MinAmountOut)
	assert.Equal(t, int64(1), actions[0].PoolID)
	assert.Equal(t, a, actions[0].TokenIn)
	assert.Equal(t, b, actions[0].TokenOut)
	// amount_in_less_fee = 1000*9970 = 9_970_000
	// out = 9_970_000*2_000_000 / (1_000_000*10000+9_970_000) = 19_940_000_000_000/10_009_970_000 ≈ 1992 (approx 1994 per spec's rough note)
	assert.True(t, out.Cmp(big.NewInt(1900)) > 0 && out.Cmp(big.NewInt(2000)) < 0)
}

// TestBuildActionsThreeHop exercises spec.md §8 scenario 2's shape (fixed
// rates mocked via separate reserve ratios, not the literal 0.9/0.95/0.98
// multipliers, since BuildActions always uses real pool AMM math).
func TestBuildActionsThreeHop(t *testing.T) {
	toks := make([]tokenaccount.Account, 4)
	for i := range toks {
		toks[i] = tokenaccount.MustParse(string(rune('a'+i)) + ".near")
	}
	p1 := twoTokenPool(1, toks[0], toks[1], 1_000_000, 1_000_000, 30)
	p2 := twoTokenPool(2, toks[1], toks[2], 1_000_000, 1_000_000, 30)
	p3 := twoTokenPool(3, toks[2], toks[3], 1_000_000, 1_000_000, 30)

	hops := []*pool.Pair{
		pool.NewPair(p1, toks[0], toks[1]),
		pool.NewPair(p2, toks[1], toks[2]),
		pool.NewPair(p3, toks[2], toks[3]),
	}
	path := &pool.Path{Hops: hops}

	actions, _ := BuildActions(path, big.NewInt(1000), big.NewInt(800))
	require.Len(t, actions, 3)

	assert.NotNil(t, actions[0].AmountIn)
	assert.Nil(t, actions[1].AmountIn)
	assert.Nil(t, actions[2].AmountIn)

	assert.Equal(t, 0, actions[0].MinAmountOut.Sign())
	assert.Equal(t, 0, actions[1].MinAmountOut.Sign())
	assert.Equal(t, big.NewInt(800), actions[2].MinAmountOut)
}

func TestBuildActionsEmptyPath(t *testing.T) {
	actions, out := BuildActions(&pool.Path{}, big.NewInt(500), big.NewInt(0))
	assert.Nil(t, actions)
	assert.Equal(t, big.NewInt(500), out)
}

type fakeSubmitter struct {
	outcome Outcome
	err     error
}

func (f *fakeSubmitter) SubmitSwap(ctx context.Context, actions []*Action) (TxHandle, error) {
	return TxHandle{Hash: "deadbeef"}, nil
}

func (f *fakeSubmitter) AwaitFinal(ctx context.Context, handle TxHandle) (Outcome, error) {
	return f.outcome, f.err
}

func TestExecuteReturnsOutcome(t *testing.T) {
	sub := &fakeSubmitter{outcome: Outcome{Success: true, Status: "SUCCESS"}}
	a := tokenaccount.MustParse("a.near")
	b := tokenaccount.MustParse("b.near")
	p := twoTokenPool(1, a, b, 1_000_000, 1_000_000, 30)
	pr := pool.NewPair(p, a, b)
	actions, _ := BuildActions(&pool.Path{Hops: []*pool.Pair{pr}}, big.NewInt(100), big.NewInt(0))

	outcome, err := Execute(context.Background(), sub, actions)
	require.NoError(t, err)
	assert.True(t, outcome.Success)
}

func TestExecuteNoActionsErrors(t *testing.T) {
	sub := &fakeSubmitter{}
	_, err := Execute(context.Background(), sub, nil)
	assert.Error(t, err)
}

package simulate

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ref-trader/reftrader/pkg/pool"
	"github.com/ref-trader/reftrader/pkg/swap"
	"github.com/ref-trader/reftrader/pkg/tokenaccount"
)

func bigExp(base, exp int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(base), big.NewInt(exp), nil)
}

// mispricedPools mirrors pkg/arbitrage's test fixture: two deep pools whose
// cross rates disagree, so a round trip from a is reliably profitable.
func mispricedPools(a, b tokenaccount.Account) []*pool.PoolInfo {
	deep := bigExp(10, 27)
	deep3x := new(big.Int).Mul(big.NewInt(3), deep)
	return []*pool.PoolInfo{
		{ID: 1, Kind: pool.KindSimple, Tokens: []tokenaccount.Account{a, b}, Reserves: []*big.Int{new(big.Int).Set(deep), new(big.Int).Set(deep3x)}, FeeBps: 30},
		{ID: 2, Kind: pool.KindSimple, Tokens: []tokenaccount.Account{b, a}, Reserves: []*big.Int{new(big.Int).Set(deep), new(big.Int).Set(deep3x)}, FeeBps: 30},
	}
}

type fakeSnapshotStore struct {
	snapshots []*pool.PoolInfo
}

func (f *fakeSnapshotStore) Write(ctx context.Context, snapshots []*pool.PoolInfo) error {
	f.snapshots = append(f.snapshots, snapshots...)
	return nil
}

func (f *fakeSnapshotStore) Latest(ctx context.Context, poolID int64) (*pool.PoolInfo, error) {
	return nil, nil
}

func (f *fakeSnapshotStore) LatestBefore(ctx context.Context, poolID int64, ts time.Time) (*pool.PoolInfo, error) {
	return nil, nil
}

func (f *fakeSnapshotStore) UniqueBetween(ctx context.Context, from, to time.Time) ([]*pool.PoolInfo, error) {
	var out []*pool.PoolInfo
	for _, s := range f.snapshots {
		if !s.ObservedAt.Before(from) && !s.ObservedAt.After(to) {
			out = append(out, s)
		}
	}
	return out, nil
}

func TestMockSubmitterSubmitSwapMutatesReserves(t *testing.T) {
	a := tokenaccount.MustParse("a.near")
	b := tokenaccount.MustParse("b.near")
	infos := mispricedPools(a, b)
	infoList := pool.NewInfoList(infos)

	graph := pool.Build(infoList)
	path, err := graph.ShortestPath(a, b)
	require.NoError(t, err)

	input := bigExp(10, 24)
	actions, finalOut := swap.BuildActions(path, input, big.NewInt(0))
	require.Len(t, actions, 1)

	before := new(big.Int).Set(infoList.Get(1).Reserves[0])
	sub := NewMockSubmitter(infoList)
	outcome, err := swap.Execute(context.Background(), sub, actions)
	require.NoError(t, err)
	assert.True(t, outcome.Success)

	after := infoList.Get(1).Reserves[0]
	assert.Equal(t, 1, after.Cmp(before), "pool 1's input reserve should grow by the submitted amount")
	assert.Equal(t, 0, new(big.Int).Sub(after, before).Cmp(input), "reserve growth should equal the submitted input")
	assert.True(t, finalOut.Sign() > 0)
}

func TestMockGasSourceDefaultsWhenUnset(t *testing.T) {
	zero := NewMockGasSource(0)
	assert.Equal(t, int64(defaultYoctoPerGas), zero.YoctoPerGas)

	custom := NewMockGasSource(42)
	price, err := custom.GetGasPrice(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(42), price.YoctoPerGas)
}

func TestEngineSweepFindsProfitableCycle(t *testing.T) {
	a := tokenaccount.MustParse("a.near")
	b := tokenaccount.MustParse("b.near")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	store := &fakeSnapshotStore{}
	for _, p := range mispricedPools(a, b) {
		p.ObservedAt = now
		store.snapshots = append(store.snapshots, p)
	}

	eng := NewEngine(store, NewMockGasSource(1), a, big.NewInt(1), bigExp(10, 24))
	report, err := eng.Sweep(context.Background(), now.Add(-time.Minute), now.Add(time.Minute))
	require.NoError(t, err)

	require.Len(t, report.Steps, 1)
	assert.Equal(t, 1, report.TicksPlayed)
	assert.True(t, report.Steps[0].Found, "mispriced pools should surface a profitable round trip")
	assert.Equal(t, 1, report.ProfitableN)
	assert.True(t, report.TotalGain.Sign() > 0)
	assert.NotNil(t, report.FinalBalance.Get(1))
}

func TestEngineSweepEmptyRangeReturnsEmptyReport(t *testing.T) {
	a := tokenaccount.MustParse("a.near")
	store := &fakeSnapshotStore{}
	eng := NewEngine(store, NewMockGasSource(0), a, nil, nil)

	report, err := eng.Sweep(context.Background(), time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, report.TicksPlayed)
	assert.Equal(t, 0, report.TotalGain.Sign())
}

func TestEngineSweepNoArbitrageWhenPricesAgree(t *testing.T) {
	a := tokenaccount.MustParse("a.near")
	b := tokenaccount.MustParse("b.near")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	deep := bigExp(10, 27)
	store := &fakeSnapshotStore{snapshots: []*pool.PoolInfo{
		{ID: 1, Kind: pool.KindSimple, Tokens: []tokenaccount.Account{a, b}, Reserves: []*big.Int{new(big.Int).Set(deep), new(big.Int).Set(deep)}, FeeBps: 30, ObservedAt: now},
		{ID: 2, Kind: pool.KindSimple, Tokens: []tokenaccount.Account{b, a}, Reserves: []*big.Int{new(big.Int).Set(deep), new(big.Int).Set(deep)}, FeeBps: 30, ObservedAt: now},
	}}

	eng := NewEngine(store, NewMockGasSource(1), a, big.NewInt(1), bigExp(10, 24))
	report, err := eng.Sweep(context.Background(), now.Add(-time.Minute), now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, report.Steps[0].Found, "matched fee-adjusted round trip should never be profitable")
}

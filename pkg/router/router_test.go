package router

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ref-trader/reftrader/pkg/chainclient"
	"github.com/ref-trader/reftrader/pkg/tokenaccount"
)

// fakeCaller answers view calls from a fixed script and records change calls.
type fakeCaller struct {
	views   map[string][]byte
	changes []string
}

func (f *fakeCaller) ViewContract(ctx context.Context, receiver tokenaccount.Account, method string, args any) ([]byte, error) {
	return f.views[method], nil
}

func (f *fakeCaller) CallMethod(ctx context.Context, signer *chainclient.Signer, receiver tokenaccount.Account, method string, args any, deposit *big.Int) (chainclient.TxHandle, error) {
	f.changes = append(f.changes, method)
	return chainclient.TxHandle{}, nil
}

func (f *fakeCaller) AwaitTxFinal(ctx context.Context, handle chainclient.TxHandle) (chainclient.TxOutcome, error) {
	return chainclient.TxOutcome{Success: true}, nil
}

func jsonOf(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestCheckDepositsNoDepositsReturnsNil(t *testing.T) {
	fc := &fakeCaller{views: map[string][]byte{
		"storage_balance_bounds": jsonOf(t, storageBoundsJSON{Min: "100"}),
		"get_deposits":           jsonOf(t, map[string]string{}),
	}}
	g := New(fc, &chainclient.Signer{AccountID: tokenaccount.MustParse("me.near")}, tokenaccount.MustParse("router.near"), tokenaccount.MustParse("wrap.near"))

	unregister, more, err := g.CheckDeposits(context.Background(), []tokenaccount.Account{tokenaccount.MustParse("usdc.near")})
	require.NoError(t, err)
	assert.Nil(t, unregister)
	assert.Nil(t, more)
}

func TestCheckDepositsAvailableCoversMissing(t *testing.T) {
	fc := &fakeCaller{views: map[string][]byte{
		"storage_balance_bounds": jsonOf(t, storageBoundsJSON{Min: "100"}),
		"get_deposits":           jsonOf(t, map[string]string{"a.near": "0"}),
		"storage_balance_of":     jsonOf(t, storageBalanceJSON{Total: "300", Available: "150"}),
	}}
	g := New(fc, &chainclient.Signer{AccountID: tokenaccount.MustParse("me.near")}, tokenaccount.MustParse("router.near"), tokenaccount.MustParse("wrap.near"))

	// used=150, per_token=(150-100)/1=50; missing = {b.near} -> moreNeeded=50 <= available(150)
	unregister, more, err := g.CheckDeposits(context.Background(), []tokenaccount.Account{tokenaccount.MustParse("b.near")})
	require.NoError(t, err)
	assert.Empty(t, unregister)
	assert.Equal(t, big.NewInt(0), more)
}

func TestCheckDepositsNeedsTopUp(t *testing.T) {
	fc := &fakeCaller{views: map[string][]byte{
		"storage_balance_bounds": jsonOf(t, storageBoundsJSON{Min: "100"}),
		"get_deposits":           jsonOf(t, map[string]string{"a.near": "0", "b.near": "0"}),
		"storage_balance_of":     jsonOf(t, storageBalanceJSON{Total: "300", Available: "10"}),
	}}
	g := New(fc, &chainclient.Signer{AccountID: tokenaccount.MustParse("me.near")}, tokenaccount.MustParse("router.near"), tokenaccount.MustParse("wrap.near"))

	// used=290, per_token=(290-100)/2=95; missing = {c.near} -> moreNeeded=95 > available(10)
	// noneeds: a.near,b.near both zero-balance and not in requested set -> both eligible
	// shortage=85; needingCount=ceil(85/95)=1 -> trims noneeds to 1 -> returns (noneeds[:1], 0)
	unregister, more, err := g.CheckDeposits(context.Background(), []tokenaccount.Account{tokenaccount.MustParse("c.near")})
	require.NoError(t, err)
	assert.Len(t, unregister, 1)
	assert.Equal(t, big.NewInt(0), more)
}

func TestListPoolsParsesPageAndSkipsInvalid(t *testing.T) {
	fc := &fakeCaller{views: map[string][]byte{
		"get_pools": jsonOf(t, []poolJSON{
			{
				PoolKind:      "SIMPLE_POOL",
				TokenAccounts: []string{"a.near", "b.near"},
				Amounts:       []string{"1000000", "2000000"},
				TotalFee:      30,
				Shares:        "5000",
			},
			{
				PoolKind:      "STABLE_SWAP",
				TokenAccounts: []string{"c.near"}, // invalid: fewer than 2 tokens
				Amounts:       []string{"1"},
			},
		}),
	}}
	g := New(fc, &chainclient.Signer{AccountID: tokenaccount.MustParse("me.near")}, tokenaccount.MustParse("router.near"), tokenaccount.MustParse("wrap.near"))

	pools, err := g.ListPools(context.Background())
	require.NoError(t, err)
	require.Len(t, pools, 1)
	assert.Equal(t, tokenaccount.MustParse("a.near"), pools[0].Tokens[0])
	assert.Equal(t, int64(30), pools[0].FeeBps)
}

func TestWrapUnwrapCallsExpectedMethods(t *testing.T) {
	fc := &fakeCaller{views: map[string][]byte{}}
	g := New(fc, &chainclient.Signer{AccountID: tokenaccount.MustParse("me.near")}, tokenaccount.MustParse("router.near"), tokenaccount.MustParse("wrap.near"))

	require.NoError(t, g.Wrap(context.Background(), big.NewInt(1000)))
	require.NoError(t, g.Unwrap(context.Background(), big.NewInt(1000)))
	assert.Equal(t, []string{"near_deposit", "near_withdraw"}, fc.changes)
}

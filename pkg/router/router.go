// Package router implements the Router Gateway from spec.md §4.3: storage
// deposit bookkeeping, token register/unregister, deposit/withdraw, and
// wrap/unwrap of the native token, all as JSON calls to the DEX router and
// wrapped-native-token contracts. Grounded on original_source/backend/src/
// ref_finance/storage.rs and deposit.rs for the deposit-rebalancing
// arithmetic, expressed here with the teacher's typed-client-plus-JSON-args
// idiom (pkg/contractclient's Call/Send shape) instead of ABI calldata.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ref-trader/reftrader/pkg/chainclient"
	"github.com/ref-trader/reftrader/pkg/pool"
	"github.com/ref-trader/reftrader/pkg/swap"
	"github.com/ref-trader/reftrader/pkg/tokenaccount"
)

// Caller is the capability subset the Gateway needs: view calls for state
// reads, and signed change-method calls for mutations. Satisfied directly by
// *chainclient.Client; narrowed here so tests can supply a fake.
type Caller interface {
	ViewContract(ctx context.Context, receiver tokenaccount.Account, method string, args any) ([]byte, error)
	CallMethod(ctx context.Context, signer *chainclient.Signer, receiver tokenaccount.Account, method string, args any, deposit *big.Int) (chainclient.TxHandle, error)
	AwaitTxFinal(ctx context.Context, handle chainclient.TxHandle) (chainclient.TxOutcome, error)
}

// Gateway wraps the router and wrapped-native-token contracts.
type Gateway struct {
	client Caller
	signer *chainclient.Signer
	router tokenaccount.Account
	wnear  tokenaccount.Account
}

// New builds a Gateway targeting router and the wrapped-native-token account wnear.
func New(client Caller, signer *chainclient.Signer, router, wnear tokenaccount.Account) *Gateway {
	return &Gateway{client: client, signer: signer, router: router, wnear: wnear}
}

// StorageBalanceBounds mirrors the router's storage_balance_bounds response.
type StorageBalanceBounds struct {
	Min *big.Int
	Max *big.Int // nil if unbounded
}

type storageBoundsJSON struct {
	Min string  `json:"min"`
	Max *string `json:"max"`
}

// AccountID returns the signer's account, the implicit subject of every
// deposit/storage query the Gateway issues.
func (g *Gateway) AccountID() tokenaccount.Account { return g.signer.AccountID }

// StorageBounds fetches the router's min/max storage balance requirements.
func (g *Gateway) StorageBounds(ctx context.Context) (StorageBalanceBounds, error) {
	raw, err := g.client.ViewContract(ctx, g.router, "storage_balance_bounds", struct{}{})
	if err != nil {
		return StorageBalanceBounds{}, fmt.Errorf("router: storage_balance_bounds: %w", err)
	}
	var b storageBoundsJSON
	if err := json.Unmarshal(raw, &b); err != nil {
		return StorageBalanceBounds{}, fmt.Errorf("router: parse storage bounds: %w", err)
	}
	min, _ := new(big.Int).SetString(b.Min, 10)
	bounds := StorageBalanceBounds{Min: min}
	if b.Max != nil {
		max, _ := new(big.Int).SetString(*b.Max, 10)
		bounds.Max = max
	}
	return bounds, nil
}

// StorageBalance mirrors the router's storage_balance_of response.
type StorageBalance struct {
	Total     *big.Int
	Available *big.Int
}

type storageBalanceJSON struct {
	Total     string `json:"total"`
	Available string `json:"available"`
}

// StorageBalanceOf fetches account's storage balance, or nil if unregistered.
func (g *Gateway) StorageBalanceOf(ctx context.Context, account tokenaccount.Account) (*StorageBalance, error) {
	raw, err := g.client.ViewContract(ctx, g.router, "storage_balance_of", map[string]string{"account_id": account.String()})
	if err != nil {
		return nil, fmt.Errorf("router: storage_balance_of: %w", err)
	}
	if string(raw) == "null" || len(raw) == 0 {
		return nil, nil
	}
	var b storageBalanceJSON
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("router: parse storage balance: %w", err)
	}
	total, _ := new(big.Int).SetString(b.Total, 10)
	avail, _ := new(big.Int).SetString(b.Available, 10)
	return &StorageBalance{Total: total, Available: avail}, nil
}

// Deposits fetches the router's recorded token->balance deposit map for account.
func (g *Gateway) Deposits(ctx context.Context, account tokenaccount.Account) (map[tokenaccount.Account]*big.Int, error) {
	raw, err := g.client.ViewContract(ctx, g.router, "get_deposits", map[string]string{"account_id": account.String()})
	if err != nil {
		return nil, fmt.Errorf("router: get_deposits: %w", err)
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("router: parse deposits: %w", err)
	}
	out := make(map[tokenaccount.Account]*big.Int, len(m))
	for k, v := range m {
		tok, err := tokenaccount.Parse(k)
		if err != nil {
			continue
		}
		amt, _ := new(big.Int).SetString(v, 10)
		out[tok] = amt
	}
	return out, nil
}

// EnsureStorage performs spec.md §4.3's storage-deposit sequence: register
// the wallet if it has no storage balance yet, then register any of tokens
// not already present in the deposit map.
func (g *Gateway) EnsureStorage(ctx context.Context, tokens []tokenaccount.Account) error {
	account := g.signer.AccountID
	balance, err := g.StorageBalanceOf(ctx, account)
	if err != nil {
		return err
	}
	if balance == nil {
		bounds, err := g.StorageBounds(ctx)
		if err != nil {
			return err
		}
		handle, err := g.client.CallMethod(ctx, g.signer, g.router, "storage_deposit", map[string]bool{"registration_only": false}, bounds.Min)
		if err != nil {
			return fmt.Errorf("router: storage_deposit: %w", err)
		}
		if _, err := g.client.AwaitTxFinal(ctx, handle); err != nil {
			return fmt.Errorf("router: storage_deposit await: %w", err)
		}
	}

	deposits, err := g.Deposits(ctx, account)
	if err != nil {
		return err
	}
	var missing []tokenaccount.Account
	for _, tok := range tokens {
		if _, ok := deposits[tok]; !ok {
			missing = append(missing, tok)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	handle, err := g.client.CallMethod(ctx, g.signer, g.router, "register_tokens", map[string]any{"token_ids": tokenStrings(missing)}, big.NewInt(1))
	if err != nil {
		return fmt.Errorf("router: register_tokens: %w", err)
	}
	if _, err := g.client.AwaitTxFinal(ctx, handle); err != nil {
		return fmt.Errorf("router: register_tokens await: %w", err)
	}
	return nil
}

// CheckDeposits computes spec.md §4.3's deposit-rebalancing plan: the
// per-token storage cost, the tokens missing from the deposit set, and
// whether available storage already covers them. Returns (nil, nil) when
// the account has no deposits yet (mirrors storage.rs's early-return None).
func (g *Gateway) CheckDeposits(ctx context.Context, tokens []tokenaccount.Account) (unregister []tokenaccount.Account, moreStorage *big.Int, err error) {
	bounds, err := g.StorageBounds(ctx)
	if err != nil {
		return nil, nil, err
	}
	account := g.signer.AccountID
	deposits, err := g.Deposits(ctx, account)
	if err != nil {
		return nil, nil, err
	}
	if len(deposits) == 0 {
		return nil, nil, nil
	}
	balance, err := g.StorageBalanceOf(ctx, account)
	if err != nil {
		return nil, nil, err
	}
	if balance == nil {
		return nil, nil, nil
	}

	used := new(big.Int).Sub(balance.Total, balance.Available)
	perToken := new(big.Int).Sub(used, bounds.Min)
	perToken.Quo(perToken, big.NewInt(int64(len(deposits))))
	if perToken.Sign() <= 0 {
		perToken = big.NewInt(1)
	}

	present := make(map[tokenaccount.Account]bool, len(tokens))
	for _, t := range tokens {
		present[t] = true
	}

	var missingCount int64
	for _, t := range tokens {
		if _, ok := deposits[t]; !ok {
			missingCount++
		}
	}
	moreNeeded := new(big.Int).Mul(big.NewInt(missingCount), perToken)
	if moreNeeded.Cmp(balance.Available) <= 0 {
		return nil, big.NewInt(0), nil
	}

	shortage := new(big.Int).Sub(moreNeeded, balance.Available)
	needingCount := new(big.Int).Quo(shortage, perToken)
	rem := new(big.Int).Rem(shortage, perToken)
	if rem.Sign() != 0 {
		needingCount.Add(needingCount, big.NewInt(1))
	}

	var noneeds []tokenaccount.Account
	for tok, amt := range deposits {
		if !present[tok] && amt.Sign() == 0 {
			noneeds = append(noneeds, tok)
		}
	}
	if needingCount.IsInt64() && needingCount.Int64() < int64(len(noneeds)) {
		noneeds = noneeds[:needingCount.Int64()]
	}
	if needingCount.IsInt64() && needingCount.Int64() <= int64(len(noneeds)) {
		return noneeds, big.NewInt(0), nil
	}

	morePosts := new(big.Int).Sub(needingCount, big.NewInt(int64(len(noneeds))))
	more := new(big.Int).Mul(morePosts, perToken)
	return noneeds, more, nil
}

// CheckAndDeposit applies CheckDeposits' plan: unregister first, then top up
// storage if needed.
func (g *Gateway) CheckAndDeposit(ctx context.Context, tokens []tokenaccount.Account) error {
	unregister, more, err := g.CheckDeposits(ctx, tokens)
	if err != nil {
		return err
	}
	if len(unregister) > 0 {
		handle, err := g.client.CallMethod(ctx, g.signer, g.router, "unregister_tokens", map[string]any{"token_ids": tokenStrings(unregister)}, big.NewInt(1))
		if err != nil {
			return fmt.Errorf("router: unregister_tokens: %w", err)
		}
		if _, err := g.client.AwaitTxFinal(ctx, handle); err != nil {
			return fmt.Errorf("router: unregister_tokens await: %w", err)
		}
	}
	if more != nil && more.Sign() > 0 {
		handle, err := g.client.CallMethod(ctx, g.signer, g.router, "storage_deposit", map[string]bool{"registration_only": false}, more)
		if err != nil {
			return fmt.Errorf("router: storage_deposit top-up: %w", err)
		}
		if _, err := g.client.AwaitTxFinal(ctx, handle); err != nil {
			return fmt.Errorf("router: storage_deposit top-up await: %w", err)
		}
	}
	return nil
}

// Wrap calls near_deposit with a native-token transfer of amount.
func (g *Gateway) Wrap(ctx context.Context, amount *big.Int) error {
	handle, err := g.client.CallMethod(ctx, g.signer, g.wnear, "near_deposit", struct{}{}, amount)
	if err != nil {
		return fmt.Errorf("router: near_deposit: %w", err)
	}
	_, err = g.client.AwaitTxFinal(ctx, handle)
	return err
}

// oneYocto is the 1-yocto attached deposit the router convention requires on
// several change methods as an anti-frontrunning measure.
var oneYocto = big.NewInt(1)

// Unwrap calls near_withdraw{amount} with a 1-yocto attached deposit.
func (g *Gateway) Unwrap(ctx context.Context, amount *big.Int) error {
	handle, err := g.client.CallMethod(ctx, g.signer, g.wnear, "near_withdraw", map[string]string{"amount": amount.String()}, oneYocto)
	if err != nil {
		return fmt.Errorf("router: near_withdraw: %w", err)
	}
	_, err = g.client.AwaitTxFinal(ctx, handle)
	return err
}

// WrappedBalance views the wrapped-token ft_balance_of(account).
func (g *Gateway) WrappedBalance(ctx context.Context, account tokenaccount.Account) (*big.Int, error) {
	raw, err := g.client.ViewContract(ctx, g.wnear, "ft_balance_of", map[string]string{"account_id": account.String()})
	if err != nil {
		return nil, fmt.Errorf("router: ft_balance_of: %w", err)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("router: parse ft_balance_of: %w", err)
	}
	bal, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("router: unparseable balance %q", s)
	}
	return bal, nil
}

// DepositToken performs an ft_transfer_call of amount of token into the
// router's custody, with an empty msg — the router interprets this as
// "credit to the caller's account".
func (g *Gateway) DepositToken(ctx context.Context, token tokenaccount.Account, amount *big.Int) error {
	args := map[string]string{
		"receiver_id": g.router.String(),
		"amount":      amount.String(),
		"msg":         "",
	}
	handle, err := g.client.CallMethod(ctx, g.signer, token, "ft_transfer_call", args, oneYocto)
	if err != nil {
		return fmt.Errorf("router: ft_transfer_call: %w", err)
	}
	_, err = g.client.AwaitTxFinal(ctx, handle)
	return err
}

// WithdrawToken withdraws amount of token from the router back to the wallet.
func (g *Gateway) WithdrawToken(ctx context.Context, token tokenaccount.Account, amount *big.Int) error {
	args := map[string]any{
		"token_id":         token.String(),
		"amount":           amount.String(),
		"skip_unwrap_near": false,
	}
	handle, err := g.client.CallMethod(ctx, g.signer, g.router, "withdraw", args, oneYocto)
	if err != nil {
		return fmt.Errorf("router: withdraw: %w", err)
	}
	_, err = g.client.AwaitTxFinal(ctx, handle)
	return err
}

// swapActionJSON is the router's wire shape for one SwapAction.
type swapActionJSON struct {
	PoolID       int64   `json:"pool_id"`
	TokenIn      string  `json:"token_in"`
	TokenOut     string  `json:"token_out"`
	AmountIn     *string `json:"amount_in,omitempty"`
	MinAmountOut string  `json:"min_amount_out"`
}

// SubmitSwap calls the router's swap({actions}) change method with a 1-yocto
// attached deposit, satisfying pkg/swap.Submitter.
func (g *Gateway) SubmitSwap(ctx context.Context, actions []*swap.Action) (swap.TxHandle, error) {
	wire := make([]swapActionJSON, len(actions))
	for i, a := range actions {
		w := swapActionJSON{
			PoolID:       a.PoolID,
			TokenIn:      a.TokenIn.String(),
			TokenOut:     a.TokenOut.String(),
			MinAmountOut: a.MinAmountOut.String(),
		}
		if a.AmountIn != nil {
			s := a.AmountIn.String()
			w.AmountIn = &s
		}
		wire[i] = w
	}
	handle, err := g.client.CallMethod(ctx, g.signer, g.router, "swap", map[string]any{"actions": wire}, oneYocto)
	if err != nil {
		return swap.TxHandle{}, fmt.Errorf("router: swap: %w", err)
	}
	return swap.TxHandle{Hash: handle.Hash.Hex()}, nil
}

// AwaitFinal polls the transaction referenced by handle to finality,
// satisfying pkg/swap.Submitter.
func (g *Gateway) AwaitFinal(ctx context.Context, handle swap.TxHandle) (swap.Outcome, error) {
	outcome, err := g.client.AwaitTxFinal(ctx, chainclient.TxHandle{Hash: common.HexToHash(handle.Hash)})
	if err != nil {
		return swap.Outcome{}, err
	}
	return swap.Outcome{Success: outcome.Success, Status: outcome.Status}, nil
}

// poolJSON is the router's get_pools wire shape for one pool entry.
type poolJSON struct {
	PoolKind      string   `json:"pool_kind"`
	TokenAccounts []string `json:"token_account_ids"`
	Amounts       []string `json:"amounts"`
	TotalFee      int64    `json:"total_fee"`
	Shares        string   `json:"shares_total_supply"`
	Amp           int64    `json:"amp"`
}

const poolsPageSize = 100

// ListPools reads every pool the router knows about by paginating
// get_pools(from_index, limit); cmd/bot wraps it as a pkg/portfolio.PoolSource
// and cmd/tokens calls it directly. spec.md §6 documents no bulk
// pool-listing method on the router's view surface other than the optional
// per-pool get_return; get_pools is the DEX router's conventional paging
// view method for enumerating every pool, used here the same way
// get_deposits/storage_balance_of above are used for other bulk reads.
func (g *Gateway) ListPools(ctx context.Context) ([]*pool.PoolInfo, error) {
	now := time.Now()
	var out []*pool.PoolInfo
	for from := int64(0); ; from += poolsPageSize {
		raw, err := g.client.ViewContract(ctx, g.router, "get_pools", map[string]int64{
			"from_index": from,
			"limit":      poolsPageSize,
		})
		if err != nil {
			return nil, fmt.Errorf("router: get_pools: %w", err)
		}
		var page []poolJSON
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("router: parse get_pools: %w", err)
		}
		if len(page) == 0 {
			break
		}
		for i, p := range page {
			info, err := toPoolInfo(from+int64(i), p, now)
			if err != nil {
				continue // spec.md §7 InvalidPoolSize: fatal for that pool only, skipped
			}
			out = append(out, info)
		}
		if len(page) < poolsPageSize {
			break
		}
	}
	return out, nil
}

func toPoolInfo(id int64, p poolJSON, observedAt time.Time) (*pool.PoolInfo, error) {
	tokens := make([]tokenaccount.Account, len(p.TokenAccounts))
	for i, s := range p.TokenAccounts {
		tok, err := tokenaccount.Parse(s)
		if err != nil {
			return nil, err
		}
		tokens[i] = tok
	}
	reserves := make([]*big.Int, len(p.Amounts))
	for i, s := range p.Amounts {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			v = big.NewInt(0)
		}
		reserves[i] = v
	}
	kind := pool.KindSimple
	if p.PoolKind == "STABLE_SWAP" {
		kind = pool.KindStable
	}
	shares, _ := new(big.Int).SetString(p.Shares, 10)
	info := &pool.PoolInfo{
		ID:         id,
		Kind:       kind,
		Tokens:     tokens,
		Reserves:   reserves,
		FeeBps:     p.TotalFee,
		TotalShare: shares,
		Amp:        p.Amp,
		ObservedAt: observedAt,
	}
	if err := info.Validate(); err != nil {
		return nil, err
	}
	return info, nil
}

func tokenStrings(tokens []tokenaccount.Account) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.String()
	}
	return out
}

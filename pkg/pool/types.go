// Package pool implements the in-memory token graph derived from pool reserves:
// snapshot types, per-pair AMM return estimation, and shortest-weight path search,
// per spec.md §3-4.4. The AMM math mirrors the teacher's tick/sqrt-price math in
// internal/util (ComputeAmounts, TickToSqrtPriceX96) in spirit — integer-only,
// truncating toward zero — generalized from concentrated-liquidity ticks to
// constant-product and StableSwap reserves.
package pool

import (
	"math/big"
	"time"

	"github.com/ref-trader/reftrader/internal/boterr"
	"github.com/ref-trader/reftrader/pkg/tokenaccount"
)

// Kind tags a pool's AMM invariant.
type Kind int

const (
	// KindSimple is a constant-product (x*y=k) two-token pool.
	KindSimple Kind = iota
	// KindStable is a StableSwap-invariant n-token pool with an amp parameter.
	KindStable
)

// PoolInfo is one pool snapshot, uniquely identified by a small integer pool id.
type PoolInfo struct {
	ID         int64
	Kind       Kind
	Tokens     []tokenaccount.Account
	Reserves   []*big.Int
	FeeBps     int64 // total fee in basis points per ten-thousand
	TotalShare *big.Int
	Amp        int64 // stable-pool amp parameter; unused for KindSimple
	ObservedAt time.Time
}

// Validate enforces reserves.len() == tokens.len() >= 2.
func (p *PoolInfo) Validate() error {
	if len(p.Tokens) < 2 || len(p.Reserves) != len(p.Tokens) {
		return &boterr.InvalidPoolSize{PoolID: p.ID, N: len(p.Tokens)}
	}
	return nil
}

// IndexOf returns the position of tok among p.Tokens, or -1.
func (p *PoolInfo) IndexOf(tok tokenaccount.Account) int {
	for i, t := range p.Tokens {
		if t == tok {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy safe to mutate independently of p.
func (p *PoolInfo) Clone() *PoolInfo {
	cp := &PoolInfo{
		ID:         p.ID,
		Kind:       p.Kind,
		FeeBps:     p.FeeBps,
		Amp:        p.Amp,
		ObservedAt: p.ObservedAt,
	}
	cp.Tokens = append(cp.Tokens, p.Tokens...)
	for _, r := range p.Reserves {
		cp.Reserves = append(cp.Reserves, new(big.Int).Set(r))
	}
	if p.TotalShare != nil {
		cp.TotalShare = new(big.Int).Set(p.TotalShare)
	}
	return cp
}

// InfoList is an ordered collection of the latest snapshot per pool id.
type InfoList struct {
	byID []*PoolInfo
}

// NewInfoList builds an InfoList from snapshots, keeping the latest per pool id.
func NewInfoList(snapshots []*PoolInfo) *InfoList {
	latest := make(map[int64]*PoolInfo, len(snapshots))
	for _, s := range snapshots {
		cur, ok := latest[s.ID]
		if !ok || s.ObservedAt.After(cur.ObservedAt) {
			latest[s.ID] = s
		}
	}
	l := &InfoList{}
	for _, p := range latest {
		l.byID = append(l.byID, p)
	}
	return l
}

// All returns every pool snapshot held by the list.
func (l *InfoList) All() []*PoolInfo { return l.byID }

// Get returns the snapshot for id, or nil.
func (l *InfoList) Get(id int64) *PoolInfo {
	for _, p := range l.byID {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// Pair is a directional view of one edge within a pool: which index is "in",
// which is "out", with cached reserves at snapshot time.
type Pair struct {
	Pool       *PoolInfo
	InIndex    int
	OutIndex   int
	ReserveIn  *big.Int
	ReserveOut *big.Int
}

// NewPair builds a directional Pair for (tokenIn, tokenOut) within p, or nil if
// either token is absent from p.
func NewPair(p *PoolInfo, tokenIn, tokenOut tokenaccount.Account) *Pair {
	i := p.IndexOf(tokenIn)
	o := p.IndexOf(tokenOut)
	if i < 0 || o < 0 || i == o {
		return nil
	}
	return &Pair{Pool: p, InIndex: i, OutIndex: o, ReserveIn: p.Reserves[i], ReserveOut: p.Reserves[o]}
}

// EstimateReturn computes the output amount for amountIn, using constant-product
// math for KindSimple pools and the StableSwap invariant for KindStable pools.
// estimate_return(0) == 0 and the result is weakly increasing in amountIn.
func (pr *Pair) EstimateReturn(amountIn *big.Int) *big.Int {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return big.NewInt(0)
	}
	switch pr.Pool.Kind {
	case KindStable:
		return stableSwapReturn(pr.Pool, pr.InIndex, pr.OutIndex, amountIn)
	default:
		return constantProductReturn(pr.ReserveIn, pr.ReserveOut, amountIn, pr.Pool.FeeBps)
	}
}

// Path is an ordered sequence of Pair representing a multi-hop route.
type Path struct {
	Hops []*Pair
}

// Start returns the input token of the first hop.
func (p *Path) Start() tokenaccount.Account {
	if len(p.Hops) == 0 {
		return tokenaccount.Account{}
	}
	h := p.Hops[0]
	return h.Pool.Tokens[h.InIndex]
}

// Goal returns the output token of the last hop.
func (p *Path) Goal() tokenaccount.Account {
	if len(p.Hops) == 0 {
		return tokenaccount.Account{}
	}
	h := p.Hops[len(p.Hops)-1]
	return h.Pool.Tokens[h.OutIndex]
}

// ComposeReturn walks the path hop by hop, threading the previous hop's output
// as the next hop's input. Not linear in amountIn: per-hop curvature means a
// larger amountIn reduces each hop's marginal price.
func (p *Path) ComposeReturn(amountIn *big.Int) *big.Int {
	cur := new(big.Int).Set(amountIn)
	for _, hop := range p.Hops {
		cur = hop.EstimateReturn(cur)
	}
	return cur
}

// Depth returns the hop count.
func (p *Path) Depth() int { return len(p.Hops) }

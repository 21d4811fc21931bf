// Package preview implements the input-size optimizer from spec.md §4.5: a
// ternary search over candidate input amounts that maximizes gas-adjusted
// gain across every reachable goal token.
package preview

import (
	"math/big"
	"sort"

	"github.com/ref-trader/reftrader/pkg/pool"
	"github.com/ref-trader/reftrader/pkg/tokenaccount"
)

// GasPrice is the per-unit gas cost in the quote token (spec.md §3).
type GasPrice struct {
	HeadGas   *big.Int
	ByStepGas *big.Int
	PriceYoc  *big.Int // yocto per gas unit
}

// Cost returns the yocto gas cost for a path of the given hop depth.
func (g GasPrice) Cost(depth int) *big.Int {
	gas := new(big.Int).Mul(g.ByStepGas, big.NewInt(int64(depth)))
	gas.Add(gas, g.HeadGas)
	return new(big.Int).Mul(gas, g.PriceYoc)
}

// Preview is the evaluation of one candidate goal at one input size.
type Preview struct {
	Goal   tokenaccount.Account
	Path   *pool.Path
	Input  *big.Int
	Output *big.Int
	Depth  int
	Gain   *big.Int // max(0, output - input - cost(depth))
}

func newPreview(goal tokenaccount.Account, path *pool.Path, input *big.Int, gas GasPrice) *Preview {
	output := path.ComposeReturn(input)
	cost := gas.Cost(path.Depth())

	gain := new(big.Int).Sub(output, input)
	gain.Sub(gain, cost)
	if gain.Sign() < 0 {
		gain = big.NewInt(0)
	}
	return &Preview{Goal: goal, Path: path, Input: input, Output: output, Depth: path.Depth(), Gain: gain}
}

// List is a bounded collection of Previews sharing one input size.
type List struct {
	Previews  []*Preview
	TotalGain *big.Int
}

// topK caps the number of goals considered at one input size, per spec.md
// §4.5's K = floor(total_amount/x), capped.
const maxTopK = 20

func topK(totalAmount, x *big.Int) int {
	if x == nil || x.Sign() <= 0 {
		return maxTopK
	}
	k := new(big.Int).Quo(totalAmount, x)
	if !k.IsInt64() || k.Int64() > maxTopK {
		return maxTopK
	}
	if k.Int64() < 1 {
		return 1
	}
	return int(k.Int64())
}

// ListAt ranks every reachable goal at input size x, keeping the top-K
// surviving positive-gain previews, and aggregates total_gain.
func ListAt(g *pool.Graph, start tokenaccount.Account, goals []tokenaccount.Account, totalAmount, x *big.Int, gas GasPrice) *List {
	paths := g.ListReturns(x, start, goals)

	previews := make([]*Preview, 0, len(paths))
	for goal, path := range paths {
		pv := newPreview(goal, path, x, gas)
		if pv.Gain.Sign() > 0 {
			previews = append(previews, pv)
		}
	}

	sort.Slice(previews, func(i, j int) bool { return previews[i].Gain.Cmp(previews[j].Gain) > 0 })
	k := topK(totalAmount, x)
	if len(previews) > k {
		previews = previews[:k]
	}

	total := big.NewInt(0)
	for _, pv := range previews {
		total.Add(total, pv.Gain)
	}
	return &List{Previews: previews, TotalGain: total}
}

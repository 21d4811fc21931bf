package pool

import "math/big"

const feeDenominator = 10000

// constantProductReturn implements spec.md §4.4's constant-product formula:
//
//	amount_in_less_fee = amount_in * (10000 - fee)
//	amount_out = (amount_in_less_fee * R_out) / (R_in * 10000 + amount_in_less_fee)
//
// All arithmetic is integer, truncating toward zero via big.Int.Div (which
// truncates toward zero for non-negative operands, the case here).
func constantProductReturn(reserveIn, reserveOut, amountIn *big.Int, feeBps int64) *big.Int {
	if reserveIn == nil || reserveOut == nil || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return big.NewInt(0)
	}
	amountInLessFee := new(big.Int).Mul(amountIn, big.NewInt(feeDenominator-feeBps))

	numerator := new(big.Int).Mul(amountInLessFee, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, big.NewInt(feeDenominator))
	denominator.Add(denominator, amountInLessFee)
	if denominator.Sign() == 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Quo(numerator, denominator)
}

// stableSwapReturn implements the StableSwap invariant for n-token pools with
// amplification coefficient amp. D is the invariant computed from all current
// balances; given amp, D, and the post-trade balance of every token except
// outIndex, y solves the invariant for the out-token's new balance. The trade
// output is balance[outIndex] - y, minus the pool fee.
//
// This follows the standard Curve-style StableSwap formulation: Newton's method
// on both D and y, integer-only, a fixed number of iterations (which converges
// well within float64 precision for realistic pool sizes).
func stableSwapReturn(p *PoolInfo, inIndex, outIndex int, amountIn *big.Int) *big.Int {
	n := len(p.Reserves)
	if n < 2 || inIndex == outIndex || inIndex >= n || outIndex >= n {
		return big.NewInt(0)
	}
	amp := big.NewInt(p.Amp)
	if amp.Sign() <= 0 {
		amp = big.NewInt(1)
	}

	balances := make([]*big.Int, n)
	for i, r := range p.Reserves {
		balances[i] = new(big.Int).Set(r)
	}

	d := stableD(balances, amp)

	newIn := new(big.Int).Add(balances[inIndex], amountIn)
	y := stableY(balances, amp, d, inIndex, outIndex, newIn)

	out := new(big.Int).Sub(balances[outIndex], y)
	if out.Sign() <= 0 {
		return big.NewInt(0)
	}
	// Apply the pool fee on the output leg, same fee-bps convention as constant product.
	out.Mul(out, big.NewInt(feeDenominator-p.FeeBps))
	out.Quo(out, big.NewInt(feeDenominator))
	if out.Sign() < 0 {
		return big.NewInt(0)
	}
	return out
}

// stableD computes the StableSwap invariant D via Newton's method.
func stableD(balances []*big.Int, amp *big.Int) *big.Int {
	n := int64(len(balances))
	nBig := big.NewInt(n)

	sum := big.NewInt(0)
	for _, b := range balances {
		sum.Add(sum, b)
	}
	if sum.Sign() == 0 {
		return big.NewInt(0)
	}

	d := new(big.Int).Set(sum)
	ann := new(big.Int).Mul(amp, nBig)

	for i := 0; i < 255; i++ {
		dP := new(big.Int).Set(d)
		for _, b := range balances {
			denom := new(big.Int).Mul(b, nBig)
			if denom.Sign() == 0 {
				return big.NewInt(0)
			}
			dP.Mul(dP, d)
			dP.Quo(dP, denom)
		}
		prevD := new(big.Int).Set(d)

		// d = (ann*sum + dP*n) * d / ((ann-1)*d + (n+1)*dP)
		num := new(big.Int).Mul(ann, sum)
		num.Add(num, new(big.Int).Mul(dP, nBig))
		num.Mul(num, d)

		den := new(big.Int).Sub(ann, big.NewInt(1))
		den.Mul(den, d)
		den.Add(den, new(big.Int).Mul(big.NewInt(n+1), dP))
		if den.Sign() == 0 {
			break
		}
		d = new(big.Int).Quo(num, den)

		diff := new(big.Int).Sub(d, prevD)
		if diff.Abs(diff).Cmp(big.NewInt(1)) <= 0 {
			break
		}
	}
	return d
}

// stableY solves the invariant for the new balance of outIndex given every
// other balance (with inIndex already updated to newIn) and D, via Newton's method.
func stableY(balances []*big.Int, amp, d *big.Int, inIndex, outIndex int, newIn *big.Int) *big.Int {
	n := int64(len(balances))
	nBig := big.NewInt(n)
	ann := new(big.Int).Mul(amp, nBig)

	c := new(big.Int).Set(d)
	s := big.NewInt(0)
	for i, b := range balances {
		var bal *big.Int
		switch i {
		case inIndex:
			bal = newIn
		case outIndex:
			continue
		default:
			bal = b
		}
		s.Add(s, bal)
		c.Mul(c, d)
		c.Quo(c, new(big.Int).Mul(bal, nBig))
	}
	c.Mul(c, d)
	c.Quo(c, new(big.Int).Mul(ann, nBig))

	bTerm := new(big.Int).Add(s, new(big.Int).Quo(d, ann))

	y := new(big.Int).Set(d)
	for i := 0; i < 255; i++ {
		prevY := new(big.Int).Set(y)
		// y = (y*y + c) / (2*y + b - d)
		num := new(big.Int).Mul(y, y)
		num.Add(num, c)
		den := new(big.Int).Mul(big.NewInt(2), y)
		den.Add(den, bTerm)
		den.Sub(den, d)
		if den.Sign() == 0 {
			break
		}
		y = new(big.Int).Quo(num, den)
		diff := new(big.Int).Sub(y, prevY)
		if diff.Abs(diff).Cmp(big.NewInt(1)) <= 0 {
			break
		}
	}
	return y
}

// Package amount implements the bot's bignum scalar wrappers: quantities of a
// specific token, values denominated in the quote (native) token, and token prices.
// All wrappers are integers in the chain's smallest unit unless noted otherwise;
// every conversion to floating point is explicit and labelled with its loss of
// precision, per spec.md §3.
package amount

import (
	"math/big"
)

// YoctoPerWhole is the number of smallest units per whole unit on the host chain (10^24).
var YoctoPerWhole = new(big.Int).Exp(big.NewInt(10), big.NewInt(24), nil)

// TokenAmount is a quantity of a specific token, in that token's own smallest unit.
// Two TokenAmount values are only safely comparable/addable when they denote the
// same token; callers are responsible for that invariant (the type itself carries
// no token identity, matching the teacher's big.Int-denominated gas/amount fields).
type TokenAmount struct {
	v *big.Int
}

// NewTokenAmount wraps v. A nil v is treated as zero.
func NewTokenAmount(v *big.Int) TokenAmount {
	if v == nil {
		return TokenAmount{v: big.NewInt(0)}
	}
	return TokenAmount{v: new(big.Int).Set(v)}
}

// TokenAmountFromInt64 wraps a small literal amount, mainly for tests and constants.
func TokenAmountFromInt64(v int64) TokenAmount { return NewTokenAmount(big.NewInt(v)) }

// Int returns a defensive copy of the underlying integer.
func (a TokenAmount) Int() *big.Int { return new(big.Int).Set(a.v) }

// IsZero reports whether the amount is exactly zero.
func (a TokenAmount) IsZero() bool { return a.v.Sign() == 0 }

// Sign returns -1, 0, or 1.
func (a TokenAmount) Sign() int { return a.v.Sign() }

// Add returns a+b.
func (a TokenAmount) Add(b TokenAmount) TokenAmount { return NewTokenAmount(new(big.Int).Add(a.v, b.v)) }

// Sub returns a-b, clamped to zero rather than going negative (mirrors the harvest
// reserve underflow guard in spec.md §9).
func (a TokenAmount) Sub(b TokenAmount) TokenAmount {
	d := new(big.Int).Sub(a.v, b.v)
	if d.Sign() < 0 {
		d.SetInt64(0)
	}
	return NewTokenAmount(d)
}

// Cmp compares a to b.
func (a TokenAmount) Cmp(b TokenAmount) int { return a.v.Cmp(b.v) }

// Mul multiplies a TokenAmount by a TokenPrice (quote-whole-units per token-whole-unit),
// yielding a YoctoValue (smallest quote-token units), not a whole-unit NearValue;
// ToNear converts the result. decimals is the token's own
// decimal count, used to convert the token amount to whole units before pricing.
func (a TokenAmount) Mul(p TokenPrice, decimals int) YoctoValue {
	if p.r.Sign() == 0 || a.v.Sign() == 0 {
		return YoctoValue{v: big.NewInt(0)}
	}
	// whole_units(a) = a.v / 10^decimals, value_whole = whole_units(a) * p
	num := new(big.Int).Mul(a.v, p.r.Num())
	denom := new(big.Int).Mul(pow10(decimals), p.r.Denom())
	whole := new(big.Rat).SetFrac(num, denom)
	yocto := new(big.Rat).Mul(whole, new(big.Rat).SetInt(YoctoPerWhole))
	q := new(big.Int).Quo(yocto.Num(), yocto.Denom())
	return YoctoValue{v: q}
}

// String renders the raw integer amount.
func (a TokenAmount) String() string { return a.v.String() }

// YoctoValue is a value denominated in the quote token, in its smallest unit.
type YoctoValue struct {
	v *big.Int
}

// NewYoctoValue wraps v. A nil v is treated as zero.
func NewYoctoValue(v *big.Int) YoctoValue {
	if v == nil {
		return YoctoValue{v: big.NewInt(0)}
	}
	return YoctoValue{v: new(big.Int).Set(v)}
}

// ZeroYocto is the additive identity.
func ZeroYocto() YoctoValue { return YoctoValue{v: big.NewInt(0)} }

// Int returns a defensive copy of the underlying integer.
func (y YoctoValue) Int() *big.Int { return new(big.Int).Set(y.v) }

// IsZero reports whether the value is exactly zero.
func (y YoctoValue) IsZero() bool { return y.v.Sign() == 0 }

// Sign returns -1, 0, or 1.
func (y YoctoValue) Sign() int { return y.v.Sign() }

// Add returns y+o.
func (y YoctoValue) Add(o YoctoValue) YoctoValue { return NewYoctoValue(new(big.Int).Add(y.v, o.v)) }

// Sub returns y-o, clamped to zero rather than going negative.
func (y YoctoValue) Sub(o YoctoValue) YoctoValue {
	d := new(big.Int).Sub(y.v, o.v)
	if d.Sign() < 0 {
		d.SetInt64(0)
	}
	return NewYoctoValue(d)
}

// Cmp compares y to o.
func (y YoctoValue) Cmp(o YoctoValue) int { return y.v.Cmp(o.v) }

// Max returns the larger of y and o.
func (y YoctoValue) Max(o YoctoValue) YoctoValue {
	if y.Cmp(o) >= 0 {
		return y
	}
	return o
}

// Div divides a YoctoValue by a TokenPrice, yielding a TokenAmount in the token's
// own smallest unit. Division by a zero price yields zero, not a fault, per spec.md §3.
func (y YoctoValue) Div(p TokenPrice, decimals int) TokenAmount {
	if p.r.Sign() == 0 {
		return TokenAmount{v: big.NewInt(0)}
	}
	whole := new(big.Rat).SetFrac(y.v, YoctoPerWhole)
	tokenWhole := new(big.Rat).Quo(whole, p.r)
	tokenSmallest := new(big.Rat).Mul(tokenWhole, new(big.Rat).SetInt(pow10(decimals)))
	q := new(big.Int).Quo(tokenSmallest.Num(), tokenSmallest.Denom())
	return TokenAmount{v: q}
}

// ToNear converts to whole-unit NearValue. Exact: the result is a big.Rat, with no float64 step.
func (y YoctoValue) ToNear() NearValue {
	f := new(big.Rat).SetFrac(y.v, YoctoPerWhole)
	return NearValue{r: f}
}

// Float64Lossy converts to a float64 approximation of the yocto quantity. Labelled
// lossy: big.Int → float64 truncates precision beyond float64's 53-bit mantissa.
func (y YoctoValue) Float64Lossy() float64 {
	f := new(big.Float).SetInt(y.v)
	v, _ := f.Float64()
	return v
}

// String renders the raw integer amount.
func (y YoctoValue) String() string { return y.v.String() }

// NearValue is a value denominated in the quote (native) token, in whole units.
type NearValue struct {
	r *big.Rat
}

// NewNearValueFromFloat64Lossy builds a NearValue from a float64. Explicit, labelled
// lossy conversion: float64 cannot represent all rationals exactly.
func NewNearValueFromFloat64Lossy(f float64) NearValue {
	r := new(big.Rat).SetFloat64(f)
	if r == nil {
		r = new(big.Rat)
	}
	return NearValue{r: r}
}

// ToYocto converts back to the smallest-unit representation, truncating toward zero.
func (n NearValue) ToYocto() YoctoValue {
	scaled := new(big.Rat).Mul(n.r, new(big.Rat).SetInt(YoctoPerWhole))
	q := new(big.Int).Quo(scaled.Num(), scaled.Denom())
	return YoctoValue{v: q}
}

// Float64Lossy converts to float64. Explicit, labelled lossy conversion.
func (n NearValue) Float64Lossy() float64 {
	f, _ := n.r.Float64()
	return f
}

// String renders the rational value with reasonable precision.
func (n NearValue) String() string { return n.r.FloatString(12) }

// TokenPrice is a ratio of quote-whole-units per token-whole-unit, held at
// arbitrary precision via big.Rat.
type TokenPrice struct {
	r *big.Rat
}

// ZeroPrice is the zero price; any Mul/Div against it degrades to zero rather than faulting.
func ZeroPrice() TokenPrice { return TokenPrice{r: new(big.Rat)} }

// NewTokenPriceFromRat wraps an arbitrary-precision ratio directly.
func NewTokenPriceFromRat(num, denom *big.Int) TokenPrice {
	if denom == nil || denom.Sign() == 0 {
		return ZeroPrice()
	}
	return TokenPrice{r: new(big.Rat).SetFrac(num, denom)}
}

// NewTokenPriceFromFloat64Lossy builds a TokenPrice from a float64. Explicit, labelled
// lossy conversion: the source float64 may not represent the underlying rational exactly.
func NewTokenPriceFromFloat64Lossy(f float64) TokenPrice {
	r := new(big.Rat).SetFloat64(f)
	if r == nil {
		return ZeroPrice()
	}
	return TokenPrice{r: r}
}

// IsZero reports whether the price is exactly zero.
func (p TokenPrice) IsZero() bool { return p.r.Sign() == 0 }

// Float64Lossy converts to float64. Explicit, labelled lossy conversion.
func (p TokenPrice) Float64Lossy() float64 {
	f, _ := p.r.Float64()
	return f
}

// String renders the rational price with reasonable precision.
func (p TokenPrice) String() string { return p.r.FloatString(18) }

func pow10(n int) *big.Int {
	if n <= 0 {
		return big.NewInt(1)
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// Package tokenaccount implements the interned, validated account identifier used
// throughout the bot to name tokens and the signer's own account.
package tokenaccount

import (
	"fmt"
	"regexp"
)

// validPattern matches the host chain's account-id rules: lowercase ascii letters,
// digits, and the separators '.', '-', '_', each separator bounded by alphanumerics,
// 2-64 characters total.
var validPattern = regexp.MustCompile(`^(?:[a-z0-9]+[-_])*[a-z0-9]+(?:\.(?:[a-z0-9]+[-_])*[a-z0-9]+)*$`)

// Account is an opaque, interned, validated account identifier.
type Account struct {
	raw string
}

// Parse validates s against the chain's account-name rules and returns an Account.
func Parse(s string) (Account, error) {
	if len(s) < 2 || len(s) > 64 {
		return Account{}, fmt.Errorf("tokenaccount: %q must be 2-64 chars", s)
	}
	if !validPattern.MatchString(s) {
		return Account{}, fmt.Errorf("tokenaccount: %q is not a valid account id", s)
	}
	return Account{raw: s}, nil
}

// MustParse panics on invalid input; reserved for constants known at compile time.
func MustParse(s string) Account {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String returns the underlying account id.
func (a Account) String() string { return a.raw }

// IsZero reports whether a is the zero value (never a valid parsed account).
func (a Account) IsZero() bool { return a.raw == "" }

// In reinterprets a as the input side of a directional pair. Free, just a type tag.
func (a Account) In() In { return In(a) }

// Out reinterprets a as the output side of a directional pair. Free, just a type tag.
func (a Account) Out() Out { return Out(a) }

// In is a phantom-typed view of Account marking it as the input side of a swap pair.
type In Account

// Account converts back to the untyped Account.
func (i In) Account() Account { return Account(i) }

// String returns the underlying account id.
func (i In) String() string { return Account(i).raw }

// Out is a phantom-typed view of Account marking it as the output side of a swap pair.
type Out Account

// Account converts back to the untyped Account.
func (o Out) Account() Account { return Account(o) }

// String returns the underlying account id.
func (o Out) String() string { return Account(o).raw }

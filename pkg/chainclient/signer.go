package chainclient

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"

	"github.com/ref-trader/reftrader/pkg/tokenaccount"
)

// Signer holds the wallet's Ed25519 keypair and account id. The host chain's
// transaction signature scheme is Ed25519, not ECDSA/secp256k1 — the
// teacher's go-ethereum ECDSA signing path does not transfer (SPEC_FULL.md
// DOMAIN STACK); stdlib crypto/ed25519 replaces it directly.
type Signer struct {
	AccountID tokenaccount.Account
	public    ed25519.PublicKey
	private   ed25519.PrivateKey
}

// NewSigner builds a Signer from a base64-encoded 64-byte Ed25519 private key
// (the conventional "ed25519:<base64>" host-chain key file format, minus the
// prefix, which callers strip before calling this).
func NewSigner(accountID tokenaccount.Account, privateKeyB64 string) (*Signer, error) {
	raw, err := base64.StdEncoding.DecodeString(privateKeyB64)
	if err != nil {
		return nil, fmt.Errorf("chainclient: decode private key: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("chainclient: private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}
	priv := ed25519.PrivateKey(raw)
	pub := priv.Public().(ed25519.PublicKey)
	return &Signer{AccountID: accountID, public: pub, private: priv}, nil
}

// Sign returns the Ed25519 signature over msg.
func (s *Signer) Sign(msg []byte) []byte {
	return ed25519.Sign(s.private, msg)
}

// PublicKey returns the raw 32-byte Ed25519 public key.
func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.public
}

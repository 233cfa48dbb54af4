// Package solana provides a key-backed Solana wallet that signs raw
// messages with ed25519, and the matching signature verifier.
package solana

import (
	"context"
	"fmt"
	"strings"

	sol "github.com/gagliardetto/solana-go"

	vl "github.com/aptsend/vaultlink"
	"github.com/aptsend/vaultlink/wallet"
)

// KeyWallet signs with a local ed25519 keypair. It starts disconnected.
type KeyWallet struct {
	wallet.Session
	key sol.PrivateKey
}

var (
	_ vl.Wallet             = (*KeyWallet)(nil)
	_ vl.ConnectionNotifier = (*KeyWallet)(nil)
)

// NewKeyWallet parses a base58 encoded 64 byte keypair, the format the
// Solana CLI and browser wallets export
func NewKeyWallet(base58Key string) (*KeyWallet, error) {
	key, err := sol.PrivateKeyFromBase58(strings.TrimSpace(base58Key))
	if err != nil {
		return nil, fmt.Errorf("invalid Solana private key: %w", err)
	}
	if len(key) != 64 {
		return nil, fmt.Errorf("invalid Solana private key: want 64 bytes, got %d", len(key))
	}
	return &KeyWallet{key: key}, nil
}

// NewRandomKeyWallet generates a fresh keypair
func NewRandomKeyWallet() (*KeyWallet, error) {
	key, err := sol.NewRandomPrivateKey()
	if err != nil {
		return nil, err
	}
	return &KeyWallet{key: key}, nil
}

// Address returns the base58 public key
func (w *KeyWallet) Address() string { return w.key.PublicKey().String() }

// SignMessage signs message and returns the base58 signature
func (w *KeyWallet) SignMessage(ctx context.Context, message []byte) (string, error) {
	if err := w.Approve(ctx, message); err != nil {
		return "", err
	}
	sig, err := w.key.Sign(message)
	if err != nil {
		return "", err
	}
	return sig.String(), nil
}

// Verifier checks base58 ed25519 signatures against a base58 public key
type Verifier struct{}

var _ vl.SignatureVerifier = Verifier{}

func (Verifier) Verify(address string, message []byte, signature string) (bool, error) {
	pub, err := sol.PublicKeyFromBase58(address)
	if err != nil {
		return false, fmt.Errorf("invalid Solana address %q: %w", address, err)
	}
	sig, err := sol.SignatureFromBase58(signature)
	if err != nil {
		return false, fmt.Errorf("failed to decode signature: %w", err)
	}
	return pub.Verify(message, sig), nil
}

// Package evm provides a key-backed EVM wallet that signs personal_sign
// (EIP-191) messages, and the matching signature verifier.
package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	vl "github.com/aptsend/vaultlink"
	"github.com/aptsend/vaultlink/wallet"
)

// KeyWallet signs with a local secp256k1 key. It starts disconnected.
type KeyWallet struct {
	wallet.Session
	key     *ecdsa.PrivateKey
	address common.Address
	chainID int64
}

var (
	_ vl.ChainWallet        = (*KeyWallet)(nil)
	_ vl.ConnectionNotifier = (*KeyWallet)(nil)
)

// NewKeyWallet parses a hex private key (with or without 0x)
func NewKeyWallet(hexKey string, chainID int64) (*KeyWallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid EVM private key: %w", err)
	}
	return NewKeyWalletFromKey(key, chainID), nil
}

func NewKeyWalletFromKey(key *ecdsa.PrivateKey, chainID int64) *KeyWallet {
	return &KeyWallet{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
	}
}

// Address returns the checksummed address
func (w *KeyWallet) Address() string { return w.address.Hex() }

func (w *KeyWallet) ChainID() int64 { return w.chainID }

// SignMessage signs the EIP-191 hash of message and returns the 65 byte
// signature as 0x-hex, with v in {27, 28}
func (w *KeyWallet) SignMessage(ctx context.Context, message []byte) (string, error) {
	if err := w.Approve(ctx, message); err != nil {
		return "", err
	}
	sig, err := crypto.Sign(accounts.TextHash(message), w.key)
	if err != nil {
		return "", err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// Verifier checks personal_sign signatures by recovering the signer
type Verifier struct{}

var _ vl.SignatureVerifier = Verifier{}

func (Verifier) Verify(address string, message []byte, signature string) (bool, error) {
	if !common.IsHexAddress(address) {
		return false, fmt.Errorf("invalid EVM address %q", address)
	}
	recovered, err := RecoverAddress(message, signature)
	if err != nil {
		return false, err
	}
	return recovered == common.HexToAddress(address), nil
}

// RecoverAddress returns the address that produced a personal_sign signature
func RecoverAddress(message []byte, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to decode signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	if sig[crypto.RecoveryIDOffset] > 1 {
		return common.Address{}, errors.New("invalid signature recovery id")
	}
	pub, err := crypto.SigToPub(accounts.TextHash(message), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

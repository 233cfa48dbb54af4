package client

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
	"golang.org/x/crypto/sha3"
)

var (
	ErrNoKey         = errors.New("credential has no sealed key")
	ErrBadPassphrase = errors.New("wrong passphrase or corrupted keystore")
)

// scrypt parameters for new keystores
const (
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// Keystore is an ed25519 seed sealed with a passphrase derived key
// (scrypt + nacl/secretbox)
type Keystore struct {
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
	N          int    `json:"n"`
	R          int    `json:"r"`
	P          int    `json:"p"`
}

// SealKey encrypts the key's seed under passphrase
func SealKey(key ed25519.PrivateKey, passphrase []byte) (*Keystore, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid ed25519 key length %d", len(key))
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	secret, err := deriveKey(passphrase, salt, scryptN, scryptR, scryptP)
	if err != nil {
		return nil, err
	}
	sealed := secretbox.Seal(nil, key.Seed(), &nonce, secret)
	return &Keystore{
		Salt:       hex.EncodeToString(salt),
		Nonce:      hex.EncodeToString(nonce[:]),
		Ciphertext: hex.EncodeToString(sealed),
		N:          scryptN,
		R:          scryptR,
		P:          scryptP,
	}, nil
}

// Open decrypts the key with passphrase
func (k *Keystore) Open(passphrase []byte) (ed25519.PrivateKey, error) {
	salt, err := hex.DecodeString(k.Salt)
	if err != nil {
		return nil, fmt.Errorf("keystore salt: %w", err)
	}
	nonceBytes, err := hex.DecodeString(k.Nonce)
	if err != nil || len(nonceBytes) != 24 {
		return nil, fmt.Errorf("keystore nonce is malformed")
	}
	sealed, err := hex.DecodeString(k.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("keystore ciphertext: %w", err)
	}
	secret, err := deriveKey(passphrase, salt, k.N, k.R, k.P)
	if err != nil {
		return nil, err
	}
	var nonce [24]byte
	copy(nonce[:], nonceBytes)
	seed, ok := secretbox.Open(nil, sealed, &nonce, secret)
	if !ok || len(seed) != ed25519.SeedSize {
		return nil, ErrBadPassphrase
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

func deriveKey(passphrase, salt []byte, n, r, p int) (*[32]byte, error) {
	dk, err := scrypt.Key(passphrase, salt, n, r, p, 32)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	var out [32]byte
	copy(out[:], dk)
	return &out, nil
}

// AptosAddress derives the account address of a single-key ed25519 account:
// sha3-256(public key || 0x00)
func AptosAddress(pub ed25519.PublicKey) string {
	buf := make([]byte, 0, len(pub)+1)
	buf = append(buf, pub...)
	buf = append(buf, 0x00)
	sum := sha3.Sum256(buf)
	return encodeHex(sum[:])
}

// ParsePrivateKey accepts a 32 byte seed or a 64 byte key, hex encoded with
// or without 0x (the "ed25519-priv-" prefix of Aptos CLI exports is stripped)
func ParsePrivateKey(s string) (ed25519.PrivateKey, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "ed25519-priv-")
	b, err := decodeHex(s)
	if err != nil {
		return nil, fmt.Errorf("private key is not hex: %w", err)
	}
	switch len(b) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(b), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(b), nil
	}
	return nil, fmt.Errorf("private key must be 32 or 64 bytes, got %d", len(b))
}

func encodeHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"))
}

package client

import (
	"crypto/ed25519"
	"encoding/base64"
	"net/http"
	"time"

	vl "github.com/aptsend/vaultlink"
)

// OwnerSigner signs backend requests with the owner's ed25519 key
type OwnerSigner struct {
	key     ed25519.PrivateKey
	address string
	now     func() time.Time
}

// NewOwnerSigner wraps key. The owner address is derived from its public key.
func NewOwnerSigner(key ed25519.PrivateKey) *OwnerSigner {
	return &OwnerSigner{
		key:     key,
		address: AptosAddress(key.Public().(ed25519.PublicKey)),
		now:     time.Now,
	}
}

// Address is the owner's account address
func (s *OwnerSigner) Address() string { return s.address }

// PublicKey is the 0x-hex public key
func (s *OwnerSigner) PublicKey() string {
	return encodeHex(s.key.Public().(ed25519.PublicKey))
}

// SignAuth signs a fresh authentication message
func (s *OwnerSigner) SignAuth() (signature, message string) {
	message = vl.AuthMessage(s.address, s.now())
	return encodeHex(ed25519.Sign(s.key, []byte(message))), message
}

// VerifyAuth checks a signature produced by SignAuth
func VerifyAuth(publicKey, message, signature string) bool {
	pub, err := decodeHex(publicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := decodeHex(signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), []byte(message), sig)
}

// SignatureTransport wraps an http.RoundTripper to add the owner's
// X-Signature and X-Message headers to every request. The message spans
// several lines, which header values can't carry, so it is sent base64
// encoded and flagged with X-Message-Encoding.
type SignatureTransport struct {
	Base   http.RoundTripper
	Signer *OwnerSigner
}

// RoundTrip implements http.RoundTripper
func (t *SignatureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Signer != nil {
		// RoundTrippers must not modify the caller's request
		req2 := req.Clone(req.Context())
		sig, msg := t.Signer.SignAuth()
		req2.Header.Set("X-Signature", sig)
		req2.Header.Set("X-Message", base64.StdEncoding.EncodeToString([]byte(msg)))
		req2.Header.Set("X-Message-Encoding", "base64")
		req = req2
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// NewSignatureTransport creates a SignatureTransport over http.DefaultTransport
func NewSignatureTransport(signer *OwnerSigner) *SignatureTransport {
	return &SignatureTransport{Base: http.DefaultTransport, Signer: signer}
}

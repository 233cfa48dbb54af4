// Package client talks to the AptSend backend on behalf of an owner. It
// includes the REST client, request signing with the owner's key and
// storage of owner credentials.
package client

import (
	"crypto/ed25519"
	"time"
)

// OwnerCredential holds an owner's identity for a single backend
type OwnerCredential struct {
	OwnerAddress string    `json:"owner_address"`
	PublicKey    string    `json:"public_key,omitempty"` // 0x-hex ed25519 key
	Keystore     *Keystore `json:"keystore,omitempty"`   // sealed private key, absent for watch-only owners
	CreatedAt    time.Time `json:"created_at"`
}

// CanSign reports whether the credential carries a sealed key
func (c *OwnerCredential) CanSign() bool {
	return c.Keystore != nil
}

// Signer opens the sealed key with passphrase
func (c *OwnerCredential) Signer(passphrase []byte) (*OwnerSigner, error) {
	if c.Keystore == nil {
		return nil, ErrNoKey
	}
	key, err := c.Keystore.Open(passphrase)
	if err != nil {
		return nil, err
	}
	return NewOwnerSigner(key), nil
}

// NewOwnerCredential seals key with passphrase
func NewOwnerCredential(key ed25519.PrivateKey, passphrase []byte) (*OwnerCredential, error) {
	ks, err := SealKey(key, passphrase)
	if err != nil {
		return nil, err
	}
	pub := key.Public().(ed25519.PublicKey)
	return &OwnerCredential{
		OwnerAddress: AptosAddress(pub),
		PublicKey:    encodeHex(pub),
		Keystore:     ks,
		CreatedAt:    time.Now(),
	}, nil
}

// CredentialStore defines the interface for storing and retrieving credentials
type CredentialStore interface {
	// GetCredential retrieves a credential for a server URL
	// Returns nil, nil if no credential exists for the server
	GetCredential(serverURL string) (*OwnerCredential, error)

	// SetCredential stores a credential for a server URL
	SetCredential(serverURL string, cred *OwnerCredential) error

	// RemoveCredential removes a credential for a server URL
	RemoveCredential(serverURL string) error

	// ListServers returns all server URLs with stored credentials
	ListServers() ([]string, error)

	// Save persists any pending changes (for stores that batch writes)
	Save() error
}

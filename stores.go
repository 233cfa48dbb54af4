package vaultlink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"strings"
	"time"
)

// ChannelType identifies an external identity provider
type ChannelType string

const (
	ChannelTwitter  ChannelType = "twitter"
	ChannelTelegram ChannelType = "telegram"
	ChannelGoogle   ChannelType = "google"
	ChannelDiscord  ChannelType = "discord"
	ChannelEVM      ChannelType = "evm"
	ChannelSolana   ChannelType = "sol"
)

// AllChannels lists every channel in display order
var AllChannels = []ChannelType{
	ChannelTwitter,
	ChannelTelegram,
	ChannelGoogle,
	ChannelDiscord,
	ChannelEVM,
	ChannelSolana,
}

func (c ChannelType) String() string { return string(c) }

// Validate returns ErrUnknownChannel if c is not one of AllChannels
func (c ChannelType) Validate() error {
	for _, known := range AllChannels {
		if c == known {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownChannel, string(c))
}

// IsWallet reports whether the channel proves ownership with a wallet signature
func (c ChannelType) IsWallet() bool {
	return c == ChannelEVM || c == ChannelSolana
}

// ParseChannelType parses a channel name. "email" and "solana" are accepted
// as aliases of google and sol.
func ParseChannelType(s string) (ChannelType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "email":
		return ChannelGoogle, nil
	case "solana":
		return ChannelSolana, nil
	case "x":
		return ChannelTwitter, nil
	}
	ct := ChannelType(s)
	if err := ct.Validate(); err != nil {
		return "", err
	}
	return ct, nil
}

// ChannelStatus is the backend's view of a link
type ChannelStatus string

const (
	StatusPending ChannelStatus = "pending"
	StatusLinked  ChannelStatus = "linked"
	StatusFailed  ChannelStatus = "failed"
)

// IdentityID is the backend assigned identifier of a link. Some endpoints
// return it as a number, so it decodes from either a JSON string or number.
type IdentityID string

func (id *IdentityID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = IdentityID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("identity id must be a string or number: %w", err)
	}
	*id = IdentityID(n.String())
	return nil
}

// ChannelIdentity is one linked account on one channel
type ChannelIdentity struct {
	ID         IdentityID     `json:"id"`
	Identifier string         `json:"identifier"`
	Status     ChannelStatus  `json:"status"`
	Metadata   map[string]any `json:"metadata,omitempty"` // profile image, chain id, ens name...
}

// IdentitySnapshot is the canonical view of an owner's links, as returned by
// the backend in a single call
type IdentitySnapshot struct {
	Identities          map[ChannelType][]ChannelIdentity `json:"identities"`
	PrimaryVaultAddress string                            `json:"primary_vault_address"` // "" when no vault exists yet
}

// EmptySnapshot returns the fail-closed snapshot: no identities and no vault
func EmptySnapshot() IdentitySnapshot {
	return IdentitySnapshot{Identities: map[ChannelType][]ChannelIdentity{}}
}

func (s IdentitySnapshot) MarshalJSON() ([]byte, error) {
	out := struct {
		Identities          map[ChannelType][]ChannelIdentity `json:"identities"`
		PrimaryVaultAddress *string                           `json:"primary_vault_address"`
	}{Identities: s.Identities}
	if out.Identities == nil {
		out.Identities = map[ChannelType][]ChannelIdentity{}
	}
	if s.PrimaryVaultAddress != "" {
		out.PrimaryVaultAddress = &s.PrimaryVaultAddress
	}
	return json.Marshal(out)
}

// Accounts returns the identities linked on a channel
func (s IdentitySnapshot) Accounts(ch ChannelType) []ChannelIdentity {
	return s.Identities[ch]
}

// Has reports whether the snapshot contains the given identity id on a channel
func (s IdentitySnapshot) Has(ch ChannelType, id string) bool {
	for _, ident := range s.Identities[ch] {
		if string(ident.ID) == id {
			return true
		}
	}
	return false
}

// Clone returns a deep enough copy that callers can't mutate the manager's map
func (s IdentitySnapshot) Clone() IdentitySnapshot {
	out := IdentitySnapshot{
		Identities:          make(map[ChannelType][]ChannelIdentity, len(s.Identities)),
		PrimaryVaultAddress: s.PrimaryVaultAddress,
	}
	for ch, idents := range s.Identities {
		cp := make([]ChannelIdentity, len(idents))
		for i, ident := range idents {
			cp[i] = ident
			if ident.Metadata != nil {
				cp[i].Metadata = maps.Clone(ident.Metadata)
			}
		}
		out.Identities[ch] = cp
	}
	return out
}

// Equal compares two snapshots. Channels with no identities are treated as absent.
func (s IdentitySnapshot) Equal(other IdentitySnapshot) bool {
	if s.PrimaryVaultAddress != other.PrimaryVaultAddress {
		return false
	}
	nonEmpty := func(m map[ChannelType][]ChannelIdentity) map[ChannelType][]ChannelIdentity {
		out := map[ChannelType][]ChannelIdentity{}
		for k, v := range m {
			if len(v) > 0 {
				out[k] = v
			}
		}
		return out
	}
	return reflect.DeepEqual(nonEmpty(s.Identities), nonEmpty(other.Identities))
}

// PendingExchange holds what a driver needs to finish an OAuth round trip:
// the PKCE verifier and the state the backend issued
type PendingExchange struct {
	Channel      ChannelType `json:"channel"`
	Verifier     string      `json:"verifier,omitempty"`
	State        string      `json:"state,omitempty"`
	OwnerAddress string      `json:"owner_address"`
	CreatedAt    time.Time   `json:"created_at"`
	ExpiresAt    time.Time   `json:"expires_at"`
}

// IsExpired returns true once the exchange outlived its abandonment window
func (p *PendingExchange) IsExpired() bool {
	if p.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().After(p.ExpiresAt)
}

// PendingStore is a short lived key-value store of OAuth exchanges, one slot
// per channel. There is a single writer per key: a second put for the same
// channel overwrites the first.
type PendingStore interface {
	// PutPending stores the exchange under its channel
	PutPending(ctx context.Context, p *PendingExchange) error

	// GetPending returns ErrPendingNotFound if nothing (or only an expired
	// entry) is stored for the channel
	GetPending(ctx context.Context, ch ChannelType) (*PendingExchange, error)

	// DeletePending removes the slot. Deleting an empty slot is not an error.
	DeletePending(ctx context.Context, ch ChannelType) error
}

// VaultBalances are display-formatted balances of a vault
type VaultBalances struct {
	APT  string `json:"apt"`
	USDC string `json:"usdc,omitempty"`
	USDT string `json:"usdt,omitempty"`
}

// BalanceCache caches vault balances keyed by vault address
type BalanceCache interface {
	// GetBalances returns the cached balances and when they were stored.
	// ok is false when nothing is cached.
	GetBalances(ctx context.Context, address string) (balances *VaultBalances, storedAt time.Time, ok bool, err error)

	// SetBalances stores balances for an address, stamped with the current time
	SetBalances(ctx context.Context, address string, balances *VaultBalances) error

	// ClearBalances drops one address, or everything if address is empty
	ClearBalances(ctx context.Context, address string) error
}

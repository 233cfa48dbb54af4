//go:build !wasm
// +build !wasm

package gae

import (
	"time"

	"cloud.google.com/go/datastore"

	vl "github.com/aptsend/vaultlink"
)

// PendingExchangeEntity is the Datastore entity for pending OAuth exchanges
type PendingExchangeEntity struct {
	Key          *datastore.Key `datastore:"__key__"`
	Channel      string         `datastore:"channel"`
	Verifier     string         `datastore:"verifier,noindex"`
	State        string         `datastore:"state,noindex"`
	OwnerAddress string         `datastore:"owner_address"`
	CreatedAt    time.Time      `datastore:"created_at"`
	ExpiresAt    time.Time      `datastore:"expires_at"`
}

func (e *PendingExchangeEntity) ToPendingExchange() *vl.PendingExchange {
	return &vl.PendingExchange{
		Channel:      vl.ChannelType(e.Channel),
		Verifier:     e.Verifier,
		State:        e.State,
		OwnerAddress: e.OwnerAddress,
		CreatedAt:    e.CreatedAt,
		ExpiresAt:    e.ExpiresAt,
	}
}

func PendingExchangeToEntity(p *vl.PendingExchange, key *datastore.Key) *PendingExchangeEntity {
	return &PendingExchangeEntity{
		Key:          key,
		Channel:      string(p.Channel),
		Verifier:     p.Verifier,
		State:        p.State,
		OwnerAddress: p.OwnerAddress,
		CreatedAt:    p.CreatedAt,
		ExpiresAt:    p.ExpiresAt,
	}
}

// VaultBalanceEntity is the Datastore entity for cached balances
type VaultBalanceEntity struct {
	Key      *datastore.Key `datastore:"__key__"`
	APT      string         `datastore:"apt,noindex"`
	USDC     string         `datastore:"usdc,noindex"`
	USDT     string         `datastore:"usdt,noindex"`
	StoredAt time.Time      `datastore:"stored_at"`
}

func (e *VaultBalanceEntity) ToBalances() *vl.VaultBalances {
	return &vl.VaultBalances{APT: e.APT, USDC: e.USDC, USDT: e.USDT}
}

//go:build !wasm
// +build !wasm

package gorm

import (
	"strings"
	"time"

	vl "github.com/aptsend/vaultlink"
)

// PendingExchangeModel is the GORM model for pending OAuth exchanges
type PendingExchangeModel struct {
	Channel      string    `gorm:"primaryKey;size:32"`
	Verifier     string    `gorm:"size:128"`
	State        string    `gorm:"size:255"`
	OwnerAddress string    `gorm:"size:66"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	ExpiresAt    time.Time `gorm:"index"`
}

func (PendingExchangeModel) TableName() string {
	return "pending_exchanges"
}

func (m *PendingExchangeModel) ToPendingExchange() *vl.PendingExchange {
	return &vl.PendingExchange{
		Channel:      vl.ChannelType(m.Channel),
		Verifier:     m.Verifier,
		State:        m.State,
		OwnerAddress: m.OwnerAddress,
		CreatedAt:    m.CreatedAt,
		ExpiresAt:    m.ExpiresAt,
	}
}

func PendingExchangeToModel(p *vl.PendingExchange) *PendingExchangeModel {
	return &PendingExchangeModel{
		Channel:      string(p.Channel),
		Verifier:     p.Verifier,
		State:        p.State,
		OwnerAddress: p.OwnerAddress,
		CreatedAt:    p.CreatedAt,
		ExpiresAt:    p.ExpiresAt,
	}
}

// VaultBalanceModel is the GORM model for cached vault balances. Addresses
// are stored lower-cased.
type VaultBalanceModel struct {
	Address  string    `gorm:"primaryKey;size:66"`
	APT      string    `gorm:"size:64"`
	USDC     string    `gorm:"size:64"`
	USDT     string    `gorm:"size:64"`
	StoredAt time.Time `gorm:"index"`
}

func (VaultBalanceModel) TableName() string {
	return "vault_balances"
}

func (m *VaultBalanceModel) ToBalances() *vl.VaultBalances {
	return &vl.VaultBalances{APT: m.APT, USDC: m.USDC, USDT: m.USDT}
}

func BalancesToModel(address string, b *vl.VaultBalances, storedAt time.Time) *VaultBalanceModel {
	return &VaultBalanceModel{
		Address:  strings.ToLower(address),
		APT:      b.APT,
		USDC:     b.USDC,
		USDT:     b.USDT,
		StoredAt: storedAt,
	}
}

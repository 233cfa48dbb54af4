//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	vl "github.com/aptsend/vaultlink"
)

// AutoMigrate runs database migrations for all vaultlink tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&PendingExchangeModel{},
		&VaultBalanceModel{},
	)
}

// =============================================================================
// PendingStore
// =============================================================================

// PendingStore implements vl.PendingStore using GORM
type PendingStore struct {
	db *gorm.DB
}

var _ vl.PendingStore = (*PendingStore)(nil)

func NewPendingStore(db *gorm.DB) *PendingStore {
	return &PendingStore{db: db}
}

func (s *PendingStore) PutPending(ctx context.Context, p *vl.PendingExchange) error {
	if err := p.Channel.Validate(); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Save(PendingExchangeToModel(p)).Error
}

func (s *PendingStore) GetPending(ctx context.Context, ch vl.ChannelType) (*vl.PendingExchange, error) {
	var model PendingExchangeModel
	err := s.db.WithContext(ctx).First(&model, "channel = ?", string(ch)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, vl.ErrPendingNotFound
	}
	if err != nil {
		return nil, err
	}
	p := model.ToPendingExchange()
	if p.IsExpired() {
		_ = s.DeletePending(ctx, ch)
		return nil, vl.ErrPendingNotFound
	}
	return p, nil
}

func (s *PendingStore) DeletePending(ctx context.Context, ch vl.ChannelType) error {
	return s.db.WithContext(ctx).Where("channel = ?", string(ch)).Delete(&PendingExchangeModel{}).Error
}

// CleanupExpired removes every exchange past its expiry
func (s *PendingStore) CleanupExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at < ?", time.Now()).Delete(&PendingExchangeModel{})
	return res.RowsAffected, res.Error
}

// =============================================================================
// BalanceCache
// =============================================================================

// BalanceCache implements vl.BalanceCache using GORM
type BalanceCache struct {
	db  *gorm.DB
	now func() time.Time
}

var _ vl.BalanceCache = (*BalanceCache)(nil)

func NewBalanceCache(db *gorm.DB) *BalanceCache {
	return &BalanceCache{db: db, now: time.Now}
}

func (c *BalanceCache) GetBalances(ctx context.Context, address string) (*vl.VaultBalances, time.Time, bool, error) {
	var model VaultBalanceModel
	err := c.db.WithContext(ctx).First(&model, "address = ?", strings.ToLower(address)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, err
	}
	return model.ToBalances(), model.StoredAt, true, nil
}

func (c *BalanceCache) SetBalances(ctx context.Context, address string, balances *vl.VaultBalances) error {
	return c.db.WithContext(ctx).Save(BalancesToModel(address, balances, c.now())).Error
}

func (c *BalanceCache) ClearBalances(ctx context.Context, address string) error {
	q := c.db.WithContext(ctx)
	if address == "" {
		return q.Where("1 = 1").Delete(&VaultBalanceModel{}).Error
	}
	return q.Where("address = ?", strings.ToLower(address)).Delete(&VaultBalanceModel{}).Error
}

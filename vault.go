package vaultlink

import (
	"context"
	"fmt"
	"time"

	"github.com/aptsend/vaultlink/internal/logger"
)

const (
	DefaultBalanceTTL   = 5 * time.Minute
	DefaultIndexerDelay = 3 * time.Second // indexer lag after a confirmed transaction
)

// TxWaiter waits for a submitted transaction to be confirmed
type TxWaiter interface {
	WaitForTransaction(ctx context.Context, hash string) (bool, error)
}

// VaultService reads vault balances through a cache and refreshes them after
// the owner's own transactions
type VaultService struct {
	indexer      BalanceIndexer
	cache        BalanceCache
	waiter       TxWaiter
	ttl          time.Duration
	indexerDelay time.Duration
	now          func() time.Time
}

// VaultOption configures a VaultService
type VaultOption func(*VaultService)

func WithBalanceTTL(ttl time.Duration) VaultOption {
	return func(s *VaultService) { s.ttl = ttl }
}

func WithIndexerDelay(d time.Duration) VaultOption {
	return func(s *VaultService) { s.indexerDelay = d }
}

func WithTxWaiter(w TxWaiter) VaultOption {
	return func(s *VaultService) { s.waiter = w }
}

func NewVaultService(indexer BalanceIndexer, cache BalanceCache, opts ...VaultOption) *VaultService {
	s := &VaultService{
		indexer:      indexer,
		cache:        cache,
		ttl:          DefaultBalanceTTL,
		indexerDelay: DefaultIndexerDelay,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IsCacheValid reports whether balances for address were cached less than ttl ago
func (s *VaultService) IsCacheValid(ctx context.Context, address string) bool {
	_, storedAt, ok, err := s.cache.GetBalances(ctx, address)
	if err != nil || !ok {
		return false
	}
	return s.now().Sub(storedAt) < s.ttl
}

// Balances returns cached balances while they are fresh, otherwise reads the
// indexer and caches the answer. force skips the cache.
func (s *VaultService) Balances(ctx context.Context, address string, force bool) (*VaultBalances, error) {
	log := logger.FromContext(ctx)
	if !force {
		cached, storedAt, ok, err := s.cache.GetBalances(ctx, address)
		if err != nil {
			log.Warn("balance cache read failed", "address", address, "error", err)
		} else if ok && s.now().Sub(storedAt) < s.ttl {
			return cached, nil
		}
	}

	balances, err := s.indexer.Balances(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("fetch balances: %w", err)
	}
	if err := s.cache.SetBalances(ctx, address, balances); err != nil {
		log.Warn("balance cache write failed", "address", address, "error", err)
	}
	return balances, nil
}

// AfterTransaction drops the cached balances for address, gives the indexer
// time to catch up and reads fresh balances
func (s *VaultService) AfterTransaction(ctx context.Context, address string) (*VaultBalances, error) {
	if err := s.cache.ClearBalances(ctx, address); err != nil {
		return nil, err
	}
	if s.indexerDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.indexerDelay):
		}
	}
	return s.Balances(ctx, address, true)
}

// Confirm waits for a transaction and, once confirmed, refreshes the vault's
// balances. confirmed is false when the waiter gave up.
func (s *VaultService) Confirm(ctx context.Context, hash, vault string) (confirmed bool, balances *VaultBalances, err error) {
	if s.waiter == nil {
		return false, nil, fmt.Errorf("no transaction waiter configured")
	}
	confirmed, err = s.waiter.WaitForTransaction(ctx, hash)
	if err != nil || !confirmed {
		return confirmed, nil, err
	}
	if vault == "" {
		return true, nil, nil
	}
	balances, err = s.AfterTransaction(ctx, vault)
	return true, balances, err
}

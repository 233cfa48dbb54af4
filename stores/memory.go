package stores

import (
	"context"
	"strings"
	"sync"
	"time"

	vl "github.com/aptsend/vaultlink"
)

type cachedBalances struct {
	balances vl.VaultBalances
	storedAt time.Time
}

// MemoryBalanceCache is a process local BalanceCache
type MemoryBalanceCache struct {
	mu      sync.RWMutex
	entries map[string]cachedBalances
	now     func() time.Time
}

var _ vl.BalanceCache = (*MemoryBalanceCache)(nil)

func NewMemoryBalanceCache() *MemoryBalanceCache {
	return &MemoryBalanceCache{entries: make(map[string]cachedBalances), now: time.Now}
}

func (c *MemoryBalanceCache) GetBalances(ctx context.Context, address string) (*vl.VaultBalances, time.Time, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[strings.ToLower(address)]
	if !ok {
		return nil, time.Time{}, false, nil
	}
	b := e.balances
	return &b, e.storedAt, true, nil
}

func (c *MemoryBalanceCache) SetBalances(ctx context.Context, address string, balances *vl.VaultBalances) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[strings.ToLower(address)] = cachedBalances{balances: *balances, storedAt: c.now()}
	return nil
}

func (c *MemoryBalanceCache) ClearBalances(ctx context.Context, address string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if address == "" {
		c.entries = make(map[string]cachedBalances)
		return nil
	}
	delete(c.entries, strings.ToLower(address))
	return nil
}

package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	vl "github.com/aptsend/vaultlink"
)

// FSBalanceCache stores vault balances under <StoragePath>/balances
type FSBalanceCache struct {
	StoragePath string
	mu          sync.RWMutex
	now         func() time.Time
}

var _ vl.BalanceCache = (*FSBalanceCache)(nil)

type balanceEntry struct {
	Address  string           `json:"address"`
	Balances vl.VaultBalances `json:"balances"`
	StoredAt time.Time        `json:"stored_at"`
}

func NewFSBalanceCache(storagePath string) *FSBalanceCache {
	return &FSBalanceCache{StoragePath: storagePath, now: time.Now}
}

func (c *FSBalanceCache) getBalanceDir() string {
	return filepath.Join(c.StoragePath, "balances")
}

// addresses are case insensitive hex; the file name is a hash of the
// lower-cased form
func (c *FSBalanceCache) getBalancePath(address string) string {
	hash := sha256.Sum256([]byte(strings.ToLower(address)))
	return filepath.Join(c.getBalanceDir(), hex.EncodeToString(hash[:])+".json")
}

func (c *FSBalanceCache) GetBalances(ctx context.Context, address string) (*vl.VaultBalances, time.Time, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := os.ReadFile(c.getBalancePath(address))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, time.Time{}, false, nil
		}
		return nil, time.Time{}, false, err
	}
	var entry balanceEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, time.Time{}, false, err
	}
	return &entry.Balances, entry.StoredAt, true, nil
}

func (c *FSBalanceCache) SetBalances(ctx context.Context, address string, balances *vl.VaultBalances) error {
	entry := balanceEntry{Address: address, Balances: *balances, StoredAt: c.now()}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return writeAtomicFile(c.getBalancePath(address), data)
}

func (c *FSBalanceCache) ClearBalances(ctx context.Context, address string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if address == "" {
		return os.RemoveAll(c.getBalanceDir())
	}
	return removeIfExists(c.getBalancePath(address))
}

//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"

	vl "github.com/aptsend/vaultlink"
)

// Kind constants for Datastore entities
const (
	KindPendingExchange = "PendingExchange"
	KindVaultBalance    = "VaultBalance"
)

// deleteBatchSize is the Datastore limit on keys per DeleteMulti
const deleteBatchSize = 500

func namespacedKey(namespace, kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = namespace
	return key
}

func kindQuery(namespace, kind string) *datastore.Query {
	q := datastore.NewQuery(kind)
	if namespace != "" {
		q = q.Namespace(namespace)
	}
	return q
}

// deleteAll iterates the keys matched by query and deletes them in batches
func deleteAll(ctx context.Context, client *datastore.Client, query *datastore.Query) (int, error) {
	it := client.Run(ctx, query.KeysOnly())
	var batch []*datastore.Key
	deleted := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := client.DeleteMulti(ctx, batch); err != nil {
			return err
		}
		deleted += len(batch)
		batch = batch[:0]
		return nil
	}

	for {
		key, err := it.Next(nil)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return deleted, err
		}
		batch = append(batch, key)
		if len(batch) == deleteBatchSize {
			if err := flush(); err != nil {
				return deleted, err
			}
		}
	}
	return deleted, flush()
}

// ============================================================================
// PendingStore
// ============================================================================

// PendingStore implements vl.PendingStore using Google Cloud Datastore
type PendingStore struct {
	client    *datastore.Client
	namespace string
}

var _ vl.PendingStore = (*PendingStore)(nil)

// NewPendingStore creates a new Datastore-backed PendingStore
func NewPendingStore(client *datastore.Client, namespace string) *PendingStore {
	return &PendingStore{client: client, namespace: namespace}
}

func (s *PendingStore) PutPending(ctx context.Context, p *vl.PendingExchange) error {
	if err := p.Channel.Validate(); err != nil {
		return err
	}
	key := namespacedKey(s.namespace, KindPendingExchange, string(p.Channel))
	_, err := s.client.Put(ctx, key, PendingExchangeToEntity(p, key))
	return err
}

func (s *PendingStore) GetPending(ctx context.Context, ch vl.ChannelType) (*vl.PendingExchange, error) {
	key := namespacedKey(s.namespace, KindPendingExchange, string(ch))
	var entity PendingExchangeEntity
	if err := s.client.Get(ctx, key, &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, vl.ErrPendingNotFound
		}
		return nil, err
	}
	p := entity.ToPendingExchange()
	if p.IsExpired() {
		_ = s.DeletePending(ctx, ch)
		return nil, vl.ErrPendingNotFound
	}
	return p, nil
}

func (s *PendingStore) DeletePending(ctx context.Context, ch vl.ChannelType) error {
	return s.client.Delete(ctx, namespacedKey(s.namespace, KindPendingExchange, string(ch)))
}

// CleanupExpired removes every exchange past its expiry
func (s *PendingStore) CleanupExpired(ctx context.Context) (int, error) {
	q := kindQuery(s.namespace, KindPendingExchange).FilterField("expires_at", "<", time.Now())
	return deleteAll(ctx, s.client, q)
}

// ============================================================================
// BalanceCache
// ============================================================================

// BalanceCache implements vl.BalanceCache using Google Cloud Datastore
type BalanceCache struct {
	client    *datastore.Client
	namespace string
	now       func() time.Time
}

var _ vl.BalanceCache = (*BalanceCache)(nil)

// NewBalanceCache creates a new Datastore-backed BalanceCache
func NewBalanceCache(client *datastore.Client, namespace string) *BalanceCache {
	return &BalanceCache{client: client, namespace: namespace, now: time.Now}
}

func (c *BalanceCache) key(address string) *datastore.Key {
	return namespacedKey(c.namespace, KindVaultBalance, strings.ToLower(address))
}

func (c *BalanceCache) GetBalances(ctx context.Context, address string) (*vl.VaultBalances, time.Time, bool, error) {
	var entity VaultBalanceEntity
	if err := c.client.Get(ctx, c.key(address), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, time.Time{}, false, nil
		}
		return nil, time.Time{}, false, err
	}
	return entity.ToBalances(), entity.StoredAt, true, nil
}

func (c *BalanceCache) SetBalances(ctx context.Context, address string, balances *vl.VaultBalances) error {
	key := c.key(address)
	entity := &VaultBalanceEntity{
		Key:      key,
		APT:      balances.APT,
		USDC:     balances.USDC,
		USDT:     balances.USDT,
		StoredAt: c.now(),
	}
	_, err := c.client.Put(ctx, key, entity)
	return err
}

func (c *BalanceCache) ClearBalances(ctx context.Context, address string) error {
	if address != "" {
		return c.client.Delete(ctx, c.key(address))
	}
	_, err := deleteAll(ctx, c.client, kindQuery(c.namespace, KindVaultBalance))
	return err
}

package vaultlink

import (
	"context"
	"sync"
	"time"

	"github.com/aptsend/vaultlink/internal/logger"
)

// Vault polling defaults: ~40s for the chain to materialise a first vault
const (
	DefaultPollInterval = 2 * time.Second
	DefaultPollAttempts = 20
)

// Manager is the single source of truth for an owner's identities and
// primary vault. It dispatches sync and unsync to registered drivers.
type Manager struct {
	backend  Backend
	registry *Registry
	vaults   VaultView

	pollInterval time.Duration
	pollAttempts int

	mu        sync.RWMutex
	owner     string
	snapshot  IdentitySnapshot
	reloading int
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithOwner sets the connected owner address
func WithOwner(owner string) ManagerOption {
	return func(m *Manager) { m.owner = owner }
}

// WithVaultPolling overrides the vault polling interval and attempt budget
func WithVaultPolling(interval time.Duration, attempts int) ManagerOption {
	return func(m *Manager) {
		if interval > 0 {
			m.pollInterval = interval
		}
		if attempts > 0 {
			m.pollAttempts = attempts
		}
	}
}

// NewManager creates a Manager. vaults may be nil, in which case no vault
// polling happens after a sync.
func NewManager(backend Backend, registry *Registry, vaults VaultView, opts ...ManagerOption) *Manager {
	m := &Manager{
		backend:      backend,
		registry:     registry,
		vaults:       vaults,
		pollInterval: DefaultPollInterval,
		pollAttempts: DefaultPollAttempts,
		snapshot:     EmptySnapshot(),
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, d := range registry.List() {
		m.bind(d)
	}
	return m
}

type reloadBinder interface {
	bindReload(fn func(ctx context.Context))
}

func (m *Manager) bind(d Driver) {
	if b, ok := d.(reloadBinder); ok {
		b.bindReload(func(ctx context.Context) { m.Reload(ctx) })
	}
}

// Owner returns the connected owner address
func (m *Manager) Owner() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.owner
}

// SetOwner switches the connected owner and drops the previous owner's state
func (m *Manager) SetOwner(owner string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if owner != m.owner {
		m.owner = owner
		m.snapshot = EmptySnapshot()
	}
}

// Snapshot returns a copy of the current identities and vault address
func (m *Manager) Snapshot() IdentitySnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot.Clone()
}

// PrimaryVault returns the known vault address, "" if none
func (m *Manager) PrimaryVault() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot.PrimaryVaultAddress
}

// IsLoading reports whether a reload or any driver's sync is in flight
func (m *Manager) IsLoading() bool {
	m.mu.RLock()
	reloading := m.reloading > 0
	m.mu.RUnlock()
	if reloading {
		return true
	}
	for _, d := range m.registry.List() {
		if d.IsLoading() {
			return true
		}
	}
	return false
}

// Reload fetches identities and the vault address in one backend call. Any
// failure, and a missing owner, leave the Manager empty rather than stale.
// Concurrent reloads are not queued; the last to finish wins.
func (m *Manager) Reload(ctx context.Context) IdentitySnapshot {
	owner := m.Owner()
	if owner == "" {
		m.store(EmptySnapshot())
		return EmptySnapshot()
	}

	m.mu.Lock()
	m.reloading++
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.reloading--
		m.mu.Unlock()
	}()

	snap, err := m.backend.Identities(ctx, owner)
	if err != nil || snap == nil {
		logger.FromContext(ctx).Warn("Failed to load identities", "owner", owner, "error", err)
		m.store(EmptySnapshot())
		return EmptySnapshot()
	}
	if snap.Identities == nil {
		snap.Identities = map[ChannelType][]ChannelIdentity{}
	}
	m.store(*snap)
	return snap.Clone()
}

func (m *Manager) store(s IdentitySnapshot) {
	m.mu.Lock()
	m.snapshot = s
	m.mu.Unlock()
}

// SyncChannel runs the channel's driver. After a success, if no vault is
// known yet, it polls the chain until the vault appears or the attempt budget
// runs out, then reloads exactly once. It never returns an error.
func (m *Manager) SyncChannel(ctx context.Context, ch ChannelType) SyncResult {
	d, ok := m.registry.Get(ch)
	if !ok {
		return Failed(ErrUnknownChannel)
	}
	m.bind(d)

	owner := m.Owner()
	result := d.Sync(ctx, owner)
	if !result.Success || owner == "" {
		return result
	}

	if m.PrimaryVault() == "" && m.vaults != nil {
		if vault := m.waitForVault(ctx, owner); vault != "" {
			m.mu.Lock()
			if m.owner == owner {
				m.snapshot.PrimaryVaultAddress = vault
			}
			m.mu.Unlock()
		}
	}
	// the link succeeded, so reload even if the caller gave up while polling
	m.Reload(context.WithoutCancel(ctx))
	return result
}

func (m *Manager) waitForVault(ctx context.Context, owner string) string {
	log := logger.FromContext(ctx)
	log.Info("Checking chain for vault creation", "owner", owner)
	for i := 0; i < m.pollAttempts; i++ {
		vault, err := m.vaults.PrimaryVault(ctx, owner)
		if err == nil && vault != "" {
			log.Info("Vault found on chain", "vault", vault, "attempt", i+1)
			return vault
		}
		if i == m.pollAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ""
		case <-time.After(m.pollInterval):
		}
	}
	log.Info("Vault not found on chain yet", "attempts", m.pollAttempts)
	return ""
}

// UnsyncChannel passes through to the channel's driver. Errors propagate.
func (m *Manager) UnsyncChannel(ctx context.Context, ch ChannelType, accountID string) error {
	d, ok := m.registry.Get(ch)
	if !ok {
		return ErrUnknownChannel
	}
	m.bind(d)
	return d.Unsync(ctx, m.Owner(), accountID)
}

type watcher interface {
	Watch(ctx context.Context, syncFn func(context.Context) SyncResult, onResult func(SyncResult)) error
}

// WatchWallets auto-syncs every registered wallet driver whose wallet
// publishes connection changes. It blocks until ctx is done.
func (m *Manager) WatchWallets(ctx context.Context, onResult func(ChannelType, SyncResult)) {
	var wg sync.WaitGroup
	for _, d := range m.registry.List() {
		w, ok := d.(watcher)
		if !ok {
			continue
		}
		ch := d.Type()
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := w.Watch(ctx,
				func(ctx context.Context) SyncResult { return m.SyncChannel(ctx, ch) },
				func(res SyncResult) {
					if onResult != nil {
						onResult(ch, res)
					}
				})
			if err != nil {
				logger.FromContext(ctx).Debug("wallet not watched", "channel", string(ch), "error", err)
			}
		}()
	}
	wg.Wait()
}

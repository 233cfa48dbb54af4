package vaultlink

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// Capabilities describes what a driver supports
type Capabilities struct {
	Unsync bool // backend supports removing the link
	Popup  bool // the flow opens a window
	Wallet bool // the flow signs with a wallet
	PKCE   bool // the flow binds the exchange with a PKCE verifier
}

// Driver is a per-channel sync state machine
type Driver interface {
	Type() ChannelType
	Capabilities() Capabilities

	// Sync runs one attempt end to end. It never returns an error: every
	// failure is normalised into the result.
	Sync(ctx context.Context, owner string) SyncResult

	// Unsync removes a link. Unlike Sync, failures are returned to the caller.
	Unsync(ctx context.Context, owner, accountID string) error

	State() FlowState
	IsLoading() bool
}

// SignatureDriver is a driver whose proof is a wallet signature
type SignatureDriver interface {
	Driver
	NeedsSignature() bool
}

// Registry maps channel types to drivers
type Registry struct {
	mu      sync.RWMutex
	drivers map[ChannelType]Driver
}

// NewRegistry creates an empty Registry
func NewRegistry() *Registry {
	return &Registry{drivers: map[ChannelType]Driver{}}
}

// Register adds a driver. Registering a channel twice is an error.
func (r *Registry) Register(d Driver) error {
	if d == nil {
		return errors.New("driver is nil")
	}
	ct := d.Type()
	if err := ct.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.drivers[ct]; exists {
		return fmt.Errorf("channel already registered: %s", ct)
	}
	r.drivers[ct] = d
	return nil
}

// MustRegister calls Register and panics on error
func (r *Registry) MustRegister(d Driver) {
	if err := r.Register(d); err != nil {
		panic(err)
	}
}

// Unregister removes a channel's driver
func (r *Registry) Unregister(ct ChannelType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.drivers[ct]; !exists {
		return false
	}
	delete(r.drivers, ct)
	return true
}

// Get returns the driver for a channel
func (r *Registry) Get(ct ChannelType) (Driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[ct]
	return d, ok
}

// Types returns registered channels in AllChannels order
func (r *Registry) Types() []ChannelType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ChannelType, 0, len(r.drivers))
	for _, ct := range AllChannels {
		if _, ok := r.drivers[ct]; ok {
			out = append(out, ct)
		}
	}
	return out
}

// List returns registered drivers in AllChannels order
func (r *Registry) List() []Driver {
	types := r.Types()
	out := make([]Driver, 0, len(types))
	for _, ct := range types {
		if d, ok := r.Get(ct); ok {
			out = append(out, d)
		}
	}
	return out
}

// Capabilities returns the capabilities of a registered channel
func (r *Registry) Capabilities(ct ChannelType) (Capabilities, bool) {
	d, ok := r.Get(ct)
	if !ok {
		return Capabilities{}, false
	}
	return d.Capabilities(), true
}

// Unsyncable lists channels whose driver supports unsync
func (r *Registry) Unsyncable() []ChannelType {
	return slices.DeleteFunc(r.Types(), func(ct ChannelType) bool {
		caps, _ := r.Capabilities(ct)
		return !caps.Unsync
	})
}

package vaultlink

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

const (
	kindCallbackSuffix = "_OAUTH_CALLBACK"
	kindErrorSuffix    = "_OAUTH_ERROR"
)

// Envelope is the typed message a popup sends back to the flow that opened it
type Envelope struct {
	Kind    string         `json:"type"`
	Channel ChannelType    `json:"channel,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// KindCallback is the envelope kind carrying a successful provider callback
func KindCallback(ch ChannelType) string {
	return strings.ToUpper(string(ch)) + kindCallbackSuffix
}

// KindError is the envelope kind carrying a provider error
func KindError(ch ChannelType) string {
	return strings.ToUpper(string(ch)) + kindErrorSuffix
}

// ParseKind splits an envelope kind into its channel and whether it reports an error
func ParseKind(kind string) (ch ChannelType, isError bool, err error) {
	var prefix string
	switch {
	case strings.HasSuffix(kind, kindCallbackSuffix):
		prefix = strings.TrimSuffix(kind, kindCallbackSuffix)
	case strings.HasSuffix(kind, kindErrorSuffix):
		prefix = strings.TrimSuffix(kind, kindErrorSuffix)
		isError = true
	default:
		return "", false, fmt.Errorf("unknown envelope kind %q", kind)
	}
	ch = ChannelType(strings.ToLower(prefix))
	if err := ch.Validate(); err != nil {
		return "", false, err
	}
	return ch, isError, nil
}

// IsError reports whether the envelope carries a provider error
func (e Envelope) IsError() bool {
	return strings.HasSuffix(e.Kind, kindErrorSuffix)
}

// String returns payload[key] if it is a string
func (e Envelope) String(key string) string {
	if v, ok := e.Payload[key].(string); ok {
		return v
	}
	return ""
}

// Dispatcher demultiplexes popup envelopes to the flow waiting on their
// channel. It is the only listener; flows subscribe instead of installing
// their own.
type Dispatcher struct {
	mu      sync.Mutex
	origin  string
	waiters map[ChannelType]chan Envelope
}

// NewDispatcher creates a dispatcher that only trusts envelopes from origin
func NewDispatcher(origin string) *Dispatcher {
	return &Dispatcher{
		origin:  origin,
		waiters: map[ChannelType]chan Envelope{},
	}
}

// Origin returns the trusted origin
func (d *Dispatcher) Origin() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.origin
}

// SetOrigin changes the trusted origin, e.g. once a loopback listener knows its port
func (d *Dispatcher) SetOrigin(origin string) {
	d.mu.Lock()
	d.origin = origin
	d.mu.Unlock()
}

// Subscribe registers the waiter for a channel. A newer subscription replaces
// (and closes) an older one. The returned func unsubscribes.
func (d *Dispatcher) Subscribe(ch ChannelType) (<-chan Envelope, func()) {
	c := make(chan Envelope, 1)
	d.mu.Lock()
	if old, ok := d.waiters[ch]; ok {
		close(old)
	}
	d.waiters[ch] = c
	d.mu.Unlock()

	var once sync.Once
	return c, func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			if cur, ok := d.waiters[ch]; ok && cur == c {
				delete(d.waiters, ch)
				close(c)
			}
		})
	}
}

// Post delivers an envelope to the waiting flow. Envelopes from another
// origin, with an unknown kind, or for a channel nobody waits on are dropped
// and Post returns false. Only the first envelope of an attempt is kept.
func (d *Dispatcher) Post(origin string, env Envelope) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if origin == "" || origin != d.origin {
		slog.Debug("Dropping envelope from untrusted origin", "origin", origin, "kind", env.Kind)
		return false
	}
	ch, _, err := ParseKind(env.Kind)
	if err != nil {
		slog.Debug("Dropping malformed envelope", "kind", env.Kind, "error", err)
		return false
	}
	if env.Channel != "" && env.Channel != ch {
		slog.Debug("Dropping envelope with mismatched channel", "kind", env.Kind, "channel", env.Channel)
		return false
	}
	env.Channel = ch

	c, ok := d.waiters[ch]
	if !ok {
		return false
	}
	select {
	case c <- env:
		return true
	default:
		return false
	}
}

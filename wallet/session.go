// Package wallet holds what the key-backed chain wallets share: connection
// state with change notifications and an optional confirmation step before
// every signature. The chain specific wallets live in wallet/evm and
// wallet/solana.
package wallet

import (
	"context"
	"errors"
	"sync"

	vl "github.com/aptsend/vaultlink"
)

// RejectionCode is the provider code wallets use for a declined request
const RejectionCode = "4001"

var ErrNotConnected = errors.New("wallet not connected")

// ConfirmFunc asks the operator to approve signing message. Returning false
// declines the request.
type ConfirmFunc func(ctx context.Context, message []byte) (bool, error)

// Session tracks whether a wallet is connected and fans connection changes
// out to subscribers. The zero value is a disconnected session that signs
// without asking.
type Session struct {
	mu        sync.Mutex
	connected bool
	subs      map[int]chan bool
	nextSub   int
	confirm   ConfirmFunc
}

// SetConfirm installs the approval step run before every signature
func (s *Session) SetConfirm(fn ConfirmFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirm = fn
}

func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Connect marks the wallet connected
func (s *Session) Connect() {
	s.setConnected(true)
}

// Disconnect marks the wallet disconnected. It never fails.
func (s *Session) Disconnect() error {
	s.setConnected(false)
	return nil
}

func (s *Session) setConnected(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected == v {
		return
	}
	s.connected = v
	for _, ch := range s.subs {
		// subscribers only care about the latest state
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}

// Connections implements vaultlink.ConnectionNotifier
func (s *Session) Connections() (<-chan bool, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[int]chan bool)
	}
	id := s.nextSub
	s.nextSub++
	ch := make(chan bool, 1)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
		})
	}
}

// Approve checks the wallet is connected and runs the confirmation step.
// A declined request is reported the way browser wallets do it: a
// provider error with code 4001.
func (s *Session) Approve(ctx context.Context, message []byte) error {
	s.mu.Lock()
	connected, confirm := s.connected, s.confirm
	s.mu.Unlock()

	if !connected {
		return ErrNotConnected
	}
	if confirm == nil {
		return nil
	}
	ok, err := confirm(ctx, message)
	if err != nil {
		return err
	}
	if !ok {
		return &vl.ProviderError{Code: RejectionCode, Message: "User rejected the request"}
	}
	return ctx.Err()
}

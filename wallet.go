package vaultlink

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
)

// Wallet is the capability a wallet channel needs from a chain wallet.
// Implementations exist per chain family; drivers never see SDK types.
type Wallet interface {
	Address() string
	IsConnected() bool
	// SignMessage signs a plaintext challenge and returns the encoded
	// signature (0x-hex for EVM, base58 for Solana)
	SignMessage(ctx context.Context, message []byte) (string, error)
	Disconnect() error
}

// ChainWallet is implemented by wallets that live on a numbered chain (EVM)
type ChainWallet interface {
	Wallet
	ChainID() int64
}

// ConnectionNotifier publishes connection state changes of a wallet
type ConnectionNotifier interface {
	// Connections returns a channel that receives the new state on every
	// change. The returned func stops the subscription.
	Connections() (<-chan bool, func())
}

// SignatureVerifier checks a wallet signature locally before it is sent to the backend
type SignatureVerifier interface {
	Verify(address string, message []byte, signature string) (bool, error)
}

// Popup is a window opened for an external proof
type Popup interface {
	Close() error
}

// Opener opens a named window pointing at url. A failure to open maps to
// ErrPopupBlocked.
type Opener interface {
	Open(ctx context.Context, url, name string) (Popup, error)
}

// OpenerFunc adapts a function to the Opener interface
type OpenerFunc func(ctx context.Context, url, name string) (Popup, error)

func (f OpenerFunc) Open(ctx context.Context, url, name string) (Popup, error) {
	return f(ctx, url, name)
}

// BrowserOpener opens URLs in the system browser. A browser tab can't be
// closed from the outside, so its Popup's Close is a no-op.
type BrowserOpener struct{}

type browserTab struct{}

func (browserTab) Close() error { return nil }

func (BrowserOpener) Open(ctx context.Context, url, name string) (Popup, error) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", url)
	case "windows":
		cmd = exec.CommandContext(ctx, "rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.CommandContext(ctx, "xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPopupBlocked, err)
	}
	go cmd.Wait()
	return browserTab{}, nil
}

package vaultlink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aptsend/vaultlink/internal/logger"
)

// WalletDriver links an EVM or Solana wallet by having it sign a challenge.
// The signature is awaited in process; there is no popup and no timeout
// beyond ctx.
type WalletDriver struct {
	flow

	backend             Backend
	wallet              Wallet
	verifier            SignatureVerifier
	unsync              bool
	disconnectAfterLink bool
	now                 func() time.Time
}

// WalletOption configures a WalletDriver
type WalletOption func(*WalletDriver)

// WithWalletUnsync turns the unsync capability on or off. It defaults to off
// for EVM and on for Solana.
func WithWalletUnsync(enabled bool) WalletOption {
	return func(d *WalletDriver) { d.unsync = enabled }
}

// WithDisconnectAfterLink controls whether the wallet is disconnected once
// linked (default true)
func WithDisconnectAfterLink(enabled bool) WalletOption {
	return func(d *WalletDriver) { d.disconnectAfterLink = enabled }
}

// WithClock overrides the time source used for challenge timestamps
func WithClock(now func() time.Time) WalletOption {
	return func(d *WalletDriver) { d.now = now }
}

// NewWalletDriver creates the driver for ChannelEVM or ChannelSolana.
// verifier may be nil to skip local verification.
func NewWalletDriver(ch ChannelType, backend Backend, wallet Wallet, verifier SignatureVerifier, opts ...WalletOption) *WalletDriver {
	d := &WalletDriver{
		flow:                flow{channel: ch},
		backend:             backend,
		wallet:              wallet,
		verifier:            verifier,
		unsync:              ch == ChannelSolana,
		disconnectAfterLink: true,
		now:                 time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *WalletDriver) Type() ChannelType { return d.channel }

func (d *WalletDriver) Capabilities() Capabilities {
	return Capabilities{Unsync: d.unsync, Wallet: true}
}

func (d *WalletDriver) Sync(ctx context.Context, owner string) SyncResult {
	ctx, ok := d.begin(ctx)
	if !ok {
		logger.FromContext(ctx).Debug("sync already in progress", "channel", string(d.channel))
		return inProgress()
	}
	return d.finish(ctx, d.run(ctx, owner))
}

func (d *WalletDriver) run(ctx context.Context, owner string) error {
	if owner == "" {
		return ErrOwnerNotConnected
	}
	if d.wallet == nil || !d.wallet.IsConnected() || d.wallet.Address() == "" {
		return walletNotConnected(d.channel)
	}
	address := d.wallet.Address()

	link := WalletLink{OwnerAddress: owner, Address: address}
	switch d.channel {
	case ChannelEVM:
		cw, ok := d.wallet.(ChainWallet)
		if !ok || cw.ChainID() == 0 {
			return walletNotConnected(d.channel)
		}
		link.ChainID = cw.ChainID()
		link.Message = EVMChallenge(owner, address, link.ChainID, d.now())
	case ChannelSolana:
		link.Message = SolanaChallenge(owner, address, d.now())
	default:
		return fmt.Errorf("%w: %s is not a wallet channel", ErrUnknownChannel, d.channel)
	}

	d.transition(ctx, StateAwaitingProof)
	sig, err := d.wallet.SignMessage(ctx, []byte(link.Message))
	if err != nil {
		if IsUserRejection(err) {
			d.setNeedsSignature(true)
			return &rejectedError{err: err}
		}
		return fmt.Errorf("sign challenge: %w", err)
	}
	link.Signature = sig

	d.transition(ctx, StateFinalizing)
	if d.verifier != nil {
		valid, err := d.verifier.Verify(address, []byte(link.Message), sig)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
		}
		if !valid {
			return ErrSignatureInvalid
		}
	}

	if err := d.backend.LinkWallet(ctx, d.channel, link); err != nil {
		return fmt.Errorf("link %s wallet: %w", d.channel, err)
	}
	d.setNeedsSignature(false)

	if d.disconnectAfterLink {
		if err := d.wallet.Disconnect(); err != nil {
			logger.FromContext(ctx).Warn("failed to disconnect wallet", "error", err)
		}
	}
	return nil
}

func (d *WalletDriver) Unsync(ctx context.Context, owner, accountID string) error {
	if !d.unsync {
		return NotImplementedError(d.channel, "unsync")
	}
	if owner == "" {
		return ErrOwnerNotConnected
	}
	if err := d.backend.UnlinkWallet(ctx, d.channel, owner, accountID); err != nil {
		return err
	}
	d.reloadIdentities(ctx)
	return nil
}

// Watch auto-syncs whenever the wallet goes from disconnected to connected.
// syncFn runs the attempt (usually the Manager's SyncChannel, so post-sync
// work happens too) and onResult receives its outcome. A disconnect clears
// needsSignature. Watch blocks until ctx is done.
func (d *WalletDriver) Watch(ctx context.Context, syncFn func(context.Context) SyncResult, onResult func(SyncResult)) error {
	notifier, ok := d.wallet.(ConnectionNotifier)
	if !ok {
		return errors.New("wallet does not publish connection changes")
	}
	states, stop := notifier.Connections()
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	connected := d.wallet.IsConnected()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now, ok := <-states:
			if !ok {
				return nil
			}
			if !now {
				d.setNeedsSignature(false)
			}
			if now && !connected {
				wg.Add(1)
				go func() {
					defer wg.Done()
					res := syncFn(ctx)
					if onResult != nil {
						onResult(res)
					}
				}()
			}
			connected = now
		}
	}
}

package vaultlink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aptsend/vaultlink/internal/logger"
	"github.com/aptsend/vaultlink/oauth2"
)

var errSuperseded = errors.New("superseded by a newer sync")

// OAuthDriver links Twitter and Google (OAuth with PKCE) and Discord (OAuth
// bound by the backend's state only). The consent screen opens in a popup
// and the provider's redirect comes back through the Dispatcher.
type OAuthDriver struct {
	flow

	backend    Backend
	pending    PendingStore
	dispatcher *Dispatcher
	opener     Opener

	popupOptions
	pkce      bool
	popupName string
}

type popupOptions struct {
	timeout      time.Duration
	unsync       bool
	checkAuthURL func(string) error
}

func defaultPopupOptions(opts []PopupOption) popupOptions {
	o := popupOptions{timeout: PopupTimeout, unsync: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// PopupOption configures a popup based driver (OAuth or Telegram)
type PopupOption func(*popupOptions)

// WithPopupTimeout overrides the abandonment window (default PopupTimeout)
func WithPopupTimeout(d time.Duration) PopupOption {
	return func(o *popupOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithPopupUnsync turns the unsync capability on or off (default on)
func WithPopupUnsync(enabled bool) PopupOption {
	return func(o *popupOptions) { o.unsync = enabled }
}

// WithAuthURLCheck installs a check run on the backend's consent URL before
// the popup opens
func WithAuthURLCheck(check func(string) error) PopupOption {
	return func(o *popupOptions) { o.checkAuthURL = check }
}

// NewOAuthDriver creates the driver for twitter, google or discord
func NewOAuthDriver(ch ChannelType, backend Backend, pending PendingStore, dispatcher *Dispatcher, opener Opener, opts ...PopupOption) *OAuthDriver {
	return &OAuthDriver{
		flow:         flow{channel: ch},
		backend:      backend,
		pending:      pending,
		dispatcher:   dispatcher,
		opener:       opener,
		popupOptions: defaultPopupOptions(opts),
		pkce:         ch == ChannelTwitter || ch == ChannelGoogle,
		popupName:    string(ch) + "-oauth",
	}
}

func (d *OAuthDriver) Type() ChannelType { return d.channel }

func (d *OAuthDriver) Capabilities() Capabilities {
	return Capabilities{Unsync: d.unsync, Popup: true, PKCE: d.pkce}
}

func (d *OAuthDriver) Sync(ctx context.Context, owner string) SyncResult {
	ctx, ok := d.begin(ctx)
	if !ok {
		return inProgress()
	}
	return d.finish(ctx, d.run(ctx, owner))
}

func (d *OAuthDriver) run(ctx context.Context, owner string) error {
	if owner == "" {
		return ErrWalletNotConnected
	}

	req := AuthURLRequest{OwnerAddress: owner}
	var pkce PKCE
	if d.pkce {
		pkce = NewPKCE()
		req.CodeChallenge = pkce.Challenge
	}
	resp, err := d.backend.AuthURL(ctx, d.channel, req)
	if err != nil {
		return fmt.Errorf("get %s auth url: %w", d.channel, err)
	}
	if d.checkAuthURL != nil {
		if err := d.checkAuthURL(resp.AuthURL); err != nil {
			return err
		}
	}
	// the consent screen must be bound to this attempt's verifier
	if d.pkce {
		if err := oauth2.CheckChallenge(resp.AuthURL, pkce.Challenge); err != nil {
			return fmt.Errorf("%s consent url: %w", d.channel, err)
		}
	}

	if err := d.pending.PutPending(ctx, NewPendingExchange(d.channel, owner, pkce.Verifier, resp.State, d.timeout)); err != nil {
		return fmt.Errorf("store pending exchange: %w", err)
	}
	defer d.clearPending(ctx)

	msgs, unsubscribe := d.dispatcher.Subscribe(d.channel)
	defer unsubscribe()

	d.transition(ctx, StateAwaitingProof)
	popup, err := d.opener.Open(ctx, resp.AuthURL, d.popupName)
	if err != nil {
		logger.FromContext(ctx).Warn("popup did not open", "error", err)
		return ErrPopupBlocked
	}

	env, err := awaitEnvelope(ctx, msgs, popup, d.timeout)
	if err != nil {
		return err
	}

	d.transition(ctx, StateFinalizing)
	return d.finalize(ctx, env)
}

func (d *OAuthDriver) finalize(ctx context.Context, env Envelope) error {
	pending, err := d.pending.GetPending(ctx, d.channel)
	if err != nil {
		if errors.Is(err, ErrPendingNotFound) {
			return ErrMissingCredentialState
		}
		return fmt.Errorf("load pending exchange: %w", err)
	}
	if d.pkce && pending.Verifier == "" {
		return ErrMissingCredentialState
	}

	code, state := env.String("code"), env.String("state")
	if code == "" {
		return &ProviderError{Message: "Authorization code missing from callback"}
	}
	if pending.State != "" && state != pending.State {
		return ErrStateMismatch
	}

	resp, err := d.backend.Callback(ctx, d.channel, CallbackRequest{
		Code:         code,
		State:        state,
		CodeVerifier: pending.Verifier,
	})
	if err != nil {
		return fmt.Errorf("%s callback: %w", d.channel, err)
	}
	if resp != nil && !resp.Success {
		return &BackendError{Message: "Failed to link account"}
	}
	return nil
}

// clearPending removes the verifier whatever the outcome, even when ctx was cancelled
func (d *OAuthDriver) clearPending(ctx context.Context) {
	if err := d.pending.DeletePending(context.WithoutCancel(ctx), d.channel); err != nil {
		logger.FromContext(ctx).Warn("failed to delete pending exchange", "error", err)
	}
}

func (d *OAuthDriver) Unsync(ctx context.Context, owner, accountID string) error {
	if !d.unsync {
		return NotImplementedError(d.channel, "unsync")
	}
	if owner == "" {
		return ErrWalletNotConnected
	}
	if err := d.backend.Unsync(ctx, d.channel, owner, accountID); err != nil {
		return err
	}
	d.reloadIdentities(ctx)
	return nil
}

// awaitEnvelope races the popup's envelope against the abandonment timer.
// On timeout or cancellation the popup is closed.
func awaitEnvelope(ctx context.Context, msgs <-chan Envelope, popup Popup, timeout time.Duration) (Envelope, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	closePopup := func() {
		if popup != nil {
			_ = popup.Close()
		}
	}

	select {
	case env, ok := <-msgs:
		if !ok {
			return Envelope{}, errSuperseded
		}
		if env.IsError() {
			msg := env.String("error")
			if msg == "" {
				msg = "Authentication failed"
			}
			return Envelope{}, &ProviderError{Code: env.String("code"), Message: msg}
		}
		return env, nil
	case <-timer.C:
		closePopup()
		return Envelope{}, ErrTimeout
	case <-ctx.Done():
		closePopup()
		return Envelope{}, ctx.Err()
	}
}

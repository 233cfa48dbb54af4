package vaultlink

import (
	"context"
	"fmt"

	"github.com/aptsend/vaultlink/internal/logger"
)

// TelegramDriver links a Telegram account through the Telegram login widget.
// There is no app generated challenge: the widget signs the user's auth data
// and the backend checks that signature.
type TelegramDriver struct {
	flow
	popupOptions

	backend    Backend
	dispatcher *Dispatcher
	opener     Opener
	loginURL   string
}

// NewTelegramDriver creates the Telegram driver. loginURL is the page that
// embeds the widget, usually the loopback server's /telegram/login.
func NewTelegramDriver(backend Backend, dispatcher *Dispatcher, opener Opener, loginURL string, opts ...PopupOption) *TelegramDriver {
	return &TelegramDriver{
		flow:         flow{channel: ChannelTelegram},
		popupOptions: defaultPopupOptions(opts),
		backend:      backend,
		dispatcher:   dispatcher,
		opener:       opener,
		loginURL:     loginURL,
	}
}

func (d *TelegramDriver) Type() ChannelType { return ChannelTelegram }

func (d *TelegramDriver) Capabilities() Capabilities {
	return Capabilities{Unsync: d.unsync, Popup: true}
}

func (d *TelegramDriver) Sync(ctx context.Context, owner string) SyncResult {
	ctx, ok := d.begin(ctx)
	if !ok {
		return inProgress()
	}
	return d.finish(ctx, d.run(ctx, owner))
}

func (d *TelegramDriver) run(ctx context.Context, owner string) error {
	if owner == "" {
		return ErrWalletNotConnected
	}

	msgs, unsubscribe := d.dispatcher.Subscribe(ChannelTelegram)
	defer unsubscribe()

	d.transition(ctx, StateAwaitingProof)
	popup, err := d.opener.Open(ctx, d.loginURL, "telegram-login")
	if err != nil {
		logger.FromContext(ctx).Warn("popup did not open", "error", err)
		return ErrPopupBlocked
	}

	env, err := awaitEnvelope(ctx, msgs, popup, d.timeout)
	if err != nil {
		return err
	}

	d.transition(ctx, StateFinalizing)
	authData, _ := env.Payload["auth_data"].(map[string]any)
	if len(authData) == 0 {
		return &ProviderError{Message: "Telegram auth data missing from callback"}
	}
	resp, err := d.backend.Callback(ctx, ChannelTelegram, CallbackRequest{
		OwnerAddress: owner,
		AuthData:     authData,
	})
	if err != nil {
		return fmt.Errorf("telegram callback: %w", err)
	}
	if resp != nil && !resp.Success {
		return &BackendError{Message: "Failed to link account"}
	}
	return nil
}

func (d *TelegramDriver) Unsync(ctx context.Context, owner, accountID string) error {
	if !d.unsync {
		return NotImplementedError(ChannelTelegram, "unsync")
	}
	if owner == "" {
		return ErrWalletNotConnected
	}
	if err := d.backend.Unsync(ctx, ChannelTelegram, owner, accountID); err != nil {
		return err
	}
	d.reloadIdentities(ctx)
	return nil
}

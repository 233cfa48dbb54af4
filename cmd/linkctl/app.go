package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"cloud.google.com/go/datastore"
	"golang.org/x/time/rate"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	vl "github.com/aptsend/vaultlink"
	"github.com/aptsend/vaultlink/chain"
	"github.com/aptsend/vaultlink/client"
	fscreds "github.com/aptsend/vaultlink/client/stores/fs"
	"github.com/aptsend/vaultlink/oauth2"
	"github.com/aptsend/vaultlink/stores"
	fsstore "github.com/aptsend/vaultlink/stores/fs"
	gaestore "github.com/aptsend/vaultlink/stores/gae"
	gormstore "github.com/aptsend/vaultlink/stores/gorm"
	"github.com/aptsend/vaultlink/wallet/evm"
	"github.com/aptsend/vaultlink/wallet/solana"
)

// app wires the library together for one command invocation
type app struct {
	cfg Config

	owner   string
	backend *client.BackendClient
	node    *chain.Node
	indexer *chain.Indexer

	pending  vl.PendingStore
	balances vl.BalanceCache

	dispatcher *vl.Dispatcher
	server     *vl.Server
	registry   *vl.Registry
	manager    *vl.Manager
	checker    *vl.Checker
	vaults     *vl.VaultService

	wallets map[vl.ChannelType]interface{ Connect() }
	closers []func() error
}

type appOptions struct {
	// owner resolves the owner and signs backend requests with its key
	owner bool
	// drivers starts the loopback server and registers the channel drivers
	drivers bool
}

func newApp(ctx context.Context, cfg Config, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, wallets: make(map[vl.ChannelType]interface{ Connect() })}

	var clientOpts []client.ClientOption
	if opts.owner {
		owner, signer, err := resolveOwner(cfg)
		if err != nil {
			return nil, err
		}
		a.owner = owner
		if signer != nil {
			clientOpts = append(clientOpts, client.WithSigner(signer))
		}
	}
	a.backend = client.NewBackendClient(cfg.Backend.URL, clientOpts...)

	var nodeOpts []chain.NodeOption
	if cfg.Chain.RateLimit > 0 {
		nodeOpts = append(nodeOpts, chain.WithRateLimit(rate.Limit(cfg.Chain.RateLimit), 5))
	}
	a.node = chain.NewNode(cfg.Chain.NodeURL, cfg.Chain.ModuleAddress, nodeOpts...)
	a.indexer = chain.NewIndexer(cfg.Chain.IndexerURL, cfg.Chain.IndexerAPIKey, nil)

	if err := a.openStores(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.dispatcher = vl.NewDispatcher("")
	a.registry = vl.NewRegistry()
	a.manager = vl.NewManager(a.backend, a.registry, a.node, vl.WithOwner(a.owner))
	a.checker = vl.NewChecker(a.backend, a.node)
	a.vaults = vl.NewVaultService(a.indexer, a.balances, vl.WithTxWaiter(a.node))

	if opts.drivers {
		a.server = &vl.Server{
			Addr:                cfg.Server.Addr,
			TelegramBotUsername: cfg.Server.TelegramBotUsername,
			Dispatcher:          a.dispatcher,
			Manager:             a.manager,
			Checker:             a.checker,
			Vaults:              a.vaults,
			Auth:                &vl.APIAuth{JWTSecretKey: cfg.Server.JWTSecret},
		}
		a.server.EnsureDefaults()
		if _, err := a.server.Listen(); err != nil {
			a.Close()
			return nil, err
		}
		if err := a.registerDrivers(); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

// resolveOwner returns the owner address and, when the stored credential
// holds a key, a signer for backend requests
func resolveOwner(cfg Config) (string, *client.OwnerSigner, error) {
	creds, err := fscreds.NewFSCredentialStore(cfg.Backend.CredentialsPath, "vaultlink")
	if err != nil {
		return "", nil, err
	}
	cred, err := creds.GetCredential(cfg.Backend.URL)
	if err != nil {
		return "", nil, err
	}
	if cred == nil {
		if cfg.Backend.Owner == "" {
			return "", nil, fmt.Errorf("no owner for %s: run `linkctl login` or set backend.owner", cfg.Backend.URL)
		}
		return cfg.Backend.Owner, nil, nil
	}
	if !cred.CanSign() {
		return cred.OwnerAddress, nil, nil
	}
	passphrase, err := readPassphrase()
	if err != nil {
		return "", nil, err
	}
	signer, err := cred.Signer(passphrase)
	if err != nil {
		return "", nil, err
	}
	return cred.OwnerAddress, signer, nil
}

func (a *app) openStores(ctx context.Context) error {
	sc := a.cfg.Store
	switch sc.Kind {
	case "", "memory":
		a.pending = stores.NewSessionPendingStore(nil)
		a.balances = stores.NewMemoryBalanceCache()
	case "fs":
		a.pending = fsstore.NewFSPendingStore(sc.Path)
		a.balances = fsstore.NewFSBalanceCache(sc.Path)
	case "postgres":
		db, err := gorm.Open(postgres.Open(sc.DSN), &gorm.Config{})
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		if sqlDB, err := db.DB(); err == nil {
			a.closers = append(a.closers, sqlDB.Close)
		}
		if err := gormstore.AutoMigrate(db); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		pending := gormstore.NewPendingStore(db)
		if n, err := pending.CleanupExpired(ctx); err != nil {
			slog.Warn("pending exchange cleanup failed", "error", err)
		} else if n > 0 {
			slog.Debug("removed expired pending exchanges", "count", n)
		}
		a.pending = pending
		a.balances = gormstore.NewBalanceCache(db)
	case "datastore":
		dsClient, err := datastore.NewClient(ctx, sc.ProjectID)
		if err != nil {
			return fmt.Errorf("open datastore: %w", err)
		}
		a.closers = append(a.closers, dsClient.Close)
		pending := gaestore.NewPendingStore(dsClient, sc.Namespace)
		if n, err := pending.CleanupExpired(ctx); err != nil {
			slog.Warn("pending exchange cleanup failed", "error", err)
		} else if n > 0 {
			slog.Debug("removed expired pending exchanges", "count", n)
		}
		a.pending = pending
		a.balances = gaestore.NewBalanceCache(dsClient, sc.Namespace)
	default:
		return fmt.Errorf("unknown store kind %q", sc.Kind)
	}
	return nil
}

// browserOpener opens the system browser and also prints the URL, so it can
// be opened by hand when no browser is available
func browserOpener() vl.Opener {
	return vl.OpenerFunc(func(ctx context.Context, url, name string) (vl.Popup, error) {
		fmt.Fprintf(os.Stderr, "Open this URL to continue (%s):\n  %s\n", name, url)
		return vl.BrowserOpener{}.Open(ctx, url, name)
	})
}

func (a *app) registerDrivers() error {
	opener := browserOpener()
	timeout := vl.WithPopupTimeout(a.cfg.Server.PopupTimeoutDuration())

	for _, ch := range []vl.ChannelType{vl.ChannelTwitter, vl.ChannelGoogle, vl.ChannelDiscord} {
		provider, ok := oauth2.Lookup(string(ch))
		if !ok {
			return fmt.Errorf("no provider metadata for %s", ch)
		}
		a.registry.MustRegister(vl.NewOAuthDriver(ch, a.backend, a.pending, a.dispatcher, opener,
			timeout, vl.WithAuthURLCheck(provider.CheckAuthURL())))
	}
	a.registry.MustRegister(vl.NewTelegramDriver(a.backend, a.dispatcher, opener, a.server.TelegramLoginURL(), timeout))

	wc := a.cfg.Wallets
	if wc.EVMPrivateKey != "" {
		w, err := evm.NewKeyWallet(wc.EVMPrivateKey, wc.EVMChainID)
		if err != nil {
			return err
		}
		if wc.Confirm {
			w.SetConfirm(confirmOnTerminal)
		}
		a.wallets[vl.ChannelEVM] = w
		a.registry.MustRegister(vl.NewWalletDriver(vl.ChannelEVM, a.backend, w, evm.Verifier{}))
	}
	if wc.SolanaPrivateKey != "" {
		w, err := solana.NewKeyWallet(wc.SolanaPrivateKey)
		if err != nil {
			return err
		}
		if wc.Confirm {
			w.SetConfirm(confirmOnTerminal)
		}
		a.wallets[vl.ChannelSolana] = w
		a.registry.MustRegister(vl.NewWalletDriver(vl.ChannelSolana, a.backend, w, solana.Verifier{}))
	}
	return nil
}

// serveInBackground runs the loopback server until ctx is done
func (a *app) serveInBackground(ctx context.Context) {
	go func() {
		if err := a.server.Serve(ctx); err != nil {
			slog.Error("Loopback server stopped", "error", err)
		}
	}()
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	vl "github.com/aptsend/vaultlink"
	"github.com/aptsend/vaultlink/chain"
	"github.com/aptsend/vaultlink/client"
	fscreds "github.com/aptsend/vaultlink/client/stores/fs"
)

// walletConnectDelay lets the wallet watchers subscribe before the
// configured wallets connect
const walletConnectDelay = 250 * time.Millisecond

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseChannel(s string) (vl.ChannelType, error) {
	ch, err := vl.ParseChannelType(s)
	if err != nil {
		return "", fmt.Errorf("%w (one of %s)", err, channelNames())
	}
	return ch, nil
}

func channelNames() string {
	names := make([]string, len(vl.AllChannels))
	for i, ch := range vl.AllChannels {
		names[i] = string(ch)
	}
	return strings.Join(names, ", ")
}

func newLoginCmd() *cobra.Command {
	var keyFile, owner string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store the owner for the configured backend",
		Long: `Store the owner for the configured backend.

With --key-file the ed25519 key is sealed with a passphrase and backend
requests are signed with it. With --owner only the address is stored.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (keyFile == "") == (owner == "") {
				return fmt.Errorf("exactly one of --key-file or --owner is required")
			}
			store, err := fscreds.NewFSCredentialStore(cfg.Backend.CredentialsPath, "vaultlink")
			if err != nil {
				return err
			}

			var cred *client.OwnerCredential
			if keyFile != "" {
				raw, err := os.ReadFile(keyFile)
				if err != nil {
					return err
				}
				key, err := client.ParsePrivateKey(string(raw))
				if err != nil {
					return err
				}
				passphrase, err := newPassphrase()
				if err != nil {
					return err
				}
				if cred, err = client.NewOwnerCredential(key, passphrase); err != nil {
					return err
				}
			} else {
				cred = &client.OwnerCredential{OwnerAddress: strings.ToLower(owner), CreatedAt: time.Now()}
			}

			if err := store.SetCredential(cfg.Backend.URL, cred); err != nil {
				return err
			}
			if err := store.Save(); err != nil {
				return err
			}
			fmt.Printf("Logged in to %s as %s\n", cfg.Backend.URL, cred.OwnerAddress)
			return nil
		},
	}
	cmd.Flags().StringVar(&keyFile, "key-file", "", "file holding the owner's hex ed25519 private key")
	cmd.Flags().StringVar(&owner, "owner", "", "owner address, for a watch-only login")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the owner stored for the configured backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := fscreds.NewFSCredentialStore(cfg.Backend.CredentialsPath, "vaultlink")
			if err != nil {
				return err
			}
			if err := store.RemoveCredential(cfg.Backend.URL); err != nil {
				return err
			}
			if err := store.Save(); err != nil {
				return err
			}
			fmt.Printf("Logged out of %s\n", cfg.Backend.URL)
			return nil
		},
	}
}

func newIdentitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "identities",
		Short: "Show the linked identities and the primary vault",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cfg, appOptions{owner: true})
			if err != nil {
				return err
			}
			defer a.Close()
			return printJSON(a.manager.Reload(cmd.Context()))
		},
	}
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync <channel>",
		Short: "Link an identity on a channel to the owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ch, err := parseChannel(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, appOptions{owner: true, drivers: true})
			if err != nil {
				return err
			}
			defer a.Close()

			serveCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			a.serveInBackground(serveCtx)

			if w, ok := a.wallets[ch]; ok {
				w.Connect()
			}
			a.manager.Reload(ctx)
			result := a.manager.SyncChannel(ctx, ch)
			if err := printJSON(result); err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("sync %s failed", ch)
			}
			return nil
		},
	}
}

func newUnsyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unsync <channel> <account-id>",
		Short: "Unlink an identity from the owner",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ch, err := parseChannel(args[0])
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, appOptions{owner: true, drivers: true})
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.manager.UnsyncChannel(cmd.Context(), ch, args[1]); err != nil {
				return fmt.Errorf("%s", vl.ErrorMessage(err))
			}
			fmt.Printf("Unlinked %s account %s\n", ch, args[1])
			return nil
		},
	}
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <channel> <identifier>",
		Short: "Check whether an identity has unclaimed funds",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ch, err := parseChannel(args[0])
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()
			result, err := a.checker.Check(cmd.Context(), ch, args[1])
			if err != nil {
				return fmt.Errorf("%s", vl.ErrorMessage(err))
			}
			return printJSON(result)
		},
	}
}

func newBalanceCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "balance [vault]",
		Short: "Show a vault's balances (the owner's primary vault by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, appOptions{owner: len(args) == 0})
			if err != nil {
				return err
			}
			defer a.Close()

			vault := ""
			if len(args) == 1 {
				vault = args[0]
			} else if vault = a.manager.Reload(ctx).PrimaryVaultAddress; vault == "" {
				return fmt.Errorf("owner %s has no primary vault yet", a.owner)
			}
			balances, err := a.vaults.Balances(ctx, vault, force)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{"vault": vault, "balances": balances})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "skip the balance cache")
	return cmd
}

type payloadFlags struct {
	fa       string
	decimals int32
}

func (f *payloadFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.fa, "fa", "", "fungible asset metadata address (APT when empty)")
	cmd.Flags().Int32Var(&f.decimals, "decimals", chain.DefaultFADecimals, "decimals of the fungible asset")
}

func configModule() chain.Module {
	return chain.Module{Address: cfg.Chain.ModuleAddress, Name: cfg.Chain.ModuleName}
}

func newDepositCmd() *cobra.Command {
	var pf payloadFlags
	cmd := &cobra.Command{
		Use:   "deposit <amount>",
		Short: "Print the entry function payload that deposits into the primary vault",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m := configModule()
			var (
				payload *chain.EntryFunctionPayload
				err     error
			)
			if pf.fa == "" {
				payload, err = chain.DepositPayload(m, args[0])
			} else {
				payload, err = chain.DepositFAPayload(m, pf.fa, args[0], pf.decimals)
			}
			if err != nil {
				return err
			}
			return printJSON(payload)
		},
	}
	pf.register(cmd)
	return cmd
}

func newWithdrawCmd() *cobra.Command {
	var pf payloadFlags
	cmd := &cobra.Command{
		Use:   "withdraw <to> <amount>",
		Short: "Print the entry function payload that withdraws from the primary vault",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m := configModule()
			var (
				payload *chain.EntryFunctionPayload
				err     error
			)
			if pf.fa == "" {
				payload, err = chain.WithdrawPayload(m, args[0], args[1])
			} else {
				payload, err = chain.WithdrawFAPayload(m, pf.fa, args[0], args[1], pf.decimals)
			}
			if err != nil {
				return err
			}
			return printJSON(payload)
		},
	}
	pf.register(cmd)
	return cmd
}

func newSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <channel> <identifier> <amount>",
		Short: "Print the entry function payload that sends APT from the primary vault to a channel user",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ch, err := parseChannel(args[0])
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()
			userID, err := a.checker.Resolve(cmd.Context(), ch, args[1])
			if err != nil {
				return fmt.Errorf("%s", vl.ErrorMessage(err))
			}
			payload, err := chain.SendPayload(configModule(), ch, userID, args[2])
			if err != nil {
				return err
			}
			return printJSON(payload)
		},
	}
}

func newWaitTxCmd() *cobra.Command {
	var vault string
	cmd := &cobra.Command{
		Use:   "wait-tx <hash>",
		Short: "Wait for a transaction and refresh the vault's balances",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()
			confirmed, balances, err := a.vaults.Confirm(cmd.Context(), args[0], vault)
			if err != nil {
				return err
			}
			if !confirmed {
				return fmt.Errorf("transaction %s not confirmed", args[0])
			}
			out := map[string]any{"hash": args[0], "confirmed": true}
			if balances != nil {
				out["vault"] = vault
				out["balances"] = balances
			}
			return printJSON(out)
		},
	}
	cmd.Flags().StringVar(&vault, "vault", "", "vault whose balances to refresh once confirmed")
	return cmd
}

func newServeCmd() *cobra.Command {
	var autoLink bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the loopback server and its control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, appOptions{owner: true, drivers: true})
			if err != nil {
				return err
			}
			defer a.Close()

			token, expiresIn, err := a.server.Auth.CreateAccessToken(a.owner, vl.AllScopes())
			if err != nil {
				return err
			}
			fmt.Printf("Control API: %s/api\n", a.server.Origin())
			fmt.Printf("Token (expires in %ds): %s\n", expiresIn, token)
			for _, ch := range []vl.ChannelType{vl.ChannelTwitter, vl.ChannelGoogle, vl.ChannelDiscord} {
				fmt.Printf("%s callback: %s\n", ch, a.server.CallbackURL(ch))
			}

			a.manager.Reload(ctx)
			if autoLink {
				go a.manager.WatchWallets(ctx, func(ch vl.ChannelType, res vl.SyncResult) {
					if res.Success {
						fmt.Printf("Linked %s wallet\n", ch)
					} else {
						fmt.Printf("Linking %s wallet failed: %s\n", ch, res.Error)
					}
				})
				go func() {
					select {
					case <-ctx.Done():
						return
					case <-time.After(walletConnectDelay):
					}
					for _, w := range a.wallets {
						w.Connect()
					}
				}()
			}
			return a.server.Serve(ctx)
		},
	}
	cmd.Flags().BoolVar(&autoLink, "auto-link", false, "link configured wallets as soon as they connect")
	return cmd
}

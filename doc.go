// Package vaultlink links external identity channels to an on-chain vault owner.
//
// An owner (an Aptos account address) proves control of accounts on a set of
// channels and registers each link with a backend. Once the first link lands,
// the chain materialises a primary vault for the owner, and funds sent to any
// linked channel are routed into it.
//
// # Architecture
//
// Channel: an identity provider. Twitter and Google use OAuth with PKCE,
// Discord uses OAuth with a backend issued state, Telegram uses its login
// widget, and EVM / Solana wallets prove ownership by signing a challenge.
//
// Driver: the per-channel state machine. Every driver moves through
// Idle, Requesting, AwaitingExternalProof, Finalizing and ends in Success or
// Failed. Drivers are registered in a Registry keyed by ChannelType.
//
// Manager: the single source of truth for the owner's identities and primary
// vault address. It dispatches sync and unsync calls to drivers and, after the
// first successful link, polls the chain until the vault shows up.
//
// # Basic Usage
//
// Wire a backend client, a pending store and the loopback server:
//
//	import (
//	    vl "github.com/aptsend/vaultlink"
//	    "github.com/aptsend/vaultlink/client"
//	    "github.com/aptsend/vaultlink/stores"
//	)
//
//	backend := client.NewBackendClient("https://api.example.com/api")
//	pending := stores.NewSessionPendingStore(nil)
//	server := vl.NewServer("127.0.0.1:8765")
//
//	registry := vl.NewRegistry()
//	registry.MustRegister(vl.NewOAuthDriver(vl.ChannelTwitter, backend, pending, server.Dispatcher(), opener))
//	registry.MustRegister(vl.NewWalletDriver(vl.ChannelEVM, backend, evmWallet, evm.NewVerifier()))
//
//	manager := vl.NewManager(backend, registry, node, vl.WithOwner(owner))
//	result := manager.SyncChannel(ctx, vl.ChannelTwitter)
//
// # Pop-up Messaging
//
// OAuth providers redirect to the loopback server. The callback page posts a
// typed Envelope to the same origin and the Dispatcher hands it to the
// waiting driver. Envelopes from any other origin are dropped without
// touching driver state.
//
// # Testing
//
// Drivers and the Manager depend only on interfaces (Backend, PendingStore,
// Opener, Wallet, VaultView), so tests drive them with httptest backends and
// in-memory fakes.
package vaultlink

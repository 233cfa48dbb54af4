//go:build !wasm
// +build !wasm

// Package gae provides Google Cloud Datastore implementations of the
// vaultlink stores. It supports multi-tenancy through Datastore namespaces.
//
// # Datastore Kinds
//
// The package uses the following Datastore kinds:
//   - PendingExchange: in-flight OAuth exchanges, keyed by channel
//   - VaultBalance: cached display balances, keyed by lower-cased vault address
//
// # Namespacing
//
// Pass a namespace when creating stores to isolate data between tenants:
//
//	pending := gae.NewPendingStore(client, "tenant-123")
//	balances := gae.NewBalanceCache(client, "tenant-123")
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	pending := gae.NewPendingStore(client, "") // default namespace
package gae

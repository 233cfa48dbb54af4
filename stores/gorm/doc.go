//go:build !wasm
// +build !wasm

// Package gorm provides GORM-based implementations of the vaultlink stores.
// It supports any database that GORM supports (PostgreSQL, MySQL, SQLite, etc.)
// and lets several linkctl processes share pending exchanges and cached
// balances.
//
// # Database Schema
//
// The package auto-migrates the following tables:
//   - pending_exchanges: one in-flight OAuth exchange per channel
//   - vault_balances: cached display balances per vault address
//
// # Usage
//
//	db, _ := gorm.Open(postgres.Open(dsn), &gorm.Config{})
//	_ = gormstore.AutoMigrate(db)
//	pending := gormstore.NewPendingStore(db)
//	balances := gormstore.NewBalanceCache(db)
package gorm

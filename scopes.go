package vaultlink

import (
	"strings"
)

// Control API scopes
const (
	ScopeRead  = "read"  // identities, balances, route checks
	ScopeSync  = "sync"  // sync and unsync channels
	ScopeAdmin = "admin" // issue further tokens
)

// AllScopes returns every control API scope
func AllScopes() []string {
	return []string{ScopeRead, ScopeSync, ScopeAdmin}
}

// ParseScopes parses a space-separated scope string into a slice
func ParseScopes(scopeString string) []string {
	if scopeString == "" {
		return nil
	}
	seen := make(map[string]bool)
	result := []string{}
	for _, s := range strings.Fields(scopeString) {
		if !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	return result
}

// JoinScopes joins a slice of scopes into a space-separated string
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

// ContainsAllScopes checks if all required scopes are present in the granted scopes
func ContainsAllScopes(granted, required []string) bool {
	grantedSet := make(map[string]bool, len(granted))
	for _, s := range granted {
		grantedSet[s] = true
	}
	for _, s := range required {
		if !grantedSet[s] {
			return false
		}
	}
	return true
}

// ValidateRequestedScopes splits requested into known and unknown scopes,
// dropping duplicates
func ValidateRequestedScopes(requested []string) (valid, invalid []string) {
	known := make(map[string]bool)
	for _, s := range AllScopes() {
		known[s] = true
	}
	seen := make(map[string]bool)
	for _, s := range requested {
		if seen[s] {
			continue
		}
		seen[s] = true
		if known[s] {
			valid = append(valid, s)
		} else {
			invalid = append(invalid, s)
		}
	}
	return valid, invalid
}

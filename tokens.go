package vaultlink

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// Default abandonment windows
const (
	PopupTimeout       = 5 * time.Minute // how long a popup flow waits for its callback
	PendingExchangeTTL = PopupTimeout    // pending exchanges live exactly as long as the wait
)

// PKCE is a code verifier and its S256 challenge
type PKCE struct {
	Verifier  string
	Challenge string
	Method    string
}

// NewPKCE generates a fresh verifier and derives its S256 challenge
func NewPKCE() PKCE {
	verifier := oauth2.GenerateVerifier()
	return PKCE{
		Verifier:  verifier,
		Challenge: oauth2.S256ChallengeFromVerifier(verifier),
		Method:    "S256",
	}
}

// GenerateSecureToken generates a cryptographically secure random token
func GenerateSecureToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// NewPendingExchange builds a pending exchange for a channel that expires after ttl
func NewPendingExchange(ch ChannelType, owner, verifier, state string, ttl time.Duration) *PendingExchange {
	now := time.Now()
	if ttl <= 0 {
		ttl = PendingExchangeTTL
	}
	return &PendingExchange{
		Channel:      ch,
		Verifier:     verifier,
		State:        state,
		OwnerAddress: owner,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
	}
}

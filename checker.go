package vaultlink

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/aptsend/vaultlink/internal/logger"
)

// APTDecimals is the number of decimals of the APT coin (1 APT = 1e8 octas)
const APTDecimals = 8

// RouteStatus is the claim status of a route as shown to users
type RouteStatus string

const (
	RouteTemp     RouteStatus = "temp" // unclaimed: funds wait for the channel's owner
	RouteLinked   RouteStatus = "linked"
	RouteNotFound RouteStatus = "not_found"
)

// CheckResult is what the checker reports for a (channel, identifier) pair
type CheckResult struct {
	Channel       ChannelType   `json:"channel"`
	ChannelUserID string        `json:"channel_user_id,omitempty"`
	Eligible      bool          `json:"eligible"`
	VaultAddress  string        `json:"vault_address,omitempty"`
	Balances      VaultBalances `json:"balances"`
	Status        RouteStatus   `json:"status"`
	Message       string        `json:"message"`
}

// Checker resolves a channel identifier to its on-chain route and tells
// whether there are unclaimed funds behind it. It is read only and does no
// retries.
type Checker struct {
	backend Backend
	routes  RouteView
}

func NewChecker(backend Backend, routes RouteView) *Checker {
	return &Checker{backend: backend, routes: routes}
}

// Resolve validates identifier and turns it into the channel user id routes
// are keyed by. Social handles go through the backend; Google emails and
// wallet addresses are used as typed.
func (c *Checker) Resolve(ctx context.Context, ch ChannelType, identifier string) (string, error) {
	if err := ch.Validate(); err != nil {
		return "", err
	}
	if err := ValidateIdentifier(ch, identifier); err != nil {
		return "", err
	}
	identifier = strings.TrimSpace(identifier)
	if !NeedsBackendResolution(ch) {
		return identifier, nil
	}
	resolved, err := c.backend.ResolveIdentity(ctx, ch, identifier)
	if err != nil {
		return "", fmt.Errorf("resolve identifier: %w", err)
	}
	return resolved, nil
}

// Check runs the lookup. Errors from identifier validation, resolution,
// route reads or balance reads are returned as is; a failing route_exists
// read counts as "no route".
func (c *Checker) Check(ctx context.Context, ch ChannelType, identifier string) (*CheckResult, error) {
	userID, err := c.Resolve(ctx, ch, identifier)
	if err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx).With("channel", string(ch))
	log.Debug("Resolved channel user id", "channel_user_id", userID)

	result := &CheckResult{Channel: ch, ChannelUserID: userID}
	exists, err := c.routes.RouteExists(ctx, string(ch), userID)
	if err != nil {
		log.Warn("Error checking route", "error", err)
		exists = false
	}
	if !exists {
		result.Status = RouteNotFound
		result.Message = "No vault found for this identifier"
		return result, nil
	}

	route, err := c.routes.SocialRoute(ctx, string(ch), userID)
	if err != nil {
		return nil, fmt.Errorf("read route: %w", err)
	}
	result.VaultAddress = route.TargetVault

	octas, err := c.routes.VaultAPTBalance(ctx, route.TargetVault)
	if err != nil {
		return nil, fmt.Errorf("read vault balance: %w", err)
	}
	result.Balances = VaultBalances{APT: FormatUnits(octas, APTDecimals, 5)}
	hasBalance := octas > 0

	if route.Status == 0 {
		result.Status = RouteTemp
		result.Eligible = hasBalance
		if hasBalance {
			result.Message = "Funds available to claim"
		} else {
			result.Message = "No funds in this vault"
		}
	} else {
		result.Status = RouteLinked
		result.Message = "This account is already linked to a wallet"
	}
	return result, nil
}

// FormatUnits renders an integer amount of smallest units with the given
// number of decimal places
func FormatUnits(amount uint64, decimals int32, places int32) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -decimals).StringFixed(places)
}

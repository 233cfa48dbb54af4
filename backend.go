package vaultlink

import "context"

// AuthURLRequest asks the backend for a provider consent URL
type AuthURLRequest struct {
	OwnerAddress  string `json:"owner_address"`
	CodeChallenge string `json:"code_challenge,omitempty"`
}

// AuthURLResponse carries the consent URL and the state the backend bound to it
type AuthURLResponse struct {
	AuthURL string `json:"auth_url"`
	State   string `json:"state"`
}

// CallbackRequest exchanges a provider callback with the backend. OAuth
// channels send code/state (and the verifier for PKCE channels); Telegram
// sends the widget's signed auth data instead.
type CallbackRequest struct {
	OwnerAddress string         `json:"owner_address,omitempty"`
	Code         string         `json:"code,omitempty"`
	State        string         `json:"state,omitempty"`
	CodeVerifier string         `json:"code_verifier,omitempty"`
	AuthData     map[string]any `json:"auth_data,omitempty"`
}

// LinkedIdentity is the identity record the backend creates on a successful callback
type LinkedIdentity struct {
	ID            IdentityID     `json:"id"`
	Channel       string         `json:"channel"`
	ChannelUserID string         `json:"channel_user_id"`
	VaultStatus   int            `json:"vault_status"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// CallbackResponse is the backend's answer to a callback exchange
type CallbackResponse struct {
	Success  bool            `json:"success"`
	Identity *LinkedIdentity `json:"identity,omitempty"`
}

// WalletLink registers a wallet whose ownership was proven by a signature
type WalletLink struct {
	OwnerAddress string
	Address      string
	ChainID      int64 // EVM only
	Message      string
	Signature    string
}

// Backend is the REST API that stores identities, exchanges OAuth codes and
// routes channels to vaults
type Backend interface {
	// AuthURL returns the provider consent URL for an OAuth channel
	AuthURL(ctx context.Context, ch ChannelType, req AuthURLRequest) (*AuthURLResponse, error)

	// Callback finishes an OAuth or widget flow
	Callback(ctx context.Context, ch ChannelType, req CallbackRequest) (*CallbackResponse, error)

	// Unsync removes a social link
	Unsync(ctx context.Context, ch ChannelType, owner, accountID string) error

	// LinkWallet registers a wallet link
	LinkWallet(ctx context.Context, ch ChannelType, link WalletLink) error

	// UnlinkWallet removes a wallet link
	UnlinkWallet(ctx context.Context, ch ChannelType, owner, identityID string) error

	// Identities returns all identities and the primary vault for an owner
	Identities(ctx context.Context, owner string) (*IdentitySnapshot, error)

	// ResolveIdentity normalises a human identifier into the channel user id
	ResolveIdentity(ctx context.Context, ch ChannelType, identifier string) (string, error)
}

// VaultView reads the owner's primary vault from the chain
type VaultView interface {
	// PrimaryVault returns "" when the owner has no vault yet
	PrimaryVault(ctx context.Context, owner string) (string, error)
}

// SocialRoute is the on-chain routing record for a (channel, user id) pair
type SocialRoute struct {
	TargetVault      string
	Status           int // 0: temp (unclaimed), otherwise linked
	Channel          string
	CreatedAtSeconds int64
}

// RouteView reads routing records and vault balances from the chain
type RouteView interface {
	RouteExists(ctx context.Context, channel, channelUserID string) (bool, error)
	SocialRoute(ctx context.Context, channel, channelUserID string) (*SocialRoute, error)
	// VaultAPTBalance returns the balance in octas
	VaultAPTBalance(ctx context.Context, vault string) (uint64, error)
}

// BalanceIndexer fetches display balances for an address from an indexer
type BalanceIndexer interface {
	Balances(ctx context.Context, address string) (*VaultBalances, error)
}

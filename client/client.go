package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	vl "github.com/aptsend/vaultlink"
)

// DefaultTimeout bounds every backend request
const DefaultTimeout = 30 * time.Second

// BackendClient is the REST client for the AptSend backend. It implements
// vaultlink.Backend.
type BackendClient struct {
	baseURL       string
	httpClient    *http.Client
	baseTransport http.RoundTripper
	signer        *OwnerSigner
}

var _ vl.Backend = (*BackendClient)(nil)

// ClientOption configures a BackendClient
type ClientOption func(*BackendClient)

// WithHTTPClient sets a custom base HTTP client (for timeouts, TLS config, etc.)
// The transport from this client will be wrapped with request signing.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *BackendClient) {
		if client == nil {
			return
		}
		if client.Transport != nil {
			c.baseTransport = client.Transport
		}
		c.httpClient.Timeout = client.Timeout
		c.httpClient.CheckRedirect = client.CheckRedirect
		c.httpClient.Jar = client.Jar
	}
}

// WithTransport sets a custom base transport (for connection pooling, proxies, etc.)
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *BackendClient) {
		c.baseTransport = transport
	}
}

// WithSigner signs every request with the owner's key
func WithSigner(signer *OwnerSigner) ClientOption {
	return func(c *BackendClient) {
		c.signer = signer
	}
}

// NewBackendClient creates a client for the API rooted at baseURL
// (e.g. https://aptsend-backend.test/api)
func NewBackendClient(baseURL string, opts ...ClientOption) *BackendClient {
	c := &BackendClient{
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient:    &http.Client{Timeout: DefaultTimeout},
		baseTransport: http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.httpClient.Transport = &SignatureTransport{Base: c.baseTransport, Signer: c.signer}
	return c
}

// BaseURL returns the API root this client talks to
func (c *BackendClient) BaseURL() string {
	return c.baseURL
}

// HTTPClient returns the underlying HTTP client
func (c *BackendClient) HTTPClient() *http.Client {
	return c.httpClient
}

func (c *BackendClient) AuthURL(ctx context.Context, ch vl.ChannelType, req vl.AuthURLRequest) (*vl.AuthURLResponse, error) {
	var out vl.AuthURLResponse
	if err := c.do(ctx, http.MethodPost, "/channels/"+string(ch)+"/auth-url", req, &out, "Failed to get auth URL"); err != nil {
		return nil, err
	}
	if out.AuthURL == "" {
		return nil, &vl.BackendError{Status: http.StatusOK, Message: "Backend returned no auth URL"}
	}
	return &out, nil
}

func (c *BackendClient) Callback(ctx context.Context, ch vl.ChannelType, req vl.CallbackRequest) (*vl.CallbackResponse, error) {
	var out vl.CallbackResponse
	fallback := fmt.Sprintf("Failed to connect %s account", channelLabel(ch))
	if err := c.do(ctx, http.MethodPost, "/channels/"+string(ch)+"/callback", req, &out, fallback); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *BackendClient) Unsync(ctx context.Context, ch vl.ChannelType, owner, accountID string) error {
	body := map[string]string{"owner_address": owner, "account_id": accountID}
	fallback := fmt.Sprintf("Failed to unsync %s account", channelLabel(ch))
	return c.do(ctx, http.MethodPost, "/channels/"+string(ch)+"/unsync", body, nil, fallback)
}

type evmLinkRequest struct {
	OwnerAddress string `json:"owner_address"`
	EVMAddress   string `json:"evm_address"`
	ChainID      int64  `json:"chain_id"`
	Message      string `json:"message,omitempty"`
	Signature    string `json:"signature,omitempty"`
}

type solanaLinkRequest struct {
	OwnerAddress  string `json:"owner_address"`
	SolanaAddress string `json:"solana_address"`
	Message       string `json:"message,omitempty"`
	Signature     string `json:"signature,omitempty"`
}

func (c *BackendClient) LinkWallet(ctx context.Context, ch vl.ChannelType, link vl.WalletLink) error {
	var body any
	switch ch {
	case vl.ChannelEVM:
		body = evmLinkRequest{link.OwnerAddress, link.Address, link.ChainID, link.Message, link.Signature}
	case vl.ChannelSolana:
		body = solanaLinkRequest{link.OwnerAddress, link.Address, link.Message, link.Signature}
	default:
		return fmt.Errorf("%w: %s is not a wallet channel", vl.ErrUnknownChannel, ch)
	}
	var out vl.CallbackResponse
	if err := c.do(ctx, http.MethodPost, "/channels/"+string(ch)+"/link-wallet", body, &out, "Failed to link wallet"); err != nil {
		return err
	}
	if !out.Success {
		return &vl.BackendError{Status: http.StatusOK, Message: "Failed to link wallet"}
	}
	return nil
}

func (c *BackendClient) UnlinkWallet(ctx context.Context, ch vl.ChannelType, owner, identityID string) error {
	if ch != vl.ChannelSolana {
		return vl.NotImplementedError(ch, "unlink")
	}
	body := map[string]string{"owner_address": owner, "identity_id": identityID}
	var out struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/channels/sol/unlink-wallet", body, &out, "Failed to unlink wallet"); err != nil {
		return err
	}
	if !out.Success {
		msg := out.Message
		if msg == "" {
			msg = "Failed to unlink wallet"
		}
		return &vl.BackendError{Status: http.StatusOK, Message: msg}
	}
	return nil
}

type identitiesResponse struct {
	Identities          map[string][]vl.ChannelIdentity `json:"identities"`
	PrimaryVaultAddress *string                         `json:"primary_vault_address"`
}

func (c *BackendClient) Identities(ctx context.Context, owner string) (*vl.IdentitySnapshot, error) {
	var out identitiesResponse
	path := "/channels/identities?" + url.Values{"owner_address": {owner}}.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &out, "Failed to fetch identities"); err != nil {
		return nil, err
	}
	snap := vl.EmptySnapshot()
	for key, accounts := range out.Identities {
		ch, err := vl.ParseChannelType(key)
		if err != nil {
			slog.Debug("Skipping identities for unknown channel", "channel", key)
			continue
		}
		snap.Identities[ch] = append(snap.Identities[ch], accounts...)
	}
	if out.PrimaryVaultAddress != nil {
		snap.PrimaryVaultAddress = *out.PrimaryVaultAddress
	}
	return &snap, nil
}

func (c *BackendClient) ResolveIdentity(ctx context.Context, ch vl.ChannelType, identifier string) (string, error) {
	var out struct {
		Success       bool   `json:"success"`
		ChannelUserID string `json:"channel_user_id"`
		Message       string `json:"message"`
	}
	q := url.Values{"channel": {string(ch)}, "identifier": {strings.TrimSpace(identifier)}}
	if err := c.do(ctx, http.MethodGet, "/checker/get-identity?"+q.Encode(), nil, &out, "Failed to resolve identifier"); err != nil {
		return "", err
	}
	if !out.Success || out.ChannelUserID == "" {
		msg := out.Message
		if msg == "" {
			msg = "Failed to resolve identifier"
		}
		return "", &vl.BackendError{Status: http.StatusOK, Message: msg}
	}
	return out.ChannelUserID, nil
}

// errorBody is how the backend reports failures: either field may be set
type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// do sends a JSON request and decodes a JSON answer into out (when non nil).
// Transport failures wrap vaultlink.ErrNetwork; non-2xx answers become a
// *vaultlink.BackendError whose message comes from the body or fallback.
func (c *BackendClient) do(ctx context.Context, method, path string, body, out any, fallback string) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", vl.ErrNetwork, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %v", vl.ErrNetwork, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		_ = json.Unmarshal(data, &eb)
		msg := eb.Message
		if msg == "" {
			msg = eb.Error
		}
		if msg == "" {
			msg = fallback
		}
		return &vl.BackendError{Status: resp.StatusCode, Message: msg}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid response from backend: %w", err)
	}
	return nil
}

func channelLabel(ch vl.ChannelType) string {
	switch ch {
	case vl.ChannelTwitter:
		return "Twitter"
	case vl.ChannelGoogle:
		return "Google"
	case vl.ChannelDiscord:
		return "Discord"
	case vl.ChannelTelegram:
		return "Telegram"
	}
	return string(ch)
}

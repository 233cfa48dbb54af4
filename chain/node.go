// Package chain talks to the Aptos fullnode REST API and the Aptos GraphQL
// indexer: view calls for vaults and routes, transaction confirmation, vault
// balances and entry-function payloads for vault deposits and withdrawals.
package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	vl "github.com/aptsend/vaultlink"
)

const (
	DefaultTxAttempts = 10
	DefaultTxDelay    = time.Second
)

// ErrViewAborted is returned when the node rejects a view call, usually
// because the Move function aborted (no such vault, no such route)
var ErrViewAborted = errors.New("view function aborted")

// Node is a client for the fullnode REST API
type Node struct {
	baseURL       string
	moduleAddress string
	httpClient    *http.Client
	limiter       *rate.Limiter
	txAttempts    int
	txDelay       time.Duration
}

var (
	_ vl.VaultView = (*Node)(nil)
	_ vl.RouteView = (*Node)(nil)
	_ vl.TxWaiter  = (*Node)(nil)
)

// NodeOption configures a Node
type NodeOption func(*Node)

// WithNodeHTTPClient replaces the default HTTP client
func WithNodeHTTPClient(c *http.Client) NodeOption {
	return func(n *Node) {
		if c != nil {
			n.httpClient = c
		}
	}
}

// WithRateLimit caps the rate of requests sent to the node
func WithRateLimit(limit rate.Limit, burst int) NodeOption {
	return func(n *Node) {
		n.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithTxPolling sets how often and how long WaitForTransaction polls
func WithTxPolling(attempts int, delay time.Duration) NodeOption {
	return func(n *Node) {
		if attempts > 0 {
			n.txAttempts = attempts
		}
		if delay >= 0 {
			n.txDelay = delay
		}
	}
}

// NewNode creates a client for the node at baseURL (e.g.
// https://api.testnet.aptoslabs.com) and the AptSend contracts published
// at moduleAddress
func NewNode(baseURL, moduleAddress string, opts ...NodeOption) *Node {
	n := &Node{
		baseURL:       strings.TrimRight(baseURL, "/"),
		moduleAddress: moduleAddress,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		limiter:       rate.NewLimiter(rate.Limit(5), 5),
		txAttempts:    DefaultTxAttempts,
		txDelay:       DefaultTxDelay,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// ModuleAddress is the account the AptSend modules are published under
func (n *Node) ModuleAddress() string { return n.moduleAddress }

type viewRequest struct {
	Function      string   `json:"function"`
	TypeArguments []string `json:"type_arguments"`
	Arguments     []any    `json:"arguments"`
}

// View calls a Move view function and returns its raw return values
func (n *Node) View(ctx context.Context, function string, typeArgs []string, args ...any) ([]json.RawMessage, error) {
	if typeArgs == nil {
		typeArgs = []string{}
	}
	if args == nil {
		args = []any{}
	}
	body, err := json.Marshal(viewRequest{Function: function, TypeArguments: typeArgs, Arguments: args})
	if err != nil {
		return nil, err
	}

	resp, data, err := n.send(ctx, http.MethodPost, "/v1/view", body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, fmt.Errorf("%w: %s: %s", ErrViewAborted, function, nodeMessage(data))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: node returned %d for %s", vl.ErrNetwork, resp.StatusCode, function)
	}

	var out []json.RawMessage
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("invalid view response for %s: %w", function, err)
	}
	return out, nil
}

func (n *Node) send(ctx context.Context, method, path string, body []byte) (*http.Response, []byte, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, n.baseURL+path, reader)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, fmt.Errorf("%w: %v", vl.ErrNetwork, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", vl.ErrNetwork, err)
	}
	return resp, data, nil
}

func nodeMessage(data []byte) string {
	var body struct {
		Message     string `json:"message"`
		VMErrorCode int    `json:"vm_error_code"`
	}
	if json.Unmarshal(data, &body) == nil && body.Message != "" {
		return body.Message
	}
	return strings.TrimSpace(string(data))
}

func (n *Node) fn(module, name string) string {
	return n.moduleAddress + "::" + module + "::" + name
}

// bytesArg encodes a string as a Move vector<u8> argument
func bytesArg(s string) string {
	return "0x" + hex.EncodeToString([]byte(s))
}

// PrimaryVault returns the owner's primary vault, or "" when the owner has
// none yet (including when the view aborts)
func (n *Node) PrimaryVault(ctx context.Context, owner string) (string, error) {
	out, err := n.View(ctx, n.fn("vault_module", "get_primary_vault_for_owner"), nil, owner)
	if errors.Is(err, ErrViewAborted) {
		slog.Debug("No primary vault on chain yet", "owner", owner, "error", err)
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if len(out) == 0 {
		return "", nil
	}
	return decodeOptionalAddress(out[0])
}

// decodeOptionalAddress accepts either a plain address or a Move Option
// ({"vec": []} / {"vec": ["0x.."]})
func decodeOptionalAddress(raw json.RawMessage) (string, error) {
	var addr string
	if err := json.Unmarshal(raw, &addr); err == nil {
		return addr, nil
	}
	var opt struct {
		Vec []string `json:"vec"`
	}
	if err := json.Unmarshal(raw, &opt); err != nil {
		return "", fmt.Errorf("unexpected vault value %s", raw)
	}
	if len(opt.Vec) == 0 {
		return "", nil
	}
	return opt.Vec[0], nil
}

func (n *Node) RouteExists(ctx context.Context, channel, channelUserID string) (bool, error) {
	out, err := n.View(ctx, n.fn("aptsend", "route_exists"), nil, bytesArg(channel), bytesArg(channelUserID))
	if err != nil {
		return false, err
	}
	if len(out) == 0 {
		return false, fmt.Errorf("route_exists returned no value")
	}
	var exists bool
	if err := json.Unmarshal(out[0], &exists); err != nil {
		return false, fmt.Errorf("unexpected route_exists value %s", out[0])
	}
	return exists, nil
}

type socialRoute struct {
	TargetVault      string     `json:"target_vault"`
	Status           moveNumber `json:"status"`
	Channel          string     `json:"channel"`
	CreatedAtSeconds moveNumber `json:"created_at_seconds"`
}

func (n *Node) SocialRoute(ctx context.Context, channel, channelUserID string) (*vl.SocialRoute, error) {
	out, err := n.View(ctx, n.fn("aptsend", "get_social_route"), nil, bytesArg(channel), bytesArg(channelUserID))
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("get_social_route returned no value")
	}
	var r socialRoute
	if err := json.Unmarshal(out[0], &r); err != nil {
		return nil, fmt.Errorf("unexpected social route %s: %w", out[0], err)
	}
	return &vl.SocialRoute{
		TargetVault:      r.TargetVault,
		Status:           int(r.Status),
		Channel:          decodeMoveString(r.Channel),
		CreatedAtSeconds: int64(r.CreatedAtSeconds),
	}, nil
}

func (n *Node) VaultAPTBalance(ctx context.Context, vault string) (uint64, error) {
	out, err := n.View(ctx, n.fn("aptsend", "get_vault_apt_balance"), nil, vault)
	if err != nil {
		return 0, err
	}
	if len(out) == 0 {
		return 0, fmt.Errorf("get_vault_apt_balance returned no value")
	}
	var v moveNumber
	if err := json.Unmarshal(out[0], &v); err != nil {
		return 0, err
	}
	return uint64(v), nil
}

// WaitForTransaction polls the node until the transaction is committed
// successfully. It returns false, without an error, when the transaction
// failed or did not land within the polling window.
func (n *Node) WaitForTransaction(ctx context.Context, hash string) (bool, error) {
	for i := 0; i < n.txAttempts; i++ {
		resp, data, err := n.send(ctx, http.MethodGet, "/v1/transactions/by_hash/"+hash, nil)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			slog.Debug("Waiting for transaction confirmation", "hash", hash, "attempt", i+1, "error", err)
		} else if resp.StatusCode == http.StatusOK {
			var tx struct {
				Type    string `json:"type"`
				Success bool   `json:"success"`
			}
			if json.Unmarshal(data, &tx) == nil && tx.Success {
				slog.Info("Transaction confirmed", "hash", hash)
				return true, nil
			}
		}

		if i == n.txAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(n.txDelay):
		}
	}
	slog.Warn("Transaction confirmation timeout", "hash", hash)
	return false, nil
}

// moveNumber decodes Move integers, which the node renders as JSON strings
// for u64 and wider and as JSON numbers for smaller types
type moveNumber uint64

func (m *moveNumber) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid move integer %s", data)
	}
	*m = moveNumber(v)
	return nil
}

// decodeMoveString turns a hex encoded vector<u8> back into text; anything
// else is returned unchanged
func decodeMoveString(s string) string {
	if !strings.HasPrefix(s, "0x") {
		return s
	}
	b, err := hex.DecodeString(s[2:])
	if err != nil {
		return s
	}
	return string(b)
}

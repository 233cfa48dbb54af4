package chain

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	vl "github.com/aptsend/vaultlink"
)

const testModule = "0xa11ce"

// viewServer answers /v1/view by dispatching on the function name
func viewServer(t *testing.T, handle func(fn string, args []any) (int, string)) *Node {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/view" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var req viewRequest
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		status, out := handle(req.Function, req.Arguments)
		w.WriteHeader(status)
		io.WriteString(w, out)
	}))
	t.Cleanup(srv.Close)
	return NewNode(srv.URL, testModule, WithRateLimit(rate.Inf, 1))
}

func TestNode_PrimaryVault(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"plain address", http.StatusOK, `["0xvault"]`, "0xvault"},
		{"some option", http.StatusOK, `[{"vec":["0xvault"]}]`, "0xvault"},
		{"none option", http.StatusOK, `[{"vec":[]}]`, ""},
		{"abort", http.StatusBadRequest, `{"message":"Move abort","vm_error_code":4016}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := viewServer(t, func(fn string, args []any) (int, string) {
				assert.Equal(t, testModule+"::vault_module::get_primary_vault_for_owner", fn)
				assert.Equal(t, []any{"0xowner"}, args)
				return tt.status, tt.body
			})
			got, err := node.PrimaryVault(context.Background(), "0xowner")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNode_ServerErrorIsNetworkFailure(t *testing.T) {
	node := viewServer(t, func(string, []any) (int, string) {
		return http.StatusBadGateway, ``
	})
	_, err := node.PrimaryVault(context.Background(), "0xowner")
	assert.ErrorIs(t, err, vl.ErrNetwork)
}

func TestNode_Routes(t *testing.T) {
	node := viewServer(t, func(fn string, args []any) (int, string) {
		switch fn {
		case testModule + "::aptsend::route_exists":
			// "twitter" and "42" as vector<u8>
			assert.Equal(t, []any{"0x74776974746572", "0x3432"}, args)
			return http.StatusOK, `[true]`
		case testModule + "::aptsend::get_social_route":
			return http.StatusOK, `[{"target_vault":"0xvault","status":0,"channel":"0x74776974746572","created_at_seconds":"1700000000"}]`
		case testModule + "::aptsend::get_vault_apt_balance":
			return http.StatusOK, `["150000000"]`
		}
		return http.StatusBadRequest, `{"message":"unknown function"}`
	})
	ctx := context.Background()

	exists, err := node.RouteExists(ctx, "twitter", "42")
	require.NoError(t, err)
	assert.True(t, exists)

	route, err := node.SocialRoute(ctx, "twitter", "42")
	require.NoError(t, err)
	assert.Equal(t, &vl.SocialRoute{TargetVault: "0xvault", Status: 0, Channel: "twitter", CreatedAtSeconds: 1700000000}, route)

	octas, err := node.VaultAPTBalance(ctx, "0xvault")
	require.NoError(t, err)
	assert.Equal(t, uint64(150000000), octas)
}

func TestNode_RouteExistsAbort(t *testing.T) {
	node := viewServer(t, func(string, []any) (int, string) {
		return http.StatusBadRequest, `{"message":"E_ROUTE_TABLE_MISSING"}`
	})
	_, err := node.RouteExists(context.Background(), "discord", "1")
	assert.ErrorIs(t, err, ErrViewAborted)
	assert.Contains(t, err.Error(), "E_ROUTE_TABLE_MISSING")
}

func TestNode_WaitForTransaction(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transactions/by_hash/0xabc", r.URL.Path)
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		io.WriteString(w, `{"type":"user_transaction","success":true}`)
	}))
	defer srv.Close()

	node := NewNode(srv.URL, testModule, WithRateLimit(rate.Inf, 1), WithTxPolling(5, time.Millisecond))
	ok, err := node.WaitForTransaction(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int32(3), calls.Load())
}

func TestNode_WaitForTransactionGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		io.WriteString(w, `{"type":"user_transaction","success":false}`)
	}))
	defer srv.Close()

	node := NewNode(srv.URL, testModule, WithRateLimit(rate.Inf, 1), WithTxPolling(4, time.Millisecond))
	ok, err := node.WaitForTransaction(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int32(4), calls.Load())
}

func TestNode_WaitForTransactionCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	node := NewNode(srv.URL, testModule, WithRateLimit(rate.Inf, 1))
	_, err := node.WaitForTransaction(ctx, "0xabc")
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestIndexer_Balances(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		var req graphqlRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "0xvault", req.Variables["address"])
		io.WriteString(w, `{"data":{"current_fungible_asset_balances":[
			{"asset_type":"0x1::aptos_coin::AptosCoin","amount":"123456789012","metadata":{"name":"Aptos Coin","symbol":"APT","decimals":8}},
			{"asset_type":"0xusdc","amount":2500000,"metadata":{"name":"USD Coin","symbol":"usdc","decimals":6}},
			{"asset_type":"0xusdt","amount":"0","metadata":{"name":"Tether","symbol":"USDT","decimals":6}}
		]}}`)
	}))
	defer srv.Close()

	got, err := NewIndexer(srv.URL, "key-1", nil).Balances(context.Background(), "0xvault")
	require.NoError(t, err)
	assert.Equal(t, &vl.VaultBalances{APT: "1,234.57", USDC: "2.50"}, got)
}

func TestIndexer_EmptyAndErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		io.WriteString(w, `{"data":{"current_fungible_asset_balances":[]}}`)
	}))
	defer srv.Close()
	got, err := NewIndexer(srv.URL, "", nil).Balances(context.Background(), "0xnew")
	require.NoError(t, err)
	assert.Equal(t, &vl.VaultBalances{APT: "0.00"}, got)

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"errors":[{"message":"field not found"}]}`)
	}))
	defer bad.Close()
	_, err = NewIndexer(bad.URL, "", nil).Balances(context.Background(), "0xnew")
	assert.ErrorContains(t, err, "field not found")
}

func TestFormatDisplay(t *testing.T) {
	tests := map[string]string{
		"0":          "0.00",
		"0.005":      "0.01",
		"999.999":    "1,000.00",
		"1234567.8":  "1,234,567.80",
		"-12345.678": "-12,345.68",
	}
	for in, want := range tests {
		assert.Equal(t, want, FormatDisplay(decimal.RequireFromString(in)), in)
	}
}

func TestPayloads(t *testing.T) {
	m := Module{Address: testModule, Name: "aptsend"}

	p, err := DepositPayload(m, "1.5")
	require.NoError(t, err)
	assert.Equal(t, testModule+"::aptsend::deposit_to_primary_vault", p.Function)
	assert.Equal(t, []any{"150000000"}, p.Arguments)

	p, err = WithdrawPayload(m, "0xdest", "0.123456789")
	require.NoError(t, err)
	assert.Equal(t, []any{"0xdest", "12345678"}, p.Arguments, "extra precision is floored")

	p, err = DepositFAPayload(m, "0xmeta", "2.5", DefaultFADecimals)
	require.NoError(t, err)
	assert.Equal(t, testModule+"::aptsend::deposit_fa_to_primary_vault", p.Function)
	assert.Equal(t, []any{"0xmeta", "2500000"}, p.Arguments)

	p, err = WithdrawFAPayload(m, "0xmeta", "0xdest", "1", 6)
	require.NoError(t, err)
	assert.Equal(t, []any{"0xmeta", "0xdest", "1000000"}, p.Arguments)
}

func TestSendPayload(t *testing.T) {
	m := Module{Address: testModule, Name: "aptsend"}

	p, err := SendPayload(m, vl.ChannelDiscord, "123456789", "0.25")
	require.NoError(t, err)
	assert.Equal(t, testModule+"::aptsend::send_from_primary_vault", p.Function)
	assert.Equal(t, []any{"discord", "123456789", "25000000"}, p.Arguments)

	_, err = SendPayload(m, vl.ChannelDiscord, "123456789", "0")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = SendPayload(m, vl.ChannelDiscord, "", "1")
	assert.Error(t, err)
}

func TestToUnitsRejectsBadAmounts(t *testing.T) {
	for _, amount := range []string{"", "abc", "0", "-1", "0.000000001"} {
		_, err := ToUnits(amount, 8)
		assert.ErrorIs(t, err, ErrInvalidAmount, amount)
	}
}

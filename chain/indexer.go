package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	vl "github.com/aptsend/vaultlink"
)

const balancesQuery = `query GetBalances($address: String!) {
  current_fungible_asset_balances(where: {owner_address: {_eq: $address}}) {
    asset_type
    amount
    metadata {
      name
      symbol
      decimals
    }
  }
}`

// Indexer reads fungible asset balances from the Aptos GraphQL indexer
type Indexer struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

var _ vl.BalanceIndexer = (*Indexer)(nil)

// NewIndexer creates an indexer client. apiKey is optional; when set it is
// sent as a bearer token.
func NewIndexer(endpoint, apiKey string, httpClient *http.Client) *Indexer {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Indexer{endpoint: endpoint, apiKey: apiKey, httpClient: httpClient}
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type fungibleAssetBalance struct {
	AssetType string          `json:"asset_type"`
	Amount    json.RawMessage `json:"amount"`
	Metadata  struct {
		Name     string `json:"name"`
		Symbol   string `json:"symbol"`
		Decimals int32  `json:"decimals"`
	} `json:"metadata"`
}

type balancesResponse struct {
	Data struct {
		Balances []fungibleAssetBalance `json:"current_fungible_asset_balances"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Balances returns APT, USDC and USDT balances for address with two
// decimals. APT is always set ("0.00" when absent); the stablecoins only
// when positive.
func (i *Indexer) Balances(ctx context.Context, address string) (*vl.VaultBalances, error) {
	body, err := json.Marshal(graphqlRequest{Query: balancesQuery, Variables: map[string]any{"address": address}})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if i.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+i.apiKey)
	}

	resp, err := i.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", vl.ErrNetwork, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vl.ErrNetwork, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch balances: %s", http.StatusText(resp.StatusCode))
	}

	var out balancesResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("invalid indexer response: %w", err)
	}
	if len(out.Errors) > 0 {
		return nil, fmt.Errorf("indexer error: %s", out.Errors[0].Message)
	}

	result := &vl.VaultBalances{APT: "0.00"}
	for _, b := range out.Data.Balances {
		amount, err := decimal.NewFromString(strings.Trim(string(b.Amount), `"`))
		if err != nil {
			continue
		}
		amount = amount.Shift(-b.Metadata.Decimals)
		if !amount.IsPositive() {
			continue
		}
		formatted := FormatDisplay(amount)
		switch strings.ToUpper(b.Metadata.Symbol) {
		case "APT":
			result.APT = formatted
		case "USDC":
			result.USDC = formatted
		case "USDT":
			result.USDT = formatted
		}
	}
	return result, nil
}

// FormatDisplay renders an amount with two decimals and thousands separators
func FormatDisplay(amount decimal.Decimal) string {
	s := amount.StringFixed(2)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	whole, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := b.String() + "." + frac
	if neg {
		out = "-" + out
	}
	return out
}

package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	vl "github.com/aptsend/vaultlink"
)

// Default configuration values used when a field is missing in TOML.
const (
	DefaultConfigPath   = "linkctl.toml"
	DefaultNodeURL      = "https://api.testnet.aptoslabs.com"
	DefaultIndexerURL   = "https://api.testnet.aptoslabs.com/v1/graphql"
	DefaultModuleName   = "aptsend"
	DefaultListenAddr   = "127.0.0.1:0"
	DefaultPopupTimeout = "5m"
	DefaultStoreKind    = "memory"
)

// Config is the root linkctl configuration loaded from TOML.
type Config struct {
	Log     LogConfig     `toml:"log"`
	Backend BackendConfig `toml:"backend"`
	Chain   ChainConfig   `toml:"chain"`
	Server  ServerConfig  `toml:"server"`
	Store   StoreConfig   `toml:"store"`
	Wallets WalletsConfig `toml:"wallets"`
}

// LogConfig holds logging level and format (e.g. level=info, format=text).
type LogConfig struct {
	Level  string `toml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `toml:"format" validate:"omitempty,oneof=text json"`
}

// BackendConfig points at the AptSend REST API.
type BackendConfig struct {
	URL string `toml:"url" validate:"required,url"`
	// Owner is used when no credential is stored for the backend
	Owner string `toml:"owner"`
	// CredentialsPath defaults to ~/.config/vaultlink/owners.json
	CredentialsPath string `toml:"credentials_path"`
}

// ChainConfig holds the Aptos node, indexer and contract location.
type ChainConfig struct {
	NodeURL       string  `toml:"node_url" validate:"required,url"`
	IndexerURL    string  `toml:"indexer_url" validate:"required,url"`
	IndexerAPIKey string  `toml:"indexer_api_key"`
	ModuleAddress string  `toml:"module_address" validate:"required"`
	ModuleName    string  `toml:"module_name" validate:"required"`
	RateLimit     float64 `toml:"rate_limit" validate:"gte=0"`
}

// ServerConfig holds the loopback server and control API settings.
type ServerConfig struct {
	Addr                string `toml:"addr"`
	TelegramBotUsername string `toml:"telegram_bot_username"`
	JWTSecret           string `toml:"jwt_secret"`
	PopupTimeout        string `toml:"popup_timeout"`
}

// StoreConfig selects where pending exchanges and cached balances live.
// Kind is one of memory, fs, postgres or datastore.
type StoreConfig struct {
	Kind      string `toml:"kind" validate:"oneof=memory fs postgres datastore"`
	Path      string `toml:"path" validate:"required_if=Kind fs"`
	DSN       string `toml:"dsn" validate:"required_if=Kind postgres"`
	ProjectID string `toml:"project_id" validate:"required_if=Kind datastore"`
	Namespace string `toml:"namespace"`
}

// WalletsConfig holds the keys backing the wallet channels. Keys may also
// come from VAULTLINK_EVM_PRIVATE_KEY and VAULTLINK_SOLANA_PRIVATE_KEY.
type WalletsConfig struct {
	EVMPrivateKey    string `toml:"evm_private_key"`
	EVMChainID       int64  `toml:"evm_chain_id" validate:"gte=0"`
	SolanaPrivateKey string `toml:"solana_private_key"`
	// Confirm asks on the terminal before every signature
	Confirm bool `toml:"confirm"`
}

// PopupTimeoutDuration parses PopupTimeout, falling back to the default
func (c ServerConfig) PopupTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.PopupTimeout)
	if err != nil || d <= 0 {
		return vl.PopupTimeout
	}
	return d
}

// Load reads and parses the TOML config file at path and applies default
// values for missing fields. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Chain: ChainConfig{
			NodeURL:    DefaultNodeURL,
			IndexerURL: DefaultIndexerURL,
			ModuleName: DefaultModuleName,
			RateLimit:  5,
		},
		Server: ServerConfig{
			Addr:         DefaultListenAddr,
			PopupTimeout: DefaultPopupTimeout,
		},
		Store: StoreConfig{
			Kind: DefaultStoreKind,
		},
		Wallets: WalletsConfig{
			EVMChainID: 1,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, err
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	setFromEnv(&c.Backend.URL, "VAULTLINK_BACKEND_URL")
	setFromEnv(&c.Backend.Owner, "VAULTLINK_OWNER")
	setFromEnv(&c.Chain.ModuleAddress, "VAULTLINK_MODULE_ADDRESS")
	setFromEnv(&c.Chain.IndexerAPIKey, "VAULTLINK_INDEXER_API_KEY")
	setFromEnv(&c.Server.JWTSecret, "VAULTLINK_JWT_SECRET_KEY")
	setFromEnv(&c.Wallets.EVMPrivateKey, "VAULTLINK_EVM_PRIVATE_KEY")
	setFromEnv(&c.Wallets.SolanaPrivateKey, "VAULTLINK_SOLANA_PRIVATE_KEY")
}

func setFromEnv(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

// Validate checks the loaded configuration
func (c Config) Validate() error {
	return vl.Validator().Struct(c)
}

// Package config defines all infrastructure configuration for the engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via STRIKE_* environment variables.
//
// Operator-tunable trading settings (auto-entry thresholds, spike-alert
// thresholds, trade preferences, auto-stop) are NOT here: they live in the
// persisted settings table so the UI can change them at runtime. A missing
// required setting disables the affected component rather than defaulting.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Symbol      string          `mapstructure:"symbol"`       // e.g. "btc"
	AccountMode string          `mapstructure:"account_mode"` // "demo" or "prod"
	Broker      BrokerConfig    `mapstructure:"broker"`
	Feed        FeedConfig      `mapstructure:"feed"`
	Snapshot    SnapshotConfig  `mapstructure:"snapshot"`
	Orderbook   OrderbookConfig `mapstructure:"orderbook"`
	Strike      StrikeConfig    `mapstructure:"strike"`
	Store       StoreConfig     `mapstructure:"store"`
	Server      ServerConfig    `mapstructure:"server"`
	Notify      NotifyConfig    `mapstructure:"notify"`
	Logging     LoggingConfig   `mapstructure:"logging"`
}

// BrokerConfig holds the broker API endpoints and credential locations.
// Base URLs are selected by account mode; CredentialsDir contains one
// subdirectory per mode with a .env (API key id) and a PEM private key.
type BrokerConfig struct {
	ProdBaseURL    string `mapstructure:"prod_base_url"`
	DemoBaseURL    string `mapstructure:"demo_base_url"`
	ProdWSURL      string `mapstructure:"prod_ws_url"`
	DemoWSURL      string `mapstructure:"demo_ws_url"`
	APIPathPrefix  string `mapstructure:"api_path_prefix"` // "/trade-api/v2"
	WSPathPrefix   string `mapstructure:"ws_path_prefix"`  // "/trade-api/ws/v2"
	CredentialsDir string `mapstructure:"credentials_dir"`
}

// BaseURL returns the REST base URL for the configured account mode.
func (c *Config) BaseURL() string {
	if c.AccountMode == "demo" {
		return c.Broker.DemoBaseURL
	}
	return c.Broker.ProdBaseURL
}

// WSURL returns the WebSocket URL for the configured account mode.
func (c *Config) WSURL() string {
	if c.AccountMode == "demo" {
		return c.Broker.DemoWSURL
	}
	return c.Broker.ProdWSURL
}

// Credentials is the broker API credential pair: a key id from the
// per-mode .env file and the path to the RSA private key used for
// request signing.
type Credentials struct {
	KeyID       string
	PrivateKeyPath string
}

// LoadCredentials reads the credential .env for the configured account
// mode. The PEM itself is parsed lazily by the broker auth layer.
func (c *Config) LoadCredentials() (Credentials, error) {
	dir := filepath.Join(c.Broker.CredentialsDir, c.AccountMode)
	vars, err := godotenv.Read(filepath.Join(dir, ".env"))
	if err != nil {
		return Credentials{}, fmt.Errorf("read credentials env: %w", err)
	}
	keyID := vars["BROKER_API_KEY_ID"]
	if keyID == "" {
		return Credentials{}, fmt.Errorf("BROKER_API_KEY_ID missing in %s/.env", dir)
	}
	return Credentials{
		KeyID:          keyID,
		PrivateKeyPath: filepath.Join(dir, "broker.pem"),
	}, nil
}

// FeedConfig controls the public price ticker feed.
type FeedConfig struct {
	URL       string `mapstructure:"url"`        // public ticker WebSocket URL
	ProductID string `mapstructure:"product_id"` // e.g. "BTC-USD"
}

// SnapshotConfig controls the market snapshot worker.
type SnapshotConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	SeriesTicker string        `mapstructure:"series_ticker"` // e.g. "KXBTCD"
}

// OrderbookConfig controls the orderbook delta consumer.
type OrderbookConfig struct {
	NearMoneyCount int `mapstructure:"near_money_count"` // top N contracts by |strike - price|
}

// StrikeConfig controls the strike-table generator.
type StrikeConfig struct {
	Levels int `mapstructure:"levels"` // strikes either side of the money line, max 10
}

// StoreConfig sets where the database and on-disk artifacts live.
type StoreConfig struct {
	DBPath  string `mapstructure:"db_path"`
	DataDir string `mapstructure:"data_dir"` // strike_tables/, live_probabilities/, active_trades/
}

// ServerConfig controls the inter-component HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// NotifyConfig lists peer notification endpoints for cross-process
// fan-out. Empty URLs disable the corresponding target.
type NotifyConfig struct {
	UIBaseURL      string        `mapstructure:"ui_base_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive or deployment-specific fields use env vars with the STRIKE_
// prefix, e.g. STRIKE_ACCOUNT_MODE, STRIKE_STORE_DB_PATH.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("STRIKE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if mode := os.Getenv("STRIKE_ACCOUNT_MODE"); mode != "" {
		cfg.AccountMode = mode
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	switch c.AccountMode {
	case "demo", "prod":
	default:
		return fmt.Errorf("account_mode must be demo or prod, got %q", c.AccountMode)
	}
	if c.BaseURL() == "" {
		return fmt.Errorf("broker base URL for mode %q is required", c.AccountMode)
	}
	if c.WSURL() == "" {
		return fmt.Errorf("broker ws URL for mode %q is required", c.AccountMode)
	}
	if c.Broker.CredentialsDir == "" {
		return fmt.Errorf("broker.credentials_dir is required")
	}
	if c.Feed.URL == "" || c.Feed.ProductID == "" {
		return fmt.Errorf("feed.url and feed.product_id are required")
	}
	if c.Snapshot.SeriesTicker == "" {
		return fmt.Errorf("snapshot.series_ticker is required")
	}
	if c.Store.DBPath == "" {
		return fmt.Errorf("store.db_path is required")
	}
	if c.Store.DataDir == "" {
		return fmt.Errorf("store.data_dir is required")
	}
	if c.Strike.Levels <= 0 || c.Strike.Levels > 10 {
		return fmt.Errorf("strike.levels must be in 1..10, got %d", c.Strike.Levels)
	}
	if c.Orderbook.NearMoneyCount <= 0 {
		return fmt.Errorf("orderbook.near_money_count must be > 0")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

package infra

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"solpay_relay/internal/domain"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultUserAgent is sent on outbound HTTP calls
	DefaultUserAgent = "solpay-relay/1.0"

	DefaultConfigPath = "configs/config.yaml"
)

// Config holds every setting of the relay.
// LoadConfig fills it from YAML, then applies RELAY_* environment overrides.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Server struct {
		Addr           string `yaml:"addr"`
		ReadTimeoutSec int    `yaml:"read_timeout_sec"`
	} `yaml:"server"`

	Solana struct {
		RPCURL     string `yaml:"rpc_url"`
		WSURL      string `yaml:"ws_url"`
		Commitment string `yaml:"commitment"`
	} `yaml:"solana"`

	ExchangeRate struct {
		URL            string  `yaml:"url"`
		BaseAsset      string  `yaml:"base_asset"`
		TimeoutSec     int     `yaml:"timeout_sec"`
		RequestsPerSec float64 `yaml:"requests_per_sec"`
		Retries        int     `yaml:"retries"`
	} `yaml:"exchange_rate"`

	Watch struct {
		Qualify          string `yaml:"qualify"` // "succeeded" or "contains"
		Marker           string `yaml:"marker"`
		LookupTimeoutSec int    `yaml:"lookup_timeout_sec"`
	} `yaml:"watch"`

	Relay struct {
		NotifyNonPositive *bool `yaml:"notify_non_positive"`
		SendTimeoutSec    int   `yaml:"send_timeout_sec"`
	} `yaml:"relay"`

	Session struct {
		PingIntervalSec int `yaml:"ping_interval_sec"`
		ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	} `yaml:"session"`

	Storage struct {
		Path string `yaml:"path"` // empty disables payment history
	} `yaml:"storage"`

	Broker struct {
		AMQPURL    string `yaml:"amqp_url"` // empty disables fan-out
		Exchange   string `yaml:"exchange"`
		RoutingKey string `yaml:"routing_key"`
	} `yaml:"broker"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the config file.
// A missing file is not an error: defaults and environment still apply.
func LoadConfig(path string) (*Config, error) {
	// .env is optional and only feeds the environment overrides below
	_ = godotenv.Load()

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, &domain.ConfigError{Field: path, Err: err}
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	cfg.applyDefaults()
	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "solpay-relay"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":3000"
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = 15
	}
	if c.Solana.RPCURL == "" {
		c.Solana.RPCURL = "https://api.devnet.solana.com"
	}
	if c.Solana.WSURL == "" {
		c.Solana.WSURL = "wss://api.devnet.solana.com"
	}
	if c.Solana.Commitment == "" {
		c.Solana.Commitment = "confirmed"
	}
	if c.ExchangeRate.URL == "" {
		c.ExchangeRate.URL = "https://api.coingecko.com/api/v3/simple/price"
	}
	if c.ExchangeRate.BaseAsset == "" {
		c.ExchangeRate.BaseAsset = "solana"
	}
	if c.ExchangeRate.TimeoutSec <= 0 {
		c.ExchangeRate.TimeoutSec = 10
	}
	if c.ExchangeRate.RequestsPerSec <= 0 {
		c.ExchangeRate.RequestsPerSec = 0.5
	}
	if c.ExchangeRate.Retries <= 0 {
		c.ExchangeRate.Retries = 3
	}
	if c.Watch.Qualify == "" {
		c.Watch.Qualify = "succeeded"
	}
	if c.Watch.Marker == "" {
		c.Watch.Marker = "success"
	}
	if c.Watch.LookupTimeoutSec <= 0 {
		c.Watch.LookupTimeoutSec = 15
	}
	if c.Relay.NotifyNonPositive == nil {
		notify := true
		c.Relay.NotifyNonPositive = &notify
	}
	if c.Relay.SendTimeoutSec <= 0 {
		c.Relay.SendTimeoutSec = 5
	}
	if c.Session.PingIntervalSec <= 0 {
		c.Session.PingIntervalSec = 25
	}
	if c.Session.ReadTimeoutSec <= 0 {
		c.Session.ReadTimeoutSec = 60
	}
	if c.Broker.Exchange == "" {
		c.Broker.Exchange = "payments"
	}
	if c.Broker.RoutingKey == "" {
		c.Broker.RoutingKey = "payment.detected"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = "logs"
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if !hasPrefix(c.Solana.RPCURL, "http://") && !hasPrefix(c.Solana.RPCURL, "https://") {
		return &domain.ConfigError{Field: "solana.rpc_url", Err: fmt.Errorf("not an http(s) url: %q", c.Solana.RPCURL)}
	}
	if !hasPrefix(c.Solana.WSURL, "ws://") && !hasPrefix(c.Solana.WSURL, "wss://") {
		return &domain.ConfigError{Field: "solana.ws_url", Err: fmt.Errorf("not a ws(s) url: %q", c.Solana.WSURL)}
	}
	switch c.Solana.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		return &domain.ConfigError{Field: "solana.commitment", Err: fmt.Errorf("unknown level %q", c.Solana.Commitment)}
	}
	switch c.Watch.Qualify {
	case "succeeded", "contains":
	default:
		return &domain.ConfigError{Field: "watch.qualify", Err: fmt.Errorf("unknown policy %q", c.Watch.Qualify)}
	}
	if c.Broker.AMQPURL != "" && !hasPrefix(c.Broker.AMQPURL, "amqp://") && !hasPrefix(c.Broker.AMQPURL, "amqps://") {
		return &domain.ConfigError{Field: "broker.amqp_url", Err: errors.New("scheme must be amqp:// or amqps://")}
	}
	return nil
}

// LookupTimeout bounds each ledger or rate call made on behalf of a watch.
func (c *Config) LookupTimeout() time.Duration {
	return time.Duration(c.Watch.LookupTimeoutSec) * time.Second
}

// SendTimeout bounds a single session write.
func (c *Config) SendTimeout() time.Duration {
	return time.Duration(c.Relay.SendTimeoutSec) * time.Second
}

func hasPrefix(s, prefix string) bool {
	return strings.HasPrefix(s, prefix)
}

// overrideWithEnv replaces values when the matching environment variable is set.
func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("RELAY_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("RELAY_SOLANA_RPC_URL"); v != "" {
		cfg.Solana.RPCURL = v
	}
	if v := os.Getenv("RELAY_SOLANA_WS_URL"); v != "" {
		cfg.Solana.WSURL = v
	}
	if v := os.Getenv("RELAY_RATE_URL"); v != "" {
		cfg.ExchangeRate.URL = v
	}
	if v := os.Getenv("RELAY_AMQP_URL"); v != "" {
		cfg.Broker.AMQPURL = v
	}
	if v := os.Getenv("RELAY_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("RELAY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("RELAY_NOTIFY_NON_POSITIVE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Relay.NotifyNonPositive = &b
		}
	}
}

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvLedgerEndpoint  = "ESTATE_LEDGER_ENDPOINT"
	EnvContractAddress = "ESTATE_CONTRACT_ADDRESS"
	EnvAuthSecret      = "ESTATE_AUTH_SECRET"
)

type LedgerConfig struct {
	Endpoint        string        `yaml:"endpoint"`
	ContractAddress string        `yaml:"contractAddress"`
	ABIFile         string        `yaml:"abiFile"`
	UnlockDuration  time.Duration `yaml:"unlockDuration"`
	CallTimeout     time.Duration `yaml:"callTimeout"`
}

// Contract returns the configured contract address.
func (l LedgerConfig) Contract() common.Address {
	return common.HexToAddress(strings.TrimSpace(l.ContractAddress))
}

// JournalConfig selects the receipt journal database. An empty DSN disables
// the journal.
type JournalConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

func (j JournalConfig) Enabled() bool {
	return strings.TrimSpace(j.DSN) != ""
}

type RateLimitConfig struct {
	ID                string   `yaml:"id"`
	RequestsPerMinute float64  `yaml:"requestsPerMinute"`
	RatePerSecond     float64  `yaml:"ratePerSecond"`
	Burst             int      `yaml:"burst"`
	Paths             []string `yaml:"paths"`
}

type ObservabilityConfig struct {
	ServiceName   string  `yaml:"serviceName"`
	Environment   string  `yaml:"environment"`
	Metrics       bool    `yaml:"metrics"`
	Tracing       bool    `yaml:"tracing"`
	LogRequests   bool    `yaml:"logRequests"`
	MetricsPrefix string  `yaml:"metricsPrefix"`
	OTLPEndpoint  string  `yaml:"otlpEndpoint"`
	OTLPInsecure  bool    `yaml:"otlpInsecure"`
	SampleRatio   float64 `yaml:"sampleRatio"`
}

type LoggingConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// CORSConfig lists browser origins allowed to call the gateway. Empty disables
// CORS headers entirely.
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowedOrigins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
}

type SecurityConfig struct {
	TLSCertFile string `yaml:"tlsCertFile"`
	TLSKeyFile  string `yaml:"tlsKeyFile"`
}

type Config struct {
	ListenAddress  string              `yaml:"listen"`
	ReadTimeout    time.Duration       `yaml:"readTimeout"`
	WriteTimeout   time.Duration       `yaml:"writeTimeout"`
	IdleTimeout    time.Duration       `yaml:"idleTimeout"`
	// MaxConnections caps concurrently accepted connections. Zero means no cap.
	MaxConnections int                 `yaml:"maxConnections"`
	Ledger         LedgerConfig        `yaml:"ledger"`
	Journal        JournalConfig       `yaml:"journal"`
	RateLimits     []RateLimitConfig   `yaml:"rateLimits"`
	Observability  ObservabilityConfig `yaml:"observability"`
	Logging        LoggingConfig       `yaml:"logging"`
	Auth           AuthConfig          `yaml:"auth"`
	Security       SecurityConfig      `yaml:"security"`
	CORS           CORSConfig          `yaml:"cors"`
}

// AuthConfig controls the bearer tokens issued on login. When enabled every
// account-scoped route requires a token whose subject is that account.
type AuthConfig struct {
	Enabled    bool          `yaml:"enabled"`
	HMACSecret string        `yaml:"hmacSecret"`
	Issuer     string        `yaml:"issuer"`
	Audience   string        `yaml:"audience"`
	TokenTTL   time.Duration `yaml:"tokenTTL"`
	ClockSkew  time.Duration `yaml:"clockSkew"`
	enabledSet bool          `yaml:"-"`
}

func (a *AuthConfig) UnmarshalYAML(node *yaml.Node) error {
	type rawAuthConfig struct {
		Enabled    *bool         `yaml:"enabled"`
		HMACSecret string        `yaml:"hmacSecret"`
		Issuer     string        `yaml:"issuer"`
		Audience   string        `yaml:"audience"`
		TokenTTL   time.Duration `yaml:"tokenTTL"`
		ClockSkew  time.Duration `yaml:"clockSkew"`
	}
	var raw rawAuthConfig
	if err := node.Decode(&raw); err != nil {
		return err
	}
	a.Enabled = raw.Enabled != nil && *raw.Enabled
	a.enabledSet = raw.Enabled != nil
	a.HMACSecret = raw.HMACSecret
	a.Issuer = raw.Issuer
	a.Audience = raw.Audience
	a.TokenTTL = raw.TokenTTL
	a.ClockSkew = raw.ClockSkew
	return nil
}

func defaults() Config {
	return Config{
		ListenAddress: ":8080",
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  30 * time.Second,
		IdleTimeout:   120 * time.Second,
		Ledger: LedgerConfig{
			Endpoint: "http://127.0.0.1:8545",
		},
		Journal: JournalConfig{
			Driver: "sqlite",
		},
		Observability: ObservabilityConfig{
			ServiceName:   "estate-gateway",
			Metrics:       true,
			Tracing:       false,
			LogRequests:   true,
			MetricsPrefix: "estate_gateway",
		},
		Auth: AuthConfig{
			Enabled:    true,
			Issuer:     "estate-gateway",
			TokenTTL:   time.Hour,
			ClockSkew:  2 * time.Minute,
			enabledSet: true,
		},
	}
}

// Load reads the YAML file at path on top of the defaults, applies the
// environment overrides and validates the result. An empty path uses the
// defaults and environment only.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := defaults()
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}
	cfg.applyEnv(lookup)
	cfg.applyAuthDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (cfg *Config) applyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		return
	}
	if v, ok := lookup(EnvLedgerEndpoint); ok && strings.TrimSpace(v) != "" {
		cfg.Ledger.Endpoint = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvContractAddress); ok && strings.TrimSpace(v) != "" {
		cfg.Ledger.ContractAddress = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvAuthSecret); ok && v != "" {
		cfg.Auth.HMACSecret = v
	}
}

func (cfg *Config) applyAuthDefaults() {
	if cfg == nil {
		return
	}
	if !cfg.Auth.enabledSet && !cfg.isSensitiveDeployment() {
		cfg.Auth.Enabled = true
		cfg.Auth.enabledSet = true
	}
	if cfg.Auth.ClockSkew <= 0 {
		cfg.Auth.ClockSkew = 2 * time.Minute
	}
	if cfg.Auth.TokenTTL <= 0 {
		cfg.Auth.TokenTTL = time.Hour
	}
	if strings.TrimSpace(cfg.Auth.Issuer) == "" {
		cfg.Auth.Issuer = "estate-gateway"
	}
}

var (
	ErrAuthEnabledNotConfigured = errors.New("auth.enabled must be explicitly set for TLS deployments")
	ErrAuthSecretMissing        = errors.New("auth.hmacSecret is required when auth is enabled")
)

func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		return fmt.Errorf("listen address is required")
	}
	if cfg.MaxConnections < 0 {
		return fmt.Errorf("maxConnections must not be negative")
	}
	if err := cfg.Ledger.validate(); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Journal.Driver)) {
	case "", "sqlite", "postgres", "postgresql":
	default:
		return fmt.Errorf("journal.driver %q is not supported", cfg.Journal.Driver)
	}
	if cfg.isSensitiveDeployment() && !cfg.Auth.enabledSet {
		return ErrAuthEnabledNotConfigured
	}
	if cfg.Auth.Enabled && strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		return ErrAuthSecretMissing
	}
	if (cfg.Security.TLSCertFile == "") != (cfg.Security.TLSKeyFile == "") {
		return fmt.Errorf("security.tlsCertFile and security.tlsKeyFile must be set together")
	}
	if r := cfg.Observability.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("observability.sampleRatio must be within [0,1], got %v", r)
	}
	for i, limit := range cfg.RateLimits {
		if limit.RatePerSecond < 0 || limit.RequestsPerMinute < 0 || limit.Burst < 0 {
			return fmt.Errorf("rateLimits[%d] must not contain negative values", i)
		}
		for j, path := range limit.Paths {
			if !strings.HasPrefix(strings.TrimSpace(path), "/") {
				return fmt.Errorf("rateLimits[%d].paths[%d] must start with '/'", i, j)
			}
		}
	}
	return nil
}

func (l LedgerConfig) validate() error {
	endpoint := strings.TrimSpace(l.Endpoint)
	if endpoint == "" {
		return fmt.Errorf("ledger.endpoint is required")
	}
	if _, err := l.URL(); err != nil {
		return err
	}
	if !common.IsHexAddress(strings.TrimSpace(l.ContractAddress)) {
		return fmt.Errorf("ledger.contractAddress %q is not a hex address", l.ContractAddress)
	}
	if l.UnlockDuration < 0 || l.CallTimeout < 0 {
		return fmt.Errorf("ledger durations must not be negative")
	}
	return nil
}

// URL parses the ledger endpoint. IPC socket paths yield a nil URL.
func (l LedgerConfig) URL() (*url.URL, error) {
	endpoint := strings.TrimSpace(l.Endpoint)
	if filepath.IsAbs(endpoint) {
		return nil, nil
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse ledger endpoint: %w", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https", "ws", "wss":
		return parsed, nil
	case "":
		return nil, fmt.Errorf("ledger endpoint %q: URL scheme is required", endpoint)
	default:
		return nil, fmt.Errorf("ledger endpoint %q: unsupported URL scheme %q", endpoint, parsed.Scheme)
	}
}

func (cfg *Config) isSensitiveDeployment() bool {
	if cfg == nil {
		return false
	}
	return strings.TrimSpace(cfg.Security.TLSCertFile) != "" ||
		strings.TrimSpace(cfg.Security.TLSKeyFile) != ""
}

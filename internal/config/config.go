// Package config loads the aurasafe configuration: a YAML file with
// AURASAFE_* environment variables layered on top.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "AURASAFE_"

// MinKDFIterations is the lowest PBKDF2 cost accepted for new vaults.
const MinKDFIterations = 100000

// ErrInvalidConfig is wrapped by every Validate and Set failure.
var ErrInvalidConfig = errors.New("invalid configuration")

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// Config represents the aurasafe configuration
type Config struct {
	VaultPath          string        `yaml:"vault_path" env:"VAULT_PATH"`
	SessionTTL         time.Duration `yaml:"session_ttl" env:"SESSION_TTL"`
	ClipboardTTL       time.Duration `yaml:"clipboard_ttl" env:"CLIPBOARD_TTL"`
	Currency           string        `yaml:"currency" env:"CURRENCY"`
	OutputFormat       string        `yaml:"output_format" env:"OUTPUT_FORMAT"`
	ConfirmDestructive bool          `yaml:"confirm_destructive" env:"CONFIRM_DESTRUCTIVE"`
	LogLevel           string        `yaml:"log_level" env:"LOG_LEVEL"`
	KDF                KDFConfig     `yaml:"kdf" envPrefix:"KDF_"`
	Prices             PricesConfig  `yaml:"prices" envPrefix:"PRICES_"`
	Proxy              ProxyConfig   `yaml:"proxy" envPrefix:"PROXY_"`
}

// KDFConfig holds the PIN derivation cost for new vaults.
type KDFConfig struct {
	Iterations int `yaml:"iterations" env:"ITERATIONS"`
}

// PricesConfig configures the spot and FX providers.
type PricesConfig struct {
	SpotURL string        `yaml:"spot_url" env:"SPOT_URL"`
	FXURL   string        `yaml:"fx_url" env:"FX_URL"`
	SpotTTL time.Duration `yaml:"spot_ttl" env:"SPOT_TTL"`
	FXTTL   time.Duration `yaml:"fx_ttl" env:"FX_TTL"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// ProxyConfig configures the historical-price relay.
type ProxyConfig struct {
	Addr              string   `yaml:"addr" env:"ADDR"`
	AllowedDomains    []string `yaml:"allowed_domains" env:"ALLOWED_DOMAINS" envSeparator:","`
	UpstreamURL       string   `yaml:"upstream_url" env:"UPSTREAM_URL"`
	RequestsPerMinute int      `yaml:"requests_per_minute" env:"REQUESTS_PER_MINUTE"`
	Burst             int      `yaml:"burst" env:"BURST"`
}

// DefaultConfigPath returns ~/.config/aurasafe/config.yaml.
func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "aurasafe", "config.yaml")
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		VaultPath:          filepath.Join(home, ".local", "share", "aurasafe", "aurasafe.db"),
		SessionTTL:         15 * time.Minute,
		ClipboardTTL:       30 * time.Second,
		Currency:           "USD",
		OutputFormat:       "table",
		ConfirmDestructive: true,
		LogLevel:           "warn",
		KDF: KDFConfig{
			Iterations: 150000,
		},
		Prices: PricesConfig{
			SpotURL: "https://api.coinbase.com",
			FXURL:   "https://open.er-api.com",
			SpotTTL: 5 * time.Minute,
			FXTTL:   12 * time.Hour,
			Timeout: 10 * time.Second,
		},
		Proxy: ProxyConfig{
			Addr:              "127.0.0.1:8787",
			UpstreamURL:       "https://goldbroker.com",
			RequestsPerMinute: 60,
			Burst:             10,
		},
	}
}

// LoadConfig loads configuration from file, creating it with defaults when
// missing, then applies environment overrides and validates the result.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		cleanPath := filepath.Clean(configPath)
		data, err := os.ReadFile(cleanPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
			if err := SaveConfig(cfg, cleanPath); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig saves configuration to file
func SaveConfig(cfg *Config, configPath string) error {
	cleanPath := filepath.Clean(configPath)

	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(cleanPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func (c *Config) normalize() {
	c.Currency = strings.ToUpper(strings.TrimSpace(c.Currency))
	c.OutputFormat = strings.ToLower(strings.TrimSpace(c.OutputFormat))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
}

// Validate checks the configuration for values the application cannot use.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.VaultPath) == "" {
		return fmt.Errorf("%w: vault_path must be set", ErrInvalidConfig)
	}
	if c.KDF.Iterations < MinKDFIterations {
		return fmt.Errorf("%w: kdf.iterations must be at least %d", ErrInvalidConfig, MinKDFIterations)
	}
	if !currencyPattern.MatchString(c.Currency) {
		return fmt.Errorf("%w: currency must be a three-letter ISO code", ErrInvalidConfig)
	}
	switch c.OutputFormat {
	case "table", "json":
	default:
		return fmt.Errorf("%w: output_format must be table or json", ErrInvalidConfig)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log_level must be debug, info, warn or error", ErrInvalidConfig)
	}
	if c.SessionTTL < 0 || c.ClipboardTTL < 0 {
		return fmt.Errorf("%w: ttl values must not be negative", ErrInvalidConfig)
	}
	if c.Prices.SpotTTL <= 0 || c.Prices.FXTTL <= 0 {
		return fmt.Errorf("%w: price cache ttls must be positive", ErrInvalidConfig)
	}
	return nil
}

// Keys lists the settings accepted by Set.
var Keys = []string{
	"vault_path", "session_ttl", "clipboard_ttl", "currency", "output_format",
	"confirm_destructive", "log_level", "kdf.iterations",
	"prices.spot_ttl", "prices.fx_ttl",
	"proxy.addr", "proxy.allowed_domains", "proxy.requests_per_minute",
}

// Set assigns a single setting from its string form and revalidates.
func (c *Config) Set(key, value string) error {
	next := *c
	var err error
	switch key {
	case "vault_path":
		next.VaultPath = value
	case "session_ttl":
		next.SessionTTL, err = time.ParseDuration(value)
	case "clipboard_ttl":
		next.ClipboardTTL, err = time.ParseDuration(value)
	case "currency":
		next.Currency = value
	case "output_format":
		next.OutputFormat = value
	case "confirm_destructive":
		next.ConfirmDestructive, err = strconv.ParseBool(value)
	case "log_level":
		next.LogLevel = value
	case "kdf.iterations":
		next.KDF.Iterations, err = strconv.Atoi(value)
	case "prices.spot_ttl":
		next.Prices.SpotTTL, err = time.ParseDuration(value)
	case "prices.fx_ttl":
		next.Prices.FXTTL, err = time.ParseDuration(value)
	case "proxy.addr":
		next.Proxy.Addr = value
	case "proxy.allowed_domains":
		next.Proxy.AllowedDomains = nil
		for _, d := range strings.Split(value, ",") {
			if d = strings.TrimSpace(d); d != "" {
				next.Proxy.AllowedDomains = append(next.Proxy.AllowedDomains, d)
			}
		}
	case "proxy.requests_per_minute":
		next.Proxy.RequestsPerMinute, err = strconv.Atoi(value)
	default:
		return fmt.Errorf("%w: unknown key %q", ErrInvalidConfig, key)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
	}

	next.normalize()
	if err := next.Validate(); err != nil {
		return err
	}
	*c = next
	return nil
}

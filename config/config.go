package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration. It is validated once at boot
// and treated as immutable afterwards.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Payments  PaymentsConfig  `mapstructure:"payments"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Mode           string        `mapstructure:"mode"` // debug, release, test
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// PaymentsConfig drives the deposit lifecycle engine: webhook retry backoff,
// the reconciliation sweep, and the settlement expiry window.
type PaymentsConfig struct {
	MaxRetries       int           `mapstructure:"max_retries"`
	RetryBaseDelayMs int           `mapstructure:"retry_base_delay_ms"`
	RetryMaxDelayMs  int           `mapstructure:"retry_max_delay_ms"`
	ExpiryThreshold  time.Duration `mapstructure:"expiry_threshold"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
}

// RetryBaseDelay returns the first retry delay.
func (p PaymentsConfig) RetryBaseDelay() time.Duration {
	return time.Duration(p.RetryBaseDelayMs) * time.Millisecond
}

// RetryMaxDelay returns the backoff ceiling.
func (p PaymentsConfig) RetryMaxDelay() time.Duration {
	return time.Duration(p.RetryMaxDelayMs) * time.Millisecond
}

// ProviderConfig holds the per-provider webhook trust material.
type ProviderConfig struct {
	HMACSecret  string `mapstructure:"hmac_secret"`
	BaseURL     string `mapstructure:"base_url"`
	IPAllowlist string `mapstructure:"ip_allowlist"` // comma-separated; empty = permissive
}

// AllowedIPs parses the comma-separated allowlist. Entries are matched by
// exact string comparison; an empty list allows any source.
func (p ProviderConfig) AllowedIPs() []string {
	if strings.TrimSpace(p.IPAllowlist) == "" {
		return nil
	}
	parts := strings.Split(p.IPAllowlist, ",")
	ips := make([]string, 0, len(parts))
	for _, part := range parts {
		if ip := strings.TrimSpace(part); ip != "" {
			ips = append(ips, ip)
		}
	}
	return ips
}

type ProvidersConfig struct {
	JazzCash  ProviderConfig `mapstructure:"jazzcash"`
	EasyPaisa ProviderConfig `mapstructure:"easypaisa"`
	SadaPay   ProviderConfig `mapstructure:"sadapay"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: DG_ (Deposit Gateway).
// Nested keys use underscore: DG_DATABASE_HOST, DG_PROVIDERS_JAZZCASH_HMAC_SECRET, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.request_timeout", "10s")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "deposit_gateway")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("payments.max_retries", 5)
	v.SetDefault("payments.retry_base_delay_ms", 1000)
	v.SetDefault("payments.retry_max_delay_ms", 60000)
	v.SetDefault("payments.expiry_threshold", "30m")
	v.SetDefault("payments.sweep_interval", "1m")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	for _, provider := range []string{"jazzcash", "easypaisa", "sadapay"} {
		v.SetDefault("providers."+provider+".hmac_secret", "")
		v.SetDefault("providers."+provider+".base_url", "")
		v.SetDefault("providers."+provider+".ip_allowlist", "")
	}

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: DG_DATABASE_HOST -> database.host
	v.SetEnvPrefix("DG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unprefixed provider keys used by deployment tooling. The EASYPAISA
	// mixed-case spellings are a backwards-compatibility alias; the
	// ALL-CAPS name wins when both are set.
	bindProviderEnv(v, "jazzcash", "JAZZCASH")
	bindProviderEnv(v, "sadapay", "SADAPAY")
	_ = v.BindEnv("providers.easypaisa.hmac_secret", "EASYPAISA_HMAC_SECRET", "EasyPaisa_HMAC_SECRET")
	_ = v.BindEnv("providers.easypaisa.base_url", "EASYPAISA_BASE_URL", "EasyPaisa_BASE_URL")
	_ = v.BindEnv("providers.easypaisa.ip_allowlist", "EASYPAISA_WEBHOOK_IP_ALLOWLIST", "EasyPaisa_WEBHOOK_IP_ALLOWLIST")
	_ = v.BindEnv("payments.max_retries", "PAYMENTS_MAX_RETRIES")
	_ = v.BindEnv("payments.retry_base_delay_ms", "PAYMENTS_RETRY_BASE_DELAY_MS")
	_ = v.BindEnv("payments.retry_max_delay_ms", "PAYMENTS_RETRY_MAX_DELAY_MS")

	// Read config file (not required — env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

func bindProviderEnv(v *viper.Viper, key, envName string) {
	_ = v.BindEnv("providers."+key+".hmac_secret", envName+"_HMAC_SECRET")
	_ = v.BindEnv("providers."+key+".base_url", envName+"_BASE_URL")
	_ = v.BindEnv("providers."+key+".ip_allowlist", envName+"_WEBHOOK_IP_ALLOWLIST")
}

// Validate fails fast on configuration the engine cannot run with.
// A provider with no secret cannot verify webhooks; a provider with no base
// URL cannot issue redirects.
func (c *Config) Validate() error {
	providers := map[string]ProviderConfig{
		"JAZZCASH":  c.Providers.JazzCash,
		"EASYPAISA": c.Providers.EasyPaisa,
		"SADAPAY":   c.Providers.SadaPay,
	}
	for name, p := range providers {
		if p.HMACSecret == "" {
			return fmt.Errorf("provider %s: hmac_secret is required", name)
		}
		if p.BaseURL == "" {
			return fmt.Errorf("provider %s: base_url is required", name)
		}
	}
	if c.Payments.MaxRetries < 0 {
		return fmt.Errorf("payments.max_retries must not be negative")
	}
	if c.Payments.RetryBaseDelayMs <= 0 {
		return fmt.Errorf("payments.retry_base_delay_ms must be positive")
	}
	if c.Payments.RetryMaxDelayMs < c.Payments.RetryBaseDelayMs {
		return fmt.Errorf("payments.retry_max_delay_ms must be >= retry_base_delay_ms")
	}
	if c.Payments.ExpiryThreshold <= 0 {
		return fmt.Errorf("payments.expiry_threshold must be positive")
	}
	if c.Payments.SweepInterval <= 0 {
		return fmt.Errorf("payments.sweep_interval must be positive")
	}
	return nil
}

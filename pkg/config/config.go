package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sigweihq/purchasegate/pkg/catalog"
	"github.com/sigweihq/purchasegate/pkg/constants"
	"github.com/sigweihq/purchasegate/pkg/utils"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Chain     ChainConfig     `yaml:"chain"`
	Resolver  ResolverConfig  `yaml:"resolver"`
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Catalog   CatalogConfig   `yaml:"catalog"`
}

type ChainConfig struct {
	Network             string        `yaml:"network"`
	Endpoints           []string      `yaml:"endpoints"`
	Payee               string        `yaml:"payee"`
	EntryPoints         []string      `yaml:"entry_points"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
}

type ResolverConfig struct {
	Attempts    int           `yaml:"attempts"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// Budget is the longest a resolution can take when every call times out
func (r ResolverConfig) Budget() time.Duration {
	if r.Attempts <= 0 {
		return 0
	}
	return time.Duration(r.Attempts)*r.CallTimeout + time.Duration(r.Attempts-1)*r.RetryDelay
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// PostgresConfig selects the durable ledger; an empty DSN keeps purchases in memory
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig enables the ledger read cache and rate limiting when Addr is set
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type RateLimitConfig struct {
	VerifyPerWindow int           `yaml:"verify_per_window"`
	Window          time.Duration `yaml:"window"`
}

type CatalogConfig struct {
	UnknownSKUFree bool           `yaml:"unknown_sku_free"`
	SKUs           []catalog.Item `yaml:"skus"`
}

func Default() Config {
	return Config{
		Chain: ChainConfig{
			Network:             constants.NetworkBase,
			HealthCheckInterval: 5 * time.Minute,
		},
		Resolver: ResolverConfig{
			Attempts:    constants.ResolveAttempts,
			RetryDelay:  constants.ResolveRetryDelay,
			CallTimeout: constants.RPCClientTimeout,
		},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    45 * time.Second,
			IdleTimeout:     60 * time.Second,
			RequestTimeout:  40 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{Level: "info"},
		Redis: RedisConfig{
			CacheTTL: 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			VerifyPerWindow: 20,
			Window:          time.Minute,
		},
	}
}

// Load reads path over the defaults and then applies environment overrides.
// A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromYAML(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}

	if len(cfg.Catalog.SKUs) == 0 {
		cfg.Catalog.SKUs = append([]catalog.Item(nil), catalog.DefaultItems...)
	}

	return cfg, nil
}

// Validate checks everything the verifier cannot run without
func (c Config) Validate() error {
	if _, ok := constants.NetworkToChainID[c.Chain.Network]; !ok {
		return fmt.Errorf("unsupported network: %q", c.Chain.Network)
	}
	if !utils.IsValidAddress(c.Chain.Payee) || common.HexToAddress(c.Chain.Payee) == (common.Address{}) {
		return fmt.Errorf("chain.payee must be a non-zero address, got %q", c.Chain.Payee)
	}
	entryPoints := c.Chain.EntryPoints
	if len(entryPoints) == 0 {
		entryPoints = constants.EntryPointAddresses
	}
	for _, ep := range entryPoints {
		if !utils.IsValidAddress(ep) {
			return fmt.Errorf("invalid entry point address: %q", ep)
		}
		// Every transfer to an entry point is trusted without a value check.
		if utils.AddressesEqual(ep, c.Chain.Payee) {
			return fmt.Errorf("chain.payee cannot be an entry point")
		}
	}
	for _, endpoint := range c.Chain.Endpoints {
		if err := utils.ValidateRPCURL(endpoint); err != nil {
			return err
		}
	}
	if c.Resolver.Attempts <= 0 {
		return fmt.Errorf("resolver.attempts must be positive")
	}
	if c.Resolver.RetryDelay < 0 {
		return fmt.Errorf("resolver.retry_delay must not be negative")
	}
	if c.Resolver.CallTimeout <= 0 {
		return fmt.Errorf("resolver.call_timeout must be positive")
	}
	// The request deadline must outlast a full resolution so a silent node
	// surfaces as not found rather than as a timed out request.
	if budget := c.Resolver.Budget(); budget >= c.HTTP.RequestTimeout {
		return fmt.Errorf("http.request_timeout (%s) must exceed the resolver budget (%s)", c.HTTP.RequestTimeout, budget)
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if c.RateLimit.VerifyPerWindow < 0 {
		return fmt.Errorf("rate_limit.verify_per_window must not be negative")
	}
	if _, err := catalog.New(c.Catalog.SKUs); err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	return nil
}

// SlogLevel maps Log.Level to a slog level, defaulting to info
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// EndpointsByNetwork returns the configured endpoints keyed by network
func (c Config) EndpointsByNetwork() map[string][]string {
	if len(c.Chain.Endpoints) == 0 {
		return map[string][]string{}
	}
	return map[string][]string{c.Chain.Network: c.Chain.Endpoints}
}

func loadFromYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("unmarshal config yaml: %w", err)
	}

	return nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("PURCHASEGATE_NETWORK"); v != "" {
		cfg.Chain.Network = v
	}
	if v := os.Getenv("RPC_ENDPOINTS"); v != "" {
		cfg.Chain.Endpoints = splitList(v)
	}
	if v := os.Getenv("PAYEE_ADDRESS"); v != "" {
		cfg.Chain.Payee = strings.TrimSpace(v)
	}
	if err := overrideDuration("PURCHASEGATE_HEALTH_CHECK_INTERVAL", &cfg.Chain.HealthCheckInterval); err != nil {
		return err
	}

	if err := overrideInt("PURCHASEGATE_RESOLVE_ATTEMPTS", &cfg.Resolver.Attempts); err != nil {
		return err
	}
	if err := overrideDuration("PURCHASEGATE_RESOLVE_RETRY_DELAY", &cfg.Resolver.RetryDelay); err != nil {
		return err
	}

	if v := os.Getenv("PURCHASEGATE_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("PURCHASEGATE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Postgres.DSN = v
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if err := overrideInt("REDIS_DB", &cfg.Redis.DB); err != nil {
		return err
	}

	if err := overrideInt("PURCHASEGATE_VERIFY_PER_WINDOW", &cfg.RateLimit.VerifyPerWindow); err != nil {
		return err
	}
	if err := overrideBool("PURCHASEGATE_UNKNOWN_SKU_FREE", &cfg.Catalog.UnknownSKUFree); err != nil {
		return err
	}

	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func overrideDuration(key string, target *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("parse %s duration: %w", key, err)
	}
	*target = d
	return nil
}

func overrideInt(key string, target *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("parse %s int: %w", key, err)
	}
	*target = n
	return nil
}

func overrideBool(key string, target *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("parse %s bool: %w", key, err)
	}
	*target = b
	return nil
}

// Package config provides application configuration loaded from environment variables.
// Use the package-level Get() function to obtain the singleton Config instance.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sub-config structs
// ──────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         string        // e.g. "8080"
	Env          string        // "development" | "production"
	ReadTimeout  time.Duration // default 10s
	WriteTimeout time.Duration // default 120s; must exceed ConfirmTimeout, claims block on confirmation
}

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	DSN             string        // full postgres DSN
	MaxOpenConns    int           // default 25
	MaxIdleConns    int           // default 10
	ConnMaxLifetime time.Duration // default 5m
}

// JWTConfig holds bearer-token validation settings. Tokens are issued by the
// upstream auth service; this backend only validates them.
type JWTConfig struct {
	AccessSecret string // must be set
}

// ChainConfig holds Solana RPC and wallet settings.
type ChainConfig struct {
	RPCURL             string        // default mainnet-beta public endpoint
	CustodyPrivateKey  string        // base58 keypair; must be set
	FeeWalletAddress   string        // fee-collection address; must be set
	TokenMint          string        // MKIN mint address; must be set
	TokenDecimals      int32         // default 6
	ConfirmInterval    time.Duration // signature-status poll cadence, default 2s
	ConfirmTimeout     time.Duration // confirmation loop bound, default 90s
	LookupRetries      int           // finalized-tx lookup attempts, default 3
	LookupBackoffBase  time.Duration // first retry delay, default 2s (then +2s per attempt)
	EstimatedNetFeeSOL float64       // pre-flight network fee headroom, default 0.00001
}

// StakingConfig holds verification tolerances and fee bands.
type StakingConfig struct {
	// PrincipalTolerance absorbs unit-conversion rounding on deposit proofs
	// (~0.01%). It is not a business tolerance.
	PrincipalTolerance float64 // default 0.0001

	// Fee band in SOL. The band is deliberately wide: client quotes and server
	// verification can be minutes apart and the quote tracks a moving oracle
	// price, so production has observed fees drifting ±50% to ±300% from the
	// quote. Do not tighten without confirming against live traffic — the band
	// IS the documented behaviour, not a bug margin around a precise fee.
	MinFeeSOL float64 // default 0.0005
	MaxFeeSOL float64 // default 0.01
}

// PriceConfig holds unit-price oracle settings.
type PriceConfig struct {
	JupiterURL        string        // default "https://price.jup.ag"
	DexScreenerURL    string        // default "https://api.dexscreener.com"
	FetchTimeout      time.Duration // default 3s
	CacheTTL          time.Duration // default 30s
	JupiterWeight     int           // default 70
	DexScreenerWeight int           // default 30
	FallbackPriceSOL  float64       // last-resort MKIN/SOL price, default 0.0001
}

// BoosterConfig holds multiplier-cache settings.
type BoosterConfig struct {
	StalenessBound time.Duration // cached multiplier max age, default 10m
}

// AlertConfig holds operator alert sink settings.
type AlertConfig struct {
	WebhookURL string        // Discord-style webhook; "" disables alerts
	Timeout    time.Duration // default 5s
}

// ──────────────────────────────────────────────────────────────────────────────
// Top-level Config
// ──────────────────────────────────────────────────────────────────────────────

// Config is the root configuration object for the entire application.
type Config struct {
	Server  ServerConfig
	DB      DBConfig
	JWT     JWTConfig
	Chain   ChainConfig
	Staking StakingConfig
	Price   PriceConfig
	Booster BoosterConfig
	Alert   AlertConfig
}

// IsProd returns true when running in the production environment.
func (c *Config) IsProd() bool {
	return c.Server.Env == "production"
}

// Validate checks that all required configuration values are present and valid.
// Returns all validation errors joined.
func (c *Config) Validate() error {
	var errs []error

	if c.JWT.AccessSecret == "" {
		errs = append(errs, errors.New("JWT_ACCESS_SECRET must be set"))
	}
	if c.IsProd() && c.DB.DSN == "" {
		errs = append(errs, errors.New("DATABASE_DSN must be set in production"))
	}
	if c.Chain.CustodyPrivateKey == "" {
		errs = append(errs, errors.New("CUSTODY_PRIVATE_KEY must be set"))
	}
	if c.Chain.FeeWalletAddress == "" {
		errs = append(errs, errors.New("FEE_WALLET_ADDRESS must be set"))
	}
	if c.Chain.TokenMint == "" {
		errs = append(errs, errors.New("TOKEN_MINT must be set"))
	}

	if c.Staking.MinFeeSOL <= 0 || c.Staking.MaxFeeSOL <= c.Staking.MinFeeSOL {
		errs = append(errs, fmt.Errorf(
			"fee band must satisfy 0 < MIN_FEE_SOL < MAX_FEE_SOL, got [%.6f, %.6f]",
			c.Staking.MinFeeSOL, c.Staking.MaxFeeSOL,
		))
	}
	if c.Staking.PrincipalTolerance < 0 || c.Staking.PrincipalTolerance >= 0.01 {
		errs = append(errs, fmt.Errorf(
			"PRINCIPAL_TOLERANCE must be a rounding band in [0, 0.01), got %.6f",
			c.Staking.PrincipalTolerance,
		))
	}

	if total := c.Price.JupiterWeight + c.Price.DexScreenerWeight; total != 100 {
		errs = append(errs, fmt.Errorf(
			"price weights must sum to 100, got %d (Jupiter=%d DexScreener=%d)",
			total, c.Price.JupiterWeight, c.Price.DexScreenerWeight,
		))
	}

	if c.Chain.ConfirmInterval <= 0 || c.Chain.ConfirmTimeout <= c.Chain.ConfirmInterval {
		errs = append(errs, errors.New("CONFIRM_TIMEOUT must exceed CONFIRM_INTERVAL"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Singleton
// ──────────────────────────────────────────────────────────────────────────────

var (
	instance *Config
	once     sync.Once
	loadErr  error
)

// Get returns the singleton Config, loading it once from environment variables.
// Panics if loading fails — call this early in main() to catch misconfigurations
// at startup.
func Get() *Config {
	once.Do(func() {
		instance, loadErr = load()
	})
	if loadErr != nil {
		panic(fmt.Sprintf("config: failed to load: %v", loadErr))
	}
	return instance
}

// MustLoad loads and validates configuration. Intended for use in main().
// Panics on any error so misconfiguration is caught immediately at boot.
func MustLoad() *Config {
	cfg := Get()
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("config: validation failed: %v", err))
	}
	return cfg
}

// ──────────────────────────────────────────────────────────────────────────────
// Internal loader
// ──────────────────────────────────────────────────────────────────────────────

func load() (*Config, error) {
	cfg := &Config{}

	// ── Server ────────────────────────────────────────────────────────────────
	cfg.Server = ServerConfig{
		Port:         getEnv("SERVER_PORT", "8080"),
		Env:          getEnv("ENVIRONMENT", "development"),
		ReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
		WriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 120*time.Second),
	}

	// ── Database ──────────────────────────────────────────────────────────────
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		// Build DSN from individual components for convenience in dev
		dsn = fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			getEnv("DB_HOST", "localhost"),
			getEnv("DB_PORT", "5432"),
			getEnv("DB_USER", "postgres"),
			getEnv("DB_PASSWORD", ""),
			getEnv("DB_NAME", "realmkin_staking"),
			getEnv("DB_SSLMODE", "disable"),
		)
	}

	maxOpen, err := getInt("DB_MAX_OPEN_CONNS", 25)
	if err != nil {
		return nil, fmt.Errorf("DB_MAX_OPEN_CONNS: %w", err)
	}
	maxIdle, err := getInt("DB_MAX_IDLE_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("DB_MAX_IDLE_CONNS: %w", err)
	}

	cfg.DB = DBConfig{
		DSN:             dsn,
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: getDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}

	// ── JWT ───────────────────────────────────────────────────────────────────
	cfg.JWT = JWTConfig{
		AccessSecret: getEnv("JWT_ACCESS_SECRET", ""),
	}

	// ── Chain ─────────────────────────────────────────────────────────────────
	tokenDecimals, err := getInt("TOKEN_DECIMALS", 6)
	if err != nil {
		return nil, fmt.Errorf("TOKEN_DECIMALS: %w", err)
	}
	lookupRetries, err := getInt("CHAIN_LOOKUP_RETRIES", 3)
	if err != nil {
		return nil, fmt.Errorf("CHAIN_LOOKUP_RETRIES: %w", err)
	}

	cfg.Chain = ChainConfig{
		RPCURL:             getEnv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com"),
		CustodyPrivateKey:  getEnv("CUSTODY_PRIVATE_KEY", ""),
		FeeWalletAddress:   getEnv("FEE_WALLET_ADDRESS", ""),
		TokenMint:          getEnv("TOKEN_MINT", ""),
		TokenDecimals:      int32(tokenDecimals),
		ConfirmInterval:    getDuration("CONFIRM_INTERVAL", 2*time.Second),
		ConfirmTimeout:     getDuration("CONFIRM_TIMEOUT", 90*time.Second),
		LookupRetries:      lookupRetries,
		LookupBackoffBase:  getDuration("CHAIN_LOOKUP_BACKOFF", 2*time.Second),
		EstimatedNetFeeSOL: getFloat("ESTIMATED_NET_FEE_SOL", 0.00001),
	}

	// ── Staking / fees ────────────────────────────────────────────────────────
	cfg.Staking = StakingConfig{
		PrincipalTolerance: getFloat("PRINCIPAL_TOLERANCE", 0.0001),
		MinFeeSOL:          getFloat("MIN_FEE_SOL", 0.0005),
		MaxFeeSOL:          getFloat("MAX_FEE_SOL", 0.01),
	}

	// ── Price oracle ──────────────────────────────────────────────────────────
	jupW, err := getInt("PRICE_JUPITER_WEIGHT", 70)
	if err != nil {
		return nil, fmt.Errorf("PRICE_JUPITER_WEIGHT: %w", err)
	}
	dexW, err := getInt("PRICE_DEXSCREENER_WEIGHT", 30)
	if err != nil {
		return nil, fmt.Errorf("PRICE_DEXSCREENER_WEIGHT: %w", err)
	}

	cfg.Price = PriceConfig{
		JupiterURL:        getEnv("PRICE_JUPITER_URL", "https://price.jup.ag"),
		DexScreenerURL:    getEnv("PRICE_DEXSCREENER_URL", "https://api.dexscreener.com"),
		FetchTimeout:      getDuration("PRICE_FETCH_TIMEOUT", 3*time.Second),
		CacheTTL:          getDuration("PRICE_CACHE_TTL", 30*time.Second),
		JupiterWeight:     jupW,
		DexScreenerWeight: dexW,
		FallbackPriceSOL:  getFloat("PRICE_FALLBACK_SOL", 0.0001),
	}

	// ── Booster cache ─────────────────────────────────────────────────────────
	cfg.Booster = BoosterConfig{
		StalenessBound: getDuration("BOOSTER_STALENESS_BOUND", 10*time.Minute),
	}

	// ── Alerts ────────────────────────────────────────────────────────────────
	cfg.Alert = AlertConfig{
		WebhookURL: getEnv("ALERT_WEBHOOK_URL", ""),
		Timeout:    getDuration("ALERT_TIMEOUT", 5*time.Second),
	}

	return cfg, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Env helpers
// ──────────────────────────────────────────────────────────────────────────────

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%q is not an integer: %w", v, err)
	}
	return n, nil
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

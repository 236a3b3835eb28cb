// Package config provides application configuration loaded from environment
// variables. Use the package-level Get() function to obtain the singleton
// Config instance.
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
	Port           string        // e.g. "8080"
	BackofficePort string        // e.g. "8081"
	Env            string        // "development" | "production"
	ReadTimeout    time.Duration // default 10s
	WriteTimeout   time.Duration // default 10s

	// BackofficeAllowedIPs is a comma-separated allowlist for the admin
	// server. Empty means no IP restriction (dev mode).
	BackofficeAllowedIPs string
}

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	DSN             string        // full postgres DSN
	MaxOpenConns    int           // default 25
	MaxIdleConns    int           // default 10
	ConnMaxLifetime time.Duration // default 5m
}

// AuctionConfig holds the global auction window and bid rules.
type AuctionConfig struct {
	OpensAt  time.Time // global start of the auction
	ClosesAt time.Time // global end; per-parcel default close

	// BasePrice is the minimum first bid on any parcel, in whole MANA.
	BasePrice int64 // default 1000

	// Grid bounds (inclusive). Default -150..150 on both axes.
	GridMinX, GridMinY int
	GridMaxX, GridMaxY int

	// SelfRaiseFullIncrement controls whether an address rebidding against its
	// own leading bid must still clear the 25% minimum raise. The source
	// material leaves this ambiguous, so it is an explicit switch rather than
	// a silent choice. Default true.
	SelfRaiseFullIncrement bool

	// ParcelPixelSize is the pixel edge of one parcel on the map plane used
	// by the pixel-lookup endpoint. Default 10.
	ParcelPixelSize int
}

// JWTConfig holds settings for the address tokens minted by the external
// wallet-signature verifier.
type JWTConfig struct {
	Secret string        // must be set
	TTL    time.Duration // default 24h; used only by the backoffice token tool
}

// RetryConfig bounds retries against the persistence collaborator.
type RetryConfig struct {
	MaxAttempts int           // default 3
	Backoff     time.Duration // default 200ms, doubled per attempt
}

// ──────────────────────────────────────────────────────────────────────────────
// Top-level Config
// ──────────────────────────────────────────────────────────────────────────────

// Config is the root configuration object for the entire application.
type Config struct {
	Server  ServerConfig
	DB      DBConfig
	Auction AuctionConfig
	JWT     JWTConfig
	Retry   RetryConfig
}

// IsProd returns true when running in the production environment.
func (c *Config) IsProd() bool {
	return c.Server.Env == "production"
}

// Validate checks that all required configuration values are present and
// valid. Returns every validation error encountered, joined.
func (c *Config) Validate() error {
	var errs []error

	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("AUCTION_JWT_SECRET must be set"))
	}
	if c.IsProd() && c.DB.DSN == "" {
		errs = append(errs, errors.New("DATABASE_DSN must be set in production"))
	}
	if !c.Auction.ClosesAt.After(c.Auction.OpensAt) {
		errs = append(errs, fmt.Errorf(
			"auction window is empty: opens %s, closes %s",
			c.Auction.OpensAt.Format(time.RFC3339), c.Auction.ClosesAt.Format(time.RFC3339),
		))
	}
	if c.Auction.BasePrice <= 0 {
		errs = append(errs, fmt.Errorf("AUCTION_BASE_PRICE must be positive, got %d", c.Auction.BasePrice))
	}
	if c.Auction.GridMinX > c.Auction.GridMaxX || c.Auction.GridMinY > c.Auction.GridMaxY {
		errs = append(errs, errors.New("auction grid bounds are inverted"))
	}
	if c.Auction.ParcelPixelSize <= 0 {
		errs = append(errs, fmt.Errorf("AUCTION_PARCEL_PIXEL_SIZE must be positive, got %d", c.Auction.ParcelPixelSize))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1, got %d", c.Retry.MaxAttempts))
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

// Get returns the singleton Config, loading it once from environment
// variables. Panics if loading fails — call this early in main() to catch
// misconfigurations at startup.
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
		Port:           getEnv("SERVER_PORT", "8080"),
		BackofficePort: getEnv("BACKOFFICE_PORT", "8081"),
		Env:            getEnv("ENVIRONMENT", "development"),
		ReadTimeout:    getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
		WriteTimeout:   getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),

		BackofficeAllowedIPs: getEnv("BACKOFFICE_ALLOWED_IPS", ""),
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
			getEnv("DB_NAME", "gridlands_auction"),
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

	// ── Auction ───────────────────────────────────────────────────────────────
	opensAt, err := getTime("AUCTION_OPENS_AT", time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("AUCTION_OPENS_AT: %w", err)
	}
	closesAt, err := getTime("AUCTION_CLOSES_AT", opensAt.Add(14*24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("AUCTION_CLOSES_AT: %w", err)
	}
	basePrice, err := getInt("AUCTION_BASE_PRICE", 1000)
	if err != nil {
		return nil, fmt.Errorf("AUCTION_BASE_PRICE: %w", err)
	}
	minX, err := getInt("AUCTION_GRID_MIN_X", -150)
	if err != nil {
		return nil, fmt.Errorf("AUCTION_GRID_MIN_X: %w", err)
	}
	minY, err := getInt("AUCTION_GRID_MIN_Y", -150)
	if err != nil {
		return nil, fmt.Errorf("AUCTION_GRID_MIN_Y: %w", err)
	}
	maxX, err := getInt("AUCTION_GRID_MAX_X", 150)
	if err != nil {
		return nil, fmt.Errorf("AUCTION_GRID_MAX_X: %w", err)
	}
	maxY, err := getInt("AUCTION_GRID_MAX_Y", 150)
	if err != nil {
		return nil, fmt.Errorf("AUCTION_GRID_MAX_Y: %w", err)
	}
	pixelSize, err := getInt("AUCTION_PARCEL_PIXEL_SIZE", 10)
	if err != nil {
		return nil, fmt.Errorf("AUCTION_PARCEL_PIXEL_SIZE: %w", err)
	}

	cfg.Auction = AuctionConfig{
		OpensAt:                opensAt,
		ClosesAt:               closesAt,
		BasePrice:              int64(basePrice),
		GridMinX:               minX,
		GridMinY:               minY,
		GridMaxX:               maxX,
		GridMaxY:               maxY,
		SelfRaiseFullIncrement: getBool("AUCTION_SELF_RAISE_FULL_INCREMENT", true),
		ParcelPixelSize:        pixelSize,
	}

	// ── JWT ───────────────────────────────────────────────────────────────────
	cfg.JWT = JWTConfig{
		Secret: getEnv("AUCTION_JWT_SECRET", ""),
		TTL:    getDuration("AUCTION_JWT_TTL", 24*time.Hour),
	}

	// ── Retry ─────────────────────────────────────────────────────────────────
	attempts, err := getInt("RETRY_MAX_ATTEMPTS", 3)
	if err != nil {
		return nil, fmt.Errorf("RETRY_MAX_ATTEMPTS: %w", err)
	}
	cfg.Retry = RetryConfig{
		MaxAttempts: attempts,
		Backoff:     getDuration("RETRY_BACKOFF", 200*time.Millisecond),
	}

	return cfg, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Helper functions
// ──────────────────────────────────────────────────────────────────────────────

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}

func getBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

// getDuration parses an env var as a Go duration string (e.g. "15m", "2s").
// Falls back to defaultVal if the variable is unset or empty.
func getDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getTime parses an env var as RFC3339.
func getTime(key string, defaultVal time.Time) (time.Time, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid RFC3339 time %q", v)
	}
	return t.UTC(), nil
}

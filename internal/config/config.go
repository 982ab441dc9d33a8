// Package config provides centralized configuration management for the tickr server.
// It loads configuration from CLI flags and environment variables, validates required fields,
// and provides sensible defaults.
//
// CLI flags pick the listen address, the database file, and whether backups go to a
// real bucket (--no-s3, --test). Environment variables provide secrets and tuning.
package config

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kuitang/tickr/internal/db"
	"github.com/kuitang/tickr/internal/logutil"
	"github.com/kuitang/tickr/internal/notify"
	"github.com/kuitang/tickr/internal/ratelimit"
)

const (
	defaultTigrisRegion = "auto"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	ListenAddr      string
	StaticDir       string
	ShutdownTimeout time.Duration

	// Database
	DatabasePath string
	DatabaseKey  string // optional, 64 hex characters enables SQLCipher

	// Behavior
	SeedDefaultList bool
	NotifyBuffer    int
	SSEHeartbeat    time.Duration
	MCPEnabled      bool

	// Rate limiting
	RateLimitConfig ratelimit.Config

	// Mock service flags (controlled by CLI flags, not env vars)
	NoS3 bool // If true, backups go to an in-memory bucket (--no-s3)

	// S3/Tigris backups (uses AWS_ env vars, set automatically by `fly storage create`)
	AWSEndpointS3      string // AWS_ENDPOINT_URL_S3
	AWSRegion          string // AWS_REGION
	AWSAccessKeyID     string // AWS_ACCESS_KEY_ID
	AWSSecretAccessKey string // AWS_SECRET_ACCESS_KEY
	AWSBucketName      string // BUCKET_NAME
	BackupInterval     time.Duration
	BackupRetain       int
}

// Flags are the server's command-line overrides.
type Flags struct {
	Addr   string
	DBPath string
	NoS3   bool
}

// ValidationError represents a configuration validation error with multiple issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// ParseFlags parses CLI flags and returns them. Call before LoadConfig.
func ParseFlags(fs *flag.FlagSet, args []string) (Flags, error) {
	var f Flags
	var testMode bool
	fs.StringVar(&f.Addr, "addr", "", "Listen address (default :8080, overrides LISTEN_ADDR env var)")
	fs.StringVar(&f.DBPath, "db", "", "Database file (overrides DATABASE_PATH env var)")
	fs.BoolVar(&f.NoS3, "no-s3", false, "Back up to an in-memory bucket instead of S3")
	fs.BoolVar(&testMode, "test", false, "Shorthand for --no-s3")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	if testMode {
		f.NoS3 = true
	}
	return f, nil
}

// LoadConfig loads configuration from environment variables and CLI flag values.
func LoadConfig(f Flags) (*Config, error) {
	cfg := &Config{NoS3: f.NoS3}

	// Server settings
	cfg.ListenAddr = getEnvOrDefault("LISTEN_ADDR", ":8080")
	if f.Addr != "" {
		cfg.ListenAddr = f.Addr
	}
	cfg.StaticDir = getEnvOrDefault("STATIC_DIR", "./static")
	cfg.ShutdownTimeout = parseDurationOrDefault("SHUTDOWN_TIMEOUT", 10*time.Second)

	// Database
	cfg.DatabasePath = getEnvOrDefault("DATABASE_PATH", db.DefaultPath)
	if f.DBPath != "" {
		cfg.DatabasePath = f.DBPath
	}
	cfg.DatabaseKey = strings.TrimSpace(os.Getenv("DATABASE_KEY"))

	// Behavior
	cfg.SeedDefaultList = parseBoolOrDefault("SEED_DEFAULT_LIST", true)
	cfg.NotifyBuffer = parseIntOrDefault("NOTIFY_BUFFER", notify.DefaultBuffer)
	cfg.SSEHeartbeat = parseDurationOrDefault("SSE_HEARTBEAT", 25*time.Second)
	cfg.MCPEnabled = parseBoolOrDefault("MCP_ENABLED", true)

	// Rate limiting
	cfg.RateLimitConfig = ratelimit.Config{
		RPS:             parseFloat64OrDefault("RATE_LIMIT_RPS", ratelimit.DefaultConfig.RPS),
		Burst:           parseIntOrDefault("RATE_LIMIT_BURST", ratelimit.DefaultConfig.Burst),
		CleanupInterval: parseDurationOrDefault("RATE_LIMIT_CLEANUP_INTERVAL", ratelimit.DefaultConfig.CleanupInterval),
	}

	// S3/Tigris backups
	cfg.AWSEndpointS3 = strings.TrimSpace(os.Getenv("AWS_ENDPOINT_URL_S3"))
	cfg.AWSRegion = getEnvOrDefault("AWS_REGION", defaultTigrisRegion)
	cfg.AWSAccessKeyID = strings.TrimSpace(os.Getenv("AWS_ACCESS_KEY_ID"))
	cfg.AWSSecretAccessKey = strings.TrimSpace(os.Getenv("AWS_SECRET_ACCESS_KEY"))
	cfg.AWSBucketName = strings.TrimSpace(os.Getenv("BUCKET_NAME"))
	cfg.BackupInterval = parseDurationOrDefault("BACKUP_INTERVAL", 6*time.Hour)
	cfg.BackupRetain = parseIntOrDefault("BACKUP_RETAIN", 14)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and valid.
// S3 credentials are required unless --no-s3 is set.
func (c *Config) Validate() error {
	var errs []string

	if c.DatabasePath == "" {
		errs = append(errs, "DATABASE_PATH must not be empty")
	}

	// DatabaseKey: optional, but must decode to exactly 32 bytes when set
	if c.DatabaseKey != "" {
		raw, err := hex.DecodeString(c.DatabaseKey)
		if err != nil || len(raw) != db.KeyBytes {
			errs = append(errs, "DATABASE_KEY must be 64 hex characters (generate with: openssl rand -hex 32)")
		}
	}

	// S3/Tigris: require AWS credentials unless --no-s3
	if !c.NoS3 {
		if c.AWSEndpointS3 == "" {
			errs = append(errs, "AWS_ENDPOINT_URL_S3 is required (set env var or use --no-s3)")
		}
		if c.AWSBucketName == "" {
			errs = append(errs, "BUCKET_NAME is required (set env var or use --no-s3)")
		}
		if c.AWSAccessKeyID == "" {
			errs = append(errs, "AWS_ACCESS_KEY_ID is required (set env var or use --no-s3)")
		}
		if c.AWSSecretAccessKey == "" {
			errs = append(errs, "AWS_SECRET_ACCESS_KEY is required (set env var or use --no-s3)")
		}
	}
	if c.BackupInterval <= 0 {
		errs = append(errs, "BACKUP_INTERVAL must be positive")
	}
	if c.BackupRetain <= 0 {
		errs = append(errs, "BACKUP_RETAIN must be positive")
	}

	if c.NotifyBuffer <= 0 {
		errs = append(errs, "NOTIFY_BUFFER must be positive")
	}
	if c.SSEHeartbeat <= 0 {
		errs = append(errs, "SSE_HEARTBEAT must be positive")
	}

	// Validate rate limit config
	if c.RateLimitConfig.RPS <= 0 {
		errs = append(errs, "RATE_LIMIT_RPS must be positive")
	}
	if c.RateLimitConfig.Burst <= 0 {
		errs = append(errs, "RATE_LIMIT_BURST must be positive")
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}

	return nil
}

// IsProduction returns true if backups go to a real bucket.
func (c *Config) IsProduction() bool {
	return !c.NoS3
}

// PrintStartupSummary prints a human-readable summary of the configuration to w.
func (c *Config) PrintStartupSummary(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "tickr server starting...")

	if c.DatabaseKey != "" {
		fmt.Fprintf(w, "  DB:      %s (encrypted, key %s)\n", c.DatabasePath, logutil.RedactValue("database_key", c.DatabaseKey))
	} else {
		fmt.Fprintf(w, "  DB:      %s (plaintext)\n", c.DatabasePath)
	}

	if c.NoS3 {
		fmt.Fprintln(w, "  Backup:  Mock S3 (--no-s3)")
	} else {
		fmt.Fprintf(w, "  Backup:  S3 (endpoint: %s, bucket: %s, every %s)\n", c.AWSEndpointS3, c.AWSBucketName, c.BackupInterval)
	}

	if c.MCPEnabled {
		fmt.Fprintln(w, "  MCP:     /mcp")
	} else {
		fmt.Fprintln(w, "  MCP:     disabled")
	}

	fmt.Fprintf(w, "  Listen:  %s\n", c.ListenAddr)
	fmt.Fprintf(w, "  Static:  %s\n", c.StaticDir)
	fmt.Fprintln(w, "")
}

// Helper functions for parsing environment variables

func getEnvOrDefault(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func parseIntOrDefault(key string, defaultValue int) int {
	value := getEnvOrDefault(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseBoolOrDefault(key string, defaultValue bool) bool {
	value := getEnvOrDefault(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseFloat64OrDefault(key string, defaultValue float64) float64 {
	value := getEnvOrDefault(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := getEnvOrDefault(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// MustLoadConfig loads configuration and panics if validation fails.
// Use this in main() when you want the application to fail fast on bad config.
func MustLoadConfig(f Flags) *Config {
	cfg, err := LoadConfig(f)
	if err != nil {
		var validationErr *ValidationError
		if errors.As(err, &validationErr) {
			panic(fmt.Sprintf("Configuration validation failed:\n  - %s", strings.Join(validationErr.Errors, "\n  - ")))
		}
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}
	return cfg
}

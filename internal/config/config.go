// Package config handles loading application configuration from environment
// variables. All config is centralized here so no other package reads env
// vars directly. Sensible defaults are provided for development.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Config holds all application configuration. Populated from environment
// variables at startup. Passed to other packages via dependency injection.
type Config struct {
	// Env is the runtime environment: "development" or "production".
	Env string

	// Port is the HTTP listen port (default: 8080).
	Port int

	// BaseURL is the public-facing URL used in links.
	BaseURL string

	// LogLevel controls log verbosity: "debug", "info", "warn", "error".
	LogLevel string

	// MigrationsPath is the directory holding the SQL migrations.
	MigrationsPath string

	// OverridesFile is an optional YAML file of declarative overrides.
	OverridesFile string

	// TrustedProxies lists CIDRs whose forwarding headers are believed.
	TrustedProxies []string

	// MetricsEnabled exposes /metrics when true.
	MetricsEnabled bool

	// Database holds MariaDB connection settings.
	Database DatabaseConfig

	// Redis holds Redis connection settings.
	Redis RedisConfig

	// NATS holds publishing settings.
	NATS NATSConfig

	// Ingest holds ingestion authentication and rate limit settings.
	Ingest IngestConfig
}

// DatabaseConfig holds MariaDB connection parameters. Individual fields
// (Host, User, Password, Name) are read from separate env vars so
// container orchestrators can manage each independently.
// If DATABASE_URL is set, it takes precedence over the individual fields.
type DatabaseConfig struct {
	// Host is the MariaDB address in host:port format (default: "localhost:3306").
	// If no port is specified, 3306 is appended automatically.
	Host string

	User     string
	Password string
	Name     string

	// dsnOverride is set when DATABASE_URL is provided, bypassing individual fields.
	dsnOverride string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DSN returns the go-sql-driver/mysql connection string. If DATABASE_URL was
// set, it is returned as-is. Otherwise the DSN is built from the individual
// fields using the driver's Config.FormatDSN() so special characters in
// passwords are escaped. Times are stored and parsed as UTC.
func (d DatabaseConfig) DSN() string {
	if d.dsnOverride != "" {
		return d.dsnOverride
	}
	cfg := mysql.NewConfig()
	cfg.User = d.User
	cfg.Passwd = d.Password
	cfg.Net = "tcp"
	cfg.Addr = ensurePort(d.Host, "3306")
	cfg.DBName = d.Name
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN()
}

// ensurePort appends the default port if the host string doesn't include one.
func ensurePort(host, defaultPort string) string {
	_, _, err := net.SplitHostPort(host)
	if err != nil {
		return net.JoinHostPort(host, defaultPort)
	}
	return host
}

// RedisConfig holds Redis connection parameters. An empty URL disables
// Redis; rate limiting then falls back to a per-process counter.
type RedisConfig struct {
	URL string
}

// NATSConfig holds publishing settings. An empty URL disables publishing.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
}

// IngestKey is one configured ingestion credential. Clients present
// "<name>.<secret>"; Hash is the bcrypt hash of the secret.
type IngestKey struct {
	Name string
	Hash string
}

// IngestConfig holds ingestion settings.
type IngestConfig struct {
	// Keys are the accepted credentials. Empty means ingestion is open,
	// which is refused in production.
	Keys []IngestKey

	// RateLimit is the number of ingestion requests allowed per key (or IP
	// for anonymous clients) in each RateWindow.
	RateLimit  int
	RateWindow time.Duration
}

// KeyHashes returns the keys as a name to hash map.
func (c IngestConfig) KeyHashes() map[string]string {
	m := make(map[string]string, len(c.Keys))
	for _, k := range c.Keys {
		m[k.Name] = k.Hash
	}
	return m
}

// Load reads configuration from environment variables with sensible defaults.
// Returns an error if required variables are missing or malformed.
func Load() (*Config, error) {
	keys, err := ParseIngestKeys(getEnv("INGEST_KEYS", ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Env:            getEnv("ENV", "development"),
		Port:           getEnvInt("PORT", 8080),
		BaseURL:        getEnv("BASE_URL", "http://localhost:8080"),
		LogLevel:       getEnv("LOG_LEVEL", "debug"),
		MigrationsPath: getEnv("MIGRATIONS_PATH", "db/migrations"),
		OverridesFile:  getEnv("OVERRIDES_FILE", ""),
		TrustedProxies: getEnvList("TRUSTED_PROXIES", []string{"127.0.0.1/8", "::1/128"}),
		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),

		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost:3306"),
			User:            getEnv("DB_USER", "activitylog"),
			Password:        getEnv("DB_PASSWORD", "activitylog"),
			Name:            getEnv("DB_NAME", "activitylog"),
			dsnOverride:     getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},

		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", "redis://localhost:6379"),
		},

		NATS: NATSConfig{
			URL:           getEnv("NATS_URL", ""),
			SubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "activity"),
		},

		Ingest: IngestConfig{
			Keys:       keys,
			RateLimit:  getEnvInt("INGEST_RATE_LIMIT", 600),
			RateWindow: getEnvDuration("INGEST_RATE_WINDOW", time.Minute),
		},
	}

	if cfg.Ingest.RateLimit < 1 {
		return nil, fmt.Errorf("INGEST_RATE_LIMIT must be positive")
	}
	if cfg.Ingest.RateWindow <= 0 {
		return nil, fmt.Errorf("INGEST_RATE_WINDOW must be positive")
	}

	// Production must not accept anonymous ingestion.
	if cfg.IsProduction() && len(cfg.Ingest.Keys) == 0 {
		return nil, fmt.Errorf("INGEST_KEYS is required in production")
	}

	return cfg, nil
}

// ParseIngestKeys parses "name:hash,name:hash". Bcrypt hashes contain "$"
// but never ":" or ",", so the first colon separates the name.
func ParseIngestKeys(raw string) ([]IngestKey, error) {
	var keys []IngestKey
	seen := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, hash, ok := strings.Cut(part, ":")
		name = strings.TrimSpace(name)
		hash = strings.TrimSpace(hash)
		if !ok || name == "" || hash == "" {
			return nil, fmt.Errorf("INGEST_KEYS entry %q must be name:bcrypthash", part)
		}
		if strings.Contains(name, ".") {
			return nil, fmt.Errorf("INGEST_KEYS name %q must not contain '.'", name)
		}
		if !strings.HasPrefix(hash, "$2") {
			return nil, fmt.Errorf("INGEST_KEYS entry %q does not look like a bcrypt hash", name)
		}
		if seen[name] {
			return nil, fmt.Errorf("INGEST_KEYS name %q is duplicated", name)
		}
		seen[name] = true
		keys = append(keys, IngestKey{Name: name, Hash: hash})
	}
	return keys, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	env := strings.ToLower(c.Env)
	return env == "development" || env == "dev"
}

// IsProduction returns true for "production" and "prod" in any case.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Env)
	return env == "production" || env == "prod"
}

// --- Helper functions for reading environment variables ---

// getEnv reads a string env var or returns the default.
func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvInt reads an integer env var or returns the default.
func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvBool reads a boolean env var ("true", "1", "false", ...) or returns
// the default.
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvDuration reads a duration env var (e.g., "90s") or returns the default.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// getEnvList reads a comma-separated env var or returns the default.
func getEnvList(key string, defaultVal []string) []string {
	val, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}
	var out []string
	for _, s := range strings.Split(val, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"maskflow/internal/domain"
)

// HyperscaleConfig holds the connection settings of the profiling and masking
// service.
type HyperscaleConfig struct {
	URL             string
	APIKey          string
	Timeout         time.Duration // per request (default 5m)
	RetryAttempts   int           // total attempts per call (default 1: no retry)
	RetryBaseDelay  time.Duration // first backoff delay (default 2s)
	RPS             float64       // client-side request rate limit (0 = unlimited)
	BreakerFailures uint32        // consecutive failures that open the breaker (0 = disabled)
}

// StorageConfig holds object-storage credentials used by the file connector.
// Every field is optional.
type StorageConfig struct {
	S3KeyID    *string
	S3Secret   *string
	S3Endpoint *string
	S3Region   *string

	AzureAccountName      string
	AzureAccountKey       string
	AzureConnectionString string

	GCSKeyID           string
	GCSSecret          string
	GCSCredentialsFile string
}

// AuthConfig guards the trigger API. With nothing set the API is open, which
// LoadFromEnv refuses in production.
type AuthConfig struct {
	JWTSecret     string   // HS256 shared secret
	OIDCIssuerURL string   // OIDC issuer for RS256 tokens
	OIDCAudience  string   // expected audience (client id)
	APIKeys       []string // accepted X-API-Key values
}

// Enabled reports whether any authentication method is configured.
func (a AuthConfig) Enabled() bool {
	return a.JWTSecret != "" || a.OIDCIssuerURL != "" || len(a.APIKeys) > 0
}

// Config holds the process configuration. Per-run behaviour lives in
// domain.RunParams; the values here are the defaults applied to every run.
type Config struct {
	MetaDBPath string // path to the SQLite metadata store
	ListenAddr string // HTTP listen address for serve mode (default ":8080")
	LogLevel   string // debug, info, warn, error (default "info")
	Env        string // "development" (default) or "production"

	// Metadata store pool tuning; zero keeps the db package defaults.
	MetaDBReadPool    int
	MetaDBBusyTimeout time.Duration

	// Trigger API rate limiting
	RateLimitRPS   float64
	RateLimitBurst int

	CORSAllowedOrigins []string // allowed origins for the trigger API (default: ["*"])

	Auth       AuthConfig
	Hyperscale HyperscaleConfig
	Storage    StorageConfig

	// Run defaults
	MaxConcurrency   int
	SampleRowCap     int
	BatchTargetBytes int64
	BatchMaxRows     int

	// Metadata table names after prefix and overrides.
	Tables domain.MetadataTables

	// Cron expressions for recurring runs in serve mode; empty disables.
	DiscoverySchedule string
	MaskingSchedule   string

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
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

// IsProduction returns true when running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// HasS3Config returns true if the S3 key pair is set.
func (c *Config) HasS3Config() bool {
	return c.Storage.S3KeyID != nil && c.Storage.S3Secret != nil
}

// RunDefaults returns domain.DefaultRunParams overlaid with the configured
// tunables.
func (c *Config) RunDefaults() domain.RunParams {
	p := domain.DefaultRunParams()
	if c.MaxConcurrency > 0 {
		p.MaxConcurrency = c.MaxConcurrency
	}
	if c.SampleRowCap > 0 {
		p.SampleRowCap = c.SampleRowCap
	}
	if c.BatchTargetBytes > 0 {
		p.BatchTargetBytes = c.BatchTargetBytes
	}
	if c.BatchMaxRows > 0 {
		p.BatchMaxRows = c.BatchMaxRows
	}
	return p
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		MetaDBPath:        os.Getenv("META_DB_PATH"),
		ListenAddr:        os.Getenv("LISTEN_ADDR"),
		LogLevel:          os.Getenv("LOG_LEVEL"),
		Env:               os.Getenv("ENV"),
		DiscoverySchedule: strings.TrimSpace(os.Getenv("DISCOVERY_SCHEDULE")),
		MaskingSchedule:   strings.TrimSpace(os.Getenv("MASKING_SCHEDULE")),
		Hyperscale: HyperscaleConfig{
			URL:    strings.TrimRight(os.Getenv("HYPERSCALE_URL"), "/"),
			APIKey: os.Getenv("HYPERSCALE_API_KEY"),
		},
		Auth: AuthConfig{
			JWTSecret:     os.Getenv("JWT_SECRET"),
			OIDCIssuerURL: os.Getenv("OIDC_ISSUER_URL"),
			OIDCAudience:  os.Getenv("OIDC_AUDIENCE"),
		},
	}
	for _, k := range strings.Split(os.Getenv("API_KEYS"), ",") {
		if k = strings.TrimSpace(k); k != "" {
			cfg.Auth.APIKeys = append(cfg.Auth.APIKeys, k)
		}
	}
	for _, o := range strings.Split(os.Getenv("CORS_ALLOWED_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
		}
	}

	var err error
	if cfg.RateLimitRPS, err = parseFloatEnv("RATE_LIMIT_RPS"); err != nil {
		return nil, err
	}
	if cfg.RateLimitBurst, err = parseIntEnv("RATE_LIMIT_BURST"); err != nil {
		return nil, err
	}
	if cfg.MetaDBReadPool, err = parseIntEnv("META_DB_READ_POOL"); err != nil {
		return nil, err
	}
	if cfg.MetaDBBusyTimeout, err = parseDurationEnv("META_DB_BUSY_TIMEOUT"); err != nil {
		return nil, err
	}
	if cfg.Hyperscale.Timeout, err = parseDurationEnv("HYPERSCALE_TIMEOUT"); err != nil {
		return nil, err
	}
	if cfg.Hyperscale.RetryAttempts, err = parseIntEnv("HYPERSCALE_RETRY_ATTEMPTS"); err != nil {
		return nil, err
	}
	if cfg.Hyperscale.RetryBaseDelay, err = parseDurationEnv("HYPERSCALE_RETRY_BASE_DELAY"); err != nil {
		return nil, err
	}
	if cfg.Hyperscale.RPS, err = parseFloatEnv("HYPERSCALE_RPS"); err != nil {
		return nil, err
	}
	breaker, err := parseIntEnv("HYPERSCALE_BREAKER_FAILURES")
	if err != nil {
		return nil, err
	}
	if breaker < 0 {
		return nil, fmt.Errorf("HYPERSCALE_BREAKER_FAILURES must not be negative")
	}
	cfg.Hyperscale.BreakerFailures = uint32(breaker)

	if cfg.MaxConcurrency, err = parseIntEnv("MAX_CONCURRENCY"); err != nil {
		return nil, err
	}
	if cfg.SampleRowCap, err = parseIntEnv("SAMPLE_ROW_CAP"); err != nil {
		return nil, err
	}
	batchBytes, err := parseIntEnv("BATCH_TARGET_BYTES")
	if err != nil {
		return nil, err
	}
	cfg.BatchTargetBytes = int64(batchBytes)
	if cfg.BatchMaxRows, err = parseIntEnv("BATCH_MAX_ROWS"); err != nil {
		return nil, err
	}

	// Object storage credentials are optional: only set if present
	if v := os.Getenv("S3_KEY_ID"); v != "" {
		cfg.Storage.S3KeyID = &v
	}
	if v := os.Getenv("S3_SECRET"); v != "" {
		cfg.Storage.S3Secret = &v
	}
	if v := os.Getenv("S3_ENDPOINT"); v != "" {
		cfg.Storage.S3Endpoint = &v
	}
	if v := os.Getenv("S3_REGION"); v != "" {
		cfg.Storage.S3Region = &v
	}
	cfg.Storage.AzureAccountName = os.Getenv("AZURE_STORAGE_ACCOUNT")
	cfg.Storage.AzureAccountKey = os.Getenv("AZURE_STORAGE_KEY")
	cfg.Storage.AzureConnectionString = os.Getenv("AZURE_STORAGE_CONNECTION_STRING")
	cfg.Storage.GCSKeyID = os.Getenv("GCS_HMAC_KEY_ID")
	cfg.Storage.GCSSecret = os.Getenv("GCS_HMAC_SECRET")
	cfg.Storage.GCSCredentialsFile = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")

	tables, err := loadMetadataTables()
	if err != nil {
		return nil, err
	}
	cfg.Tables = tables

	// Defaults
	if cfg.MetaDBPath == "" {
		cfg.MetaDBPath = "maskflow_meta.sqlite"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 10
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 20
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}
	if cfg.Hyperscale.Timeout == 0 {
		cfg.Hyperscale.Timeout = 5 * time.Minute
	}
	if cfg.Hyperscale.RetryAttempts <= 0 {
		cfg.Hyperscale.RetryAttempts = 1
	}
	if cfg.Hyperscale.RetryBaseDelay == 0 {
		cfg.Hyperscale.RetryBaseDelay = 2 * time.Second
	}

	if cfg.Hyperscale.URL == "" {
		cfg.Warnings = append(cfg.Warnings, "HYPERSCALE_URL not set: discovery and masking runs will fail")
	}
	if cfg.Hyperscale.APIKey == "" {
		cfg.Warnings = append(cfg.Warnings, "HYPERSCALE_API_KEY not set: requests are sent unauthenticated")
	}
	if !cfg.Auth.Enabled() {
		cfg.Warnings = append(cfg.Warnings, "no JWT_SECRET, OIDC_ISSUER_URL or API_KEYS set: the trigger API is unauthenticated")
	}
	if cfg.Storage.S3KeyID != nil && cfg.Storage.S3Secret == nil {
		cfg.Warnings = append(cfg.Warnings, "S3_KEY_ID set without S3_SECRET: S3 credentials ignored")
	}

	// Production mode: insecure defaults are fatal errors.
	if cfg.IsProduction() {
		if cfg.Hyperscale.URL == "" {
			return nil, fmt.Errorf("HYPERSCALE_URL must be set in production (ENV=production)")
		}
		if cfg.Hyperscale.APIKey == "" {
			return nil, fmt.Errorf("HYPERSCALE_API_KEY must be set in production (ENV=production)")
		}
		if !strings.HasPrefix(cfg.Hyperscale.URL, "https://") {
			return nil, fmt.Errorf("HYPERSCALE_URL must use https in production (ENV=production)")
		}
		if !cfg.Auth.Enabled() {
			return nil, fmt.Errorf("JWT_SECRET, OIDC_ISSUER_URL or API_KEYS must be set in production (ENV=production)")
		}
		if slices.Contains(cfg.CORSAllowedOrigins, "*") {
			return nil, fmt.Errorf("CORS wildcard (*) is not allowed in production (ENV=production)")
		}
	}

	return cfg, nil
}

// loadMetadataTables applies METADATA_TABLE_PREFIX to the default names and
// then the per-table overrides.
func loadMetadataTables() (domain.MetadataTables, error) {
	prefix := os.Getenv("METADATA_TABLE_PREFIX")
	pick := func(envKey, def string) string {
		if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
			return v
		}
		return prefix + def
	}
	t := domain.MetadataTables{
		Ruleset:            pick("METADATA_TABLE_RULESET", domain.DefaultRulesetTable),
		DataMapping:        pick("METADATA_TABLE_DATA_MAPPING", domain.DefaultDataMappingTable),
		TypeMapping:        pick("METADATA_TABLE_TYPE_MAPPING", domain.DefaultTypeMappingTable),
		CaptureConstraints: pick("METADATA_TABLE_CAPTURE_CONSTRAINTS", domain.DefaultCaptureConstraintsTable),
		EventLog:           pick("METADATA_TABLE_EVENT_LOG", domain.DefaultEventLogTable),
	}
	for _, name := range []string{t.Ruleset, t.DataMapping, t.TypeMapping, t.CaptureConstraints, t.EventLog} {
		if !isPlainIdentifier(name) {
			return t, fmt.Errorf("invalid metadata table name %q", name)
		}
	}
	return t, nil
}

func isPlainIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

func parseIntEnv(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	return n, nil
}

func parseFloatEnv(key string) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q", key, v)
	}
	return f, nil
}

func parseDurationEnv(key string) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, v)
	}
	return d, nil
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
		value = stripQuotes(strings.TrimSpace(value))
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes matching surrounding double or single quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

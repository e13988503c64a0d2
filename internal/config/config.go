// Package config provides configuration loading and validation for the tour server.
// It uses koanf to merge environment variables with optional file overrides.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Document store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all configuration values for the tour server.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Document store
	DocstoreDriver string `koanf:"docstore_driver"`
	DatabaseURL    string `koanf:"database_url"`
	SQLitePath     string `koanf:"sqlite_path"`

	// Sessions
	RedisURL              string `koanf:"redis_url"` // Optional; sessions are kept in memory without it
	SessionSecret         string `koanf:"session_secret"`
	SessionSecretPrevious string `koanf:"session_secret_previous"`
	SessionTTLHours       int    `koanf:"session_ttl_hours"`
	ReselectPolicy        string `koanf:"reselect_policy"` // discard or save

	// Display
	PlaceholderImageURL string `koanf:"placeholder_image_url"`
	ImageMaxWidth       int    `koanf:"image_max_width"`

	// R2 (Cloudflare Object Storage)
	R2BucketName      string `koanf:"r2_bucket_name"`
	R2AccessKeyID     string `koanf:"r2_access_key_id"`
	R2SecretAccessKey string `koanf:"r2_secret_access_key"`
	R2Endpoint        string `koanf:"r2_endpoint"`
	R2MaxUploadSizeMB int    `koanf:"r2_max_upload_size_mb"` // Default: 25MB
	BlobPublicBaseURL string `koanf:"blob_public_base_url"`

	// CORS
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`

	// Tracing
	TracingEnabled      bool    `koanf:"tracing_enabled"`
	TracingExporter     string  `koanf:"tracing_exporter"`
	TracingEndpoint     string  `koanf:"tracing_endpoint"`
	TracingSamplingRate float64 `koanf:"tracing_sampling_rate"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL       = errors.New("DATABASE_URL is required for the postgres driver")
	ErrMissingSQLitePath        = errors.New("SQLITE_PATH is required for the sqlite driver")
	ErrInvalidDocstoreDriver    = errors.New("DOCSTORE_DRIVER must be memory, sqlite or postgres")
	ErrMissingSessionSecret     = errors.New("SESSION_SECRET is required")
	ErrInvalidReselectPolicy    = errors.New("RESELECT_POLICY must be discard or save")
	ErrMissingR2BucketName      = errors.New("R2_BUCKET_NAME is required")
	ErrMissingR2AccessKeyID     = errors.New("R2_ACCESS_KEY_ID is required")
	ErrMissingR2SecretAccessKey = errors.New("R2_SECRET_ACCESS_KEY is required")
	ErrMissingR2Endpoint        = errors.New("R2_ENDPOINT is required")
	ErrMissingBlobPublicBaseURL = errors.New("BLOB_PUBLIC_BASE_URL is required")
	ErrInvalidTracingExporter   = errors.New("TRACING_EXPORTER must be otlp-grpc or otlp-http")
	ErrInvalidSamplingRate      = errors.New("TRACING_SAMPLING_RATE must be between 0 and 1")
	ErrInvalidPort              = errors.New("PORT must be a valid integer")
)

// Default values for non-secret configuration.
const (
	DefaultPort                = 8080
	DefaultEnv                 = "development"
	DefaultDocstoreDriver      = DriverSQLite
	DefaultSQLitePath          = "panotour.db"
	DefaultSessionTTLHours     = 24 * 7
	DefaultReselectPolicy      = "discard"
	DefaultPlaceholderImageURL = "./public/placeholder.jpg"
	DefaultImageMaxWidth       = 8192
	DefaultR2MaxUploadSizeMB   = 25
	DefaultTracingExporter     = "otlp-http"
	DefaultTracingSamplingRate = 1.0
)

// Load merges the optional YAML file at configFilePath with the environment
// and validates the result. Environment variables win over file values; the
// variable for a key is the key in upper case unless listed otherwise. Load
// returns every problem it finds. A file that cannot be read is the only
// error that yields a nil config.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}
	src := &source{k: k}

	cfg := &Config{
		Port:                  src.int("port", DefaultPort, "PANOTOUR_PORT", "PORT"),
		Env:                   src.str("env", DefaultEnv, "PANOTOUR_ENV", "ENV", "GO_ENV"),
		DocstoreDriver:        src.str("docstore_driver", DefaultDocstoreDriver),
		DatabaseURL:           src.str("database_url", ""),
		SQLitePath:            src.str("sqlite_path", DefaultSQLitePath),
		RedisURL:              src.str("redis_url", ""),
		SessionSecret:         src.str("session_secret", ""),
		SessionSecretPrevious: src.str("session_secret_previous", ""),
		SessionTTLHours:       src.int("session_ttl_hours", DefaultSessionTTLHours),
		ReselectPolicy:        src.str("reselect_policy", DefaultReselectPolicy),
		PlaceholderImageURL:   src.str("placeholder_image_url", DefaultPlaceholderImageURL),
		ImageMaxWidth:         src.int("image_max_width", DefaultImageMaxWidth),
		R2BucketName:          src.str("r2_bucket_name", ""),
		R2AccessKeyID:         src.str("r2_access_key_id", ""),
		R2SecretAccessKey:     src.str("r2_secret_access_key", ""),
		R2Endpoint:            src.str("r2_endpoint", ""),
		R2MaxUploadSizeMB:     src.int("r2_max_upload_size_mb", DefaultR2MaxUploadSizeMB),
		BlobPublicBaseURL:     src.str("blob_public_base_url", ""),
		CORSAllowedOrigins:    src.list("cors_allowed_origins"),
		TracingEnabled:        src.bool("tracing_enabled"),
		TracingExporter:       src.str("tracing_exporter", DefaultTracingExporter),
		TracingEndpoint:       src.str("tracing_endpoint", ""),
		TracingSamplingRate:   src.float("tracing_sampling_rate", DefaultTracingSamplingRate),
	}
	return cfg, append(src.errs, cfg.Validate()...)
}

// R2Enabled reports whether uploads are configured.
func (c *Config) R2Enabled() bool {
	return c.R2BucketName != "" || c.R2AccessKeyID != "" || c.R2SecretAccessKey != "" || c.R2Endpoint != ""
}

// IsProduction reports whether the server runs in production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// source resolves one key from the environment, then the file, then a
// default, and collects parse errors.
type source struct {
	k    *koanf.Koanf
	errs []error
}

// lookup returns the first non-empty variable among envKeys, or the
// upper-cased key when envKeys is empty.
func (s *source) lookup(key string, envKeys []string) (name, value string) {
	if len(envKeys) == 0 {
		envKeys = []string{strings.ToUpper(key)}
	}
	for _, env := range envKeys {
		if v := os.Getenv(env); v != "" {
			return env, v
		}
	}
	return "", ""
}

func (s *source) str(key, def string, envKeys ...string) string {
	if _, v := s.lookup(key, envKeys); v != "" {
		return v
	}
	if v := s.k.String(key); v != "" {
		return v
	}
	return def
}

func (s *source) int(key string, def int, envKeys ...string) int {
	if name, v := s.lookup(key, envKeys); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
		if key == "port" {
			s.errs = append(s.errs, fmt.Errorf("%s=%q: %w", name, v, ErrInvalidPort))
		} else {
			s.errs = append(s.errs, fmt.Errorf("%s must be a valid integer: %w", name, err))
		}
		return def
	}
	if s.k.Int(key) != 0 {
		return s.k.Int(key)
	}
	return def
}

func (s *source) float(key string, def float64) float64 {
	if name, v := s.lookup(key, nil); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			s.errs = append(s.errs, fmt.Errorf("%s must be a valid float: %w", name, err))
			return def
		}
		return f
	}
	if s.k.Exists(key) {
		return s.k.Float64(key)
	}
	return def
}

func (s *source) bool(key string) bool {
	_, v := s.lookup(key, nil)
	switch strings.ToLower(v) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return s.k.Bool(key)
}

// list reads a comma-separated variable or a YAML sequence.
func (s *source) list(key string) []string {
	_, v := s.lookup(key, nil)
	if v == "" {
		return s.k.Strings(key)
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	switch c.DocstoreDriver {
	case DriverMemory:
	case DriverSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, ErrMissingSQLitePath)
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, ErrMissingDatabaseURL)
		}
	default:
		errs = append(errs, ErrInvalidDocstoreDriver)
	}

	if c.SessionSecret == "" {
		errs = append(errs, ErrMissingSessionSecret)
	}
	if c.ReselectPolicy != "discard" && c.ReselectPolicy != "save" {
		errs = append(errs, ErrInvalidReselectPolicy)
	}

	// R2 configuration is optional. Only validate fields if any R2 value is set.
	if c.R2Enabled() {
		if c.R2BucketName == "" {
			errs = append(errs, ErrMissingR2BucketName)
		}
		if c.R2AccessKeyID == "" {
			errs = append(errs, ErrMissingR2AccessKeyID)
		}
		if c.R2SecretAccessKey == "" {
			errs = append(errs, ErrMissingR2SecretAccessKey)
		}
		if c.R2Endpoint == "" {
			errs = append(errs, ErrMissingR2Endpoint)
		}
		if c.BlobPublicBaseURL == "" {
			errs = append(errs, ErrMissingBlobPublicBaseURL)
		}
	}

	if c.TracingEnabled {
		if c.TracingExporter != "otlp-grpc" && c.TracingExporter != "otlp-http" {
			errs = append(errs, ErrInvalidTracingExporter)
		}
		if c.TracingSamplingRate < 0 || c.TracingSamplingRate > 1 {
			errs = append(errs, ErrInvalidSamplingRate)
		}
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                    fmt.Sprintf("%d", c.Port),
		"env":                     c.Env,
		"docstore_driver":         c.DocstoreDriver,
		"database_url":            maskDatabaseURL(c.DatabaseURL),
		"sqlite_path":             c.SQLitePath,
		"redis_url":               maskDatabaseURL(c.RedisURL),
		"session_secret":          maskSecret(c.SessionSecret),
		"session_secret_previous": maskSecret(c.SessionSecretPrevious),
		"session_ttl_hours":       fmt.Sprintf("%d", c.SessionTTLHours),
		"reselect_policy":         c.ReselectPolicy,
		"placeholder_image_url":   c.PlaceholderImageURL,
		"image_max_width":         fmt.Sprintf("%d", c.ImageMaxWidth),
		"r2_bucket_name":          c.R2BucketName,
		"r2_access_key_id":        maskSecret(c.R2AccessKeyID),
		"r2_secret_access_key":    maskSecret(c.R2SecretAccessKey),
		"r2_endpoint":             c.R2Endpoint,
		"r2_max_upload_size_mb":   fmt.Sprintf("%d", c.R2MaxUploadSizeMB),
		"blob_public_base_url":    c.BlobPublicBaseURL,
		"cors_allowed_origins":    strings.Join(c.CORSAllowedOrigins, ","),
		"tracing_enabled":         fmt.Sprintf("%t", c.TracingEnabled),
		"tracing_exporter":        c.TracingExporter,
		"tracing_endpoint":        c.TracingEndpoint,
		"tracing_sampling_rate":   strconv.FormatFloat(c.TracingSamplingRate, 'f', -1, 64),
	}
}

// maskSecret keeps the first four characters of secrets of eight or more.
func maskSecret(s string) string {
	switch {
	case s == "":
		return "<not set>"
	case len(s) < 8:
		return "****"
	default:
		return s[:4] + "****"
	}
}

// maskDatabaseURL hides the password of a postgres:// or redis:// URL.
// Values that are not URLs are masked as secrets.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return maskSecret(s)
	}
	if _, ok := u.User.Password(); !ok {
		return s
	}
	user := u.User.Username()
	u.User = nil
	return strings.Replace(u.String(), "://", "://"+user+":****@", 1)
}

// Package config loads the application configuration.
//
// LAYERS (later wins):
//  1. Defaults (Default)
//  2. An optional YAML file
//  3. Environment variables (PORT, DB_PATH, JWT_SECRET, ...)
//
// The result is checked with go-playground/validator struct tags, so a bad
// value fails at startup with a message naming the field, instead of at the
// first request that needs it.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Redis     RedisConfig     `yaml:"redis"`
	Inference InferenceConfig `yaml:"inference"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"readTimeout" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"writeTimeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" validate:"gt=0"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver" validate:"oneof=sqlite postgres"`
	// Path is the SQLite file (or ":memory:").
	Path string `yaml:"path" validate:"required_if=Driver sqlite"`
	// URL is the PostgreSQL connection string.
	URL string `yaml:"url" validate:"required_if=Driver postgres"`
}

// DSN returns the connection string for the configured driver.
func (d DatabaseConfig) DSN() string {
	if d.Driver == "postgres" {
		return d.URL
	}
	return d.Path
}

// AuthConfig selects how session tokens are resolved. With JWTSecret set,
// tokens are verified locally; otherwise SupabaseURL and SupabaseAnonKey
// are used to ask the identity provider.
type AuthConfig struct {
	JWTSecret       string `yaml:"jwtSecret" validate:"omitempty,min=16"`
	Issuer          string `yaml:"issuer"`
	Audience        string `yaml:"audience"`
	CookieName      string `yaml:"cookieName"`
	SupabaseURL     string `yaml:"supabaseURL" validate:"omitempty,url"`
	SupabaseAnonKey string `yaml:"supabaseAnonKey" validate:"required_with=SupabaseURL"`
}

// Enabled reports whether any way of resolving tokens is configured.
func (a AuthConfig) Enabled() bool {
	return a.JWTSecret != "" || a.SupabaseURL != ""
}

// RedisConfig is optional; an empty URL disables the credit cache and
// idempotency keys.
type RedisConfig struct {
	URL            string        `yaml:"url" validate:"omitempty,url"`
	CreditTTL      time.Duration `yaml:"creditTTL" validate:"gte=0"`
	IdempotencyTTL time.Duration `yaml:"idempotencyTTL" validate:"gte=0"`
}

type InferenceConfig struct {
	Token   string        `yaml:"token"`
	Model   string        `yaml:"model" validate:"required"`
	BaseURL string        `yaml:"baseURL" validate:"omitempty,url"`
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

// RateLimitConfig limits POST /api/generate per user. PerMinute 0 disables it.
type RateLimitConfig struct {
	PerMinute int `yaml:"perMinute" validate:"gte=0"`
	Burst     int `yaml:"burst" validate:"gte=1"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:        8080,
			ReadTimeout: 15 * time.Second,
			// Generation blocks on the model, so writes need longer than
			// the inference timeout.
			WriteTimeout:    150 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "data/imagine.db",
		},
		Auth: AuthConfig{
			Audience:   "authenticated",
			CookieName: "sb-access-token",
		},
		Redis: RedisConfig{
			CreditTTL:      30 * time.Second,
			IdempotencyTTL: 24 * time.Hour,
		},
		Inference: InferenceConfig{
			Model:   "black-forest-labs/flux-schnell",
			Timeout: 120 * time.Second,
		},
		RateLimit: RateLimitConfig{
			PerMinute: 10,
			Burst:     3,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (skipped
// when path is empty) and the process environment.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays environment variables. Unset variables leave the value
// alone; set-but-empty ones clear it.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	if v, ok := lookup("PORT"); ok {
		port, err := strconv.Atoi(v) // Atoi = ASCII to Integer
		if err != nil {
			return fmt.Errorf("config: invalid PORT %q", v)
		}
		cfg.Server.Port = port
	}

	// DATABASE_URL alone implies postgres, the way hosted platforms hand it out.
	if v, ok := lookup("DATABASE_URL"); ok && v != "" {
		cfg.Database.URL = v
		cfg.Database.Driver = "postgres"
	}
	str("DB_DRIVER", &cfg.Database.Driver)
	str("DB_PATH", &cfg.Database.Path)

	// SUPABASE_JWT_SECRET is the name the provider's dashboard uses.
	str("SUPABASE_JWT_SECRET", &cfg.Auth.JWTSecret)
	str("JWT_SECRET", &cfg.Auth.JWTSecret)
	str("JWT_ISSUER", &cfg.Auth.Issuer)
	str("SUPABASE_URL", &cfg.Auth.SupabaseURL)
	str("SUPABASE_ANON_KEY", &cfg.Auth.SupabaseAnonKey)

	str("REDIS_URL", &cfg.Redis.URL)

	str("REPLICATE_API_TOKEN", &cfg.Inference.Token)
	str("REPLICATE_MODEL", &cfg.Inference.Model)
	if v, ok := lookup("INFERENCE_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: invalid INFERENCE_TIMEOUT %q: %w", v, err)
		}
		cfg.Inference.Timeout = d
	}

	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)

	return nil
}

// validate is safe for concurrent use and caches struct metadata, so one
// instance serves the whole package.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field against its validate tag and reports all
// failures at once.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), redact(fe)))
	}
	return fmt.Errorf("config: invalid configuration: %s", strings.Join(msgs, "; "))
}

// redact hides secrets from validation messages.
func redact(fe validator.FieldError) any {
	switch fe.Field() {
	case "JWTSecret", "SupabaseAnonKey", "Token":
		return "<redacted>"
	}
	return fe.Value()
}

// NewLogger builds the slog logger described by the config.
//
// Log levels (from least to most severe): Debug → Info → Warn → Error.
// Text output is for terminals; JSON is for log collectors.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch l.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

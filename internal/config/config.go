package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. ROBOLEARN_ADDR.
const EnvPrefix = "ROBOLEARN"

// Environments
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config is the process configuration. Empty optional values disable their feature.
type Config struct {
	Env     string
	Addr    string
	DBPath  string
	SiteURL string // empty: emailed links use the request origin

	RecaptchaSiteKey string
	RecaptchaSecret  string
	GAMeasurementID  string

	CSRFKey     string
	TokenSecret string

	ResendKey   string
	SendGridKey string
	EmailFrom   string
	ReplyTo     string

	RedisURL string

	GoogleClientID     string
	GoogleClientSecret string

	RequireEmailConfirmation bool

	LogLevel           string
	SlowQueryMs        int
	SlowRequestMs      int
	RateLimitPerSecond float64
}

// Errors for configuration that cannot start a production server.
var (
	ErrMissingCSRFKey     = errors.New("ROBOLEARN_CSRF_KEY must be set in production")
	ErrMissingTokenSecret = errors.New("ROBOLEARN_TOKEN_SECRET must be set in production")
	ErrShortSecret        = errors.New("secrets must be at least 32 bytes")
)

// DevSecret signs link codes and CSRF tokens outside production.
const DevSecret = "robolearn-development-secret-0123"

func newViper() *viper.Viper {
	v := viper.New()
	v.SetTypeByDefaultValue(true)
	v.SetDefault("env", EnvDevelopment)
	v.SetDefault("addr", ":8080")
	v.SetDefault("db_path", "robolearn.db")
	v.SetDefault("site_url", "")
	v.SetDefault("recaptcha_site_key", "")
	v.SetDefault("recaptcha_secret", "")
	v.SetDefault("ga_measurement_id", "")
	v.SetDefault("csrf_key", "")
	v.SetDefault("token_secret", "")
	v.SetDefault("resend_key", "")
	v.SetDefault("sendgrid_key", "")
	v.SetDefault("email_from", "RoboLearn <noreply@robolearn.local>")
	v.SetDefault("reply_to", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("google_client_id", "")
	v.SetDefault("google_client_secret", "")
	v.SetDefault("require_email_confirmation", true)
	v.SetDefault("log_level", "info")
	v.SetDefault("slow_query_ms", 50)
	v.SetDefault("slow_request_ms", 500)
	v.SetDefault("rate_limit_per_second", 10.0)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	return v
}

// Load reads an optional dotenv file, then ROBOLEARN_* environment variables over defaults.
// PRE: envFile may be empty or point at a missing file
// POST: Returns a validated Config
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return Config{}, fmt.Errorf("load %s: %w", envFile, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("stat %s: %w", envFile, err)
		}
	}

	v := newViper()
	cfg := Config{
		Env:                      strings.ToLower(v.GetString("env")),
		Addr:                     v.GetString("addr"),
		DBPath:                   v.GetString("db_path"),
		SiteURL:                  strings.TrimRight(v.GetString("site_url"), "/"),
		RecaptchaSiteKey:         v.GetString("recaptcha_site_key"),
		RecaptchaSecret:          v.GetString("recaptcha_secret"),
		GAMeasurementID:          v.GetString("ga_measurement_id"),
		CSRFKey:                  v.GetString("csrf_key"),
		TokenSecret:              v.GetString("token_secret"),
		ResendKey:                v.GetString("resend_key"),
		SendGridKey:              v.GetString("sendgrid_key"),
		EmailFrom:                v.GetString("email_from"),
		ReplyTo:                  v.GetString("reply_to"),
		RedisURL:                 v.GetString("redis_url"),
		GoogleClientID:           v.GetString("google_client_id"),
		GoogleClientSecret:       v.GetString("google_client_secret"),
		RequireEmailConfirmation: v.GetBool("require_email_confirmation"),
		LogLevel:                 v.GetString("log_level"),
		SlowQueryMs:              v.GetInt("slow_query_ms"),
		SlowRequestMs:            v.GetInt("slow_request_ms"),
		RateLimitPerSecond:       v.GetFloat64("rate_limit_per_second"),
	}
	if err := cfg.finish(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// finish applies development fallbacks and rejects unsafe production settings.
func (c *Config) finish() error {
	if c.IsProduction() {
		if c.CSRFKey == "" {
			return ErrMissingCSRFKey
		}
		if c.TokenSecret == "" {
			return ErrMissingTokenSecret
		}
	}
	if c.CSRFKey == "" {
		c.CSRFKey = DevSecret
	}
	if c.TokenSecret == "" {
		c.TokenSecret = DevSecret
	}
	if len(c.CSRFKey) < 32 || len(c.TokenSecret) < 32 {
		return ErrShortSecret
	}
	return nil
}

// IsProduction reports whether the server runs in production.
func (c Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// ChallengeEnabled reports whether the registration bot challenge is configured.
func (c Config) ChallengeEnabled() bool {
	return c.RecaptchaSiteKey != "" && c.RecaptchaSecret != ""
}

// GoogleEnabled reports whether Google sign-in is configured.
func (c Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// SlogLevel maps LogLevel onto slog; unknown values mean info.
func (c Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"glaze/pkg/platform/middleware/metadata"
	strs "glaze/pkg/platform/strings"
)

// Environment names recognised by the gatekeeper.
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// Config is the full service configuration. Values are layered: defaults,
// then an optional YAML file, then environment variables.
type Config struct {
	Server     Server           `koanf:"server"`
	Log        LogConfig        `koanf:"log"`
	Redis      RedisConfig      `koanf:"redis"`
	Limits     Limits           `koanf:"limits"`
	Security   Security         `koanf:"security"`
	Completion CompletionConfig `koanf:"completion"`
	Codeforces CodeforcesConfig `koanf:"codeforces"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr           string        `koanf:"addr"`
	Environment    string        `koanf:"environment"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// IsProduction reports whether production-only admission checks apply.
func (s Server) IsProduction() bool {
	return s.Environment == EnvProduction
}

// LogConfig selects level and an optional rotating file sink.
type LogConfig struct {
	Level      string `koanf:"level"`
	File       string `koanf:"file"`
	MaxSizeMB  int    `koanf:"max_size_mb"`
	MaxBackups int    `koanf:"max_backups"`
}

// RedisConfig holds connection settings. An empty URL selects in-memory stores.
type RedisConfig struct {
	URL          string        `koanf:"url"`
	PoolSize     int           `koanf:"pool_size"`
	MinIdleConns int           `koanf:"min_idle_conns"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// Limits holds the token budget and per-client request limits.
type Limits struct {
	MaxDailyTokens       int64         `koanf:"max_daily_tokens"`
	PreflightEstimate    int64         `koanf:"preflight_estimate"`
	MaxRequestsPerWindow int           `koanf:"max_requests_per_window"`
	Window               time.Duration `koanf:"window"`
	BurstPerMinute       int           `koanf:"burst_per_minute"`
	CacheTTL             time.Duration `koanf:"cache_ttl"`
	ReconcileSchedule    string        `koanf:"reconcile_schedule"`
	MaxBodyBytes         int64         `koanf:"max_body_bytes"`
	MaxCodeChars         int           `koanf:"max_code_chars"`
}

// Security holds origin allow-list, proxy trust and shared secrets.
// TrustedProxies lists the CIDRs or addresses whose forwarding headers are
// believed when resolving the client IP.
type Security struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
	TrustedProxies []string `koanf:"trusted_proxies"`
	ResetSecret    string   `koanf:"reset_secret"`
	AdminToken     string   `koanf:"admin_token"`
}

// CompletionConfig configures the OpenAI-compatible completion provider.
type CompletionConfig struct {
	APIKey      string        `koanf:"api_key"`
	BaseURL     string        `koanf:"base_url"`
	Model       string        `koanf:"model"`
	MaxTokens   int           `koanf:"max_tokens"`
	Temperature float64       `koanf:"temperature"`
	Timeout     time.Duration `koanf:"timeout"`
}

// CodeforcesConfig configures the profile data source.
type CodeforcesConfig struct {
	BaseURL         string        `koanf:"base_url"`
	SubmissionLimit int           `koanf:"submission_limit"`
	PageSize        int           `koanf:"page_size"`
	PageDelay       time.Duration `koanf:"page_delay"`
	ProfileCacheTTL time.Duration `koanf:"profile_cache_ttl"`
	Timeout         time.Duration `koanf:"timeout"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Server: Server{
			Addr:           ":8080",
			Environment:    EnvDevelopment,
			RequestTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Limits: Limits{
			MaxDailyTokens:       2_000_000,
			PreflightEstimate:    2500,
			MaxRequestsPerWindow: 4,
			Window:               24 * time.Hour,
			BurstPerMinute:       0,
			CacheTTL:             5 * time.Second,
			ReconcileSchedule:    "@every 30s",
			MaxBodyBytes:         64 << 10,
			MaxCodeChars:         20000,
		},
		Security: Security{
			TrustedProxies: append([]string(nil), metadata.DefaultTrustedProxies...),
		},
		Completion: CompletionConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			MaxTokens:   800,
			Temperature: 0.9,
			Timeout:     25 * time.Second,
		},
		Codeforces: CodeforcesConfig{
			BaseURL:         "https://codeforces.com/api",
			SubmissionLimit: 1000,
			PageSize:        500,
			PageDelay:       500 * time.Millisecond,
			ProfileCacheTTL: 2 * time.Minute,
			Timeout:         10 * time.Second,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (if non-empty)
// and environment variables, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := loadYAML(cfg, data); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg, os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadYAML(cfg *Config, data []byte) error {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if err := k.Unmarshal("", cfg); err != nil {
		return fmt.Errorf("decode config file: %w", err)
	}
	return nil
}

// applyEnv overlays environment variables. getenv is injected for tests.
func applyEnv(cfg *Config, getenv func(string) string) {
	setString(&cfg.Server.Addr, getenv("GLAZE_ADDR"))
	setString(&cfg.Server.Environment, getenv("GLAZE_ENV"))
	setDuration(&cfg.Server.RequestTimeout, getenv("REQUEST_TIMEOUT"))

	setString(&cfg.Log.Level, getenv("LOG_LEVEL"))
	setString(&cfg.Log.File, getenv("LOG_FILE"))

	setString(&cfg.Redis.URL, getenv("REDIS_URL"))
	setInt(&cfg.Redis.PoolSize, getenv("REDIS_POOL_SIZE"))

	setInt64(&cfg.Limits.MaxDailyTokens, getenv("MAX_DAILY_TOKENS"))
	setInt64(&cfg.Limits.PreflightEstimate, getenv("PREFLIGHT_TOKEN_ESTIMATE"))
	setInt(&cfg.Limits.MaxRequestsPerWindow, getenv("MAX_REQUESTS_PER_IP"))
	setDuration(&cfg.Limits.Window, getenv("RATE_LIMIT_WINDOW"))
	setInt(&cfg.Limits.BurstPerMinute, getenv("BURST_PER_MINUTE"))
	setDuration(&cfg.Limits.CacheTTL, getenv("TOKEN_CACHE_TTL"))
	setString(&cfg.Limits.ReconcileSchedule, getenv("RECONCILE_SCHEDULE"))

	if origins := getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.Security.AllowedOrigins = strs.SplitList(origins)
	}
	if proxies := getenv("TRUSTED_PROXIES"); proxies != "" {
		cfg.Security.TrustedProxies = strs.SplitList(proxies)
	}
	setString(&cfg.Security.ResetSecret, getenv("RESET_SECRET"))
	setString(&cfg.Security.AdminToken, getenv("ADMIN_TOKEN"))

	setString(&cfg.Completion.APIKey, getenv("COMPLETION_API_KEY"))
	setString(&cfg.Completion.BaseURL, getenv("COMPLETION_BASE_URL"))
	setString(&cfg.Completion.Model, getenv("COMPLETION_MODEL"))
	setInt(&cfg.Completion.MaxTokens, getenv("COMPLETION_MAX_TOKENS"))

	setString(&cfg.Codeforces.BaseURL, getenv("CODEFORCES_BASE_URL"))
	setInt(&cfg.Codeforces.SubmissionLimit, getenv("CODEFORCES_SUBMISSION_LIMIT"))
}

// Validate rejects configurations the limiter cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Limits.MaxDailyTokens <= 0 {
		errs = append(errs, errors.New("limits.max_daily_tokens must be positive"))
	}
	if c.Limits.MaxRequestsPerWindow <= 0 {
		errs = append(errs, errors.New("limits.max_requests_per_window must be positive"))
	}
	if c.Limits.Window <= 0 {
		errs = append(errs, errors.New("limits.window must be positive"))
	}
	if c.Limits.CacheTTL < 0 {
		errs = append(errs, errors.New("limits.cache_ttl cannot be negative"))
	}
	if c.Limits.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("limits.max_body_bytes must be positive"))
	}
	if c.Codeforces.PageSize <= 0 {
		errs = append(errs, errors.New("codeforces.page_size must be positive"))
	}
	if _, err := metadata.NewResolver(c.Security.TrustedProxies); err != nil {
		errs = append(errs, fmt.Errorf("security.trusted_proxies: %w", err))
	}
	switch c.Server.Environment {
	case EnvProduction, EnvDevelopment:
	default:
		errs = append(errs, fmt.Errorf("server.environment must be %q or %q", EnvProduction, EnvDevelopment))
	}
	return errors.Join(errs...)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v string) {
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

func setInt64(dst *int64, v string) {
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		*dst = n
	}
}

func setDuration(dst *time.Duration, v string) {
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
	}
}

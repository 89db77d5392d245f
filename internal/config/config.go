package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the MerchMate server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Generator GeneratorConfig
}

type ServerConfig struct {
	Port                       int
	Env                        string
	MaxBodyBytes               int64
	AllowConcurrentSubmissions bool
	// CORSOrigins lists allowed browser origins; "*" allows any.
	CORSOrigins []string
	// TrustedProxies lists proxy IPs or CIDRs whose X-Forwarded-For is honoured.
	TrustedProxies []string
}

// DatabaseConfig configures the optional job archive. An empty URL disables it.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig configures the optional rate limiter. An empty URL disables it.
type RedisConfig struct {
	URL               string
	RequestsPerMinute int
}

type GeneratorConfig struct {
	Backend       string
	Timeout       time.Duration
	MaxConcurrent int
	Gemini        GeminiConfig
	Proxy         ProxyConfig
}

type GeminiConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type ProxyConfig struct {
	BaseURL string
}

var validBackends = map[string]bool{
	"gemini": true,
	"proxy":  true,
}

// LoadEnvFiles loads variables from the given dotenv files, skipping files that
// do not exist. Variables already set in the environment win.
func LoadEnvFiles(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:                       envInt("MERCHMATE_PORT", 3001),
			Env:                        envString("MERCHMATE_ENV", "development"),
			MaxBodyBytes:               int64(envInt("MAX_BODY_BYTES", 10<<20)),
			AllowConcurrentSubmissions: envBool("ALLOW_CONCURRENT_SUBMISSIONS", true),
			CORSOrigins:                envList("CORS_ALLOWED_ORIGINS", []string{"*"}),
			TrustedProxies:             envList("TRUSTED_PROXIES", nil),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:               os.Getenv("REDIS_URL"),
			RequestsPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
		},
		Generator: GeneratorConfig{
			Backend:       envString("GENERATOR_BACKEND", "gemini"),
			Timeout:       envDurationSecs("GENERATION_TIMEOUT_SECS", 60*time.Second),
			MaxConcurrent: envInt("MAX_CONCURRENT_JOBS", 0),
			Gemini: GeminiConfig{
				APIKey:  envString("GEMINI_API_KEY", os.Getenv("VITE_GEMINI_API_KEY")),
				BaseURL: envString("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
				Model:   envString("GEMINI_MODEL", "gemini-2.5-flash-image"),
			},
			Proxy: ProxyConfig{
				BaseURL: os.Getenv("PROXY_BASE_URL"),
			},
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("MERCHMATE_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("MAX_BODY_BYTES must be positive")
	}

	if !validBackends[c.Generator.Backend] {
		return fmt.Errorf("GENERATOR_BACKEND must be one of gemini, proxy; got %q", c.Generator.Backend)
	}
	for _, p := range c.Server.TrustedProxies {
		if !isIPOrCIDR(p) {
			return fmt.Errorf("TRUSTED_PROXIES entries must be IPs or CIDRs, got %q", p)
		}
	}

	if c.Generator.Timeout <= 0 {
		return fmt.Errorf("GENERATION_TIMEOUT_SECS must be positive")
	}
	if c.Generator.MaxConcurrent < 0 {
		return fmt.Errorf("MAX_CONCURRENT_JOBS must not be negative")
	}

	if c.Generator.Backend == "gemini" && c.Generator.Gemini.APIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required when GENERATOR_BACKEND is gemini")
	}
	if c.Generator.Backend == "proxy" {
		if c.Generator.Proxy.BaseURL == "" {
			return fmt.Errorf("PROXY_BASE_URL is required when GENERATOR_BACKEND is proxy")
		}
		if !isHTTPURL(c.Generator.Proxy.BaseURL) {
			return fmt.Errorf("PROXY_BASE_URL must start with http:// or https://, got %q", c.Generator.Proxy.BaseURL)
		}
	}
	if !isHTTPURL(c.Generator.Gemini.BaseURL) {
		return fmt.Errorf("GEMINI_BASE_URL must start with http:// or https://, got %q", c.Generator.Gemini.BaseURL)
	}

	return nil
}

// IsDevelopment reports whether the server runs in the development environment.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

func isIPOrCIDR(s string) bool {
	if _, _, err := net.ParseCIDR(s); err == nil {
		return true
	}
	return net.ParseIP(s) != nil
}

func isHTTPURL(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
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

func envDuration(key string, defaultVal time.Duration) time.Duration {
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

func envList(key string, defaultVal []string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}

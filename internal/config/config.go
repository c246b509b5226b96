package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/LixenWraith/logger"
	"github.com/LixenWraith/tinytoml"
	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

const (
	defaultConfigBase = "/usr/local/etc"
	envPrefix         = "NOTIFY_"
)

// SMTPConfig describes the outbound mail relay and the fixed sender/recipient pair.
type SMTPConfig struct {
	Host     string        `toml:"host" env:"SMTP_HOST"`
	Port     string        `toml:"port" env:"SMTP_PORT"`
	Secure   bool          `toml:"secure" env:"SMTP_SECURE"`
	Username string        `toml:"username" env:"SMTP_USERNAME"`
	Password string        `toml:"password" env:"SMTP_PASSWORD"`
	FromAddr string        `toml:"from_addr" env:"MAIL_FROM"`
	ToAddr   string        `toml:"to_addr" env:"MAIL_TO"`
	Timeout  time.Duration `toml:"timeout" env:"SMTP_TIMEOUT"`
}

// RateLimitConfig holds the per-IP sliding window and the process-wide flood guard.
type RateLimitConfig struct {
	Enabled       bool          `toml:"enabled" env:"RATE_LIMIT_ENABLED"`
	Limit         int           `toml:"limit" env:"RATE_LIMIT"`
	Window        time.Duration `toml:"window" env:"RATE_LIMIT_WINDOW"`
	SweepInterval time.Duration `toml:"sweep_interval" env:"RATE_LIMIT_SWEEP"`
	GlobalRPS     int           `toml:"global_rps" env:"GLOBAL_RPS"`
	GlobalBurst   int           `toml:"global_burst" env:"GLOBAL_BURST"`
}

type ServerConfig struct {
	ListenAddr     string          `toml:"listen_addr" env:"LISTEN_ADDR"`
	SubmitPath     string          `toml:"submit_path" env:"SUBMIT_PATH"`
	HealthPath     string          `toml:"health_path" env:"HEALTH_PATH"`
	AllowedOrigins []string        `toml:"allowed_origins" env:"ALLOWED_ORIGINS"`
	MaxBodyBytes   int             `toml:"max_body_bytes" env:"MAX_BODY_BYTES"`
	RequireMessage bool            `toml:"require_message" env:"REQUIRE_MESSAGE"`
	TrustProxy     bool            `toml:"trust_proxy" env:"TRUST_PROXY"`
	Timeout        time.Duration   `toml:"timeout" env:"SERVER_TIMEOUT"`
	RateLimit      RateLimitConfig `toml:"rate_limit"`
}

// ClientConfig drives the submission controller used by notifyc.
type ClientConfig struct {
	EndpointURL    string        `toml:"endpoint_url" env:"ENDPOINT_URL"`
	HealthURL      string        `toml:"health_url" env:"HEALTH_URL"`
	PageOrigin     string        `toml:"page_origin" env:"PAGE_ORIGIN"`
	FallbackEmail  string        `toml:"fallback_email" env:"FALLBACK_EMAIL"`
	RequireMessage bool          `toml:"require_message" env:"CLIENT_REQUIRE_MESSAGE"`
	RequestTimeout time.Duration `toml:"request_timeout" env:"REQUEST_TIMEOUT"`
	ProbeTimeout   time.Duration `toml:"probe_timeout" env:"PROBE_TIMEOUT"`
	RetryDelay     time.Duration `toml:"retry_delay" env:"RETRY_DELAY"`
	MaxAttempts    int           `toml:"max_attempts" env:"MAX_ATTEMPTS"`
	DismissDelay   time.Duration `toml:"dismiss_delay" env:"DISMISS_DELAY"`
}

type Config struct {
	SMTP    SMTPConfig    `toml:"smtp"`
	Server  ServerConfig  `toml:"server"`
	Client  ClientConfig  `toml:"client"`
	Logging logger.Config `toml:"logging"`
}

// Mail relay host, sender, recipient and origins have no defaults: an
// unconfigured deployment must fail at startup rather than relay somewhere.
var defaultConfig = Config{
	SMTP: SMTPConfig{
		Port:    "587",
		Secure:  false,
		Timeout: 15 * time.Second,
	},
	Server: ServerConfig{
		ListenAddr:     ":3001",
		SubmitPath:     "/api/interest",
		HealthPath:     "/health",
		MaxBodyBytes:   10 * 1024,
		RequireMessage: true,
		TrustProxy:     true,
		Timeout:        30 * time.Second,
		RateLimit: RateLimitConfig{
			Enabled:       true,
			Limit:         5,
			Window:        time.Hour,
			SweepInterval: 10 * time.Minute,
			GlobalRPS:     5,
			GlobalBurst:   10,
		},
	},
	Client: ClientConfig{
		RequireMessage: true,
		RequestTimeout: 10 * time.Second,
		ProbeTimeout:   3 * time.Second,
		RetryDelay:     1500 * time.Millisecond,
		MaxAttempts:    2,
		DismissDelay:   8 * time.Second,
	},
	Logging: logger.Config{
		Level:          logger.LevelDebug,
		Name:           "",
		Directory:      "/var/log",
		BufferSize:     1000,
		MaxSizeMB:      100,
		MaxTotalSizeMB: 1000,
		MinDiskFreeMB:  500,
	},
}

// Default returns a copy of the built-in defaults.
func Default() Config {
	cfg := defaultConfig
	cfg.Server.AllowedOrigins = nil
	return cfg
}

// Load reads /usr/local/etc/<name>/<name>.toml over the defaults and then
// applies .env and NOTIFY_* environment overrides.
func Load(name string) (*Config, bool, error) {
	return LoadFrom(defaultConfigBase, name)
}

// LoadFrom is Load with an explicit configuration base directory.
func LoadFrom(base, name string) (*Config, bool, error) {
	configPath := Path(base, name)

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return nil, false, fmt.Errorf("failed to create config directory: %w", err)
	}

	config := Default()
	config.Logging.Name = name
	config.Logging.Directory = filepath.Join(config.Logging.Directory, name)

	configExists := false
	if _, err := os.Stat(configPath); err == nil {
		configExists = true
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, configExists, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := tinytoml.Unmarshal(data, &config); err != nil {
			return nil, configExists, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnv(&config); err != nil {
		return nil, configExists, err
	}

	normalize(&config)

	if err := validateConfig(&config); err != nil {
		return nil, configExists, err
	}

	return &config, configExists, nil
}

// Path returns the config file location for an application name.
func Path(base, name string) string {
	return filepath.Join(base, name, name+".toml")
}

func applyEnv(config *Config) error {
	// A missing .env is the normal case in production.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	opts := env.Options{Prefix: envPrefix}
	for _, target := range []any{&config.SMTP, &config.Server, &config.Client} {
		if err := env.ParseWithOptions(target, opts); err != nil {
			return fmt.Errorf("failed to parse environment: %w", err)
		}
	}

	// Platform-assigned port wins only when no explicit address was given.
	if _, set := os.LookupEnv(envPrefix + "LISTEN_ADDR"); !set {
		if port := os.Getenv(envPrefix + "PORT"); port != "" {
			config.Server.ListenAddr = ":" + port
		} else if port := os.Getenv("PORT"); port != "" {
			config.Server.ListenAddr = ":" + port
		}
	}
	return nil
}

func normalize(config *Config) {
	origins := config.Server.AllowedOrigins[:0:0]
	for _, o := range config.Server.AllowedOrigins {
		for _, part := range strings.Split(o, ",") {
			if part = strings.TrimRight(strings.TrimSpace(part), "/"); part != "" {
				origins = append(origins, part)
			}
		}
	}
	config.Server.AllowedOrigins = origins

	if config.Client.HealthURL == "" {
		config.Client.HealthURL = HealthURLFor(config.Client.EndpointURL, config.Server.HealthPath)
	}
}

// HealthURLFor derives the health route on the endpoint's host. It returns ""
// when endpoint is not an absolute URL.
func HealthURLFor(endpoint, healthPath string) string {
	u, err := url.Parse(endpoint)
	if endpoint == "" || err != nil || u.Host == "" {
		return ""
	}
	u.Path = healthPath
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

func validateConfig(config *Config) error {
	if config.Server.SubmitPath == "" || config.Server.HealthPath == "" ||
		config.Server.SubmitPath == config.Server.HealthPath {
		return fmt.Errorf("invalid server route configuration")
	}

	if config.Server.MaxBodyBytes <= 0 || config.Server.Timeout <= 0 {
		return fmt.Errorf("invalid server limits configuration")
	}

	rl := config.Server.RateLimit
	if rl.Enabled && (rl.Limit <= 0 || rl.Window <= 0 || rl.SweepInterval <= 0) {
		return fmt.Errorf("invalid rate limit configuration")
	}

	c := config.Client
	if c.RequestTimeout <= 0 || c.ProbeTimeout <= 0 || c.RetryDelay < 0 ||
		c.MaxAttempts <= 0 || c.DismissDelay <= 0 {
		return fmt.Errorf("invalid client configuration")
	}

	if config.Logging.Directory == "" || config.Logging.BufferSize <= 0 {
		return fmt.Errorf("invalid logging configuration")
	}

	return nil
}

// ValidateServer enforces the values the intake endpoint cannot run without.
func (c *Config) ValidateServer() error {
	var missing []string
	if c.SMTP.Host == "" {
		missing = append(missing, envPrefix+"SMTP_HOST")
	}
	if c.SMTP.Port == "" {
		missing = append(missing, envPrefix+"SMTP_PORT")
	}
	if c.SMTP.FromAddr == "" {
		missing = append(missing, envPrefix+"MAIL_FROM")
	}
	if c.SMTP.ToAddr == "" {
		missing = append(missing, envPrefix+"MAIL_TO")
	}
	if len(c.Server.AllowedOrigins) == 0 {
		missing = append(missing, envPrefix+"ALLOWED_ORIGINS")
	}
	if c.SMTP.Password != "" && c.SMTP.Username == "" {
		return fmt.Errorf("SMTP password set without username")
	}
	if c.SMTP.Timeout <= 0 {
		return fmt.Errorf("invalid SMTP timeout")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

func Save(config *Config, name string) error {
	return SaveTo(defaultConfigBase, config, name)
}

func SaveTo(base string, config *Config, name string) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}

	data, err := tinytoml.Marshal(*config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(Path(base, name), data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the bridge's YAML configuration. Secrets may be supplied
// through environment variables instead of the file: BRIDGE_SIGNING_SECRET,
// BRIDGE_COOKIE_KEY, and <PROVIDER>_CLIENT_ID / <PROVIDER>_CLIENT_SECRET
// override whatever the file carries.
type Config struct {
	// BaseURL is the bridge's public origin. Required.
	BaseURL string `yaml:"base_url"`

	// ListenAddr is the HTTP listen address. Default ":8080".
	ListenAddr string `yaml:"listen_addr"`

	// SigningSecret signs bridge tokens. Required.
	SigningSecret string `yaml:"signing_secret"`

	// CookieKey is the base64 AES-256 key for browser-session cookies.
	// A random key is generated when absent, which invalidates open
	// browser flows across restarts.
	CookieKey string `yaml:"cookie_key"`

	// StrictExpiry rejects bridge tokens past their JWT exp instead of
	// deferring to the embedded upstream credential expiries.
	StrictExpiry bool `yaml:"strict_expiry"`

	AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
	FlowSessionTTL time.Duration `yaml:"flow_session_ttl"`
	AuthCodeTTL    time.Duration `yaml:"auth_code_ttl"`

	// IdleSessionTimeout reaps protocol sessions with no activity.
	IdleSessionTimeout  time.Duration `yaml:"idle_session_timeout"`
	SessionReapInterval time.Duration `yaml:"session_reap_interval"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Providers maps provider name (atlassian, figma, google) to its
	// upstream app credentials. At least one is required.
	Providers map[string]ProviderConfig `yaml:"providers"`
}

// RateLimitConfig bounds the unauthenticated endpoints per IP.
type RateLimitConfig struct {
	RegistrationRate  int `yaml:"registration_rate"`
	RegistrationBurst int `yaml:"registration_burst"`
	TokenRate         int `yaml:"token_rate"`
	TokenBurst        int `yaml:"token_burst"`
}

// ProviderConfig holds one upstream provider's app registration.
type ProviderConfig struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`

	// RedirectURL, when set, is sent to this provider in place of the
	// callback URLs derived from base_url, for deployments fronted by a
	// different public host.
	RedirectURL string `yaml:"redirect_url"`
}

// LoadConfig reads the YAML file at path and applies environment
// overrides. A missing file is not an error when everything required
// arrives via the environment.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Environment-only configuration.
	default:
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("BRIDGE_BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv("BRIDGE_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("BRIDGE_SIGNING_SECRET"); v != "" {
		c.SigningSecret = v
	}
	if v := os.Getenv("BRIDGE_COOKIE_KEY"); v != "" {
		c.CookieKey = v
	}

	for _, name := range []string{"atlassian", "figma", "google"} {
		prefix := strings.ToUpper(name)
		id := os.Getenv(prefix + "_CLIENT_ID")
		secret := os.Getenv(prefix + "_CLIENT_SECRET")
		if id == "" && secret == "" {
			continue
		}
		if c.Providers == nil {
			c.Providers = make(map[string]ProviderConfig)
		}
		pc := c.Providers[name]
		if id != "" {
			pc.ClientID = id
		}
		if secret != "" {
			pc.ClientSecret = secret
		}
		c.Providers[name] = pc
	}
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.IdleSessionTimeout <= 0 {
		c.IdleSessionTimeout = 30 * time.Minute
	}
	if c.SessionReapInterval <= 0 {
		c.SessionReapInterval = time.Minute
	}
}

func (c *Config) validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if c.SigningSecret == "" {
		return fmt.Errorf("signing_secret is required (or BRIDGE_SIGNING_SECRET)")
	}
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}
	for name, pc := range c.Providers {
		if pc.ClientID == "" || pc.ClientSecret == "" {
			return fmt.Errorf("provider %s: client_id and client_secret are required", name)
		}
	}
	return nil
}

// Package config loads the engine configuration: one YAML file parsed and
// validated eagerly at startup, with env overrides for deploy-time knobs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"vendorsync/internal/model"
)

// StatusTemplates holds the per-product Marketplace template identifiers used
// to render terminal order statuses. Contents are opaque to the engine.
type StatusTemplates struct {
	Completed string `yaml:"completed"`
	Failed    string `yaml:"failed"`
	Querying  string `yaml:"querying"`
}

type Vendor struct {
	AuthURL string   `yaml:"auth_url"`
	APIURL  string   `yaml:"api_url"`
	Scopes  []string `yaml:"scopes"`
	// RatePerSecond caps outbound Vendor API calls. 0 disables the limiter.
	RatePerSecond float64 `yaml:"rate_per_second"`
}

type Marketplace struct {
	APIURL   string `yaml:"api_url"`
	APIToken string `yaml:"api_token"`
}

type Engine struct {
	PollIntervalSeconds   int `yaml:"poll_interval_seconds"`
	Workers               int `yaml:"workers"`
	AttemptBudget         int `yaml:"attempt_budget"`
	TransientRetries      int `yaml:"transient_retries"`
	BackoffBaseMs         int `yaml:"backoff_base_ms"`
	BackoffCapMs          int `yaml:"backoff_cap_ms"`
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`
	PageSize              int `yaml:"page_size"`
}

type Mapping struct {
	Backend string `yaml:"backend"` // memory | file | postgres
	Path    string `yaml:"path"`
	DSN     string `yaml:"dsn"`
}

type Config struct {
	ListenAddr      string                     `yaml:"listen_addr"`
	LogLevel        string                     `yaml:"log_level"`
	RedisURL        string                     `yaml:"redis_url"`
	Vendor          Vendor                     `yaml:"vendor"`
	Marketplace     Marketplace                `yaml:"marketplace"`
	Credentials     []model.Credential         `yaml:"credentials"`
	Authorizations  []model.Authorization      `yaml:"authorizations"`
	WebhookSecrets  map[string]string          `yaml:"webhook_secrets"`
	StatusTemplates map[string]StatusTemplates `yaml:"status_templates"`
	Engine          Engine                     `yaml:"engine"`
	Mapping         Mapping                    `yaml:"mapping"`
}

// Load reads and validates the config file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, &model.ConfigError{Field: path, Detail: err.Error()}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.ListenAddr = ":" + v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Mapping.Backend = "postgres"
		c.Mapping.DSN = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("POLL_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Engine.PollIntervalSeconds = n
		}
	}
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Mapping.Backend == "" {
		c.Mapping.Backend = "memory"
	}
	e := &c.Engine
	if e.PollIntervalSeconds <= 0 {
		e.PollIntervalSeconds = 120
	}
	if e.Workers <= 0 {
		e.Workers = 4
	}
	if e.AttemptBudget <= 0 {
		e.AttemptBudget = 10
	}
	if e.TransientRetries <= 0 {
		e.TransientRetries = 3
	}
	if e.BackoffBaseMs <= 0 {
		e.BackoffBaseMs = 500
	}
	if e.BackoffCapMs <= 0 {
		e.BackoffCapMs = 30000
	}
	if e.RequestTimeoutSeconds <= 0 {
		e.RequestTimeoutSeconds = 60
	}
	if e.PageSize <= 0 {
		e.PageSize = 50
	}
}

// Validate fails fast on malformed entries. A credential missing for a
// referenced authorization is deliberately not an error here: it surfaces
// per-order at dispatch time so one bad tenant cannot block startup.
func (c *Config) Validate() error {
	if c.Vendor.AuthURL == "" {
		return &model.ConfigError{Field: "vendor.auth_url", Detail: "required"}
	}
	if c.Vendor.APIURL == "" {
		return &model.ConfigError{Field: "vendor.api_url", Detail: "required"}
	}
	if c.Marketplace.APIURL == "" {
		return &model.ConfigError{Field: "marketplace.api_url", Detail: "required"}
	}
	switch c.Mapping.Backend {
	case "memory":
	case "file":
		if c.Mapping.Path == "" {
			return &model.ConfigError{Field: "mapping.path", Detail: "required for file backend"}
		}
	case "postgres":
		if c.Mapping.DSN == "" {
			return &model.ConfigError{Field: "mapping.dsn", Detail: "required for postgres backend"}
		}
	default:
		return &model.ConfigError{Field: "mapping.backend", Detail: "must be memory, file or postgres"}
	}

	seenAuth := map[string]bool{}
	for i, a := range c.Authorizations {
		if a.AuthorizationUK == "" {
			return &model.ConfigError{Field: fmt.Sprintf("authorizations[%d]", i), Detail: "authorization_uk required"}
		}
		if seenAuth[a.AuthorizationUK] {
			return &model.ConfigError{Field: a.AuthorizationUK, Detail: "duplicate authorization_uk"}
		}
		seenAuth[a.AuthorizationUK] = true
		if a.Currency == "" {
			return &model.ConfigError{Field: a.AuthorizationUK, Detail: "currency required"}
		}
		if a.DistributorID == "" {
			return &model.ConfigError{Field: a.AuthorizationUK, Detail: "distributor_id required"}
		}
		seenSeller := map[string]bool{}
		for _, r := range a.Resellers {
			if r.SellerUK == "" {
				return &model.ConfigError{Field: a.AuthorizationUK, Detail: "reseller seller_uk required"}
			}
			if seenSeller[r.SellerUK] {
				return &model.ConfigError{Field: a.AuthorizationUK, Detail: "duplicate seller_uk " + r.SellerUK}
			}
			seenSeller[r.SellerUK] = true
		}
	}

	seenCred := map[string]bool{}
	for i, cr := range c.Credentials {
		if cr.AuthorizationUK == "" {
			return &model.ConfigError{Field: fmt.Sprintf("credentials[%d]", i), Detail: "authorization_uk required"}
		}
		if seenCred[cr.AuthorizationUK] {
			return &model.ConfigError{Field: cr.AuthorizationUK, Detail: "duplicate credential"}
		}
		seenCred[cr.AuthorizationUK] = true
		if cr.ClientID == "" || cr.ClientSecret == "" {
			return &model.ConfigError{Field: cr.AuthorizationUK, Detail: "client_id and client_secret required"}
		}
	}
	return nil
}

// Credential returns the Vendor API credential for an authorization.
func (c *Config) Credential(authorizationUK string) (model.Credential, bool) {
	for _, cr := range c.Credentials {
		if cr.AuthorizationUK == authorizationUK {
			return cr, true
		}
	}
	return model.Credential{}, false
}

// WebhookSecret returns the shared secret for a product, if configured.
func (c *Config) WebhookSecret(productID string) (string, bool) {
	s, ok := c.WebhookSecrets[productID]
	return s, ok
}

// Templates returns the status templates for a product. Missing entries fall
// back to zero values; the Marketplace renders a default in that case.
func (c *Config) Templates(productID string) StatusTemplates {
	return c.StatusTemplates[productID]
}

func (e Engine) PollInterval() time.Duration {
	return time.Duration(e.PollIntervalSeconds) * time.Second
}

func (e Engine) RequestTimeout() time.Duration {
	return time.Duration(e.RequestTimeoutSeconds) * time.Second
}

func (e Engine) BackoffBase() time.Duration { return time.Duration(e.BackoffBaseMs) * time.Millisecond }

func (e Engine) BackoffCap() time.Duration { return time.Duration(e.BackoffCapMs) * time.Millisecond }

// EnvOr returns the env value for key, or def when unset.
func EnvOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

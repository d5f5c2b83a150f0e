package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"vendorsync/internal/model"
)

const baseConfig = `
vendor:
  auth_url: https://auth.vendor.example/token
  api_url: https://api.vendor.example
  scopes: [openid, offline_access]
marketplace:
  api_url: https://mkt.example/api
  api_token: mkt-token
credentials:
  - authorization_uk: auth-us-01
    client_id: cid
    client_secret: shh
authorizations:
  - authorization_uk: auth-us-01
    authorization_id: AUT-0001
    distributor_id: DST-100
    currency: USD
    resellers:
      - id: RSL-1
        seller_id: SEL-9
        seller_uk: SWO_US
webhook_secrets:
  PRD-1: s3cret
status_templates:
  PRD-1:
    completed: TPL-OK
    failed: TPL-FAIL
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, baseConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("listen addr default: %q", cfg.ListenAddr)
	}
	if cfg.Engine.PollIntervalSeconds != 120 || cfg.Engine.Workers != 4 || cfg.Engine.AttemptBudget != 10 {
		t.Fatalf("engine defaults: %+v", cfg.Engine)
	}
	if cfg.Mapping.Backend != "memory" {
		t.Fatalf("mapping backend default: %q", cfg.Mapping.Backend)
	}
	if cfg.Engine.PollInterval().Seconds() != 120 {
		t.Fatalf("poll interval: %v", cfg.Engine.PollInterval())
	}
}

func TestLoadLookups(t *testing.T) {
	cfg, err := Load(writeConfig(t, baseConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cred, ok := cfg.Credential("auth-us-01")
	if !ok || cred.ClientID != "cid" {
		t.Fatalf("credential lookup: %v %v", cred, ok)
	}
	if _, ok := cfg.Credential("auth-xx-99"); ok {
		t.Fatalf("unknown credential found")
	}
	if s, ok := cfg.WebhookSecret("PRD-1"); !ok || s != "s3cret" {
		t.Fatalf("webhook secret: %q %v", s, ok)
	}
	if tpl := cfg.Templates("PRD-1"); tpl.Completed != "TPL-OK" {
		t.Fatalf("templates: %+v", tpl)
	}
	if tpl := cfg.Templates("PRD-404"); tpl.Completed != "" {
		t.Fatalf("missing templates should be zero: %+v", tpl)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("POLL_INTERVAL_SECONDS", "30")
	cfg, err := Load(writeConfig(t, baseConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Fatalf("PORT override: %q", cfg.ListenAddr)
	}
	if cfg.Engine.PollIntervalSeconds != 30 {
		t.Fatalf("poll interval override: %d", cfg.Engine.PollIntervalSeconds)
	}
}

func TestDatabaseURLSelectsPostgres(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/db")
	cfg, err := Load(writeConfig(t, baseConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mapping.Backend != "postgres" || cfg.Mapping.DSN == "" {
		t.Fatalf("DATABASE_URL not applied: %+v", cfg.Mapping)
	}
}

const minimalConfig = `
vendor:
  auth_url: https://auth.vendor.example/token
  api_url: https://api.vendor.example
marketplace:
  api_url: https://mkt.example/api
`

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name  string
		patch string
	}{
		{"duplicate authorization", `
authorizations:
  - authorization_uk: auth-us-01
    distributor_id: DST-100
    currency: USD
  - authorization_uk: auth-us-01
    distributor_id: DST-100
    currency: USD
`},
		{"missing currency", `
authorizations:
  - authorization_uk: auth-us-01
    distributor_id: DST-100
`},
		{"duplicate seller", `
authorizations:
  - authorization_uk: auth-us-01
    distributor_id: DST-100
    currency: USD
    resellers:
      - seller_uk: SWO_US
      - seller_uk: SWO_US
`},
		{"duplicate credential", `
credentials:
  - authorization_uk: auth-us-01
    client_id: a
    client_secret: b
  - authorization_uk: auth-us-01
    client_id: c
    client_secret: d
`},
		{"credential without secret", `
credentials:
  - authorization_uk: auth-us-01
    client_id: a
`},
		{"unknown mapping backend", `
mapping:
  backend: airtable
`},
		{"file backend without path", `
mapping:
  backend: file
`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, minimalConfig+tc.patch))
			var cErr *model.ConfigError
			if !errors.As(err, &cErr) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
		})
	}
}

func TestMissingRequiredURLs(t *testing.T) {
	_, err := Load(writeConfig(t, `
marketplace:
  api_url: https://mkt.example/api
`))
	var cErr *model.ConfigError
	if !errors.As(err, &cErr) || cErr.Field != "vendor.auth_url" {
		t.Fatalf("expected vendor.auth_url error, got %v", err)
	}
}

func TestMissingCredentialIsNotFatal(t *testing.T) {
	// An authorization without a matching credential must load: the gap
	// surfaces per order at dispatch time.
	body := minimalConfig + `
authorizations:
  - authorization_uk: auth-us-01
    distributor_id: DST-100
    currency: USD
`
	if _, err := Load(writeConfig(t, body)); err != nil {
		t.Fatalf("missing credential blocked startup: %v", err)
	}
}

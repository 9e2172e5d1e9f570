package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigOptional_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfigOptional(filepath.Join(t.TempDir(), "missing.yaml"), true)
	if err != nil {
		t.Fatalf("LoadConfigOptional error: %v", err)
	}
	if cfg.ClientID != DefaultClientID {
		t.Fatalf("client id = %q, want default", cfg.ClientID)
	}
	if cfg.Callback.Port != DefaultCallbackPort || cfg.Callback.Path != DefaultRedirectPath {
		t.Fatalf("unexpected callback defaults: %+v", cfg.Callback)
	}
	if len(cfg.Scopes) != 2 || cfg.Scopes[0] != "identify" || cfg.Scopes[1] != "email" {
		t.Fatalf("unexpected scopes: %v", cfg.Scopes)
	}
	if cfg.Login.ConcurrentPolicy != PolicyReject {
		t.Fatalf("policy = %q, want reject", cfg.Login.ConcurrentPolicy)
	}
}

func TestLoadConfig_RequiresExistingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadConfig_ParsesYAML(t *testing.T) {
	path := writeConfig(t, `
client-id: "42"
scopes: ["identify guilds"]
callback:
  port: 0
  path: oauth/done
login:
  timeout: 30s
  concurrent-policy: Supersede
session:
  backend: memory
  refresh-lead: 1m
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.ClientID != "42" {
		t.Fatalf("client id = %q", cfg.ClientID)
	}
	if len(cfg.Scopes) != 2 || cfg.Scopes[1] != "guilds" {
		t.Fatalf("scopes = %v", cfg.Scopes)
	}
	if cfg.Callback.Port != 0 || cfg.Callback.Path != "/oauth/done" {
		t.Fatalf("callback = %+v", cfg.Callback)
	}
	if cfg.Login.Timeout != 30*time.Second || cfg.Login.ConcurrentPolicy != PolicySupersede {
		t.Fatalf("login = %+v", cfg.Login)
	}
	if cfg.Session.Backend != BackendMemory || cfg.Session.RefreshLead != time.Minute {
		t.Fatalf("session = %+v", cfg.Session)
	}
	if cfg.Session.KeyringService != DefaultKeyringService {
		t.Fatalf("keyring service = %q", cfg.Session.KeyringService)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("DISCORD_CLIENT_ID", "env-client")
	t.Setenv("DISCORD_SCOPES", "identify")
	t.Setenv("OAUTH_PORT", "61000")
	t.Setenv("REDIRECT_PATH", "/cb")
	t.Setenv("KEYRING_SERVICE", "AquilaTest")
	t.Setenv("SESSION_BACKEND", "file")

	path := writeConfig(t, "client-id: from-file\n")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.ClientID != "env-client" {
		t.Fatalf("client id = %q, want env override", cfg.ClientID)
	}
	if len(cfg.Scopes) != 1 || cfg.Scopes[0] != "identify" {
		t.Fatalf("scopes = %v", cfg.Scopes)
	}
	if cfg.Callback.Port != 61000 || cfg.Callback.Path != "/cb" {
		t.Fatalf("callback = %+v", cfg.Callback)
	}
	if cfg.Session.KeyringService != "AquilaTest" || cfg.Session.Backend != BackendFile {
		t.Fatalf("session = %+v", cfg.Session)
	}
	if got := cfg.RedirectURI(); got != "http://127.0.0.1:61000/cb" {
		t.Fatalf("RedirectURI = %q", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "empty client id", mutate: func(c *Config) { c.ClientID = "" }},
		{name: "port out of range", mutate: func(c *Config) { c.Callback.Port = 70000 }},
		{name: "zero timeout", mutate: func(c *Config) { c.Login.Timeout = 0 }},
		{name: "unknown policy", mutate: func(c *Config) { c.Login.ConcurrentPolicy = "queue" }},
		{name: "unknown backend", mutate: func(c *Config) { c.Session.Backend = "s3" }},
		{name: "negative retries", mutate: func(c *Config) { c.Exchange.MaxRetries = -1 }},
		{name: "public callback host", mutate: func(c *Config) { c.Callback.Host = "0.0.0.0" }},
		{name: "remote api host", mutate: func(c *Config) { c.API.Host = "example.com" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	for _, host := range []string{"localhost", "::1", "[::1]", "127.0.0.2"} {
		cfg := Default()
		cfg.Callback.Host = host
		if err := cfg.Validate(); err != nil {
			t.Fatalf("loopback host %q rejected: %v", host, err)
		}
	}
}

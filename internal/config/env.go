package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// envOverrides holds raw environment values. Unset variables leave the loaded
// configuration untouched.
type envOverrides struct {
	ClientID         string        `env:"DISCORD_CLIENT_ID"`
	Scopes           string        `env:"DISCORD_SCOPES"`
	OAuthHost        string        `env:"OAUTH_HOST"`
	OAuthPort        *int          `env:"OAUTH_PORT"`
	RedirectPath     string        `env:"REDIRECT_PATH"`
	KeyringService   string        `env:"KEYRING_SERVICE"`
	SessionBackend   string        `env:"SESSION_BACKEND"`
	SessionDir       string        `env:"SESSION_DIR"`
	LoginTimeout     time.Duration `env:"LOGIN_TIMEOUT"`
	ConcurrentPolicy string        `env:"LOGIN_CONCURRENT_POLICY"`
	ProxyURL         string        `env:"PROXY_URL"`
	DataDir          string        `env:"AQUILA_DATA_DIR"`
	APISecretKey     string        `env:"AQUILA_API_SECRET"`
	Debug            *bool         `env:"AQUILA_DEBUG"`
}

// ApplyEnv overlays environment variables onto cfg.
func ApplyEnv(cfg *Config) error {
	var raw envOverrides
	if err := env.Parse(&raw); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	if raw.ClientID != "" {
		cfg.ClientID = raw.ClientID
	}
	if raw.Scopes != "" {
		cfg.Scopes = []string{raw.Scopes}
	}
	if raw.OAuthHost != "" {
		cfg.Callback.Host = raw.OAuthHost
	}
	if raw.OAuthPort != nil {
		cfg.Callback.Port = *raw.OAuthPort
	}
	if raw.RedirectPath != "" {
		cfg.Callback.Path = raw.RedirectPath
	}
	if raw.KeyringService != "" {
		cfg.Session.KeyringService = raw.KeyringService
	}
	if raw.SessionBackend != "" {
		cfg.Session.Backend = raw.SessionBackend
	}
	if raw.SessionDir != "" {
		cfg.Session.Dir = raw.SessionDir
	}
	if raw.LoginTimeout > 0 {
		cfg.Login.Timeout = raw.LoginTimeout
	}
	if raw.ConcurrentPolicy != "" {
		cfg.Login.ConcurrentPolicy = raw.ConcurrentPolicy
	}
	if raw.ProxyURL != "" {
		cfg.ProxyURL = raw.ProxyURL
	}
	if raw.DataDir != "" {
		cfg.DataDir = raw.DataDir
	}
	if raw.APISecretKey != "" {
		cfg.API.SecretKey = raw.APISecretKey
	}
	if raw.Debug != nil {
		cfg.Debug = *raw.Debug
	}
	return nil
}

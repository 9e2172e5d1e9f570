// Package config provides configuration management for the Aquila login service.
// It handles loading and parsing the YAML configuration file, applying environment
// overrides (including values loaded from .env files), and validating the result.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults carried over from the desktop application's environment configuration.
const (
	DefaultClientID       = "1398967218842108006"
	DefaultCallbackHost   = "127.0.0.1"
	DefaultCallbackPort   = 53682
	DefaultRedirectPath   = "/callback"
	DefaultKeyringService = "Aquila"
	DefaultAPIPort        = 53683

	PolicyReject    = "reject"
	PolicySupersede = "supersede"

	BackendKeyring = "keyring"
	BackendFile    = "file"
	BackendMemory  = "memory"
)

// DefaultScopes are requested when no scopes are configured.
var DefaultScopes = []string{"identify", "email"}

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// ClientID is the Discord application client identifier.
	ClientID string `yaml:"client-id" json:"client-id"`

	// Scopes lists the OAuth scopes requested during authorization.
	Scopes []string `yaml:"scopes" json:"scopes"`

	// Callback configures the loopback redirect listener.
	Callback CallbackConfig `yaml:"callback" json:"callback"`

	// Login configures the login attempt lifecycle.
	Login LoginConfig `yaml:"login" json:"login"`

	// Exchange configures token endpoint retries.
	Exchange ExchangeConfig `yaml:"exchange" json:"exchange"`

	// Session configures where session credentials are persisted.
	Session SessionConfig `yaml:"session" json:"session"`

	// API configures the local control bridge consumed by the UI layer.
	API APIConfig `yaml:"api" json:"api"`

	// ProxyURL is the URL of an optional proxy server to use for outbound requests.
	ProxyURL string `yaml:"proxy-url" json:"proxy-url"`

	// DataDir is the directory holding logs and file-backed session data.
	DataDir string `yaml:"data-dir" json:"data-dir"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug" json:"debug"`

	// LoggingToFile switches log output to a rotating file under DataDir/logs.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogsMaxTotalSizeMB bounds the total size of the logs directory. <= 0 disables cleanup.
	LogsMaxTotalSizeMB int `yaml:"logs-max-total-size-mb" json:"logs-max-total-size-mb"`
}

// CallbackConfig holds the redirect listener settings.
type CallbackConfig struct {
	// Host is the loopback address the listener binds to.
	Host string `yaml:"host" json:"host"`
	// Port is the listener port. 0 lets the OS assign one.
	Port int `yaml:"port" json:"port"`
	// Path is the redirect path registered with Discord.
	Path string `yaml:"path" json:"path"`
}

// LoginConfig holds the login attempt settings.
type LoginConfig struct {
	// Timeout bounds how long a pending attempt waits for the browser callback.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// ConcurrentPolicy is either "reject" or "supersede".
	ConcurrentPolicy string `yaml:"concurrent-policy" json:"concurrent-policy"`
	// NoBrowser disables opening the system browser automatically.
	NoBrowser bool `yaml:"no-browser" json:"no-browser"`
}

// ExchangeConfig holds the token endpoint retry settings.
type ExchangeConfig struct {
	MaxRetries     int           `yaml:"max-retries" json:"max-retries"`
	InitialBackoff time.Duration `yaml:"initial-backoff" json:"initial-backoff"`
	MaxBackoff     time.Duration `yaml:"max-backoff" json:"max-backoff"`
	RequestTimeout time.Duration `yaml:"request-timeout" json:"request-timeout"`
}

// SessionConfig holds the session store settings.
type SessionConfig struct {
	// Backend is one of "keyring", "file" or "memory".
	Backend string `yaml:"backend" json:"backend"`
	// KeyringService is the service name used for the OS keyring entry.
	KeyringService string `yaml:"keyring-service" json:"keyring-service"`
	// Dir overrides the directory of the encrypted file backend.
	Dir string `yaml:"dir" json:"dir"`
	// RefreshLead is how long before expiry the access token is refreshed.
	RefreshLead time.Duration `yaml:"refresh-lead" json:"refresh-lead"`
}

// APIConfig holds the local control bridge settings.
type APIConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
	// SecretKey, when set, must be presented as a bearer token by bridge clients.
	SecretKey string `yaml:"secret-key" json:"secret-key"`
}

// Default returns a configuration populated with built-in defaults.
func Default() *Config {
	return &Config{
		ClientID: DefaultClientID,
		Scopes:   append([]string(nil), DefaultScopes...),
		Callback: CallbackConfig{
			Host: DefaultCallbackHost,
			Port: DefaultCallbackPort,
			Path: DefaultRedirectPath,
		},
		Login: LoginConfig{
			Timeout:          2 * time.Minute,
			ConcurrentPolicy: PolicyReject,
		},
		Exchange: ExchangeConfig{
			MaxRetries:     3,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
			RequestTimeout: 15 * time.Second,
		},
		Session: SessionConfig{
			Backend:        BackendKeyring,
			KeyringService: DefaultKeyringService,
			RefreshLead:    5 * time.Minute,
		},
		API: APIConfig{
			Host: DefaultCallbackHost,
			Port: DefaultAPIPort,
		},
		LogsMaxTotalSizeMB: 50,
	}
}

// LoadConfig reads the YAML configuration file and applies environment overrides.
// The file must exist.
func LoadConfig(configFile string) (*Config, error) {
	return LoadConfigOptional(configFile, false)
}

// LoadConfigOptional reads the YAML configuration file when present. With optional set,
// a missing or empty path yields the defaults plus environment overrides.
func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	cfg := Default()

	configFile = strings.TrimSpace(configFile)
	if configFile != "" {
		data, err := os.ReadFile(configFile)
		switch {
		case err == nil:
			if len(strings.TrimSpace(string(data))) > 0 {
				if err = yaml.Unmarshal(data, cfg); err != nil {
					return nil, fmt.Errorf("failed to parse config file: %w", err)
				}
			}
		case errors.Is(err, os.ErrNotExist) && optional:
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !optional {
		return nil, fmt.Errorf("config file path is required")
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.ClientID = strings.TrimSpace(c.ClientID)
	scopes := make([]string, 0, len(c.Scopes))
	for _, scope := range c.Scopes {
		for _, part := range strings.Fields(scope) {
			scopes = append(scopes, part)
		}
	}
	if len(scopes) == 0 {
		scopes = append(scopes, DefaultScopes...)
	}
	c.Scopes = scopes

	c.Callback.Host = strings.TrimSpace(c.Callback.Host)
	if c.Callback.Host == "" {
		c.Callback.Host = DefaultCallbackHost
	}
	c.Callback.Path = strings.TrimSpace(c.Callback.Path)
	if c.Callback.Path == "" {
		c.Callback.Path = DefaultRedirectPath
	}
	if !strings.HasPrefix(c.Callback.Path, "/") {
		c.Callback.Path = "/" + c.Callback.Path
	}

	c.Login.ConcurrentPolicy = strings.ToLower(strings.TrimSpace(c.Login.ConcurrentPolicy))
	if c.Login.ConcurrentPolicy == "" {
		c.Login.ConcurrentPolicy = PolicyReject
	}
	c.Session.Backend = strings.ToLower(strings.TrimSpace(c.Session.Backend))
	if c.Session.Backend == "" {
		c.Session.Backend = BackendKeyring
	}
	if strings.TrimSpace(c.Session.KeyringService) == "" {
		c.Session.KeyringService = DefaultKeyringService
	}
	if c.API.Host == "" {
		c.API.Host = DefaultCallbackHost
	}
}

// Validate reports configuration values the login flow cannot run with.
func (c *Config) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("config: client-id is required")
	}
	if !isLoopback(c.Callback.Host) {
		return fmt.Errorf("config: callback host %q is not a loopback address", c.Callback.Host)
	}
	if !isLoopback(c.API.Host) {
		return fmt.Errorf("config: api host %q is not a loopback address", c.API.Host)
	}
	if c.Callback.Port < 0 || c.Callback.Port > 65535 {
		return fmt.Errorf("config: callback port %d out of range", c.Callback.Port)
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("config: api port %d out of range", c.API.Port)
	}
	if c.Login.Timeout <= 0 {
		return fmt.Errorf("config: login timeout must be positive")
	}
	switch c.Login.ConcurrentPolicy {
	case PolicyReject, PolicySupersede:
	default:
		return fmt.Errorf("config: unknown concurrent-policy %q", c.Login.ConcurrentPolicy)
	}
	switch c.Session.Backend {
	case BackendKeyring, BackendFile, BackendMemory:
	default:
		return fmt.Errorf("config: unknown session backend %q", c.Session.Backend)
	}
	if c.Exchange.MaxRetries < 0 {
		return fmt.Errorf("config: exchange max-retries must not be negative")
	}
	return nil
}

// RedirectURI returns the redirect URI for the configured callback address.
// When Port is 0 the final URI is only known once the listener is bound.
func (c *Config) RedirectURI() string {
	return fmt.Sprintf("http://%s:%d%s", c.Callback.Host, c.Callback.Port, c.Callback.Path)
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip != nil && ip.IsLoopback()
}

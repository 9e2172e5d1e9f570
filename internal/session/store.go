// Package session persists the single active login session.
//
// Three backends share one contract: the OS keyring, an encrypted file and an
// in-memory store for tests and ephemeral runs. Save is atomic with respect to
// Load, and Clear overwrites persisted secret bytes before removing them.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aquila-desktop/aquila-auth/internal/auth"
	"github.com/aquila-desktop/aquila-auth/internal/config"
	"github.com/aquila-desktop/aquila-auth/internal/util"
)

// ErrCorrupt is returned by Load when persisted data exists but cannot be decoded.
var ErrCorrupt = errors.New("session: stored session is corrupt")

// Store is the persistence contract the coordinator depends on.
type Store interface {
	// Save atomically replaces the stored session.
	Save(ctx context.Context, s *auth.Session) error
	// Load returns the stored session, or nil, nil when nothing is stored.
	Load(ctx context.Context) (*auth.Session, error)
	// Clear erases the stored session. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}

// Watcher is implemented by stores that can observe removal by another process.
type Watcher interface {
	// Watch signals whenever the persisted session disappears outside this process.
	Watch(ctx context.Context) (<-chan struct{}, error)
}

const storedVersion = 1

// storedSession is the cleartext persisted form. It only exists inside the store
// boundary: in encrypted blobs, keyring entries and the memory store.
type storedSession struct {
	Version      int          `json:"version"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token,omitempty"`
	TokenType    string       `json:"token_type"`
	ExpiresAt    time.Time    `json:"expires_at"`
	Scope        []string     `json:"scope,omitempty"`
	Profile      auth.Profile `json:"profile"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

func encodeSession(s *auth.Session) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("session: nothing to save")
	}
	if s.Tokens.AccessToken.IsEmpty() {
		return nil, fmt.Errorf("session: access token is empty")
	}
	return json.Marshal(storedSession{
		Version:      storedVersion,
		AccessToken:  s.Tokens.AccessToken.Reveal(),
		RefreshToken: s.Tokens.RefreshToken.Reveal(),
		TokenType:    s.Tokens.TokenType,
		ExpiresAt:    s.Tokens.ExpiresAt,
		Scope:        s.Tokens.Scope,
		Profile:      s.Profile,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	})
}

func decodeSession(raw []byte) (*auth.Session, error) {
	var stored storedSession
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if stored.Version != storedVersion || stored.AccessToken == "" {
		return nil, ErrCorrupt
	}
	return &auth.Session{
		Tokens: auth.TokenSet{
			AccessToken:  auth.Secret(stored.AccessToken),
			RefreshToken: auth.Secret(stored.RefreshToken),
			TokenType:    stored.TokenType,
			ExpiresAt:    stored.ExpiresAt,
			Scope:        stored.Scope,
		},
		Profile:   stored.Profile,
		CreatedAt: stored.CreatedAt,
		UpdatedAt: stored.UpdatedAt,
	}, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// New builds the store selected by cfg.Session.Backend.
func New(cfg *config.Config) (Store, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	switch cfg.Session.Backend {
	case config.BackendMemory:
		return NewMemoryStore(), nil
	case config.BackendFile:
		dir, err := util.ResolveSessionDir(cfg)
		if err != nil {
			return nil, err
		}
		return NewFileStore(dir), nil
	case config.BackendKeyring, "":
		return NewKeyringStore(cfg.Session.KeyringService), nil
	default:
		return nil, fmt.Errorf("session: unknown backend %q", cfg.Session.Backend)
	}
}

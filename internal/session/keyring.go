package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aquila-desktop/aquila-auth/internal/auth"
	"github.com/aquila-desktop/aquila-auth/internal/misc"
	"github.com/zalando/go-keyring"
)

// KeyringUser is the account name of the keyring entry holding the session.
const KeyringUser = "oauth_tokens"

// KeyringStore keeps the session in the OS secret service
// (Keychain, Windows Credential Manager, Secret Service).
type KeyringStore struct {
	mu      sync.RWMutex
	service string
	user    string
}

// NewKeyringStore returns a keyring store for service.
func NewKeyringStore(service string) *KeyringStore {
	if strings.TrimSpace(service) == "" {
		service = "Aquila"
	}
	return &KeyringStore{service: service, user: KeyringUser}
}

// Save implements Store.
func (k *KeyringStore) Save(_ context.Context, s *auth.Session) error {
	raw, err := encodeSession(s)
	if err != nil {
		return err
	}
	defer zero(raw)

	k.mu.Lock()
	defer k.mu.Unlock()
	misc.LogSavingSession("keyring", k.service)
	if err = keyring.Set(k.service, k.user, string(raw)); err != nil {
		return fmt.Errorf("session keyring: set failed: %w", err)
	}
	return nil
}

// Load implements Store.
func (k *KeyringStore) Load(_ context.Context) (*auth.Session, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	value, err := keyring.Get(k.service, k.user)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session keyring: get failed: %w", err)
	}
	if value == "" {
		return nil, nil
	}
	return decodeSession([]byte(value))
}

// Clear implements Store. The entry is overwritten with a same-length filler
// before deletion so backends that keep deleted items never retain the tokens.
func (k *KeyringStore) Clear(_ context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	value, err := keyring.Get(k.service, k.user)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("session keyring: get failed: %w", err)
	}
	if errSet := keyring.Set(k.service, k.user, strings.Repeat("0", len(value))); errSet != nil {
		return fmt.Errorf("session keyring: overwrite failed: %w", errSet)
	}
	if errDel := keyring.Delete(k.service, k.user); errDel != nil && !errors.Is(errDel, keyring.ErrNotFound) {
		return fmt.Errorf("session keyring: delete failed: %w", errDel)
	}
	return nil
}

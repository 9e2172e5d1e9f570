// Package auth defines the credential model shared by the Discord client,
// the session store and the login coordinator, together with the error
// taxonomy surfaced to the UI layer.
package auth

import (
	"fmt"
	"io"
	"time"

	"golang.org/x/oauth2"
)

const redacted = "[redacted]"

// Secret holds credential material. It never renders its value through fmt,
// logrus fields or encoding/json; callers that need the cleartext use Reveal.
type Secret string

// Reveal returns the cleartext value.
func (s Secret) Reveal() string { return string(s) }

// IsEmpty reports whether no secret is held.
func (s Secret) IsEmpty() bool { return s == "" }

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// GoString keeps %#v redacted.
func (s Secret) GoString() string { return fmt.Sprintf("auth.Secret(%q)", s.String()) }

// Format redacts every verb, including %x and %d.
func (s Secret) Format(f fmt.State, verb rune) {
	if verb == 'v' && f.Flag('#') {
		_, _ = io.WriteString(f, s.GoString())
		return
	}
	_, _ = io.WriteString(f, s.String())
}

// MarshalJSON emits the redacted placeholder.
func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", s.String())), nil
}

// MarshalText covers text encoders such as yaml and logfmt.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// TokenSet is the access/refresh token pair returned by the token endpoint.
type TokenSet struct {
	AccessToken  Secret    `json:"access_token"`
	RefreshToken Secret    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scope        []string  `json:"scope,omitempty"`
}

// Expired reports whether the access token is past its expiry at now.
func (t *TokenSet) Expired(now time.Time) bool {
	return t == nil || !now.Before(t.ExpiresAt)
}

// ExpiresWithin reports whether the access token expires within lead of now.
func (t *TokenSet) ExpiresWithin(now time.Time, lead time.Duration) bool {
	return t == nil || !now.Add(lead).Before(t.ExpiresAt)
}

// OAuth2Token converts the set into an oauth2.Token for authenticated HTTP clients.
func (t *TokenSet) OAuth2Token() *oauth2.Token {
	if t == nil {
		return nil
	}
	tokenType := t.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &oauth2.Token{
		AccessToken:  t.AccessToken.Reveal(),
		RefreshToken: t.RefreshToken.Reveal(),
		TokenType:    tokenType,
		Expiry:       t.ExpiresAt,
	}
}

// Clone returns a deep copy.
func (t *TokenSet) Clone() *TokenSet {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Scope = append([]string(nil), t.Scope...)
	return &cp
}

// Profile is the Discord user identity shown by the UI.
type Profile struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name,omitempty"`
	Avatar     string `json:"avatar,omitempty"`
	AvatarURL  string `json:"avatar_url"`
	Email      string `json:"email,omitempty"`
}

// DisplayName prefers the global display name over the unique username.
func (p Profile) DisplayName() string {
	if p.GlobalName != "" {
		return p.GlobalName
	}
	return p.Username
}

// Session is the logged-in user: a token set plus the profile fetched with it.
type Session struct {
	Tokens    TokenSet  `json:"tokens"`
	Profile   Profile   `json:"profile"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy so callers never share the coordinator's cached session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Tokens = *s.Tokens.Clone()
	return &cp
}

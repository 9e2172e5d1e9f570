// Package misc holds small OAuth helpers shared by the login coordinator,
// the redirect listener and the command line front-ends.
package misc

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// GenerateRandomState generates a cryptographically secure random state parameter
// for OAuth2 flows to prevent CSRF attacks.
//
// Returns:
//   - string: A hexadecimal encoded random state string
//   - error: An error if the random generation fails, nil otherwise
func GenerateRandomState() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// StatesEqual compares a received state parameter against the expected one in constant time.
// An empty expected state never matches.
func StatesEqual(expected, received string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(received)) == 1
}

// OAuthCallback captures the parsed OAuth callback parameters.
type OAuthCallback struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// HasResult reports whether the callback carries anything the coordinator must resolve.
func (c *OAuthCallback) HasResult() bool {
	return c != nil && (c.Code != "" || c.State != "" || c.Error != "")
}

// CallbackFromQuery extracts OAuth parameters from a redirect request's query values.
func CallbackFromQuery(query url.Values) *OAuthCallback {
	return &OAuthCallback{
		Code:             strings.TrimSpace(query.Get("code")),
		State:            strings.TrimSpace(query.Get("state")),
		Error:            strings.TrimSpace(query.Get("error")),
		ErrorDescription: strings.TrimSpace(query.Get("error_description")),
	}
}

// ParseOAuthCallback extracts OAuth parameters from a pasted redirect URL.
// It accepts full URLs, host/path forms, bare query strings and fragments.
// It returns nil when the input is empty.
func ParseOAuthCallback(input string) (*OAuthCallback, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, nil
	}

	candidate := trimmed
	if !strings.Contains(candidate, "://") {
		switch {
		case strings.HasPrefix(candidate, "?"):
			candidate = "http://localhost" + candidate
		case strings.ContainsAny(candidate, "/?#") || strings.Contains(candidate, ":"):
			candidate = "http://" + candidate
		case strings.Contains(candidate, "="):
			candidate = "http://localhost/?" + candidate
		default:
			return nil, fmt.Errorf("invalid callback URL")
		}
	}

	parsedURL, err := url.Parse(candidate)
	if err != nil {
		return nil, err
	}

	cb := CallbackFromQuery(parsedURL.Query())
	if parsedURL.Fragment != "" {
		if fragQuery, errFrag := url.ParseQuery(parsedURL.Fragment); errFrag == nil {
			frag := CallbackFromQuery(fragQuery)
			if cb.Code == "" {
				cb.Code = frag.Code
			}
			if cb.State == "" {
				cb.State = frag.State
			}
			if cb.Error == "" {
				cb.Error = frag.Error
			}
			if cb.ErrorDescription == "" {
				cb.ErrorDescription = frag.ErrorDescription
			}
		}
	}

	if cb.Error == "" && cb.ErrorDescription != "" {
		cb.Error = cb.ErrorDescription
		cb.ErrorDescription = ""
	}

	if cb.Code == "" && cb.Error == "" {
		return nil, fmt.Errorf("callback URL missing code")
	}
	return cb, nil
}

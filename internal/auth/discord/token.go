package discord

import (
	"net/http"
	"strings"
	"time"

	"github.com/aquila-desktop/aquila-auth/internal/auth"
	"github.com/tidwall/gjson"
)

// parseTokenResponse validates a token endpoint response and maps failures onto
// the error taxonomy. Raw bodies are never included in returned errors.
//
// Classification:
//   - 429 and 5xx: ErrNetworkError (retryable)
//   - error=invalid_grant: ErrInvalidGrant
//   - other OAuth errors: ErrProviderError wrapping an *auth.OAuthError
//   - 200 without a JSON object, access_token or positive expires_in: ErrMalformedResponse
func parseTokenResponse(status int, body []byte, now time.Time) (*auth.TokenSet, error) {
	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return nil, auth.NewAuthenticationError(auth.ErrNetworkError, auth.NewOAuthError("", "", status))
	}

	valid := gjson.ValidBytes(body)
	parsed := gjson.ParseBytes(body)

	if status != http.StatusOK {
		code := ""
		if valid {
			code = strings.TrimSpace(parsed.Get("error").String())
		}
		oauthErr := auth.NewOAuthError(code, parsed.Get("error_description").String(), status)
		if code == "invalid_grant" {
			return nil, auth.NewAuthenticationError(auth.ErrInvalidGrant, oauthErr)
		}
		return nil, auth.NewAuthenticationError(auth.ErrProviderError, oauthErr)
	}

	if !valid || !parsed.IsObject() {
		return nil, auth.NewAuthenticationError(auth.ErrMalformedResponse, errMalformed("body is not a JSON object"))
	}
	if code := parsed.Get("error"); code.Exists() {
		oauthErr := auth.NewOAuthError(code.String(), "", status)
		if code.String() == "invalid_grant" {
			return nil, auth.NewAuthenticationError(auth.ErrInvalidGrant, oauthErr)
		}
		return nil, auth.NewAuthenticationError(auth.ErrProviderError, oauthErr)
	}

	accessToken := parsed.Get("access_token")
	if accessToken.Type != gjson.String || accessToken.String() == "" {
		return nil, auth.NewAuthenticationError(auth.ErrMalformedResponse, errMalformed("missing access_token"))
	}
	expiresIn := parsed.Get("expires_in")
	if expiresIn.Type != gjson.Number {
		return nil, auth.NewAuthenticationError(auth.ErrMalformedResponse, errMalformed("missing expires_in"))
	}
	if expiresIn.Float() <= 0 {
		return nil, auth.NewAuthenticationError(auth.ErrMalformedResponse, errMalformed("non-positive expires_in"))
	}
	if expiresIn.Float() > maxTokenLifetime.Seconds() {
		return nil, auth.NewAuthenticationError(auth.ErrMalformedResponse, errMalformed("expires_in out of range"))
	}

	tokenType := parsed.Get("token_type").String()
	if tokenType == "" {
		tokenType = "Bearer"
	}

	return &auth.TokenSet{
		AccessToken:  auth.Secret(accessToken.String()),
		RefreshToken: auth.Secret(parsed.Get("refresh_token").String()),
		TokenType:    tokenType,
		ExpiresAt:    now.Add(time.Duration(expiresIn.Float()*float64(time.Second))),
		Scope:        strings.Fields(parsed.Get("scope").String()),
	}, nil
}

// maxTokenLifetime bounds expires_in. Discord access tokens live for days.
const maxTokenLifetime = 365 * 24 * time.Hour

type errMalformed string

func (e errMalformed) Error() string { return string(e) }

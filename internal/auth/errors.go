package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// OAuthError represents an error response from the provider, either on the
// redirect (error=...) or from the token endpoint.
type OAuthError struct {
	// Code is the OAuth error code.
	Code string `json:"error"`
	// Description is a human-readable description of the error.
	Description string `json:"error_description,omitempty"`
	// URI is a URI identifying a human-readable web page with information about the error.
	URI string `json:"error_uri,omitempty"`
	// StatusCode is the HTTP status code associated with the error.
	StatusCode int `json:"-"`
}

// Error returns a string representation of the OAuth error.
// The provider description is omitted because it may echo request data.
func (e *OAuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("OAuth error %s (status %d)", SanitizeProviderCode(e.Code), e.StatusCode)
	}
	return fmt.Sprintf("OAuth error: %s", SanitizeProviderCode(e.Code))
}

// NewOAuthError creates a new OAuth error with the specified code, description, and status code.
func NewOAuthError(code, description string, statusCode int) *OAuthError {
	return &OAuthError{
		Code:        code,
		Description: description,
		StatusCode:  statusCode,
	}
}

// AuthenticationError represents a login, session or token failure with a stable Type.
type AuthenticationError struct {
	// Type is the stable reason tag.
	Type string `json:"type"`
	// Message is a human-readable message describing the error.
	Message string `json:"message"`
	// Code is the HTTP status code the bridge answers with.
	Code int `json:"code"`
	// Cause is the underlying error that caused this authentication error.
	Cause error `json:"-"`
}

// Error returns a string representation of the authentication error.
func (e *AuthenticationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the cause to errors.Is and errors.As.
func (e *AuthenticationError) Unwrap() error { return e.Cause }

// Is matches any AuthenticationError of the same Type, so wrapped copies made by
// NewAuthenticationError compare equal to their sentinel.
func (e *AuthenticationError) Is(target error) bool {
	var other *AuthenticationError
	if !errors.As(target, &other) {
		return false
	}
	return other != nil && e.Type == other.Type
}

// Stable reason tags.
const (
	ReasonAlreadyInProgress   = "already_in_progress"
	ReasonNoActiveSession     = "no_active_session"
	ReasonNoPendingLogin      = "no_pending_login"
	ReasonStateMismatch       = "state_mismatch"
	ReasonProviderError       = "provider_error"
	ReasonNetworkError        = "network_error"
	ReasonInvalidGrant        = "invalid_grant"
	ReasonMalformedResponse   = "malformed_response"
	ReasonTimeout             = "timeout"
	ReasonCancelled           = "cancelled"
	ReasonSuperseded          = "superseded"
	ReasonMissingCode         = "missing_code"
	ReasonListenerUnavailable = "listener_unavailable"
	ReasonStorageError        = "storage_error"
	ReasonProfileUnavailable  = "profile_unavailable"
	ReasonUnknown             = "unknown_error"
)

// Common authentication error types.
var (
	ErrAlreadyInProgress = &AuthenticationError{
		Type:    ReasonAlreadyInProgress,
		Message: "A login attempt is already in progress",
		Code:    http.StatusConflict,
	}

	ErrNoActiveSession = &AuthenticationError{
		Type:    ReasonNoActiveSession,
		Message: "No active session",
		Code:    http.StatusNotFound,
	}

	ErrNoPendingLogin = &AuthenticationError{
		Type:    ReasonNoPendingLogin,
		Message: "No login attempt is pending",
		Code:    http.StatusNotFound,
	}

	// ErrStateMismatch represents an error for an invalid OAuth state parameter.
	ErrStateMismatch = &AuthenticationError{
		Type:    ReasonStateMismatch,
		Message: "OAuth state parameter is invalid",
		Code:    http.StatusBadRequest,
	}

	ErrProviderError = &AuthenticationError{
		Type:    ReasonProviderError,
		Message: "Provider rejected the request",
		Code:    http.StatusBadGateway,
	}

	// ErrNetworkError is transient and retried with backoff before it surfaces.
	ErrNetworkError = &AuthenticationError{
		Type:    ReasonNetworkError,
		Message: "Network error talking to the provider",
		Code:    http.StatusBadGateway,
	}

	// ErrInvalidGrant means the code or refresh token was used, expired or revoked.
	ErrInvalidGrant = &AuthenticationError{
		Type:    ReasonInvalidGrant,
		Message: "Authorization grant is invalid or was already used",
		Code:    http.StatusUnauthorized,
	}

	ErrMalformedResponse = &AuthenticationError{
		Type:    ReasonMalformedResponse,
		Message: "Token endpoint returned a malformed response",
		Code:    http.StatusBadGateway,
	}

	// ErrTimeout represents an error when waiting for the OAuth callback times out.
	ErrTimeout = &AuthenticationError{
		Type:    ReasonTimeout,
		Message: "Timeout waiting for OAuth callback",
		Code:    http.StatusRequestTimeout,
	}

	ErrCancelled = &AuthenticationError{
		Type:    ReasonCancelled,
		Message: "Login attempt was cancelled",
		Code:    http.StatusConflict,
	}

	ErrSuperseded = &AuthenticationError{
		Type:    ReasonSuperseded,
		Message: "Login attempt was superseded by a newer one",
		Code:    http.StatusConflict,
	}

	ErrMissingCode = &AuthenticationError{
		Type:    ReasonMissingCode,
		Message: "OAuth callback carried no authorization code",
		Code:    http.StatusBadRequest,
	}

	// ErrListenerUnavailable represents an error when the callback listener cannot bind.
	ErrListenerUnavailable = &AuthenticationError{
		Type:    ReasonListenerUnavailable,
		Message: "OAuth callback listener could not be started",
		Code:    http.StatusServiceUnavailable,
	}

	ErrStorageError = &AuthenticationError{
		Type:    ReasonStorageError,
		Message: "Session storage failed",
		Code:    http.StatusInternalServerError,
	}

	ErrProfileUnavailable = &AuthenticationError{
		Type:    ReasonProfileUnavailable,
		Message: "Could not fetch the user profile",
		Code:    http.StatusBadGateway,
	}
)

// NewAuthenticationError creates a new authentication error with a cause based on a base error.
func NewAuthenticationError(baseErr *AuthenticationError, cause error) *AuthenticationError {
	return &AuthenticationError{
		Type:    baseErr.Type,
		Message: baseErr.Message,
		Code:    baseErr.Code,
		Cause:   cause,
	}
}

// IsAuthenticationError checks if an error is an authentication error.
func IsAuthenticationError(err error) bool {
	var authenticationError *AuthenticationError
	return errors.As(err, &authenticationError)
}

// IsOAuthError checks if an error is an OAuth error.
func IsOAuthError(err error) bool {
	var oAuthError *OAuthError
	return errors.As(err, &oAuthError)
}

var rfc6749Codes = map[string]struct{}{
	"invalid_request":           {},
	"unauthorized_client":       {},
	"access_denied":             {},
	"unsupported_response_type": {},
	"invalid_scope":             {},
	"server_error":              {},
	"temporarily_unavailable":   {},
	"invalid_client":            {},
	"invalid_grant":             {},
	"unsupported_grant_type":    {},
}

// SanitizeProviderCode maps a provider error code onto the RFC 6749 set.
// Anything else, including free text, becomes "provider_error".
func SanitizeProviderCode(code string) string {
	if _, ok := rfc6749Codes[code]; ok {
		return code
	}
	return ReasonProviderError
}

// ReasonFor returns the stable reason tag carried by auth:failed notifications.
func ReasonFor(err error) string {
	if err == nil {
		return ""
	}
	var authErr *AuthenticationError
	if errors.As(err, &authErr) && authErr.Type != ReasonProviderError {
		return authErr.Type
	}
	var oauthErr *OAuthError
	if errors.As(err, &oauthErr) {
		return SanitizeProviderCode(oauthErr.Code)
	}
	if authErr != nil {
		return ReasonProviderError
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, context.Canceled):
		return ReasonCancelled
	}
	return ReasonUnknown
}

// StatusCode returns the HTTP status code the bridge should answer with for err.
func StatusCode(err error) int {
	var authErr *AuthenticationError
	if errors.As(err, &authErr) && authErr.Code >= 400 && authErr.Code < 600 {
		return authErr.Code
	}
	return http.StatusInternalServerError
}

// GetUserFriendlyMessage returns a user-friendly error message based on the error type.
func GetUserFriendlyMessage(err error) string {
	switch ReasonFor(err) {
	case ReasonAlreadyInProgress:
		return "A login is already in progress. Finish it in your browser or cancel it."
	case ReasonNoActiveSession:
		return "You are not logged in."
	case ReasonNoPendingLogin:
		return "There is no login to cancel."
	case ReasonStateMismatch:
		return "The login response did not match this request. Please try again."
	case ReasonNetworkError:
		return "Could not reach Discord. Check your connection and try again."
	case ReasonInvalidGrant:
		return "Your authorization is no longer valid. Please log in again."
	case ReasonTimeout:
		return "Authentication timed out. Please try again."
	case ReasonCancelled:
		return "Login was cancelled."
	case ReasonSuperseded:
		return "Login was restarted."
	case ReasonListenerUnavailable:
		return "The login callback port is already in use. Close the application using it and try again."
	case ReasonStorageError:
		return "Your session could not be saved securely."
	case ReasonProfileUnavailable:
		return "Logged in, but your Discord profile could not be loaded."
	case "access_denied":
		return "Authentication was cancelled or denied."
	case "invalid_request", "invalid_scope", "unauthorized_client", "invalid_client":
		return "Invalid authentication request. Please check the application configuration."
	case "server_error", "temporarily_unavailable":
		return "Authentication server error. Please try again later."
	default:
		return "Authentication failed. Please try again."
	}
}

package discord

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aquila-desktop/aquila-auth/internal/auth"
	"github.com/aquila-desktop/aquila-auth/internal/config"
	"github.com/aquila-desktop/aquila-auth/internal/util"
	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

const maxResponseBytes = 1 << 20

// RetryHook observes each retry of a token endpoint call.
type RetryHook func(operation string, err error, wait time.Duration)

// DiscordAuth handles the Discord OAuth2 authentication flow.
// It generates authorization URLs, exchanges authorization codes for tokens,
// refreshes access tokens and fetches the user profile.
type DiscordAuth struct {
	httpClient *http.Client
	clientID   string
	scopes     []string

	authURL  string
	tokenURL string
	apiBase  string

	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	requestTimeout time.Duration
	onRetry        RetryHook
	now            func() time.Time

	// consumed holds digests of authorization codes already sent to the token endpoint.
	mu       sync.Mutex
	consumed map[[sha256.Size]byte]struct{}
}

// Option customizes a DiscordAuth.
type Option func(*DiscordAuth)

// WithHTTPClient replaces the HTTP client used for all provider calls.
func WithHTTPClient(client *http.Client) Option {
	return func(a *DiscordAuth) {
		if client != nil {
			a.httpClient = client
		}
	}
}

// WithEndpoints points the client at alternative authorize, token and API URLs.
func WithEndpoints(authURL, tokenURL, apiBase string) Option {
	return func(a *DiscordAuth) {
		if authURL != "" {
			a.authURL = authURL
		}
		if tokenURL != "" {
			a.tokenURL = tokenURL
		}
		if apiBase != "" {
			a.apiBase = strings.TrimSuffix(apiBase, "/")
		}
	}
}

// WithRetryHook registers a callback invoked before every retry.
func WithRetryHook(hook RetryHook) Option {
	return func(a *DiscordAuth) { a.onRetry = hook }
}

// WithClock overrides the clock used to compute token expiry.
func WithClock(now func() time.Time) Option {
	return func(a *DiscordAuth) {
		if now != nil {
			a.now = now
		}
	}
}

// NewDiscordAuth creates a new DiscordAuth service instance.
// It initializes an HTTP client with proxy settings from the provided configuration.
func NewDiscordAuth(cfg *config.Config, opts ...Option) *DiscordAuth {
	if cfg == nil {
		cfg = config.Default()
	}
	a := &DiscordAuth{
		httpClient:     util.SetProxy(cfg.ProxyURL, &http.Client{}),
		clientID:       cfg.ClientID,
		scopes:         append([]string(nil), cfg.Scopes...),
		authURL:        AuthURL,
		tokenURL:       TokenURL,
		apiBase:        APIBaseURL,
		maxRetries:     cfg.Exchange.MaxRetries,
		initialBackoff: cfg.Exchange.InitialBackoff,
		maxBackoff:     cfg.Exchange.MaxBackoff,
		requestTimeout: cfg.Exchange.RequestTimeout,
		now:            time.Now,
		consumed:       make(map[[sha256.Size]byte]struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.initialBackoff <= 0 {
		a.initialBackoff = 500 * time.Millisecond
	}
	if a.maxBackoff < a.initialBackoff {
		a.maxBackoff = a.initialBackoff
	}
	return a
}

func (a *DiscordAuth) oauthConfig(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID: a.clientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:   a.authURL,
			TokenURL:  a.tokenURL,
			AuthStyle: Endpoint.AuthStyle,
		},
		RedirectURL: redirectURI,
		Scopes:      a.scopes,
	}
}

// GenerateAuthURL creates the authorization URL with the state token and the PKCE S256 challenge.
func (a *DiscordAuth) GenerateAuthURL(state string, pkceCodes *PKCECodes, redirectURI string) (string, error) {
	if pkceCodes == nil {
		return "", fmt.Errorf("PKCE codes are required")
	}
	if state == "" {
		return "", fmt.Errorf("state is required")
	}
	return a.oauthConfig(redirectURI).AuthCodeURL(state, oauth2.S256ChallengeOption(pkceCodes.CodeVerifier)), nil
}

// Exchange trades an authorization code for a token set. Each code is sent to the
// token endpoint at most once; a replay fails with ErrInvalidGrant without any request.
func (a *DiscordAuth) Exchange(ctx context.Context, code, verifier, redirectURI string) (*auth.TokenSet, error) {
	if code == "" {
		return nil, auth.ErrMissingCode
	}
	if !a.consume(code) {
		log.Debug("authorization code replay rejected")
		return nil, auth.NewAuthenticationError(auth.ErrInvalidGrant, errors.New("authorization code already used"))
	}

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {a.clientID},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"code_verifier": {verifier},
	}
	return a.postWithRetry(ctx, "exchange", form)
}

// Refresh obtains a new token set with a refresh token. A response without a new
// refresh token keeps the old one.
func (a *DiscordAuth) Refresh(ctx context.Context, refreshToken auth.Secret) (*auth.TokenSet, error) {
	if refreshToken.IsEmpty() {
		return nil, auth.NewAuthenticationError(auth.ErrInvalidGrant, errors.New("refresh token is missing"))
	}
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {a.clientID},
		"refresh_token": {refreshToken.Reveal()},
	}
	tokens, err := a.postWithRetry(ctx, "refresh", form)
	if err != nil {
		return nil, err
	}
	if tokens.RefreshToken.IsEmpty() {
		tokens.RefreshToken = refreshToken
	}
	return tokens, nil
}

func (a *DiscordAuth) consume(code string) bool {
	digest := sha256.Sum256([]byte(code))
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, seen := a.consumed[digest]; seen {
		return false
	}
	a.consumed[digest] = struct{}{}
	return true
}

// postWithRetry posts the form to the token endpoint, retrying ErrNetworkError
// with exponential backoff. Every other failure is returned immediately.
func (a *DiscordAuth) postWithRetry(ctx context.Context, operation string, form url.Values) (*auth.TokenSet, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.initialBackoff
	b.Multiplier = 2
	b.MaxInterval = a.maxBackoff
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0

	retries := a.maxRetries
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)

	attempt := 0
	op := func() (*auth.TokenSet, error) {
		attempt++
		tokens, err := a.postTokenForm(ctx, form)
		if err == nil {
			return tokens, nil
		}
		if errors.Is(err, auth.ErrNetworkError) {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		log.Warnf("token %s attempt %d failed (%s), retrying in %s", operation, attempt, auth.ReasonFor(err), wait)
		if a.onRetry != nil {
			a.onRetry(operation, err, wait)
		}
	}

	tokens, err := backoff.RetryNotifyWithData(op, policy, notify)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !auth.IsAuthenticationError(err) {
			return nil, ctxErr
		}
		return nil, err
	}
	return tokens, nil
}

func (a *DiscordAuth) postTokenForm(ctx context.Context, form url.Values) (*auth.TokenSet, error) {
	reqCtx := ctx
	if a.requestTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, a.requestTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, a.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, auth.NewAuthenticationError(auth.ErrNetworkError, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, auth.NewAuthenticationError(auth.ErrNetworkError, fmt.Errorf("failed to read token response: %w", err))
	}
	log.Debugf("token endpoint responded with status %d", resp.StatusCode)

	return parseTokenResponse(resp.StatusCode, body, a.now())
}

// FetchProfile reads the current user from /users/@me with the given tokens.
func (a *DiscordAuth) FetchProfile(ctx context.Context, tokens *auth.TokenSet) (*auth.Profile, error) {
	if tokens == nil || tokens.AccessToken.IsEmpty() {
		return nil, auth.NewAuthenticationError(auth.ErrProfileUnavailable, errors.New("no access token"))
	}
	reqCtx := context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
	if a.requestTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(reqCtx, a.requestTimeout)
		defer cancel()
	}
	client := oauth2.NewClient(reqCtx, oauth2.StaticTokenSource(tokens.OAuth2Token()))

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, a.apiBase+"/users/@me", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, auth.NewAuthenticationError(auth.ErrProfileUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, auth.NewAuthenticationError(auth.ErrProfileUnavailable, err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, auth.NewAuthenticationError(auth.ErrInvalidGrant, fmt.Errorf("profile request unauthorized"))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, auth.NewAuthenticationError(auth.ErrProfileUnavailable, fmt.Errorf("profile request failed with status %d", resp.StatusCode))
	}
	if !gjson.ValidBytes(body) {
		return nil, auth.NewAuthenticationError(auth.ErrProfileUnavailable, errMalformed("profile body is not JSON"))
	}

	user := gjson.ParseBytes(body)
	id := user.Get("id").String()
	if id == "" {
		return nil, auth.NewAuthenticationError(auth.ErrProfileUnavailable, errMalformed("profile without id"))
	}
	avatar := user.Get("avatar").String()
	return &auth.Profile{
		ID:         id,
		Username:   user.Get("username").String(),
		GlobalName: user.Get("global_name").String(),
		Avatar:     avatar,
		AvatarURL:  AvatarURL(id, avatar, user.Get("discriminator").String()),
		Email:      user.Get("email").String(),
	}, nil
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	coreauth "github.com/aquila-desktop/aquila-auth/internal/auth"
	"github.com/aquila-desktop/aquila-auth/internal/auth/discord"
	"github.com/aquila-desktop/aquila-auth/internal/config"
	"github.com/aquila-desktop/aquila-auth/internal/metrics"
	"github.com/aquila-desktop/aquila-auth/internal/misc"
	"github.com/aquila-desktop/aquila-auth/internal/session"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	defaultLoginTimeout = 2 * time.Minute
	defaultRefreshLead  = 5 * time.Minute
	refreshRetryDelay   = time.Minute
	listenerStopTimeout = 2 * time.Second
)

var errCallbackConsumed = errors.New("callback already received for this attempt")

// AttemptStatus is the lifecycle state of a login attempt.
type AttemptStatus int

const (
	StatusPending AttemptStatus = iota
	StatusCompleted
	StatusFailed
	StatusExpired
)

func (s AttemptStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Options configures a Coordinator. Provider, Store and Listen are required.
type Options struct {
	Provider Provider
	Store    session.Store
	Listen   ListenFunc
	Browser  BrowserOpener
	Bus      *Bus
	Metrics  *metrics.Metrics

	// Policy is config.PolicyReject or config.PolicySupersede.
	Policy       string
	LoginTimeout time.Duration
	RefreshLead  time.Duration
	NoBrowser    bool
	Now          func() time.Time
}

// Status is a point-in-time snapshot of the coordinator.
type Status struct {
	LoggedIn  bool              `json:"logged_in"`
	Profile   *coreauth.Profile `json:"profile,omitempty"`
	ExpiresAt time.Time         `json:"expires_at,omitempty"`
	Pending   bool              `json:"pending"`
	AttemptID string            `json:"attempt_id,omitempty"`
	AuthURL   string            `json:"auth_url,omitempty"`
}

// loginAttempt is owned by the coordinator loop.
type loginAttempt struct {
	id          string
	state       string
	verifier    string
	redirectURI string
	authURL     string
	createdAt   time.Time
	status      AttemptStatus
	exchanging  bool
	listener    CallbackListener
	timer       *time.Timer
	ctx         context.Context
	cancel      context.CancelFunc
}

// Coordinator drives Discord logins and owns the active session.
//
// All state lives on one goroutine. Public methods post closures to it and wait;
// listener results, exchange results and timers post events tagged with the
// attempt ID, and events for an attempt that is no longer current are dropped.
type Coordinator struct {
	provider  Provider
	store     session.Store
	listen    ListenFunc
	browser   BrowserOpener
	bus       *Bus
	ownsBus   bool
	metrics   *metrics.Metrics
	policy    string
	timeout   time.Duration
	lead      time.Duration
	noBrowser bool
	now       func() time.Time

	work     chan func()
	quit     chan struct{}
	stopOnce sync.Once
	loopDone chan struct{}

	refreshGroup singleflight.Group
	watchCancel  context.CancelFunc

	// Loop-owned state.
	attempt      *loginAttempt
	session      *coreauth.Session
	generation   uint64
	refreshTimer *time.Timer
}

// NewCoordinator validates opts and starts the coordinator loop.
func NewCoordinator(opts Options) (*Coordinator, error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("auth coordinator: provider is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("auth coordinator: session store is required")
	}
	if opts.Listen == nil {
		return nil, fmt.Errorf("auth coordinator: listener factory is required")
	}
	switch opts.Policy {
	case "":
		opts.Policy = config.PolicyReject
	case config.PolicyReject, config.PolicySupersede:
	default:
		return nil, fmt.Errorf("auth coordinator: unknown concurrent-login policy %q", opts.Policy)
	}
	if opts.LoginTimeout <= 0 {
		opts.LoginTimeout = defaultLoginTimeout
	}
	if opts.RefreshLead <= 0 {
		opts.RefreshLead = defaultRefreshLead
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Coordinator{
		provider:  opts.Provider,
		store:     opts.Store,
		listen:    opts.Listen,
		browser:   opts.Browser,
		bus:       opts.Bus,
		metrics:   opts.Metrics,
		policy:    opts.Policy,
		timeout:   opts.LoginTimeout,
		lead:      opts.RefreshLead,
		noBrowser: opts.NoBrowser,
		now:       opts.Now,
		work:      make(chan func()),
		quit:      make(chan struct{}),
		loopDone:  make(chan struct{}),
	}
	if c.bus == nil {
		c.bus = NewBus()
		c.ownsBus = true
	}
	go c.run()
	return c, nil
}

// Bus returns the notification bus the coordinator publishes on.
func (c *Coordinator) Bus() *Bus { return c.bus }

// Subscribe is a shortcut for Bus().Subscribe().
func (c *Coordinator) Subscribe() (<-chan Notification, func()) { return c.bus.Subscribe() }

// Start restores any persisted session and begins watching the store for
// removal by another process.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.Restore(ctx); err != nil {
		return err
	}
	if watcher, ok := c.store.(session.Watcher); ok {
		watchCtx, cancel := context.WithCancel(context.Background())
		events, err := watcher.Watch(watchCtx)
		if err != nil {
			cancel()
			log.Warnf("session store watch unavailable: %v", err)
			return nil
		}
		c.watchCancel = cancel
		go func() {
			for range events {
				c.post(c.onExternalClear)
			}
		}()
	}
	return nil
}

// Stop resolves a pending attempt as cancelled and stops the loop.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() {
		if c.watchCancel != nil {
			c.watchCancel()
		}
		close(c.quit)
	})
	select {
	case <-c.loopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) run() {
	defer close(c.loopDone)
	for {
		select {
		case fn := <-c.work:
			fn()
		case <-c.quit:
			c.shutdown()
			return
		}
	}
}

func (c *Coordinator) shutdown() {
	if c.attempt != nil {
		c.resolve(c.attempt, StatusFailed, coreauth.ErrCancelled)
	}
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
	if c.ownsBus {
		c.bus.Close()
	}
}

// do runs fn on the loop and waits for it to finish.
func (c *Coordinator) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case c.work <- func() { fn(); close(done) }:
	case <-c.quit:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// post schedules fn on the loop without waiting. It is dropped after Stop.
func (c *Coordinator) post(fn func()) {
	select {
	case c.work <- fn:
	case <-c.quit:
	}
}

func (c *Coordinator) publish(n Notification) {
	if n.At.IsZero() {
		n.At = c.now()
	}
	c.bus.Publish(n)
}

// StartLogin begins a login attempt and returns its ID without waiting for the
// browser flow. The outcome arrives as exactly one auth:succeeded or auth:failed
// notification.
func (c *Coordinator) StartLogin(ctx context.Context) (string, error) {
	var (
		id     string
		result error
	)
	if err := c.do(ctx, func() { id, result = c.startLogin() }); err != nil {
		return "", err
	}
	return id, result
}

func (c *Coordinator) startLogin() (string, error) {
	if c.attempt != nil {
		if c.policy != config.PolicySupersede {
			return "", coreauth.ErrAlreadyInProgress
		}
		log.Infof("superseding login attempt %s", c.attempt.id)
		c.resolve(c.attempt, StatusFailed, coreauth.ErrSuperseded)
	}

	id := uuid.NewString()
	createdAt := c.now()
	fail := func(err error) (string, error) {
		reason := coreauth.ReasonFor(err)
		log.WithField("attempt_id", id).Warnf("login attempt could not start: %s", reason)
		c.publish(Notification{Kind: KindFailed, AttemptID: id, Reason: reason})
		c.metrics.ObserveLogin(reason, createdAt)
		return "", err
	}

	state, err := misc.GenerateRandomState()
	if err != nil {
		return fail(err)
	}
	pkce := discord.GeneratePKCECodes()

	listener, err := c.listen()
	if err != nil {
		if !errors.Is(err, coreauth.ErrListenerUnavailable) {
			err = coreauth.NewAuthenticationError(coreauth.ErrListenerUnavailable, err)
		}
		return fail(err)
	}
	redirectURI := listener.RedirectURI()
	authURL, err := c.provider.GenerateAuthURL(state, pkce, redirectURI)
	if err != nil {
		stopListener(listener)
		return fail(err)
	}

	attemptCtx, cancel := context.WithCancel(context.Background())
	a := &loginAttempt{
		id:          id,
		state:       state,
		verifier:    pkce.CodeVerifier,
		redirectURI: redirectURI,
		authURL:     authURL,
		createdAt:   createdAt,
		status:      StatusPending,
		listener:    listener,
		ctx:         attemptCtx,
		cancel:      cancel,
	}
	a.timer = time.AfterFunc(c.timeout, func() {
		c.post(func() { c.onTimeout(id) })
	})
	c.attempt = a

	go c.watchListener(attemptCtx, id, listener)

	log.WithField("attempt_id", id).Infof("login attempt started, callback on %s", redirectURI)
	c.publish(Notification{Kind: KindPending, AttemptID: id, AuthURL: authURL})

	if !c.noBrowser && c.browser != nil {
		browser := c.browser
		go func() {
			if errOpen := browser.OpenURL(attemptCtx, authURL); errOpen != nil {
				log.WithField("attempt_id", id).Warnf("failed to open browser, open the login URL manually: %v", errOpen)
			}
		}()
	}
	return id, nil
}

func (c *Coordinator) watchListener(ctx context.Context, id string, listener CallbackListener) {
	select {
	case cb := <-listener.Results():
		c.post(func() { c.onRedirect(id, cb) })
	case err := <-listener.Errors():
		c.post(func() { c.onListenerError(id, err) })
	case <-ctx.Done():
	}
}

// current returns the pending attempt if id names it.
func (c *Coordinator) current(id string) *loginAttempt {
	if c.attempt == nil || c.attempt.id != id || c.attempt.status != StatusPending {
		return nil
	}
	return c.attempt
}

// onRedirect validates a callback for attempt id and starts the exchange.
func (c *Coordinator) onRedirect(id string, cb *misc.OAuthCallback) {
	a := c.current(id)
	if a == nil || a.exchanging {
		log.WithField("attempt_id", id).Debug("discarding callback for an attempt that is no longer pending")
		return
	}
	if cb == nil {
		return
	}
	stopListener(a.listener)

	switch {
	case !misc.StatesEqual(a.state, cb.State):
		c.resolve(a, StatusFailed, coreauth.ErrStateMismatch)
	case cb.Error != "":
		c.resolve(a, StatusFailed, coreauth.NewAuthenticationError(coreauth.ErrProviderError, coreauth.NewOAuthError(cb.Error, "", 0)))
	case cb.Code == "":
		c.resolve(a, StatusFailed, coreauth.ErrMissingCode)
	default:
		a.exchanging = true
		log.WithField("attempt_id", id).Debug("callback accepted, exchanging authorization code")
		go c.exchange(a.ctx, id, cb.Code, a.verifier, a.redirectURI)
	}
}

func (c *Coordinator) exchange(ctx context.Context, id, code, verifier, redirectURI string) {
	tokens, err := c.provider.Exchange(ctx, code, verifier, redirectURI)
	var profile *coreauth.Profile
	if err == nil {
		profile, err = c.provider.FetchProfile(ctx, tokens)
	}
	c.post(func() { c.onExchanged(id, tokens, profile, err) })
}

func (c *Coordinator) onExchanged(id string, tokens *coreauth.TokenSet, profile *coreauth.Profile, err error) {
	a := c.current(id)
	if a == nil {
		log.WithField("attempt_id", id).Debug("discarding exchange result for a resolved attempt")
		return
	}
	if err == nil && (tokens == nil || profile == nil) {
		err = coreauth.ErrMalformedResponse
	}
	if err != nil {
		c.resolve(a, StatusFailed, err)
		return
	}

	now := c.now()
	sess := &coreauth.Session{
		Tokens:    *tokens.Clone(),
		Profile:   *profile,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if errSave := c.store.Save(context.Background(), sess); errSave != nil {
		log.WithField("attempt_id", id).Errorf("failed to persist session: %v", errSave)
		c.resolve(a, StatusFailed, coreauth.NewAuthenticationError(coreauth.ErrStorageError, errSave))
		return
	}
	c.setSession(sess)
	c.resolve(a, StatusCompleted, nil)
}

func (c *Coordinator) onTimeout(id string) {
	if a := c.current(id); a != nil {
		c.resolve(a, StatusExpired, coreauth.ErrTimeout)
	}
}

func (c *Coordinator) onListenerError(id string, err error) {
	a := c.current(id)
	if a == nil || a.exchanging {
		return
	}
	c.resolve(a, StatusFailed, coreauth.NewAuthenticationError(coreauth.ErrListenerUnavailable, err))
}

// resolve moves a to a terminal status, tears down its resources and emits the
// single terminal notification for it.
func (c *Coordinator) resolve(a *loginAttempt, status AttemptStatus, err error) {
	if a.status != StatusPending {
		return
	}
	a.status = status
	if a.timer != nil {
		a.timer.Stop()
	}
	if a.cancel != nil {
		a.cancel()
	}
	stopListener(a.listener)
	if c.attempt == a {
		c.attempt = nil
	}

	entry := log.WithField("attempt_id", a.id)
	if status == StatusCompleted && c.session != nil {
		profile := c.session.Profile
		entry.Infof("login succeeded for %s", profile.Username)
		c.publish(Notification{Kind: KindSucceeded, AttemptID: a.id, Profile: &profile})
		c.metrics.ObserveLogin("succeeded", a.createdAt)
		return
	}
	reason := coreauth.ReasonFor(err)
	entry.Infof("login %s: %s", status, reason)
	c.publish(Notification{Kind: KindFailed, AttemptID: a.id, Reason: reason})
	c.metrics.ObserveLogin(reason, a.createdAt)
}

// stopListener releases the callback port before returning so that a following
// attempt can bind the same fixed port. Stop is idempotent.
func stopListener(l CallbackListener) {
	if l == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), listenerStopTimeout)
	defer cancel()
	if err := l.Stop(ctx); err != nil {
		log.Debugf("callback listener stop: %v", err)
	}
}

// CancelLogin resolves the pending attempt as cancelled.
func (c *Coordinator) CancelLogin(ctx context.Context) error {
	var result error
	if err := c.do(ctx, func() {
		if c.attempt == nil {
			result = coreauth.ErrNoPendingLogin
			return
		}
		c.resolve(c.attempt, StatusFailed, coreauth.ErrCancelled)
	}); err != nil {
		return err
	}
	return result
}

// SubmitCallbackURL feeds a redirect URL pasted by the user to the pending attempt,
// for setups where the browser cannot reach the loopback listener.
func (c *Coordinator) SubmitCallbackURL(ctx context.Context, rawURL string) error {
	cb, err := misc.ParseOAuthCallback(rawURL)
	if err != nil {
		return err
	}
	if cb == nil {
		return fmt.Errorf("callback URL is empty")
	}
	var result error
	if err = c.do(ctx, func() {
		if c.attempt == nil {
			result = coreauth.ErrNoPendingLogin
			return
		}
		if c.attempt.exchanging {
			result = coreauth.NewAuthenticationError(coreauth.ErrNoPendingLogin, errCallbackConsumed)
			return
		}
		c.onRedirect(c.attempt.id, cb)
	}); err != nil {
		return err
	}
	return result
}

// Logout erases the session and emits one auth:logged_out. Without a session it
// returns ErrNoActiveSession and emits nothing.
func (c *Coordinator) Logout(ctx context.Context) error {
	var result error
	if err := c.do(ctx, func() {
		if c.session == nil {
			result = coreauth.ErrNoActiveSession
			return
		}
		if err := c.store.Clear(ctx); err != nil {
			result = coreauth.NewAuthenticationError(coreauth.ErrStorageError, err)
			return
		}
		c.endSession("logout")
	}); err != nil {
		return err
	}
	return result
}

// Status returns a snapshot of the session and the pending attempt.
func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.do(ctx, func() {
		if c.session != nil {
			profile := c.session.Profile
			st.LoggedIn = true
			st.Profile = &profile
			st.ExpiresAt = c.session.Tokens.ExpiresAt
		}
		if c.attempt != nil {
			st.Pending = true
			st.AttemptID = c.attempt.id
			st.AuthURL = c.attempt.authURL
		}
	})
	return st, err
}

// Session returns a copy of the active session, or nil.
func (c *Coordinator) Session(ctx context.Context) (*coreauth.Session, error) {
	var sess *coreauth.Session
	err := c.do(ctx, func() { sess = c.session.Clone() })
	return sess, err
}

func (c *Coordinator) setSession(sess *coreauth.Session) {
	c.session = sess
	c.generation++
	c.metrics.SetSessionActive(true)
	c.scheduleRefresh(0)
}

// endSession drops the cached session after the store was cleared.
func (c *Coordinator) endSession(cause string) {
	c.session = nil
	c.generation++
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
	log.Infof("session ended (%s)", cause)
	c.publish(Notification{Kind: KindLoggedOut})
	c.metrics.IncrementLogout()
	c.metrics.SetSessionActive(false)
}

func (c *Coordinator) onExternalClear() {
	if c.session == nil {
		return
	}
	sess, err := c.store.Load(context.Background())
	if err == nil && sess != nil {
		return
	}
	c.endSession("removed externally")
}

// Restore loads the persisted session, if any. A corrupt record is erased.
// It emits no notification.
func (c *Coordinator) Restore(ctx context.Context) error {
	var result error
	if err := c.do(ctx, func() {
		sess, err := c.store.Load(ctx)
		switch {
		case errors.Is(err, session.ErrCorrupt):
			log.Warn("stored session is unreadable, discarding it")
			if errClear := c.store.Clear(ctx); errClear != nil {
				log.Warnf("failed to clear unreadable session: %v", errClear)
			}
			return
		case err != nil:
			result = coreauth.NewAuthenticationError(coreauth.ErrStorageError, err)
			return
		case sess == nil:
			log.Debug("no stored session")
			return
		}
		log.Infof("restored session for %s", sess.Profile.Username)
		c.setSession(sess)
	}); err != nil {
		return err
	}
	return result
}

// AccessToken returns the current access token, refreshing it first when it
// expires within the refresh lead.
func (c *Coordinator) AccessToken(ctx context.Context) (coreauth.Secret, error) {
	var (
		token  coreauth.Secret
		stale  bool
		result error
	)
	read := func() {
		if c.session == nil {
			result = coreauth.ErrNoActiveSession
			return
		}
		stale = c.session.Tokens.ExpiresWithin(c.now(), c.lead)
		token = c.session.Tokens.AccessToken
	}
	if err := c.do(ctx, read); err != nil {
		return "", err
	}
	if result != nil || !stale {
		return token, result
	}
	if err := c.Refresh(ctx); err != nil {
		return "", err
	}
	if err := c.do(ctx, read); err != nil {
		return "", err
	}
	return token, result
}

// Refresh exchanges the refresh token for a new token set. Concurrent callers
// share one token request. A rejected refresh token ends the session.
func (c *Coordinator) Refresh(ctx context.Context) error {
	ch := c.refreshGroup.DoChan("refresh", func() (any, error) {
		return nil, c.refresh(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) refresh(ctx context.Context) error {
	var (
		refreshToken coreauth.Secret
		generation   uint64
		result       error
	)
	if err := c.do(ctx, func() {
		if c.session == nil {
			result = coreauth.ErrNoActiveSession
			return
		}
		refreshToken = c.session.Tokens.RefreshToken
		generation = c.generation
	}); err != nil {
		return err
	}
	if result != nil {
		return result
	}

	var (
		tokens *coreauth.TokenSet
		err    error
	)
	if refreshToken.IsEmpty() {
		err = coreauth.NewAuthenticationError(coreauth.ErrInvalidGrant, errors.New("session has no refresh token"))
	} else {
		tokens, err = c.provider.Refresh(ctx, refreshToken)
	}
	if errDo := c.do(ctx, func() { result = c.applyRefresh(generation, tokens, err) }); errDo != nil {
		return errDo
	}
	return result
}

// applyRefresh installs a refresh result unless the session changed meanwhile.
func (c *Coordinator) applyRefresh(generation uint64, tokens *coreauth.TokenSet, err error) error {
	if c.session == nil || generation != c.generation {
		log.Debug("discarding refresh result for a replaced session")
		if err != nil {
			return err
		}
		return coreauth.ErrNoActiveSession
	}
	if err != nil {
		if errors.Is(err, coreauth.ErrInvalidGrant) {
			c.metrics.ObserveRefresh("invalid_grant")
			log.Warn("refresh token rejected, ending session")
			if errClear := c.store.Clear(context.Background()); errClear != nil {
				log.Errorf("failed to clear session after rejected refresh: %v", errClear)
			}
			c.endSession("refresh rejected")
			return err
		}
		c.metrics.ObserveRefresh("error")
		log.Warnf("token refresh failed: %s", coreauth.ReasonFor(err))
		c.scheduleRefresh(refreshRetryDelay)
		return err
	}

	updated := c.session.Clone()
	updated.Tokens = *tokens.Clone()
	updated.UpdatedAt = c.now()
	if errSave := c.store.Save(context.Background(), updated); errSave != nil {
		log.Errorf("failed to persist refreshed session: %v", errSave)
	}
	c.session = updated
	c.metrics.ObserveRefresh("succeeded")
	log.Debugf("access token refreshed, expires at %s", updated.Tokens.ExpiresAt.Format(time.RFC3339))
	c.scheduleRefresh(0)
	return nil
}

// scheduleRefresh arms the refresh timer. A zero delay derives it from the
// token expiry and the refresh lead.
func (c *Coordinator) scheduleRefresh(delay time.Duration) {
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
	if c.session == nil {
		return
	}
	if delay == 0 {
		if c.session.Tokens.ExpiresAt.IsZero() {
			return
		}
		delay = c.session.Tokens.ExpiresAt.Sub(c.now()) - c.lead
		if delay < 0 {
			delay = 0
		}
	}
	c.refreshTimer = time.AfterFunc(delay, func() {
		if err := c.Refresh(context.Background()); err != nil && !errors.Is(err, ErrStopped) {
			log.Debugf("scheduled refresh: %v", err)
		}
	})
}

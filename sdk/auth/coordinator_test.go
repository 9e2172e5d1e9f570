package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	coreauth "github.com/aquila-desktop/aquila-auth/internal/auth"
	"github.com/aquila-desktop/aquila-auth/internal/auth/discord"
	"github.com/aquila-desktop/aquila-auth/internal/config"
	"github.com/aquila-desktop/aquila-auth/internal/misc"
	"github.com/aquila-desktop/aquila-auth/internal/session"
)

const eventWait = 2 * time.Second

type fakeProvider struct {
	mu            sync.Mutex
	exchangeCalls int
	refreshCalls  int
	exchangeFn    func(ctx context.Context, code string) (*coreauth.TokenSet, error)
	refreshFn     func(ctx context.Context, rt coreauth.Secret) (*coreauth.TokenSet, error)
}

func (p *fakeProvider) GenerateAuthURL(state string, pkce *discord.PKCECodes, redirectURI string) (string, error) {
	q := url.Values{}
	q.Set("state", state)
	q.Set("code_challenge", pkce.CodeChallenge)
	q.Set("redirect_uri", redirectURI)
	return "https://discord.test/oauth2/authorize?" + q.Encode(), nil
}

func (p *fakeProvider) Exchange(ctx context.Context, code, _, _ string) (*coreauth.TokenSet, error) {
	p.mu.Lock()
	p.exchangeCalls++
	fn := p.exchangeFn
	p.mu.Unlock()
	if fn != nil {
		return fn(ctx, code)
	}
	return testTokens("access-"+code, time.Hour), nil
}

func (p *fakeProvider) Refresh(ctx context.Context, rt coreauth.Secret) (*coreauth.TokenSet, error) {
	p.mu.Lock()
	p.refreshCalls++
	fn := p.refreshFn
	p.mu.Unlock()
	if fn != nil {
		return fn(ctx, rt)
	}
	return testTokens("refreshed-access", time.Hour), nil
}

func (p *fakeProvider) FetchProfile(_ context.Context, _ *coreauth.TokenSet) (*coreauth.Profile, error) {
	return &coreauth.Profile{ID: "80351110224678912", Username: "nelly", AvatarURL: "https://cdn.discordapp.com/embed/avatars/5.png"}, nil
}

func (p *fakeProvider) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exchangeCalls, p.refreshCalls
}

type fakeListener struct {
	results chan *misc.OAuthCallback
	errs    chan error
	stops   atomic.Int32
}

func newFakeListener() *fakeListener {
	return &fakeListener{results: make(chan *misc.OAuthCallback, 1), errs: make(chan error, 1)}
}

func (l *fakeListener) RedirectURI() string { return "http://127.0.0.1:53682/callback" }
func (l *fakeListener) Results() <-chan *misc.OAuthCallback { return l.results }
func (l *fakeListener) Errors() <-chan error { return l.errs }
func (l *fakeListener) Stop(context.Context) error { l.stops.Add(1); return nil }

type fakeBrowser struct{ opened chan string }

func (b *fakeBrowser) OpenURL(_ context.Context, u string) error {
	b.opened <- u
	return nil
}

type harness struct {
	c         *Coordinator
	provider  *fakeProvider
	store     session.Store
	browser   *fakeBrowser
	events    <-chan Notification
	mu        sync.Mutex
	listeners []*fakeListener
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		provider: &fakeProvider{},
		store:    session.NewMemoryStore(),
		browser:  &fakeBrowser{opened: make(chan string, 4)},
	}
	bus := NewBus()
	opts := Options{
		Provider: h.provider,
		Store:    h.store,
		Listen: func() (CallbackListener, error) {
			l := newFakeListener()
			h.mu.Lock()
			h.listeners = append(h.listeners, l)
			h.mu.Unlock()
			return l, nil
		},
		Browser:      h.browser,
		Bus:          bus,
		LoginTimeout: time.Minute,
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.store = opts.Store
	c, err := NewCoordinator(opts)
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	h.c = c
	events, cancel := bus.Subscribe()
	h.events = events
	t.Cleanup(func() {
		ctx, done := context.WithTimeout(context.Background(), eventWait)
		defer done()
		_ = c.Stop(ctx)
		cancel()
		bus.Close()
	})
	return h
}

func (h *harness) listener(t *testing.T, i int) *fakeListener {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	if i >= len(h.listeners) {
		t.Fatalf("listener %d was never bound", i)
	}
	return h.listeners[i]
}

func (h *harness) next(t *testing.T) Notification {
	t.Helper()
	select {
	case n, ok := <-h.events:
		if !ok {
			t.Fatal("event stream closed")
		}
		return n
	case <-time.After(eventWait):
		t.Fatal("timed out waiting for notification")
	}
	return Notification{}
}

func (h *harness) expectQuiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case n := <-h.events:
		t.Fatalf("unexpected notification %s (%s)", n.Kind, n.Reason)
	case <-time.After(d):
	}
}

// begin starts a login and returns the attempt ID with the state embedded in the auth URL.
func (h *harness) begin(t *testing.T) (string, string) {
	t.Helper()
	id, err := h.c.StartLogin(context.Background())
	if err != nil {
		t.Fatalf("StartLogin: %v", err)
	}
	n := h.next(t)
	if n.Kind != KindPending || n.AttemptID != id {
		t.Fatalf("expected pending for %s, got %s for %s", id, n.Kind, n.AttemptID)
	}
	u, err := url.Parse(n.AuthURL)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	return id, u.Query().Get("state")
}

func testTokens(access string, ttl time.Duration) *coreauth.TokenSet {
	return &coreauth.TokenSet{
		AccessToken:  coreauth.Secret(access),
		RefreshToken: coreauth.Secret("refresh-" + access),
		TokenType:    "Bearer",
		ExpiresAt:    time.Now().Add(ttl),
		Scope:        []string{"identify", "email"},
	}
}

func seedSession(t *testing.T, store session.Store, ttl time.Duration) {
	t.Helper()
	sess := &coreauth.Session{
		Tokens:    *testTokens("stored-access", ttl),
		Profile:   coreauth.Profile{ID: "1", Username: "stored"},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := store.Save(context.Background(), sess); err != nil {
		t.Fatalf("seed session: %v", err)
	}
}

func TestLoginSucceeds(t *testing.T) {
	h := newHarness(t, nil)
	id, state := h.begin(t)

	select {
	case opened := <-h.browser.opened:
		if u, _ := url.Parse(opened); u.Query().Get("state") != state {
			t.Fatalf("browser opened %q", opened)
		}
	case <-time.After(eventWait):
		t.Fatal("browser was not opened")
	}

	h.listener(t, 0).results <- &misc.OAuthCallback{Code: "abc", State: state}

	n := h.next(t)
	if n.Kind != KindSucceeded || n.AttemptID != id {
		t.Fatalf("expected succeeded for %s, got %s (%s)", id, n.Kind, n.Reason)
	}
	if n.Profile == nil || n.Profile.Username != "nelly" {
		t.Fatalf("unexpected profile %+v", n.Profile)
	}

	sess, err := h.store.Load(context.Background())
	if err != nil || sess == nil {
		t.Fatalf("session not persisted: %v", err)
	}
	if sess.Tokens.AccessToken.Reveal() != "access-abc" {
		t.Fatalf("stored access token mismatch")
	}

	st, err := h.c.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !st.LoggedIn || st.Pending || st.Profile.Username != "nelly" {
		t.Fatalf("unexpected status %+v", st)
	}
	deadline := time.Now().Add(eventWait)
	for h.listener(t, 0).stops.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("listener was not stopped")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStartLoginRejectsConcurrentAttempt(t *testing.T) {
	h := newHarness(t, nil)
	h.begin(t)

	_, err := h.c.StartLogin(context.Background())
	if !errors.Is(err, ErrAlreadyInProgress) {
		t.Fatalf("expected ErrAlreadyInProgress, got %v", err)
	}
	h.expectQuiet(t, 50*time.Millisecond)
}

func TestStartLoginSupersedesPendingAttempt(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Policy = config.PolicySupersede })
	first, oldState := h.begin(t)

	second, err := h.c.StartLogin(context.Background())
	if err != nil {
		t.Fatalf("second StartLogin: %v", err)
	}
	n := h.next(t)
	if n.Kind != KindFailed || n.AttemptID != first || n.Reason != coreauth.ReasonSuperseded {
		t.Fatalf("expected first attempt superseded, got %s %s %s", n.Kind, n.AttemptID, n.Reason)
	}
	if n = h.next(t); n.Kind != KindPending || n.AttemptID != second {
		t.Fatalf("expected pending for second attempt, got %s %s", n.Kind, n.AttemptID)
	}

	// The superseded listener's late result must not complete anything.
	h.listener(t, 0).results <- &misc.OAuthCallback{Code: "late", State: oldState}
	h.expectQuiet(t, 50*time.Millisecond)
	if calls, _ := h.provider.counts(); calls != 0 {
		t.Fatalf("exchange called %d times for a superseded attempt", calls)
	}
}

func TestCallbackOutcomes(t *testing.T) {
	tests := []struct {
		name   string
		cb     func(state string) *misc.OAuthCallback
		reason string
	}{
		{"state mismatch", func(string) *misc.OAuthCallback { return &misc.OAuthCallback{Code: "abc", State: "forged"} }, coreauth.ReasonStateMismatch},
		{"mismatched error", func(string) *misc.OAuthCallback {
			return &misc.OAuthCallback{Error: "access_denied", State: "forged"}
		}, coreauth.ReasonStateMismatch},
		{"denied", func(s string) *misc.OAuthCallback { return &misc.OAuthCallback{Error: "access_denied", State: s} }, "access_denied"},
		{"free text error", func(s string) *misc.OAuthCallback {
			return &misc.OAuthCallback{Error: "<script>alert(1)</script>", State: s}
		}, coreauth.ReasonProviderError},
		{"missing code", func(s string) *misc.OAuthCallback { return &misc.OAuthCallback{State: s} }, coreauth.ReasonMissingCode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			id, state := h.begin(t)
			h.listener(t, 0).results <- tt.cb(state)

			n := h.next(t)
			if n.Kind != KindFailed || n.AttemptID != id || n.Reason != tt.reason {
				t.Fatalf("got %s %s reason %q, want failed %q", n.Kind, n.AttemptID, n.Reason, tt.reason)
			}
			if calls, _ := h.provider.counts(); calls != 0 {
				t.Fatalf("exchange called %d times", calls)
			}
			if sess, _ := h.store.Load(context.Background()); sess != nil {
				t.Fatal("session persisted after failed callback")
			}
		})
	}
}

func TestExchangeFailureReason(t *testing.T) {
	h := newHarness(t, nil)
	h.provider.exchangeFn = func(context.Context, string) (*coreauth.TokenSet, error) {
		return nil, coreauth.NewAuthenticationError(coreauth.ErrInvalidGrant, nil)
	}
	_, state := h.begin(t)
	h.listener(t, 0).results <- &misc.OAuthCallback{Code: "abc", State: state}

	if n := h.next(t); n.Kind != KindFailed || n.Reason != coreauth.ReasonInvalidGrant {
		t.Fatalf("got %s %q", n.Kind, n.Reason)
	}
}

func TestLoginTimeoutEmitsSingleFailure(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.LoginTimeout = 50 * time.Millisecond })
	id, state := h.begin(t)

	n := h.next(t)
	if n.Kind != KindFailed || n.AttemptID != id || n.Reason != coreauth.ReasonTimeout {
		t.Fatalf("got %s %s %q", n.Kind, n.AttemptID, n.Reason)
	}

	h.listener(t, 0).results <- &misc.OAuthCallback{Code: "abc", State: state}
	h.expectQuiet(t, 100*time.Millisecond)

	st, _ := h.c.Status(context.Background())
	if st.Pending || st.LoggedIn {
		t.Fatalf("unexpected status after timeout %+v", st)
	}
}

func TestTimeoutDuringExchangeDiscardsResult(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, func(o *Options) { o.LoginTimeout = 100 * time.Millisecond })
	h.provider.exchangeFn = func(ctx context.Context, code string) (*coreauth.TokenSet, error) {
		<-ctx.Done()
		<-release
		return testTokens("too-late", time.Hour), nil
	}
	id, state := h.begin(t)
	h.listener(t, 0).results <- &misc.OAuthCallback{Code: "abc", State: state}

	if n := h.next(t); n.Kind != KindFailed || n.AttemptID != id || n.Reason != coreauth.ReasonTimeout {
		t.Fatalf("got %s %q", n.Kind, n.Reason)
	}
	close(release)
	h.expectQuiet(t, 100*time.Millisecond)
	if sess, _ := h.store.Load(context.Background()); sess != nil {
		t.Fatal("late exchange result was persisted")
	}
}

func TestCancelLogin(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.c.CancelLogin(context.Background()); !errors.Is(err, ErrNoPendingLogin) {
		t.Fatalf("expected ErrNoPendingLogin, got %v", err)
	}

	id, _ := h.begin(t)
	if err := h.c.CancelLogin(context.Background()); err != nil {
		t.Fatalf("CancelLogin: %v", err)
	}
	if n := h.next(t); n.Kind != KindFailed || n.AttemptID != id || n.Reason != coreauth.ReasonCancelled {
		t.Fatalf("got %s %q", n.Kind, n.Reason)
	}
	if _, err := h.c.StartLogin(context.Background()); err != nil {
		t.Fatalf("StartLogin after cancel: %v", err)
	}
}

func TestSubmitCallbackURL(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.NoBrowser = true })
	if err := h.c.SubmitCallbackURL(context.Background(), "http://127.0.0.1:53682/callback?code=x&state=y"); !errors.Is(err, ErrNoPendingLogin) {
		t.Fatalf("expected ErrNoPendingLogin, got %v", err)
	}

	id, state := h.begin(t)
	raw := "http://127.0.0.1:53682/callback?code=pasted&state=" + url.QueryEscape(state)
	if err := h.c.SubmitCallbackURL(context.Background(), raw); err != nil {
		t.Fatalf("SubmitCallbackURL: %v", err)
	}
	if n := h.next(t); n.Kind != KindSucceeded || n.AttemptID != id {
		t.Fatalf("got %s %q", n.Kind, n.Reason)
	}
	select {
	case u := <-h.browser.opened:
		t.Fatalf("browser opened %q with NoBrowser set", u)
	default:
	}
}

func TestListenerUnavailable(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Listen = func() (CallbackListener, error) { return nil, errors.New("address already in use") }
	})
	id, err := h.c.StartLogin(context.Background())
	if !errors.Is(err, ErrListenerUnavailable) || id != "" {
		t.Fatalf("expected ErrListenerUnavailable, got %q %v", id, err)
	}
	if n := h.next(t); n.Kind != KindFailed || n.Reason != coreauth.ReasonListenerUnavailable {
		t.Fatalf("got %s %q", n.Kind, n.Reason)
	}
	if _, err = h.c.StartLogin(context.Background()); errors.Is(err, ErrAlreadyInProgress) {
		t.Fatal("failed start left an attempt pending")
	}
}

func TestLogout(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.c.Logout(context.Background()); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
	h.expectQuiet(t, 20*time.Millisecond)

	_, state := h.begin(t)
	h.listener(t, 0).results <- &misc.OAuthCallback{Code: "abc", State: state}
	if n := h.next(t); n.Kind != KindSucceeded {
		t.Fatalf("got %s %q", n.Kind, n.Reason)
	}

	if err := h.c.Logout(context.Background()); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if n := h.next(t); n.Kind != KindLoggedOut {
		t.Fatalf("expected logged_out, got %s", n.Kind)
	}
	if sess, err := h.store.Load(context.Background()); err != nil || sess != nil {
		t.Fatalf("store not cleared: %v %v", sess, err)
	}
	if _, err := h.c.AccessToken(context.Background()); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
	if err := h.c.Logout(context.Background()); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("second logout: %v", err)
	}
	h.expectQuiet(t, 20*time.Millisecond)
}

func TestRestoreAndAccessToken(t *testing.T) {
	h := newHarness(t, nil)
	seedSession(t, h.store, time.Hour)

	if err := h.c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.expectQuiet(t, 20*time.Millisecond)

	token, err := h.c.AccessToken(context.Background())
	if err != nil || token.Reveal() != "stored-access" {
		t.Fatalf("AccessToken = %v, %v", token, err)
	}
	if _, refreshes := h.provider.counts(); refreshes != 0 {
		t.Fatalf("fresh token triggered %d refreshes", refreshes)
	}
}

func TestAccessTokenRefreshesNearExpiry(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.RefreshLead = 5 * time.Minute })
	seedSession(t, h.store, time.Minute)
	if err := h.c.Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	token, err := h.c.AccessToken(context.Background())
	if err != nil || token.Reveal() != "refreshed-access" {
		t.Fatalf("AccessToken = %v, %v", token, err)
	}
	sess, _ := h.store.Load(context.Background())
	if sess == nil || sess.Tokens.AccessToken.Reveal() != "refreshed-access" {
		t.Fatal("refreshed tokens were not persisted")
	}
	if sess.Profile.Username != "stored" {
		t.Fatalf("refresh dropped the profile: %+v", sess.Profile)
	}
}

func TestRefreshInvalidGrantEndsSession(t *testing.T) {
	h := newHarness(t, nil)
	h.provider.refreshFn = func(context.Context, coreauth.Secret) (*coreauth.TokenSet, error) {
		return nil, coreauth.NewAuthenticationError(coreauth.ErrInvalidGrant, nil)
	}
	seedSession(t, h.store, time.Hour)
	if err := h.c.Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if err := h.c.Refresh(context.Background()); !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("expected ErrInvalidGrant, got %v", err)
	}
	if n := h.next(t); n.Kind != KindLoggedOut {
		t.Fatalf("expected logged_out, got %s", n.Kind)
	}
	if sess, _ := h.store.Load(context.Background()); sess != nil {
		t.Fatal("session survived a rejected refresh")
	}
}

func TestRefreshNetworkErrorKeepsSession(t *testing.T) {
	h := newHarness(t, nil)
	h.provider.refreshFn = func(context.Context, coreauth.Secret) (*coreauth.TokenSet, error) {
		return nil, coreauth.NewAuthenticationError(coreauth.ErrNetworkError, errors.New("dial tcp: refused"))
	}
	seedSession(t, h.store, time.Hour)
	if err := h.c.Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if err := h.c.Refresh(context.Background()); coreauth.ReasonFor(err) != coreauth.ReasonNetworkError {
		t.Fatalf("expected network error, got %v", err)
	}
	h.expectQuiet(t, 20*time.Millisecond)
	if st, _ := h.c.Status(context.Background()); !st.LoggedIn {
		t.Fatal("transient refresh failure ended the session")
	}
}

type corruptStore struct {
	session.MemoryStore
	cleared atomic.Bool
}

func (s *corruptStore) Load(context.Context) (*coreauth.Session, error) {
	if s.cleared.Load() {
		return nil, nil
	}
	return nil, session.ErrCorrupt
}

func (s *corruptStore) Clear(context.Context) error {
	s.cleared.Store(true)
	return nil
}

func TestRestoreDiscardsCorruptSession(t *testing.T) {
	store := &corruptStore{}
	h := newHarness(t, func(o *Options) { o.Store = store })
	if err := h.c.Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if !store.cleared.Load() {
		t.Fatal("corrupt session was not cleared")
	}
	if st, _ := h.c.Status(context.Background()); st.LoggedIn {
		t.Fatal("corrupt session was restored")
	}
}

func TestExternalRemovalLogsOut(t *testing.T) {
	store := session.NewFileStore(t.TempDir())
	h := newHarness(t, func(o *Options) { o.Store = store })
	seedSession(t, store, time.Hour)

	if err := h.c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := os.Remove(store.BlobPath()); err != nil {
		t.Fatalf("remove blob: %v", err)
	}
	if n := h.next(t); n.Kind != KindLoggedOut {
		t.Fatalf("expected logged_out, got %s", n.Kind)
	}
}

func TestStopCancelsPendingAttempt(t *testing.T) {
	h := newHarness(t, nil)
	id, _ := h.begin(t)

	ctx, cancel := context.WithTimeout(context.Background(), eventWait)
	defer cancel()
	if err := h.c.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if n := h.next(t); n.Kind != KindFailed || n.AttemptID != id || n.Reason != coreauth.ReasonCancelled {
		t.Fatalf("got %s %q", n.Kind, n.Reason)
	}
	if _, err := h.c.StartLogin(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestNewCoordinatorValidatesOptions(t *testing.T) {
	listen := func() (CallbackListener, error) { return newFakeListener(), nil }
	tests := []struct {
		name string
		opts Options
	}{
		{"no provider", Options{Store: session.NewMemoryStore(), Listen: listen}},
		{"no store", Options{Provider: &fakeProvider{}, Listen: listen}},
		{"no listener", Options{Provider: &fakeProvider{}, Store: session.NewMemoryStore()}},
		{"bad policy", Options{Provider: &fakeProvider{}, Store: session.NewMemoryStore(), Listen: listen, Policy: "queue"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewCoordinator(tt.opts); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func freeLoopbackPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	if err = l.Close(); err != nil {
		t.Fatalf("release port: %v", err)
	}
	return port
}

func stateOf(t *testing.T, authURL string) string {
	t.Helper()
	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	return u.Query().Get("state")
}

func TestFixedCallbackPortIsReusedAcrossAttempts(t *testing.T) {
	t.Run("supersede", func(t *testing.T) {
		port := freeLoopbackPort(t)
		h := newHarness(t, func(o *Options) {
			o.Listen = DiscordListener("127.0.0.1", port, "/callback")
			o.Policy = config.PolicySupersede
			o.NoBrowser = true
		})
		first, _ := h.begin(t)

		second, err := h.c.StartLogin(context.Background())
		if err != nil {
			t.Fatalf("second StartLogin on port %d: %v", port, err)
		}
		n := h.next(t)
		if n.Kind != KindFailed || n.AttemptID != first || n.Reason != coreauth.ReasonSuperseded {
			t.Fatalf("expected first attempt superseded, got %s %s %s", n.Kind, n.AttemptID, n.Reason)
		}
		n = h.next(t)
		if n.Kind != KindPending || n.AttemptID != second {
			t.Fatalf("expected pending for second attempt, got %s %s %s", n.Kind, n.AttemptID, n.Reason)
		}

		callback := fmt.Sprintf("http://127.0.0.1:%d/callback?code=live&state=%s", port, url.QueryEscape(stateOf(t, n.AuthURL)))
		resp, err := http.Get(callback)
		if err != nil {
			t.Fatalf("deliver callback: %v", err)
		}
		_ = resp.Body.Close()
		if n = h.next(t); n.Kind != KindSucceeded || n.AttemptID != second {
			t.Fatalf("expected second attempt to succeed, got %s %s", n.Kind, n.Reason)
		}
	})

	t.Run("timeout then restart", func(t *testing.T) {
		port := freeLoopbackPort(t)
		h := newHarness(t, func(o *Options) {
			o.Listen = DiscordListener("127.0.0.1", port, "/callback")
			o.LoginTimeout = 50 * time.Millisecond
			o.NoBrowser = true
		})
		for i := 0; i < 3; i++ {
			id, _ := h.begin(t)
			if n := h.next(t); n.Kind != KindFailed || n.AttemptID != id || n.Reason != coreauth.ReasonTimeout {
				t.Fatalf("round %d: got %s %s %q", i, n.Kind, n.AttemptID, n.Reason)
			}
		}
	})
}

func TestSubmitCallbackURLDuringExchange(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, func(o *Options) { o.NoBrowser = true })
	h.provider.exchangeFn = func(_ context.Context, code string) (*coreauth.TokenSet, error) {
		<-release
		return testTokens("access-"+code, time.Hour), nil
	}
	id, state := h.begin(t)
	raw := "http://127.0.0.1:53682/callback?code=first&state=" + url.QueryEscape(state)
	if err := h.c.SubmitCallbackURL(context.Background(), raw); err != nil {
		t.Fatalf("SubmitCallbackURL: %v", err)
	}

	again := "http://127.0.0.1:53682/callback?code=second&state=" + url.QueryEscape(state)
	if err := h.c.SubmitCallbackURL(context.Background(), again); !errors.Is(err, ErrNoPendingLogin) {
		t.Fatalf("expected ErrNoPendingLogin while exchanging, got %v", err)
	}

	close(release)
	if n := h.next(t); n.Kind != KindSucceeded || n.AttemptID != id {
		t.Fatalf("got %s %q", n.Kind, n.Reason)
	}
	if calls, _ := h.provider.counts(); calls != 1 {
		t.Fatalf("exchange called %d times", calls)
	}
	if sess, _ := h.store.Load(context.Background()); sess == nil || sess.Tokens.AccessToken.Reveal() != "access-first" {
		t.Fatalf("unexpected session %+v", sess)
	}
}

func TestStopDeliversCancellationOnOwnedBus(t *testing.T) {
	c, err := NewCoordinator(Options{
		Provider:  &fakeProvider{},
		Store:     session.NewMemoryStore(),
		Listen:    func() (CallbackListener, error) { return newFakeListener(), nil },
		NoBrowser: true,
	})
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	events, cancel := c.Subscribe()
	defer cancel()

	id, err := c.StartLogin(context.Background())
	if err != nil {
		t.Fatalf("StartLogin: %v", err)
	}
	ctx, done := context.WithTimeout(context.Background(), eventWait)
	defer done()
	if err = c.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	var got []Notification
	timeout := time.After(eventWait)
	for {
		select {
		case n, ok := <-events:
			if !ok {
				if len(got) != 2 || got[0].Kind != KindPending || got[1].Kind != KindFailed {
					t.Fatalf("delivered %+v", got)
				}
				if got[1].AttemptID != id || got[1].Reason != coreauth.ReasonCancelled {
					t.Fatalf("terminal event %+v", got[1])
				}
				return
			}
			got = append(got, n)
		case <-timeout:
			t.Fatalf("event stream not closed, got %+v", got)
		}
	}
}

package cmd

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	coreauth "github.com/aquila-desktop/aquila-auth/internal/auth"
	sdkAuth "github.com/aquila-desktop/aquila-auth/sdk/auth"
)

type fakeDriver struct {
	bus      *sdkAuth.Bus
	outcome  sdkAuth.Notification
	mu       sync.Mutex
	pasted   []string
	cancels  int
	startErr error
}

func (f *fakeDriver) Subscribe() (<-chan sdkAuth.Notification, func()) { return f.bus.Subscribe() }

func (f *fakeDriver) StartLogin(context.Context) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	f.bus.Publish(sdkAuth.Notification{Kind: sdkAuth.KindPending, AttemptID: "other", AuthURL: "https://discord.com/stale"})
	f.bus.Publish(sdkAuth.Notification{Kind: sdkAuth.KindPending, AttemptID: "a1", AuthURL: "https://discord.com/oauth2/authorize"})
	if f.outcome.Kind != "" {
		f.bus.Publish(f.outcome)
	}
	return "a1", nil
}

func (f *fakeDriver) SubmitCallbackURL(_ context.Context, raw string) error {
	f.mu.Lock()
	f.pasted = append(f.pasted, raw)
	f.mu.Unlock()
	f.bus.Publish(sdkAuth.Notification{Kind: sdkAuth.KindSucceeded, AttemptID: "a1", Profile: &coreauth.Profile{Username: "pasted"}})
	return nil
}

func (f *fakeDriver) CancelLogin(context.Context) error {
	f.mu.Lock()
	f.cancels++
	f.mu.Unlock()
	return nil
}

func newFakeDriver(t *testing.T) *fakeDriver {
	t.Helper()
	bus := sdkAuth.NewBus()
	t.Cleanup(bus.Close)
	return &fakeDriver{bus: bus}
}

func TestRunLoginOutcomes(t *testing.T) {
	t.Run("succeeded", func(t *testing.T) {
		d := newFakeDriver(t)
		d.outcome = sdkAuth.Notification{Kind: sdkAuth.KindSucceeded, AttemptID: "a1", Profile: &coreauth.Profile{Username: "nelly", GlobalName: "Nelly"}}
		profile, err := runLogin(context.Background(), d, nil)
		if err != nil {
			t.Fatalf("runLogin: %v", err)
		}
		if profile.DisplayName() != "Nelly" {
			t.Fatalf("profile = %+v", profile)
		}
	})

	t.Run("failed", func(t *testing.T) {
		d := newFakeDriver(t)
		d.outcome = sdkAuth.Notification{Kind: sdkAuth.KindFailed, AttemptID: "a1", Reason: coreauth.ReasonStateMismatch}
		_, err := runLogin(context.Background(), d, nil)
		if got := coreauth.ReasonFor(err); got != coreauth.ReasonStateMismatch {
			t.Fatalf("reason = %q (err %v)", got, err)
		}
	})

	t.Run("start error", func(t *testing.T) {
		d := newFakeDriver(t)
		d.startErr = coreauth.ErrAlreadyInProgress
		if _, err := runLogin(context.Background(), d, nil); !errors.Is(err, coreauth.ErrAlreadyInProgress) {
			t.Fatalf("err = %v", err)
		}
	})
}

func TestRunLoginPastedCallback(t *testing.T) {
	d := newFakeDriver(t)
	input := strings.NewReader("\n  http://127.0.0.1:53682/callback?code=c&state=s  \n")

	profile, err := runLogin(context.Background(), d, input)
	if err != nil {
		t.Fatalf("runLogin: %v", err)
	}
	if profile.Username != "pasted" {
		t.Fatalf("profile = %+v", profile)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pasted) != 1 || d.pasted[0] != "http://127.0.0.1:53682/callback?code=c&state=s" {
		t.Fatalf("pasted = %q", d.pasted)
	}
}

func TestRunLoginContextCancelled(t *testing.T) {
	d := newFakeDriver(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := runLogin(ctx, d, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancels != 1 {
		t.Fatalf("CancelLogin called %d times", d.cancels)
	}
}

func TestPrintStatus(t *testing.T) {
	var buf bytes.Buffer
	printStatus(&buf, sdkAuth.Status{})
	if buf.String() != "Not logged in.\n" {
		t.Fatalf("got %q", buf.String())
	}

	buf.Reset()
	printStatus(&buf, sdkAuth.Status{
		LoggedIn:  true,
		Profile:   &coreauth.Profile{ID: "42", Username: "nelly", Email: "n@example.com"},
		ExpiresAt: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	out := buf.String()
	for _, want := range []string{"Logged in as nelly (id 42)", "Email: n@example.com", "Access token expires:"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %q", out, want)
		}
	}
}

package browser

import (
	"context"
	"errors"
	"testing"
)

func TestOpenURLRejectsNonHTTP(t *testing.T) {
	for _, raw := range []string{"file:///etc/passwd", "javascript:alert(1)", "not a url", "http://"} {
		if err := OpenURL(raw); err == nil {
			t.Fatalf("OpenURL(%q) expected error", raw)
		}
	}
}

func TestSystemOpenURLUsesOpener(t *testing.T) {
	var opened string
	prev := runOpen
	runOpen = func(input string) error {
		opened = input
		return nil
	}
	t.Cleanup(func() { runOpen = prev })

	target := "https://discord.com/oauth2/authorize?state=abc"
	if err := (System{}).OpenURL(context.Background(), target); err != nil {
		t.Fatalf("OpenURL error: %v", err)
	}
	if opened != target {
		t.Fatalf("opened %q, want %q", opened, target)
	}
}

func TestOpenURLFallbackError(t *testing.T) {
	prev := runOpen
	runOpen = func(string) error { return errors.New("boom") }
	t.Cleanup(func() { runOpen = prev })
	t.Setenv("PATH", t.TempDir())

	if err := OpenURL("https://discord.com/"); err == nil {
		t.Fatal("expected error when no browser command is available")
	}
}

// Package auth hosts the Discord login coordinator: the single-owner state
// machine that drives a browser login, persists the resulting session and
// notifies subscribers of every transition.
package auth

import (
	"context"

	coreauth "github.com/aquila-desktop/aquila-auth/internal/auth"
	"github.com/aquila-desktop/aquila-auth/internal/auth/discord"
	"github.com/aquila-desktop/aquila-auth/internal/misc"
)

// Provider is the identity provider client used by the coordinator.
// *discord.DiscordAuth implements it.
type Provider interface {
	GenerateAuthURL(state string, pkce *discord.PKCECodes, redirectURI string) (string, error)
	Exchange(ctx context.Context, code, verifier, redirectURI string) (*coreauth.TokenSet, error)
	Refresh(ctx context.Context, refreshToken coreauth.Secret) (*coreauth.TokenSet, error)
	FetchProfile(ctx context.Context, tokens *coreauth.TokenSet) (*coreauth.Profile, error)
}

// CallbackListener is a bound redirect endpoint for one login attempt.
// *discord.OAuthServer implements it.
type CallbackListener interface {
	RedirectURI() string
	Results() <-chan *misc.OAuthCallback
	Errors() <-chan error
	Stop(ctx context.Context) error
}

// ListenFunc binds a new CallbackListener. It must return only once the
// socket is accepting connections.
type ListenFunc func() (CallbackListener, error)

// BrowserOpener opens the authorization URL for the user.
type BrowserOpener interface {
	OpenURL(ctx context.Context, url string) error
}

// DiscordListener returns a ListenFunc binding host:port and path.
func DiscordListener(host string, port int, path string) ListenFunc {
	return func() (CallbackListener, error) {
		srv, err := discord.Listen(host, port, path)
		if err != nil {
			return nil, err
		}
		return srv, nil
	}
}

// Package discord implements the Discord side of the desktop login flow:
// authorization URL construction with PKCE, the loopback redirect listener,
// token exchange and refresh against the Discord token endpoint, and the
// profile lookup used to populate the session.
package discord

import "golang.org/x/oauth2"

// OAuth configuration constants for Discord.
const (
	AuthURL    = "https://discord.com/api/oauth2/authorize"
	TokenURL   = "https://discord.com/api/oauth2/token"
	APIBaseURL = "https://discord.com/api"
	CDNBaseURL = "https://cdn.discordapp.com"
)

// Endpoint is the Discord OAuth2 endpoint. Discord expects the client id in the form body.
var Endpoint = oauth2.Endpoint{
	AuthURL:   AuthURL,
	TokenURL:  TokenURL,
	AuthStyle: oauth2.AuthStyleInParams,
}

package discord

import "golang.org/x/oauth2"

// PKCECodes holds the PKCE verifier sent on exchange and the S256 challenge sent on authorize.
type PKCECodes struct {
	CodeVerifier  string
	CodeChallenge string
}

// GeneratePKCECodes generates a new PKCE pair as specified in RFC 7636.
func GeneratePKCECodes() *PKCECodes {
	verifier := oauth2.GenerateVerifier()
	return &PKCECodes{
		CodeVerifier:  verifier,
		CodeChallenge: oauth2.S256ChallengeFromVerifier(verifier),
	}
}

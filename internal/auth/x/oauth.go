// Package x implements the OAuth2 authorization-code-with-PKCE flow against
// the X API and correlates browser-side callbacks back to chat accounts.
package x

import (
	"golang.org/x/oauth2"
)

// Defaults for the public X API. Tests point these at httptest servers.
const (
	DefaultAuthURL    = "https://twitter.com/i/oauth2/authorize"
	DefaultTokenURL   = "https://api.twitter.com/2/oauth2/token"
	DefaultAPIBaseURL = "https://api.twitter.com"
)

// Scopes is the fixed scope set requested on every authorization: read
// profile, read posts, write posts, and offline access for refresh tokens.
var Scopes = []string{
	"users.read",
	"tweet.read",
	"tweet.write",
	"offline.access",
}

// Config carries the app credentials and endpoint overrides for the X API.
type Config struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string

	// Endpoint overrides, empty means the public API.
	AuthURL    string
	TokenURL   string
	APIBaseURL string
}

// OAuthConfig builds the oauth2 client config with the fixed scope set and
// the configured redirect target.
func (c Config) OAuthConfig() *oauth2.Config {
	authURL := c.AuthURL
	if authURL == "" {
		authURL = DefaultAuthURL
	}
	tokenURL := c.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.CallbackURL,
		Scopes:       Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  authURL,
			TokenURL: tokenURL,
		},
	}
}

func (c Config) apiBaseURL() string {
	if c.APIBaseURL == "" {
		return DefaultAPIBaseURL
	}
	return c.APIBaseURL
}

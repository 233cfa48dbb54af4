// Package oauth2 holds what the client knows about the OAuth providers behind
// the social channels: their endpoints and scopes, checks on the consent URLs
// the backend hands out, and parsing of the redirects that come back.
//
// Code exchange happens on the backend; nothing here holds a client secret.
package oauth2

import (
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Provider describes one OAuth provider
type Provider struct {
	Name     string
	Endpoint oauth2.Endpoint
	Scopes   []string

	// PKCE providers must receive an S256 code challenge
	PKCE bool

	// Hosts the consent page may be served from, besides the endpoint's own
	AuthHosts []string
}

var TwitterEndpoint = oauth2.Endpoint{
	AuthURL:  "https://twitter.com/i/oauth2/authorize",
	TokenURL: "https://api.twitter.com/2/oauth2/token",
}

var DiscordEndpoint = oauth2.Endpoint{
	AuthURL:  "https://discord.com/oauth2/authorize",
	TokenURL: "https://discord.com/api/oauth2/token",
}

var providers = map[string]Provider{
	"twitter": {
		Name:      "twitter",
		Endpoint:  TwitterEndpoint,
		Scopes:    []string{"tweet.read", "users.read"},
		PKCE:      true,
		AuthHosts: []string{"x.com"},
	},
	"google": {
		Name:     "google",
		Endpoint: google.Endpoint,
		Scopes: []string{
			"https://www.googleapis.com/auth/userinfo.email",
			"https://www.googleapis.com/auth/userinfo.profile",
		},
		PKCE: true,
	},
	"discord": {
		Name:      "discord",
		Endpoint:  DiscordEndpoint,
		Scopes:    []string{"identify"},
		AuthHosts: []string{"discordapp.com"},
	},
}

// Lookup returns the provider registered under name
func Lookup(name string) (Provider, bool) {
	p, ok := providers[strings.ToLower(name)]
	return p, ok
}

// Names returns the registered provider names
func Names() []string {
	return []string{"twitter", "google", "discord"}
}

// hosts lists every host the provider's consent page may live on
func (p Provider) hosts() []string {
	out := append([]string{}, p.AuthHosts...)
	if u, err := url.Parse(p.Endpoint.AuthURL); err == nil {
		out = append(out, u.Hostname())
	}
	return out
}

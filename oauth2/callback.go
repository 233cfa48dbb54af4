package oauth2

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
)

var (
	ErrInsecureAuthURL   = errors.New("consent url is not https")
	ErrUnexpectedHost    = errors.New("consent url host does not belong to the provider")
	ErrMissingParameter  = errors.New("consent url is missing a parameter")
	ErrChallengeMismatch = errors.New("consent url carries an unexpected code challenge")
)

// CheckAuthURL returns a check for consent URLs handed out by the backend for
// this provider. The URL must be https, hosted by the provider, ask for a
// code, and carry state (and an S256 challenge for PKCE providers).
func (p Provider) CheckAuthURL() func(string) error {
	hosts := p.hosts()
	return func(raw string) error {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("parse consent url: %w", err)
		}
		if u.Scheme != "https" {
			return ErrInsecureAuthURL
		}
		host := strings.ToLower(u.Hostname())
		if !slices.ContainsFunc(hosts, func(h string) bool {
			return host == h || strings.HasSuffix(host, "."+h)
		}) {
			return fmt.Errorf("%w: %s", ErrUnexpectedHost, host)
		}
		q := u.Query()
		for _, key := range []string{"client_id", "response_type", "state"} {
			if q.Get(key) == "" {
				return fmt.Errorf("%w: %s", ErrMissingParameter, key)
			}
		}
		if p.PKCE {
			if q.Get("code_challenge") == "" {
				return fmt.Errorf("%w: code_challenge", ErrMissingParameter)
			}
			if m := q.Get("code_challenge_method"); m != "" && m != "S256" {
				return fmt.Errorf("%w: method %s", ErrChallengeMismatch, m)
			}
		}
		return nil
	}
}

// CheckChallenge verifies that a consent URL carries the expected code challenge
func CheckChallenge(raw, challenge string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse consent url: %w", err)
	}
	if got := u.Query().Get("code_challenge"); got != challenge {
		return ErrChallengeMismatch
	}
	return nil
}

// CallbackParams is what a provider appends to the redirect URI
type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// Failed reports whether the provider redirected with an error
func (c CallbackParams) Failed() bool {
	return c.Error != ""
}

// Message is the text to show for a failed callback
func (c CallbackParams) Message() string {
	if c.ErrorDescription != "" {
		return c.ErrorDescription
	}
	if c.Error == "access_denied" {
		return "Authorization was denied"
	}
	return c.Error
}

// ParseCallback reads the redirect's query parameters
func ParseCallback(q url.Values) CallbackParams {
	return CallbackParams{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}
}

// HandleCallbackFunc receives a parsed redirect for a provider
type HandleCallbackFunc func(provider string, params CallbackParams, w http.ResponseWriter, r *http.Request)

// CallbackHandler parses the redirect for provider and hands it to handle
func CallbackHandler(provider string, handle HandleCallbackFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		handle(provider, ParseCallback(r.URL.Query()), w, r)
	}
}

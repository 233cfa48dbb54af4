package oauth2_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	oauth2lib "golang.org/x/oauth2"

	"github.com/aptsend/vaultlink/oauth2"
)

func TestLookup(t *testing.T) {
	for _, name := range oauth2.Names() {
		p, ok := oauth2.Lookup(name)
		require.True(t, ok, name)
		assert.Equal(t, name, p.Name)
		assert.NotEmpty(t, p.Endpoint.AuthURL)
		assert.NotEmpty(t, p.Scopes)
	}

	p, ok := oauth2.Lookup("Twitter")
	require.True(t, ok)
	assert.True(t, p.PKCE)

	p, ok = oauth2.Lookup("discord")
	require.True(t, ok)
	assert.False(t, p.PKCE, "discord binds the flow with state only")

	_, ok = oauth2.Lookup("github")
	assert.False(t, ok)
}

// consentURL builds the URL a backend would hand out for p
func consentURL(p oauth2.Provider, state, verifier string) string {
	cfg := &oauth2lib.Config{
		ClientID:    "client-123",
		RedirectURL: "http://127.0.0.1:8080/" + p.Name + "/callback",
		Scopes:      p.Scopes,
		Endpoint:    p.Endpoint,
	}
	return cfg.AuthCodeURL(state, oauth2lib.S256ChallengeOption(verifier))
}

func TestConsentURLRoundTripsThroughChecks(t *testing.T) {
	p, _ := oauth2.Lookup("google")
	verifier := oauth2lib.GenerateVerifier()
	raw := consentURL(p, "state-abc", verifier)

	require.NoError(t, p.CheckAuthURL()(raw))
	require.NoError(t, oauth2.CheckChallenge(raw, oauth2lib.S256ChallengeFromVerifier(verifier)))
	assert.ErrorIs(t, oauth2.CheckChallenge(raw, "other"), oauth2.ErrChallengeMismatch)
	assert.ErrorIs(t, oauth2.CheckChallenge("https://accounts.google.com/o/oauth2/auth?state=x", "abc"), oauth2.ErrChallengeMismatch)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "state-abc", u.Query().Get("state"))
	assert.Equal(t, "S256", u.Query().Get("code_challenge_method"))
}

func TestCheckAuthURL(t *testing.T) {
	twitter, _ := oauth2.Lookup("twitter")
	discord, _ := oauth2.Lookup("discord")

	tests := []struct {
		name     string
		provider oauth2.Provider
		url      string
		wantErr  error
	}{
		{
			name:     "twitter with challenge",
			provider: twitter,
			url:      "https://twitter.com/i/oauth2/authorize?client_id=c&response_type=code&state=s&code_challenge=x&code_challenge_method=S256",
		},
		{
			name:     "twitter on x.com",
			provider: twitter,
			url:      "https://x.com/i/oauth2/authorize?client_id=c&response_type=code&state=s&code_challenge=x",
		},
		{
			name:     "twitter without challenge",
			provider: twitter,
			url:      "https://twitter.com/i/oauth2/authorize?client_id=c&response_type=code&state=s",
			wantErr:  oauth2.ErrMissingParameter,
		},
		{
			name:     "plain challenge method",
			provider: twitter,
			url:      "https://twitter.com/i/oauth2/authorize?client_id=c&response_type=code&state=s&code_challenge=x&code_challenge_method=plain",
			wantErr:  oauth2.ErrChallengeMismatch,
		},
		{
			name:     "discord state only",
			provider: discord,
			url:      "https://discord.com/oauth2/authorize?client_id=c&response_type=code&state=s",
		},
		{
			name:     "http scheme",
			provider: discord,
			url:      "http://discord.com/oauth2/authorize?client_id=c&response_type=code&state=s",
			wantErr:  oauth2.ErrInsecureAuthURL,
		},
		{
			name:     "foreign host",
			provider: discord,
			url:      "https://evil.example.com/oauth2/authorize?client_id=c&response_type=code&state=s",
			wantErr:  oauth2.ErrUnexpectedHost,
		},
		{
			name:     "lookalike host",
			provider: discord,
			url:      "https://notdiscord.com/oauth2/authorize?client_id=c&response_type=code&state=s",
			wantErr:  oauth2.ErrUnexpectedHost,
		},
		{
			name:     "missing state",
			provider: discord,
			url:      "https://discord.com/oauth2/authorize?client_id=c&response_type=code",
			wantErr:  oauth2.ErrMissingParameter,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.provider.CheckAuthURL()(tt.url)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestCallbackHandler(t *testing.T) {
	var gotProvider string
	var got oauth2.CallbackParams
	handler := oauth2.CallbackHandler("google", func(provider string, params oauth2.CallbackParams, w http.ResponseWriter, r *http.Request) {
		gotProvider = provider
		got = params
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("success", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler(rr, httptest.NewRequest(http.MethodGet, "/google/callback?code=abc&state=xyz", nil))
		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.Equal(t, "google", gotProvider)
		assert.False(t, got.Failed())
		assert.Equal(t, "abc", got.Code)
		assert.Equal(t, "xyz", got.State)
	})

	t.Run("access denied", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler(rr, httptest.NewRequest(http.MethodGet, "/google/callback?error=access_denied&state=xyz", nil))
		assert.True(t, got.Failed())
		assert.Equal(t, "Authorization was denied", got.Message())
	})

	t.Run("error description wins", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler(rr, httptest.NewRequest(http.MethodGet, "/google/callback?error=server_error&error_description=try+later", nil))
		assert.Equal(t, "try later", got.Message())
	})
}

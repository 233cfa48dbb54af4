package vaultlink_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	vl "github.com/aptsend/vaultlink"
)

func newTestServer(t *testing.T) (*vl.Server, *fakeBackend, string) {
	t.Helper()
	backend := newFakeBackend()
	backend.identities = linkedSnapshot("0xvault")
	dispatcher := vl.NewDispatcher(testOrigin)
	registry := vl.NewRegistry()
	registry.MustRegister(vl.NewOAuthDriver(vl.ChannelDiscord, backend, newMemPending(), dispatcher, &fakeOpener{}))

	s := (&vl.Server{
		Dispatcher: dispatcher,
		Manager:    vl.NewManager(backend, registry, nil, vl.WithOwner(testOwner)),
		Auth:       newTestAPIAuth(),
	}).EnsureDefaults()

	token, _, err := s.Auth.CreateAccessToken(testOwner, vl.AllScopes())
	if err != nil {
		t.Fatalf("CreateAccessToken() error = %v", err)
	}
	return s, backend, token
}

func postMessage(h http.Handler, origin, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(body))
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestServer_Messages(t *testing.T) {
	s, _, _ := newTestServer(t)
	h := s.Handler()
	valid := `{"type":"DISCORD_OAUTH_CALLBACK","payload":{"code":"c","state":"s"}}`

	tests := []struct {
		name   string
		origin string
		body   string
		want   int
	}{
		{"no origin", "", valid, http.StatusForbidden},
		{"foreign origin", "https://evil.example", valid, http.StatusForbidden},
		{"bad body", testOrigin, "{not json", http.StatusBadRequest},
		{"nobody waiting", testOrigin, valid, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := postMessage(h, tt.origin, tt.body); rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}

	waiter, cancel := s.Dispatcher.Subscribe(vl.ChannelDiscord)
	defer cancel()
	if rr := postMessage(h, testOrigin, valid); rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusAccepted)
	}
	env := <-waiter
	if env.Channel != vl.ChannelDiscord || env.String("code") != "c" {
		t.Errorf("delivered envelope = %+v", env)
	}
}

func TestServer_CallbackPage(t *testing.T) {
	s, _, _ := newTestServer(t)
	h := s.Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/twitter/callback?code=abc&state=xyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "TWITTER_OAUTH_CALLBACK") || !strings.Contains(body, "abc") {
		t.Errorf("callback page missing envelope: %s", body)
	}
	if rr.Header().Get("Cache-Control") != "no-store" {
		t.Error("callback page must not be cached")
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/google/callback?error=access_denied", nil))
	if !strings.Contains(rr.Body.String(), "GOOGLE_OAUTH_ERROR") {
		t.Errorf("error callback page: %s", rr.Body.String())
	}

	for _, path := range []string{"/evm/callback", "/myspace/callback"} {
		rr = httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", path, rr.Code)
		}
	}
}

func TestServer_TelegramLogin(t *testing.T) {
	s, _, _ := newTestServer(t)
	s.TelegramBotUsername = ""

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/telegram/login", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status without bot = %d, want 503", rr.Code)
	}

	s.TelegramBotUsername = "aptsend_bot"
	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/telegram/login", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `data-telegram-login="aptsend_bot"`) {
		t.Errorf("telegram page = %d %s", rr.Code, rr.Body.String())
	}
}

func TestServer_API(t *testing.T) {
	s, backend, token := newTestServer(t)
	h := s.Handler()

	do := func(method, path, body, bearer string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	if rr := do(http.MethodGet, "/api/status", "", ""); rr.Code != http.StatusUnauthorized {
		t.Errorf("status without token = %d, want 401", rr.Code)
	}

	s.Manager.Reload(t.Context())
	rr := do(http.MethodGet, "/api/status", "", token)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	var status struct {
		Owner    string                     `json:"owner"`
		Vault    *string                    `json:"primary_vault_address"`
		Channels map[string]vl.Capabilities `json:"channels"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status.Owner != testOwner || status.Vault == nil || *status.Vault != "0xvault" {
		t.Errorf("status = %+v", status)
	}
	if _, ok := status.Channels["discord"]; !ok {
		t.Errorf("channels = %v", status.Channels)
	}

	if rr := do(http.MethodPost, "/api/channels/discord/unsync", `{}`, token); rr.Code != http.StatusBadRequest {
		t.Errorf("unsync without account_id = %d, want 400", rr.Code)
	}
	if rr := do(http.MethodPost, "/api/channels/discord/unsync", `{"account_id":"1"}`, token); rr.Code != http.StatusNoContent {
		t.Errorf("unsync = %d: %s", rr.Code, rr.Body.String())
	}
	if len(backend.unsyncs) != 1 || backend.unsyncs[0] != "discord:1" {
		t.Errorf("backend unsyncs = %v", backend.unsyncs)
	}

	readOnly, _, _ := s.Auth.CreateAccessToken(testOwner, []string{vl.ScopeRead})
	if rr := do(http.MethodPost, "/api/channels/discord/sync", "", readOnly); rr.Code != http.StatusUnauthorized {
		t.Errorf("sync with read scope = %d, want 401", rr.Code)
	}
	if rr := do(http.MethodGet, "/api/check/discord?identifier=@alice", "", readOnly); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("check without checker = %d, want 503", rr.Code)
	}

	s.Checker = vl.NewChecker(backend, &fakeRoutes{})
	if rr := do(http.MethodGet, "/api/check/discord?identifier=@alice", "", readOnly); rr.Code != http.StatusBadRequest {
		t.Errorf("check invalid identifier = %d, want 400", rr.Code)
	}
}

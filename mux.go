package vaultlink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/aptsend/vaultlink/oauth2"
)

// Server is the loopback HTTP server that receives provider redirects, serves
// the Telegram widget page and exposes the control API under /api.
//
// Provider redirects land on /{channel}/callback. The page served there posts
// a typed envelope to /messages; the server checks the request's Origin and
// hands the envelope to the Dispatcher.
type Server struct {
	// Listen address, defaults to 127.0.0.1:0 (any free port)
	Addr string

	// Name of the Telegram bot the login widget is bound to
	TelegramBotUsername string

	Dispatcher *Dispatcher
	Manager    *Manager
	Checker    *Checker
	Vaults     *VaultService

	Auth       *APIAuth
	Middleware APIMiddleware

	router   *mux.Router
	listener net.Listener
	server   *http.Server
}

// NewServer creates a server around a dispatcher. The dispatcher's origin is
// set once the server listens.
func NewServer(dispatcher *Dispatcher) *Server {
	return (&Server{Dispatcher: dispatcher}).EnsureDefaults()
}

// EnsureDefaults fills unset fields from the environment and sane defaults
func (s *Server) EnsureDefaults() *Server {
	if s.Addr == "" {
		s.Addr = strings.TrimSpace(os.Getenv("VAULTLINK_LISTEN_ADDR"))
		if s.Addr == "" {
			s.Addr = "127.0.0.1:0"
		}
	}
	if s.TelegramBotUsername == "" {
		s.TelegramBotUsername = strings.TrimSpace(os.Getenv("VAULTLINK_TELEGRAM_BOT_USERNAME"))
	}
	if s.Dispatcher == nil {
		s.Dispatcher = NewDispatcher("")
	}
	if s.Auth == nil {
		s.Auth = &APIAuth{}
	}
	s.Auth.EnsureDefaults()
	if s.Middleware.Auth == nil {
		s.Middleware.Auth = s.Auth
	}
	return s
}

// Handler returns the server's router
func (s *Server) Handler() http.Handler {
	return s.setupRoutes().router
}

func (s *Server) setupRoutes() *Server {
	if s.router != nil {
		return s
	}
	r := mux.NewRouter()
	r.HandleFunc("/messages", s.handleMessage).Methods(http.MethodPost)
	r.HandleFunc("/telegram/login", s.handleTelegramLogin).Methods(http.MethodGet)
	for _, name := range oauth2.Names() {
		r.Handle("/"+name+"/callback", oauth2.CallbackHandler(name, s.handleCallback)).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	read := s.Middleware.RequireScopes(ScopeRead)
	sync := s.Middleware.RequireScopes(ScopeSync)
	api.Handle("/status", read(http.HandlerFunc(s.handleStatus))).Methods(http.MethodGet)
	api.Handle("/identities", read(http.HandlerFunc(s.handleIdentities))).Methods(http.MethodGet)
	api.Handle("/check/{channel}", read(http.HandlerFunc(s.handleCheck))).Methods(http.MethodGet)
	api.Handle("/vaults/{address}/balances", read(http.HandlerFunc(s.handleBalances))).Methods(http.MethodGet)
	api.Handle("/channels/{channel}/sync", sync(http.HandlerFunc(s.handleSync))).Methods(http.MethodPost)
	api.Handle("/channels/{channel}/unsync", sync(http.HandlerFunc(s.handleUnsync))).Methods(http.MethodPost)
	api.Handle("/tokens", s.Middleware.RequireScopes(ScopeAdmin)(http.HandlerFunc(s.Auth.HandleIssueToken))).Methods(http.MethodPost)

	s.router = r
	return s
}

// Listen binds the listener and points the dispatcher at the server's origin
func (s *Server) Listen() (string, error) {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return "", fmt.Errorf("listen on %s: %w", s.Addr, err)
	}
	s.listener = ln
	origin := "http://" + ln.Addr().String()
	s.Dispatcher.SetOrigin(origin)
	slog.Info("Loopback server listening", "origin", origin)
	return origin, nil
}

// Origin is the server's origin, "" before Listen
func (s *Server) Origin() string {
	if s.listener == nil {
		return ""
	}
	return "http://" + s.listener.Addr().String()
}

// CallbackURL is where a provider should redirect for a channel
func (s *Server) CallbackURL(ch ChannelType) string {
	return s.Origin() + "/" + string(ch) + "/callback"
}

// TelegramLoginURL is the page that hosts the Telegram login widget
func (s *Server) TelegramLoginURL() string {
	return s.Origin() + "/telegram/login"
}

// Serve serves until ctx is done, then shuts down gracefully
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		if _, err := s.Listen(); err != nil {
			return err
		}
	}
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- s.server.Serve(s.listener) }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" || origin != s.Dispatcher.Origin() {
		slog.Debug("Rejecting message from untrusted origin", "origin", origin)
		writeError(w, http.StatusForbidden, ErrOriginMismatch.Error())
		return
	}
	var env Envelope
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid envelope")
		return
	}
	if !s.Dispatcher.Post(origin, env) {
		writeError(w, http.StatusConflict, "No link attempt is waiting for this message")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleCallback(provider string, params oauth2.CallbackParams, w http.ResponseWriter, r *http.Request) {
	ch, err := ParseChannelType(provider)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	env := Envelope{Channel: ch, Payload: map[string]any{}}
	if params.Failed() {
		env.Kind = KindError(ch)
		env.Payload["error"] = params.Message()
		env.Payload["code"] = params.Error
	} else {
		env.Kind = KindCallback(ch)
		env.Payload["code"] = params.Code
		env.Payload["state"] = params.State
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	title := strings.ToUpper(string(ch[:1])) + string(ch[1:]) + " login"
	if err := callbackPage.Execute(w, callbackPageData{Title: title, Envelope: env}); err != nil {
		slog.Warn("failed to render callback page", "channel", string(ch), "error", err)
	}
}

func (s *Server) handleTelegramLogin(w http.ResponseWriter, r *http.Request) {
	if s.TelegramBotUsername == "" {
		http.Error(w, "Telegram bot is not configured", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := telegramPageData{BotUsername: s.TelegramBotUsername, Kind: KindCallback(ChannelTelegram)}
	if err := telegramPage.Execute(w, data); err != nil {
		slog.Warn("failed to render telegram page", "error", err)
	}
}

type statusResponse struct {
	Owner    string                       `json:"owner"`
	Loading  bool                         `json:"loading"`
	Vault    *string                      `json:"primary_vault_address"`
	Channels map[ChannelType]Capabilities `json:"channels"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.Manager == nil {
		writeError(w, http.StatusServiceUnavailable, "no owner session")
		return
	}
	resp := statusResponse{
		Owner:    s.Manager.Owner(),
		Loading:  s.Manager.IsLoading(),
		Channels: map[ChannelType]Capabilities{},
	}
	if v := s.Manager.PrimaryVault(); v != "" {
		resp.Vault = &v
	}
	for _, d := range s.Manager.registry.List() {
		resp.Channels[d.Type()] = d.Capabilities()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleIdentities(w http.ResponseWriter, r *http.Request) {
	if s.Manager == nil {
		writeError(w, http.StatusServiceUnavailable, "no owner session")
		return
	}
	writeJSON(w, http.StatusOK, s.Manager.Reload(r.Context()))
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.Manager == nil {
		writeError(w, http.StatusServiceUnavailable, "no owner session")
		return
	}
	ch, err := ParseChannelType(mux.Vars(r)["channel"])
	if err != nil {
		writeJSON(w, http.StatusNotFound, Failed(ErrUnknownChannel))
		return
	}
	writeJSON(w, http.StatusOK, s.Manager.SyncChannel(r.Context(), ch))
}

func (s *Server) handleUnsync(w http.ResponseWriter, r *http.Request) {
	if s.Manager == nil {
		writeError(w, http.StatusServiceUnavailable, "no owner session")
		return
	}
	ch, err := ParseChannelType(mux.Vars(r)["channel"])
	if err != nil {
		writeError(w, http.StatusNotFound, ErrUnknownChannel.Error())
		return
	}
	var body struct {
		AccountID string `json:"account_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.AccountID == "" {
		writeError(w, http.StatusBadRequest, "account_id is required")
		return
	}
	if err := s.Manager.UnsyncChannel(r.Context(), ch, body.AccountID); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, ErrNotImplemented) {
			status = http.StatusNotImplemented
		}
		writeError(w, status, ErrorMessage(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	if s.Checker == nil {
		writeError(w, http.StatusServiceUnavailable, "checker not configured")
		return
	}
	ch, err := ParseChannelType(mux.Vars(r)["channel"])
	if err != nil {
		writeError(w, http.StatusNotFound, ErrUnknownChannel.Error())
		return
	}
	result, err := s.Checker.Check(r.Context(), ch, r.URL.Query().Get("identifier"))
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, ErrInvalidIdentifier) {
			status = http.StatusBadRequest
		}
		writeError(w, status, ErrorMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	if s.Vaults == nil {
		writeError(w, http.StatusServiceUnavailable, "balances not configured")
		return
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	balances, err := s.Vaults.Balances(r.Context(), mux.Vars(r)["address"], force)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, balances)
}

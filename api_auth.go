package vaultlink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenExpiryAccessToken is the default lifetime of a control API token
const TokenExpiryAccessToken = 12 * time.Hour

// TokenResponse is returned when a control API token is issued
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope"`
}

// TokenRequest asks for a new control API token
type TokenRequest struct {
	Subject string `json:"subject"`
	Scope   string `json:"scope"`
}

// APIAuth issues and validates the bearer tokens of the control API
type APIAuth struct {
	JWTSecretKey string
	JWTIssuer    string
	JWTAudience  string

	AccessTokenExpiry time.Duration
}

// EnsureDefaults fills the issuer and the secret. The secret comes from
// VAULTLINK_JWT_SECRET_KEY or, failing that, is random for the process.
func (a *APIAuth) EnsureDefaults() *APIAuth {
	if a.JWTIssuer == "" {
		a.JWTIssuer = "vaultlink"
	}
	if a.AccessTokenExpiry <= 0 {
		a.AccessTokenExpiry = TokenExpiryAccessToken
	}
	if a.JWTSecretKey == "" {
		a.JWTSecretKey = strings.TrimSpace(os.Getenv("VAULTLINK_JWT_SECRET_KEY"))
		if a.JWTSecretKey == "" {
			secret, err := GenerateSecureToken()
			if err != nil {
				panic(err)
			}
			slog.Info("No VAULTLINK_JWT_SECRET_KEY set, using a per-process secret")
			a.JWTSecretKey = secret
		}
	}
	return a
}

// CreateAccessToken creates a signed JWT access token
func (a *APIAuth) CreateAccessToken(subject string, scopes []string) (string, int64, error) {
	a.EnsureDefaults()
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":    subject,
		"type":   "access",
		"scopes": scopes,
		"iss":    a.JWTIssuer,
		"iat":    now.Unix(),
		"exp":    now.Add(a.AccessTokenExpiry).Unix(),
	}
	if a.JWTAudience != "" {
		claims["aud"] = a.JWTAudience
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.JWTSecretKey))
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, int64(a.AccessTokenExpiry.Seconds()), nil
}

// ValidateAccessToken validates a JWT access token and returns its subject and scopes
func (a *APIAuth) ValidateAccessToken(tokenString string) (subject string, scopes []string, err error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(a.JWTSecretKey), nil
	})
	if err != nil {
		return "", nil, err
	}
	if !token.Valid {
		return "", nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", nil, fmt.Errorf("invalid claims")
	}
	if tokenType, ok := claims["type"].(string); !ok || tokenType != "access" {
		return "", nil, fmt.Errorf("invalid token type")
	}
	if iss, ok := claims["iss"].(string); !ok || iss != a.JWTIssuer {
		return "", nil, fmt.Errorf("invalid issuer")
	}
	if a.JWTAudience != "" {
		if aud, ok := claims["aud"].(string); !ok || aud != a.JWTAudience {
			return "", nil, fmt.Errorf("invalid audience")
		}
	}

	subject, err = claims.GetSubject()
	if err != nil || subject == "" {
		return "", nil, fmt.Errorf("missing subject")
	}
	if scopesRaw, ok := claims["scopes"].([]any); ok {
		for _, s := range scopesRaw {
			if str, ok := s.(string); ok {
				scopes = append(scopes, str)
			}
		}
	}
	return subject, scopes, nil
}

// HandleIssueToken issues a token for another subject. Mount it behind
// RequireScopes(ScopeAdmin); requested scopes are capped by the caller's own.
func (a *APIAuth) HandleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Subject == "" {
		writeError(w, http.StatusBadRequest, "subject is required")
		return
	}
	valid, invalid := ValidateRequestedScopes(ParseScopes(req.Scope))
	if len(invalid) > 0 {
		writeError(w, http.StatusBadRequest, "unknown scopes: "+JoinScopes(invalid))
		return
	}
	if !ContainsAllScopes(GetScopesFromAPIContext(r.Context()), valid) {
		writeError(w, http.StatusForbidden, "cannot grant scopes the caller does not hold")
		return
	}

	token, expiresIn, err := a.CreateAccessToken(req.Subject, valid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   expiresIn,
		Scope:       JoinScopes(valid),
	})
}

type apiContextKey string

const (
	contextKeySubject apiContextKey = "api_subject"
	contextKeyScopes  apiContextKey = "api_scopes"
)

// GetSubjectFromAPIContext retrieves the token subject set by APIMiddleware
func GetSubjectFromAPIContext(ctx context.Context) string {
	if v, ok := ctx.Value(contextKeySubject).(string); ok {
		return v
	}
	return ""
}

// GetScopesFromAPIContext retrieves the granted scopes set by APIMiddleware
func GetScopesFromAPIContext(ctx context.Context) []string {
	if v, ok := ctx.Value(contextKeyScopes).([]string); ok {
		return v
	}
	return nil
}

// APIMiddleware validates control API bearer tokens
type APIMiddleware struct {
	Auth *APIAuth

	// Defaults to "Authorization"
	AuthHeader string

	OnAuthError func(w http.ResponseWriter, r *http.Request, err error)
}

// RequireScopes ensures the token carries all required scopes. With none
// listed it only checks the bearer token.
func (m *APIMiddleware) RequireScopes(requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, granted, err := m.validateRequest(r)
			if err != nil {
				m.handleAuthError(w, r, err)
				return
			}
			if !ContainsAllScopes(granted, requiredScopes) {
				m.handleAuthError(w, r, fmt.Errorf("insufficient scope: requires %v", requiredScopes))
				return
			}
			ctx := context.WithValue(r.Context(), contextKeySubject, subject)
			ctx = context.WithValue(ctx, contextKeyScopes, granted)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (m *APIMiddleware) validateRequest(r *http.Request) (subject string, scopes []string, err error) {
	header := m.AuthHeader
	if header == "" {
		header = "Authorization"
	}
	authHeader := r.Header.Get(header)
	if authHeader == "" {
		return "", nil, fmt.Errorf("missing authorization header")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", nil, fmt.Errorf("invalid authorization header format")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", nil, fmt.Errorf("empty token")
	}
	return m.Auth.ValidateAccessToken(token)
}

func (m *APIMiddleware) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	if m.OnAuthError != nil {
		m.OnAuthError(w, r, err)
		return
	}
	slog.Debug("control api auth failed", "path", r.URL.Path, "error", err)
	w.Header().Set("WWW-Authenticate", `Bearer realm="vaultlink"`)
	writeJSON(w, http.StatusUnauthorized, map[string]string{
		"error":             "unauthorized",
		"error_description": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/reelforge/video-orchestrator/internal/domain/model"
	"github.com/reelforge/video-orchestrator/internal/domain/ports/repository"
	"github.com/reelforge/video-orchestrator/internal/domain/tokenpool"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// AdminClaims is the JWT payload minted for operators, grounded on the
// teacher's AdminClaims but scoped to a single role: there is no user
// hierarchy to express in an orchestrator-only admin surface.
type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AdminAuth validates the Authorization: Bearer <jwt> header against a
// shared HMAC secret, the same signing scheme as the teacher's
// AuthManager but without the cookie path: this admin surface is a
// machine-to-machine API, not a browser session.
type AdminAuth struct {
	secret []byte
	ttl    time.Duration
}

func NewAdminAuth(secret string) *AdminAuth {
	return &AdminAuth{secret: []byte(secret), ttl: 30 * time.Minute}
}

func (a *AdminAuth) Mint(subject string) (string, error) {
	now := time.Now()
	claims := AdminClaims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *AdminAuth) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr := r.Header.Get("Authorization")
		if !strings.HasPrefix(strings.ToLower(hdr), "bearer ") {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		raw := strings.TrimSpace(hdr[len("bearer "):])
		claims := &AdminClaims{}
		tkn, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
			return a.secret, nil
		})
		if err != nil || !tkn.Valid || claims.Role != "admin" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type adminReplaceTokensRequest struct {
	Secrets []string `json:"secrets"`
}

type adminReplaceTokensResponse struct {
	Count int `json:"count"`
}

type adminToken struct {
	ID                string `json:"id"`
	Label             string `json:"label"`
	Active            bool   `json:"active"`
	CurrentBatchCount int    `json:"currentBatchCount"`
	TotalGenerated    int64  `json:"totalGenerated"`
}

type adminLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type adminLoginResponse struct {
	Token string `json:"token"`
}

// AdminServer exposes the token-management operations spec.md §6.2
// reserves for operators, guarded by AdminAuth instead of the
// per-request plan checks the user-facing routes use.
type AdminServer struct {
	pool  tokenpool.Pool
	users repository.UserRepository
	auth  *AdminAuth
	log   *zerolog.Logger
}

func NewAdminServer(pool tokenpool.Pool, users repository.UserRepository, auth *AdminAuth, log *zerolog.Logger) *AdminServer {
	return &AdminServer{pool: pool, users: users, auth: auth, log: log}
}

func (a *AdminServer) Mount(r chi.Router) {
	r.Post("/v1/admin/login", a.handleLogin)
	r.Route("/v1/admin/tokens", func(r chi.Router) {
		r.Use(a.auth.middleware)
		r.Get("/", a.handleListTokens)
		r.Put("/", a.handleReplaceTokens)
	})
}

// handleLogin checks email/password against the stored bcrypt hash and
// mints a short-lived admin JWT, the credential path the Bearer-protected
// token-management routes then accept.
func (a *AdminServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req adminLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Password == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	user, err := a.users.FindByEmail(r.Context(), nil, req.Email)
	if err != nil || user.Role != model.RoleAdmin {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	token, err := a.auth.Mint(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, adminLoginResponse{Token: token})
}

func (a *AdminServer) handleListTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := a.pool.GetActiveTokens(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]adminToken, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, adminToken{
			ID:                t.ID,
			Label:             t.Label,
			Active:            t.Active,
			CurrentBatchCount: t.CurrentBatchCount,
			TotalGenerated:    t.TotalGenerated,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *AdminServer) handleReplaceTokens(w http.ResponseWriter, r *http.Request) {
	var req adminReplaceTokensRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Secrets) == 0 {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	tokens, err := a.pool.ReplaceAllTokens(r.Context(), req.Secrets)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, adminReplaceTokensResponse{Count: len(tokens)})
}

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/reelforge/video-orchestrator/internal/domain/model"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"
)

type adminTokenPool struct {
	active       []*model.Token
	replaced     []string
	replaceErr   error
}

func (f *adminTokenPool) DispenseBatchToken(ctx context.Context) (*model.Token, error)  { return nil, nil }
func (f *adminTokenPool) GetNextRotationToken(ctx context.Context) (*model.Token, error) { return nil, nil }
func (f *adminTokenPool) RecordError(tokenID string)                                     {}
func (f *adminTokenPool) IsInCooldown(tokenID string) bool                               { return false }
func (f *adminTokenPool) ReplaceAllTokens(ctx context.Context, rawSecrets []string) ([]*model.Token, error) {
	if f.replaceErr != nil {
		return nil, f.replaceErr
	}
	f.replaced = rawSecrets
	tokens := make([]*model.Token, len(rawSecrets))
	for i, s := range rawSecrets {
		tokens[i] = &model.Token{ID: s, Secret: s, Active: true}
	}
	return tokens, nil
}
func (f *adminTokenPool) GetActiveTokens(ctx context.Context) ([]*model.Token, error) { return f.active, nil }
func (f *adminTokenPool) GetTokenSettings(ctx context.Context) (*model.TokenSettings, error) {
	return nil, nil
}

func mustHash(t *testing.T, pw string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	return string(h)
}

func TestAdminAuth_MintThenMiddlewareAllowsValidToken(t *testing.T) {
	auth := NewAdminAuth("test-secret")
	token, err := auth.Mint("admin-1")
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	called := false
	handler := auth.middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/tokens", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called {
		t.Errorf("expected the wrapped handler to run for a valid admin token, status=%d", rec.Code)
	}
}

func TestAdminAuth_MiddlewareRejectsMissingHeader(t *testing.T) {
	auth := NewAdminAuth("test-secret")
	handler := auth.middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run without an Authorization header")
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/tokens", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 Unauthorized, got %d", rec.Code)
	}
}

func TestAdminAuth_MiddlewareRejectsTokenSignedWithDifferentSecret(t *testing.T) {
	other := NewAdminAuth("a-different-secret")
	token, err := other.Mint("admin-1")
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	auth := NewAdminAuth("test-secret")
	handler := auth.middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run for a token signed with a foreign secret")
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/tokens", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 Forbidden, got %d", rec.Code)
	}
}

func TestHandleLogin_SucceedsWithValidCredentialsAndReturnsJWT(t *testing.T) {
	users := newAPIUserRepo(&model.User{
		ID:           "admin-1",
		Email:        "admin@example.com",
		PasswordHash: mustHash(t, "correct-password"),
		Role:         model.RoleAdmin,
	})
	admin := NewAdminServer(&adminTokenPool{}, users, NewAdminAuth("test-secret"), testAPILogger())

	r := chi.NewRouter()
	admin.Mount(r)

	body, _ := json.Marshal(map[string]string{"email": "admin@example.com", "password": "correct-password"})
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.Token == "" {
		t.Fatalf("expected a non-empty token in the response, err=%v body=%s", err, rec.Body.String())
	}
}

func TestHandleLogin_RejectsWrongPassword(t *testing.T) {
	users := newAPIUserRepo(&model.User{
		ID:           "admin-1",
		Email:        "admin@example.com",
		PasswordHash: mustHash(t, "correct-password"),
		Role:         model.RoleAdmin,
	})
	admin := NewAdminServer(&adminTokenPool{}, users, NewAdminAuth("test-secret"), testAPILogger())

	r := chi.NewRouter()
	admin.Mount(r)

	body, _ := json.Marshal(map[string]string{"email": "admin@example.com", "password": "wrong-password"})
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 Unauthorized, got %d", rec.Code)
	}
}

func TestHandleLogin_RejectsNonAdminUser(t *testing.T) {
	users := newAPIUserRepo(&model.User{
		ID:           "regular-1",
		Email:        "user@example.com",
		PasswordHash: mustHash(t, "correct-password"),
		Role:         model.RoleRegular,
	})
	admin := NewAdminServer(&adminTokenPool{}, users, NewAdminAuth("test-secret"), testAPILogger())

	r := chi.NewRouter()
	admin.Mount(r)

	body, _ := json.Marshal(map[string]string{"email": "user@example.com", "password": "correct-password"})
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected a non-admin user to be rejected, got %d", rec.Code)
	}
}

func TestHandleListTokens_RequiresAuth(t *testing.T) {
	admin := NewAdminServer(&adminTokenPool{active: []*model.Token{{ID: "tok1", Label: "primary"}}}, newAPIUserRepo(), NewAdminAuth("test-secret"), testAPILogger())

	r := chi.NewRouter()
	admin.Mount(r)

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/tokens/", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthenticated list to be rejected, got %d", rec.Code)
	}
}

func TestHandleListTokens_ReturnsActiveTokensWhenAuthorized(t *testing.T) {
	pool := &adminTokenPool{active: []*model.Token{{ID: "tok1", Label: "primary", Active: true, CurrentBatchCount: 3, TotalGenerated: 42}}}
	auth := NewAdminAuth("test-secret")
	admin := NewAdminServer(pool, newAPIUserRepo(), auth, testAPILogger())

	r := chi.NewRouter()
	admin.Mount(r)

	token, err := auth.Mint("admin-1")
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/tokens/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d: %s", rec.Code, rec.Body.String())
	}
	var out []adminToken
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(out) != 1 || out[0].ID != "tok1" || out[0].TotalGenerated != 42 {
		t.Errorf("unexpected tokens payload: %+v", out)
	}
}

func TestHandleReplaceTokens_RejectsEmptySecretsList(t *testing.T) {
	auth := NewAdminAuth("test-secret")
	admin := NewAdminServer(&adminTokenPool{}, newAPIUserRepo(), auth, testAPILogger())

	r := chi.NewRouter()
	admin.Mount(r)

	token, err := auth.Mint("admin-1")
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	body, _ := json.Marshal(map[string][]string{"secrets": {}})
	req := httptest.NewRequest(http.MethodPut, "/v1/admin/tokens/", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 Bad Request for an empty secrets list, got %d", rec.Code)
	}
}

func TestHandleReplaceTokens_SucceedsAndReportsCount(t *testing.T) {
	pool := &adminTokenPool{}
	auth := NewAdminAuth("test-secret")
	admin := NewAdminServer(pool, newAPIUserRepo(), auth, testAPILogger())

	r := chi.NewRouter()
	admin.Mount(r)

	token, err := auth.Mint("admin-1")
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	body, _ := json.Marshal(map[string][]string{"secrets": {"sk-1", "sk-2", "sk-3"}})
	req := httptest.NewRequest(http.MethodPut, "/v1/admin/tokens/", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp adminReplaceTokensResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Count != 3 {
		t.Errorf("expected Count=3, got %d", resp.Count)
	}
	if len(pool.replaced) != 3 {
		t.Errorf("expected ReplaceAllTokens to receive all 3 secrets, got %v", pool.replaced)
	}
}


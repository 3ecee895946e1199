package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type testAuthenticator struct {
	identity Identity
	err      error
}

func (a *testAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	return a.identity, a.err
}

func TestMiddleware_Unauthorized(t *testing.T) {
	called := false
	var audited []DenyEvent
	h := Middleware{
		Authenticator: &testAuthenticator{err: ErrUnauthenticated},
		Audit: func(ctx context.Context, event DenyEvent) error {
			audited = append(audited, event)
			return nil
		},
	}.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "http://example.test/runs/r1", nil)
	req.Header.Set("X-Request-Id", "rid-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if called {
		t.Fatalf("handler should not be called")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, want 401", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if body["error"] != "unauthorized" || body["request_id"] != "rid-1" {
		t.Fatalf("unexpected body: %v", body)
	}
	if len(audited) != 1 || audited[0].Reason != "unauthorized" {
		t.Fatalf("expected one audited deny, got %+v", audited)
	}
}

func TestMiddleware_InvalidToken(t *testing.T) {
	h := Middleware{
		Authenticator: &testAuthenticator{err: errors.New("bad token")},
	}.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://example.test/runs/r1", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, want 401", rec.Code)
	}
}

func TestMiddleware_Forbidden(t *testing.T) {
	h := Middleware{
		Authenticator: &testAuthenticator{identity: Identity{Subject: "bob", Roles: []string{"runner"}}},
		Authorize:     MethodRoleAuthorizer(),
	}.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "http://example.test/runs/r1/close", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status=%d, want 403", rec.Code)
	}
}

func TestMiddleware_PassesIdentity(t *testing.T) {
	var got Identity
	h := Middleware{
		Authenticator: &testAuthenticator{identity: Identity{Subject: "alice", Roles: []string{"runner"}}},
		Authorize:     MethodRoleAuthorizer(),
	}.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "http://example.test/runs/r1/results", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status=%d, want 204", rec.Code)
	}
	if got.Subject != "alice" {
		t.Fatalf("identity subject=%q, want alice", got.Subject)
	}
}

func TestMiddleware_SkipPrefixes(t *testing.T) {
	authn := &testAuthenticator{err: ErrUnauthenticated}
	h := Middleware{
		Authenticator: authn,
		SkipPrefixes:  []string{"/healthz"},
	}.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://example.test/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
}

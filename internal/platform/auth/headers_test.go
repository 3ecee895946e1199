package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGatewayHeadersAuthenticator_AcceptsSignedRequest(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	authn := &GatewayHeadersAuthenticator{Secret: "s3cret", MaxSkew: 5 * time.Minute, Now: func() time.Time { return now }}

	req := httptest.NewRequest(http.MethodPost, "http://example.test/runs/r1/results", nil)
	req.Header.Set("X-Request-Id", "rid-1")
	if err := SignRequest(req, "s3cret", now, Identity{Subject: "alice", Email: "alice@example.test", Roles: []string{"runner"}}); err != nil {
		t.Fatalf("SignRequest() err=%v", err)
	}

	identity, err := authn.Authenticate(context.Background(), req)
	if err != nil {
		t.Fatalf("Authenticate() err=%v", err)
	}
	if identity.Subject != "alice" || len(identity.Roles) != 1 || identity.Roles[0] != "runner" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
}

func TestGatewayHeadersAuthenticator_RejectsTamperedPath(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	authn := &GatewayHeadersAuthenticator{Secret: "s3cret", MaxSkew: 5 * time.Minute, Now: func() time.Time { return now }}

	req := httptest.NewRequest(http.MethodPost, "http://example.test/runs/r1/results", nil)
	if err := SignRequest(req, "s3cret", now, Identity{Subject: "alice", Roles: []string{"runner"}}); err != nil {
		t.Fatalf("SignRequest() err=%v", err)
	}
	req.URL.Path = "/runs/r1/close"

	if _, err := authn.Authenticate(context.Background(), req); err == nil {
		t.Fatalf("expected signature failure")
	}
}

func TestGatewayHeadersAuthenticator_MissingHeaders(t *testing.T) {
	authn := &GatewayHeadersAuthenticator{Secret: "s3cret"}
	req := httptest.NewRequest(http.MethodGet, "http://example.test/runs/r1", nil)
	if _, err := authn.Authenticate(context.Background(), req); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("err=%v, want ErrUnauthenticated", err)
	}
}

func TestVerifyTimestamp(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	if err := VerifyTimestamp("1700000000", now, 5*time.Minute); err != nil {
		t.Fatalf("VerifyTimestamp() err=%v", err)
	}
	if err := VerifyTimestamp("1690000000", now, 5*time.Minute); err == nil {
		t.Fatalf("expected timestamp to be rejected")
	}
	if err := VerifyTimestamp("soon", now, 5*time.Minute); err == nil {
		t.Fatalf("expected parse error")
	}
}

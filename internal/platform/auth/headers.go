package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/quickrail-labs/quickrail-go/internal/platform/requestid"
)

const (
	HeaderSubject = "X-Quickrail-Subject"
	HeaderEmail   = "X-Quickrail-Email"
	HeaderRoles   = "X-Quickrail-Roles"

	HeaderAuthTimestamp = "X-Quickrail-Auth-Ts"
	HeaderAuthSignature = "X-Quickrail-Auth-Sig"
)

// GatewayHeadersAuthenticator accepts identity headers only when they carry
// an HMAC signature over the request line and identity, within MaxSkew.
type GatewayHeadersAuthenticator struct {
	Secret  string
	MaxSkew time.Duration
	Now     func() time.Time
}

func NewGatewayHeadersAuthenticator(cfg Config) (*GatewayHeadersAuthenticator, error) {
	if strings.TrimSpace(cfg.HeaderSecret) == "" {
		return nil, errors.New("RUNENGINE_INTERNAL_AUTH_SECRET is required")
	}
	return &GatewayHeadersAuthenticator{
		Secret:  cfg.HeaderSecret,
		MaxSkew: cfg.HeaderMaxSkew,
		Now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

func (a *GatewayHeadersAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	subject := strings.TrimSpace(r.Header.Get(HeaderSubject))
	if subject == "" {
		return Identity{}, ErrUnauthenticated
	}
	email := strings.TrimSpace(r.Header.Get(HeaderEmail))
	rolesRaw := strings.TrimSpace(r.Header.Get(HeaderRoles))

	ts := strings.TrimSpace(r.Header.Get(HeaderAuthTimestamp))
	sig := strings.TrimSpace(r.Header.Get(HeaderAuthSignature))
	if ts == "" || sig == "" {
		return Identity{}, ErrUnauthenticated
	}

	now := time.Now().UTC()
	if a.Now != nil {
		now = a.Now()
	}
	if err := VerifyTimestamp(ts, now, a.MaxSkew); err != nil {
		return Identity{}, err
	}
	canonical := canonicalRequest(ts, r.Method, r.URL.Path, r.Header.Get(requestid.Header), subject, email, rolesRaw)
	if err := VerifySignature(a.Secret, canonical, sig); err != nil {
		return Identity{}, err
	}

	return Identity{
		Subject: subject,
		Email:   email,
		Roles:   parseCSV(rolesRaw),
	}, nil
}

// SignRequest sets the identity and signature headers on r. Gateways and
// tests use it to produce requests the authenticator accepts.
func SignRequest(r *http.Request, secret string, now time.Time, identity Identity) error {
	ts := strconv.FormatInt(now.Unix(), 10)
	roles := strings.Join(identity.Roles, ",")
	sig, err := ComputeSignature(secret, canonicalRequest(ts, r.Method, r.URL.Path, r.Header.Get(requestid.Header), identity.Subject, identity.Email, roles))
	if err != nil {
		return err
	}
	r.Header.Set(HeaderSubject, identity.Subject)
	r.Header.Set(HeaderEmail, identity.Email)
	r.Header.Set(HeaderRoles, roles)
	r.Header.Set(HeaderAuthTimestamp, ts)
	r.Header.Set(HeaderAuthSignature, sig)
	return nil
}

func ComputeSignature(secret string, canonical string) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("internal auth secret is required")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	if _, err := mac.Write([]byte(canonical)); err != nil {
		return "", fmt.Errorf("hmac: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}

func VerifySignature(secret string, canonical string, signature string) error {
	expected, err := ComputeSignature(secret, canonical)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signature))) {
		return errors.New("invalid signature")
	}
	return nil
}

func VerifyTimestamp(ts string, now time.Time, maxSkew time.Duration) error {
	parsed, err := strconv.ParseInt(strings.TrimSpace(ts), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp: %w", err)
	}
	if maxSkew <= 0 {
		return nil
	}
	tsTime := time.Unix(parsed, 0).UTC()
	if tsTime.After(now.Add(maxSkew)) || tsTime.Before(now.Add(-maxSkew)) {
		return errors.New("timestamp outside allowed skew")
	}
	return nil
}

func canonicalRequest(ts, method, path, requestID, subject, email, roles string) string {
	return strings.Join([]string{
		strings.TrimSpace(ts),
		strings.ToUpper(strings.TrimSpace(method)),
		strings.TrimSpace(path),
		strings.TrimSpace(requestID),
		strings.TrimSpace(subject),
		strings.TrimSpace(email),
		strings.TrimSpace(roles),
	}, "\n")
}

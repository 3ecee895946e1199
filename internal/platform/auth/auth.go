package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quickrail-labs/quickrail-go/internal/platform/env"
)

type Mode string

const (
	// ModeHeaders trusts identity headers signed by the fronting gateway.
	ModeHeaders Mode = "headers"
	// ModeOIDC verifies bearer ID tokens against an OIDC issuer.
	ModeOIDC Mode = "oidc"
	// ModeDev injects a fixed identity. Local use only.
	ModeDev Mode = "dev"
)

var ErrUnauthenticated = errors.New("unauthenticated")

type Config struct {
	Mode Mode

	HeaderSecret  string
	HeaderMaxSkew time.Duration

	RolesClaim    string
	EmailClaim    string
	OIDCIssuerURL string
	OIDCClientID  string

	DevSubject string
	DevEmail   string
	DevRoles   []string
}

func ConfigFromEnv() (Config, error) {
	modeRaw, err := env.Choice("RUNENGINE_AUTH_MODE", string(ModeHeaders), string(ModeHeaders), string(ModeOIDC), string(ModeDev))
	if err != nil {
		return Config{}, err
	}
	maxSkew, err := env.Duration("RUNENGINE_AUTH_MAX_SKEW", 5*time.Minute)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Mode:          Mode(modeRaw),
		HeaderSecret:  env.String("RUNENGINE_INTERNAL_AUTH_SECRET", ""),
		HeaderMaxSkew: maxSkew,
		RolesClaim:    env.String("AUTH_ROLES_CLAIM", "roles"),
		EmailClaim:    env.String("AUTH_EMAIL_CLAIM", "email"),
		OIDCIssuerURL: env.String("OIDC_ISSUER_URL", ""),
		OIDCClientID:  env.String("OIDC_CLIENT_ID", ""),
		DevSubject:    env.String("DEV_AUTH_SUBJECT", "dev-operator"),
		DevEmail:      env.String("DEV_AUTH_EMAIL", "dev-operator@example.local"),
		DevRoles:      parseCSV(env.String("DEV_AUTH_ROLES", RoleAdmin)),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeHeaders:
		if strings.TrimSpace(c.HeaderSecret) == "" {
			return errors.New("RUNENGINE_INTERNAL_AUTH_SECRET is required when RUNENGINE_AUTH_MODE=headers")
		}
	case ModeOIDC:
		if strings.TrimSpace(c.OIDCIssuerURL) == "" {
			return errors.New("OIDC_ISSUER_URL is required when RUNENGINE_AUTH_MODE=oidc")
		}
		if strings.TrimSpace(c.OIDCClientID) == "" {
			return errors.New("OIDC_CLIENT_ID is required when RUNENGINE_AUTH_MODE=oidc")
		}
		if strings.TrimSpace(c.RolesClaim) == "" {
			return errors.New("AUTH_ROLES_CLAIM is required")
		}
	case ModeDev:
		if strings.TrimSpace(c.DevSubject) == "" {
			return errors.New("DEV_AUTH_SUBJECT is required when RUNENGINE_AUTH_MODE=dev")
		}
		if len(c.DevRoles) == 0 {
			return errors.New("DEV_AUTH_ROLES must be non-empty when RUNENGINE_AUTH_MODE=dev")
		}
	default:
		return fmt.Errorf("unsupported auth mode: %q", c.Mode)
	}
	return nil
}

func parseCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		item := strings.ToLower(strings.TrimSpace(part))
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}

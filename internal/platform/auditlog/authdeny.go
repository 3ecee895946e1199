package auditlog

import (
	"context"
	"net"
	"strings"

	"github.com/quickrail-labs/quickrail-go/internal/platform/auth"
)

// AuthDenyFunc adapts an appender to the auth middleware's deny hook.
func AuthDenyFunc(appender interface {
	Append(context.Context, Event) error
}, service string) auth.AuditFunc {
	return func(ctx context.Context, event auth.DenyEvent) error {
		return appender.Append(ctx, AuthDenyEvent(service, event))
	}
}

func AuthDenyEvent(service string, event auth.DenyEvent) Event {
	actor := "anonymous"
	if strings.TrimSpace(event.Subject) != "" {
		actor = strings.TrimSpace(event.Subject)
	}
	var ip net.IP
	if host, _, err := net.SplitHostPort(event.RemoteAddr); err == nil {
		ip = net.ParseIP(host)
	}
	return Event{
		OccurredAt:   event.Time,
		Actor:        actor,
		Action:       "auth." + strings.TrimSpace(event.Reason),
		ResourceType: "http",
		ResourceID:   event.Method + " " + event.Path,
		RequestID:    event.RequestID,
		IP:           ip,
		UserAgent:    event.UserAgent,
		Payload: map[string]any{
			"service": service,
			"status":  event.Status,
			"reason":  event.Reason,
			"error":   event.Error,
			"roles":   event.Roles,
		},
	}
}

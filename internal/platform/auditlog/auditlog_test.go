package auditlog

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/quickrail-labs/quickrail-go/internal/platform/auth"
)

func TestComputeIntegritySHA256_Deterministic(t *testing.T) {
	event := Event{
		OccurredAt:   time.Unix(1700000000, 0).UTC(),
		Actor:        "alice",
		Action:       "result.recorded",
		ResourceType: "result",
		ResourceID:   "e-1",
		RequestID:    "req-123",
		IP:           net.ParseIP("192.0.2.1"),
	}
	payload := []byte(`{"run_id":"r1","outcome":"pass"}`)

	a, err := ComputeIntegritySHA256(event, payload)
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	b, err := ComputeIntegritySHA256(event, payload)
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	if a != b {
		t.Fatalf("integrity mismatch: %q vs %q", a, b)
	}

	c, err := ComputeIntegritySHA256(event, []byte(`{"run_id":"r1","outcome":"fail"}`))
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	if a == c {
		t.Fatalf("expected integrity to change with payload")
	}
}

func TestInsertQueryReturnsID(t *testing.T) {
	if !strings.Contains(insertEventQuery, "RETURNING event_id") {
		t.Fatalf("expected RETURNING clause in insert query")
	}
	if !strings.Contains(insertEventQuery, "$10") {
		t.Fatalf("expected ten placeholders in insert query")
	}
}

func TestLogAppenderValidates(t *testing.T) {
	if err := (LogAppender{}).Append(context.Background(), Event{Actor: "a"}); err == nil {
		t.Fatalf("expected validation error")
	}
	err := (LogAppender{}).Append(context.Background(), Event{
		Actor:        "alice",
		Action:       "run.closed",
		ResourceType: "run",
		ResourceID:   "r1",
	})
	if err != nil {
		t.Fatalf("Append() err=%v", err)
	}
}

func TestAuthDenyEvent(t *testing.T) {
	event := AuthDenyEvent("runengine", auth.DenyEvent{
		Time:       time.Unix(1700000000, 0).UTC(),
		Status:     403,
		Reason:     "forbidden",
		Method:     "POST",
		Path:       "/runs/r1/close",
		RemoteAddr: "192.0.2.10:5555",
	})
	if event.Actor != "anonymous" {
		t.Fatalf("Actor=%q, want anonymous", event.Actor)
	}
	if event.Action != "auth.forbidden" || event.ResourceID != "POST /runs/r1/close" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.IP.String() != "192.0.2.10" {
		t.Fatalf("IP=%v", event.IP)
	}
	if err := event.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
}

package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.CacheLookup("l1", "hit", 3)
	m.CacheEvicted(1)
	m.TranslationFailed("provider_error")
	m.ProviderCall("ko", "en", time.Second, nil)
	m.ResultSubmitted("appended")
	m.SlotRefreshed("ok")
}

func TestRecorders(t *testing.T) {
	_, m := NewRegistry()

	m.CacheLookup("l2", "miss", 2)
	m.CacheLookup("l2", "miss", 0)
	m.ProviderCall("ko", "en", 250*time.Millisecond, errors.New("timeout"))
	m.ResultSubmitted("superseded")
	m.ResultSubmitted("superseded")

	if got := testutil.ToFloat64(m.TranslationLookups.WithLabelValues("l2", "miss")); got != 2 {
		t.Fatalf("lookups=%v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ProviderCalls.WithLabelValues("ko", "en", "false")); got != 1 {
		t.Fatalf("provider failures=%v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ResultSubmissions.WithLabelValues("superseded")); got != 2 {
		t.Fatalf("superseded=%v, want 2", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	reg, m := NewRegistry()
	m.SlotRefreshed("ok")

	rec := httptest.NewRecorder()
	HandlerFor(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "runengine_slot_refreshes_total") {
		t.Fatalf("expected slot refresh metric in output")
	}
}

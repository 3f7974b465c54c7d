package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func scrape(t *testing.T, m *Metrics, update func()) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler(update).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestMetrics_exposition(t *testing.T) {
	m := New()
	m.RoomSessionOpened()
	m.RoomSessionOpened()
	m.RoomSessionClosed()
	m.TunnelOpened()
	m.ObserveSelection("FromSchedule", false)
	m.ObserveSelection("Random", true)
	m.AddTrackEventsForwarded(3)

	body := scrape(t, m, func() { m.SetRosterCacheEntries(7) })

	for _, want := range []string{
		"gateway_room_sessions 1",
		"gateway_tunnels 1",
		`gateway_sfu_selections_total{outcome="failed",strategy="FromSchedule"} 1`,
		`gateway_sfu_selections_total{outcome="selected",strategy="Random"} 1`,
		"gateway_track_events_forwarded_total 3",
		"gateway_roster_cache_entries 7",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

func TestRequestMiddleware(t *testing.T) {
	m := New()
	h := RequestMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad" {
			http.Error(w, "bad", http.StatusBadGateway)
		}
	}))

	for _, path := range []string{"/ok", "/bad", "/ok"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	body := scrape(t, m, nil)
	if !strings.Contains(body, "gateway_requests_total 3") || !strings.Contains(body, "gateway_errors_total 1") {
		t.Errorf("unexpected scrape:\n%s", body)
	}
}

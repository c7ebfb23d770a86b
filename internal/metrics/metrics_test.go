package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.ObserveEvent("seek", OutcomeOK)
	m.ObserveEvent("seek", OutcomeOK)
	m.ObserveEvent("seek", OutcomeDropped)
	m.ObserveRequest(200)
	m.ObserveRequest(404)
	m.AddPurgedFiles(3)
	m.AddPurgedFiles(0)

	body := scrape(t, m)
	assert.Contains(t, body, `castroom_events_total{event="seek",outcome="ok"} 2`)
	assert.Contains(t, body, `castroom_events_total{event="seek",outcome="dropped"} 1`)
	assert.Contains(t, body, "castroom_http_requests_total 2")
	assert.Contains(t, body, "castroom_http_errors_total 1")
	assert.Contains(t, body, "castroom_hls_purged_files_total 3")
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveEvent("x", OutcomeOK)
		m.ObserveRequest(500)
		m.IncTranscodeFailures()
		m.AddPurgedFiles(1)
		m.SetActiveSessions(1)
		m.SetActiveTranscodes(1)
		m.SetConnections(1)
	})
}

func TestMetrics_HandlerRefreshesGauges(t *testing.T) {
	m := New()
	srv := httptest.NewServer(m.Handler(func() {
		m.SetActiveSessions(4)
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "castroom_active_sessions 4")
}

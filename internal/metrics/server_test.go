package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerExposesMetrics(t *testing.T) {
	AlertsTotal.Inc()
	EventsTotal.WithLabelValues("alerted").Inc()

	srv := httptest.NewServer(NewServer(":0", nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "filings_monitor_pipeline_alerts_total"))
	assert.True(t, strings.Contains(string(body), `filings_monitor_pipeline_events_total{outcome="alerted"}`))
}

func TestServerHealthz(t *testing.T) {
	srv := httptest.NewServer(NewServer(":0", nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

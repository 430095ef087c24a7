package obs_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aussiebroadwan/handshake/pkg/obs"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func family(t *testing.T, m *obs.Metrics, name string) *dto.MetricFamily {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	t.Fatalf("metric %s not gathered", name)
	return nil
}

func TestCounters(t *testing.T) {
	m := obs.New()
	m.StageTransition("Init", "ChallengePending")
	m.StageTransition("Init", "ChallengePending")
	m.Rejection("StageMismatch")
	m.EventsEmitted(1000)
	m.StageFailed("Uploading", "ChecksumMismatch")

	f := family(t, m, "handshake_stage_transitions_total")
	require.Len(t, f.GetMetric(), 1)
	require.Equal(t, 2.0, f.GetMetric()[0].GetCounter().GetValue())

	f = family(t, m, "handshake_events_emitted_total")
	require.Equal(t, 1000.0, f.GetMetric()[0].GetCounter().GetValue())

	f = family(t, m, "handshake_rejections_total")
	require.Equal(t, "StageMismatch", f.GetMetric()[0].GetLabel()[0].GetValue())

	f = family(t, m, "handshake_stage_failures_total")
	require.Equal(t, 1.0, f.GetMetric()[0].GetCounter().GetValue())
}

func TestInstrumentUsesPattern(t *testing.T) {
	m := obs.New()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/uploads/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := m.Instrument(mux)

	for _, id := range []string{"a", "b", "c"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/uploads/"+id, nil))
	}

	f := family(t, m, "handshake_http_request_duration_seconds")
	require.Len(t, f.GetMetric(), 1, "one series per route pattern")
	require.Equal(t, uint64(3), f.GetMetric()[0].GetHistogram().GetSampleCount())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Contains(t, rec.Body.String(), `route="GET /v1/uploads/{id}"`)
	require.Contains(t, rec.Body.String(), `code="418"`)
}

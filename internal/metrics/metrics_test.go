package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	m := New()

	m.RecordSynthesis(OutcomeOK)
	m.RecordSynthesis(OutcomeOK)
	m.RecordSynthesis(OutcomeUnauthorized)
	m.ObserveUpstream(true, 0.4)
	m.AddAudioBytes(2048)
	m.AddAudioBytes(-1)
	m.RecordStudioAction("generate", nil)
	m.RecordStudioAction("generate", errors.New("no key"))
	m.SetStudioSessions(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.synthRequests.WithLabelValues(OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.synthRequests.WithLabelValues(OutcomeUnauthorized)))
	assert.Equal(t, 2048.0, testutil.ToFloat64(m.audioBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.studioActions.WithLabelValues("generate", "rejected")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.studioSessions))
}

func TestInstancesDoNotCollide(t *testing.T) {
	assert.NotPanics(t, func() {
		New()
		New()
	})
}

func TestHandlers(t *testing.T) {
	m := New()
	m.RecordSynthesis(OutcomeMissingText)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `voiceforge_tts_requests_total{outcome="missing_text"} 1`))

	rec = httptest.NewRecorder()
	HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.JSONEq(t, `{"status":"ok","service":"voiceforge"}`, rec.Body.String())
}

package logmonitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/triage-service/internal/config"
	"github.com/spec-kit/triage-service/internal/domain"
	apperrors "github.com/spec-kit/triage-service/pkg/util/errorutil"
)

func newServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.AnalysisConfig{LogMonitorURL: srv.URL, TimeoutSeconds: 1}, nil)
}

var sampleRequest = domain.AnalysisRequest{
	TicketID:         "42",
	TicketNumber:     "2024042",
	Title:            "Billing API down",
	TicketText:       "Subject: Billing API down\n---\nBody:\n500 everywhere",
	Entity:           "billing-api",
	InitialDiagnosis: "Service outage",
}

func TestAnalyzeSendsPayloadAndParsesReport(t *testing.T) {
	var received map[string]any
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/analyze-incident", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_, _ = w.Write([]byte(`{
			"logs_encontrados": 3,
			"diagnosticos": [{"log": {"mensaje": "OOMKilled"}, "diagnostico": {"tipo_error": "Memory", "severidad": "HIGH", "resumen": "Pod out of memory", "recomendacion": "Raise limits"}}],
			"mensaje_resumen": "Raise memory limits"
		}`))
	})

	report, err := client.Analyze(context.Background(), sampleRequest)

	require.NoError(t, err)
	assert.Equal(t, "billing-api", received["entity"])
	assert.Equal(t, "Service outage", received["diagnostico_inicial"])
	assert.Equal(t, 3, report.LogsFound)
	require.Len(t, report.Findings, 1)
	assert.Equal(t, "OOMKilled", report.Findings[0].Message)
	assert.Equal(t, "Raise limits", report.Findings[0].Recommendation)
	assert.Equal(t, "Raise memory limits", report.Summary)
}

func TestAnalyzeServerErrorIsRetryable(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.Analyze(context.Background(), sampleRequest)

	assert.ErrorIs(t, err, apperrors.ErrUpstreamUnavailable)
	assert.True(t, apperrors.IsRetryable(err))
}

func TestAnalyzeTimeoutIsRetryable(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(1500 * time.Millisecond)
	})

	_, err := client.Analyze(context.Background(), sampleRequest)

	assert.True(t, apperrors.IsRetryable(err))
}

func TestAnalyzeGarbageIsMalformed(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>oops</html>`))
	})

	_, err := client.Analyze(context.Background(), sampleRequest)

	assert.ErrorIs(t, err, apperrors.ErrMalformedResponse)
	assert.False(t, apperrors.IsRetryable(err))
}

func TestAnalyzeMissingCountIsMalformed(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"diagnosticos": []}`))
	})

	_, err := client.Analyze(context.Background(), sampleRequest)

	assert.ErrorIs(t, err, apperrors.ErrMalformedResponse)
}

func TestAnalyzeWithoutURLIsUnavailable(t *testing.T) {
	client := NewClient(config.AnalysisConfig{}, nil)

	_, err := client.Analyze(context.Background(), sampleRequest)

	assert.ErrorIs(t, err, apperrors.ErrUpstreamUnavailable)
}

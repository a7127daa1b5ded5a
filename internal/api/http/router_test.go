package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/triage-service/internal/api/http/handlers"
	"github.com/spec-kit/triage-service/internal/auth"
	"github.com/spec-kit/triage-service/internal/config"
	"github.com/spec-kit/triage-service/internal/domain"
	"github.com/spec-kit/triage-service/internal/observability"
	"github.com/spec-kit/triage-service/internal/persistence"
	"github.com/spec-kit/triage-service/internal/service"
	"github.com/spec-kit/triage-service/internal/worker"
	apperrors "github.com/spec-kit/triage-service/pkg/util/errorutil"
)

type fakeTriager struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeTriager) Handle(_ context.Context, ticketID string) (*service.TriageResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ticketID)
	if f.err != nil {
		return nil, f.err
	}
	return &service.TriageResult{
		TicketID:   ticketID,
		Status:     "answered",
		TicketType: domain.TicketTypeQuestion,
		Route:      domain.RouteRespondInline,
	}, nil
}

func (f *fakeTriager) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type fakePool struct{ stats worker.PoolStats }

func (p fakePool) Stats() worker.PoolStats { return p.stats }

type testServer struct {
	app     *fiber.App
	triager *fakeTriager
	tokens  *auth.TokenManager
}

func newTestServer(t *testing.T, authCfg config.AuthConfig, deps map[string]handlers.Pinger) *testServer {
	t.Helper()
	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(logger, metrics)})
	RegisterMiddlewares(app, logger, metrics, time.Second)

	triager := &fakeTriager{}
	tokens := auth.NewTokenManager(authCfg.JWTSecret, 5)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("triage-service", "test", deps, fakePool{stats: worker.PoolStats{Workers: 2, Capacity: 4}}),
		Webhook:        handlers.NewWebhookHandler(triager, logger),
		History:        handlers.NewHistoryHandler(nil, nil),
		AuthMiddleware: auth.NewAuthMiddleware(tokens, authCfg),
		Metrics:        metrics,
	})
	return &testServer{app: app, triager: triager, tokens: tokens}
}

func (s *testServer) do(t *testing.T, method, target, body string, headers map[string]string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func errorCode(body map[string]any) string {
	errBody, _ := body["error"].(map[string]any)
	code, _ := errBody["code"].(string)
	return code
}

func TestWebhookExtractsTicketID(t *testing.T) {
	cases := []struct {
		name   string
		method string
		target string
		body   string
		want   string
	}{
		{"event envelope", fiber.MethodPost, WebhookPath, `{"Event":{"TicketID":"42"},"TicketID":"1"}`, "42"},
		{"ticket envelope", fiber.MethodPost, WebhookPath, `{"Ticket":{"TicketID":77}}`, "77"},
		{"top level number", fiber.MethodPut, WebhookPath, `{"TicketID":9}`, "9"},
		{"query parameter", fiber.MethodGet, WebhookPath + "?TicketID=15", "", "15"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(t, config.AuthConfig{}, nil)
			status, body := srv.do(t, tc.method, tc.target, tc.body, nil)

			assert.Equal(t, fiber.StatusOK, status)
			assert.Equal(t, tc.want, body["ticket_id"])
			assert.Equal(t, "answered", body["status"])
			assert.Equal(t, []string{tc.want}, srv.triager.received())
		})
	}
}

func TestWebhookRejectsMissingTicketID(t *testing.T) {
	srv := newTestServer(t, config.AuthConfig{}, nil)

	status, body := srv.do(t, fiber.MethodPost, WebhookPath, `{"Event":{"Event":"TicketCreate"}}`, nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, apperrors.CodeValidation, errorCode(body))

	status, _ = srv.do(t, fiber.MethodPost, WebhookPath, `{not json`, nil)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = srv.do(t, fiber.MethodPost, WebhookPath, `{"TicketID":"12;drop"}`, nil)
	assert.Equal(t, fiber.StatusBadRequest, status)

	assert.Empty(t, srv.triager.received())
}

func TestWebhookMapsTriageErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"missing ticket", apperrors.NewNotFound("ticket", nil), fiber.StatusNotFound, apperrors.CodeNotFound},
		{"platform down", apperrors.NewUpstreamUnavailable("znuny", errors.New("refused")), fiber.StatusBadGateway, apperrors.CodeUpstreamUnavailable},
		{"unexpected", errors.New("boom"), fiber.StatusInternalServerError, apperrors.CodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(t, config.AuthConfig{}, nil)
			srv.triager.err = tc.err

			status, body := srv.do(t, fiber.MethodPost, WebhookPath, `{"TicketID":"5"}`, nil)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.code, errorCode(body))
		})
	}
}

func TestWebhookRequiresCredentialsWhenConfigured(t *testing.T) {
	srv := newTestServer(t, config.AuthConfig{JWTSecret: "s3cret"}, nil)

	status, _ := srv.do(t, fiber.MethodPost, WebhookPath, `{"TicketID":"5"}`, nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	token, _, err := srv.tokens.GenerateToken("znuny", auth.ScopeWebhook)
	require.NoError(t, err)
	status, _ = srv.do(t, fiber.MethodPost, WebhookPath, `{"TicketID":"5"}`,
		map[string]string{fiber.HeaderAuthorization: "Bearer " + token})
	assert.Equal(t, fiber.StatusOK, status)
}

func TestOpsRoutesNeedOpsScope(t *testing.T) {
	srv := newTestServer(t, config.AuthConfig{JWTSecret: "s3cret"}, nil)

	webhookToken, _, err := srv.tokens.GenerateToken("znuny", auth.ScopeWebhook)
	require.NoError(t, err)
	status, _ := srv.do(t, fiber.MethodGet, "/ops/tickets/5/history", "",
		map[string]string{fiber.HeaderAuthorization: "Bearer " + webhookToken})
	assert.Equal(t, fiber.StatusForbidden, status)

	opsToken, _, err := srv.tokens.GenerateToken("oncall", auth.ScopeOps)
	require.NoError(t, err)
	status, body := srv.do(t, fiber.MethodGet, "/ops/tickets/5/history", "",
		map[string]string{fiber.HeaderAuthorization: "Bearer " + opsToken})
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.Equal(t, apperrors.CodeUpstreamUnavailable, errorCode(body))
}

func TestHealthReadiness(t *testing.T) {
	t.Run("disabled dependencies stay ready", func(t *testing.T) {
		srv := newTestServer(t, config.AuthConfig{}, map[string]handlers.Pinger{
			"postgres": fakePinger{err: persistence.ErrNotConfigured},
			"redis":    fakePinger{},
		})
		status, body := srv.do(t, fiber.MethodGet, "/health/ready", "", nil)

		assert.Equal(t, fiber.StatusOK, status)
		assert.Equal(t, "ready", body["status"])
		deps := body["dependencies"].(map[string]any)
		assert.Equal(t, "disabled", deps["postgres"])
		assert.Equal(t, "ok", deps["redis"])
		assert.Contains(t, body, "delegation_pool")
	})

	t.Run("failing dependency", func(t *testing.T) {
		srv := newTestServer(t, config.AuthConfig{}, map[string]handlers.Pinger{
			"redis": fakePinger{err: errors.New("connection refused")},
		})
		status, body := srv.do(t, fiber.MethodGet, "/health/ready", "", nil)

		assert.Equal(t, fiber.StatusServiceUnavailable, status)
		assert.Equal(t, "DEPENDENCY_UNAVAILABLE", errorCode(body))
	})
}

func TestMetricsAndRequestID(t *testing.T) {
	srv := newTestServer(t, config.AuthConfig{}, nil)
	srv.do(t, fiber.MethodGet, "/health/live", "", nil)

	req := httptest.NewRequest(fiber.MethodGet, "/metrics", nil)
	resp, err := srv.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "triage_http_requests_total")
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))
}

func TestUnknownRouteRendersErrorEnvelope(t *testing.T) {
	srv := newTestServer(t, config.AuthConfig{}, nil)
	status, body := srv.do(t, fiber.MethodGet, "/nope", "", nil)

	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, apperrors.CodeNotFound, errorCode(body))
}

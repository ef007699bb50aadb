package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/movement-intake/internal/clock"
	httpmiddleware "github.com/wolfman30/movement-intake/internal/http/middleware"
	"github.com/wolfman30/movement-intake/internal/intake"
	"github.com/wolfman30/movement-intake/internal/leads"
	"github.com/wolfman30/movement-intake/internal/llm"
	"github.com/wolfman30/movement-intake/internal/observability/metrics"
	"github.com/wolfman30/movement-intake/internal/persona"
	"github.com/wolfman30/movement-intake/internal/session"
	"github.com/wolfman30/movement-intake/internal/storage"
	"github.com/wolfman30/movement-intake/internal/webchat"
	"github.com/wolfman30/movement-intake/pkg/logging"
)

const adminSecret = "test-secret"

func newTestRouter(t *testing.T, checks map[string]HealthCheck) http.Handler {
	t.Helper()
	logger := logging.Discard()

	reg := prometheus.NewRegistry()
	m := metrics.NewIntakeMetrics(reg)
	profile, err := persona.LoadBuiltin("intake")
	require.NoError(t, err)
	model := llm.ClientFunc(func(context.Context, llm.Request) (llm.Response, error) {
		return llm.Response{Text: "Let's get you booked."}, nil
	})
	leadSvc := leads.NewService(leads.NewInMemoryRepository(), nil, 60, logger)
	orch, err := intake.New(intake.Options{Model: model, Profile: profile, Logger: logger, Metrics: m, Leads: leadSvc})
	require.NoError(t, err)

	chat := webchat.NewHandler(orch, session.Deps{Store: storage.NewMemoryStore(), Logger: logger, Metrics: m}, logger)

	return New(&Config{
		Logger:             logger,
		WebChat:            chat,
		LeadsHandler:       leads.NewHandler(leadSvc, logger),
		AdminAuthSecret:    adminSecret,
		MetricsHandler:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		CORSAllowedOrigins: []string{"https://studio.example"},
		RateLimiter:        httpmiddleware.NewRateLimiter(100, 100, clock.System()),
		HealthChecks:       checks,
	})
}

func adminToken(t *testing.T) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "coach",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	signed, err := token.SignedString([]byte(adminSecret))
	require.NoError(t, err)
	return signed
}

func serve(router http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, map[string]HealthCheck{
		"store": func(context.Context) error { return nil },
	})

	rr := serve(router, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "ok", resp["store"])
}

func TestRouterHealthDegraded(t *testing.T) {
	router := newTestRouter(t, map[string]HealthCheck{
		"database": func(context.Context) error { return errors.New("connection refused") },
	})

	rr := serve(router, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "connection refused")
}

func TestRouterWidgetFlowFeedsAdminAndMetrics(t *testing.T) {
	router := newTestRouter(t, nil)

	rr := serve(router, http.MethodPost, "/widget/sessions", `{"visitor_id":"v1","page_path":"/contact"}`, "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = serve(router, http.MethodPost, "/widget/sessions/v1/messages", `{"text":"my back hurts, I'm 58, reach me at pat@example.com"}`, "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = serve(router, http.MethodGet, "/admin/leads", "", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = serve(router, http.MethodGet, "/admin/leads", "", adminToken(t))
	require.Equal(t, http.StatusOK, rr.Code)
	var list leads.ListLeadsResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "pat@example.com", list.Leads[0].Email)
	assert.Equal(t, "contact", list.Leads[0].PageContext)

	rr = serve(router, http.MethodGet, "/admin/sessions/v1", "", adminToken(t))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"sessionId"`)

	rr = serve(router, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `intake_conversation_turns_total{outcome="replied"} 1`)
}

func TestRouterCORSPreflight(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/widget/sessions", nil)
	req.Header.Set("Origin", "https://studio.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "https://studio.example", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouterAdminDisabledWithoutSecret(t *testing.T) {
	router := New(&Config{Logger: logging.Discard()})
	rr := serve(router, http.MethodGet, "/admin/leads", "", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

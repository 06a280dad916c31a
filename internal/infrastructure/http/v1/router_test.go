package v1

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hybridauth/internal/infrastructure/http/v1/middleware"
	"hybridauth/internal/infrastructure/metrics"
	"hybridauth/pkg/logger"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return NewRouter(RouterConfig{
		Logger:  logger.Nop(),
		Gate:    &middleware.Gate{Logger: logger.Nop()},
		Metrics: metrics.NewRegistry(),
		Version: "test",
	})
}

func serve(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Code
}

func TestLiveness(t *testing.T) {
	r := newTestRouter(t)

	w := serve(r, http.MethodGet, "/health/live", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	r := newTestRouter(t)
	serve(r, http.MethodGet, "/health/live", "")

	w := serve(r, http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "hybridauth_http_requests_total")
}

func TestPublicAuthRoutesValidateBody(t *testing.T) {
	r := newTestRouter(t)

	for _, path := range []string{
		"/api/v1/auth/login",
		"/api/v1/auth/register",
		"/api/v1/auth/refresh",
		"/api/v1/auth/magic-link",
	} {
		w := serve(r, http.MethodPost, path, `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
		assert.Equal(t, "VALIDATION_ERROR", errorCode(t, w), path)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	r := newTestRouter(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/auth/me"},
		{http.MethodGet, "/api/v1/tenants/mine"},
		{http.MethodPost, "/api/v1/gdpr/export"},
		{http.MethodGet, "/api/v1/tenants/acme"},
		{http.MethodGet, "/api/v1/t/acme/users"},
		{http.MethodGet, "/api/v1/t/acme/roles"},
		{http.MethodGet, "/api/v1/t/acme/analytics"},
		{http.MethodGet, "/api/v1/t/acme/webhooks"},
		{http.MethodGet, "/api/v1/t/acme/gdpr/requests"},
	} {
		w := serve(r, tc.method, tc.path, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code, tc.path)
		assert.Equal(t, "UNAUTHENTICATED", errorCode(t, w), tc.path)
	}
}

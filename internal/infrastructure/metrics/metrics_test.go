package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateMetrics(t *testing.T) {
	m := NewGateMetrics(prometheus.NewRegistry())

	m.Rejected("missing_token")
	m.Rejected("missing_token")
	m.Rejected("no_tenant_access")
	m.Allowed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.rejections.WithLabelValues("missing_token")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.requests.WithLabelValues(OutcomeRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues(OutcomeAllowed)))

	m.ScopeActivated("acme")
	m.ScopeActivated("globex")
	m.ScopeDeactivated("acme")
	assert.Equal(t, int64(2), m.Activations())
	assert.Equal(t, int64(1), m.Deactivations())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.active))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.activations))
}

func TestHandlerExposesCollectors(t *testing.T) {
	reg := NewRegistry()
	gate := NewGateMetrics(reg)
	httpm := NewHTTPMetrics(reg)

	gate.Rejected("invalid_token")
	httpm.Start()("GET", "/api/v1/me", 200)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `hybridauth_gate_rejections_total{reason="invalid_token"} 1`))
	assert.True(t, strings.Contains(body, `hybridauth_http_requests_total{method="GET",route="/api/v1/me",status="200"} 1`))
	assert.True(t, strings.Contains(body, "go_goroutines"))
	assert.Equal(t, 0.0, testutil.ToFloat64(httpm.inFlight))
}

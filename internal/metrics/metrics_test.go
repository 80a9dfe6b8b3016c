package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestNew_IndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.TicksProcessed.Inc()

	assert.Contains(t, scrape(t, a), "polysniper_ticks_processed_total 1")
	assert.Contains(t, scrape(t, b), "polysniper_ticks_processed_total 0")
}

func TestMetrics_MiddlewareUsesRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/trades/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/trades/42", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)

	assert.Contains(t, scrape(t, m),
		`polysniper_http_requests_total{method="GET",route="/api/trades/{id}",status="418"} 1`)
}

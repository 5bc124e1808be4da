package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPMetricsRecordsRoutePattern(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics, err := NewHTTPMetrics(HTTPMetricsOptions{Registerer: registry})
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(metrics.Handler)
	r.Get("/cloud/desktop/{id}/login", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	for _, id := range []string{"vm-1", "vm-2"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cloud/desktop/"+id+"/login", nil))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	labels := prometheus.Labels{"method": http.MethodGet, "route": "/cloud/desktop/{id}/login", "status": "201"}
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Requests.With(labels)))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.InFlight))
	assert.Positive(t, testutil.CollectAndCount(metrics.Duration))
}

func TestHTTPMetricsReusesRegisteredCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	first, err := NewHTTPMetrics(HTTPMetricsOptions{Registerer: registry})
	require.NoError(t, err)
	second, err := NewHTTPMetrics(HTTPMetricsOptions{Registerer: registry})
	require.NoError(t, err)
	assert.Same(t, first.Requests, second.Requests)
}

func TestHTTPMetricsNilIsPassThrough(t *testing.T) {
	var metrics *HTTPMetrics
	h := metrics.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

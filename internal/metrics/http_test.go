package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRouteLabel(t *testing.T) {
	id := "3f0c5e2a-4b1d-4c7e-9a8f-0d2e6b7c1a90"

	r := httptest.NewRequest("GET", "/api/clients/"+id+"/restore", nil)
	assert.Equal(t, "/api/clients/{id}/restore", routeLabel(r))

	r.Pattern = "POST /api/clients/{id}/restore"
	assert.Equal(t, "/api/clients/{id}/restore", routeLabel(r))

	r = httptest.NewRequest("GET", "/api/clients/not-an-id", nil)
	assert.Equal(t, "/api/clients/not-an-id", routeLabel(r))
}

func TestMiddleware_RecordsMatchedRoute(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /api/clients/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {})

	counter := HTTPRequestsTotal.WithLabelValues("DELETE", "/api/clients/{id}", "202")
	before := testutil.ToFloat64(counter)

	h := Middleware(mux)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("DELETE", "/api/clients/abc", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(counter))

	health := HTTPRequestsTotal.WithLabelValues("GET", "/health", "200")
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/health", nil))
	assert.Zero(t, testutil.ToFloat64(health))
}

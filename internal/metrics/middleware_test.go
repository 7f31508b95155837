// ABOUTME: Tests for the metrics middleware
// ABOUTME: Checks status capture and route labelling through a ServeMux

package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMiddleware_CountsByRouteAndStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/messages/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	handler := Middleware(mux)

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("POST", "POST /api/v1/messages/", "418"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("POST", "POST /api/v1/messages/", "418"))
	assert.Equal(t, before+1, after)
}

func TestMiddleware_ImplicitOK(t *testing.T) {
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("OK"))
	}))

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "200"))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/anything", nil))
	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "200"))
	assert.Equal(t, before+1, after)
}

func TestStatusWriter_Flush(t *testing.T) {
	rec := httptest.NewRecorder()
	w := &statusWriter{ResponseWriter: rec}
	w.Flush()
	assert.True(t, rec.Flushed)
}

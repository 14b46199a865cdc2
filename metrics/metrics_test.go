package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveRedemption(t *testing.T) {
	before := testutil.ToFloat64(redemptions.WithLabelValues("committed"))

	ObserveRedemption("committed", 20*time.Millisecond)
	CountLedgerEntry(DirectionDebit)

	assert.Equal(t, before+1, testutil.ToFloat64(redemptions.WithLabelValues("committed")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(ledgerEntries.WithLabelValues(DirectionDebit)), 1.0)
}

func TestMiddleware_LabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	counter := httpRequests.WithLabelValues(http.MethodGet, "/items/{id}", "418")
	before := testutil.ToFloat64(counter)

	for _, id := range []string{"1", "2"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/items/"+id, nil))
	}
	assert.Equal(t, before+2, testutil.ToFloat64(counter))

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `points_http_requests_total{method="GET",route="/items/{id}",status="418"}`)
}

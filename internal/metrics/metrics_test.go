package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Singleton(t *testing.T) {
	assert.Same(t, New(), New())
}

func TestMetrics_Record(t *testing.T) {
	m := New()

	before := testutil.ToFloat64(m.DocumentsProcessed.WithLabelValues("ERROR"))
	m.DocumentProcessed("ERROR")
	assert.InDelta(t, before+1, testutil.ToFloat64(m.DocumentsProcessed.WithLabelValues("ERROR")), 1e-9)

	okBefore := testutil.ToFloat64(m.Sends.WithLabelValues("success"))
	errBefore := testutil.ToFloat64(m.Sends.WithLabelValues("error"))
	m.SendResult(nil)
	m.SendResult(errors.New("boom"))
	assert.InDelta(t, okBefore+1, testutil.ToFloat64(m.Sends.WithLabelValues("success")), 1e-9)
	assert.InDelta(t, errBefore+1, testutil.ToFloat64(m.Sends.WithLabelValues("error")), 1e-9)

	reviews := testutil.ToFloat64(m.Reviews)
	m.ReviewSaved()
	assert.InDelta(t, reviews+1, testutil.ToFloat64(m.Reviews), 1e-9)

	m.ObserveExtraction(1500 * time.Millisecond)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.DocumentProcessed("EXTRACTED")
		m.ObserveExtraction(time.Second)
		m.SendResult(nil)
		m.ReviewSaved()
	})
}

func TestHandler(t *testing.T) {
	New().ReviewSaved()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "po_reviews_total")
}

package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordStorageOp(t *testing.T) {
	c := storageOpsTotal.WithLabelValues("file", "save", "ok")
	before := testutil.ToFloat64(c)

	RecordStorageOp("file", "save", "ok", 10*time.Millisecond)
	RecordStorageOp("file", "save", "ok", 20*time.Millisecond)

	assert.Equal(t, before+2, testutil.ToFloat64(c))
}

func TestSetFsckFindings(t *testing.T) {
	SetFsckFindings("object", 2, 5)
	assert.Equal(t, 2.0, testutil.ToFloat64(fsckFindings.WithLabelValues("object", "dangling")))
	assert.Equal(t, 5.0, testutil.ToFloat64(fsckFindings.WithLabelValues("object", "orphan")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	RecordHTTPRequest(http.MethodGet, "/items/{id}", http.StatusOK, time.Millisecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `assetvault_http_requests_total{method="GET",route="/items/{id}",status="200"}`)
}

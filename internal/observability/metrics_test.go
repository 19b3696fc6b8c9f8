package observability

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	RecordObserved("addSource")
	RecordDispatch("addSource", "ok")
	RecordDropped("duplicate")
	SetPending(3)
	SetCursors(5, 4)
	RecordRestoreEntity("layer", "ok")
	RecordRestoreDuration(12 * time.Millisecond)
	RecordEvent("click")
	RecordViewLifecycle("mount", true)
	RecordHTTPRequest("GET", "/health", 200, time.Millisecond)
	PeerConnected()
	PeerDisconnected()

	assert.Equal(t, 3.0, testutil.ToFloat64(queuePending))
	assert.Equal(t, 5.0, testutil.ToFloat64(queueCursor.WithLabelValues("observed")))
	assert.Equal(t, 4.0, testutil.ToFloat64(queueCursor.WithLabelValues("applied")))
}

func TestRecordDispatch_Increments(t *testing.T) {
	before := testutil.ToFloat64(commandsDispatched.WithLabelValues("setFilter", "handler_failure"))
	RecordDispatch("setFilter", "handler_failure")
	RecordDispatch("setFilter", "handler_failure")
	after := testutil.ToFloat64(commandsDispatched.WithLabelValues("setFilter", "handler_failure"))
	assert.Equal(t, before+2, after)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "debug", "text")
	require.NoError(t, err)

	r := gin.New()
	r.Use(RequestLogger(logger), RequestMetricsMiddleware())
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/health", "200"))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, before+1, testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/health", "200")))
	assert.Contains(t, buf.String(), "http_request")
	assert.Contains(t, buf.String(), "path=/health")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "warn", "json")
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	_, err = NewLogger(&buf, "loud", "text")
	assert.ErrorContains(t, err, "invalid log level")
	_, err = NewLogger(&buf, "info", "xml")
	assert.ErrorContains(t, err, "invalid log format")
}

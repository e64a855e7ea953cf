package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestAsynqMetricsMiddlewareOutcomes(t *testing.T) {
	const taskType = "test:metrics"
	results := []error{
		nil,
		fmt.Errorf("engine down: %w", asynq.SkipRetry),
		errors.New("db unavailable"),
		nil,
	}
	for _, want := range results {
		h := AsynqMetricsMiddleware()(asynq.HandlerFunc(func(context.Context, *asynq.Task) error {
			return want
		}))
		got := h.ProcessTask(context.Background(), asynq.NewTask(taskType, nil))
		assert.Equal(t, want, got)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(taskProcessedTotal.WithLabelValues(taskType, "unknown", TaskSucceeded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(taskProcessedTotal.WithLabelValues(taskType, "unknown", TaskSkipped)))
	assert.Equal(t, 1.0, testutil.ToFloat64(taskProcessedTotal.WithLabelValues(taskType, "unknown", TaskRetried)))
	assert.Equal(t, 0.0, testutil.ToFloat64(taskInProgress.WithLabelValues(taskType, "unknown")))
}

func TestGinMiddlewareLabelsRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware(func(c *gin.Context) string { return c.GetString("role") }))
	r.GET("/metrics-test/:id", func(c *gin.Context) {
		if c.Query("as") != "" {
			c.Set("role", c.Query("as"))
		}
		c.Status(http.StatusNoContent)
	})

	for _, target := range []string{"/metrics-test/1?as=employer", "/metrics-test/2?as=employer", "/metrics-test/3", "/nowhere"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, target, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(requestTotal.WithLabelValues(http.MethodGet, "/metrics-test/:id", "204", "employer")))
	assert.Equal(t, 1.0, testutil.ToFloat64(requestTotal.WithLabelValues(http.MethodGet, "/metrics-test/:id", "204", anonymousRole)))
	assert.Equal(t, 1.0, testutil.ToFloat64(requestTotal.WithLabelValues(http.MethodGet, "unmatched", "404", anonymousRole)))
}

func TestObserveTransition(t *testing.T) {
	before := testutil.ToFloat64(transitionsTotal.WithLabelValues("claim", "unclaimed", "draft"))
	ObserveTransition("claim", "unclaimed", "draft")
	assert.Equal(t, before+1, testutil.ToFloat64(transitionsTotal.WithLabelValues("claim", "unclaimed", "draft")))
}

package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// RoleFunc 返回请求调用方的角色，未认证时返回空串。
type RoleFunc func(c *gin.Context) string

const anonymousRole = "anonymous"

var (
	registerOnce sync.Once

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "talentflex",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds by route and caller role.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 30, 120},
		},
		[]string{"method", "path", "role"},
	)

	requestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "talentflex",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, status and caller role.",
		},
		[]string{"method", "path", "status", "role"},
	)

	requestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "talentflex",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "HTTP requests currently being served.",
		},
	)
)

// GinMiddleware 采集请求指标。路由模板作为 path 标签，未匹配路由记为 "unmatched"；
// role 在 c.Next() 之后由 roleOf 读取，roleOf 为 nil 或返回空串时记为 "anonymous"。
// 耗时分桶覆盖同步分析（?wait=true）的长请求。
func GinMiddleware(roleOf RoleFunc) gin.HandlerFunc {
	registerOnce.Do(func() {
		prometheus.MustRegister(requestDuration, requestTotal, requestsInFlight)
	})

	return func(c *gin.Context) {
		start := time.Now()
		requestsInFlight.Inc()
		defer requestsInFlight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		role := ""
		if roleOf != nil {
			role = roleOf(c)
		}
		if role == "" {
			role = anonymousRole
		}

		requestDuration.WithLabelValues(c.Request.Method, path, role).Observe(time.Since(start).Seconds())
		requestTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), role).Inc()
	}
}

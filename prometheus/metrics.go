package prometheus

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
var (
	// RequestCounter counts all HTTP requests with labels
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saaskit_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// RequestDurationHistogram records request duration in seconds
	RequestDurationHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "saaskit_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// StatusCodeCategoryCounter counts responses by 2xx/4xx/5xx
	StatusCodeCategoryCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saaskit_http_status_category_total",
			Help: "Total number of responses by status category (2xx, 4xx, 5xx)",
		},
		[]string{"category", "method", "path"},
	)
)

// Domain metrics
var (
	TenantOperationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saaskit_tenant_operations_total",
			Help: "Total number of tenant operations",
		},
		[]string{"operation"}, // create, update, delete, add_member, ...
	)

	RowOperationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saaskit_row_operations_total",
			Help: "Total number of entity row operations",
		},
		[]string{"entity", "operation"},
	)

	PromptFlowExecutionCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saaskit_prompt_flow_executions_total",
			Help: "Total number of prompt flow executions by final status",
		},
		[]string{"status"},
	)

	PromptFlowDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "saaskit_prompt_flow_duration_seconds",
			Help:    "Duration of prompt flow executions in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	CreditsConsumedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saaskit_credits_consumed_total",
			Help: "Total number of credits consumed by type",
		},
		[]string{"type"},
	)

	AnalyticsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saaskit_analytics_tracked_total",
			Help: "Total number of tracked analytics items",
		},
		[]string{"kind"}, // page_view, event, visitor, skipped
	)

	CacheCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saaskit_cache_requests_total",
			Help: "Total number of cache lookups by result",
		},
		[]string{"cache", "result"},
	)

	AppErrorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saaskit_errors_total",
			Help: "Total number of errors returned to clients by code",
		},
		[]string{"code"},
	)

	DBOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "saaskit_db_operation_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"}, // query, insert, update, delete
	)

	InfoGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "saaskit_info",
			Help: "Information about the service",
		},
		[]string{"version"},
	)
)

func init() {
	prometheus.MustRegister(RequestCounter)
	prometheus.MustRegister(RequestDurationHistogram)
	prometheus.MustRegister(StatusCodeCategoryCounter)

	prometheus.MustRegister(TenantOperationCounter)
	prometheus.MustRegister(RowOperationCounter)
	prometheus.MustRegister(PromptFlowExecutionCounter)
	prometheus.MustRegister(PromptFlowDuration)
	prometheus.MustRegister(CreditsConsumedCounter)
	prometheus.MustRegister(AnalyticsCounter)
	prometheus.MustRegister(CacheCounter)
	prometheus.MustRegister(AppErrorCounter)
	prometheus.MustRegister(DBOperationDuration)
	prometheus.MustRegister(InfoGauge)

	InfoGauge.With(prometheus.Labels{"version": "1.0.0"}).Set(1)
}

// GetPrometheusHandler returns an HTTP handler for the Prometheus metrics
func GetPrometheusHandler() http.Handler {
	return promhttp.Handler()
}

// MetricsMiddleware creates a middleware function that captures metrics for each request
func MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			status := c.Response().Status
			method := c.Request().Method
			path := c.Path()
			statusStr := strconv.Itoa(status)

			RequestCounter.WithLabelValues(method, path, statusStr).Inc()
			RequestDurationHistogram.WithLabelValues(method, path, statusStr).Observe(time.Since(start).Seconds())
			if category := statusCategory(status); category != "" {
				StatusCodeCategoryCounter.WithLabelValues(category, method, path).Inc()
			}

			return err
		}
	}
}

func statusCategory(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	}
	return ""
}

// TrackDBOperation measures database operation durations
func TrackDBOperation(operation string) func(time.Time) {
	startTime := time.Now()
	return func(endTime time.Time) {
		DBOperationDuration.With(prometheus.Labels{
			"operation": operation,
		}).Observe(time.Since(startTime).Seconds())
	}
}

// RecordTenantOperation records a tenant operation
func RecordTenantOperation(operation string) {
	TenantOperationCounter.With(prometheus.Labels{"operation": operation}).Inc()
}

// RecordRowOperation records a row operation for an entity
func RecordRowOperation(entity, operation string) {
	RowOperationCounter.WithLabelValues(entity, operation).Inc()
}

// RecordPromptFlowExecution records a finished prompt flow execution
func RecordPromptFlowExecution(status string, duration time.Duration) {
	PromptFlowExecutionCounter.WithLabelValues(status).Inc()
	PromptFlowDuration.Observe(duration.Seconds())
}

// RecordCreditsConsumed records consumed credits
func RecordCreditsConsumed(creditType string, amount int) {
	CreditsConsumedCounter.WithLabelValues(creditType).Add(float64(amount))
}

// RecordAnalytics records a tracked analytics item
func RecordAnalytics(kind string) {
	AnalyticsCounter.WithLabelValues(kind).Inc()
}

// RecordCacheHit records a cache hit
func RecordCacheHit(cache string) {
	CacheCounter.WithLabelValues(cache, "hit").Inc()
}

// RecordCacheMiss records a cache miss
func RecordCacheMiss(cache string) {
	CacheCounter.WithLabelValues(cache, "miss").Inc()
}

// RecordAppError records an error returned to a client
func RecordAppError(code string) {
	AppErrorCounter.WithLabelValues(code).Inc()
}

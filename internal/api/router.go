package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/trendydresses/payment-recon/internal/handler"
	"github.com/trendydresses/payment-recon/internal/infrastructure/auth"
	"github.com/trendydresses/payment-recon/internal/infrastructure/redis"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

func init() {
	prometheus.MustRegister(RequestCounter, RequestDuration)
}

func SetupRouter(h *handler.Handler, redisClient redis.RedisClient, jwtSecret string) *mux.Router {
	r := mux.NewRouter()
	r.Use(metricsMiddleware)

	h.RegisterPublicRoutes(r)

	protected := r.NewRoute().Subrouter()
	protected.Use(auth.AuthMiddleware(redisClient, jwtSecret))
	h.RegisterProtectedRoutes(protected)

	r.Handle("/metrics", promhttp.Handler())
	return r
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		endpoint := r.URL.Path
		method := r.Method

		recorder := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(recorder, r)

		status := fmt.Sprintf("%d", recorder.status)
		RequestCounter.WithLabelValues(method, endpoint, status).Inc()
		RequestDuration.WithLabelValues(method, endpoint).Observe(time.Since(start).Seconds())
	})
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

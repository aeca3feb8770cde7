// Package metrics exposes Prometheus counters for portal traffic and an
// optional HTTP listener serving /metrics and /health.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"meshbot/internal/logging"
)

var (
	portalRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshbot_portal_requests_total",
		Help: "Portal operations started, by operation name.",
	}, []string{"operation"})

	portalFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshbot_portal_failures_total",
		Help: "Portal operations that ended in an expected failure, by operation name.",
	}, []string{"operation"})

	updatesHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshbot_updates_total",
		Help: "Telegram updates handled, by kind (command, callback, reply).",
	}, []string{"kind"})
)

// PortalRequest counts one started portal operation.
func PortalRequest(op string) { portalRequests.WithLabelValues(op).Inc() }

// PortalRequestFailed counts one expected portal failure.
func PortalRequestFailed(op string) { portalFailures.WithLabelValues(op).Inc() }

// UpdateHandled counts one dispatched Telegram update.
func UpdateHandled(kind string) { updatesHandled.WithLabelValues(kind).Inc() }

// Serve runs the metrics listener until ctx is done. A blank addr disables it.
func Serve(ctx context.Context, addr string, logger logging.Logger) {
	if addr == "" {
		return
	}
	logger = logging.OrNop(logger)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics listener: %v", err)
	}
}

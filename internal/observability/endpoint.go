package observability

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/floraid/floraid-go/internal/logging"
)

// Endpoint serves the Prometheus exposition endpoint and a liveness probe.
type Endpoint struct {
	server *http.Server
	logger *slog.Logger
}

// NewEndpoint builds an HTTP server exposing /metrics and /healthz on addr.
func NewEndpoint(addr string, m *Metrics) *Endpoint {
	logger := logging.ForService("observability")
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	return &Endpoint{
		server: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start begins serving in a background goroutine.
func (e *Endpoint) Start() {
	go func() {
		e.logger.Info("metrics endpoint listening", "addr", e.server.Addr)
		if err := e.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			e.logger.Error("metrics endpoint failed", "error", err)
		}
	}()
}

// Shutdown stops the server gracefully.
func (e *Endpoint) Shutdown(ctx context.Context) error {
	return e.server.Shutdown(ctx)
}

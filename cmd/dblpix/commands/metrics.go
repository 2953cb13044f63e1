package commands

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/teranos/dblpix/logger"
	"github.com/teranos/dblpix/sym"
)

// serveMetrics exposes the pipeline counters on addr/metrics for the length
// of a run. The returned func stops the server.
func serveMetrics(addr string, log *zap.SugaredLogger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warnw("Metrics endpoint stopped", logger.FieldError, err, logger.FieldSymbol, sym.Pulse)
		}
	}()
	log.Infow("Serving metrics", "addr", addr, logger.FieldSymbol, sym.Pulse)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

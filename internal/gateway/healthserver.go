package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// runHealthServer serves liveness, readiness and metrics. The gateway is
// live as long as the process runs; readiness additionally reports the
// link and session picture without ever failing the probe, since the
// service keeps answering status and ping with the controller absent.
func (g *Gateway) runHealthServer(ctx context.Context) error {
	router := mux.NewRouter()

	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	router.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"link_state":             g.link.State(),
			"link_connected":         g.link.Connected(),
			"sessions_connected":     g.registry.ConnectedCount(),
			"sessions_authenticated": g.registry.AuthenticatedCount(),
		})
	})

	router.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    g.cfg.Http.Addr,
		Handler: router,
	}

	g.logger.Info("Health server listening", "address", g.cfg.Http.Addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), g.cfg.Http.Timeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health server: %w", err)
	}

	return nil
}

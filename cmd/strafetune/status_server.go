package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
)

// newStatusMux builds the status feed routes: /ws and /healthz.
func newStatusMux(ws *Server) *http.ServeMux {
	mux := http.NewServeMux()
	ws.Register(mux, "/ws")
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// runStatusServer serves the status feed on addr until ctx is canceled.
func runStatusServer(ctx context.Context, addr string, ws *Server, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen status feed %s: %w", addr, err)
	}
	logger.Info("status feed listening", "addr", ln.Addr().String(), "path", "/ws")

	srv := &http.Server{
		Handler:           newStatusMux(ws),
		ReadHeaderTimeout: telemetryReadTimeout,
	}
	return serveHTTP(ctx, srv, ln)
}

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// ============================================================================
// Telemetry Listener
// ============================================================================
// The game posts its state to a loopback HTTP endpoint. Every request is
// answered 200 with an empty body; the payload is then scanned and merged
// into the TelemetryStore.
// ============================================================================

// TelemetryServer accepts game-state posts.
type TelemetryServer struct {
	store  *TelemetryStore
	logger *slog.Logger
	now    func() time.Time
}

func NewTelemetryServer(store *TelemetryStore, logger *slog.Logger) *TelemetryServer {
	if logger == nil {
		logger = discardLogger()
	}
	return &TelemetryServer{store: store, logger: logger, now: time.Now}
}

// ServeHTTP accepts any method and path.
func (s *TelemetryServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, telemetryBodyLimit))

	w.Header().Set("Content-Length", "0")
	w.WriteHeader(http.StatusOK)

	if err != nil {
		s.logger.Debug("telemetry body read failed", "error", err)
	}
	if len(body) == 0 {
		return
	}

	before, after := s.store.Merge(ParseGameState(string(body)), s.now())

	if !before.Connected {
		s.logger.Info("telemetry connected", "remote", r.RemoteAddr)
	}
	if after.WeaponName != before.WeaponName {
		s.logger.Info("weapon changed",
			"weapon", after.WeaponName,
			"category", after.Category.String(),
			"max_speed", after.MaxSpeed)
	}
	if after.RoundPhase != before.RoundPhase {
		s.logger.Debug("round phase changed", "phase", after.RoundPhase)
	}
}

// Run serves on ln until ctx is canceled.
func (s *TelemetryServer) Run(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: telemetryReadTimeout,
		ReadTimeout:       telemetryReadTimeout,
		IdleTimeout:       telemetryReadTimeout,
	}
	s.logger.Info("telemetry listener started", "addr", ln.Addr().String())
	return serveHTTP(ctx, srv, ln)
}

// listenTelemetry binds the loopback telemetry port.
func listenTelemetry(port int) (net.Listener, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, fmt.Errorf("listen telemetry port %d: %w", port, err)
	}
	return ln, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// serveHTTP runs srv on ln and shuts it down gracefully when ctx is canceled.
// Shutdown waits at most shutdownWait for in-flight requests.
func serveHTTP(ctx context.Context, srv *http.Server, ln net.Listener) error {
	errCh := make(chan error, 1)

	go func() {
		// Serve returns http.ErrServerClosed on Shutdown; treat that as clean exit.
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown: %w", err)
		}
		// Wait for the Serve goroutine to return.
		<-errCh
		return nil

	case err := <-errCh:
		return err
	}
}

package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// handleHTTPServer starts the HTTP server on addr and shuts it down
// gracefully once ctx is done. Listen errors are sent to errc.
func handleHTTPServer(ctx context.Context, addr string, handler http.Handler, wg *sync.WaitGroup, errc chan error, logger *zap.SugaredLogger) {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 60 * time.Second}

	wg.Add(1)
	go func() {
		defer wg.Done()

		go func() {
			logger.Infof("HTTP server listening on %q", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
		}()

		<-ctx.Done()
		logger.Infof("shutting down HTTP server at %q", addr)

		// Shutdown gracefully with a 30s timeout.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Warnf("failed to shutdown: %v", err)
		}
	}()
}

package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/roomchat/internal/config"
)

// CreateServer builds the http.Server with the configured address and timeouts.
func CreateServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

// StartServer listens until the server is shut down. A graceful shutdown is
// not reported as an error.
func StartServer(server *http.Server, log *logrus.Logger) error {
	log.WithField("addr", server.Addr).Info("Server listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ShutdownServer stops accepting connections and waits up to timeout for
// in-flight requests. Live streams must already have been closed through
// Hub.Shutdown, since the HTTP server does not wait for hijacked sockets.
func ShutdownServer(server *http.Server, timeout time.Duration, log *logrus.Logger) error {
	log.Info("Shutting down HTTP server...")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("HTTP server shutdown error")
		return err
	}

	log.Info("HTTP server shutdown completed")
	return nil
}

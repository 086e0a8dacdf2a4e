package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/config"
	"github.com/Tyrowin/roomchat/internal/logger"
	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/Tyrowin/roomchat/internal/store"
	"github.com/Tyrowin/roomchat/internal/store/badgerstore"
	"github.com/Tyrowin/roomchat/internal/store/pgstore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run returns instead of exiting so deferred cleanup always happens.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	log.Info("Starting roomchat server...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("Closing store...")
		if err := st.Close(); err != nil {
			log.WithError(err).Error("Error closing store")
		}
	}()

	if err := st.EnsureChat(ctx, int64(chat.GeneralRoom), cfg.GeneralChatName); err != nil {
		return fmt.Errorf("ensure general chat: %w", err)
	}

	srv := server.New(cfg, st, log)
	httpServer := server.CreateServer(cfg, srv.Handler())

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.StartServer(httpServer, log)
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	}

	// live streams first: the HTTP server does not wait for hijacked sockets
	if err := srv.Hub().Shutdown(cfg.ShutdownTimeout); err != nil {
		log.WithError(err).Warn("Hub shutdown did not finish cleanly")
	}
	if err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout, log); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}

	log.Info("Server stopped cleanly")
	return nil
}

func openStore(ctx context.Context, cfg config.Config, log *logrus.Logger) (store.Store, error) {
	log.WithField("driver", cfg.Store.Driver).Info("Opening store")
	switch cfg.Store.Driver {
	case config.DriverBadger:
		st, err := badgerstore.Open(cfg.Store.BadgerPath, log)
		if err != nil {
			return nil, fmt.Errorf("open badger store: %w", err)
		}
		return st, nil
	case config.DriverPostgres:
		st, err := pgstore.Open(ctx, cfg.Store.DatabaseURL, cfg.Store.MaxConns, log)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return st, nil
	default:
		return store.NewMemory(), nil
	}
}

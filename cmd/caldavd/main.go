// Command caldavd serves CalDAV collections with sync-collection support.
//
// It is configured through CALDORA_* environment variables, see internal/config.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cyp0633/caldora/internal/config"
	"github.com/cyp0633/caldora/server"
	authmem "github.com/cyp0633/caldora/server/auth/memory"
	"github.com/cyp0633/caldora/server/storage"
	"github.com/cyp0633/caldora/server/storage/memory"
	"github.com/cyp0633/caldora/server/storage/postgres"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "caldavd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	users := authmem.New(authmem.WithUsers(cfg.Users), authmem.WithLogger(logger))
	handler := server.NewCaldavHandler(store, users, server.Options{
		Prefix:   cfg.Server.Prefix,
		Realm:    cfg.Server.Realm,
		MaxDepth: cfg.Server.MaxDepth,
		Logger:   logger,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           newRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting CalDAV server",
			"address", cfg.Server.Address,
			"prefix", handler.Prefix,
			"backend", cfg.Storage.Backend,
			"users", len(cfg.Users))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newRouter(handler *server.CaldavHandler) http.Handler {
	// chi rejects methods it does not know
	chi.RegisterMethod("PROPFIND")
	chi.RegisterMethod("REPORT")

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	router.Handle("/metrics", promhttp.Handler())
	router.Get("/.well-known/caldav", handler.ServeWellKnown)
	router.Handle(strings.TrimSuffix(handler.Prefix, "/"), http.RedirectHandler(handler.Prefix, http.StatusMovedPermanently))
	router.Handle(handler.Prefix+"*", handler)
	return router
}

func newLogger(cfg config.Log) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func openStore(ctx context.Context, cfg config.Storage, logger *slog.Logger) (storage.Store, func(), error) {
	switch cfg.Backend {
	case config.StorePostgres:
		opts := []postgres.Option{postgres.WithLogger(logger)}
		if cfg.ResultCap > 0 {
			opts = append(opts, postgres.WithResultCap(cfg.ResultCap))
		}
		s, err := postgres.Open(ctx, cfg.DSN, opts...)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				logger.Warn("failed to close database", "error", err)
			}
		}, nil
	default:
		var opts []memory.Option
		if cfg.ResultCap > 0 {
			opts = append(opts, memory.WithResultCap(cfg.ResultCap))
		}
		return memory.New(opts...), func() {}, nil
	}
}

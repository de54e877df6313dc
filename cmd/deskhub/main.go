package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/desk/internal/hub"
	"github.com/matheus3301/desk/internal/logging"
	"github.com/matheus3301/desk/internal/store"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8080", "listen address")
	dbPath := flag.String("db", "hub.db", "sqlite database path, or :memory:")
	token := flag.String("token", os.Getenv("DESK_HUB_TOKEN"), "bearer token required from clients")
	agent := flag.String("agent", "operator", "operator name used for presence")
	reset := flag.Bool("reset", false, "drop all hub data before serving")
	flag.Parse()

	logger := logging.NewConsole("deskhub")
	defer func() { _ = logger.Sync() }()

	if err := run(*addr, *dbPath, *reset, hub.Options{Token: *token, Agent: *agent}, logger); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(addr, dbPath string, reset bool, opts hub.Options, logger *zap.Logger) error {
	db, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	migrateFn, what := db.Migrate, "migrations applied"
	if reset {
		migrateFn, what = db.Reset, "hub data reset"
	}
	result, err := migrateFn()
	if err != nil {
		return err
	}
	if result.Changed {
		logger.Info(what, zap.Uint("from", result.From), zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}

	h := hub.New(db, opts, logger)
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		logger.Info("hub listening", zap.String("addr", addr), zap.Bool("auth", opts.Token != ""))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("hub shutting down")
	h.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

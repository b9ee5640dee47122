package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/voxcobra/voxbridge/pkg/gateway/config"
	gatewayserver "github.com/voxcobra/voxbridge/pkg/gateway/server"
	"github.com/voxcobra/voxbridge/pkg/negostore"
)

type serviceDeps struct {
	loadConfig   func() (config.Config, error)
	openStore    func(ctx context.Context, dsn string, logger *slog.Logger) (*negostore.Store, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultServiceDeps() serviceDeps {
	return serviceDeps{
		loadConfig: config.LoadFromEnv,
		openStore:  negostore.Open,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

func runService(ctx context.Context, logger *slog.Logger, deps serviceDeps) error {
	if deps.loadConfig == nil || deps.openStore == nil {
		return errors.New("missing dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var store *negostore.Store
	if cfg.PostgresDSN != "" {
		store, err = deps.openStore(ctx, cfg.PostgresDSN, logger)
		if err != nil {
			return fmt.Errorf("open negostore: %w", err)
		}
		defer store.Close()
		logger.Info("persistence enabled")
	} else {
		logger.Info("persistence disabled")
	}

	srv, err := gatewayserver.New(cfg, logger, store)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}
	defer func() { _ = srv.Close() }()

	httpSrv := buildHTTPServer(cfg, srv.Handler())

	logger.Info("starting voxbridge", "addr", cfg.Addr, "public_host", cfg.PublicHost)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String(), "active_bridges", srv.ActiveBridges())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	// Let in-flight calls finish inside the grace period, then cut them off.
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !srv.WaitBridges(waitCtx) {
		n := srv.CancelBridges()
		logger.Warn("cancelled bridges at shutdown", "count", n)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("voxbridge stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps serviceDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(stderr, "voxbridge: load .env: %v\n", err)
		return 1
	}

	if err := runService(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "voxbridge: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultServiceDeps()))
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"jantaku-lite/apps/server/internal/auth"
	"jantaku-lite/apps/server/internal/config"
	"jantaku-lite/apps/server/internal/gateway"
	"jantaku-lite/apps/server/internal/ledger"
	"jantaku-lite/apps/server/internal/lobby"
	"jantaku-lite/apps/server/internal/logging"
	"jantaku-lite/apps/server/internal/metrics"
	"jantaku-lite/apps/server/internal/notify"
	"jantaku-lite/apps/server/internal/rounds"
	"jantaku-lite/apps/server/internal/seating"
	"jantaku-lite/apps/server/internal/store"
	"jantaku-lite/apps/server/internal/viewer"
)

func main() {
	if err := run(context.Background()); err != nil {
		slog.Error("server_exit", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	if err := config.LoadDotenvIfPresent(".env", "apps/server/.env"); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.Setup(cfg.Log, "server.log")
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}

	db, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	hub, err := notify.New(cfg.Notify, logger)
	if err != nil {
		return fmt.Errorf("init notify hub: %w", err)
	}
	defer hub.Close()

	authService, authMode, err := auth.NewService(cfg, db)
	if err != nil {
		return fmt.Errorf("init auth: %w", err)
	}
	defer authService.Close()

	m := metrics.New(prometheus.DefaultRegisterer)
	lby := lobby.New(db, hub, logger)
	seats := seating.NewManager(db, hub, seating.Options{MinOccupants: cfg.Seating.MinOccupants, Metrics: m, Logger: logger})
	roundCtl := rounds.NewController(db, hub, m, logger)
	ledgerService := ledger.NewService(db, hub, m, cfg.Calibrations, logger)
	refresher := viewer.NewRefresher(db, hub, viewer.Options{LoadTimeout: cfg.Store.OpTimeout, Metrics: m, Logger: logger})
	gw := gateway.New(authService, refresher, gateway.Options{AllowedOrigins: cfg.AllowedOrigins, Logger: logger})
	defer gw.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", gw.HandleWebSocket)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	auth.NewHTTPHandler(authService, logger).RegisterRoutes(mux)
	lobby.NewHTTPHandler(authService, lby, logger).RegisterRoutes(mux)
	seating.NewHTTPHandler(authService, seats, logger).RegisterRoutes(mux)
	rounds.NewHTTPHandler(authService, roundCtl, logger).RegisterRoutes(mux)
	ledger.NewHTTPHandler(authService, ledgerService, logger).RegisterRoutes(mux)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("server_start",
		"addr", cfg.HTTPAddr,
		"store", cfg.Store.Mode,
		"dialect", db.Dialect().String(),
		"notify", cfg.Notify.Mode,
		"auth", authMode,
	)
	return serve(ctx, logger, server, gw, cfg.ShutdownTimeout)
}

// serve runs the server until SIGINT/SIGTERM, then drains it.
func serve(ctx context.Context, logger *slog.Logger, server *http.Server, gw *gateway.Gateway, shutdownTimeout time.Duration) error {
	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(signalCtx)
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server serve failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("server_shutdown", "open_streams", gw.Count())
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		// hijacked WebSocket connections are not tracked by Shutdown
		gw.Close()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

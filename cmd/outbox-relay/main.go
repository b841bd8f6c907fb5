package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MikeMC777/tienda-ordenes/internal/config"
	"github.com/MikeMC777/tienda-ordenes/internal/db"
	"github.com/MikeMC777/tienda-ordenes/internal/logging"
	"github.com/MikeMC777/tienda-ordenes/internal/metrics"
	"github.com/MikeMC777/tienda-ordenes/internal/outbox"
)

const metricsAddr = ":9102"

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, "outbox-relay")
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("db", zap.Error(err))
	}
	defer pool.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	writer := outbox.NewWriter(cfg.KafkaBrokers)
	defer writer.Close()

	relay := outbox.NewRelay(outbox.PGStore{DB: pool}, writer, cfg.OutboxBatchSize, cfg.OutboxPollInterval, logger, m)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("outbox relay started",
			zap.String("brokers", cfg.KafkaBrokers),
			zap.Duration("interval", cfg.OutboxPollInterval),
			zap.Int("batch", cfg.OutboxBatchSize),
		)
		if err := relay.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Fatal("outbox relay stopped", zap.Error(err))
	}
	logger.Info("outbox relay shut down")
}

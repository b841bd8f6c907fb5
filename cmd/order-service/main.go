package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/MikeMC777/tienda-ordenes/internal/config"
	"github.com/MikeMC777/tienda-ordenes/internal/db"
	"github.com/MikeMC777/tienda-ordenes/internal/httpx"
	"github.com/MikeMC777/tienda-ordenes/internal/inventory"
	"github.com/MikeMC777/tienda-ordenes/internal/logging"
	"github.com/MikeMC777/tienda-ordenes/internal/metrics"
	ord "github.com/MikeMC777/tienda-ordenes/internal/order"
	"github.com/MikeMC777/tienda-ordenes/internal/product"
)

const serviceName = "order-service"

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, serviceName)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("order-service stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	adjuster := inventory.NewAdjuster(logger.Named("inventory"), m)

	var (
		repo ord.Repository
		pool *pgxpool.Pool
	)
	switch cfg.Store {
	case "memory":
		logger.Warn("using in-memory store; data is lost on restart")
		repo = ord.NewMemRepo(product.NewMemStore(), adjuster)
	default:
		p, err := db.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer p.Close()
		pool = p
		if cfg.AutoMigrate {
			if err := db.Migrate(ctx, pool); err != nil {
				return err
			}
		}
		repo = ord.NewPGRepo(pool, adjuster, cfg.OrderEventsTopic, cfg.TxTimeout)
	}

	opts := []ord.Option{ord.WithLogger(logger.Named("order")), ord.WithMetrics(m)}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		opts = append(opts, ord.WithCache(ord.NewRedisCache(rdb, serviceName, cfg.OrderCacheTTL)))
		logger.Info("order cache enabled", zap.String("addr", cfg.RedisAddr), zap.Duration("ttl", cfg.OrderCacheTTL))
	}
	svc := ord.NewService(repo, opts...)

	router := newRouter(routerDeps{
		svc:     svc,
		auth:    httpx.NewAuth(cfg.JWTSecret, cfg.AdminKeyHash),
		log:     logger.Named("http"),
		metrics: m,
		gather:  reg,
	})
	httpSrv := &http.Server{
		Addr:              cfg.OrderSvcAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	healthSrv := health.NewServer()
	grpcSrv := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("order-service listening", zap.String("addr", cfg.OrderSvcAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("grpc health listening", zap.String("addr", cfg.GRPCAddr))
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		watchHealth(gctx, healthSrv, pool, logger)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		healthSrv.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := httpSrv.Shutdown(shutdownCtx)
		grpcSrv.GracefulStop()
		logger.Info("order-service shut down")
		return err
	})
	return g.Wait()
}

// watchHealth reports SERVING while the database answers pings. The memory
// store is always serving.
func watchHealth(ctx context.Context, hs *health.Server, pool *pgxpool.Pool, logger *zap.Logger) {
	set := func(ok bool) {
		status := healthpb.HealthCheckResponse_SERVING
		if !ok {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus("", status)
		hs.SetServingStatus(serviceName, status)
	}
	set(true)
	if pool == nil {
		return
	}

	t := time.NewTicker(5 * time.Second)
	defer t.Stop()
	healthy := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := pool.Ping(pctx)
			cancel()
			if ok := err == nil; ok != healthy {
				healthy = ok
				set(ok)
				if ok {
					logger.Info("database reachable again")
				} else {
					logger.Warn("database ping failed", zap.Error(err))
				}
			}
		}
	}
}

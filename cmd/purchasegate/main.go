package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sigweihq/purchasegate/pkg/catalog"
	"github.com/sigweihq/purchasegate/pkg/chains/evm"
	"github.com/sigweihq/purchasegate/pkg/config"
	"github.com/sigweihq/purchasegate/pkg/httpapi"
	"github.com/sigweihq/purchasegate/pkg/ledger"
	"github.com/sigweihq/purchasegate/pkg/metrics"
	"github.com/sigweihq/purchasegate/pkg/processor"
	"github.com/sigweihq/purchasegate/pkg/ratelimit"
)

func main() {
	defaultPath := os.Getenv("PURCHASEGATE_CONFIG")
	if defaultPath == "" {
		defaultPath = "configs/config.yaml"
	}
	configPath := flag.String("config", defaultPath, "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("purchasegate stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder, err := metrics.NewPrometheusRecorder(registry)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	var redisClient *goredis.Client
	if cfg.Redis.Addr != "" {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = redisClient.Close() }()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, cache and rate limiting degrade until it recovers", "addr", cfg.Redis.Addr, "error", err)
		}
	}

	store, closeStore, err := openStore(ctx, cfg, redisClient, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	gateway := ledger.NewGateway(store, logger)

	cat, err := catalog.New(cfg.Catalog.SKUs)
	if err != nil {
		return fmt.Errorf("build catalog: %w", err)
	}

	provider, err := evm.NewEndpointProvider(cfg.EndpointsByNetwork(), logger)
	if err != nil {
		return fmt.Errorf("endpoint provider: %w", err)
	}
	client, err := evm.NewRPCClient(cfg.Chain.Network, provider, logger)
	if err != nil {
		return fmt.Errorf("rpc client: %w", err)
	}
	provider.StartBackgroundRefresh(ctx, client, cfg.Chain.HealthCheckInterval)

	validator, err := evm.NewPaymentValidator(evm.ValidatorConfig{
		Payee:       cfg.Chain.Payee,
		EntryPoints: cfg.Chain.EntryPoints,
	}, logger)
	if err != nil {
		return fmt.Errorf("payment validator: %w", err)
	}

	resolver := processor.NewResolver(client, logger,
		processor.WithAttempts(cfg.Resolver.Attempts),
		processor.WithRetryDelay(cfg.Resolver.RetryDelay),
		processor.WithCallTimeout(cfg.Resolver.CallTimeout),
	)

	verifier := processor.NewPurchaseProcessor(processor.Dependencies{
		Catalog:   cat,
		Resolver:  resolver,
		Validator: validator,
		Ledger:    gateway,
		Metrics:   recorder,
	}, processor.Config{UnknownSKUFree: cfg.Catalog.UnknownSKUFree}, logger)

	var limiter *ratelimit.Limiter
	if redisClient != nil {
		limiter = ratelimit.NewLimiter(ratelimit.NewRedisWindowStore(redisClient), cfg.RateLimit.VerifyPerWindow, cfg.RateLimit.Window)
	}

	handler := httpapi.NewRouter(httpapi.Dependencies{
		Verifier:  verifier,
		Catalog:   cat,
		Purchases: gateway,
		Limiter:   limiter,
		Metrics:   recorder,
		Gatherer:  registry,
	}, httpapi.Config{
		Network:        cfg.Chain.Network,
		Payee:          validator.Payee().Hex(),
		RequestTimeout: cfg.HTTP.RequestTimeout,
	}, logger)

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("purchasegate listening",
			"addr", cfg.HTTP.Addr,
			"network", cfg.Chain.Network,
			"payee", validator.Payee().Hex(),
			"skus", len(cat.Entries()),
			"rate_limit", limiter.Enabled())
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		logger.Info("purchasegate shut down")
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}
}

// openStore picks the durable Postgres ledger when a DSN is configured and
// fronts it with the Redis cache when available
func openStore(ctx context.Context, cfg config.Config, redisClient *goredis.Client, logger *slog.Logger) (ledger.Store, func(), error) {
	if cfg.Postgres.DSN == "" {
		logger.Warn("no postgres dsn configured, purchases are kept in memory and lost on restart")
		return ledger.NewMemoryStore(), func() {}, nil
	}

	pool, err := ledger.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}

	pg := ledger.NewPostgresStore(pool)
	if err := pg.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ensure schema: %w", err)
	}

	var store ledger.Store = pg
	if redisClient != nil {
		store = ledger.NewCachedStore(pg, redisClient, cfg.Redis.CacheTTL, logger)
	}
	return store, pool.Close, nil
}

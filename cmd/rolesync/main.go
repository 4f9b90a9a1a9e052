package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/platinummonkey/rolesync/pkg/api"
	"github.com/platinummonkey/rolesync/pkg/auth"
	"github.com/platinummonkey/rolesync/pkg/config"
	"github.com/platinummonkey/rolesync/pkg/housekeeping"
	"github.com/platinummonkey/rolesync/pkg/invalidation"
	"github.com/platinummonkey/rolesync/pkg/observability"
	"github.com/platinummonkey/rolesync/pkg/rbac"
	"github.com/platinummonkey/rolesync/pkg/rolecache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
)

var version = "dev"

func main() {
	configFile := flag.String("config", "", "Path to a YAML config file (overrides "+config.ConfigFileEnv+")")
	flag.Parse()

	// the structured logger needs the config; until it loads, report through logrus
	boot := setupBootLogger()
	if *configFile != "" {
		os.Setenv(config.ConfigFileEnv, *configFile)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		boot.Fatalf("Failed to load configuration: %v", err)
	}

	if err := run(cfg); err != nil {
		boot.Fatalf("rolesync exited: %v", err)
	}
}

func setupBootLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	logger.SetLevel(logrus.InfoLevel)
	return logger
}

func run(cfg *config.Config) (err error) {
	ctx := context.Background()
	logger := observability.NewLogger(observability.ParseLogLevel(cfg.Observability.LogLevel), os.Stdout).
		WithField("service", "rolesync")

	// everything acquired before the server starts is released here if
	// startup fails; afterwards the shutdown manager owns it
	var startup cleanups
	defer func() {
		if err != nil {
			startup.run()
		}
	}()

	validator, err := auth.NewJWTValidator([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return err
	}

	tp, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return err
	}
	if tp != nil {
		startup.add(func() { observability.ShutdownOTel(context.Background(), tp, logger) })
	}

	db, err := connectDatabase(ctx, cfg.Store)
	if err != nil {
		return err
	}
	startup.add(func() { db.Close() })
	store := rbac.NewStore(db)

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(registry)
		if err := metrics.RegisterDBStats(db, "authz"); err != nil {
			return fmt.Errorf("failed to register database metrics: %w", err)
		}
	}

	cacheCfg := rolecache.DefaultConfig()
	cacheCfg.TTL = cfg.RoleCache.TTL
	cacheCfg.StoreTimeout = cfg.RoleCache.StoreTimeout
	cacheCfg.MaxEntries = cfg.RoleCache.MaxEntries
	cacheCfg.Logger = logger
	if metrics != nil {
		cacheCfg.Metrics = metrics
	}
	cache, err := rolecache.New(store, cacheCfg)
	if err != nil {
		return fmt.Errorf("failed to create role cache: %w", err)
	}

	scheduler := housekeeping.NewScheduler(logger)
	if _, err := scheduler.AddSweep(cfg.RoleCache.SweepSchedule, cache); err != nil {
		return err
	}

	var (
		redisClient *redis.Client
		publisher   invalidation.Publisher
	)
	if cfg.Invalidation.RedisURL != "" {
		redisClient, err = invalidation.NewRedisClient(ctx, cfg.Invalidation.RedisURL)
		if err != nil {
			return err
		}
		startup.add(func() { redisClient.Close() })
		publisher = invalidation.NewRedisPublisher(redisClient, cfg.Invalidation.Channel)
	}
	notifier := invalidation.NewNotifier(cache, publisher)

	// nothing below can fail; background work starts here
	subCtx, stopSubscriber := context.WithCancel(ctx)
	subDone := make(chan struct{})
	if redisClient != nil {
		subscriber := invalidation.NewRedisSubscriber(redisClient, cfg.Invalidation.Channel, cache)
		go func() {
			defer close(subDone)
			defer observability.RecoverPanic(logger, "invalidation subscriber")
			if err := subscriber.Run(observability.WithLogger(subCtx, logger)); err != nil {
				logger.WithError(err).Error("invalidation subscriber stopped")
			}
		}()
		logger.WithField("channel", cfg.Invalidation.Channel).Info("role invalidation broadcast enabled")
	} else {
		close(subDone)
		logger.Warn("no redis configured, role invalidation is local to this replica")
	}
	scheduler.Start()

	var redisHealth redis.UniversalClient
	if redisClient != nil {
		redisHealth = redisClient
	}

	server := api.NewServer(api.Dependencies{
		Roles:       cache,
		Writer:      store,
		Invalidator: notifier,
		Validator:   validator,
		Logger:      logger,
		Metrics:     metrics,
		Registry:    registry,
		Health:      observability.NewHealthChecker(db, redisHealth, version),
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc("invalidation subscriber", func(ctx context.Context) error {
		stopSubscriber()
		select {
		case <-subDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	shutdown.RegisterShutdownFunc("housekeeping", scheduler.Stop)
	shutdown.RegisterShutdownFunc("role cache", func(context.Context) error {
		return cache.Close()
	})
	if redisClient != nil {
		shutdown.RegisterShutdownFunc("redis", func(context.Context) error {
			return redisClient.Close()
		})
	}
	shutdown.RegisterShutdownFunc("database", func(context.Context) error {
		return db.Close()
	})
	if tp != nil {
		shutdown.RegisterShutdownFunc("tracing", func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, tp, logger)
		})
	}

	startup = nil

	serveErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", httpServer.Addr).Info("rolesync listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	waitCtx, stopWaiting := context.WithCancel(ctx)
	defer stopWaiting()
	go func() {
		if err, ok := <-serveErr; ok {
			logger.WithError(err).Error("http server failed")
			stopWaiting()
		}
	}()

	return shutdown.WaitForShutdown(waitCtx)
}

func connectDatabase(ctx context.Context, cfg config.StoreConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// cleanups releases startup resources in reverse order of acquisition
type cleanups []func()

func (c *cleanups) add(fn func()) {
	*c = append(*c, fn)
}

func (c cleanups) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

// Copyright 2025 James Ross
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caseworks/reportpipeline/internal/config"
	"github.com/caseworks/reportpipeline/internal/dependency"
	"github.com/caseworks/reportpipeline/internal/dispatcher"
	"github.com/caseworks/reportpipeline/internal/fetcher"
	"github.com/caseworks/reportpipeline/internal/idprovider"
	"github.com/caseworks/reportpipeline/internal/jobstore"
	"github.com/caseworks/reportpipeline/internal/masking"
	"github.com/caseworks/reportpipeline/internal/notify"
	"github.com/caseworks/reportpipeline/internal/obs"
	"github.com/caseworks/reportpipeline/internal/report"
	"github.com/caseworks/reportpipeline/internal/streamer"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

var version = "dev"

// dependencyRules is the static, load-time-validated rule set (spec §3
// "Dependency rule" — "the rule set is immutable at runtime and discovered
// by scanning a static list").
var dependencyRules = []report.DependencyRule{
	{
		Name:                "county-daily-to-weekly",
		ParentReportType:    "DAILY_SUMMARY",
		DependentReportType: "WEEKLY_ROLLUP",
		DependentRole:       "SUPERVISOR",
		DependentDataFormat: report.FormatJSON,
		DependentChunkSize:  1000,
	},
}

func main() {
	var configPath string
	var showVersion bool
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&configPath, "config", "config/config.yaml", "Path to YAML config")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	_ = fs.Parse(os.Args[1:])

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := obs.NewLogger(cfg.Observability.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		logger.Fatal("open postgres", obs.Err(err))
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)

	if err := jobstore.Migrate(db, "migrations"); err != nil {
		logger.Fatal("run migrations", obs.Err(err))
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	store := jobstore.NewPostgres(db)
	fetch := fetcher.NewPostgres(db)

	idp := idprovider.New(idprovider.Config{
		BaseURL:      cfg.IdentityProvider.BaseURL,
		Realm:        cfg.IdentityProvider.Realm,
		ClientID:     cfg.IdentityProvider.ClientID,
		ClientSecret: cfg.IdentityProvider.ClientSecret,
		ClientUUID:   cfg.IdentityProvider.ClientUUID,
		AdminUser:    cfg.IdentityProvider.AdminUser,
		AdminPass:    cfg.IdentityProvider.AdminPass,
		Timeout:      cfg.IdentityProvider.Timeout,
	})
	maskingEngine := masking.New(idp)
	masker := masking.NewCached(maskingEngine, rdb, 10*time.Minute)

	var hooks []notify.Hook
	if cfg.NATS.Enabled {
		natsHook, err := notify.NewNATSHook(cfg.NATS.URL, "reports.events")
		if err != nil {
			logger.Warn("nats hook disabled", obs.Err(err))
		} else {
			defer natsHook.Close()
			hooks = append(hooks, natsHook)
		}
	}
	notifier := notify.New(logger, hooks...)

	if err := dependency.ValidateRules(dependencyRules); err != nil {
		logger.Fatal("dependency rule set has a cycle", obs.Err(err))
	}
	depEngine := dependency.New(store, dependencyRules, logger)

	streamerCfg := streamer.Config{
		MaxAttempts:      cfg.Retry.MaxAttempts,
		InitialBackoff:   cfg.Retry.InitialBackoff,
		DefaultChunkSize: cfg.Chunk.DefaultSize,
		ReportsDir:       cfg.ReportsDir,
	}
	strm := streamer.New(store, fetch, masker, streamerCfg, logger).
		WithNotifier(notifier)
	if cfg.Dependency.Enabled {
		strm = strm.WithDependencyEngine(depEngine)
	}

	pool := dispatcher.NewWorkerPool(cfg.WorkerPool.Size)
	disp := dispatcher.New(store, pool, strm, dispatcher.Config{
		PollInterval:   cfg.Dispatcher.PollInterval,
		MaxJobsPerPoll: cfg.Dispatcher.MaxJobsPerPoll,
		Enabled:        cfg.Dispatcher.Enabled,
	}, logger)

	metricsSrv := obs.StartMetricsServer(cfg)
	defer func() { _ = metricsSrv.Shutdown(context.Background()) }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("signal received, shutting down", obs.String("signal", sig.String()))
		cancel()
		select {
		case sig2 := <-sigCh:
			logger.Warn("second signal received, exiting immediately", obs.String("signal", sig2.String()))
			os.Exit(1)
		case <-time.After(10 * time.Second):
		}
	}()

	logger.Info("report-worker starting", obs.Int("workerPoolSize", cfg.WorkerPool.Size))
	disp.Run(ctx)
	logger.Info("report-worker stopped")
}

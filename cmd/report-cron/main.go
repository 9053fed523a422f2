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
	"github.com/caseworks/reportpipeline/internal/cronfanout"
	"github.com/caseworks/reportpipeline/internal/forecast"
	"github.com/caseworks/reportpipeline/internal/idprovider"
	"github.com/caseworks/reportpipeline/internal/jobstore"
	"github.com/caseworks/reportpipeline/internal/notify"
	"github.com/caseworks/reportpipeline/internal/obs"
	"github.com/caseworks/reportpipeline/internal/report"
	_ "github.com/lib/pq"
)

var version = "dev"

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

	if err := jobstore.Migrate(db, "migrations"); err != nil {
		logger.Fatal("run migrations", obs.Err(err))
	}
	store := jobstore.NewPostgres(db)

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

	estimateConfig := make(map[string]time.Duration, len(cfg.ReportTypeEstimateMin))
	for reportType, minutes := range cfg.ReportTypeEstimateMin {
		estimateConfig[reportType] = time.Duration(minutes) * time.Minute
	}
	estimator := forecast.NewEstimator(estimateConfig)

	fanoutCfg := buildFanoutConfig(cfg)
	scheduler := cronfanout.New(store, idp, notifier, estimator, fanoutCfg, logger)

	if err := scheduler.Start(); err != nil {
		logger.Fatal("cronfanout: failed to start", obs.Err(err))
	}
	defer scheduler.Stop()

	metricsSrv := obs.StartMetricsServer(cfg)
	defer func() { _ = metricsSrv.Shutdown(context.Background()) }()

	logger.Info("report-cron started", obs.Int("profileCount", len(cfg.Cron.Profiles)))

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("signal received, shutting down", obs.String("signal", sig.String()))
}

// buildFanoutConfig groups the flat config.Cron.Profiles map by cadence into
// the cronfanout.Config shape the scheduler expects (spec §4.10).
func buildFanoutConfig(cfg *config.Config) cronfanout.Config {
	expressions := make(map[cronfanout.Cadence]string, len(cfg.Cron.Expressions))
	for cadence, expr := range cfg.Cron.Expressions {
		expressions[cronfanout.Cadence(cadence)] = expr
	}

	profileSets := make(map[cronfanout.Cadence]cronfanout.ProfileSet)
	passwords := make(map[string]string)

	for profileKey, p := range cfg.Cron.Profiles {
		cadence := cronfanout.Cadence(p.Cadence)
		set := profileSets[cadence]
		set.Profiles = append(set.Profiles, report.CronProfile{
			ProfileKey:  profileKey,
			Role:        p.RolePrefix,
			Counties:    p.Counties,
			ReportTypes: p.ReportTypes,
		})
		if set.DataFormat == "" {
			set.DataFormat = report.DataFormat(p.DataFormat)
		}
		if set.TargetSystem == "" {
			set.TargetSystem = p.TargetSystem
		}
		if set.ChunkSize == 0 {
			set.ChunkSize = p.ChunkSize
		}
		if set.Priority == 0 {
			set.Priority = p.Priority
		}
		profileSets[cadence] = set
		passwords[profileKey] = p.Password
	}

	return cronfanout.Config{
		Expressions: expressions,
		Profiles:    profileSets,
		Passwords:   passwords,
	}
}

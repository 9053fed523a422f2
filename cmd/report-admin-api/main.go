// Copyright 2025 James Ross
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caseworks/reportpipeline/internal/admission"
	"github.com/caseworks/reportpipeline/internal/config"
	"github.com/caseworks/reportpipeline/internal/forecast"
	"github.com/caseworks/reportpipeline/internal/jobstore"
	"github.com/caseworks/reportpipeline/internal/obs"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
)

var version = "dev"

func main() {
	var configPath string
	var listenAddr string
	var showVersion bool
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&configPath, "config", "config/config.yaml", "Path to YAML config")
	fs.StringVar(&listenAddr, "listen", ":8081", "HTTP listen address")
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

	estimateConfig := make(map[string]time.Duration, len(cfg.ReportTypeEstimateMin))
	for reportType, minutes := range cfg.ReportTypeEstimateMin {
		estimateConfig[reportType] = time.Duration(minutes) * time.Minute
	}
	estimator := forecast.NewEstimator(estimateConfig)

	handler := admission.NewHandler(store, estimator, logger)
	router := mux.NewRouter()
	handler.RegisterRoutes(router)

	metricsSrv := obs.StartMetricsServer(cfg)
	defer func() { _ = metricsSrv.Shutdown(context.Background()) }()

	srv := &http.Server{
		Addr:         listenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("report-admin-api listening", obs.String("addr", listenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("admin api server failed", obs.Err(err))
		}
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("signal received, shutting down", obs.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", obs.Err(err))
	}
	logger.Info("report-admin-api stopped")
}

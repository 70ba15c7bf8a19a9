package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"callwatch/internal/api"
	"callwatch/internal/config"
	"callwatch/internal/db"
	"callwatch/internal/engine"
	"callwatch/internal/logging"
	"callwatch/internal/providers"
	"callwatch/internal/source"
)

func main() {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to database
	dbConn, err := db.New(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatalf("Database connection failed: %v", err)
	}
	defer dbConn.Close()

	if err := dbConn.EnsureSchema(ctx); err != nil {
		log.Fatalf("Schema setup failed: %v", err)
	}

	// Assemble the evaluation pipeline
	transports := providers.Registry(cfg, logger)
	retry := engine.RetryConfig{
		MaxAttempts:    cfg.Dispatch.MaxAttempts,
		InitialBackoff: cfg.Dispatch.InitialBackoff,
		MaxBackoff:     cfg.Dispatch.MaxBackoff,
		Timeout:        cfg.Dispatch.Timeout,
	}
	dispatcher := engine.NewDispatcher(dbConn, transports, retry, logger)
	eng := engine.New(dbConn, dbConn, dbConn, dispatcher, cfg.Dispatch.Workers, logger)

	hub := api.NewHub(logger)
	defer hub.Close()
	eng.OnDispatch(hub.Notify)

	var wg sync.WaitGroup

	// Twilio polling source
	var poller *source.Poller
	if cfg.Twilio.AccountSID != "" && cfg.Twilio.AuthToken != "" {
		client := source.NewTwilioClient(cfg, logger)
		poller = source.NewPoller(client, eng, cfg.Poll.Interval, cfg.Poll.Lookback, cfg.Poll.PageLimit, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			poller.Run(ctx)
		}()
	} else {
		logger.Infof("Twilio credentials not configured, polling source disabled")
	}

	// Kafka source
	if cfg.Kafka.Broker != "" && cfg.Kafka.Topic != "" {
		consumer := source.NewKafkaSource(cfg, eng, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer consumer.Close()
			if err := consumer.Run(ctx); err != nil {
				logger.Errorf("Kafka source failed: %v", err)
			}
		}()
	}

	// Start API server
	var cycles api.CycleRunner
	if poller != nil {
		cycles = poller
	}
	router := api.NewRouter(dbConn, cycles, hub, logger, cfg)
	server := &http.Server{Addr: cfg.API.Port, Handler: router}

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Infof("Starting API server on %s", cfg.API.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("API server failed: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Infof("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("API server shutdown failed: %v", err)
	}
	wg.Wait()
	logger.Infof("Shutdown complete")
}

// Package main starts the delivery engine binary.
package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ibs-source/delivery-engine/internal/badger"
	"github.com/ibs-source/delivery-engine/internal/config"
	"github.com/ibs-source/delivery-engine/internal/engine"
	"github.com/ibs-source/delivery-engine/internal/keys"
	"github.com/ibs-source/delivery-engine/internal/log"
	"github.com/ibs-source/delivery-engine/internal/mqtt"
	"github.com/ibs-source/delivery-engine/internal/recovery"
	"github.com/ibs-source/delivery-engine/internal/redis"
)

// services holds everything that needs closing on shutdown.
type services struct {
	store  io.Closer
	client *mqtt.Client
	engine *engine.Engine
}

func run() int {
	logger := log.New()
	logger.Info("Starting delivery engine")

	cfg, err := loadAndLogConfig(logger)
	if err != nil {
		return 1
	}

	svc, err := initializeServices(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize services: %v", err)
		return 1
	}
	defer closeServices(svc, logger)

	return runMainLoop(svc, cfg, logger)
}

func loadAndLogConfig(logger *log.Logger) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration: %v", err)
		return nil, err
	}

	logger.Info("Configuration loaded successfully")
	logger.Info("MQTT: %s, Inbound: %s, Outbound: %s", cfg.MQTT.Broker, cfg.MQTT.InboundTopic, cfg.MQTT.OutboundTopic)
	logger.Info("Store: %s, Records key: %s", cfg.Engine.StoreBackend, cfg.Engine.RecordsKey)
	logger.Info("Recovery: max probe resends=%d, retention=%s", cfg.Engine.MaxProbeResends, cfg.Engine.RetentionWindow)
	return cfg, nil
}

// openStore opens the configured durable backend for rerequest records.
func openStore(cfg *config.Config, logger *log.Logger) (recovery.Store, io.Closer, error) {
	switch cfg.Engine.StoreBackend {
	case config.StoreBadger:
		store, err := badger.Open(&cfg.Badger, logger.Component("badger"))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open badger store: %w", err)
		}
		logger.Info("Opened badger store at %s", cfg.Badger.Dir)
		return store, store, nil
	default:
		client, err := redis.NewClient(&cfg.Redis, logger.Component("redis"))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Redis client: %w", err)
		}
		logger.Info("Connected to Redis")
		return client, client, nil
	}
}

func initializeServices(cfg *config.Config, logger *log.Logger) (*services, error) {
	backend, closer, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	svc := &services{store: closer}

	store := recovery.NewGuardedStore(backend, recovery.BreakerSettings{
		Name:             "records-" + cfg.Engine.StoreBackend,
		FailureThreshold: cfg.Engine.BreakerFailures,
		ResetTimeout:     cfg.Engine.BreakerResetTimeout,
	}, logger.Component("breaker"))

	identity, err := base64.StdEncoding.DecodeString(cfg.Engine.IdentityKey)
	if err != nil {
		closeServices(svc, logger)
		return nil, fmt.Errorf("invalid identity key: %w", err)
	}
	keyManager, err := keys.NewManager(identity, int32(cfg.Engine.SignedPreKeyID), logger.Component("keys"))
	if err != nil {
		closeServices(svc, logger)
		return nil, fmt.Errorf("failed to create key manager: %w", err)
	}

	client, err := mqtt.NewClient(&cfg.MQTT, logger.Component("mqtt"))
	if err != nil {
		closeServices(svc, logger)
		return nil, fmt.Errorf("failed to create MQTT client: %w", err)
	}
	svc.client = client

	svc.engine = engine.New(engine.Config{
		QueueCapacity:  cfg.Engine.QueueCapacity,
		DecryptTimeout: cfg.Engine.DecryptTimeout,
		StatsInterval:  cfg.Engine.StatsInterval,
		Recovery: recovery.Config{
			RecordsKey:   cfg.Engine.RecordsKey,
			MaxResends:   cfg.Engine.MaxProbeResends,
			Retention:    cfg.Engine.RetentionWindow,
			StoreTimeout: cfg.Engine.StoreTimeout,
		},
	}, client, keys.Passthrough{}, keyManager, store, newLogHandler(logger.Component("app")), logger)
	client.OnPacket(svc.engine.HandlePacket)

	if err := client.Connect(); err != nil {
		closeServices(svc, logger)
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	logger.Info("MQTT client started for %s", cfg.MQTT.Broker)
	return svc, nil
}

func closeServices(svc *services, logger *log.Logger) {
	if svc.engine != nil {
		svc.engine.Close()
	}
	if svc.client != nil {
		if err := svc.client.Close(); err != nil {
			logger.Error("Error closing MQTT client: %v", err)
		}
	}
	if svc.store != nil {
		if err := svc.store.Close(); err != nil {
			logger.Error("Error closing store: %v", err)
		}
	}
}

func runMainLoop(svc *services, cfg *config.Config, logger *log.Logger) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := svc.engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- err
		}
	}()

	select {
	case sig := <-sigChan:
		logger.Info("Received signal %v, initiating graceful shutdown", sig)
		cancel()
		return handleGracefulShutdown(done, cfg, logger)

	case err := <-errChan:
		logger.Error("Engine error: %v", err)
		return 1
	}
}

func handleGracefulShutdown(done <-chan struct{}, cfg *config.Config, logger *log.Logger) int {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Engine.ShutdownTimeout)
	defer shutdownCancel()

	select {
	case <-done:
		logger.Info("Graceful shutdown completed")
		return 0
	case <-shutdownCtx.Done():
		logger.Error("Shutdown timeout exceeded")
		return 1
	}
}

func main() {
	// Keep main minimal to ensure defers in run() execute correctly.
	os.Exit(run())
}

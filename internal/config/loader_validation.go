package config

import (
	"encoding/base64"
	"fmt"
)

// Validate checks configuration constraints
func Validate(cfg *Config) error {
	if err := validateEngine(&cfg.Engine); err != nil {
		return err
	}
	switch cfg.Engine.StoreBackend {
	case StoreRedis:
		if err := validateRedis(&cfg.Redis); err != nil {
			return err
		}
	case StoreBadger:
		if err := validateBadger(&cfg.Badger); err != nil {
			return err
		}
	}
	return validateMQTT(&cfg.MQTT)
}

// validateRedis validates Redis configuration
func validateRedis(cfg *RedisConfig) error {
	if cfg.Address == "" {
		return fmt.Errorf("redis address cannot be empty")
	}
	if cfg.DB < 0 {
		return fmt.Errorf("redis db cannot be negative")
	}
	return nil
}

// validateBadger validates the embedded store configuration
func validateBadger(cfg *BadgerConfig) error {
	if cfg.Dir == "" {
		return fmt.Errorf("badger dir cannot be empty")
	}
	return nil
}

// validateMQTT validates MQTT configuration
func validateMQTT(cfg *MQTTConfig) error {
	if cfg.Broker == "" {
		return fmt.Errorf("mqtt broker cannot be empty")
	}
	if cfg.ClientID == "" {
		return fmt.Errorf("mqtt client ID cannot be empty")
	}
	if cfg.InboundTopic == "" {
		return fmt.Errorf("mqtt inbound topic cannot be empty")
	}
	if cfg.OutboundTopic == "" {
		return fmt.Errorf("mqtt outbound topic cannot be empty")
	}
	if cfg.InboundTopic == cfg.OutboundTopic {
		return fmt.Errorf("mqtt inbound and outbound topics must differ")
	}
	if cfg.QoS > 2 {
		return fmt.Errorf("mqtt qos must be 0, 1 or 2")
	}
	return nil
}

// validateEngine validates engine configuration
func validateEngine(cfg *EngineConfig) error {
	if cfg.StoreBackend != StoreRedis && cfg.StoreBackend != StoreBadger {
		return fmt.Errorf("engine store backend must be %q or %q, got %q", StoreRedis, StoreBadger, cfg.StoreBackend)
	}
	if cfg.RecordsKey == "" {
		return fmt.Errorf("engine records key cannot be empty")
	}
	if cfg.MaxProbeResends < 1 {
		return fmt.Errorf("engine max probe resends must be positive")
	}
	if cfg.RetentionWindow <= 0 {
		return fmt.Errorf("engine retention window must be positive")
	}
	if cfg.QueueCapacity < 1 {
		return fmt.Errorf("engine queue capacity must be positive")
	}
	if cfg.DecryptTimeout <= 0 {
		return fmt.Errorf("engine decrypt timeout must be positive")
	}
	if cfg.StatsInterval < 0 {
		return fmt.Errorf("engine stats interval cannot be negative")
	}
	if cfg.BreakerFailures < 1 {
		return fmt.Errorf("engine breaker failures must be positive")
	}
	if cfg.IdentityKey != "" {
		if _, err := base64.StdEncoding.DecodeString(cfg.IdentityKey); err != nil {
			return fmt.Errorf("engine identity key is not valid base64: %w", err)
		}
	}
	return nil
}

package config

import (
	"flag"
	"fmt"
)

// Load loads configuration with precedence: defaults → environment variables → command line flags
// It performs validation and runtime transformations before returning the configuration.
func Load() (*Config, error) {
	if !flag.Parsed() {
		flag.Parse()
	}

	cfg := defaultConfig()

	loadRedisFromEnv(&cfg.Redis)
	loadBadgerFromEnv(&cfg.Badger)
	loadMQTTFromEnv(&cfg.MQTT)
	loadEngineFromEnv(&cfg.Engine)

	applyRedisFlags(&cfg.Redis)
	applyBadgerFlags(&cfg.Badger)
	applyMQTTFlags(&cfg.MQTT)
	applyEngineFlags(&cfg.Engine)

	if err := applyRuntimeValidation(cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

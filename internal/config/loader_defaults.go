package config

import "time"

// defaultRedisConfig returns the default Redis configuration
func defaultRedisConfig() RedisConfig {
	return RedisConfig{
		Address:      "localhost:6379",
		Password:     "",
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		PingTimeout:  5 * time.Second,
	}
}

// defaultBadgerConfig returns the default embedded store configuration
func defaultBadgerConfig() BadgerConfig {
	return BadgerConfig{
		Dir:        "./data/rerequests",
		SyncWrites: true,
	}
}

// defaultMQTTConfig returns the default MQTT configuration
func defaultMQTTConfig() MQTTConfig {
	return MQTTConfig{
		Broker:               "tcp://localhost:1883",
		ClientID:             "delivery-engine",
		InboundTopic:         "delivery/inbound",
		OutboundTopic:        "delivery/outbound",
		QoS:                  1,
		ConnectTimeout:       10 * time.Second,
		WriteTimeout:         30 * time.Second,
		MaxReconnectInterval: 10 * time.Second,
		SubscribeTimeout:     10 * time.Second,
		DisconnectTimeout:    1000,
		TLSEnabled:           false,
		InsecureSkip:         false,
		UseCertCNPrefix:      false,
	}
}

// defaultEngineConfig returns the default engine configuration
func defaultEngineConfig() EngineConfig {
	return EngineConfig{
		StoreBackend:        StoreRedis,
		RecordsKey:          "delivery:rerequest-records",
		MaxProbeResends:     5,
		RetentionWindow:     7 * 24 * time.Hour,
		QueueCapacity:       1024,
		DecryptTimeout:      30 * time.Second,
		StoreTimeout:        5 * time.Second,
		BreakerFailures:     5,
		BreakerResetTimeout: 30 * time.Second,
		ShutdownTimeout:     30 * time.Second,
		StatsInterval:       time.Minute,
		SignedPreKeyID:      1,
	}
}

// defaultConfig returns a complete configuration with all default values
func defaultConfig() *Config {
	return &Config{
		Redis:  defaultRedisConfig(),
		Badger: defaultBadgerConfig(),
		MQTT:   defaultMQTTConfig(),
		Engine: defaultEngineConfig(),
	}
}

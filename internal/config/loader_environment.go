package config

import (
	"os"
	"strconv"
	"time"
)

// loadRedisFromEnv loads Redis configuration from environment variables
func loadRedisFromEnv(cfg *RedisConfig) {
	if v := getEnvString("REDIS_ADDRESS"); v != "" {
		cfg.Address = v
	}
	if v := getEnvString("REDIS_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		cfg.DB = v
	}
	if v := getEnvDuration("REDIS_DIAL_TIMEOUT"); v != 0 {
		cfg.DialTimeout = v
	}
	if v := getEnvDuration("REDIS_READ_TIMEOUT"); v != 0 {
		cfg.ReadTimeout = v
	}
	if v := getEnvDuration("REDIS_WRITE_TIMEOUT"); v != 0 {
		cfg.WriteTimeout = v
	}
	if v := getEnvDuration("REDIS_PING_TIMEOUT"); v != 0 {
		cfg.PingTimeout = v
	}
}

// loadBadgerFromEnv loads embedded store configuration from environment variables
func loadBadgerFromEnv(cfg *BadgerConfig) {
	if v := getEnvString("BADGER_DIR"); v != "" {
		cfg.Dir = v
	}
	if v, ok := getEnvBool("BADGER_SYNC_WRITES"); ok {
		cfg.SyncWrites = v
	}
}

// loadMQTTFromEnv loads MQTT configuration from environment variables
func loadMQTTFromEnv(cfg *MQTTConfig) {
	loadMQTTStrings(cfg)
	loadMQTTInts(cfg)
	loadMQTTTimeouts(cfg)
	loadMQTTTLS(cfg)
}

func loadMQTTStrings(cfg *MQTTConfig) {
	if v := getEnvString("MQTT_BROKER"); v != "" {
		cfg.Broker = v
	}
	if v := getEnvString("MQTT_CLIENT_ID"); v != "" {
		cfg.ClientID = v
	}
	if v := getEnvString("MQTT_INBOUND_TOPIC"); v != "" {
		cfg.InboundTopic = v
	}
	if v := getEnvString("MQTT_OUTBOUND_TOPIC"); v != "" {
		cfg.OutboundTopic = v
	}
}

func loadMQTTInts(cfg *MQTTConfig) {
	if v, ok := getEnvInt("MQTT_QOS"); ok && v >= 0 && v <= 2 {
		cfg.QoS = byte(v) // #nosec G115 - validated range 0-2
	}
	if v, ok := getEnvInt("MQTT_DISCONNECT_TIMEOUT"); ok && v > 0 {
		cfg.DisconnectTimeout = uint(v) // #nosec G115 - validated positive
	}
}

func loadMQTTTimeouts(cfg *MQTTConfig) {
	if v := getEnvDuration("MQTT_CONNECT_TIMEOUT"); v != 0 {
		cfg.ConnectTimeout = v
	}
	if v := getEnvDuration("MQTT_WRITE_TIMEOUT"); v != 0 {
		cfg.WriteTimeout = v
	}
	if v := getEnvDuration("MQTT_MAX_RECONNECT_INTERVAL"); v != 0 {
		cfg.MaxReconnectInterval = v
	}
	if v := getEnvDuration("MQTT_SUBSCRIBE_TIMEOUT"); v != 0 {
		cfg.SubscribeTimeout = v
	}
}

func loadMQTTTLS(cfg *MQTTConfig) {
	if v := getEnvString("MQTT_CA_CERT"); v != "" {
		cfg.CACert = v
	}
	if v := getEnvString("MQTT_CLIENT_CERT"); v != "" {
		cfg.ClientCert = v
	}
	if v := getEnvString("MQTT_CLIENT_KEY"); v != "" {
		cfg.ClientKey = v
	}
	if v, ok := getEnvBool("MQTT_TLS_ENABLED"); ok {
		cfg.TLSEnabled = v
	}
	if v, ok := getEnvBool("MQTT_TLS_INSECURE_SKIP"); ok {
		cfg.InsecureSkip = v
	}
	if v, ok := getEnvBool("MQTT_USE_CERT_CN_PREFIX"); ok {
		cfg.UseCertCNPrefix = v
	}
}

// loadEngineFromEnv loads engine configuration from environment variables
func loadEngineFromEnv(cfg *EngineConfig) {
	if v := getEnvString("ENGINE_STORE_BACKEND"); v != "" {
		cfg.StoreBackend = v
	}
	if v := getEnvString("ENGINE_RECORDS_KEY"); v != "" {
		cfg.RecordsKey = v
	}
	if v := getEnvString("ENGINE_IDENTITY_KEY"); v != "" {
		cfg.IdentityKey = v
	}
	if v, ok := getEnvInt("ENGINE_SIGNED_PREKEY_ID"); ok {
		cfg.SignedPreKeyID = v
	}
	if v, ok := getEnvInt("ENGINE_MAX_PROBE_RESENDS"); ok {
		cfg.MaxProbeResends = v
	}
	if v, ok := getEnvInt("ENGINE_QUEUE_CAPACITY"); ok {
		cfg.QueueCapacity = v
	}
	if v, ok := getEnvInt("ENGINE_BREAKER_FAILURES"); ok {
		cfg.BreakerFailures = v
	}
	if v := getEnvDuration("ENGINE_RETENTION_WINDOW"); v != 0 {
		cfg.RetentionWindow = v
	}
	if v := getEnvDuration("ENGINE_DECRYPT_TIMEOUT"); v != 0 {
		cfg.DecryptTimeout = v
	}
	if v := getEnvDuration("ENGINE_STORE_TIMEOUT"); v != 0 {
		cfg.StoreTimeout = v
	}
	if v := getEnvDuration("ENGINE_BREAKER_RESET_TIMEOUT"); v != 0 {
		cfg.BreakerResetTimeout = v
	}
	if v := getEnvDuration("ENGINE_SHUTDOWN_TIMEOUT"); v != 0 {
		cfg.ShutdownTimeout = v
	}
	if v := getEnvDuration("ENGINE_STATS_INTERVAL"); v != 0 {
		cfg.StatsInterval = v
	}
}

// Helper functions for reading environment variables

func getEnvString(key string) string {
	return os.Getenv(key)
}

func getEnvInt(key string) (int, bool) {
	value := os.Getenv(key)
	if value == "" {
		return 0, false
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, false
	}
	return intValue, true
}

func getEnvDuration(key string) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return 0
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return duration
}

func getEnvBool(key string) (bool, bool) {
	value := os.Getenv(key)
	if value == "" {
		return false, false
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, false
	}
	return b, true
}

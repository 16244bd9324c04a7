package config

import (
	"flag"
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	clearTestEnv(t)
	resetTestFlags(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Redis.Address != "localhost:6379" {
		t.Errorf("Redis.Address = %s; want localhost:6379", cfg.Redis.Address)
	}
	if cfg.MQTT.Broker != "tcp://localhost:1883" {
		t.Errorf("MQTT.Broker = %s; want tcp://localhost:1883", cfg.MQTT.Broker)
	}
	if cfg.MQTT.QoS != 1 {
		t.Errorf("MQTT.QoS = %d; want 1", cfg.MQTT.QoS)
	}
	if cfg.Engine.StoreBackend != StoreRedis {
		t.Errorf("Engine.StoreBackend = %s; want redis", cfg.Engine.StoreBackend)
	}
	if cfg.Engine.MaxProbeResends != 5 {
		t.Errorf("Engine.MaxProbeResends = %d; want 5", cfg.Engine.MaxProbeResends)
	}
	if cfg.Engine.RetentionWindow != 7*24*time.Hour {
		t.Errorf("Engine.RetentionWindow = %v; want 168h", cfg.Engine.RetentionWindow)
	}
	if !cfg.Badger.SyncWrites {
		t.Error("Badger.SyncWrites = false; want true")
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	clearTestEnv(t)
	resetTestFlags(t)

	t.Setenv("REDIS_ADDRESS", "redis-env:6379")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("MQTT_BROKER", "tcp://mqtt-env:1883")
	t.Setenv("MQTT_QOS", "0")
	t.Setenv("MQTT_INBOUND_TOPIC", "env/in")
	t.Setenv("ENGINE_STORE_BACKEND", "Badger")
	t.Setenv("ENGINE_MAX_PROBE_RESENDS", "3")
	t.Setenv("ENGINE_RETENTION_WINDOW", "48h")
	t.Setenv("ENGINE_STATS_INTERVAL", "15s")
	t.Setenv("BADGER_SYNC_WRITES", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Redis.Address != "redis-env:6379" {
		t.Errorf("Redis.Address = %s; want redis-env:6379", cfg.Redis.Address)
	}
	if cfg.Redis.DB != 3 {
		t.Errorf("Redis.DB = %d; want 3", cfg.Redis.DB)
	}
	if cfg.MQTT.Broker != "tcp://mqtt-env:1883" {
		t.Errorf("MQTT.Broker = %s; want tcp://mqtt-env:1883", cfg.MQTT.Broker)
	}
	if cfg.MQTT.QoS != 0 {
		t.Errorf("MQTT.QoS = %d; want 0", cfg.MQTT.QoS)
	}
	if cfg.MQTT.InboundTopic != "env/in" {
		t.Errorf("MQTT.InboundTopic = %s; want env/in", cfg.MQTT.InboundTopic)
	}
	if cfg.Engine.StoreBackend != StoreBadger {
		t.Errorf("Engine.StoreBackend = %s; want badger", cfg.Engine.StoreBackend)
	}
	if cfg.Engine.StatsInterval != 15*time.Second {
		t.Errorf("Engine.StatsInterval = %s; want 15s", cfg.Engine.StatsInterval)
	}
	if cfg.Engine.MaxProbeResends != 3 {
		t.Errorf("Engine.MaxProbeResends = %d; want 3", cfg.Engine.MaxProbeResends)
	}
	if cfg.Engine.RetentionWindow != 48*time.Hour {
		t.Errorf("Engine.RetentionWindow = %v; want 48h", cfg.Engine.RetentionWindow)
	}
	if cfg.Badger.SyncWrites {
		t.Error("Badger.SyncWrites = true; want false")
	}
}

func TestLoad_FlagsPrecedence(t *testing.T) {
	clearTestEnv(t)
	t.Setenv("REDIS_ADDRESS", "redis-env:6379")
	t.Setenv("MQTT_BROKER", "tcp://mqtt-env:1883")
	t.Setenv("ENGINE_MAX_PROBE_RESENDS", "3")

	parseTestFlags(t,
		"-redis-address=redis-flag:6379",
		"-mqtt-broker=tcp://mqtt-flag:1883",
		"-engine-max-probe-resends=7",
		"-mqtt-tls-enabled=false",
	)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Redis.Address != "redis-flag:6379" {
		t.Errorf("Redis.Address = %s; want redis-flag:6379", cfg.Redis.Address)
	}
	if cfg.MQTT.Broker != "tcp://mqtt-flag:1883" {
		t.Errorf("MQTT.Broker = %s; want tcp://mqtt-flag:1883", cfg.MQTT.Broker)
	}
	if cfg.Engine.MaxProbeResends != 7 {
		t.Errorf("Engine.MaxProbeResends = %d; want 7", cfg.Engine.MaxProbeResends)
	}
	if cfg.MQTT.TLSEnabled {
		t.Error("MQTT.TLSEnabled = true; want false")
	}
}

func TestLoad_InvalidConfiguration(t *testing.T) {
	clearTestEnv(t)
	resetTestFlags(t)

	t.Setenv("ENGINE_STORE_BACKEND", "sqlite")

	if _, err := Load(); err == nil {
		t.Fatal("Load() error = nil; want error for unknown store backend")
	}
}

func TestApplyMQTTFlags(t *testing.T) {
	clearTestEnv(t)
	parseTestFlags(t,
		"-mqtt-client-id=flag-client",
		"-mqtt-qos=2",
		"-mqtt-outbound-topic=flag/out",
		"-mqtt-tls-enabled=true",
		"-mqtt-write-timeout=3s",
	)

	cfg := defaultMQTTConfig()
	applyMQTTFlags(&cfg)

	if cfg.ClientID != "flag-client" {
		t.Errorf("ClientID = %s; want flag-client", cfg.ClientID)
	}
	if cfg.QoS != 2 {
		t.Errorf("QoS = %d; want 2", cfg.QoS)
	}
	if cfg.OutboundTopic != "flag/out" {
		t.Errorf("OutboundTopic = %s; want flag/out", cfg.OutboundTopic)
	}
	if !cfg.TLSEnabled {
		t.Error("TLSEnabled = false; want true")
	}
	if cfg.WriteTimeout != 3*time.Second {
		t.Errorf("WriteTimeout = %v; want 3s", cfg.WriteTimeout)
	}
}

func TestApplyBadgerFlags_SyncWritesOnlyWhenSet(t *testing.T) {
	parseTestFlags(t, "-badger-dir=/tmp/x")

	cfg := BadgerConfig{Dir: "/data", SyncWrites: false}
	applyBadgerFlags(&cfg)

	if cfg.Dir != "/tmp/x" {
		t.Errorf("Dir = %s; want /tmp/x", cfg.Dir)
	}
	if cfg.SyncWrites {
		t.Error("SyncWrites flag default must not override when not set")
	}
}

func clearTestEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"REDIS_ADDRESS", "REDIS_PASSWORD", "REDIS_DB",
		"REDIS_DIAL_TIMEOUT", "REDIS_READ_TIMEOUT", "REDIS_WRITE_TIMEOUT", "REDIS_PING_TIMEOUT",
		"BADGER_DIR", "BADGER_SYNC_WRITES",
		"MQTT_BROKER", "MQTT_CLIENT_ID", "MQTT_INBOUND_TOPIC", "MQTT_OUTBOUND_TOPIC",
		"MQTT_QOS", "MQTT_CONNECT_TIMEOUT", "MQTT_WRITE_TIMEOUT",
		"MQTT_MAX_RECONNECT_INTERVAL", "MQTT_SUBSCRIBE_TIMEOUT", "MQTT_DISCONNECT_TIMEOUT",
		"MQTT_TLS_ENABLED", "MQTT_CA_CERT", "MQTT_CLIENT_CERT", "MQTT_CLIENT_KEY",
		"MQTT_TLS_INSECURE_SKIP", "MQTT_USE_CERT_CN_PREFIX",
		"ENGINE_STORE_BACKEND", "ENGINE_RECORDS_KEY", "ENGINE_IDENTITY_KEY", "ENGINE_SIGNED_PREKEY_ID",
		"ENGINE_MAX_PROBE_RESENDS", "ENGINE_QUEUE_CAPACITY", "ENGINE_BREAKER_FAILURES",
		"ENGINE_RETENTION_WINDOW", "ENGINE_DECRYPT_TIMEOUT", "ENGINE_STORE_TIMEOUT",
		"ENGINE_BREAKER_RESET_TIMEOUT", "ENGINE_SHUTDOWN_TIMEOUT", "ENGINE_STATS_INTERVAL",
	}
	for _, v := range envVars {
		t.Setenv(v, "")
		_ = os.Unsetenv(v)
	}
}

func resetTestFlags(t *testing.T) {
	t.Helper()
	parseTestFlags(t)
}

// parseTestFlags swaps in a fresh command line flag set parsed from args.
func parseTestFlags(t *testing.T, args ...string) {
	t.Helper()
	oldArgs := os.Args
	oldCommandLine := flag.CommandLine
	oldFlags := flags
	t.Cleanup(func() {
		os.Args = oldArgs
		flag.CommandLine = oldCommandLine
		flags = oldFlags
	})

	os.Args = append([]string{"test"}, args...)
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	flags = registerFlags(flag.CommandLine)
	if err := flag.CommandLine.Parse(os.Args[1:]); err != nil {
		t.Fatalf("failed to parse flags: %v", err)
	}
}

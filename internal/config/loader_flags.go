package config

import (
	"flag"
	"time"
)

// cliFlags holds the command line flags (precedence over environment variables)
type cliFlags struct {
	redisAddress      *string
	redisPassword     *string
	redisDB           *int
	redisDialTimeout  *time.Duration
	redisReadTimeout  *time.Duration
	redisWriteTimeout *time.Duration
	redisPingTimeout  *time.Duration

	badgerDir        *string
	badgerSyncWrites *bool

	mqttBroker            *string
	mqttClientID          *string
	mqttInboundTopic      *string
	mqttOutboundTopic     *string
	mqttQoS               *int
	mqttConnectTimeout    *time.Duration
	mqttWriteTimeout      *time.Duration
	mqttMaxReconnect      *time.Duration
	mqttSubscribeTimeout  *time.Duration
	mqttDisconnectTimeout *int
	mqttTLSEnabled        *bool
	mqttCACert            *string
	mqttClientCert        *string
	mqttClientKey         *string
	mqttTLSInsecureSkip   *bool
	mqttUseCertCNPrefix   *bool

	engineStoreBackend        *string
	engineRecordsKey          *string
	engineIdentityKey         *string
	engineSignedPreKeyID      *int
	engineMaxProbeResends     *int
	engineRetentionWindow     *time.Duration
	engineQueueCapacity       *int
	engineDecryptTimeout      *time.Duration
	engineStoreTimeout        *time.Duration
	engineBreakerFailures     *int
	engineBreakerResetTimeout *time.Duration
	engineShutdownTimeout     *time.Duration
	engineStatsInterval       *time.Duration
}

var flags = registerFlags(flag.CommandLine)

// registerFlags defines every configuration flag on fs
func registerFlags(fs *flag.FlagSet) *cliFlags {
	return &cliFlags{
		redisAddress:      fs.String("redis-address", "", "Redis address"),
		redisPassword:     fs.String("redis-password", "", "Redis password"),
		redisDB:           fs.Int("redis-db", -1, "Redis database number"),
		redisDialTimeout:  fs.Duration("redis-dial-timeout", 0, "Redis dial timeout"),
		redisReadTimeout:  fs.Duration("redis-read-timeout", 0, "Redis read timeout"),
		redisWriteTimeout: fs.Duration("redis-write-timeout", 0, "Redis write timeout"),
		redisPingTimeout:  fs.Duration("redis-ping-timeout", 0, "Redis ping timeout"),

		badgerDir:        fs.String("badger-dir", "", "Badger data directory"),
		badgerSyncWrites: fs.Bool("badger-sync-writes", true, "fsync every Badger write"),

		mqttBroker:            fs.String("mqtt-broker", "", "MQTT broker URL"),
		mqttClientID:          fs.String("mqtt-client-id", "", "MQTT client ID"),
		mqttInboundTopic:      fs.String("mqtt-inbound-topic", "", "MQTT topic carrying envelopes and acks"),
		mqttOutboundTopic:     fs.String("mqtt-outbound-topic", "", "MQTT topic for acks, receipts and rerequests"),
		mqttQoS:               fs.Int("mqtt-qos", -1, "MQTT QoS (0, 1, or 2)"),
		mqttConnectTimeout:    fs.Duration("mqtt-connect-timeout", 0, "MQTT connect timeout"),
		mqttWriteTimeout:      fs.Duration("mqtt-write-timeout", 0, "MQTT write timeout"),
		mqttMaxReconnect:      fs.Duration("mqtt-max-reconnect-interval", 0, "MQTT max reconnect interval"),
		mqttSubscribeTimeout:  fs.Duration("mqtt-subscribe-timeout", 0, "MQTT subscribe timeout"),
		mqttDisconnectTimeout: fs.Int("mqtt-disconnect-timeout", 0, "MQTT disconnect timeout (ms)"),
		mqttTLSEnabled:        fs.Bool("mqtt-tls-enabled", false, "Enable MQTT TLS"),
		mqttCACert:            fs.String("mqtt-ca-cert", "", "MQTT CA certificate path"),
		mqttClientCert:        fs.String("mqtt-client-cert", "", "MQTT client certificate path"),
		mqttClientKey:         fs.String("mqtt-client-key", "", "MQTT client key path"),
		mqttTLSInsecureSkip:   fs.Bool("mqtt-tls-insecure-skip", false, "Skip MQTT TLS verification"),
		mqttUseCertCNPrefix:   fs.Bool("mqtt-use-cert-cn-prefix", false, "Prefix topics with client cert CN"),

		engineStoreBackend:        fs.String("engine-store-backend", "", "Rerequest record store: redis or badger"),
		engineRecordsKey:          fs.String("engine-records-key", "", "Key holding the rerequest record map"),
		engineIdentityKey:         fs.String("engine-identity-key", "", "Base64 public identity key"),
		engineSignedPreKeyID:      fs.Int("engine-signed-prekey-id", 0, "Signed pre-key id"),
		engineMaxProbeResends:     fs.Int("engine-max-probe-resends", 0, "Rerequest cap for probe messages"),
		engineRetentionWindow:     fs.Duration("engine-retention-window", 0, "Age after which rerequest records are pruned"),
		engineQueueCapacity:       fs.Int("engine-queue-capacity", 0, "Serial queue buffer capacity"),
		engineDecryptTimeout:      fs.Duration("engine-decrypt-timeout", 0, "Per-envelope decrypt timeout"),
		engineStoreTimeout:        fs.Duration("engine-store-timeout", 0, "Durable store operation timeout"),
		engineBreakerFailures:     fs.Int("engine-breaker-failures", 0, "Consecutive store failures that open the breaker"),
		engineBreakerResetTimeout: fs.Duration("engine-breaker-reset-timeout", 0, "Time the store breaker stays open"),
		engineShutdownTimeout:     fs.Duration("engine-shutdown-timeout", 0, "Graceful shutdown timeout"),
		engineStatsInterval:       fs.Duration("engine-stats-interval", 0, "Interval between engine stats log lines"),
	}
}

// applyRedisFlags applies command line flags to Redis configuration
func applyRedisFlags(cfg *RedisConfig) {
	if *flags.redisAddress != "" {
		cfg.Address = *flags.redisAddress
	}
	if *flags.redisPassword != "" {
		cfg.Password = *flags.redisPassword
	}
	if *flags.redisDB >= 0 {
		cfg.DB = *flags.redisDB
	}
	if *flags.redisDialTimeout != 0 {
		cfg.DialTimeout = *flags.redisDialTimeout
	}
	if *flags.redisReadTimeout != 0 {
		cfg.ReadTimeout = *flags.redisReadTimeout
	}
	if *flags.redisWriteTimeout != 0 {
		cfg.WriteTimeout = *flags.redisWriteTimeout
	}
	if *flags.redisPingTimeout != 0 {
		cfg.PingTimeout = *flags.redisPingTimeout
	}
}

// applyBadgerFlags applies command line flags to the embedded store configuration
func applyBadgerFlags(cfg *BadgerConfig) {
	if *flags.badgerDir != "" {
		cfg.Dir = *flags.badgerDir
	}
	if isFlagSet("badger-sync-writes") {
		cfg.SyncWrites = *flags.badgerSyncWrites
	}
}

// applyMQTTFlags applies command line flags to MQTT configuration
func applyMQTTFlags(cfg *MQTTConfig) {
	applyMQTTFlagStrings(cfg)
	applyMQTTFlagInts(cfg)
	applyMQTTFlagTimeouts(cfg)
	applyMQTTFlagTLS(cfg)
}

func applyMQTTFlagStrings(cfg *MQTTConfig) {
	if *flags.mqttBroker != "" {
		cfg.Broker = *flags.mqttBroker
	}
	if *flags.mqttClientID != "" {
		cfg.ClientID = *flags.mqttClientID
	}
	if *flags.mqttInboundTopic != "" {
		cfg.InboundTopic = *flags.mqttInboundTopic
	}
	if *flags.mqttOutboundTopic != "" {
		cfg.OutboundTopic = *flags.mqttOutboundTopic
	}
}

func applyMQTTFlagInts(cfg *MQTTConfig) {
	if *flags.mqttQoS >= 0 && *flags.mqttQoS <= 2 {
		cfg.QoS = byte(*flags.mqttQoS) // #nosec G115 - validated range 0-2
	}
	if *flags.mqttDisconnectTimeout > 0 {
		cfg.DisconnectTimeout = uint(*flags.mqttDisconnectTimeout) // #nosec G115 - validated positive
	}
}

func applyMQTTFlagTimeouts(cfg *MQTTConfig) {
	if *flags.mqttConnectTimeout != 0 {
		cfg.ConnectTimeout = *flags.mqttConnectTimeout
	}
	if *flags.mqttWriteTimeout != 0 {
		cfg.WriteTimeout = *flags.mqttWriteTimeout
	}
	if *flags.mqttMaxReconnect != 0 {
		cfg.MaxReconnectInterval = *flags.mqttMaxReconnect
	}
	if *flags.mqttSubscribeTimeout != 0 {
		cfg.SubscribeTimeout = *flags.mqttSubscribeTimeout
	}
}

func applyMQTTFlagTLS(cfg *MQTTConfig) {
	if *flags.mqttCACert != "" {
		cfg.CACert = *flags.mqttCACert
	}
	if *flags.mqttClientCert != "" {
		cfg.ClientCert = *flags.mqttClientCert
	}
	if *flags.mqttClientKey != "" {
		cfg.ClientKey = *flags.mqttClientKey
	}
	// Bool flags only override when explicitly set
	if isFlagSet("mqtt-tls-enabled") {
		cfg.TLSEnabled = *flags.mqttTLSEnabled
	}
	if isFlagSet("mqtt-tls-insecure-skip") {
		cfg.InsecureSkip = *flags.mqttTLSInsecureSkip
	}
	if isFlagSet("mqtt-use-cert-cn-prefix") {
		cfg.UseCertCNPrefix = *flags.mqttUseCertCNPrefix
	}
}

// applyEngineFlags applies command line flags to engine configuration
func applyEngineFlags(cfg *EngineConfig) {
	if *flags.engineStoreBackend != "" {
		cfg.StoreBackend = *flags.engineStoreBackend
	}
	if *flags.engineRecordsKey != "" {
		cfg.RecordsKey = *flags.engineRecordsKey
	}
	if *flags.engineIdentityKey != "" {
		cfg.IdentityKey = *flags.engineIdentityKey
	}
	if *flags.engineSignedPreKeyID != 0 {
		cfg.SignedPreKeyID = *flags.engineSignedPreKeyID
	}
	if *flags.engineMaxProbeResends != 0 {
		cfg.MaxProbeResends = *flags.engineMaxProbeResends
	}
	if *flags.engineRetentionWindow != 0 {
		cfg.RetentionWindow = *flags.engineRetentionWindow
	}
	if *flags.engineQueueCapacity != 0 {
		cfg.QueueCapacity = *flags.engineQueueCapacity
	}
	if *flags.engineDecryptTimeout != 0 {
		cfg.DecryptTimeout = *flags.engineDecryptTimeout
	}
	if *flags.engineStoreTimeout != 0 {
		cfg.StoreTimeout = *flags.engineStoreTimeout
	}
	if *flags.engineBreakerFailures != 0 {
		cfg.BreakerFailures = *flags.engineBreakerFailures
	}
	if *flags.engineBreakerResetTimeout != 0 {
		cfg.BreakerResetTimeout = *flags.engineBreakerResetTimeout
	}
	if *flags.engineShutdownTimeout != 0 {
		cfg.ShutdownTimeout = *flags.engineShutdownTimeout
	}
	if *flags.engineStatsInterval != 0 {
		cfg.StatsInterval = *flags.engineStatsInterval
	}
}

// isFlagSet checks if a flag was explicitly set on the command line
func isFlagSet(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

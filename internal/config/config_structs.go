// Package config provides configuration loading and validation from environment variables and command line flags.
package config

import "time"

// Store backends for the rerequest record map.
const (
	StoreRedis  = "redis"
	StoreBadger = "badger"
)

// Config holds the complete configuration
type Config struct {
	Redis  RedisConfig
	Badger BadgerConfig
	MQTT   MQTTConfig
	Engine EngineConfig
}

// RedisConfig holds the Redis durable store configuration
type RedisConfig struct {
	Address      string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PingTimeout  time.Duration
}

// BadgerConfig holds the embedded durable store configuration
type BadgerConfig struct {
	Dir        string
	SyncWrites bool
}

// MQTTConfig holds MQTT transport configuration
type MQTTConfig struct {
	Broker               string
	ClientID             string
	InboundTopic         string // envelopes and server acks addressed to us
	OutboundTopic        string // acks, receipts and rerequests we emit
	QoS                  byte
	ConnectTimeout       time.Duration
	WriteTimeout         time.Duration
	MaxReconnectInterval time.Duration
	SubscribeTimeout     time.Duration
	DisconnectTimeout    uint // Milliseconds for graceful disconnect
	// TLS Configuration
	TLSEnabled      bool
	CACert          string
	ClientCert      string
	ClientKey       string
	InsecureSkip    bool
	UseCertCNPrefix bool // If true, prefix topics with cert CN for ACL constraints
}

// EngineConfig holds delivery and recovery engine settings
type EngineConfig struct {
	StoreBackend        string
	RecordsKey          string // well-known key of the rerequest record blob
	MaxProbeResends     int
	RetentionWindow     time.Duration
	QueueCapacity       int
	DecryptTimeout      time.Duration
	StoreTimeout        time.Duration
	BreakerFailures     int
	BreakerResetTimeout time.Duration
	ShutdownTimeout     time.Duration
	StatsInterval       time.Duration // 0 disables periodic stats logging
	IdentityKey         string // base64 public identity key
	SignedPreKeyID      int
}

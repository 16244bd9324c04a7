// Package mqtt provides the MQTT transport the delivery engine sends and
// receives packets through.
package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ibs-source/delivery-engine/internal/config"
	"github.com/ibs-source/delivery-engine/internal/log"
)

// Client publishes outbound packets and delivers inbound ones to a handler.
type Client struct {
	client            mqtt.Client
	inboundTopic      string
	outboundTopic     string
	qos               byte
	connectTimeout    time.Duration
	writeTimeout      time.Duration
	subscribeTimeout  time.Duration
	disconnectTimeout uint
	mu                sync.RWMutex
	packetHandler     func([]byte)
	connectHandlers   []func()
	log               *log.Logger
}

// NewClient creates a new MQTT client. Call Connect after registering
// handlers so the first connection is reported too.
func NewClient(cfg *config.MQTTConfig, logger *log.Logger) (*Client, error) {
	c := newClient(cfg, logger)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetWriteTimeout(cfg.WriteTimeout)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetMaxReconnectInterval(cfg.MaxReconnectInterval)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOrderMatters(true) // inbound packets reach the engine in arrival order

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		if err != nil {
			logger.Error("MQTT connection lost: %v", err)
		}
	})

	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		logger.Info("MQTT reconnecting...")
	})

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		logger.Info("MQTT connected successfully")
		c.handleConnect()
	})

	// Configure TLS if enabled
	if cfg.TLSEnabled {
		tlsConfig, err := newTLSConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
	}

	c.client = mqtt.NewClient(opts)
	return c, nil
}

func newClient(cfg *config.MQTTConfig, logger *log.Logger) *Client {
	return &Client{
		inboundTopic:      cfg.InboundTopic,
		outboundTopic:     cfg.OutboundTopic,
		qos:               cfg.QoS,
		connectTimeout:    cfg.ConnectTimeout,
		writeTimeout:      cfg.WriteTimeout,
		subscribeTimeout:  cfg.SubscribeTimeout,
		disconnectTimeout: cfg.DisconnectTimeout,
		log:               logger,
	}
}

// newTLSConfig creates a TLS configuration from MQTT config
func newTLSConfig(cfg *config.MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: cfg.InsecureSkip, // #nosec G402 - configurable for testing environments
		MinVersion:         tls.VersionTLS12,
	}

	// Load CA certificate if provided
	if cfg.CACert != "" {
		caCert, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert: %w", err)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA cert")
		}
		tlsConfig.RootCAs = caCertPool
	}

	// Load client certificate and key if provided
	if cfg.ClientCert != "" && cfg.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load client cert/key: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// Connect starts the connection. With connect retry enabled paho keeps
// trying in the background, so a timeout here is only logged.
func (c *Client) Connect() error {
	token := c.client.Connect()
	if !token.WaitTimeout(c.connectTimeout) {
		c.log.Warn("MQTT broker not reachable yet, retrying in background")
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT: %w", err)
	}
	return nil
}

// OnPacket registers the handler for packets arriving on the inbound topic.
func (c *Client) OnPacket(handler func([]byte)) {
	c.mu.Lock()
	c.packetHandler = handler
	c.mu.Unlock()
}

// OnConnectionEstablished registers fn to run after every (re)connection,
// once the inbound subscription is in place.
func (c *Client) OnConnectionEstablished(fn func()) {
	c.mu.Lock()
	c.connectHandlers = append(c.connectHandlers, fn)
	c.mu.Unlock()
}

// IsConnected reports whether the broker connection is currently up.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnectionOpen()
}

// Send publishes packet on the outbound topic without waiting for the write.
// It returns false when the packet could not be handed to the connection.
func (c *Client) Send(packet []byte) bool {
	if !c.IsConnected() {
		return false
	}
	token := c.client.Publish(c.outboundTopic, c.qos, false, packet)
	go c.observe(token)
	return true
}

// observe logs the outcome of an asynchronous publish.
func (c *Client) observe(token mqtt.Token) {
	if !token.WaitTimeout(c.writeTimeout) {
		c.log.Warn("MQTT publish to %s timed out", c.outboundTopic)
		return
	}
	if err := token.Error(); err != nil {
		c.log.Error("MQTT publish to %s failed: %v", c.outboundTopic, err)
	}
}

// handleConnect subscribes the inbound topic and notifies connect handlers.
func (c *Client) handleConnect() {
	if err := c.subscribeInbound(); err != nil {
		c.log.Error("%v", err)
	}

	c.mu.RLock()
	handlers := make([]func(), len(c.connectHandlers))
	copy(handlers, c.connectHandlers)
	c.mu.RUnlock()

	for _, fn := range handlers {
		fn()
	}
}

func (c *Client) subscribeInbound() error {
	token := c.client.Subscribe(c.inboundTopic, c.qos, func(_ mqtt.Client, msg mqtt.Message) {
		c.handlePacket(msg.Payload())
	})

	if !token.WaitTimeout(c.subscribeTimeout) {
		return fmt.Errorf("mqtt inbound subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to inbound topic: %w", err)
	}
	return nil
}

// handlePacket forwards an inbound payload to the registered handler
func (c *Client) handlePacket(payload []byte) {
	c.mu.RLock()
	handler := c.packetHandler
	c.mu.RUnlock()

	if handler == nil {
		return
	}
	handler(payload)
}

// Close disconnects from the MQTT broker
func (c *Client) Close() error {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(c.disconnectTimeout)
	}
	return nil
}

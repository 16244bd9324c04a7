package mqtt

// Transport is the send/receive primitive the delivery engine runs on.
// Inbound packets are pushed to the handler given to OnPacket.
type Transport interface {
	Send(packet []byte) bool
	IsConnected() bool
	OnConnectionEstablished(fn func())
	OnPacket(handler func([]byte))
	Close() error
}

// Ensure Client implements Transport
var _ Transport = (*Client)(nil)

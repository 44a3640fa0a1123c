package losantmqtt

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
)

// Transport selects the network transport used for the MQTT connection.
type Transport string

// Supported transports.
const (
	// TransportTCP is the standard MQTT transport.
	TransportTCP Transport = "tcp"

	// TransportWebSocket tunnels MQTT over a WebSocket connection,
	// for environments where only HTTP(S) egress is available.
	TransportWebSocket Transport = "websockets"
)

// Connection constants.
const (
	// DefaultEndpoint is the Losant platform broker host.
	DefaultEndpoint = "broker.losant.com"

	// keepAlive is the fixed keep-alive interval for the connection.
	keepAlive = 15 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultSubscribeTimeout is the maximum time to wait for subscribe acknowledgment.
	defaultSubscribeTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// wsPath is the WebSocket endpoint path on the broker.
	wsPath = "/mqtt"

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// Ports by security and transport combination.
const (
	portTCP             = 1883
	portTCPSecure       = 8883
	portWebSocket       = 80
	portWebSocketSecure = 443
)

// Option configures a Device at construction time.
type Option func(*Device)

// WithInsecure disables TLS. The connection uses the plain MQTT port
// (1883, or 80 over WebSocket) and credentials travel unencrypted.
// Intended for development only.
func WithInsecure() Option {
	return func(d *Device) {
		d.secure = false
	}
}

// WithTransport selects the connection transport. The default is TransportTCP.
func WithTransport(transport Transport) Option {
	return func(d *Device) {
		d.transport = transport
	}
}

// WithEndpoint overrides the broker host. The default is broker.losant.com.
func WithEndpoint(host string) Option {
	return func(d *Device) {
		d.endpoint = host
	}
}

// WithRootCAFile pins the TLS root certificate authority to the PEM bundle
// at the given path. By default the system certificate pool is used.
func WithRootCAFile(path string) Option {
	return func(d *Device) {
		d.rootCAFile = path
	}
}

// WithLogger sets the logging collaborator. *slog.Logger satisfies Logger
// directly. The default discards all output.
func WithLogger(logger Logger) Option {
	return func(d *Device) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithQoS sets the quality-of-service level used when publishing state and
// subscribing to commands. The default is 0; the value is passed through
// to the underlying MQTT library unmodified.
func WithQoS(qos byte) Option {
	return func(d *Device) {
		d.qos = qos
	}
}

// brokerURL derives the broker URL from the security flag and transport.
//
// Port selection: plain TCP 1883, secure TCP 8883, plain WebSocket 80,
// secure WebSocket 443.
func (d *Device) brokerURL() string {
	if d.transport == TransportWebSocket {
		if d.secure {
			return fmt.Sprintf("wss://%s:%d%s", d.endpoint, portWebSocketSecure, wsPath)
		}
		return fmt.Sprintf("ws://%s:%d%s", d.endpoint, portWebSocket, wsPath)
	}
	if d.secure {
		return fmt.Sprintf("ssl://%s:%d", d.endpoint, portTCPSecure)
	}
	return fmt.Sprintf("tcp://%s:%d", d.endpoint, portTCP)
}

// clientOptions builds the underlying MQTT client options for a connection.
//
// In blocking mode the library's own reconnect loop is enabled, mirroring
// the behaviour of a blocking network loop that retries internally. In
// non-blocking mode reconnection is driven by the device's own
// single-attempt policy, so auto-reconnect is disabled.
func (d *Device) clientOptions(blocking bool) (*pahomqtt.ClientOptions, error) {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(d.brokerURL())
	opts.SetClientID(d.id)
	opts.SetUsername(d.key)
	opts.SetPassword(d.secret)
	opts.SetKeepAlive(keepAlive)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(blocking)
	opts.SetConnectRetry(false)

	if d.secure {
		tlsConfig := &tls.Config{
			MinVersion: tlsMinVersion,
		}
		if d.rootCAFile != "" {
			pool, err := loadRootCAs(d.rootCAFile)
			if err != nil {
				return nil, err
			}
			tlsConfig.RootCAs = pool
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		d.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		d.handleConnectionLost(err)
	})

	return opts, nil
}

// loadRootCAs reads a PEM certificate bundle into a pool.
func loadRootCAs(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading root CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("root CA file %s contains no valid certificates", path)
	}
	return pool, nil
}

// credentialRejections are the CONNACK results that cannot succeed on
// retry: bad protocol version, identifier rejected, bad username or
// password, and not authorised. Server-unavailable (0x03) is deliberately
// excluded; it is transient and handled by the reconnect policy.
var credentialRejections = []byte{
	packets.ErrRefusedBadProtocolVersion,
	packets.ErrRefusedIDRejected,
	packets.ErrRefusedBadUsernameOrPassword,
	packets.ErrRefusedNotAuthorised,
}

// isCredentialError reports whether a connection error is a broker
// credential rejection.
func isCredentialError(err error) bool {
	for _, code := range credentialRejections {
		if errors.Is(err, packets.ConnErrors[code]) {
			return true
		}
	}
	return false
}

package losantmqtt

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// State is the device state reported to the platform: a mapping from
// attribute name to a JSON-serializable value.
type State map[string]any

// Logger is the logging collaborator injected into a Device.
// *slog.Logger satisfies it directly.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger discards all output. It is the default when no logger is injected.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// connection is the surface of the underlying MQTT client used by the
// Device. pahomqtt.Client satisfies it; tests substitute a fake.
type connection interface {
	Connect() pahomqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload any) pahomqtt.Token
	Subscribe(topic string, qos byte, callback pahomqtt.MessageHandler) pahomqtt.Token
	IsConnectionOpen() bool
}

// stateEnvelope is the wire payload for state reports. Field order matches
// the platform convention of lexicographically sorted keys.
type stateEnvelope struct {
	Data State `json:"data"`
	Time int64 `json:"time"`
}

// Device communicates as a particular device over MQTT with the Losant
// platform: it reports device state and receives commands.
//
// A Device is constructed once with immutable credentials. The underlying
// connection handle is created by Connect, destroyed by Close, and recreated
// only by the reconnect policy.
//
// Thread Safety:
//   - All exported methods are safe for concurrent use.
//   - Observers run synchronously on the network goroutine; see Observer.
type Device struct {
	id     string
	key    string
	secret string

	secure     bool
	transport  Transport
	endpoint   string
	rootCAFile string
	qos        byte

	logger Logger

	// newClient creates the underlying MQTT client. Overridable in tests.
	newClient func(*pahomqtt.ClientOptions) connection

	mu             sync.RWMutex
	client         connection
	blocking       bool
	initialConnect bool
	done           chan struct{}

	obsMu          sync.RWMutex
	observers      map[Event][]observerEntry
	nextObserverID uint64
}

// New creates a Device for the given identity.
//
// Parameters:
//   - deviceID: Losant device ID, also used as the MQTT client ID
//   - key: Losant application access key (MQTT username)
//   - secret: Losant application access secret (MQTT password)
//   - opts: optional configuration (transport, TLS, endpoint, logger, QoS)
//
// The device is secure (TLS) over standard TCP by default.
func New(deviceID, key, secret string, opts ...Option) *Device {
	d := &Device{
		id:        deviceID,
		key:       key,
		secret:    secret,
		secure:    true,
		transport: TransportTCP,
		endpoint:  DefaultEndpoint,
		logger:    noopLogger{},
		observers: make(map[Event][]observerEntry),
		newClient: func(o *pahomqtt.ClientOptions) connection {
			return pahomqtt.NewClient(o)
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ID returns the device ID.
func (d *Device) ID() string { return d.id }

// CommandTopic returns the command topic for this device.
func (d *Device) CommandTopic() string { return CommandTopic(d.id) }

// StateTopic returns the state topic for this device.
func (d *Device) StateTopic() string { return StateTopic(d.id) }

// Connect establishes a connection to the Losant platform.
//
// When blocking is true, Connect does not return until the connection is
// closed; the underlying library services the network and retries lost
// connections internally. When blocking is false, Connect returns once the
// broker has accepted the connection and the caller must drive Loop to
// trigger reconnection after failures.
//
// Connect is a no-op when a connection handle already exists.
//
// Returns:
//   - error: ErrInvalidCredentials when the broker rejects the device
//     credentials (fatal, retry cannot succeed), ErrConnectionFailed for
//     any other connection failure, nil on success or no-op.
func (d *Device) Connect(blocking bool) error {
	d.mu.Lock()
	if d.client != nil {
		d.mu.Unlock()
		return nil
	}

	opts, err := d.clientOptions(blocking)
	if err != nil {
		d.mu.Unlock()
		return err
	}

	d.blocking = blocking
	d.initialConnect = true
	d.done = make(chan struct{})
	client := d.newClient(opts)
	d.client = client
	done := d.done
	d.mu.Unlock()

	d.logger.Debug("connecting to Losant", "device_id", d.id)

	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		d.mu.Lock()
		d.client = nil
		d.mu.Unlock()
		if isCredentialError(err) {
			return fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
		}
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	if blocking {
		<-done
	}
	return nil
}

// Loop services the connection once in non-blocking mode.
//
// A healthy tick waits out the timeout (or until Close) to pace the
// caller's loop. An unhealthy tick triggers exactly one reconnect attempt;
// failure of that attempt is logged and swallowed, and the next Loop call
// triggers another. The exception is a broker credential rejection, which
// is returned as ErrInvalidCredentials since retrying cannot succeed.
//
// Calling Loop on a device connected in blocking mode is a programming
// error and returns ErrBlockingLoop immediately.
func (d *Device) Loop(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = time.Second
	}

	d.mu.RLock()
	client, blocking, done := d.client, d.blocking, d.done
	d.mu.RUnlock()

	if blocking {
		return ErrBlockingLoop
	}
	if client == nil {
		return nil
	}

	if !client.IsConnectionOpen() {
		d.logger.Debug("attempting another reconnect", "device_id", d.id)
		if err := d.reconnect(client); err != nil && isCredentialError(err) {
			return fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
		}
		return nil
	}

	select {
	case <-done:
	case <-time.After(timeout):
	}
	return nil
}

// IsConnected reports whether a connection handle exists and the
// underlying connection is currently open.
func (d *Device) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.client != nil && d.client.IsConnectionOpen()
}

// SendState reports device state to the platform.
//
// The payload is a JSON object with exactly two keys, serialized in sorted
// order: "time" (epoch milliseconds resolved from ts) and "data" (the given
// state mapping).
//
// Returns:
//   - error: ErrNotConnected when no connection handle exists (reported as
//     an error value, never a panic), ErrPublishFailed when the publish is
//     not acknowledged, nil on success.
func (d *Device) SendState(state State, ts StateTime) error {
	d.logger.Debug("sending state", "device_id", d.id)

	d.mu.RLock()
	client, qos := d.client, d.qos
	d.mu.RUnlock()

	if client == nil {
		return ErrNotConnected
	}

	payload, err := json.Marshal(stateEnvelope{
		Data: state,
		Time: ts.epochMillis(),
	})
	if err != nil {
		return fmt.Errorf("encoding state payload: %w", err)
	}

	token := client.Publish(d.StateTopic(), qos, false, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Close gracefully disconnects from the platform, clears the connection
// handle, and fires the close event. No-op when not connected.
func (d *Device) Close() error {
	d.mu.Lock()
	client := d.client
	if client == nil {
		d.mu.Unlock()
		return nil
	}
	d.client = nil
	done := d.done
	d.done = nil
	d.mu.Unlock()

	if client.IsConnectionOpen() {
		client.Disconnect(defaultDisconnectQuiesce)
	}

	d.logger.Debug("connection closed", "device_id", d.id)
	d.fireEvent(EventClose, nil)
	if done != nil {
		close(done)
	}
	return nil
}

// handleConnect runs on every accepted connection. It subscribes to the
// command topic, then fires the connect event on the first successful
// connection and the reconnect event on every one after that.
func (d *Device) handleConnect() {
	d.mu.Lock()
	client := d.client
	first := d.initialConnect
	d.initialConnect = false
	qos := d.qos
	d.mu.Unlock()

	if client == nil {
		return
	}

	token := client.Subscribe(d.CommandTopic(), qos, d.commandHandler())
	if !token.WaitTimeout(defaultSubscribeTimeout) || token.Error() != nil {
		d.logger.Warn("command topic subscription failed",
			"device_id", d.id,
			"topic", d.CommandTopic(),
			"error", token.Error(),
		)
	}

	if first {
		d.logger.Debug("successfully connected", "device_id", d.id)
		d.fireEvent(EventConnect, nil)
	} else {
		d.logger.Debug("successfully reconnected", "device_id", d.id)
		d.fireEvent(EventReconnect, nil)
	}
}

// handleConnectionLost runs when an established connection terminates
// abnormally. In blocking mode the underlying library retries internally,
// so the device's own reconnect policy is suppressed.
func (d *Device) handleConnectionLost(err error) {
	d.mu.RLock()
	client, blocking := d.client, d.blocking
	d.mu.RUnlock()

	if client == nil || blocking {
		return
	}

	d.logger.Debug("connection abnormally ended, reconnecting",
		"device_id", d.id,
		"error", err,
	)
	d.reconnect(client) //nolint:errcheck // failure is logged inside, next Loop retries
}

// reconnect performs a single reconnect attempt. Failures are logged and
// returned to the caller for classification; they are never fatal here.
func (d *Device) reconnect(client connection) error {
	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		d.logger.Debug("reconnect attempt failed",
			"device_id", d.id,
			"error", err,
		)
		return err
	}
	return nil
}

// commandHandler adapts the underlying library's message callback to the
// command event. Empty payloads are ignored; malformed JSON is logged and
// dropped rather than crashing the delivery path.
func (d *Device) commandHandler() pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		d.handleCommand(msg.Payload())
	}
}

// handleCommand decodes a command payload and fires the command event.
func (d *Device) handleCommand(payload []byte) {
	d.logger.Debug("received command", "device_id", d.id)
	if len(payload) == 0 {
		return
	}
	decoded, err := decodeCommand(payload)
	if err != nil {
		d.logger.Debug("ignoring malformed command payload",
			"device_id", d.id,
			"error", err,
		)
		return
	}
	d.fireEvent(EventCommand, decoded)
}

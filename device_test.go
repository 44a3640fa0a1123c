package losantmqtt

import (
	"errors"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
)

// =============================================================================
// Fakes
// =============================================================================

// fakeToken is a completed paho token carrying a fixed result.
type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                   { return t.err }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type publishCall struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeConnection implements the connection interface for broker-free tests.
type fakeConnection struct {
	open         bool
	connectErr   error
	publishErr   error
	subscribeErr error

	connectCalls    int
	disconnectCalls int
	publishes       []publishCall
	subscriptions   []string
}

func (c *fakeConnection) Connect() pahomqtt.Token {
	c.connectCalls++
	if c.connectErr == nil {
		c.open = true
	}
	return &fakeToken{err: c.connectErr}
}

func (c *fakeConnection) Disconnect(uint) {
	c.disconnectCalls++
	c.open = false
}

func (c *fakeConnection) Publish(topic string, qos byte, retained bool, payload any) pahomqtt.Token {
	raw, _ := payload.([]byte)
	c.publishes = append(c.publishes, publishCall{topic: topic, qos: qos, retained: retained, payload: raw})
	return &fakeToken{err: c.publishErr}
}

func (c *fakeConnection) Subscribe(topic string, _ byte, _ pahomqtt.MessageHandler) pahomqtt.Token {
	c.subscriptions = append(c.subscriptions, topic)
	return &fakeToken{err: c.subscribeErr}
}

func (c *fakeConnection) IsConnectionOpen() bool { return c.open }

// newTestDevice returns a device wired to a fake connection factory.
func newTestDevice(conn *fakeConnection) *Device {
	d := New("device_id", "device_key", "device_secret")
	d.newClient = func(*pahomqtt.ClientOptions) connection { return conn }
	return d
}

// =============================================================================
// Construction
// =============================================================================

func TestNewDefaults(t *testing.T) {
	d := New("device_id", "device_key", "device_secret")

	if !d.secure {
		t.Error("secure = false, want true by default")
	}
	if d.transport != TransportTCP {
		t.Errorf("transport = %q, want %q", d.transport, TransportTCP)
	}
	if d.endpoint != DefaultEndpoint {
		t.Errorf("endpoint = %q, want %q", d.endpoint, DefaultEndpoint)
	}
	if got := d.CommandTopic(); got != "losant/device_id/command" {
		t.Errorf("CommandTopic() = %q, want %q", got, "losant/device_id/command")
	}
	if got := d.StateTopic(); got != "losant/device_id/state" {
		t.Errorf("StateTopic() = %q, want %q", got, "losant/device_id/state")
	}
}

func TestBrokerURL(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		want string
	}{
		{"secure TCP", nil, "ssl://broker.losant.com:8883"},
		{"plain TCP", []Option{WithInsecure()}, "tcp://broker.losant.com:1883"},
		{"secure WebSocket", []Option{WithTransport(TransportWebSocket)}, "wss://broker.losant.com:443/mqtt"},
		{"plain WebSocket", []Option{WithTransport(TransportWebSocket), WithInsecure()}, "ws://broker.losant.com:80/mqtt"},
		{"custom endpoint", []Option{WithEndpoint("broker.example.com"), WithInsecure()}, "tcp://broker.example.com:1883"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New("device_id", "k", "s", tt.opts...)
			if got := d.brokerURL(); got != tt.want {
				t.Errorf("brokerURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

// =============================================================================
// Connect
// =============================================================================

func TestConnectNonBlocking(t *testing.T) {
	conn := &fakeConnection{}
	d := newTestDevice(conn)

	if err := d.Connect(false); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if conn.connectCalls != 1 {
		t.Errorf("connect calls = %d, want 1", conn.connectCalls)
	}
	if !d.IsConnected() {
		t.Error("IsConnected() = false after Connect(), want true")
	}
}

func TestConnectNoOpWhenHandleExists(t *testing.T) {
	conn := &fakeConnection{}
	d := newTestDevice(conn)
	d.client = conn

	if err := d.Connect(false); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if conn.connectCalls != 0 {
		t.Errorf("connect calls = %d, want 0 (no-op when handle exists)", conn.connectCalls)
	}
}

func TestConnectInvalidCredentials(t *testing.T) {
	conn := &fakeConnection{
		connectErr: packets.ConnErrors[packets.ErrRefusedBadUsernameOrPassword],
	}
	d := newTestDevice(conn)

	err := d.Connect(false)
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("Connect() error = %v, want ErrInvalidCredentials", err)
	}
	if d.client != nil {
		t.Error("client handle not cleared after fatal connect failure")
	}
}

func TestConnectFailure(t *testing.T) {
	conn := &fakeConnection{
		connectErr: errors.New("connection refused"),
	}
	d := newTestDevice(conn)

	err := d.Connect(false)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

// =============================================================================
// Connect callback
// =============================================================================

func TestHandleConnectFiresConnectThenReconnect(t *testing.T) {
	conn := &fakeConnection{open: true}
	d := newTestDevice(conn)
	d.client = conn
	d.initialConnect = true

	var fired []Event
	d.AddEventObserver(EventConnect, func(*Device, any) { fired = append(fired, EventConnect) })
	d.AddEventObserver(EventReconnect, func(*Device, any) { fired = append(fired, EventReconnect) })

	d.handleConnect()
	d.handleConnect()

	if len(fired) != 2 || fired[0] != EventConnect || fired[1] != EventReconnect {
		t.Errorf("fired events = %v, want [connect reconnect]", fired)
	}
	if len(conn.subscriptions) != 2 || conn.subscriptions[0] != "losant/device_id/command" {
		t.Errorf("subscriptions = %v, want command topic on every connect", conn.subscriptions)
	}
}

// =============================================================================
// Loop
// =============================================================================

func TestLoopBlockingModeMisuse(t *testing.T) {
	conn := &fakeConnection{open: true}
	d := newTestDevice(conn)
	d.client = conn
	d.blocking = true

	if err := d.Loop(10 * time.Millisecond); !errors.Is(err, ErrBlockingLoop) {
		t.Errorf("Loop() error = %v, want ErrBlockingLoop", err)
	}
}

func TestLoopNoClient(t *testing.T) {
	d := New("device_id", "k", "s")
	if err := d.Loop(10 * time.Millisecond); err != nil {
		t.Errorf("Loop() without client error = %v, want nil", err)
	}
}

func TestLoopTriggersSingleReconnect(t *testing.T) {
	conn := &fakeConnection{}
	d := newTestDevice(conn)
	d.client = conn

	if err := d.Loop(10 * time.Millisecond); err != nil {
		t.Fatalf("Loop() error = %v", err)
	}
	if conn.connectCalls != 1 {
		t.Errorf("connect calls = %d, want exactly 1 reconnect attempt", conn.connectCalls)
	}
}

func TestLoopSwallowsReconnectFailure(t *testing.T) {
	conn := &fakeConnection{connectErr: errors.New("network unreachable")}
	d := newTestDevice(conn)
	d.client = conn

	if err := d.Loop(10 * time.Millisecond); err != nil {
		t.Errorf("Loop() error = %v, want reconnect failure swallowed", err)
	}

	// Each subsequent tick triggers another single attempt.
	if err := d.Loop(10 * time.Millisecond); err != nil {
		t.Errorf("Loop() error = %v", err)
	}
	if conn.connectCalls != 2 {
		t.Errorf("connect calls = %d, want 2", conn.connectCalls)
	}
}

func TestLoopSurfacesCredentialRejection(t *testing.T) {
	conn := &fakeConnection{
		connectErr: packets.ConnErrors[packets.ErrRefusedNotAuthorised],
	}
	d := newTestDevice(conn)
	d.client = conn

	if err := d.Loop(10 * time.Millisecond); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Loop() error = %v, want ErrInvalidCredentials", err)
	}
}

// =============================================================================
// SendState
// =============================================================================

func TestSendState(t *testing.T) {
	conn := &fakeConnection{open: true}
	d := newTestDevice(conn)
	d.client = conn

	if err := d.SendState(State{"one": "two"}, StateTimeMillis(1234)); err != nil {
		t.Fatalf("SendState() error = %v", err)
	}

	if len(conn.publishes) != 1 {
		t.Fatalf("publish calls = %d, want 1", len(conn.publishes))
	}
	call := conn.publishes[0]
	if call.topic != "losant/device_id/state" {
		t.Errorf("publish topic = %q, want %q", call.topic, "losant/device_id/state")
	}
	want := `{"data":{"one":"two"},"time":1234}`
	if string(call.payload) != want {
		t.Errorf("publish payload = %s, want %s", call.payload, want)
	}
}

func TestSendStateSortedKeys(t *testing.T) {
	conn := &fakeConnection{open: true}
	d := newTestDevice(conn)
	d.client = conn

	state := State{"zeta": 1, "alpha": 2, "mid": 3}
	if err := d.SendState(state, StateTimeMillis(1)); err != nil {
		t.Fatalf("SendState() error = %v", err)
	}

	want := `{"data":{"alpha":2,"mid":3,"zeta":1},"time":1}`
	if got := string(conn.publishes[0].payload); got != want {
		t.Errorf("publish payload = %s, want sorted keys %s", got, want)
	}
}

func TestSendStateNotConnected(t *testing.T) {
	d := New("device_id", "k", "s")

	err := d.SendState(State{"one": "two"}, StateTimeMillis(1234))
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendState() error = %v, want ErrNotConnected", err)
	}
}

func TestSendStatePublishFailure(t *testing.T) {
	conn := &fakeConnection{open: true, publishErr: errors.New("broker rejected")}
	d := newTestDevice(conn)
	d.client = conn

	err := d.SendState(State{"one": "two"}, StateTimeMillis(1234))
	if !errors.Is(err, ErrPublishFailed) {
		t.Errorf("SendState() error = %v, want ErrPublishFailed", err)
	}
}

// =============================================================================
// Command handling
// =============================================================================

func TestHandleCommand(t *testing.T) {
	d := New("device_id", "k", "s")

	var got any
	d.AddEventObserver(EventCommand, func(_ *Device, data any) { got = data })

	d.handleCommand([]byte(`{"name":"start","payload":{"one":[2,3]},"time":{"$date":"2016-06-01T01:09:51.145Z"}}`))

	cmd, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("command data = %T, want map[string]any", got)
	}
	if cmd["name"] != "start" {
		t.Errorf("name = %v, want start", cmd["name"])
	}

	payload, ok := cmd["payload"].(map[string]any)
	if !ok {
		t.Fatalf("payload = %T, want map[string]any", cmd["payload"])
	}
	one, ok := payload["one"].([]any)
	if !ok || len(one) != 2 || one[0] != float64(2) || one[1] != float64(3) {
		t.Errorf("payload.one = %v, want [2 3]", payload["one"])
	}

	ts, ok := cmd["time"].(time.Time)
	if !ok {
		t.Fatalf("time = %T, want time.Time", cmd["time"])
	}
	if micros := ts.Nanosecond() / 1000; micros != 145000 {
		t.Errorf("time microseconds = %d, want 145000", micros)
	}
	if ts.Unix() != 1464743391 {
		t.Errorf("time unix = %d, want 1464743391", ts.Unix())
	}
	if ts.Location() != time.UTC {
		t.Errorf("time location = %v, want UTC", ts.Location())
	}
}

func TestHandleCommandEmptyPayloadIgnored(t *testing.T) {
	d := New("device_id", "k", "s")

	fired := false
	d.AddEventObserver(EventCommand, func(*Device, any) { fired = true })

	d.handleCommand(nil)
	d.handleCommand([]byte{})

	if fired {
		t.Error("command event fired for empty payload")
	}
}

func TestHandleCommandMalformedPayloadIgnored(t *testing.T) {
	d := New("device_id", "k", "s")

	fired := false
	d.AddEventObserver(EventCommand, func(*Device, any) { fired = true })

	d.handleCommand([]byte(`{"name":`))

	if fired {
		t.Error("command event fired for malformed payload")
	}
}

// =============================================================================
// Close
// =============================================================================

func TestClose(t *testing.T) {
	conn := &fakeConnection{open: true}
	d := newTestDevice(conn)
	d.client = conn

	closed := false
	d.AddEventObserver(EventClose, func(*Device, any) { closed = true })

	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if conn.disconnectCalls != 1 {
		t.Errorf("disconnect calls = %d, want 1", conn.disconnectCalls)
	}
	if !closed {
		t.Error("close event not fired")
	}
	if d.client != nil {
		t.Error("client handle not cleared after Close()")
	}
}

func TestCloseNoOpWhenNotConnected(t *testing.T) {
	d := New("device_id", "k", "s")
	if err := d.Close(); err != nil {
		t.Errorf("Close() error = %v, want nil no-op", err)
	}
}

func TestConnectionLostTriggersReconnect(t *testing.T) {
	conn := &fakeConnection{}
	d := newTestDevice(conn)
	d.client = conn

	d.handleConnectionLost(errors.New("broken pipe"))

	if conn.connectCalls != 1 {
		t.Errorf("connect calls = %d, want 1 reconnect attempt", conn.connectCalls)
	}
}

func TestConnectionLostSuppressedInBlockingMode(t *testing.T) {
	conn := &fakeConnection{}
	d := newTestDevice(conn)
	d.client = conn
	d.blocking = true

	d.handleConnectionLost(errors.New("broken pipe"))

	if conn.connectCalls != 0 {
		t.Errorf("connect calls = %d, want 0 (blocking loop retries internally)", conn.connectCalls)
	}
}

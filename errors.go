package losantmqtt

import "errors"

// Domain-specific errors for device operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when attempting to report state without
	// an active connection.
	ErrNotConnected = errors.New("losantmqtt: device not connected")

	// ErrConnectionFailed is returned when a connection attempt fails for
	// a recoverable reason (broker unreachable, server unavailable).
	ErrConnectionFailed = errors.New("losantmqtt: connection failed")

	// ErrInvalidCredentials is returned when the broker rejects the device
	// key or secret. Retrying cannot succeed; the caller must reconfigure.
	ErrInvalidCredentials = errors.New("losantmqtt: invalid Losant credentials")

	// ErrBlockingLoop is returned from Loop when the device was connected
	// in blocking mode. The blocking network loop already services I/O,
	// so calling Loop is a programming error.
	ErrBlockingLoop = errors.New("losantmqtt: connection in blocking mode, don't call Loop")

	// ErrPublishFailed is returned when a state publish is not acknowledged.
	ErrPublishFailed = errors.New("losantmqtt: publish failed")

	// ErrSubscribeFailed is returned when the command topic subscription fails.
	ErrSubscribeFailed = errors.New("losantmqtt: subscribe failed")
)

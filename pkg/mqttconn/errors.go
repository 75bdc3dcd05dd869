package mqttconn

import "errors"

// Connection errors
var (
	// ErrNotConnected is returned when an operation needs an established session
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrTimeout is returned when the broker does not acknowledge in time
	ErrTimeout = errors.New("mqtt: timeout waiting for broker acknowledgement")

	// ErrClosed is returned for operations on a closed connection
	ErrClosed = errors.New("mqtt: connection closed")
)

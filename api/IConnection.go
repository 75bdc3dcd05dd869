package api

// IConnection is the broker connection used by a transport.
// A single connection can be shared by multiple transports.
type IConnection interface {

	// Ensure invokes onReady once the connection is established. When already connected
	// onReady runs immediately, otherwise it runs once on the next connect.
	Ensure(onReady func())

	// IsConnected returns true when the broker session is established
	IsConnected() bool

	// Publish a payload on a topic. onDone is invoked once when the publication completes
	// or fails. onDone can be nil.
	Publish(topic string, qos byte, retain bool, payload []byte, onDone func(err error))

	// Subscribe to a topic filter. The handler is invoked for each message matching
	// the filter. Multiple handlers can subscribe to the same filter. The broker subscription
	// is made once connected.
	// onDone is invoked once when the broker accepts or rejects the subscription.
	// Returns the ID of the handler for use with Unsubscribe.
	Subscribe(filter string, qos byte, handler func(topic string, payload []byte), onDone func(err error)) uint64

	// Unsubscribe removes a handler. The broker subscription ends when the last handler of
	// the filter is removed.
	Unsubscribe(filter string, handlerID uint64)

	// Close the connection
	Close()
}

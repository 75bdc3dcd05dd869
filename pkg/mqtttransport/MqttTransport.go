// Package mqtttransport implements the transport interface over an MQTT broker.
// Band values are published on topic prefix/id/band with a JSON payload. Updates are received
// through a single wildcard subscription on the prefix and passed to all matching listeners.
package mqtttransport

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wostzone/mqtttransport-go/api"
	"github.com/wostzone/mqtttransport-go/pkg/channel"
	"github.com/wostzone/mqtttransport-go/pkg/mqttconn"
	"github.com/wostzone/mqtttransport-go/pkg/transportconfig"
)

var _ api.ITransport = (*MqttTransport)(nil)

// MqttTransport maps thing ids and bands onto MQTT topics
type MqttTransport struct {
	config         transportconfig.TransportConfig
	conn           api.IConnection
	ownsConnection bool
	// now returns the time used for timestamps
	now func() time.Time

	// dispatcher state, guarded by dispatchMutex
	dispatchMutex  sync.Mutex
	subState       subscriptionState
	listeners      []*listener
	nextListenerID uint64
	closed         bool
	// connection handler IDs of the wildcard subscription
	handlerIDs []uint64
}

// Prefix returns the topic prefix of the transport
func (transport *MqttTransport) Prefix() string {
	return transport.config.Prefix
}

// SetClock replaces the time source used for timestamps
func (transport *MqttTransport) SetClock(now func() time.Time) {
	transport.now = now
}

// logf logs at info level in verbose mode and debug level otherwise
func (transport *MqttTransport) logf(format string, args ...interface{}) {
	if transport.config.Verbose {
		logrus.Infof(format, args...)
	} else {
		logrus.Debugf(format, args...)
	}
}

// List is not supported. MQTT has no registry of topics.
func (transport *MqttTransport) List() ([]string, error) {
	return nil, api.ErrNotSupported
}

// Added is not supported
func (transport *MqttTransport) Added(handler func(id string)) (api.ISubscription, error) {
	return nil, api.ErrNotSupported
}

// About is not supported
func (transport *MqttTransport) About(id string) (map[string]interface{}, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", api.ErrInvalidArgument)
	}
	return nil, api.ErrNotSupported
}

// Bands is not supported
func (transport *MqttTransport) Bands(id string) ([]string, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", api.ErrInvalidArgument)
	}
	return nil, api.ErrNotSupported
}

// Get is not supported. Use Updated to receive retained values.
func (transport *MqttTransport) Get(id string, band string) (api.Record, error) {
	if err := checkIDBand(id, band); err != nil {
		return api.Record{}, err
	}
	return api.Record{}, api.ErrNotSupported
}

// Remove is not supported
func (transport *MqttTransport) Remove(id string, band string) error {
	if err := checkIDBand(id, band); err != nil {
		return err
	}
	return api.ErrNotSupported
}

// Close removes all listeners and the transport's handler from the connection.
// The connection is closed only when the transport created it.
func (transport *MqttTransport) Close() {
	transport.dispatchMutex.Lock()
	if transport.closed {
		transport.dispatchMutex.Unlock()
		return
	}
	transport.closed = true
	transport.listeners = nil
	transport.subState = stateUnsubscribed
	handlerIDs := transport.handlerIDs
	transport.handlerIDs = nil
	transport.dispatchMutex.Unlock()

	logrus.Infof("MqttTransport.Close: prefix=%s", transport.config.Prefix)
	if transport.ownsConnection {
		transport.conn.Close()
		return
	}
	filter := channel.Wildcard(transport.config.Prefix)
	for _, handlerID := range handlerIDs {
		transport.conn.Unsubscribe(filter, handlerID)
	}
}

func checkIDBand(id string, band string) error {
	if id == "" {
		return fmt.Errorf("%w: id is required", api.ErrInvalidArgument)
	}
	if band == "" {
		return fmt.Errorf("%w: band is required", api.ErrInvalidArgument)
	}
	return nil
}

// NewMqttTransportWithConnection creates a transport on an existing connection.
// The connection can be shared with other transports and is not closed by this transport.
func NewMqttTransportWithConnection(config *transportconfig.TransportConfig, conn api.IConnection) (*MqttTransport, error) {
	if config == nil || conn == nil {
		return nil, fmt.Errorf("%w: configuration and connection are required", api.ErrInvalidArgument)
	}
	err := transportconfig.ValidateTransportConfig(config)
	if err != nil {
		return nil, err
	}
	transport := &MqttTransport{
		config:   *config,
		conn:     conn,
		now:      time.Now,
		subState: stateUnsubscribed,
	}
	// the transport keeps its own copy of the band list
	transport.config.AddTimestamp.Bands = append([]string(nil), config.AddTimestamp.Bands...)
	return transport, nil
}

// NewMqttTransport creates a transport with its own broker connection and starts connecting.
// Operations made before the connection is established are performed once it is.
func NewMqttTransport(config *transportconfig.TransportConfig) (*MqttTransport, error) {
	if config == nil {
		return nil, fmt.Errorf("%w: configuration is required", api.ErrInvalidArgument)
	}
	err := transportconfig.ValidateTransportConfig(config)
	if err != nil {
		return nil, err
	}
	conn, err := mqttconn.NewMqttConnection(config)
	if err != nil {
		return nil, err
	}
	transport, err := NewMqttTransportWithConnection(config, conn)
	if err != nil {
		return nil, err
	}
	transport.ownsConnection = true
	err = conn.Start()
	if err != nil {
		return nil, err
	}
	return transport, nil
}

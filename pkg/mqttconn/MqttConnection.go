// Package mqttconn with the MQTT broker connection used by transports
package mqttconn

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/wostzone/mqtttransport-go/api"
	"github.com/wostzone/mqtttransport-go/pkg/metrics"
	"github.com/wostzone/mqtttransport-go/pkg/transportconfig"
)

// DefaultKeepAliveSec is the interval of keep alive pings. This is the max time to discover a broken connection.
const DefaultKeepAliveSec = 10

// DisconnectQuiesceMsec is the time given to complete pending work when closing
const DisconnectQuiesceMsec = 250

// subscribeFailure is the SUBACK return code of a rejected subscription
const subscribeFailure = 0x80

// newPahoClient creates the underlying client
var newPahoClient = pahomqtt.NewClient

// handlerEntry is a single handler of a topic filter
type handlerEntry struct {
	id      uint64
	handler func(topic string, payload []byte)
}

// filterSubscription holds the handlers of a topic filter to restore after reconnect
type filterSubscription struct {
	filter   string
	qos      byte
	handlers []handlerEntry
}

var _ api.IConnection = (*MqttConnection)(nil)

// MqttConnection wraps the paho client with a connection gate and fan-out of topic filters
// to multiple handlers. Subscriptions are restored when the connection is re-established.
// A connection can be shared by multiple transports.
type MqttConnection struct {
	endpoint   Endpoint
	clientID   string
	verbose    bool
	timeout    time.Duration
	gate       *Gate
	pahoClient pahomqtt.Client

	updateMutex   *sync.Mutex // guards the fields below
	state         ConnectionState
	started       bool
	subscriptions map[string]*filterSubscription

	// handlers waiting for the connection before they are added to subscriptions
	pendingHandlers map[uint64]bool
	nextHandlerID   uint64
}

// ClientID of the connection
func (conn *MqttConnection) ClientID() string {
	return conn.clientID
}

// Endpoint of the broker
func (conn *MqttConnection) Endpoint() Endpoint {
	return conn.endpoint
}

// State returns the current connection state
func (conn *MqttConnection) State() ConnectionState {
	conn.updateMutex.Lock()
	defer conn.updateMutex.Unlock()
	return conn.state
}

func (conn *MqttConnection) setState(state ConnectionState) {
	conn.updateMutex.Lock()
	if conn.state == StateClosed {
		conn.updateMutex.Unlock()
		return
	}
	conn.state = state
	conn.updateMutex.Unlock()
	metrics.ConnectionState.WithLabelValues(conn.clientID).Set(float64(state))
}

func (conn *MqttConnection) isClosed() bool {
	return conn.State() == StateClosed
}

// logf logs at info level in verbose mode and debug level otherwise
func (conn *MqttConnection) logf(format string, args ...interface{}) {
	if conn.verbose {
		logrus.Infof(format, args...)
	} else {
		logrus.Debugf(format, args...)
	}
}

// Ensure invokes onReady when connected, or once after the next connect
func (conn *MqttConnection) Ensure(onReady func()) {
	conn.gate.Ensure(onReady)
}

// IsConnected returns true while the broker session is established
func (conn *MqttConnection) IsConnected() bool {
	return conn.gate.IsConnected()
}

// Start connecting to the broker in the background.
// Connection attempts are retried until successful or the connection is closed.
func (conn *MqttConnection) Start() error {
	conn.updateMutex.Lock()
	if conn.state == StateClosed {
		conn.updateMutex.Unlock()
		return ErrClosed
	}
	if conn.started {
		conn.updateMutex.Unlock()
		return nil
	}
	conn.started = true
	conn.updateMutex.Unlock()
	conn.setState(StateConnecting)

	logrus.Infof("MqttConnection.Start: Connecting to %s with clientID=%s", conn.endpoint.URL(), conn.clientID)
	token := conn.pahoClient.Connect()
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			logrus.Errorf("MqttConnection.Start: Connecting to %s failed: %s", conn.endpoint.URL(), err)
			conn.setState(StateError)
		}
	}()
	return nil
}

// Connect starts connecting and waits until the first session is established or ctx ends.
// When ctx ends the connection keeps retrying in the background.
func (conn *MqttConnection) Connect(ctx context.Context) error {
	err := conn.Start()
	if err != nil {
		return err
	}
	return conn.gate.Wait(ctx)
}

// Close the connection to the broker. Pending callbacks are dropped.
func (conn *MqttConnection) Close() {
	conn.updateMutex.Lock()
	if conn.state == StateClosed {
		conn.updateMutex.Unlock()
		return
	}
	conn.state = StateClosed
	conn.subscriptions = make(map[string]*filterSubscription)
	conn.pendingHandlers = make(map[uint64]bool)
	conn.updateMutex.Unlock()
	metrics.ConnectionState.WithLabelValues(conn.clientID).Set(float64(StateClosed))

	conn.gate.SetDisconnected()
	logrus.Infof("MqttConnection.Close: clientID=%s", conn.clientID)
	conn.pahoClient.Disconnect(DisconnectQuiesceMsec)
}

// Publish a payload. onDone receives the result once the broker acknowledged the message
// according to the qos, or immediately when qos is 0.
func (conn *MqttConnection) Publish(topic string, qos byte, retain bool, payload []byte, onDone func(err error)) {
	if conn.isClosed() {
		if onDone != nil {
			onDone(ErrClosed)
		}
		return
	}
	conn.logf("MqttConnection.Publish: topic=%s, qos=%d, retain=%v, %d bytes", topic, qos, retain, len(payload))
	token := conn.pahoClient.Publish(topic, qos, retain, payload)
	go func() {
		err := conn.waitToken(token)
		if err != nil {
			logrus.Warningf("MqttConnection.Publish: Error during publish on topic %s: %s", topic, err)
		}
		if onDone != nil {
			onDone(err)
		}
	}()
}

// Subscribe adds a handler for a topic filter. The broker subscription is made once connected.
// onDone receives the broker's response. A rejected handler is removed again.
// The returned ID identifies the handler for Unsubscribe.
func (conn *MqttConnection) Subscribe(filter string, qos byte,
	handler func(topic string, payload []byte), onDone func(err error)) uint64 {

	conn.updateMutex.Lock()
	conn.nextHandlerID++
	handlerID := conn.nextHandlerID
	closed := conn.state == StateClosed
	if !closed {
		conn.pendingHandlers[handlerID] = true
	}
	conn.updateMutex.Unlock()
	if closed {
		if onDone != nil {
			onDone(ErrClosed)
		}
		return handlerID
	}
	conn.gate.Ensure(func() {
		if !conn.addHandler(filter, qos, handlerID, handler) {
			// unsubscribed before the connection was established
			return
		}
		conn.logf("MqttConnection.Subscribe: filter=%s, qos=%d", filter, qos)
		token := conn.pahoClient.Subscribe(filter, qos, conn.route(filter))
		go func() {
			err := conn.waitToken(token)
			if err == nil {
				err = subscribeResult(token, filter)
			}
			if err != nil {
				logrus.Errorf("MqttConnection.Subscribe: Subscription to %s failed: %s", filter, err)
				conn.removeHandler(filter, handlerID)
			}
			if onDone != nil {
				onDone(err)
			}
		}()
	})
	return handlerID
}

// Unsubscribe removes a handler added with Subscribe. The broker subscription of the filter
// is removed with its last handler. Unknown handler IDs are ignored.
func (conn *MqttConnection) Unsubscribe(filter string, handlerID uint64) {
	conn.updateMutex.Lock()
	if conn.pendingHandlers[handlerID] {
		delete(conn.pendingHandlers, handlerID)
		conn.updateMutex.Unlock()
		return
	}
	conn.updateMutex.Unlock()
	if !conn.removeHandler(filter, handlerID) || conn.isClosed() || !conn.gate.IsConnected() {
		return
	}
	conn.logf("MqttConnection.Unsubscribe: filter=%s", filter)
	token := conn.pahoClient.Unsubscribe(filter)
	go func() {
		if err := conn.waitToken(token); err != nil {
			logrus.Warningf("MqttConnection.Unsubscribe: Unsubscribe from %s failed: %s", filter, err)
		}
	}()
}

// SubscriptionCount returns the number of handlers of a topic filter
func (conn *MqttConnection) SubscriptionCount(filter string) int {
	conn.updateMutex.Lock()
	defer conn.updateMutex.Unlock()
	if sub, found := conn.subscriptions[filter]; found {
		return len(sub.handlers)
	}
	return 0
}

// addHandler adds a pending handler to its filter. Returns false when the handler was
// unsubscribed while pending.
func (conn *MqttConnection) addHandler(filter string, qos byte, handlerID uint64,
	handler func(topic string, payload []byte)) bool {

	conn.updateMutex.Lock()
	defer conn.updateMutex.Unlock()
	if !conn.pendingHandlers[handlerID] {
		return false
	}
	delete(conn.pendingHandlers, handlerID)
	sub, found := conn.subscriptions[filter]
	if !found {
		sub = &filterSubscription{filter: filter, qos: qos}
		conn.subscriptions[filter] = sub
	}
	if qos > sub.qos {
		sub.qos = qos
	}
	sub.handlers = append(sub.handlers, handlerEntry{id: handlerID, handler: handler})
	return true
}

// removeHandler removes a handler of a filter. Returns true when this removed the last
// handler of the filter.
func (conn *MqttConnection) removeHandler(filter string, handlerID uint64) bool {
	conn.updateMutex.Lock()
	defer conn.updateMutex.Unlock()
	sub, found := conn.subscriptions[filter]
	if !found {
		return false
	}
	removed := false
	for i, entry := range sub.handlers {
		if entry.id == handlerID {
			sub.handlers = append(sub.handlers[:i:i], sub.handlers[i+1:]...)
			removed = true
			break
		}
	}
	if removed && len(sub.handlers) == 0 {
		delete(conn.subscriptions, filter)
		return true
	}
	return false
}

// route returns the paho message handler that passes messages of a filter to its handlers
func (conn *MqttConnection) route(filter string) pahomqtt.MessageHandler {
	return func(c pahomqtt.Client, msg pahomqtt.Message) {
		conn.updateMutex.Lock()
		var handlers []handlerEntry
		if sub, found := conn.subscriptions[filter]; found {
			handlers = sub.handlers
		}
		conn.updateMutex.Unlock()

		topic := msg.Topic()
		payload := msg.Payload()
		for _, entry := range handlers {
			invokeHandler(entry.handler, topic, payload)
		}
	}
}

// invokeHandler calls a message handler and recovers from its panic
func invokeHandler(handler func(topic string, payload []byte), topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("MqttConnection: Handler for topic %s panicked: %v", topic, r)
		}
	}()
	handler(topic, payload)
}

// resubscribe restores the subscriptions after (re)connecting.
// paho drops the subscriptions after a disconnect when using a clean session.
func (conn *MqttConnection) resubscribe() {
	conn.updateMutex.Lock()
	subs := make([]filterSubscription, 0, len(conn.subscriptions))
	for _, sub := range conn.subscriptions {
		subs = append(subs, *sub)
	}
	conn.updateMutex.Unlock()

	if len(subs) == 0 {
		return
	}
	logrus.Infof("MqttConnection.resubscribe: %d topic filters", len(subs))
	for _, sub := range subs {
		filter := sub.filter
		token := conn.pahoClient.Subscribe(filter, sub.qos, conn.route(filter))
		go func() {
			err := conn.waitToken(token)
			if err == nil {
				err = subscribeResult(token, filter)
			}
			if err != nil {
				metrics.ResubscribeErrors.WithLabelValues(conn.clientID).Inc()
				logrus.Errorf("MqttConnection.resubscribe: Restoring subscription to %s failed: %s. Its handlers receive no messages until the next reconnect.", filter, err)
			}
		}()
	}
}

func (conn *MqttConnection) handleConnect() {
	if conn.isClosed() {
		return
	}
	conn.setState(StateConnected)
	conn.logf("MqttConnection.onConnect: Connect at %s, clientID=%s", conn.endpoint.URL(), conn.clientID)
	conn.resubscribe()
	conn.gate.SetConnected()
}

func (conn *MqttConnection) handleConnectionLost(err error) {
	conn.gate.SetDisconnected()
	conn.setState(StateError)
	logrus.Warningf("MqttConnection.onConnectionLost: Disconnected from %s: %s. clientID=%s",
		conn.endpoint.URL(), err, conn.clientID)
}

func (conn *MqttConnection) handleReconnecting() {
	conn.setState(StateReconnecting)
	conn.logf("MqttConnection.onReconnecting: Reconnecting to %s", conn.endpoint.URL())
}

func (conn *MqttConnection) handleConnectAttempt(broker *url.URL) {
	conn.logf("MqttConnection.onConnectAttempt: Connecting to %s", broker)
}

// waitToken waits for a token to complete within the connection timeout
func (conn *MqttConnection) waitToken(token pahomqtt.Token) error {
	timer := time.NewTimer(conn.timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return ErrTimeout
	}
}

// subscribeResult checks the SUBACK return code of a subscription
func subscribeResult(token pahomqtt.Token, filter string) error {
	subToken, ok := token.(*pahomqtt.SubscribeToken)
	if !ok {
		return nil
	}
	if code, found := subToken.Result()[filter]; found && code == subscribeFailure {
		return fmt.Errorf("broker rejected subscription to %s", filter)
	}
	return nil
}

// NewMqttConnection creates a broker connection from the configuration.
// The TLS files are read here, once. Use Start or Connect to connect.
func NewMqttConnection(config *transportconfig.TransportConfig) (*MqttConnection, error) {
	err := transportconfig.ValidateConnectionConfig(config)
	if err != nil {
		return nil, err
	}
	endpoint := ResolveEndpoint(config)
	tlsConfig, err := LoadTLSConfig(config, endpoint)
	if err != nil {
		return nil, err
	}
	timeoutSec := config.Timeout
	if timeoutSec <= 0 {
		timeoutSec = transportconfig.DefaultTimeoutSec
	}
	clientID := config.ClientID
	if clientID == "" {
		clientID = transportconfig.DefaultClientID()
	}
	conn := &MqttConnection{
		endpoint:        endpoint,
		clientID:        clientID,
		verbose:         config.Verbose,
		timeout:         time.Duration(timeoutSec) * time.Second,
		gate:            NewGate(),
		state:           StateDisconnected,
		subscriptions:   make(map[string]*filterSubscription),
		pendingHandlers: make(map[uint64]bool),
		updateMutex:     &sync.Mutex{},
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(endpoint.BrokerURL())
	opts.SetClientID(clientID)
	opts.SetUsername(config.Username)
	opts.SetPassword(config.Password)
	// Do not use MQTT persistence as not all brokers support it and client IDs can be generated.
	opts.SetCleanSession(true)
	opts.SetOrderMatters(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetConnectTimeout(conn.timeout)
	opts.SetKeepAlive(DefaultKeepAliveSec * time.Second)
	if tlsConfig != nil {
		opts.SetTLSConfig(tlsConfig)
	}
	opts.SetOnConnectHandler(func(client pahomqtt.Client) {
		conn.handleConnect()
	})
	opts.SetConnectionLostHandler(func(client pahomqtt.Client, err error) {
		conn.handleConnectionLost(err)
	})
	opts.SetReconnectingHandler(func(client pahomqtt.Client, o *pahomqtt.ClientOptions) {
		conn.handleReconnecting()
	})
	opts.SetConnectionAttemptHandler(func(broker *url.URL, tlsCfg *tls.Config) *tls.Config {
		conn.handleConnectAttempt(broker)
		return tlsCfg
	})
	conn.pahoClient = newPahoClient(opts)
	metrics.ConnectionState.WithLabelValues(clientID).Set(float64(StateDisconnected))
	return conn, nil
}

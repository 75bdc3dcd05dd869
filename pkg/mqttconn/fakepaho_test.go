package mqttconn

import (
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// fakeToken is a completed paho token
type fakeToken struct {
	done chan struct{}
	err  error
}

func newFakeToken(err error) *fakeToken {
	token := &fakeToken{done: make(chan struct{}), err: err}
	close(token.done)
	return token
}

func (token *fakeToken) Wait() bool { <-token.done; return true }
func (token *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-token.done:
		return true
	case <-time.After(d):
		return false
	}
}
func (token *fakeToken) Done() <-chan struct{} { return token.done }
func (token *fakeToken) Error() error          { return token.err }

// pendingToken never completes
type pendingToken struct{ fakeToken }

func newPendingToken() *pendingToken {
	return &pendingToken{fakeToken{done: make(chan struct{})}}
}

type fakeMessage struct {
	topic   string
	payload []byte
	qos     byte
	retain  bool
}

func (msg *fakeMessage) Duplicate() bool   { return false }
func (msg *fakeMessage) Qos() byte         { return msg.qos }
func (msg *fakeMessage) Retained() bool    { return msg.retain }
func (msg *fakeMessage) Topic() string     { return msg.topic }
func (msg *fakeMessage) MessageID() uint16 { return 1 }
func (msg *fakeMessage) Payload() []byte   { return msg.payload }
func (msg *fakeMessage) Ack()              {}

// fakePahoClient records what the connection asks of paho and lets tests drive its events
type fakePahoClient struct {
	mutex        sync.Mutex
	opts         *pahomqtt.ClientOptions
	connected    bool
	disconnected bool
	routes       map[string]pahomqtt.MessageHandler
	subscribed   map[string]int
	unsubscribed map[string]int
	published    []*fakeMessage
	publishErr   error
	subscribeErr error
	pendingAcks  bool
}

func newFakePahoClient() *fakePahoClient {
	return &fakePahoClient{
		routes:       make(map[string]pahomqtt.MessageHandler),
		subscribed:   make(map[string]int),
		unsubscribed: make(map[string]int),
	}
}

// install replaces the paho client factory and returns a function restoring it
func (client *fakePahoClient) install() func() {
	saved := newPahoClient
	newPahoClient = func(o *pahomqtt.ClientOptions) pahomqtt.Client {
		client.opts = o
		return client
	}
	return func() { newPahoClient = saved }
}

func (client *fakePahoClient) IsConnected() bool {
	client.mutex.Lock()
	defer client.mutex.Unlock()
	return client.connected
}
func (client *fakePahoClient) IsConnectionOpen() bool { return client.IsConnected() }
func (client *fakePahoClient) Connect() pahomqtt.Token {
	return newPendingToken()
}
func (client *fakePahoClient) Disconnect(quiesce uint) {
	client.mutex.Lock()
	defer client.mutex.Unlock()
	client.connected = false
	client.disconnected = true
}
func (client *fakePahoClient) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	client.mutex.Lock()
	defer client.mutex.Unlock()
	client.published = append(client.published, &fakeMessage{topic: topic, payload: payload.([]byte), qos: qos, retain: retained})
	if client.pendingAcks {
		return newPendingToken()
	}
	return newFakeToken(client.publishErr)
}
func (client *fakePahoClient) Subscribe(topic string, qos byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	client.mutex.Lock()
	defer client.mutex.Unlock()
	client.subscribed[topic]++
	if client.subscribeErr != nil {
		return newFakeToken(client.subscribeErr)
	}
	client.routes[topic] = callback
	return newFakeToken(nil)
}
func (client *fakePahoClient) SubscribeMultiple(filters map[string]byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	for filter, qos := range filters {
		client.Subscribe(filter, qos, callback)
	}
	return newFakeToken(nil)
}
func (client *fakePahoClient) Unsubscribe(topics ...string) pahomqtt.Token {
	client.mutex.Lock()
	defer client.mutex.Unlock()
	for _, topic := range topics {
		client.unsubscribed[topic]++
		delete(client.routes, topic)
	}
	return newFakeToken(nil)
}
func (client *fakePahoClient) AddRoute(topic string, callback pahomqtt.MessageHandler) {
	client.mutex.Lock()
	defer client.mutex.Unlock()
	client.routes[topic] = callback
}
func (client *fakePahoClient) OptionsReader() pahomqtt.ClientOptionsReader {
	return pahomqtt.NewOptionsReader(client.opts)
}

func (client *fakePahoClient) setErrors(publishErr error, subscribeErr error) {
	client.mutex.Lock()
	defer client.mutex.Unlock()
	client.publishErr = publishErr
	client.subscribeErr = subscribeErr
}

// simulateConnect invokes the OnConnect handler like paho does after a successful connect
func (client *fakePahoClient) simulateConnect() {
	client.mutex.Lock()
	client.connected = true
	client.mutex.Unlock()
	client.opts.OnConnect(client)
}

// simulateConnectionLost invokes the connection lost and reconnecting handlers
func (client *fakePahoClient) simulateConnectionLost(err error) {
	client.mutex.Lock()
	client.connected = false
	client.mutex.Unlock()
	client.opts.OnConnectionLost(client, err)
	client.opts.OnReconnecting(client, client.opts)
}

// deliver a message on the route of a filter
func (client *fakePahoClient) deliver(filter string, topic string, payload []byte) {
	client.mutex.Lock()
	route := client.routes[filter]
	client.mutex.Unlock()
	if route != nil {
		route(client, &fakeMessage{topic: topic, payload: payload})
	}
}

func (client *fakePahoClient) subscribeCount(filter string) int {
	client.mutex.Lock()
	defer client.mutex.Unlock()
	return client.subscribed[filter]
}

func (client *fakePahoClient) unsubscribeCount(filter string) int {
	client.mutex.Lock()
	defer client.mutex.Unlock()
	return client.unsubscribed[filter]
}

func (client *fakePahoClient) publications() []*fakeMessage {
	client.mutex.Lock()
	defer client.mutex.Unlock()
	return append([]*fakeMessage(nil), client.published...)
}

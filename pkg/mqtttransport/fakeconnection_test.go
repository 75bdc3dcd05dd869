package mqtttransport_test

import (
	"strings"
	"sync"

	"github.com/wostzone/mqtttransport-go/pkg/mqttconn"
)

type publication struct {
	topic   string
	qos     byte
	retain  bool
	payload []byte
}

type fakeHandler struct {
	id      uint64
	filter  string
	handler func(topic string, payload []byte)
}

// fakeConnection is an in-memory broker connection. With echo enabled publications are
// delivered to matching subscriptions, like a broker does.
type fakeConnection struct {
	gate           *mqttconn.Gate
	echo           bool
	mutex          sync.Mutex
	published      []publication
	handlers       []fakeHandler
	subscribeCalls map[string]int
	unsubscribed   map[uint64]bool
	nextID         uint64
	publishErr     error
	subscribeErr   error
	closed         bool
}

func newFakeConnection(echo bool) *fakeConnection {
	return &fakeConnection{
		gate:           mqttconn.NewGate(),
		echo:           echo,
		subscribeCalls: make(map[string]int),
		unsubscribed:   make(map[uint64]bool),
	}
}

func (conn *fakeConnection) Ensure(onReady func()) { conn.gate.Ensure(onReady) }
func (conn *fakeConnection) IsConnected() bool     { return conn.gate.IsConnected() }
func (conn *fakeConnection) connect()              { conn.gate.SetConnected() }

func (conn *fakeConnection) Publish(topic string, qos byte, retain bool, payload []byte, onDone func(err error)) {
	conn.mutex.Lock()
	conn.published = append(conn.published, publication{topic, qos, retain, payload})
	err := conn.publishErr
	conn.mutex.Unlock()
	if err == nil && conn.echo {
		conn.deliver(topic, payload)
	}
	if onDone != nil {
		onDone(err)
	}
}

func (conn *fakeConnection) Subscribe(filter string, qos byte, handler func(topic string, payload []byte), onDone func(err error)) uint64 {
	conn.mutex.Lock()
	conn.nextID++
	id := conn.nextID
	conn.mutex.Unlock()
	conn.gate.Ensure(func() {
		conn.mutex.Lock()
		if conn.unsubscribed[id] {
			conn.mutex.Unlock()
			return
		}
		conn.subscribeCalls[filter]++
		err := conn.subscribeErr
		if err == nil {
			conn.handlers = append(conn.handlers, fakeHandler{id, filter, handler})
		}
		conn.mutex.Unlock()
		if onDone != nil {
			onDone(err)
		}
	})
	return id
}

func (conn *fakeConnection) Unsubscribe(filter string, handlerID uint64) {
	conn.mutex.Lock()
	defer conn.mutex.Unlock()
	conn.unsubscribed[handlerID] = true
	for i, h := range conn.handlers {
		if h.id == handlerID && h.filter == filter {
			conn.handlers = append(conn.handlers[:i:i], conn.handlers[i+1:]...)
			return
		}
	}
}

func (conn *fakeConnection) Close() {
	conn.mutex.Lock()
	defer conn.mutex.Unlock()
	conn.closed = true
}

// deliver a message to all handlers whose filter matches the topic
func (conn *fakeConnection) deliver(topic string, payload []byte) {
	conn.mutex.Lock()
	handlers := append([]fakeHandler(nil), conn.handlers...)
	conn.mutex.Unlock()
	for _, h := range handlers {
		if matchFilter(h.filter, topic) {
			h.handler(topic, payload)
		}
	}
}

func (conn *fakeConnection) setErrors(publishErr error, subscribeErr error) {
	conn.mutex.Lock()
	defer conn.mutex.Unlock()
	conn.publishErr = publishErr
	conn.subscribeErr = subscribeErr
}

func (conn *fakeConnection) publications() []publication {
	conn.mutex.Lock()
	defer conn.mutex.Unlock()
	return append([]publication(nil), conn.published...)
}

func (conn *fakeConnection) subscribeCount(filter string) int {
	conn.mutex.Lock()
	defer conn.mutex.Unlock()
	return conn.subscribeCalls[filter]
}

// handlerCount returns the number of handlers subscribed to the filter
func (conn *fakeConnection) handlerCount(filter string) int {
	conn.mutex.Lock()
	defer conn.mutex.Unlock()
	count := 0
	for _, h := range conn.handlers {
		if h.filter == filter {
			count++
		}
	}
	return count
}

func (conn *fakeConnection) isClosed() bool {
	conn.mutex.Lock()
	defer conn.mutex.Unlock()
	return conn.closed
}

// matchFilter supports exact filters and the multi level wildcard
func matchFilter(filter string, topic string) bool {
	if filter == "#" {
		return true
	}
	if strings.HasSuffix(filter, "/#") {
		base := strings.TrimSuffix(filter, "/#")
		return topic == base || strings.HasPrefix(topic, base+"/")
	}
	return filter == topic
}

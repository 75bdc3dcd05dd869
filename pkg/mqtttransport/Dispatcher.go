package mqtttransport

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/wostzone/mqtttransport-go/api"
	"github.com/wostzone/mqtttransport-go/pkg/channel"
	"github.com/wostzone/mqtttransport-go/pkg/codec"
	"github.com/wostzone/mqtttransport-go/pkg/metrics"
	"github.com/wostzone/mqtttransport-go/pkg/mqttconn"
)

// subscriptionState of the wildcard subscription of a transport
type subscriptionState int

const (
	stateUnsubscribed subscriptionState = iota
	stateSubscribing
	stateSubscribed
)

func (state subscriptionState) String() string {
	switch state {
	case stateSubscribing:
		return "subscribing"
	case stateSubscribed:
		return "subscribed"
	}
	return "unsubscribed"
}

// listener of band updates. Empty filters match anything.
type listener struct {
	id         uint64
	idFilter   string
	bandFilter string
	handler    func(record api.Record)
}

func (l *listener) matches(id string, band string) bool {
	return (l.idFilter == "" || l.idFilter == id) && (l.bandFilter == "" || l.bandFilter == band)
}

// listenerSubscription removes a listener when unsubscribed
type listenerSubscription struct {
	transport  *MqttTransport
	listenerID uint64
}

// Unsubscribe removes the listener. The wildcard subscription remains.
func (sub *listenerSubscription) Unsubscribe() {
	sub.transport.removeListener(sub.listenerID)
}

// inertSubscription is returned when updates are not allowed
type inertSubscription struct{}

func (inertSubscription) Unsubscribe() {}

// Updated registers a handler for band updates of things.
// An empty idFilter or bandFilter matches all ids or bands. The first registration subscribes
// to all topics of the prefix. When updates are not allowed by the configuration the
// handler is never invoked.
func (transport *MqttTransport) Updated(idFilter string, bandFilter string,
	handler func(record api.Record)) (api.ISubscription, error) {

	if handler == nil {
		return nil, fmt.Errorf("%w: handler is required", api.ErrInvalidArgument)
	}

	transport.dispatchMutex.Lock()
	if transport.closed {
		transport.dispatchMutex.Unlock()
		return nil, mqttconn.ErrClosed
	}
	if !transport.config.AllowUpdated {
		transport.dispatchMutex.Unlock()
		logrus.Infof("MqttTransport.Updated: updates are not allowed on prefix '%s'", transport.config.Prefix)
		return inertSubscription{}, nil
	}
	transport.nextListenerID++
	l := &listener{
		id:         transport.nextListenerID,
		idFilter:   idFilter,
		bandFilter: bandFilter,
		handler:    handler,
	}
	transport.listeners = append(transport.listeners, l)
	subscribe := transport.subState == stateUnsubscribed
	if subscribe {
		transport.subState = stateSubscribing
	}
	transport.dispatchMutex.Unlock()

	if subscribe {
		transport.subscribe()
	}
	return &listenerSubscription{transport: transport, listenerID: l.id}, nil
}

// subscribe to the wildcard topic of the prefix once connected
func (transport *MqttTransport) subscribe() {
	prefix := transport.config.Prefix
	filter := channel.Wildcard(prefix)
	transport.logf("MqttTransport.subscribe: filter=%s", filter)
	handlerID := transport.conn.Subscribe(filter, transport.config.Qos, transport.onMessage, func(err error) {
		transport.dispatchMutex.Lock()
		defer transport.dispatchMutex.Unlock()
		if transport.closed {
			return
		}
		if err != nil {
			// the next registration tries again
			metrics.SubscribeErrors.WithLabelValues(prefix).Inc()
			logrus.Errorf("MqttTransport.subscribe: subscription to %s failed: %s", filter, err)
			transport.subState = stateUnsubscribed
			return
		}
		transport.subState = stateSubscribed
	})

	transport.dispatchMutex.Lock()
	closed := transport.closed
	if !closed {
		transport.handlerIDs = append(transport.handlerIDs, handlerID)
	}
	transport.dispatchMutex.Unlock()
	if closed {
		transport.conn.Unsubscribe(filter, handlerID)
	}
}

func (transport *MqttTransport) removeListener(listenerID uint64) {
	transport.dispatchMutex.Lock()
	defer transport.dispatchMutex.Unlock()
	for i, l := range transport.listeners {
		if l.id == listenerID {
			transport.listeners = append(transport.listeners[:i:i], transport.listeners[i+1:]...)
			return
		}
	}
}

// ListenerCount returns the number of registered update listeners
func (transport *MqttTransport) ListenerCount() int {
	transport.dispatchMutex.Lock()
	defer transport.dispatchMutex.Unlock()
	return len(transport.listeners)
}

// SubscriptionState returns the state of the wildcard subscription:
// unsubscribed, subscribing or subscribed
func (transport *MqttTransport) SubscriptionState() string {
	transport.dispatchMutex.Lock()
	defer transport.dispatchMutex.Unlock()
	return transport.subState.String()
}

// onMessage decodes a message from the wildcard subscription and passes the record to all
// matching listeners. Messages that are not a record of this prefix are dropped.
func (transport *MqttTransport) onMessage(topic string, payload []byte) {
	prefix := transport.config.Prefix
	transport.dispatchMutex.Lock()
	closed := transport.closed
	transport.dispatchMutex.Unlock()
	if closed {
		return
	}
	metrics.Received.WithLabelValues(prefix).Inc()

	id, band, ok := channel.Unchannel(prefix, topic)
	if !ok {
		metrics.Dropped.WithLabelValues(prefix, metrics.DropReasonTopic).Inc()
		logrus.Debugf("MqttTransport.onMessage: ignored topic %s", topic)
		return
	}
	value, err := codec.Unpack(payload)
	if err != nil {
		metrics.Dropped.WithLabelValues(prefix, metrics.DropReasonPayload).Inc()
		logrus.Debugf("MqttTransport.onMessage: ignored payload on topic %s: %s", topic, err)
		return
	}
	transport.logf("MqttTransport.onMessage: topic=%s, payload=%s", topic, payload)

	transport.dispatchMutex.Lock()
	listeners := transport.listeners
	transport.dispatchMutex.Unlock()

	record := api.Record{ID: id, Band: band, Value: value}
	for _, l := range listeners {
		if l.matches(id, band) {
			metrics.Delivered.WithLabelValues(prefix).Inc()
			invokeListener(l, record)
		}
	}
}

// invokeListener calls a listener and recovers from its panic so other listeners still run
func invokeListener(l *listener, record api.Record) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("MqttTransport.onMessage: listener for %s/%s panicked: %v", record.ID, record.Band, r)
		}
	}()
	l.handler(record)
}

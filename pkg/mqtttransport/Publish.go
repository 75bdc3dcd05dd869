package mqtttransport

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/wostzone/mqtttransport-go/api"
	"github.com/wostzone/mqtttransport-go/pkg/channel"
	"github.com/wostzone/mqtttransport-go/pkg/codec"
	"github.com/wostzone/mqtttransport-go/pkg/metrics"
	"github.com/wostzone/mqtttransport-go/pkg/mqttconn"
)

// TimestampFormat of the @timestamp field, ISO 8601 UTC with milliseconds
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// stampValue returns a shallow copy of the value, with the publication time added when the
// band is timestamped and the value has no timestamp yet.
func (transport *MqttTransport) stampValue(band string, value map[string]interface{}) map[string]interface{} {
	stamped := make(map[string]interface{}, len(value)+1)
	for k, v := range value {
		stamped[k] = v
	}
	if transport.config.AddTimestamp.Applies(band) {
		if _, found := stamped[api.TimestampField]; !found {
			stamped[api.TimestampField] = transport.now().UTC().Format(TimestampFormat)
		}
	}
	return stamped
}

// PutAsync publishes a band value once the connection is established.
// Invalid arguments are returned immediately without touching the connection. onDone is
// invoked once when the publication completes, with the record as published. onDone can be nil.
func (transport *MqttTransport) PutAsync(id string, band string, value map[string]interface{},
	onDone func(record api.Record, err error)) error {

	if err := checkIDBand(id, band); err != nil {
		return err
	}
	transport.dispatchMutex.Lock()
	closed := transport.closed
	transport.dispatchMutex.Unlock()
	if closed {
		return mqttconn.ErrClosed
	}

	stamped := transport.stampValue(band, value)
	payload, err := codec.Pack(stamped)
	if err != nil {
		return fmt.Errorf("%w: value of %s/%s is not serializable: %s", api.ErrInvalidArgument, id, band, err)
	}
	topic := channel.Channel(transport.config.Prefix, id, band)
	record := api.Record{ID: id, Band: band, Value: stamped}
	prefix := transport.config.Prefix
	qos := transport.config.Qos
	retain := transport.config.Retain

	transport.conn.Ensure(func() {
		transport.logf("MqttTransport.Put: topic=%s, payload=%s", topic, payload)
		transport.conn.Publish(topic, qos, retain, payload, func(err error) {
			if err != nil {
				metrics.PublishErrors.WithLabelValues(prefix).Inc()
				logrus.Warningf("MqttTransport.Put: publish of %s/%s failed: %s", id, band, err)
			} else {
				metrics.Published.WithLabelValues(prefix).Inc()
			}
			if onDone != nil {
				onDone(record, err)
			}
		})
	})
	return nil
}

// Put publishes a band value and waits for the publication to complete.
// When ctx ends first its error is returned. The publication itself is not cancelled.
func (transport *MqttTransport) Put(ctx context.Context, id string, band string,
	value map[string]interface{}) (api.Record, error) {

	type result struct {
		record api.Record
		err    error
	}
	done := make(chan result, 1)
	err := transport.PutAsync(id, band, value, func(record api.Record, err error) {
		done <- result{record, err}
	})
	if err != nil {
		return api.Record{}, err
	}
	select {
	case r := <-done:
		return r.record, r.err
	case <-ctx.Done():
		return api.Record{}, ctx.Err()
	}
}

// Package metrics with the prometheus counters of the MQTT transport
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reasons for dropping an inbound message
const (
	DropReasonTopic   = "topic"
	DropReasonPayload = "payload"
)

var (
	Published = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqtttransport_published_total",
			Help: "Total number of band values published by prefix",
		},
		[]string{"prefix"},
	)

	PublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqtttransport_publish_errors_total",
			Help: "Total number of failed publications by prefix",
		},
		[]string{"prefix"},
	)

	Received = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqtttransport_received_total",
			Help: "Total number of messages received on the wildcard subscription by prefix",
		},
		[]string{"prefix"},
	)

	Delivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqtttransport_delivered_total",
			Help: "Total number of records delivered to update listeners by prefix",
		},
		[]string{"prefix"},
	)

	Dropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqtttransport_dropped_total",
			Help: "Total number of received messages that were not a record of the prefix",
		},
		[]string{"prefix", "reason"},
	)

	SubscribeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqtttransport_subscribe_errors_total",
			Help: "Total number of rejected wildcard subscriptions by prefix",
		},
		[]string{"prefix"},
	)

	ResubscribeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqtttransport_resubscribe_errors_total",
			Help: "Total number of topic filters that could not be restored after a reconnect by client ID",
		},
		[]string{"client_id"},
	)

	ConnectionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mqtttransport_connection_state",
			Help: "Broker connection state by client ID: 0 disconnected, 1 connecting, 2 connected, 3 error, 4 reconnecting, 5 closed",
		},
		[]string{"client_id"},
	)
)

package mqtttransport_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wostzone/mqtttransport-go/api"
	"github.com/wostzone/mqtttransport-go/pkg/metrics"
	"github.com/wostzone/mqtttransport-go/pkg/transportconfig"
)

func TestUpdatedSubscribesOnce(t *testing.T) {
	conn := newFakeConnection(false)
	transport := newTestTransport(t, "home", conn, nil)

	rec1 := &recorder{}
	rec2 := &recorder{}
	_, err := transport.Updated("", "", rec1.handler)
	require.NoError(t, err)
	_, err = transport.Updated("lamp", "", rec2.handler)
	require.NoError(t, err)
	assert.Equal(t, "subscribing", transport.SubscriptionState())
	assert.Equal(t, 0, conn.subscribeCount("home/#"))

	conn.connect()
	assert.Equal(t, 1, conn.subscribeCount("home/#"))
	assert.Equal(t, "subscribed", transport.SubscriptionState())

	// later registrations reuse the subscription
	_, err = transport.Updated("", "power", rec2.handler)
	require.NoError(t, err)
	assert.Equal(t, 1, conn.subscribeCount("home/#"))
	assert.Equal(t, 3, transport.ListenerCount())
}

func TestUpdatedFilters(t *testing.T) {
	conn := newFakeConnection(false)
	conn.connect()
	transport := newTestTransport(t, "home", conn, nil)

	all := &recorder{}
	byID := &recorder{}
	byBand := &recorder{}
	both := &recorder{}
	_, _ = transport.Updated("", "", all.handler)
	_, _ = transport.Updated("lamp", "", byID.handler)
	_, _ = transport.Updated("", "power", byBand.handler)
	_, _ = transport.Updated("lamp", "power", both.handler)

	conn.deliver("home/lamp/power", []byte(`{"on":true}`))
	conn.deliver("home/lamp/level", []byte(`{"value":3}`))
	conn.deliver("home/fan/power", []byte(`{"on":false}`))

	assert.Len(t, all.received(), 3)
	assert.Len(t, byID.received(), 2)
	assert.Len(t, byBand.received(), 2)
	require.Len(t, both.received(), 1)
	record := both.received()[0]
	assert.Equal(t, "lamp", record.ID)
	assert.Equal(t, "power", record.Band)
	assert.Equal(t, true, record.Value["on"])
}

func TestUpdatedDecodesReservedCharacters(t *testing.T) {
	conn := newFakeConnection(false)
	conn.connect()
	transport := newTestTransport(t, "home", conn, nil)
	rec := &recorder{}
	_, _ = transport.Updated("sensor/1", "temp.c", rec.handler)

	conn.deliver("home/sensor%2f1/temp%2ec", []byte(`{"value":20}`))
	require.Len(t, rec.received(), 1)
	assert.Equal(t, "sensor/1", rec.received()[0].ID)
	assert.Equal(t, "temp.c", rec.received()[0].Band)
}

func TestUpdatedDropsInvalidMessages(t *testing.T) {
	conn := newFakeConnection(false)
	conn.connect()
	transport := newTestTransport(t, "droptest", conn, nil)
	rec := &recorder{}
	_, _ = transport.Updated("", "", rec.handler)
	topicDrops := testutil.ToFloat64(metrics.Dropped.WithLabelValues("droptest", metrics.DropReasonTopic))
	payloadDrops := testutil.ToFloat64(metrics.Dropped.WithLabelValues("droptest", metrics.DropReasonPayload))

	// wrong depth
	conn.deliver("droptest/lamp", []byte(`{}`))
	conn.deliver("droptest/lamp/power/extra", []byte(`{}`))
	// not a mapping or not json
	conn.deliver("droptest/lamp/power", []byte(`[1,2]`))
	conn.deliver("droptest/lamp/power", []byte(`null`))
	conn.deliver("droptest/lamp/power", []byte(`not json`))

	assert.Empty(t, rec.received())
	assert.Equal(t, topicDrops+2, testutil.ToFloat64(metrics.Dropped.WithLabelValues("droptest", metrics.DropReasonTopic)))
	assert.Equal(t, payloadDrops+3, testutil.ToFloat64(metrics.Dropped.WithLabelValues("droptest", metrics.DropReasonPayload)))
}

func TestUpdatedNotAllowed(t *testing.T) {
	conn := newFakeConnection(false)
	conn.connect()
	transport := newTestTransport(t, "home", conn, func(config *transportconfig.TransportConfig) {
		config.AllowUpdated = false
	})
	rec := &recorder{}
	sub, err := transport.Updated("", "", rec.handler)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, 0, conn.subscribeCount("home/#"))
	assert.Equal(t, 0, transport.ListenerCount())
	sub.Unsubscribe()
}

func TestUpdatedNilHandler(t *testing.T) {
	conn := newFakeConnection(false)
	transport := newTestTransport(t, "home", conn, nil)
	_, err := transport.Updated("", "", nil)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestUpdatedSubscribeErrorRetries(t *testing.T) {
	conn := newFakeConnection(false)
	conn.connect()
	conn.setErrors(nil, errors.New("refused"))
	transport := newTestTransport(t, "retry", conn, nil)
	before := testutil.ToFloat64(metrics.SubscribeErrors.WithLabelValues("retry"))

	_, err := transport.Updated("", "", func(api.Record) {})
	require.NoError(t, err)
	assert.Equal(t, "unsubscribed", transport.SubscriptionState())
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.SubscribeErrors.WithLabelValues("retry")))

	// the next registration subscribes again
	conn.setErrors(nil, nil)
	rec := &recorder{}
	_, err = transport.Updated("", "", rec.handler)
	require.NoError(t, err)
	assert.Equal(t, 2, conn.subscribeCount("retry/#"))
	assert.Equal(t, "subscribed", transport.SubscriptionState())

	conn.deliver("retry/a/b", []byte(`{}`))
	assert.Len(t, rec.received(), 1)
}

func TestUnsubscribe(t *testing.T) {
	conn := newFakeConnection(false)
	conn.connect()
	transport := newTestTransport(t, "home", conn, nil)
	rec1 := &recorder{}
	rec2 := &recorder{}
	sub1, _ := transport.Updated("", "", rec1.handler)
	_, _ = transport.Updated("", "", rec2.handler)

	sub1.Unsubscribe()
	sub1.Unsubscribe()
	assert.Equal(t, 1, transport.ListenerCount())

	conn.deliver("home/a/b", []byte(`{}`))
	assert.Empty(t, rec1.received())
	assert.Len(t, rec2.received(), 1)
}

func TestListenerPanicDoesNotStopOthers(t *testing.T) {
	conn := newFakeConnection(false)
	conn.connect()
	transport := newTestTransport(t, "home", conn, nil)
	rec := &recorder{}
	_, _ = transport.Updated("", "", func(api.Record) { panic("listener failure") })
	_, _ = transport.Updated("", "", rec.handler)

	assert.NotPanics(t, func() {
		conn.deliver("home/a/b", []byte(`{}`))
	})
	assert.Len(t, rec.received(), 1)
}

func TestPutUpdatedRoundTrip(t *testing.T) {
	conn := newFakeConnection(true)
	conn.connect()
	transport := newTestTransport(t, "home", conn, func(config *transportconfig.TransportConfig) {
		config.AddTimestamp = transportconfig.TimestampPolicy{All: true}
	})
	rec := &recorder{}
	_, err := transport.Updated("lamp", "", rec.handler)
	require.NoError(t, err)

	_, err = transport.Put(context.Background(), "lamp", "power", map[string]interface{}{"on": true})
	require.NoError(t, err)
	_, err = transport.Put(context.Background(), "fan", "power", map[string]interface{}{"on": true})
	require.NoError(t, err)

	received := rec.received()
	require.Len(t, received, 1)
	assert.Equal(t, "lamp", received[0].ID)
	assert.Equal(t, "power", received[0].Band)
	assert.Equal(t, true, received[0].Value["on"])
	assert.Equal(t, testTimestamp, received[0].Value[api.TimestampField])
}

func TestSharedConnectionPrefixes(t *testing.T) {
	conn := newFakeConnection(true)
	conn.connect()
	home := newTestTransport(t, "home", conn, nil)
	office := newTestTransport(t, "office", conn, nil)
	homeRec := &recorder{}
	officeRec := &recorder{}
	_, _ = home.Updated("", "", homeRec.handler)
	_, _ = office.Updated("", "", officeRec.handler)

	_, err := home.Put(context.Background(), "lamp", "power", map[string]interface{}{})
	require.NoError(t, err)
	_, err = office.Put(context.Background(), "desk", "height", map[string]interface{}{})
	require.NoError(t, err)

	require.Len(t, homeRec.received(), 1)
	assert.Equal(t, "lamp", homeRec.received()[0].ID)
	require.Len(t, officeRec.received(), 1)
	assert.Equal(t, "desk", officeRec.received()[0].ID)

	// closing one transport leaves the other working
	home.Close()
	_, err = office.Put(context.Background(), "desk", "height", map[string]interface{}{})
	require.NoError(t, err)
	assert.Len(t, officeRec.received(), 2)
	assert.Len(t, homeRec.received(), 1)
}

func TestEmptyPrefix(t *testing.T) {
	conn := newFakeConnection(true)
	conn.connect()
	transport := newTestTransport(t, "", conn, nil)
	rec := &recorder{}
	_, _ = transport.Updated("", "", rec.handler)
	assert.Equal(t, 1, conn.subscribeCount("#"))

	_, err := transport.Put(context.Background(), "lamp", "power", map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, "lamp/power", conn.publications()[0].topic)
	require.Len(t, rec.received(), 1)
}

package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversTypedPayload(t *testing.T) {
	bus := NewBus()
	var mu sync.Mutex
	var got []OrderPlaced
	require.NoError(t, bus.Subscribe(TopicOrderPlaced, func(e OrderPlaced) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e)
	}))

	bus.Publish(TopicOrderPlaced, OrderPlaced{OrderID: 11, OrderNumber: 1})
	bus.Publish(TopicOrderPlaced, OrderPlaced{OrderID: 12, OrderNumber: 2})
	bus.Publish(TopicLowStock, LowStock{ProductID: 1}) // no subscriber
	bus.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.ElementsMatch(t, []int64{11, 12}, []int64{got[0].OrderID, got[1].OrderID})
}

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func TestForwarderWritesEnvelopes(t *testing.T) {
	w := &fakeWriter{}
	f := newForwarder(w, 8)
	bus := NewBus()
	require.NoError(t, f.Attach(bus))

	ctx, cancel := context.WithCancel(context.Background())
	f.Start(ctx)

	bus.Publish(TopicPaymentSettled, PaymentSettled{PaymentID: 5, PaypackRef: "ref-1", Status: "successful"})
	bus.Wait()
	cancel()
	f.WaitClosed()

	w.mu.Lock()
	defer w.mu.Unlock()
	assert.True(t, w.closed)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, TopicPaymentSettled, string(w.msgs[0].Key))

	var env Envelope
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &env))
	assert.Equal(t, TopicPaymentSettled, env.EventType)
	assert.Equal(t, EnvelopeVersion, env.EventVersion)
	assert.Equal(t, producerName, env.Producer)
	assert.NotEmpty(t, env.EventID)

	var payload PaymentSettled
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "ref-1", payload.PaypackRef)
}

func TestForwarderDropsWhenInboxFull(t *testing.T) {
	f := newForwarder(&fakeWriter{}, 1)
	f.Forward(TopicLowStock, LowStock{ProductID: 1})
	f.Forward(TopicLowStock, LowStock{ProductID: 2})
	assert.Len(t, f.inbox, 1)
}

func TestNewEnvelopeUsesUTC(t *testing.T) {
	loc := time.FixedZone("CAT", 2*3600)
	env, err := NewEnvelope(TopicProductCreated, ProductCreated{ProductID: 3}, time.Date(2024, 5, 1, 10, 0, 0, 0, loc))
	require.NoError(t, err)
	assert.Equal(t, 8, env.OccurredAt.Hour())
	assert.Equal(t, time.UTC, env.OccurredAt.Location())
}

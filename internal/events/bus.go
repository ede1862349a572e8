package events

import (
	"sync"

	"github.com/asaskevich/EventBus"
	"go.uber.org/zap"
)

// Bus fans events out to in-process subscribers. Handlers run asynchronously
// and receive the payload struct published on the topic.
type Bus struct {
	bus EventBus.Bus
}

func NewBus() *Bus {
	return &Bus{bus: EventBus.New()}
}

func (b *Bus) Publish(topic string, payload interface{}) {
	if !b.bus.HasCallback(topic) {
		zap.L().Debug("event has no subscriber", zap.String("topic", topic))
		return
	}
	b.bus.Publish(topic, payload)
}

// Subscribe registers fn for topic. fn must take exactly one argument of the
// topic's payload type (or interface{}).
func (b *Bus) Subscribe(topic string, fn interface{}) error {
	return b.bus.SubscribeAsync(topic, fn, false)
}

// SubscribeAll registers fn on every known topic.
func (b *Bus) SubscribeAll(fn func(topic string, payload interface{})) error {
	for _, topic := range Topics {
		t := topic
		if err := b.bus.SubscribeAsync(t, func(payload interface{}) { fn(t, payload) }, false); err != nil {
			return err
		}
	}
	return nil
}

// Wait blocks until every asynchronous handler has returned.
func (b *Bus) Wait() {
	b.bus.WaitAsync()
}

// Recorder is a Publisher that keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	Events []Recorded
}

type Recorded struct {
	Topic   string
	Payload interface{}
}

func (r *Recorder) Publish(topic string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, Recorded{Topic: topic, Payload: payload})
}

// Topic returns the payloads recorded for topic, in publish order.
func (r *Recorder) Topic(topic string) []interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []interface{}
	for _, e := range r.Events {
		if e.Topic == topic {
			out = append(out, e.Payload)
		}
	}
	return out
}

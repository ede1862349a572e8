package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	EnvelopeVersion = 1
	producerName    = "sokomarket"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Envelope struct {
	EventID      string              `json:"event_id"`
	EventType    string              `json:"event_type"`
	EventVersion int                 `json:"event_version"`
	OccurredAt   time.Time           `json:"occurred_at"`
	Producer     string              `json:"producer"`
	Payload      jsoniter.RawMessage `json:"payload"`
}

// NewEnvelope wraps payload for publication outside the process.
func NewEnvelope(topic string, payload interface{}, now time.Time) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		EventID:      uuid.NewString(),
		EventType:    topic,
		EventVersion: EnvelopeVersion,
		OccurredAt:   now.UTC(),
		Producer:     producerName,
		Payload:      raw,
	}, nil
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Forwarder copies bus events to a Kafka topic. Writes happen on one goroutine
// fed by a buffered inbox; a full inbox drops the event with a warning.
type Forwarder struct {
	w       messageWriter
	inbox   chan kafka.Message
	closeCh chan struct{}
}

func NewForwarder(brokers []string, topic string, buf int) *Forwarder {
	return newForwarder(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}, buf)
}

func newForwarder(w messageWriter, buf int) *Forwarder {
	if buf <= 0 {
		buf = 256
	}
	return &Forwarder{
		w:       w,
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
	}
}

// Attach subscribes the forwarder to every topic on bus.
func (f *Forwarder) Attach(bus *Bus) error {
	return bus.SubscribeAll(f.Forward)
}

func (f *Forwarder) Forward(topic string, payload interface{}) {
	env, err := NewEnvelope(topic, payload, time.Now())
	if err != nil {
		zap.L().Error("encode event payload", zap.String("topic", topic), zap.Error(err))
		return
	}
	value, err := json.Marshal(env)
	if err != nil {
		zap.L().Error("encode event envelope", zap.String("topic", topic), zap.Error(err))
		return
	}
	msg := kafka.Message{
		Key:   []byte(topic),
		Value: value,
		Time:  env.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(topic)},
			{Key: "event_id", Value: []byte(env.EventID)},
		},
	}
	select {
	case f.inbox <- msg:
	default:
		zap.L().Warn("kafka forwarder inbox full, event dropped",
			zap.String("topic", topic), zap.String("event_id", env.EventID))
	}
}

// Start runs the writer loop until ctx is done, then flushes what is queued.
func (f *Forwarder) Start(ctx context.Context) {
	go func() {
		defer close(f.closeCh)
		for {
			select {
			case <-ctx.Done():
				f.drain()
				return
			case m := <-f.inbox:
				f.write(m)
			}
		}
	}()
}

func (f *Forwarder) drain() {
	for {
		select {
		case m := <-f.inbox:
			f.write(m)
		default:
			if err := f.w.Close(); err != nil {
				zap.L().Warn("close kafka writer", zap.Error(err))
			}
			return
		}
	}
}

func (f *Forwarder) write(m kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := f.w.WriteMessages(ctx, m); err != nil {
		zap.L().Error("forward event to kafka", zap.ByteString("topic", m.Key), zap.Error(err))
	}
}

// WaitClosed blocks until the writer loop has flushed and exited.
func (f *Forwarder) WaitClosed() {
	<-f.closeCh
}

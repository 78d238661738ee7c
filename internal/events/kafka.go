// Package events выгружает закоммиченные исходы в Kafka. Ключ записи: id беседы,
// поэтому беседа живёт в одной партиции и потребители видят её исходы в
// порядке коммита.
package events

import (
	"context"
	"time"

	jsoniter "github.com/json-iterator/go"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/chatcore/internal/bus"
	"github.com/chatcore/internal/logger"
)

// Writer: часть *kafkago.Writer, которая нужна Sink.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Record: событие шины в том виде, в каком оно уходит в Kafka.
type Record struct {
	Kind           string    `json:"kind"`
	ConversationID string    `json:"conversation_id"`
	Timestamp      time.Time `json:"timestamp"`
	Payload        any       `json:"payload"`
}

const (
	writeTimeout = 10 * time.Second
	maxBatch     = 100
)

type Sink struct {
	writer      Writer
	events      <-chan bus.Event
	unsubscribe func()

	// stopped закрывается, когда Run вышел; merged: когда вышла горутина merge.
	stopped chan struct{}
	merged  chan struct{}
}

func NewWriter(brokers []string, topic string) *kafkago.Writer {
	return &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
}

// NewSink подписывается на исходы сообщений и бесед; набор текста не выгружается.
func NewSink(b *bus.Bus, w Writer, bufSize int) *Sink {
	s := &Sink{writer: w, stopped: make(chan struct{}), merged: make(chan struct{})}
	msgs, unsubMsgs := b.Subscribe("kafka.message", "message.", bufSize)
	convs, unsubConvs := b.Subscribe("kafka.conversation", "conversation.", bufSize)
	s.events = merge(s.stopped, s.merged, msgs, convs)
	s.unsubscribe = func() {
		unsubMsgs()
		unsubConvs()
	}
	return s
}

// merge сохраняет порядок внутри каждого входа; исходы сообщений и участников
// одной беседы друг относительно друга не упорядочены. После закрытия stop
// горутина выходит, а оставшиеся в подписках события отбрасываются.
func merge(stop <-chan struct{}, exited chan<- struct{}, a, b <-chan bus.Event) <-chan bus.Event {
	out := make(chan bus.Event)
	go func() {
		defer close(exited)
		defer close(out)
		for a != nil || b != nil {
			var (
				evt bus.Event
				ok  bool
			)
			select {
			case <-stop:
				return
			case evt, ok = <-a:
				if !ok {
					a = nil
					continue
				}
			case evt, ok = <-b:
				if !ok {
					b = nil
					continue
				}
			}
			select {
			case out <- evt:
			case <-stop:
				return
			}
		}
	}()
	return out
}

// Run пишет события небольшими пачками, пока подписка не закрыта и ctx жив.
func (s *Sink) Run(ctx context.Context) {
	defer close(s.stopped)
	batch := make([]kafkago.Message, 0, maxBatch)
	for {
		var (
			evt bus.Event
			ok  bool
		)
		select {
		case <-ctx.Done():
			return
		case evt, ok = <-s.events:
		}
		if !ok {
			return
		}
		batch = appendRecord(batch, evt)
	drain:
		for len(batch) < maxBatch {
			select {
			case evt, ok := <-s.events:
				if !ok {
					break drain
				}
				batch = appendRecord(batch, evt)
			default:
				break drain
			}
		}
		s.write(batch)
		batch = batch[:0]
	}
}

// Stop отписывается; Run вернётся, когда запишет уже стоящие в очереди события.
func (s *Sink) Stop() {
	s.unsubscribe()
}

func (s *Sink) Close() error {
	return s.writer.Close()
}

func (s *Sink) write(batch []kafkago.Message) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.writer.WriteMessages(ctx, batch...); err != nil {
		logger.Errorf("events: kafka write %d records: %v", len(batch), err)
	}
}

func appendRecord(batch []kafkago.Message, evt bus.Event) []kafkago.Message {
	value, err := jsoniter.Marshal(Record{
		Kind:           evt.Kind,
		ConversationID: evt.ConversationID,
		Timestamp:      evt.Timestamp,
		Payload:        evt.Payload,
	})
	if err != nil {
		logger.Errorf("events: encode %s conversation=%s: %v", evt.Kind, evt.ConversationID, err)
		return batch
	}
	return append(batch, kafkago.Message{
		Key:     []byte(evt.ConversationID),
		Value:   value,
		Time:    evt.Timestamp,
		Headers: []kafkago.Header{{Key: "kind", Value: []byte(evt.Kind)}},
	})
}

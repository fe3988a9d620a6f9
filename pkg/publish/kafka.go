package publish

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/uhyunpark/escrowdex/pkg/exchange"
)

// MessageWriter is the slice of *kafka.Writer the publisher uses
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher streams committed event log entries to a Kafka topic.
// Publish never blocks the exchange: entries are queued and written by Run.
// When the queue is full the entry is dropped and counted; consumers can
// backfill from the event log by sequence number.
type Publisher struct {
	writer MessageWriter
	queue  chan exchange.LogEntry
	logger *zap.SugaredLogger

	mu      sync.Mutex
	dropped uint64
}

func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	}
}

func NewPublisher(writer MessageWriter, buffer int, logger *zap.SugaredLogger) *Publisher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if buffer <= 0 {
		buffer = 1024
	}
	return &Publisher{
		writer: writer,
		queue:  make(chan exchange.LogEntry, buffer),
		logger: logger,
	}
}

// Publish implements exchange.Sink
func (p *Publisher) Publish(_ context.Context, entry exchange.LogEntry) {
	select {
	case p.queue <- entry:
	default:
		p.mu.Lock()
		p.dropped++
		p.mu.Unlock()
		p.logger.Warnw("event_publish_dropped", "seq", entry.Seq, "event", entry.Event)
	}
}

func (p *Publisher) Dropped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Run drains the queue until ctx is done, then flushes what is left and
// closes the writer
func (p *Publisher) Run(ctx context.Context) error {
	defer p.writer.Close()

	for {
		select {
		case entry := <-p.queue:
			p.write(ctx, entry)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			for {
				select {
				case entry := <-p.queue:
					p.write(flushCtx, entry)
				default:
					return nil
				}
			}
		}
	}
}

func (p *Publisher) write(ctx context.Context, entry exchange.LogEntry) {
	msg, err := toMessage(entry)
	if err != nil {
		p.logger.Errorw("event_encode_failed", "seq", entry.Seq, "error", err)
		return
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Errorw("event_publish_failed", "seq", entry.Seq, "event", entry.Event, "error", err)
	}
}

// toMessage keys by user so a consumer sees one account's events in order
func toMessage(entry exchange.LogEntry) (kafka.Message, error) {
	value, err := json.Marshal(entry)
	if err != nil {
		return kafka.Message{}, err
	}
	key := entry.Args["user"]
	if key == "" {
		key = strconv.FormatUint(entry.Seq, 10)
	}
	return kafka.Message{
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(entry.Event)},
			{Key: "seq", Value: []byte(strconv.FormatUint(entry.Seq, 10))},
		},
	}, nil
}

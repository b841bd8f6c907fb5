package outbox

import (
	"context"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/MikeMC777/tienda-ordenes/internal/metrics"
)

// Writer is the part of *kafka.Writer the relay uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Store is the outbox table as seen by the relay.
type Store interface {
	FetchPending(ctx context.Context, limit int) ([]Record, error)
	MarkSent(ctx context.Context, id int64) error
}

// PGStore adapts a pool to Store.
type PGStore struct{ DB Querier }

func (s PGStore) FetchPending(ctx context.Context, limit int) ([]Record, error) {
	return FetchPending(ctx, s.DB, limit)
}

func (s PGStore) MarkSent(ctx context.Context, id int64) error {
	return MarkSent(ctx, s.DB, id)
}

// Flush hands the writer whole batches, so it should not linger waiting for more.
const writerBatchTimeout = 10 * time.Millisecond

// NewWriter returns a writer without a fixed topic; each message carries the
// topic stored on its outbox record.
func NewWriter(brokersCSV string) *kafka.Writer {
	var brokers []string
	for _, b := range strings.Split(brokersCSV, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: writerBatchTimeout,
	}
}

type Relay struct {
	store     Store
	writer    Writer
	batchSize int
	interval  time.Duration
	log       *zap.Logger
	metrics   *metrics.Collectors
}

func NewRelay(store Store, writer Writer, batchSize int, interval time.Duration, log *zap.Logger, m *metrics.Collectors) *Relay {
	if batchSize <= 0 {
		batchSize = 100
	}
	if interval <= 0 {
		interval = time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{store: store, writer: writer, batchSize: batchSize, interval: interval, log: log, metrics: m}
}

// Run publishes pending records until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		if _, err := r.Flush(ctx); err != nil {
			r.log.Error("outbox flush failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Flush publishes one batch with a single write and returns how many records
// were sent. Records are marked sent only after Kafka accepts the batch, so a
// crash in between redelivers rather than loses; consumers dedupe on event_id.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	recs, err := r.store.FetchPending(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}
	if len(recs) == 0 {
		return 0, nil
	}
	msgs := make([]kafka.Message, 0, len(recs))
	for _, rec := range recs {
		msgs = append(msgs, kafka.Message{
			Topic: rec.Topic,
			Key:   []byte(rec.Key),
			Value: rec.Payload,
			Time:  rec.CreatedAt,
			Headers: []kafka.Header{
				{Key: "event_id", Value: []byte(rec.EventID)},
			},
		})
	}
	if err := r.writer.WriteMessages(ctx, msgs...); err != nil {
		for range recs {
			r.metrics.Published("error")
		}
		return 0, err
	}
	sent := 0
	for _, rec := range recs {
		if err := r.store.MarkSent(ctx, rec.ID); err != nil {
			return sent, err
		}
		r.metrics.Published("ok")
		sent++
	}
	return sent, nil
}

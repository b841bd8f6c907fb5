package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/MikeMC777/tienda-ordenes/internal/metrics"
)

type memStore struct {
	mu   sync.Mutex
	recs []Record
}

func (s *memStore) add(topic string, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, _ := json.Marshal(ev)
	s.recs = append(s.recs, Record{
		ID: int64(len(s.recs) + 1), EventID: ev.EventID, Topic: topic, Key: ev.OrderID,
		Payload: data, CreatedAt: ev.CreatedAt,
	})
}

func (s *memStore) FetchPending(_ context.Context, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, r := range s.recs {
		if r.SentAt == nil && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) MarkSent(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for i := range s.recs {
		if s.recs[i].ID == id {
			s.recs[i].SentAt = &now
		}
	}
	return nil
}

type fakeWriter struct {
	mu       sync.Mutex
	msgs     []kafka.Message
	calls    int
	failCall int
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.calls == w.failCall {
		return errors.New("broker unavailable")
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func TestRelayFlush(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := &memStore{}
	store.add("orders.events", NewEvent("o1", EventOrderCreated, map[string]any{"total_amount": "25.00"}))
	store.add("orders.events", NewEvent("o1", EventOrderStatusChanged, map[string]any{"from": "pending", "to": "confirmed"}))
	store.add("orders.events", NewEvent("o2", EventOrderCreated, nil))

	m := metrics.New(prometheus.NewRegistry())
	w := &fakeWriter{}
	relay := NewRelay(store, w, 2, time.Millisecond, nil, m)

	n, err := relay.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	n, err = relay.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	n, err = relay.Flush(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	require.Len(t, w.msgs, 3)
	require.Equal(t, 2, w.calls)
	require.Equal(t, "orders.events", w.msgs[0].Topic)
	require.Equal(t, "o1", string(w.msgs[0].Key))
	require.Equal(t, "event_id", w.msgs[0].Headers[0].Key)

	var ev Event
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &ev))
	require.Equal(t, EventOrderStatusChanged, ev.Type)
	require.Equal(t, "confirmed", ev.Payload["to"])

	require.Equal(t, 3.0, testutil.ToFloat64(m.OutboxPublished.WithLabelValues("ok")))
}

func TestRelayFlush_WriteErrorLeavesBatchPending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := &memStore{}
	store.add("orders.events", NewEvent("o1", EventOrderCreated, nil))
	store.add("orders.events", NewEvent("o2", EventOrderCreated, nil))

	m := metrics.New(prometheus.NewRegistry())
	w := &fakeWriter{failCall: 1}
	relay := NewRelay(store, w, 10, time.Millisecond, nil, m)

	n, err := relay.Flush(ctx)
	require.Error(t, err)
	require.Zero(t, n)
	require.Equal(t, 2.0, testutil.ToFloat64(m.OutboxPublished.WithLabelValues("error")))

	pending, err := store.FetchPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	n, err = relay.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, 2, w.calls)
	require.Len(t, w.msgs, 2)
}

func TestNewWriter(t *testing.T) {
	t.Parallel()
	w := NewWriter(" kafka-1:9092, ,kafka-2:9092")
	require.Contains(t, w.Addr.String(), "kafka-1:9092")
	require.Contains(t, w.Addr.String(), "kafka-2:9092")
	require.Equal(t, writerBatchTimeout, w.BatchTimeout)
}

func TestRelayRun_StopsOnCancel(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	store.add("orders.events", NewEvent("o1", EventOrderCreated, nil))
	w := &fakeWriter{}
	relay := NewRelay(store, w, 10, 5*time.Millisecond, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := relay.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	w.mu.Lock()
	defer w.mu.Unlock()
	require.Len(t, w.msgs, 1)
}

func TestNewEventIDsAreUniqueAndOrdered(t *testing.T) {
	t.Parallel()
	a := NewEvent("o1", EventOrderCreated, nil)
	b := NewEvent("o1", EventOrderCreated, nil)
	require.NotEqual(t, a.EventID, b.EventID)
	require.Len(t, a.EventID, 26)
}

// Package outbox stores order events in the same transaction as the change
// they describe and relays them to Kafka once committed.
package outbox

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
)

const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
)

type Event struct {
	EventID   string         `json:"event_id"`
	OrderID   string         `json:"order_id"`
	Type      string         `json:"type"`
	CreatedAt time.Time      `json:"created_at"`
	Payload   map[string]any `json:"payload"`
}

// NewEvent stamps an event with a time-ordered id.
func NewEvent(orderID, typ string, payload map[string]any) Event {
	now := time.Now().UTC()
	return Event{
		EventID:   ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		OrderID:   orderID,
		Type:      typ,
		CreatedAt: now,
		Payload:   payload,
	}
}

type Record struct {
	ID        int64           `json:"id"`
	EventID   string          `json:"event_id"`
	Topic     string          `json:"topic"`
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	SentAt    *time.Time      `json:"sent_at"`
}

type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Querier interface {
	Execer
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Insert writes ev keyed by its order id. Pass the transaction that carries
// the change the event describes.
func Insert(ctx context.Context, db Execer, topic string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, `INSERT INTO outbox(event_id, topic, key, payload) VALUES ($1, $2, $3, $4)`,
		ev.EventID, topic, ev.OrderID, data)
	return err
}

func MarkSent(ctx context.Context, db Execer, id int64) error {
	_, err := db.Exec(ctx, `UPDATE outbox SET sent_at=now() WHERE id=$1`, id)
	return err
}

func FetchPending(ctx context.Context, db Querier, limit int) ([]Record, error) {
	rows, err := db.Query(ctx, `
		SELECT id, event_id, topic, key, payload, created_at, sent_at
		FROM outbox WHERE sent_at IS NULL ORDER BY id LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.EventID, &rec.Topic, &rec.Key, &rec.Payload, &rec.CreatedAt, &rec.SentAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultChannel is the Redis pub/sub channel events are published on.
const DefaultChannel = "clinic.events"

type Sink interface {
	Deliver(ctx context.Context, ev Event) error
}

type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Deliver(ctx context.Context, ev Event) error { return f(ctx, ev) }

// LogSink writes every event to the structured log.
type LogSink struct {
	Log zerolog.Logger
}

func (s LogSink) Deliver(_ context.Context, ev Event) error {
	s.Log.Info().
		Str("event_id", ev.ID.String()).
		Str("kind", ev.Kind).
		Interface("payload", ev.Payload).
		Time("occurred_at", ev.OccurredAt).
		Msg("clinic event")
	return nil
}

// RedisSink publishes events as JSON on a pub/sub channel.
type RedisSink struct {
	client  *redis.Client
	channel string
}

func NewRedisSink(client *redis.Client, channel string) *RedisSink {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisSink{client: client, channel: channel}
}

func (s *RedisSink) Deliver(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, body).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Kind, err)
	}
	return nil
}

// PgEventLog appends events to the event_logs table.
type PgEventLog struct {
	pool *pgxpool.Pool
}

func NewPgEventLog(pool *pgxpool.Pool) *PgEventLog {
	return &PgEventLog{pool: pool}
}

func (s *PgEventLog) Deliver(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO event_logs (id, event_type, subject_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, ev.ID, ev.Kind, subjectID(ev.Payload), body, ev.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

// subjectID picks the aggregate an event is about, if the payload names one.
func subjectID(payload map[string]any) *uuid.UUID {
	for _, key := range []string{"appointment_id", "invoice_id"} {
		raw, ok := payload[key].(string)
		if !ok {
			continue
		}
		if id, err := uuid.Parse(raw); err == nil {
			return &id
		}
	}
	return nil
}

// Multi delivers to every sink, even after one fails.
type Multi []Sink

func (m Multi) Deliver(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Deliver(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

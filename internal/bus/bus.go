// Package bus implements the durable per-job-kind message bus (§4.1):
// nine logical queues backed by one physical SQLite table, partitioned by
// kind, with at-least-once delivery, bounded retry with exponential
// backoff, and a dead-letter destination. Generalized from an in-memory
// queue manager (which held jobs only in a process-local channel) into
// durable, crash-safe storage.
package bus

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/kalshi-sentinel/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// Kind identifies one of the nine logical queues.
type Kind string

const (
	KindSyncMarketSnapshots  Kind = "sync-market-snapshots"
	KindSyncMarketCategories Kind = "sync-market-categories"
	KindSyncSeries           Kind = "sync-series"
	KindSyncEvents           Kind = "sync-events"
	KindSyncEventDetail      Kind = "sync-event-detail"
	KindSyncOrderbook        Kind = "sync-orderbook"
	KindSyncCandlesticks     Kind = "sync-candlesticks"
	KindProcessAnalytics     Kind = "process-analytics"
	KindCleanupMarket        Kind = "cleanup-market"
)

// Message is one envelope flowing through the bus. Payload is an
// application-defined, msgpack-encoded struct specific to the Kind.
type Message struct {
	ID          string
	Kind        Kind
	Payload     []byte
	Priority    int
	CreatedAt   time.Time
	AvailableAt time.Time
	Attempts    int
	MaxAttempts int
}

// Decode unmarshals Payload into dest.
func (m Message) Decode(dest interface{}) error {
	return msgpack.Unmarshal(m.Payload, dest)
}

// QueueOptions configures one queue's retry/backoff policy.
type QueueOptions struct {
	MaxAttempts int
	BaseBackoff time.Duration
}

// Manager publishes to and consumes from the durable bus.
type Manager struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewManager wraps a *sql.DB positioned at the ops database (bus_messages,
// bus_dead_letters tables).
func NewManager(db *sql.DB, log zerolog.Logger) *Manager {
	return &Manager{db: db, log: log.With().Str("component", "bus").Logger()}
}

// Publish encodes payload with msgpack and enqueues it onto kind, available
// immediately. Returns domain.ErrBusUnavailable if the write fails.
func (m *Manager) Publish(ctx context.Context, kind Kind, payload interface{}, opts QueueOptions) (string, error) {
	return m.PublishDelayed(ctx, kind, payload, 0, opts)
}

// PublishDelayed is Publish with an availability delay, used for retry
// backoff re-enqueues.
func (m *Manager) PublishDelayed(ctx context.Context, kind Kind, payload interface{}, delay time.Duration, opts QueueOptions) (string, error) {
	data, err := msgpack.Marshal(payload)
	if err != nil {
		return "", domain.New(domain.KindInternal, "bus.Publish", err)
	}

	id := uuid.NewString()
	now := time.Now()
	maxAttempts := opts.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 5
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO bus_messages (id, kind, payload, priority, created_at, available_at, attempts, max_attempts, state, locked_until)
		VALUES (?, ?, ?, 0, ?, ?, 0, ?, 'ready', 0)
	`, id, string(kind), data, now.Unix(), now.Add(delay).Unix(), maxAttempts)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrBusUnavailable, err)
	}
	return id, nil
}

// Claim atomically claims up to prefetch ready messages of kind, marking
// them in_flight with a lease of leaseFor (locked_until holds Unix
// milliseconds). Returns nil, nil if none are available.
func (m *Manager) Claim(ctx context.Context, kind Kind, prefetch int, leaseFor time.Duration) ([]Message, error) {
	now := time.Now()
	leaseUntil := now.Add(leaseFor).UnixMilli()

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, domain.New(domain.KindStoreError, "bus.Claim", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, kind, payload, priority, created_at, available_at, attempts, max_attempts
		FROM bus_messages
		WHERE kind = ? AND state IN ('ready', 'in_flight')
		  AND available_at <= ? AND locked_until <= ?
		ORDER BY priority DESC, created_at ASC
		LIMIT ?
	`, string(kind), now.Unix(), now.UnixMilli(), prefetch)
	if err != nil {
		return nil, domain.New(domain.KindStoreError, "bus.Claim", err)
	}

	var msgs []Message
	var ids []string
	for rows.Next() {
		var msg Message
		var k string
		var createdAt, availableAt int64
		if err := rows.Scan(&msg.ID, &k, &msg.Payload, &msg.Priority, &createdAt, &availableAt, &msg.Attempts, &msg.MaxAttempts); err != nil {
			rows.Close()
			return nil, domain.New(domain.KindStoreError, "bus.Claim", err)
		}
		msg.Kind = Kind(k)
		msg.CreatedAt = time.Unix(createdAt, 0).UTC()
		msg.AvailableAt = time.Unix(availableAt, 0).UTC()
		msgs = append(msgs, msg)
		ids = append(ids, msg.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, domain.New(domain.KindStoreError, "bus.Claim", err)
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`UPDATE bus_messages SET state = 'in_flight', locked_until = ?, attempts = attempts + 1 WHERE id = ?`,
			leaseUntil, id); err != nil {
			return nil, domain.New(domain.KindStoreError, "bus.Claim", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, domain.New(domain.KindStoreError, "bus.Claim", err)
	}

	for i := range msgs {
		msgs[i].Attempts++
	}
	return msgs, nil
}

// Ack marks a message done and removes it from the active queue — used on
// success, and on RateLimitExceeded (ack-and-drop, §4.1/§7).
func (m *Manager) Ack(ctx context.Context, id string) error {
	_, err := m.db.ExecContext(ctx, `DELETE FROM bus_messages WHERE id = ?`, id)
	return err
}

// Nack reports failure for a message. If retry is true and attempts remain,
// it is rescheduled with exponential backoff; otherwise it is moved to the
// dead-letter table with its original payload preserved (§4.1 poison policy).
func (m *Manager) Nack(ctx context.Context, msg Message, retry bool, cause error, opts QueueOptions) error {
	if retry && msg.Attempts < msg.MaxAttempts {
		backoff := opts.BaseBackoff
		if backoff == 0 {
			backoff = 2 * time.Second
		}
		delay := backoff * time.Duration(1<<uint(msg.Attempts-1))
		_, err := m.db.ExecContext(ctx, `
			UPDATE bus_messages SET state = 'ready', available_at = ?, locked_until = 0 WHERE id = ?
		`, time.Now().Add(delay).Unix(), msg.ID)
		return err
	}
	return m.deadLetter(ctx, msg, cause)
}

func (m *Manager) deadLetter(ctx context.Context, msg Message, cause error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	errMsg := ""
	if cause != nil {
		errMsg = cause.Error()
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO bus_dead_letters (id, kind, payload, failed_at, last_error, archived)
		VALUES (?, ?, ?, ?, ?, 0)
	`, msg.ID, string(msg.Kind), msg.Payload, time.Now().Unix(), errMsg); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM bus_messages WHERE id = ?`, msg.ID); err != nil {
		return err
	}
	return tx.Commit()
}

// QueueStats describes one queue's depth for the control surface (§4.9, §6).
type QueueStats struct {
	Kind                   Kind
	Exists                 bool
	Messages               int
	MessagesReady          int
	MessagesUnacknowledged int
	Consumers              int
	Error                  string
}

// Stats returns depth counters for one kind.
func (m *Manager) Stats(ctx context.Context, kind Kind) QueueStats {
	stats := QueueStats{Kind: kind, Exists: true}

	err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bus_messages WHERE kind = ?`, string(kind)).Scan(&stats.Messages)
	if err != nil {
		stats.Error = err.Error()
		return stats
	}
	_ = m.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bus_messages WHERE kind = ? AND state = 'ready'`, string(kind)).Scan(&stats.MessagesReady)
	_ = m.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bus_messages WHERE kind = ? AND state = 'in_flight'`, string(kind)).Scan(&stats.MessagesUnacknowledged)
	return stats
}

// PurgeAll deletes every message of each kind in kinds, leaving other
// kinds and dead letters untouched. Used by the destructive /queues/purge control endpoint (§4.9).
func (m *Manager) PurgeAll(ctx context.Context, kinds []Kind) (purged []Kind, errs map[Kind]string) {
	errs = make(map[Kind]string)
	for _, k := range kinds {
		if _, err := m.db.ExecContext(ctx, `DELETE FROM bus_messages WHERE kind = ?`, string(k)); err != nil {
			errs[k] = err.Error()
			continue
		}
		purged = append(purged, k)
	}
	return purged, errs
}

// AllKinds lists the nine logical queues defined by §4.1.
func AllKinds() []Kind {
	return []Kind{
		KindSyncMarketSnapshots, KindSyncMarketCategories, KindSyncSeries, KindSyncEvents,
		KindSyncEventDetail, KindSyncOrderbook, KindSyncCandlesticks, KindProcessAnalytics, KindCleanupMarket,
	}
}

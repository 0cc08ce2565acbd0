// Package turnlog archives completed voice turns to PostgreSQL.
//
// The archive is optional and strictly off the hot path: Archive enqueues
// onto a buffered channel served by one writer goroutine, and drops the
// record with a warning when the queue is full. Losing an archive row is
// preferable to stalling a live conversation.
package turnlog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arven-dev/voicebridge/internal/pipeline"
)

const (
	queueSize    = 256
	insertWait   = 10 * time.Second
	schemaDDL    = `
CREATE TABLE IF NOT EXISTS voice_turns (
	id          BIGSERIAL PRIMARY KEY,
	conn_id     TEXT        NOT NULL,
	transcript  TEXT        NOT NULL,
	backend     TEXT        NOT NULL,
	reply       TEXT        NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	duration_ms BIGINT      NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS voice_turns_conn_idx ON voice_turns (conn_id, started_at);
`
	insertTurn = `
INSERT INTO voice_turns (conn_id, transcript, backend, reply, started_at, duration_ms)
VALUES ($1, $2, $3, $4, $5, $6)`
)

// Store is the PostgreSQL-backed turn archive. It implements
// [pipeline.Archiver].
type Store struct {
	pool  *pgxpool.Pool
	queue chan pipeline.Turn
	done  chan struct{}
}

var _ pipeline.Archiver = (*Store)(nil)

// Open connects to the database at dsn, bootstraps the schema, and starts
// the writer goroutine.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("turnlog: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("turnlog: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("turnlog: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("turnlog: bootstrap schema: %w", err)
	}

	s := &Store{
		pool:  pool,
		queue: make(chan pipeline.Turn, queueSize),
		done:  make(chan struct{}),
	}
	go s.writeLoop()
	return s, nil
}

// Archive enqueues one completed turn. Never blocks: when the queue is full
// the record is dropped and counted in the log.
func (s *Store) Archive(_ context.Context, t pipeline.Turn) {
	select {
	case s.queue <- t:
	default:
		slog.Warn("turn archive queue full, dropping record", "conn_id", t.ConnID)
	}
}

// Ping reports database connectivity; used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close flushes the queue and releases the pool.
func (s *Store) Close() {
	close(s.queue)
	<-s.done
	s.pool.Close()
}

func (s *Store) writeLoop() {
	defer close(s.done)
	for t := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), insertWait)
		_, err := s.pool.Exec(ctx, insertTurn,
			t.ConnID, t.Transcript, t.Backend, t.Reply, t.StartedAt, t.Duration.Milliseconds())
		cancel()
		if err != nil {
			slog.Warn("turn archive insert failed", "error", err)
		}
	}
}

package markov

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists the Markov model in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS markov_words (
			id INTEGER GENERATED BY DEFAULT AS IDENTITY (START WITH 2) PRIMARY KEY,
			word TEXT NOT NULL UNIQUE
		);`,
		`INSERT INTO markov_words (id, word) VALUES (1, '') ON CONFLICT DO NOTHING;`,
		`CREATE TABLE IF NOT EXISTS markov_sequences (
			p1 INTEGER NOT NULL REFERENCES markov_words(id),
			p2 INTEGER NOT NULL REFERENCES markov_words(id),
			next_id INTEGER NOT NULL REFERENCES markov_words(id),
			freq BIGINT NOT NULL DEFAULT 1 CHECK (freq >= 1),
			PRIMARY KEY (p1, p2, next_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_markov_sequences_context_freq ON markov_sequences (p1, p2, freq DESC);`,
		`CREATE TABLE IF NOT EXISTS markov_training_runs (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			lines_processed BIGINT NOT NULL DEFAULT 0,
			sequences_processed BIGINT NOT NULL DEFAULT 0,
			unique_words INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init markov schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) LookupWord(ctx context.Context, text string) (int32, bool, error) {
	var id int32
	err := s.pool.QueryRow(ctx, `SELECT id FROM markov_words WHERE word=$1`, text).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("lookup word: %w", err)
	}
	return id, true, nil
}

func (s *PostgresStore) InsertWord(ctx context.Context, text string) (int32, error) {
	var id int32
	// DO UPDATE (rather than DO NOTHING) makes RETURNING yield the existing
	// row when another writer inserted the word first.
	err := s.pool.QueryRow(ctx,
		`INSERT INTO markov_words (word) VALUES ($1)
		 ON CONFLICT (word) DO UPDATE SET word=EXCLUDED.word
		 RETURNING id`,
		text,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert word: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) TopTransitions(ctx context.Context, from Context, limit int) ([]Candidate, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT s.next_id, w.word, s.freq
		   FROM markov_sequences s
		   JOIN markov_words w ON w.id = s.next_id
		  WHERE s.p1=$1 AND s.p2=$2
		  ORDER BY s.freq DESC, random()
		  LIMIT $3`,
		from.P1, from.P2, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	out := make([]Candidate, 0, limit)
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.NextID, &c.Word, &c.Freq); err != nil {
			return nil, fmt.Errorf("scan transition row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transition rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) UpsertTransitions(ctx context.Context, batch []Transition) error {
	if len(batch) == 0 {
		return nil
	}
	p1 := make([]int32, 0, len(batch))
	p2 := make([]int32, 0, len(batch))
	next := make([]int32, 0, len(batch))
	freq := make([]int64, 0, len(batch))
	for _, tr := range batch {
		if tr.Freq <= 0 {
			continue
		}
		p1 = append(p1, tr.P1)
		p2 = append(p2, tr.P2)
		next = append(next, tr.Next)
		freq = append(freq, tr.Freq)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Keys must be unique within one statement; callers aggregate batches.
	_, err = tx.Exec(ctx,
		`INSERT INTO markov_sequences (p1, p2, next_id, freq)
		 SELECT * FROM unnest($1::int4[], $2::int4[], $3::int4[], $4::int8[])
		 ON CONFLICT (p1, p2, next_id) DO UPDATE SET freq = markov_sequences.freq + EXCLUDED.freq`,
		p1, p2, next, freq,
	)
	if err != nil {
		return fmt.Errorf("upsert transitions: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecordRun(ctx context.Context, run TrainingRun) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO markov_training_runs (
			id, source, status, lines_processed, sequences_processed, unique_words, error, started_at, finished_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET
			status=EXCLUDED.status,
			lines_processed=EXCLUDED.lines_processed,
			sequences_processed=EXCLUDED.sequences_processed,
			unique_words=EXCLUDED.unique_words,
			error=EXCLUDED.error,
			finished_at=EXCLUDED.finished_at`,
		run.ID,
		run.Source,
		run.Status,
		run.LinesProcessed,
		run.SequencesProcessed,
		run.UniqueWords,
		run.Error,
		run.StartedAt,
		run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("record training run: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentRuns(ctx context.Context, limit int) ([]TrainingRun, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, source, status, lines_processed, sequences_processed, unique_words, error, started_at, finished_at
		   FROM markov_training_runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query training runs: %w", err)
	}
	defer rows.Close()

	runs := make([]TrainingRun, 0, limit)
	for rows.Next() {
		var r TrainingRun
		if err := rows.Scan(&r.ID, &r.Source, &r.Status, &r.LinesProcessed, &r.SequencesProcessed, &r.UniqueWords, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan training run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate training runs: %w", err)
	}
	return runs, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

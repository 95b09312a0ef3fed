package markov

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore keeps the Markov model in a single SQLite file. It suits a
// single-host deployment where running PostgreSQL is not worth it.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (creating if needed) the database file at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; readers queue behind it instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &SQLiteStore{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS markov_words (
			id INTEGER PRIMARY KEY,
			word TEXT NOT NULL UNIQUE
		);`,
		`INSERT OR IGNORE INTO markov_words (id, word) VALUES (1, '');`,
		`CREATE TABLE IF NOT EXISTS markov_sequences (
			p1 INTEGER NOT NULL,
			p2 INTEGER NOT NULL,
			next_id INTEGER NOT NULL,
			freq INTEGER NOT NULL DEFAULT 1 CHECK (freq >= 1),
			PRIMARY KEY (p1, p2, next_id)
		) WITHOUT ROWID;`,
		`CREATE INDEX IF NOT EXISTS idx_markov_sequences_context_freq ON markov_sequences (p1, p2, freq DESC);`,
		`CREATE TABLE IF NOT EXISTS markov_training_runs (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			lines_processed INTEGER NOT NULL DEFAULT 0,
			sequences_processed INTEGER NOT NULL DEFAULT 0,
			unique_words INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init sqlite schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *SQLiteStore) LookupWord(ctx context.Context, text string) (int32, bool, error) {
	var id int32
	err := s.db.QueryRowContext(ctx, `SELECT id FROM markov_words WHERE word = ?`, text).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("lookup word: %w", err)
	}
	return id, true, nil
}

func (s *SQLiteStore) InsertWord(ctx context.Context, text string) (int32, error) {
	var id int32
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO markov_words (word) VALUES (?)
		 ON CONFLICT (word) DO UPDATE SET word = excluded.word
		 RETURNING id`,
		text,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert word: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) TopTransitions(ctx context.Context, from Context, limit int) ([]Candidate, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.next_id, w.word, s.freq
		   FROM markov_sequences s
		   JOIN markov_words w ON w.id = s.next_id
		  WHERE s.p1 = ? AND s.p2 = ?
		  ORDER BY s.freq DESC, random()
		  LIMIT ?`,
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

func (s *SQLiteStore) UpsertTransitions(ctx context.Context, batch []Transition) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO markov_sequences (p1, p2, next_id, freq) VALUES (?, ?, ?, ?)
		 ON CONFLICT (p1, p2, next_id) DO UPDATE SET freq = freq + excluded.freq`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, tr := range batch {
		if tr.Freq <= 0 {
			continue
		}
		if _, err := stmt.ExecContext(ctx, tr.P1, tr.P2, tr.Next, tr.Freq); err != nil {
			return fmt.Errorf("upsert transition (%d,%d)->%d: %w", tr.P1, tr.P2, tr.Next, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecordRun(ctx context.Context, run TrainingRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO markov_training_runs (
			id, source, status, lines_processed, sequences_processed, unique_words, error, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			lines_processed = excluded.lines_processed,
			sequences_processed = excluded.sequences_processed,
			unique_words = excluded.unique_words,
			error = excluded.error,
			finished_at = excluded.finished_at`,
		run.ID,
		run.Source,
		run.Status,
		run.LinesProcessed,
		run.SequencesProcessed,
		run.UniqueWords,
		run.Error,
		run.StartedAt.UnixMilli(),
		run.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record training run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecentRuns(ctx context.Context, limit int) ([]TrainingRun, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, status, lines_processed, sequences_processed, unique_words, error, started_at, finished_at
		   FROM markov_training_runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query training runs: %w", err)
	}
	defer rows.Close()

	runs := make([]TrainingRun, 0, limit)
	for rows.Next() {
		var (
			r                   TrainingRun
			startedMS, finishMS int64
		)
		if err := rows.Scan(&r.ID, &r.Source, &r.Status, &r.LinesProcessed, &r.SequencesProcessed, &r.UniqueWords, &r.Error, &startedMS, &finishMS); err != nil {
			return nil, fmt.Errorf("scan training run: %w", err)
		}
		r.StartedAt = time.UnixMilli(startedMS).UTC()
		r.FinishedAt = time.UnixMilli(finishMS).UTC()
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate training runs: %w", err)
	}
	return runs, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

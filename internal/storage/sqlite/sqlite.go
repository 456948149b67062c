// Package sqlite is the single-file Repository used for local datasets.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"impact-curator/internal/domain"
	"impact-curator/internal/storage"
)

// staleLockAfter frees locks left behind by a crashed process.
const staleLockAfter = 10 * time.Minute

// Store wraps a SQLite database. Timestamps are stored as unix nanoseconds.
type Store struct {
	db *sql.DB
}

var _ storage.Repository = (*Store)(nil)

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database.path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS volatility_spikes (
			symbol          TEXT    NOT NULL,
			spike_ts        INTEGER NOT NULL,
			return_pct      REAL    NOT NULL,
			z_score         REAL    NOT NULL,
			status          TEXT    NOT NULL DEFAULT 'new',
			candidate_title TEXT    NOT NULL DEFAULT '',
			confidence      REAL    NOT NULL DEFAULT 0,
			heuristic       TEXT    NOT NULL DEFAULT '',
			updated_at      INTEGER NOT NULL,
			PRIMARY KEY (symbol, spike_ts)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_volatility_spikes_status ON volatility_spikes(status)`,
		`CREATE TABLE IF NOT EXISTS curated_events (
			id                    TEXT    PRIMARY KEY,
			title                 TEXT    NOT NULL,
			claimed_ts            INTEGER NOT NULL,
			description           TEXT,
			class                 TEXT    NOT NULL DEFAULT '',
			source                TEXT    NOT NULL DEFAULT '',
			price_window          TEXT    NOT NULL DEFAULT '{}',
			move_metrics          TEXT    NOT NULL DEFAULT '{}',
			verification_status   TEXT    NOT NULL DEFAULT 'unverified',
			alignment_lag_seconds REAL,
			classification        TEXT    NOT NULL DEFAULT '',
			suggested_ts          INTEGER,
			produced_at           INTEGER NOT NULL,
			updated_at            INTEGER NOT NULL,
			UNIQUE (title, claimed_ts)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_curated_events_status ON curated_events(verification_status)`,
		`CREATE TABLE IF NOT EXISTS curator_locks (
			lock_key    INTEGER PRIMARY KEY,
			acquired_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// TryLock claims key in the curator_locks table so separate processes sharing
// the file exclude each other.
func (s *Store) TryLock(ctx context.Context, key int64) (func(), bool, error) {
	now := time.Now()
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM curator_locks WHERE lock_key = ? AND acquired_at < ?`,
		key, now.Add(-staleLockAfter).UnixNano()); err != nil {
		return nil, false, fmt.Errorf("expire stale lock: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO curator_locks (lock_key, acquired_at) VALUES (?, ?)`,
		key, now.UnixNano())
	if err != nil {
		return nil, false, fmt.Errorf("try lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("try lock: %w", err)
	}
	if n == 0 {
		return nil, false, nil
	}
	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = s.db.ExecContext(ctxUnlock, `DELETE FROM curator_locks WHERE lock_key = ?`, key)
	}
	return unlock, true, nil
}

func (s *Store) PutSpike(ctx context.Context, spike domain.Spike) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO volatility_spikes
			(symbol, spike_ts, return_pct, z_score, status, candidate_title, confidence, heuristic, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT (symbol, spike_ts) DO UPDATE SET
			return_pct      = excluded.return_pct,
			z_score         = excluded.z_score,
			status          = excluded.status,
			candidate_title = excluded.candidate_title,
			confidence      = excluded.confidence,
			heuristic       = excluded.heuristic,
			updated_at      = excluded.updated_at`,
		spike.Symbol, nanos(spike.Time), spike.ReturnPct, spike.ZScore, string(spike.Status),
		spike.CandidateTitle, spike.Confidence, spike.Heuristic, nanos(spike.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert spike: %w", err)
	}
	return nil
}

const spikeColumns = `symbol, spike_ts, return_pct, z_score, status, candidate_title, confidence, heuristic, updated_at`

func (s *Store) GetSpike(ctx context.Context, key domain.SpikeKey) (domain.Spike, error) {
	spikes, err := s.querySpikes(ctx,
		`SELECT `+spikeColumns+` FROM volatility_spikes WHERE symbol = ? AND spike_ts = ?`,
		key.Symbol, nanos(key.Time))
	if err != nil {
		return domain.Spike{}, err
	}
	if len(spikes) == 0 {
		return domain.Spike{}, storage.ErrNotFound
	}
	return spikes[0], nil
}

func (s *Store) ListSpikes(ctx context.Context, symbol string) ([]domain.Spike, error) {
	return s.querySpikes(ctx,
		`SELECT `+spikeColumns+` FROM volatility_spikes WHERE (? = '' OR symbol = ?) ORDER BY spike_ts, symbol`,
		symbol, symbol)
}

func (s *Store) ListSpikesByStatus(ctx context.Context, status domain.SpikeStatus) ([]domain.Spike, error) {
	return s.querySpikes(ctx,
		`SELECT `+spikeColumns+` FROM volatility_spikes WHERE status = ? ORDER BY spike_ts, symbol`,
		string(status))
}

func (s *Store) querySpikes(ctx context.Context, query string, args ...any) ([]domain.Spike, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query spikes: %w", err)
	}
	defer rows.Close()

	var spikes []domain.Spike
	for rows.Next() {
		var (
			sp          domain.Spike
			ts, updated int64
			status      string
		)
		if err := rows.Scan(&sp.Symbol, &ts, &sp.ReturnPct, &sp.ZScore, &status,
			&sp.CandidateTitle, &sp.Confidence, &sp.Heuristic, &updated); err != nil {
			return nil, fmt.Errorf("scan spike: %w", err)
		}
		if sp.Status, err = domain.ParseSpikeStatus(status); err != nil {
			return nil, err
		}
		sp.Time = fromNanos(ts)
		sp.UpdatedAt = fromNanos(updated)
		spikes = append(spikes, sp)
	}
	return spikes, rows.Err()
}

func (s *Store) PutEvent(ctx context.Context, event domain.CuratedEvent) error {
	event = event.Normalize()
	window, err := storage.EncodeWindow(event.Window)
	if err != nil {
		return err
	}
	moves, err := storage.EncodeMoves(event.Moves)
	if err != nil {
		return err
	}

	var description, lag, suggested any
	if event.HasDescription() {
		description = event.Description
	}
	if event.LagSeconds != nil {
		lag = *event.LagSeconds
	}
	if event.SuggestedAt != nil {
		suggested = nanos(*event.SuggestedAt)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO curated_events
			(id, title, claimed_ts, description, class, source, price_window, move_metrics,
			 verification_status, alignment_lag_seconds, classification, suggested_ts, produced_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (title, claimed_ts) DO UPDATE SET
			description           = COALESCE(curated_events.description, excluded.description),
			class                 = excluded.class,
			source                = excluded.source,
			price_window          = excluded.price_window,
			move_metrics          = excluded.move_metrics,
			verification_status   = excluded.verification_status,
			alignment_lag_seconds = excluded.alignment_lag_seconds,
			classification        = excluded.classification,
			suggested_ts          = excluded.suggested_ts,
			produced_at           = excluded.produced_at,
			updated_at            = excluded.updated_at`,
		event.ID, event.Title, nanos(event.ClaimedAt), description, event.Class, event.Source,
		string(window), string(moves), string(event.Status), lag, string(event.Classification),
		suggested, nanos(event.ProducedAt), nanos(event.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert curated event: %w", err)
	}
	return nil
}

const eventColumns = `id, title, claimed_ts, description, class, source, price_window, move_metrics,
	verification_status, alignment_lag_seconds, classification, suggested_ts, produced_at, updated_at`

func (s *Store) GetEvent(ctx context.Context, key domain.EventKey) (domain.CuratedEvent, error) {
	key = domain.NewEventKey(key.Title, key.ClaimedAt)
	events, err := s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM curated_events WHERE title = ? AND claimed_ts = ?`,
		key.Title, nanos(key.ClaimedAt))
	if err != nil {
		return domain.CuratedEvent{}, err
	}
	if len(events) == 0 {
		return domain.CuratedEvent{}, storage.ErrNotFound
	}
	return events[0], nil
}

func (s *Store) DeleteEvent(ctx context.Context, key domain.EventKey) error {
	key = domain.NewEventKey(key.Title, key.ClaimedAt)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM curated_events WHERE title = ? AND claimed_ts = ?`,
		key.Title, nanos(key.ClaimedAt))
	if err != nil {
		return fmt.Errorf("delete curated event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete curated event: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context) ([]domain.CuratedEvent, error) {
	return s.queryEvents(ctx, `SELECT `+eventColumns+` FROM curated_events ORDER BY claimed_ts, title`)
}

func (s *Store) ListEventsByStatus(ctx context.Context, status domain.EventStatus) ([]domain.CuratedEvent, error) {
	return s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM curated_events WHERE verification_status = ? ORDER BY claimed_ts, title`,
		string(status))
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]domain.CuratedEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query curated events: %w", err)
	}
	defer rows.Close()

	var events []domain.CuratedEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func scanEvent(rows *sql.Rows) (domain.CuratedEvent, error) {
	var (
		e                            domain.CuratedEvent
		claimed, produced, updated   int64
		description                  sql.NullString
		window, moves, status, class string
		lag                          sql.NullFloat64
		suggested                    sql.NullInt64
	)
	if err := rows.Scan(&e.ID, &e.Title, &claimed, &description, &e.Class, &e.Source,
		&window, &moves, &status, &lag, &class, &suggested, &produced, &updated); err != nil {
		return domain.CuratedEvent{}, fmt.Errorf("scan curated event: %w", err)
	}

	var err error
	if e.Window, err = storage.DecodeWindow([]byte(window)); err != nil {
		return domain.CuratedEvent{}, err
	}
	if e.Moves, err = storage.DecodeMoves([]byte(moves)); err != nil {
		return domain.CuratedEvent{}, err
	}
	if e.Status, err = domain.ParseEventStatus(status); err != nil {
		return domain.CuratedEvent{}, err
	}
	e.ClaimedAt = fromNanos(claimed)
	e.ProducedAt = fromNanos(produced)
	e.UpdatedAt = fromNanos(updated)
	e.Classification = domain.Alignment(class)
	if description.Valid {
		e.Description = description.String
	}
	if lag.Valid {
		v := lag.Float64
		e.LagSeconds = &v
	}
	if suggested.Valid {
		ts := fromNanos(suggested.Int64)
		e.SuggestedAt = &ts
	}
	return e, nil
}

// nanos maps the zero time to 0, which UnixNano cannot represent.
func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

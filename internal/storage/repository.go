package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"impact-curator/internal/domain"
)

const (
	upsertSpikeSQL = `INSERT INTO volatility_spikes (
        symbol,
        spike_ts,
        return_pct,
        z_score,
        status,
        candidate_title,
        confidence,
        heuristic,
        updated_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    ON CONFLICT (symbol, spike_ts) DO UPDATE
    SET
        return_pct      = EXCLUDED.return_pct,
        z_score         = EXCLUDED.z_score,
        status          = EXCLUDED.status,
        candidate_title = EXCLUDED.candidate_title,
        confidence      = EXCLUDED.confidence,
        heuristic       = EXCLUDED.heuristic,
        updated_at      = EXCLUDED.updated_at;`

	spikeColumns = `symbol, spike_ts, return_pct, z_score, status, candidate_title, confidence, heuristic, updated_at`

	getSpikeSQL           = `SELECT ` + spikeColumns + ` FROM volatility_spikes WHERE symbol = $1 AND spike_ts = $2;`
	listSpikesSQL         = `SELECT ` + spikeColumns + ` FROM volatility_spikes WHERE ($1 = '' OR symbol = $1) ORDER BY spike_ts, symbol;`
	listSpikesByStatusSQL = `SELECT ` + spikeColumns + ` FROM volatility_spikes WHERE status = $1 ORDER BY spike_ts, symbol;`

	upsertEventSQL = `INSERT INTO curated_events (
        id,
        title,
        claimed_ts,
        description,
        class,
        source,
        price_window,
        move_metrics,
        verification_status,
        alignment_lag_seconds,
        classification,
        suggested_ts,
        produced_at,
        updated_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
    )
    ON CONFLICT (title, claimed_ts) DO UPDATE
    SET
        description           = COALESCE(curated_events.description, EXCLUDED.description),
        class                 = EXCLUDED.class,
        source                = EXCLUDED.source,
        price_window          = EXCLUDED.price_window,
        move_metrics          = EXCLUDED.move_metrics,
        verification_status   = EXCLUDED.verification_status,
        alignment_lag_seconds = EXCLUDED.alignment_lag_seconds,
        classification        = EXCLUDED.classification,
        suggested_ts          = EXCLUDED.suggested_ts,
        produced_at           = EXCLUDED.produced_at,
        updated_at            = EXCLUDED.updated_at;`

	eventColumns = `id, title, claimed_ts, description, class, source, price_window, move_metrics,
        verification_status, alignment_lag_seconds, classification, suggested_ts, produced_at, updated_at`

	getEventSQL           = `SELECT ` + eventColumns + ` FROM curated_events WHERE title = $1 AND claimed_ts = $2;`
	listEventsSQL         = `SELECT ` + eventColumns + ` FROM curated_events ORDER BY claimed_ts, title;`
	listEventsByStatusSQL = `SELECT ` + eventColumns + ` FROM curated_events WHERE verification_status = $1 ORDER BY claimed_ts, title;`
	deleteEventSQL        = `DELETE FROM curated_events WHERE title = $1 AND claimed_ts = $2;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// Store is the PostgreSQL repository.
type Store struct {
	pool *pgxpool.Pool
}

var _ Repository = (*Store)(nil)

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// TryLock attempts to acquire a postgres advisory lock and returns a release func.
// The lock is bound to one pooled connection, which is held until release.
func (s *Store) TryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// the server drops session locks when the connection closes
			conn.Conn().Close(ctxUnlock)
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// PutSpike inserts or replaces a spike.
func (s *Store) PutSpike(ctx context.Context, spike domain.Spike) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertSpikeSQL,
		spike.Symbol,
		spike.Time.UTC(),
		spike.ReturnPct,
		spike.ZScore,
		string(spike.Status),
		spike.CandidateTitle,
		spike.Confidence,
		spike.Heuristic,
		spike.UpdatedAt.UTC(),
	)
	if execErr != nil {
		return fmt.Errorf("upsert spike: %w", execErr)
	}
	return nil
}

// GetSpike loads one spike.
func (s *Store) GetSpike(ctx context.Context, key domain.SpikeKey) (domain.Spike, error) {
	pool, err := s.getPool()
	if err != nil {
		return domain.Spike{}, err
	}
	rows, err := pool.Query(ctx, getSpikeSQL, key.Symbol, key.Time.UTC())
	if err != nil {
		return domain.Spike{}, fmt.Errorf("get spike: %w", err)
	}
	spikes, err := collectSpikes(rows)
	if err != nil {
		return domain.Spike{}, err
	}
	if len(spikes) == 0 {
		return domain.Spike{}, ErrNotFound
	}
	return spikes[0], nil
}

// ListSpikes lists spikes, optionally restricted to one symbol.
func (s *Store) ListSpikes(ctx context.Context, symbol string) ([]domain.Spike, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listSpikesSQL, symbol)
	if err != nil {
		return nil, fmt.Errorf("list spikes: %w", err)
	}
	return collectSpikes(rows)
}

// ListSpikesByStatus lists spikes in one research state.
func (s *Store) ListSpikesByStatus(ctx context.Context, status domain.SpikeStatus) ([]domain.Spike, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listSpikesByStatusSQL, string(status))
	if err != nil {
		return nil, fmt.Errorf("list spikes by status: %w", err)
	}
	return collectSpikes(rows)
}

// PutEvent inserts or replaces an event by its (title, claimed_ts) key, keeping any
// stored description.
func (s *Store) PutEvent(ctx context.Context, event domain.CuratedEvent) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	event = event.Normalize()
	window, err := EncodeWindow(event.Window)
	if err != nil {
		return err
	}
	moves, err := EncodeMoves(event.Moves)
	if err != nil {
		return err
	}

	var description interface{}
	if event.HasDescription() {
		description = event.Description
	}
	var suggested interface{}
	if event.SuggestedAt != nil {
		suggested = event.SuggestedAt.UTC()
	}

	_, execErr := pool.Exec(ctx, upsertEventSQL,
		event.ID,
		event.Title,
		event.ClaimedAt,
		description,
		event.Class,
		event.Source,
		window,
		moves,
		string(event.Status),
		event.LagSeconds,
		string(event.Classification),
		suggested,
		event.ProducedAt.UTC(),
		event.UpdatedAt.UTC(),
	)
	if execErr != nil {
		return fmt.Errorf("upsert curated event: %w", execErr)
	}
	return nil
}

// GetEvent loads one event.
func (s *Store) GetEvent(ctx context.Context, key domain.EventKey) (domain.CuratedEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return domain.CuratedEvent{}, err
	}
	key = domain.NewEventKey(key.Title, key.ClaimedAt)
	rows, err := pool.Query(ctx, getEventSQL, key.Title, key.ClaimedAt)
	if err != nil {
		return domain.CuratedEvent{}, fmt.Errorf("get curated event: %w", err)
	}
	events, err := collectEvents(rows)
	if err != nil {
		return domain.CuratedEvent{}, err
	}
	if len(events) == 0 {
		return domain.CuratedEvent{}, ErrNotFound
	}
	return events[0], nil
}

// DeleteEvent removes an event; a missing key is ErrNotFound.
func (s *Store) DeleteEvent(ctx context.Context, key domain.EventKey) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	key = domain.NewEventKey(key.Title, key.ClaimedAt)
	tag, execErr := pool.Exec(ctx, deleteEventSQL, key.Title, key.ClaimedAt)
	if execErr != nil {
		return fmt.Errorf("delete curated event: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListEvents lists all events ordered by claimed time.
func (s *Store) ListEvents(ctx context.Context) ([]domain.CuratedEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listEventsSQL)
	if err != nil {
		return nil, fmt.Errorf("list curated events: %w", err)
	}
	return collectEvents(rows)
}

// ListEventsByStatus lists events with one verification status.
func (s *Store) ListEventsByStatus(ctx context.Context, status domain.EventStatus) ([]domain.CuratedEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listEventsByStatusSQL, string(status))
	if err != nil {
		return nil, fmt.Errorf("list curated events by status: %w", err)
	}
	return collectEvents(rows)
}

func collectSpikes(rows pgx.Rows) ([]domain.Spike, error) {
	defer rows.Close()
	spikes := make([]domain.Spike, 0)
	for rows.Next() {
		spike, err := scanSpike(rows)
		if err != nil {
			return nil, err
		}
		spikes = append(spikes, spike)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return spikes, nil
}

func collectEvents(rows pgx.Rows) ([]domain.CuratedEvent, error) {
	defer rows.Close()
	events := make([]domain.CuratedEvent, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func scanSpike(rows pgx.Rows) (domain.Spike, error) {
	var (
		spike  domain.Spike
		status string
	)
	if err := rows.Scan(
		&spike.Symbol,
		&spike.Time,
		&spike.ReturnPct,
		&spike.ZScore,
		&status,
		&spike.CandidateTitle,
		&spike.Confidence,
		&spike.Heuristic,
		&spike.UpdatedAt,
	); err != nil {
		return domain.Spike{}, err
	}
	parsed, err := domain.ParseSpikeStatus(status)
	if err != nil {
		return domain.Spike{}, err
	}
	spike.Status = parsed
	spike.Time = spike.Time.UTC()
	spike.UpdatedAt = spike.UpdatedAt.UTC()
	return spike, nil
}

func scanEvent(rows pgx.Rows) (domain.CuratedEvent, error) {
	var (
		event          domain.CuratedEvent
		description    sql.NullString
		window         []byte
		moves          []byte
		status         string
		lag            sql.NullFloat64
		classification string
		suggested      sql.NullTime
	)

	if err := rows.Scan(
		&event.ID,
		&event.Title,
		&event.ClaimedAt,
		&description,
		&event.Class,
		&event.Source,
		&window,
		&moves,
		&status,
		&lag,
		&classification,
		&suggested,
		&event.ProducedAt,
		&event.UpdatedAt,
	); err != nil {
		return domain.CuratedEvent{}, err
	}

	return assembleEvent(event, description, window, moves, status, lag, classification, suggested)
}

// assembleEvent decodes the JSON and nullable columns of a scanned row.
func assembleEvent(event domain.CuratedEvent, description sql.NullString, window, moves []byte, status string, lag sql.NullFloat64, classification string, suggested sql.NullTime) (domain.CuratedEvent, error) {
	var err error
	if event.Window, err = DecodeWindow(window); err != nil {
		return domain.CuratedEvent{}, err
	}
	if event.Moves, err = DecodeMoves(moves); err != nil {
		return domain.CuratedEvent{}, err
	}
	if event.Status, err = domain.ParseEventStatus(status); err != nil {
		return domain.CuratedEvent{}, err
	}
	if description.Valid {
		event.Description = description.String
	}
	if lag.Valid {
		v := lag.Float64
		event.LagSeconds = &v
	}
	if suggested.Valid {
		ts := suggested.Time.UTC()
		event.SuggestedAt = &ts
	}
	event.Classification = domain.Alignment(classification)
	event.ClaimedAt = event.ClaimedAt.UTC()
	event.ProducedAt = event.ProducedAt.UTC()
	event.UpdatedAt = event.UpdatedAt.UTC()
	return event, nil
}

// IsNotFound reports whether err means a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows)
}

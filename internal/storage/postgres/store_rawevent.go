package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/eventcore/pipeline/internal/domain"
)

// CreateRawEvent persists a newly-ingested event. Payload is immutable after
// create; only MarkRawEventProcessed/MarkRawEventError mutate a row afterward.
func (s *Store) CreateRawEvent(ctx context.Context, ev domain.RawEvent) (domain.RawEvent, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO raw_events (id, source, kind, repo, sender, payload, processed_at, error_marker, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, ev.ID, ev.Source, ev.Kind, ev.Repo, ev.Sender, []byte(ev.Payload), toNullTime(ptrTime(ev.ProcessedAt)), ev.ErrorMarker, ev.CreatedAt)
	if err != nil {
		return domain.RawEvent{}, err
	}
	return ev, nil
}

// MarkRawEventProcessed sets processed_at exactly once; a second call is a
// no-op that still succeeds, matching the at-most-once invariant.
func (s *Store) MarkRawEventProcessed(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE raw_events SET processed_at = $2 WHERE id = $1 AND processed_at IS NULL
	`, id, at.UTC())
	return err
}

// MarkRawEventError records a validation/error marker on a RawEvent without
// touching processed_at.
func (s *Store) MarkRawEventError(ctx context.Context, id, marker string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE raw_events SET error_marker = $2 WHERE id = $1
	`, id, marker)
	return err
}

// GetRawEvent fetches a single event by id.
func (s *Store) GetRawEvent(ctx context.Context, id string) (domain.RawEvent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source, kind, repo, sender, payload, processed_at, error_marker, created_at
		FROM raw_events WHERE id = $1
	`, id)
	return scanRawEvent(row)
}

// ListUnprocessedBefore returns RawEvents older than cutoff with no
// processed_at, feeding the reconciliation job.
func (s *Store) ListUnprocessedBefore(ctx context.Context, cutoff time.Time) ([]domain.RawEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, kind, repo, sender, payload, processed_at, error_marker, created_at
		FROM raw_events
		WHERE processed_at IS NULL AND created_at < $1
		ORDER BY created_at
	`, cutoff.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RawEvent
	for rows.Next() {
		ev, err := scanRawEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func scanRawEvent(scanner rowScanner) (domain.RawEvent, error) {
	var (
		ev          domain.RawEvent
		payload     []byte
		processedAt sql.NullTime
	)
	if err := scanner.Scan(&ev.ID, &ev.Source, &ev.Kind, &ev.Repo, &ev.Sender, &payload, &processedAt, &ev.ErrorMarker, &ev.CreatedAt); err != nil {
		return domain.RawEvent{}, err
	}
	ev.Payload = payload
	if processedAt.Valid {
		t := processedAt.Time.UTC()
		ev.ProcessedAt = &t
	}
	ev.CreatedAt = ev.CreatedAt.UTC()
	return ev, nil
}

func ptrTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/eventcore/pipeline/internal/domain"
)

// CreateDecision persists an extracted decision. When source_id is set and a
// row already exists for (repo, source_id), the insert is skipped, giving
// the Knowledge Writer idempotent replay behavior keyed by source identifier.
func (s *Store) CreateDecision(ctx context.Context, d domain.Decision) (domain.Decision, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	if d.SourceID != "" {
		if existing, err := s.GetDecisionBySource(ctx, d.Repo, d.SourceID); err == nil {
			return existing, nil
		} else if !IsNotFound(err) {
			return domain.Decision{}, err
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decisions (id, team, repo, summary, source_ref, source_id, superseded_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, d.ID, d.Team, d.Repo, d.Summary, d.SourceRef, d.SourceID, toNullString(d.SupersededBy), d.CreatedAt)
	if err != nil {
		return domain.Decision{}, err
	}
	return d, nil
}

// GetDecisionBySource looks up a decision by its idempotency key.
func (s *Store) GetDecisionBySource(ctx context.Context, repo, sourceID string) (domain.Decision, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, team, repo, summary, source_ref, source_id, superseded_by, created_at
		FROM decisions WHERE repo = $1 AND source_id = $2
	`, repo, sourceID)
	return scanDecision(row)
}

// SupersedeDecision points an older decision at its replacement. This is a
// one-directional edge; it never mutates the superseding decision.
func (s *Store) SupersedeDecision(ctx context.Context, id, supersededByID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE decisions SET superseded_by = $2 WHERE id = $1
	`, id, supersededByID)
	return err
}

func scanDecision(scanner rowScanner) (domain.Decision, error) {
	var (
		d            domain.Decision
		supersededBy sql.NullString
	)
	if err := scanner.Scan(&d.ID, &d.Team, &d.Repo, &d.Summary, &d.SourceRef, &d.SourceID, &supersededBy, &d.CreatedAt); err != nil {
		return domain.Decision{}, err
	}
	if supersededBy.Valid {
		d.SupersededBy = supersededBy.String
	}
	d.CreatedAt = d.CreatedAt.UTC()
	return d, nil
}

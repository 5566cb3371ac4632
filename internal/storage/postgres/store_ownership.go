package postgres

import (
	"context"
	"database/sql"
	"sort"

	"github.com/lib/pq"

	"github.com/eventcore/pipeline/internal/domain"
)

// UpsertOwnership inserts or additively updates a single (repo, file, user)
// row. It does not recompute scores; callers recompute across all owners of
// the touched file in a follow-up call so concurrent commits on the same
// file converge regardless of interleaving.
func (s *Store) UpsertOwnership(ctx context.Context, o domain.Ownership) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ownerships (repo, file, "user", commits, lines_added, lines_removed, first_commit, last_commit, score, recent_score)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7, 0, 0)
		ON CONFLICT (repo, file, "user") DO UPDATE SET
			commits       = ownerships.commits + EXCLUDED.commits,
			lines_added   = ownerships.lines_added + EXCLUDED.lines_added,
			lines_removed = ownerships.lines_removed + EXCLUDED.lines_removed,
			last_commit   = GREATEST(ownerships.last_commit, EXCLUDED.last_commit)
	`, o.Repo, o.File, o.User, o.Commits, o.LinesAdded, o.LinesRemoved, o.LastCommit)
	return err
}

// OwnersOfFile returns every owner row for (repo, file), used by the score
// recomputation step which must see the full cohort.
func (s *Store) OwnersOfFile(ctx context.Context, repo, file string) ([]domain.Ownership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT repo, file, "user", commits, lines_added, lines_removed, first_commit, last_commit, score, recent_score
		FROM ownerships WHERE repo = $1 AND file = $2
	`, repo, file)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOwnershipRows(rows)
}

// UpdateScores writes back the recomputed score/recent_score for a batch of
// owners, typically the full cohort for one file. It is not globally
// serialized across files; the last completed recomputation for a given
// file wins, which is acceptable because score is a pure function of
// current row state.
func (s *Store) UpdateScores(ctx context.Context, owners []domain.Ownership) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		for _, o := range owners {
			if _, err := tx.ExecContext(ctx, `
				UPDATE ownerships SET score = $4, recent_score = $5
				WHERE repo = $1 AND file = $2 AND "user" = $3
			`, o.Repo, o.File, o.User, o.Score, o.RecentScore); err != nil {
				return err
			}
		}
		return nil
	})
}

// OwnersOf returns owners of (repo, file) with score >= minScore, sorted by
// score descending, ties broken by user identifier for determinism.
func (s *Store) OwnersOf(ctx context.Context, repo, file string, minScore float64) ([]domain.Ownership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT repo, file, "user", commits, lines_added, lines_removed, first_commit, last_commit, score, recent_score
		FROM ownerships
		WHERE repo = $1 AND file = $2 AND score >= $3
	`, repo, file, minScore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	owners, err := scanOwnershipRows(rows)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(owners, func(i, j int) bool {
		if owners[i].Score != owners[j].Score {
			return owners[i].Score > owners[j].Score
		}
		return owners[i].User < owners[j].User
	})
	return owners, nil
}

// AffectedUsers resolves, for a set of files, the owners meeting the default
// minimum score threshold, excluding excludeUser, as a map of user -> files.
func (s *Store) AffectedUsers(ctx context.Context, repo string, files []string, excludeUser string, minScore float64) (map[string][]string, error) {
	result := make(map[string][]string)
	if len(files) == 0 {
		return result, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT "user", file
		FROM ownerships
		WHERE repo = $1 AND file = ANY($2) AND score >= $3 AND "user" <> $4
		ORDER BY "user", file
	`, repo, pq.Array(files), minScore, excludeUser)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var user, file string
		if err := rows.Scan(&user, &file); err != nil {
			return nil, err
		}
		result[user] = append(result[user], file)
	}
	return result, rows.Err()
}

func scanOwnershipRows(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]domain.Ownership, error) {
	var out []domain.Ownership
	for rows.Next() {
		var o domain.Ownership
		if err := rows.Scan(&o.Repo, &o.File, &o.User, &o.Commits, &o.LinesAdded, &o.LinesRemoved, &o.FirstCommit, &o.LastCommit, &o.Score, &o.RecentScore); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

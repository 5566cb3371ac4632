// Package ownership implements the file-ownership scoring engine (spec
// §4.4): per-commit distribution of line deltas across touched files,
// additive upsert into the Ownership Store, and score recomputation across
// the full cohort of owners for every touched file.
package ownership

import (
	"context"
	"sort"
	"time"

	"github.com/eventcore/pipeline/internal/domain"
)

const (
	// DefaultMinScore is the default threshold used by OwnersOf/AffectedUsers.
	DefaultMinScore = 0.10
	recencyWindow   = 90 * 24 * time.Hour
)

// Repository is the persistence seam the engine depends on. The concrete
// implementation lives in internal/storage/postgres.
type Repository interface {
	UpsertOwnership(ctx context.Context, o domain.Ownership) error
	OwnersOfFile(ctx context.Context, repo, file string) ([]domain.Ownership, error)
	UpdateScores(ctx context.Context, owners []domain.Ownership) error
	OwnersOf(ctx context.Context, repo, file string, minScore float64) ([]domain.Ownership, error)
	AffectedUsers(ctx context.Context, repo string, files []string, excludeUser string, minScore float64) (map[string][]string, error)
}

// Engine recomputes and exposes ownership scores.
type Engine struct {
	repo Repository
	now  func() time.Time
}

// New constructs an Engine over repo.
func New(repo Repository) *Engine {
	return &Engine{repo: repo, now: time.Now}
}

// Commit describes a single commit's effect on one file, as observed from a
// push event.
type Commit struct {
	Repo         string
	File         string
	User         string
	LinesAdded   int
	LinesRemoved int
	CommitTime   time.Time
}

// RecordCommit distributes (lines_added+lines_removed)/|files| across the
// files touched by one commit (half attributed as added, half as removed per
// file, per §4.4), upserts one row per (repo, file, user), then recomputes
// scores for every owner of each touched file.
func (e *Engine) RecordCommit(ctx context.Context, repo, user string, files []string, totalAdded, totalRemoved int, commitTime time.Time) error {
	if len(files) == 0 {
		return nil
	}
	perFile := float64(totalAdded+totalRemoved) / float64(len(files))
	addedPerFile := int(perFile / 2)
	removedPerFile := int(perFile / 2)

	for _, file := range files {
		if err := e.repo.UpsertOwnership(ctx, domain.Ownership{
			Repo:         repo,
			File:         file,
			User:         user,
			Commits:      1,
			LinesAdded:   addedPerFile,
			LinesRemoved: removedPerFile,
			FirstCommit:  commitTime,
			LastCommit:   commitTime,
		}); err != nil {
			return err
		}
	}

	for _, file := range files {
		if err := e.RecomputeFile(ctx, repo, file); err != nil {
			return err
		}
	}
	return nil
}

// RecomputeFile reloads every owner of (repo, file) and writes back their
// recomputed score/recent_score. It is safe to call concurrently for
// different files, and safe (if redundant) to call concurrently for the
// same file: the last completed write wins, and score is a pure function of
// row state so repeated calls converge.
func (e *Engine) RecomputeFile(ctx context.Context, repo, file string) error {
	owners, err := e.repo.OwnersOfFile(ctx, repo, file)
	if err != nil {
		return err
	}
	if len(owners) == 0 {
		return nil
	}

	Recompute(owners, e.now())

	return e.repo.UpdateScores(ctx, owners)
}

// Recompute mutates owners in place, setting Score and RecentScore per the
// §4.4 formula. Exported as a pure function so the scoring math is testable
// without a database.
func Recompute(owners []domain.Ownership, now time.Time) {
	var totalCommits int
	var totalLines int
	for _, o := range owners {
		totalCommits += o.Commits
		totalLines += o.LinesAdded + o.LinesRemoved
	}
	if totalCommits == 0 {
		for i := range owners {
			owners[i].Score = 0
			owners[i].RecentScore = 0
		}
		return
	}

	for i := range owners {
		o := &owners[i]
		commitShare := float64(o.Commits) / float64(totalCommits)
		var linesShare float64
		if totalLines > 0 {
			linesShare = float64(o.LinesAdded+o.LinesRemoved) / float64(totalLines)
		}
		recency := recencyScore(o.LastCommit, now)

		o.Score = 0.4*commitShare + 0.3*linesShare + 0.3*recency
		o.RecentScore = recency
	}
}

func recencyScore(lastCommit, now time.Time) float64 {
	days := now.Sub(lastCommit).Hours() / 24
	score := 1 - days/90
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// OwnersOf returns owners of (repo, file) at or above DefaultMinScore,
// sorted by score descending with user-identifier tiebreak.
func (e *Engine) OwnersOf(ctx context.Context, repo, file string) ([]domain.Ownership, error) {
	owners, err := e.repo.OwnersOf(ctx, repo, file, DefaultMinScore)
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

// AffectedUsers resolves owners of files (excluding excludeUser) at or above
// DefaultMinScore, as a map of user -> touched files.
func (e *Engine) AffectedUsers(ctx context.Context, repo string, files []string, excludeUser string) (map[string][]string, error) {
	return e.repo.AffectedUsers(ctx, repo, files, excludeUser, DefaultMinScore)
}

// PrimaryOwner returns the argmax(score) owner for a file, per §3's
// "primary owner" invariant, or false if the file has no owners.
func PrimaryOwner(owners []domain.Ownership) (domain.Ownership, bool) {
	if len(owners) == 0 {
		return domain.Ownership{}, false
	}
	best := owners[0]
	for _, o := range owners[1:] {
		if o.Score > best.Score || (o.Score == best.Score && o.User < best.User) {
			best = o
		}
	}
	return best, true
}

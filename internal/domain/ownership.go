package domain

import "time"

// Ownership is a (repo, file, user) aggregate of commit activity used to
// derive a per-user ownership score for a file.
type Ownership struct {
	Repo         string
	File         string
	User         string
	Commits      int
	LinesAdded   int
	LinesRemoved int
	FirstCommit  time.Time
	LastCommit   time.Time
	Score        float64
	RecentScore  float64
}

// LinesTouched returns the total lines added and removed, used as the
// denominator for this owner's line share of a file.
func (o Ownership) LinesTouched() int {
	return o.LinesAdded + o.LinesRemoved
}

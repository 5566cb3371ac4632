// Package knowledge implements the Knowledge Writer (§4.3, §4.4's sibling
// artifacts): idempotent writes of decisions, extracted tasks, and
// vector-store entries, keyed by source identifiers so at-least-once replay
// never duplicates an artifact.
package knowledge

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/eventcore/pipeline/internal/domain"
)

// DecisionRepository is the persistence seam for Decision artifacts.
type DecisionRepository interface {
	CreateDecision(ctx context.Context, d domain.Decision) (domain.Decision, error)
}

// TaskRepository is the persistence seam for extracted Task artifacts.
type TaskRepository interface {
	CreateTask(ctx context.Context, t domain.Task) (domain.Task, error)
}

// VectorIndexer is the narrow capability the Knowledge Writer uses to index
// content for retrieval. A concrete implementation lives in
// internal/vectorstore.
type VectorIndexer interface {
	Index(ctx context.Context, id string, content string, metadata map[string]string) error
}

// Writer persists derived knowledge artifacts idempotently.
type Writer struct {
	decisions DecisionRepository
	tasks     TaskRepository
	vectors   VectorIndexer
}

// New constructs a Writer. vectors may be nil if no vector-store capability
// is configured, in which case IndexContent is a no-op.
func New(decisions DecisionRepository, tasks TaskRepository, vectors VectorIndexer) *Writer {
	return &Writer{decisions: decisions, tasks: tasks, vectors: vectors}
}

// DecisionInput describes a decision extracted from a PR/issue/comment body.
type DecisionInput struct {
	Team      string
	Repo      string
	Summary   string
	SourceRef string
	// SourceID is the natural identifier (PR number, comment id, ...) when
	// one exists. A single source can yield several distinct decisions
	// (e.g. a long PR body), so the persisted source_id always includes a
	// Fingerprint of the summary to keep per-decision idempotency even when
	// SourceID alone would collide.
	SourceID string
}

// WriteDecision idempotently persists a Decision. Replaying the same
// (SourceID, Summary) pair is a no-op at the repository layer via its
// (repo, source_id) uniqueness guard.
func (w *Writer) WriteDecision(ctx context.Context, in DecisionInput) (domain.Decision, error) {
	sourceID := compositeSourceID(in.SourceID, in.Summary)
	return w.decisions.CreateDecision(ctx, domain.Decision{
		Team:      in.Team,
		Repo:      in.Repo,
		Summary:   in.Summary,
		SourceRef: in.SourceRef,
		SourceID:  sourceID,
	})
}

// TaskInput describes a task extracted from an issue/comment by the
// classifier (§4.3's `task_extracted` path), distinct from a rule-created
// Task.
type TaskInput struct {
	Team        string
	Title       string
	Description string
	Assignee    string
	Priority    domain.Priority
	Source      string // "issue_extraction", ...
	// SourceID identifies the originating artifact (issue id, comment id).
	// As with decisions, one artifact can yield multiple tasks, so the
	// persisted source_id is fingerprinted against the title.
	SourceID string
}

// WriteExtractedTask idempotently persists an extracted Task with
// status=pending.
func (w *Writer) WriteExtractedTask(ctx context.Context, in TaskInput) (domain.Task, error) {
	sourceID := compositeSourceID(in.SourceID, in.Title)
	priority := in.Priority
	if priority == "" {
		priority = domain.PriorityNormal
	}
	return w.tasks.CreateTask(ctx, domain.Task{
		Team:        in.Team,
		Title:       in.Title,
		Description: in.Description,
		Assignee:    in.Assignee,
		Priority:    priority,
		Status:      domain.TaskStatusPending,
		Source:      in.Source,
		SourceID:    sourceID,
	})
}

// IndexContent writes content to the vector store, keyed by a fingerprint of
// the content itself so a replayed event never re-indexes a duplicate entry.
// A nil vector-store capability makes this a no-op, matching the classifier's
// "capability absent ⇒ degrade silently" posture.
func (w *Writer) IndexContent(ctx context.Context, content string, metadata map[string]string) error {
	if w.vectors == nil {
		return nil
	}
	id := Fingerprint(content)
	if err := w.vectors.Index(ctx, id, content, metadata); err != nil {
		return fmt.Errorf("index content: %w", err)
	}
	return nil
}

// Fingerprint derives a stable, collision-resistant identifier from parts,
// used wherever a natural source id is absent or must be disambiguated
// (decisions split from one PR body, tasks split from one issue).
func Fingerprint(parts ...string) string {
	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 only errors on a bad key, and we never pass one.
		panic(err)
	}
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}

func compositeSourceID(natural, disambiguator string) string {
	disambiguator = strings.TrimSpace(disambiguator)
	if natural == "" {
		return Fingerprint(disambiguator)
	}
	return natural + ":" + Fingerprint(disambiguator)
}

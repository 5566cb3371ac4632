package knowledge

import (
	"context"
	"testing"

	"github.com/eventcore/pipeline/internal/domain"
)

type fakeDecisions struct {
	created []domain.Decision
}

func (f *fakeDecisions) CreateDecision(ctx context.Context, d domain.Decision) (domain.Decision, error) {
	f.created = append(f.created, d)
	return d, nil
}

type fakeTasks struct {
	created []domain.Task
}

func (f *fakeTasks) CreateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	f.created = append(f.created, t)
	return t, nil
}

type fakeVectors struct {
	indexed map[string]string
}

func (f *fakeVectors) Index(ctx context.Context, id string, content string, metadata map[string]string) error {
	if f.indexed == nil {
		f.indexed = map[string]string{}
	}
	f.indexed[id] = content
	return nil
}

func TestFingerprintIsStableAndDistinguishesInputs(t *testing.T) {
	a := Fingerprint("pr body", "use postgres")
	b := Fingerprint("pr body", "use postgres")
	c := Fingerprint("pr body", "use redis")
	if a != b {
		t.Fatal("fingerprint must be deterministic for identical inputs")
	}
	if a == c {
		t.Fatal("fingerprint must distinguish different inputs")
	}
}

func TestWriteDecisionDisambiguatesSharedSourceID(t *testing.T) {
	repo := &fakeDecisions{}
	w := New(repo, &fakeTasks{}, nil)

	d1, err := w.WriteDecision(context.Background(), DecisionInput{Repo: "org/repo", SourceID: "pr-7", Summary: "use postgres for storage"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d2, err := w.WriteDecision(context.Background(), DecisionInput{Repo: "org/repo", SourceID: "pr-7", Summary: "adopt blue/green deploys"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d1.SourceID == d2.SourceID {
		t.Fatal("two distinct decisions from the same PR must not collide on source_id")
	}
}

func TestWriteDecisionIdempotentOnReplay(t *testing.T) {
	repo := &fakeDecisions{}
	w := New(repo, &fakeTasks{}, nil)

	in := DecisionInput{Repo: "org/repo", SourceID: "pr-7", Summary: "use postgres for storage"}
	d1, _ := w.WriteDecision(context.Background(), in)
	d2, _ := w.WriteDecision(context.Background(), in)
	if d1.SourceID != d2.SourceID {
		t.Fatal("replaying the identical decision input must yield the identical source_id")
	}
}

func TestWriteExtractedTaskDefaultsPriorityAndStatus(t *testing.T) {
	tasks := &fakeTasks{}
	w := New(&fakeDecisions{}, tasks, nil)

	task, err := w.WriteExtractedTask(context.Background(), TaskInput{Team: "eng", Title: "fix flaky test", Source: "issue_extraction", SourceID: "issue-42"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task.Status != domain.TaskStatusPending {
		t.Fatalf("expected pending status, got %s", task.Status)
	}
	if task.Priority != domain.PriorityNormal {
		t.Fatalf("expected normal default priority, got %s", task.Priority)
	}
}

func TestIndexContentNilVectorStoreIsNoOp(t *testing.T) {
	w := New(&fakeDecisions{}, &fakeTasks{}, nil)
	if err := w.IndexContent(context.Background(), "some long commit message body", nil); err != nil {
		t.Fatalf("expected no-op, got error: %v", err)
	}
}

func TestIndexContentWritesThroughVectorStore(t *testing.T) {
	vectors := &fakeVectors{}
	w := New(&fakeDecisions{}, &fakeTasks{}, vectors)
	if err := w.IndexContent(context.Background(), "some long commit message body", map[string]string{"repo": "org/repo"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vectors.indexed) != 1 {
		t.Fatalf("expected exactly one indexed entry, got %d", len(vectors.indexed))
	}
}

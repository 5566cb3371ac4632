package workers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/eventcore/pipeline/internal/broker"
	"github.com/eventcore/pipeline/internal/classifier"
	"github.com/eventcore/pipeline/internal/domain"
	"github.com/eventcore/pipeline/internal/impact"
	"github.com/eventcore/pipeline/internal/knowledge"
)

type fakeRawEvents struct {
	marked []string
}

func (f *fakeRawEvents) MarkRawEventProcessed(ctx context.Context, id string, at time.Time) error {
	f.marked = append(f.marked, id)
	return nil
}

type fakeOwnershipEngine struct {
	calls int
}

func (f *fakeOwnershipEngine) RecordCommit(ctx context.Context, repo, user string, files []string, totalAdded, totalRemoved int, commitTime time.Time) error {
	f.calls++
	return nil
}

type fakeImpactAnalyzer struct {
	verdict domain.ImpactVerdict
}

func (f *fakeImpactAnalyzer) Analyze(ctx context.Context, change impact.Change) (domain.ImpactVerdict, error) {
	return f.verdict, nil
}

type fakeClassifier struct {
	verdict classifier.Verdict
}

func (f fakeClassifier) Classify(ctx context.Context, text string) (classifier.Verdict, error) {
	return f.verdict, nil
}

type fakeAppender struct {
	appends []struct {
		stream    string
		eventType string
		payload   map[string]interface{}
	}
}

func (f *fakeAppender) Append(ctx context.Context, stream, eventType string, payload map[string]interface{}) (string, error) {
	f.appends = append(f.appends, struct {
		stream    string
		eventType string
		payload   map[string]interface{}
	}{stream, eventType, payload})
	return "1-1", nil
}

type fakeDecisions struct{ created []domain.Decision }

func (f *fakeDecisions) CreateDecision(ctx context.Context, d domain.Decision) (domain.Decision, error) {
	f.created = append(f.created, d)
	return d, nil
}

type fakeTasks struct{ created []domain.Task }

func (f *fakeTasks) CreateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	f.created = append(f.created, t)
	return t, nil
}

func makeEntry(t *testing.T, eventType string, env gitEventEnvelope, data interface{}) broker.Entry {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	env.Data = raw

	encoded, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(encoded, &payload); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return broker.Entry{MessageID: "1-1", Stream: broker.StreamGitEvents, EventType: eventType, Payload: payload}
}

func TestHandlePushNotifiesAffectedUsersExcludingAuthor(t *testing.T) {
	rawEvents := &fakeRawEvents{}
	ownershipEngine := &fakeOwnershipEngine{}
	impactAnalyzer := &fakeImpactAnalyzer{verdict: domain.ImpactVerdict{
		ShouldNotify:  true,
		Priority:      domain.PriorityHigh,
		AffectedUsers: map[string][]string{"bob": {"a.go"}},
	}}
	appender := &fakeAppender{}
	kw := knowledge.New(&fakeDecisions{}, &fakeTasks{}, nil)
	cp := NewChangeProcessor(rawEvents, ownershipEngine, impactAnalyzer, fakeClassifier{}, kw, appender, &fakeRuleTrigger{})

	entry := makeEntry(t, "push", gitEventEnvelope{EventID: "ev1"}, pushData{
		Repo: "org/repo", Team: "eng",
		Commits: []commitData{{SHA: "abc", Author: "alice", Message: "fix bug", Added: []string{"a.go"}, LinesAdded: 5, LinesRemoved: 1, Timestamp: time.Now()}},
	})

	if err := cp.Handle(context.Background(), entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ownershipEngine.calls != 1 {
		t.Fatalf("expected one ownership record call, got %d", ownershipEngine.calls)
	}
	if len(appender.appends) != 1 || appender.appends[0].payload["recipient"] != "bob" {
		t.Fatalf("expected one notification to bob, got %+v", appender.appends)
	}
	if len(rawEvents.marked) != 1 || rawEvents.marked[0] != "ev1" {
		t.Fatalf("expected raw event marked processed, got %+v", rawEvents.marked)
	}
}

func TestHandlePullRequestMergedExtractsDecisions(t *testing.T) {
	rawEvents := &fakeRawEvents{}
	impactAnalyzer := &fakeImpactAnalyzer{verdict: domain.ImpactVerdict{IsBreaking: true, Severity: domain.SeverityHigh}}
	decisions := &fakeDecisions{}
	kw := knowledge.New(decisions, &fakeTasks{}, nil)
	triggers := &fakeRuleTrigger{}
	cp := NewChangeProcessor(rawEvents, &fakeOwnershipEngine{}, impactAnalyzer, fakeClassifier{
		verdict: classifier.Verdict{Category: "decision", Decisions: []string{"use postgres"}},
	}, kw, &fakeAppender{}, triggers)

	entry := makeEntry(t, "pull_request", gitEventEnvelope{EventID: "ev2", Action: "closed"}, pullRequestData{
		Repo: "org/repo", Team: "eng", Merged: true, Number: 7, Author: "alice", Body: "we decided to use postgres",
	})

	if err := cp.Handle(context.Background(), entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(decisions.created) != 1 || decisions.created[0].Summary != "use postgres" {
		t.Fatalf("expected one decision persisted, got %+v", decisions.created)
	}
	if len(triggers.calls) != 1 || triggers.calls[0] != "pr_merged" {
		t.Fatalf("expected a pr_merged rule trigger, got %+v", triggers.calls)
	}
}

func TestHandlePullRequestReviewNotifiesAuthorNotSelfReview(t *testing.T) {
	rawEvents := &fakeRawEvents{}
	kw := knowledge.New(&fakeDecisions{}, &fakeTasks{}, nil)
	appender := &fakeAppender{}
	cp := NewChangeProcessor(rawEvents, &fakeOwnershipEngine{}, &fakeImpactAnalyzer{}, fakeClassifier{}, kw, appender, &fakeRuleTrigger{})

	entry := makeEntry(t, "pull_request_review", gitEventEnvelope{EventID: "ev3", Action: "submitted"}, pullRequestReviewData{
		Repo: "org/repo", Team: "eng", Number: 9, Reviewer: "carol", Author: "alice",
	})
	if err := cp.Handle(context.Background(), entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var notifyCount int
	for _, a := range appender.appends {
		if a.stream == broker.StreamNotifications {
			notifyCount++
		}
	}
	if notifyCount != 1 {
		t.Fatalf("expected exactly one pr_reviewed notification, got %d", notifyCount)
	}
}

func TestHandlePullRequestReviewSkipsSelfReview(t *testing.T) {
	appender := &fakeAppender{}
	kw := knowledge.New(&fakeDecisions{}, &fakeTasks{}, nil)
	cp := NewChangeProcessor(&fakeRawEvents{}, &fakeOwnershipEngine{}, &fakeImpactAnalyzer{}, fakeClassifier{}, kw, appender, &fakeRuleTrigger{})

	entry := makeEntry(t, "pull_request_review", gitEventEnvelope{EventID: "ev4", Action: "submitted"}, pullRequestReviewData{
		Repo: "org/repo", Team: "eng", Number: 9, Reviewer: "alice", Author: "alice",
	})
	if err := cp.Handle(context.Background(), entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, a := range appender.appends {
		if a.stream == broker.StreamNotifications {
			t.Fatal("a self-review must never produce a notification")
		}
	}
}

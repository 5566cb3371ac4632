package workers

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/eventcore/pipeline/internal/broker"
	"github.com/eventcore/pipeline/internal/classifier"
	"github.com/eventcore/pipeline/internal/domain"
	"github.com/eventcore/pipeline/internal/impact"
	"github.com/eventcore/pipeline/internal/knowledge"
	"github.com/eventcore/pipeline/internal/ownership"
)

// indexThreshold is the content-length floor above which a commit message or
// issue/comment body is worth indexing in the vector store; short bodies
// rarely carry enough context to be useful search hits.
const indexThreshold = 200

// Appender is the subset of *broker.Broker the workers use to feed
// downstream streams.
type Appender interface {
	Append(ctx context.Context, stream, eventType string, payload map[string]interface{}) (string, error)
}

// RawEventRepository is the persistence seam for marking a RawEvent
// processed once its git_events entry has been fully handled.
type RawEventRepository interface {
	MarkRawEventProcessed(ctx context.Context, id string, at time.Time) error
}

// OwnershipEngine is the subset of *ownership.Engine the change processor
// depends on.
type OwnershipEngine interface {
	RecordCommit(ctx context.Context, repo, user string, files []string, totalAdded, totalRemoved int, commitTime time.Time) error
}

// ImpactAnalyzer is the subset of *impact.Analyzer the change processor
// depends on.
type ImpactAnalyzer interface {
	Analyze(ctx context.Context, change impact.Change) (domain.ImpactVerdict, error)
}

// ChangeProcessor implements §4.3's dispatch table over git_events.
type ChangeProcessor struct {
	rawEvents  RawEventRepository
	ownership  OwnershipEngine
	impact     ImpactAnalyzer
	classifier classifier.Classifier
	knowledge  *knowledge.Writer
	appender   Appender
	rules      RuleTrigger
}

// NewChangeProcessor constructs a ChangeProcessor.
func NewChangeProcessor(rawEvents RawEventRepository, ownershipEngine OwnershipEngine, impactAnalyzer ImpactAnalyzer, c classifier.Classifier, kw *knowledge.Writer, appender Appender, rules RuleTrigger) *ChangeProcessor {
	return &ChangeProcessor{
		rawEvents:  rawEvents,
		ownership:  ownershipEngine,
		impact:     impactAnalyzer,
		classifier: c,
		knowledge:  kw,
		appender:   appender,
		rules:      rules,
	}
}

// Handle implements workers.Handler for the git_events consumer group.
func (p *ChangeProcessor) Handle(ctx context.Context, entry broker.Entry) error {
	env, err := decodeEnvelope(entry)
	if err != nil {
		return err
	}

	switch entry.EventType {
	case "push":
		var data pushData
		if err := decodeData(env, &data); err != nil {
			return err
		}
		if err := p.handlePush(ctx, data); err != nil {
			return err
		}
	case "pull_request":
		var data pullRequestData
		if err := decodeData(env, &data); err != nil {
			return err
		}
		if err := p.handlePullRequest(ctx, env.Action, data); err != nil {
			return err
		}
	case "issues":
		var data issueData
		if err := decodeData(env, &data); err != nil {
			return err
		}
		if err := p.handleIssue(ctx, env.Action, data); err != nil {
			return err
		}
	case "issue_comment":
		var data issueCommentData
		if err := decodeData(env, &data); err != nil {
			return err
		}
		if err := p.handleIssueComment(ctx, env.Action, data); err != nil {
			return err
		}
	case "pull_request_review":
		var data pullRequestReviewData
		if err := decodeData(env, &data); err != nil {
			return err
		}
		if err := p.handlePullRequestReview(ctx, env.Action, data); err != nil {
			return err
		}
	default:
		// An event_type the dispatch table doesn't recognize is treated as
		// already handled so it never blocks the stream.
	}

	if env.EventID != "" {
		if err := p.rawEvents.MarkRawEventProcessed(ctx, env.EventID, time.Now().UTC()); err != nil {
			return fmt.Errorf("mark raw event processed: %w", err)
		}
	}
	return nil
}

func (p *ChangeProcessor) handlePush(ctx context.Context, data pushData) error {
	for _, commit := range data.Commits {
		files := commit.touchedFiles()
		if len(files) == 0 {
			continue
		}

		if err := p.ownership.RecordCommit(ctx, data.Repo, commit.Author, files, commit.LinesAdded, commit.LinesRemoved, commit.Timestamp); err != nil {
			return fmt.Errorf("record commit ownership: %w", err)
		}

		verdict, err := p.impact.Analyze(ctx, impact.Change{
			ID:      commit.SHA,
			Type:    domain.ChangeTypeCommit,
			Repo:    data.Repo,
			Author:  commit.Author,
			Files:   files,
			Message: commit.Message,
		})
		if err != nil {
			return fmt.Errorf("analyze commit impact: %w", err)
		}

		if verdict.ShouldNotify {
			for user, touched := range verdict.AffectedUsers {
				if user == commit.Author {
					continue
				}
				if err := p.notifyChangeImpact(ctx, data.Team, user, commit, verdict, touched); err != nil {
					return err
				}
			}
		}

		if len(commit.Message) > indexThreshold {
			if err := p.knowledge.IndexContent(ctx, commit.Message, map[string]string{
				"repo": data.Repo, "sha": commit.SHA, "kind": "commit",
			}); err != nil {
				return fmt.Errorf("index commit content: %w", err)
			}
		}
	}
	return nil
}

func (p *ChangeProcessor) notifyChangeImpact(ctx context.Context, team, recipient string, commit commitData, verdict domain.ImpactVerdict, files []string) error {
	kind := "change_impact"
	if verdict.IsBreaking {
		kind = "breaking_change"
	}
	_, err := p.appender.Append(ctx, broker.StreamNotifications, kind, map[string]interface{}{
		"recipient":  recipient,
		"team":       team,
		"kind":       kind,
		"title":      fmt.Sprintf("%s touched %d of your files", commit.Author, len(files)),
		"body":       commit.Message,
		"source_ref": commit.SHA,
		"priority":   string(verdict.Priority),
	})
	if err != nil {
		return fmt.Errorf("append notification: %w", err)
	}
	return nil
}

func (p *ChangeProcessor) handlePullRequest(ctx context.Context, action string, data pullRequestData) error {
	if _, err := p.appender.Append(ctx, broker.StreamTaskEvents, "pr_activity", map[string]interface{}{
		"team": data.Team, "repo": data.Repo, "action": action, "number": data.Number, "author": data.Author,
	}); err != nil {
		return fmt.Errorf("append pr activity: %w", err)
	}

	switch action {
	case "opened", "edited":
		if len(data.Body) > indexThreshold {
			if err := p.knowledge.IndexContent(ctx, data.Body, map[string]string{
				"repo": data.Repo, "pr": strconv.Itoa(data.Number), "kind": "pull_request",
			}); err != nil {
				return fmt.Errorf("index pr content: %w", err)
			}
		}
	case "closed":
		if !data.Merged {
			return nil
		}
		impactVerdict, err := p.impact.Analyze(ctx, impact.Change{
			ID:       strconv.Itoa(data.Number),
			Type:     domain.ChangeTypePR,
			Repo:     data.Repo,
			Author:   data.Author,
			Message:  data.Body,
			PRAction: "merged",
		})
		if err != nil {
			return fmt.Errorf("analyze pr impact: %w", err)
		}

		if err := p.rules.HandleTrigger(ctx, data.Team, "pr_merged", map[string]interface{}{
			"repo": data.Repo, "number": data.Number, "author": data.Author,
			"is_breaking": impactVerdict.IsBreaking, "severity": string(impactVerdict.Severity),
		}); err != nil {
			return fmt.Errorf("evaluate pr_merged rules: %w", err)
		}

		verdict, err := p.classifier.Classify(ctx, data.Body)
		if err != nil {
			verdict = classifier.FallbackVerdict()
		}
		for _, d := range verdict.Decisions {
			if _, err := p.knowledge.WriteDecision(ctx, knowledge.DecisionInput{
				Team: data.Team, Repo: data.Repo, Summary: d,
				SourceRef: data.URL, SourceID: strconv.Itoa(data.Number),
			}); err != nil {
				return fmt.Errorf("write decision: %w", err)
			}
		}
	}
	return nil
}

func (p *ChangeProcessor) handleIssue(ctx context.Context, action string, data issueData) error {
	if action != "opened" && action != "edited" {
		return nil
	}

	verdict, err := p.classifier.Classify(ctx, data.Body)
	if err != nil {
		verdict = classifier.FallbackVerdict()
	}

	for _, item := range verdict.ActionItems {
		if _, err := p.appender.Append(ctx, broker.StreamTaskEvents, "task_extracted", map[string]interface{}{
			"team": data.Team, "title": item.Title, "assignee": item.Assignee,
			"source": "issue_extraction", "source_id": strconv.Itoa(data.Number),
		}); err != nil {
			return fmt.Errorf("append task_extracted: %w", err)
		}
	}

	if len(data.Body) > indexThreshold {
		if err := p.knowledge.IndexContent(ctx, data.Body, map[string]string{
			"repo": data.Repo, "issue": strconv.Itoa(data.Number), "kind": "issue",
		}); err != nil {
			return fmt.Errorf("index issue content: %w", err)
		}
	}
	return nil
}

func (p *ChangeProcessor) handleIssueComment(ctx context.Context, action string, data issueCommentData) error {
	if action != "created" {
		return nil
	}

	verdict, err := p.classifier.Classify(ctx, data.Body)
	if err != nil {
		verdict = classifier.FallbackVerdict()
	}

	if verdict.Category == "decision" {
		for _, d := range verdict.Decisions {
			if _, err := p.knowledge.WriteDecision(ctx, knowledge.DecisionInput{
				Team: data.Team, Repo: data.Repo, Summary: d,
				SourceRef: data.URL, SourceID: data.CommentID,
			}); err != nil {
				return fmt.Errorf("write decision: %w", err)
			}
		}
	}

	if verdict.ImportanceScore > 0.5 {
		if err := p.knowledge.IndexContent(ctx, data.Body, map[string]string{
			"repo": data.Repo, "comment": data.CommentID, "kind": "issue_comment",
		}); err != nil {
			return fmt.Errorf("index comment content: %w", err)
		}
	}
	return nil
}

func (p *ChangeProcessor) handlePullRequestReview(ctx context.Context, action string, data pullRequestReviewData) error {
	if action != "submitted" {
		return nil
	}

	if _, err := p.appender.Append(ctx, broker.StreamTaskEvents, "pr_review_activity", map[string]interface{}{
		"team": data.Team, "repo": data.Repo, "number": data.Number, "reviewer": data.Reviewer,
	}); err != nil {
		return fmt.Errorf("append review activity: %w", err)
	}

	if data.Reviewer == data.Author {
		return nil
	}

	_, err := p.appender.Append(ctx, broker.StreamNotifications, "pr_reviewed", map[string]interface{}{
		"recipient": data.Author, "team": data.Team, "kind": "pr_reviewed",
		"title": fmt.Sprintf("%s reviewed your PR #%d", data.Reviewer, data.Number),
		"body":  "", "source_ref": data.URL, "priority": string(domain.PriorityNormal),
	})
	if err != nil {
		return fmt.Errorf("append pr_reviewed notification: %w", err)
	}
	return nil
}

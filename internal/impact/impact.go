// Package impact implements the Change-Impact Analyzer (spec §4.5): given a
// change descriptor, resolves affected users via the Ownership Store and a
// breaking/severity verdict via the Classification Capability, then derives
// priority and a notify decision.
package impact

import (
	"context"

	"github.com/eventcore/pipeline/internal/classifier"
	"github.com/eventcore/pipeline/internal/domain"
)

// OwnershipResolver is the subset of the ownership engine the analyzer
// depends on.
type OwnershipResolver interface {
	AffectedUsers(ctx context.Context, repo string, files []string, excludeUser string) (map[string][]string, error)
}

// Analyzer computes ImpactVerdicts.
type Analyzer struct {
	ownership  OwnershipResolver
	classifier classifier.Classifier
}

// New constructs an Analyzer.
func New(ownership OwnershipResolver, c classifier.Classifier) *Analyzer {
	return &Analyzer{ownership: ownership, classifier: c}
}

// Change describes the input to impact analysis: a commit, a merged PR, or
// an aggregate file-change set.
type Change struct {
	ID         string
	Type       domain.ChangeType
	Repo       string
	Author     string
	Files      []string
	Message    string // commit message or PR body
	PRAction   string // "merged" when Type == ChangeTypePR and the PR was merged
}

// Analyze resolves an ImpactVerdict for change. Classifier failures already
// degrade to classifier.FallbackVerdict internally, so this never fails on
// classifier unavailability (§7).
func (a *Analyzer) Analyze(ctx context.Context, change Change) (domain.ImpactVerdict, error) {
	verdict, err := a.classifier.Classify(ctx, change.Message)
	if err != nil {
		verdict = classifier.FallbackVerdict()
	}

	severity := verdict.Severity
	merged := change.Type == domain.ChangeTypePR && change.PRAction == "merged"
	if merged && severity == domain.SeverityLow {
		severity = domain.SeverityMedium
	}

	affected, err := a.ownership.AffectedUsers(ctx, change.Repo, change.Files, change.Author)
	if err != nil {
		return domain.ImpactVerdict{}, err
	}

	shouldNotify := verdict.IsBreaking ||
		len(affected) > 0 ||
		(change.Type == domain.ChangeTypeCommit && len(change.Files) > 10) ||
		merged

	priority := priorityFor(verdict.IsBreaking, severity, merged, len(affected))

	return domain.ImpactVerdict{
		ChangeID:      change.ID,
		ChangeType:    change.Type,
		IsBreaking:    verdict.IsBreaking,
		Severity:      severity,
		AffectedUsers: affected,
		Summary:       verdict.Category,
		Priority:      priority,
		ShouldNotify:  shouldNotify,
	}, nil
}

// priorityFor implements the §4.5 priority table.
func priorityFor(isBreaking bool, severity domain.Severity, merged bool, affectedCount int) domain.Priority {
	switch {
	case isBreaking && (severity == domain.SeverityHigh || severity == domain.SeverityCritical || merged):
		return domain.PriorityUrgent
	case isBreaking:
		return domain.PriorityHigh
	case merged || affectedCount > 3:
		return domain.PriorityNormal
	default:
		return domain.PriorityLow
	}
}

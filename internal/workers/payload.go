package workers

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/eventcore/pipeline/internal/broker"
)

// gitEventEnvelope mirrors the Webhook Ingress Contract's append payload
// (§4.2): `{event_id, delivery_id, action, data}`, where data carries the
// kind-specific webhook body.
type gitEventEnvelope struct {
	EventID    string          `json:"event_id"`
	DeliveryID string          `json:"delivery_id"`
	Action     string          `json:"action"`
	Data       json.RawMessage `json:"data"`
}

func decodeEnvelope(entry broker.Entry) (gitEventEnvelope, error) {
	raw, err := json.Marshal(entry.Payload)
	if err != nil {
		return gitEventEnvelope{}, fmt.Errorf("re-encode entry payload: %w", err)
	}
	var env gitEventEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return gitEventEnvelope{}, fmt.Errorf("decode git event envelope: %w", err)
	}
	return env, nil
}

func decodeData(env gitEventEnvelope, target interface{}) error {
	return json.Unmarshal(env.Data, target)
}

// pushData is the push event's webhook body.
type pushData struct {
	Repo    string       `json:"repo"`
	Team    string       `json:"team"`
	Commits []commitData `json:"commits"`
}

type commitData struct {
	SHA          string    `json:"sha"`
	Author       string    `json:"author"`
	Message      string    `json:"message"`
	Added        []string  `json:"added"`
	Modified     []string  `json:"modified"`
	Removed      []string  `json:"removed"`
	LinesAdded   int       `json:"lines_added"`
	LinesRemoved int       `json:"lines_removed"`
	Timestamp    time.Time `json:"timestamp"`
}

func (c commitData) touchedFiles() []string {
	seen := make(map[string]bool, len(c.Added)+len(c.Modified)+len(c.Removed))
	var out []string
	for _, group := range [][]string{c.Added, c.Modified, c.Removed} {
		for _, f := range group {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	return out
}

// pullRequestData is the pull_request event's webhook body.
type pullRequestData struct {
	Repo   string `json:"repo"`
	Team   string `json:"team"`
	Merged bool   `json:"merged"`
	Number int    `json:"number"`
	Author string `json:"author"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	URL    string `json:"url"`
}

// issueData is the issues event's webhook body.
type issueData struct {
	Repo   string `json:"repo"`
	Team   string `json:"team"`
	Author string `json:"author"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	Number int    `json:"number"`
	URL    string `json:"url"`
}

// issueCommentData is the issue_comment event's webhook body.
type issueCommentData struct {
	Repo        string `json:"repo"`
	Team        string `json:"team"`
	Author      string `json:"author"`
	Body        string `json:"body"`
	IssueNumber int    `json:"issue_number"`
	CommentID   string `json:"comment_id"`
	URL         string `json:"url"`
}

// pullRequestReviewData is the pull_request_review event's webhook body.
type pullRequestReviewData struct {
	Repo     string `json:"repo"`
	Team     string `json:"team"`
	Reviewer string `json:"reviewer"`
	Author   string `json:"author"`
	Number   int    `json:"number"`
	URL      string `json:"url"`
}

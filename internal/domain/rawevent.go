// Package domain holds the core entities of the event-processing pipeline:
// the durable record of an inbound webhook, derived ownership/impact/rule/
// notification/task state, and the knowledge artifacts the pipeline writes.
package domain

import (
	"encoding/json"
	"time"
)

// Source identifies the platform an event originated from.
type Source string

const (
	SourceGit  Source = "git"
	SourceChat Source = "chat"
)

// RawEvent is the durable record of an inbound webhook delivery. The
// pipeline exclusively owns ProcessedAt; Payload is immutable after create.
type RawEvent struct {
	ID          string
	Source      Source
	Kind        string // push, pull_request, issues, issue_comment, pull_request_review, ...
	Repo        string
	Sender      string
	Payload     json.RawMessage
	ProcessedAt *time.Time
	ErrorMarker string // set when validation/malformed payload handling needs a trace, never clears ProcessedAt
	CreatedAt   time.Time
}

// MarkProcessed returns a copy of e with ProcessedAt set to now. §3 requires
// this be set at-most-once; callers should only persist the transition when
// ProcessedAt was previously nil.
func (e RawEvent) MarkProcessed(at time.Time) RawEvent {
	e.ProcessedAt = &at
	return e
}

// IsProcessed reports whether the event has already been handled.
func (e RawEvent) IsProcessed() bool {
	return e.ProcessedAt != nil
}

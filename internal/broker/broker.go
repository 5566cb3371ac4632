// Package broker implements the Stream Broker Adapter: a thin capability
// wrapping Redis Streams that supports append, consumer groups with
// per-consumer pending lists, acknowledge, and claim-idle — the durable log
// primitive the pipeline's three named streams (git_events, notifications,
// task_events) are built on.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	pipelineerrors "github.com/eventcore/pipeline/pkg/errors"
)

// Stream names recognized by the pipeline.
const (
	StreamGitEvents     = "git_events"
	StreamNotifications = "notifications"
	StreamTaskEvents    = "task_events"
)

// MaxPayloadBytes bounds a single entry's encoded payload. Oversized payloads
// are refused with an explicit error rather than silently truncated.
const MaxPayloadBytes = 256 * 1024

// Entry is a single broker message.
type Entry struct {
	MessageID string
	Stream    string
	EventType string
	Payload   map[string]interface{}
}

// Broker wraps a redis.Client to provide the append/read/ack/claim-idle
// capability set.
type Broker struct {
	rdb *redis.Client
}

// New creates a Broker over the given Redis connection string
// (e.g. redis://host:6379/0).
func New(url string) (*Broker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse broker url: %w", err)
	}
	return &Broker{rdb: redis.NewClient(opts)}, nil
}

// NewFromClient wraps an already-constructed client, useful for tests against
// miniredis or a shared pool.
func NewFromClient(rdb *redis.Client) *Broker {
	return &Broker{rdb: rdb}
}

// Ping verifies broker reachability, used by the health endpoint.
func (b *Broker) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (b *Broker) Close() error {
	return b.rdb.Close()
}

// Append writes a new entry to stream. Payload is wrapped in a
// self-describing {"data": payload} envelope alongside event_type.
func (b *Broker) Append(ctx context.Context, stream, eventType string, payload map[string]interface{}) (string, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", pipelineerrors.Validation(fmt.Sprintf("encode payload: %v", err))
	}
	if len(encoded) > MaxPayloadBytes {
		return "", pipelineerrors.Validation(fmt.Sprintf("payload of %d bytes exceeds max %d", len(encoded), MaxPayloadBytes))
	}

	id, err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"event_type": eventType,
			"data":       string(encoded),
		},
	}).Result()
	if err != nil {
		return "", pipelineerrors.Transient("broker append", err)
	}
	return id, nil
}

// CreateGroup creates a consumer group starting at the stream tail ($), not
// the historical beginning, so fresh installs don't replay pre-deployment
// events. It is idempotent: BUSYGROUP is swallowed.
func (b *Broker) CreateGroup(ctx context.Context, stream, group string) error {
	err := b.rdb.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		if isBusyGroupErr(err) {
			return nil
		}
		return pipelineerrors.Transient("create consumer group", err)
	}
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

// Read reads up to count new messages for consumer within group, blocking up
// to block for new entries. A nil/empty result with no error means the block
// window elapsed without new messages.
func (b *Broker) Read(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Entry, error) {
	res, err := b.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, pipelineerrors.Transient("broker read", err)
	}
	return decodeStreams(res), nil
}

// Ack acknowledges messageID for group, removing it from the pending list.
func (b *Broker) Ack(ctx context.Context, stream, group, messageID string) error {
	if err := b.rdb.XAck(ctx, stream, group, messageID).Err(); err != nil {
		return pipelineerrors.Transient("broker ack", err)
	}
	return nil
}

// ClaimIdle transfers up to count pending messages idle longer than minIdle
// to consumer, making crashed-worker messages deliverable again.
func (b *Broker) ClaimIdle(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]Entry, error) {
	pending, err := b.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  count,
		Idle:   minIdle,
	}).Result()
	if err != nil {
		return nil, pipelineerrors.Transient("list pending", err)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		ids = append(ids, p.ID)
	}

	msgs, err := b.rdb.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil, pipelineerrors.Transient("claim idle", err)
	}
	return decodeMessages(stream, msgs), nil
}

func decodeStreams(streams []redis.XStream) []Entry {
	var out []Entry
	for _, s := range streams {
		out = append(out, decodeMessages(s.Stream, s.Messages)...)
	}
	return out
}

func decodeMessages(stream string, msgs []redis.XMessage) []Entry {
	out := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		entry := Entry{MessageID: m.ID, Stream: stream}
		if et, ok := m.Values["event_type"].(string); ok {
			entry.EventType = et
		}
		if data, ok := m.Values["data"].(string); ok {
			var payload map[string]interface{}
			if err := json.Unmarshal([]byte(data), &payload); err == nil {
				entry.Payload = payload
			}
		}
		out = append(out, entry)
	}
	return out
}

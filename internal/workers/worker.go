// Package workers implements the Worker Pool (spec §4.9): a base claim-idle
// / read / process loop shared by the three worker types (change-processor,
// notification, task-monitor), each a long-lived consumer-group member with
// shutdown, claim-pending, and health-report responsibilities.
package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eventcore/pipeline/internal/broker"
	"github.com/eventcore/pipeline/internal/metrics"
	"github.com/eventcore/pipeline/pkg/logger"
)

const (
	claimMinIdle = 60 * time.Second
	claimCount   = 5
	readCount    = 10
	readBlock    = 5 * time.Second
)

// Handler processes a single claimed/read stream entry. A returned error
// means the message must not be acknowledged, so it becomes claimable again.
type Handler func(ctx context.Context, entry broker.Entry) error

// Broker is the subset of *broker.Broker a Worker depends on, narrowed so
// the claim/read/process loop is testable without a live Redis instance.
type Broker interface {
	CreateGroup(ctx context.Context, stream, group string) error
	ClaimIdle(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]broker.Entry, error)
	Read(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]broker.Entry, error)
	Ack(ctx context.Context, stream, group, messageID string) error
}

// Stats is a point-in-time snapshot of a worker's counters, used by the
// health endpoint.
type Stats struct {
	WorkerID  string
	Stream    string
	Group     string
	Processed uint64
	Errors    uint64
	StartedAt time.Time
}

// Worker owns a stable worker_id, a stream/group pair, and the
// claim-idle/read/process loop described in §4.9.
type Worker struct {
	id       string
	stream   string
	group    string
	consumer string
	broker   Broker
	handler  Handler
	log      *logger.Logger

	mu        sync.Mutex
	processed uint64
	errors    uint64
	startedAt time.Time

	stop chan struct{}
	done chan struct{}
}

// New constructs a Worker. consumer is the unique consumer name registered
// with the broker's consumer group (typically workerID itself).
func New(id, stream, group string, b Broker, handler Handler, log *logger.Logger) *Worker {
	return &Worker{
		id:       id,
		stream:   stream,
		group:    group,
		consumer: id,
		broker:   b,
		handler:  handler,
		log:      log,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Name identifies this worker instance, satisfying internal/supervisor.Service.
func (w *Worker) Name() string {
	return fmt.Sprintf("%s/%s", w.group, w.id)
}

// Start registers the consumer group (idempotent), then starts the claim/
// read/process loop in its own goroutine and returns. The loop runs until
// ctx is canceled or Stop is called. In-flight messages complete before the
// loop exits; unacked messages remain pending for a later claim-idle by
// another worker.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	w.startedAt = time.Now().UTC()
	w.mu.Unlock()

	if err := w.broker.CreateGroup(ctx, w.stream, w.group); err != nil {
		return fmt.Errorf("create consumer group %s/%s: %w", w.stream, w.group, err)
	}

	go func() {
		defer close(w.done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stop:
				return
			default:
			}

			if err := w.runIteration(ctx); err != nil {
				w.log.WithError(err).WithField("worker", w.Name()).Error("worker iteration failed")
			}
		}
	}()
	return nil
}

// Stop signals the loop to exit after its current iteration and blocks until
// it has.
func (w *Worker) Stop(ctx context.Context) error {
	close(w.stop)
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) runIteration(ctx context.Context) error {
	claimed, err := w.broker.ClaimIdle(ctx, w.stream, w.group, w.consumer, claimMinIdle, claimCount)
	if err != nil {
		return fmt.Errorf("claim idle: %w", err)
	}
	for _, entry := range claimed {
		w.process(ctx, entry)
	}

	entries, err := w.broker.Read(ctx, w.stream, w.group, w.consumer, readCount, readBlock)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	for _, entry := range entries {
		w.process(ctx, entry)
	}
	return nil
}

func (w *Worker) process(ctx context.Context, entry broker.Entry) {
	start := time.Now()
	err := w.handler(ctx, entry)
	metrics.RecordEventProcessed(w.group, time.Since(start), err)

	if err != nil {
		w.mu.Lock()
		w.errors++
		w.mu.Unlock()
		w.log.WithError(err).WithField("worker", w.Name()).WithField("message_id", entry.MessageID).Warn("handler failed, message left pending")
		return
	}

	if err := w.broker.Ack(ctx, w.stream, w.group, entry.MessageID); err != nil {
		w.log.WithError(err).WithField("worker", w.Name()).WithField("message_id", entry.MessageID).Warn("ack failed")
		return
	}

	w.mu.Lock()
	w.processed++
	w.mu.Unlock()
}

// StatsSnapshot reports this worker's current counters.
func (w *Worker) StatsSnapshot() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Stats{
		WorkerID:  w.id,
		Stream:    w.stream,
		Group:     w.group,
		Processed: w.processed,
		Errors:    w.errors,
		StartedAt: w.startedAt,
	}
}

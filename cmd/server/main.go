// Command server runs the event-processing core: the webhook ingress HTTP
// server, the three consumer-group worker pools, and the reconciliation
// sweep, all under one supervisor.Manager lifecycle.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"

	goredis "github.com/go-redis/redis/v8"

	"github.com/eventcore/pipeline/internal/broker"
	"github.com/eventcore/pipeline/internal/chatclient"
	"github.com/eventcore/pipeline/internal/classifier"
	"github.com/eventcore/pipeline/internal/config"
	"github.com/eventcore/pipeline/internal/health"
	"github.com/eventcore/pipeline/internal/impact"
	"github.com/eventcore/pipeline/internal/ingress"
	"github.com/eventcore/pipeline/internal/knowledge"
	"github.com/eventcore/pipeline/internal/notify"
	"github.com/eventcore/pipeline/internal/ownership"
	"github.com/eventcore/pipeline/internal/ratelimit"
	"github.com/eventcore/pipeline/internal/rules"
	"github.com/eventcore/pipeline/internal/storage/migrate"
	"github.com/eventcore/pipeline/internal/storage/postgres"
	"github.com/eventcore/pipeline/internal/supervisor"
	"github.com/eventcore/pipeline/internal/vectorstore"
	"github.com/eventcore/pipeline/internal/workers"
	"github.com/eventcore/pipeline/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	log := logger.New(logger.LoggingConfig{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: "stdout"})

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("open database")
	}
	defer db.Close()
	if err := migrate.Apply(db); err != nil {
		log.WithError(err).Fatal("apply migrations")
	}
	store := postgres.New(db)

	redisOpts, err := goredis.ParseURL(cfg.BrokerURL)
	if err != nil {
		log.WithError(err).Fatal("parse broker url")
	}
	rdb := goredis.NewClient(redisOpts)
	defer rdb.Close()
	brk := broker.NewFromClient(rdb)
	limiter := ratelimit.New(rdb)

	cls := classifier.NewHTTPClassifier(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMTimeout)
	ownershipEngine := ownership.New(store)
	impactAnalyzer := impact.New(ownershipEngine, cls)
	vectors := vectorstore.New(cfg.VectorStoreURL, cfg.VectorStoreKey, cfg.LLMTimeout)
	chat := chatclient.New(cfg.ChatBaseURL, cfg.ChatBotToken, cfg.ChatSigningSecret, cfg.LLMTimeout)
	kw := knowledge.New(store, store, vectors)

	fanout := notify.New(store, store, limiter, chatclient.NotifyAdapter{Client: chat}, notify.WithWindow(cfg.RateLimitMax, cfg.RateLimitWindow))

	actionExecutor := workers.NewActionExecutor(brk, store, chat)
	ruleEngine := rules.New(store, actionExecutor)

	changeHandler := workers.NewChangeProcessor(store, ownershipEngine, impactAnalyzer, cls, kw, brk, ruleEngine)
	notificationHandler := workers.NewNotificationWorker(fanout)
	taskHandler := workers.NewTaskMonitor(ruleEngine, store, kw, brk)

	manager := supervisor.New()
	var allWorkers []*workers.Worker

	registerPool := func(prefix, stream, group string, count int, handler workers.Handler) {
		for i := 0; i < count; i++ {
			w := workers.New(fmt.Sprintf("%s-%d", prefix, i), stream, group, brk, handler, log)
			allWorkers = append(allWorkers, w)
			if err := manager.Register(w); err != nil {
				log.WithError(err).Fatal("register worker")
			}
		}
	}

	registerPool("change-processor", broker.StreamGitEvents, "change_processors", cfg.Workers.ChangeProcessor, changeHandler.Handle)
	registerPool("notification", broker.StreamNotifications, "notifications", cfg.Workers.Notification, notificationHandler.Handle)
	registerPool("task-monitor", broker.StreamTaskEvents, "task_monitors", cfg.Workers.TaskMonitor, taskHandler.Handle)

	reconciler := newReconciler(store, brk, log, cfg.ReconcileInterval, cfg.ReconcileGrace)
	if err := manager.Register(reconciler); err != nil {
		log.WithError(err).Fatal("register reconciler")
	}

	aggregate := health.NewAggregator(
		map[string]health.Pinger{"database": store, "broker": brk},
		func() []health.WorkerStats { return workerStats(allWorkers) },
		nil,
	)
	server := ingress.New(store, brk, aggregate, cfg.WebhookSecret, log)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: server,
	}

	ctx := context.Background()
	if err := manager.Start(ctx); err != nil {
		log.WithError(err).Fatal("start workers")
	}

	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown")
	}
	if err := manager.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("worker shutdown")
	}
}

func workerStats(ws []*workers.Worker) []health.WorkerStats {
	out := make([]health.WorkerStats, 0, len(ws))
	for _, w := range ws {
		s := w.StatsSnapshot()
		out = append(out, health.WorkerStats{
			WorkerID:  s.WorkerID,
			Stream:    s.Stream,
			Group:     s.Group,
			Processed: s.Processed,
			Errors:    s.Errors,
			StartedAt: s.StartedAt,
		})
	}
	return out
}

// reconciler re-appends every raw event still lacking processed_at after the
// grace period (which covers the ingress fallback path, where the first
// append failed) and marks each re-appended event processed so later sweeps
// skip it. It runs as a supervisor.Service alongside the worker pool.
type reconciler struct {
	store    *postgres.Store
	appender interface {
		Append(ctx context.Context, stream, eventType string, payload map[string]interface{}) (string, error)
	}
	log      *logger.Logger
	interval time.Duration
	grace    time.Duration
	sched    *cron.Cron
}

func newReconciler(store *postgres.Store, appender *broker.Broker, log *logger.Logger, interval, grace time.Duration) *reconciler {
	return &reconciler{store: store, appender: appender, log: log, interval: interval, grace: grace}
}

func (r *reconciler) Name() string { return "reconciler" }

func (r *reconciler) Start(ctx context.Context) error {
	r.sched = cron.New()
	spec := fmt.Sprintf("@every %s", r.interval)
	_, err := r.sched.AddFunc(spec, func() { r.sweep(context.Background()) })
	if err != nil {
		return fmt.Errorf("schedule reconciliation: %w", err)
	}
	r.sched.Start()
	return nil
}

func (r *reconciler) Stop(ctx context.Context) error {
	if r.sched != nil {
		stopCtx := r.sched.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
		}
	}
	return nil
}

func (r *reconciler) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-r.grace)
	pending, err := r.store.ListUnprocessedBefore(ctx, cutoff)
	if err != nil {
		r.log.WithError(err).Warn("reconciliation: list unprocessed raw events")
		return
	}
	for _, ev := range pending {
		if _, err := r.appender.Append(ctx, broker.StreamGitEvents, ev.Kind, map[string]interface{}{
			"event_id":    ev.ID,
			"delivery_id": ev.ID,
			"action":      "",
			"data":        ev.Payload,
		}); err != nil {
			r.log.WithError(err).WithField("raw_event_id", ev.ID).Warn("reconciliation: re-append failed")
			continue
		}
		if err := r.store.MarkRawEventProcessed(ctx, ev.ID, time.Now().UTC()); err != nil {
			r.log.WithError(err).WithField("raw_event_id", ev.ID).Warn("reconciliation: mark processed failed")
		}
	}
}

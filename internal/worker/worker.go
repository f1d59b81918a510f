// Package worker consumes video-recognition jobs from the queue, scores
// them, and persists the outcome.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/KLibras/klibras-api/internal/cache"
	"github.com/KLibras/klibras-api/internal/queue"
	"github.com/KLibras/klibras-api/internal/scorer"
	"github.com/KLibras/klibras-api/internal/store"
	"github.com/KLibras/klibras-api/pkg/models"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

const jobStatusTTL = 30 * time.Minute

// DialFunc establishes a broker connection. Injected so tests can supply an
// in-memory transport.
type DialFunc func(ctx context.Context) (queue.Transport, error)

// Options configures a Worker.
type Options struct {
	Store  store.Store
	Cache  cache.Cache
	Scorer scorer.Scorer
	Dial   DialFunc

	QueueName string
	// Concurrency bounds simultaneous scoring and doubles as the consumer
	// prefetch limit, so the broker never hands this worker more
	// unacknowledged messages than it can be scoring at once.
	Concurrency    int
	ReconnectDelay time.Duration
	JobTimeout     time.Duration
	Logger         *slog.Logger
}

// Worker is the long-running queue consumer.
type Worker struct {
	store     store.Store
	cache     cache.Cache
	scorer    scorer.Scorer
	dial      DialFunc
	queueName string
	workers   int64
	reconnect time.Duration
	jobTO     time.Duration
	logger    *slog.Logger
	sem       *semaphore.Weighted
}

// New validates options and creates a Worker.
func New(opts Options) (*Worker, error) {
	if opts.Store == nil || opts.Scorer == nil || opts.Dial == nil {
		return nil, fmt.Errorf("worker requires a store, scorer, and dial function")
	}
	if opts.QueueName == "" {
		return nil, fmt.Errorf("worker requires a queue name")
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 2 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:     opts.Store,
		cache:     opts.Cache,
		scorer:    opts.Scorer,
		dial:      opts.Dial,
		queueName: opts.QueueName,
		workers:   int64(opts.Concurrency),
		reconnect: opts.ReconnectDelay,
		jobTO:     opts.JobTimeout,
		logger:    logger,
		sem:       semaphore.NewWeighted(int64(opts.Concurrency)),
	}, nil
}

// Run consumes until ctx is cancelled. Any connection-level failure tears
// down the consume loop and reconnects after a delay; unacknowledged
// messages are redelivered by the broker.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		transport, err := w.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("broker dial failed", "error", err)
			if !w.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}

		deliveries, err := transport.Consume(ctx, w.queueName, int(w.workers))
		if err != nil {
			w.logger.Error("consume failed", "queue", w.queueName, "error", err)
			_ = transport.Close()
			if !w.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}

		w.logger.Info("worker consuming", "queue", w.queueName, "concurrency", w.workers)
		w.consumeLoop(ctx, deliveries)
		_ = transport.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.logger.Warn("queue connection lost, reconnecting", "delay", w.reconnect)
		if !w.sleep(ctx) {
			return ctx.Err()
		}
	}
}

// consumeLoop dispatches deliveries until the channel closes, then waits for
// in-flight jobs to finish.
func (w *Worker) consumeLoop(ctx context.Context, deliveries <-chan queue.Delivery) {
	for d := range deliveries {
		if err := w.sem.Acquire(ctx, 1); err != nil {
			// Shutdown mid-stream; the unacked delivery is requeued by the
			// broker when the channel closes.
			_ = d.Nack(true)
			break
		}
		go func(d queue.Delivery) {
			defer w.sem.Release(1)
			w.handle(ctx, d)
		}(d)
	}

	// Drain: all permits held means no job is still in flight.
	if err := w.sem.Acquire(context.Background(), w.workers); err == nil {
		w.sem.Release(w.workers)
	}
}

// handle processes one delivery: decode, claim, score, persist, ack. The
// terminal Job Store update always happens before the acknowledgment.
func (w *Worker) handle(ctx context.Context, d queue.Delivery) {
	msg, err := queue.DecodeMessage(d.Body())
	if err != nil {
		// Undecodable payloads can never succeed; drop them instead of
		// letting the broker redeliver forever.
		w.logger.Error("dropping undecodable message", "error", err)
		_ = d.Ack()
		return
	}

	log := w.logger.With("job_id", msg.JobID, "expected_action", msg.ExpectedAction)
	log.Info("processing job")

	claimed, err := w.store.ClaimJob(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Message without a job record: the submit-side write failed
			// after publish. Nothing to update; treat as handled.
			log.Warn("job record missing, dropping message")
			_ = d.Ack()
			return
		}
		log.Error("claim failed, requeueing", "error", err)
		_ = d.Nack(true)
		return
	}

	if !claimed {
		job, err := w.store.GetJob(ctx, msg.JobID, msg.UserID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				log.Warn("job record missing, dropping message")
				_ = d.Ack()
				return
			}
			log.Error("status check failed, requeueing", "error", err)
			_ = d.Nack(true)
			return
		}
		if models.IsTerminalStatus(job.Status) {
			// Redelivery of a finished job; the first delivery's result
			// stands.
			log.Info("duplicate delivery of terminal job", "status", job.Status)
			_ = d.Ack()
			return
		}
		// Still "processing": the previous consumer died before acking.
		// Scoring again is safe, the terminal update is guarded.
		log.Warn("re-scoring job left in processing state")
	}

	w.setCachedStatus(msg.JobID, models.JobStatusProcessing)

	scoreCtx, cancel := context.WithTimeout(ctx, w.jobTO)
	verdict, scoreErr := w.scorer.Score(scoreCtx, msg.Video, msg.ExpectedAction)
	cancel()

	now := time.Now().UTC()
	if scoreErr != nil {
		// A bad video is a normal terminal outcome, not a worker failure.
		// Record it and ack so the poison message is not redelivered.
		log.Warn("scoring failed", "error", scoreErr)
		if err := w.store.FailJob(ctx, msg.JobID, scoreErr.Error(), now); err != nil && !errors.Is(err, store.ErrJobTerminal) {
			log.Error("failed-state update failed, requeueing", "error", err)
			_ = d.Nack(true)
			return
		}
		w.setCachedStatus(msg.JobID, models.JobStatusFailed)
		_ = d.Ack()
		return
	}

	err = w.store.CompleteJob(ctx, msg.JobID, store.Verdict{
		ActionFound:     verdict.ActionFound,
		PredictedAction: verdict.PredictedAction,
		Confidence:      verdict.Confidence,
		IsMatch:         verdict.IsMatch,
	}, now)
	if err != nil {
		if errors.Is(err, store.ErrJobTerminal) {
			log.Info("job completed by a concurrent delivery")
			_ = d.Ack()
			return
		}
		log.Error("completion update failed, requeueing", "error", err)
		_ = d.Nack(true)
		return
	}

	w.setCachedStatus(msg.JobID, models.JobStatusCompleted)
	log.Info("job completed",
		"predicted_action", verdict.PredictedAction,
		"confidence", verdict.Confidence,
		"action_found", verdict.ActionFound)
	_ = d.Ack()
}

func (w *Worker) setCachedStatus(jobID uuid.UUID, status string) {
	if w.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = w.cache.SetJobStatus(ctx, jobID, status, jobStatusTTL)
}

// sleep waits for the reconnect delay; returns false if ctx was cancelled.
func (w *Worker) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(w.reconnect):
		return true
	}
}

package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	apperrors "github.com/xilidan/workmate/pkg/errors"
	"github.com/xilidan/workmate/services/transcription/entity"
	"github.com/xilidan/workmate/services/transcription/observability"
)

type Processor interface {
	Process(ctx context.Context, job Job) (entity.Status, error)
}

// Runner executes pipeline jobs on a fixed set of workers, off the request path.
type Runner struct {
	processor Processor
	queue     chan Job
	workers   int
	metrics   *observability.Metrics
	log       *slog.Logger

	mu      sync.RWMutex
	closed  bool
	started atomic.Bool
	wg      sync.WaitGroup
}

func NewRunner(processor Processor, workers, queueSize int, metrics *observability.Metrics, log *slog.Logger) *Runner {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &Runner{
		processor: processor,
		queue:     make(chan Job, queueSize),
		workers:   workers,
		metrics:   metrics,
		log:       log,
	}
}

func (r *Runner) Start() {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	r.log.Info("starting pipeline workers", slog.Int("workers", r.workers), slog.Int("queue_size", cap(r.queue)))
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.work(i)
	}
}

// Submit enqueues job without blocking. A full or stopped runner returns
// an ErrUnavailable error and the caller keeps ownership of the job.
func (r *Runner) Submit(job Job) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return apperrors.Unavailable("pipeline is shutting down")
	}
	select {
	case r.queue <- job:
		r.metrics.RunQueueDepth.Inc()
		return nil
	default:
		return apperrors.Unavailable("pipeline queue is full, retry later")
	}
}

// Shutdown stops accepting jobs and waits for queued and running jobs to
// finish, or for ctx to expire.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.log.Info("pipeline workers stopped")
		return nil
	case <-ctx.Done():
		r.log.Warn("pipeline shutdown timed out with runs in flight")
		return ctx.Err()
	}
}

func (r *Runner) work(id int) {
	defer r.wg.Done()
	log := r.log.With(slog.Int("worker", id))

	for job := range r.queue {
		r.metrics.RunQueueDepth.Dec()
		log.Debug("picked up job", slog.String("meeting_id", job.MeetingID))

		// runs are never cancelled from outside once started
		status, err := r.processor.Process(context.Background(), job)
		if err != nil {
			log.Warn("run ended with error",
				slog.String("meeting_id", job.MeetingID),
				slog.String("status", string(status)),
				slog.String("error", err.Error()))
			continue
		}
		log.Debug("run finished",
			slog.String("meeting_id", job.MeetingID),
			slog.String("status", string(status)))
	}
}

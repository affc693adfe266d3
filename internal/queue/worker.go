// Package queue runs pipeline jobs on a fixed pool of background workers.
package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/speech-insights/internal/analysis"
	"github.com/codebuildervaibhav/speech-insights/internal/export"
	"github.com/codebuildervaibhav/speech-insights/internal/pipeline"
	"github.com/codebuildervaibhav/speech-insights/internal/types"
)

var (
	// ErrQueueFull is returned when the job buffer has no room.
	ErrQueueFull = errors.New("job queue is full")
	// ErrStopped is returned by Enqueue after Stop.
	ErrStopped = errors.New("worker pool stopped")
)

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context, audioID int64) (*pipeline.Outcome, error)
}

// ViewSource loads the composite view handed to exporters.
type ViewSource interface {
	GetFullAnalysis(ctx context.Context, audioID int64) (*analysis.CompositeView, error)
}

// Stats counts jobs by outcome since the pool started.
type Stats struct {
	Queued    int64 `json:"queued"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
}

// WorkerPool manages a pool of workers processing pipeline jobs
type WorkerPool struct {
	jobQueue    chan *Job
	workerCount int
	runner      Runner
	views       ViewSource
	exporters   []export.Exporter
	log         *logrus.Entry

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
	cancel  context.CancelFunc

	queued, active, completed, failed, dropped atomic.Int64
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(workerCount, queueSize int, runner Runner, views ViewSource, exporters []export.Exporter, log *logrus.Entry) *WorkerPool {
	if workerCount < 1 {
		workerCount = 1
	}
	if queueSize < 1 {
		queueSize = 100
	}
	return &WorkerPool{
		jobQueue:    make(chan *Job, queueSize),
		workerCount: workerCount,
		runner:      runner,
		views:       views,
		exporters:   exporters,
		log:         log.WithField("module", "queue"),
	}
}

// Start initializes all workers. Runs inherit ctx.
func (wp *WorkerPool) Start(ctx context.Context) {
	ctx, wp.cancel = context.WithCancel(ctx)
	wp.log.Infof("Starting worker pool with %d workers", wp.workerCount)
	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}
}

// Enqueue adds a job without blocking.
func (wp *WorkerPool) Enqueue(job *Job) error {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.stopped {
		return ErrStopped
	}

	wp.queued.Add(1)
	select {
	case wp.jobQueue <- job:
		wp.log.WithFields(logrus.Fields{
			"job_id":   job.ID,
			"audio_id": job.AudioID,
			"source":   job.Source,
		}).Info("job enqueued")
		return nil
	default:
		wp.queued.Add(-1)
		return ErrQueueFull
	}
}

// Stop drains queued jobs and waits for in-flight runs. When ctx ends first
// the remaining runs are cancelled; their records stay in processing.
func (wp *WorkerPool) Stop(ctx context.Context) error {
	wp.mu.Lock()
	if !wp.stopped {
		wp.stopped = true
		close(wp.jobQueue)
	}
	wp.mu.Unlock()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if wp.cancel != nil {
			wp.cancel()
		}
		return nil
	case <-ctx.Done():
		if wp.cancel != nil {
			wp.cancel()
		}
		<-done
		return ctx.Err()
	}
}

// Stats returns a snapshot of the job counters.
func (wp *WorkerPool) Stats() Stats {
	return Stats{
		Queued:    wp.queued.Load(),
		Active:    wp.active.Load(),
		Completed: wp.completed.Load(),
		Failed:    wp.failed.Load(),
		Dropped:   wp.dropped.Load(),
	}
}

// worker processes jobs from the queue
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()
	log := wp.log.WithField("worker", id)
	log.Debug("worker started")

	for job := range wp.jobQueue {
		wp.queued.Add(-1)
		wp.active.Add(1)
		func() {
			defer wp.active.Add(-1)
			defer func() {
				if r := recover(); r != nil {
					log.WithField("job_id", job.ID).Errorf("PANIC processing job: %v\n%s", r, debug.Stack())
					wp.failed.Add(1)
					job.finish(nil, fmt.Errorf("worker panic: %v", r))
				}
			}()

			wp.processJob(ctx, log, job)
		}()
	}
}

// processJob runs the pipeline for one record and hands the result to exporters
func (wp *WorkerPool) processJob(ctx context.Context, log *logrus.Entry, job *Job) {
	log = log.WithFields(logrus.Fields{"job_id": job.ID, "audio_id": job.AudioID})

	out, err := wp.runner.Run(ctx, job.AudioID)
	switch {
	case pipeline.IsStructural(err):
		// already running elsewhere, or deleted after enqueue
		log.WithError(err).Info("job dropped")
		wp.dropped.Add(1)
		job.finish(nil, err)
		return
	case err != nil:
		log.WithError(err).Error("pipeline run aborted; record left in processing")
		wp.failed.Add(1)
		job.finish(nil, err)
		return
	}

	if out.Status == types.StatusCompleted {
		wp.completed.Add(1)
	} else {
		wp.failed.Add(1)
	}

	wp.export(ctx, log, job.AudioID)
	job.finish(out, nil)
}

// export failures are logged only; the analysis itself is already stored
func (wp *WorkerPool) export(ctx context.Context, log *logrus.Entry, audioID int64) {
	if len(wp.exporters) == 0 || wp.views == nil {
		return
	}
	view, err := wp.views.GetFullAnalysis(ctx, audioID)
	if err != nil {
		log.WithError(err).Warn("load analysis for export failed")
		return
	}
	for _, ex := range wp.exporters {
		if err := ex.Export(ctx, view); err != nil {
			log.WithError(err).WithField("exporter", ex.Name()).Warn("export failed")
			continue
		}
		log.WithField("exporter", ex.Name()).Debug("exported analysis")
	}
}

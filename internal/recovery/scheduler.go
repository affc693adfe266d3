// Package recovery restarts pipeline runs orphaned in processing and clears
// out stale temporary audio files.
package recovery

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/speech-insights/internal/queue"
	"github.com/codebuildervaibhav/speech-insights/internal/types"
)

// StaleLister finds runs that stopped making progress.
type StaleLister interface {
	StaleRuns(ctx context.Context, olderThan time.Duration) ([]types.AudioRecord, error)
}

// Enqueuer accepts jobs for background processing.
type Enqueuer interface {
	Enqueue(job *queue.Job) error
}

// Options configures a Scheduler.
type Options struct {
	TempDir    string
	Interval   time.Duration
	StaleAfter time.Duration
	TempMaxAge time.Duration
	// RequeueOnStart treats every processing record as orphaned on the first
	// sweep, which is right for a single instance that just restarted.
	RequeueOnStart bool
}

// Scheduler periodically requeues stale runs and cleans temporary files
type Scheduler struct {
	opts     Options
	runs     StaleLister
	jobs     Enqueuer
	log      *logrus.Entry
	now      func() time.Time
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewScheduler creates a new recovery scheduler
func NewScheduler(opts Options, runs StaleLister, jobs Enqueuer, log *logrus.Entry) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	return &Scheduler{
		opts:     opts,
		runs:     runs,
		jobs:     jobs,
		log:      log.WithField("module", "recovery"),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Start runs an initial sweep and then sweeps every interval until Stop.
func (s *Scheduler) Start(ctx context.Context) {
	first := s.opts.StaleAfter
	if s.opts.RequeueOnStart {
		first = 0
	}
	s.log.Info("Running initial recovery sweep...")
	s.sweep(ctx, first)

	ticker := time.NewTicker(s.opts.Interval)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.sweep(ctx, s.opts.StaleAfter)
			case <-s.stopChan:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	s.log.WithFields(logrus.Fields{
		"interval":     s.opts.Interval.String(),
		"stale_after":  s.opts.StaleAfter.String(),
		"temp_max_age": s.opts.TempMaxAge.String(),
	}).Info("Recovery scheduler started")
}

// Stop stops the scheduler and waits for an in-flight sweep. Calling it more
// than once is safe.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
		s.log.Info("Recovery scheduler stopped")
	})
}

func (s *Scheduler) sweep(ctx context.Context, staleAfter time.Duration) {
	if _, err := s.RequeueStale(ctx, staleAfter); err != nil {
		s.log.WithError(err).Error("stale run sweep failed")
	}
	s.CleanTemp()
}

// RequeueStale enqueues a fresh run for every record stuck in processing for
// at least olderThan. It stops early if the queue fills up.
func (s *Scheduler) RequeueStale(ctx context.Context, olderThan time.Duration) (int, error) {
	stale, err := s.runs.StaleRuns(ctx, olderThan)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, rec := range stale {
		err := s.jobs.Enqueue(queue.NewJob(rec.ID, queue.SourceRecovery))
		if errors.Is(err, queue.ErrQueueFull) || errors.Is(err, queue.ErrStopped) {
			s.log.WithError(err).Warn("recovery paused; remaining stale runs wait for the next sweep")
			break
		}
		if err != nil {
			return requeued, err
		}
		requeued++
		s.log.WithFields(logrus.Fields{
			"audio_id":   rec.ID,
			"updated_at": rec.UpdatedAt,
		}).Warn("requeued stale pipeline run")
	}
	return requeued, nil
}

// CleanTemp removes files older than TempMaxAge from the temp directory and
// returns how many were deleted.
func (s *Scheduler) CleanTemp() int {
	if s.opts.TempDir == "" || s.opts.TempMaxAge <= 0 {
		return 0
	}
	now := s.now()

	var deletedCount int
	var deletedSize int64

	err := filepath.Walk(s.opts.TempDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip files we can't access
		}
		if info.IsDir() {
			return nil
		}

		age := now.Sub(info.ModTime())
		if age <= s.opts.TempMaxAge {
			return nil
		}
		size := info.Size()
		if err := os.Remove(path); err != nil {
			s.log.WithError(err).Warnf("Failed to delete old file %s", path)
			return nil
		}
		deletedCount++
		deletedSize += size
		s.log.Debugf("Deleted old temp file: %s (age: %s, size: %dKB)",
			filepath.Base(path), age.Round(time.Hour), size/1024)
		return nil
	})
	if err != nil {
		s.log.WithError(err).Error("Error during cleanup")
	}

	if deletedCount > 0 {
		s.log.Infof("Cleanup complete: %d files deleted, %.2fMB freed",
			deletedCount, float64(deletedSize)/(1024*1024))
	}
	return deletedCount
}

// EnsureDirs creates the given directories if they don't exist
func EnsureDirs(dirs ...string) error {
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

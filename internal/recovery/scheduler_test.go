package recovery

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/codebuildervaibhav/speech-insights/internal/queue"
	"github.com/codebuildervaibhav/speech-insights/internal/types"
)

type fakeRuns struct {
	records []types.AudioRecord
	asked   []time.Duration
	err     error
}

func (f *fakeRuns) StaleRuns(ctx context.Context, olderThan time.Duration) ([]types.AudioRecord, error) {
	f.asked = append(f.asked, olderThan)
	return f.records, f.err
}

type fakeQueue struct {
	jobs  []*queue.Job
	limit int
}

func (f *fakeQueue) Enqueue(job *queue.Job) error {
	if f.limit > 0 && len(f.jobs) >= f.limit {
		return queue.ErrQueueFull
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func newScheduler(t *testing.T, opts Options, runs StaleLister, jobs Enqueuer) *Scheduler {
	log, _ := test.NewNullLogger()
	return NewScheduler(opts, runs, jobs, log.WithField("test", t.Name()))
}

func TestRequeueStale(t *testing.T) {
	runs := &fakeRuns{records: []types.AudioRecord{{ID: 3}, {ID: 9}}}
	jobs := &fakeQueue{}
	s := newScheduler(t, Options{StaleAfter: 30 * time.Minute}, runs, jobs)

	n, err := s.RequeueStale(context.Background(), 30*time.Minute)
	if err != nil {
		t.Fatalf("RequeueStale: %v", err)
	}
	if n != 2 || len(jobs.jobs) != 2 {
		t.Fatalf("requeued %d (%d jobs), want 2", n, len(jobs.jobs))
	}
	for i, want := range []int64{3, 9} {
		if jobs.jobs[i].AudioID != want || jobs.jobs[i].Source != queue.SourceRecovery {
			t.Errorf("job %d = %d/%s, want %d/recovery", i, jobs.jobs[i].AudioID, jobs.jobs[i].Source, want)
		}
	}
}

func TestRequeueStaleStopsWhenQueueFull(t *testing.T) {
	runs := &fakeRuns{records: []types.AudioRecord{{ID: 1}, {ID: 2}, {ID: 3}}}
	jobs := &fakeQueue{limit: 1}
	s := newScheduler(t, Options{}, runs, jobs)

	n, err := s.RequeueStale(context.Background(), time.Minute)
	if err != nil {
		t.Fatalf("RequeueStale: %v", err)
	}
	if n != 1 {
		t.Errorf("requeued %d, want 1", n)
	}
}

func TestRequeueStaleListError(t *testing.T) {
	runs := &fakeRuns{err: errors.New("db down")}
	s := newScheduler(t, Options{}, runs, &fakeQueue{})
	if _, err := s.RequeueStale(context.Background(), time.Minute); err == nil {
		t.Error("RequeueStale swallowed list error")
	}
}

func TestStartRequeuesEverythingOnRestart(t *testing.T) {
	runs := &fakeRuns{}
	s := newScheduler(t, Options{StaleAfter: 30 * time.Minute, Interval: time.Hour, RequeueOnStart: true}, runs, &fakeQueue{})
	s.Start(context.Background())
	s.Stop()

	if len(runs.asked) != 1 || runs.asked[0] != 0 {
		t.Errorf("initial sweep asked for %v, want [0]", runs.asked)
	}
}

func TestStopTwice(t *testing.T) {
	s := newScheduler(t, Options{Interval: time.Hour}, &fakeRuns{}, &fakeQueue{})
	s.Start(context.Background())
	s.Stop()
	s.Stop()
}

func TestCleanTemp(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old.wav")
	fresh := filepath.Join(dir, "nested", "fresh.wav")
	if err := os.MkdirAll(filepath.Dir(fresh), 0755); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{old, fresh} {
		if err := os.WriteFile(p, []byte("pcm"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatal(err)
	}

	s := newScheduler(t, Options{TempDir: dir, TempMaxAge: 24 * time.Hour}, &fakeRuns{}, &fakeQueue{})
	if n := s.CleanTemp(); n != 1 {
		t.Errorf("deleted %d files, want 1", n)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("old file still present")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Errorf("fresh file removed: %v", err)
	}
}

func TestEnsureDirs(t *testing.T) {
	base := t.TempDir()
	a, b := filepath.Join(base, "a"), filepath.Join(base, "b", "c")
	if err := EnsureDirs(a, "", b); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}
	for _, d := range []string{a, b} {
		if info, err := os.Stat(d); err != nil || !info.IsDir() {
			t.Errorf("%s not created", d)
		}
	}
}

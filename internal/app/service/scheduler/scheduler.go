package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/fatflowers/knightly/pkg/config"
	"github.com/fatflowers/knightly/pkg/logctx"
	"github.com/fatflowers/knightly/pkg/metrics"
	"github.com/fatflowers/knightly/pkg/tool"
)

var (
	ErrUnknownJob = errors.New("unknown job")
	ErrJobRunning = errors.New("job is already running")
)

// JobFunc is one idempotent maintenance pass.
type JobFunc func(ctx context.Context) error

type Job struct {
	Name        string
	Spec        string
	Description string
	Run         JobFunc
}

// JobStatus is the bookkeeping of a registered job.
type JobStatus struct {
	Name           string     `json:"name"`
	Description    string     `json:"description"`
	Spec           string     `json:"spec"`
	Disabled       bool       `json:"disabled"`
	Running        bool       `json:"running"`
	Runs           int64      `json:"runs"`
	Failures       int64      `json:"failures"`
	LastRunID      string     `json:"last_run_id,omitempty"`
	LastStartedAt  *time.Time `json:"last_started_at,omitempty"`
	LastDurationMs int64      `json:"last_duration_ms"`
	LastError      string     `json:"last_error,omitempty"`
}

type entry struct {
	job    Job
	status JobStatus
}

// Scheduler is the registry of named jobs. Every run, whether fired by cron
// or requested by an operator, goes through execute.
type Scheduler struct {
	log       *zap.SugaredLogger
	metrics   *metrics.Recorder
	timeout   time.Duration
	overrides map[string]config.JobConfig

	mu      sync.Mutex
	order   []string
	entries map[string]*entry
}

func New(cfg *config.Config, log *zap.SugaredLogger, rec *metrics.Recorder) *Scheduler {
	return &Scheduler{
		log:       log,
		metrics:   rec,
		timeout:   cfg.Scheduler.JobTimeout,
		overrides: cfg.Scheduler.Jobs,
		entries:   make(map[string]*entry),
	}
}

// Register adds a job, applying any configured spec override.
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" || job.Run == nil {
		return errors.New("job needs a name and a run function")
	}
	spec, disabled := job.Spec, false
	if o, ok := s.overrides[job.Name]; ok {
		if o.Spec != "" {
			spec = o.Spec
		}
		disabled = o.Disabled
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("job %s: invalid spec %q: %w", job.Name, spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[job.Name]; ok {
		return fmt.Errorf("job %s registered twice", job.Name)
	}
	s.entries[job.Name] = &entry{
		job:    job,
		status: JobStatus{Name: job.Name, Description: job.Description, Spec: spec, Disabled: disabled},
	}
	s.order = append(s.order, job.Name)
	return nil
}

// Jobs returns a copy of every job's status in registration order.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.entries[name].status)
	}
	return out
}

func (s *Scheduler) Status(name string) (JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return JobStatus{}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return e.status, nil
}

// RunJob runs one job synchronously and returns its error. Disabled jobs can
// still be run by name.
func (s *Scheduler) RunJob(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.execute(ctx, e)
}

// scheduled returns the entries cron should fire.
func (s *Scheduler) scheduled() []*entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*entry
	for _, name := range s.order {
		if e := s.entries[name]; !e.status.Disabled {
			out = append(out, e)
		}
	}
	return out
}

func (s *Scheduler) begin(e *entry, runID string, started time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.status.Running {
		return false
	}
	e.status.Running = true
	e.status.LastRunID = runID
	e.status.LastStartedAt = &started
	return true
}

func (s *Scheduler) end(e *entry, elapsed time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.status.Running = false
	e.status.Runs++
	e.status.LastDurationMs = elapsed.Milliseconds()
	e.status.LastError = ""
	if err != nil {
		e.status.Failures++
		e.status.LastError = err.Error()
	}
}

// execute runs e under the job timeout with a job-scoped logger. A panic is
// converted into the returned error.
func (s *Scheduler) execute(ctx context.Context, e *entry) (err error) {
	runID := tool.ShortID()
	started := time.Now()
	if !s.begin(e, runID, started) {
		return fmt.Errorf("%s: %w", e.job.Name, ErrJobRunning)
	}

	ctx, log := logctx.With(ctx, s.log, "job", e.job.Name, "run_id", runID)
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	log.Infow("job started")
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job %s panicked: %v", e.job.Name, p)
			log.Errorw("job panicked", "panic", p, "stack", string(debug.Stack()))
		}
		elapsed := time.Since(started)
		s.end(e, elapsed, err)
		s.metrics.JobRun(e.job.Name, err == nil, elapsed)
		if err != nil {
			log.Errorw("job failed", "elapsed_ms", elapsed.Milliseconds(), "err", err)
			return
		}
		log.Infow("job finished", "elapsed_ms", elapsed.Milliseconds())
	}()

	return e.job.Run(ctx)
}

// Package scheduler runs the worker's background jobs on cron schedules.
// A job never overlaps itself, whether it was started by its schedule or by
// RunNow.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/learnpath/learnpath-core/pkg/logger"
)

var (
	ErrNilJob                  = errors.New("job cannot be nil")
	ErrInvalidSpec             = errors.New("invalid cron spec")
	ErrJobAlreadyExists        = errors.New("job already exists")
	ErrJobNotFound             = errors.New("job not found")
	ErrJobBusy                 = errors.New("job is already running")
	ErrSchedulerAlreadyRunning = errors.New("scheduler is already running")
	ErrSchedulerNotRunning     = errors.New("scheduler is not running")
)

// Job is one unit of background work. Run receives a context that ends when
// the scheduler stops or the job timeout elapses.
type Job interface {
	Name() string
	Description() string
	Run(ctx context.Context) error
}

// Run describes one finished execution.
type Run struct {
	Job      string
	Started  time.Time
	Duration time.Duration
	Err      error
	Manual   bool
}

func (r Run) OK() bool { return r.Err == nil }

// Status is a registered job as seen from outside.
type Status struct {
	Name     string
	Spec     string
	Next     time.Time
	Runs     int64
	Failures int64
	Last     *Run
}

type entry struct {
	job  Job
	spec string
	id   cron.EntryID
	busy sync.Mutex

	// guarded by Scheduler.mu
	runs, failures int64
	last           *Run
}

type Config struct {
	Logger *logger.Logger
	// Location evaluates cron specs. Default UTC.
	Location *time.Location
	// JobTimeout bounds one run; zero leaves it unbounded.
	JobTimeout time.Duration
}

type Scheduler struct {
	cron    *cron.Cron
	log     *logger.Logger
	timeout time.Duration
	stop    context.Context
	cancel  context.CancelFunc

	mu      sync.RWMutex
	entries map[string]*entry
	running bool
}

func New(cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	log := cfg.Logger.Named("scheduler")
	stop, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(cfg.Location),
			cron.WithLogger(cronLogger{log}),
			cron.WithChain(cron.Recover(cronLogger{log})),
		),
		log:     log,
		timeout: cfg.JobTimeout,
		stop:    stop,
		cancel:  cancel,
		entries: make(map[string]*entry),
	}
}

// Register schedules job with a five-field cron spec or a descriptor such as
// "@every 5m".
func (s *Scheduler) Register(job Job, spec string) error {
	if job == nil {
		return ErrNilJob
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, ok := s.entries[name]; ok {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}
	e := &entry{job: job, spec: spec}
	id, err := s.cron.AddFunc(spec, func() {
		if _, err := s.run(s.stop, e, false); errors.Is(err, ErrJobBusy) {
			s.log.Warn("previous run still active, tick skipped", logger.String("job", name))
		}
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidSpec, spec, err)
	}
	e.id = id
	s.entries[name] = e

	s.log.Info("job registered",
		logger.String("job", name),
		logger.String("spec", spec),
		logger.String("description", job.Description()),
	)
	return nil
}

func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrSchedulerAlreadyRunning
	}
	s.running = true
	s.cron.Start()
	s.log.Info("scheduler started", logger.Int("jobs", len(s.entries)))
	return nil
}

// Stop cancels running jobs and waits for them until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	select {
	case <-s.cron.Stop().Done():
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// RunNow runs the named job outside its schedule. It fails with ErrJobBusy
// while a scheduled run is in progress.
func (s *Scheduler) RunNow(ctx context.Context, name string) (Run, error) {
	s.mu.RLock()
	e, ok := s.entries[name]
	s.mu.RUnlock()
	if !ok {
		return Run{}, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return s.run(ctx, e, true)
}

func (s *Scheduler) run(ctx context.Context, e *entry, manual bool) (Run, error) {
	if !e.busy.TryLock() {
		return Run{}, fmt.Errorf("%w: %s", ErrJobBusy, e.job.Name())
	}
	defer e.busy.Unlock()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	r := Run{Job: e.job.Name(), Started: time.Now(), Manual: manual}
	r.Err = e.job.Run(ctx)
	r.Duration = time.Since(r.Started)

	s.mu.Lock()
	e.runs++
	if r.Err != nil {
		e.failures++
	}
	e.last = &r
	s.mu.Unlock()

	if r.Err != nil {
		s.log.Error("job failed", logger.String("job", r.Job), logger.Latency(r.Duration), logger.Err(r.Err))
	} else {
		s.log.Info("job completed", logger.String("job", r.Job), logger.Latency(r.Duration), logger.Bool("manual", manual))
	}
	return r, r.Err
}

// Jobs reports every registered job.
func (s *Scheduler) Jobs() []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Status, 0, len(s.entries))
	for name, e := range s.entries {
		out = append(out, Status{
			Name:     name,
			Spec:     e.spec,
			Next:     s.cron.Entry(e.id).Next,
			Runs:     e.runs,
			Failures: e.failures,
			Last:     e.last,
		})
	}
	return out
}

// cronLogger routes cron's own messages into zap.
type cronLogger struct{ log *logger.Logger }

func (l cronLogger) Info(msg string, kv ...any) { l.log.Zap().Sugar().Debugw(msg, kv...) }

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Zap().Sugar().Errorw(msg, append(kv, "error", err)...)
}

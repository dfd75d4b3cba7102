// Package schedule runs periodic maintenance jobs on cron specs.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is a named unit of periodic work.
type Job struct {
	Name string
	// Spec is a standard five-field cron expression. Empty disables the job.
	Spec string
	Run  func(ctx context.Context) error
}

// Scheduler runs jobs on their cron specs. A job that is still running when
// its next tick fires is skipped for that tick.
type Scheduler struct {
	cron   *cron.Cron
	jobs   map[string]Job
	logger zerolog.Logger

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a Scheduler for jobs. Duplicate names are an error.
func New(jobs []Job, logger zerolog.Logger) (*Scheduler, error) {
	logger = logger.With().Str("component", "schedule").Logger()
	s := &Scheduler{
		jobs:   make(map[string]Job, len(jobs)),
		logger: logger,
	}
	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger})), cron.WithLogger(cronLogger{logger}))

	for _, j := range jobs {
		if j.Name == "" || j.Run == nil {
			return nil, errors.New("job needs a name and a run function")
		}
		if _, dup := s.jobs[j.Name]; dup {
			return nil, fmt.Errorf("duplicate job %q", j.Name)
		}
		s.jobs[j.Name] = j
	}
	return s, nil
}

// Start registers every enabled job and starts the cron loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("scheduler already running")
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	for _, name := range s.names() {
		j := s.jobs[name]
		if j.Spec == "" {
			s.logger.Debug().Str("job", j.Name).Msg("job disabled")
			continue
		}
		if _, err := s.cron.AddFunc(j.Spec, func() { _ = s.run(s.ctx, j) }); err != nil {
			s.cancel()
			return fmt.Errorf("schedule %s %q: %w", j.Name, j.Spec, err)
		}
		s.logger.Info().Str("job", j.Name).Str("spec", j.Spec).Msg("job scheduled")
	}

	s.cron.Start()
	s.running = true
	return nil
}

// Stop stops the cron loop and cancels running jobs. The returned context is
// done once running jobs have returned.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	s.running = false
	s.cancel()
	s.logger.Info().Msg("stopping scheduler")
	return s.cron.Stop()
}

// RunNow runs the named job synchronously.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	j, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	return s.run(ctx, j)
}

// Names returns the registered job names, sorted.
func (s *Scheduler) Names() []string {
	return s.names()
}

func (s *Scheduler) names() []string {
	out := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *Scheduler) run(ctx context.Context, j Job) error {
	start := time.Now()
	s.logger.Debug().Str("job", j.Name).Msg("job started")
	if err := j.Run(ctx); err != nil {
		s.logger.Error().Err(err).Str("job", j.Name).Msg("job failed")
		return err
	}
	s.logger.Info().Str("job", j.Name).Dur("duration", time.Since(start)).Msg("job completed")
	return nil
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	l zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

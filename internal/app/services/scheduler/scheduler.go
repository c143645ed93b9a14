// Package scheduler runs periodic housekeeping jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/contactbook/internal/app/metrics"
	"github.com/R3E-Network/contactbook/internal/app/system"
	"github.com/R3E-Network/contactbook/pkg/logger"
)

var _ system.Service = (*Scheduler)(nil)

// JobFunc is the body of a scheduled job.
type JobFunc func(ctx context.Context) error

type job struct {
	name    string
	spec    string
	fn      JobFunc
	timeout time.Duration
}

// Scheduler owns a cron runner and the jobs registered on it.
type Scheduler struct {
	log  *logger.Logger
	jobs []job

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
}

// New creates an empty scheduler.
func New(log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewDefault("scheduler")
	}
	return &Scheduler{log: log}
}

func (s *Scheduler) Name() string { return "scheduler" }

// Add registers fn under spec. An empty spec skips the job so callers can
// pass configuration straight through.
func (s *Scheduler) Add(name, spec string, timeout time.Duration, fn JobFunc) error {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		s.log.WithField("job", name).Info("job disabled")
		return nil
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("job %s: invalid schedule %q: %w", name, spec, err)
	}
	if timeout <= 0 {
		timeout = time.Minute
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("job %s: scheduler already running", name)
	}
	s.jobs = append(s.jobs, job{name: name, spec: spec, fn: fn, timeout: timeout})
	return nil
}

// Jobs returns the names of registered jobs.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for _, j := range s.jobs {
		names = append(names, j.name)
	}
	return names
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New(
		cron.WithLogger(cronLogger{log: s.log}),
		cron.WithChain(cron.Recover(cronLogger{log: s.log}), cron.SkipIfStillRunning(cronLogger{log: s.log})),
	)
	for _, j := range s.jobs {
		j := j
		if _, err := c.AddFunc(j.spec, func() { s.run(runCtx, j) }); err != nil {
			cancel()
			return fmt.Errorf("schedule %s: %w", j.name, err)
		}
	}
	c.Start()

	s.cron = c
	s.cancel = cancel
	s.running = true
	s.log.Infof("scheduler started with %d jobs", len(s.jobs))
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c := s.cron
	cancel := s.cancel
	s.running = false
	s.cron = nil
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	stopped := c.Stop()

	select {
	case <-stopped.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.log.Info("scheduler stopped")
	return nil
}

// RunNow executes the named job immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	var found *job
	for i := range s.jobs {
		if s.jobs[i].name == name {
			found = &s.jobs[i]
			break
		}
	}
	s.mu.Unlock()

	if found == nil {
		return fmt.Errorf("job %s not registered", name)
	}
	return s.run(ctx, *found)
}

func (s *Scheduler) run(ctx context.Context, j job) error {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	start := time.Now()
	err := j.fn(ctx)
	metrics.RecordJobRun(j.name, err == nil)

	entry := s.log.WithField("job", j.name).WithField("duration_ms", time.Since(start).Milliseconds())
	if err != nil {
		entry.WithError(err).Warn("scheduled job failed")
		return err
	}
	entry.Debug("scheduled job completed")
	return nil
}

type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithError(err).WithFields(fields(keysAndValues)).Error(msg)
}

func fields(kv []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return out
}

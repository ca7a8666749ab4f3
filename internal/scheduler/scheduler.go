// Package scheduler implements the cron-driven job runner described in
// spec.md §4.8. It is grounded on the ticker/functional-options shape of
// haasonsaas-nexus's internal/cron.Scheduler, collapsed to a single job
// kind: on each firing, run a skill to completion against a fixed
// message, write its output to a per-job log file when configured, and
// skip a firing outright if the previous run of that job is still in
// flight.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kadirpekel/agentgw/internal/config"
)

var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Runner executes a skill to completion against a fixed message, the
// same entry point interactive sessions use. The scheduler only needs
// this narrow slice of internal/service.Service, so it depends on an
// interface rather than importing that package directly.
type Runner interface {
	RunSkill(ctx context.Context, skillName, sessionID, message string) (string, error)
}

// job is one configured, parsed schedule paired with its run state.
type job struct {
	cfg      config.ScheduledJobConfig
	schedule cron.Schedule
	nextRun  time.Time

	mu      sync.Mutex
	running bool
}

// Scheduler polls its jobs once per tick and fires any whose nextRun
// has passed. It does not backfill missed firings: a job that was due
// while the scheduler was stopped simply waits for its next occurrence
// after Start.
type Scheduler struct {
	jobs   []*job
	runner Runner
	logger *slog.Logger
	logDir string
	tick   time.Duration
	now    func() time.Time

	stop chan struct{}
	wg   sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithNow overrides the scheduler's clock, for deterministic tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithTick overrides the polling interval. Defaults to one second.
func WithTick(d time.Duration) Option {
	return func(s *Scheduler) { s.tick = d }
}

// New builds a Scheduler from configuration. Disabled jobs and jobs
// with an invalid cron expression are rejected at construction time.
func New(cfg config.SchedulerConfig, runner Runner, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		runner: runner,
		logger: slog.Default(),
		logDir: cfg.LogDir,
		tick:   time.Second,
		now:    time.Now,
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, jc := range cfg.Jobs {
		if !jc.Enabled {
			continue
		}
		sched, err := parser.Parse(jc.Cron)
		if err != nil {
			return nil, fmt.Errorf("scheduler job %q: invalid cron expression %q: %w", jc.Name, jc.Cron, err)
		}
		j := &job{cfg: jc, schedule: sched}
		j.nextRun = sched.Next(s.now())
		s.jobs = append(s.jobs, j)
	}
	return s, nil
}

// Start begins polling for due jobs in the background. Stop ends it.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.loop()
}

// Stop halts polling. It does not wait for in-flight job runs to
// finish; those run to completion on their own goroutines.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.runDue()
		case <-s.stop:
			return
		}
	}
}

// runDue fires every job whose nextRun has passed, skipping any job
// still running from a previous firing.
func (s *Scheduler) runDue() {
	now := s.now()
	for _, j := range s.jobs {
		if now.Before(j.nextRun) {
			continue
		}
		j.nextRun = j.schedule.Next(now)

		j.mu.Lock()
		if j.running {
			j.mu.Unlock()
			s.logger.Warn("scheduler job still running, skipping firing", "job", j.cfg.Name)
			continue
		}
		j.running = true
		j.mu.Unlock()

		go s.runJob(j)
	}
}

// RunOnce synchronously fires every job regardless of schedule,
// respecting the overlapping-run guard. Intended for tests and manual
// triggering, not normal operation.
func (s *Scheduler) RunOnce(ctx context.Context) {
	now := s.now()
	for _, j := range s.jobs {
		j.nextRun = j.schedule.Next(now)

		j.mu.Lock()
		if j.running {
			j.mu.Unlock()
			continue
		}
		j.running = true
		j.mu.Unlock()
		s.runJobCtx(ctx, j)
	}
}

func (s *Scheduler) runJob(j *job) {
	s.runJobCtx(context.Background(), j)
}

func (s *Scheduler) runJobCtx(ctx context.Context, j *job) {
	defer func() {
		j.mu.Lock()
		j.running = false
		j.mu.Unlock()
	}()

	sessionID := fmt.Sprintf("job-%s-%d", j.cfg.Name, s.now().UnixNano())
	output, err := s.runner.RunSkill(ctx, j.cfg.SkillName, sessionID, j.cfg.Message)
	if err != nil {
		s.logger.Error("scheduler job failed", "job", j.cfg.Name, "error", err)
	} else {
		s.logger.Info("scheduler job completed", "job", j.cfg.Name)
	}

	if j.cfg.LogOutput {
		s.writeLog(j, output, err)
	}
}

func (s *Scheduler) writeLog(j *job, output string, runErr error) {
	if s.logDir == "" {
		return
	}
	if err := os.MkdirAll(s.logDir, 0o755); err != nil {
		s.logger.Error("create scheduler log dir", "dir", s.logDir, "error", err)
		return
	}
	name := fmt.Sprintf("%s-%d.log", j.cfg.Name, s.now().UnixNano())
	path := filepath.Join(s.logDir, name)

	content := output
	if runErr != nil {
		content = fmt.Sprintf("%s\n[error: %s]\n", output, runErr)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		s.logger.Error("write scheduler log", "path", path, "error", err)
	}
}

// Status summarizes one job's schedule state, for GET /daemon/status.
type Status struct {
	Name    string    `json:"name"`
	NextRun time.Time `json:"next_run"`
	Running bool      `json:"running"`
}

// Statuses returns a point-in-time snapshot of every configured job.
func (s *Scheduler) Statuses() []Status {
	out := make([]Status, 0, len(s.jobs))
	for _, j := range s.jobs {
		j.mu.Lock()
		out = append(out, Status{Name: j.cfg.Name, NextRun: j.nextRun, Running: j.running})
		j.mu.Unlock()
	}
	return out
}

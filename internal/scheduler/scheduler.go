package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/sirupsen/logrus"
)

// Job is one run of a program step.
type Job func(ctx context.Context) error

// Run is the outcome of the latest execution of a job.
type Run struct {
	Name      string        `json:"name"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// Scheduler repeats jobs on a fixed interval. A job never overlaps with
// its own previous run.
type Scheduler struct {
	cron *gocron.Scheduler
	ctx  context.Context
	log  logrus.FieldLogger

	mu   sync.Mutex
	last map[string]Run
}

// New creates a scheduler whose jobs run with ctx.
func New(ctx context.Context, log logrus.FieldLogger) *Scheduler {
	cron := gocron.NewScheduler(time.Local)
	cron.SingletonModeAll()

	return &Scheduler{
		cron: cron,
		ctx:  ctx,
		log:  log.WithField("component", "scheduler"),
		last: make(map[string]Run),
	}
}

// Add registers job to run now and then every interval.
func (s *Scheduler) Add(name string, every time.Duration, job Job) error {
	if every <= 0 {
		return fmt.Errorf("scheduler: job %s needs a positive interval, got %s", name, every)
	}

	_, err := s.cron.Every(every).Name(name).StartImmediately().Do(func() {
		s.run(name, job)
	})
	if err != nil {
		return fmt.Errorf("scheduler: add %s: %w", name, err)
	}
	return nil
}

func (s *Scheduler) run(name string, job Job) {
	if s.ctx.Err() != nil {
		return
	}

	started := time.Now()
	s.log.Debugf("Running %s", name)
	err := job(s.ctx)

	r := Run{Name: name, StartedAt: started, Duration: time.Since(started)}
	if err != nil {
		r.Error = err.Error()
		s.log.WithError(err).Errorf("%s failed", name)
	}

	s.mu.Lock()
	s.last[name] = r
	s.mu.Unlock()
}

// LastRuns returns the latest run of every job that ran at least once.
func (s *Scheduler) LastRuns() []Run {
	s.mu.Lock()
	defer s.mu.Unlock()

	runs := make([]Run, 0, len(s.last))
	for _, r := range s.last {
		runs = append(runs, r)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].Name < runs[j].Name })
	return runs
}

func (s *Scheduler) Start() {
	s.cron.StartAsync()
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

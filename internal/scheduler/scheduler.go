// Package scheduler wraps robfig/cron for the simulation core's background
// maintenance jobs and keeps per-job run telemetry. The only
// calendar-driven goroutine outside the kernel tick loop runs here; jobs
// never touch live game objects.
package scheduler

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is a named unit of scheduled work.
type Job interface {
	Run() error
	Name() string
}

// JobStats is the recorded outcome history of one registered job, exposed
// so operators can see whether maintenance (e.g. the task-archive sweep)
// is actually running and how it is faring.
type JobStats struct {
	Runs         int
	Failures     int
	LastRun      time.Time
	LastDuration time.Duration
	LastError    string
}

// Scheduler manages background maintenance jobs.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger

	mu    sync.Mutex
	stats map[string]JobStats
}

// New creates a scheduler with seconds-resolution cron expressions.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:  cron.New(cron.WithSeconds()),
		log:   log.With().Str("component", "scheduler").Logger(),
		stats: make(map[string]JobStats),
	}
}

// Start begins running registered jobs on their schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("scheduler started")
}

// Stop halts the scheduler, waiting for any running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("scheduler stopped")
}

// AddJob registers job on a cron schedule ("@every 30s", "0 */5 * * * *", ...).
// Every run is timed and recorded in the job's stats. Job errors are
// logged and counted, never propagated; a failing sweep retries on its
// next scheduled run.
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		started := time.Now()
		runErr := job.Run()
		s.record(job.Name(), started, time.Since(started), runErr)

		if runErr != nil {
			s.log.Error().Err(runErr).Str("job", job.Name()).Msg("job failed")
		}
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.stats[job.Name()] = JobStats{}
	s.mu.Unlock()

	s.log.Info().Str("schedule", schedule).Str("job", job.Name()).Msg("job registered")
	return nil
}

// Stats returns the recorded history for a job name, and whether the job
// is registered at all.
func (s *Scheduler) Stats(name string) (JobStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[name]
	return st, ok
}

func (s *Scheduler) record(name string, started time.Time, elapsed time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stats[name]
	st.Runs++
	st.LastRun = started
	st.LastDuration = elapsed
	if err != nil {
		st.Failures++
		st.LastError = err.Error()
	} else {
		st.LastError = ""
	}
	s.stats[name] = st
}

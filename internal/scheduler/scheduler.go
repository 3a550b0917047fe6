package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"

	"github.com/dreamware/shardtopo/internal/cluster"
)

const (
	DefaultMaxCopies     = 30
	DefaultCopiesPerHost = 8
	DefaultPollInterval  = 5 * time.Second

	// ticksPerPoll is the number of observer ticks between two polls.
	ticksPerPoll = 12
)

// ErrStalled is returned in dry-run mode when a round neither starts nor
// finishes a job. Outside a dry run the scheduler waits for busy shards to
// drain instead.
var ErrStalled = errors.New("scheduler made no progress")

// Options tunes admission control.
type Options struct {
	// MaxCopies bounds the number of busy shards across the fleet. Each round
	// admits at most MaxCopies minus the current busy count jobs.
	MaxCopies int
	// CopiesPerHost bounds the busy shards on one host. A host whose busy
	// shards plus jobs admitted this round reach it takes no further jobs.
	CopiesPerHost int
	PollInterval  time.Duration
	// Observer, when set, is called on every tick between polls.
	Observer Observer
}

// DefaultOptions returns the stock admission limits.
func DefaultOptions() Options {
	return Options{
		MaxCopies:     DefaultMaxCopies,
		CopiesPerHost: DefaultCopiesPerHost,
		PollInterval:  DefaultPollInterval,
	}
}

// Validate reports option values the scheduler cannot make progress with.
func (o Options) Validate() error {
	switch {
	case o.MaxCopies <= 0:
		return fmt.Errorf("max copies must be positive, got %d", o.MaxCopies)
	case o.CopiesPerHost <= 0:
		return fmt.Errorf("copies per host must be positive, got %d", o.CopiesPerHost)
	case o.PollInterval < 0:
		return fmt.Errorf("poll interval must not be negative, got %v", o.PollInterval)
	}
	return nil
}

// Scheduler drives a batch of jobs to completion against a live fleet. It
// runs one cooperative loop: reload the busy shards, clean up jobs whose
// copies are done, admit new jobs, then sleep until the next poll. The
// fleet's busy flag is the only signal of copy completion; there is no
// timeout on a running copy.
//
// A Scheduler is single use and not safe for concurrent use.
type Scheduler struct {
	fleet Fleet
	opts  Options
	runID string

	pending    []Job
	inProgress []Job
	finished   []Job
	busy       []cluster.ShardID

	ticks int
	sleep func(context.Context, time.Duration) error
}

// New returns a scheduler for jobs. Zero option fields take their defaults.
func New(fleet Fleet, jobs []Job, opts Options) *Scheduler {
	def := DefaultOptions()
	if opts.MaxCopies == 0 {
		opts.MaxCopies = def.MaxCopies
	}
	if opts.CopiesPerHost == 0 {
		opts.CopiesPerHost = def.CopiesPerHost
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = def.PollInterval
	}
	return &Scheduler{
		fleet:   fleet,
		opts:    opts,
		runID:   uuid.NewString(),
		pending: append([]Job(nil), jobs...),
		sleep:   sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunID identifies this run in log lines.
func (s *Scheduler) RunID() string { return s.runID }

// Pending returns the jobs not yet started.
func (s *Scheduler) Pending() []Job { return append([]Job(nil), s.pending...) }

// InProgress returns the started jobs awaiting cleanup.
func (s *Scheduler) InProgress() []Job { return append([]Job(nil), s.inProgress...) }

// Finished returns the cleaned up jobs in completion order.
func (s *Scheduler) Finished() []Job { return append([]Job(nil), s.finished...) }

func (s *Scheduler) logf(format string, args ...interface{}) {
	log.Printf("scheduler %s: "+format, append([]interface{}{s.runID}, args...)...)
}

// Run applies every job and returns once all are finished, a job step
// fails, or ctx is done. A final ReloadConfig is broadcast on success.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.opts.Validate(); err != nil {
		return err
	}
	s.logf("applying %d jobs (max copies %d, copies per host %d)", len(s.pending), s.opts.MaxCopies, s.opts.CopiesPerHost)

	for {
		if err := s.reloadBusyShards(ctx); err != nil {
			return err
		}
		cleaned, err := s.cleanupJobs(ctx)
		if err != nil {
			return err
		}
		started, err := s.scheduleJobs(ctx, s.opts.MaxCopies-len(s.busy))
		if err != nil {
			return err
		}

		if len(s.pending) == 0 && len(s.inProgress) == 0 {
			break
		}

		if s.fleet.DryRun() {
			if cleaned == 0 && started == 0 {
				return fmt.Errorf("%w: %d jobs pending", ErrStalled, len(s.pending))
			}
			continue
		}
		for i := 0; i < ticksPerPoll; i++ {
			if err := s.sleep(ctx, s.opts.PollInterval/ticksPerPoll); err != nil {
				return err
			}
			s.tick()
		}
	}

	if err := s.fleet.ReloadConfig(ctx); err != nil {
		return fmt.Errorf("final reload config: %w", err)
	}
	s.logf("all transformations applied")
	return nil
}

// reloadBusyShards refreshes the busy snapshot. It runs once per loop
// iteration, before completion is evaluated. In a dry run nothing is busy.
func (s *Scheduler) reloadBusyShards(ctx context.Context) error {
	s.busy = nil
	if s.fleet.DryRun() {
		return nil
	}
	infos, err := s.fleet.GetBusyShards(ctx)
	if err != nil {
		return fmt.Errorf("get busy shards: %w", err)
	}
	s.busy = make([]cluster.ShardID, len(infos))
	for i, info := range infos {
		s.busy[i] = info.ID
	}
	return nil
}

// busyHosts returns the hosts at their copy ceiling, counting one copy per
// busy shard plus one per entry of extra.
func (s *Scheduler) busyHosts(extra []string) map[string]bool {
	counts := make(map[string]int)
	for _, h := range extra {
		counts[h]++
	}
	for _, id := range s.busy {
		counts[id.Hostname]++
	}
	out := make(map[string]bool)
	for h, n := range counts {
		if n >= s.opts.CopiesPerHost {
			out[h] = true
		}
	}
	return out
}

// scheduleJobs admits up to n pending jobs whose hosts are below their
// ceiling, prepares them, reloads the fleet config once, then starts the
// copies. It returns the number of jobs started. A job counts as in progress
// once prepared; when a prepare fails, that job and the ones after it go back
// to the front of the pending list.
func (s *Scheduler) scheduleJobs(ctx context.Context, n int) (int, error) {
	var reserved []string
	var jobs []Job
	for len(jobs) < n {
		disqualified := s.busyHosts(reserved)
		i := slices.IndexFunc(s.pending, func(j Job) bool {
			return !slices.ContainsFunc(j.InvolvedHosts(), func(h string) bool { return disqualified[h] })
		})
		if i < 0 {
			break
		}
		job := s.pending[i]
		reserved = append(reserved, job.InvolvedHosts()...)
		s.pending = slices.Delete(s.pending, i, i+1)
		jobs = append(jobs, job)
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	s.logf("jobs starting:")
	for _, j := range jobs {
		s.logf("  %s", j.Describe(PhasePrepare))
	}
	for i, j := range jobs {
		if err := j.Prepare(ctx, s.fleet); err != nil {
			s.pending = append(slices.Clone(jobs[i:]), s.pending...)
			return 0, fmt.Errorf("%s: %w", j.Describe(PhasePrepare), err)
		}
		s.inProgress = append(s.inProgress, j)
	}

	s.logf("reloading shard manager configuration")
	if err := s.fleet.ReloadConfig(ctx); err != nil {
		return 0, fmt.Errorf("reload config: %w", err)
	}

	copying := false
	for _, j := range jobs {
		if !j.CopyRequired() {
			continue
		}
		if !copying {
			s.logf("scheduling copies:")
			copying = true
		}
		s.logf("  %s", j.Describe(PhaseCopy))
		if err := j.Copy(ctx, s.fleet); err != nil {
			return 0, fmt.Errorf("%s: %w", j.Describe(PhaseCopy), err)
		}
	}

	return len(jobs), nil
}

// cleanupJobs finishes every in-progress job none of whose shards is in the
// current busy snapshot. It returns the number of jobs finished.
func (s *Scheduler) cleanupJobs(ctx context.Context) (int, error) {
	busy := make(map[cluster.ShardID]bool, len(s.busy))
	for _, id := range s.busy {
		busy[id] = true
	}

	var done, running []Job
	for _, j := range s.inProgress {
		if slices.ContainsFunc(j.InvolvedShards(), func(id cluster.ShardID) bool { return busy[id] }) {
			running = append(running, j)
		} else {
			done = append(done, j)
		}
	}
	if len(done) == 0 {
		return 0, nil
	}
	s.inProgress = running

	s.logf("jobs finishing:")
	for _, j := range done {
		s.logf("  %s", j.Describe(PhaseCleanup))
	}
	for _, j := range done {
		if err := j.Cleanup(ctx, s.fleet); err != nil {
			return 0, fmt.Errorf("%s: %w", j.Describe(PhaseCleanup), err)
		}
		s.finished = append(s.finished, j)
	}
	return len(done), nil
}

func (s *Scheduler) tick() {
	s.ticks++
	if s.opts.Observer == nil {
		return
	}
	s.opts.Observer(Progress{
		Tick:       s.ticks,
		Pending:    len(s.pending),
		InProgress: len(s.inProgress),
		Finished:   len(s.finished),
		BusyShards: len(s.busy),
	})
}

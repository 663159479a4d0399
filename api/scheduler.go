/*
scheduler.go - Automated installment status re-evaluation

PURPOSE:
  Stored installment statuses are a cache of the last evaluation. As days
  pass, Pending installments become DueSoon and then Overdue without anyone
  touching them. This scheduler re-derives every status once a day so that
  list views and reports that read the stored status stay current.

DESIGN:
  - robfig/cron/v3 with a standard 5-field spec (default "15 2 * * *", UTC)
  - Overlapping runs are skipped, not queued, including the start-up run
  - Runs once immediately on start
  - Every transition is logged; the last result is kept for the admin UI

USAGE:
  scheduler := NewStatusScheduler(service, "15 2 * * *", logger)
  if err := scheduler.Start(); err != nil { ... }
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerReevaluation endpoint (manual run)
  - paymentplan/service.go: ReevaluateStatuses
*/
package api

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/warp/commission-engine/generic"
	"github.com/warp/commission-engine/paymentplan"
)

// DefaultReevaluationSpec runs the pass at 02:15 UTC every day.
const DefaultReevaluationSpec = "15 2 * * *"

// StatusScheduler runs Service.ReevaluateStatuses on a cron schedule.
type StatusScheduler struct {
	Service    *paymentplan.Service
	Spec       string
	Enabled    bool
	RunOnStart bool
	Timeout    time.Duration
	Logger     *slog.Logger
	Clock      func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	entry   cron.EntryID
	wg      sync.WaitGroup
	lastRun *paymentplan.ReevaluationResult
}

// NewStatusScheduler creates a new scheduler. An empty spec uses
// DefaultReevaluationSpec.
func NewStatusScheduler(svc *paymentplan.Service, spec string, logger *slog.Logger) *StatusScheduler {
	if spec == "" {
		spec = DefaultReevaluationSpec
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusScheduler{
		Service:    svc,
		Spec:       spec,
		Enabled:    true,
		RunOnStart: true,
		Timeout:    5 * time.Minute,
		Logger:     logger.With("component", "status-scheduler"),
		Clock:      time.Now,
	}
}

// Start registers the job and starts the cron loop. It is a no-op when the
// scheduler is disabled or already running.
func (s *StatusScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info("disabled, not starting")
		return nil
	}
	if s.cron != nil {
		return nil
	}

	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	entry, err := c.AddFunc(s.Spec, s.runScheduled)
	if err != nil {
		return fmt.Errorf("scheduler spec %q: %w", s.Spec, err)
	}
	s.cron = c
	s.entry = entry
	job := c.Entry(entry).WrappedJob
	c.Start()

	if s.RunOnStart {
		// Through the wrapped job so the first tick skips while this runs.
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			job.Run()
		}()
	}

	s.Logger.Info("started", "spec", s.Spec, "next_run", c.Entry(entry).Next)
	return nil
}

// Stop stops the cron loop and waits for a running pass to finish.
func (s *StatusScheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.wg.Wait()
	s.Logger.Info("stopped")
}

// RunNow triggers an immediate pass as of today (for testing/admin).
func (s *StatusScheduler) RunNow(ctx context.Context) (paymentplan.ReevaluationResult, error) {
	return s.run(ctx, generic.DateOf(s.now().UTC()))
}

// LastRun returns the result of the most recent pass, if any.
func (s *StatusScheduler) LastRun() (paymentplan.ReevaluationResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRun == nil {
		return paymentplan.ReevaluationResult{}, false
	}
	return *s.lastRun, true
}

// NextRunTime returns when the next scheduled pass will occur, or the zero
// time when the scheduler is not running.
func (s *StatusScheduler) NextRunTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return time.Time{}
	}
	return s.cron.Entry(s.entry).Next
}

func (s *StatusScheduler) now() time.Time {
	if s.Clock == nil {
		return time.Now()
	}
	return s.Clock()
}

func (s *StatusScheduler) runScheduled() {
	ctx := context.Background()
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	// Errors are logged by run.
	_, _ = s.RunNow(ctx)
}

func (s *StatusScheduler) run(ctx context.Context, asOf generic.Date) (paymentplan.ReevaluationResult, error) {
	start := s.now()
	result, err := s.Service.ReevaluateStatuses(ctx, asOf)

	for _, t := range result.Transitions {
		s.Logger.Info("status transition",
			"plan_id", t.PlanID,
			"installment_id", t.InstallmentID,
			"number", t.Number,
			"from", t.From,
			"to", t.To,
		)
	}
	if err != nil {
		s.Logger.Error("re-evaluation failed", "as_of", asOf, "error", err)
	}
	s.Logger.Info("re-evaluation completed",
		"as_of", asOf,
		"plans", result.PlansScanned,
		"transitions", len(result.Transitions),
		"duration", s.now().Sub(start),
	)

	s.mu.Lock()
	s.lastRun = &result
	s.mu.Unlock()
	return result, err
}

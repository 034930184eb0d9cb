package planner

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// runTimeout bounds one scheduled RunAll.
const runTimeout = 10 * time.Minute

// Scheduler calls RunAll on a cron spec. A tick that fires while the
// previous one is still running is skipped.
type Scheduler struct {
	cron   *cron.Cron
	svc    *Service
	spec   string
	logger zerolog.Logger
	ctx    context.Context
}

// NewScheduler parses spec (standard 5-field cron) in loc.
func NewScheduler(svc *Service, spec string, loc *time.Location, logger zerolog.Logger) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := &Scheduler{
		svc:    svc,
		spec:   spec,
		logger: logger.With().Str("component", "scheduler").Logger(),
		ctx:    context.Background(),
	}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("planner: cron spec %q: %w", spec, err)
	}
	return s, nil
}

// Start begins firing. Runs stop early when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	s.logger.Info().Str("spec", s.spec).Time("next", s.Next()).Msg("scheduler started")
}

// Stop stops firing and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("scheduler stopped")
}

// Next returns the next fire time, zero before Start.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(s.ctx, runTimeout)
	defer cancel()

	reports, err := s.svc.RunAll(ctx)
	if err != nil {
		s.logger.Error().Err(err).Int("owners_ok", len(reports)).Msg("scheduled run finished with errors")
		return
	}
	s.logger.Debug().Int("owners", len(reports)).Msg("scheduled run finished")
}

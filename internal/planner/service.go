// Package planner runs the scheduling engine against stored data: it loads an
// owner's blocks, items and previous placements, gathers busy time from
// calendar feeds and manual entries, solves, and writes the result back.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"dayplan/internal/config"
	"dayplan/internal/ics"
	"dayplan/internal/lock"
	"dayplan/internal/metrics"
	"dayplan/internal/model"
	"dayplan/internal/recur"
	"dayplan/internal/schedule"
	"dayplan/internal/store"
)

// RunReport is the outcome of one owner's run.
type RunReport struct {
	RunID       string              `json:"runId"`
	OwnerID     string              `json:"ownerId"`
	From        model.DayKey        `json:"from"`
	To          model.DayKey        `json:"to"`
	StartedAt   time.Time           `json:"startedAt"`
	FinishedAt  time.Time           `json:"finishedAt"`
	Placed      int                 `json:"placed"`
	Carried     int                 `json:"carried"`
	Stale       int                 `json:"stale"`
	Instances   []model.Instance    `json:"instances"`
	Unscheduled []model.Unscheduled `json:"unscheduled"`
	Conflicts   []model.Conflict    `json:"conflicts"`
	FeedErrors  []string            `json:"feedErrors,omitempty"`
}

// Service wires the engine to the store, feeds, lock and metrics.
type Service struct {
	cfg     *config.Config
	store   *store.Store
	locker  lock.Locker
	fetcher *ics.Fetcher
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

// New returns a Service. fetcher may be nil when no feeds are configured.
func New(cfg *config.Config, st *store.Store, locker lock.Locker, fetcher *ics.Fetcher, m *metrics.Metrics, logger zerolog.Logger) *Service {
	return &Service{
		cfg:     cfg,
		store:   st,
		locker:  locker,
		fetcher: fetcher,
		metrics: m,
		logger:  logger.With().Str("component", "planner").Logger(),
		now:     time.Now,
	}
}

// SetClock replaces the wall clock.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Window returns the planning window that starts today in the planning zone.
func (s *Service) Window() recur.Window {
	loc := s.cfg.Location()
	today := startOfDay(s.now().In(loc))
	days := s.cfg.HorizonDays
	if days < 1 {
		days = 1
	}
	return recur.Window{Start: today, End: today.AddDate(0, 0, days-1)}
}

// RunOwner plans one owner's window. It fails with lock.ErrLocked when a run
// for the same owner is already in progress.
func (s *Service) RunOwner(ctx context.Context, ownerID string) (*RunReport, error) {
	if ownerID == "" {
		return nil, errors.New("planner: owner id is empty")
	}
	release, err := s.locker.Acquire(ctx, ownerID)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			s.observe(metrics.RunOutcome{Result: metrics.ResultLocked})
		}
		return nil, fmt.Errorf("planner: owner %s: %w", ownerID, err)
	}
	defer release()

	started := s.now()
	report, err := s.run(ctx, ownerID, started)
	if err != nil {
		s.recordFailure(ctx, ownerID, started, err)
		return nil, err
	}
	return report, nil
}

func (s *Service) run(ctx context.Context, ownerID string, started time.Time) (*RunReport, error) {
	loc := s.cfg.Location()
	window := s.Window()
	from, to := model.DayKeyOf(window.Start), model.DayKeyOf(window.End)
	log := s.logger.With().Str("owner_id", ownerID).Str("from", string(from)).Str("to", string(to)).Logger()

	blocks, err := s.store.ListBlocks(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("planner: load blocks: %w", err)
	}
	items, err := s.store.LoadItems(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("planner: load items: %w", err)
	}
	existing, err := s.store.ListInstances(ctx, ownerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("planner: load instances: %w", err)
	}
	busy, feedErrs, err := s.collectBusy(ctx, ownerID, window, loc)
	if err != nil {
		return nil, err
	}

	occs := schedule.BuildOccurrences(items, schedule.BuildContext{
		OwnerID:  ownerID,
		Window:   window,
		Location: loc,
		DefaultPolicy: model.Policy{
			Mode:               model.ParsePolicyMode(s.cfg.Defaults.PolicyMode),
			GraceWindowMinutes: s.cfg.Defaults.GraceWindowMinutes,
		},
	})

	runID := uuid.NewString()
	res := schedule.Solve(schedule.Input{
		OwnerID:     ownerID,
		RunID:       runID,
		Now:         started.In(loc),
		Window:      window,
		Location:    loc,
		Blocks:      blocks,
		Occurrences: occs,
		Busy:        busy,
		Existing:    existing,
	})

	if err := s.store.SaveInstances(ctx, res.Instances); err != nil {
		return nil, fmt.Errorf("planner: save instances: %w", err)
	}
	removed, err := s.store.DeletePlanned(ctx, ownerID, res.StaleIDs)
	if err != nil {
		return nil, fmt.Errorf("planner: remove stale instances: %w", err)
	}

	report := &RunReport{
		RunID:       runID,
		OwnerID:     ownerID,
		From:        from,
		To:          to,
		StartedAt:   started,
		FinishedAt:  s.now(),
		Placed:      len(res.Instances) - len(res.ExistingIDs),
		Carried:     len(res.ExistingIDs),
		Stale:       int(removed),
		Instances:   res.Instances,
		Unscheduled: res.Unscheduled,
		Conflicts:   res.Conflicts,
		FeedErrors:  feedErrs,
	}

	doc, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("planner: encode report: %w", err)
	}
	if err := s.store.SaveRun(ctx, store.Run{
		ID:          runID,
		OwnerID:     ownerID,
		StartedAt:   report.StartedAt,
		FinishedAt:  report.FinishedAt,
		Placed:      report.Placed,
		Carried:     report.Carried,
		Unscheduled: len(report.Unscheduled),
		Conflicts:   len(report.Conflicts),
		Stale:       report.Stale,
		Report:      doc,
	}); err != nil {
		return nil, fmt.Errorf("planner: save run: %w", err)
	}

	s.observe(metrics.RunOutcome{
		Result:      metrics.ResultOK,
		Duration:    report.FinishedAt.Sub(report.StartedAt),
		Placed:      report.Placed,
		Carried:     report.Carried,
		Stale:       report.Stale,
		Unscheduled: report.Unscheduled,
		Conflicts:   report.Conflicts,
	})
	log.Info().
		Str("run_id", runID).
		Int("occurrences", len(occs)).
		Int("placed", report.Placed).
		Int("carried", report.Carried).
		Int("unscheduled", len(report.Unscheduled)).
		Int("conflicts", len(report.Conflicts)).
		Int("stale", report.Stale).
		Int("busy_intervals", len(busy)).
		Msg("plan run finished")
	return report, nil
}

// recordFailure keeps a history row for a run that did not finish.
func (s *Service) recordFailure(ctx context.Context, ownerID string, started time.Time, runErr error) {
	finished := s.now()
	s.observe(metrics.RunOutcome{Result: metrics.ResultError, Duration: finished.Sub(started)})
	s.logger.Error().Err(runErr).Str("owner_id", ownerID).Msg("plan run failed")

	err := s.store.SaveRun(ctx, store.Run{
		ID:         uuid.NewString(),
		OwnerID:    ownerID,
		StartedAt:  started,
		FinishedAt: finished,
		Error:      runErr.Error(),
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("owner_id", ownerID).Msg("record failed run")
	}
}

// collectBusy merges feed events and manual busy entries for the window.
// Feed failures are reported, not fatal; the cached copy is used when there
// is one.
func (s *Service) collectBusy(ctx context.Context, ownerID string, window recur.Window, loc *time.Location) ([]model.Interval, []string, error) {
	var (
		busy     []model.Interval
		feedErrs []string
	)

	feeds := s.cfg.FeedsFor(ownerID)
	if len(feeds) > 0 && s.fetcher != nil {
		sources := make([]ics.Source, 0, len(feeds))
		opts := make(map[string]ics.BusyOptions, len(feeds))
		for _, f := range feeds {
			sources = append(sources, ics.Source{ID: f.ID, Name: f.Name, URL: f.URL, OwnerID: f.OwnerID})
			opts[f.ID] = ics.BusyOptions{IncludeAllDay: f.IncludeAllDay}
		}

		results, errs := s.fetcher.FetchAll(ctx, sources)
		for _, err := range errs {
			s.observeFeed("error")
			feedErrs = append(feedErrs, err.Error())
		}
		for _, res := range results {
			if res.FromCache {
				s.observeFeed("cached")
			} else {
				s.observeFeed("fresh")
			}
			events, err := ics.ParseICS(res.Source, res.Body, loc)
			if err != nil {
				s.logger.Warn().Err(err).Str("feed_id", res.Source.ID).Msg("unparseable busy feed")
				feedErrs = append(feedErrs, fmt.Sprintf("feed %s: %v", res.Source.ID, err))
				continue
			}
			busy = append(busy, ics.ExpandBusy(events, window, loc, opts[res.Source.ID])...)
		}
	}

	start, end := window.Bounds(loc)
	manual, err := s.store.ListBusy(ctx, ownerID, start, end.Add(time.Nanosecond), loc)
	if err != nil {
		return nil, nil, fmt.Errorf("planner: load busy: %w", err)
	}
	busy = append(busy, manual...)
	sort.Slice(busy, func(i, j int) bool { return busy[i].Start.Before(busy[j].Start) })
	return busy, feedErrs, nil
}

// RunAll plans every owner named in the config or present in the store.
// Owners with a run already in progress are skipped; other failures are
// joined into the returned error while the remaining owners still run.
func (s *Service) RunAll(ctx context.Context) ([]*RunReport, error) {
	owners, err := s.Owners(ctx)
	if err != nil {
		return nil, err
	}

	var (
		reports []*RunReport
		errs    []error
	)
	for _, owner := range owners {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		report, err := s.RunOwner(ctx, owner)
		switch {
		case errors.Is(err, lock.ErrLocked):
			s.logger.Info().Str("owner_id", owner).Msg("run already in progress; skipped")
		case err != nil:
			errs = append(errs, err)
		default:
			reports = append(reports, report)
		}
	}
	return reports, errors.Join(errs...)
}

// Owners returns the sorted union of configured and stored owners.
func (s *Service) Owners(ctx context.Context) ([]string, error) {
	stored, err := s.store.ListOwners(ctx)
	if err != nil {
		return nil, fmt.Errorf("planner: list owners: %w", err)
	}
	seen := make(map[string]bool)
	var out []string
	for _, o := range append(append([]string(nil), s.cfg.Owners...), stored...) {
		if o == "" || seen[o] {
			continue
		}
		seen[o] = true
		out = append(out, o)
	}
	sort.Strings(out)
	return out, nil
}

// Unschedule deletes one instance so its occurrence is placed afresh by the
// next run. It takes the owner's lock so it never races a run.
func (s *Service) Unschedule(ctx context.Context, ownerID, instanceID string) error {
	release, err := s.locker.Acquire(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("planner: owner %s: %w", ownerID, err)
	}
	defer release()

	if err := s.store.DeleteInstance(ctx, ownerID, instanceID); err != nil {
		return err
	}
	s.logger.Info().Str("owner_id", ownerID).Str("instance_id", instanceID).Msg("instance unscheduled")
	return nil
}

// SetStatus records progress on an instance. Completed and skipped
// instances are kept by later runs.
func (s *Service) SetStatus(ctx context.Context, ownerID, instanceID string, status model.InstanceStatus) (model.Instance, error) {
	switch status {
	case model.InstancePlanned, model.InstanceCompleted, model.InstanceSkipped:
	default:
		return model.Instance{}, fmt.Errorf("planner: unknown instance status %q", status)
	}
	release, err := s.locker.Acquire(ctx, ownerID)
	if err != nil {
		return model.Instance{}, fmt.Errorf("planner: owner %s: %w", ownerID, err)
	}
	defer release()
	return s.store.SetInstanceStatus(ctx, ownerID, instanceID, status)
}

// Calendar renders owner's instances in [from, to] as an ICS document. Empty
// bounds default to the current window.
func (s *Service) Calendar(ctx context.Context, ownerID string, from, to model.DayKey) (string, error) {
	w := s.Window()
	if from == "" {
		from = model.DayKeyOf(w.Start)
	}
	if to == "" {
		to = model.DayKeyOf(w.End)
	}
	instances, err := s.store.ListInstances(ctx, ownerID, from, to)
	if err != nil {
		return "", err
	}
	return ics.ExportInstances("dayplan "+ownerID, instances, s.now()), nil
}

func (s *Service) observe(o metrics.RunOutcome) {
	if s.metrics != nil {
		s.metrics.ObserveRun(o)
	}
}

func (s *Service) observeFeed(result string) {
	if s.metrics != nil {
		s.metrics.ObserveFeed(result)
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

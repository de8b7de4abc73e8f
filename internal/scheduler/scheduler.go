// Package scheduler queues auto reconciliation jobs on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/bizledger/internal/jobs"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// BusinessLister finds businesses with bank records waiting for reconciliation.
type BusinessLister interface {
	BusinessesWithUnprocessed(ctx context.Context) ([]string, error)
}

type Scheduler struct {
	cron      *cron.Cron
	schedule  string
	location  *time.Location
	lister    BusinessLister
	publisher jobs.Publisher
	log       zerolog.Logger
}

// New validates the schedule and time zone. Nothing runs until Start.
func New(schedule, timezone string, lister BusinessLister, publisher jobs.Publisher, log zerolog.Logger) (*Scheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("scheduler: invalid timezone %q: %w", timezone, err)
	}

	s := &Scheduler{
		schedule:  schedule,
		location:  loc,
		lister:    lister,
		publisher: publisher,
		log:       log,
	}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("scheduler: unable to schedule auto reconciliation: %w", err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().
		Str("schedule", s.schedule).
		Str("timezone", s.location.String()).
		Msg("auto reconciliation scheduler started")
}

// Stop prevents new runs and returns a context that is done when the
// running one finishes.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	n, err := s.Tick(ctx)
	if err != nil {
		s.log.Error().Err(err).Int("queued", n).Msg("scheduled auto reconciliation failed")
		return
	}
	s.log.Info().Int("queued", n).Msg("scheduled auto reconciliation queued")
}

// Tick queues one job per business with unprocessed bank records and
// returns how many were queued.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	ids, err := s.lister.BusinessesWithUnprocessed(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing businesses: %w", err)
	}

	queued := 0
	for _, id := range ids {
		job := &jobs.AutoReconcileJob{BusinessID: id, Trigger: "schedule"}
		if err := s.publisher.PublishAutoReconcile(ctx, job); err != nil {
			return queued, fmt.Errorf("queueing business %s: %w", id, err)
		}
		queued++
	}
	return queued, nil
}

// Package jobs schedules the periodic maintenance work: the reservation
// expiry sweep and the daily prune of IoT data.
package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/iliyamo/parking-reservation/internal/iot"
)

// Default schedules in standard five-field cron syntax.
const (
	DefaultExpirySchedule = "*/5 * * * *"
	DefaultPruneSchedule  = "@daily"
	runTimeout            = 2 * time.Minute
)

// Expirer closes reservations whose window has ended.
type Expirer interface {
	ExpireReservations(ctx context.Context) (int, error)
}

// Pruner removes stale IoT documents.
type Pruner interface {
	Prune(ctx context.Context) (iot.PruneResult, error)
}

// Config holds the cron expressions. Empty fields use the defaults.
type Config struct {
	ExpirySchedule string
	PruneSchedule  string
	Location       *time.Location
}

// Scheduler runs the jobs on a robfig/cron scheduler.
type Scheduler struct {
	cron    *cron.Cron
	expirer Expirer
	pruner  Pruner
}

// New registers the expiry sweep and, when pruner is not nil, the prune.
func New(cfg Config, expirer Expirer, pruner Pruner) (*Scheduler, error) {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	s := &Scheduler{cron: cron.New(cron.WithLocation(loc)), expirer: expirer, pruner: pruner}
	if _, err := s.cron.AddFunc(orDefault(cfg.ExpirySchedule, DefaultExpirySchedule), s.RunExpiry); err != nil {
		return nil, fmt.Errorf("jobs: expiry schedule: %w", err)
	}
	if pruner != nil {
		if _, err := s.cron.AddFunc(orDefault(cfg.PruneSchedule, DefaultPruneSchedule), s.RunPrune); err != nil {
			return nil, fmt.Errorf("jobs: prune schedule: %w", err)
		}
	}
	return s, nil
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	log.Printf("jobs: scheduler started with %d jobs", len(s.cron.Entries()))
}

// Stop halts scheduling and waits for running jobs to finish or ctx to
// end.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// RunExpiry performs one expiry sweep.
func (s *Scheduler) RunExpiry() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()
	n, err := s.expirer.ExpireReservations(ctx)
	if err != nil {
		log.Printf("jobs: expire reservations: %v", err)
		return
	}
	if n > 0 {
		log.Printf("jobs: expired %d reservations", n)
	}
}

// RunPrune performs one prune.
func (s *Scheduler) RunPrune() {
	if s.pruner == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()
	res, err := s.pruner.Prune(ctx)
	if err != nil {
		log.Printf("jobs: prune: %v", err)
		return
	}
	log.Printf("jobs: pruned entry=%d exit=%d commands=%d logs=%d",
		res.EntryQueue, res.ExitQueue, res.Commands, res.Logs)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

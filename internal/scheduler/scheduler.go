// Package scheduler runs the background jobs: display refresh, metric
// gauges, payload retention and the registry sync.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lox/sanitrack/internal/display"
	"github.com/lox/sanitrack/internal/grading"
	"github.com/lox/sanitrack/internal/metrics"
	"github.com/lox/sanitrack/internal/models"
	"github.com/lox/sanitrack/internal/registry"
)

type Store interface {
	ListFacilities() ([]models.Facility, error)
	GradeCounts() (map[grading.Grade]int, error)
	AverageScore() (float64, error)
	CleanupOldPayloads(retention time.Duration) (int64, error)
}

type DisplayPublisher interface {
	Publish(st display.State) error
}

type Syncer interface {
	Sync(ctx context.Context) (*registry.Summary, error)
}

type Scheduler struct {
	store  Store
	grades *grading.Table
	logger *slog.Logger

	display         DisplayPublisher
	displayOpts     display.Options
	refreshInterval time.Duration

	syncer       Syncer
	syncSchedule string

	payloadRetention     time.Duration
	gaugeInterval        time.Duration
	housekeepingInterval time.Duration
}

func New(st Store, grades *grading.Table, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:                st,
		grades:               grades,
		logger:               logger,
		refreshInterval:      10 * time.Second,
		gaugeInterval:        time.Minute,
		housekeepingInterval: 6 * time.Hour,
	}
}

// SetDisplay enables periodic display pushes.
func (s *Scheduler) SetDisplay(pub DisplayPublisher, opts display.Options, interval time.Duration) {
	s.display = pub
	s.displayOpts = opts
	if interval > 0 {
		s.refreshInterval = interval
	}
}

// SetRegistry schedules registry syncs with a standard five-field cron
// expression.
func (s *Scheduler) SetRegistry(syncer Syncer, schedule string) {
	s.syncer = syncer
	s.syncSchedule = schedule
}

// SetPayloadRetention enables pruning of archived analysis payloads.
func (s *Scheduler) SetPayloadRetention(d time.Duration) {
	s.payloadRetention = d
}

// Run blocks until ctx is cancelled. It returns an error only if the
// registry schedule cannot be parsed.
func (s *Scheduler) Run(ctx context.Context) error {
	var c *cron.Cron
	if s.syncer != nil {
		c = cron.New()
		if _, err := c.AddFunc(s.syncSchedule, func() { s.syncRegistry(ctx) }); err != nil {
			return fmt.Errorf("schedule registry sync %q: %w", s.syncSchedule, err)
		}
		c.Start()
		s.logger.Info("registry sync scheduled", "schedule", s.syncSchedule)
	}

	s.refreshGauges()
	s.refreshDisplays()
	s.housekeeping()

	refreshTicker := time.NewTicker(s.refreshInterval)
	gaugeTicker := time.NewTicker(s.gaugeInterval)
	housekeepingTicker := time.NewTicker(s.housekeepingInterval)
	defer refreshTicker.Stop()
	defer gaugeTicker.Stop()
	defer housekeepingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler shutting down")
			if c != nil {
				<-c.Stop().Done()
			}
			return nil
		case <-refreshTicker.C:
			s.refreshDisplays()
		case <-gaugeTicker.C:
			s.refreshGauges()
		case <-housekeepingTicker.C:
			s.housekeeping()
		}
	}
}

func (s *Scheduler) syncRegistry(ctx context.Context) {
	if _, err := s.syncer.Sync(ctx); err != nil {
		s.logger.Error("registry sync failed", "error", err)
	}
}

func (s *Scheduler) refreshDisplays() {
	if s.display == nil {
		return
	}
	all, err := s.store.ListFacilities()
	if err != nil {
		s.logger.Error("display refresh: list facilities", "error", err)
		return
	}

	failed := 0
	for _, f := range all {
		if err := s.display.Publish(display.Build(s.grades, f, all, s.displayOpts)); err != nil {
			failed++
		}
	}
	if failed > 0 {
		s.logger.Warn("display refresh incomplete", "failed", failed, "total", len(all))
	}
}

func (s *Scheduler) refreshGauges() {
	counts, err := s.store.GradeCounts()
	if err != nil {
		s.logger.Error("refresh gauges: grade counts", "error", err)
		return
	}
	for _, tier := range s.grades.Tiers() {
		metrics.FacilitiesByGrade.WithLabelValues(string(tier.Grade)).Set(float64(counts[tier.Grade]))
	}

	avg, err := s.store.AverageScore()
	if err != nil {
		s.logger.Error("refresh gauges: average score", "error", err)
		return
	}
	metrics.AverageScore.Set(avg)
}

func (s *Scheduler) housekeeping() {
	if s.payloadRetention <= 0 {
		return
	}
	n, err := s.store.CleanupOldPayloads(s.payloadRetention)
	if err != nil {
		s.logger.Error("payload cleanup failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("pruned analysis payloads", "deleted", n, "retention", s.payloadRetention)
	}
}

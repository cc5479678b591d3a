// Package maintenance runs the background jobs of the serve command: periodic
// gallery refresh and ledger pruning.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/kozaktomas/face-attendance/internal/gallery"
	"github.com/kozaktomas/face-attendance/internal/ledger"
	"github.com/kozaktomas/face-attendance/internal/metrics"
	"github.com/sirupsen/logrus"
)

const refreshTimeout = 30 * time.Second

// Scheduler owns the gocron scheduler and the jobs registered on it.
type Scheduler struct {
	scheduler gocron.Scheduler
	gallery   *gallery.Gallery
	ledger    *ledger.Ledger
	metrics   *metrics.Metrics
	log       logrus.FieldLogger
	now       func() time.Time
}

// Options selects the job intervals. A zero interval disables the job.
type Options struct {
	RefreshInterval time.Duration
	PruneInterval   time.Duration
}

// New creates a scheduler and registers the enabled jobs. Call Start to run them.
func New(g *gallery.Gallery, l *ledger.Ledger, m *metrics.Metrics, opts Options, log logrus.FieldLogger) (*Scheduler, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	s := &Scheduler{
		scheduler: scheduler,
		gallery:   g,
		ledger:    l,
		metrics:   m,
		log:       log.WithField("component", "maintenance"),
		now:       time.Now,
	}

	if opts.RefreshInterval > 0 {
		if err := s.register("gallery_refresh", opts.RefreshInterval, s.refreshGallery); err != nil {
			return nil, err
		}
	}
	if opts.PruneInterval > 0 {
		if err := s.register("ledger_prune", opts.PruneInterval, s.pruneLedger); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Scheduler) register(name string, every time.Duration, task func()) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(task),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to register %s job: %w", name, err)
	}
	s.log.WithFields(logrus.Fields{"job": name, "every": every}).Info("Registered maintenance job")
	return nil
}

// Jobs returns the names of the registered jobs.
func (s *Scheduler) Jobs() []string {
	jobs := s.scheduler.Jobs()
	names := make([]string, len(jobs))
	for i, j := range jobs {
		names[i] = j.Name()
	}
	return names
}

// Start starts running the registered jobs.
func (s *Scheduler) Start() {
	s.scheduler.Start()
}

// Shutdown stops the scheduler and waits for running jobs.
func (s *Scheduler) Shutdown() error {
	return s.scheduler.Shutdown()
}

// refreshGallery reloads the gallery. A failure keeps the stale snapshot.
func (s *Scheduler) refreshGallery() {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	err := s.gallery.Refresh(ctx)
	s.metrics.RecordRefresh(err)
	if err != nil {
		s.log.WithError(err).Warn("Scheduled gallery refresh failed, serving stale snapshot")
		return
	}
	s.log.WithField("identities", s.gallery.Len()).Debug("Gallery refreshed")
}

// pruneLedger forgets identities whose cooldown has expired.
func (s *Scheduler) pruneLedger() {
	if n := s.ledger.Prune(s.now()); n > 0 {
		s.log.WithField("removed", n).Debug("Pruned idle cooldowns")
	}
}

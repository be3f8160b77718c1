// Package sweep closes out sessions whose call went quiet without reaching
// dispatch. A cron job periodically marks them DROPPED.
package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/zulandar/lifeline/internal/db"
	"github.com/zulandar/lifeline/internal/logging"
	"github.com/zulandar/lifeline/internal/models"
	"gorm.io/gorm"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Opts holds parameters for New.
type Opts struct {
	Gateway   *db.Gateway
	Schedule  string        // 5-field cron expression
	IdleAfter time.Duration // quiet period before a session is dropped
	Logger    logrus.FieldLogger
	Now       func() time.Time
}

// Sweeper drops idle sessions on a schedule.
type Sweeper struct {
	gw        *db.Gateway
	idleAfter time.Duration
	log       logrus.FieldLogger
	now       func() time.Time
	cron      *cron.Cron
}

// New creates a Sweeper. The job is registered but not running until Start.
func New(opts Opts) (*Sweeper, error) {
	if opts.Gateway == nil {
		return nil, fmt.Errorf("sweep: gateway is required")
	}
	if opts.IdleAfter <= 0 {
		return nil, fmt.Errorf("sweep: idle period must be positive, got %v", opts.IdleAfter)
	}
	sched, err := cronParser.Parse(opts.Schedule)
	if err != nil {
		return nil, fmt.Errorf("sweep: schedule %q: %w", opts.Schedule, err)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	log := logging.OrDiscard(opts.Logger).WithField("component", "sweep")
	cronLog := cron.PrintfLogger(log)
	s := &Sweeper{
		gw:        opts.Gateway,
		idleAfter: opts.IdleAfter,
		log:       log,
		now:       opts.Now,
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
	}
	s.cron.Schedule(sched, cron.FuncJob(func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			s.log.WithError(err).Error("sweep: run failed")
		}
	}))
	return s, nil
}

// Sweep marks as DROPPED every session whose status is unset or ACTIVE, that
// has not been updated within the idle period, and that has no transcript
// entry within it. It returns the number of sessions dropped.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	now := s.now().UTC()
	cutoff := now.Add(-s.idleAfter)

	var dropped int64
	err := s.gw.Run(ctx, "sweep.drop_idle", func(tx *gorm.DB) error {
		recent := tx.Session(&gorm.Session{NewDB: true}).
			Model(&models.TranscriptEntry{}).
			Select("1").
			Where("transcript_entries.session_id = sessions.id AND transcript_entries.timestamp >= ?", cutoff)

		res := tx.Model(&models.Session{}).
			Where("(status IS NULL OR status = ?)", models.SessionActive).
			Where("updated_at < ?", cutoff).
			Where("NOT EXISTS (?)", recent).
			Updates(map[string]any{
				"status":     models.SessionDropped,
				"updated_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("sweep: drop idle sessions: %w", res.Error)
		}
		dropped = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}

	if dropped > 0 {
		s.log.WithFields(logrus.Fields{
			"dropped": dropped,
			"cutoff":  cutoff.Format(time.RFC3339),
		}).Info("sweep: dropped idle sessions")
	}
	return dropped, nil
}

// Start begins running the job on its schedule.
func (s *Sweeper) Start() {
	s.cron.Start()
	s.log.Info("sweep: started")
}

// Stop halts the schedule and waits for a running sweep to finish or ctx to
// end.
func (s *Sweeper) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Info("sweep: stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sweep: stop: %w", ctx.Err())
	}
}

// Package scheduler drives the billing cycle on a timer. Each tick
// generates due invoices and sweeps delinquent subscriptions; the
// interval and cron spec come from the hot-reloaded billing policy.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"

	billingcycledomain "github.com/smallbiznis/invora/internal/billingcycle/domain"
	"github.com/smallbiznis/invora/internal/clock"
	"github.com/smallbiznis/invora/internal/config"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	Policy     *config.BillingPolicyHolder
	BillingSvc billingcycledomain.Service
}

type Scheduler struct {
	log        *zap.Logger
	clock      clock.Clock
	policy     *config.BillingPolicyHolder
	billingSvc billingcycledomain.Service
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.Policy == nil || p.BillingSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		clock:      p.Clock,
		policy:     p.Policy,
		billingSvc: p.BillingSvc,
	}, nil
}

// RunOnce executes one scheduler pass: invoice generation, then the
// delinquency sweep. Both run even when the first fails.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	asOf := s.clock.Now()

	sweep, genErr := s.billingSvc.GenerateInvoicesDue(ctx, asOf)
	if genErr != nil {
		s.log.Warn("invoice generation pass failed", zap.Error(genErr))
	} else {
		for _, failure := range sweep.Failed {
			genErr = errors.Join(genErr, failure.Err)
		}
		s.log.Info("invoice generation pass",
			zap.Int("visited", sweep.Visited),
			zap.Int("generated", sweep.Generated),
			zap.Int("already_generated", sweep.AlreadyGenerated),
			zap.Int("not_due", sweep.NotDue),
			zap.Int("closed", sweep.Closed),
			zap.Int("suspended", sweep.Suspended),
			zap.Int("failed", len(sweep.Failed)),
		)
	}

	suspended, sweepErr := s.billingSvc.SweepDelinquent(ctx, asOf)
	if sweepErr != nil {
		s.log.Warn("delinquency sweep failed", zap.Error(sweepErr))
	} else if suspended > 0 {
		s.log.Info("delinquency sweep", zap.Int("suspended", suspended))
	}

	return errors.Join(genErr, sweepErr)
}

// RunForever ticks at the policy interval until the context ends. The
// interval is re-read each pass so policy reloads take effect without
// a restart.
func (s *Scheduler) RunForever(ctx context.Context) {
	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		interval := s.policy.Get().RunInterval
		if interval <= 0 {
			interval = time.Minute
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// RunCron schedules passes with the policy's cron spec instead of a
// fixed interval. Blocks until the context ends.
func (s *Scheduler) RunCron(ctx context.Context, spec string) error {
	runner := cron.New()
	_, err := runner.AddFunc(spec, func() {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}

	runner.Start()
	<-ctx.Done()
	stopped := runner.Stop()
	<-stopped.Done()
	return nil
}

// Run picks the trigger from policy: cron spec when configured, the
// tick interval otherwise.
func (s *Scheduler) Run(ctx context.Context) {
	if spec := s.policy.Get().CronSpec; spec != "" {
		if err := s.RunCron(ctx, spec); err != nil {
			s.log.Error("invalid cron spec, falling back to interval",
				zap.String("spec", spec), zap.Error(err))
			s.RunForever(ctx)
		}
		return
	}
	s.RunForever(ctx)
}

// Package jobs runs report generation on a cron schedule.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/robfig/cron/v3"

	"github.com/Afrawles/activityreport/internal/apperr"
	"github.com/Afrawles/activityreport/internal/report"
)

const DefaultTimeout = 30 * time.Minute

type service interface {
	// RunScheduled generates, exports and delivers the report for period.
	RunScheduled(ctx context.Context, period string) error
}

type Cron struct {
	svc     service
	period  string
	timeout time.Duration
	loc     *time.Location
	logger  *slog.Logger
	c       *cron.Cron
}

// NewCron registers the report job on spec, a standard five field cron
// expression evaluated in loc. Overlapping runs are skipped.
func NewCron(ctx context.Context, spec, period string, timeout time.Duration, loc *time.Location, svc service) (*Cron, error) {
	if loc == nil {
		loc = time.Local
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if _, _, err := report.PeriodRange(period, time.Now()); err != nil {
		return nil, err
	}

	logger := ctxlog.From(ctx).With("job", "report", "period", period)
	cl := cronLogger{logger}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithParser(parser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	cr := &Cron{svc: svc, period: period, timeout: timeout, loc: loc, logger: logger, c: c}
	if _, err := c.AddFunc(spec, cr.Run); err != nil {
		return nil, goerr.Wrap(err, "invalid cron expression", goerr.V("cron", spec), goerr.T(apperr.TagValidation))
	}
	return cr, nil
}

func (cr *Cron) Start() { cr.c.Start() }

// Stop halts the scheduler. The returned context is done once a running
// job has finished.
func (cr *Cron) Stop() context.Context { return cr.c.Stop() }

// Next returns the next activation time.
func (cr *Cron) Next() time.Time {
	entries := cr.c.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	if !entries[0].Next.IsZero() {
		return entries[0].Next
	}
	return entries[0].Schedule.Next(time.Now().In(cr.loc))
}

// Run executes one job. Failures are logged, never returned.
func (cr *Cron) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), cr.timeout)
	defer cancel()
	ctx = ctxlog.With(ctx, cr.logger)

	started := time.Now()
	cr.logger.Info("scheduled report started")
	if err := cr.svc.RunScheduled(ctx, cr.period); err != nil {
		apperr.Handle(ctxlog.With(ctx, cr.logger.With("elapsed", time.Since(started).String())), err)
		return
	}
	cr.logger.Info("scheduled report finished", "elapsed", time.Since(started).String())
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

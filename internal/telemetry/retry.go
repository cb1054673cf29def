package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// exportJob is one signal to deliver. Completed jobs are skipped on retry so
// a span already accepted is never sent twice.
type exportJob struct {
	name   string
	export func(context.Context) error
	done   bool
}

// newBackOff builds the exponential schedule between attempts.
func (c *Config) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialBackoff
	b.MaxInterval = c.MaxBackoff
	b.Multiplier = 2
	return b
}

// deliver runs every job with up to MaxRetries retries after the first
// attempt. Each attempt is bounded by AttemptTimeout and the whole delivery
// by TotalTimeout. Returns the number of attempts made.
func (p *Publisher) deliver(ctx context.Context, jobs []*exportJob) (int, error) {
	attempts := 0

	operation := func() (struct{}, error) {
		attempts++
		var errs []error
		for _, job := range jobs {
			if job.done {
				continue
			}
			actx, cancel := context.WithTimeout(ctx, p.cfg.AttemptTimeout)
			err := job.export(actx)
			cancel()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", job.name, err))
				continue
			}
			job.done = true
		}
		return struct{}{}, errors.Join(errs...)
	}

	notify := func(err error, next time.Duration) {
		p.logger.Debug(ctx, "publish attempt failed, retrying",
			zap.Int("attempt", attempts),
			zap.Duration("backoff", next),
			zap.Error(err))
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(p.cfg.newBackOff()),
		backoff.WithMaxTries(uint(p.cfg.MaxRetries+1)),
		backoff.WithMaxElapsedTime(p.cfg.TotalTimeout),
		backoff.WithNotify(notify),
	)
	return attempts, err
}

package health

import (
	"context"
	"fmt"
	"time"

	"github.com/MrSnakeDoc/devhost/internal/logger"
	"github.com/MrSnakeDoc/devhost/internal/services"
)

// WaitOptions defines how long and how often WaitReady polls.
type WaitOptions struct {
	Timeout       time.Duration // total time allowed (ex: 30s)
	RetryInterval time.Duration // initial wait between probes (grows exponentially)
	MaxWait       time.Duration // cap on the wait between probes
	WarnThreshold int           // warn after this many attempts
}

func (o WaitOptions) validate() error {
	if o.Timeout <= 0 {
		return fmt.Errorf("Timeout must be > 0, got %v", o.Timeout)
	}
	if o.RetryInterval <= 0 {
		return fmt.Errorf("RetryInterval must be > 0, got %v", o.RetryInterval)
	}
	if o.MaxWait <= 0 {
		return fmt.Errorf("MaxWait must be > 0, got %v", o.MaxWait)
	}
	if o.WarnThreshold < 0 {
		return fmt.Errorf("WarnThreshold must be >= 0, got %d", o.WarnThreshold)
	}
	return nil
}

// DefaultWaitOptions suits services that take a few seconds to bind.
func DefaultWaitOptions() WaitOptions {
	return WaitOptions{
		Timeout:       30 * time.Second,
		RetryInterval: 250 * time.Millisecond,
		MaxWait:       2 * time.Second,
		WarnThreshold: 5,
	}
}

// WaitReady probes until the target answers, backing off exponentially
// between attempts, or until opts.Timeout elapses.
func (c *Checker) WaitReady(ctx context.Context, kind services.HealthKind, t Target, opts WaitOptions) error {
	if err := opts.validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	start := time.Now()
	attempt := 0
	wait := opts.RetryInterval

	for {
		attempt++

		err := c.Check(ctx, kind, t)
		if err == nil {
			if attempt > 1 {
				c.log.Debug("service became reachable",
					logger.String("addr", t.addr()),
					logger.Int("attempts", attempt),
					logger.Duration("elapsed", time.Since(start)))
			}
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s unreachable after %d attempts (timeout: %v): %w",
				t.addr(), attempt, opts.Timeout, err)

		case <-timer.C:
			if attempt > opts.WarnThreshold {
				c.log.Warn("service still unreachable, retrying",
					logger.String("addr", t.addr()),
					logger.Int("attempt", attempt),
					logger.Duration("next_retry_in", wait),
					logger.Error(err))
			}
			wait *= 2
			if wait > opts.MaxWait {
				wait = opts.MaxWait
			}
		}
	}
}

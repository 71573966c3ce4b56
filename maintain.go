package opendht

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

// Ticker runs one round of engine maintenance. It returns the time of the
// next round, or false once the engine is no longer running.
type Ticker interface {
	Tick() (time.Time, bool)
}

// MaintainOption configures Maintain.
type MaintainOption func(*maintainConfig)

type maintainConfig struct {
	clock    clock.Clock
	minDelay time.Duration
}

// WithClock sets the clock used for sleeping between ticks.
func WithClock(c clock.Clock) MaintainOption {
	return func(cfg *maintainConfig) {
		if c != nil {
			cfg.clock = c
		}
	}
}

// WithMinRetryDelay sets the sleep used when the next deadline has already
// passed.
func WithMinRetryDelay(d time.Duration) MaintainOption {
	return func(cfg *maintainConfig) {
		if d > 0 {
			cfg.minDelay = d
		}
	}
}

// Maintain calls t.Tick and sleeps until the deadline it returns, until the
// ticker reports the engine stopped (nil error) or ctx is canceled
// (ctx.Err()). Maintain must not be run concurrently against the same
// ticker.
func Maintain(ctx context.Context, t Ticker, opts ...MaintainOption) error {
	cfg := maintainConfig{
		clock:    clock.New(),
		minDelay: DefaultMinRetryDelay,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	ticks := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		next, ok := t.Tick()
		ticks++
		if !ok {
			logrus.WithFields(logrus.Fields{
				"function": "Maintain",
				"ticks":    ticks,
			}).Debug("Engine stopped, ending maintenance")
			return nil
		}

		timer := cfg.clock.Timer(sleepDuration(cfg.clock.Now(), next, cfg.minDelay))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// sleepDuration returns how long to wait for next. A deadline at or before
// now yields minDelay so a skewed engine clock cannot cause a busy loop.
func sleepDuration(now, next time.Time, minDelay time.Duration) time.Duration {
	d := next.Sub(now)
	if d <= 0 {
		return minDelay
	}
	return d
}

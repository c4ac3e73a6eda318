// Package poller implements the adaptive-interval polling primitive used by
// every asynchronous stage. It is not mission-aware: callers hand it a
// status check and get back the terminal observation.
package poller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/wangyiting19871016-commits/fudaiai-sub001/internal/provider"
)

// ErrTimeout is returned when a job is still pending after MaxAttempts
// checks.
var ErrTimeout = errors.New("job polling timed out")

type Config struct {
	// Floor and Ceiling bound the inter-check delay.
	Floor   time.Duration
	Ceiling time.Duration
	// MaxAttempts bounds worst-case polling duration.
	MaxAttempts int
}

func (c Config) withDefaults() Config {
	if c.Floor <= 0 {
		c.Floor = time.Second
	}
	if c.Ceiling < c.Floor {
		c.Ceiling = 3 * c.Floor
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 60
	}
	return c
}

// Check is one status observation of a remote job.
type Check func(ctx context.Context, jobID string) (provider.JobStatus, error)

// ProgressFunc receives advisory completion estimates in [0,1].
type ProgressFunc func(fraction float64)

type Poller struct {
	cfg    Config
	logger *log.Logger
}

func New(cfg Config, logger *log.Logger) *Poller {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Poller{cfg: cfg.withDefaults(), logger: logger}
}

// Wait blocks until the job reaches a terminal state, the attempt budget is
// exhausted, or the context is cancelled. The delay between checks grows
// with elapsed wall-clock time and never decreases within one call.
func (p *Poller) Wait(ctx context.Context, jobID string, check Check, onProgress ProgressFunc) (provider.JobStatus, error) {
	start := time.Now()
	var prev time.Duration

	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		interval := p.intervalFor(time.Since(start), prev)
		prev = interval

		select {
		case <-ctx.Done():
			return provider.JobStatus{}, ctx.Err()
		case <-time.After(interval):
		}

		st, err := check(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return provider.JobStatus{}, ctx.Err()
			}
			// A terminally failed job or a classified rejection surfaces
			// as-is; only unclassified check errors count as flaky. One
			// flaky status check must not kill a healthy job.
			if st.State == provider.StateFailed || provider.KindOf(err) != provider.KindTransient {
				return st, err
			}
			p.logger.Printf("[poller] job %s check %d/%d failed: %v", jobID, attempt, p.cfg.MaxAttempts, err)
			continue
		}

		switch st.State {
		case provider.StateSucceeded:
			if onProgress != nil {
				onProgress(1)
			}
			return st, nil
		case provider.StateFailed:
			return st, &provider.Error{
				Kind:    provider.KindTransient,
				Code:    st.Code,
				Message: st.Message,
			}
		}

		if onProgress != nil {
			onProgress(estimate(st.Fraction, attempt, p.cfg.MaxAttempts))
		}
	}

	return provider.JobStatus{}, fmt.Errorf("%w after %d attempts", ErrTimeout, p.cfg.MaxAttempts)
}

// intervalFor widens the delay as the job ages: floor while young, twice
// the floor mid-flight, ceiling for long-running jobs. The result is
// clamped to [Floor, Ceiling] and never below the previous interval.
func (p *Poller) intervalFor(elapsed, prev time.Duration) time.Duration {
	var d time.Duration
	switch {
	case elapsed < 20*time.Second:
		d = p.cfg.Floor
	case elapsed < time.Minute:
		d = 2 * p.cfg.Floor
	default:
		d = p.cfg.Ceiling
	}
	if d > p.cfg.Ceiling {
		d = p.cfg.Ceiling
	}
	if d < prev {
		d = prev
	}
	return d
}

// estimate prefers the provider-reported fraction and falls back to
// attempt-count interpolation.
func estimate(reported float64, attempt, maxAttempts int) float64 {
	if reported > 0 {
		if reported > 1 {
			return 1
		}
		return reported
	}
	return float64(attempt) / float64(maxAttempts)
}

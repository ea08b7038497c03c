// Package resilience provides small failure-handling primitives for the
// credential derivation pipeline.
package resilience

import (
	"context"

	"github.com/hashicorp/go-hclog"
)

// Retryer re-runs an operation a bounded number of times when the failure
// matches a predicate. It is a first-class value so call sites declare their
// retry policy instead of hiding it in ambient control flow.
type Retryer struct {
	maxAttempts int
	match       func(error) bool
	logger      hclog.Logger
}

// NewRetryer builds a Retryer. maxAttempts is the total number of attempts
// including the first; values below 1 are treated as 1. A nil match retries
// on any error.
func NewRetryer(maxAttempts int, match func(error) bool, logger hclog.Logger) *Retryer {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if match == nil {
		match = func(error) bool { return true }
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Retryer{maxAttempts: maxAttempts, match: match, logger: logger}
}

// Do runs op until it succeeds, fails with a non-matching error, the attempt
// budget is spent, or ctx is done. The name labels log lines only.
func (r *Retryer) Do(ctx context.Context, name string, op func() error) error {
	var err error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		if err = op(); err == nil {
			return nil
		}
		if !r.match(err) || attempt == r.maxAttempts {
			return err
		}
		r.logger.Warn("operation failed, retrying",
			"op", name, "attempt", attempt, "max_attempts", r.maxAttempts, "error", err)
	}
	return err
}

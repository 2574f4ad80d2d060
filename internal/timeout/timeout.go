// Package timeout bounds sync work with cooperative deadlines.
package timeout

import (
	"context"
	"fmt"
	"time"
)

const (
	DefaultBase = 30 * time.Second
	DefaultMax  = 120 * time.Second
)

type Config struct {
	RunTimeout   time.Duration
	BatchTimeout time.Duration
}

func (c Config) Validate() error {
	if c.RunTimeout <= 0 {
		return fmt.Errorf("timeout: run timeout must be positive")
	}
	if c.BatchTimeout <= 0 {
		return fmt.Errorf("timeout: batch timeout must be positive")
	}
	if c.BatchTimeout > c.RunTimeout {
		return fmt.Errorf("timeout: batch timeout %s exceeds run timeout %s", c.BatchTimeout, c.RunTimeout)
	}
	return nil
}

// Run executes fn under a deadline context and reports elapsed time. The
// deadline propagates through ctx, so in-flight remote calls are cancelled
// cooperatively instead of abandoned. Callers must not persist partial
// results from a timed-out operation.
func Run(ctx context.Context, d time.Duration, fn func(ctx context.Context) error) (time.Duration, error) {
	start := time.Now()
	if d <= 0 {
		err := fn(ctx)
		return time.Since(start), err
	}

	runCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	err := fn(runCtx)
	elapsed := time.Since(start)
	if err != nil && runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return elapsed, fmt.Errorf("operation timed out after %s", d)
	}
	return elapsed, err
}

// Progressive scales the per-batch timeout with the batch's share of the
// total workload: a sync whose batch covers everything gets the maximum
// (there is only one effective batch), while small slices of a large sync
// keep the base. The result is clamped to [base, max] and is monotone
// non-decreasing in batchSize/total.
func Progressive(totalRecords, batchSize int, base, max time.Duration) time.Duration {
	if base <= 0 {
		base = DefaultBase
	}
	if max < base {
		max = base
	}
	if totalRecords <= 0 || batchSize >= totalRecords {
		return max
	}
	ratio := float64(batchSize) / float64(totalRecords)
	scaled := base + time.Duration(ratio*float64(max-base))
	if scaled < base {
		return base
	}
	if scaled > max {
		return max
	}
	return scaled
}

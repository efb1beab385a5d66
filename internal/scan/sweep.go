package scan

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the size of the liveness worker pool.
const DefaultConcurrency = 50

// Sweep runs fn over hosts with at most concurrency probes in flight and returns
// the hosts that answered. The output keeps the input order and drops duplicates.
func Sweep(ctx context.Context, hosts []string, concurrency int, timeout time.Duration, fn LivenessFunc) []string {
	if len(hosts) == 0 || fn == nil {
		return nil
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	alive := make([]bool, len(hosts))
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, host := range hosts {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			alive[i] = fn(ctx, host, timeout)
			return nil
		})
	}
	_ = g.Wait()

	seen := make(map[string]struct{}, len(hosts))
	var live []string
	for i, host := range hosts {
		if !alive[i] {
			continue
		}
		if _, dup := seen[host]; dup {
			continue
		}
		seen[host] = struct{}{}
		live = append(live, host)
	}
	return live
}

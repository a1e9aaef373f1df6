// Package batch runs independent jobs in fixed-size groups: every job of a group runs
// concurrently, the whole group settles before the next one starts, and a fixed pause
// separates groups. The group boundary doubles as the upstream rate limit.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Outcome is the settled result of one job. It is written once, by the job's goroutine.
type Outcome struct {
	Index  int
	OK     bool
	TxHash string
	Err    error
}

// Result aggregates every outcome, in input order.
type Result struct {
	Outcomes  []Outcome
	Succeeded int
	Failed    int
	// Skipped counts jobs never started because ctx ended between groups.
	Skipped int
}

func (r Result) Total() int { return len(r.Outcomes) }

type Options struct {
	// Limit is the group size. Values below 1 mean 1.
	Limit int
	// GroupDelay is slept after every group except the last.
	GroupDelay time.Duration
	// Sleep defaults to a timer honouring ctx.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnGroup, when set, is called before a group starts with its [start, end) job range.
	OnGroup func(group, start, end int)
}

// ErrNotStarted is recorded for jobs skipped after ctx ended.
var ErrNotStarted = errors.New("job not started: run stopped")

// Partition splits n items into consecutive [start, end) ranges of at most limit items.
func Partition(n, limit int) [][2]int {
	if limit < 1 {
		limit = 1
	}
	groups := make([][2]int, 0, (n+limit-1)/limit)
	for start := 0; start < n; start += limit {
		end := start + limit
		if end > n {
			end = n
		}
		groups = append(groups, [2]int{start, end})
	}
	return groups
}

// Run executes fn for every item and never fails as a whole: errors and panics become
// failed outcomes. Groups launched before ctx ends are always awaited; groups after that
// are skipped.
func Run[T any](ctx context.Context, items []T, opts Options, fn func(ctx context.Context, item T) (string, error)) Result {
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepWithContext
	}

	limit := max(opts.Limit, 1)
	outcomes := make([]Outcome, len(items))
	groups := Partition(len(items), limit)
	stopped := false

	for gi, g := range groups {
		start, end := g[0], g[1]
		if stopped || ctx.Err() != nil {
			stopped = true
			for i := start; i < end; i++ {
				outcomes[i] = Outcome{Index: i, Err: ErrNotStarted}
			}
			continue
		}
		if opts.OnGroup != nil {
			opts.OnGroup(gi, start, end)
		}

		// Plain group, not WithContext: a failed job must not cancel its siblings.
		var eg errgroup.Group
		eg.SetLimit(limit)
		for i := start; i < end; i++ {
			i := i
			eg.Go(func() error {
				outcomes[i] = runOne(ctx, i, items[i], fn)
				return nil
			})
		}
		_ = eg.Wait()

		if gi < len(groups)-1 {
			if err := sleep(ctx, opts.GroupDelay); err != nil {
				stopped = true
			}
		}
	}

	res := Result{Outcomes: outcomes}
	for _, o := range outcomes {
		switch {
		case o.OK:
			res.Succeeded++
		case errors.Is(o.Err, ErrNotStarted):
			res.Skipped++
			res.Failed++
		default:
			res.Failed++
		}
	}
	return res
}

func runOne[T any](ctx context.Context, i int, item T, fn func(ctx context.Context, item T) (string, error)) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{Index: i, Err: fmt.Errorf("job panicked: %v", r)}
		}
	}()
	tx, err := fn(ctx, item)
	if err != nil {
		return Outcome{Index: i, TxHash: tx, Err: err}
	}
	return Outcome{Index: i, OK: true, TxHash: tx}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Package scanner provides the bounded worker-pool sweep used by host
// discovery.
package scanner

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultWorkers bounds concurrent probes.
	DefaultWorkers = 64
	// DefaultDeadline bounds a whole sweep.
	DefaultDeadline = 30 * time.Second
)

type Options struct {
	Workers  int
	Deadline time.Duration
}

// ProbeFunc reports whether target is up.
type ProbeFunc func(ctx context.Context, target string) bool

// Result of a sweep.
type Result struct {
	Up []string
	// Complete is false when the deadline or the caller's context cut the
	// sweep short. Probes finishing after that point are dropped.
	Complete bool
	Probed   int
}

// Sweep runs probe over targets on a pool of workers and collects the targets
// it reports up. It waits for every probe or the deadline, whichever is first.
func Sweep(ctx context.Context, targets []string, opts Options, probe ProbeFunc) Result {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Deadline <= 0 {
		opts.Deadline = DefaultDeadline
	}
	if len(targets) == 0 {
		return Result{Complete: true}
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Deadline)
	defer cancel()

	var (
		mu     sync.Mutex
		closed bool
		res    Result
	)

	jobs := make(chan string, len(targets))
	var wg sync.WaitGroup

	worker := func() {
		defer wg.Done()
		for target := range jobs {
			if ctx.Err() != nil {
				continue
			}
			up := probe(ctx, target)
			mu.Lock()
			if !closed {
				res.Probed++
				if up {
					res.Up = append(res.Up, target)
				}
			}
			mu.Unlock()
		}
	}

	workers := opts.Workers
	if workers > len(targets) {
		workers = len(targets)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go worker()
	}
	for _, t := range targets {
		jobs <- t
	}
	close(jobs)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()
	closed = true
	res.Complete = res.Probed == len(targets)
	out := res
	out.Up = append([]string(nil), res.Up...)
	return out
}

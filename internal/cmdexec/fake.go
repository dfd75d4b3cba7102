package cmdexec

import (
	"context"
	"sync"
	"time"
)

// Call records one invocation seen by Fake.
type Call struct {
	Name    string
	Args    []string
	Timeout time.Duration
}

// Fake is a scripted Runner for tests. Handler decides the outcome of each
// call; a nil Handler makes every command succeed with empty output.
type Fake struct {
	Handler func(c Call) (Result, error)

	mu    sync.Mutex
	calls []Call
}

// Run records the call and delegates to Handler.
func (f *Fake) Run(ctx context.Context, timeout time.Duration, name string, args ...string) (Result, error) {
	c := Call{Name: name, Args: append([]string(nil), args...), Timeout: timeout}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	if f.Handler == nil {
		return Result{}, nil
	}
	return f.Handler(c)
}

// Calls returns a copy of the recorded calls.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Count returns how many times name was run.
func (f *Fake) Count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Name == name {
			n++
		}
	}
	return n
}

package launcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/apex/log"
)

type cleanupStep struct {
	name string
	fn   func(ctx context.Context) error
}

// Cleanup records how to undo each completed setup step. Steps run in
// reverse order of registration.
type Cleanup struct {
	mu    sync.Mutex
	steps []cleanupStep
}

// Push registers fn to undo the step called name.
func (c *Cleanup) Push(name string, fn func(ctx context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = append(c.steps, cleanupStep{name: name, fn: fn})
}

// Len is the number of pending steps.
func (c *Cleanup) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.steps)
}

// Run executes every pending step, most recent first, and empties the
// stack. A failing step does not stop the others; all failures are
// returned joined.
func (c *Cleanup) Run(ctx context.Context) error {
	c.mu.Lock()
	steps := c.steps
	c.steps = nil
	c.mu.Unlock()

	var errs []error

	for i := len(steps) - 1; i >= 0; i-- {
		s := steps[i]

		if err := s.fn(ctx); err != nil {
			log.WithError(err).WithField("step", s.name).Error("cleanup step failed")
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
			continue
		}

		log.WithField("step", s.name).Debug("cleanup step done")
	}

	return errors.Join(errs...)
}

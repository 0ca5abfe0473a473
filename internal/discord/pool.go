package discord

import (
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	"github.com/vthunder/charbot/internal/logging"
)

// Pool runs event handlers with bounded concurrency. A panicking task is
// logged and does not affect other tasks.
type Pool struct {
	group errgroup.Group
}

// NewPool returns a pool running at most size tasks at once.
func NewPool(size int) *Pool {
	p := &Pool{}
	p.group.SetLimit(size)
	return p
}

// Go runs fn on the pool, blocking while the pool is full.
func (p *Pool) Go(name string, fn func() error) {
	p.group.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				logging.Error("pool", fmt.Errorf("panic: %v", r), "Task %s panicked\n%s", name, debug.Stack())
				err = nil
			}
		}()
		if err := fn(); err != nil {
			logging.Debug("pool", "Task %s: %v", name, err)
		}
		return nil
	})
}

// Wait blocks until every started task has returned.
func (p *Pool) Wait() {
	_ = p.group.Wait()
}

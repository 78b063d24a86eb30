package middlewares

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Lifetime hands every request a server scoped context and tracks the
// handlers still running, so shutdown can cancel them and wait for their
// cleanup.
type Lifetime struct {
	ctx     context.Context
	cancel  context.CancelFunc
	running sync.WaitGroup
}

// NewLifetime create a lifetime that lives until Cancel
func NewLifetime() *Lifetime {
	ctx, cancel := context.WithCancel(context.Background())
	return &Lifetime{ctx: ctx, cancel: cancel}
}

// Handler sets the lifetime context as the request's user context
func (l *Lifetime) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		l.running.Add(1)
		defer l.running.Done()
		c.SetUserContext(l.ctx)
		return c.Next()
	}
}

// Cancel cancels the context of every in-flight request
func (l *Lifetime) Cancel() {
	l.cancel()
}

// Wait blocks until in-flight handlers return or timeout passes.
// Reports whether every handler returned.
func (l *Lifetime) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		l.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

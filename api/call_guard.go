package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/semaphore"
)

// DefaultMaxTracingRequests is how many guarded calls run at once when the
// config leaves it unset.
const DefaultMaxTracingRequests = 8

var ErrTooManyPermits = errors.New("more permits requested than the guard holds")

// TracingCallGuard caps how many expensive calls run at the same time.
// Callers beyond the cap wait in arrival order.
type TracingCallGuard struct {
	sem *semaphore.Weighted
	max int64
}

func NewTracingCallGuard(maxRequests uint32) *TracingCallGuard {
	if maxRequests == 0 {
		maxRequests = DefaultMaxTracingRequests
	}
	return &TracingCallGuard{
		sem: semaphore.NewWeighted(int64(maxRequests)),
		max: int64(maxRequests),
	}
}

// Acquire takes one permit. The returned release gives it back and is safe to
// call more than once.
func (g *TracingCallGuard) Acquire(ctx context.Context) (func(), error) {
	return g.AcquireMany(ctx, 1)
}

// AcquireMany takes n permits at once, blocking until they are free or ctx is
// done.
func (g *TracingCallGuard) AcquireMany(ctx context.Context, n uint32) (func(), error) {
	if int64(n) > g.max {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyPermits, n, g.max)
	}
	if err := g.sem.Acquire(ctx, int64(n)); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() { g.sem.Release(int64(n)) })
	}, nil
}

// Limit is the number of permits the guard was created with.
func (g *TracingCallGuard) Limit() int64 { return g.max }

// Middleware runs the handler while holding one permit. A request cancelled
// while waiting is answered with 503.
func (g *TracingCallGuard) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			release, err := g.Acquire(c.Request().Context())
			if err != nil {
				return c.JSON(http.StatusServiceUnavailable, APIError{Error: err.Error()})
			}
			defer release()
			return next(c)
		}
	}
}

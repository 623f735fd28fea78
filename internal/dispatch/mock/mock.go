// Package mock provides a test double for the dispatch.Dispatcher interface.
package mock

import (
	"context"
	"sync"

	"github.com/earshot-ai/earshot/internal/dispatch"
)

// HandleCall records a single invocation of Handle.
type HandleCall struct {
	// Ctx is the context passed to Handle.
	Ctx context.Context
	// Req is the request passed to Handle.
	Req dispatch.Request
}

// Dispatcher is a mock implementation of dispatch.Dispatcher.
// Zero values for response fields cause Handle to return zero values and nil errors.
type Dispatcher struct {
	mu sync.Mutex

	// Response is returned by Handle.
	Response dispatch.Response

	// Err, if non-nil, is returned as the error from Handle.
	Err error

	// Delay, if set, makes Handle block until the channel is closed or the
	// context is cancelled. Useful for testing in-flight turn behavior.
	Delay chan struct{}

	// HandleCalls records every invocation of Handle in order.
	HandleCalls []HandleCall
}

// Handle records the call and returns Response, Err.
func (d *Dispatcher) Handle(ctx context.Context, req dispatch.Request) (dispatch.Response, error) {
	d.mu.Lock()
	d.HandleCalls = append(d.HandleCalls, HandleCall{Ctx: ctx, Req: req})
	delay := d.Delay
	res, err := d.Response, d.Err
	d.mu.Unlock()

	if delay != nil {
		select {
		case <-delay:
		case <-ctx.Done():
			return dispatch.Response{}, ctx.Err()
		}
	}
	return res, err
}

// Calls returns a copy of the recorded Handle invocations. Thread-safe.
func (d *Dispatcher) Calls() []HandleCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]HandleCall, len(d.HandleCalls))
	copy(out, d.HandleCalls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.HandleCalls = nil
}

// Ensure Dispatcher implements dispatch.Dispatcher at compile time.
var _ dispatch.Dispatcher = (*Dispatcher)(nil)

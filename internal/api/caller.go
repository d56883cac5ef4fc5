package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/signal-relay/internal/eventbus"
)

// StatusState is the coarse state of a Caller.
type StatusState int

const (
	Idle StatusState = iota
	Busy
	Error
)

// String implements fmt.Stringer.
func (s StatusState) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Busy:
		return "Busy"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

// CallStatus is the observable status of a Caller. Message is set only in the Error state.
type CallStatus struct {
	State   StatusState
	Message string
}

// RetryPolicy bounds retries. MaxAttempts counts every attempt including the first; values
// below 1 mean a single attempt.
type RetryPolicy struct {
	MaxAttempts int
	Delay       func(attempt int) time.Duration
}

// LinearDelay waits step times the attempt index, counted from 1.
func LinearDelay(step time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return step * time.Duration(attempt)
	}
}

// DefaultRetryPolicy returns 3 attempts with 200ms, then 400ms between them.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Delay:       LinearDelay(200 * time.Millisecond),
	}
}

// CallError is returned when every attempt failed.
type CallError struct {
	Operation string
	Attempts  int
	Message   string
	Err       error
}

func (e *CallError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("%s failed after %d attempt(s): %s", e.Operation, e.Attempts, e.Message)
	}
	return fmt.Sprintf("call failed after %d attempt(s): %s", e.Attempts, e.Message)
}

func (e *CallError) Unwrap() error { return e.Err }

// WaitFunc sleeps for d or until ctx is done.
type WaitFunc func(ctx context.Context, d time.Duration) error

// Caller runs calls under a shared retry policy and status.
type Caller struct {
	policy RetryPolicy
	bus    *eventbus.Bus
	logger *slog.Logger
	wait   WaitFunc

	mu       sync.Mutex
	status   CallStatus
	statuses *eventbus.Stream[CallStatus]
}

// CallerOption configures a Caller.
type CallerOption func(*Caller)

// WithWaitFunc replaces the sleep between attempts.
func WithWaitFunc(fn WaitFunc) CallerOption {
	return func(c *Caller) {
		c.wait = fn
	}
}

// WithCallerLogger sets the logger.
func WithCallerLogger(logger *slog.Logger) CallerOption {
	return func(c *Caller) {
		c.logger = logger
	}
}

// NewCaller creates a Caller. bus may be nil.
func NewCaller(policy RetryPolicy, bus *eventbus.Bus, opts ...CallerOption) *Caller {
	if policy.Delay == nil {
		policy.Delay = DefaultRetryPolicy().Delay
	}
	c := &Caller{
		policy:   policy,
		bus:      bus,
		logger:   slog.Default(),
		wait:     sleep,
		statuses: eventbus.NewStream[CallStatus](),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "caller")
	return c
}

// Policy returns the retry policy.
func (c *Caller) Policy() RetryPolicy {
	return c.policy
}

// Status returns the current status. Concurrent calls share it; the last to finish wins.
func (c *Caller) Status() CallStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// WatchStatus returns a live stream of status changes.
func (c *Caller) WatchStatus() *eventbus.Subscription[CallStatus] {
	return c.statuses.Subscribe()
}

func (c *Caller) setStatus(s CallStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = s
	c.statuses.Publish(s)
}

type callOptions struct {
	operation     string
	notIdempotent bool
	deadline      time.Duration
}

// CallOption adjusts a single call.
type CallOption func(*callOptions)

// NotIdempotent runs the call once. A failed state-mutating request may already have taken
// effect, so it is not retried.
func NotIdempotent() CallOption {
	return func(o *callOptions) {
		o.notIdempotent = true
	}
}

// WithCallDeadline bounds all attempts and waits of a call together.
func WithCallDeadline(d time.Duration) CallOption {
	return func(o *callOptions) {
		o.deadline = d
	}
}

// WithOperation names the call in logs and errors.
func WithOperation(name string) CallOption {
	return func(o *callOptions) {
		o.operation = name
	}
}

// Do runs fn through c. It sets Busy, retries failures per the policy and returns the first
// success (status Idle). When every attempt fails it sets Error with the last failure's message,
// publishes one apiError event and returns a *CallError.
func Do[T any](ctx context.Context, c *Caller, fn func(ctx context.Context) (T, error), opts ...CallOption) (T, error) {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.deadline)
		defer cancel()
	}

	maxAttempts := c.policy.MaxAttempts
	if maxAttempts < 1 || o.notIdempotent {
		maxAttempts = 1
	}

	c.setStatus(CallStatus{State: Busy})

	var (
		zero    T
		lastErr error
		attempt int
	)
	for attempt = 1; attempt <= maxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			c.setStatus(CallStatus{State: Idle})
			return result, nil
		}
		lastErr = err

		if attempt == maxAttempts || ctx.Err() != nil {
			break
		}

		delay := c.policy.Delay(attempt)
		c.logger.Debug("retrying call",
			"operation", o.operation,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		if err := c.wait(ctx, delay); err != nil {
			break
		}
	}

	return zero, c.fail(o.operation, attempt, lastErr)
}

// fail records a final failure.
func (c *Caller) fail(operation string, attempts int, err error) error {
	msg := ErrorMessage(err)
	c.setStatus(CallStatus{State: Error, Message: msg})

	c.logger.Warn("call failed",
		"operation", operation,
		"attempts", attempts,
		"error", err,
	)
	if c.bus != nil {
		c.bus.Publish(eventbus.KindAPIError, eventbus.MessagePayload{Message: msg})
	}

	return &CallError{
		Operation: operation,
		Attempts:  attempts,
		Message:   msg,
		Err:       err,
	}
}

// ErrorMessage extracts the user-facing message of a failure: the backend's own message for
// API errors, the error text otherwise.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

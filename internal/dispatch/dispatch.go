// Package dispatch routes uniform task envelopes to registered
// capabilities. Every dispatch carries a fresh task ID; a retry is a new
// dispatch with a new ID, so a late response from an earlier attempt can
// always be recognized and discarded by its stale ID.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/lendflow/pkg/api"
)

// DefaultTimeout bounds a single capability call when the dispatcher is
// constructed without an explicit timeout.
const DefaultTimeout = 10 * time.Second

// Dispatcher holds the capability registry and enforces the envelope
// contract: deadline per call, response task ID must echo the request.
type Dispatcher struct {
	mu      sync.RWMutex
	caps    map[string]api.Capability
	timeout time.Duration
	obs     api.Observer
}

// NewDispatcher creates a Dispatcher. A zero timeout means DefaultTimeout;
// a nil observer means no observation.
func NewDispatcher(timeout time.Duration, obs api.Observer) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if obs == nil {
		obs = api.NoopObserver{}
	}
	return &Dispatcher{
		caps:    make(map[string]api.Capability),
		timeout: timeout,
		obs:     obs,
	}
}

// Register adds a capability under its own name. Registering the same name
// twice is an error.
func (d *Dispatcher) Register(c api.Capability) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	name := c.Name()
	if name == "" {
		return fmt.Errorf("%w: capability has empty name", api.ErrValidation)
	}
	if _, ok := d.caps[name]; ok {
		return fmt.Errorf("capability already registered: %s", name)
	}
	d.caps[name] = c
	return nil
}

func (d *Dispatcher) lookup(name string) (api.Capability, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	c, ok := d.caps[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown capability %q", api.ErrValidation, name)
	}
	return c, nil
}

// Dispatch sends one task envelope to the named capability. It fills in a
// fresh task ID when the request has none, bounds the call with the
// dispatcher timeout, and verifies the response echoes the request's task
// ID. A deadline overrun is reported as api.ErrExternalTimeout.
func (d *Dispatcher) Dispatch(ctx context.Context, req *api.TaskRequest) (*api.TaskResponse, error) {
	return d.dispatchAttempt(ctx, req, 1)
}

func (d *Dispatcher) dispatchAttempt(ctx context.Context, req *api.TaskRequest, attempt int) (*api.TaskResponse, error) {
	c, err := d.lookup(req.Capability)
	if err != nil {
		return nil, err
	}

	if req.TaskID == "" {
		req.TaskID = uuid.NewString()
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	d.obs.OnDispatch(ctx, req.ConversationID, req.Capability, req.TaskID, attempt)
	start := time.Now()

	resp, err := c.Execute(callCtx, req)

	d.obs.OnDispatchCompleted(ctx, req.ConversationID, req.Capability, req.TaskID, err, time.Since(start))

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: capability %s task %s: %v", api.ErrExternalTimeout, req.Capability, req.TaskID, err)
		}
		return nil, fmt.Errorf("capability %s task %s: %w", req.Capability, req.TaskID, err)
	}
	if resp == nil {
		return nil, fmt.Errorf("capability %s task %s: nil response", req.Capability, req.TaskID)
	}
	if resp.TaskID != req.TaskID {
		// A response for some other dispatch; never deliver it.
		return nil, fmt.Errorf("capability %s: response task ID %s does not match request %s, discarding", req.Capability, resp.TaskID, req.TaskID)
	}
	if resp.Status == api.TaskFailed {
		return nil, fmt.Errorf("capability %s task %s reported failure", req.Capability, req.TaskID)
	}
	return resp, nil
}

// DispatchWithRetry dispatches and retries per the policy. Each attempt is
// a fresh dispatch with its own task ID; req.TaskID holds the ID of the
// last attempt when the call returns. Validation errors are never retried.
func (d *Dispatcher) DispatchWithRetry(ctx context.Context, req *api.TaskRequest, policy api.RetryPolicy) (*api.TaskResponse, error) {
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	backoff := policy.InitialBackoff
	multiplier := policy.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		req.TaskID = uuid.NewString()
		resp, err := d.dispatchAttempt(ctx, req, attempt)
		if err == nil {
			return resp, nil
		}
		if errors.Is(err, api.ErrValidation) {
			return nil, err
		}
		lastErr = err

		if attempt == maxAttempts {
			break
		}

		if backoff > 0 {
			delay := backoff
			if policy.MaxBackoff > 0 && delay > policy.MaxBackoff {
				delay = policy.MaxBackoff
			}

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}

			next := time.Duration(float64(backoff) * multiplier)
			if policy.MaxBackoff > 0 && next > policy.MaxBackoff {
				backoff = policy.MaxBackoff
			} else {
				backoff = next
			}
		}
	}

	return nil, lastErr
}

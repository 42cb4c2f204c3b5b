// Package inprocess runs agent code on a Starlark engine inside the host
// process. Fastest backend, no isolation beyond the interpreter itself.
package inprocess

import (
	"context"
	"sync"
	"time"

	"github.com/codemode-ai/codemode/pkg/errors"
	"github.com/codemode-ai/codemode/pkg/executor"
	"github.com/codemode-ai/codemode/pkg/interp"
	"github.com/codemode-ai/codemode/pkg/storage"
	"github.com/codemode-ai/codemode/pkg/types"
)

// DefaultTimeout applies when Run is called with timeout 0.
const DefaultTimeout = 120 * time.Second

var caps = []executor.Capability{executor.CapTimeout, executor.CapReset}

// Executor is the in-process backend. The interpreter state lives for the
// lifetime of the executor; Reset rebuilds it.
type Executor struct {
	provider interp.ResourceProvider

	mu     sync.Mutex
	engine *interp.Engine
	closed bool
}

// New creates an in-process executor over the given provider.
func New(provider interp.ResourceProvider) *Executor {
	return &Executor{provider: provider}
}

// Start implements executor.Executor. The provider was wired directly, so
// the storage handoff argument is ignored.
func (e *Executor) Start(_ context.Context, _ storage.Backend) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.NewUnavailable("executor is closed", nil)
	}
	if e.engine == nil {
		e.engine = interp.New(e.provider)
	}
	return nil
}

// Run implements executor.Executor. User-code failure lands in the result;
// only lifecycle problems come back as a Go error.
func (e *Executor) Run(ctx context.Context, code string, timeout time.Duration) (*types.ExecutionResult, error) {
	e.mu.Lock()
	engine := e.engine
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, errors.NewUnavailable("executor is closed", nil)
	}
	if engine == nil {
		return nil, errors.NewUnavailable("executor not started", nil)
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	value, stdout, err := engine.Exec(runCtx, code)
	result := &types.ExecutionResult{
		Value:     value,
		Stdout:    stdout,
		ElapsedMS: time.Since(started).Milliseconds(),
	}
	if err != nil {
		result.Value = nil
		result.Error = err.Error()
	}
	return result, nil
}

// Reset implements executor.Executor: drop all user-defined globals.
func (e *Executor) Reset(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.NewUnavailable("executor is closed", nil)
	}
	if e.engine == nil {
		return errors.NewUnavailable("executor not started", nil)
	}
	e.engine.Reset()
	return nil
}

// Close implements executor.Executor. Idempotent.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.engine = nil
	return nil
}

// Supports implements executor.Executor.
func (*Executor) Supports(capability executor.Capability) bool {
	for _, c := range caps {
		if c == capability {
			return true
		}
	}
	return false
}

// Capabilities implements executor.Executor.
func (*Executor) Capabilities() []executor.Capability {
	return append([]executor.Capability{}, caps...)
}

package kernel

import (
	"context"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codemode-ai/codemode/pkg/deps"
	"github.com/codemode-ai/codemode/pkg/errors"
	"github.com/codemode-ai/codemode/pkg/executor"
	"github.com/codemode-ai/codemode/pkg/interp"
	"github.com/codemode-ai/codemode/pkg/logger"
	"github.com/codemode-ai/codemode/pkg/storage"
	"github.com/codemode-ai/codemode/pkg/types"
)

// DefaultTimeout applies when Run is called with timeout 0.
const DefaultTimeout = 120 * time.Second

var caps = []executor.Capability{
	executor.CapTimeout,
	executor.CapProcessIsolation,
	executor.CapReset,
	executor.CapDepsInstall,
	executor.CapDepsUninstall,
}

// Executor runs code in a kernel subprocess. By default it re-execs the
// current binary with the `kernel` argument; resources stay in the host
// process and the kernel reaches them over RPC.
type Executor struct {
	provider  interp.ResourceProvider
	installer deps.Installer
	binary    string
	args      []string
	workDir   string

	mu     sync.Mutex
	proc   *kernelProc
	closed bool
}

type kernelProc struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	host   *host
	waitCh chan error
}

// Option configures the kernel executor.
type Option func(*Executor)

// WithBinary overrides the kernel command. Used by tests and by hosts
// embedding codemode as a library.
func WithBinary(binary string, args ...string) Option {
	return func(e *Executor) {
		e.binary = binary
		e.args = args
	}
}

// WithInstaller wires a package installer for InstallDeps/UninstallDeps.
func WithInstaller(installer deps.Installer) Option {
	return func(e *Executor) { e.installer = installer }
}

// WithWorkDir sets the kernel process working directory.
func WithWorkDir(dir string) Option {
	return func(e *Executor) { e.workDir = dir }
}

// New creates a kernel executor over the given host-side provider.
func New(provider interp.ResourceProvider, opts ...Option) *Executor {
	e := &Executor{
		provider:  provider,
		installer: deps.NoopInstaller{},
		args:      []string{"kernel"},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start implements executor.Executor: spawn the kernel process. The
// storage handoff argument is unused; the kernel reaches storage through
// host RPC, never directly.
func (e *Executor) Start(_ context.Context, _ storage.Backend) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.NewUnavailable("executor is closed", nil)
	}
	if e.proc != nil {
		return nil
	}
	proc, err := e.spawn()
	if err != nil {
		return err
	}
	e.proc = proc
	return nil
}

func (e *Executor) spawn() (*kernelProc, error) {
	binary := e.binary
	if binary == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, errors.NewMisconfigured("resolving kernel binary", err)
		}
		binary = self
	}

	cmd := exec.Command(binary, e.args...)
	cmd.Dir = e.workDir
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.NewInternal("opening kernel stdin", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.NewInternal("opening kernel stdout", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.NewInterpreterDied("starting kernel process", err)
	}
	logger.Debugw("kernel process started", "pid", cmd.Process.Pid, "binary", binary)

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	return &kernelProc{
		cmd:    cmd,
		stdin:  stdin,
		host:   newHost(stdin, stdout, e.provider),
		waitCh: waitCh,
	}, nil
}

// Run implements executor.Executor.
func (e *Executor) Run(ctx context.Context, code string, timeout time.Duration) (*types.ExecutionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errors.NewUnavailable("executor is closed", nil)
	}
	if e.proc == nil {
		return nil, errors.NewUnavailable("executor not started", nil)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	result, err := e.proc.host.execute(ctx, uuid.NewString(), code, timeout)
	if errors.IsInterpreterDied(err) {
		// The process is gone or wedged; tear it down so the next Run or
		// Reset can respawn.
		e.stopLocked()
	}
	return result, err
}

// Reset implements executor.Executor. A protocol-level reset is tried
// first; a dead or unresponsive kernel is replaced with a fresh process,
// which gives the same guarantee.
func (e *Executor) Reset(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.NewUnavailable("executor is closed", nil)
	}
	if e.proc != nil {
		if err := e.proc.host.reset(ctx, uuid.NewString()); err == nil {
			return nil
		}
		logger.Warnw("kernel reset failed, restarting process")
		e.stopLocked()
	}
	proc, err := e.spawn()
	if err != nil {
		return err
	}
	e.proc = proc
	return nil
}

// Close implements executor.Executor. Idempotent.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.stopLocked()
	return nil
}

func (e *Executor) stopLocked() {
	proc := e.proc
	if proc == nil {
		return
	}
	e.proc = nil

	proc.host.shutdown()
	_ = proc.stdin.Close()
	select {
	case <-proc.waitCh:
	case <-time.After(2 * time.Second):
		logger.Warnw("kernel did not exit, killing", "pid", proc.cmd.Process.Pid)
		_ = proc.cmd.Process.Kill()
		<-proc.waitCh
	}
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

// InstallDeps implements executor.DepsManager.
func (e *Executor) InstallDeps(ctx context.Context, pkgs []string) (*types.InstallResult, error) {
	return e.installer.Install(ctx, pkgs)
}

// UninstallDeps implements executor.DepsManager.
func (e *Executor) UninstallDeps(ctx context.Context, pkgs []string) (*types.UninstallResult, error) {
	return e.installer.Uninstall(ctx, pkgs)
}

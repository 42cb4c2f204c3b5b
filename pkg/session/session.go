// Package session is the host-facing entry point: one Session wires a
// storage backend to an execution backend and runs agent code against it.
package session

import (
	"context"
	"path/filepath"
	"time"

	"github.com/codemode-ai/codemode/pkg/deps"
	"github.com/codemode-ai/codemode/pkg/embeddings"
	"github.com/codemode-ai/codemode/pkg/errors"
	"github.com/codemode-ai/codemode/pkg/executor"
	"github.com/codemode-ai/codemode/pkg/executor/inprocess"
	"github.com/codemode-ai/codemode/pkg/logger"
	"github.com/codemode-ai/codemode/pkg/skills"
	"github.com/codemode-ai/codemode/pkg/storage"
	"github.com/codemode-ai/codemode/pkg/tools"
	"github.com/codemode-ai/codemode/pkg/types"
	"github.com/codemode-ai/codemode/pkg/vector"
)

// Session binds one storage backend to one execution backend. Not safe
// for concurrent Run calls; create one session per logical agent.
type Session struct {
	backend  storage.Backend
	exec     executor.Executor
	registry *tools.Registry
	library  *skills.Library

	started bool
	closed  bool
}

// Option configures a session built with New.
type Option func(*Session)

// WithRegistry attaches a tool registry for the Tools facade. Sessions
// built with FromBase get one automatically.
func WithRegistry(registry *tools.Registry) Option {
	return func(s *Session) { s.registry = registry }
}

// WithLibrary attaches a skill library for the Skills facade.
func WithLibrary(library *skills.Library) Option {
	return func(s *Session) { s.library = library }
}

// New creates a session over an existing backend and executor.
func New(backend storage.Backend, exec executor.Executor, opts ...Option) *Session {
	s := &Session{backend: backend, exec: exec}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FromBase builds a fully wired in-process session from one base
// directory holding tools/, skills/, artifacts/ and deps.txt. The skill
// index persists under .index/ so restarts reuse cached embeddings.
func FromBase(ctx context.Context, base string) (*Session, error) {
	backend := storage.NewFileBackend(base)
	embedder := embeddings.NewHashEmbedder(0)

	registry := tools.NewRegistry(embedder)
	if err := tools.LoadStore(ctx, registry, backend.ToolStore()); err != nil {
		_ = registry.Close()
		return nil, err
	}

	index, err := vector.NewChromemIndex(filepath.Join(base, ".index"), embedder)
	if err != nil {
		_ = registry.Close()
		return nil, err
	}
	library := skills.NewLibrary(backend.SkillStore(), skills.WithIndex(index), skills.WithEmbedder(embedder))
	if err := library.Refresh(ctx); err != nil {
		logger.Warnw("skill index warm-up failed", "error", err)
	}

	provider := executor.NewStorageProvider(registry, library, backend.ArtifactStore(), backend.DepsStore(), deps.NoopInstaller{})
	return New(backend, inprocess.New(provider), WithRegistry(registry), WithLibrary(library)), nil
}

// Start prepares the execution backend.
func (s *Session) Start(ctx context.Context) error {
	if s.closed {
		return errors.NewUnavailable("session is closed", nil)
	}
	if s.started {
		return nil
	}
	if err := s.exec.Start(ctx, s.backend); err != nil {
		return err
	}
	s.started = true
	return nil
}

// Run executes one chunk of agent code. Failures of the code itself are
// reported inside the result; Run only returns a Go error for transport
// or backend problems. Running against a closed session yields an error
// result rather than a panic or a nil.
func (s *Session) Run(ctx context.Context, code string, timeout time.Duration) (*types.ExecutionResult, error) {
	if s.closed {
		return &types.ExecutionResult{Error: "session is closed"}, nil
	}
	if !s.started {
		if err := s.Start(ctx); err != nil {
			return nil, err
		}
	}
	return s.exec.Run(ctx, code, timeout)
}

// Reset clears interpreter state, keeping storage intact.
func (s *Session) Reset(ctx context.Context) error {
	if s.closed {
		return errors.NewUnavailable("session is closed", nil)
	}
	if !s.started {
		return nil
	}
	return s.exec.Reset(ctx)
}

// Close releases the executor, the registry's adapters, and the storage
// backend. Idempotent.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.exec.Close()
	if s.registry != nil {
		if cerr := s.registry.Close(); err == nil {
			err = cerr
		}
	}
	if s.backend != nil {
		if berr := s.backend.Close(); err == nil {
			err = berr
		}
	}
	return err
}

// Supports reports a capability of the underlying executor.
func (s *Session) Supports(capability executor.Capability) bool {
	return s.exec.Supports(capability)
}

// Capabilities lists the underlying executor's capabilities.
func (s *Session) Capabilities() []executor.Capability {
	return s.exec.Capabilities()
}

// InstallDeps installs packages when the backend supports it.
func (s *Session) InstallDeps(ctx context.Context, pkgs []string) (*types.InstallResult, error) {
	manager, ok := s.exec.(executor.DepsManager)
	if !ok {
		return nil, errors.NewCallFailed("execution backend does not manage dependencies", nil)
	}
	return manager.InstallDeps(ctx, pkgs)
}

// UninstallDeps removes packages when the backend supports it.
func (s *Session) UninstallDeps(ctx context.Context, pkgs []string) (*types.UninstallResult, error) {
	manager, ok := s.exec.(executor.DepsManager)
	if !ok {
		return nil, errors.NewCallFailed("execution backend does not manage dependencies", nil)
	}
	return manager.UninstallDeps(ctx, pkgs)
}

// Tools exposes the tool registry; nil when the session was built
// without one.
func (s *Session) Tools() *tools.Registry { return s.registry }

// Skills exposes the skill library; nil when the session was built
// without one.
func (s *Session) Skills() *skills.Library { return s.library }

// Artifacts exposes the artifact store.
func (s *Session) Artifacts() storage.ArtifactStore { return s.backend.ArtifactStore() }

// Deps exposes the declared-dependency store.
func (s *Session) Deps() storage.DepsStore { return s.backend.DepsStore() }

// With runs fn between Start and Close, closing even when fn fails.
func With(ctx context.Context, s *Session, fn func(*Session) error) error {
	if err := s.Start(ctx); err != nil {
		_ = s.Close()
		return err
	}
	defer s.Close()
	return fn(s)
}

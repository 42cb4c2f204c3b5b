// Package executor defines the execution backend contract and the
// resource provider that backs the injected namespaces.
package executor

import (
	"context"
	"time"

	"github.com/codemode-ai/codemode/pkg/storage"
	"github.com/codemode-ai/codemode/pkg/types"
)

// Capability names an isolation or lifecycle property a backend may
// offer. The vocabulary is closed; callers branch only on these.
type Capability string

// The capability vocabulary.
const (
	CapTimeout             Capability = "TIMEOUT"
	CapProcessIsolation    Capability = "PROCESS_ISOLATION"
	CapNetworkIsolation    Capability = "NETWORK_ISOLATION"
	CapNetworkFiltering    Capability = "NETWORK_FILTERING"
	CapFilesystemIsolation Capability = "FILESYSTEM_ISOLATION"
	CapMemoryLimit         Capability = "MEMORY_LIMIT"
	CapCPULimit            Capability = "CPU_LIMIT"
	CapReset               Capability = "RESET"
	CapDepsInstall         Capability = "DEPS_INSTALL"
	CapDepsUninstall       Capability = "DEPS_UNINSTALL"
)

// Executor runs untrusted code chunks. Implementations are safe for use
// by one session at a time; Run calls are serialized by the caller.
type Executor interface {
	// Start prepares the backend. backend may be nil for executors whose
	// resources were wired directly.
	Start(ctx context.Context, backend storage.Backend) error

	// Run executes code with the given timeout (0 means the backend
	// default). User-code failure is reported inside the result; a Go
	// error means the backend itself failed.
	Run(ctx context.Context, code string, timeout time.Duration) (*types.ExecutionResult, error)

	// Reset clears all user-defined state, keeping the namespaces.
	Reset(ctx context.Context) error

	// Close releases the backend. Close is idempotent.
	Close() error

	// Supports reports one capability.
	Supports(capability Capability) bool

	// Capabilities lists everything the backend supports.
	Capabilities() []Capability
}

// DepsManager is implemented by executors declaring DEPS_INSTALL /
// DEPS_UNINSTALL.
type DepsManager interface {
	InstallDeps(ctx context.Context, pkgs []string) (*types.InstallResult, error)
	UninstallDeps(ctx context.Context, pkgs []string) (*types.UninstallResult, error)
}

// capSet is a convenience for backends declaring their capabilities.
type capSet map[Capability]bool

func newCapSet(caps ...Capability) capSet {
	set := make(capSet, len(caps))
	for _, c := range caps {
		set[c] = true
	}
	return set
}

func (s capSet) supports(c Capability) bool { return s[c] }

func (s capSet) list() []Capability {
	ordered := []Capability{
		CapTimeout, CapProcessIsolation, CapNetworkIsolation, CapNetworkFiltering,
		CapFilesystemIsolation, CapMemoryLimit, CapCPULimit, CapReset,
		CapDepsInstall, CapDepsUninstall,
	}
	var out []Capability
	for _, c := range ordered {
		if s[c] {
			out = append(out, c)
		}
	}
	return out
}

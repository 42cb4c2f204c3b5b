// Package deps handles runtime dependency records and installation.
package deps

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"sync"

	"github.com/codemode-ai/codemode/pkg/errors"
	"github.com/codemode-ai/codemode/pkg/logger"
	"github.com/codemode-ai/codemode/pkg/types"
)

// Installer installs and uninstalls packages in an execution environment.
type Installer interface {
	Install(ctx context.Context, pkgs []string) (*types.InstallResult, error)
	Uninstall(ctx context.Context, pkgs []string) (*types.UninstallResult, error)
}

// CommandInstaller shells out to a package manager, one invocation per
// package so a single bad spec cannot fail the whole batch. Invocations
// are serialized: package managers do not tolerate concurrent runs
// against one environment.
type CommandInstaller struct {
	command       string
	installArgs   []string
	uninstallArgs []string

	mu sync.Mutex
}

// NewCommandInstaller builds an installer that runs
// `command installArgs... <pkg>` and `command uninstallArgs... <pkg>`.
func NewCommandInstaller(command string, installArgs, uninstallArgs []string) *CommandInstaller {
	return &CommandInstaller{
		command:       command,
		installArgs:   installArgs,
		uninstallArgs: uninstallArgs,
	}
}

// ValidatePackageSpec rejects specs that could be parsed as flags by the
// underlying package manager.
func ValidatePackageSpec(pkg string) error {
	if pkg == "" {
		return errors.NewInvalidName("package spec is empty", nil)
	}
	if strings.HasPrefix(pkg, "-") {
		return errors.Newf(errors.KindInvalidName, "package spec %q must not start with a dash", pkg)
	}
	return nil
}

// Install implements Installer.
func (c *CommandInstaller) Install(ctx context.Context, pkgs []string) (*types.InstallResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := &types.InstallResult{
		Installed:      []string{},
		AlreadyPresent: []string{},
		Failed:         []string{},
	}
	for _, pkg := range pkgs {
		if err := ValidatePackageSpec(pkg); err != nil {
			result.Failed = append(result.Failed, pkg)
			continue
		}
		output, err := c.run(ctx, append(append([]string{}, c.installArgs...), pkg))
		switch {
		case err != nil:
			logger.Warnw("package install failed", "package", pkg, "error", err)
			result.Failed = append(result.Failed, pkg)
		case strings.Contains(output, "already satisfied") || strings.Contains(output, "already installed"):
			result.AlreadyPresent = append(result.AlreadyPresent, pkg)
		default:
			result.Installed = append(result.Installed, pkg)
		}
	}
	return result, nil
}

// Uninstall implements Installer.
func (c *CommandInstaller) Uninstall(ctx context.Context, pkgs []string) (*types.UninstallResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := &types.UninstallResult{
		Removed:  []string{},
		NotFound: []string{},
		Failed:   []string{},
	}
	for _, pkg := range pkgs {
		if err := ValidatePackageSpec(pkg); err != nil {
			result.Failed = append(result.Failed, pkg)
			continue
		}
		output, err := c.run(ctx, append(append([]string{}, c.uninstallArgs...), pkg))
		switch {
		case err == nil:
			result.Removed = append(result.Removed, pkg)
		case strings.Contains(output, "not installed") || strings.Contains(output, "not found"):
			result.NotFound = append(result.NotFound, pkg)
		default:
			logger.Warnw("package uninstall failed", "package", pkg, "error", err)
			result.Failed = append(result.Failed, pkg)
		}
	}
	return result, nil
}

func (c *CommandInstaller) run(ctx context.Context, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, c.command, args...)
	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined
	err := cmd.Run()
	return combined.String(), err
}

// NoopInstaller reports every package as installed without doing
// anything. The in-process engine has no package environment, but agent
// flows still expect deps.add to record and "succeed".
type NoopInstaller struct{}

// Install implements Installer.
func (NoopInstaller) Install(_ context.Context, pkgs []string) (*types.InstallResult, error) {
	result := &types.InstallResult{Installed: []string{}, AlreadyPresent: []string{}, Failed: []string{}}
	for _, pkg := range pkgs {
		if err := ValidatePackageSpec(pkg); err != nil {
			result.Failed = append(result.Failed, pkg)
			continue
		}
		result.Installed = append(result.Installed, pkg)
	}
	return result, nil
}

// Uninstall implements Installer.
func (NoopInstaller) Uninstall(_ context.Context, pkgs []string) (*types.UninstallResult, error) {
	result := &types.UninstallResult{Removed: []string{}, NotFound: []string{}, Failed: []string{}}
	for _, pkg := range pkgs {
		if err := ValidatePackageSpec(pkg); err != nil {
			result.Failed = append(result.Failed, pkg)
			continue
		}
		result.Removed = append(result.Removed, pkg)
	}
	return result, nil
}

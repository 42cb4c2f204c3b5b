// Package docker runs agent code in a containerized codemode service,
// speaking HTTP to the session endpoints inside the container. It can
// also attach to an already-running remote service instead of managing a
// container itself.
package docker

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/codemode-ai/codemode/pkg/errors"
	"github.com/codemode-ai/codemode/pkg/executor"
	"github.com/codemode-ai/codemode/pkg/logger"
	"github.com/codemode-ai/codemode/pkg/storage"
	"github.com/codemode-ai/codemode/pkg/types"
)

// Service constants. The container runs `codemode serve` listening on
// servicePort; storage is mounted or pointed at under dataRoot.
const (
	servicePort    = "8000"
	dataRoot       = "/data"
	startupTimeout = 60 * time.Second
)

// DefaultTimeout applies when Run is called with timeout 0.
const DefaultTimeout = 120 * time.Second

// Config configures the container backend.
type Config struct {
	// Image is the codemode service image.
	Image string

	// RemoteURL, when set, skips container management entirely and
	// attaches to a service that is already running.
	RemoteURL string

	// AuthToken is the bearer token for the service. When empty and a
	// container is managed, a random token is generated so the service
	// never runs open by accident.
	AuthToken string

	// SessionID is sent as X-Session-ID; empty means a fresh one.
	SessionID string

	// NetworkMode is the docker network mode ("none" isolates fully).
	NetworkMode string

	// MemoryBytes and NanoCPUs bound the container when non-zero.
	MemoryBytes int64
	NanoCPUs    int64

	// AllowRuntimeDeps is forwarded to the service.
	AllowRuntimeDeps bool
}

// dockerAPI is the slice of the docker client the executor uses.
type dockerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *v1.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// Executor is the container backend.
type Executor struct {
	cfg    Config
	docker dockerAPI
	caps   []executor.Capability

	mu          sync.Mutex
	session     *sessionClient
	containerID string
	closed      bool
}

// New creates a container executor. The docker client is only dialed when
// a container actually has to be managed.
func New(cfg Config) (*Executor, error) {
	if cfg.Image == "" && cfg.RemoteURL == "" {
		return nil, errors.NewMisconfigured("either an image or a remote URL is required", nil)
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}

	caps := []executor.Capability{
		executor.CapTimeout,
		executor.CapProcessIsolation,
		executor.CapFilesystemIsolation,
		executor.CapReset,
		executor.CapDepsInstall,
		executor.CapDepsUninstall,
	}
	if cfg.NetworkMode == "none" {
		caps = append(caps, executor.CapNetworkIsolation)
	}
	if cfg.MemoryBytes > 0 {
		caps = append(caps, executor.CapMemoryLimit)
	}
	if cfg.NanoCPUs > 0 {
		caps = append(caps, executor.CapCPULimit)
	}
	return &Executor{cfg: cfg, caps: caps}, nil
}

// Start implements executor.Executor. With a RemoteURL the storage
// handoff is the remote's concern; otherwise the backend's access
// descriptor is translated into mounts or connection env vars.
func (e *Executor) Start(ctx context.Context, backend storage.Backend) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.NewUnavailable("executor is closed", nil)
	}
	if e.session != nil {
		return nil
	}

	if e.cfg.RemoteURL != "" {
		session := newSessionClient(strings.TrimRight(e.cfg.RemoteURL, "/"), e.cfg.AuthToken, e.cfg.SessionID)
		if err := session.waitHealthy(ctx, startupTimeout); err != nil {
			return err
		}
		e.session = session
		return nil
	}

	if backend == nil {
		return errors.NewMisconfigured("container executor needs a storage backend", nil)
	}
	token := e.cfg.AuthToken
	if token == "" {
		token = uuid.NewString()
	}

	if e.docker == nil {
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return errors.NewUnavailable("creating docker client", err)
		}
		e.docker = cli
	}

	hostPort, err := freePort()
	if err != nil {
		return errors.NewInternal("allocating host port", err)
	}

	config, hostConfig, err := e.containerSpec(backend.Access(), token, hostPort)
	if err != nil {
		return err
	}

	created, err := e.docker.ContainerCreate(ctx, config, hostConfig, &network.NetworkingConfig{}, nil,
		"codemode-"+e.cfg.SessionID)
	if err != nil {
		return errors.NewUnavailable("creating container", err)
	}
	if err := e.docker.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		_ = e.docker.ContainerRemove(ctx, created.ID, container.RemoveOptions{Force: true})
		return errors.NewUnavailable("starting container", err)
	}
	logger.Infow("container started", "id", created.ID[:12], "image", e.cfg.Image)

	session := newSessionClient(fmt.Sprintf("http://127.0.0.1:%d", hostPort), token, e.cfg.SessionID)
	if err := session.waitHealthy(ctx, startupTimeout); err != nil {
		_ = e.docker.ContainerRemove(context.Background(), created.ID, container.RemoveOptions{Force: true})
		return err
	}

	e.containerID = created.ID
	e.session = session
	return nil
}

// containerSpec builds the docker create request from the storage access
// descriptor.
func (e *Executor) containerSpec(access storage.Access, token string, hostPort int) (*container.Config, *container.HostConfig, error) {
	env := []string{
		"CODEMODE_CONTAINER_AUTH_TOKEN=" + token,
		fmt.Sprintf("CODEMODE_RUNTIME_DEPS=%t", e.cfg.AllowRuntimeDeps),
	}
	hostConfig := &container.HostConfig{
		Resources: container.Resources{
			Memory:   e.cfg.MemoryBytes,
			NanoCPUs: e.cfg.NanoCPUs,
		},
	}
	if e.cfg.NetworkMode != "" {
		hostConfig.NetworkMode = container.NetworkMode(e.cfg.NetworkMode)
	}

	switch access.Type {
	case storage.AccessTypeFile:
		for target, source := range map[string]string{
			dataRoot + "/tools":     access.File.ToolsPath,
			dataRoot + "/skills":    access.File.SkillsPath,
			dataRoot + "/artifacts": access.File.ArtifactsPath,
			dataRoot + "/deps":      access.File.DepsPath,
		} {
			hostConfig.Mounts = append(hostConfig.Mounts, mount.Mount{
				Type:   mount.TypeBind,
				Source: source,
				Target: target,
			})
		}
		env = append(env,
			"CODEMODE_TOOLS_PATH="+dataRoot+"/tools",
			"CODEMODE_SKILLS_PATH="+dataRoot+"/skills",
			"CODEMODE_ARTIFACTS_PATH="+dataRoot+"/artifacts",
			"CODEMODE_DEPS_PATH="+dataRoot+"/deps",
		)
	case storage.AccessTypeRedis:
		url := rewriteLoopback(access.Redis.URL)
		if url != access.Redis.URL {
			// The daemon resolves host-gateway to the host's address, which
			// is what a loopback URL meant from the host's point of view.
			hostConfig.ExtraHosts = append(hostConfig.ExtraHosts, "host.docker.internal:host-gateway")
		}
		env = append(env,
			"CODEMODE_REDIS_URL="+url,
			"CODEMODE_TOOLS_PREFIX="+access.Redis.ToolsPrefix,
			"CODEMODE_SKILLS_PREFIX="+access.Redis.SkillsPrefix,
			"CODEMODE_ARTIFACTS_PREFIX="+access.Redis.ArtifactsPrefix,
			"CODEMODE_DEPS_PREFIX="+access.Redis.DepsPrefix,
		)
	default:
		return nil, nil, errors.Newf(errors.KindMisconfigured, "unsupported storage access type %q", access.Type)
	}

	port, err := nat.NewPort("tcp", servicePort)
	if err != nil {
		return nil, nil, errors.NewInternal("parsing service port", err)
	}
	hostConfig.PortBindings = nat.PortMap{
		port: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: fmt.Sprintf("%d", hostPort)}},
	}

	return &container.Config{
		Image:        e.cfg.Image,
		Env:          env,
		ExposedPorts: nat.PortSet{port: struct{}{}},
	}, hostConfig, nil
}

// rewriteLoopback maps host-loopback Redis URLs to the docker host
// gateway name so the container reaches the host's Redis.
func rewriteLoopback(url string) string {
	for _, loopback := range []string{"localhost", "127.0.0.1"} {
		url = strings.Replace(url, "//"+loopback, "//host.docker.internal", 1)
	}
	return url
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// Run implements executor.Executor.
func (e *Executor) Run(ctx context.Context, code string, timeout time.Duration) (*types.ExecutionResult, error) {
	session, err := e.activeSession()
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	var result types.ExecutionResult
	request := map[string]any{"code": code, "timeout": timeout.Seconds()}
	if err := session.post(ctx, "/execute", request, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Reset implements executor.Executor.
func (e *Executor) Reset(ctx context.Context) error {
	session, err := e.activeSession()
	if err != nil {
		return err
	}
	return session.post(ctx, "/reset", nil, nil)
}

// InstallDeps implements executor.DepsManager.
func (e *Executor) InstallDeps(ctx context.Context, pkgs []string) (*types.InstallResult, error) {
	session, err := e.activeSession()
	if err != nil {
		return nil, err
	}
	var result types.InstallResult
	if err := session.post(ctx, "/install_deps", map[string]any{"packages": pkgs}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UninstallDeps implements executor.DepsManager.
func (e *Executor) UninstallDeps(ctx context.Context, pkgs []string) (*types.UninstallResult, error) {
	session, err := e.activeSession()
	if err != nil {
		return nil, err
	}
	var result types.UninstallResult
	if err := session.post(ctx, "/uninstall_deps", map[string]any{"packages": pkgs}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (e *Executor) activeSession() (*sessionClient, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errors.NewUnavailable("executor is closed", nil)
	}
	if e.session == nil {
		return nil, errors.NewUnavailable("executor not started", nil)
	}
	return e.session, nil
}

// Close implements executor.Executor: stop and remove the managed
// container. Attached remotes are left running. Idempotent.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.session = nil

	if e.containerID == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	stopTimeout := 10
	if err := e.docker.ContainerStop(ctx, e.containerID, container.StopOptions{Timeout: &stopTimeout}); err != nil {
		logger.Warnw("stopping container failed", "id", e.containerID[:12], "error", err)
	}
	if err := e.docker.ContainerRemove(ctx, e.containerID, container.RemoveOptions{Force: true}); err != nil {
		return errors.NewInternal("removing container", err)
	}
	e.containerID = ""
	return nil
}

// Supports implements executor.Executor.
func (e *Executor) Supports(capability executor.Capability) bool {
	for _, c := range e.caps {
		if c == capability {
			return true
		}
	}
	return false
}

// Capabilities implements executor.Executor.
func (e *Executor) Capabilities() []executor.Capability {
	return append([]executor.Capability{}, e.caps...)
}

package runtime

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"go.uber.org/zap"
)

// dockerAPI is the subset of the Docker Engine SDK client used by the agent
type dockerAPI interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRestart(ctx context.Context, containerID string, options container.StopOptions) error
	ServerVersion(ctx context.Context) (types.Version, error)
	Ping(ctx context.Context) (types.Ping, error)
	DaemonHost() string
	Close() error
}

// DockerConfig contains configuration for the Docker runtime
type DockerConfig struct {
	// Host overrides DOCKER_HOST when set (e.g. unix:///var/run/docker.sock)
	Host string

	// PingTimeout bounds the startup connectivity check
	PingTimeout time.Duration

	Compose ComposeConfig
}

// DockerRuntime implements Runtime on top of the Docker Engine API
type DockerRuntime struct {
	client  dockerAPI
	compose *ComposeRunner
	logger  *zap.Logger
}

// NewDockerRuntime connects to the Docker daemon. The connection is verified
// with a ping; an unreachable daemon is reported as an error.
func NewDockerRuntime(cfg DockerConfig, logger *zap.Logger) (*DockerRuntime, error) {
	if cfg.PingTimeout == 0 {
		cfg.PingTimeout = 5 * time.Second
	}

	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	logger.Info("Connecting to docker",
		zap.String("host", cli.DaemonHost()),
	)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.PingTimeout)
	defer cancel()

	ping, err := cli.Ping(ctx)
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to reach docker daemon at %s: %w", cli.DaemonHost(), err)
	}

	logger.Info("Connected to docker",
		zap.String("api_version", ping.APIVersion),
		zap.String("os_type", ping.OSType),
	)

	return newDockerRuntime(cli, NewComposeRunner(cfg.Compose, logger), logger), nil
}

func newDockerRuntime(api dockerAPI, compose *ComposeRunner, logger *zap.Logger) *DockerRuntime {
	return &DockerRuntime{
		client:  api,
		compose: compose,
		logger:  logger,
	}
}

// Close closes the docker client
func (r *DockerRuntime) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// ListContainerIDs returns the IDs of all containers, running or not
func (r *DockerRuntime) ListContainerIDs(ctx context.Context) ([]string, error) {
	list, err := r.client.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	ids := make([]string, 0, len(list))
	for _, summary := range list {
		ids = append(ids, summary.ID)
	}
	return ids, nil
}

// InspectContainer returns the details of a single container
func (r *DockerRuntime) InspectContainer(ctx context.Context, nameOrID string) (*ContainerDetails, error) {
	inspect, err := r.client.ContainerInspect(ctx, nameOrID)
	if err != nil {
		return nil, wrapNotFound(nameOrID, fmt.Errorf("inspect %s: %w", nameOrID, err))
	}
	if inspect.ContainerJSONBase == nil {
		return nil, fmt.Errorf("inspect %s: empty response", nameOrID)
	}

	return inspectToDetails(inspect), nil
}

// StartContainer starts a container by name or ID
func (r *DockerRuntime) StartContainer(ctx context.Context, name string) error {
	r.logger.Info("Starting container", zap.String("name", name))

	if err := r.client.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return wrapNotFound(name, fmt.Errorf("start %s: %w", name, err))
	}
	return nil
}

// StopContainer stops a container using the daemon's default grace period
func (r *DockerRuntime) StopContainer(ctx context.Context, name string) error {
	r.logger.Info("Stopping container", zap.String("name", name))

	if err := r.client.ContainerStop(ctx, name, container.StopOptions{}); err != nil {
		return wrapNotFound(name, fmt.Errorf("stop %s: %w", name, err))
	}
	return nil
}

// RestartContainer restarts a container
func (r *DockerRuntime) RestartContainer(ctx context.Context, name string) error {
	r.logger.Info("Restarting container", zap.String("name", name))

	if err := r.client.ContainerRestart(ctx, name, container.StopOptions{}); err != nil {
		return wrapNotFound(name, fmt.Errorf("restart %s: %w", name, err))
	}
	return nil
}

// ApplyCompose applies a compose definition through the compose CLI
func (r *DockerRuntime) ApplyCompose(ctx context.Context, definition string) error {
	return r.compose.Apply(ctx, definition)
}

// Version reports the daemon version in the same form as `docker --version`
func (r *DockerRuntime) Version(ctx context.Context) (string, error) {
	v, err := r.client.ServerVersion(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to query docker version: %w", err)
	}
	if v.Version == "" {
		return "", fmt.Errorf("docker daemon reported an empty version")
	}
	if v.GitCommit == "" {
		return fmt.Sprintf("Docker version %s", v.Version), nil
	}
	return fmt.Sprintf("Docker version %s, build %s", v.Version, v.GitCommit), nil
}

func wrapNotFound(name string, err error) error {
	if cerrdefs.IsNotFound(err) {
		return fmt.Errorf("%w: %s: %w", ErrContainerNotFound, name, err)
	}
	return err
}

// inspectToDetails converts an inspect response. Map-valued fields are
// emitted in ascending key order, which is the order the Engine API
// serializes them in.
func inspectToDetails(inspect container.InspectResponse) *ContainerDetails {
	details := &ContainerDetails{
		ID:       inspect.ID,
		Name:     strings.TrimPrefix(inspect.Name, "/"),
		Created:  inspect.Created,
		Networks: []NetworkAttachment{},
		Ports:    []PortMapping{},
		Mounts:   make([]Mount, 0, len(inspect.Mounts)),
	}

	if inspect.State != nil {
		details.Status = string(inspect.State.Status)
		if inspect.State.Health != nil {
			details.Health = string(inspect.State.Health.Status)
		}
	}

	if inspect.NetworkSettings != nil {
		names := make([]string, 0, len(inspect.NetworkSettings.Networks))
		for name := range inspect.NetworkSettings.Networks {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			endpoint := inspect.NetworkSettings.Networks[name]
			if endpoint == nil {
				continue
			}
			details.Networks = append(details.Networks, NetworkAttachment{
				Network:   name,
				IPAddress: endpoint.IPAddress,
			})
		}

		details.Ports = portMapToMappings(inspect.NetworkSettings.Ports)
	}

	for _, m := range inspect.Mounts {
		details.Mounts = append(details.Mounts, Mount{
			Type:        string(m.Type),
			Source:      m.Source,
			Destination: m.Destination,
		})
	}

	return details
}

func portMapToMappings(ports nat.PortMap) []PortMapping {
	keys := make([]string, 0, len(ports))
	for port := range ports {
		keys = append(keys, string(port))
	}
	sort.Strings(keys)

	mappings := make([]PortMapping, 0, len(keys))
	for _, key := range keys {
		bindings := ports[nat.Port(key)]
		mapping := PortMapping{
			ContainerPort: key,
			Bindings:      make([]HostBinding, 0, len(bindings)),
		}
		for _, b := range bindings {
			mapping.Bindings = append(mapping.Bindings, HostBinding{
				HostIP:   b.HostIP,
				HostPort: b.HostPort,
			})
		}
		mappings = append(mappings, mapping)
	}
	return mappings
}

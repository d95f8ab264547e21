package store

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

const (
	DefaultImage         = "ghcr.io/kestrel-ai/dialectic-store:latest"
	DefaultContainerName = "dialectic-store"
	DefaultPort          = "8090"
	DefaultDataVolume    = "dialectic-store-data"

	containerDataDir = "/data"
	managedLabel     = "dialectic-store"
)

// ContainerStatus is the lifecycle state of the datastore container.
type ContainerStatus string

const (
	StatusRunning   ContainerStatus = "running"
	StatusStopped   ContainerStatus = "stopped"
	StatusNotFound  ContainerStatus = "not_found"
	StatusUnhealthy ContainerStatus = "unhealthy"
	StatusStarting  ContainerStatus = "starting"
)

// DockerConfig configures the local datastore container.
type DockerConfig struct {
	ContainerName string
	Image         string
	HostPort      string
	DataVolume    string            // Named volume for row data; persists across Remove unless pruned
	Labels        map[string]string // Extra labels, e.g. for test cleanup
}

// DockerManager runs the datastore container for local development.
// Readiness is probed through the same /health endpoint the store
// client uses, so "started" here means "a Client can talk to it".
type DockerManager struct {
	cli  *client.Client
	name string
	cfg  DockerConfig
}

// NewDockerManager creates a manager over the local Docker daemon.
func NewDockerManager(cfg DockerConfig) (*DockerManager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	if cfg.ContainerName == "" {
		cfg.ContainerName = DefaultContainerName
	}
	if cfg.Image == "" {
		cfg.Image = DefaultImage
	}
	if cfg.HostPort == "" {
		cfg.HostPort = DefaultPort
	}
	if cfg.DataVolume == "" {
		cfg.DataVolume = DefaultDataVolume
	}
	return &DockerManager{cli: cli, name: cfg.ContainerName, cfg: cfg}, nil
}

// Close releases the Docker client.
func (m *DockerManager) Close() error {
	return m.cli.Close()
}

// URL returns the datastore base URL a Client should be configured with.
func (m *DockerManager) URL() string {
	return "http://localhost:" + m.cfg.HostPort
}

// Start brings the container to a healthy running state: a stopped
// container is restarted, a missing one is created, a running one is
// left alone. It returns once the datastore answers health checks.
func (m *DockerManager) Start(ctx context.Context) error {
	if _, err := m.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker is not running: %w", err)
	}

	status, id, err := m.find(ctx)
	if err != nil {
		return err
	}
	switch status {
	case StatusRunning:
		return m.awaitHealthy(ctx, 30*time.Second)
	case StatusStopped:
		if err := m.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
			return fmt.Errorf("restart container %s: %w", m.name, err)
		}
		return m.awaitHealthy(ctx, 30*time.Second)
	case StatusNotFound:
		if err := m.create(ctx); err != nil {
			return err
		}
		return m.awaitHealthy(ctx, 30*time.Second)
	default:
		return fmt.Errorf("container %s in unexpected state %s", m.name, status)
	}
}

// Stop stops the container, preserving its data volume.
func (m *DockerManager) Stop(ctx context.Context) error {
	status, id, err := m.find(ctx)
	if err != nil || status == StatusNotFound {
		return err
	}
	timeout := 10
	if err := m.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("stop container %s: %w", m.name, err)
	}
	return nil
}

// Remove stops and removes the container. The named data volume is kept;
// dropping it is an explicit docker-volume operation, never a side effect.
func (m *DockerManager) Remove(ctx context.Context) error {
	status, id, err := m.find(ctx)
	if err != nil || status == StatusNotFound {
		return err
	}
	if status == StatusRunning {
		if err := m.Stop(ctx); err != nil {
			return err
		}
	}
	if err := m.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("remove container %s: %w", m.name, err)
	}
	return nil
}

// Status reports the container's lifecycle state. A running container
// that fails the health probe reports StatusUnhealthy.
func (m *DockerManager) Status(ctx context.Context) (ContainerStatus, error) {
	status, _, err := m.find(ctx)
	if err != nil || status != StatusRunning {
		return status, err
	}
	if err := NewClient(ClientConfig{URL: m.URL(), Timeout: 2 * time.Second, MaxRetries: 1}).HealthCheck(ctx); err != nil {
		return StatusUnhealthy, nil
	}
	return StatusRunning, nil
}

// Logs returns the last tail lines of container output.
func (m *DockerManager) Logs(ctx context.Context, tail string) (string, error) {
	status, id, err := m.find(ctx)
	if err != nil {
		return "", err
	}
	if status == StatusNotFound {
		return "", fmt.Errorf("container %s not found", m.name)
	}
	rc, err := m.cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       tail,
	})
	if err != nil {
		return "", fmt.Errorf("container logs: %w", err)
	}
	defer rc.Close()
	out, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("read container logs: %w", err)
	}
	return string(out), nil
}

// find locates the managed container by name.
func (m *DockerManager) find(ctx context.Context) (ContainerStatus, string, error) {
	args := filters.NewArgs(filters.Arg("name", m.name))
	list, err := m.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return "", "", fmt.Errorf("list containers: %w", err)
	}
	if len(list) == 0 {
		return StatusNotFound, "", nil
	}
	c := list[0]
	switch c.State {
	case "running":
		return StatusRunning, c.ID, nil
	case "exited", "dead":
		return StatusStopped, c.ID, nil
	case "created", "restarting":
		return StatusStarting, c.ID, nil
	default:
		return ContainerStatus(c.State), c.ID, nil
	}
}

// create pulls the image if needed and starts a fresh container with the
// data volume mounted.
func (m *DockerManager) create(ctx context.Context) error {
	if err := m.pullIfMissing(ctx); err != nil {
		return err
	}

	labels := map[string]string{managedLabel: "true"}
	for k, v := range m.cfg.Labels {
		labels[k] = v
	}
	port := nat.Port(DefaultPort + "/tcp")

	resp, err := m.cli.ContainerCreate(ctx,
		&container.Config{
			Image: m.cfg.Image,
			Env: []string{
				"DIALECTIC_STORE_LISTEN=0.0.0.0:" + DefaultPort,
				"DIALECTIC_STORE_DATA_DIR=" + containerDataDir,
			},
			Labels:       labels,
			ExposedPorts: nat.PortSet{port: struct{}{}},
		},
		&container.HostConfig{
			PortBindings: nat.PortMap{
				port: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: m.cfg.HostPort}},
			},
			Mounts: []mount.Mount{{
				Type:   mount.TypeVolume,
				Source: m.cfg.DataVolume,
				Target: containerDataDir,
			}},
		},
		nil, nil, m.name)
	if err != nil {
		return fmt.Errorf("create container %s: %w", m.name, err)
	}

	if err := m.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = m.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return fmt.Errorf("start container %s: %w", m.name, err)
	}
	return nil
}

// awaitHealthy polls the datastore through a store Client until it
// answers health checks or the timeout elapses.
func (m *DockerManager) awaitHealthy(ctx context.Context, timeout time.Duration) error {
	probe := NewClient(ClientConfig{URL: m.URL(), Timeout: 2 * time.Second, MaxRetries: 1})
	return retry.Do(
		func() error { return probe.HealthCheck(ctx) },
		retry.Context(ctx),
		retry.Attempts(uint(timeout.Seconds())),
		retry.Delay(time.Second),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
}

// pullIfMissing pulls the datastore image when it is not present locally.
func (m *DockerManager) pullIfMissing(ctx context.Context) error {
	if _, err := m.cli.ImageInspect(ctx, m.cfg.Image); err == nil {
		return nil
	}
	rc, err := m.cli.ImagePull(ctx, m.cfg.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", m.cfg.Image, err)
	}
	defer rc.Close()
	_, err = io.Copy(io.Discard, rc)
	return err
}
